package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/chatstream/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("chatstream setup")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		// 1. Stream server
		cfg.Server.BaseURL = prompt(scanner, "Stream server base URL", cfg.Server.BaseURL)
		cfg.Server.StreamPath = prompt(scanner, "Stream path", cfg.Server.StreamPath)

		// 2. End-of-message marker; "-" disables it
		sentinel := prompt(scanner, "End-of-message marker (- for none)", cfg.Stream.Sentinel)
		if sentinel == "-" {
			sentinel = ""
		}
		cfg.Stream.Sentinel = sentinel

		// 3. Capture raw events
		capture := prompt(scanner, "Capture raw events (true/false)", strconv.FormatBool(cfg.Stream.Capture))
		if b, err := strconv.ParseBool(capture); err == nil {
			cfg.Stream.Capture = b
		}

		// 4. Concurrency
		maxStr := prompt(scanner, "Max concurrent streams", strconv.Itoa(cfg.MaxConcurrent))
		if n, err := strconv.Atoi(maxStr); err == nil {
			cfg.MaxConcurrent = n
		}

		// 5. Tokenizer model for usage reports
		cfg.Tokenizer.Model = prompt(scanner, "Tokenizer model", cfg.Tokenizer.Model)

		// 6. Fixture server
		cfg.Fixture.Addr = prompt(scanner, "Fixture server listen address", cfg.Fixture.Addr)
		cfg.Fixture.ScriptsDir = prompt(scanner, "Fixture scripts directory (optional)", cfg.Fixture.ScriptsDir)

		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
