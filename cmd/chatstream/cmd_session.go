package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/chatstream/internal/state"
	"github.com/user/chatstream/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionClearCmd)
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessions := state.NewSessionStore(cfg.DataDir)
		captures := state.NewCaptureStore(cfg.DataDir)

		ctx := context.Background()
		list, err := sessions.List(ctx)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}

		if len(list) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tMESSAGES\tLAST MESSAGE\tSTATUS\tEVENTS\tUPDATED")
		for _, s := range list {
			var count int64
			if s.LastMessageID != "" {
				count, err = captures.Count(ctx, s.LastMessageID)
				if err != nil {
					count = 0
				}
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\t%s\n",
				s.SessionKey,
				s.Messages,
				s.LastMessageID,
				s.LastStatus,
				count,
				s.UpdatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear <key|all>",
	Short: "Clear a session or all sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessions := state.NewSessionStore(cfg.DataDir)
		ctx := context.Background()

		if args[0] == "all" {
			list, err := sessions.List(ctx)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			for _, s := range list {
				if err := sessions.Delete(ctx, s.SessionKey); err != nil {
					return fmt.Errorf("clear session %s: %w", s.SessionKey, err)
				}
			}
			fmt.Println("All sessions cleared.")
			return nil
		}

		if err := sessions.Delete(ctx, types.SessionKey(args[0])); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Session %s cleared.\n", args[0])
		return nil
	},
}
