package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/chatstream/internal/config"
	"github.com/user/chatstream/internal/sseserver"
	"github.com/user/chatstream/internal/state"
)

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default fixture.addr)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scripted event stream server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, pidFileName)
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

// loadScripts returns the scripts from fixture.scripts_dir, or the built-in
// set when none is configured.
func loadScripts(cfg *config.Config) (map[string]*sseserver.Script, error) {
	if cfg.Fixture.ScriptsDir == "" {
		return sseserver.Builtin(), nil
	}
	return sseserver.LoadScripts(cfg.Fixture.ScriptsDir)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	scripts, err := loadScripts(cfg)
	if err != nil {
		return fmt.Errorf("load scripts: %w", err)
	}

	// Write PID file
	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	// Stores
	sessions := state.NewSessionStore(cfg.DataDir)
	captures := state.NewCaptureStore(cfg.DataDir)

	addr := serveAddr
	if addr == "" {
		addr = cfg.Fixture.Addr
	}
	addr = sseserver.Addr(addr)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           sseserver.NewServer(scripts, sessions, captures),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		slog.Info("fixture server started",
			"listen", addr,
			"scripts", len(scripts),
			"data_dir", cfg.DataDir,
			"pid_file", pidPath,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("fixture server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("fixture server stopped")
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				slog.Info("received SIGHUP, restarting")
				execPath, err := os.Executable()
				if err != nil {
					slog.Error("failed to get executable path", "error", err)
					continue
				}
				// Clean up PID file and release the port before re-exec
				os.Remove(pidPath)
				httpServer.Close()
				if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
					slog.Error("failed to re-exec", "error", err)
					return fmt.Errorf("re-exec: %w", err)
				}
			}
			// SIGINT or SIGTERM
			slog.Info("shutting down", "signal", sig)
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			return httpServer.Shutdown(shutdownCtx)
		}
	}
}
