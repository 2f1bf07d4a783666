package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/chatstream/internal/config"
	"github.com/user/chatstream/internal/dispatch"
	"github.com/user/chatstream/internal/render"
	"github.com/user/chatstream/internal/state"
	"github.com/user/chatstream/internal/types"
	"github.com/user/chatstream/internal/usage"
	"github.com/user/chatstream/pkg/chatclient"
	"github.com/user/chatstream/pkg/chatstream"
)

var (
	streamScript    string
	streamJSON      bool
	streamNoCapture bool
)

func init() {
	streamCmd.Flags().StringVar(&streamScript, "script", "", "fixture script to request (adds ?script=)")
	streamCmd.Flags().BoolVar(&streamJSON, "json", false, "print the reconstructed message as JSON")
	streamCmd.Flags().BoolVar(&streamNoCapture, "no-capture", false, "do not record raw events")
	rootCmd.AddCommand(streamCmd)
}

var streamCmd = &cobra.Command{
	Use:   "stream <chat> <prompt> [prompt...]",
	Short: "Send prompts to a chat and print the streamed replies",
	Long: "Each prompt is streamed as its own assistant message. Prompts for the\n" +
		"same chat stream one after the other, in order.",
	Args: cobra.MinimumNArgs(2),
	RunE: runStream,
}

func newClient(cfg *config.Config, script string) *chatclient.Client {
	path := cfg.Server.StreamPath
	if script != "" {
		path += "?script=" + url.QueryEscape(script)
	}
	return chatclient.New(&chatclient.Config{
		BaseURL:    cfg.Server.BaseURL,
		StreamPath: path,
		Timeout:    time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
	})
}

func newCounter(cfg *config.Config) *usage.Counter {
	counter, err := usage.New(cfg.Tokenizer.Model)
	if err != nil {
		slog.Warn("token counting disabled", "model", cfg.Tokenizer.Model, "error", err)
		return nil
	}
	return counter
}

// printMessage writes msg to stdout and logs its size.
func printMessage(msg *chatstream.Message, asJSON bool, counter *usage.Counter) error {
	if asJSON {
		data, err := json.MarshalIndent(msg, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		fmt.Fprintln(os.Stdout, string(data))
	} else if err := render.Write(os.Stdout, msg); err != nil {
		return err
	}
	if counter != nil {
		s := counter.Summarize(msg)
		slog.Info("message usage",
			"message_id", msg.ID,
			"status", string(msg.Status),
			"blocks", s.Blocks,
			"steps", s.Steps,
			"tokens", s.Tokens,
		)
	}
	return nil
}

func runStream(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	key := types.SessionKey(args[0])
	prompts := args[1:]

	sessions := state.NewSessionStore(cfg.DataDir)
	var captures dispatch.Capturer
	if cfg.Stream.Capture && !streamNoCapture {
		captures = state.NewCaptureStore(cfg.DataDir)
	}

	d := dispatch.New(newClient(cfg, streamScript), sessions, captures, dispatch.Config{
		MaxConcurrent: int64(cfg.MaxConcurrent),
		LaneSize:      max(cfg.LaneSize, len(prompts)),
		StreamOptions: []chatstream.Option{chatstream.WithSentinel(cfg.Stream.Sentinel)},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d.Start(ctx)
	defer d.Stop()

	counter := newCounter(cfg)

	done := make(chan *dispatch.Job, len(prompts))
	for _, p := range prompts {
		_, err := d.Submit(ctx, key, p,
			dispatch.WithOnDone(func(j *dispatch.Job) { done <- j }),
			dispatch.WithOnUpdate(func(m *chatstream.Message) {
				slog.Debug("message updated", "message_id", m.ID, "blocks", len(m.Blocks), "status", string(m.Status))
			}),
		)
		if err != nil {
			return fmt.Errorf("submit prompt: %w", err)
		}
	}

	var errs []error
	for range prompts {
		var job *dispatch.Job
		select {
		case job = <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := printMessage(job.Message, streamJSON, counter); err != nil {
			return err
		}
		if job.Err != nil {
			errs = append(errs, fmt.Errorf("message %s: %w", job.MessageID, job.Err))
		}
		if captures != nil {
			slog.Info("events captured", "message_id", string(job.MessageID), "events", job.Stats.Events)
		}
	}
	return errors.Join(errs...)
}
