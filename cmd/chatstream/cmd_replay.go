package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/chatstream/internal/state"
	"github.com/user/chatstream/internal/types"
	"github.com/user/chatstream/pkg/chatstream"
)

var (
	replayJSON bool
	replayWire bool
)

func init() {
	replayCmd.Flags().BoolVar(&replayJSON, "json", false, "print the reconstructed message as JSON")
	replayCmd.Flags().BoolVar(&replayWire, "wire", false, "print the captured events as data lines instead of replaying them")
	rootCmd.AddCommand(replayCmd, capturesCmd)
}

var replayCmd = &cobra.Command{
	Use:   "replay <message-id>",
	Short: "Rebuild a message from its captured events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		ctx := context.Background()
		id := types.MessageID(args[0])
		captures := state.NewCaptureStore(cfg.DataDir)

		events, err := captures.Load(ctx, id)
		if err != nil {
			return err
		}

		if replayWire {
			return state.WriteWire(os.Stdout, events)
		}

		pr, pw := io.Pipe()
		go func() {
			pw.CloseWithError(state.WriteWire(pw, events))
		}()

		msg := chatstream.NewAssistantMessage(string(id))
		w := chatstream.Watch(ctx, pr, msg,
			chatstream.WithSentinel(cfg.Stream.Sentinel),
			chatstream.WithLogger(slog.Default()),
		)
		var snapshots int
		for snap := range w.Updates() {
			snapshots++
			slog.Debug("snapshot", "message_id", snap.ID, "blocks", len(snap.Blocks))
		}
		stats, err := w.Wait()
		if err != nil {
			return fmt.Errorf("replay %s: %w", id, err)
		}
		if msg.Status != chatstream.StatusError {
			msg.Status = chatstream.StatusSuccess
		}

		slog.Info("replayed",
			"message_id", string(id),
			"events", stats.Events,
			"buffered", stats.Buffered,
			"forced_drain", stats.ForcedDrain,
			"malformed", stats.Malformed,
			"snapshots", snapshots,
		)
		return printMessage(msg, replayJSON, newCounter(cfg))
	},
}

var capturesCmd = &cobra.Command{
	Use:   "captures",
	Short: "List captured messages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		captures := state.NewCaptureStore(cfg.DataDir)

		ctx := context.Background()
		ids, err := captures.List(ctx)
		if err != nil {
			return fmt.Errorf("list captures: %w", err)
		}
		if len(ids) == 0 {
			fmt.Println("No captures found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "MESSAGE\tEVENTS")
		for _, id := range ids {
			count, err := captures.Count(ctx, id)
			if err != nil {
				count = 0
			}
			fmt.Fprintf(w, "%s\t%d\n", id, count)
		}
		return w.Flush()
	},
}
