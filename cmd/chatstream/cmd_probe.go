package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/chatstream/internal/config"
	"github.com/user/chatstream/internal/delivery"
	"github.com/user/chatstream/internal/dispatch"
	"github.com/user/chatstream/internal/scheduler"
	"github.com/user/chatstream/internal/state"
	"github.com/user/chatstream/internal/types"
	"github.com/user/chatstream/pkg/chatstream"
)

var probeScript string

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.AddCommand(probeAddCmd, probeListCmd, probeRemoveCmd, probeEnableCmd, probeDisableCmd, probeRunCmd, probeFireCmd)

	probeAddCmd.Flags().String("name", "", "probe name (required)")
	probeAddCmd.Flags().String("prompt", "", "prompt text (required)")
	probeAddCmd.Flags().String("schedule", "", "cron schedule expression")
	probeAddCmd.Flags().String("session-key", "", "session key; its prefix picks the delivery sink (log: or file:)")
	_ = probeAddCmd.MarkFlagRequired("name")
	_ = probeAddCmd.MarkFlagRequired("prompt")
	_ = probeAddCmd.MarkFlagRequired("session-key")

	for _, c := range []*cobra.Command{probeRunCmd, probeFireCmd} {
		c.Flags().StringVar(&probeScript, "script", "", "fixture script to request (adds ?script=)")
	}
}

func probeStore(cfg *config.Config) *state.ProbeStore {
	return state.NewProbeStore(filepath.Join(cfg.DataDir, "probes.json"))
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Manage scheduled probes",
}

var probeAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a new probe",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		prompt, _ := cmd.Flags().GetString("prompt")
		schedule, _ := cmd.Flags().GetString("schedule")
		sessionKey, _ := cmd.Flags().GetString("session-key")

		if schedule != "" {
			if err := scheduler.ValidateSchedule(schedule); err != nil {
				return fmt.Errorf("invalid schedule %q: %w", schedule, err)
			}
		}

		store := probeStore(loadConfig())
		probe := &state.Probe{
			Name:       name,
			Prompt:     prompt,
			Schedule:   schedule,
			SessionKey: types.SessionKey(sessionKey),
			Enabled:    true,
		}
		if err := store.Add(probe); err != nil {
			return fmt.Errorf("add probe: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Probe %q added.\n", name)
		return nil
	},
}

var probeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all probes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		probes, err := probeStore(loadConfig()).List()
		if err != nil {
			return fmt.Errorf("list probes: %w", err)
		}

		if len(probes) == 0 {
			fmt.Println("No probes configured.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSCHEDULE\tENABLED\tSESSION KEY\tLAST RUN\tLAST STATUS")
		for _, p := range probes {
			lastRun := "-"
			if p.LastRun != nil {
				lastRun = p.LastRun.Format(time.DateTime)
			}
			fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\t%s\n",
				p.Name,
				p.Schedule,
				p.Enabled,
				p.SessionKey,
				lastRun,
				p.LastStatus,
			)
		}
		return w.Flush()
	},
}

var probeRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a probe",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := probeStore(loadConfig()).Remove(args[0]); err != nil {
			return fmt.Errorf("remove probe: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Probe %q removed.\n", args[0])
		return nil
	},
}

var probeEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable a probe",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := probeStore(loadConfig()).SetEnabled(args[0], true); err != nil {
			return fmt.Errorf("enable probe: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Probe %q enabled.\n", args[0])
		return nil
	},
}

var probeDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable a probe",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := probeStore(loadConfig()).SetEnabled(args[0], false); err != nil {
			return fmt.Errorf("disable probe: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Probe %q disabled.\n", args[0])
		return nil
	},
}

// prober streams probes through a dispatcher and delivers the replies.
type prober struct {
	store      *state.ProbeStore
	dispatcher *dispatch.Dispatcher
	sinks      *delivery.Registry
}

func newProber(cfg *config.Config) *prober {
	var captures dispatch.Capturer
	if cfg.Stream.Capture {
		captures = state.NewCaptureStore(cfg.DataDir)
	}

	sinks := delivery.NewRegistry()
	sinks.Register("log:", delivery.LogSink(slog.Default()))
	sinks.Register("file:", delivery.FileSink(filepath.Join(cfg.DataDir, "probes"), "file:"))

	return &prober{
		store: probeStore(cfg),
		dispatcher: dispatch.New(newClient(cfg, probeScript), state.NewSessionStore(cfg.DataDir), captures, dispatch.Config{
			MaxConcurrent: int64(cfg.MaxConcurrent),
			LaneSize:      cfg.LaneSize,
			StreamOptions: []chatstream.Option{chatstream.WithSentinel(cfg.Stream.Sentinel)},
		}),
		sinks: sinks,
	}
}

// fire submits one run of probe. done, if non-nil, is called after the
// reply has been delivered and recorded.
func (p *prober) fire(ctx context.Context, probe state.Probe, done func(*dispatch.Job)) error {
	_, err := p.dispatcher.Submit(ctx, probe.SessionKey, probe.Prompt,
		dispatch.WithOnDone(func(job *dispatch.Job) {
			if err := p.sinks.Deliver(probe.SessionKey, job.Message); err != nil {
				slog.Error("probe delivery failed", "name", probe.Name, "session_key", string(probe.SessionKey), "error", err)
			}
			if err := p.store.RecordRun(probe.Name, time.Now(), string(job.Message.Status)); err != nil {
				slog.Warn("record probe run", "name", probe.Name, "error", err)
			}
			if done != nil {
				done(job)
			}
		}),
	)
	return err
}

var probeRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run enabled probes on their schedules until interrupted",
	Long:  "Sends SIGHUP to reload probes.json without restarting.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		p := newProber(cfg)
		p.dispatcher.Start(ctx)
		defer p.dispatcher.Stop()

		sched := scheduler.New(p.store, func(probe state.Probe) {
			if err := p.fire(ctx, probe, nil); err != nil {
				slog.Error("probe submit failed", "name", probe.Name, "error", err)
			}
		})
		n, err := sched.Start()
		if err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()
		slog.Info("scheduler started", "probes", n)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		defer signal.Stop(sigChan)

		for sig := range sigChan {
			if sig != syscall.SIGHUP {
				slog.Info("shutting down", "signal", sig.String())
				break
			}
			n, err := sched.Reload()
			if err != nil {
				slog.Error("reload probes", "error", err)
				continue
			}
			slog.Info("probes reloaded", "probes", n)
		}

		sched.Stop()
		if !p.dispatcher.WaitIdle(5 * time.Second) {
			slog.Warn("probes still streaming at shutdown")
		}
		return nil
	},
}

var probeFireCmd = &cobra.Command{
	Use:   "fire <name>",
	Short: "Run a probe once, now, and deliver its reply",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		p := newProber(cfg)
		probe, err := p.store.Get(args[0])
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		p.dispatcher.Start(ctx)
		defer p.dispatcher.Stop()

		done := make(chan *dispatch.Job, 1)
		if err := p.fire(ctx, *probe, func(j *dispatch.Job) { done <- j }); err != nil {
			return fmt.Errorf("submit probe: %w", err)
		}

		select {
		case job := <-done:
			fmt.Fprintf(os.Stdout, "Probe %q finished: %s\n", probe.Name, job.Message.Status)
			return job.Err
		case <-ctx.Done():
			return ctx.Err()
		}
	},
}
