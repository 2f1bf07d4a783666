// internal/scheduler/scheduler.go
package scheduler

import (
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/user/chatstream/internal/state"
)

// Handler is the callback invoked when a probe fires. It runs on the cron
// goroutine and should hand the work off rather than stream inline.
type Handler func(probe state.Probe)

// Scheduler evaluates cron expressions from the probe store and fires
// probes through a handler callback.
type Scheduler struct {
	store   *state.ProbeStore
	handler Handler

	mu   sync.Mutex
	cron *cron.Cron
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule reports whether expr is a schedule the scheduler accepts.
func ValidateSchedule(expr string) error {
	_, err := cronParser.Parse(expr)
	return err
}

// New creates a new Scheduler backed by the given probe store. The handler
// is called each time a scheduled probe fires.
func New(store *state.ProbeStore, handler Handler) *Scheduler {
	return &Scheduler{
		store:   store,
		handler: handler,
		cron:    cron.New(cron.WithParser(cronParser)),
	}
}

// Start loads probes from the store, registers enabled probes that have a
// schedule as cron entries, and starts the cron ticker. It returns the
// number of probes scheduled.
func (s *Scheduler) Start() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.start()
}

func (s *Scheduler) start() (int, error) {
	probes, err := s.store.List()
	if err != nil {
		return 0, err
	}

	var n int
	for _, p := range probes {
		if p.Schedule == "" || !p.Enabled {
			continue
		}

		probe := *p
		_, err := s.cron.AddFunc(probe.Schedule, func() {
			slog.Info("probe firing", "name", probe.Name, "session_key", string(probe.SessionKey))
			s.handler(probe)
		})
		if err != nil {
			slog.Error("invalid cron schedule", "name", probe.Name, "schedule", probe.Schedule, "error", err)
			continue
		}
		n++
		slog.Info("scheduled probe", "name", probe.Name, "schedule", probe.Schedule)
	}

	s.cron.Start()
	return n, nil
}

// Reload stops the existing cron, creates a new one, and starts it again
// from the current store contents.
func (s *Scheduler) Reload() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cron.Stop()
	s.cron = cron.New(cron.WithParser(cronParser))
	return s.start()
}

// Stop stops the cron ticker and waits for running handlers to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()
	<-c.Stop().Done()
}
