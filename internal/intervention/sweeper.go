package intervention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the expiry sweep every thirty seconds.
const DefaultSchedule = "@every 30s"

// Sweeper runs Coordinator.Sweep on a cron schedule.
type Sweeper struct {
	coordinator *Coordinator
	schedule    string
	logger      *slog.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// NewSweeper creates a sweeper. An empty schedule uses DefaultSchedule.
// Standard five-field cron expressions and descriptors such as "@every 1m" are accepted.
func NewSweeper(c *Coordinator, schedule string) *Sweeper {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Sweeper{
		coordinator: c,
		schedule:    schedule,
		logger:      c.logger,
	}
}

// Start schedules the sweep. Overlapping runs are skipped.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.schedule, func() { s.run(sweepCtx) }); err != nil {
		cancel()
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}

	c.Start()
	s.cron = c
	s.cancel = cancel
	s.logger.Info("intervention sweeper started", "schedule", s.schedule)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return
	}
	s.cancel()
	<-s.cron.Stop().Done()
	s.cron = nil
	s.cancel = nil
	s.logger.Info("intervention sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	n, err := s.coordinator.Sweep(ctx)
	if err != nil {
		s.logger.Error("intervention sweep failed", "expired", n, "err", err)
		return
	}
	if n > 0 {
		s.logger.Info("interventions expired", "count", n)
	}
}
