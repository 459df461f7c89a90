package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "epdash/internal/log"
)

// Scheduler fires the refresh cycle on a wall-clock-aligned cron schedule.
// The default spec ("58 * * * *") lands just before displays poll on the
// hour. cron recomputes each activation from the current clock, so NTP
// adjustments do not compound into cycle skew.
//
// It deliberately does not fire at startup; the first artifacts come from an
// explicit startup refresh or from the cold-cache request path.
type Scheduler struct {
	cron *cron.Cron
	spec string
}

// New validates the cron spec and builds a Scheduler that invokes job on
// each activation with the given base context.
func New(ctx context.Context, spec string, job func(context.Context)) (*Scheduler, error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		started := time.Now()
		appLog.Info("scheduled refresh firing", "spec", spec)
		job(ctx)
		appLog.Debug("scheduled refresh returned", "duration", time.Since(started).Round(time.Millisecond))
	}); err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}
	return &Scheduler{cron: c, spec: spec}, nil
}

// Start launches the timer loop.
func (s *Scheduler) Start() {
	appLog.Info("scheduler started", "spec", s.spec)
	s.cron.Start()
}

// Stop cancels the timer loop and waits for a running job to return.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	appLog.Info("scheduler stopped")
}
