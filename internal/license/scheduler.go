package license

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultBackgroundSchedule runs background validation every six hours.
const DefaultBackgroundSchedule = "@every 6h"

// ParseSchedule parses a cron spec (five fields or a descriptor) in the
// given time zone.
func ParseSchedule(spec, timeZone string) (cron.Schedule, error) {
	cronSpec := spec
	if timeZone != "" {
		cronSpec = fmt.Sprintf("CRON_TZ=%s %s", timeZone, spec)
	}
	s, err := cron.
		NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor).
		Parse(cronSpec)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cron spec '%s': %w", spec, err)
	}
	return s, nil
}

// Scheduler runs ValidateBackground on a cron schedule. Runs never overlap.
type Scheduler struct {
	engine *Engine
	cron   *cron.Cron
	logger *slog.Logger
}

// NewScheduler registers the background job.
func NewScheduler(engine *Engine, spec, timeZone string, logger *slog.Logger) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultBackgroundSchedule
	}
	schedule, err := ParseSchedule(spec, timeZone)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		engine: engine,
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: logger.With(slog.String("component", "license_scheduler")),
	}
	s.cron.Schedule(schedule, cron.FuncJob(s.runOnce))
	return s, nil
}

func (s *Scheduler) runOnce() {
	res := s.engine.ValidateBackground(context.Background())
	s.logger.Debug("background validation finished",
		slog.String("state", string(res.State)),
		slog.Bool("valid", res.Valid))
}

// Run starts the scheduler and blocks until ctx is done, then waits for a
// running job to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("background validation scheduled", slog.Int("entries", len(s.cron.Entries())))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}
