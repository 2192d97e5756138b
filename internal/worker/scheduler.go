package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mtlprog/quota/internal/domain"
)

// Schedules holds standard five-field cron expressions, evaluated in UTC.
type Schedules struct {
	Quotes    string
	FX        string
	Snapshots string
}

// Scheduler triggers the jobs on their cron schedules. A job still running when its next
// tick arrives is skipped.
type Scheduler struct {
	jobs     *Jobs
	cron     *cron.Cron
	lookback int
	now      func() time.Time
	ctx      context.Context
}

// NewScheduler validates the schedules and registers the jobs.
func NewScheduler(jobs *Jobs, schedules Schedules, lookbackDays int) (*Scheduler, error) {
	logger := slogLogger{}
	s := &Scheduler{
		jobs:     jobs,
		lookback: lookbackDays,
		now:      time.Now,
		ctx:      context.Background(),
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}

	entries := []struct {
		name string
		spec string
		run  func()
	}{
		{"quotes", schedules.Quotes, s.syncQuotes},
		{"fx", schedules.FX, s.syncFX},
		{"snapshots", schedules.Snapshots, s.generateSnapshots},
	}
	for _, e := range entries {
		if _, err := s.cron.AddFunc(e.spec, e.run); err != nil {
			return nil, fmt.Errorf("scheduling %s job %q: %w", e.name, e.spec, err)
		}
	}
	return s, nil
}

// Run runs every job once, then follows the schedules until ctx is cancelled. It returns
// after in-flight jobs finish.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("Scheduler: starting")
	s.ctx = ctx

	s.syncQuotes()
	s.syncFX()
	s.generateSnapshots()

	s.cron.Start()
	<-ctx.Done()
	slog.Info("Scheduler: shutting down")
	<-s.cron.Stop().Done()
}

func (s *Scheduler) today() time.Time {
	return domain.Day(s.now())
}

func (s *Scheduler) syncQuotes() {
	if _, err := s.jobs.SyncQuotes(s.ctx, Window(s.today(), s.lookback)); err != nil {
		slog.Error("Scheduler: quote sync failed", "error", err)
	}
}

func (s *Scheduler) syncFX() {
	if _, err := s.jobs.SyncFX(s.ctx, Window(s.today(), s.lookback)); err != nil {
		slog.Error("Scheduler: fx sync failed", "error", err)
	}
}

func (s *Scheduler) generateSnapshots() {
	if err := s.jobs.GenerateSnapshots(s.ctx, s.today()); err != nil {
		slog.Error("Scheduler: snapshot generation failed", "error", err)
	}
}

// slogLogger adapts cron's logger to slog.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("Scheduler: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("Scheduler: "+msg, append(keysAndValues, "error", err)...)
}
