// Package scheduler drives the daily pipeline on a cron schedule. Each
// scheduled run takes a file lock so overlapping triggers (a slow run
// meeting the next day's, or an operator running the CLI alongside the
// daemon) never execute concurrently.
package scheduler

import (
	"context"
	"time"

	"fund-etl-service/internal/etl"
	"fund-etl-service/internal/models"
	"fund-etl-service/internal/reconciler"
	"fund-etl-service/pkg/errors"
	"fund-etl-service/pkg/logger"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"
)

// Config holds scheduling options
type Config struct {
	// CronSpec is the daily trigger in standard cron format.
	CronSpec string

	// Retries and RetryBackoff govern re-attempts of a failed daily run.
	// Backoff doubles per attempt.
	Retries      int
	RetryBackoff time.Duration

	// LockPath is the advisory lock file guarding runs.
	LockPath string

	// BackfillDays is how far back the startup catch-up looks for missed
	// trading days. Zero disables catch-up.
	BackfillDays int

	// ValidateAfterRun triggers lookback reconciliation after each daily
	// run; UpdateOnValidate lets it write corrections.
	ValidateAfterRun bool
	UpdateOnValidate bool
	UpdateMode       models.UpdateMode
}

// DefaultConfig returns the production scheduling defaults
func DefaultConfig() *Config {
	return &Config{
		CronSpec:         "0 6 * * *",
		Retries:          3,
		RetryBackoff:     5 * time.Minute,
		LockPath:         "/tmp/fund_etl.lock",
		BackfillDays:     7,
		ValidateAfterRun: true,
		UpdateOnValidate: true,
		UpdateMode:       models.UpdateModeSelective,
	}
}

// Scheduler runs the pipeline on a schedule
type Scheduler struct {
	config   *Config
	pipeline *etl.Pipeline
	engine   *reconciler.Engine
	cron     *cron.Cron
	lock     *flock.Flock
	logger   logger.Logger
}

// New creates a Scheduler. A nil config uses the defaults.
func New(config *Config, pipeline *etl.Pipeline, engine *reconciler.Engine) (*Scheduler, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if _, err := cron.ParseStandard(config.CronSpec); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "cron_spec", config.CronSpec, err)
	}

	return &Scheduler{
		config:   config,
		pipeline: pipeline,
		engine:   engine,
		cron:     cron.New(),
		lock:     flock.New(config.LockPath),
		logger:   logger.GetGlobalLogger().WithComponent("scheduler"),
	}, nil
}

// Start runs the startup catch-up, registers the cron trigger and blocks
// until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.config.BackfillDays > 0 {
		s.catchUp(ctx)
	}

	_, err := s.cron.AddFunc(s.config.CronSpec, func() {
		s.RunNow(ctx, time.Now().UTC())
	})
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "cron_spec", s.config.CronSpec, err)
	}

	s.cron.Start()
	s.logger.WithField("cron", s.config.CronSpec).Info("Scheduler started")

	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
	return ctx.Err()
}

// RunNow executes one scheduled run immediately: the daily load with
// retries, then optional lookback reconciliation. Returns the final report,
// or nil when the run lock is held elsewhere.
func (s *Scheduler) RunNow(ctx context.Context, runDate time.Time) *etl.RunReport {
	locked, err := s.lock.TryLock()
	if err != nil {
		s.logger.WithError(err).Error("Run lock unavailable")
		return nil
	}
	if !locked {
		s.logger.Warn("Skipping run: another run holds the lock")
		return nil
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			s.logger.WithError(err).Error("Failed to release run lock")
		}
	}()

	report := s.runWithRetries(ctx, runDate)

	if s.config.ValidateAfterRun && !report.Failed() {
		summary := s.engine.ReconcileAll(ctx, s.config.UpdateOnValidate, s.config.UpdateMode)
		if summary.Failed() {
			s.logger.Error("Post-run reconciliation failed for at least one region")
		}
	}
	return report
}

func (s *Scheduler) runWithRetries(ctx context.Context, runDate time.Time) *etl.RunReport {
	backoff := s.config.RetryBackoff

	var report *etl.RunReport
	for attempt := 0; ; attempt++ {
		report = s.pipeline.RunDaily(ctx, runDate)
		if !report.Failed() || attempt >= s.config.Retries {
			break
		}

		s.logger.WithFields(logger.Fields{
			"attempt": attempt + 1,
			"backoff": backoff.String(),
		}).Warn("Daily run failed, retrying")

		select {
		case <-ctx.Done():
			return report
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return report
}

// catchUp backfills recent trading days that never loaded, covering gaps
// from downtime.
func (s *Scheduler) catchUp(ctx context.Context) {
	to := models.DateOnly(time.Now().UTC()).AddDate(0, 0, -1)
	from := to.AddDate(0, 0, -s.config.BackfillDays)

	for _, region := range models.AllRegions {
		outcomes, err := s.pipeline.Backfill(ctx, region, from, to)
		if err != nil {
			s.logger.WithField("region", region).WithError(err).Error("Catch-up backfill failed")
			continue
		}
		if len(outcomes) > 0 {
			s.logger.WithFields(logger.Fields{
				"region": region,
				"dates":  len(outcomes),
			}).Info("Caught up missed trading days")
		}
	}
}
