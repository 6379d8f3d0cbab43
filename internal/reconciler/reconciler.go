// Package reconciler orchestrates lookback reconciliation: it acquires the
// reference dataset, normalizes it, plans the differences against the store
// and optionally applies them.
package reconciler

import (
	"context"
	"time"

	"fund-etl-service/internal/applicator"
	"fund-etl-service/internal/comparator"
	"fund-etl-service/internal/fetcher"
	"fund-etl-service/internal/models"
	"fund-etl-service/internal/normalizer"
	"fund-etl-service/internal/planner"
	"fund-etl-service/internal/store"
	"fund-etl-service/pkg/errors"
	"fund-etl-service/pkg/logger"
)

// Config holds reconciliation parameters
type Config struct {
	// MonitoredFields and ThresholdPercent parameterize change detection.
	MonitoredFields  []string
	ThresholdPercent float64

	// UpdateMode is the apply strategy used when updates are requested.
	UpdateMode models.UpdateMode
}

// DefaultConfig returns the production reconciliation configuration
func DefaultConfig() *Config {
	return &Config{
		MonitoredFields:  models.DefaultMonitoredFields(),
		ThresholdPercent: comparator.DefaultThresholdPercent,
		UpdateMode:       models.UpdateModeSelective,
	}
}

// Engine runs lookback reconciliation for one or more regions
type Engine struct {
	store      *store.Store
	fetcher    fetcher.Fetcher
	planner    *planner.Planner
	applicator *applicator.Applicator
	config     *Config
	logger     logger.Logger
}

// New creates a reconciliation Engine. A nil config uses the defaults.
func New(s *store.Store, f fetcher.Fetcher, config *Config) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if !config.UpdateMode.IsValid() {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "update_mode", config.UpdateMode, nil)
	}

	cmp, err := comparator.New(&comparator.Config{
		MonitoredFields:  config.MonitoredFields,
		ThresholdPercent: config.ThresholdPercent,
		Epsilon:          comparator.DefaultEpsilon,
	})
	if err != nil {
		return nil, err
	}

	return &Engine{
		store:      s,
		fetcher:    f,
		planner:    planner.New(s, cmp),
		applicator: applicator.New(s),
		config:     config,
		logger:     logger.GetGlobalLogger().WithComponent("reconciler"),
	}, nil
}

// Validation couples a region's validation summary with the underlying plan
// and the normalized reference dataset, so an update can reuse them without
// a second download.
type Validation struct {
	Summary   *models.ValidationSummary
	Plan      *models.ReconciliationPlan
	Reference []*models.FundRecord
}

// Validate acquires the lookback dataset for one region and compares it
// against the store without writing anything.
func (e *Engine) Validate(ctx context.Context, region models.Region) (*Validation, error) {
	dataset, err := e.fetcher.FetchLookback(ctx, region)
	if err != nil {
		return nil, err
	}

	norm, err := normalizer.New(normalizer.DefaultConfig(region))
	if err != nil {
		return nil, err
	}
	result, err := norm.NormalizeDataset(dataset, time.Time{})
	if err != nil {
		return nil, err
	}

	plan, err := e.planner.BuildPlan(ctx, region, result.Records)
	if err != nil {
		return nil, err
	}

	summary := &models.ValidationSummary{
		Region:               region,
		TotalLookbackRecords: len(result.Records),
		MissingDatesCount:    plan.MissingDatesCount(),
		ChangedRecordsCount:  plan.ChangedRecordsCount(),
		DroppedRows:          len(result.Rejected),
		RequiresUpdate:       plan.RequiresUpdate(),
	}
	for _, date := range plan.MissingDates {
		summary.MissingDates = append(summary.MissingDates, date.Format(models.DateFormat))
	}

	e.logger.WithFields(logger.Fields{
		"region":          region,
		"records":         summary.TotalLookbackRecords,
		"missing_dates":   summary.MissingDatesCount,
		"changed_records": summary.ChangedRecordsCount,
		"requires_update": summary.RequiresUpdate,
	}).Info("Validated against lookback")

	return &Validation{Summary: summary, Plan: plan, Reference: result.Records}, nil
}

// Update validates one region and applies the resulting plan when it
// requires changes. The apply runs in a single transaction.
func (e *Engine) Update(ctx context.Context, region models.Region, mode models.UpdateMode) (*models.RegionOutcome, error) {
	if mode == "" {
		mode = e.config.UpdateMode
	}

	validation, err := e.Validate(ctx, region)
	if err != nil {
		return nil, err
	}

	outcome := &models.RegionOutcome{Region: region, Summary: validation.Summary}
	if !validation.Plan.RequiresUpdate() {
		return outcome, nil
	}

	apply, err := e.applicator.Apply(ctx, validation.Plan, validation.Reference, mode)
	if err != nil {
		return nil, err
	}
	outcome.Apply = apply
	return outcome, nil
}

// ReconcileAll runs validation (and optionally updates) for every region.
// Regions fail independently: one region's error is recorded in its outcome
// and the others still run. The summary is returned even on partial failure.
func (e *Engine) ReconcileAll(ctx context.Context, update bool, mode models.UpdateMode) *models.RunSummary {
	summary := &models.RunSummary{
		StartedAt: time.Now().UTC(),
		Regions:   make(map[models.Region]*models.RegionOutcome, len(models.AllRegions)),
	}

	for _, region := range models.AllRegions {
		var outcome *models.RegionOutcome
		var err error

		if update {
			outcome, err = e.Update(ctx, region, mode)
		} else {
			var validation *Validation
			validation, err = e.Validate(ctx, region)
			if err == nil {
				outcome = &models.RegionOutcome{Region: region, Summary: validation.Summary}
			}
		}

		if err != nil {
			e.logger.WithField("region", region).WithError(err).Error("Region reconciliation failed")
			outcome = &models.RegionOutcome{Region: region, Err: err.Error()}
		}
		summary.Regions[region] = outcome
	}

	summary.FinishedAt = time.Now().UTC()
	return summary
}
