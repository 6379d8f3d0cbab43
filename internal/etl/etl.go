// Package etl implements the daily load pipeline: acquire each region's
// file for the data date, normalize it, apply the weekend mirroring rule and
// load it into the store, falling back to carry-forward when no file is
// available.
package etl

import (
	"context"
	"database/sql"
	"time"

	"fund-etl-service/internal/calendar"
	"fund-etl-service/internal/fetcher"
	"fund-etl-service/internal/models"
	"fund-etl-service/internal/normalizer"
	"fund-etl-service/internal/store"
	"fund-etl-service/pkg/errors"
	"fund-etl-service/pkg/logger"
)

// Load statuses recorded in the run history.
const (
	StatusSuccess        = "success"
	StatusCarriedForward = "carried_forward"
	StatusFailed         = "failed"
)

// LoadOutcome is one region's slice of a daily run
type LoadOutcome struct {
	Region      models.Region `json:"region"`
	Date        time.Time     `json:"date"`
	Status      string        `json:"status"`
	Records     int           `json:"records"`
	DroppedRows int           `json:"dropped_rows,omitempty"`
	CarriedFrom string        `json:"carried_from,omitempty"`
	Err         string        `json:"error,omitempty"`
}

// RunReport is the result of one daily run across all regions
type RunReport struct {
	RunDate  time.Time                      `json:"run_date"`
	DataDate time.Time                      `json:"data_date"`
	Regions  map[models.Region]*LoadOutcome `json:"regions"`
}

// Failed reports whether any region's load failed outright
func (r *RunReport) Failed() bool {
	for _, outcome := range r.Regions {
		if outcome.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Pipeline runs daily loads
type Pipeline struct {
	store   *store.Store
	fetcher fetcher.Fetcher
	logger  logger.Logger
}

// New creates a Pipeline
func New(s *store.Store, f fetcher.Fetcher) *Pipeline {
	return &Pipeline{
		store:   s,
		fetcher: f,
		logger:  logger.GetGlobalLogger().WithComponent("etl"),
	}
}

// RunDaily executes the daily load for the given run date. The data date is
// the calendar day before the run date: the vendor publishes each day's file
// the following morning. When the data date is not a trading day the most
// recent trading day's rows are carried forward instead of downloading.
// Regions load independently; one region's failure does not stop the other.
func (p *Pipeline) RunDaily(ctx context.Context, runDate time.Time) *RunReport {
	dataDate := models.DateOnly(runDate).AddDate(0, 0, -1)
	report := &RunReport{
		RunDate:  models.DateOnly(runDate),
		DataDate: dataDate,
		Regions:  make(map[models.Region]*LoadOutcome, len(models.AllRegions)),
	}

	for _, region := range models.AllRegions {
		report.Regions[region] = p.loadRegion(ctx, region, report.RunDate, dataDate)
	}
	return report
}

// LoadDate loads one region's file for an explicit data date, used by
// backfill. Unlike RunDaily it never carries forward: a missing historical
// file is a failure the operator should see.
func (p *Pipeline) LoadDate(ctx context.Context, region models.Region, dataDate time.Time) *LoadOutcome {
	dataDate = models.DateOnly(dataDate)
	outcome, _ := p.loadFromPortal(ctx, region, dataDate)
	outcome.Date = dataDate
	p.logRun(ctx, models.DateOnly(time.Now().UTC()), dataDate, region, outcome)
	return outcome
}

// Backfill loads every trading day in [from, to] that the run history does
// not record as successfully loaded. Returns the per-date outcomes in date
// order.
func (p *Pipeline) Backfill(ctx context.Context, region models.Region, from, to time.Time) ([]*LoadOutcome, error) {
	from, to = models.DateOnly(from), models.DateOnly(to)
	loaded, err := p.store.LoadedDataDates(ctx, region, from, to)
	if err != nil {
		return nil, err
	}

	var outcomes []*LoadOutcome
	for date := from; !date.After(to); date = date.AddDate(0, 0, 1) {
		if !calendar.IsTradingDay(date) || loaded[date] {
			continue
		}
		p.logger.WithFields(logger.Fields{
			"region": region,
			"date":   date.Format(models.DateFormat),
		}).Info("Backfilling missing date")
		outcomes = append(outcomes, p.LoadDate(ctx, region, date))
	}
	return outcomes, nil
}

func (p *Pipeline) loadRegion(ctx context.Context, region models.Region, runDate, dataDate time.Time) *LoadOutcome {
	var outcome *LoadOutcome

	if !calendar.IsTradingDay(dataDate) {
		outcome = p.carryForward(ctx, region, dataDate)
	} else {
		var loadErr error
		outcome, loadErr = p.loadFromPortal(ctx, region, dataDate)
		if loadErr != nil && isAcquisitionFailure(loadErr) {
			// No file published yet: fall back to yesterday's data so
			// continuity queries keep working, and keep the error.
			fallback := p.carryForward(ctx, region, dataDate)
			fallback.Err = loadErr.Error()
			outcome = fallback
		}
	}

	outcome.Date = dataDate
	p.logRun(ctx, runDate, dataDate, region, outcome)
	return outcome
}

// loadFromPortal fetches, normalizes and loads one region's file for one
// data date. The load is transactional: the affected dates are cleared and
// re-inserted together. The returned error, when non-nil, is the cause of a
// failed outcome; callers use it to decide on carry-forward.
func (p *Pipeline) loadFromPortal(ctx context.Context, region models.Region, dataDate time.Time) (*LoadOutcome, error) {
	outcome := &LoadOutcome{Region: region}

	fail := func(err error) (*LoadOutcome, error) {
		outcome.Status = StatusFailed
		outcome.Err = err.Error()
		outcome.Records = 0
		return outcome, err
	}

	dataset, err := p.fetcher.FetchDaily(ctx, region, dataDate)
	if err != nil {
		return fail(err)
	}

	norm, err := normalizer.New(normalizer.DefaultConfig(region))
	if err != nil {
		return fail(err)
	}
	result, err := norm.NormalizeDataset(dataset, dataDate)
	if err != nil {
		return fail(err)
	}
	outcome.DroppedRows = len(result.Rejected)

	records := calendar.ExpandForWeekend(result.Records, dataDate)
	targets := append([]time.Time{dataDate}, calendar.MirrorDates(dataDate)...)

	err = p.store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := store.DeleteDates(tx, region, targets); err != nil {
			return err
		}
		inserted, err := store.InsertRecords(tx, records)
		if err != nil {
			return err
		}
		outcome.Records = inserted
		return nil
	})
	if err != nil {
		return fail(err)
	}

	outcome.Status = StatusSuccess
	p.logger.WithFields(logger.Fields{
		"region":  region,
		"date":    dataDate.Format(models.DateFormat),
		"records": outcome.Records,
		"dropped": outcome.DroppedRows,
	}).Info("Loaded daily data")
	return outcome, nil
}

// carryForward copies the most recent stored date's rows onto the data
// date. When the store is empty there is nothing to carry and the outcome
// is a failure.
func (p *Pipeline) carryForward(ctx context.Context, region models.Region, dataDate time.Time) *LoadOutcome {
	outcome := &LoadOutcome{Region: region}

	source, err := p.store.LatestDateBefore(ctx, region, dataDate)
	if err != nil {
		outcome.Status = StatusFailed
		outcome.Err = err.Error()
		return outcome
	}
	if source.IsZero() {
		outcome.Status = StatusFailed
		outcome.Err = errors.StoreError(errors.CodeStoreUnavailable, "carry forward", nil).
			WithSuggestion("no earlier data exists to carry forward; run a backfill first").Error()
		return outcome
	}

	err = p.store.WithTx(ctx, func(tx *sql.Tx) error {
		copied, err := store.CarryForward(tx, region, source, dataDate)
		if err != nil {
			return err
		}
		outcome.Records = copied
		return nil
	})
	if err != nil {
		outcome.Status = StatusFailed
		outcome.Err = err.Error()
		return outcome
	}

	outcome.Status = StatusCarriedForward
	outcome.CarriedFrom = source.Format(models.DateFormat)
	p.logger.WithFields(logger.Fields{
		"region": region,
		"date":   dataDate.Format(models.DateFormat),
		"from":   outcome.CarriedFrom,
	}).Info("Carried data forward")
	return outcome
}

func (p *Pipeline) logRun(ctx context.Context, runDate, dataDate time.Time, region models.Region, outcome *LoadOutcome) {
	entry := store.ETLLogEntry{
		RunDate:          runDate,
		DataDate:         dataDate,
		Region:           region,
		Status:           outcome.Status,
		RecordsProcessed: outcome.Records,
		ErrorMessage:     outcome.Err,
	}
	if err := p.store.LogETLRun(ctx, entry); err != nil {
		p.logger.WithError(err).Error("Failed to record run history")
	}
}

// isAcquisitionFailure reports whether the error was an acquisition
// problem, the only failure class eligible for carry-forward. Parse and
// store failures mean the file existed and something is wrong with it or
// with us; silently masking those with stale data would hide the problem.
func isAcquisitionFailure(err error) bool {
	etlErr, ok := errors.AsETLError(err)
	return ok && etlErr.Category == errors.CategoryAcquisition
}
