// Package planner builds reconciliation plans: given a reference (lookback)
// dataset and the current store contents, it decides per date whether the
// store is missing the date entirely or which individual records changed.
package planner

import (
	"context"
	"sort"
	"time"

	"fund-etl-service/internal/comparator"
	"fund-etl-service/internal/models"
	"fund-etl-service/pkg/errors"
	"fund-etl-service/pkg/logger"
)

// Snapshotter is the store read surface the planner needs.
type Snapshotter interface {
	SnapshotForDate(ctx context.Context, region models.Region, date time.Time) (map[string]*models.FundRecord, error)
}

// Planner classifies a reference dataset against the store
type Planner struct {
	store      Snapshotter
	comparator *comparator.Comparator
	logger     logger.Logger
}

// New creates a Planner
func New(store Snapshotter, cmp *comparator.Comparator) *Planner {
	return &Planner{
		store:      store,
		comparator: cmp,
		logger:     logger.GetGlobalLogger().WithComponent("planner"),
	}
}

// BuildPlan classifies every reference record against the store for one
// region. Dates absent from the store become missing dates and their records
// are not compared individually; present dates are compared record by
// record. Every reference date lands in exactly one of the two buckets.
func (p *Planner) BuildPlan(ctx context.Context, region models.Region, reference []*models.FundRecord) (*models.ReconciliationPlan, error) {
	plan := &models.ReconciliationPlan{
		Region:                region,
		TotalReferenceRecords: len(reference),
	}

	byDate := make(map[time.Time][]*models.FundRecord)
	for _, record := range reference {
		date := models.DateOnly(record.Date)
		byDate[date] = append(byDate[date], record)
	}

	dates := make([]time.Time, 0, len(byDate))
	for date := range byDate {
		dates = append(dates, date)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	for _, date := range dates {
		snapshot, err := p.store.SnapshotForDate(ctx, region, date)
		if err != nil {
			return nil, errors.ReconciliationError(errors.CodePlanningFailed, "snapshot for "+date.Format(models.DateFormat), err)
		}

		if len(snapshot) == 0 {
			plan.MissingDates = append(plan.MissingDates, date)
			continue
		}

		plan.ComparedDates = append(plan.ComparedDates, date)
		for _, record := range byDate[date] {
			descriptor := p.comparator.Classify(snapshot[record.FundCode], record)
			if descriptor.Kind == models.ChangeUnchanged {
				continue
			}
			plan.ChangedRecords = append(plan.ChangedRecords, descriptor)
		}
	}

	p.logger.WithFields(logger.Fields{
		"region":          region,
		"reference":       len(reference),
		"missing_dates":   len(plan.MissingDates),
		"changed_records": len(plan.ChangedRecords),
	}).Info("Built reconciliation plan")

	return plan, nil
}
