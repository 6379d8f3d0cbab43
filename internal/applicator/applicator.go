// Package applicator executes reconciliation plans against the store.
//
// One Apply call is one transaction: every write of the plan lands or none
// do. Two strategies exist. Selective keeps existing rows and their
// created_at provenance, patching only the fields that differed and
// inserting only what is absent. Full replaces every affected date
// wholesale, giving the replaced rows a fresh created_at.
package applicator

import (
	"context"
	"database/sql"
	"time"

	"fund-etl-service/internal/calendar"
	"fund-etl-service/internal/models"
	"fund-etl-service/internal/store"
	"fund-etl-service/pkg/errors"
	"fund-etl-service/pkg/logger"
)

// Applicator applies reconciliation plans
type Applicator struct {
	store  *store.Store
	logger logger.Logger
}

// New creates an Applicator
func New(s *store.Store) *Applicator {
	return &Applicator{
		store:  s,
		logger: logger.GetGlobalLogger().WithComponent("applicator"),
	}
}

// Apply executes the plan using the reference dataset as the source of
// truth, in a single transaction. The weekend mirroring rule is maintained:
// writes to a Friday are propagated to the following Saturday and Sunday so
// the mirror invariant survives reconciliation.
func (a *Applicator) Apply(ctx context.Context, plan *models.ReconciliationPlan, reference []*models.FundRecord, mode models.UpdateMode) (*models.ApplyResult, error) {
	if !mode.IsValid() {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "update_mode", mode, nil)
	}

	result := &models.ApplyResult{Region: plan.Region, Mode: mode}
	if !plan.RequiresUpdate() {
		return result, nil
	}

	byDate := groupByDate(reference)

	err := a.store.WithTx(ctx, func(tx *sql.Tx) error {
		switch mode {
		case models.UpdateModeSelective:
			return a.applySelective(tx, plan, byDate, result)
		default:
			return a.applyFull(tx, plan, byDate, result)
		}
	})
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryReconciliation, errors.CodeApplyFailed, "apply plan")
	}

	a.logger.WithFields(logger.Fields{
		"region":   plan.Region,
		"mode":     mode,
		"inserted": result.RecordsInserted,
		"updated":  result.RecordsUpdated,
		"replaced": result.RecordsReplaced,
	}).Info("Applied reconciliation plan")

	return result, nil
}

// applySelective fills missing dates wholesale and touches present dates
// record by record.
func (a *Applicator) applySelective(tx *sql.Tx, plan *models.ReconciliationPlan, byDate map[time.Time][]*models.FundRecord, result *models.ApplyResult) error {
	missing := make(map[time.Time]bool, len(plan.MissingDates))
	for _, date := range plan.MissingDates {
		missing[models.DateOnly(date)] = true
	}

	for _, date := range plan.MissingDates {
		date = models.DateOnly(date)
		records := byDate[date]

		if _, err := store.DeleteDates(tx, plan.Region, []time.Time{date}); err != nil {
			return err
		}
		inserted, err := store.InsertRecords(tx, records)
		if err != nil {
			return err
		}
		result.RecordsInserted += inserted

		// A missing Friday repairs its weekend mirrors too, unless the
		// reference dataset carries those dates itself.
		for _, mirror := range calendar.MirrorDates(date) {
			if missing[mirror] && len(byDate[mirror]) > 0 {
				continue
			}
			if _, err := store.DeleteDates(tx, plan.Region, []time.Time{mirror}); err != nil {
				return err
			}
			inserted, err := store.InsertRecords(tx, withDate(records, mirror))
			if err != nil {
				return err
			}
			result.RecordsInserted += inserted
		}
	}

	for _, change := range plan.ChangedRecords {
		date := models.DateOnly(change.Date)
		targets := append([]time.Time{date}, calendar.MirrorDates(date)...)

		switch change.Kind {
		case models.ChangeNewRecord:
			record := findRecord(byDate[date], change.FundCode)
			if record == nil {
				return errors.ReconciliationError(errors.CodeApplyFailed, "resolve new record", nil).
					WithContext("fund_code", change.FundCode).
					WithContext("date", date.Format(models.DateFormat))
			}
			for _, target := range targets {
				// A stale mirror row from an earlier weekend expansion may
				// already hold this key; clear it so the insert cannot hit
				// the primary key and roll back the whole apply.
				if !target.Equal(date) {
					if _, err := store.DeleteRecord(tx, plan.Region, target, change.FundCode); err != nil {
						return err
					}
				}
				inserted, err := store.InsertRecords(tx, []*models.FundRecord{record.WithDate(target)})
				if err != nil {
					return err
				}
				result.RecordsInserted += inserted
			}

		default:
			fields := make(map[string]*float64, len(change.ChangedFields))
			for _, fc := range change.ChangedFields {
				fields[fc.Field] = fc.ReferenceValue
			}
			for _, target := range targets {
				// Mirror rows may legitimately be absent; zero affected
				// rows on a mirror is not a failure.
				affected, err := store.PatchRecord(tx, plan.Region, target, change.FundCode, fields)
				if err != nil {
					return err
				}
				if target.Equal(date) && affected == 0 {
					return errors.ReconciliationError(errors.CodeApplyFailed, "patch record", nil).
						WithContext("fund_code", change.FundCode).
						WithContext("date", date.Format(models.DateFormat))
				}
				result.RecordsUpdated += affected
			}
		}
	}

	return nil
}

// applyFull deletes every affected date (with weekend mirrors) and reloads
// it from the reference dataset.
func (a *Applicator) applyFull(tx *sql.Tx, plan *models.ReconciliationPlan, byDate map[time.Time][]*models.FundRecord, result *models.ApplyResult) error {
	affected := plan.AffectedDates()
	isAffected := make(map[time.Time]bool, len(affected))
	for _, date := range affected {
		isAffected[date] = true
	}

	// Deletion covers the affected dates plus the weekend mirrors of any
	// affected Friday, in one statement.
	targets := make([]time.Time, 0, len(affected))
	targets = append(targets, affected...)
	seen := make(map[time.Time]bool, len(affected))
	for _, date := range affected {
		seen[date] = true
	}
	for _, date := range affected {
		for _, mirror := range calendar.MirrorDates(date) {
			if !seen[mirror] {
				seen[mirror] = true
				targets = append(targets, mirror)
			}
		}
	}

	if _, err := store.DeleteDates(tx, plan.Region, targets); err != nil {
		return err
	}

	for _, date := range affected {
		records := byDate[date]
		inserted, err := store.InsertRecords(tx, records)
		if err != nil {
			return err
		}
		result.RecordsReplaced += inserted

		for _, mirror := range calendar.MirrorDates(date) {
			if isAffected[mirror] {
				// Reloaded in its own iteration.
				continue
			}
			source := byDate[mirror]
			if len(source) == 0 {
				source = withDate(records, mirror)
			}
			inserted, err := store.InsertRecords(tx, source)
			if err != nil {
				return err
			}
			result.RecordsReplaced += inserted
		}
	}

	return nil
}

func groupByDate(records []*models.FundRecord) map[time.Time][]*models.FundRecord {
	byDate := make(map[time.Time][]*models.FundRecord)
	for _, record := range records {
		date := models.DateOnly(record.Date)
		byDate[date] = append(byDate[date], record)
	}
	return byDate
}

func findRecord(records []*models.FundRecord, fundCode string) *models.FundRecord {
	for _, record := range records {
		if record.FundCode == fundCode {
			return record
		}
	}
	return nil
}

func withDate(records []*models.FundRecord, date time.Time) []*models.FundRecord {
	out := make([]*models.FundRecord, len(records))
	for i, record := range records {
		out[i] = record.WithDate(date)
	}
	return out
}
