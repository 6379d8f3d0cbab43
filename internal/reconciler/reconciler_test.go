package reconciler

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"fund-etl-service/internal/models"
	"fund-etl-service/internal/store"
	"fund-etl-service/pkg/errors"
)

func floatPtr(v float64) *float64 { return &v }

// fakeFetcher serves in-memory lookback datasets per region.
type fakeFetcher struct {
	lookbacks map[models.Region]*models.RawDataset
	errs      map[models.Region]error
}

func (f *fakeFetcher) FetchDaily(_ context.Context, region models.Region, _ time.Time) (*models.RawDataset, error) {
	return nil, errors.AcquisitionError(errors.CodeFileUnavailable, region.String(), nil)
}

func (f *fakeFetcher) FetchLookback(_ context.Context, region models.Region) (*models.RawDataset, error) {
	if err := f.errs[region]; err != nil {
		return nil, err
	}
	if dataset := f.lookbacks[region]; dataset != nil {
		return dataset, nil
	}
	return &models.RawDataset{Region: region}, nil
}

func rawRow(line int, date, code, assets string) models.RawRow {
	return models.RawRow{Line: line, Fields: map[string]string{
		"Date":                           date,
		"Fund Code":                      code,
		"Share Class Assets (dly/$mils)": assets,
	}}
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "reconciler_test.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustInsert(t *testing.T, s *store.Store, records ...*models.FundRecord) {
	t.Helper()
	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		_, err := store.InsertRecords(tx, records)
		return err
	})
	if err != nil {
		t.Fatalf("Seed insert failed: %v", err)
	}
}

func storedRecord(date time.Time, region models.Region, code string, assets float64) *models.FundRecord {
	return &models.FundRecord{
		Date:             date,
		Region:           region,
		FundCode:         code,
		ShareClassAssets: floatPtr(assets),
	}
}

func TestValidateSummarizesDifferences(t *testing.T) {
	s := testStore(t)
	present := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	mustInsert(t, s,
		storedRecord(present, models.RegionAMRS, "SAME", 100),
		storedRecord(present, models.RegionAMRS, "CHANGED", 100))

	f := &fakeFetcher{lookbacks: map[models.Region]*models.RawDataset{
		models.RegionAMRS: {Region: models.RegionAMRS, Rows: []models.RawRow{
			rawRow(2, "2024-01-10", "SAME", "100"),
			rawRow(3, "2024-01-10", "CHANGED", "200"),
			rawRow(4, "2024-01-11", "SAME", "100"), // whole date missing
			rawRow(5, "2024-01-10", "BAD", "not-a-number"),
		}},
	}}

	engine, err := New(s, f, nil)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	validation, err := engine.Validate(context.Background(), models.RegionAMRS)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	summary := validation.Summary
	if summary.TotalLookbackRecords != 3 {
		t.Errorf("Expected 3 lookback records, got %d", summary.TotalLookbackRecords)
	}
	if summary.DroppedRows != 1 {
		t.Errorf("Expected 1 dropped row, got %d", summary.DroppedRows)
	}
	if summary.MissingDatesCount != 1 || summary.MissingDates[0] != "2024-01-11" {
		t.Errorf("Expected 2024-01-11 missing, got %v", summary.MissingDates)
	}
	if summary.ChangedRecordsCount != 1 {
		t.Errorf("Expected 1 changed record, got %d", summary.ChangedRecordsCount)
	}
	if !summary.RequiresUpdate {
		t.Error("Expected update required")
	}
}

func TestValidateCleanStoreRequiresNoUpdate(t *testing.T) {
	s := testStore(t)
	date := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	mustInsert(t, s, storedRecord(date, models.RegionAMRS, "F1", 100))

	f := &fakeFetcher{lookbacks: map[models.Region]*models.RawDataset{
		models.RegionAMRS: {Region: models.RegionAMRS, Rows: []models.RawRow{
			rawRow(2, "2024-01-10", "F1", "100"),
		}},
	}}

	engine, _ := New(s, f, nil)
	validation, err := engine.Validate(context.Background(), models.RegionAMRS)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if validation.Summary.RequiresUpdate {
		t.Error("Matching data must not require update")
	}
}

func TestUpdateConvergesStoreToReference(t *testing.T) {
	s := testStore(t)
	date := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	mustInsert(t, s, storedRecord(date, models.RegionAMRS, "F1", 100))

	f := &fakeFetcher{lookbacks: map[models.Region]*models.RawDataset{
		models.RegionAMRS: {Region: models.RegionAMRS, Rows: []models.RawRow{
			rawRow(2, "2024-01-10", "F1", "250"),
			rawRow(3, "2024-01-11", "F1", "260"),
		}},
	}}

	engine, _ := New(s, f, nil)
	outcome, err := engine.Update(context.Background(), models.RegionAMRS, models.UpdateModeSelective)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if outcome.Apply == nil {
		t.Fatal("Expected an apply result")
	}
	if outcome.Apply.RecordsUpdated != 1 || outcome.Apply.RecordsInserted != 1 {
		t.Errorf("Expected 1 update and 1 insert, got %+v", outcome.Apply)
	}

	// After the update, a second validation finds nothing to do.
	validation, err := engine.Validate(context.Background(), models.RegionAMRS)
	if err != nil {
		t.Fatalf("Revalidation failed: %v", err)
	}
	if validation.Summary.RequiresUpdate {
		t.Error("Expected store converged to the reference")
	}
}

func TestUpdateSurvivesDuplicatedReferenceRows(t *testing.T) {
	s := testStore(t)
	date := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	mustInsert(t, s, storedRecord(date, models.RegionAMRS, "F1", 100))

	// The vendor occasionally repeats a fund within one date. The duplicate
	// must be dropped and counted; it must not abort the region's apply.
	f := &fakeFetcher{lookbacks: map[models.Region]*models.RawDataset{
		models.RegionAMRS: {Region: models.RegionAMRS, Rows: []models.RawRow{
			rawRow(2, "2024-01-10", "F1", "100"),
			rawRow(3, "2024-01-10", "F2", "300"),
			rawRow(4, "2024-01-10", "F2", "300"),
		}},
	}}

	engine, _ := New(s, f, nil)
	outcome, err := engine.Update(context.Background(), models.RegionAMRS, models.UpdateModeSelective)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if outcome.Summary.DroppedRows != 1 {
		t.Errorf("Expected the duplicate counted as dropped, got %d", outcome.Summary.DroppedRows)
	}
	if outcome.Apply == nil || outcome.Apply.RecordsInserted != 1 {
		t.Fatalf("Expected F2 inserted once, got %+v", outcome.Apply)
	}

	snapshot, err := s.SnapshotForDate(context.Background(), models.RegionAMRS, date)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if _, ok := snapshot["F2"]; !ok {
		t.Error("Expected F2 present after the update")
	}
}

// A wholly-missing date with a duplicated row must bulk-insert the survivors
// rather than abort on the primary key.
func TestUpdateSurvivesDuplicateInMissingDate(t *testing.T) {
	s := testStore(t)
	present := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	mustInsert(t, s, storedRecord(present, models.RegionAMRS, "F1", 100))

	f := &fakeFetcher{lookbacks: map[models.Region]*models.RawDataset{
		models.RegionAMRS: {Region: models.RegionAMRS, Rows: []models.RawRow{
			rawRow(2, "2024-01-10", "F1", "100"),
			rawRow(3, "2024-01-11", "F1", "110"),
			rawRow(4, "2024-01-11", "F1", "110"),
		}},
	}}

	engine, _ := New(s, f, nil)
	outcome, err := engine.Update(context.Background(), models.RegionAMRS, models.UpdateModeSelective)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if outcome.Apply == nil || outcome.Apply.RecordsInserted != 1 {
		t.Fatalf("Expected the missing date filled with 1 record, got %+v", outcome.Apply)
	}
}

func TestUpdateSkipsApplyWhenNothingChanged(t *testing.T) {
	s := testStore(t)
	date := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	mustInsert(t, s, storedRecord(date, models.RegionAMRS, "F1", 100))

	f := &fakeFetcher{lookbacks: map[models.Region]*models.RawDataset{
		models.RegionAMRS: {Region: models.RegionAMRS, Rows: []models.RawRow{
			rawRow(2, "2024-01-10", "F1", "100"),
		}},
	}}

	engine, _ := New(s, f, nil)
	outcome, err := engine.Update(context.Background(), models.RegionAMRS, models.UpdateModeSelective)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if outcome.Apply != nil {
		t.Error("Expected no apply for a clean validation")
	}
}

func TestReconcileAllIsolatesRegionFailures(t *testing.T) {
	s := testStore(t)
	date := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	mustInsert(t, s, storedRecord(date, models.RegionAMRS, "F1", 100))

	f := &fakeFetcher{
		lookbacks: map[models.Region]*models.RawDataset{
			models.RegionAMRS: {Region: models.RegionAMRS, Rows: []models.RawRow{
				rawRow(2, "2024-01-10", "F1", "100"),
			}},
		},
		errs: map[models.Region]error{
			models.RegionEMEA: fmt.Errorf("portal unreachable"),
		},
	}

	engine, _ := New(s, f, nil)
	summary := engine.ReconcileAll(context.Background(), false, "")

	if summary == nil {
		t.Fatal("Summary must be returned even on partial failure")
	}
	if len(summary.Regions) != 2 {
		t.Fatalf("Expected outcomes for both regions, got %d", len(summary.Regions))
	}
	if summary.Regions[models.RegionAMRS].Err != "" {
		t.Errorf("Expected AMRS to succeed, got error %q", summary.Regions[models.RegionAMRS].Err)
	}
	if summary.Regions[models.RegionEMEA].Err == "" {
		t.Error("Expected EMEA failure recorded")
	}
	if !summary.Failed() {
		t.Error("Expected run marked as failed")
	}
	if summary.FinishedAt.Before(summary.StartedAt) {
		t.Error("Expected timestamps ordered")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	s := testStore(t)
	f := &fakeFetcher{}

	if _, err := New(s, f, &Config{
		MonitoredFields:  models.DefaultMonitoredFields(),
		ThresholdPercent: 5,
		UpdateMode:       "partial",
	}); err == nil {
		t.Error("Expected error for invalid update mode")
	}

	if _, err := New(s, f, &Config{
		MonitoredFields:  []string{},
		ThresholdPercent: 5,
		UpdateMode:       models.UpdateModeSelective,
	}); err == nil {
		t.Error("Expected error for empty monitored fields")
	}
}
