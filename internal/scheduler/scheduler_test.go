package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fund-etl-service/internal/etl"
	"fund-etl-service/internal/models"
	"fund-etl-service/internal/reconciler"
	"fund-etl-service/internal/store"
	"fund-etl-service/pkg/errors"

	"github.com/gofrs/flock"
)

// fakeFetcher counts fetch attempts and can fail the first N of them.
type fakeFetcher struct {
	mu        sync.Mutex
	failFirst int
	attempts  int
}

func (f *fakeFetcher) FetchDaily(_ context.Context, region models.Region, date time.Time) (*models.RawDataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts <= f.failFirst {
		return nil, errors.AcquisitionError(errors.CodeDownloadFailed, region.String(), nil)
	}
	return &models.RawDataset{Region: region, Rows: []models.RawRow{
		{Line: 2, Fields: map[string]string{
			"Date":      date.Format(models.DateFormat),
			"Fund Code": "F1",
		}},
	}}, nil
}

func (f *fakeFetcher) FetchLookback(_ context.Context, region models.Region) (*models.RawDataset, error) {
	return &models.RawDataset{Region: region}, nil
}

func testScheduler(t *testing.T, config *Config, f *fakeFetcher) *Scheduler {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "scheduler_test.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	engine, err := reconciler.New(s, f, nil)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	sched, err := New(config, etl.New(s, f), engine)
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}
	return sched
}

func fastConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		CronSpec:     "0 6 * * *",
		Retries:      2,
		RetryBackoff: time.Millisecond,
		LockPath:     filepath.Join(t.TempDir(), "run.lock"),
	}
}

func TestRunNowRetriesUntilSuccess(t *testing.T) {
	// Two regions fetch per run; fail the whole first run.
	f := &fakeFetcher{failFirst: 2}
	sched := testScheduler(t, fastConfig(t), f)

	// No carry-forward source exists, so acquisition failures fail the run.
	runDate := time.Date(2024, 1, 11, 6, 0, 0, 0, time.UTC)
	report := sched.RunNow(context.Background(), runDate)

	if report == nil {
		t.Fatal("Expected a report")
	}
	if report.Failed() {
		t.Errorf("Expected retry to recover, got %+v", report.Regions)
	}
	if f.attempts <= 2 {
		t.Errorf("Expected retries beyond the first attempt, got %d fetches", f.attempts)
	}
}

func TestRunNowGivesUpAfterRetries(t *testing.T) {
	f := &fakeFetcher{failFirst: 1000}
	sched := testScheduler(t, fastConfig(t), f)

	report := sched.RunNow(context.Background(), time.Date(2024, 1, 11, 6, 0, 0, 0, time.UTC))
	if report == nil || !report.Failed() {
		t.Error("Expected a failed report after exhausting retries")
	}
	// 1 initial + 2 retries, 2 regions each.
	if f.attempts != 6 {
		t.Errorf("Expected 6 fetch attempts, got %d", f.attempts)
	}
}

func TestRunNowSkipsWhenLockHeld(t *testing.T) {
	config := fastConfig(t)
	f := &fakeFetcher{}
	sched := testScheduler(t, config, f)

	other := flock.New(config.LockPath)
	locked, err := other.TryLock()
	if err != nil || !locked {
		t.Fatalf("Failed to take lock externally: %v", err)
	}
	defer other.Unlock()

	if report := sched.RunNow(context.Background(), time.Now()); report != nil {
		t.Error("Expected run skipped while lock is held")
	}
	if f.attempts != 0 {
		t.Errorf("Expected no fetches while locked out, got %d", f.attempts)
	}
}

func TestNewRejectsBadCronSpec(t *testing.T) {
	config := fastConfig(t)
	config.CronSpec = "every day at six"
	f := &fakeFetcher{}

	s, err := store.Open(filepath.Join(t.TempDir(), "scheduler_test.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer s.Close()
	engine, _ := reconciler.New(s, f, nil)

	if _, err := New(config, etl.New(s, f), engine); err == nil {
		t.Error("Expected error for invalid cron spec")
	}
}
