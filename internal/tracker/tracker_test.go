package tracker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"fund-etl-service/internal/store"
)

func testTracker(t *testing.T) *Tracker {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "tracker_test.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s.DB())
}

func TestWorkflowLifecycle(t *testing.T) {
	tr := testTracker(t)
	ctx := context.Background()

	id, err := tr.Start(ctx, "daily-etl")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if id == "" {
		t.Fatal("Expected non-empty workflow id")
	}

	if err := tr.AppendOutput(ctx, id, "loading AMRS"); err != nil {
		t.Fatalf("AppendOutput failed: %v", err)
	}
	if err := tr.AppendOutput(ctx, id, "loading EMEA"); err != nil {
		t.Fatalf("AppendOutput failed: %v", err)
	}

	running, err := tr.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if running.Status != StatusRunning {
		t.Errorf("Expected running, got %s", running.Status)
	}
	if running.Output != "loading AMRS\nloading EMEA\n" {
		t.Errorf("Unexpected output: %q", running.Output)
	}
	if running.FinishedAt != nil {
		t.Error("Expected no finish time while running")
	}

	if err := tr.Finish(ctx, id, true); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	done, _ := tr.Get(ctx, id)
	if done.Status != StatusSucceeded {
		t.Errorf("Expected succeeded, got %s", done.Status)
	}
	if done.FinishedAt == nil {
		t.Error("Expected finish time set")
	}
}

func TestFinishFailure(t *testing.T) {
	tr := testTracker(t)
	ctx := context.Background()

	id, _ := tr.Start(ctx, "validate")
	if err := tr.Finish(ctx, id, false); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	workflow, _ := tr.Get(ctx, id)
	if workflow.Status != StatusFailed {
		t.Errorf("Expected failed, got %s", workflow.Status)
	}
}

func TestGetUnknownID(t *testing.T) {
	tr := testTracker(t)

	workflow, err := tr.Get(context.Background(), "no-such-id")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if workflow != nil {
		t.Error("Expected nil for unknown id")
	}
}

func TestListNewestFirst(t *testing.T) {
	tr := testTracker(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		id, _ := tr.Start(ctx, "run")
		ids = append(ids, id)
		time.Sleep(5 * time.Millisecond) // distinct started_at ordering
	}

	workflows, err := tr.List(ctx, 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(workflows) != 2 {
		t.Fatalf("Expected limit respected, got %d", len(workflows))
	}
	if workflows[0].ID != ids[2] {
		t.Error("Expected newest workflow first")
	}
}

func TestCleanupKeepsRunningAndRecent(t *testing.T) {
	tr := testTracker(t)
	ctx := context.Background()

	oldDone, _ := tr.Start(ctx, "old-done")
	tr.Finish(ctx, oldDone, true)
	stillRunning, _ := tr.Start(ctx, "still-running")

	// Age both workflows past the retention window.
	if _, err := tr.db.Exec("UPDATE workflows SET started_at = ?", time.Now().UTC().Add(-48*time.Hour)); err != nil {
		t.Fatalf("Failed to age workflows: %v", err)
	}

	removed, err := tr.Cleanup(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 workflow removed, got %d", removed)
	}

	if w, _ := tr.Get(ctx, oldDone); w != nil {
		t.Error("Expected old finished workflow removed")
	}
	if w, _ := tr.Get(ctx, stillRunning); w == nil {
		t.Error("Running workflow must survive cleanup regardless of age")
	}
}
