package cmd

import (
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"
	"github.com/spf13/viper"
)

func lockPath(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.lock")
	viper.Set("schedule.lock_path", path)
	t.Cleanup(viper.Reset)
	return path
}

func TestAcquireRunLock(t *testing.T) {
	lockPath(t)

	release, err := acquireRunLock()
	if err != nil {
		t.Fatalf("Failed to acquire run lock: %v", err)
	}
	release()

	// Released, so the next acquisition succeeds.
	release, err = acquireRunLock()
	if err != nil {
		t.Fatalf("Failed to re-acquire released lock: %v", err)
	}
	release()
}

func TestAcquireRunLockRefusesWhenHeld(t *testing.T) {
	path := lockPath(t)

	// The daemon's scheduler holds the same advisory lock during runs.
	other := flock.New(path)
	locked, err := other.TryLock()
	if err != nil || !locked {
		t.Fatalf("Failed to take lock externally: %v", err)
	}
	defer other.Unlock()

	if _, err := acquireRunLock(); err == nil {
		t.Error("Expected acquisition to fail while the lock is held")
	}
}
