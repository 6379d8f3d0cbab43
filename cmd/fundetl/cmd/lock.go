package cmd

import (
	"fund-etl-service/cmd/fundetl/config"
	"fund-etl-service/pkg/errors"

	"github.com/gofrs/flock"
	"github.com/spf13/viper"
)

// acquireRunLock takes the advisory file lock that serializes writers: the
// scheduler daemon holds it for every scheduled run, and the write-capable
// CLI commands must hold it too so a manual run cannot interleave with a
// scheduled one. The returned release function must be deferred.
func acquireRunLock() (func(), error) {
	path := viper.GetString("schedule.lock_path")
	if path == "" {
		path = config.DefaultLockPath
	}

	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.StoreError(errors.CodeStoreUnavailable, "acquire run lock", err).
			WithContext("lock_path", path)
	}
	if !locked {
		return nil, errors.New(errors.CategoryStore, errors.CodeStoreUnavailable,
			"another run holds the lock").
			WithContext("lock_path", path).
			WithSuggestion("a scheduled run or another fundetl process is writing; wait for it to finish")
	}

	return func() { lock.Unlock() }, nil
}
