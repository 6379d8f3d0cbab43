// Package config builds component configurations from viper settings and
// CLI flags. It is the only place flag and file settings are translated into
// the typed configs the internal packages take.
package config

import (
	"strings"
	"time"

	"fund-etl-service/internal/fetcher"
	"fund-etl-service/internal/models"
	"fund-etl-service/internal/reconciler"
	"fund-etl-service/internal/scheduler"
	"fund-etl-service/internal/server"
	"fund-etl-service/internal/store"
	"fund-etl-service/pkg/errors"

	"github.com/spf13/viper"
)

// Defaults for settings not overridden by flags, file or environment.
const (
	DefaultDBPath       = "fund_etl.db"
	DefaultThresholdPct = 5.0
	DefaultLockPath     = "/tmp/fund_etl.lock"
)

// OpenStore opens the SQLite store at the configured path
func OpenStore() (*store.Store, error) {
	path := viper.GetString("db")
	if path == "" {
		path = DefaultDBPath
	}
	return store.Open(path)
}

// CreateFetcher builds the configured fetcher. A source directory selects
// the file-based fetcher; otherwise the portal fetcher is used and requires
// the portal URLs to be configured.
func CreateFetcher() (fetcher.Fetcher, error) {
	if dir := viper.GetString("source.dir"); dir != "" {
		return &fetcher.DirectoryFetcher{Dir: dir}, nil
	}

	portal := fetcher.DefaultPortalConfig()
	if dir := viper.GetString("portal.download_dir"); dir != "" {
		portal.DownloadDir = dir
	}
	if timeout := viper.GetDuration("portal.download_timeout"); timeout > 0 {
		portal.DownloadTimeout = timeout
	}

	for _, region := range models.AllRegions {
		key := strings.ToLower(region.String())
		if url := viper.GetString("portal.daily_url." + key); url != "" {
			portal.DailyURLs[region] = url
		}
		if url := viper.GetString("portal.lookback_url." + key); url != "" {
			portal.LookbackURLs[region] = url
		}
	}
	if len(portal.DailyURLs) == 0 && len(portal.LookbackURLs) == 0 {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "portal.daily_url / source.dir", nil, nil).
			WithSuggestion("configure portal URLs or set source.dir for file-based acquisition")
	}

	return fetcher.NewPortalFetcher(portal)
}

// CreateReconcilerConfig builds the reconciliation configuration, applying
// CLI overrides on top of file settings.
func CreateReconcilerConfig(updateMode string) (*reconciler.Config, error) {
	config := reconciler.DefaultConfig()

	if fields := viper.GetStringSlice("reconcile.monitored_fields"); len(fields) > 0 {
		config.MonitoredFields = fields
	}
	if viper.IsSet("reconcile.threshold_percent") {
		config.ThresholdPercent = viper.GetFloat64("reconcile.threshold_percent")
	}

	if updateMode == "" {
		updateMode = viper.GetString("reconcile.update_mode")
	}
	mode, err := models.ParseUpdateMode(updateMode)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "update_mode", updateMode, err)
	}
	config.UpdateMode = mode

	return config, nil
}

// CreateSchedulerConfig builds the scheduler configuration
func CreateSchedulerConfig() *scheduler.Config {
	config := scheduler.DefaultConfig()

	if spec := viper.GetString("schedule.cron"); spec != "" {
		config.CronSpec = spec
	}
	if viper.IsSet("schedule.retries") {
		config.Retries = viper.GetInt("schedule.retries")
	}
	if backoff := viper.GetDuration("schedule.retry_backoff"); backoff > 0 {
		config.RetryBackoff = backoff
	}
	if path := viper.GetString("schedule.lock_path"); path != "" {
		config.LockPath = path
	}
	if viper.IsSet("schedule.backfill_days") {
		config.BackfillDays = viper.GetInt("schedule.backfill_days")
	}
	if viper.IsSet("schedule.validate_after_run") {
		config.ValidateAfterRun = viper.GetBool("schedule.validate_after_run")
	}
	if viper.IsSet("schedule.update_on_validate") {
		config.UpdateOnValidate = viper.GetBool("schedule.update_on_validate")
	}

	return config
}

// CreateServerConfig builds the HTTP server configuration
func CreateServerConfig(addr string) *server.Config {
	config := server.DefaultConfig()

	if addr != "" {
		config.Addr = addr
	} else if configured := viper.GetString("server.addr"); configured != "" {
		config.Addr = configured
	}
	if retention := viper.GetDuration("server.workflow_retention"); retention > 0 {
		config.WorkflowRetention = retention
	}
	if timeout := viper.GetDuration("server.operation_timeout"); timeout > 0 {
		config.OperationTimeout = timeout
	}

	return config
}

// ParseDate parses a YYYY-MM-DD flag value
func ParseDate(value string) (time.Time, error) {
	date, err := time.Parse(models.DateFormat, value)
	if err != nil {
		return time.Time{}, errors.ConfigurationError(errors.CodeInvalidConfig, "date", value, err).
			WithSuggestion("dates must use the YYYY-MM-DD format")
	}
	return date, nil
}
