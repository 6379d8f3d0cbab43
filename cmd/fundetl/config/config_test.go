package config

import (
	"testing"
	"time"

	"fund-etl-service/internal/fetcher"
	"fund-etl-service/internal/models"

	"github.com/spf13/viper"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestCreateFetcherPrefersSourceDir(t *testing.T) {
	resetViper(t)
	viper.Set("source.dir", t.TempDir())

	f, err := CreateFetcher()
	if err != nil {
		t.Fatalf("failed to create fetcher: %v", err)
	}
	if _, ok := f.(*fetcher.DirectoryFetcher); !ok {
		t.Errorf("expected a DirectoryFetcher, got %T", f)
	}
}

func TestCreateFetcherBuildsPortalFetcher(t *testing.T) {
	resetViper(t)
	viper.Set("portal.daily_url.amrs", "https://portal.example.com/amrs/daily")
	viper.Set("portal.lookback_url.amrs", "https://portal.example.com/amrs/lookback")

	f, err := CreateFetcher()
	if err != nil {
		t.Fatalf("failed to create fetcher: %v", err)
	}
	if _, ok := f.(*fetcher.PortalFetcher); !ok {
		t.Errorf("expected a PortalFetcher, got %T", f)
	}
}

func TestCreateFetcherRequiresConfiguration(t *testing.T) {
	resetViper(t)

	if _, err := CreateFetcher(); err == nil {
		t.Error("expected error when neither source.dir nor portal URLs are set")
	}
}

func TestCreateReconcilerConfigDefaults(t *testing.T) {
	resetViper(t)

	config, err := CreateReconcilerConfig("")
	if err != nil {
		t.Fatalf("failed to create reconciler config: %v", err)
	}

	if config.ThresholdPercent != DefaultThresholdPct {
		t.Errorf("expected threshold %v, got %v", DefaultThresholdPct, config.ThresholdPercent)
	}
	if config.UpdateMode != models.UpdateModeSelective {
		t.Errorf("expected selective mode, got %s", config.UpdateMode)
	}
	if len(config.MonitoredFields) == 0 {
		t.Error("expected default monitored fields to be set")
	}
}

func TestCreateReconcilerConfigOverrides(t *testing.T) {
	resetViper(t)
	viper.Set("reconcile.monitored_fields", []string{"portfolio_assets"})
	viper.Set("reconcile.threshold_percent", 2.5)
	viper.Set("reconcile.update_mode", "full")

	config, err := CreateReconcilerConfig("")
	if err != nil {
		t.Fatalf("failed to create reconciler config: %v", err)
	}

	if len(config.MonitoredFields) != 1 || config.MonitoredFields[0] != "portfolio_assets" {
		t.Errorf("expected configured monitored fields, got %v", config.MonitoredFields)
	}
	if config.ThresholdPercent != 2.5 {
		t.Errorf("expected threshold 2.5, got %v", config.ThresholdPercent)
	}
	if config.UpdateMode != models.UpdateModeFull {
		t.Errorf("expected full mode, got %s", config.UpdateMode)
	}
}

func TestCreateReconcilerConfigFlagWinsOverFile(t *testing.T) {
	resetViper(t)
	viper.Set("reconcile.update_mode", "full")

	config, err := CreateReconcilerConfig("selective")
	if err != nil {
		t.Fatalf("failed to create reconciler config: %v", err)
	}
	if config.UpdateMode != models.UpdateModeSelective {
		t.Errorf("expected flag value to win, got %s", config.UpdateMode)
	}
}

func TestCreateReconcilerConfigRejectsBadMode(t *testing.T) {
	resetViper(t)

	if _, err := CreateReconcilerConfig("partial"); err == nil {
		t.Error("expected error for unknown update mode")
	}
}

func TestCreateSchedulerConfig(t *testing.T) {
	resetViper(t)
	viper.Set("schedule.cron", "30 5 * * *")
	viper.Set("schedule.retries", 5)
	viper.Set("schedule.retry_backoff", "1m")
	viper.Set("schedule.backfill_days", 14)
	viper.Set("schedule.update_on_validate", false)

	config := CreateSchedulerConfig()

	if config.CronSpec != "30 5 * * *" {
		t.Errorf("expected configured cron spec, got %s", config.CronSpec)
	}
	if config.Retries != 5 {
		t.Errorf("expected 5 retries, got %d", config.Retries)
	}
	if config.RetryBackoff != time.Minute {
		t.Errorf("expected 1m backoff, got %s", config.RetryBackoff)
	}
	if config.BackfillDays != 14 {
		t.Errorf("expected 14 backfill days, got %d", config.BackfillDays)
	}
	if config.UpdateOnValidate {
		t.Error("expected update_on_validate override to false")
	}
}

func TestCreateServerConfig(t *testing.T) {
	resetViper(t)
	viper.Set("server.addr", ":9000")
	viper.Set("server.workflow_retention", "48h")

	config := CreateServerConfig("")
	if config.Addr != ":9000" {
		t.Errorf("expected configured addr, got %s", config.Addr)
	}
	if config.WorkflowRetention != 48*time.Hour {
		t.Errorf("expected 48h retention, got %s", config.WorkflowRetention)
	}

	// An explicit flag value wins over the file.
	config = CreateServerConfig(":7070")
	if config.Addr != ":7070" {
		t.Errorf("expected flag addr to win, got %s", config.Addr)
	}
}

func TestParseDate(t *testing.T) {
	date, err := ParseDate("2024-01-10")
	if err != nil {
		t.Fatalf("failed to parse date: %v", err)
	}
	if date.Year() != 2024 || date.Month() != time.January || date.Day() != 10 {
		t.Errorf("unexpected parsed date: %s", date)
	}

	if _, err := ParseDate("Jan 10 2024"); err == nil {
		t.Error("expected error for unsupported date format")
	}
}
