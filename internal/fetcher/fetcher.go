// Package fetcher acquires source fund data files.
//
// The production implementation drives a headless browser against the vendor
// portal, which has no direct-download API; a directory-based implementation
// serves air-gapped and test setups where files are dropped in place by
// other means.
package fetcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fund-etl-service/internal/models"
	"fund-etl-service/pkg/errors"
	"fund-etl-service/pkg/logger"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
)

// Fetcher acquires the daily file or the lookback file for one region.
type Fetcher interface {
	// FetchDaily acquires the single-day file for the given data date.
	FetchDaily(ctx context.Context, region models.Region, date time.Time) (*models.RawDataset, error)

	// FetchLookback acquires the rolling lookback file covering the
	// vendor's revision window.
	FetchLookback(ctx context.Context, region models.Region) (*models.RawDataset, error)
}

// PortalConfig configures the headless-browser portal fetcher
type PortalConfig struct {
	// DailyURLs and LookbackURLs map each region to its report page.
	DailyURLs    map[models.Region]string
	LookbackURLs map[models.Region]string

	// DownloadDir receives the browser's downloads.
	DownloadDir string

	// DownloadTimeout bounds one navigation plus download.
	DownloadTimeout time.Duration

	// Headless disables the visible browser window. Always true outside
	// local debugging.
	Headless bool
}

// DefaultPortalConfig returns the portal configuration defaults
func DefaultPortalConfig() *PortalConfig {
	return &PortalConfig{
		DailyURLs:       map[models.Region]string{},
		LookbackURLs:    map[models.Region]string{},
		DownloadDir:     os.TempDir(),
		DownloadTimeout: 3 * time.Minute,
		Headless:        true,
	}
}

// PortalFetcher downloads report files through a headless browser
type PortalFetcher struct {
	config *PortalConfig
	logger logger.Logger
}

// NewPortalFetcher creates a PortalFetcher
func NewPortalFetcher(config *PortalConfig) (*PortalFetcher, error) {
	if config == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "portal_config", nil, nil)
	}
	if config.DownloadDir == "" {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "download_dir", nil, nil)
	}
	return &PortalFetcher{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("fetcher"),
	}, nil
}

// FetchDaily implements Fetcher
func (p *PortalFetcher) FetchDaily(ctx context.Context, region models.Region, date time.Time) (*models.RawDataset, error) {
	url, ok := p.config.DailyURLs[region]
	if !ok {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, fmt.Sprintf("daily_url.%s", region), nil, nil)
	}
	path, err := p.download(ctx, region, url, fmt.Sprintf("daily_%s_%s.xlsx", region, date.Format(models.DateFormat)))
	if err != nil {
		return nil, err
	}
	return DecodeWorkbook(path, region)
}

// FetchLookback implements Fetcher
func (p *PortalFetcher) FetchLookback(ctx context.Context, region models.Region) (*models.RawDataset, error) {
	url, ok := p.config.LookbackURLs[region]
	if !ok {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, fmt.Sprintf("lookback_url.%s", region), nil, nil)
	}
	path, err := p.download(ctx, region, url, fmt.Sprintf("lookback_%s.xlsx", region))
	if err != nil {
		return nil, err
	}
	return DecodeWorkbook(path, region)
}

// download navigates to the report page and waits for the portal's export to
// land in the download directory.
func (p *PortalFetcher) download(ctx context.Context, region models.Region, url, filename string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", p.config.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	timeoutCtx, cancelTimeout := context.WithTimeout(browserCtx, p.config.DownloadTimeout)
	defer cancelTimeout()

	target := filepath.Join(p.config.DownloadDir, filename)
	// Stale files from an earlier attempt would satisfy the wait below.
	_ = os.Remove(target)

	p.logger.WithFields(logger.Fields{"region": region, "url": url}).Info("Downloading report")

	err := chromedp.Run(timeoutCtx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(p.config.DownloadDir),
		chromedp.Navigate(url),
	)
	if err != nil {
		return "", errors.AcquisitionError(errors.CodeDownloadFailed, region.String(), err)
	}

	if err := waitForFile(timeoutCtx, target); err != nil {
		if timeoutCtx.Err() != nil {
			return "", errors.AcquisitionError(errors.CodeDownloadTimeout, region.String(), err)
		}
		return "", errors.AcquisitionError(errors.CodeFileUnavailable, region.String(), err)
	}

	return target, nil
}

// waitForFile polls until the file exists with a stable size, meaning the
// browser has finished writing it.
func waitForFile(ctx context.Context, path string) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var lastSize int64 = -1
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			if info.Size() > 0 && info.Size() == lastSize {
				return nil
			}
			lastSize = info.Size()
		}
	}
}

// DirectoryFetcher reads pre-downloaded files from a local directory. File
// naming mirrors what PortalFetcher produces.
type DirectoryFetcher struct {
	Dir string
}

// FetchDaily implements Fetcher
func (d *DirectoryFetcher) FetchDaily(_ context.Context, region models.Region, date time.Time) (*models.RawDataset, error) {
	path := filepath.Join(d.Dir, fmt.Sprintf("daily_%s_%s.xlsx", region, date.Format(models.DateFormat)))
	if _, err := os.Stat(path); err != nil {
		return nil, errors.AcquisitionError(errors.CodeFileUnavailable, region.String(), err).
			WithContext("path", path)
	}
	return DecodeWorkbook(path, region)
}

// FetchLookback implements Fetcher
func (d *DirectoryFetcher) FetchLookback(_ context.Context, region models.Region) (*models.RawDataset, error) {
	path := filepath.Join(d.Dir, fmt.Sprintf("lookback_%s.xlsx", region))
	if _, err := os.Stat(path); err != nil {
		return nil, errors.AcquisitionError(errors.CodeFileUnavailable, region.String(), err).
			WithContext("path", path)
	}
	return DecodeWorkbook(path, region)
}
