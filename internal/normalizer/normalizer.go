// Package normalizer maps raw tabular rows onto canonical fund records.
//
// It owns the only copy of the human-label to snake-case column mapping
// (through the models field registry) and resolves the source's placeholder
// tokens: missing-value markers become nulls for numeric fields and empty
// strings for text fields, and colliding placeholder fund codes are assigned
// stable suffixed keys before any downstream deduplication check.
package normalizer

import (
	"fmt"
	"strings"
	"time"

	"fund-etl-service/internal/models"
	"fund-etl-service/pkg/errors"
	"fund-etl-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// PlaceholderFundCode is the duplicate-key sentinel emitted by the source
// when a fund code cannot be resolved to a single value.
const PlaceholderFundCode = "#MULTIVALUE"

// dateFormats lists the date layouts seen in source files. Both zero-padded
// and unpadded month/day forms occur.
var dateFormats = []string{
	"2006-01-02",
	"1/2/2006",
	"01/02/2006",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
}

// Config holds normalization options for one region's dataset
type Config struct {
	Region models.Region

	// NullTokens map to null for numeric fields, case-insensitively.
	NullTokens []string

	// RequiredFields are identity fields whose absence excludes the row.
	RequiredFields []string
}

// DefaultConfig returns the normalization configuration used in production
func DefaultConfig(region models.Region) *Config {
	return &Config{
		Region:         region,
		NullTokens:     []string{"-", "", "N/A", "nan"},
		RequiredFields: []string{"date", "fund_code"},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if !c.Region.IsValid() {
		return fmt.Errorf("invalid region: %s", c.Region)
	}
	return nil
}

// RejectedRow records one excluded source row and why it was excluded.
// Rejections are counted and returned, never raised: a bad row must not
// abort the run, and must not disappear silently either.
type RejectedRow struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// Result is the outcome of normalizing one dataset
type Result struct {
	Records  []*models.FundRecord `json:"records"`
	Rejected []RejectedRow        `json:"rejected"`
}

// Normalizer converts raw datasets into canonical records
type Normalizer struct {
	config     *Config
	nullTokens map[string]bool
	logger     logger.Logger
}

// New creates a Normalizer with the given configuration
func New(config *Config) (*Normalizer, error) {
	if config == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "normalizer_config", nil, nil)
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "normalizer_config", config, err)
	}

	nullTokens := make(map[string]bool, len(config.NullTokens))
	for _, token := range config.NullTokens {
		nullTokens[strings.ToLower(token)] = true
	}

	return &Normalizer{
		config:     config,
		nullTokens: nullTokens,
		logger:     logger.GetGlobalLogger().WithComponent("normalizer").WithField("region", config.Region),
	}, nil
}

// NormalizeDataset converts every row of a raw dataset into canonical
// records. Rows that cannot be coerced are excluded and reported in the
// result. targetDate supplies the record date when the source row carries
// none; a zero targetDate makes the date column mandatory.
func (n *Normalizer) NormalizeDataset(dataset *models.RawDataset, targetDate time.Time) (*Result, error) {
	if dataset == nil {
		return nil, errors.ValidationError(errors.CodeEmptyDataset, "dataset", nil, nil)
	}

	result := &Result{}
	var lines []int
	for _, row := range dataset.Rows {
		record, err := n.NormalizeRow(row, targetDate)
		if err != nil {
			result.Rejected = append(result.Rejected, RejectedRow{Line: row.Line, Reason: err.Error()})
			n.logger.WithFields(logger.Fields{"line": row.Line}).WithError(err).Warn("Excluding row")
			continue
		}
		result.Records = append(result.Records, record)
		lines = append(lines, row.Line)
	}

	n.disambiguatePlaceholders(result)
	n.rejectDuplicateKeys(result, lines)

	n.logger.WithFields(logger.Fields{
		"rows":     len(dataset.Rows),
		"records":  len(result.Records),
		"rejected": len(result.Rejected),
	}).Info("Normalized dataset")

	return result, nil
}

// NormalizeRow converts one raw row into a canonical record. Placeholder
// fund codes are left as-is here; NormalizeDataset disambiguates them across
// the whole dataset.
func (n *Normalizer) NormalizeRow(row models.RawRow, targetDate time.Time) (*models.FundRecord, error) {
	record := &models.FundRecord{Region: n.config.Region}

	var sawDate bool
	for label, raw := range row.Fields {
		spec, ok := models.FieldByLabel(label)
		if !ok {
			// Canonical names are accepted alongside source labels so
			// reference datasets already in store shape normalize too.
			spec, ok = models.FieldByName(strings.TrimSpace(label))
		}
		if !ok {
			continue // unknown columns are ignored, not errors
		}

		value := strings.TrimSpace(raw)
		switch spec.Name {
		case "date":
			if value == "" {
				continue
			}
			parsed, err := parseDate(value)
			if err != nil {
				return nil, errors.ParseError(errors.CodeInvalidDate, "row", row.Line, spec.Name, value, err)
			}
			record.Date = parsed
			sawDate = true
		default:
			if spec.Kind == models.FieldNumeric {
				number, err := n.parseNumeric(value)
				if err != nil {
					return nil, errors.ParseError(errors.CodeInvalidNumeric, "row", row.Line, spec.Name, value, err)
				}
				record.SetNumericField(spec.Name, number)
			} else {
				record.SetTextField(spec.Name, value)
			}
		}
	}

	if !sawDate && !targetDate.IsZero() {
		record.Date = models.DateOnly(targetDate)
	}

	for _, required := range n.config.RequiredFields {
		switch required {
		case "date":
			if record.Date.IsZero() {
				return nil, errors.ValidationError(errors.CodeMissingField, "date", nil, nil)
			}
		default:
			if value, ok := record.TextField(required); ok && value == "" {
				return nil, errors.ValidationError(errors.CodeMissingField, required, nil, nil)
			}
		}
	}

	return record, nil
}

// parseNumeric coerces a numeric cell to float-or-null. Thousands
// separators are stripped; the configured null tokens map to nil; anything
// else non-numeric is a parse failure.
func (n *Normalizer) parseNumeric(value string) (*float64, error) {
	if n.nullTokens[strings.ToLower(value)] {
		return nil, nil
	}

	cleaned := strings.ReplaceAll(value, ",", "")
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("cannot coerce '%s' to a number: %w", value, err)
	}

	f := d.InexactFloat64()
	return &f, nil
}

func parseDate(value string) (time.Time, error) {
	var lastErr error
	for _, format := range dateFormats {
		if t, err := time.Parse(format, value); err == nil {
			return models.DateOnly(t), nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date '%s': %w", value, lastErr)
}

// disambiguatePlaceholders rewrites colliding placeholder fund codes to
// distinct suffixed codes (#MULTIVALUE_1, #MULTIVALUE_2, ...) in stable row
// order, per date partition. This runs before any duplicate-key check so
// legitimate multi-row placeholder entries are neither misclassified as
// data-quality duplicates nor silently dropped.
func (n *Normalizer) disambiguatePlaceholders(result *Result) {
	counts := make(map[time.Time]int)
	for _, record := range result.Records {
		if record.FundCode != PlaceholderFundCode {
			continue
		}
		counts[record.Date]++
		record.FundCode = fmt.Sprintf("%s_%d", PlaceholderFundCode, counts[record.Date])
	}

	for date, count := range counts {
		n.logger.WithFields(logger.Fields{
			"date":  date.Format(models.DateFormat),
			"count": count,
		}).Warn("Assigned unique identifiers to placeholder fund codes")
	}
}

// rejectDuplicateKeys excludes rows whose (date, fund_code) key collides
// with an earlier row in the same dataset. Placeholder codes were already
// made unique, so any collision left is a data-quality duplicate; loading
// it would hit the primary key and abort the whole run instead of dropping
// one row. The first occurrence wins, matching row order.
func (n *Normalizer) rejectDuplicateKeys(result *Result, lines []int) {
	seen := make(map[string]bool, len(result.Records))
	kept := result.Records[:0]
	for i, record := range result.Records {
		key := record.Key()
		if seen[key] {
			result.Rejected = append(result.Rejected, RejectedRow{
				Line: lines[i],
				Reason: fmt.Sprintf("duplicate fund code '%s' for %s",
					record.FundCode, record.Date.Format(models.DateFormat)),
			})
			n.logger.WithFields(logger.Fields{
				"line":      lines[i],
				"fund_code": record.FundCode,
				"date":      record.Date.Format(models.DateFormat),
			}).Warn("Excluding duplicate row")
			continue
		}
		seen[key] = true
		kept = append(kept, record)
	}
	result.Records = kept
}
