// Package comparator implements null-aware change classification between a
// stored fund record and its reference (lookback) counterpart.
package comparator

import (
	"math"

	"fund-etl-service/internal/models"
	"fund-etl-service/pkg/errors"
	"fund-etl-service/pkg/logger"
)

const (
	// DefaultThresholdPercent is the relative change above which a numeric
	// difference is flagged.
	DefaultThresholdPercent = 5.0

	// DefaultEpsilon absorbs float representation noise. Two values within
	// epsilon of each other are equal; a baseline within epsilon of zero has
	// no defined percentage change.
	DefaultEpsilon = 1e-10
)

// Config holds the comparison parameters
type Config struct {
	// MonitoredFields are the canonical numeric field names subject to
	// change detection. Names missing from the field registry are skipped.
	MonitoredFields []string

	// ThresholdPercent flags a change only when the relative difference
	// strictly exceeds it.
	ThresholdPercent float64

	// Epsilon is the float equality tolerance.
	Epsilon float64
}

// DefaultConfig returns the comparison configuration used in production
func DefaultConfig() *Config {
	return &Config{
		MonitoredFields:  models.DefaultMonitoredFields(),
		ThresholdPercent: DefaultThresholdPercent,
		Epsilon:          DefaultEpsilon,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ThresholdPercent < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "threshold_percent", c.ThresholdPercent, nil)
	}
	if c.Epsilon <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "epsilon", c.Epsilon, nil)
	}
	if len(c.MonitoredFields) == 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "monitored_fields", "empty", nil)
	}
	return nil
}

// Comparator classifies record pairs against the configured thresholds
type Comparator struct {
	config *Config
	fields []string
	logger logger.Logger
}

// New creates a Comparator with the given configuration. A nil config uses
// the production defaults.
func New(config *Config) (*Comparator, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	log := logger.GetGlobalLogger().WithComponent("comparator")

	// Resolve the monitored set once. Unknown or non-numeric names are
	// skipped rather than failing the run: the configured set may be wider
	// than the columns a given source actually publishes.
	fields := make([]string, 0, len(config.MonitoredFields))
	for _, name := range config.MonitoredFields {
		spec, ok := models.FieldByName(name)
		if !ok || spec.Kind != models.FieldNumeric {
			log.WithField("field", name).Warn("Ignoring unknown or non-numeric monitored field")
			continue
		}
		fields = append(fields, name)
	}

	return &Comparator{config: config, fields: fields, logger: log}, nil
}

// MonitoredFields returns the resolved monitored field set
func (c *Comparator) MonitoredFields() []string {
	return c.fields
}

// Classify compares a stored record against its reference counterpart and
// returns a change descriptor. A nil stored record classifies as new_record.
// A descriptor of kind unchanged carries no field changes.
//
// Per monitored field:
//   - both null: equal
//   - exactly one null: a null mismatch, flagged regardless of threshold
//   - both present and within epsilon: equal
//   - baseline within epsilon of zero: percentage undefined, always flagged
//   - otherwise flagged when |ref-stored|/|stored|*100 strictly exceeds the
//     threshold
func (c *Comparator) Classify(stored, reference *models.FundRecord) *models.ChangeDescriptor {
	descriptor := &models.ChangeDescriptor{
		FundCode: reference.FundCode,
		Date:     models.DateOnly(reference.Date),
	}

	if stored == nil {
		descriptor.Kind = models.ChangeNewRecord
		return descriptor
	}

	nullMismatch := false
	for _, field := range c.fields {
		storedValue, _ := stored.NumericField(field)
		referenceValue, _ := reference.NumericField(field)

		change, ok := c.compareField(field, storedValue, referenceValue)
		if !ok {
			continue
		}
		if change.NullMismatch {
			nullMismatch = true
		}
		descriptor.ChangedFields = append(descriptor.ChangedFields, change)
	}

	switch {
	case len(descriptor.ChangedFields) == 0:
		descriptor.Kind = models.ChangeUnchanged
	case nullMismatch:
		descriptor.Kind = models.ChangeNullMismatch
	default:
		descriptor.Kind = models.ChangeValueChange
	}
	return descriptor
}

// compareField returns the field change and whether the field differed.
func (c *Comparator) compareField(field string, stored, reference *float64) (models.FieldChange, bool) {
	change := models.FieldChange{Field: field, StoredValue: stored, ReferenceValue: reference}

	switch {
	case stored == nil && reference == nil:
		return change, false

	case stored == nil || reference == nil:
		change.NullMismatch = true
		return change, true
	}

	// Equality is strict: a difference of exactly epsilon is a difference.
	diff := math.Abs(*reference - *stored)
	if diff < c.config.Epsilon {
		return change, false
	}

	if math.Abs(*stored) <= c.config.Epsilon {
		// Zero baseline: any departure is material and the percentage is
		// undefined, so the change is flagged without one.
		return change, true
	}

	pct := diff / math.Abs(*stored) * 100
	if pct > c.config.ThresholdPercent {
		change.PercentChange = &pct
		return change, true
	}
	return change, false
}
