// Package models defines the canonical data shapes shared by the ETL and
// reconciliation engine: the canonical fund record, raw source rows, change
// descriptors, reconciliation plans and run summaries.
package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Region identifies a source region for fund data
type Region string

const (
	RegionAMRS Region = "AMRS"
	RegionEMEA Region = "EMEA"
)

// AllRegions lists the regions processed on every run, in run order.
var AllRegions = []Region{RegionAMRS, RegionEMEA}

// String returns the string representation of Region
func (r Region) String() string {
	return string(r)
}

// IsValid checks if the region is one of the supported regions
func (r Region) IsValid() bool {
	return r == RegionAMRS || r == RegionEMEA
}

// ParseRegion parses and validates a region from string
func ParseRegion(s string) (Region, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "AMRS":
		return RegionAMRS, nil
	case "EMEA":
		return RegionEMEA, nil
	default:
		return "", fmt.Errorf("invalid region '%s': must be AMRS or EMEA", s)
	}
}

// DateFormat is the canonical date layout used for keys and summaries.
const DateFormat = "2006-01-02"

// DateOnly truncates a timestamp to its calendar date in UTC. Record
// identity compares dates at day precision only.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FundRecord is the canonical representation of one fund's data for one
// region and date. Primary key: (Date, Region, FundCode). Numeric fields are
// either a finite value or nil; string sentinels from the source never
// survive normalization.
type FundRecord struct {
	Date     time.Time `json:"date"`
	Region   Region    `json:"region"`
	FundCode string    `json:"fund_code"`

	FundName            string `json:"fund_name"`
	MasterClassFundName string `json:"master_class_fund_name"`
	Rating              string `json:"rating"`
	UniqueIdentifier    string `json:"unique_identifier"`
	NASDAQ              string `json:"nasdaq"`
	FundComplex         string `json:"fund_complex"`
	Subcategory         string `json:"subcategory"`
	Domicile            string `json:"domicile"`
	Currency            string `json:"currency"`

	ShareClassAssets   *float64 `json:"share_class_assets"`
	PortfolioAssets    *float64 `json:"portfolio_assets"`
	OneDayYield        *float64 `json:"one_day_yield"`
	OneDayGrossYield   *float64 `json:"one_day_gross_yield"`
	SevenDayYield      *float64 `json:"seven_day_yield"`
	SevenDayGrossYield *float64 `json:"seven_day_gross_yield"`
	ExpenseRatio       *float64 `json:"expense_ratio"`
	WAM                *float64 `json:"wam"`
	WAL                *float64 `json:"wal"`
	DailyLiquidity     *float64 `json:"daily_liquidity"`
	WeeklyLiquidity    *float64 `json:"weekly_liquidity"`

	// NAV columns carry non-numeric markers in the source and stay textual.
	TransactionalNAV string `json:"transactional_nav"`
	MarketNAV        string `json:"market_nav"`

	Fees  string `json:"fees"`
	Gates string `json:"gates"`

	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Key returns the primary-key tuple formatted for map lookups and logs.
func (r *FundRecord) Key() string {
	return fmt.Sprintf("%s|%s|%s", r.Date.Format(DateFormat), r.Region, r.FundCode)
}

// Validate performs basic identity validation on the record
func (r *FundRecord) Validate() error {
	if r.Date.IsZero() {
		return fmt.Errorf("record date cannot be zero")
	}
	if !r.Region.IsValid() {
		return fmt.Errorf("invalid region: %s", r.Region)
	}
	if strings.TrimSpace(r.FundCode) == "" {
		return fmt.Errorf("fund code cannot be empty")
	}
	return nil
}

// Clone returns a deep copy of the record. Numeric pointers are re-allocated
// so mutating the copy never aliases the original.
func (r *FundRecord) Clone() *FundRecord {
	clone := *r
	for _, name := range NumericFieldNames() {
		if v, ok := r.NumericField(name); ok && v != nil {
			value := *v
			clone.SetNumericField(name, &value)
		}
	}
	return &clone
}

// WithDate returns a copy of the record rewritten to the given date. Used by
// the weekend expansion rule.
func (r *FundRecord) WithDate(date time.Time) *FundRecord {
	clone := r.Clone()
	clone.Date = DateOnly(date)
	return clone
}

// String returns a short representation for logs
func (r *FundRecord) String() string {
	return fmt.Sprintf("FundRecord{%s %s %s %q}", r.Date.Format(DateFormat), r.Region, r.FundCode, r.FundName)
}

// RawRow is one row of a source dataset before normalization. Fields is
// keyed by the source column header; numeric values may be strings with
// thousands separators or placeholder tokens.
type RawRow struct {
	Line   int               `json:"line"`
	Fields map[string]string `json:"fields"`
}

// RawDataset is the tabular output of an acquisition, still untyped.
type RawDataset struct {
	Region Region   `json:"region"`
	Source string   `json:"source"`
	Rows   []RawRow `json:"rows"`
}

// ChangeKind classifies the outcome of comparing one stored record against
// its reference counterpart.
type ChangeKind string

const (
	ChangeUnchanged    ChangeKind = "unchanged"
	ChangeValueChange  ChangeKind = "value_change"
	ChangeNullMismatch ChangeKind = "null_mismatch"
	ChangeNewRecord    ChangeKind = "new_record"
)

// FieldChange records one monitored field that differed between the store
// and the reference dataset. PercentChange is nil for null transitions,
// where percentage math is undefined.
type FieldChange struct {
	Field          string   `json:"field"`
	StoredValue    *float64 `json:"stored_value"`
	ReferenceValue *float64 `json:"reference_value"`
	PercentChange  *float64 `json:"percent_change,omitempty"`
	NullMismatch   bool     `json:"null_mismatch,omitempty"`
}

// ChangeDescriptor is the classification result for one (date, fund_code)
// pair. Only actionable descriptors (kind != unchanged) are kept in plans.
type ChangeDescriptor struct {
	FundCode      string        `json:"fund_code"`
	Date          time.Time     `json:"date"`
	Kind          ChangeKind    `json:"type"`
	ChangedFields []FieldChange `json:"changes,omitempty"`
}

// UpdateMode selects the apply strategy
type UpdateMode string

const (
	UpdateModeSelective UpdateMode = "selective"
	UpdateModeFull      UpdateMode = "full"
)

// IsValid checks if the update mode is supported
func (m UpdateMode) IsValid() bool {
	return m == UpdateModeSelective || m == UpdateModeFull
}

// ParseUpdateMode parses an update mode from string
func ParseUpdateMode(s string) (UpdateMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "selective", "":
		return UpdateModeSelective, nil
	case "full":
		return UpdateModeFull, nil
	default:
		return "", fmt.Errorf("invalid update mode '%s': must be selective or full", s)
	}
}

// ReconciliationPlan aggregates per-date, per-record classifications for one
// region run. Invariant: every date present in the reference dataset appears
// either in MissingDates or was classified record-by-record; no date is
// silently dropped.
type ReconciliationPlan struct {
	Region                Region              `json:"region"`
	MissingDates          []time.Time         `json:"missing_dates"`
	ChangedRecords        []*ChangeDescriptor `json:"changed_records"`
	ComparedDates         []time.Time         `json:"compared_dates"`
	TotalReferenceRecords int                 `json:"total_reference_records"`
}

// MissingDatesCount returns the number of wholly missing dates
func (p *ReconciliationPlan) MissingDatesCount() int {
	return len(p.MissingDates)
}

// ChangedRecordsCount returns the number of per-record changes
func (p *ReconciliationPlan) ChangedRecordsCount() int {
	return len(p.ChangedRecords)
}

// RequiresUpdate reports whether applying the plan would write anything
func (p *ReconciliationPlan) RequiresUpdate() bool {
	return len(p.MissingDates) > 0 || len(p.ChangedRecords) > 0
}

// AffectedDates returns the distinct dates touched by the plan (missing
// dates plus dates of changed records), sorted ascending.
func (p *ReconciliationPlan) AffectedDates() []time.Time {
	seen := make(map[time.Time]bool)
	for _, d := range p.MissingDates {
		seen[DateOnly(d)] = true
	}
	for _, c := range p.ChangedRecords {
		seen[DateOnly(c.Date)] = true
	}

	dates := make([]time.Time, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// ValidationSummary is the structured result of one region's lookback
// validation, consumed by the orchestration layer for alerting.
type ValidationSummary struct {
	Region               Region   `json:"region"`
	TotalLookbackRecords int      `json:"total_lookback_records"`
	MissingDates         []string `json:"missing_dates"`
	MissingDatesCount    int      `json:"missing_dates_count"`
	ChangedRecordsCount  int      `json:"changed_records_count"`
	DroppedRows          int      `json:"dropped_rows"`
	RequiresUpdate       bool     `json:"requires_update"`
}

// ApplyResult reports the writes performed by one Apply call
type ApplyResult struct {
	Region          Region     `json:"region"`
	Mode            UpdateMode `json:"mode"`
	RecordsUpdated  int        `json:"records_updated"`
	RecordsInserted int        `json:"records_inserted"`
	RecordsReplaced int        `json:"records_replaced"`
}

// RegionOutcome is one region's slice of a reconciliation run: the summary
// is always present, Apply is set when an update was executed, and Err is
// set when the region's run failed (other regions are unaffected).
type RegionOutcome struct {
	Region  Region             `json:"region"`
	Summary *ValidationSummary `json:"summary,omitempty"`
	Apply   *ApplyResult       `json:"apply,omitempty"`
	Err     string             `json:"error,omitempty"`
}

// RunSummary is the top-level result of a multi-region reconciliation run.
// It is returned even on partial failure.
type RunSummary struct {
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt time.Time                 `json:"finished_at"`
	Regions    map[Region]*RegionOutcome `json:"regions"`
}

// Failed reports whether any region's run failed
func (s *RunSummary) Failed() bool {
	for _, outcome := range s.Regions {
		if outcome.Err != "" {
			return true
		}
	}
	return false
}
