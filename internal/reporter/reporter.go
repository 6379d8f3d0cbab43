// Package reporter renders run results for operators: a human-readable
// console format for interactive use and JSON for piping into other tools.
package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"fund-etl-service/internal/etl"
	"fund-etl-service/internal/models"
	"fund-etl-service/pkg/errors"
)

// Format selects the output rendering
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// ParseFormat parses a format from string
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "console", "":
		return FormatConsole, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", errors.ConfigurationError(errors.CodeInvalidConfig, "output_format", s, nil)
	}
}

// Reporter writes run results to a stream
type Reporter struct {
	writer io.Writer
	format Format
}

// New creates a Reporter
func New(w io.Writer, format Format) *Reporter {
	return &Reporter{writer: w, format: format}
}

// WriteRunSummary renders a reconciliation run summary
func (r *Reporter) WriteRunSummary(summary *models.RunSummary) error {
	if r.format == FormatJSON {
		return r.writeJSON(summary)
	}

	fmt.Fprintf(r.writer, "Reconciliation run %s\n", summary.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintln(r.writer, strings.Repeat("=", 50))

	for _, region := range models.AllRegions {
		outcome, ok := summary.Regions[region]
		if !ok {
			continue
		}

		fmt.Fprintf(r.writer, "\nRegion: %s\n", region)
		if outcome.Err != "" {
			fmt.Fprintf(r.writer, "  FAILED: %s\n", outcome.Err)
			continue
		}
		r.writeValidationSummary(outcome.Summary)
		if outcome.Apply != nil {
			fmt.Fprintf(r.writer, "  Applied (%s): %d updated, %d inserted, %d replaced\n",
				outcome.Apply.Mode, outcome.Apply.RecordsUpdated,
				outcome.Apply.RecordsInserted, outcome.Apply.RecordsReplaced)
		}
	}

	fmt.Fprintln(r.writer)
	if summary.Failed() {
		fmt.Fprintln(r.writer, "Result: FAILED")
	} else {
		fmt.Fprintln(r.writer, "Result: OK")
	}
	return nil
}

func (r *Reporter) writeValidationSummary(summary *models.ValidationSummary) {
	if summary == nil {
		return
	}
	fmt.Fprintf(r.writer, "  Total lookback records: %d\n", summary.TotalLookbackRecords)
	fmt.Fprintf(r.writer, "  Missing dates: %d\n", summary.MissingDatesCount)
	for _, date := range summary.MissingDates {
		fmt.Fprintf(r.writer, "    - %s\n", date)
	}
	fmt.Fprintf(r.writer, "  Changed records: %d\n", summary.ChangedRecordsCount)
	if summary.DroppedRows > 0 {
		fmt.Fprintf(r.writer, "  Dropped rows: %d\n", summary.DroppedRows)
	}
	fmt.Fprintf(r.writer, "  Requires update: %t\n", summary.RequiresUpdate)
}

// WritePlan renders the per-record detail of a reconciliation plan. Used by
// the validate command's verbose mode.
func (r *Reporter) WritePlan(plan *models.ReconciliationPlan) error {
	if r.format == FormatJSON {
		return r.writeJSON(plan)
	}

	if len(plan.ChangedRecords) == 0 {
		fmt.Fprintln(r.writer, "No record-level changes.")
		return nil
	}

	fmt.Fprintf(r.writer, "Changed records (%s):\n", plan.Region)
	for _, change := range plan.ChangedRecords {
		fmt.Fprintf(r.writer, "  %s %s [%s]\n",
			change.Date.Format(models.DateFormat), change.FundCode, change.Kind)
		for _, fc := range change.ChangedFields {
			fmt.Fprintf(r.writer, "    %s: %s -> %s%s\n",
				fc.Field, formatValue(fc.StoredValue), formatValue(fc.ReferenceValue),
				formatPercent(fc.PercentChange))
		}
	}
	return nil
}

// WriteETLReport renders a daily load report
func (r *Reporter) WriteETLReport(report *etl.RunReport) error {
	if r.format == FormatJSON {
		return r.writeJSON(report)
	}

	fmt.Fprintf(r.writer, "Daily load for %s (run %s)\n",
		report.DataDate.Format(models.DateFormat), report.RunDate.Format(models.DateFormat))

	for _, region := range models.AllRegions {
		outcome, ok := report.Regions[region]
		if !ok {
			continue
		}
		switch outcome.Status {
		case etl.StatusSuccess:
			fmt.Fprintf(r.writer, "  %s: %d records loaded", region, outcome.Records)
			if outcome.DroppedRows > 0 {
				fmt.Fprintf(r.writer, " (%d rows dropped)", outcome.DroppedRows)
			}
			fmt.Fprintln(r.writer)
		case etl.StatusCarriedForward:
			fmt.Fprintf(r.writer, "  %s: carried forward %d records from %s\n",
				region, outcome.Records, outcome.CarriedFrom)
		default:
			fmt.Fprintf(r.writer, "  %s: FAILED: %s\n", region, outcome.Err)
		}
	}
	return nil
}

func (r *Reporter) writeJSON(v interface{}) error {
	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func formatValue(v *float64) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%g", *v)
}

func formatPercent(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf(" (%.2f%%)", *v)
}
