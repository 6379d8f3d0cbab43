// Package errors defines the categorized error type used across the ETL
// service. Errors carry a category, a stable machine-readable code, optional
// context and a suggestion for the operator, so that CLI and API layers can
// render them uniformly and map them to exit codes.
package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryAcquisition    ErrorCategory = "acquisition"
	CategoryParse          ErrorCategory = "parse"
	CategoryValidation     ErrorCategory = "validation"
	CategoryConfiguration  ErrorCategory = "configuration"
	CategoryStore          ErrorCategory = "store"
	CategoryReconciliation ErrorCategory = "reconciliation"
	CategoryInternal       ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// Acquisition errors
	CodeDownloadFailed   ErrorCode = "download_failed"
	CodeDownloadTimeout  ErrorCode = "download_timeout"
	CodeFileUnavailable  ErrorCode = "file_unavailable"
	CodePortalLoginError ErrorCode = "portal_login_error"

	// Parse errors
	CodeWorkbookCorrupted ErrorCode = "workbook_corrupted"
	CodeMissingColumn     ErrorCode = "missing_column"
	CodeInvalidNumeric    ErrorCode = "invalid_numeric"
	CodeInvalidDate       ErrorCode = "invalid_date"

	// Validation errors
	CodeMissingField     ErrorCode = "missing_field"
	CodeEmptyDataset     ErrorCode = "empty_dataset"
	CodeDuplicateKey     ErrorCode = "duplicate_key"
	CodeRegionMismatch   ErrorCode = "region_mismatch"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Store errors
	CodeStoreUnavailable    ErrorCode = "store_unavailable"
	CodeConstraintViolation ErrorCode = "constraint_violation"
	CodeTransactionFailed   ErrorCode = "transaction_failed"

	// Reconciliation errors
	CodePlanningFailed ErrorCode = "planning_failed"
	CodeApplyFailed    ErrorCode = "apply_failed"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// ETLError is the base error type for all application errors
type ETLError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *ETLError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *ETLError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns an appropriate exit code for the error
func (e *ETLError) GetExitCode() int {
	switch e.Category {
	case CategoryStore:
		return 2
	case CategoryParse, CategoryValidation:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryReconciliation, CategoryInternal:
		return 5
	case CategoryAcquisition:
		return 6
	default:
		return 1
	}
}

// WithContext adds context information to the error
func (e *ETLError) WithContext(key string, value interface{}) *ETLError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *ETLError) WithSuggestion(suggestion string) *ETLError {
	e.Suggestion = suggestion
	return e
}

// New creates a new ETLError
func New(category ErrorCategory, code ErrorCode, message string) *ETLError {
	return &ETLError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with ETLError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ETLError {
	if err == nil {
		return nil
	}

	return &ETLError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// stackTracer interface for extracting stack traces
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// Specific error constructors

// AcquisitionError creates an acquisition-related error. Acquisition failures
// are never retried inside the engine; the scheduler owns retry policy.
func AcquisitionError(code ErrorCode, region string, err error) *ETLError {
	var message string
	var suggestion string

	switch code {
	case CodeDownloadFailed:
		message = fmt.Sprintf("download failed for region %s", region)
		suggestion = "check portal availability and credentials"
	case CodeDownloadTimeout:
		message = fmt.Sprintf("download timed out for region %s", region)
		suggestion = "increase download_timeout or check network speed"
	case CodeFileUnavailable:
		message = fmt.Sprintf("no file available for region %s", region)
		suggestion = "the source file may not be published yet; data will be carried forward"
	case CodePortalLoginError:
		message = fmt.Sprintf("portal login failed for region %s", region)
		suggestion = "verify the configured portal username and password"
	default:
		message = fmt.Sprintf("acquisition error for region %s", region)
		suggestion = "check portal connectivity and try again"
	}

	result := wrapOrNew(err, CategoryAcquisition, code, message)
	return result.
		WithSuggestion(suggestion).
		WithContext("region", region)
}

// ParseError creates a parsing-related error for a specific cell or row
func ParseError(code ErrorCode, source string, row int, field string, value string, err error) *ETLError {
	var message string
	var suggestion string

	switch code {
	case CodeWorkbookCorrupted:
		message = fmt.Sprintf("workbook appears to be corrupted: %s", source)
		suggestion = "re-download the file or verify it opens in a spreadsheet application"
	case CodeMissingColumn:
		message = fmt.Sprintf("missing required column '%s' in %s", field, source)
		suggestion = "verify the source file has all expected column headers"
	case CodeInvalidNumeric:
		message = fmt.Sprintf("invalid numeric value in %s at row %d, field '%s': '%s'", source, row, field, value)
		suggestion = "non-numeric values other than '-', '', 'N/A' and 'nan' cannot be coerced"
	case CodeInvalidDate:
		message = fmt.Sprintf("invalid date in %s at row %d: '%s'", source, row, value)
		suggestion = "dates must parse as M/D/YYYY or YYYY-MM-DD"
	default:
		message = fmt.Sprintf("parse error in %s at row %d", source, row)
		suggestion = "check the file format and data integrity"
	}

	result := wrapOrNew(err, CategoryParse, code, message)
	return result.
		WithSuggestion(suggestion).
		WithContext("source", source).
		WithContext("row", row).
		WithContext("field", field).
		WithContext("value", value)
}

// ValidationError creates a validation-related error
func ValidationError(code ErrorCode, field string, value interface{}, err error) *ETLError {
	var message string
	var suggestion string

	switch code {
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "rows without identity fields are excluded from loading"
	case CodeEmptyDataset:
		message = "dataset contains no rows"
		suggestion = "verify the downloaded file is the expected report"
	case CodeDuplicateKey:
		message = fmt.Sprintf("duplicate primary key for '%s': %v", field, value)
		suggestion = "duplicate fund codes other than the placeholder are a data-quality issue in the source"
	case CodeRegionMismatch:
		message = fmt.Sprintf("unexpected region in field '%s': %v", field, value)
		suggestion = "region must be AMRS or EMEA"
	default:
		message = fmt.Sprintf("validation error in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	result := wrapOrNew(err, CategoryValidation, code, message)
	return result.
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *ETLError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this setting via flag, environment or config file"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	result := wrapOrNew(err, CategoryConfiguration, code, message)
	return result.
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// StoreError creates a store-related error
func StoreError(code ErrorCode, operation string, err error) *ETLError {
	var message string
	var suggestion string

	switch code {
	case CodeStoreUnavailable:
		message = fmt.Sprintf("store unavailable during %s", operation)
		suggestion = "check the database path exists and is writable"
	case CodeConstraintViolation:
		message = fmt.Sprintf("constraint violation during %s", operation)
		suggestion = "a row with the same (date, region, fund_code) already exists"
	case CodeTransactionFailed:
		message = fmt.Sprintf("transaction failed during %s", operation)
		suggestion = "the run was rolled back; no partial writes persist"
	default:
		message = fmt.Sprintf("store error during %s", operation)
		suggestion = "check database integrity and retry the run"
	}

	result := wrapOrNew(err, CategoryStore, code, message)
	return result.
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

// ReconciliationError creates a reconciliation-related error
func ReconciliationError(code ErrorCode, operation string, err error) *ETLError {
	var message string
	var suggestion string

	switch code {
	case CodePlanningFailed:
		message = fmt.Sprintf("plan building failed during %s", operation)
		suggestion = "verify the store is reachable and the reference dataset parsed cleanly"
	case CodeApplyFailed:
		message = fmt.Sprintf("apply failed during %s", operation)
		suggestion = "the transaction was rolled back; rerun after resolving the cause"
	default:
		message = fmt.Sprintf("reconciliation error during %s", operation)
		suggestion = "review the data and configuration"
	}

	result := wrapOrNew(err, CategoryReconciliation, code, message)
	return result.
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *ETLError {
	message := fmt.Sprintf("unexpected error during %s", operation)
	suggestion := "this is likely a bug - please report it with the error details"

	result := wrapOrNew(err, CategoryInternal, code, message)
	return result.
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

func wrapOrNew(err error, category ErrorCategory, code ErrorCode, message string) *ETLError {
	if err != nil {
		return Wrap(err, category, code, message)
	}
	return New(category, code, message)
}

// ErrorSummary provides a summary of multiple errors, used for dropped-row
// accounting: every excluded row must be attributable, not merely logged.
type ErrorSummary struct {
	Total        int                   `json:"total"`
	ByCategory   map[ErrorCategory]int `json:"by_category"`
	ByCode       map[ErrorCode]int     `json:"by_code"`
	Errors       []*ETLError           `json:"errors"`
	SampleErrors []*ETLError           `json:"sample_errors,omitempty"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*ETLError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	if len(errs) == 0 {
		summary.Errors = []*ETLError{}
		return summary
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	maxSamples := 5
	if len(errs) > maxSamples {
		summary.SampleErrors = errs[:maxSamples]
	} else {
		summary.SampleErrors = errs
	}

	return summary
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}

	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	var categories []string
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// HasCategory checks if the summary contains errors of the given category
func (es *ErrorSummary) HasCategory(category ErrorCategory) bool {
	count, exists := es.ByCategory[category]
	return exists && count > 0
}

// GetExitCode returns the highest priority exit code from all errors
func (es *ErrorSummary) GetExitCode() int {
	if es.Total == 0 {
		return 0
	}

	maxCode := 1
	for _, err := range es.Errors {
		if code := err.GetExitCode(); code > maxCode {
			maxCode = code
		}
	}

	return maxCode
}

// IsETLError checks if an error is an ETLError
func IsETLError(err error) bool {
	_, ok := err.(*ETLError)
	return ok
}

// AsETLError extracts an ETLError from an error chain
func AsETLError(err error) (*ETLError, bool) {
	var etlErr *ETLError
	if errors.As(err, &etlErr) {
		return etlErr, true
	}
	return nil, false
}

// WrapIfNeeded wraps an error if it's not already an ETLError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *ETLError {
	if err == nil {
		return nil
	}

	if etlErr, ok := AsETLError(err); ok {
		return etlErr
	}

	return Wrap(err, category, code, message)
}
