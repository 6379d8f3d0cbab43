package cmd

import (
	"fmt"
	"os"
	"strings"

	"fund-etl-service/pkg/errors"
	"fund-etl-service/pkg/logger"

	"github.com/spf13/viper"
)

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	logger  logger.Logger
	verbose bool
}

// NewCLIErrorHandler creates a new CLI error handler
func NewCLIErrorHandler() *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		verbose: viper.GetBool("verbose"),
	}
}

// HandleError renders the error for the operator and returns the process
// exit code.
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Error("Command failed")

	if etlErr, ok := errors.AsETLError(err); ok {
		return h.handleETLError(etlErr)
	}
	return h.handleGenericError(err)
}

// handleETLError handles ETLError with detailed context
func (h *CLIErrorHandler) handleETLError(err *errors.ETLError) int {
	fmt.Fprintf(os.Stderr, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		fmt.Fprintf(os.Stderr, "\nContext:\n")
		for key, value := range err.Context {
			fmt.Fprintf(os.Stderr, "  %s: %v\n", key, value)
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(os.Stderr, "\nSuggestion: %s\n", err.Suggestion)
	}

	fmt.Fprintf(os.Stderr, "\n%s\n", h.getCategoryHelp(err.Category))

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(os.Stderr, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

// handleGenericError handles non-ETLError types
func (h *CLIErrorHandler) handleGenericError(err error) int {
	if h.isFileNotFoundError(err) {
		fmt.Fprintf(os.Stderr, "Error: File not found\n")
		fmt.Fprintf(os.Stderr, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	}

	if h.isPermissionError(err) {
		fmt.Fprintf(os.Stderr, "Error: Permission denied\n")
		fmt.Fprintf(os.Stderr, "Suggestion: Check file permissions on the database and download directories\n")
		return 2
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	if !h.verbose {
		fmt.Fprintf(os.Stderr, "\nFor more details, run with the --verbose flag\n")
	}

	return 1
}

// getCategoryHelp returns category-specific help text
func (h *CLIErrorHandler) getCategoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryAcquisition:
		return `Acquisition error help:
• Check that the portal URLs are configured and reachable
• The vendor may not have published the file yet; try again later
• For file-based acquisition, verify source.dir points at the downloads
• A daily run falls back to carry-forward automatically; backfill does not`

	case errors.CategoryParse:
		return `Parse error help:
• Verify the downloaded workbook opens and has the expected sheet
• Check for renamed or missing column headers
• The vendor occasionally ships partial files; re-download and retry`

	case errors.CategoryValidation:
		return `Validation error help:
• Check that rows carry a date and a fund code
• Verify date values use YYYY-MM-DD or a recognized portal format
• Rows that fail validation are dropped and counted, not fatal`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and arguments
• Verify configuration file syntax if using --config
• Use 'fundetl --help' to see all available options
• Try running with default settings first`

	case errors.CategoryStore:
		return `Store error help:
• Check that the database path is writable (--db flag)
• Another process may hold the database; stop it or wait
• Check available disk space`

	case errors.CategoryReconciliation:
		return `Reconciliation error help:
• Run 'fundetl validate' without --update to inspect the plan first
• Check the lookback file covers the dates being reconciled
• Try --update-mode full if selective patching keeps failing`

	default:
		return `For more help:
• Use 'fundetl --help' for general help
• Use 'fundetl <command> --help' for command-specific help
• Check the run history in the etl_log table for past failures`
	}
}

// Error detection helpers

func (h *CLIErrorHandler) isFileNotFoundError(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "no such file or directory")
}

func (h *CLIErrorHandler) isPermissionError(err error) bool {
	return os.IsPermission(err) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "access denied")
}
