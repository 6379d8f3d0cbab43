package cmd

import (
	"context"
	"os"
	"time"

	"fund-etl-service/cmd/fundetl/config"
	"fund-etl-service/internal/models"
	"fund-etl-service/internal/reconciler"
	"fund-etl-service/internal/reporter"
	"fund-etl-service/pkg/errors"

	"github.com/spf13/cobra"
)

// Flags for the validate command
var (
	validateUpdate    bool
	validateMode      string
	validateRegion    string
	validateOutFormat string
	validateShowPlan  bool
)

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Reconcile stored data against the vendor's lookback file",
	Long: `Validate downloads each region's rolling lookback file, which restates
recently published figures, and compares it against the store. Dates the
store never loaded are reported as missing; loaded records whose monitored
fields moved beyond the threshold are reported as changed.

Without --update nothing is written. With --update the resulting plan is
applied in a single transaction per region: selective mode patches only the
changed fields of changed records, full mode replaces every affected date.

Examples:
  # Report differences without writing
  fundetl validate

  # Show the per-record changes for one region
  fundetl validate --region AMRS --show-changes

  # Apply corrections, patching changed fields in place
  fundetl validate --update --update-mode selective

  # Apply corrections by replacing affected dates wholesale
  fundetl validate --update --update-mode full`,

	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVarP(&validateUpdate, "update", "u", false, "apply the reconciliation plan")
	validateCmd.Flags().StringVar(&validateMode, "update-mode", "", "apply strategy: selective, full (default from config)")
	validateCmd.Flags().StringVarP(&validateRegion, "region", "r", "", "limit to one region: AMRS, EMEA (default both)")
	validateCmd.Flags().StringVarP(&validateOutFormat, "output-format", "f", "console", "output format: console, json")
	validateCmd.Flags().BoolVar(&validateShowPlan, "show-changes", false, "print per-record field changes (requires --region)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	format, err := reporter.ParseFormat(validateOutFormat)
	if err != nil {
		return err
	}
	if validateShowPlan && validateRegion == "" {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "show-changes", true, nil).
			WithSuggestion("--show-changes needs --region to select whose plan to print")
	}

	// Read-only validation can run beside the daemon; applying updates
	// cannot.
	if validateUpdate {
		release, err := acquireRunLock()
		if err != nil {
			return err
		}
		defer release()
	}

	s, err := config.OpenStore()
	if err != nil {
		return err
	}
	defer s.Close()

	f, err := config.CreateFetcher()
	if err != nil {
		return err
	}

	engineConfig, err := config.CreateReconcilerConfig(validateMode)
	if err != nil {
		return err
	}
	engine, err := reconciler.New(s, f, engineConfig)
	if err != nil {
		return err
	}

	rep := reporter.New(os.Stdout, format)

	if validateRegion != "" {
		region, err := models.ParseRegion(validateRegion)
		if err != nil {
			return err
		}
		return validateSingleRegion(ctx, engine, engineConfig, rep, region)
	}

	summary := engine.ReconcileAll(ctx, validateUpdate, engineConfig.UpdateMode)
	if err := rep.WriteRunSummary(summary); err != nil {
		return err
	}
	if summary.Failed() {
		return errors.New(errors.CategoryReconciliation, errors.CodePlanningFailed,
			"reconciliation failed for at least one region").
			WithSuggestion("see the per-region errors above")
	}
	return nil
}

// validateSingleRegion runs one region's validation (and optional update),
// printing the plan detail when requested.
func validateSingleRegion(ctx context.Context, engine *reconciler.Engine, engineConfig *reconciler.Config, rep *reporter.Reporter, region models.Region) error {
	summary := &models.RunSummary{
		StartedAt: time.Now().UTC(),
		Regions:   make(map[models.Region]*models.RegionOutcome, 1),
	}

	validation, err := engine.Validate(ctx, region)
	if err != nil {
		return err
	}
	outcome := &models.RegionOutcome{Region: region, Summary: validation.Summary}

	if validateShowPlan {
		if err := rep.WritePlan(validation.Plan); err != nil {
			return err
		}
	}

	if validateUpdate {
		// Update re-validates internally so the applied plan matches the
		// store state at apply time.
		outcome, err = engine.Update(ctx, region, engineConfig.UpdateMode)
		if err != nil {
			return err
		}
	}

	summary.Regions[region] = outcome
	summary.FinishedAt = time.Now().UTC()
	return rep.WriteRunSummary(summary)
}
