package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"fund-etl-service/cmd/fundetl/config"
	"fund-etl-service/internal/etl"
	"fund-etl-service/internal/models"
	"fund-etl-service/internal/reporter"
	"fund-etl-service/pkg/errors"

	"github.com/spf13/cobra"
)

// Flags for the backfill command
var (
	backfillFrom      string
	backfillTo        string
	backfillRegion    string
	backfillOutFormat string
)

// backfillCmd represents the backfill command
var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Load historical trading days missing from the run history",
	Long: `Backfill loads every trading day in the given range that the run history
does not record as successfully loaded. Weekends and holidays are skipped;
already-loaded days are not re-fetched.

Unlike the daily run, backfill never carries data forward: a missing
historical file is reported as a failure for the operator to resolve.

Examples:
  # Fill January for both regions
  fundetl backfill --from 2024-01-01 --to 2024-01-31

  # Re-load a single day for one region
  fundetl backfill --from 2024-01-10 --to 2024-01-10 --region EMEA`,

	PreRunE: validateBackfillFlags,
	RunE:    runBackfill,
}

func init() {
	rootCmd.AddCommand(backfillCmd)

	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "start date (YYYY-MM-DD, required)")
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "end date (YYYY-MM-DD, required)")
	backfillCmd.Flags().StringVarP(&backfillRegion, "region", "r", "", "limit to one region: AMRS, EMEA (default both)")
	backfillCmd.Flags().StringVarP(&backfillOutFormat, "output-format", "f", "console", "output format: console, json")

	backfillCmd.MarkFlagRequired("from")
	backfillCmd.MarkFlagRequired("to")
}

func validateBackfillFlags(cmd *cobra.Command, args []string) error {
	from, err := config.ParseDate(backfillFrom)
	if err != nil {
		return err
	}
	to, err := config.ParseDate(backfillTo)
	if err != nil {
		return err
	}
	if from.After(to) {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "from/to", backfillFrom+" > "+backfillTo, nil).
			WithSuggestion("the start date must not be after the end date")
	}
	return nil
}

func runBackfill(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	format, err := reporter.ParseFormat(backfillOutFormat)
	if err != nil {
		return err
	}

	regions := models.AllRegions
	if backfillRegion != "" {
		region, err := models.ParseRegion(backfillRegion)
		if err != nil {
			return err
		}
		regions = []models.Region{region}
	}

	from, _ := config.ParseDate(backfillFrom)
	to, _ := config.ParseDate(backfillTo)

	release, err := acquireRunLock()
	if err != nil {
		return err
	}
	defer release()

	s, err := config.OpenStore()
	if err != nil {
		return err
	}
	defer s.Close()

	f, err := config.CreateFetcher()
	if err != nil {
		return err
	}
	pipeline := etl.New(s, f)

	failed := 0
	all := make(map[models.Region][]*etl.LoadOutcome, len(regions))
	for _, region := range regions {
		outcomes, err := pipeline.Backfill(ctx, region, from, to)
		if err != nil {
			return err
		}
		all[region] = outcomes
		for _, outcome := range outcomes {
			if outcome.Status == etl.StatusFailed {
				failed++
			}
		}
	}

	if err := writeBackfillReport(format, all); err != nil {
		return err
	}

	if failed > 0 {
		return errors.New(errors.CategoryAcquisition, errors.CodeFileUnavailable,
			fmt.Sprintf("%d backfill loads failed", failed)).
			WithSuggestion("historical files may have rolled off the portal; source them manually")
	}
	return nil
}

func writeBackfillReport(format reporter.Format, all map[models.Region][]*etl.LoadOutcome) error {
	if format == reporter.FormatJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(all)
	}

	total := 0
	for _, region := range models.AllRegions {
		outcomes, ok := all[region]
		if !ok {
			continue
		}
		total += len(outcomes)
		for _, outcome := range outcomes {
			date := outcome.Date.Format(models.DateFormat)
			switch outcome.Status {
			case etl.StatusSuccess:
				fmt.Printf("%s %s: %d records loaded", region, date, outcome.Records)
				if outcome.DroppedRows > 0 {
					fmt.Printf(" (%d rows dropped)", outcome.DroppedRows)
				}
				fmt.Println()
			default:
				fmt.Printf("%s %s: FAILED: %s\n", region, date, outcome.Err)
			}
		}
	}
	if total == 0 {
		fmt.Println("Nothing to backfill: every trading day in range is already loaded.")
	}
	return nil
}
