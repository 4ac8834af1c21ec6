// Package validate provides the validate command for checking the
// unified database outside a migration run.
package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/inkwellhq/inkwell-migrate/internal/conf"
	"github.com/inkwellhq/inkwell-migrate/internal/logging"
	"github.com/inkwellhq/inkwell-migrate/internal/unistore"
	validation "github.com/inkwellhq/inkwell-migrate/internal/validate"
)

// Command creates and returns the validate command
func Command(settings *conf.Settings) *cobra.Command {
	var (
		jsonOut    bool
		categories []string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the unified database",
		Long: `Validate runs the structure, data, relationship and performance rules
against the unified database, followed by the row-level integrity scan.
It is the same pass a migration runs before declaring success.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.Context(), settings, categories, jsonOut)
		},
	}

	cmd.Flags().StringSliceVar(&categories, "category", nil, "Run only these rule categories (structure, data, relationships, performance)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the reports as JSON")
	return cmd
}

func runValidate(ctx context.Context, settings *conf.Settings, categoryNames []string, jsonOut bool) error {
	categories, err := parseCategories(categoryNames)
	if err != nil {
		return err
	}

	store, err := unistore.Open(settings.Paths.TargetPath)
	if err != nil {
		return err
	}
	defer store.Close()

	v := validation.New(store.DB(), settings.Validation, logging.ForService("cli"))
	report := v.Validate(ctx, categories...)
	integrity := v.CheckIntegrity(ctx)

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		out := map[string]any{"validation": report, "integrity": integrity}
		if err := enc.Encode(out); err != nil {
			return err
		}
	} else {
		printReports(report, integrity)
	}

	if !report.IsValid {
		return fmt.Errorf("validation failed: %s", report.Summary)
	}
	if !integrity.IsValid {
		return fmt.Errorf("integrity check found %d issues", len(integrity.Issues))
	}
	return nil
}

func parseCategories(names []string) ([]validation.Category, error) {
	categories := make([]validation.Category, 0, len(names))
	for _, name := range names {
		switch strings.ToLower(name) {
		case "structure":
			categories = append(categories, validation.CategoryStructure)
		case "data":
			categories = append(categories, validation.CategoryData)
		case "relationships":
			categories = append(categories, validation.CategoryRelationships)
		case "performance":
			categories = append(categories, validation.CategoryPerformance)
		default:
			return nil, fmt.Errorf("unknown rule category: %s", name)
		}
	}
	return categories, nil
}

func printReports(report *validation.Report, integrity *validation.IntegrityReport) {
	printResults(report.Info)
	printResults(report.Warnings)
	printResults(report.Errors)
	fmt.Println(report.Summary)

	if len(integrity.Statistics) > 0 {
		fmt.Println("\nRow counts:")
		for _, table := range slices.Sorted(maps.Keys(integrity.Statistics)) {
			fmt.Printf("  %-18s %d\n", table, integrity.Statistics[table])
		}
	}
	for _, issue := range integrity.Issues {
		fmt.Printf("❌ %s %s: %s (%d records)\n",
			issue.Severity, issue.Table, issue.Description, issue.AffectedRecords)
	}
	if integrity.IsValid {
		fmt.Println("✅ Integrity check passed.")
	}
}

func printResults(results []validation.RuleResult) {
	for _, r := range results {
		mark := "✅"
		if !r.Passed {
			mark = "⚠️ "
			if r.Severity == validation.SeverityError {
				mark = "❌"
			}
		}
		fmt.Printf("%s %-18s %s\n", mark, r.Rule, r.Message)
	}
}
