// Package detect provides the detect command, a read-only scan for
// legacy Inkwell databases.
package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inkwellhq/inkwell-migrate/internal/conf"
	"github.com/inkwellhq/inkwell-migrate/internal/legacydb"
	"github.com/inkwellhq/inkwell-migrate/internal/logging"
	"github.com/inkwellhq/inkwell-migrate/internal/migration"
)

// Command creates and returns the detect command
func Command(settings *conf.Settings) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Scan for legacy Inkwell databases without migrating",
		Long: `Detect scans the profile and search directories for legacy conversation
and knowledge stores, checks whether they can be migrated and estimates
the disk space a migration would need. It never modifies anything.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetect(cmd.Context(), settings, jsonOut)
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the result as JSON")
	return cmd
}

type detectOutput struct {
	Databases     []legacydb.Info        `json:"databases"`
	Compatibility legacydb.Compatibility `json:"compatibility"`
	Requirements  *legacydb.Requirements `json:"requirements,omitempty"`
}

func runDetect(ctx context.Context, settings *conf.Settings, jsonOut bool) error {
	orch, err := migration.NewOrchestrator(settings, migration.Services{}, logging.ForService("cli"))
	if err != nil {
		return err
	}

	det, err := orch.Detect(ctx)
	if err != nil {
		return err
	}

	if !det.RequiresMigration {
		if jsonOut {
			return printJSON(detectOutput{Databases: []legacydb.Info{}, Compatibility: legacydb.Compatibility{Compatible: true}})
		}
		fmt.Println("No legacy Inkwell databases found.")
		return nil
	}

	compat := orch.Compatibility(det.Databases)
	reqs, err := orch.Requirements(ctx)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(detectOutput{Databases: det.Databases, Compatibility: compat, Requirements: reqs})
	}

	fmt.Printf("Found %d legacy databases:\n\n", len(det.Databases))
	fmt.Printf("Kind      Schema  Records   Size      Path\n")
	fmt.Printf("────────  ──────  ────────  ────────  ────────────────────────────\n")
	for i := range det.Databases {
		db := &det.Databases[i]
		note := ""
		if !db.IsValid {
			note = "  (unreadable)"
		}
		fmt.Printf("%-8s  v%-5d  %-8d  %-8s  %s%s\n",
			db.Kind, db.SchemaVersion, db.RecordCount, formatBytes(db.SizeBytes), db.Path, note)
	}

	if len(compat.Warnings) > 0 {
		fmt.Println()
		for _, warning := range compat.Warnings {
			fmt.Printf("⚠️  %s\n", warning)
		}
	}
	if !compat.Compatible {
		fmt.Println("\n❌ These databases cannot be migrated:")
		for _, issue := range compat.Issues {
			fmt.Printf("  - %s\n", issue)
		}
		return fmt.Errorf("%d compatibility issues found", len(compat.Issues))
	}

	fmt.Printf("\nEstimated space required: %s (%s available)\n",
		formatBytes(reqs.EstimatedRequiredBytes), formatBytes(int64(reqs.AvailableBytes))) //nolint:gosec // disk sizes fit in int64
	if !reqs.Sufficient {
		fmt.Println("❌ Not enough free disk space for a migration.")
		return fmt.Errorf("insufficient disk space: %d bytes required, %d available",
			reqs.EstimatedRequiredBytes, reqs.AvailableBytes)
	}
	fmt.Println("✅ Ready to migrate.")
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatBytes converts bytes to human-readable format.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
