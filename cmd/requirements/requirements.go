// Package requirements provides the requirements command, which reports
// whether the machine has room for a migration.
package requirements

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inkwellhq/inkwell-migrate/internal/conf"
	"github.com/inkwellhq/inkwell-migrate/internal/logging"
	"github.com/inkwellhq/inkwell-migrate/internal/migration"
)

// Command creates and returns the requirements command
func Command(settings *conf.Settings) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "requirements",
		Short: "Estimate the disk space a migration would need",
		Long: `Requirements scans for legacy databases and compares the estimated
migration footprint against the free space on the target volume. It
never modifies anything.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequirements(cmd.Context(), settings, jsonOut)
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the result as JSON")
	return cmd
}

func runRequirements(ctx context.Context, settings *conf.Settings, jsonOut bool) error {
	orch, err := migration.NewOrchestrator(settings, migration.Services{}, logging.ForService("cli"))
	if err != nil {
		return err
	}

	reqs, err := orch.Requirements(ctx)
	if err != nil {
		return err
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reqs)
	}

	if !reqs.Required {
		fmt.Println("No legacy Inkwell databases found, no migration is required.")
		return nil
	}

	fmt.Printf("Legacy databases:  %d (%s total)\n", reqs.DatabaseCount, formatBytes(reqs.TotalSizeBytes))
	fmt.Printf("Estimated space:   %s\n", formatBytes(reqs.EstimatedRequiredBytes))
	fmt.Printf("Available space:   %s\n", formatBytes(int64(reqs.AvailableBytes))) //nolint:gosec // disk sizes fit in int64
	if !reqs.Sufficient {
		fmt.Println("❌ Not enough free disk space for a migration.")
		return fmt.Errorf("insufficient disk space: %d bytes required, %d available",
			reqs.EstimatedRequiredBytes, reqs.AvailableBytes)
	}
	fmt.Println("✅ Enough free space for a migration.")
	return nil
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
