// Package status provides the status command reporting the outcome of
// the most recent migration run.
package status

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/inkwellhq/inkwell-migrate/internal/conf"
	"github.com/inkwellhq/inkwell-migrate/internal/errors"
	"github.com/inkwellhq/inkwell-migrate/internal/migration"
)

// Command creates and returns the status command
func Command(settings *conf.Settings) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the outcome of the most recent migration run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(settings, jsonOut)
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the state as JSON")
	return cmd
}

func runStatus(settings *conf.Settings, jsonOut bool) error {
	st, err := migration.ReadStateFile(settings.Paths.DataDir)
	if err != nil {
		if errors.IsNotFound(err) {
			fmt.Println("No migration has run yet.")
			return nil
		}
		return err
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	mark := "❌"
	if st.Success {
		mark = "✅"
	}
	fmt.Printf("%s Run %s %s at %s (%d%%)\n",
		mark, st.RunID, st.State, st.FinishedAt.Local().Format("2006-01-02 15:04:05"), st.Percent)

	if len(st.RecordsMigrated) > 0 {
		fmt.Println("Records migrated:")
		for _, table := range slices.Sorted(maps.Keys(st.RecordsMigrated)) {
			fmt.Printf("  %-18s %d\n", table, st.RecordsMigrated[table])
		}
	}
	if st.RecoveryPointID != "" {
		fmt.Printf("Recovery point: %s\n", st.RecoveryPointID)
	}
	for _, w := range st.Warnings {
		fmt.Printf("⚠️  %s\n", w)
	}
	for _, e := range st.Errors {
		fmt.Printf("❌ %s\n", e)
	}
	if st.ReportPath != "" {
		fmt.Printf("Report: %s\n", st.ReportPath)
	}
	return nil
}
