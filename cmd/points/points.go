// Package points provides the recovery-points command group.
package points

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inkwellhq/inkwell-migrate/internal/backup"
	"github.com/inkwellhq/inkwell-migrate/internal/conf"
	"github.com/inkwellhq/inkwell-migrate/internal/logging"
	"github.com/inkwellhq/inkwell-migrate/internal/recovery"
)

// Command creates and returns the recovery-points command group
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "recovery-points",
		Aliases: []string{"points"},
		Short:   "Inspect the recovery points captured by migrations",
	}
	cmd.AddCommand(listCommand(settings), showCommand(settings))
	return cmd
}

func newManager(settings *conf.Settings) (*recovery.Manager, error) {
	log := logging.ForService("cli")
	bm, err := backup.NewManager(settings.Paths.BackupDir, settings.Backup, log)
	if err != nil {
		return nil, err
	}
	return recovery.NewManager(recovery.Config{
		RecoveryDir:   settings.Paths.RecoveryDir,
		DatabaseFiles: []string{settings.Paths.TargetPath},
	}, bm, log)
}

func listCommand(settings *conf.Settings) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recovery points, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			rm, err := newManager(settings)
			if err != nil {
				return err
			}
			pts, err := rm.ListRecoveryPoints(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(pts)
			}
			if len(pts) == 0 {
				fmt.Println("No recovery points exist.")
				return nil
			}

			fmt.Printf("ID                           Label          Captured              Backups  Consistent\n")
			fmt.Printf("───────────────────────────  ─────────────  ────────────────────  ───────  ──────────\n")
			for i := range pts {
				p := &pts[i]
				fmt.Printf("%-27s  %-13s  %-20s  %-7d  %t\n",
					p.ID, p.Label, p.Timestamp.Local().Format("2006-01-02 15:04:05"),
					len(p.Backups), p.State.IsConsistent)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the result as JSON")
	return cmd
}

func showCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "show <point-id>",
		Short: "Print one recovery point in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rm, err := newManager(settings)
			if err != nil {
				return err
			}
			point, err := rm.GetRecoveryPoint(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(point)
		},
	}
}
