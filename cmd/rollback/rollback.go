// Package rollback provides the rollback command for restoring every
// legacy database recorded in a recovery point.
package rollback

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/inkwellhq/inkwell-migrate/internal/backup"
	"github.com/inkwellhq/inkwell-migrate/internal/conf"
	"github.com/inkwellhq/inkwell-migrate/internal/logging"
	"github.com/inkwellhq/inkwell-migrate/internal/recovery"
)

// Command creates and returns the rollback command
func Command(settings *conf.Settings) *cobra.Command {
	var (
		pointID   string
		yes       bool
		keepGoing bool
	)

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Restore the legacy databases from a recovery point",
		Long: `Rollback restores every legacy database from the backups a recovery
point references, the newest point when --point does not name one. Use it
when a failed migration could not roll itself back.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRollback(cmd.Context(), settings, pointID, yes, keepGoing)
		},
	}

	cmd.Flags().StringVar(&pointID, "point", "", "Recovery point to roll back to (default: the newest)")
	cmd.Flags().BoolVar(&keepGoing, "continue-on-error", false, "Keep restoring the remaining databases when one restore fails")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

func runRollback(ctx context.Context, settings *conf.Settings, pointID string, yes, keepGoing bool) error {
	log := logging.ForService("cli")

	bm, err := backup.NewManager(settings.Paths.BackupDir, settings.Backup, log)
	if err != nil {
		return err
	}
	rm, err := recovery.NewManager(recovery.Config{
		RecoveryDir:   settings.Paths.RecoveryDir,
		DatabaseFiles: []string{settings.Paths.TargetPath},
	}, bm, log)
	if err != nil {
		return err
	}

	point, err := resolvePoint(ctx, rm, settings.Paths.RecoveryDir, pointID)
	if err != nil {
		return err
	}
	if len(point.Backups) == 0 {
		return fmt.Errorf("recovery point %s references no backups", point.ID)
	}

	fmt.Printf("Recovery point %s (%s, captured %s) restores:\n",
		point.ID, point.Label, point.Timestamp.Local().Format("2006-01-02 15:04:05"))
	for i := range point.Backups {
		fmt.Printf("  %-8s  %s\n", point.Backups[i].Kind, point.Backups[i].OriginalPath)
	}

	if !yes && !confirm(os.Stdin, fmt.Sprintf("Roll back %d databases to this point?", len(point.Backups))) {
		fmt.Println("Rollback aborted.")
		return nil
	}

	res, err := rm.RecoverPartialMigration(ctx, point.ID, recovery.Options{
		ValidateBeforeRollback:  true,
		CreatePreRollbackBackup: true,
		ContinueOnError:         keepGoing,
	})
	if err != nil {
		return err
	}

	for _, w := range res.Warnings {
		fmt.Printf("⚠️  %s\n", w)
	}
	for _, e := range res.Errors {
		fmt.Printf("❌ %s\n", e)
	}
	if !res.Success {
		return fmt.Errorf("rollback restored %d databases but did not fully succeed", res.RestoredCount)
	}
	fmt.Printf("✅ Restored %d databases.\n", res.RestoredCount)
	return nil
}

func resolvePoint(ctx context.Context, rm *recovery.Manager, recoveryDir, id string) (*recovery.Point, error) {
	if id != "" {
		return rm.GetRecoveryPoint(ctx, id)
	}
	points, err := rm.ListRecoveryPoints(ctx)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("no recovery points exist in %s", recoveryDir)
	}
	return &points[0], nil
}

func confirm(in io.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
