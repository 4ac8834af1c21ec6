// Package backups provides the backups command group for inspecting and
// maintaining pre-migration backups.
package backups

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/inkwellhq/inkwell-migrate/internal/backup"
	"github.com/inkwellhq/inkwell-migrate/internal/conf"
	"github.com/inkwellhq/inkwell-migrate/internal/logging"
)

// Command creates and returns the backups command group
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "List, verify and prune pre-migration backups",
	}
	cmd.AddCommand(listCommand(settings), verifyCommand(settings), pruneCommand(settings))
	return cmd
}

func newManager(settings *conf.Settings) (*backup.Manager, error) {
	return backup.NewManager(settings.Paths.BackupDir, settings.Backup, logging.ForService("cli"))
}

func listCommand(settings *conf.Settings) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all recorded backups",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager(settings)
			if err != nil {
				return err
			}
			recs, err := m.List(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(recs)
			}
			if len(recs) == 0 {
				fmt.Println("No backups recorded.")
				return nil
			}

			fmt.Printf("ID                                    Kind      Size      Created               Valid  Original\n")
			fmt.Printf("────────────────────────────────────  ────────  ────────  ────────────────────  ─────  ────────────────\n")
			for i := range recs {
				rec := &recs[i]
				fmt.Printf("%-36s  %-8s  %-8s  %-20s  %-5t  %s\n",
					rec.ID, rec.Kind, formatBytes(rec.SizeBytes),
					rec.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					rec.IsValid, rec.OriginalPath)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the result as JSON")
	return cmd
}

func verifyCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [backup-id]",
		Short: "Re-checksum backups against their records",
		Long: `Verify re-hashes each backup file, compares it against the recorded
checksum and re-opens it with its native driver. Without an argument every
recorded backup is verified and the validity flags are persisted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager(settings)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if len(args) == 1 {
				rec, err := m.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if err := m.VerifyBackup(ctx, rec); err != nil {
					return fmt.Errorf("backup %s failed verification: %w", rec.ID, err)
				}
				fmt.Printf("✅ Backup %s verified.\n", rec.ID)
				return nil
			}

			recs, err := m.VerifyAll(ctx)
			if recs == nil {
				return err
			}
			failed := 0
			for i := range recs {
				rec := &recs[i]
				mark := "✅"
				if !rec.IsValid {
					mark = "❌"
					failed++
				}
				fmt.Printf("%s %s  %s\n", mark, rec.ID, rec.BackupPath)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d backups failed verification", failed, len(recs))
			}
			fmt.Printf("All %d backups verified.\n", len(recs))
			return nil
		},
	}
}

func pruneCommand(settings *conf.Settings) *cobra.Command {
	var (
		retentionDays int
		yes           bool
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete backups past the retention window",
		Long: `Prune deletes backups older than the retention window while always
keeping the configured minimum number of newest backups per database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if retentionDays <= 0 {
				return fmt.Errorf("retention must be positive, got %d days", retentionDays)
			}
			prompt := fmt.Sprintf("Delete backups older than %d days (keeping at least %d per database)?",
				retentionDays, settings.Backup.KeepMinimum)
			if !yes && !confirm(os.Stdin, prompt) {
				fmt.Println("Prune aborted.")
				return nil
			}

			m, err := newManager(settings)
			if err != nil {
				return err
			}
			pruned, err := m.CleanupExpired(cmd.Context(), retentionDays)
			if err != nil {
				return err
			}
			fmt.Printf("Pruned %d expired backups.\n", pruned)
			return nil
		},
	}

	cmd.Flags().IntVar(&retentionDays, "retention-days", settings.Backup.RetentionDays, "Age in days past which backups are deleted")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
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
