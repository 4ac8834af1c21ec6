// Package restore provides the restore command for bringing a single
// legacy database back from one of its backups.
package restore

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
)

// Command creates and returns the restore command
func Command(settings *conf.Settings) *cobra.Command {
	var (
		toPath string
		yes    bool
	)

	cmd := &cobra.Command{
		Use:   "restore <backup-id>",
		Short: "Restore a legacy database from one of its backups",
		Long: `Restore copies a backup over the database it was taken from, or to --to
when the original location should stay untouched. Whatever currently sits
at the target is preserved as a .pre-restore sidecar file first.

Use 'inkwell-migrate backups list' to find backup ids.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestore(cmd.Context(), settings, args[0], toPath, yes)
		},
	}

	cmd.Flags().StringVarP(&toPath, "to", "o", "", "Restore to this path instead of the original location")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

func runRestore(ctx context.Context, settings *conf.Settings, id, toPath string, yes bool) error {
	m, err := backup.NewManager(settings.Paths.BackupDir, settings.Backup, logging.ForService("cli"))
	if err != nil {
		return err
	}

	rec, err := m.Get(ctx, id)
	if err != nil {
		return err
	}

	target := rec.OriginalPath
	if toPath != "" {
		target = toPath
	}

	if !yes {
		prompt := fmt.Sprintf("Overwrite %s with the backup taken %s?",
			target, rec.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		if !confirm(os.Stdin, prompt) {
			fmt.Println("Restore aborted.")
			return nil
		}
	}

	if err := m.Restore(ctx, rec, target); err != nil {
		return err
	}
	fmt.Printf("✅ Restored %s from backup %s.\n", target, rec.ID)
	return nil
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
