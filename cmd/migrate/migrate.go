// Package migrate provides the migrate command, the primary entry point
// for moving the legacy Inkwell stores into the unified database.
package migrate

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/inkwellhq/inkwell-migrate/internal/conf"
	"github.com/inkwellhq/inkwell-migrate/internal/logging"
	"github.com/inkwellhq/inkwell-migrate/internal/migration"
	"github.com/inkwellhq/inkwell-migrate/pkg/spinner"
)

// Command creates and returns the migrate command
func Command(settings *conf.Settings) *cobra.Command {
	var (
		dryRun         bool
		verify         bool
		skipValidation bool
		batchSize      int
		retentionDays  int
		yes            bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate the legacy Inkwell databases into the unified store",
		Long: `Migrate detects the legacy conversation and knowledge stores, backs them
up, copies their content into the unified database and validates the
result. A failed run restores the legacy files from the backups it took.

Use --dry-run to see what a migration would do without touching any file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := migration.DefaultOptions(settings)
			opts.DryRun = dryRun
			opts.SkipValidation = skipValidation
			if cmd.Flags().Changed("verify") {
				opts.Verify = verify
			}
			if cmd.Flags().Changed("batch-size") {
				opts.BatchSize = batchSize
			}
			if cmd.Flags().Changed("retention-days") {
				opts.RetentionDays = retentionDays
			}
			return runMigrate(settings, opts, yes)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what a migration would do without creating or modifying any file")
	cmd.Flags().BoolVar(&verify, "verify", settings.Backup.Verify, "Re-open every backup copy with its native driver before migrating")
	cmd.Flags().BoolVar(&skipValidation, "skip-validation", false, "Skip post-migration validation (not recommended)")
	cmd.Flags().IntVar(&batchSize, "batch-size", settings.Migration.BatchSize, "Rows copied per batch")
	cmd.Flags().IntVar(&retentionDays, "retention-days", settings.Backup.RetentionDays, "Backup retention applied during cleanup, negative disables it")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

func runMigrate(settings *conf.Settings, opts migration.Options, assumeYes bool) error {
	log := logging.ForService("cli")

	orch, err := migration.NewOrchestrator(settings, migration.Services{}, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !opts.DryRun && !assumeYes {
		ok, err := confirmMigration(ctx, orch, settings)
		if err != nil || !ok {
			return err
		}
	}

	stop := watchSignals(ctx, cancel, orch, log)
	defer stop()

	spin := spinner.New(os.Stdout)
	opts.Progress = progressPrinter(spin)

	res, err := orch.Run(ctx, opts)
	spin.Clear()
	if res != nil {
		printSummary(res)
	}
	return err
}

// confirmMigration shows what a migration would touch and asks for
// consent. A false return without error means the user declined or there
// is nothing to do.
func confirmMigration(ctx context.Context, orch *migration.Orchestrator, settings *conf.Settings) (bool, error) {
	det, err := orch.Detect(ctx)
	if err != nil {
		return false, err
	}
	if !det.RequiresMigration {
		fmt.Println("No legacy Inkwell databases found, nothing to migrate.")
		return false, nil
	}

	fmt.Printf("Found %d legacy databases (%s):\n", len(det.Databases), formatBytes(det.TotalSizeBytes))
	for i := range det.Databases {
		db := &det.Databases[i]
		fmt.Printf("  %-8s  %8s  %s\n", db.Kind, formatBytes(db.SizeBytes), db.Path)
	}
	fmt.Printf("Target: %s\n\n", settings.Paths.TargetPath)

	if !confirm(os.Stdin, "Start the migration?") {
		fmt.Println("Migration aborted.")
		return false, nil
	}
	return true, nil
}

// watchSignals cancels gracefully on the first interrupt and hard on the
// second. The graceful path captures a recovery point before stopping.
func watchSignals(ctx context.Context, cancel context.CancelFunc, orch *migration.Orchestrator, log *slog.Logger) func() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
		}
		fmt.Println("\nInterrupt received, finishing the current batch before stopping. Press Ctrl+C again to abort immediately.")
		if err := orch.Cancel(context.Background()); err != nil {
			log.Warn("graceful cancellation failed", "error", err)
			cancel()
			return
		}
		select {
		case <-ctx.Done():
		case <-sigCh:
			fmt.Println("Aborting.")
			cancel()
		}
	}()

	return func() { signal.Stop(sigCh) }
}

// progressPrinter renders progress updates: a full line whenever the
// step changes, a spinner tick for repeats so long copies show liveness
// without flooding the terminal.
func progressPrinter(spin *spinner.Spinner) migration.ProgressFunc {
	last := migration.Update{Percent: -1}
	return func(u migration.Update) {
		if u.Phase == last.Phase && u.Step == last.Step {
			last = u
			spin.Tick(fmt.Sprintf("[%3d%%] %s: %s", u.Percent, u.Phase, u.Step))
			return
		}
		spin.Clear()
		last = u
		if u.ETA > 0 {
			fmt.Printf("[%3d%%] %s: %s (about %s left)\n", u.Percent, u.Phase, u.Step, u.ETA.Round(time.Second))
			return
		}
		fmt.Printf("[%3d%%] %s: %s\n", u.Percent, u.Phase, u.Step)
	}
}

func printSummary(res *migration.Result) {
	fmt.Println()
	switch res.State {
	case migration.StateCompleted:
		fmt.Printf("✅ Migration %s completed in %s\n", res.RunID, res.Duration.Round(time.Millisecond))
	case migration.StateDryRunCompleted:
		if res.Success {
			fmt.Println("✅ Dry run found no problems.")
		} else {
			fmt.Printf("⚠️ Dry run found %d problems.\n", len(res.Errors))
		}
	case migration.StateCancelled:
		fmt.Println("⚠️ Migration cancelled, the legacy databases are unchanged.")
	default:
		fmt.Printf("❌ Migration failed after %s.\n", res.Duration.Round(time.Millisecond))
	}

	if len(res.RecordsMigrated) > 0 {
		fmt.Println("\nRecords migrated:")
		for _, table := range slices.Sorted(maps.Keys(res.RecordsMigrated)) {
			fmt.Printf("  %-18s %d\n", table, res.RecordsMigrated[table])
		}
	}
	if res.SkippedEmbeddings > 0 {
		fmt.Printf("Skipped embeddings: %d\n", res.SkippedEmbeddings)
	}
	for _, w := range res.Warnings {
		fmt.Printf("⚠️  %s\n", w)
	}
	for _, e := range res.Errors {
		fmt.Printf("❌ %s\n", e)
	}
	if res.ReportPath != "" {
		fmt.Printf("\nReport written to %s\n", res.ReportPath)
	}
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
