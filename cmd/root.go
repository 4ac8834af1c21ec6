// Package cmd assembles the inkwell-migrate command tree.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/inkwellhq/inkwell-migrate/cmd/backups"
	"github.com/inkwellhq/inkwell-migrate/cmd/detect"
	"github.com/inkwellhq/inkwell-migrate/cmd/migrate"
	"github.com/inkwellhq/inkwell-migrate/cmd/points"
	"github.com/inkwellhq/inkwell-migrate/cmd/requirements"
	"github.com/inkwellhq/inkwell-migrate/cmd/restore"
	"github.com/inkwellhq/inkwell-migrate/cmd/rollback"
	"github.com/inkwellhq/inkwell-migrate/cmd/status"
	validatecmd "github.com/inkwellhq/inkwell-migrate/cmd/validate"
	"github.com/inkwellhq/inkwell-migrate/internal/conf"
	"github.com/inkwellhq/inkwell-migrate/internal/logging"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "inkwell-migrate",
		Short: "Migrate legacy Inkwell databases into the unified store",
		Long: `inkwell-migrate moves the legacy Inkwell conversation and knowledge
stores into a single unified database. It backs the originals up before
touching anything and can roll the system back from those backups.`,
		Version:      fmt.Sprintf("%s (built %s)", settings.Version, settings.BuildDate),
		SilenceUsage: true,
	}

	setupFlags(rootCmd, settings)

	subcommands := []*cobra.Command{
		migrate.Command(settings),
		detect.Command(settings),
		requirements.Command(settings),
		validatecmd.Command(settings),
		status.Command(settings),
		backups.Command(settings),
		restore.Command(settings),
		rollback.Command(settings),
		points.Command(settings),
	}
	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		applyPathOverrides(cmd, settings)
		if settings.Debug {
			logging.SetLevel(slog.LevelDebug)
		}
		return nil
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().String("data-dir", "", "Inkwell profile directory holding the legacy stores")
	rootCmd.PersistentFlags().String("target", "", "Unified database file the migration writes")
}

// applyPathOverrides folds the path flags into the loaded settings.
// --data-dir rebases every derived path, --target wins over both the
// config file and the rebased default.
func applyPathOverrides(cmd *cobra.Command, settings *conf.Settings) {
	flags := cmd.Root().PersistentFlags()
	if flags.Changed("data-dir") {
		dataDir, _ := flags.GetString("data-dir")
		settings.RebasePaths(dataDir)
	}
	if flags.Changed("target") {
		target, _ := flags.GetString("target")
		settings.Paths.TargetPath = target
	}
}
