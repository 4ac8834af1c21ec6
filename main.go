package main

import (
	"fmt"
	"os"
	"time"

	"github.com/inkwellhq/inkwell-migrate/cmd"
	"github.com/inkwellhq/inkwell-migrate/internal/conf"
	"github.com/inkwellhq/inkwell-migrate/internal/logging"
	"github.com/inkwellhq/inkwell-migrate/internal/telemetry"
)

// Populated by the build through -ldflags.
var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	logging.Init()

	// INKWELL_CONFIG points at an explicit config file; empty falls back
	// to the default search paths.
	settings, err := conf.Load(os.Getenv("INKWELL_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		return 1
	}
	settings.Version = version
	settings.BuildDate = buildDate

	log := logging.ForService("main")
	if err := telemetry.Init(settings, log); err != nil {
		log.Warn("telemetry initialization failed", "error", err)
	}
	defer telemetry.Flush(3 * time.Second)

	if err := cmd.RootCommand(settings).Execute(); err != nil {
		return 1
	}
	return 0
}
