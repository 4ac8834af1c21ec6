// Package telemetry wires opt-in, privacy-scrubbed crash reporting. Nothing
// leaves the process unless the user enabled telemetry in the config file,
// and every outgoing event passes the privacy filters first.
package telemetry

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/inkwellhq/inkwell-migrate/internal/conf"
	"github.com/inkwellhq/inkwell-migrate/internal/errors"
	"github.com/inkwellhq/inkwell-migrate/internal/logging"
	"github.com/inkwellhq/inkwell-migrate/internal/privacy"
)

// defaultDSN is the Inkwell migration project; a custom DSN in the config
// overrides it.
const defaultDSN = "https://1f4c9a7e62d04b3d9a417c8825fd3a21@o4508217423298560.ingest.us.sentry.io/4508217430114304"

// installIDFile persists the anonymous installation identifier inside the
// data dir.
const installIDFile = ".telemetry-id"

var enabled atomic.Bool

// Init configures crash reporting. With telemetry disabled in settings it
// does nothing and returns nil; this is the default.
func Init(settings *conf.Settings, log *slog.Logger) error {
	if log == nil {
		log = logging.ForService("telemetry")
	}
	if !settings.Telemetry.Enabled {
		log.Info("telemetry is disabled (opt-in required)")
		return nil
	}

	dsn := settings.Telemetry.DSN
	if dsn == "" {
		dsn = defaultDSN
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:        dsn,
		SampleRate: 1.0,

		// Privacy posture: no stack traces, no hostname, filtered events.
		AttachStacktrace: false,
		Environment:      "production",
		ServerName:       "",

		Release:    fmt.Sprintf("inkwell-migrate@%s", settings.Version),
		BeforeSend: beforeSend,
	})
	if err != nil {
		return fmt.Errorf("telemetry initialization failed: %w", err)
	}

	installID := loadOrCreateInstallID(settings.Paths.DataDir, log)
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		if installID != "" {
			scope.SetTag("install_id", installID)
		}
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
		scope.SetTag("go_version", runtime.Version())
	})

	errors.SetPrivacyScrubber(privacy.ScrubMessage)
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	enabled.Store(true)

	log.Info("telemetry enabled", "release", settings.Version)
	return nil
}

// Enabled reports whether Init completed with telemetry switched on.
func Enabled() bool {
	return enabled.Load()
}

// CaptureMessage sends one scrubbed informational message.
func CaptureMessage(message string) {
	if !enabled.Load() {
		return
	}
	sentry.CaptureMessage(privacy.ScrubMessage(message))
}

// Flush drains buffered events before process exit.
func Flush(timeout time.Duration) bool {
	if !enabled.Load() {
		return true
	}
	return sentry.Flush(timeout)
}

// beforeSend is the last gate before an event leaves the process.
func beforeSend(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}

	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}

	event.Message = privacy.ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = privacy.ScrubMessage(event.Exception[i].Value)
	}

	return event
}

// loadOrCreateInstallID reads the persisted anonymous id, minting and
// storing a fresh one when missing or malformed. Failures fall back to an
// unpersisted id; telemetry still works, grouping just resets next run.
func loadOrCreateInstallID(dataDir string, log *slog.Logger) string {
	path := filepath.Join(dataDir, installIDFile)

	if raw, err := os.ReadFile(path); err == nil {
		id := strings.TrimSpace(string(raw))
		if privacy.IsValidInstallID(id) {
			return id
		}
	}

	id, err := privacy.GenerateInstallID()
	if err != nil {
		log.Warn("could not generate install id", "error", err)
		return ""
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		log.Warn("could not persist install id", "error", err)
	}
	return id
}
