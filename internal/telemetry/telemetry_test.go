package telemetry

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwellhq/inkwell-migrate/internal/conf"
	"github.com/inkwellhq/inkwell-migrate/internal/privacy"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInitDisabledDoesNothing(t *testing.T) {
	settings := &conf.Settings{}
	settings.Telemetry.Enabled = false

	require.NoError(t, Init(settings, nil))
	assert.False(t, Enabled())
	assert.True(t, Flush(0), "flush with telemetry off is a no-op success")
}

func TestBeforeSendScrubsEvent(t *testing.T) {
	t.Parallel()

	event := sentry.NewEvent()
	event.Message = "open /home/dave/.inkwell/conversations.db: permission denied"
	event.User = sentry.User{ID: "u-1", Email: "dave@example.com"}
	event.ServerName = "daves-laptop"
	event.Contexts["device"] = sentry.Context{"name": "laptop"}
	event.Contexts["culture"] = sentry.Context{"locale": "en"}
	event.Extra["component"] = "backup"
	event.Extra["raw_query"] = "SELECT * FROM messages"
	event.Tags["hostname"] = "daves-laptop"
	event.Tags["category"] = "permission-denied"
	event.Exception = []sentry.Exception{{
		Type:  "Backup Error",
		Value: "copying /home/dave/.inkwell/conversations.db failed",
	}}

	got := beforeSend(event, nil)
	require.NotNil(t, got)

	assert.Empty(t, got.User.ID)
	assert.Empty(t, got.User.Email)
	assert.Empty(t, got.ServerName)
	assert.NotContains(t, got.Contexts, "device")
	assert.Contains(t, got.Contexts, "culture")
	assert.NotContains(t, got.Extra, "raw_query")
	assert.Equal(t, "backup", got.Extra["component"])
	assert.NotContains(t, got.Tags, "hostname")
	assert.Equal(t, "permission-denied", got.Tags["category"])

	assert.NotContains(t, got.Message, "dave")
	assert.Contains(t, got.Message, "permission denied")
	assert.NotContains(t, got.Exception[0].Value, "dave")
}

func TestLoadOrCreateInstallID(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	first := loadOrCreateInstallID(dir, discardLogger())
	require.True(t, privacy.IsValidInstallID(first))

	// A second call reads the persisted id back.
	second := loadOrCreateInstallID(dir, discardLogger())
	assert.Equal(t, first, second)

	// A mangled file is replaced with a fresh id.
	require.NoError(t, os.WriteFile(filepath.Join(dir, installIDFile), []byte("not-an-id"), 0o600))
	third := loadOrCreateInstallID(dir, discardLogger())
	require.True(t, privacy.IsValidInstallID(third))
	assert.NotEqual(t, "not-an-id", third)
}
