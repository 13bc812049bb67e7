package daemon

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaths(t *testing.T) {
	p := NewPaths("/cfg", "alpha")
	assert.Equal(t, filepath.Join("/cfg", "daemon-alpha.pid"), p.PIDFile())
	assert.Equal(t, filepath.Join("/cfg", "daemon-alpha.json"), p.RecordFile())
	assert.Equal(t, filepath.Join("/cfg", "daemon-alpha-poll.json"), p.CursorFile())
	assert.Equal(t, filepath.Join("/cfg", "daemon-alpha.lock"), p.LockFile())
	assert.Equal(t, filepath.Join("/cfg", "logs", "daemon-alpha.log"), p.DaemonLog())
	assert.Equal(t, filepath.Join("/cfg", "logs", "member-alpha-arch-01.log"), p.MemberLog("arch-01"))
}

func TestRecordRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon-alpha.json")
	in := &Record{
		Team:         "alpha",
		Mode:         ModePoll,
		Port:         8484,
		IntervalSecs: 30,
		PID:          4242,
		StartedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, SaveRecord(path, in))
	out, err := LoadRecord(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	for _, key := range []string{`"team"`, `"mode"`, `"port"`, `"interval_secs"`, `"pid"`, `"started_at"`} {
		assert.Contains(t, string(b), key)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poll.json")
	id := "12345678"
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, SaveCursor(path, &Cursor{LastEventID: &id, LastPollAt: &at}))

	c := LoadCursor(path, nil)
	require.NotNil(t, c.LastEventID)
	assert.Equal(t, id, *c.LastEventID)
	require.NotNil(t, c.LastPollAt)
	assert.True(t, at.Equal(*c.LastPollAt))
}

func TestCursorOmitsUnsetFields(t *testing.T) {
	b, err := json.Marshal(&Cursor{})
	require.NoError(t, err)
	assert.Equal(t, "{}", string(b))
}

func TestLoadCursorMissingOrCorrupt(t *testing.T) {
	dir := t.TempDir()
	c := LoadCursor(filepath.Join(dir, "missing.json"), nil)
	assert.Nil(t, c.LastEventID)
	assert.Nil(t, c.LastPollAt)

	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{not json"), 0o600))
	c = LoadCursor(corrupt, nil)
	assert.Nil(t, c.LastEventID)
}

func TestValidateMode(t *testing.T) {
	assert.NoError(t, ValidateMode(ModeWebhook))
	assert.NoError(t, ValidateMode(ModePoll))
	err := ValidateMode("cron")
	assert.ErrorIs(t, err, ErrInvalidMode)
	assert.True(t, strings.Contains(err.Error(), "cron"))
}
