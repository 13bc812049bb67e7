package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/loykin/botminter/internal/fileutil"
)

// Modes.
const (
	ModeWebhook = "webhook"
	ModePoll    = "poll"
)

var ErrInvalidMode = errors.New("invalid daemon mode")

// ValidateMode accepts webhook or poll.
func ValidateMode(mode string) error {
	switch mode {
	case ModeWebhook, ModePoll:
		return nil
	}
	return fmt.Errorf("%w %q: use %s or %s", ErrInvalidMode, mode, ModeWebhook, ModePoll)
}

// Record describes a started daemon; it sits next to the PID file.
type Record struct {
	Team         string    `json:"team"`
	Mode         string    `json:"mode"`
	Port         int       `json:"port"`
	IntervalSecs int       `json:"interval_secs"`
	PID          int       `json:"pid"`
	StartedAt    time.Time `json:"started_at"`
}

func SaveRecord(path string, r *Record) error {
	if err := fileutil.AtomicWriteJSON(path, r, 0o600); err != nil {
		return fmt.Errorf("write daemon record %s: %w", path, err)
	}
	return nil
}

func LoadRecord(path string) (*Record, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("parse daemon record %s: %w", path, err)
	}
	return &r, nil
}

// Cursor remembers how far the poll loop has read the event feed.
type Cursor struct {
	LastEventID *string    `json:"last_event_id,omitempty"`
	LastPollAt  *time.Time `json:"last_poll_at,omitempty"`
}

// LoadCursor returns an empty cursor when the file is missing or unreadable;
// the worst outcome of forgetting it is one extra launch.
func LoadCursor(path string, log *slog.Logger) *Cursor {
	b, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) && log != nil {
			log.Warn("poll cursor unreadable, starting empty", "path", path, "err", err)
		}
		return &Cursor{}
	}
	var c Cursor
	if err := json.Unmarshal(b, &c); err != nil {
		if log != nil {
			log.Warn("poll cursor corrupt, starting empty", "path", path, "err", err)
		}
		return &Cursor{}
	}
	return &c
}

func SaveCursor(path string, c *Cursor) error {
	if err := fileutil.AtomicWriteJSON(path, c, 0o600); err != nil {
		return fmt.Errorf("write poll cursor %s: %w", path, err)
	}
	return nil
}
