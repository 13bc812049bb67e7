// Package history exports worker lifecycle events to external stores for
// auditing and statistics. It never feeds back into supervision decisions.
package history

import (
	"context"
	"log/slog"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart  EventType = "start"  // worker left running by start
	EventStop   EventType = "stop"   // worker stopped by stop
	EventCrash  EventType = "crash"  // entry found dead
	EventLaunch EventType = "launch" // member spawned by a one-shot launch
	EventExit   EventType = "exit"   // one-shot member exited
)

// Record identifies the worker an event is about.
type Record struct {
	Team      string `json:"team"`
	Member    string `json:"member"`
	PID       int    `json:"pid"`
	Workspace string `json:"workspace,omitempty"`
	RunID     string `json:"run_id,omitempty"`
	ExitCode  *int   `json:"exit_code,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// NewEvent stamps an event with the current time.
func NewEvent(t EventType, r Record) Event {
	return Event{Type: t, OccurredAt: time.Now().UTC(), Record: r}
}

// Emit sends e to sink when one is configured. Failures are logged and
// swallowed: history is advisory.
func Emit(ctx context.Context, sink Sink, log *slog.Logger, e Event) {
	if sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sink.Send(ctx, e); err != nil && log != nil {
		log.Warn("history export failed", "event", string(e.Type), "member", e.Record.Member, "err", err)
	}
}

// ExitCode returns a pointer suitable for Record.ExitCode.
func ExitCode(code int) *int { return &code }
