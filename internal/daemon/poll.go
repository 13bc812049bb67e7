package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/loykin/botminter/internal/metrics"
)

var ErrNoRepo = errors.New("no github_repo configured")

// RemoteEvent is one entry of the repository events feed.
type RemoteEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// EventSource returns a repository's recent events, newest first.
type EventSource interface {
	Events(ctx context.Context, repo string) ([]RemoteEvent, error)
}

// GHEventSource reads the events API through the gh CLI.
type GHEventSource struct {
	Command string   // defaults to "gh"
	Env     []string // must carry GH_TOKEN
}

const eventsJQ = `[.[] | {id: .id, type: .type}]`

func (g GHEventSource) Events(ctx context.Context, repo string) ([]RemoteEvent, error) {
	cmd := g.Command
	if cmd == "" {
		cmd = "gh"
	}
	c := exec.CommandContext(ctx, cmd, "api", "repos/"+repo+"/events", "--paginate", "--jq", eventsJQ)
	c.Env = g.Env
	var stderr bytes.Buffer
	c.Stderr = &stderr
	out, err := c.Output()
	if err != nil {
		return nil, fmt.Errorf("gh api repos/%s/events: %w: %s", repo, err, strings.TrimSpace(stderr.String()))
	}
	return DecodeEventStream(bytes.NewReader(out))
}

// DecodeEventStream reads one JSON array per page, as --paginate emits them,
// and concatenates the pages.
func DecodeEventStream(r io.Reader) ([]RemoteEvent, error) {
	dec := json.NewDecoder(r)
	var all []RemoteEvent
	for {
		var page []RemoteEvent
		if err := dec.Decode(&page); err != nil {
			if errors.Is(err, io.EOF) {
				return all, nil
			}
			return nil, fmt.Errorf("decode events: %w", err)
		}
		all = append(all, page...)
	}
}

// NewEvents returns the events that precede lastID in a newest-first feed.
// Without a cursor every event is new.
func NewEvents(events []RemoteEvent, lastID *string) []RemoteEvent {
	if lastID == nil {
		return events
	}
	for i, e := range events {
		if e.ID == *lastID {
			return events[:i]
		}
	}
	return events
}

// Poller drives poll mode.
type Poller struct {
	ResolveRepo func() (string, error)
	Source      EventSource
	CursorPath  string
	Interval    time.Duration
	Shutdown    *Shutdown
	Launch      func(ctx context.Context)
	Log         *slog.Logger

	cursor *Cursor
}

// Run polls until shutdown. Errors of a single cycle are logged and the
// loop carries on.
func (p *Poller) Run(ctx context.Context) {
	p.init()
	p.Log.Info("poll mode started", "interval", p.Interval.String())
	for !p.Shutdown.Requested() {
		if _, err := p.Cycle(ctx); err != nil {
			p.Log.Error("poll cycle failed", "err", err)
		}
		if !p.Shutdown.Sleep(p.Interval) {
			break
		}
	}
	p.Log.Info("received shutdown signal, stopping poll loop")
}

// Cycle performs one fetch and returns how many new relevant events it saw.
func (p *Poller) Cycle(ctx context.Context) (int, error) {
	p.init()
	repo, err := p.ResolveRepo()
	if err == nil && repo == "" {
		err = ErrNoRepo
	}
	if err != nil {
		metrics.IncPollCycle("error")
		return 0, fmt.Errorf("resolve repo: %w", err)
	}

	events, err := p.Source.Events(ctx, repo)
	if err != nil {
		metrics.IncPollCycle("error")
		return 0, err
	}

	relevant := 0
	for _, e := range NewEvents(events, p.cursor.LastEventID) {
		ok := IsRelevant(e.Type)
		metrics.IncEvent(ModePoll, ok)
		if ok {
			relevant++
		}
	}
	if relevant > 0 {
		p.Log.Info("found relevant events", "count", relevant, "repo", repo)
		metrics.IncPollCycle("launch")
		p.Launch(ctx)
	} else {
		metrics.IncPollCycle("idle")
	}

	if len(events) > 0 {
		id := events[0].ID
		p.cursor.LastEventID = &id
	}
	now := time.Now().UTC()
	p.cursor.LastPollAt = &now
	if err := SaveCursor(p.CursorPath, p.cursor); err != nil {
		return relevant, err
	}
	return relevant, nil
}

func (p *Poller) init() {
	if p.Log == nil {
		p.Log = slog.Default()
	}
	if p.Shutdown == nil {
		p.Shutdown = &Shutdown{}
	}
	if p.cursor == nil {
		p.cursor = LoadCursor(p.CursorPath, p.Log)
	}
}
