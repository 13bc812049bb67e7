// Package supervisor starts, stops and inspects the long-running workers of
// a team. Nothing is kept in memory between invocations: the state file is
// the registry and liveness is always re-probed.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"time"

	"github.com/loykin/botminter/internal/config"
	"github.com/loykin/botminter/internal/history"
	"github.com/loykin/botminter/internal/metrics"
	"github.com/loykin/botminter/internal/state"
	"github.com/loykin/botminter/internal/topology"
	"github.com/loykin/botminter/internal/workspace"
)

var (
	ErrNoWorkspace       = errors.New("no workspace")
	ErrExitedImmediately = errors.New("exited immediately")
	ErrStopTimeout       = errors.New("did not stop in time")
	ErrStopHook          = errors.New("stop hook failed")
	ErrWorkerNotFound    = errors.New("worker executable not found")
)

const (
	DefaultStartGrace  = 2 * time.Second
	DefaultStopTimeout = 60 * time.Second
	DefaultStopPoll    = time.Second
	DefaultKillWait    = 5 * time.Second
)

// Options wires a Supervisor to one team.
type Options struct {
	Team      *config.Team
	Workzone  string
	Worker    config.Worker
	StatePath string
	Logger    *slog.Logger
}

// Supervisor manages the workers of one team.
type Supervisor struct {
	team     *config.Team
	workzone string
	worker   config.Worker
	store    *state.Store
	log      *slog.Logger
	sinks    []history.Sink

	// Timings; tests shorten them.
	StartGrace  time.Duration
	StopTimeout time.Duration
	StopPoll    time.Duration
	KillWait    time.Duration
}

func New(o Options) *Supervisor {
	w := o.Worker
	if w.Command == "" {
		w.Command = config.DefaultWorkerCommand
	}
	if w.Prompt == "" {
		w.Prompt = config.DefaultPrompt
	}
	log := o.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		team:        o.Team,
		workzone:    o.Workzone,
		worker:      w,
		store:       state.NewStore(o.StatePath),
		log:         log.With("team", o.Team.Name),
		StartGrace:  DefaultStartGrace,
		StopTimeout: DefaultStopTimeout,
		StopPoll:    DefaultStopPoll,
		KillWait:    DefaultKillWait,
	}
}

// SetHistorySinks configures where lifecycle events are exported.
// Passing nil or no sinks clears the list.
func (s *Supervisor) SetHistorySinks(sinks ...history.Sink) {
	s.sinks = append([]history.Sink(nil), sinks...)
}

func (s *Supervisor) TopologyPath() string { return topology.Path(s.workzone, s.team.Name) }

func (s *Supervisor) key(member string) string { return state.Key(s.team.Name, member) }

func (s *Supervisor) record(ctx context.Context, t history.EventType, r history.Record) {
	if r.Team == "" {
		r.Team = s.team.Name
	}
	e := history.NewEvent(t, r)
	for _, sink := range s.sinks {
		history.Emit(ctx, sink, s.log, e)
	}
}

// entryAlive probes e's PID and rejects a PID recycled after e was recorded.
func entryAlive(e state.Entry) bool { return e.Alive() }

// members is every hired member plus every member that still has an entry.
func (s *Supervisor) members(st *state.RuntimeState) ([]string, error) {
	hired, err := workspace.Members(s.team.RepoDir())
	if err != nil {
		return nil, fmt.Errorf("list members of %s: %w", s.team.Name, err)
	}
	seen := make(map[string]bool, len(hired))
	out := make([]string, 0, len(hired))
	for _, m := range hired {
		seen[m] = true
		out = append(out, m)
	}
	if st != nil {
		for _, m := range st.TeamMembers(s.team.Name) {
			if !seen[m] {
				out = append(out, m)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Supervisor) lookWorker() (string, error) {
	path, err := exec.LookPath(s.worker.Command)
	if err != nil {
		return "", fmt.Errorf("%w: %q is not on PATH", ErrWorkerNotFound, s.worker.Command)
	}
	return path, nil
}

// countAlive updates the running gauge from st.
func (s *Supervisor) countAlive(st *state.RuntimeState) int {
	n := 0
	for _, m := range st.TeamMembers(s.team.Name) {
		if e, ok := st.Get(s.key(m)); ok && entryAlive(e) {
			n++
		}
	}
	metrics.SetRunningWorkers(s.team.Name, n)
	return n
}
