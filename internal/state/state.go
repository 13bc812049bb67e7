// Package state persists which worker process belongs to which team member.
//
// The file is the only record of spawned workers: it is reloaded on every
// invocation and every entry is corroborated with a liveness probe before it
// is trusted. Writers are not locked against each other; the last save wins.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/loykin/botminter/internal/detector"
	"github.com/loykin/botminter/internal/fileutil"
)

// FileName is the state file name inside the config dir.
const FileName = "state.json"

// Entry is one spawned worker.
type Entry struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Workspace string    `json:"workspace"`
}

// Alive reports whether the entry's worker is still running. A live PID whose
// process started after StartedAt (beyond detector.StartSlack) was recycled.
func (e Entry) Alive() bool {
	ok, err := detector.PIDDetector{PID: e.PID, RecordedAt: e.StartedAt}.Alive()
	return err == nil && ok
}

// RuntimeState maps member keys ("team/member") to their worker.
type RuntimeState struct {
	Members map[string]Entry `json:"members"`
}

// Key joins team and member into the state map key.
func Key(team, member string) string { return team + "/" + member }

// SplitKey is the inverse of Key.
func SplitKey(key string) (team, member string, ok bool) {
	return strings.Cut(key, "/")
}

func New() *RuntimeState { return &RuntimeState{Members: map[string]Entry{}} }

func (s *RuntimeState) Get(key string) (Entry, bool) {
	e, ok := s.Members[key]
	return e, ok
}

func (s *RuntimeState) Put(key string, e Entry) {
	if s.Members == nil {
		s.Members = map[string]Entry{}
	}
	s.Members[key] = e
}

func (s *RuntimeState) Remove(key string) { delete(s.Members, key) }

// TeamMembers returns the member names of team that have an entry, sorted.
func (s *RuntimeState) TeamMembers(team string) []string {
	var out []string
	for key := range s.Members {
		t, m, ok := SplitKey(key)
		if ok && t == team {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

// Reconcile drops every entry whose process is gone, or whose PID now belongs
// to a process started after the entry was recorded, and returns the removed
// keys in sorted order.
func (s *RuntimeState) Reconcile() []string { return s.reconcile(Entry.Alive) }

func (s *RuntimeState) reconcile(alive func(Entry) bool) []string {
	var removed []string
	for key, e := range s.Members {
		if !alive(e) {
			removed = append(removed, key)
		}
	}
	for _, key := range removed {
		delete(s.Members, key)
	}
	sort.Strings(removed)
	return removed
}

// Store loads and saves a RuntimeState file.
type Store struct {
	path string
}

func NewStore(path string) *Store { return &Store{path: path} }

// DefaultPath places the state file inside dir.
func DefaultPath(dir string) string { return filepath.Join(dir, FileName) }

func (st *Store) Path() string { return st.path }

// Load returns an empty state when the file is absent. A present but
// unreadable or unparsable file is an error: guessing would lose track of
// running workers.
func (st *Store) Load() (*RuntimeState, error) {
	b, err := os.ReadFile(st.path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("read state %s: %w", st.path, err)
	}
	s := New()
	if err := json.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", st.path, err)
	}
	if s.Members == nil {
		s.Members = map[string]Entry{}
	}
	return s, nil
}

// Save writes s atomically with owner-only permissions.
func (st *Store) Save(s *RuntimeState) error {
	if s.Members == nil {
		s.Members = map[string]Entry{}
	}
	if err := fileutil.AtomicWriteJSON(st.path, s, 0o600); err != nil {
		return fmt.Errorf("write state %s: %w", st.path, err)
	}
	return nil
}
