// Package env composes the environment handed to worker processes.
package env

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/loykin/botminter/internal/config"
)

const (
	GHTokenVar       = "GH_TOKEN"
	TelegramTokenVar = "RALPH_TELEGRAM_BOT_TOKEN"
	// NestedSessionVar marks a process already running inside an agent
	// session; workers must not inherit it or they refuse to start.
	NestedSessionVar = "CLAUDECODE"
)

var ErrMissingGHToken = errors.New("no GitHub token configured")

type Var map[string]string

// Env layers overrides on top of a base environment.
type Env struct {
	base  Var // cached base; nil until FromOS or FromList
	set   Var
	unset map[string]struct{}
}

func New() *Env {
	return &Env{set: make(Var), unset: make(map[string]struct{})}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() { e.FromList(os.Environ()) }

// FromList uses kvs ("K=V") as the base.
func (e *Env) FromList(kvs []string) {
	e.base = parse(kvs)
}

// Set overrides K. It wins over the base and over Merge's extra entries.
func (e *Env) Set(k, v string) *Env {
	delete(e.unset, k)
	e.set[k] = v
	return e
}

// Unset drops K from the result whatever its source.
func (e *Env) Unset(k string) *Env {
	delete(e.set, k)
	e.unset[k] = struct{}{}
	return e
}

// Merge composes the final sorted "K=V" list: base, then extra with ${VAR}
// expanded against what is composed so far, then Set values, minus Unset keys.
func (e *Env) Merge(extra []string) []string {
	if e.base == nil {
		e.FromOS()
	}
	m := make(Var, len(e.base)+len(extra)+len(e.set))
	for k, v := range e.base {
		m[k] = v
	}
	for _, kv := range extra {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m[k] = expand(v, m)
	}
	for k, v := range e.set {
		m[k] = v
	}
	for k := range e.unset {
		delete(m, k)
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// ForWorker builds the environment of a team's worker: the caller's
// environment plus the team's extra entries, with the credentials injected
// and the nested-session marker removed.
func ForWorker(team *config.Team) ([]string, error) {
	if team.Credentials.GHToken == "" {
		return nil, fmt.Errorf("%w for team %q: set credentials.gh_token in the config", ErrMissingGHToken, team.Name)
	}
	extra, err := team.ExtraEnv()
	if err != nil {
		return nil, err
	}
	e := New()
	e.Unset(NestedSessionVar)
	e.Set(GHTokenVar, team.Credentials.GHToken)
	if tg := team.Credentials.TelegramBotToken; tg != "" {
		e.Set(TelegramTokenVar, tg)
	}
	return e.Merge(extra), nil
}

// Lookup returns the value of k in a "K=V" list.
func Lookup(kvs []string, k string) (string, bool) {
	for _, kv := range kvs {
		if key, v, ok := strings.Cut(kv, "="); ok && key == k {
			return v, true
		}
	}
	return "", false
}

func parse(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m[k] = v
	}
	return m
}

// expand replaces ${VAR} references; unknown names expand to "".
func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, func(name string) string { return m[name] })
}
