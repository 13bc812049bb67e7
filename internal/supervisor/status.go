package supervisor

import (
	"context"
	"time"

	"github.com/loykin/botminter/internal/history"
	"github.com/loykin/botminter/internal/workspace"
)

// State classifies one member.
type State string

const (
	StateRunning State = "running"
	StateCrashed State = "crashed"
	StateStopped State = "stopped"
)

// MemberStatus is one row of Status.
type MemberStatus struct {
	Member    string
	State     State
	PID       int       // zero when stopped
	StartedAt time.Time // zero when stopped
	Workspace string
}

// Status classifies every member without modifying anything. Crashed
// entries stay until Heal or the next Start removes them.
func (s *Supervisor) Status() ([]MemberStatus, error) {
	st, err := s.store.Load()
	if err != nil {
		return nil, err
	}
	members, err := s.members(st)
	if err != nil {
		return nil, err
	}
	out := make([]MemberStatus, 0, len(members))
	for _, m := range members {
		ms := MemberStatus{Member: m, State: StateStopped}
		if e, ok := st.Get(s.key(m)); ok {
			ms.PID, ms.StartedAt, ms.Workspace = e.PID, e.StartedAt, e.Workspace
			if entryAlive(e) {
				ms.State = StateRunning
			} else {
				ms.State = StateCrashed
			}
		} else if ws, ok := workspace.Find(s.workzone, s.team.Name, m); ok {
			ms.Workspace = ws
		}
		out = append(out, ms)
	}
	return out, nil
}

// Heal removes the team's entries whose process is gone and returns the
// affected members.
func (s *Supervisor) Heal(ctx context.Context) ([]string, error) {
	st, err := s.store.Load()
	if err != nil {
		return nil, err
	}
	var healed []string
	for _, m := range st.TeamMembers(s.team.Name) {
		key := s.key(m)
		e, _ := st.Get(key)
		if entryAlive(e) {
			continue
		}
		st.Remove(key)
		healed = append(healed, m)
		s.log.Info("removed crashed entry", "member", m, "pid", e.PID)
		s.record(ctx, history.EventCrash, history.Record{Member: m, PID: e.PID, Workspace: e.Workspace})
	}
	if len(healed) > 0 {
		if err := s.store.Save(st); err != nil {
			return healed, err
		}
	}
	s.countAlive(st)
	return healed, nil
}
