package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loykin/botminter/internal/env"
	"github.com/loykin/botminter/internal/history"
	"github.com/loykin/botminter/internal/metrics"
	"github.com/loykin/botminter/internal/process"
	"github.com/loykin/botminter/internal/state"
	"github.com/loykin/botminter/internal/topology"
	"github.com/loykin/botminter/internal/workspace"
)

// StartResult tallies one Start call.
type StartResult struct {
	Launched int
	Skipped  int
	Errors   []error
}

func (r StartResult) String() string {
	return fmt.Sprintf("Started %d, skipped %d, %d error(s)", r.Launched, r.Skipped, len(r.Errors))
}

// Start launches every member that is not already running and leaves the
// workers running. Members that fail are reported in the result and the
// returned error; members that came up are not rolled back.
func (s *Supervisor) Start(ctx context.Context) (StartResult, error) {
	var res StartResult

	st, err := s.store.Load()
	if err != nil {
		return res, err
	}
	if removed := st.Reconcile(); len(removed) > 0 {
		for _, key := range removed {
			team, member, _ := state.SplitKey(key)
			s.log.Info("removed stale entry", "key", key)
			s.record(ctx, history.EventCrash, history.Record{Team: team, Member: member})
		}
		if err := s.store.Save(st); err != nil {
			return res, err
		}
	}

	manifest, err := workspace.ReadManifest(s.team.RepoDir())
	if err != nil {
		return res, err
	}
	if err := manifest.RequireCurrentSchema(s.team.Name); err != nil {
		return res, err
	}
	workerPath, err := s.lookWorker()
	if err != nil {
		return res, err
	}
	workerEnv, err := env.ForWorker(s.team)
	if err != nil {
		return res, err
	}
	members, err := workspace.Members(s.team.RepoDir())
	if err != nil {
		return res, fmt.Errorf("list members of %s: %w", s.team.Name, err)
	}

	for _, member := range members {
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, err)
			break
		}
		key := s.key(member)
		if e, ok := st.Get(key); ok && entryAlive(e) {
			s.log.Info("already running", "member", member, "pid", e.PID)
			res.Skipped++
			metrics.IncWorkerStart(s.team.Name, "skipped")
			continue
		}
		if err := s.startMember(ctx, st, workerPath, workerEnv, member); err != nil {
			s.log.Error("start failed", "member", member, "err", err)
			res.Errors = append(res.Errors, err)
			metrics.IncWorkerStart(s.team.Name, "error")
			continue
		}
		res.Launched++
		metrics.IncWorkerStart(s.team.Name, "launched")
	}
	s.countAlive(st)

	if len(res.Errors) > 0 {
		return res, fmt.Errorf("start %s: %w", s.team.Name, errors.Join(res.Errors...))
	}
	if err := s.writeTopology(st); err != nil {
		return res, err
	}
	return res, nil
}

func (s *Supervisor) startMember(ctx context.Context, st *state.RuntimeState, workerPath string, workerEnv []string, member string) error {
	ws, ok := workspace.Find(s.workzone, s.team.Name, member)
	if !ok {
		return fmt.Errorf("%s: %w under %s", member, ErrNoWorkspace, workspace.MemberDir(s.workzone, s.team.Name, member))
	}

	p := process.New(process.Spec{
		Name:    member,
		Command: workerPath,
		Args:    []string{"run", "-p", s.worker.Prompt},
		WorkDir: ws,
		Env:     workerEnv,
	})
	if err := p.Start(); err != nil {
		return fmt.Errorf("%s: %w", member, err)
	}

	// Persist before the grace wait so an interrupted start still knows
	// about the child.
	key := s.key(member)
	st.Put(key, state.Entry{PID: p.PID(), StartedAt: p.StartedAt().UTC(), Workspace: ws})
	if err := s.store.Save(st); err != nil {
		return fmt.Errorf("%s: %w", member, err)
	}
	rec := history.Record{Member: member, PID: p.PID(), Workspace: ws}

	if err := p.EnforceStartDuration(s.StartGrace); err != nil {
		st.Remove(key)
		if serr := s.store.Save(st); serr != nil {
			s.log.Warn("state save failed", "err", serr)
		}
		rec.ExitCode = history.ExitCode(p.ExitCode())
		rec.Error = ErrExitedImmediately.Error()
		s.record(ctx, history.EventCrash, rec)
		return fmt.Errorf("%s (pid %d): %w", member, p.PID(), ErrExitedImmediately)
	}

	s.log.Info("worker started", "member", member, "pid", p.PID(), "workspace", ws)
	s.record(ctx, history.EventStart, rec)
	return nil
}

func (s *Supervisor) writeTopology(st *state.RuntimeState) error {
	t := &topology.Topology{
		Formation: topology.FormationLocal,
		CreatedAt: time.Now().UTC(),
		Members:   map[string]topology.MemberTopology{},
	}
	for _, m := range st.TeamMembers(s.team.Name) {
		e, _ := st.Get(s.key(m))
		if !entryAlive(e) {
			continue
		}
		t.Members[m] = topology.MemberTopology{
			Status:   string(StateRunning),
			Endpoint: topology.LocalEndpoint{PID: e.PID, Workspace: e.Workspace},
		}
	}
	return topology.Save(s.TopologyPath(), t)
}
