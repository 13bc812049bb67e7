package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/loykin/botminter/internal/env"
	"github.com/loykin/botminter/internal/history"
	"github.com/loykin/botminter/internal/metrics"
	"github.com/loykin/botminter/internal/process"
	"github.com/loykin/botminter/internal/state"
	"github.com/loykin/botminter/internal/topology"
)

// Stop outcomes per member.
const (
	OutcomeStopped       = "stopped"
	OutcomeKilled        = "killed"
	OutcomeAlreadyExited = "already exited"
	OutcomeTimeout       = "timeout"
	OutcomeFailed        = "failed"
)

// stopHookWaitDelay bounds how long the stop hook's output pipe may stay open
// after the hook exits or is killed.
const stopHookWaitDelay = 500 * time.Millisecond

// MemberOutcome is what Stop did to one member.
type MemberOutcome struct {
	Member  string
	PID     int
	Outcome string
}

// StopResult lists per-member outcomes in member order.
type StopResult struct {
	Members []MemberOutcome
	Errors  []error
}

// Stop stops every member of the team that has an entry. A graceful stop
// asks the worker to wind down and waits; it never escalates to a kill.
// With force the process group is killed outright.
func (s *Supervisor) Stop(ctx context.Context, force bool) (StopResult, error) {
	var res StopResult

	st, err := s.store.Load()
	if err != nil {
		return res, err
	}

	for _, member := range st.TeamMembers(s.team.Name) {
		key := s.key(member)
		e, _ := st.Get(key)
		out := MemberOutcome{Member: member, PID: e.PID}
		rec := history.Record{Member: member, PID: e.PID, Workspace: e.Workspace}

		switch {
		case !entryAlive(e):
			out.Outcome = OutcomeAlreadyExited
			st.Remove(key)
			s.record(ctx, history.EventCrash, rec)
		case force:
			s.forceStop(e.PID)
			out.Outcome = OutcomeKilled
			st.Remove(key)
			s.record(ctx, history.EventStop, rec)
		default:
			if err := s.gracefulStop(ctx, e); err != nil {
				out.Outcome = OutcomeFailed
				if errors.Is(err, ErrStopTimeout) {
					out.Outcome = OutcomeTimeout
				}
				err = fmt.Errorf("%s (pid %d): %w", member, e.PID, err)
				res.Errors = append(res.Errors, err)
				rec.Error = err.Error()
				s.record(ctx, history.EventStop, rec)
			} else {
				out.Outcome = OutcomeStopped
				st.Remove(key)
				s.record(ctx, history.EventStop, rec)
			}
		}
		s.log.Info("stop", "member", member, "pid", e.PID, "outcome", out.Outcome)
		metrics.IncWorkerStop(s.team.Name, out.Outcome)
		res.Members = append(res.Members, out)
		if err := s.store.Save(st); err != nil {
			return res, err
		}
	}
	s.countAlive(st)

	if len(res.Errors) > 0 {
		return res, fmt.Errorf("stop %s: %w", s.team.Name, errors.Join(res.Errors...))
	}
	if err := topology.Remove(s.TopologyPath()); err != nil {
		return res, err
	}
	return res, nil
}

func (s *Supervisor) forceStop(pid int) {
	if err := process.Kill(pid); err != nil {
		s.log.Warn("kill failed", "pid", pid, "err", err)
	}
	if !process.WaitGone(pid, s.KillWait, 100*time.Millisecond, nil) {
		s.log.Warn("process still present after kill", "pid", pid)
	}
}

// gracefulStop runs "<worker> loops stop" in the member's workspace and
// polls until the process is gone. The hook and the poll share one
// StopTimeout deadline. A failing hook is reported without waiting.
func (s *Supervisor) gracefulStop(ctx context.Context, e state.Entry) error {
	deadline := time.Now().Add(s.StopTimeout)
	workerEnv, err := env.ForWorker(s.team)
	if err != nil {
		workerEnv = os.Environ()
	}

	hookCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	cmd := exec.CommandContext(hookCtx, s.worker.Command, "loops", "stop")
	cmd.Dir = e.Workspace
	cmd.Env = workerEnv
	cmd.WaitDelay = stopHookWaitDelay
	out, err := cmd.CombinedOutput()
	switch {
	case err == nil, errors.Is(err, exec.ErrWaitDelay):
		// a child the hook left behind holds the pipe; the hook itself succeeded
	case ctx.Err() != nil:
		return ctx.Err()
	case hookCtx.Err() != nil:
		return fmt.Errorf("%w after %s (stop hook still running); use --force", ErrStopTimeout, s.StopTimeout)
	default:
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return fmt.Errorf("%w: %v", ErrStopHook, err)
		}
		return fmt.Errorf("%w: %v: %s", ErrStopHook, err, msg)
	}

	if process.WaitGone(e.PID, time.Until(deadline), s.StopPoll, func() bool { return ctx.Err() != nil }) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w after %s; use --force", ErrStopTimeout, s.StopTimeout)
}
