package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/botminter/internal/config"
	"github.com/loykin/botminter/internal/history"
	"github.com/loykin/botminter/internal/logger"
	"github.com/loykin/botminter/internal/metrics"
	"github.com/loykin/botminter/internal/process"
	"github.com/loykin/botminter/internal/workspace"
)

const (
	DefaultWaitPoll  = 500 * time.Millisecond
	DefaultTermGrace = 5 * time.Second
)

// Launcher runs every member of a team once and waits for all of them.
type Launcher struct {
	Team     *config.Team
	Workzone string
	Worker   config.Worker
	Env      []string
	Paths    Paths
	Shutdown *Shutdown
	Log      *slog.Logger
	Sinks    []history.Sink

	WaitPoll    time.Duration
	TermGrace   time.Duration
	RotateBytes int64
}

// LaunchResult summarises one launch.
type LaunchResult struct {
	RunID    string
	Launched int
	Exits    map[string]int // member -> exit code
	Errors   []error
}

type child struct {
	member string
	proc   *process.Process
	rec    history.Record
}

// Launch spawns members, each writing to its own append-only log, then
// blocks until every child has exited. When shutdown is requested while
// children run, each gets SIGTERM and, after TermGrace, SIGKILL.
func (l *Launcher) Launch(ctx context.Context, members []string) LaunchResult {
	res := LaunchResult{RunID: uuid.NewString(), Exits: map[string]int{}}
	log := l.logger().With("run_id", res.RunID)
	begin := time.Now()

	var children []*child
	for _, member := range members {
		c, err := l.spawn(member, res.RunID, log)
		if err != nil {
			log.Error("launch failed", "member", member, "err", err)
			res.Errors = append(res.Errors, err)
			continue
		}
		res.Launched++
		l.record(ctx, history.EventLaunch, c.rec)
		children = append(children, c)
	}
	log.Info("launched members", "count", res.Launched, "errors", len(res.Errors))

	l.wait(ctx, children, log)

	for _, c := range children {
		code := c.proc.ExitCode()
		res.Exits[c.member] = code
		rec := c.rec
		rec.ExitCode = history.ExitCode(code)
		if err := c.proc.ExitErr(); err != nil {
			rec.Error = err.Error()
			metrics.IncMemberExit(l.Team.Name, "error")
		} else {
			metrics.IncMemberExit(l.Team.Name, "ok")
		}
		log.Info("member exited", "member", c.member, "pid", rec.PID, "exit_code", code)
		l.record(ctx, history.EventExit, rec)
	}
	metrics.ObserveLaunch(l.Team.Name, time.Since(begin).Seconds())
	return res
}

func (l *Launcher) spawn(member, runID string, log *slog.Logger) (*child, error) {
	ws, ok := workspace.Find(l.Workzone, l.Team.Name, member)
	if !ok {
		return nil, fmt.Errorf("%s: no workspace under %s", member, workspace.MemberDir(l.Workzone, l.Team.Name, member))
	}
	logPath := l.Paths.MemberLog(member)
	limit := l.RotateBytes
	if limit <= 0 {
		limit = logger.DefaultRotateBytes
	}
	if err := logger.RotateIfLarge(logPath, limit); err != nil {
		log.Warn("member log rotation failed", "member", member, "err", err)
	}
	out, err := logger.OpenAppend(logPath)
	if err != nil {
		return nil, fmt.Errorf("%s: open log: %w", member, err)
	}
	// the child holds its own descriptor once started
	defer func() { _ = out.Close() }()

	command, prompt := l.Worker.Command, l.Worker.Prompt
	if command == "" {
		command = config.DefaultWorkerCommand
	}
	if prompt == "" {
		prompt = config.DefaultPrompt
	}
	p := process.New(process.Spec{
		Name:    member,
		Command: command,
		Args:    []string{"run", "-p", prompt},
		WorkDir: ws,
		Env:     l.Env,
		Stdout:  out,
		Stderr:  out,
	})
	if err := p.Start(); err != nil {
		return nil, fmt.Errorf("%s: %w", member, err)
	}
	log.Info("member started", "member", member, "pid", p.PID(), "log", logPath)
	return &child{
		member: member,
		proc:   p,
		rec: history.Record{
			Team:      l.Team.Name,
			Member:    member,
			PID:       p.PID(),
			Workspace: ws,
			RunID:     runID,
		},
	}, nil
}

func (l *Launcher) wait(ctx context.Context, children []*child, log *slog.Logger) {
	step := l.WaitPoll
	if step <= 0 {
		step = DefaultWaitPoll
	}
	for {
		running := 0
		for _, c := range children {
			if !c.proc.Exited() {
				running++
			}
		}
		if running == 0 {
			return
		}
		if l.stopRequested(ctx) {
			log.Info("shutdown requested, terminating members", "running", running)
			l.terminate(children)
			return
		}
		time.Sleep(step)
	}
}

func (l *Launcher) stopRequested(ctx context.Context) bool {
	return ctx.Err() != nil || (l.Shutdown != nil && l.Shutdown.Requested())
}

func (l *Launcher) terminate(children []*child) {
	grace := l.TermGrace
	if grace <= 0 {
		grace = DefaultTermGrace
	}
	var wg sync.WaitGroup
	for _, c := range children {
		if c.proc.Exited() {
			continue
		}
		wg.Add(1)
		go func(c *child) {
			defer wg.Done()
			if c.proc.Stop(grace) {
				l.logger().Warn("member killed after grace period", "member", c.member, "pid", c.proc.PID())
			}
		}(c)
	}
	wg.Wait()
}

func (l *Launcher) record(ctx context.Context, t history.EventType, r history.Record) {
	e := history.NewEvent(t, r)
	// exits are still recorded while the daemon unwinds
	ctx = context.WithoutCancel(ctx)
	for _, s := range l.Sinks {
		history.Emit(ctx, s, l.logger(), e)
	}
}

func (l *Launcher) logger() *slog.Logger {
	if l.Log != nil {
		return l.Log
	}
	return slog.Default()
}

// Err joins the per-member errors.
func (r LaunchResult) Err() error { return errors.Join(r.Errors...) }
