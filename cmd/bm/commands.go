package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/loykin/botminter/internal/config"
	"github.com/loykin/botminter/internal/daemon"
	"github.com/loykin/botminter/internal/history"
	"github.com/loykin/botminter/internal/history/factory"
	"github.com/loykin/botminter/internal/state"
	"github.com/loykin/botminter/internal/supervisor"
	"github.com/loykin/botminter/internal/workspace"
)

type command struct {
	out    io.Writer
	log    *slog.Logger
	global *GlobalFlags
}

func (c *command) resolve() (*config.Config, *config.Team, error) {
	cfg, err := config.Load(c.global.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	team, err := cfg.ResolveTeam(c.global.Team)
	if err != nil {
		return nil, nil, err
	}
	return cfg, team, nil
}

// openSinks opens the configured history sink. A broken sink only warns.
func (c *command) openSinks(cfg *config.Config) ([]history.Sink, func()) {
	if cfg.History.DSN == "" {
		return nil, func() {}
	}
	sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
	if err != nil {
		c.log.Warn("history sink disabled", "err", err)
		return nil, func() {}
	}
	return []history.Sink{sink}, func() { _ = sink.Close() }
}

func (c *command) supervisor(cfg *config.Config, team *config.Team) (*supervisor.Supervisor, func()) {
	sup := supervisor.New(supervisor.Options{
		Team:      team,
		Workzone:  cfg.Workzone,
		Worker:    cfg.Worker,
		StatePath: state.DefaultPath(config.Dir()),
		Logger:    c.log,
	})
	sinks, closeSinks := c.openSinks(cfg)
	sup.SetHistorySinks(sinks...)
	return sup, closeSinks
}

func (c *command) Start(ctx context.Context) error {
	cfg, team, err := c.resolve()
	if err != nil {
		return err
	}
	sup, done := c.supervisor(cfg, team)
	defer done()

	res, err := sup.Start(ctx)
	for _, e := range res.Errors {
		_, _ = fmt.Fprintf(c.out, "  error: %v\n", e)
	}
	_, _ = fmt.Fprintln(c.out, res.String())
	return err
}

func (c *command) Stop(ctx context.Context, f StopFlags) error {
	cfg, team, err := c.resolve()
	if err != nil {
		return err
	}
	sup, done := c.supervisor(cfg, team)
	defer done()

	res, err := sup.Stop(ctx, f.Force)
	if len(res.Members) == 0 && err == nil {
		_, _ = fmt.Fprintf(c.out, "No members running for team %s\n", team.Name)
		return nil
	}
	stopped := 0
	for _, m := range res.Members {
		_, _ = fmt.Fprintf(c.out, "%s: %s (pid %d)\n", m.Member, m.Outcome, m.PID)
		switch m.Outcome {
		case supervisor.OutcomeTimeout, supervisor.OutcomeFailed:
		default:
			stopped++
		}
	}
	_, _ = fmt.Fprintf(c.out, "Stopped %d member(s)\n", stopped)
	return err
}

func (c *command) Status(ctx context.Context) error {
	cfg, team, err := c.resolve()
	if err != nil {
		return err
	}
	sup, done := c.supervisor(cfg, team)
	defer done()

	rows, err := sup.Status()
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "Team: %s\n", team.Name)
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(c.out, "No members")
	} else {
		tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "MEMBER\tSTATE\tPID\tSTARTED\tWORKSPACE")
		for _, r := range rows {
			pid, started := "-", "-"
			if r.State != supervisor.StateStopped {
				pid = fmt.Sprint(r.PID)
				started = r.StartedAt.Local().Format(time.DateTime)
			}
			ws := r.Workspace
			if ws == "" {
				ws = "-"
			}
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Member, r.State, pid, started, ws)
		}
		_ = tw.Flush()
	}

	healed, err := sup.Heal(ctx)
	if err != nil {
		return err
	}
	if len(healed) > 0 {
		_, _ = fmt.Fprintf(c.out, "Cleaned up %d crashed entr(ies)\n", len(healed))
	}

	ds, err := c.controller(team).Status()
	if err == nil && ds.State == daemon.StateRunning {
		_, _ = fmt.Fprintf(c.out, "Daemon: running (PID %d)\n", ds.PID)
	}
	return nil
}

func (c *command) controller(team *config.Team) *daemon.Controller {
	ctl := daemon.NewController(daemon.NewPaths(config.Dir(), team.Name))
	ctl.Log = c.log
	return ctl
}

func (c *command) DaemonStart(f DaemonStartFlags) error {
	_, team, err := c.resolve()
	if err != nil {
		return err
	}
	manifest, err := workspace.ReadManifest(team.RepoDir())
	if err != nil {
		return err
	}
	if err := manifest.RequireCurrentSchema(team.Name); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(c.out, "Starting daemon for team %s in %s mode...\n", team.Name, f.Mode)
	rec, err := c.controller(team).Start(daemon.StartOptions{
		Mode:          f.Mode,
		Port:          f.Port,
		Interval:      time.Duration(f.Interval) * time.Second,
		ConfigPath:    c.global.ConfigPath,
		MetricsListen: f.MetricsListen,
	})
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "Daemon started (PID %d)\n", rec.PID)
	return nil
}

func (c *command) DaemonStop() error {
	_, team, err := c.resolve()
	if err != nil {
		return err
	}
	if err := c.controller(team).Stop(); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.out, "Daemon stopped")
	return nil
}

func (c *command) DaemonStatus() error {
	_, team, err := c.resolve()
	if err != nil {
		return err
	}
	st, err := c.controller(team).Status()
	if err != nil {
		return err
	}
	switch st.State {
	case daemon.StateNotRunning:
		_, _ = fmt.Fprintln(c.out, "Daemon: not running")
	case daemon.StateCorrupt:
		_, _ = fmt.Fprintln(c.out, "Daemon: not running (corrupt PID file)")
	case daemon.StateStale:
		_, _ = fmt.Fprintln(c.out, "Daemon: not running (stale PID file)")
	case daemon.StateRunning:
		_, _ = fmt.Fprintf(c.out, "Daemon: running (PID %d)\n", st.PID)
		if r := st.Record; r != nil {
			switch r.Mode {
			case daemon.ModeWebhook:
				_, _ = fmt.Fprintf(c.out, "Mode: webhook (port %d)\n", r.Port)
			case daemon.ModePoll:
				_, _ = fmt.Fprintf(c.out, "Mode: poll (interval %ds)\n", r.IntervalSecs)
			default:
				_, _ = fmt.Fprintf(c.out, "Mode: %s\n", r.Mode)
			}
			_, _ = fmt.Fprintf(c.out, "Started: %s\n", r.StartedAt.Local().Format(time.DateTime))
		}
		_, _ = fmt.Fprintf(c.out, "Team: %s\n", team.Name)
		_, _ = fmt.Fprintf(c.out, "Log: %s\n", st.LogPath)
	}
	return nil
}

// DaemonRun is the body of the detached daemon process.
func (c *command) DaemonRun(ctx context.Context, f DaemonRunFlags) error {
	_, team, err := c.resolve()
	if err != nil {
		return err
	}
	log, closer := newDaemonLogger(daemon.NewPaths(config.Dir(), team.Name).DaemonLog())
	defer func() { _ = closer.Close() }()

	err = daemon.Run(ctx, daemon.RunOptions{
		Team:          team.Name,
		Mode:          f.Mode,
		Port:          f.Port,
		Interval:      time.Duration(f.Interval) * time.Second,
		ConfigPath:    c.global.ConfigPath,
		MetricsListen: f.MetricsListen,
		Log:           log,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("daemon failed", "err", err)
	}
	return err
}
