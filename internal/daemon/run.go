package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/botminter/internal/config"
	"github.com/loykin/botminter/internal/env"
	"github.com/loykin/botminter/internal/fileutil"
	"github.com/loykin/botminter/internal/history"
	"github.com/loykin/botminter/internal/history/factory"
	"github.com/loykin/botminter/internal/metrics"
	"github.com/loykin/botminter/internal/process"
	"github.com/loykin/botminter/internal/server"
	"github.com/loykin/botminter/internal/workspace"
)

var (
	ErrAlreadyRunning = errors.New("daemon already running")
	ErrNotRunning     = errors.New("daemon not running")
)

// RunOptions configures the foreground daemon loop (daemon-run).
type RunOptions struct {
	Team          string
	Mode          string
	Port          int
	Interval      time.Duration
	ConfigPath    string
	Dir           string // config dir; config.Dir() when empty
	MetricsListen string
	Log           *slog.Logger

	// Overrides used by tests.
	Listener net.Listener
	Source   EventSource
}

// Run holds the team's daemon lock and serves the chosen mode until a
// termination signal arrives or ctx is cancelled.
func Run(ctx context.Context, o RunOptions) error {
	if err := ValidateMode(o.Mode); err != nil {
		return err
	}
	log := o.Log
	if log == nil {
		log = slog.Default()
	}
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return err
	}
	team, err := cfg.ResolveTeam(o.Team)
	if err != nil {
		return err
	}
	dir := o.Dir
	if dir == "" {
		dir = config.Dir()
	}
	paths := NewPaths(dir, team.Name)
	log = log.With("team", team.Name)

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	lock := flock.New(paths.LockFile())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", paths.LockFile(), err)
	}
	if !locked {
		return fmt.Errorf("%w for team %s", ErrAlreadyRunning, team.Name)
	}
	defer func() { _ = lock.Unlock() }()
	defer cleanupOwnFiles(paths)

	workerEnv, err := env.ForWorker(team)
	if err != nil {
		return err
	}

	sd := &Shutdown{}
	stopWatch := WatchSignals(ctx, sd)
	defer stopWatch()

	if o.MetricsListen != "" {
		stop, err := serveMetrics(o.MetricsListen, log)
		if err != nil {
			return err
		}
		defer stop()
	}

	var sinks []history.Sink
	if dsn := cfg.History.DSN; dsn != "" {
		sink, err := factory.NewSinkFromDSN(dsn)
		if err != nil {
			log.Warn("history sink disabled", "err", err)
		} else {
			sinks = append(sinks, sink)
			defer func() { _ = sink.Close() }()
		}
	}

	launcher := &Launcher{
		Team:     team,
		Workzone: cfg.Workzone,
		Worker:   cfg.Worker,
		Env:      workerEnv,
		Paths:    paths,
		Shutdown: sd,
		Log:      log,
		Sinks:    sinks,
	}
	launch := func(ctx context.Context) {
		members, err := workspace.Members(team.RepoDir())
		if err != nil {
			log.Error("member launch failed", "err", err)
			return
		}
		res := launcher.Launch(ctx, members)
		if err := res.Err(); err != nil {
			log.Error("member launch failed", "run_id", res.RunID, "err", err)
		}
		log.Info("one-shot run complete", "run_id", res.RunID, "members", res.Launched)
	}

	log.Info("daemon starting", "mode", o.Mode, "pid", os.Getpid())
	switch o.Mode {
	case ModeWebhook:
		w := &WebhookMode{
			Addr:     ":" + strconv.Itoa(o.Port),
			Listener: o.Listener,
			Secret:   team.Credentials.WebhookSecret,
			Shutdown: sd,
			Launch:   launch,
			Log:      log,
		}
		err = w.Run(ctx)
	case ModePoll:
		source := o.Source
		if source == nil {
			source = GHEventSource{Env: workerEnv}
		}
		interval := o.Interval
		if interval <= 0 {
			interval = DefaultInterval
		}
		p := &Poller{
			ResolveRepo: repoResolver(o.ConfigPath, team),
			Source:      source,
			CursorPath:  paths.CursorFile(),
			Interval:    interval,
			Shutdown:    sd,
			Launch:      launch,
			Log:         log,
		}
		p.Run(ctx)
	}
	log.Info("daemon stopped")
	return err
}

// repoResolver re-reads the config each cycle so an edited github_repo is
// picked up without a restart.
func repoResolver(configPath string, team *config.Team) func() (string, error) {
	return func() (string, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return team.GithubRepo, nil
		}
		t, err := cfg.ResolveTeam(team.Name)
		if err != nil {
			return "", err
		}
		return t.GithubRepo, nil
	}
}

func serveMetrics(addr string, log *slog.Logger) (func(), error) {
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	srv := server.NewServer(addr, server.MetricsHandler())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "err", err)
		}
	}()
	log.Info("metrics listening", "addr", ln.Addr().String())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// cleanupOwnFiles removes the PID file and record when they still name this
// process, so a daemon that exits on its own does not leave them stale.
func cleanupOwnFiles(p Paths) {
	pid, err := process.ReadPIDFile(p.PIDFile())
	if err != nil || pid != os.Getpid() {
		return
	}
	_ = fileutil.RemoveIfExists(p.PIDFile())
	_ = fileutil.RemoveIfExists(p.RecordFile())
}
