package daemon

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/loykin/botminter/internal/detector"
	"github.com/loykin/botminter/internal/fileutil"
	"github.com/loykin/botminter/internal/logger"
	"github.com/loykin/botminter/internal/process"
)

const (
	DefaultPort     = 8484
	DefaultInterval = 60 * time.Second

	DefaultVerifyDelay = 500 * time.Millisecond
	DefaultStopTimeout = 30 * time.Second
)

// StartOptions are the daemon-start parameters forwarded to daemon-run.
type StartOptions struct {
	Mode          string
	Port          int
	Interval      time.Duration
	ConfigPath    string
	MetricsListen string
}

// Controller starts, stops and inspects the background daemon of one team.
type Controller struct {
	Paths      Paths
	Executable string // defaults to os.Executable()
	Log        *slog.Logger

	VerifyDelay time.Duration
	StopTimeout time.Duration
	StopPoll    time.Duration
}

func NewController(paths Paths) *Controller {
	return &Controller{
		Paths:       paths,
		VerifyDelay: DefaultVerifyDelay,
		StopTimeout: DefaultStopTimeout,
		StopPoll:    time.Second,
	}
}

func (c *Controller) log() *slog.Logger {
	if c.Log != nil {
		return c.Log
	}
	return slog.Default()
}

// recordedAt is the start time of the current record, zero without one.
func (c *Controller) recordedAt() time.Time {
	if r, err := LoadRecord(c.Paths.RecordFile()); err == nil {
		return r.StartedAt
	}
	return time.Time{}
}

func (c *Controller) pidDetector() detector.PIDFileDetector {
	return detector.PIDFileDetector{PIDFile: c.Paths.PIDFile(), RecordedAt: c.recordedAt()}
}

// Start spawns "<exe> daemon-run ..." detached, with its output appended to
// the daemon log, and verifies it is still alive after VerifyDelay.
func (c *Controller) Start(o StartOptions) (*Record, error) {
	team := c.Paths.Team
	if err := os.MkdirAll(c.Paths.Dir, 0o700); err != nil {
		return nil, err
	}

	d := c.pidDetector()
	if pid, err := d.PID(); err == nil {
		if alive, _ := d.Alive(); alive {
			return nil, fmt.Errorf("%w for team %s (pid %d)", ErrAlreadyRunning, team, pid)
		}
		c.log().Info("removing stale daemon pid file", "pid", pid)
		c.removeFiles(false)
	} else if !os.IsNotExist(err) {
		c.removeFiles(false)
	}

	if err := ValidateMode(o.Mode); err != nil {
		return nil, err
	}
	if o.Port <= 0 {
		o.Port = DefaultPort
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}

	exe := c.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return nil, fmt.Errorf("failed to get executable path: %w", err)
		}
	}

	logPath := c.Paths.DaemonLog()
	if err := logger.RotateIfLarge(logPath, logger.DefaultRotateBytes); err != nil {
		c.log().Warn("daemon log rotation failed", "err", err)
	}
	out, err := logger.OpenAppend(logPath)
	if err != nil {
		return nil, fmt.Errorf("open daemon log %s: %w", logPath, err)
	}
	defer func() { _ = out.Close() }()

	args := []string{
		"daemon-run",
		"--team", team,
		"--mode", o.Mode,
		"--port", strconv.Itoa(o.Port),
		"--interval", strconv.Itoa(int(o.Interval / time.Second)),
	}
	if o.ConfigPath != "" {
		args = append(args, "--config", o.ConfigPath)
	}
	if o.MetricsListen != "" {
		args = append(args, "--metrics-listen", o.MetricsListen)
	}

	p := process.New(process.Spec{
		Name:     "daemon-" + team,
		Command:  exe,
		Args:     args,
		Stdout:   out,
		Stderr:   out,
		Detached: true,
	})
	if err := p.Start(); err != nil {
		return nil, fmt.Errorf("spawn daemon: %w", err)
	}

	rec := &Record{
		Team:         team,
		Mode:         o.Mode,
		Port:         o.Port,
		IntervalSecs: int(o.Interval / time.Second),
		PID:          p.PID(),
		StartedAt:    time.Now().UTC(),
	}
	if err := process.WritePIDFile(c.Paths.PIDFile(), rec.PID); err != nil {
		_ = p.Kill()
		return nil, err
	}
	if err := SaveRecord(c.Paths.RecordFile(), rec); err != nil {
		_ = p.Kill()
		c.removeFiles(false)
		return nil, err
	}

	time.Sleep(c.VerifyDelay)
	if !p.Alive() {
		c.removeFiles(false)
		return nil, fmt.Errorf("daemon process exited immediately; check logs at %s", logPath)
	}
	c.log().Info("daemon started", "team", team, "pid", rec.PID, "mode", rec.Mode)
	return rec, nil
}

// Stop sends SIGTERM, waits up to StopTimeout, then SIGKILLs. The PID file,
// record and poll cursor are removed in every case.
func (c *Controller) Stop() error {
	pid, err := process.ReadPIDFile(c.Paths.PIDFile())
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w for team %s", ErrNotRunning, c.Paths.Team)
		}
		c.removeFiles(true)
		return err
	}

	if alive, _ := c.pidDetector().Alive(); alive {
		if err := process.Terminate(pid); err != nil {
			c.log().Warn("sigterm failed", "pid", pid, "err", err)
		}
		if !process.WaitGone(pid, c.StopTimeout, c.StopPoll, nil) {
			c.log().Warn("daemon ignored SIGTERM, killing", "pid", pid)
			_ = process.Kill(pid)
			process.WaitGone(pid, 5*time.Second, 100*time.Millisecond, nil)
		}
	}
	c.removeFiles(true)
	return nil
}

// State of a team's daemon as seen by Status.
type State string

const (
	StateNotRunning State = "not running"
	StateRunning    State = "running"
	StateStale      State = "stale"   // PID file names a dead process
	StateCorrupt    State = "corrupt" // PID file unparsable
)

// Status describes the daemon for daemon-status.
type Status struct {
	State   State
	PID     int
	Record  *Record // nil when missing or unreadable
	LogPath string
}

// Status inspects the PID file. Corrupt and stale PID files are removed.
func (c *Controller) Status() (Status, error) {
	st := Status{State: StateNotRunning, LogPath: c.Paths.DaemonLog()}
	d := c.pidDetector()
	pid, err := d.PID()
	switch {
	case err == nil:
	case os.IsNotExist(err):
		return st, nil
	case errors.Is(err, process.ErrInvalidPIDFile):
		st.State = StateCorrupt
		return st, fileutil.RemoveIfExists(c.Paths.PIDFile())
	default:
		return st, err
	}

	st.PID = pid
	if alive, _ := d.Alive(); !alive {
		st.State = StateStale
		c.removeFiles(false)
		return st, nil
	}
	st.State = StateRunning
	if r, err := LoadRecord(c.Paths.RecordFile()); err == nil {
		st.Record = r
	}
	return st, nil
}

func (c *Controller) removeFiles(withCursor bool) {
	_ = fileutil.RemoveIfExists(c.Paths.PIDFile())
	_ = fileutil.RemoveIfExists(c.Paths.RecordFile())
	if withCursor {
		_ = fileutil.RemoveIfExists(c.Paths.CursorFile())
	}
}
