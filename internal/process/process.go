// Package process launches, probes and terminates OS processes. Liveness is
// always taken from the kernel, never from cached flags.
package process

import (
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

var (
	ErrAlreadyStarted = errors.New("process already started")
	ErrExitedEarly    = errors.New("process exited before start duration")
)

// StopPollInterval is the step used while waiting for a signalled child.
var StopPollInterval = 500 * time.Millisecond

// Process is one spawned child. The child is reaped by a background
// goroutine so that an exited child never lingers as a zombie while the
// caller is alive.
type Process struct {
	spec     Spec
	mu       sync.Mutex
	cmd      *exec.Cmd
	pid      int
	started  time.Time
	waitDone chan struct{}
	exitErr  error
}

func New(spec Spec) *Process {
	return &Process{spec: spec, waitDone: make(chan struct{})}
}

func (r *Process) Name() string { return r.spec.Name }

// Start launches the child.
func (r *Process) Start() error {
	r.mu.Lock()
	if r.cmd != nil {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	cmd := r.spec.BuildCommand()
	if err := cmd.Start(); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("start %s: %w", r.spec.Name, err)
	}
	r.cmd = cmd
	r.pid = cmd.Process.Pid
	r.started = time.Now()
	r.mu.Unlock()

	go r.monitor(cmd)
	return nil
}

func (r *Process) monitor(cmd *exec.Cmd) {
	err := cmd.Wait()
	r.mu.Lock()
	r.exitErr = err
	r.mu.Unlock()
	close(r.waitDone)
}

func (r *Process) PID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pid
}

func (r *Process) StartedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// Done is closed once the child has exited and been reaped.
func (r *Process) Done() <-chan struct{} { return r.waitDone }

// Exited reports whether the child has been reaped.
func (r *Process) Exited() bool {
	select {
	case <-r.waitDone:
		return true
	default:
		return false
	}
}

// ExitErr returns the error from Wait once the child has exited.
func (r *Process) ExitErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exitErr
}

// ExitCode returns the exit status, or -1 while running or when killed by a signal.
func (r *Process) ExitCode() int {
	if !r.Exited() {
		return -1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd == nil || r.cmd.ProcessState == nil {
		return -1
	}
	return r.cmd.ProcessState.ExitCode()
}

// Alive reports whether the child is still running.
func (r *Process) Alive() bool {
	if r.Exited() {
		return false
	}
	return Alive(r.PID())
}

// EnforceStartDuration waits d and fails when the child exits before then.
func (r *Process) EnforceStartDuration(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-r.waitDone:
		return fmt.Errorf("%w %s", ErrExitedEarly, d)
	case <-timer.C:
	}
	if !r.Alive() {
		return fmt.Errorf("%w %s", ErrExitedEarly, d)
	}
	return nil
}

// Stop sends SIGTERM to the child's process group, waits up to grace for it
// to exit and escalates to SIGKILL. It reports whether escalation happened.
func (r *Process) Stop(grace time.Duration) (killed bool) {
	if r.Exited() {
		return false
	}
	pid := r.PID()
	_ = Signal(pid, syscall.SIGTERM)
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if r.Exited() {
			return false
		}
		time.Sleep(StopPollInterval)
	}
	if r.Exited() {
		return false
	}
	_ = Signal(pid, syscall.SIGKILL)
	select {
	case <-r.waitDone:
	case <-time.After(time.Second):
	}
	return true
}

// Kill sends SIGKILL to the child's process group and waits briefly for the reap.
func (r *Process) Kill() error {
	if r.Exited() {
		return nil
	}
	if err := Signal(r.PID(), syscall.SIGKILL); err != nil {
		return err
	}
	select {
	case <-r.waitDone:
	case <-time.After(time.Second):
	}
	return nil
}
