package process

import (
	"errors"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

// waitUntil polls fn until it returns true or timeout expires.
func waitUntil(timeout, step time.Duration, fn func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(step)
	}
	return fn()
}

func TestAliveSelf(t *testing.T) {
	if !Alive(os.Getpid()) {
		t.Fatal("own pid should be alive")
	}
}

func TestAliveImplausiblePIDs(t *testing.T) {
	for _, pid := range []int{0, -1, math.MaxInt32} {
		if Alive(pid) {
			t.Fatalf("pid %d reported alive", pid)
		}
	}
}

func TestAliveTreatsZombieAsDead(t *testing.T) {
	requireUnix(t)
	if runtime.GOOS != "linux" {
		t.Skip("zombie state read from /proc")
	}
	// started without Wait: the exited child stays a zombie until reaped
	cmd := exec.Command("/bin/sh", "-c", "exit 0")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = cmd.Wait() }()

	pid := cmd.Process.Pid
	if !waitUntil(2*time.Second, 20*time.Millisecond, func() bool { return !Alive(pid) }) {
		t.Fatalf("zombie pid %d still reported alive", pid)
	}
}

func TestStartAndEnforceStartDuration(t *testing.T) {
	requireUnix(t)
	p := New(Spec{Name: "sleeper", Command: "sleep", Args: []string{"5"}})
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = p.Kill() }()

	if p.PID() <= 0 {
		t.Fatalf("pid not recorded: %d", p.PID())
	}
	if err := p.EnforceStartDuration(150 * time.Millisecond); err != nil {
		t.Fatalf("EnforceStartDuration: %v", err)
	}
	if !p.Alive() {
		t.Fatal("expected alive")
	}
	if err := p.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start err = %v", err)
	}
}

func TestEnforceStartDurationDetectsEarlyExit(t *testing.T) {
	requireUnix(t)
	p := New(Spec{Name: "quitter", Command: "/bin/sh", Args: []string{"-c", "exit 3"}})
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := p.EnforceStartDuration(2 * time.Second)
	if !errors.Is(err, ErrExitedEarly) {
		t.Fatalf("expected ErrExitedEarly, got %v", err)
	}
	if code := p.ExitCode(); code != 3 {
		t.Fatalf("exit code = %d, want 3", code)
	}
}

func TestStartMissingExecutable(t *testing.T) {
	p := New(Spec{Name: "nope", Command: "definitely-not-a-real-binary-xyz"})
	if err := p.Start(); err == nil {
		t.Fatal("expected start error")
	}
}

func TestStopGraceful(t *testing.T) {
	requireUnix(t)
	p := New(Spec{Name: "term", Command: "sleep", Args: []string{"30"}})
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	old := StopPollInterval
	StopPollInterval = 20 * time.Millisecond
	defer func() { StopPollInterval = old }()

	if killed := p.Stop(2 * time.Second); killed {
		t.Fatal("sleep should exit on SIGTERM without escalation")
	}
	if !p.Exited() {
		t.Fatal("process should be reaped")
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	requireUnix(t)
	p := New(Spec{Name: "stubborn", Command: "/bin/sh", Args: []string{"-c", `trap "" TERM; sleep 30`}})
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	old := StopPollInterval
	StopPollInterval = 20 * time.Millisecond
	defer func() { StopPollInterval = old }()

	start := time.Now()
	if killed := p.Stop(300 * time.Millisecond); !killed {
		t.Fatal("expected escalation to SIGKILL")
	}
	if !p.Exited() {
		t.Fatal("process should be reaped after SIGKILL")
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("stop took too long: %v", time.Since(start))
	}
}

func TestKillPIDAndWaitGone(t *testing.T) {
	requireUnix(t)
	p := New(Spec{Name: "victim", Command: "sleep", Args: []string{"30"}})
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pid := p.PID()
	if err := Kill(pid); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if !WaitGone(pid, 3*time.Second, 20*time.Millisecond, nil) {
		t.Fatalf("pid %d still alive after SIGKILL", pid)
	}
}

func TestWaitGoneAbort(t *testing.T) {
	calls := 0
	gone := WaitGone(os.Getpid(), 10*time.Second, time.Millisecond, func() bool {
		calls++
		return calls > 2
	})
	if gone {
		t.Fatal("own process cannot be gone")
	}
}

func TestStartTimeSelf(t *testing.T) {
	requireUnix(t)
	st := StartTime(os.Getpid())
	if st.IsZero() {
		t.Skip("process start time unavailable on this platform")
	}
	if st.After(time.Now().Add(time.Second)) {
		t.Fatalf("start time in the future: %v", st)
	}
	if StartTime(0) != (time.Time{}) {
		t.Fatal("pid 0 should have no start time")
	}
}

func TestParseStartTicks(t *testing.T) {
	line := "1234 (my (odd) name) S 1 1234 1234 0 -1 4194560 100 0 0 0 1 2 0 0 20 0 1 0 98765 1000 100"
	ticks, ok := parseStartTicks(line)
	if !ok || ticks != 98765 {
		t.Fatalf("ticks = %d ok=%v", ticks, ok)
	}
	if _, ok := parseStartTicks("garbage"); ok {
		t.Fatal("expected parse failure")
	}
}

func TestPIDFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "d.pid")
	if err := WritePIDFile(path, 4321); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %o", info.Mode().Perm())
	}
	pid, err := ReadPIDFile(path)
	if err != nil || pid != 4321 {
		t.Fatalf("ReadPIDFile = %d, %v", pid, err)
	}

	if err := os.WriteFile(path, []byte("not-a-pid\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadPIDFile(path); !errors.Is(err, ErrInvalidPIDFile) {
		t.Fatalf("expected ErrInvalidPIDFile, got %v", err)
	}
	if _, err := ReadPIDFile(filepath.Join(dir, "missing.pid")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
