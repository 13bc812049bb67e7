package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"
	"time"
)

var lineRE = regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z\] \[(DEBUG|INFO|WARN|ERROR)\] `)

func TestLineHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewLineHandler(&buf, slog.LevelInfo))

	log.Info("daemon started", "team", "alpha", "port", 8484)
	log.With("run", "r1").WithGroup("member").Warn("exit", "name", "arch 01", "err", errors.New("boom"))
	log.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d: %q", len(lines), buf.String())
	}
	for _, l := range lines {
		if !lineRE.MatchString(l) {
			t.Fatalf("bad line format: %q", l)
		}
	}
	if !strings.HasSuffix(lines[0], "[INFO] daemon started team=alpha port=8484") {
		t.Fatalf("line 0 = %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], `[WARN] exit run=r1 member.name="arch 01" member.err=boom`) {
		t.Fatalf("line 1 = %q", lines[1])
	}
}

func TestLineHandlerUsesUTC(t *testing.T) {
	var buf bytes.Buffer
	h := NewLineHandler(&buf, nil)
	loc := time.FixedZone("X", 5*3600)
	r := slog.NewRecord(time.Date(2026, 2, 3, 9, 0, 0, 0, loc), slog.LevelError, "m", 0)
	if err := h.Handle(t.Context(), r); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "[2026-02-03T04:00:00Z] [ERROR] m\n" {
		t.Fatalf("got %q", got)
	}
}

func TestRotateIfLarge(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "member.log")

	if err := RotateIfLarge(path, 10); err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if err := os.WriteFile(path, []byte("12345"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := RotateIfLarge(path, 10); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path + OldSuffix); !os.IsNotExist(err) {
		t.Fatal("small file must not rotate")
	}
	if err := os.WriteFile(path+OldSuffix, []byte("older"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("0123456789abc"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := RotateIfLarge(path, 10); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path + OldSuffix)
	if err != nil || string(b) != "0123456789abc" {
		t.Fatalf(".old = %q, %v; want previous current file", b, err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("current log should have moved")
	}
}

func TestRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "daemon-alpha.log")
	rf := NewRotatingFile(path, 16)
	defer func() { _ = rf.Close() }()

	for _, s := range []string{"aaaaaaaaaa\n", "bbbbbbbbbb\n", "cccccccccc\n"} {
		if _, err := rf.Write([]byte(s)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	cur, _ := os.ReadFile(path)
	old, _ := os.ReadFile(path + OldSuffix)
	if string(cur) != "cccccccccc\n" || string(old) != "bbbbbbbbbb\n" {
		t.Fatalf("current=%q old=%q", cur, old)
	}
}

func TestRotatingFileHandsNewFileToStdio(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon-alpha.log")
	rf := NewRotatingFile(path, 16)
	defer func() { _ = rf.Close() }()
	var opened []*os.File
	rf.Stdio = func(f *os.File) error { opened = append(opened, f); return nil }

	for _, s := range []string{"aaaaaaaaaa\n", "bbbbbbbbbb\n"} {
		if _, err := rf.Write([]byte(s)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if len(opened) != 2 {
		t.Fatalf("expected a handoff on open and on rotation, got %d", len(opened))
	}
	if _, err := opened[1].WriteString("stray\n"); err != nil {
		t.Fatalf("write to handed-off file: %v", err)
	}
	cur, _ := os.ReadFile(path)
	if string(cur) != "bbbbbbbbbb\nstray\n" {
		t.Fatalf("current=%q", cur)
	}
}

// A detached daemon's stray stderr output must land in the current log, not
// in the rotated generation.
func TestDaemonStdioFollowsRotation(t *testing.T) {
	if os.Getenv("BM_LOGGER_STDIO_CHILD") != "" {
		rf := NewRotatingFile(os.Getenv("BM_LOGGER_STDIO_LOG"), 16)
		rf.Stdio = RedirectStdio
		_, _ = rf.Write([]byte("aaaaaaaaaa\n"))
		_, _ = rf.Write([]byte("bbbbbbbbbb\n"))
		_, _ = os.Stderr.WriteString("stray\n")
		os.Exit(0)
	}
	if runtime.GOOS == "windows" {
		t.Skip("stdio redirection is Unix-only")
	}
	path := filepath.Join(t.TempDir(), "daemon-alpha.log")
	logFile, err := OpenAppend(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = logFile.Close() }()

	cmd := exec.Command(os.Args[0], "-test.run=^TestDaemonStdioFollowsRotation$")
	cmd.Env = append(os.Environ(), "BM_LOGGER_STDIO_CHILD=1", "BM_LOGGER_STDIO_LOG="+path)
	cmd.Stdout, cmd.Stderr = logFile, logFile
	if err := cmd.Run(); err != nil {
		t.Fatalf("child: %v", err)
	}

	cur, _ := os.ReadFile(path)
	old, _ := os.ReadFile(path + OldSuffix)
	if !strings.Contains(string(cur), "stray") || strings.Contains(string(old), "stray") {
		t.Fatalf("current=%q old=%q", cur, old)
	}
}

func TestNewWritesJSONFile(t *testing.T) {
	dir := t.TempDir()
	var stderr bytes.Buffer
	log, closer, err := New(Config{
		File:        filepath.Join(dir, "logs", "bm.log"),
		Level:       slog.LevelInfo,
		Stderr:      &stderr,
		StderrLevel: slog.LevelWarn,
	})
	if err != nil {
		t.Fatal(err)
	}
	log.Info("started", "team", "alpha")
	log.Warn("slow")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "logs", "bm.log"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 2 {
		t.Fatalf("file lines = %d", len(lines))
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["msg"] != "started" || rec["team"] != "alpha" {
		t.Fatalf("record = %v", rec)
	}
	if strings.Contains(stderr.String(), "started") || !strings.Contains(stderr.String(), "slow") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestColorTextHandler(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewColorTextHandler(&buf, nil, false)).With("team", "a")
	log.Error("failed")
	out := buf.String()
	if !strings.Contains(out, "ERROR") || !strings.Contains(out, "team=a") {
		t.Fatalf("unexpected output %q", out)
	}
	if strings.Contains(out, "time=") {
		t.Fatalf("time should be hidden: %q", out)
	}
}

func TestNewDaemonEchoes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "daemon-alpha.log")
	var echo bytes.Buffer
	log, closer := NewDaemon(path, &echo, slog.LevelInfo)
	log.Info("daemon starting", "mode", "poll")
	log.Debug("hidden")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for name, out := range map[string]string{"file": string(b), "echo": echo.String()} {
		if !lineRE.MatchString(out) || !strings.Contains(out, "daemon starting mode=poll") {
			t.Errorf("%s: unexpected output %q", name, out)
		}
		if strings.Contains(out, "hidden") {
			t.Errorf("%s: debug record leaked", name)
		}
	}
}
