package process

import (
	"io"
	"os/exec"
)

// Spec describes a child process launch.
type Spec struct {
	Name     string    // label used in logs and errors
	Command  string    // executable, resolved through PATH
	Args     []string  // arguments after the executable
	WorkDir  string    // working directory; empty inherits
	Env      []string  // full environment; nil inherits the caller's
	Stdout   io.Writer // nil discards
	Stderr   io.Writer // nil discards
	Detached bool      // new session instead of a new process group
}

// BuildCommand constructs the *exec.Cmd for s. Stdin is always the null device.
func (s Spec) BuildCommand() *exec.Cmd {
	// #nosec G204
	cmd := exec.Command(s.Command, s.Args...)
	cmd.Dir = s.WorkDir
	cmd.Env = s.Env
	cmd.Stdin = nil
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr
	configureSysProcAttr(cmd, s)
	return cmd
}
