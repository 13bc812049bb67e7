//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr puts a detached child in its own session so it
// survives the parent and its terminal; other children get their own
// process group so a group signal reaches their descendants.
func configureSysProcAttr(cmd *exec.Cmd, spec Spec) {
	attrs := &syscall.SysProcAttr{}
	if spec.Detached {
		attrs.Setsid = true
	} else {
		attrs.Setpgid = true
	}
	cmd.SysProcAttr = attrs
}
