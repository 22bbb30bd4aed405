//go:build unix

package media

import (
	"os/exec"
	"syscall"
)

// detach moves the child into its own process group so a terminal Ctrl+C
// reaches only this process, which then closes the encoder itself.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
