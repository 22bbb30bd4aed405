//go:build !unix

package media

import "os/exec"

func detach(cmd *exec.Cmd) {}
