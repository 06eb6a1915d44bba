//go:build !unix

package runner

import "os/exec"

func configureProcGroup(cmd *exec.Cmd) {}
