//go:build !unix

package pipeline

import "os/exec"

func setProcessGroup(cmd *exec.Cmd) {}
