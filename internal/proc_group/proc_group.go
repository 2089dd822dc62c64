//go:build unix

// Package procgroup starts and signals the background bus daemon.
package procgroup

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Detach starts cmd in a new session so that signals aimed at the
// caller's terminal do not reach it.
func Detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
}

// Alive reports whether pid names a running process.
func Alive(pid int) bool {
	return pid > 0 && unix.Kill(pid, 0) == nil
}

// Terminate asks pid to shut down.
func Terminate(pid int) error {
	return unix.Kill(pid, unix.SIGTERM)
}
