//go:build unix

package main

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

const daemonizedEnv = "VSOMEIP_ROUTINGMANAGERD_DAEMONIZED"

// daemonizeSelf re-executes the current process detached from the
// controlling terminal, the Go substitute for the original's fork()+setsid().
// Go cannot safely fork a running multi-threaded runtime, so instead the
// parent re-execs itself with a sentinel env var, waits for the child to
// start, and exits (done == true); the child (done == false on the second
// pass) continues into run().
func daemonizeSelf() (done bool, err error) {
	if os.Getenv(daemonizedEnv) != "" {
		return false, nil
	}

	exe, err := os.Executable()
	if err != nil {
		return false, fmt.Errorf("resolve executable: %w", err)
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonizedEnv+"=1")
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return false, fmt.Errorf("start background process: %w", err)
	}
	return true, nil
}
