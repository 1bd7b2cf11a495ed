//go:build !linux

package runner

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// Harden is a no-op outside Linux.
func Harden() error { return nil }

// Dumpable always reports true outside Linux.
func Dumpable() (bool, error) { return true, nil }

// LockdownExec only execs args outside Linux.
func LockdownExec(args []string) error {
	if len(args) == 0 {
		return errors.New("lockdown: no command specified")
	}
	binary, err := exec.LookPath(args[0])
	if err != nil {
		return fmt.Errorf("lockdown: command not found: %s", args[0])
	}
	return syscall.Exec(binary, args, os.Environ())
}
