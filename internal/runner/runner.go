// Package runner launches a command with derived keys in its environment
// and masks those keys in everything the command prints.
package runner

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/aspect-build/teeguest/internal/logx"
)

// LockdownArg is the hidden subcommand that hardens and then execs the
// target. The binary running Run must dispatch it to LockdownExec.
const LockdownArg = "_exec"

// RunConfig describes one child process.
type RunConfig struct {
	Command string
	Args    []string
	Env     []string
	// Secrets are masked in stdout and stderr.
	Secrets []string
	// Lockdown re-enters this binary as "<self> _exec -- cmd" so the child
	// runs with ptrace blocked and is not dumpable.
	Lockdown bool

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Run starts the child, forwards SIGINT and SIGTERM to it and returns its
// exit code.
func Run(cfg RunConfig) (int, error) {
	if cfg.Command == "" {
		return 1, errors.New("no command specified")
	}

	name, args := cfg.Command, cfg.Args
	if cfg.Lockdown {
		self, err := os.Executable()
		if err != nil {
			return 1, fmt.Errorf("resolve self executable: %w", err)
		}
		name = self
		args = append([]string{LockdownArg, "--", cfg.Command}, cfg.Args...)
	}
	cmd := exec.Command(name, args...)
	cmd.Env = cfg.Env
	setProcAttr(cmd)

	stdin, stdout, stderr := cfg.Stdin, cfg.Stdout, cfg.Stderr
	if stdin == nil {
		stdin = os.Stdin
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	outMask := NewMaskingWriter(stdout, cfg.Secrets)
	errMask := NewMaskingWriter(stderr, cfg.Secrets)
	cmd.Stdin = stdin
	cmd.Stdout = outMask
	cmd.Stderr = errMask

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := cmd.Start(); err != nil {
		return 1, fmt.Errorf("start command: %w", err)
	}
	logx.Debugf("runner.start pid=%d command=%s masked=%d lockdown=%t", cmd.Process.Pid, cfg.Command, len(cfg.Secrets), cfg.Lockdown)

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case sig := <-sigCh:
				_ = cmd.Process.Signal(sig)
			case <-done:
				return
			}
		}
	}()

	err := cmd.Wait()
	_ = outMask.Flush()
	_ = errMask.Flush()

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return 1, fmt.Errorf("wait command: %w", err)
	}
	return 0, nil
}
