//go:build linux

package runner

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Harden marks the current process non-dumpable so derived keys cannot be
// read from a core file or /proc/<pid>/mem by other users.
func Harden() error {
	if err := unix.Prctl(unix.PR_SET_DUMPABLE, 0, 0, 0, 0); err != nil {
		return fmt.Errorf("PR_SET_DUMPABLE: %w", err)
	}
	return nil
}

// Dumpable reports the current PR_GET_DUMPABLE value.
func Dumpable() (bool, error) {
	v, err := unix.PrctlRetInt(unix.PR_GET_DUMPABLE, 0, 0, 0, 0)
	if err != nil {
		return false, fmt.Errorf("PR_GET_DUMPABLE: %w", err)
	}
	return v != 0, nil
}

// LockdownExec installs a seccomp filter denying ptrace(2) and
// process_vm_readv(2), marks the process non-dumpable and execs args. The
// filter is inherited across execve. Hardening failures are fatal.
func LockdownExec(args []string) error {
	if len(args) == 0 {
		return errors.New("lockdown: no command specified")
	}
	if err := denyTracing(); err != nil {
		return fmt.Errorf("lockdown: %w", err)
	}
	if err := Harden(); err != nil {
		return fmt.Errorf("lockdown: %w", err)
	}
	binary, err := exec.LookPath(args[0])
	if err != nil {
		return fmt.Errorf("lockdown: command not found: %s", args[0])
	}
	return syscall.Exec(binary, args, os.Environ())
}

func denyTracing() error {
	const (
		retAllow      = 0x7fff0000
		retErrno      = 0x00050000
		setModeFilter = 1
	)
	filter := []unix.SockFilter{
		{Code: unix.BPF_LD | unix.BPF_W | unix.BPF_ABS, K: 0},
		{Code: unix.BPF_JMP | unix.BPF_JEQ | unix.BPF_K, K: uint32(unix.SYS_PTRACE), Jt: 2},
		{Code: unix.BPF_JMP | unix.BPF_JEQ | unix.BPF_K, K: uint32(unix.SYS_PROCESS_VM_READV), Jt: 1},
		{Code: unix.BPF_RET | unix.BPF_K, K: retAllow},
		{Code: unix.BPF_RET | unix.BPF_K, K: retErrno | uint32(unix.EPERM)},
	}
	prog := unix.SockFprog{Len: uint16(len(filter)), Filter: &filter[0]}

	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("PR_SET_NO_NEW_PRIVS: %w", err)
	}
	if _, _, errno := unix.RawSyscall(unix.SYS_SECCOMP, setModeFilter, 0, uintptr(unsafe.Pointer(&prog))); errno != 0 {
		return fmt.Errorf("seccomp filter: %w", errno)
	}
	return nil
}
