//go:build linux

package foreign

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Process accesses a live process through process_vm_readv(2) and process_vm_writev(2).
// The caller needs ptrace access to the target (same uid or CAP_SYS_PTRACE).
type Process struct {
	pid int
}

// OpenProcess checks that pid exists and returns an accessor for it.
func OpenProcess(pid int) (process *Process, fault error) {
	if err := unix.Kill(pid, 0); err != nil && err != unix.EPERM {
		return nil, fmt.Errorf("could not find process %d: %w", pid, err)
	}

	return &Process{pid: pid}, nil
}

// PID returns the target's process id.
func (p *Process) PID() int {
	return p.pid
}

// ReadAt implements Memory.
func (p *Process) ReadAt(b []byte, addr uint64) error {
	if len(b) == 0 {
		return nil
	}

	local := []unix.Iovec{{Base: &b[0]}}
	local[0].SetLen(len(b))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(b)}}

	n, err := unix.ProcessVMReadv(p.pid, local, remote, 0)
	if err != nil {
		return fmt.Errorf("%w: read %d bytes at %#x in pid %d: %w", ErrFault, len(b), addr, p.pid, err)
	}

	if n != len(b) {
		return fmt.Errorf("%w: short read at %#x in pid %d (%d of %d)", ErrFault, addr, p.pid, n, len(b))
	}

	return nil
}

// WriteAt implements Memory.
func (p *Process) WriteAt(b []byte, addr uint64) error {
	if len(b) == 0 {
		return nil
	}

	local := []unix.Iovec{{Base: &b[0]}}
	local[0].SetLen(len(b))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(b)}}

	n, err := unix.ProcessVMWritev(p.pid, local, remote, 0)
	if err != nil {
		return fmt.Errorf("%w: write %d bytes at %#x in pid %d: %w", ErrFault, len(b), addr, p.pid, err)
	}

	if n != len(b) {
		return fmt.Errorf("%w: short write at %#x in pid %d (%d of %d)", ErrFault, addr, p.pid, n, len(b))
	}

	return nil
}
