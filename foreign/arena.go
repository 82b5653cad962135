package foreign

import (
	"fmt"
	"sync"
)

// Arena is an in-process stand-in for a target address space: a single contiguous range
// starting at a non-zero base. It is used to replay hooks against captured memory and in tests.
type Arena struct {
	mu     sync.RWMutex
	base   uint64
	data   []byte
	writes int
}

// NewArena returns a zeroed arena of size bytes mapped at base.
func NewArena(base uint64, size int) *Arena {
	return &Arena{base: base, data: make([]byte, size)}
}

// Base is the lowest mapped address.
func (a *Arena) Base() uint64 {
	return a.base
}

// End is one past the highest mapped address.
func (a *Arena) End() uint64 {
	return a.base + uint64(len(a.data))
}

// Writes returns the number of successful WriteAt calls so far.
func (a *Arena) Writes() int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.writes
}

func (a *Arena) span(addr uint64, n int) (int, error) {
	if addr < a.base || addr+uint64(n) > a.End() || addr+uint64(n) < addr {
		return 0, fmt.Errorf("%w: [%#x, %#x) outside arena", ErrFault, addr, addr+uint64(n))
	}

	return int(addr - a.base), nil
}

// ReadAt implements Memory.
func (a *Arena) ReadAt(p []byte, addr uint64) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	off, err := a.span(addr, len(p))
	if err != nil {
		return err
	}

	copy(p, a.data[off:])

	return nil
}

// WriteAt implements Memory.
func (a *Arena) WriteAt(p []byte, addr uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	off, err := a.span(addr, len(p))
	if err != nil {
		return err
	}

	copy(a.data[off:], p)
	a.writes++

	return nil
}
