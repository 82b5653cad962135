// Package scratch provides one reusable buffer per execution unit for data too large to build
// per invocation. A borrowed slot belongs to the caller for a single hook invocation only.
package scratch

import (
	"errors"
	"fmt"
)

// ErrNoSlot means the execution unit has no slot, i.e. the pool was sized for fewer units than
// the hooks run on. It indicates a deployment defect rather than a runtime condition.
var ErrNoSlot = errors.New("no scratch slot for execution unit")

// Slots holds exactly one value of T per execution unit.
type Slots[T any] struct {
	slots []T
	reset func(*T)
}

// New allocates units slots, each initialised by init. reset is used by Zero and may be nil,
// in which case the slot is overwritten with a fresh init() value.
func New[T any](units int, init func() T, reset func(*T)) *Slots[T] {
	s := &Slots[T]{slots: make([]T, units), reset: reset}
	for i := range s.slots {
		s.slots[i] = init()
	}

	if s.reset == nil {
		s.reset = func(v *T) { *v = init() }
	}

	return s
}

// Units returns the number of execution units the pool covers.
func (s *Slots[T]) Units() int {
	return len(s.slots)
}

// Get borrows the slot of unit without clearing it.
func (s *Slots[T]) Get(unit int) (slot *T, fault error) {
	if unit < 0 || unit >= len(s.slots) {
		return nil, fmt.Errorf("%w %d (pool has %d)", ErrNoSlot, unit, len(s.slots))
	}

	return &s.slots[unit], nil
}

// Zeroed borrows the slot of unit and clears anything a previous invocation left in it.
func (s *Slots[T]) Zeroed(unit int) (slot *T, fault error) {
	v, err := s.Get(unit)
	if err != nil {
		return nil, err
	}

	s.reset(v)

	return v, nil
}

// Zero clears a borrowed slot.
func (s *Slots[T]) Zero(v *T) {
	s.reset(v)
}

// Bytes returns a pool of fixed-size byte buffers that are cleared in place.
func Bytes(units, size int) *Slots[[]byte] {
	return New(units,
		func() []byte { return make([]byte, size) },
		func(b *[]byte) { clear(*b) },
	)
}
