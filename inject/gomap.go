package inject

import (
	"fmt"

	"github.com/cirruscomms/autoprobe/foreign"
	"github.com/cirruscomms/autoprobe/gomap"
	"github.com/cirruscomms/autoprobe/scratch"
	"github.com/cirruscomms/autoprobe/spanctx"
)

// TraceparentTag is the hash tag stored for the fabricated traceparent entry.
const TraceparentTag uint8 = 0xee

// MapInjector adds a traceparent entry to a foreign map[string][]string whose entries all live
// in its first storage block.
type MapInjector struct {
	mem        foreign.Memory
	alloc      foreign.Allocator
	layout     gomap.Layout
	bucketsPos uint64
	// each slot holds the staged block followed by a copy of the block as read
	scratch *scratch.Slots[[]byte]
}

// NewMapInjector returns an injector for maps using layout, with the block pointer at
// bucketsPos from the map header, staging blocks in one scratch slot per execution unit.
func NewMapInjector(mem foreign.Memory, alloc foreign.Allocator, layout gomap.Layout, bucketsPos uint64, units int) *MapInjector {
	return &MapInjector{
		mem:        mem,
		alloc:      alloc,
		layout:     layout,
		bucketsPos: bucketsPos,
		scratch:    scratch.Bytes(units, 2*layout.Size),
	}
}

// Inject adds traceparent = [sc] to the map at mapPtr.
//
// All foreign memory the entry needs is allocated before the map itself is touched. The block
// is committed first and the entry count last; if the count cannot be written the previous
// block, or for an empty map the previous block pointer, is put back.
func (m *MapInjector) Inject(unit int, mapPtr uint64, sc spanctx.SpanContext) (fault error) {
	if mapPtr == 0 {
		return foreign.ErrNilPointer
	}

	count, err := foreign.Read[uint64](m.mem, mapPtr)
	if err != nil {
		return fmt.Errorf("could not read map count: %w", err)
	}

	if count >= uint64(m.layout.Slots) {
		return fmt.Errorf("%w: %d entries", ErrMapFull, count)
	}

	value, err := sc.Traceparent()
	if err != nil {
		return fmt.Errorf("could not render traceparent: %w", err)
	}

	raw, err := m.scratch.Zeroed(unit)
	if err != nil {
		return err
	}
	defer m.scratch.Zero(raw)

	staged, original := (*raw)[:m.layout.Size], (*raw)[m.layout.Size:]

	bucket, err := m.layout.Wrap(staged)
	if err != nil {
		return err
	}

	previous, err := foreign.ReadPointer(m.mem, mapPtr+m.bucketsPos)
	if err != nil {
		return fmt.Errorf("could not read bucket pointer: %w", err)
	}

	block := previous
	if count > 0 {
		if block == 0 {
			return fmt.Errorf("bucket pointer of map with %d entries: %w", count, foreign.ErrNilPointer)
		}

		if err := m.mem.ReadAt(staged, block); err != nil {
			return fmt.Errorf("could not read bucket: %w", err)
		}
		copy(original, staged)
	}

	slot := int(count % uint64(m.layout.Slots))
	bucket.SetTag(slot, TraceparentTag)

	key, err := foreign.WriteString(m.alloc, spanctx.HeaderKey)
	if err != nil {
		return fmt.Errorf("could not allocate key: %w", err)
	}
	bucket.SetKey(slot, key)

	str, err := foreign.WriteString(m.alloc, value)
	if err != nil {
		return fmt.Errorf("could not allocate value: %w", err)
	}

	strImage, err := foreign.Encode(str)
	if err != nil {
		return err
	}

	strPtr, err := m.alloc.Alloc(strImage)
	if err != nil {
		return fmt.Errorf("could not allocate value header: %w", err)
	}
	bucket.SetValue(slot, foreign.SliceHeader{Ptr: strPtr, Len: 1, Cap: 1})

	if count == 0 {
		block, err = m.alloc.Alloc(bucket.Raw())
		if err != nil {
			return fmt.Errorf("could not allocate bucket: %w", err)
		}

		if err := foreign.Write(m.mem, mapPtr+m.bucketsPos, block); err != nil {
			return fmt.Errorf("could not install bucket pointer: %w", err)
		}
	} else if err := m.mem.WriteAt(bucket.Raw(), block); err != nil {
		return fmt.Errorf("could not write bucket: %w", err)
	}

	if err := foreign.Write(m.mem, mapPtr, count+1); err != nil {
		return m.rollback(mapPtr, count, previous, original, err)
	}

	return nil
}

func (m *MapInjector) rollback(mapPtr, count, previous uint64, original []byte, cause error) error {
	var err error
	if count == 0 {
		err = foreign.Write(m.mem, mapPtr+m.bucketsPos, previous)
	} else {
		err = m.mem.WriteAt(original, previous)
	}

	if err != nil {
		return fmt.Errorf("could not write map count (%w) nor restore bucket: %w", cause, err)
	}

	return fmt.Errorf("could not write map count: %w", cause)
}
