// Package inject writes trace propagation into a monitored process: either appended to the
// header bytes a request is being serialised into, or as a fabricated entry of a live header
// map.
package inject

import (
	"errors"
	"fmt"

	"github.com/cirruscomms/autoprobe/foreign"
	"github.com/cirruscomms/autoprobe/spanctx"
)

const (
	// HeaderPrefix starts the injected header line. Casing is significant downstream.
	HeaderPrefix = "Traceparent: "
	// LineLength is the length of a complete injected line, terminator included.
	LineLength = len(HeaderPrefix) + spanctx.ValueLength + 2
)

var (
	// ErrNoRoom means the output buffer cannot take the header line without growing.
	ErrNoRoom = errors.New("not enough room in output buffer")
	// ErrMapFull means the header map has no free slot in its single storage block.
	ErrMapFull = errors.New("header map storage block full")
)

// Line renders the header line for sc.
func Line(sc spanctx.SpanContext) (line []byte, fault error) {
	value, err := sc.Traceparent()
	if err != nil {
		return nil, err
	}

	line = make([]byte, 0, LineLength)
	line = append(line, HeaderPrefix...)
	line = append(line, value...)
	line = append(line, '\r', '\n')

	return line, nil
}

// WriterLayout locates the fields of the target's buffered writer.
type WriterLayout struct {
	// Buf is the position of the output byte slice; its capacity word follows the pointer and
	// length words.
	Buf uint64
	// N is the position of the count of bytes already buffered.
	N uint64
}

// Buffer appends the header line for sc to the output buffer of the writer at writer. Nothing is
// written unless the whole line fits in the existing capacity; the cursor is advanced only
// after the line is in place.
func Buffer(mem foreign.Memory, layout WriterLayout, writer uint64, sc spanctx.SpanContext) (fault error) {
	if writer == 0 {
		return foreign.ErrNilPointer
	}

	line, err := Line(sc)
	if err != nil {
		return fmt.Errorf("could not render header line: %w", err)
	}

	buf, err := foreign.ReadPointer(mem, writer+layout.Buf)
	if err != nil {
		return fmt.Errorf("could not read writer buffer: %w", err)
	}
	if buf == 0 {
		return fmt.Errorf("writer buffer: %w", foreign.ErrNilPointer)
	}

	capacity, err := foreign.Read[int64](mem, writer+layout.Buf+16)
	if err != nil {
		return fmt.Errorf("could not read writer capacity: %w", err)
	}

	cursor, err := foreign.Read[int64](mem, writer+layout.N)
	if err != nil {
		return fmt.Errorf("could not read writer cursor: %w", err)
	}

	if cursor < 0 || cursor > capacity || capacity-cursor < int64(LineLength) {
		return fmt.Errorf("%w: %d of %d used, need %d", ErrNoRoom, cursor, capacity, LineLength)
	}

	if err := mem.WriteAt(line, buf+uint64(cursor)); err != nil {
		return fmt.Errorf("could not write header line: %w", err)
	}

	// bytes past the old cursor are not part of the buffer until n moves
	if err := foreign.Write(mem, writer+layout.N, cursor+int64(LineLength)); err != nil {
		return fmt.Errorf("could not advance writer cursor: %w", err)
	}

	return nil
}
