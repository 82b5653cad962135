// Package foreign reads and writes the address space of a monitored process from outside of it.
// Every access is fallible and returns an explicit error; callers never do pointer arithmetic on
// anything other than plain uint64 addresses.
package foreign

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrFault is returned when an address range is not readable or writable in the target.
var ErrFault = errors.New("foreign memory fault")

// ErrNilPointer is returned when an access is attempted through a zero address.
var ErrNilPointer = errors.New("nil foreign pointer")

// Memory is the capability to access the target's address space.
type Memory interface {
	ReadAt(p []byte, addr uint64) error
	WriteAt(p []byte, addr uint64) error
}

// Read decodes a fixed-size little endian value of type T stored at addr.
func Read[T any](m Memory, addr uint64) (value T, fault error) {
	var v T
	if addr == 0 {
		return v, ErrNilPointer
	}

	size := binary.Size(v)
	if size <= 0 {
		return v, fmt.Errorf("type %T has no fixed wire size", v)
	}

	buf := make([]byte, size)
	if err := m.ReadAt(buf, addr); err != nil {
		return v, err
	}

	if _, err := binary.Decode(buf, binary.LittleEndian, &v); err != nil {
		return v, fmt.Errorf("could not decode %T at %#x: %w", v, addr, err)
	}

	return v, nil
}

// Write encodes v little endian and stores it at addr in one write.
func Write[T any](m Memory, addr uint64, v T) (fault error) {
	if addr == 0 {
		return ErrNilPointer
	}

	buf, err := Encode(v)
	if err != nil {
		return err
	}

	return m.WriteAt(buf, addr)
}

// Encode returns the little endian wire form of a fixed-size value.
func Encode[T any](v T) (encoded []byte, fault error) {
	size := binary.Size(v)
	if size <= 0 {
		return nil, fmt.Errorf("type %T has no fixed wire size", v)
	}

	buf := make([]byte, size)
	if _, err := binary.Encode(buf, binary.LittleEndian, v); err != nil {
		return nil, fmt.Errorf("could not encode %T: %w", v, err)
	}

	return buf, nil
}

// ReadPointer reads a machine word at addr.
func ReadPointer(m Memory, addr uint64) (pointer uint64, fault error) {
	return Read[uint64](m, addr)
}
