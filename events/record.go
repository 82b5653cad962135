// Package events defines the fixed-layout record of one outbound HTTP call and the channel
// completed records are published on.
package events

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cirruscomms/autoprobe/spanctx"
)

// Field capacities. Longer values are truncated.
const (
	MaxHostSize        = 256
	MaxProtoSize       = 8
	MaxMethodSize      = 10
	MaxPathSize        = 100
	MaxSchemeSize      = 8
	MaxURLHostSize     = 8
	MaxOpaqueSize      = 8
	MaxRawPathSize     = 8
	MaxRawQuerySize    = 8
	MaxFragmentSize    = 8
	MaxRawFragmentSize = 8
	MaxUsernameSize    = 8
)

// RecordSize is the wire size of a Record.
const RecordSize = 536

// Record is one outbound HTTP call. Field order and padding are the wire layout: little endian,
// strings null padded to capacity.
type Record struct {
	StartTime         uint64
	EndTime           uint64
	SpanContext       spanctx.SpanContext
	ParentSpanContext spanctx.SpanContext

	Host        [MaxHostSize]byte
	Proto       [MaxProtoSize]byte
	StatusCode  uint64
	Method      [MaxMethodSize]byte
	Path        [MaxPathSize]byte
	Scheme      [MaxSchemeSize]byte
	URLHost     [MaxURLHostSize]byte
	Opaque      [MaxOpaqueSize]byte
	RawPath     [MaxRawPathSize]byte
	_           [2]byte
	OmitHost    int32 // reserved
	ForceQuery  int32 // reserved
	RawQuery    [MaxRawQuerySize]byte
	Fragment    [MaxFragmentSize]byte
	RawFragment [MaxRawFragmentSize]byte
	Username    [MaxUsernameSize]byte
}

// HasParent reports whether the call was made under an already traced span.
func (r *Record) HasParent() bool {
	return r.ParentSpanContext.IsValid()
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (r *Record) MarshalBinary() (data []byte, fault error) {
	buf := make([]byte, RecordSize)
	if _, err := binary.Encode(buf, binary.LittleEndian, r); err != nil {
		return nil, fmt.Errorf("could not encode record: %w", err)
	}

	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *Record) UnmarshalBinary(data []byte) (fault error) {
	if len(data) != RecordSize {
		return fmt.Errorf("record is %d bytes, expected %d", len(data), RecordSize)
	}

	if _, err := binary.Decode(data, binary.LittleEndian, r); err != nil {
		return fmt.Errorf("could not decode record: %w", err)
	}

	return nil
}

// Text returns the content of a null padded field.
func Text(field []byte) string {
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}

	return string(field)
}
