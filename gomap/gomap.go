// Package gomap mirrors the storage block ("bucket") of the target runtime's hash map for
// map[string][]string, so a block can be read, edited locally and written back whole.
// Layouts are versioned; a runtime that changes its bucket shape gets a new Layout value.
package gomap

import (
	"encoding/binary"
	"fmt"

	"github.com/cirruscomms/autoprobe/foreign"
)

// Layout describes one revision of the bucket structure.
type Layout struct {
	Name         string
	Slots        int
	TagsOffset   int
	KeysOffset   int
	KeyStride    int
	ValuesOffset int
	ValueStride  int
	Size         int
}

// BucketV1 is the bucket of map[string][]string for runtimes with the classic hmap
// implementation: tophash [8]uint8, keys [8]string, values [8][]string, overflow pointer.
var BucketV1 = Layout{
	Name:         "hmap-bucket-v1",
	Slots:        8,
	TagsOffset:   0,
	KeysOffset:   8,
	KeyStride:    foreign.StringHeaderSize,
	ValuesOffset: 8 + 8*foreign.StringHeaderSize,
	ValueStride:  foreign.SliceHeaderSize,
	Size:         8 + 8*foreign.StringHeaderSize + 8*foreign.SliceHeaderSize + 8,
}

// Bucket is an editable view over a raw bucket image.
type Bucket struct {
	layout Layout
	raw    []byte
}

// Wrap returns a view over raw, which must be exactly l.Size bytes.
func (l Layout) Wrap(raw []byte) (bucket *Bucket, fault error) {
	if len(raw) != l.Size {
		return nil, fmt.Errorf("bucket image is %d bytes, %s needs %d", len(raw), l.Name, l.Size)
	}

	return &Bucket{layout: l, raw: raw}, nil
}

// Raw returns the underlying image.
func (b *Bucket) Raw() []byte {
	return b.raw
}

// Reset zeroes the image.
func (b *Bucket) Reset() {
	clear(b.raw)
}

// Tag returns the type tag (tophash) of slot.
func (b *Bucket) Tag(slot int) uint8 {
	return b.raw[b.layout.TagsOffset+b.slot(slot)]
}

// SetTag sets the type tag of slot.
func (b *Bucket) SetTag(slot int, tag uint8) {
	b.raw[b.layout.TagsOffset+b.slot(slot)] = tag
}

// Key returns the key descriptor of slot.
func (b *Bucket) Key(slot int) foreign.StringHeader {
	off := b.layout.KeysOffset + b.slot(slot)*b.layout.KeyStride
	return foreign.StringHeader{
		Ptr: binary.LittleEndian.Uint64(b.raw[off:]),
		Len: int64(binary.LittleEndian.Uint64(b.raw[off+8:])),
	}
}

// SetKey installs a key descriptor into slot.
func (b *Bucket) SetKey(slot int, key foreign.StringHeader) {
	off := b.layout.KeysOffset + b.slot(slot)*b.layout.KeyStride
	binary.LittleEndian.PutUint64(b.raw[off:], key.Ptr)
	binary.LittleEndian.PutUint64(b.raw[off+8:], uint64(key.Len))
}

// Value returns the value descriptor of slot.
func (b *Bucket) Value(slot int) foreign.SliceHeader {
	off := b.layout.ValuesOffset + b.slot(slot)*b.layout.ValueStride
	return foreign.SliceHeader{
		Ptr: binary.LittleEndian.Uint64(b.raw[off:]),
		Len: int64(binary.LittleEndian.Uint64(b.raw[off+8:])),
		Cap: int64(binary.LittleEndian.Uint64(b.raw[off+16:])),
	}
}

// SetValue installs a value descriptor into slot.
func (b *Bucket) SetValue(slot int, value foreign.SliceHeader) {
	off := b.layout.ValuesOffset + b.slot(slot)*b.layout.ValueStride
	binary.LittleEndian.PutUint64(b.raw[off:], value.Ptr)
	binary.LittleEndian.PutUint64(b.raw[off+8:], uint64(value.Len))
	binary.LittleEndian.PutUint64(b.raw[off+16:], uint64(value.Cap))
}

func (b *Bucket) slot(slot int) int {
	return slot % b.layout.Slots
}
