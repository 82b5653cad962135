package gomap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cirruscomms/autoprobe/foreign"
)

func TestBucketV1Shape(t *testing.T) {
	assert.Equal(t, 8, BucketV1.Slots)
	assert.Equal(t, 136, BucketV1.ValuesOffset)
	assert.Equal(t, 336, BucketV1.Size)
}

func TestWrapRejectsWrongSize(t *testing.T) {
	_, err := BucketV1.Wrap(make([]byte, 10))
	assert.Error(t, err)
}

func TestSlotsAreIndependent(t *testing.T) {
	b, err := BucketV1.Wrap(make([]byte, BucketV1.Size))
	require.NoError(t, err)

	b.SetTag(3, 0xee)
	b.SetKey(3, foreign.StringHeader{Ptr: 0x1000, Len: 11})
	b.SetValue(3, foreign.SliceHeader{Ptr: 0x2000, Len: 1, Cap: 1})
	b.SetKey(7, foreign.StringHeader{Ptr: 0x3000, Len: 4})

	assert.Equal(t, uint8(0xee), b.Tag(3))
	assert.Equal(t, uint8(0), b.Tag(2))
	assert.Equal(t, foreign.StringHeader{Ptr: 0x1000, Len: 11}, b.Key(3))
	assert.Equal(t, foreign.SliceHeader{Ptr: 0x2000, Len: 1, Cap: 1}, b.Value(3))
	assert.Equal(t, foreign.StringHeader{Ptr: 0x3000, Len: 4}, b.Key(7))
	assert.Equal(t, foreign.SliceHeader{}, b.Value(7))

	// the overflow pointer stays untouched by slot writes
	for _, c := range b.Raw()[BucketV1.Size-8:] {
		assert.Zero(t, c)
	}

	b.Reset()
	assert.Equal(t, foreign.StringHeader{}, b.Key(3))
}

func TestSlotWrapsModuloSlots(t *testing.T) {
	b, err := BucketV1.Wrap(make([]byte, BucketV1.Size))
	require.NoError(t, err)

	b.SetTag(9, 0x42)
	assert.Equal(t, uint8(0x42), b.Tag(1))
}
