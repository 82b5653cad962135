package foreign

// StringHeader mirrors the runtime representation of a Go string.
type StringHeader struct {
	Ptr uint64
	Len int64
}

// StringHeaderSize is the wire size of a StringHeader.
const StringHeaderSize = 16

// SliceHeader mirrors the runtime representation of a Go slice.
type SliceHeader struct {
	Ptr uint64
	Len int64
	Cap int64
}

// SliceHeaderSize is the wire size of a SliceHeader.
const SliceHeaderSize = 24

// WriteString places s in freshly allocated target memory and returns its header.
func WriteString(alloc Allocator, s string) (header StringHeader, fault error) {
	ptr, err := alloc.Alloc([]byte(s))
	if err != nil {
		return StringHeader{}, err
	}

	return StringHeader{Ptr: ptr, Len: int64(len(s))}, nil
}
