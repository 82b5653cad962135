package extract

import (
	"errors"
	"testing"

	"github.com/cirruscomms/autoprobe/foreign"
)

const base = 0x10000

func newStruct(t *testing.T, fields map[uint64]string) (*foreign.Arena, uint64) {
	t.Helper()

	mem := foreign.NewArena(base, 4096)
	region := foreign.NewRegion(mem, base+1024, 3072)

	for off, s := range fields {
		hdr, err := foreign.WriteString(region, s)
		if err != nil {
			t.Fatalf("could not place %q: %v", s, err)
		}
		if err := foreign.Write(mem, base+off, hdr); err != nil {
			t.Fatalf("could not write header: %v", err)
		}
	}

	return mem, base
}

func TestString(t *testing.T) {
	mem, addr := newStruct(t, map[uint64]string{0: "GET", 16: "a-rather-long-host.example.com"})

	testCases := map[string]struct {
		offset   uint64
		size     int
		expected string
		fault    bool
	}{
		"fits":            {offset: 0, size: 10, expected: "GET"},
		"truncated":       {offset: 16, size: 8, expected: "a-rather"},
		"empty string":    {offset: 32, size: 8, expected: ""},
		"header unmapped": {offset: 8192, size: 8, fault: true},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			dst := make([]byte, tc.size)
			n, err := String(mem, addr, tc.offset, dst)
			if (err != nil) != tc.fault {
				t.Fatalf("expected fault=%v, got %v", tc.fault, err)
			}
			if n != len(tc.expected) {
				t.Fatalf("expected %d bytes, got %d", len(tc.expected), n)
			}
			if got := string(dst[:n]); got != tc.expected {
				t.Errorf("expected %q, got %q", tc.expected, got)
			}
			for i := n; i < len(dst); i++ {
				if dst[i] != 0 {
					t.Fatalf("byte %d past the value is not zero", i)
				}
			}
		})
	}
}

func TestStringEmptyIsNotAFault(t *testing.T) {
	mem, addr := newStruct(t, nil)
	// a zero header is how the runtime stores ""
	if err := foreign.Write(mem, addr, foreign.StringHeader{}); err != nil {
		t.Fatalf("could not write header: %v", err)
	}

	dst := []byte("xyz")
	n, err := String(mem, addr, 0, dst)
	if err != nil {
		t.Fatalf("empty string reported as fault: %v", err)
	}
	if n != 0 || string(dst) != "xyz" {
		t.Errorf("expected nothing copied, got %d bytes, dst %q", n, dst)
	}
}

func TestStringNilBase(t *testing.T) {
	mem, _ := newStruct(t, nil)
	if _, err := String(mem, 0, 0, make([]byte, 4)); !errors.Is(err, foreign.ErrNilPointer) {
		t.Errorf("expected nil pointer fault, got %v", err)
	}
}

func TestStringDanglingPointer(t *testing.T) {
	mem, addr := newStruct(t, nil)
	if err := foreign.Write(mem, addr, foreign.StringHeader{Ptr: 0xdead0000, Len: 3}); err != nil {
		t.Fatalf("could not write header: %v", err)
	}

	dst := []byte("xyz")
	if _, err := String(mem, addr, 0, dst); !errors.Is(err, foreign.ErrFault) {
		t.Fatalf("expected memory fault, got %v", err)
	}
	if string(dst) != "xyz" {
		t.Errorf("destination modified on failure")
	}
}

func TestStringNilData(t *testing.T) {
	mem, addr := newStruct(t, nil)
	if err := foreign.Write(mem, addr, foreign.StringHeader{Ptr: 0, Len: 5}); err != nil {
		t.Fatalf("could not write header: %v", err)
	}

	if _, err := String(mem, addr, 0, make([]byte, 8)); !errors.Is(err, foreign.ErrNilPointer) {
		t.Errorf("expected nil pointer fault, got %v", err)
	}
}

func TestPointerAndUint64(t *testing.T) {
	mem, addr := newStruct(t, nil)
	if err := foreign.Write(mem, addr+8, uint64(0xabc)); err != nil {
		t.Fatalf("could not write: %v", err)
	}

	if p, ok := Pointer(mem, addr, 8); !ok || p != 0xabc {
		t.Errorf("expected 0xabc, got %#x (%v)", p, ok)
	}
	if v, ok := Uint64(mem, addr, 8); !ok || v != 0xabc {
		t.Errorf("expected 0xabc, got %#x (%v)", v, ok)
	}
	if _, ok := Pointer(mem, 0, 8); ok {
		t.Errorf("nil base must fail")
	}
}
