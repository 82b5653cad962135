package events

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cirruscomms/autoprobe/spanctx"
)

func TestRecordSize(t *testing.T) {
	if got := binary.Size(Record{}); got != RecordSize {
		t.Fatalf("expected wire size %d, got %d", RecordSize, got)
	}
}

func TestRecordLayoutOffsets(t *testing.T) {
	r := Record{StatusCode: 0x0102030405060708, OmitHost: 1, ForceQuery: 2}
	copy(r.Method[:], "GET")
	copy(r.Username[:], "user")

	data, err := r.MarshalBinary()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	testCases := map[string]struct {
		offset int
		check  func([]byte) bool
	}{
		"status_code": {344, func(b []byte) bool { return binary.LittleEndian.Uint64(b) == 0x0102030405060708 }},
		"method":      {352, func(b []byte) bool { return string(b[:3]) == "GET" && b[3] == 0 }},
		"omit_host":   {496, func(b []byte) bool { return binary.LittleEndian.Uint32(b) == 1 }},
		"force_query": {500, func(b []byte) bool { return binary.LittleEndian.Uint32(b) == 2 }},
		"username":    {528, func(b []byte) bool { return string(b[:4]) == "user" }},
	}

	for name, tc := range testCases {
		if !tc.check(data[tc.offset:]) {
			t.Errorf("%s not found at offset %d", name, tc.offset)
		}
	}
}

func TestRecordRoundTripKeepsSpanContext(t *testing.T) {
	r := Record{StartTime: 1, EndTime: 2}
	r.SpanContext = spanctx.NewRoot(spanctx.RandomGenerator{})
	r.ParentSpanContext = spanctx.NewRoot(spanctx.RandomGenerator{})

	data, _ := r.MarshalBinary()

	var got Record
	if err := got.UnmarshalBinary(data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.SpanContext != r.SpanContext || got.ParentSpanContext != r.ParentSpanContext {
		t.Errorf("span contexts changed on the wire")
	}
	if !got.HasParent() {
		t.Errorf("parent lost")
	}
}

func TestText(t *testing.T) {
	var f [8]byte
	copy(f[:], "http")
	if Text(f[:]) != "http" {
		t.Errorf("expected http, got %q", Text(f[:]))
	}

	copy(f[:], "12345678")
	if Text(f[:]) != "12345678" {
		t.Errorf("a full field has no terminator")
	}
}

func TestChannelEmitRead(t *testing.T) {
	c := NewChannel(2)
	r := Record{StatusCode: 200}

	if err := c.Emit(&r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.StatusCode = 500

	got, err := c.Read(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.StatusCode != 200 {
		t.Errorf("emitted record must be a snapshot, got %d", got.StatusCode)
	}
}

func TestChannelDropsWhenFull(t *testing.T) {
	c := NewChannel(1)
	_ = c.Emit(&Record{})

	if err := c.Emit(&Record{}); !errors.Is(err, ErrChannelFull) {
		t.Errorf("expected ErrChannelFull, got %v", err)
	}
}

func TestChannelClose(t *testing.T) {
	c := NewChannel(1)
	_ = c.Emit(&Record{StatusCode: 1})
	c.Close()
	c.Close()

	if err := c.Emit(&Record{}); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("expected ErrChannelClosed, got %v", err)
	}

	if r, err := c.Read(context.Background()); err != nil || r.StatusCode != 1 {
		t.Errorf("buffered record must survive Close: %v", err)
	}
	if _, err := c.Read(context.Background()); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("expected ErrChannelClosed, got %v", err)
	}
}

func TestChannelReadHonoursContext(t *testing.T) {
	c := NewChannel(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := c.Read(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestChannelConcurrentProducers(t *testing.T) {
	c := NewChannel(100)

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func(code uint64) {
			defer wg.Done()
			for range 10 {
				_ = c.Emit(&Record{StatusCode: code})
			}
		}(uint64(i))
	}
	wg.Wait()

	if c.Len() != 100 {
		t.Errorf("expected 100 buffered records, got %d", c.Len())
	}
}

func TestMonotonicClock(t *testing.T) {
	c := NewMonotonicClock()
	a := c.Now()
	b := c.Now()
	if b < a {
		t.Errorf("clock went backwards")
	}
	if c.Wall(0).IsZero() {
		t.Errorf("wall time of zero must be the clock base")
	}
}

var _ Clock = (*MonotonicClock)(nil)
