package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrChannelFull is returned by Emit when no consumer keeps up; the record is dropped.
	ErrChannelFull = errors.New("event channel full")
	// ErrChannelClosed is returned after Close.
	ErrChannelClosed = errors.New("event channel closed")
)

// Channel is an append-only, multi-producer event channel carrying encoded records.
// Emit never blocks.
type Channel struct {
	mu     sync.RWMutex
	closed bool
	ch     chan []byte
}

// NewChannel returns a channel buffering up to size records.
func NewChannel(size int) *Channel {
	return &Channel{ch: make(chan []byte, size)}
}

// Emit publishes a copy of r.
func (c *Channel) Emit(r *Record) (fault error) {
	data, err := r.MarshalBinary()
	if err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrChannelClosed
	}

	select {
	case c.ch <- data:
		return nil
	default:
		return ErrChannelFull
	}
}

// Read blocks until a record is available, ctx is done or the channel is closed and drained.
func (c *Channel) Read(ctx context.Context) (record Record, fault error) {
	select {
	case <-ctx.Done():
		return Record{}, ctx.Err()
	case data, ok := <-c.ch:
		if !ok {
			return Record{}, ErrChannelClosed
		}

		var r Record
		if err := r.UnmarshalBinary(data); err != nil {
			return Record{}, fmt.Errorf("could not read event: %w", err)
		}

		return r, nil
	}
}

// Len returns the number of buffered records.
func (c *Channel) Len() int {
	return len(c.ch)
}

// Close stops accepting records. Buffered records can still be read.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}
