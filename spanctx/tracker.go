package spanctx

import (
	"errors"
	"sync"

	"github.com/cirruscomms/autoprobe/foreign"
)

// MaxContextDepth bounds the walk up a foreign context chain.
const MaxContextDepth = 10

// ErrTrackerFull is returned when no more active spans can be tracked.
var ErrTrackerFull = errors.New("span tracker full")

// Tracker remembers which span is active for a foreign context so that calls made under a
// derived context can find their parent.
type Tracker struct {
	mu        sync.Mutex
	mem       foreign.Memory
	parentPos uint64
	capacity  int
	byContext map[uint64]SpanContext
	bySpan    map[SpanContext]uint64
}

// NewTracker returns a tracker reading context parents at parentPos from each context address.
func NewTracker(mem foreign.Memory, parentPos uint64, capacity int) *Tracker {
	return &Tracker{
		mem:       mem,
		parentPos: parentPos,
		capacity:  capacity,
		byContext: make(map[uint64]SpanContext, capacity),
		bySpan:    make(map[SpanContext]uint64, capacity),
	}
}

func (t *Tracker) lookup(ctxPtr uint64) (SpanContext, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sc, ok := t.byContext[ctxPtr]

	return sc, ok
}

// Parent returns the span active on ctxPtr or on the nearest context it was derived from.
func (t *Tracker) Parent(ctxPtr uint64) (parent SpanContext, ok bool) {
	for range MaxContextDepth {
		if ctxPtr == 0 {
			return SpanContext{}, false
		}

		if sc, ok := t.lookup(ctxPtr); ok {
			return sc, true
		}

		next, err := foreign.ReadPointer(t.mem, ctxPtr+t.parentPos)
		if err != nil {
			return SpanContext{}, false
		}
		ctxPtr = next
	}

	return SpanContext{}, false
}

// Start makes sc the active span of ctxPtr.
func (t *Tracker) Start(ctxPtr uint64, sc SpanContext) (fault error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.byContext[ctxPtr]; !ok && len(t.byContext) >= t.capacity {
		return ErrTrackerFull
	}

	t.byContext[ctxPtr] = sc
	t.bySpan[sc] = ctxPtr

	return nil
}

// Stop deactivates sc. When parent was active on the same context before sc started, parent
// becomes active again.
func (t *Tracker) Stop(sc, parent SpanContext) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ctxPtr, ok := t.bySpan[sc]
	if !ok {
		return
	}
	delete(t.bySpan, sc)

	if parent.IsValid() {
		if parentCtx, ok := t.bySpan[parent]; ok && parentCtx == ctxPtr {
			t.byContext[ctxPtr] = parent
			return
		}
	}

	if t.byContext[ctxPtr] == sc {
		delete(t.byContext, ctxPtr)
	}
}

// Active returns the number of contexts with an active span.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.byContext)
}
