package correlation

import (
	"sync"

	"github.com/golang/groupcache/lru"
)

// Bindings maps the address of an outbound header container to the key of the call it belongs
// to. Containers of abandoned calls are evicted once capacity is reached.
type Bindings struct {
	mu    sync.Mutex
	cache *lru.Cache
}

// NewBindings returns an empty LRU of the given capacity.
func NewBindings(capacity int) *Bindings {
	return &Bindings{cache: lru.New(capacity)}
}

// Bind records that container belongs to key, replacing any previous binding.
func (b *Bindings) Bind(container uint64, key Key) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cache.Add(container, key)
}

// Take resolves and removes the binding for container, so it is consumed at most once.
func (b *Bindings) Take(container uint64) (key Key, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	v, ok := b.cache.Get(container)
	if !ok {
		return 0, false
	}
	b.cache.Remove(container)

	return v.(Key), true
}

// Len returns the number of live bindings.
func (b *Bindings) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.cache.Len()
}
