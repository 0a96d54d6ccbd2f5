package resource

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrClosed = errors.New("resource backend closed")
	ErrFull   = errors.New("resource backend full")
)

// nextBase hands each backend its own starting generation, so handles
// issued by different tables rarely coincide.
var nextBase atomic.Uint32

// LocalBackend is an in-memory slot table with a free list.
// Freed slots are reused, but their generation is bumped first,
// so a handle issued before the free never resolves again. A slot whose
// generation has cycled back to the table's base is retired for good.
type LocalBackend struct {
	entries  []entry
	freeList []int
	mu       sync.RWMutex
	base     uint32
	live     int
	closed   bool
}

type entry struct {
	value  any
	typeID uint32
	gen    uint32
	valid  bool
}

// NewLocalBackend creates a new in-memory backend.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{
		entries:  make([]entry, 0, 64),
		freeList: make([]int, 0, 16),
		base:     (nextBase.Add(1) - 1) & genMask,
	}
}

// Create stores a value and returns a handle.
func (b *LocalBackend) Create(typeID uint32, value any) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrClosed
	}

	if n := len(b.freeList); n > 0 {
		idx := b.freeList[n-1]
		b.freeList = b.freeList[:n-1]
		e := &b.entries[idx]
		e.typeID = typeID
		e.value = value
		e.valid = true
		b.live++
		return makeHandle(idx, e.gen), nil
	}

	if len(b.entries) >= MaxSlots {
		return 0, ErrFull
	}

	b.entries = append(b.entries, entry{
		typeID: typeID,
		value:  value,
		gen:    b.base,
		valid:  true,
	})
	b.live++
	return makeHandle(len(b.entries)-1, b.base), nil
}

// lookup returns the live entry for a handle. Caller must hold b.mu.
func (b *LocalBackend) lookup(handle Handle) *entry {
	idx := handle.index()
	if idx < 0 || idx >= len(b.entries) {
		return nil
	}
	e := &b.entries[idx]
	if !e.valid || e.gen != handle.generation() {
		return nil
	}
	return e
}

// Get retrieves a value by handle.
func (b *LocalBackend) Get(handle Handle) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e := b.lookup(handle)
	if e == nil {
		return nil, false
	}
	return e.value, true
}

// Drop removes a resource and returns (value, true) if the caller should release it.
func (b *LocalBackend) Drop(handle Handle) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.lookup(handle)
	if e == nil {
		return nil, false
	}

	value := e.value
	e.valid = false
	e.value = nil
	e.gen = (e.gen + 1) & genMask
	b.live--
	if e.gen != b.base {
		b.freeList = append(b.freeList, handle.index())
	}

	return value, true
}

// Close drops every live value and rejects further creates.
func (b *LocalBackend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	var live []any
	for i := range b.entries {
		if b.entries[i].valid {
			live = append(live, b.entries[i].value)
			b.entries[i].valid = false
			b.entries[i].value = nil
		}
	}
	b.entries = nil
	b.freeList = nil
	b.live = 0
	b.mu.Unlock()

	// Drop outside the lock; droppers may call back into the table.
	for _, v := range live {
		if d, ok := v.(Dropper); ok {
			d.Drop()
		}
	}
	return nil
}

// TypeID returns the type ID for a handle.
func (b *LocalBackend) TypeID(handle Handle) (uint32, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e := b.lookup(handle)
	if e == nil {
		return 0, false
	}
	return e.typeID, true
}

// Len returns the number of active resources.
func (b *LocalBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.live
}

// Each iterates over all active resources.
// fn runs under the read lock and must not modify the backend.
func (b *LocalBackend) Each(fn func(Handle, uint32, any) bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for i, e := range b.entries {
		if e.valid {
			if !fn(makeHandle(i, e.gen), e.typeID, e.value) {
				break
			}
		}
	}
}
