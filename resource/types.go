package resource

// Handle is an opaque reference to a resource in a table.
// The low bits carry the slot index, the high bits a generation counter
// that changes every time the slot is freed. Handle 0 is always invalid.
// Handles never have bit 31 set, so they fit in a positive int32.
type Handle uint32

const (
	indexBits = 20
	genBits   = 11

	indexMask = 1<<indexBits - 1
	genMask   = 1<<genBits - 1

	// MaxSlots is the number of slots a table can hold. Each slot issues
	// 1<<genBits handles before it is retired.
	MaxSlots = indexMask
)

func makeHandle(idx int, gen uint32) Handle {
	return Handle((gen&genMask)<<indexBits | uint32(idx+1))
}

// index returns the zero-based slot index, or -1 for the zero handle.
func (h Handle) index() int {
	return int(uint32(h)&indexMask) - 1
}

func (h Handle) generation() uint32 {
	return uint32(h) >> indexBits & genMask
}

// Event types for resource lifecycle notifications.
type EventType uint8

const (
	EventCreated EventType = iota
	EventDropped
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Event represents a resource lifecycle event.
type Event struct {
	Value  any
	Handle Handle
	TypeID uint32
	Type   EventType
}

// Observer receives notifications about resource lifecycle events.
type Observer interface {
	OnResourceEvent(Event)
}

// Backend provides the underlying storage mechanism for resources.
type Backend interface {
	// Create stores a value and returns a handle.
	Create(typeID uint32, value any) (Handle, error)

	// Get retrieves a value by handle.
	Get(handle Handle) (any, bool)

	// Drop removes a resource and returns (value, true) if the handle was live.
	Drop(handle Handle) (any, bool)

	// Close releases all resources held by the backend.
	Close() error
}

// Table manages resources with type information and observer support.
type Table interface {
	// Insert adds a value and returns its handle. Returns 0 if the table is closed or full.
	Insert(typeID uint32, value any) Handle

	// Get retrieves a value by handle.
	Get(handle Handle) (any, bool)

	// GetTyped retrieves a value only if it matches the expected type.
	GetTyped(handle Handle, typeID uint32) (any, bool)

	// Remove drops a resource and returns (value, true) if found.
	Remove(handle Handle) (any, bool)

	// RemoveTyped drops a resource only if it matches the expected type.
	RemoveTyped(handle Handle, typeID uint32) (any, bool)

	// Subscribe adds an observer for lifecycle events.
	Subscribe(Observer)

	// Unsubscribe removes an observer.
	Unsubscribe(Observer)

	// Len returns the number of active resources.
	Len() int

	// Clear drops all resources.
	Clear()

	// Close releases all resources and stops accepting operations.
	Close() error
}

// TypedTable provides type-safe access to resources of a specific type.
type TypedTable[T any] interface {
	// Insert adds a value and returns its handle.
	Insert(value T) Handle

	// Get retrieves a value by handle.
	Get(handle Handle) (T, bool)

	// Remove drops a resource and returns (value, true) if found.
	Remove(handle Handle) (T, bool)

	// Len returns the number of active resources of this type.
	Len() int

	// Each iterates over all active resources of this type.
	Each(func(Handle, T) bool)
}

// Dropper is optionally implemented by resource values that need cleanup.
type Dropper interface {
	Drop()
}
