package socket

import (
	"github.com/google/uuid"

	"github.com/wippyai/netsock/resource"
)

// EventType identifies an asynchronous socket notification.
type EventType uint8

const (
	// EventStateChanged fires on every connection state transition.
	EventStateChanged EventType = iota
	// EventReadable fires when a TCP client buffered new inbound bytes.
	EventReadable
	// EventPendingConnection fires when a server queued an accepted connection.
	EventPendingConnection
	// EventMessage fires when a WebSocket client queued an inbound message.
	EventMessage
	// EventError fires when an asynchronous operation failed.
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventStateChanged:
		return "state"
	case EventReadable:
		return "readable"
	case EventPendingConnection:
		return "pending"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is delivered to observers from the runtime's I/O goroutines.
// Handle is zero for connections still waiting in a server's queue.
type Event struct {
	Err    error
	State  string
	ID     uuid.UUID
	Handle resource.Handle
	Kind   HandleType
	Type   EventType
}

// Observer receives socket events. OnSocketEvent runs on an I/O goroutine
// and must not block; it may call back into the runtime.
type Observer interface {
	OnSocketEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) OnSocketEvent(e Event) { f(e) }
