package socket

// TCPState is the connection state of a TCP client socket.
type TCPState uint8

const (
	TCPUnconnected TCPState = iota
	TCPConnecting
	TCPConnected
	TCPClosing
	TCPClosed
)

func (s TCPState) String() string {
	switch s {
	case TCPUnconnected:
		return "unconnected"
	case TCPConnecting:
		return "connecting"
	case TCPConnected:
		return "connected"
	case TCPClosing:
		return "closing"
	case TCPClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// WSState is the connection state of a WebSocket client.
type WSState uint8

const (
	WSClosed WSState = iota
	WSConnecting
	WSOpen
	WSClosing
)

func (s WSState) String() string {
	switch s {
	case WSClosed:
		return "closed"
	case WSConnecting:
		return "connecting"
	case WSOpen:
		return "open"
	case WSClosing:
		return "closing"
	default:
		return "invalid"
	}
}

// HandleType identifies the kind of resource behind a handle.
// The values double as resource table type IDs.
type HandleType uint32

const (
	TypeTCPClient HandleType = iota + 1
	TypeTCPServer
	TypeWebSocket
)

func (t HandleType) String() string {
	switch t {
	case TypeTCPClient:
		return "tcp-client"
	case TypeTCPServer:
		return "tcp-server"
	case TypeWebSocket:
		return "websocket"
	default:
		return "unknown"
	}
}
