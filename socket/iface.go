package socket

// Connectable is a socket that dials a remote peer.
type Connectable interface {
	Connect(address string, port int) error
}

// Opener is a socket that opens a URL.
type Opener interface {
	Open(rawURL string, port int) error
}

// Readable is a socket with a non-blocking inbound byte buffer.
type Readable interface {
	Read(max int) ([]byte, error)
	ReadAll() ([]byte, error)
}

// Writable is a socket that queues outbound data.
type Writable interface {
	Write(p []byte) (int, error)
}

// Closable is implemented by every handle type.
type Closable interface {
	Close() error
	Destroy() error
}

var (
	_ Connectable = TCPClient{}
	_ Readable    = TCPClient{}
	_ Writable    = TCPClient{}
	_ Closable    = TCPClient{}

	_ Closable = TCPServer{}

	_ Opener   = WebSocket{}
	_ Writable = WebSocket{}
	_ Closable = WebSocket{}
)
