package socket

import (
	"time"
)

// ListenPolicy decides which interface a server binds when Listen is called.
type ListenPolicy uint8

const (
	// BindAny ignores the address passed to Listen and binds the wildcard
	// interface. This is the default.
	BindAny ListenPolicy = iota
	// BindRequested binds the address passed to Listen. An empty address
	// still means the wildcard interface.
	BindRequested
)

func (p ListenPolicy) String() string {
	switch p {
	case BindAny:
		return "any"
	case BindRequested:
		return "requested"
	default:
		return "invalid"
	}
}

const (
	// DefaultBufferSize is the default send buffer and read chunk size (64 KB)
	DefaultBufferSize = 65536

	// DefaultMaxPendingConnections bounds the accepted-but-unclaimed queue of a server
	DefaultMaxPendingConnections = 30
)

// Config holds the runtime-wide socket settings.
type Config struct {
	// ListenPolicy selects the interface servers bind.
	ListenPolicy ListenPolicy

	// SendBufferSize caps the bytes a TCP client holds for transmission.
	// Write accepts at most the free space and reports a partial write.
	SendBufferSize int

	// ReadChunkSize is the size of a single read from the network.
	ReadChunkSize int

	// MaxPendingConnections bounds the per-server accept queue. When the
	// queue is full the server stops accepting until a connection is claimed.
	MaxPendingConnections int

	// NoDelay disables Nagle's algorithm on TCP connections.
	NoDelay bool

	// KeepAlive enables TCP keep-alive probes every KeepAlivePeriod.
	KeepAlive       bool
	KeepAlivePeriod time.Duration

	// DialTimeout bounds a TCP connect attempt. Zero means no limit.
	DialTimeout time.Duration

	// HandshakeTimeout bounds a WebSocket opening handshake.
	HandshakeTimeout time.Duration

	// CloseTimeout bounds how long a graceful WebSocket close waits for the peer.
	CloseTimeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ListenPolicy:          BindAny,
		SendBufferSize:        DefaultBufferSize,
		ReadChunkSize:         DefaultBufferSize,
		MaxPendingConnections: DefaultMaxPendingConnections,
		NoDelay:               true,
		KeepAlive:             true,
		KeepAlivePeriod:       30 * time.Second,
		HandshakeTimeout:      10 * time.Second,
		CloseTimeout:          5 * time.Second,
	}
}

// normalize replaces unusable values with defaults.
func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = d.SendBufferSize
	}
	if c.ReadChunkSize <= 0 {
		c.ReadChunkSize = d.ReadChunkSize
	}
	if c.MaxPendingConnections <= 0 {
		c.MaxPendingConnections = d.MaxPendingConnections
	}
	if c.KeepAlivePeriod <= 0 {
		c.KeepAlivePeriod = d.KeepAlivePeriod
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = d.CloseTimeout
	}
	if c.DialTimeout < 0 {
		c.DialTimeout = 0
	}
	return c
}
