package socket

import (
	"context"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/netsock/errors"
	"github.com/wippyai/netsock/resource"
)

// TCPClient is a handle to a TCP client socket owned by a Runtime.
// The zero value is an invalid handle.
type TCPClient struct {
	rt *Runtime
	h  resource.Handle
}

// Handle returns the table handle.
func (c TCPClient) Handle() resource.Handle { return c.h }

func (c TCPClient) get(phase errors.Phase) (*tcpClient, error) {
	if c.rt == nil {
		return nil, errors.InvalidHandle(phase, uint32(c.h))
	}
	r, ok := c.rt.clients.Get(c.h)
	if !ok {
		return nil, errors.InvalidHandle(phase, uint32(c.h))
	}
	return r, nil
}

// Connect starts an asynchronous connection to address:port and returns
// immediately. Resolution and dial failures are reported through State and
// Err. Connect on a socket that is connecting or connected does nothing.
func (c TCPClient) Connect(address string, port int) error {
	r, err := c.get(errors.PhaseConnect)
	if err != nil {
		return err
	}
	return r.connect(address, port)
}

// Read returns up to max buffered bytes without blocking. The result may be
// empty. Reading a socket that never connected fails with NotConnected.
func (c TCPClient) Read(max int) ([]byte, error) {
	r, err := c.get(errors.PhaseRead)
	if err != nil {
		return nil, err
	}
	if max < 0 {
		return nil, errors.New(errors.PhaseRead, errors.KindInvalidArgument).
			Handle(uint32(c.h)).
			Value(max).
			Detail("negative read size %d", max).
			Build()
	}
	return r.read(max)
}

// ReadAll drains the inbound buffer without blocking.
func (c TCPClient) ReadAll() ([]byte, error) {
	r, err := c.get(errors.PhaseRead)
	if err != nil {
		return nil, err
	}
	return r.read(-1)
}

// ReadAllUpTo drains the inbound buffer if it holds at most limit bytes.
// Otherwise nothing is consumed and ok is false. The check and the drain
// happen under one lock, so bytes arriving concurrently are either all
// returned or all left in place.
func (c TCPClient) ReadAllUpTo(limit int) (data []byte, ok bool, err error) {
	r, err := c.get(errors.PhaseRead)
	if err != nil {
		return nil, false, err
	}
	if limit < 0 {
		return nil, false, errors.New(errors.PhaseRead, errors.KindInvalidArgument).
			Handle(uint32(c.h)).
			Value(limit).
			Detail("negative read size %d", limit).
			Build()
	}
	return r.readAllUpTo(limit)
}

// Write queues p for transmission and returns the number of bytes accepted.
// A count below len(p) means the send buffer is full; it is not an error.
func (c TCPClient) Write(p []byte) (int, error) {
	r, err := c.get(errors.PhaseWrite)
	if err != nil {
		return 0, err
	}
	return r.write(p)
}

// Close flushes pending writes and then closes the connection. Bytes
// already received stay readable. Closing while connecting cancels the dial.
func (c TCPClient) Close() error {
	r, err := c.get(errors.PhaseClose)
	if err != nil {
		return err
	}
	r.close()
	return nil
}

// Destroy releases the socket immediately. The handle is invalid afterwards.
func (c TCPClient) Destroy() error {
	if c.rt == nil {
		return errors.InvalidHandle(errors.PhaseDestroy, uint32(c.h))
	}
	if _, ok := c.rt.clients.Remove(c.h); !ok {
		return errors.InvalidHandle(errors.PhaseDestroy, uint32(c.h))
	}
	return nil
}

// State returns the connection state.
func (c TCPClient) State() (TCPState, error) {
	r, err := c.get(errors.PhaseRead)
	if err != nil {
		return TCPClosed, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, nil
}

// PeerAddr returns the remote address, or the dial target while connecting.
func (c TCPClient) PeerAddr() (string, error) {
	r, err := c.get(errors.PhaseRead)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peer, nil
}

// LocalAddr returns the local address of the last established connection.
func (c TCPClient) LocalAddr() (string, error) {
	r, err := c.get(errors.PhaseRead)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.local, nil
}

// BytesAvailable returns the number of buffered inbound bytes.
func (c TCPClient) BytesAvailable() (int, error) {
	r, err := c.get(errors.PhaseRead)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inbound), nil
}

// BytesToWrite returns the number of bytes queued but not yet sent.
func (c TCPClient) BytesToWrite() (int, error) {
	r, err := c.get(errors.PhaseWrite)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.outbound) + r.inFlight, nil
}

// Err returns the last asynchronous failure, or nil. For an invalid handle
// it returns the invalid handle error itself.
func (c TCPClient) Err() error {
	r, err := c.get(errors.PhaseRead)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// ID returns the socket's unique id, or uuid.Nil for an invalid handle.
func (c TCPClient) ID() uuid.UUID {
	r, err := c.get(errors.PhaseRead)
	if err != nil {
		return uuid.Nil
	}
	return r.id
}

type tcpClient struct {
	rt  *Runtime
	log *zap.Logger
	id  uuid.UUID

	mu       sync.Mutex
	conn     net.Conn
	cancel   context.CancelFunc
	wake     chan struct{}
	err      error
	peer     string
	local    string
	inbound  []byte
	outbound []byte
	inFlight int
	dial     uint64
	handle   resource.Handle
	state    TCPState

	connected bool // reached TCPConnected at least once
	dropped   bool
}

func newTCPClient(rt *Runtime) *tcpClient {
	id := uuid.New()
	return &tcpClient{
		rt:    rt,
		id:    id,
		log:   rt.log.With(zap.String("socket_id", id.String())),
		state: TCPUnconnected,
	}
}

// newAcceptedTCPClient wraps a connection produced by a server's accept loop.
func newAcceptedTCPClient(rt *Runtime, conn net.Conn) *tcpClient {
	c := newTCPClient(rt)
	ctx, cancel := context.WithCancel(rt.ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.peer = conn.RemoteAddr().String()
	c.attachLocked(ctx, conn)
	c.mu.Unlock()
	return c
}

func (c *tcpClient) setHandle(h resource.Handle) {
	c.mu.Lock()
	c.handle = h
	c.mu.Unlock()
	c.log.Debug("handle assigned", zap.Uint32("handle", uint32(h)))
}

func (c *tcpClient) eventLocked(t EventType, err error) Event {
	return Event{
		Type:   t,
		Kind:   TypeTCPClient,
		Handle: c.handle,
		ID:     c.id,
		State:  c.state.String(),
		Err:    err,
	}
}

func (c *tcpClient) describe() HandleInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return HandleInfo{
		Type:  TypeTCPClient,
		ID:    c.id,
		State: c.state.String(),
		Addr:  c.peer,
	}
}

func (c *tcpClient) connect(address string, port int) error {
	if port < 0 || port > 65535 {
		return errors.InvalidPort(errors.PhaseConnect, port)
	}
	target := net.JoinHostPort(address, strconv.Itoa(port))

	c.mu.Lock()
	if c.dropped {
		c.mu.Unlock()
		return errors.InvalidHandle(errors.PhaseConnect, uint32(c.handle))
	}
	if c.state == TCPConnecting || c.state == TCPConnected || c.state == TCPClosing {
		state := c.state
		c.mu.Unlock()
		c.log.Debug("connect ignored", zap.Stringer("state", state))
		return nil
	}

	ctx, cancel := context.WithCancel(c.rt.ctx)
	c.dial++
	attempt := c.dial
	c.cancel = cancel
	c.peer = target
	c.local = ""
	c.err = nil
	c.inbound = nil
	c.outbound = nil
	c.inFlight = 0
	c.state = TCPConnecting
	ev := c.eventLocked(EventStateChanged, nil)
	c.mu.Unlock()

	c.rt.emit(ev)
	if !c.rt.spawn(func() { c.dialConn(ctx, target, attempt) }) {
		cancel()
		c.mu.Lock()
		if c.dial == attempt {
			c.state = TCPUnconnected
		}
		c.mu.Unlock()
		return errors.Closed(errors.PhaseConnect)
	}
	c.log.Debug("connecting", zap.String("peer", target))
	return nil
}

func (c *tcpClient) dialConn(ctx context.Context, target string, attempt uint64) {
	cfg := c.rt.cfg
	d := net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: keepAlivePeriod(cfg),
	}
	conn, dialErr := d.DialContext(ctx, "tcp", target)

	c.mu.Lock()
	if c.dropped || c.dial != attempt || c.state != TCPConnecting {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}

	if dialErr != nil {
		if c.cancel != nil {
			c.cancel()
		}
		c.state = TCPUnconnected
		c.err = errors.FromNet(errors.PhaseConnect, dialErr)
		evs := []Event{
			c.eventLocked(EventError, c.err),
			c.eventLocked(EventStateChanged, nil),
		}
		c.mu.Unlock()

		c.log.Warn("connect failed", zap.String("peer", target), zap.Error(dialErr))
		for _, e := range evs {
			c.rt.emit(e)
		}
		return
	}

	c.attachLocked(ctx, conn)
	ev := c.eventLocked(EventStateChanged, nil)
	c.mu.Unlock()

	c.log.Debug("connected", zap.String("peer", target))
	c.rt.emit(ev)
}

// attachLocked installs an established connection and starts its pumps.
// c.mu must be held.
func (c *tcpClient) attachLocked(ctx context.Context, conn net.Conn) {
	configureConn(conn, c.rt.cfg, c.log)

	c.conn = conn
	c.wake = make(chan struct{}, 1)
	c.local = conn.LocalAddr().String()
	c.peer = conn.RemoteAddr().String()
	c.state = TCPConnected
	c.connected = true

	wake := c.wake
	c.rt.spawn(func() { c.readLoop(conn) })
	c.rt.spawn(func() { c.writeLoop(ctx, conn, wake) })
}

func (c *tcpClient) readLoop(conn net.Conn) {
	buf := make([]byte, c.rt.cfg.ReadChunkSize)
	for {
		n, readErr := conn.Read(buf)

		c.mu.Lock()
		if c.dropped || c.conn != conn {
			c.mu.Unlock()
			return
		}
		var evs []Event
		if n > 0 {
			c.inbound = append(c.inbound, buf[:n]...)
			evs = append(evs, c.eventLocked(EventReadable, nil))
		}
		if readErr != nil {
			evs = append(evs, c.shutdownLocked(errors.PhaseRead, readErr)...)
		}
		c.mu.Unlock()

		for _, e := range evs {
			c.rt.emit(e)
		}
		if readErr != nil {
			if readErr == io.EOF {
				c.log.Debug("peer closed connection")
			} else {
				c.log.Warn("read failed", zap.Error(readErr))
			}
			return
		}
	}
}

func (c *tcpClient) writeLoop(ctx context.Context, conn net.Conn, wake <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
		}

		for {
			c.mu.Lock()
			if c.dropped || c.conn != conn {
				c.mu.Unlock()
				return
			}
			if len(c.outbound) == 0 {
				if c.state != TCPClosing {
					c.mu.Unlock()
					break
				}
				evs := c.shutdownLocked(errors.PhaseClose, nil)
				c.mu.Unlock()

				c.log.Debug("closed")
				for _, e := range evs {
					c.rt.emit(e)
				}
				return
			}
			data := c.outbound
			c.outbound = nil
			c.inFlight = len(data)
			c.mu.Unlock()

			_, writeErr := conn.Write(data)

			c.mu.Lock()
			if c.dropped || c.conn != conn {
				c.mu.Unlock()
				return
			}
			c.inFlight = 0
			if writeErr != nil {
				evs := c.shutdownLocked(errors.PhaseWrite, writeErr)
				c.mu.Unlock()

				c.log.Warn("write failed", zap.Error(writeErr))
				for _, e := range evs {
					c.rt.emit(e)
				}
				return
			}
			c.mu.Unlock()
		}
	}
}

// shutdownLocked tears down the live connection and moves to TCPClosed.
// A nil or EOF cause is a clean close. c.mu must be held.
func (c *tcpClient) shutdownLocked(phase errors.Phase, cause error) []Event {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.outbound = nil
	c.inFlight = 0
	c.state = TCPClosed

	var evs []Event
	if cause != nil && cause != io.EOF {
		c.err = errors.FromNet(phase, cause)
		evs = append(evs, c.eventLocked(EventError, c.err))
	}
	return append(evs, c.eventLocked(EventStateChanged, nil))
}

func (c *tcpClient) read(max int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readLocked(max)
}

func (c *tcpClient) readAllUpTo(limit int) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.inbound) > limit {
		return nil, false, nil
	}
	data, err := c.readLocked(-1)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// readLocked takes up to max bytes from the inbound buffer, or all of them
// when max is negative. c.mu must be held.
func (c *tcpClient) readLocked(max int) ([]byte, error) {
	if len(c.inbound) == 0 {
		if !c.connected {
			return nil, errors.NotConnected(errors.PhaseRead, uint32(c.handle), c.state.String())
		}
		return []byte{}, nil
	}

	n := len(c.inbound)
	if max >= 0 && max < n {
		n = max
	}
	out := make([]byte, n)
	copy(out, c.inbound)
	c.inbound = c.inbound[n:]
	if len(c.inbound) == 0 {
		c.inbound = nil
	}
	return out, nil
}

func (c *tcpClient) write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != TCPConnected {
		return 0, errors.NotConnected(errors.PhaseWrite, uint32(c.handle), c.state.String())
	}
	free := c.rt.cfg.SendBufferSize - len(c.outbound) - c.inFlight
	if free <= 0 || len(p) == 0 {
		return 0, nil
	}
	n := min(len(p), free)
	c.outbound = append(c.outbound, p[:n]...)
	signal(c.wake)
	return n, nil
}

func (c *tcpClient) close() {
	c.mu.Lock()
	var evs []Event
	switch c.state {
	case TCPConnecting:
		c.dial++
		if c.cancel != nil {
			c.cancel()
			c.cancel = nil
		}
		c.state = TCPClosed
		evs = append(evs, c.eventLocked(EventStateChanged, nil))
	case TCPConnected:
		c.state = TCPClosing
		evs = append(evs, c.eventLocked(EventStateChanged, nil))
		signal(c.wake)
	}
	c.mu.Unlock()

	for _, e := range evs {
		c.rt.emit(e)
	}
}

// Drop implements resource.Dropper.
func (c *tcpClient) Drop() {
	c.mu.Lock()
	if c.dropped {
		c.mu.Unlock()
		return
	}
	c.dropped = true
	c.dial++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.inbound = nil
	c.outbound = nil
	c.inFlight = 0
	c.state = TCPClosed
	c.mu.Unlock()

	c.log.Debug("tcp client released")
}

func configureConn(conn net.Conn, cfg Config, log *zap.Logger) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if err := tc.SetNoDelay(cfg.NoDelay); err != nil {
		log.Debug("set nodelay", zap.Error(err))
	}
}

func keepAlivePeriod(cfg Config) time.Duration {
	if !cfg.KeepAlive {
		return -1
	}
	return cfg.KeepAlivePeriod
}

// signal wakes a pump without blocking. A nil channel is ignored.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
