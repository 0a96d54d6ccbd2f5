package socket

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wippyai/netsock/errors"
	"github.com/wippyai/netsock/resource"
)

// WebSocket is a handle to a WebSocket client owned by a Runtime.
// The zero value is an invalid handle.
type WebSocket struct {
	rt *Runtime
	h  resource.Handle
}

// Handle returns the table handle.
func (w WebSocket) Handle() resource.Handle { return w.h }

func (w WebSocket) get(phase errors.Phase) (*webSocket, error) {
	if w.rt == nil {
		return nil, errors.InvalidHandle(phase, uint32(w.h))
	}
	r, ok := w.rt.sockets.Get(w.h)
	if !ok {
		return nil, errors.InvalidHandle(phase, uint32(w.h))
	}
	return r, nil
}

// Open starts the opening handshake with rawURL and returns immediately.
// A port in 1..65535 replaces the URL's port; 0 keeps it. An open or
// connecting socket is closed first.
func (w WebSocket) Open(rawURL string, port int) error {
	r, err := w.get(errors.PhaseOpen)
	if err != nil {
		return err
	}
	u, err := parseURL(rawURL, port)
	if err != nil {
		return err
	}
	return r.open(u)
}

// Write queues p as one text frame and returns len(p). When the socket is
// not open it returns -1 and a NotConnected error. Bytes that are not valid
// UTF-8 are rejected with InvalidArgument.
func (w WebSocket) Write(p []byte) (int, error) {
	r, err := w.get(errors.PhaseWrite)
	if err != nil {
		return -1, err
	}
	if !utf8.Valid(p) {
		return -1, errors.InvalidArgument(errors.PhaseWrite, "text frame is not valid UTF-8", len(p))
	}
	return r.write(p)
}

// ReadMessage pops the oldest received message. It reports false when
// nothing is queued and never blocks.
func (w WebSocket) ReadMessage() ([]byte, bool, error) {
	r, err := w.get(errors.PhaseRead)
	if err != nil {
		return nil, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.inbound) == 0 {
		return nil, false, nil
	}
	msg := r.inbound[0]
	r.inbound[0] = nil
	r.inbound = r.inbound[1:]
	return msg, true, nil
}

// Close starts the closing handshake. Before the opening handshake
// completes it cancels the attempt; on a closed socket it does nothing.
func (w WebSocket) Close() error {
	r, err := w.get(errors.PhaseClose)
	if err != nil {
		return err
	}
	r.close()
	return nil
}

// Destroy releases the socket immediately. The handle is invalid afterwards.
func (w WebSocket) Destroy() error {
	if w.rt == nil {
		return errors.InvalidHandle(errors.PhaseDestroy, uint32(w.h))
	}
	if _, ok := w.rt.sockets.Remove(w.h); !ok {
		return errors.InvalidHandle(errors.PhaseDestroy, uint32(w.h))
	}
	return nil
}

// State returns the connection state.
func (w WebSocket) State() (WSState, error) {
	r, err := w.get(errors.PhaseRead)
	if err != nil {
		return WSClosed, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, nil
}

// URL returns the target of the last Open, with the port override applied.
func (w WebSocket) URL() (string, error) {
	r, err := w.get(errors.PhaseRead)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.url, nil
}

// CloseCode returns the close code received from the peer, or 0.
func (w WebSocket) CloseCode() (int, error) {
	r, err := w.get(errors.PhaseRead)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeCode, nil
}

// Err returns the last asynchronous failure, or nil. For an invalid handle
// it returns the invalid handle error itself.
func (w WebSocket) Err() error {
	r, err := w.get(errors.PhaseRead)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// ID returns the socket's unique id, or uuid.Nil for an invalid handle.
func (w WebSocket) ID() uuid.UUID {
	r, err := w.get(errors.PhaseRead)
	if err != nil {
		return uuid.Nil
	}
	return r.id
}

func parseURL(rawURL string, port int) (*url.URL, error) {
	if port < 0 || port > 65535 {
		return nil, errors.InvalidPort(errors.PhaseOpen, port)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.New(errors.PhaseOpen, errors.KindInvalidArgument).
			Value(rawURL).
			Cause(err).
			Detail("malformed url").
			Build()
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, errors.InvalidArgument(errors.PhaseOpen, "url scheme must be ws or wss", rawURL)
	}
	if u.Hostname() == "" {
		return nil, errors.InvalidArgument(errors.PhaseOpen, "url has no host", rawURL)
	}
	if port > 0 {
		u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(port))
	}
	return u, nil
}

type webSocket struct {
	rt  *Runtime
	log *zap.Logger
	id  uuid.UUID

	mu        sync.Mutex
	conn      *websocket.Conn
	cancel    context.CancelFunc
	wake      chan struct{}
	err       error
	url       string
	outbound  [][]byte
	inbound   [][]byte
	closeCode int
	session   uint64
	handle    resource.Handle
	state     WSState
	dropped   bool
}

func newWebSocket(rt *Runtime) *webSocket {
	id := uuid.New()
	return &webSocket{
		rt:    rt,
		id:    id,
		log:   rt.log.With(zap.String("socket_id", id.String())),
		state: WSClosed,
	}
}

func (s *webSocket) setHandle(h resource.Handle) {
	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()
}

func (s *webSocket) eventLocked(t EventType, err error) Event {
	return Event{
		Type:   t,
		Kind:   TypeWebSocket,
		Handle: s.handle,
		ID:     s.id,
		State:  s.state.String(),
		Err:    err,
	}
}

func (s *webSocket) describe() HandleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return HandleInfo{
		Type:  TypeWebSocket,
		ID:    s.id,
		State: s.state.String(),
		Addr:  s.url,
	}
}

func (s *webSocket) open(u *url.URL) error {
	target := u.String()

	s.mu.Lock()
	if s.dropped {
		s.mu.Unlock()
		return errors.InvalidHandle(errors.PhaseOpen, uint32(s.handle))
	}
	old := s.conn
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(s.rt.ctx)
	s.session++
	session := s.session
	s.conn = nil
	s.cancel = cancel
	s.url = target
	s.err = nil
	s.closeCode = 0
	s.outbound = nil
	s.inbound = nil
	s.state = WSConnecting
	ev := s.eventLocked(EventStateChanged, nil)
	s.mu.Unlock()

	if old != nil {
		s.log.Debug("closing previous connection before reopening")
		closeTimeout := s.rt.cfg.CloseTimeout
		s.rt.spawn(func() { closeConn(old, closeTimeout) })
	}

	s.rt.emit(ev)
	if !s.rt.spawn(func() { s.handshake(ctx, target, session) }) {
		cancel()
		s.mu.Lock()
		if s.session == session {
			s.state = WSClosed
		}
		s.mu.Unlock()
		return errors.Closed(errors.PhaseOpen)
	}
	s.log.Debug("opening", zap.String("url", target))
	return nil
}

func (s *webSocket) handshake(ctx context.Context, target string, session uint64) {
	d := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: s.rt.cfg.HandshakeTimeout,
	}
	conn, resp, dialErr := d.DialContext(ctx, target, nil)

	s.mu.Lock()
	if s.dropped || s.session != session || s.state != WSConnecting {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}

	if dialErr != nil {
		if s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
		s.state = WSClosed
		s.err = handshakeError(dialErr, resp)
		evs := []Event{
			s.eventLocked(EventError, s.err),
			s.eventLocked(EventStateChanged, nil),
		}
		s.mu.Unlock()

		s.log.Warn("handshake failed", zap.String("url", target), zap.Error(dialErr))
		for _, e := range evs {
			s.rt.emit(e)
		}
		return
	}

	wake := make(chan struct{}, 1)
	s.conn = conn
	s.wake = wake
	s.state = WSOpen
	ev := s.eventLocked(EventStateChanged, nil)
	s.rt.spawn(func() { s.readLoop(conn) })
	s.rt.spawn(func() { s.writeLoop(ctx, conn, wake) })
	s.mu.Unlock()

	s.log.Debug("open", zap.String("url", target))
	s.rt.emit(ev)
}

func handshakeError(err error, resp *http.Response) *errors.Error {
	if errors.Is(err, websocket.ErrBadHandshake) {
		detail := "bad handshake"
		if resp != nil {
			detail = "bad handshake: " + resp.Status
		}
		return errors.Wrap(errors.PhaseHandshake, errors.KindHandshakeFailed, err, detail)
	}
	return errors.FromNet(errors.PhaseHandshake, err)
}

func (s *webSocket) readLoop(conn *websocket.Conn) {
	for {
		_, data, readErr := conn.ReadMessage()

		s.mu.Lock()
		if s.dropped || s.conn != conn {
			s.mu.Unlock()
			return
		}
		if readErr != nil {
			evs := s.shutdownLocked(errors.PhaseRead, readErr)
			s.mu.Unlock()

			s.log.Debug("connection ended", zap.Error(readErr))
			for _, e := range evs {
				s.rt.emit(e)
			}
			return
		}
		s.inbound = append(s.inbound, data)
		ev := s.eventLocked(EventMessage, nil)
		s.mu.Unlock()

		s.rt.emit(ev)
	}
}

func (s *webSocket) writeLoop(ctx context.Context, conn *websocket.Conn, wake <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
		}

		for {
			s.mu.Lock()
			if s.dropped || s.conn != conn {
				s.mu.Unlock()
				return
			}
			if len(s.outbound) == 0 {
				closing := s.state == WSClosing
				s.mu.Unlock()
				if closing {
					s.sendClose(conn)
					return
				}
				break
			}
			frame := s.outbound[0]
			s.outbound[0] = nil
			s.outbound = s.outbound[1:]
			s.mu.Unlock()

			if writeErr := conn.WriteMessage(websocket.TextMessage, frame); writeErr != nil {
				s.fail(conn, errors.PhaseWrite, writeErr)
				return
			}
		}
	}
}

// sendClose sends a normal closure frame and bounds the wait for the
// peer's reply. The read loop finishes the shutdown.
func (s *webSocket) sendClose(conn *websocket.Conn) {
	deadline := time.Now().Add(s.rt.cfg.CloseTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		s.fail(conn, errors.PhaseClose, nil)
		return
	}
	_ = conn.SetReadDeadline(deadline)
}

func (s *webSocket) fail(conn *websocket.Conn, phase errors.Phase, cause error) {
	s.mu.Lock()
	if s.dropped || s.conn != conn {
		s.mu.Unlock()
		return
	}
	evs := s.shutdownLocked(phase, cause)
	s.mu.Unlock()

	if cause != nil {
		s.log.Warn("connection failed", zap.Error(cause))
	}
	for _, e := range evs {
		s.rt.emit(e)
	}
}

// shutdownLocked closes the live connection and moves to WSClosed.
// Normal closures and failures during a requested close are not errors.
// s.mu must be held.
func (s *webSocket) shutdownLocked(phase errors.Phase, cause error) []Event {
	closing := s.state == WSClosing

	var ce *websocket.CloseError
	if errors.As(cause, &ce) {
		s.closeCode = ce.Code
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.outbound = nil
	s.state = WSClosed

	var evs []Event
	if cause != nil && !closing &&
		!websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.err = errors.FromNet(phase, cause)
		evs = append(evs, s.eventLocked(EventError, s.err))
	}
	return append(evs, s.eventLocked(EventStateChanged, nil))
}

func (s *webSocket) write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != WSOpen {
		return -1, errors.NotConnected(errors.PhaseWrite, uint32(s.handle), s.state.String())
	}
	s.outbound = append(s.outbound, append([]byte(nil), p...))
	signal(s.wake)
	return len(p), nil
}

func (s *webSocket) close() {
	s.mu.Lock()
	var evs []Event
	switch s.state {
	case WSConnecting:
		s.session++
		if s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
		s.state = WSClosed
		evs = append(evs, s.eventLocked(EventStateChanged, nil))
	case WSOpen:
		s.state = WSClosing
		evs = append(evs, s.eventLocked(EventStateChanged, nil))
		signal(s.wake)
	}
	s.mu.Unlock()

	for _, e := range evs {
		s.rt.emit(e)
	}
}

// Drop implements resource.Dropper.
func (s *webSocket) Drop() {
	s.mu.Lock()
	if s.dropped {
		s.mu.Unlock()
		return
	}
	s.dropped = true
	s.session++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.inbound = nil
	s.outbound = nil
	s.state = WSClosed
	s.mu.Unlock()

	s.log.Debug("websocket released")
}

// closeConn performs a best-effort close handshake on a replaced connection.
func closeConn(conn *websocket.Conn, timeout time.Duration) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout))
	_ = conn.Close()
}
