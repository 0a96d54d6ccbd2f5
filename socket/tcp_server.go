package socket

import (
	"net"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/netsock/errors"
	"github.com/wippyai/netsock/resource"
)

// TCPServer is a handle to a listening TCP socket owned by a Runtime.
// The zero value is an invalid handle.
type TCPServer struct {
	rt *Runtime
	h  resource.Handle
}

// Handle returns the table handle.
func (s TCPServer) Handle() resource.Handle { return s.h }

func (s TCPServer) get(phase errors.Phase) (*tcpServer, error) {
	if s.rt == nil {
		return nil, errors.InvalidHandle(phase, uint32(s.h))
	}
	r, ok := s.rt.servers.Get(s.h)
	if !ok {
		return nil, errors.InvalidHandle(phase, uint32(s.h))
	}
	return r, nil
}

// Listen binds the server and starts accepting connections in the
// background. It reports false when already listening or when the bind
// fails; the bind failure is available from Err. Which interface is bound
// depends on Config.ListenPolicy.
func (s TCPServer) Listen(address string, port int) (bool, error) {
	r, err := s.get(errors.PhaseListen)
	if err != nil {
		return false, err
	}
	return r.listen(address, port)
}

// AcceptPending moves the oldest accepted connection into a new client
// handle. It reports false when no connection is waiting and never blocks.
func (s TCPServer) AcceptPending() (TCPClient, bool, error) {
	r, err := s.get(errors.PhaseAccept)
	if err != nil {
		return TCPClient{}, false, err
	}

	var c *tcpClient
	select {
	case c = <-r.pending:
	default:
		return TCPClient{}, false, nil
	}

	h := s.rt.clients.Insert(c)
	if h == 0 {
		c.Drop()
		return TCPClient{}, false, errors.Closed(errors.PhaseAccept)
	}
	c.setHandle(h)
	return TCPClient{rt: s.rt, h: h}, true, nil
}

// HasPending reports whether a connection is waiting to be accepted.
func (s TCPServer) HasPending() (bool, error) {
	r, err := s.get(errors.PhaseAccept)
	if err != nil {
		return false, err
	}
	return len(r.pending) > 0, nil
}

// Close stops listening. Queued connections stay claimable.
func (s TCPServer) Close() error {
	r, err := s.get(errors.PhaseClose)
	if err != nil {
		return err
	}
	r.stopListening()
	return nil
}

// Destroy stops listening, closes every unclaimed connection and
// invalidates the handle.
func (s TCPServer) Destroy() error {
	if s.rt == nil {
		return errors.InvalidHandle(errors.PhaseDestroy, uint32(s.h))
	}
	if _, ok := s.rt.servers.Remove(s.h); !ok {
		return errors.InvalidHandle(errors.PhaseDestroy, uint32(s.h))
	}
	return nil
}

// IsListening reports whether the accept loop is running.
func (s TCPServer) IsListening() (bool, error) {
	r, err := s.get(errors.PhaseListen)
	if err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listener != nil, nil
}

// Addr returns the bound address, or "" when not listening.
func (s TCPServer) Addr() (string, error) {
	r, err := s.get(errors.PhaseListen)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return "", nil
	}
	return r.listener.Addr().String(), nil
}

// Err returns the last bind or accept failure, or nil. For an invalid
// handle it returns the invalid handle error itself.
func (s TCPServer) Err() error {
	r, err := s.get(errors.PhaseListen)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// ID returns the server's unique id, or uuid.Nil for an invalid handle.
func (s TCPServer) ID() uuid.UUID {
	r, err := s.get(errors.PhaseListen)
	if err != nil {
		return uuid.Nil
	}
	return r.id
}

type tcpServer struct {
	rt  *Runtime
	log *zap.Logger
	id  uuid.UUID

	// pending is the accepted-but-unclaimed queue. The accept loop blocks
	// on it when full.
	pending chan *tcpClient

	mu       sync.Mutex
	listener net.Listener
	stop     chan struct{}
	err      error
	handle   resource.Handle
	dropped  bool
}

func newTCPServer(rt *Runtime) *tcpServer {
	id := uuid.New()
	return &tcpServer{
		rt:      rt,
		id:      id,
		log:     rt.log.With(zap.String("socket_id", id.String())),
		pending: make(chan *tcpClient, rt.cfg.MaxPendingConnections),
	}
}

func (s *tcpServer) setHandle(h resource.Handle) {
	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()
}

func (s *tcpServer) stateLocked() string {
	if s.listener != nil {
		return "listening"
	}
	return "idle"
}

func (s *tcpServer) eventLocked(t EventType, err error) Event {
	return Event{
		Type:   t,
		Kind:   TypeTCPServer,
		Handle: s.handle,
		ID:     s.id,
		State:  s.stateLocked(),
		Err:    err,
	}
}

func (s *tcpServer) describe() HandleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := HandleInfo{
		Type:  TypeTCPServer,
		ID:    s.id,
		State: s.stateLocked(),
	}
	if s.listener != nil {
		info.Addr = s.listener.Addr().String()
	}
	return info
}

// bindAddress applies the listen policy to the requested address.
func bindAddress(policy ListenPolicy, address string, port int) (string, error) {
	p := strconv.Itoa(port)
	if policy == BindAny || address == "" {
		return net.JoinHostPort("", p), nil
	}
	if net.ParseIP(address) == nil {
		return "", errors.InvalidArgument(errors.PhaseListen, "listen address is not an IP literal", address)
	}
	return net.JoinHostPort(address, p), nil
}

func (s *tcpServer) listen(address string, port int) (bool, error) {
	if port < 0 || port > 65535 {
		return false, errors.InvalidPort(errors.PhaseListen, port)
	}
	bind, err := bindAddress(s.rt.cfg.ListenPolicy, address, port)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	if s.dropped {
		s.mu.Unlock()
		return false, errors.InvalidHandle(errors.PhaseListen, uint32(s.handle))
	}
	if s.listener != nil {
		s.mu.Unlock()
		return false, nil
	}

	lc := net.ListenConfig{KeepAlive: keepAlivePeriod(s.rt.cfg)}
	ln, listenErr := lc.Listen(s.rt.ctx, "tcp", bind)
	if listenErr != nil {
		s.err = errors.FromNet(errors.PhaseListen, listenErr)
		ev := s.eventLocked(EventError, s.err)
		s.mu.Unlock()

		s.log.Warn("listen failed", zap.String("addr", bind), zap.Error(listenErr))
		s.rt.emit(ev)
		return false, nil
	}

	stop := make(chan struct{})
	s.listener = ln
	s.stop = stop
	s.err = nil
	ev := s.eventLocked(EventStateChanged, nil)
	s.mu.Unlock()

	if !s.rt.spawn(func() { s.acceptLoop(ln, stop) }) {
		s.stopListening()
		return false, errors.Closed(errors.PhaseListen)
	}
	s.log.Debug("listening", zap.String("addr", ln.Addr().String()))
	s.rt.emit(ev)
	return true, nil
}

func (s *tcpServer) acceptLoop(ln net.Listener, stop chan struct{}) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			if s.listener != ln {
				// stopped by Close or Destroy
				s.mu.Unlock()
				return
			}
			s.listener = nil
			s.stop = nil
			s.err = errors.FromNet(errors.PhaseAccept, err)
			evs := []Event{
				s.eventLocked(EventError, s.err),
				s.eventLocked(EventStateChanged, nil),
			}
			s.mu.Unlock()

			_ = ln.Close()
			close(stop)
			s.log.Warn("accept failed", zap.Error(err))
			for _, e := range evs {
				s.rt.emit(e)
			}
			return
		}

		c := newAcceptedTCPClient(s.rt, conn)
		select {
		case <-stop:
			c.Drop()
			return
		case s.pending <- c:
		}

		s.mu.Lock()
		dropped := s.dropped
		ev := s.eventLocked(EventPendingConnection, nil)
		s.mu.Unlock()
		if dropped {
			s.drainPending()
			return
		}

		s.log.Debug("connection queued", zap.String("peer", conn.RemoteAddr().String()))
		s.rt.emit(ev)
	}
}

func (s *tcpServer) stopListening() {
	s.mu.Lock()
	ln, stop := s.listener, s.stop
	s.listener = nil
	s.stop = nil
	var ev Event
	if ln != nil {
		ev = s.eventLocked(EventStateChanged, nil)
	}
	s.mu.Unlock()

	if ln == nil {
		return
	}
	close(stop)
	_ = ln.Close()
	s.log.Debug("stopped listening")
	s.rt.emit(ev)
}

// drainPending closes every queued connection. Safe to run concurrently
// with the accept loop; each connection is received exactly once.
func (s *tcpServer) drainPending() {
	for {
		select {
		case c := <-s.pending:
			c.Drop()
		default:
			return
		}
	}
}

// Drop implements resource.Dropper.
func (s *tcpServer) Drop() {
	s.mu.Lock()
	if s.dropped {
		s.mu.Unlock()
		return
	}
	s.dropped = true
	ln, stop := s.listener, s.stop
	s.listener = nil
	s.stop = nil
	s.mu.Unlock()

	if ln != nil {
		close(stop)
		_ = ln.Close()
	}
	s.drainPending()
	s.log.Debug("tcp server released")
}
