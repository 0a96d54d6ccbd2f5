package socket

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/netsock/errors"
	"github.com/wippyai/netsock/resource"
)

// Runtime owns every socket created through it. A handle must only be used
// with the runtime that issued it. Each runtime starts its handles from a
// different generation, so a handle from another runtime is normally
// rejected, but that is not guaranteed.
//
// Runtime is safe for concurrent use.
type Runtime struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger

	table   *resource.UnifiedTable
	clients *resource.Typed[*tcpClient]
	servers *resource.Typed[*tcpServer]
	sockets *resource.Typed[*webSocket]

	observers map[uint64]Observer
	cfg       Config
	wg        sync.WaitGroup
	obsMu     sync.RWMutex
	nextObs   uint64
	closed    atomic.Bool
}

// NewRuntime creates a runtime with the default configuration.
func NewRuntime() *Runtime {
	ctx, cancel := context.WithCancel(context.Background())
	table := resource.NewTable()
	rt := &Runtime{
		ctx:       ctx,
		cancel:    cancel,
		log:       Logger(),
		cfg:       DefaultConfig(),
		table:     table,
		clients:   resource.NewTyped[*tcpClient](table, uint32(TypeTCPClient)),
		servers:   resource.NewTyped[*tcpServer](table, uint32(TypeTCPServer)),
		sockets:   resource.NewTyped[*webSocket](table, uint32(TypeWebSocket)),
		observers: make(map[uint64]Observer),
	}
	table.Subscribe(tableLogger{rt: rt})
	return rt
}

// WithConfig replaces the configuration. Call before creating sockets.
func (rt *Runtime) WithConfig(cfg Config) *Runtime {
	rt.cfg = cfg.normalize()
	return rt
}

// WithLogger sets the logger used by this runtime instead of Logger().
func (rt *Runtime) WithLogger(l *zap.Logger) *Runtime {
	if l != nil {
		rt.log = l
	}
	return rt
}

// Config returns the active configuration.
func (rt *Runtime) Config() Config {
	return rt.cfg
}

// Subscribe registers an observer and returns a function that removes it.
func (rt *Runtime) Subscribe(o Observer) (unsubscribe func()) {
	rt.obsMu.Lock()
	id := rt.nextObs
	rt.nextObs++
	rt.observers[id] = o
	rt.obsMu.Unlock()

	return func() {
		rt.obsMu.Lock()
		delete(rt.observers, id)
		rt.obsMu.Unlock()
	}
}

func (rt *Runtime) emit(e Event) {
	rt.obsMu.RLock()
	obs := make([]Observer, 0, len(rt.observers))
	for _, o := range rt.observers {
		obs = append(obs, o)
	}
	rt.obsMu.RUnlock()

	for _, o := range obs {
		o.OnSocketEvent(e)
	}
}

// spawn runs fn on a goroutine tracked by Close. It reports false once
// the runtime is closed.
func (rt *Runtime) spawn(fn func()) bool {
	if rt.closed.Load() {
		return false
	}
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		fn()
	}()
	return true
}

// NewTCPClient creates an unconnected TCP client socket.
func (rt *Runtime) NewTCPClient() (TCPClient, error) {
	if rt.closed.Load() {
		return TCPClient{}, errors.Closed(errors.PhaseCreate)
	}
	c := newTCPClient(rt)
	h := rt.clients.Insert(c)
	if h == 0 {
		return TCPClient{}, errors.Closed(errors.PhaseCreate)
	}
	c.setHandle(h)
	return TCPClient{rt: rt, h: h}, nil
}

// NewTCPServer creates a TCP server socket that is not yet listening.
func (rt *Runtime) NewTCPServer() (TCPServer, error) {
	if rt.closed.Load() {
		return TCPServer{}, errors.Closed(errors.PhaseCreate)
	}
	s := newTCPServer(rt)
	h := rt.servers.Insert(s)
	if h == 0 {
		return TCPServer{}, errors.Closed(errors.PhaseCreate)
	}
	s.setHandle(h)
	return TCPServer{rt: rt, h: h}, nil
}

// NewWebSocket creates a closed WebSocket client.
func (rt *Runtime) NewWebSocket() (WebSocket, error) {
	if rt.closed.Load() {
		return WebSocket{}, errors.Closed(errors.PhaseCreate)
	}
	ws := newWebSocket(rt)
	h := rt.sockets.Insert(ws)
	if h == 0 {
		return WebSocket{}, errors.Closed(errors.PhaseCreate)
	}
	ws.setHandle(h)
	return WebSocket{rt: rt, h: h}, nil
}

// TCPClient returns the client view of h. The handle is validated on use.
func (rt *Runtime) TCPClient(h resource.Handle) TCPClient {
	return TCPClient{rt: rt, h: h}
}

// TCPServer returns the server view of h. The handle is validated on use.
func (rt *Runtime) TCPServer(h resource.Handle) TCPServer {
	return TCPServer{rt: rt, h: h}
}

// WebSocket returns the WebSocket view of h. The handle is validated on use.
func (rt *Runtime) WebSocket(h resource.Handle) WebSocket {
	return WebSocket{rt: rt, h: h}
}

// HandleInfo describes a live handle.
type HandleInfo struct {
	Addr   string
	State  string
	ID     uuid.UUID
	Handle resource.Handle
	Type   HandleType
}

type describer interface {
	describe() HandleInfo
}

// Handles lists the live handles ordered by handle value.
func (rt *Runtime) Handles() []HandleInfo {
	var infos []HandleInfo
	rt.table.Each(func(h resource.Handle, _ uint32, value any) bool {
		if d, ok := value.(describer); ok {
			info := d.describe()
			info.Handle = h
			infos = append(infos, info)
		}
		return true
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].Handle < infos[j].Handle })
	return infos
}

// Len returns the number of live handles.
func (rt *Runtime) Len() int {
	return rt.table.Len()
}

// Close destroys every handle and waits for all I/O goroutines to exit.
// Subsequent calls are no-ops.
func (rt *Runtime) Close() error {
	if rt.closed.Swap(true) {
		return nil
	}
	rt.cancel()
	err := rt.table.Close()
	rt.wg.Wait()
	rt.log.Debug("runtime closed")
	return err
}

type tableLogger struct {
	rt *Runtime
}

func (l tableLogger) OnResourceEvent(e resource.Event) {
	l.rt.log.Debug("handle "+e.Type.String(),
		zap.Uint32("handle", uint32(e.Handle)),
		zap.Stringer("type", HandleType(e.TypeID)))
}
