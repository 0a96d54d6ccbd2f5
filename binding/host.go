package binding

import (
	"context"
	"math"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/netsock/resource"
	"github.com/wippyai/netsock/socket"
)

// ModuleName is the import module name guests use.
const ModuleName = "netsock"

// Host exposes a socket.Runtime to WebAssembly guests as the "netsock"
// host module. Guest handles are the runtime's resource handles.
type Host struct {
	rt  *socket.Runtime
	log *zap.Logger
}

// New creates a host over rt.
func New(rt *socket.Runtime) *Host {
	return &Host{rt: rt, log: Logger()}
}

// WithLogger sets the logger used for guest call diagnostics.
func (h *Host) WithLogger(l *zap.Logger) *Host {
	if l != nil {
		h.log = l
	}
	return h
}

// Runtime returns the socket runtime backing the host.
func (h *Host) Runtime() *socket.Runtime {
	return h.rt
}

// Close releases every socket the guest created.
func (h *Host) Close() error {
	return h.rt.Close()
}

type hostFunc struct {
	fn      api.GoModuleFunc
	name    string
	params  int
	results int
}

// Instantiate registers the host module in r.
func (h *Host) Instantiate(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	b := r.NewHostModuleBuilder(ModuleName)
	for _, f := range h.functions() {
		b = b.NewFunctionBuilder().
			WithGoModuleFunction(f.fn, i32s(f.params), i32s(f.results)).
			Export(f.name)
	}
	mod, err := b.Instantiate(ctx)
	if err != nil {
		return nil, err
	}
	h.log.Debug("host module instantiated", zap.String("module", ModuleName))
	return mod, nil
}

// Functions lists the exported function names with their parameter counts.
// Every parameter and result is i32 and every function returns one result.
func (h *Host) Functions() map[string]int {
	out := make(map[string]int)
	for _, f := range h.functions() {
		out[f.name] = f.params
	}
	return out
}

func (h *Host) functions() []hostFunc {
	return []hostFunc{
		{name: "tcp_client", params: 0, results: 1, fn: h.tcpClient},
		{name: "tcp_connect", params: 4, results: 1, fn: h.tcpConnect},
		{name: "tcp_read", params: 3, results: 1, fn: h.tcpRead},
		{name: "tcp_available", params: 1, results: 1, fn: h.tcpAvailable},
		{name: "tcp_read_all", params: 3, results: 1, fn: h.tcpReadAll},
		{name: "tcp_write", params: 3, results: 1, fn: h.tcpWrite},
		{name: "tcp_close", params: 1, results: 1, fn: h.tcpClose},
		{name: "tcp_delete", params: 1, results: 1, fn: h.tcpDelete},
		{name: "tcp_state", params: 1, results: 1, fn: h.tcpState},

		{name: "tcp_server", params: 0, results: 1, fn: h.tcpServer},
		{name: "tcp_server_listen", params: 4, results: 1, fn: h.tcpServerListen},
		{name: "tcp_server_get_connection", params: 1, results: 1, fn: h.tcpServerGetConnection},
		{name: "tcp_server_delete", params: 1, results: 1, fn: h.tcpServerDelete},

		{name: "web_socket", params: 0, results: 1, fn: h.webSocket},
		{name: "web_socket_open", params: 4, results: 1, fn: h.webSocketOpen},
		{name: "web_socket_write", params: 3, results: 1, fn: h.webSocketWrite},
		{name: "web_socket_close", params: 1, results: 1, fn: h.webSocketClose},
		{name: "web_socket_delete", params: 1, results: 1, fn: h.webSocketDelete},
		{name: "web_socket_state", params: 1, results: 1, fn: h.webSocketState},
	}
}

func i32s(n int) []api.ValueType {
	if n == 0 {
		return nil
	}
	types := make([]api.ValueType, n)
	for i := range types {
		types[i] = api.ValueTypeI32
	}
	return types
}

func handleArg(stack []uint64, i int) resource.Handle {
	return resource.Handle(api.DecodeU32(stack[i]))
}

func intArg(stack []uint64, i int) int {
	return int(api.DecodeI32(stack[i]))
}

func ret(stack []uint64, v int32) {
	stack[0] = api.EncodeI32(v)
}

// maxCount is the largest byte count an i32 result can carry.
var maxCount = math.MaxInt32

// count converts a byte count to a result, saturating at maxCount so a
// large count never reads as a negative status.
func count(n int) int32 {
	return int32(min(n, maxCount))
}

// fail records err as the call's result.
func (h *Host) fail(stack []uint64, fn string, err error) {
	code := statusOf(err)
	h.log.Debug("guest call failed",
		zap.String("func", fn),
		zap.Int32("status", code),
		zap.Error(err))
	ret(stack, code)
}

// readGuest returns a view of guest memory, or false when the range is
// outside it.
func readGuest(mod api.Module, ptr, n uint32) ([]byte, bool) {
	mem := mod.Memory()
	if mem == nil {
		return nil, false
	}
	return mem.Read(ptr, n)
}

func guestRange(mod api.Module, ptr, n uint32) bool {
	mem := mod.Memory()
	if mem == nil {
		return false
	}
	return uint64(ptr)+uint64(n) <= uint64(mem.Size())
}

// TCP client

func (h *Host) tcpClient(_ context.Context, _ api.Module, stack []uint64) {
	c, err := h.rt.NewTCPClient()
	if err != nil {
		h.fail(stack, "tcp_client", err)
		return
	}
	ret(stack, int32(c.Handle()))
}

func (h *Host) tcpConnect(_ context.Context, mod api.Module, stack []uint64) {
	c := h.rt.TCPClient(handleArg(stack, 0))
	addr, ok := readGuest(mod, api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
	if !ok {
		ret(stack, StatusMemoryFault)
		return
	}
	if err := c.Connect(string(addr), intArg(stack, 3)); err != nil {
		h.fail(stack, "tcp_connect", err)
		return
	}
	ret(stack, StatusOK)
}

func (h *Host) tcpRead(_ context.Context, mod api.Module, stack []uint64) {
	c := h.rt.TCPClient(handleArg(stack, 0))
	ptr, max := api.DecodeU32(stack[1]), intArg(stack, 2)
	if max >= 0 && !guestRange(mod, ptr, uint32(max)) {
		ret(stack, StatusMemoryFault)
		return
	}
	data, err := c.Read(max)
	if err != nil {
		h.fail(stack, "tcp_read", err)
		return
	}
	mod.Memory().Write(ptr, data)
	ret(stack, count(len(data)))
}

func (h *Host) tcpAvailable(_ context.Context, _ api.Module, stack []uint64) {
	n, err := h.rt.TCPClient(handleArg(stack, 0)).BytesAvailable()
	if err != nil {
		h.fail(stack, "tcp_available", err)
		return
	}
	ret(stack, count(n))
}

// tcpReadAll drains the inbound buffer into the guest buffer. When the
// buffer cannot hold everything nothing is consumed.
func (h *Host) tcpReadAll(_ context.Context, mod api.Module, stack []uint64) {
	c := h.rt.TCPClient(handleArg(stack, 0))
	ptr, capacity := api.DecodeU32(stack[1]), intArg(stack, 2)
	if capacity < 0 {
		ret(stack, StatusInvalidArgument)
		return
	}
	if !guestRange(mod, ptr, uint32(capacity)) {
		ret(stack, StatusMemoryFault)
		return
	}
	data, fits, err := c.ReadAllUpTo(min(capacity, maxCount))
	if err != nil {
		h.fail(stack, "tcp_read_all", err)
		return
	}
	if !fits {
		ret(stack, StatusBufferTooSmall)
		return
	}
	mod.Memory().Write(ptr, data)
	ret(stack, count(len(data)))
}

func (h *Host) tcpWrite(_ context.Context, mod api.Module, stack []uint64) {
	c := h.rt.TCPClient(handleArg(stack, 0))
	data, ok := readGuest(mod, api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
	if !ok {
		ret(stack, StatusMemoryFault)
		return
	}
	// The accepted count must fit the result; the guest retries the rest.
	n, err := c.Write(data[:min(len(data), maxCount)])
	if err != nil {
		h.fail(stack, "tcp_write", err)
		return
	}
	ret(stack, count(n))
}

func (h *Host) tcpClose(_ context.Context, _ api.Module, stack []uint64) {
	if err := h.rt.TCPClient(handleArg(stack, 0)).Close(); err != nil {
		h.fail(stack, "tcp_close", err)
		return
	}
	ret(stack, StatusOK)
}

func (h *Host) tcpDelete(_ context.Context, _ api.Module, stack []uint64) {
	if err := h.rt.TCPClient(handleArg(stack, 0)).Destroy(); err != nil {
		h.fail(stack, "tcp_delete", err)
		return
	}
	ret(stack, StatusOK)
}

func (h *Host) tcpState(_ context.Context, _ api.Module, stack []uint64) {
	s, err := h.rt.TCPClient(handleArg(stack, 0)).State()
	if err != nil {
		h.fail(stack, "tcp_state", err)
		return
	}
	ret(stack, int32(s))
}

// TCP server

func (h *Host) tcpServer(_ context.Context, _ api.Module, stack []uint64) {
	s, err := h.rt.NewTCPServer()
	if err != nil {
		h.fail(stack, "tcp_server", err)
		return
	}
	ret(stack, int32(s.Handle()))
}

func (h *Host) tcpServerListen(_ context.Context, mod api.Module, stack []uint64) {
	s := h.rt.TCPServer(handleArg(stack, 0))
	addr, ok := readGuest(mod, api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
	if !ok {
		ret(stack, StatusMemoryFault)
		return
	}
	listening, err := s.Listen(string(addr), intArg(stack, 3))
	if err != nil {
		h.fail(stack, "tcp_server_listen", err)
		return
	}
	if !listening {
		h.log.Debug("listen refused", zap.NamedError("reason", s.Err()))
		ret(stack, 0)
		return
	}
	ret(stack, 1)
}

func (h *Host) tcpServerGetConnection(_ context.Context, _ api.Module, stack []uint64) {
	c, ok, err := h.rt.TCPServer(handleArg(stack, 0)).AcceptPending()
	if err != nil {
		h.fail(stack, "tcp_server_get_connection", err)
		return
	}
	if !ok {
		ret(stack, 0)
		return
	}
	ret(stack, int32(c.Handle()))
}

func (h *Host) tcpServerDelete(_ context.Context, _ api.Module, stack []uint64) {
	if err := h.rt.TCPServer(handleArg(stack, 0)).Destroy(); err != nil {
		h.fail(stack, "tcp_server_delete", err)
		return
	}
	ret(stack, StatusOK)
}

// WebSocket

func (h *Host) webSocket(_ context.Context, _ api.Module, stack []uint64) {
	ws, err := h.rt.NewWebSocket()
	if err != nil {
		h.fail(stack, "web_socket", err)
		return
	}
	ret(stack, int32(ws.Handle()))
}

func (h *Host) webSocketOpen(_ context.Context, mod api.Module, stack []uint64) {
	ws := h.rt.WebSocket(handleArg(stack, 0))
	u, ok := readGuest(mod, api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
	if !ok {
		ret(stack, StatusMemoryFault)
		return
	}
	if err := ws.Open(string(u), intArg(stack, 3)); err != nil {
		h.fail(stack, "web_socket_open", err)
		return
	}
	ret(stack, StatusOK)
}

func (h *Host) webSocketWrite(_ context.Context, mod api.Module, stack []uint64) {
	ws := h.rt.WebSocket(handleArg(stack, 0))
	data, ok := readGuest(mod, api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
	if !ok {
		ret(stack, StatusMemoryFault)
		return
	}
	if len(data) > maxCount {
		ret(stack, StatusInvalidArgument)
		return
	}
	n, err := ws.Write(data)
	if err != nil {
		h.fail(stack, "web_socket_write", err)
		return
	}
	ret(stack, count(n))
}

func (h *Host) webSocketClose(_ context.Context, _ api.Module, stack []uint64) {
	if err := h.rt.WebSocket(handleArg(stack, 0)).Close(); err != nil {
		h.fail(stack, "web_socket_close", err)
		return
	}
	ret(stack, StatusOK)
}

func (h *Host) webSocketDelete(_ context.Context, _ api.Module, stack []uint64) {
	if err := h.rt.WebSocket(handleArg(stack, 0)).Destroy(); err != nil {
		h.fail(stack, "web_socket_delete", err)
		return
	}
	ret(stack, StatusOK)
}

func (h *Host) webSocketState(_ context.Context, _ api.Module, stack []uint64) {
	s, err := h.rt.WebSocket(handleArg(stack, 0)).State()
	if err != nil {
		h.fail(stack, "web_socket_state", err)
		return
	}
	ret(stack, int32(s))
}
