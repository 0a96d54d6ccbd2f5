package socket

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/wippyai/netsock/errors"
)

// startWSEcho runs a WebSocket echo server and returns its port.
func startWSEcho(t *testing.T) int {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(data) == "close-me" {
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye")
				_ = conn.WriteMessage(websocket.CloseMessage, msg)
				continue
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	_, p, _ := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	port, _ := strconv.Atoi(p)
	return port
}

func openWS(t *testing.T, rt *Runtime, port int) WebSocket {
	t.Helper()
	ws, err := rt.NewWebSocket()
	if err != nil {
		t.Fatalf("NewWebSocket: %v", err)
	}
	// The URL's port is wrong on purpose; the override must win.
	if err := ws.Open("ws://127.0.0.1:1/echo", port); err != nil {
		t.Fatalf("Open: %v", err)
	}
	waitFor(t, "websocket open", func() bool {
		s, _ := ws.State()
		return s == WSOpen
	})
	return ws
}

func waitMessage(t *testing.T, ws WebSocket) []byte {
	t.Helper()
	var msg []byte
	waitFor(t, "message", func() bool {
		m, ok, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage: %v", err)
		}
		msg = m
		return ok
	})
	return msg
}

func TestWebSocket_OpenWithPortOverride(t *testing.T) {
	rt := newRuntime(t)
	port := startWSEcho(t)
	ws := openWS(t, rt, port)

	u, _ := ws.URL()
	if want := "ws://127.0.0.1:" + strconv.Itoa(port) + "/echo"; u != want {
		t.Errorf("URL = %q, want %q", u, want)
	}

	n, err := ws.Write([]byte("hello"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 5 {
		t.Errorf("Write = %d, want 5", n)
	}
	if msg := waitMessage(t, ws); string(msg) != "hello" {
		t.Errorf("echo = %q", msg)
	}
	if _, ok, _ := ws.ReadMessage(); ok {
		t.Error("queue should be empty after one echo")
	}
}

func TestWebSocket_PortZeroKeepsURLPort(t *testing.T) {
	rt := newRuntime(t)
	port := startWSEcho(t)
	ws, _ := rt.NewWebSocket()

	target := "ws://127.0.0.1:" + strconv.Itoa(port) + "/"
	if err := ws.Open(target, 0); err != nil {
		t.Fatalf("Open: %v", err)
	}
	waitFor(t, "websocket open", func() bool {
		s, _ := ws.State()
		return s == WSOpen
	})
	if u, _ := ws.URL(); u != target {
		t.Errorf("URL = %q, want %q", u, target)
	}
}

func TestWebSocket_CloseBeforeHandshake(t *testing.T) {
	// A TCP peer that never answers the upgrade request.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	rt := newRuntime(t)
	ws, _ := rt.NewWebSocket()
	if err := ws.Open("ws://127.0.0.1/", ln.Addr().(*net.TCPAddr).Port); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s, _ := ws.State(); s != WSConnecting {
		t.Fatalf("State = %v, want connecting", s)
	}

	if err := ws.Close(); err != nil {
		t.Fatalf("Close before handshake: %v", err)
	}
	if s, _ := ws.State(); s != WSClosed {
		t.Errorf("State = %v, want closed", s)
	}
	if err := ws.Close(); err != nil {
		t.Errorf("Close on closed socket: %v", err)
	}
	if err := ws.Err(); err != nil {
		t.Errorf("Err = %v, want nil", err)
	}
}

func TestWebSocket_WriteNotConnected(t *testing.T) {
	rt := newRuntime(t)
	ws, _ := rt.NewWebSocket()

	n, err := ws.Write([]byte("hello"))
	if n != -1 {
		t.Errorf("Write = %d, want -1", n)
	}
	if !errors.Is(err, errors.ErrNotConnected) {
		t.Errorf("Write error = %v, want not connected", err)
	}
}

func TestWebSocket_WriteRejectsInvalidUTF8(t *testing.T) {
	rt := newRuntime(t)
	ws := openWS(t, rt, startWSEcho(t))

	n, err := ws.Write([]byte{'o', 'k', 0xff})
	if n != -1 || !errors.Is(err, errors.ErrInvalidArgument) {
		t.Fatalf("Write(invalid utf-8) = %d, %v", n, err)
	}
	if state, _ := ws.State(); state != WSOpen {
		t.Errorf("state after rejected write = %v", state)
	}

	if _, err := ws.Write([]byte("ok")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if msg := waitMessage(t, ws); string(msg) != "ok" {
		t.Errorf("echo = %q, rejected bytes reached the peer", msg)
	}
}

func TestWebSocket_OpenRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		url  string
		port int
	}{
		{"http scheme", "http://127.0.0.1/", 0},
		{"no scheme", "127.0.0.1:80", 0},
		{"no host", "ws:///path", 0},
		{"malformed", "ws://[::1", 0},
		{"negative port", "ws://127.0.0.1/", -1},
		{"port too large", "ws://127.0.0.1/", 65536},
	}

	rt := newRuntime(t)
	ws, _ := rt.NewWebSocket()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ws.Open(tt.url, tt.port)
			if !errors.Is(err, errors.ErrInvalidArgument) {
				t.Errorf("Open(%q, %d) = %v, want invalid argument", tt.url, tt.port, err)
			}
			if s, _ := ws.State(); s != WSClosed {
				t.Errorf("State = %v after rejected Open", s)
			}
		})
	}
}

func TestWebSocket_GracefulClose(t *testing.T) {
	rt := newRuntime(t)
	ws := openWS(t, rt, startWSEcho(t))

	if err := ws.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	waitFor(t, "closed", func() bool {
		s, _ := ws.State()
		return s == WSClosed
	})
	if err := ws.Err(); err != nil {
		t.Errorf("Err = %v, want nil", err)
	}
	if code, _ := ws.CloseCode(); code != websocket.CloseNormalClosure {
		t.Errorf("CloseCode = %d, want %d", code, websocket.CloseNormalClosure)
	}
	if n, err := ws.Write([]byte("late")); n != -1 || err == nil {
		t.Errorf("Write after close = %d, %v", n, err)
	}
}

func TestWebSocket_PeerClose(t *testing.T) {
	rt := newRuntime(t)
	ws := openWS(t, rt, startWSEcho(t))

	if _, err := ws.Write([]byte("close-me")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	waitFor(t, "closed by peer", func() bool {
		s, _ := ws.State()
		return s == WSClosed
	})
	if code, _ := ws.CloseCode(); code != websocket.CloseGoingAway {
		t.Errorf("CloseCode = %d, want %d", code, websocket.CloseGoingAway)
	}
	if err := ws.Err(); err != nil {
		t.Errorf("Err = %v, want nil for going away", err)
	}
}

func TestWebSocket_HandshakeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	rt := newRuntime(t)
	ws, _ := rt.NewWebSocket()
	if err := ws.Open("ws"+strings.TrimPrefix(srv.URL, "http"), 0); err != nil {
		t.Fatalf("Open: %v", err)
	}
	waitFor(t, "handshake failure", func() bool { return ws.Err() != nil })

	if !errors.IsKind(ws.Err(), errors.KindHandshakeFailed) {
		t.Errorf("Err = %v, want handshake failed", ws.Err())
	}
	if !strings.Contains(ws.Err().Error(), "403") {
		t.Errorf("Err = %v, want status in detail", ws.Err())
	}
	if s, _ := ws.State(); s != WSClosed {
		t.Errorf("State = %v, want closed", s)
	}
}

func TestWebSocket_ReopenReplacesConnection(t *testing.T) {
	rt := newRuntime(t)
	port := startWSEcho(t)
	ws := openWS(t, rt, port)

	if err := ws.Open("ws://127.0.0.1/again", port); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	waitFor(t, "reopened", func() bool {
		s, _ := ws.State()
		return s == WSOpen
	})
	if u, _ := ws.URL(); !strings.HasSuffix(u, "/again") {
		t.Errorf("URL = %q", u)
	}
	if _, err := ws.Write([]byte("second")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if msg := waitMessage(t, ws); string(msg) != "second" {
		t.Errorf("echo = %q", msg)
	}
}

func TestWebSocket_Destroy(t *testing.T) {
	rt := newRuntime(t)
	ws := openWS(t, rt, startWSEcho(t))

	if err := ws.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if err := ws.Open("ws://127.0.0.1/", 1); !errors.Is(err, errors.ErrInvalidHandle) {
		t.Errorf("Open after Destroy = %v", err)
	}
	if n, err := ws.Write([]byte("x")); n != -1 || !errors.Is(err, errors.ErrInvalidHandle) {
		t.Errorf("Write after Destroy = %d, %v", n, err)
	}
	if err := ws.Close(); !errors.Is(err, errors.ErrInvalidHandle) {
		t.Errorf("Close after Destroy = %v", err)
	}
	if err := ws.Destroy(); !errors.Is(err, errors.ErrInvalidHandle) {
		t.Errorf("second Destroy = %v", err)
	}
}
