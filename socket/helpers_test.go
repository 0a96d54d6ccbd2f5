package socket

import (
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"
)

const waitTimeout = 5 * time.Second

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newRuntime(t *testing.T, opts ...func(*Config)) *Runtime {
	t.Helper()
	cfg := DefaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	rt := NewRuntime().WithConfig(cfg)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func portOf(t *testing.T, addr string) int {
	t.Helper()
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split %q: %v", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		t.Fatalf("port %q: %v", p, err)
	}
	return port
}

// startEcho runs a loopback TCP echo peer and returns its port.
func startEcho(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_, _ = io.Copy(conn, conn)
			}()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

// freePort returns a loopback port with nothing listening on it.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

func connectClient(t *testing.T, rt *Runtime, port int) TCPClient {
	t.Helper()
	c, err := rt.NewTCPClient()
	if err != nil {
		t.Fatalf("NewTCPClient: %v", err)
	}
	if err := c.Connect("127.0.0.1", port); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, "client connected", func() bool {
		s, _ := c.State()
		return s == TCPConnected
	})
	return c
}

// readN polls r until n bytes were collected.
func readN(t *testing.T, r Readable, n int) []byte {
	t.Helper()
	var got []byte
	waitFor(t, strconv.Itoa(n)+" bytes", func() bool {
		data, err := r.ReadAll()
		if err != nil {
			t.Fatalf("ReadAll: %v", err)
		}
		got = append(got, data...)
		return len(got) >= n
	})
	return got
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) OnSocketEvent(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) has(t EventType, kind HandleType) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e.Type == t && e.Kind == kind {
			return true
		}
	}
	return false
}
