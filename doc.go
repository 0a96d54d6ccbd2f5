// Package netsock provides handle-based TCP and WebSocket sockets for
// embedding hosts.
//
// Sockets never block the caller. Connects, handshakes and writes run on
// background goroutines owned by a [socket.Runtime]; callers poll state and
// buffers or subscribe to events. Every socket is addressed by a small
// generation-checked handle, so a stale handle held by a script or a guest
// module fails cleanly instead of reaching a recycled socket.
//
// # Architecture Overview
//
//	netsock/
//	├── resource/      Generation-checked handle table with typed views
//	├── errors/        Structured errors with phase and kind
//	├── socket/        Runtime, TCP client, TCP server and WebSocket client
//	├── binding/       wazero host module exposing sockets to guest modules
//	└── cmd/netsh/     Console for scripting sockets, with a TUI and a wasm runner
//
// # Quick Start
//
//	rt := socket.NewRuntime()
//	defer rt.Close()
//
//	srv, _ := rt.NewTCPServer()
//	srv.Listen("", 0)
//
//	cli, _ := rt.NewTCPClient()
//	cli.Connect("127.0.0.1", port)
//	cli.Write([]byte("ping"))
//
//	conn, ok, _ := srv.AcceptPending()
//
// # Guest Modules
//
// The binding package registers a host module named "netsock" whose
// functions take and return i32 values. Negative results are status codes;
// see [binding.StatusText].
package netsock
