// Package socket provides non-blocking TCP client, TCP server and
// WebSocket client sockets addressed through handles.
//
// A Runtime owns every socket. Sockets are created through the runtime and
// referenced by small value types (TCPClient, TCPServer, WebSocket) that
// carry a generation-checked resource.Handle. Every operation resolves the
// handle first, so a destroyed handle or one of another socket type fails
// with an errors.KindInvalidHandle error instead of touching freed state.
//
// No operation blocks. Dials, handshakes, accept loops and the read and
// write pumps run on goroutines owned by the runtime; their results are
// visible through State, Err and the buffered data, and through events
// delivered to observers:
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
//	if ok {
//		data, _ := conn.ReadAll()
//	}
//
// TCP writes are bounded by Config.SendBufferSize. Write reports how many
// bytes were accepted; a short count is back-pressure, not an error.
package socket
