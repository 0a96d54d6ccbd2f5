// Package binding exposes the socket facade to WebAssembly guests running
// in wazero.
//
// The host module is named "netsock". Every function takes and returns i32
// values. Constructors return a handle; other functions return a
// non-negative result or one of the negative Status codes. Strings and
// buffers are passed as (pointer, length) pairs into the caller's exported
// memory.
//
//	rt := socket.NewRuntime()
//	host := binding.New(rt)
//	defer host.Close()
//
//	if _, err := host.Instantiate(ctx, r); err != nil {
//		return err
//	}
//
// Guests poll: tcp_state and web_socket_state report progress of the
// background connects, tcp_available reports buffered input and
// tcp_server_get_connection returns 0 while nothing is queued.
package binding
