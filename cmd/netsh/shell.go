package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/table"

	"github.com/wippyai/netsock/resource"
	"github.com/wippyai/netsock/socket"
)

const usage = `commands:
  tcp NAME               create a TCP client
  server NAME            create a TCP server
  ws NAME                create a WebSocket client
  NAME.connect ADDR PORT connect a TCP client
  NAME.listen ADDR PORT  start listening (PORT 0 picks a free port)
  NAME.accept NEWNAME    claim a queued connection
  NAME.read N            read up to N buffered bytes
  NAME.readall           drain buffered bytes
  NAME.write TEXT        send TEXT (Go-quoted strings allowed)
  NAME.open URL PORT     open a WebSocket (PORT 0 keeps the URL's port)
  NAME.recv              pop a received WebSocket message
  NAME.state             show state and last error
  NAME.close             close gracefully
  NAME.delete            destroy the handle
  wait MILLIS            sleep
  handles                list live handles
  help                   this text`

// command is one parsed console line.
type command struct {
	target string
	op     string
	args   []string
	text   string // raw remainder after op, used by write
}

// parseCommand splits a console line. Empty lines and # comments yield a
// zero command.
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return command{}, nil
	}

	head, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	cmd := command{args: strings.Fields(rest), text: rest}
	if target, op, ok := strings.Cut(head, "."); ok {
		if target == "" || op == "" {
			return command{}, fmt.Errorf("malformed command %q", head)
		}
		cmd.target, cmd.op = target, op
		return cmd, nil
	}
	cmd.op = head
	return cmd, nil
}

type entry struct {
	h    resource.Handle
	kind socket.HandleType
}

// shell executes console commands against a runtime. Not safe for
// concurrent use.
type shell struct {
	rt    *socket.Runtime
	names map[string]entry
}

func newShell(rt *socket.Runtime) *shell {
	return &shell{rt: rt, names: make(map[string]entry)}
}

// exec runs one line and returns its output.
func (s *shell) exec(line string) (string, error) {
	cmd, err := parseCommand(line)
	if err != nil {
		return "", err
	}
	if cmd.op == "" {
		return "", nil
	}
	if cmd.target == "" {
		return s.global(cmd)
	}

	e, ok := s.names[cmd.target]
	if !ok {
		return "", fmt.Errorf("unknown name %q", cmd.target)
	}
	switch e.kind {
	case socket.TypeTCPClient:
		return s.client(cmd, s.rt.TCPClient(e.h))
	case socket.TypeTCPServer:
		return s.server(cmd, s.rt.TCPServer(e.h))
	default:
		return s.websocket(cmd, s.rt.WebSocket(e.h))
	}
}

func (s *shell) global(cmd command) (string, error) {
	switch cmd.op {
	case "help":
		return usage, nil
	case "handles":
		return s.handles(), nil
	case "wait":
		ms, err := intArg(cmd, 0)
		if err != nil {
			return "", err
		}
		time.Sleep(time.Duration(ms) * time.Millisecond)
		return "", nil
	case "tcp", "server", "ws":
		if len(cmd.args) != 1 {
			return "", fmt.Errorf("usage: %s NAME", cmd.op)
		}
		return s.create(cmd.op, cmd.args[0])
	default:
		return "", fmt.Errorf("unknown command %q (try help)", cmd.op)
	}
}

func (s *shell) create(kind, name string) (string, error) {
	if _, exists := s.names[name]; exists {
		return "", fmt.Errorf("name %q already in use", name)
	}
	if strings.Contains(name, ".") {
		return "", fmt.Errorf("name %q must not contain '.'", name)
	}

	var (
		e   entry
		err error
	)
	switch kind {
	case "tcp":
		var c socket.TCPClient
		c, err = s.rt.NewTCPClient()
		e = entry{h: c.Handle(), kind: socket.TypeTCPClient}
	case "server":
		var srv socket.TCPServer
		srv, err = s.rt.NewTCPServer()
		e = entry{h: srv.Handle(), kind: socket.TypeTCPServer}
	default:
		var ws socket.WebSocket
		ws, err = s.rt.NewWebSocket()
		e = entry{h: ws.Handle(), kind: socket.TypeWebSocket}
	}
	if err != nil {
		return "", err
	}
	s.names[name] = e
	return fmt.Sprintf("%s = %s #%d", name, e.kind, e.h), nil
}

func (s *shell) client(cmd command, c socket.TCPClient) (string, error) {
	switch cmd.op {
	case "connect":
		addr, port, err := addrPort(cmd)
		if err != nil {
			return "", err
		}
		return "connecting", c.Connect(addr, port)
	case "read":
		n, err := intArg(cmd, 0)
		if err != nil {
			return "", err
		}
		data, err := c.Read(n)
		return strconv.Quote(string(data)), err
	case "readall":
		data, err := c.ReadAll()
		return strconv.Quote(string(data)), err
	case "write":
		text, err := textArg(cmd)
		if err != nil {
			return "", err
		}
		n, err := c.Write([]byte(text))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("accepted %d of %d bytes", n, len(text)), nil
	case "state":
		state, err := c.State()
		if err != nil {
			return "", err
		}
		return withErr(state.String(), c.Err()), nil
	case "close":
		return "closing", c.Close()
	case "delete":
		return s.remove(cmd.target, c.Destroy())
	default:
		return "", fmt.Errorf("tcp client has no operation %q", cmd.op)
	}
}

func (s *shell) server(cmd command, srv socket.TCPServer) (string, error) {
	switch cmd.op {
	case "listen":
		addr, port, err := addrPort(cmd)
		if err != nil {
			return "", err
		}
		ok, err := srv.Listen(addr, port)
		if err != nil {
			return "", err
		}
		if !ok {
			return withErr("not listening", srv.Err()), nil
		}
		bound, _ := srv.Addr()
		return "listening on " + bound, nil
	case "accept":
		if len(cmd.args) != 1 {
			return "", fmt.Errorf("usage: %s.accept NEWNAME", cmd.target)
		}
		name := cmd.args[0]
		if _, exists := s.names[name]; exists {
			return "", fmt.Errorf("name %q already in use", name)
		}
		c, ok, err := srv.AcceptPending()
		if err != nil {
			return "", err
		}
		if !ok {
			return "no pending connection", nil
		}
		s.names[name] = entry{h: c.Handle(), kind: socket.TypeTCPClient}
		peer, _ := c.PeerAddr()
		return fmt.Sprintf("%s = %s #%d from %s", name, socket.TypeTCPClient, c.Handle(), peer), nil
	case "state":
		listening, err := srv.IsListening()
		if err != nil {
			return "", err
		}
		state := "idle"
		if listening {
			bound, _ := srv.Addr()
			state = "listening on " + bound
		}
		if pending, _ := srv.HasPending(); pending {
			state += ", connections pending"
		}
		return withErr(state, srv.Err()), nil
	case "close":
		return "stopped", srv.Close()
	case "delete":
		return s.remove(cmd.target, srv.Destroy())
	default:
		return "", fmt.Errorf("tcp server has no operation %q", cmd.op)
	}
}

func (s *shell) websocket(cmd command, ws socket.WebSocket) (string, error) {
	switch cmd.op {
	case "open":
		if len(cmd.args) < 1 || len(cmd.args) > 2 {
			return "", fmt.Errorf("usage: %s.open URL [PORT]", cmd.target)
		}
		port := 0
		if len(cmd.args) == 2 {
			p, err := intArg(cmd, 1)
			if err != nil {
				return "", err
			}
			port = p
		}
		return "opening", ws.Open(cmd.args[0], port)
	case "write":
		text, err := textArg(cmd)
		if err != nil {
			return "", err
		}
		n, err := ws.Write([]byte(text))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("queued %d bytes", n), nil
	case "recv":
		msg, ok, err := ws.ReadMessage()
		if err != nil {
			return "", err
		}
		if !ok {
			return "no message", nil
		}
		return strconv.Quote(string(msg)), nil
	case "state":
		state, err := ws.State()
		if err != nil {
			return "", err
		}
		return withErr(state.String(), ws.Err()), nil
	case "close":
		return "closing", ws.Close()
	case "delete":
		return s.remove(cmd.target, ws.Destroy())
	default:
		return "", fmt.Errorf("websocket has no operation %q", cmd.op)
	}
}

func (s *shell) remove(name string, err error) (string, error) {
	if err != nil {
		return "", err
	}
	delete(s.names, name)
	return "deleted " + name, nil
}

// nameOf returns the console name bound to h, or "".
func (s *shell) nameOf(h resource.Handle) string {
	for name, e := range s.names {
		if e.h == h {
			return name
		}
	}
	return ""
}

func (s *shell) handles() string {
	return renderHandles(s.rt.Handles(), s.nameOf)
}

// renderHandles formats live handles as a table.
func renderHandles(infos []socket.HandleInfo, nameOf func(resource.Handle) string) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)

	t.AppendHeader(table.Row{
		"Handle",
		"Name",
		"Type",
		"State",
		"Address",
		"ID",
	})

	sort.Slice(infos, func(i, j int) bool { return infos[i].Handle < infos[j].Handle })
	for _, info := range infos {
		t.AppendRow(table.Row{
			uint32(info.Handle),
			nameOf(info.Handle),
			info.Type.String(),
			info.State,
			info.Addr,
			info.ID.String()[:8],
		})
	}

	return t.Render()
}

func intArg(cmd command, i int) (int, error) {
	if i >= len(cmd.args) {
		return 0, fmt.Errorf("%s: missing argument %d", cmd.op, i+1)
	}
	n, err := strconv.Atoi(cmd.args[i])
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a number", cmd.op, cmd.args[i])
	}
	return n, nil
}

func addrPort(cmd command) (string, int, error) {
	if len(cmd.args) != 2 {
		return "", 0, fmt.Errorf("usage: %s.%s ADDR PORT", cmd.target, cmd.op)
	}
	port, err := intArg(cmd, 1)
	if err != nil {
		return "", 0, err
	}
	addr := cmd.args[0]
	if addr == "*" {
		addr = ""
	}
	return addr, port, nil
}

// textArg returns the write payload, unquoting Go string literals.
func textArg(cmd command) (string, error) {
	if strings.HasPrefix(cmd.text, `"`) {
		text, err := strconv.Unquote(cmd.text)
		if err != nil {
			return "", fmt.Errorf("%s: bad quoted text: %w", cmd.op, err)
		}
		return text, nil
	}
	return cmd.text, nil
}

func withErr(state string, err error) string {
	if err == nil {
		return state
	}
	return state + " (last error: " + err.Error() + ")"
}
