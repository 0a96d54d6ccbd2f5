package main

import (
	"bytes"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wippyai/netsock/resource"
	"github.com/wippyai/netsock/socket"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line    string
		want    command
		wantErr bool
	}{
		{line: "", want: command{}},
		{line: "   # a comment", want: command{}},
		{line: "tcp a", want: command{op: "tcp", args: []string{"a"}, text: "a"}},
		{line: "handles", want: command{op: "handles", args: []string{}, text: ""}},
		{line: "a.connect 127.0.0.1 80", want: command{target: "a", op: "connect", args: []string{"127.0.0.1", "80"}, text: "127.0.0.1 80"}},
		{line: "  a.write hello  world ", want: command{target: "a", op: "write", args: []string{"hello", "world"}, text: "hello  world"}},
		{line: "a.readall", want: command{target: "a", op: "readall", args: []string{}, text: ""}},
		{line: ".connect x 1", wantErr: true},
		{line: "a. x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := parseCommand(tt.line)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseCommand(%q) succeeded", tt.line)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseCommand(%q): %v", tt.line, err)
			}
			if got.target != tt.want.target || got.op != tt.want.op || got.text != tt.want.text {
				t.Errorf("parseCommand(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
			if len(got.args) != len(tt.want.args) {
				t.Fatalf("args = %q, want %q", got.args, tt.want.args)
			}
			for i := range got.args {
				if got.args[i] != tt.want.args[i] {
					t.Errorf("args[%d] = %q, want %q", i, got.args[i], tt.want.args[i])
				}
			}
		})
	}
}

func TestTextArg(t *testing.T) {
	tests := []struct {
		text    string
		want    string
		wantErr bool
	}{
		{text: "plain text", want: "plain text"},
		{text: `"line\n"`, want: "line\n"},
		{text: `"unterminated`, wantErr: true},
	}
	for _, tt := range tests {
		got, err := textArg(command{op: "write", text: tt.text})
		if (err != nil) != tt.wantErr {
			t.Errorf("textArg(%q) error = %v", tt.text, err)
			continue
		}
		if got != tt.want {
			t.Errorf("textArg(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func newTestShell(t *testing.T) *shell {
	t.Helper()
	rt := socket.NewRuntime()
	t.Cleanup(func() { _ = rt.Close() })
	return newShell(rt)
}

func mustExec(t *testing.T, sh *shell, line string) string {
	t.Helper()
	out, err := sh.exec(line)
	if err != nil {
		t.Fatalf("%s: %v", line, err)
	}
	return out
}

func eventually(t *testing.T, sh *shell, line string, cond func(string) bool) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		out := mustExec(t, sh, line)
		if cond(out) {
			return out
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s: last output %q", line, out)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestShell_Ping(t *testing.T) {
	sh := newTestShell(t)

	mustExec(t, sh, "server srv")
	out := mustExec(t, sh, "srv.listen * 0")
	if !strings.HasPrefix(out, "listening on ") {
		t.Fatalf("listen: %q", out)
	}
	port := out[strings.LastIndex(out, ":")+1:]

	mustExec(t, sh, "tcp cli")
	mustExec(t, sh, "cli.connect 127.0.0.1 "+port)
	eventually(t, sh, "cli.state", func(s string) bool { return s == "connected" })

	eventually(t, sh, "srv.accept peer", func(s string) bool { return strings.HasPrefix(s, "peer = ") })

	if out := mustExec(t, sh, "cli.write ping"); out != "accepted 4 of 4 bytes" {
		t.Errorf("write: %q", out)
	}

	var got string
	eventually(t, sh, "peer.readall", func(s string) bool {
		v, err := strconv.Unquote(s)
		if err != nil {
			t.Fatalf("readall output %q", s)
		}
		got += v
		return len(got) >= 4
	})
	if got != "ping" {
		t.Errorf("peer read %q", got)
	}

	table := mustExec(t, sh, "handles")
	for _, name := range []string{"srv", "cli", "peer"} {
		if !strings.Contains(table, name) {
			t.Errorf("handles table missing %s:\n%s", name, table)
		}
	}

	mustExec(t, sh, "peer.delete")
	if _, err := sh.exec("peer.state"); err == nil {
		t.Error("deleted name still resolves")
	}
}

func TestShell_Errors(t *testing.T) {
	sh := newTestShell(t)
	mustExec(t, sh, "tcp a")
	mustExec(t, sh, "ws w")

	tests := []string{
		"bogus",
		"tcp",
		"tcp a",
		"tcp x.y",
		"missing.state",
		"a.listen * 0",
		"a.connect 127.0.0.1",
		"a.connect 127.0.0.1 port",
		"a.connect 127.0.0.1 70000",
		"a.read",
		"a.write hi",
		"w.open http://example.com 0",
		"w.write hi",
		"wait soon",
	}
	for _, line := range tests {
		if _, err := sh.exec(line); err == nil {
			t.Errorf("%q should fail", line)
		}
	}
}

func TestRenderHandles(t *testing.T) {
	id := uuid.MustParse("12345678-1234-1234-1234-123456789abc")
	infos := []socket.HandleInfo{
		{Handle: 2, Type: socket.TypeWebSocket, State: "closed", ID: id},
		{Handle: 1, Type: socket.TypeTCPClient, State: "connected", Addr: "127.0.0.1:80", ID: id},
	}
	out := renderHandles(infos, func(h resource.Handle) string {
		if h == 1 {
			return "cli"
		}
		return ""
	})

	for _, want := range []string{"Handle", "cli", "tcp-client", "websocket", "127.0.0.1:80", "12345678"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "tcp-client") > strings.Index(out, "websocket") {
		t.Error("rows not ordered by handle")
	}
}

func TestRunScript(t *testing.T) {
	rt := socket.NewRuntime()
	defer rt.Close()

	script := strings.Join([]string{
		"# create and inspect",
		"tcp a",
		"",
		"a.state",
		"a.bogus",
		"a.delete",
	}, "\n")

	var out bytes.Buffer
	err := runScript(rt, strings.NewReader(script), &out)
	if err == nil || !strings.Contains(err.Error(), "1 command(s) failed") {
		t.Errorf("runScript error = %v", err)
	}

	text := out.String()
	for _, want := range []string{"> tcp a", "a = tcp-client", "unconnected", "line 5: error", "deleted a"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "# create") {
		t.Error("comments should not be echoed")
	}
	if rt.Len() != 0 {
		t.Errorf("%d handles left", rt.Len())
	}
}
