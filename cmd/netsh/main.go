package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/netsock/binding"
	"github.com/wippyai/netsock/socket"
)

func main() {
	var (
		scriptFile  = flag.String("script", "", "Run commands from file ('-' for stdin)")
		wasmFile    = flag.String("wasm", "", "Run a guest module importing the netsock host module")
		entry       = flag.String("entry", "_start", "Guest function to call with -wasm")
		interactive = flag.Bool("i", false, "Interactive mode with TUI (default when stdin is a terminal)")
		verbose     = flag.Bool("v", false, "Log socket activity to stderr")
		policy      = flag.String("policy", "any", "Listen policy: any or requested")
		sendBuffer  = flag.Int("send-buffer", socket.DefaultBufferSize, "TCP send buffer size in bytes")
		maxPending  = flag.Int("max-pending", socket.DefaultMaxPendingConnections, "Per-server accept queue size")
	)
	flag.Parse()

	cfg := socket.DefaultConfig()
	cfg.SendBufferSize = *sendBuffer
	cfg.MaxPendingConnections = *maxPending
	switch *policy {
	case "any":
		cfg.ListenPolicy = socket.BindAny
	case "requested":
		cfg.ListenPolicy = socket.BindRequested
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown listen policy %q\n", *policy)
		os.Exit(2)
	}

	log := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: logger: %v\n", err)
			os.Exit(1)
		}
		log = l
	}
	defer func() { _ = log.Sync() }()
	socket.SetLogger(log)
	binding.SetLogger(log)

	rt := socket.NewRuntime().WithConfig(cfg).WithLogger(log)
	defer rt.Close()

	var err error
	switch {
	case *wasmFile != "":
		err = runWasm(context.Background(), rt, *wasmFile, *entry)
	case *scriptFile == "-":
		err = runScript(rt, os.Stdin, os.Stdout)
	case *scriptFile != "":
		err = runScriptFile(rt, *scriptFile)
	case *interactive || term.IsTerminal(int(os.Stdin.Fd())):
		err = runInteractive(rt)
	default:
		err = runScript(rt, os.Stdin, os.Stdout)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		_ = rt.Close()
		os.Exit(1)
	}
}

func runScriptFile(rt *socket.Runtime, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open script: %w", err)
	}
	defer f.Close()
	return runScript(rt, f, os.Stdout)
}

// runScript executes one command per line, echoing each command and its
// output. Failed commands are reported and execution continues; the
// returned error counts the failures.
func runScript(rt *socket.Runtime, r io.Reader, w io.Writer) error {
	sh := newShell(rt)
	failed := 0

	scanner := bufio.NewScanner(r)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := scanner.Text()
		cmd, err := parseCommand(line)
		if err == nil && cmd.op == "" {
			continue
		}

		fmt.Fprintf(w, "> %s\n", line)
		out, err := sh.exec(line)
		if out != "" {
			fmt.Fprintln(w, out)
		}
		if err != nil {
			fmt.Fprintf(w, "line %d: error: %v\n", lineNo, err)
			failed++
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read script: %w", err)
	}
	if failed > 0 {
		return fmt.Errorf("%d command(s) failed", failed)
	}
	return nil
}
