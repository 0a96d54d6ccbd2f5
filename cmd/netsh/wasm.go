package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/wippyai/netsock/binding"
	"github.com/wippyai/netsock/socket"
)

// runWasm instantiates a core module against the netsock host module and
// calls entry. A guest exit with code 0 is success.
func runWasm(ctx context.Context, rt *socket.Runtime, path, entry string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		return fmt.Errorf("instantiate wasi: %w", err)
	}
	host := binding.New(rt)
	if _, err := host.Instantiate(ctx, r); err != nil {
		return fmt.Errorf("instantiate host: %w", err)
	}

	cfg := wazero.NewModuleConfig().
		WithName("guest").
		WithArgs(path).
		WithStdout(os.Stdout).
		WithStderr(os.Stderr).
		WithStartFunctions()
	mod, err := r.InstantiateWithConfig(ctx, data, cfg)
	if err != nil {
		return fmt.Errorf("instantiate guest: %w", err)
	}
	defer mod.Close(ctx)

	fn := mod.ExportedFunction(entry)
	if fn == nil {
		return fmt.Errorf("guest does not export %q", entry)
	}

	results, err := fn.Call(ctx)
	if err != nil {
		var exitErr *sys.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 0 {
			return nil
		}
		return fmt.Errorf("call %s: %w", entry, err)
	}

	for i, t := range fn.Definition().ResultTypes() {
		if t == api.ValueTypeI32 {
			v := api.DecodeI32(results[i])
			fmt.Printf("result[%d] = %d (%s)\n", i, v, binding.StatusText(v))
			continue
		}
		fmt.Printf("result[%d] = %d\n", i, results[i])
	}
	return nil
}
