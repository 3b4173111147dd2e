// Package main is alloyctl, a command-line client that spreads Alloy calls
// over several inference servers.
//
// Nodes come from a TOML or YAML config file (--config), the ALLOY_NODES
// environment variable or repeated --node flags, in increasing priority.
//
// Example usage:
//
//	alloyctl --node http://gpu-a:8000 --node http://gpu-b:8000 models
//	alloyctl --config alloy.toml chat --model llama3 --message "hello"
//	alloyctl --config alloy.toml image --model flux --prompt "a cat" --out ./img
//	alloyctl --config alloy.toml health --watch
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
