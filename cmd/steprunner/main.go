// Package main provides the steprunner binary.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/ormasoftchile/steprunner/pkg/cli"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr, cli.Options{Version: version})
	stop()
	os.Exit(code)
}
