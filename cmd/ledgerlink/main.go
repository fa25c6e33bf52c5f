// Package main runs one ledgerlink client command.
package main

import (
	"context"
	"flag"
	"os"

	ledgerlinkcmd "github.com/louisbranch/ledgerlink/internal/cmd/ledgerlink"
	entrypoint "github.com/louisbranch/ledgerlink/internal/platform/cmd"
	"github.com/louisbranch/ledgerlink/internal/platform/config"
)

func main() {
	cfg, err := ledgerlinkcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	ctx, stop := entrypoint.SignalContext(context.Background())
	defer stop()

	if err := ledgerlinkcmd.Run(ctx, cfg, os.Stdout); err != nil {
		config.Exit("ledgerlink", err)
	}
}
