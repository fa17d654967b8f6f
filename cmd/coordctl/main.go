// Package main provides coordctl, an inspection CLI for a coord
// file-coordination engine's configuration and persisted state.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/agentfs/coord/internal/coordcli"
)

func main() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	exitCode := coordcli.Run(os.Stdin, os.Stdout, os.Stderr, os.Args[1:], os.Environ(), sigCh)

	os.Exit(exitCode)
}
