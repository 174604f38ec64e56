package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jacquesio/jacques/cmd/jacques/cli"
	"github.com/jacquesio/jacques/internal/errs"
	"github.com/jacquesio/jacques/internal/pipeline"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	err := cli.NewRootCmd().ExecuteContext(ctx)
	cancel()
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "jacques:", err)
	os.Exit(exitCode(err))
}

// exitCode separates the failures an operator scripts around: 2 when another
// instance already holds the port, socket, or pid file, 3 when a stale
// socket file cannot be removed, 1 for everything else.
func exitCode(err error) int {
	var stale *pipeline.StaleSocketError
	if errors.As(err, &stale) {
		return 3
	}
	if errs.KindOf(err) == errs.Conflict {
		return 2
	}
	return 1
}
