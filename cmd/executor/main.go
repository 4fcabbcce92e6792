// Command smartlambda-executor is the worker process. It reads one framed
// invocation request from stdin, runs it and writes the result to stdout.
//
// Functions are compiled in: a deployment with its own functions builds its
// worker from a copy of this file that registers them next to the builtins.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/serverledge-faas/smartlambda/internal/config"
	"github.com/serverledge-faas/smartlambda/internal/executor"
	"github.com/serverledge-faas/smartlambda/internal/function"
	"github.com/serverledge-faas/smartlambda/internal/logging"
	"github.com/sirupsen/logrus"
)

func main() {
	// the protocol channel, captured before the runner rebinds the standard streams
	in, out := os.Stdin, os.Stdout

	config.ReadConfiguration("")
	logging.InitTo(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := function.Builtins()
	runner := executor.NewRunner(registry, executor.IsolateStdio(), executor.WithLogger(logging.For("executor")))
	if err := runner.Serve(ctx, in, out); err != nil {
		logrus.Errorf("Could not write the response: %v", err)
		stop()
		os.Exit(1)
	}
}
