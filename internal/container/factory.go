package container

import (
	"context"
	"fmt"
	"io"

	"github.com/serverledge-faas/smartlambda/internal/config"
	"github.com/serverledge-faas/smartlambda/internal/executor"
	"github.com/serverledge-faas/smartlambda/internal/function"
)

const PROCESS_FACTORY_KEY = "process"
const DOCKER_FACTORY_KEY = "docker"
const INPROCESS_FACTORY_KEY = "inprocess"

// A Factory spawns workers. Each worker serves a single invocation.
type Factory interface {
	Spawn(ctx context.Context, opts *WorkerOptions) (Worker, error)
}

// Worker is a running worker with its protocol channel.
type Worker interface {
	// Stdin is the request channel. Closing it signals the end of the request.
	Stdin() io.WriteCloser
	// Stdout is the response channel; it reaches EOF when the worker is done.
	Stdout() io.Reader
	// Wait blocks until the worker has exited and releases its resources.
	Wait() error
	// Kill terminates the worker and releases its resources.
	Kill() error
}

// WorkerOptions contains options for worker creation.
type WorkerOptions struct {
	Runtime  string
	Env      []string
	MemoryMB int64
}

// NewFactory builds the factory selected by executor.factory.
// The in-process factory serves the builtin functions only.
func NewFactory() (Factory, error) {
	kind := config.GetString(config.EXECUTOR_FACTORY, PROCESS_FACTORY_KEY)
	switch kind {
	case PROCESS_FACTORY_KEY:
		return NewProcessFactory(config.GetString(config.EXECUTOR_BINARY, "smartlambda-executor")), nil
	case DOCKER_FACTORY_KEY:
		return InitDockerContainerFactory()
	case INPROCESS_FACTORY_KEY:
		return NewInProcessFactory(executor.NewRunner(function.Builtins()).Serve), nil
	default:
		return nil, fmt.Errorf("unknown executor factory %q", kind)
	}
}
