package container

import (
	"context"
	"errors"
	"io"
)

// ServeFunc handles one request read from in, writing the response to out.
type ServeFunc func(ctx context.Context, in io.Reader, out io.Writer) error

// InProcessFactory runs workers as goroutines connected through pipes.
// It gives no isolation at all and is meant for development and tests.
type InProcessFactory struct {
	serve ServeFunc
}

func NewInProcessFactory(serve ServeFunc) *InProcessFactory {
	return &InProcessFactory{serve: serve}
}

var errKilled = errors.New("worker killed")

type inProcessWorker struct {
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	done    chan struct{}
	err     error
}

func (f *InProcessFactory) Spawn(ctx context.Context, _ *WorkerOptions) (Worker, error) {
	w := &inProcessWorker{done: make(chan struct{})}
	w.stdinR, w.stdinW = io.Pipe()
	w.stdoutR, w.stdoutW = io.Pipe()

	go func() {
		defer close(w.done)
		w.err = f.serve(ctx, w.stdinR, w.stdoutW)
		_ = w.stdoutW.Close()
		_ = w.stdinR.Close()
	}()
	return w, nil
}

func (w *inProcessWorker) Stdin() io.WriteCloser { return w.stdinW }

func (w *inProcessWorker) Stdout() io.Reader { return w.stdoutR }

func (w *inProcessWorker) Wait() error {
	<-w.done
	return w.err
}

// Kill breaks the pipes; the serving goroutine is abandoned if it does not
// touch them again.
func (w *inProcessWorker) Kill() error {
	_ = w.stdinR.CloseWithError(errKilled)
	_ = w.stdoutW.CloseWithError(errKilled)
	_ = w.stdoutR.CloseWithError(errKilled)
	return nil
}
