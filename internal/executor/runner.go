package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/serverledge-faas/smartlambda/internal/function"
	"github.com/sirupsen/logrus"
)

// Runner executes invocation requests against a function registry.
// Every outcome, including panics in user code, is returned as an InvocationResult.
type Runner struct {
	registry     *function.Registry
	isolateStdio bool
	log          *logrus.Entry
}

type Option func(*Runner)

// IsolateStdio rebinds os.Stdin and os.Stdout to the null device while user
// code runs, so that it cannot read or corrupt the protocol channel.
func IsolateStdio() Option {
	return func(r *Runner) { r.isolateStdio = true }
}

func WithLogger(l *logrus.Entry) Option {
	return func(r *Runner) { r.log = l }
}

func NewRunner(registry *function.Registry, opts ...Option) *Runner {
	r := &Runner{registry: registry, log: logrus.WithField("component", "runner")}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one request.
func (r *Runner) Run(ctx context.Context, req *InvocationRequest) InvocationResult {
	log := r.log.WithField("entrypoint", req.Identifier.String())

	factory, err := r.registry.Resolve(req.Identifier)
	if err != nil {
		return Failuref(InvalidFunctionDefinition, "%v", err)
	}

	handler, err := instantiate(factory)
	if err != nil {
		return Failuref(InvalidFunctionDefinition, "could not instantiate %s: %v", req.Identifier, err)
	}

	param, invErr := decodeParameter(handler, req)
	if invErr != nil {
		return Failure(invErr)
	}

	if r.isolateStdio {
		restore, err := isolateStdio()
		if err != nil {
			return Failuref(InternalError, "could not isolate stdio: %v", err)
		}
		defer restore()
	}

	value, err := call(ctx, handler, param)
	if err != nil {
		log.Debugf("function failed: %v", err)
		return Failuref(UserCodeFailure, "%v", err)
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return Failuref(InvalidFunctionDefinition, "could not serialize return value: %v", err)
	}
	return Success(encoded)
}

// Serve reads one request frame from in, runs it and writes the response to out.
// Failures to read or decode the request are reported on out as InternalError.
// The returned error only concerns writing the response.
func (r *Runner) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	var result InvocationResult
	if req, err := readRequest(in); err != nil {
		r.log.Warnf("bad request: %v", err)
		result = Failuref(InternalError, "%v", err)
	} else {
		result = r.Run(ctx, req)
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = out.Write(payload)
	return err
}

func readRequest(in io.Reader) (*InvocationRequest, error) {
	data, err := ReadFrame(in)
	if err != nil {
		return nil, err
	}
	var req InvocationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("could not decode request: %w", err)
	}
	return &req, nil
}

func decodeParameter(h function.Handler, req *InvocationRequest) (any, *InvocationError) {
	param := h.NewParameter()
	switch {
	case !req.HasParameter && param != nil:
		return nil, NewInvocationError(InvalidFunctionDefinition, "%s requires a parameter of type %s", req.Identifier, h.ParameterType())
	case !req.HasParameter:
		return nil, nil
	case param == nil:
		return nil, NewInvocationError(InvalidFunctionDefinition, "%s takes no parameter", req.Identifier)
	case req.ParameterClass != "" && req.ParameterClass != h.ParameterType():
		return nil, NewInvocationError(InvalidFunctionDefinition, "parameter type %s does not match %s", req.ParameterClass, h.ParameterType())
	}

	if err := json.Unmarshal(req.Parameter, param); err != nil {
		return nil, NewInvocationError(InvalidFunctionDefinition, "could not decode parameter as %s: %v", h.ParameterType(), err)
	}
	return param, nil
}

func instantiate(f function.Factory) (h function.Handler, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	h, err = f()
	if err == nil && h == nil {
		err = errors.New("factory returned no handler")
	}
	return h, err
}

func call(ctx context.Context, h function.Handler, param any) (value any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return h.Call(ctx, param)
}

var (
	stdioMu     sync.Mutex
	stdioRefs   int
	savedStdin  *os.File
	savedStdout *os.File
	devNull     *os.File
)

// isolateStdio swaps the process stdin and stdout for the null device. Calls
// nest: the original files come back when the last restore runs.
func isolateStdio() (func(), error) {
	stdioMu.Lock()
	defer stdioMu.Unlock()

	if stdioRefs == 0 {
		f, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		if err != nil {
			return nil, err
		}
		devNull = f
		savedStdin, savedStdout = os.Stdin, os.Stdout
		os.Stdin, os.Stdout = devNull, devNull
	}
	stdioRefs++

	var once sync.Once
	return func() {
		once.Do(func() {
			stdioMu.Lock()
			defer stdioMu.Unlock()
			stdioRefs--
			if stdioRefs == 0 {
				os.Stdin, os.Stdout = savedStdin, savedStdout
				_ = devNull.Close()
				devNull = nil
			}
		})
	}, nil
}
