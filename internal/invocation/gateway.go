package invocation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/lithammer/shortuuid"
	"github.com/serverledge-faas/smartlambda/internal/container"
	"github.com/serverledge-faas/smartlambda/internal/executor"
	"github.com/serverledge-faas/smartlambda/internal/function"
	"github.com/serverledge-faas/smartlambda/internal/metrics"
	"github.com/serverledge-faas/smartlambda/internal/node"
	"github.com/serverledge-faas/smartlambda/internal/telemetry"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultTimeout = 60 * time.Second

// killGrace bounds the wait for the output of a killed worker.
const killGrace = 100 * time.Millisecond

// Gateway turns function invocations into worker round trips. Every worker
// serves exactly one invocation and is gone when the invocation returns.
type Gateway struct {
	factory   container.Factory
	resources *node.Resources
	timeout   time.Duration
	observers []func(Report)
	log       *logrus.Entry
}

type Option func(*Gateway)

// WithResources makes the gateway reserve the function memory before spawning.
func WithResources(r *node.Resources) Option {
	return func(g *Gateway) { g.resources = r }
}

// WithTimeout sets the timeout of functions that do not declare one.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

// WithObserver registers a callback run after each invocation.
func WithObserver(fn func(Report)) Option {
	return func(g *Gateway) { g.observers = append(g.observers, fn) }
}

func NewGateway(factory container.Factory, opts ...Option) *Gateway {
	g := &Gateway{
		factory: factory,
		timeout: DefaultTimeout,
		log:     logrus.WithField("component", "gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewReqId builds a request identifier for an invocation of fun.
func NewReqId(fun string) string {
	return fmt.Sprintf("%s-%s", fun, shortuuid.New())
}

// Dispatch starts an invocation and returns immediately. The invocation is
// not bound to the cancellation of ctx: once started it runs to completion,
// failure or timeout.
func (g *Gateway) Dispatch(ctx context.Context, fn *function.Function, payload []byte) *Future {
	return g.DispatchWithId(ctx, NewReqId(fn.Name), fn, payload)
}

func (g *Gateway) DispatchWithId(ctx context.Context, reqId string, fn *function.Function, payload []byte) *Future {
	f := newFuture(reqId)
	ctx = context.WithoutCancel(ctx)
	go func() {
		f.complete(g.invoke(ctx, reqId, fn, payload))
	}()
	return f
}

// Invoke runs an invocation and waits for its outcome.
func (g *Gateway) Invoke(ctx context.Context, fn *function.Function, payload []byte) Report {
	return g.invoke(ctx, NewReqId(fn.Name), fn, payload)
}

func (g *Gateway) invoke(ctx context.Context, reqId string, fn *function.Function, payload []byte) Report {
	ctx, span := telemetry.Tracer().Start(ctx, "invoke", trace.WithAttributes(
		attribute.String("function", fn.Name),
		attribute.String("request", reqId),
	))
	defer span.End()

	report := Report{ReqId: reqId, Function: fn.Name, Start: time.Now()}
	log := g.log.WithFields(logrus.Fields{"function": fn.Name, "request": reqId})

	if g.resources != nil {
		if err := g.resources.Acquire(fn.MemoryMB); err != nil {
			report.Dropped = true
			report.Result = executor.Failuref(executor.InternalError, "%v", err)
			span.SetStatus(codes.Error, err.Error())
			return report
		}
		defer g.resources.Release(fn.MemoryMB)
	}

	report.Result = g.roundTrip(ctx, fn, payload, log)
	report.Duration = time.Since(report.Start)

	outcome := "success"
	if err := report.Result.Err(); err != nil {
		outcome = string(err.Kind)
		span.SetStatus(codes.Error, err.Message)
		log.Debugf("Invocation failed: %v", err)
	}
	metrics.AddCompletedInvocation(fn.Name, outcome)
	metrics.AddFunctionDurationValue(fn.Name, report.Duration.Seconds())

	for _, obs := range g.observers {
		obs(report)
	}
	return report
}

func buildRequest(fn *function.Function, payload []byte) ([]byte, error) {
	req := executor.InvocationRequest{
		Identifier:     fn.Identifier(),
		HasParameter:   fn.HasParameter,
		ParameterClass: fn.ParameterType,
	}
	if fn.HasParameter {
		req.Parameter = payload
	}
	return json.Marshal(&req)
}

type readResult struct {
	data []byte
	err  error
}

// roundTrip spawns a worker, sends the request frame and decodes the response.
// Any failure along the way becomes an InternalError result.
func (g *Gateway) roundTrip(ctx context.Context, fn *function.Function, payload []byte, log *logrus.Entry) executor.InvocationResult {
	frame, err := buildRequest(fn, payload)
	if err != nil {
		return executor.Failuref(executor.InternalError, "could not encode request: %v", err)
	}

	timeout := g.timeout
	if fn.Timeout > 0 {
		timeout = time.Duration(fn.Timeout) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	w, err := g.factory.Spawn(ctx, &container.WorkerOptions{Runtime: fn.Runtime, MemoryMB: fn.MemoryMB})
	if err != nil {
		return executor.Failuref(executor.InternalError, "could not spawn worker: %v", err)
	}

	writeCh := make(chan error, 1)
	go func() {
		err := executor.WriteFrame(w.Stdin(), frame)
		writeCh <- errors.Join(err, w.Stdin().Close())
	}()
	readCh := make(chan readResult, 1)
	go func() {
		data, err := io.ReadAll(w.Stdout())
		readCh <- readResult{data, err}
	}()

	var rr readResult
	select {
	case rr = <-readCh:
	case <-ctx.Done():
		_ = w.Kill()
		// a response read in full when the context ended still counts
		select {
		case rr = <-readCh:
			if rr.err == nil {
				if result, err := executor.DecodeResult(rr.data); err == nil {
					return result
				}
			}
		case <-time.After(killGrace):
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return executor.Failuref(executor.InternalError, "worker timed out after %v", timeout)
		}
		return executor.Failuref(executor.InternalError, "invocation cancelled: %v", ctx.Err())
	}
	if rr.err != nil {
		_ = w.Kill()
		return executor.Failuref(executor.InternalError, "could not read response: %v", rr.err)
	}

	waitErr := w.Wait()
	if err := <-writeCh; err != nil {
		log.Warnf("Could not write request: %v", err)
	}

	result, err := executor.DecodeResult(rr.data)
	if err != nil {
		if waitErr != nil {
			return executor.Failuref(executor.InternalError, "worker failed (%v): %v", waitErr, err)
		}
		return executor.Failuref(executor.InternalError, "%v", err)
	}
	if waitErr != nil {
		log.Warnf("Worker exited with error after responding: %v", waitErr)
	}
	return result
}
