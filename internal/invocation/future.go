package invocation

import (
	"context"
	"time"

	"github.com/serverledge-faas/smartlambda/internal/executor"
)

// Report is the outcome of one invocation.
type Report struct {
	ReqId    string
	Function string
	Result   executor.InvocationResult
	Start    time.Time
	Duration time.Duration
	// Dropped is set when the node had no resources to spawn a worker.
	Dropped bool
}

// Future is the pending outcome of a dispatched invocation.
type Future struct {
	ReqId  string
	done   chan struct{}
	report Report
}

func newFuture(reqId string) *Future {
	return &Future{ReqId: reqId, done: make(chan struct{})}
}

func (f *Future) complete(r Report) {
	f.report = r
	close(f.done)
}

// Done is closed once the invocation has finished.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Finished reports without blocking whether the invocation has finished.
func (f *Future) Finished() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Report returns the outcome and true if the invocation has finished.
func (f *Future) Report() (Report, bool) {
	if !f.Finished() {
		return Report{}, false
	}
	return f.report, true
}

// Wait blocks until the invocation finishes or ctx is done.
func (f *Future) Wait(ctx context.Context) (Report, error) {
	select {
	case <-f.done:
		return f.report, nil
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}
}

// Completed returns an already finished future, for outcomes known upfront.
func Completed(r Report) *Future {
	f := newFuture(r.ReqId)
	f.complete(r)
	return f
}
