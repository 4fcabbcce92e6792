package invocation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/serverledge-faas/smartlambda/internal/config"
	"github.com/serverledge-faas/smartlambda/internal/container"
	"github.com/serverledge-faas/smartlambda/internal/executor"
	"github.com/serverledge-faas/smartlambda/internal/function"
	"github.com/serverledge-faas/smartlambda/internal/node"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runnerFactory() container.Factory {
	return container.NewInProcessFactory(executor.NewRunner(function.Builtins()).Serve)
}

// replying answers every request with a fixed response.
func replying(response string) container.Factory {
	return container.NewInProcessFactory(func(_ context.Context, in io.Reader, out io.Writer) error {
		if _, err := executor.ReadFrame(in); err != nil {
			return err
		}
		_, err := out.Write([]byte(response))
		return err
	})
}

type failingFactory struct{}

func (failingFactory) Spawn(context.Context, *container.WorkerOptions) (container.Worker, error) {
	return nil, errors.New("no such binary")
}

var incFn = &function.Function{Name: "inc", Class: function.BuiltinClass, Method: "inc", HasParameter: true, ParameterType: "int"}
var failFn = &function.Function{Name: "fail", Class: function.BuiltinClass, Method: "fail", HasParameter: true}
var sleepFn = &function.Function{Name: "sleep", Class: function.BuiltinClass, Method: "sleep", HasParameter: true}
var helloFn = &function.Function{Name: "hello", Class: function.BuiltinClass, Method: "hello"}

func TestInvokeSuccess(t *testing.T) {
	g := NewGateway(runnerFactory())
	report := g.Invoke(context.Background(), incFn, []byte("41"))

	raw, ok := report.Result.ReturnValue()
	require.True(t, ok, report.Result.String())
	assert.Equal(t, "42", string(raw))
	assert.Equal(t, "inc", report.Function)
	assert.False(t, report.Dropped)
}

func TestInvokeIgnoresPayloadWithoutParameter(t *testing.T) {
	report := NewGateway(runnerFactory()).Invoke(context.Background(), helloFn, []byte(`"ignored"`))
	raw, ok := report.Result.ReturnValue()
	require.True(t, ok, report.Result.String())
	assert.Equal(t, `"hello"`, string(raw))
}

func TestInvokeUserFailure(t *testing.T) {
	report := NewGateway(runnerFactory()).Invoke(context.Background(), failFn, []byte(`"boom"`))
	require.True(t, report.Result.Failed())
	assert.Equal(t, executor.UserCodeFailure, report.Result.Err().Kind)
	assert.Contains(t, report.Result.Err().Message, "boom")
	_, ok := report.Result.ReturnValue()
	assert.False(t, ok)
}

func TestInvokeUnknownEntryPoint(t *testing.T) {
	fn := &function.Function{Name: "ghost", Class: "nope", Method: "nothing", HasParameter: true}
	report := NewGateway(runnerFactory()).Invoke(context.Background(), fn, []byte("1"))
	require.True(t, report.Result.Failed())
	assert.Equal(t, executor.InvalidFunctionDefinition, report.Result.Err().Kind)
}

func TestInvokeTransportFailures(t *testing.T) {
	cases := map[string]container.Factory{
		"malformed":     replying("this is not json"),
		"both set":      replying(`{"returnValue":"1","error":{"kind":"UserCodeFailure","message":"x"}}`),
		"neither set":   replying(`{"returnValue":null,"error":null}`),
		"unknown kind":  replying(`{"returnValue":null,"error":{"kind":"Weird","message":"x"}}`),
		"value type":    replying(`{"returnValue":1,"error":null}`),
		"empty":         replying(""),
		"spawn failure": failingFactory{},
		"crash": container.NewInProcessFactory(func(context.Context, io.Reader, io.Writer) error {
			return errors.New("segfault")
		}),
	}

	for name, factory := range cases {
		report := NewGateway(factory).Invoke(context.Background(), incFn, []byte("1"))
		require.True(t, report.Result.Failed(), name)
		assert.Equal(t, executor.InternalError, report.Result.Err().Kind, name)
		assert.True(t, report.Result.Valid(), name)
	}
}

func TestInvokeTimeout(t *testing.T) {
	g := NewGateway(runnerFactory(), WithTimeout(50*time.Millisecond))
	start := time.Now()
	report := g.Invoke(context.Background(), sleepFn, []byte("5000"))

	require.True(t, report.Result.Failed())
	assert.Equal(t, executor.InternalError, report.Result.Err().Kind)
	assert.Contains(t, report.Result.Err().Message, "timed out")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestInvokeCancelledByCaller(t *testing.T) {
	g := NewGateway(runnerFactory())
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	report := g.Invoke(ctx, sleepFn, []byte("5000"))

	require.True(t, report.Result.Failed())
	assert.Equal(t, executor.InternalError, report.Result.Err().Kind)
	assert.Contains(t, report.Result.Err().Message, "cancelled")
	assert.NotContains(t, report.Result.Err().Message, "timed out")
	assert.Less(t, time.Since(start), 2*time.Second)
}

// lateWorker has its whole response ready, but reports the end of output
// only once it has been killed, after cancelling the invocation context.
type lateWorker struct {
	response *strings.Reader
	cancel   context.CancelFunc
	killed   chan struct{}
	once     sync.Once
}

type discardCloser struct{ io.Writer }

func (discardCloser) Close() error { return nil }

func (w *lateWorker) Stdin() io.WriteCloser { return discardCloser{io.Discard} }

func (w *lateWorker) Stdout() io.Reader { return w }

func (w *lateWorker) Read(p []byte) (int, error) {
	if w.response.Len() > 0 {
		return w.response.Read(p)
	}
	w.cancel()
	<-w.killed
	return 0, io.EOF
}

func (w *lateWorker) Wait() error { return nil }

func (w *lateWorker) Kill() error {
	w.once.Do(func() { close(w.killed) })
	return nil
}

type lateFactory struct{ worker *lateWorker }

func (f lateFactory) Spawn(context.Context, *container.WorkerOptions) (container.Worker, error) {
	return f.worker, nil
}

func TestResponseReadAtCancellationIsKept(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := &lateWorker{
		response: strings.NewReader(`{"returnValue":"42","error":null}`),
		cancel:   cancel,
		killed:   make(chan struct{}),
	}

	report := NewGateway(lateFactory{w}).Invoke(ctx, incFn, []byte("41"))
	raw, ok := report.Result.ReturnValue()
	require.True(t, ok, report.Result.String())
	assert.Equal(t, "42", string(raw))
}

func TestDispatchIsAsynchronous(t *testing.T) {
	g := NewGateway(runnerFactory())
	f := g.Dispatch(context.Background(), sleepFn, []byte("200"))
	assert.False(t, f.Finished())
	_, ok := f.Report()
	assert.False(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	report, err := f.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, f.Finished())
	assert.Equal(t, f.ReqId, report.ReqId)
	assert.GreaterOrEqual(t, report.Duration, 200*time.Millisecond)

	var s string
	raw, _ := report.Result.ReturnValue()
	require.NoError(t, json.Unmarshal(raw, &s))
	assert.Equal(t, "slept 200 ms", s)
}

func TestDispatchSurvivesCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := NewGateway(runnerFactory()).Dispatch(ctx, sleepFn, []byte("100"))
	cancel()

	report, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Result.Failed(), report.Result.String())
}

func TestInvokeOutOfResources(t *testing.T) {
	config.Set(config.POOL_MEMORY_MB, 100)
	var res node.Resources
	res.Init()

	big := *incFn
	big.MemoryMB = 200
	report := NewGateway(runnerFactory(), WithResources(&res)).Invoke(context.Background(), &big, []byte("1"))
	assert.True(t, report.Dropped)
	assert.Equal(t, executor.InternalError, report.Result.Err().Kind)

	small := *incFn
	small.MemoryMB = 50
	report = NewGateway(runnerFactory(), WithResources(&res)).Invoke(context.Background(), &small, []byte("1"))
	assert.False(t, report.Result.Failed())
	assert.Equal(t, int64(100), res.FreeMemory())
}

func TestObserver(t *testing.T) {
	var seen atomic.Int32
	g := NewGateway(runnerFactory(), WithObserver(func(r Report) {
		seen.Add(1)
	}))
	g.Invoke(context.Background(), incFn, []byte("1"))
	g.Invoke(context.Background(), failFn, []byte(`"x"`))
	assert.Equal(t, int32(2), seen.Load())
}
