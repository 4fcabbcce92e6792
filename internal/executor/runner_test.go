package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/serverledge-faas/smartlambda/internal/function"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	X, Y int
}

func testRegistry() *function.Registry {
	r := function.Builtins()
	r.MustRegister(function.Identifier{Class: "geo", Method: "swap"}, function.Func(func(_ context.Context, p point) (point, error) {
		return point{X: p.Y, Y: p.X}, nil
	}))
	r.MustRegister(function.Identifier{Class: "geo", Method: "panic"}, function.NoParam(func(context.Context) (int, error) {
		panic("kaboom")
	}))
	r.MustRegister(function.Identifier{Class: "geo", Method: "broken"}, func() (function.Handler, error) {
		return nil, errors.New("constructor not accessible")
	})
	r.MustRegister(function.Identifier{Class: "geo", Method: "chan"}, function.NoParam(func(context.Context) (chan int, error) {
		return make(chan int), nil
	}))
	r.MustRegister(function.Identifier{Class: "geo", Method: "stdout"}, function.NoParam(func(context.Context) (bool, error) {
		fmt.Println("this must not reach the protocol channel")
		return os.Stdout.Name() == os.DevNull, nil
	}))
	return r
}

func request(t *testing.T, id function.Identifier, param any) *InvocationRequest {
	req := &InvocationRequest{Identifier: id}
	if param != nil {
		data, err := json.Marshal(param)
		require.NoError(t, err)
		req.HasParameter = true
		req.Parameter = data
	}
	return req
}

func TestRunSuccessRoundTrip(t *testing.T) {
	runner := NewRunner(testRegistry())

	res := runner.Run(context.Background(), request(t, function.Identifier{Class: "geo", Method: "swap"}, point{1, 2}))
	require.False(t, res.Failed(), res.String())

	// through the wire format and back
	wire, err := json.Marshal(res)
	require.NoError(t, err)
	var decoded InvocationResult
	require.NoError(t, json.Unmarshal(wire, &decoded))

	raw, ok := decoded.ReturnValue()
	require.True(t, ok)
	var p point
	require.NoError(t, json.Unmarshal(raw, &p))
	assert.Equal(t, point{X: 2, Y: 1}, p)
}

func TestRunNullReturn(t *testing.T) {
	res := NewRunner(testRegistry()).Run(context.Background(), request(t, function.Noop, nil))
	raw, ok := res.ReturnValue()
	require.True(t, ok)
	assert.Equal(t, "null", string(raw))
	assert.Nil(t, res.Err())
}

func TestRunUnresolvableEntryPoint(t *testing.T) {
	runner := NewRunner(testRegistry())
	missing := function.Identifier{Class: "nope", Method: "nothing"}

	for _, param := range []any{nil, 1, "text", point{}, []byte("garbage")} {
		res := runner.Run(context.Background(), request(t, missing, param))
		require.True(t, res.Failed())
		assert.Equal(t, InvalidFunctionDefinition, res.Err().Kind, "param %v", param)
	}
}

func TestRunUserFailure(t *testing.T) {
	res := NewRunner(testRegistry()).Run(context.Background(), request(t, function.Fail, "boom"))
	require.True(t, res.Failed())
	assert.Equal(t, UserCodeFailure, res.Err().Kind)
	assert.Contains(t, res.Err().Message, "boom")
	_, ok := res.ReturnValue()
	assert.False(t, ok)
}

func TestRunPanicIsUserFailure(t *testing.T) {
	res := NewRunner(testRegistry()).Run(context.Background(), request(t, function.Identifier{Class: "geo", Method: "panic"}, nil))
	require.True(t, res.Failed())
	assert.Equal(t, UserCodeFailure, res.Err().Kind)
	assert.Contains(t, res.Err().Message, "kaboom")
}

func TestRunDefinitionErrors(t *testing.T) {
	runner := NewRunner(testRegistry())
	ctx := context.Background()

	cases := map[string]*InvocationRequest{
		"constructor":       request(t, function.Identifier{Class: "geo", Method: "broken"}, nil),
		"missing parameter": request(t, function.Inc, nil),
		"extra parameter":   request(t, function.Hello, 3),
		"bad parameter":     request(t, function.Inc, "not a number"),
		"unserializable":    request(t, function.Identifier{Class: "geo", Method: "chan"}, nil),
	}
	wrongClass := request(t, function.Inc, 3)
	wrongClass.ParameterClass = "string"
	cases["parameter class"] = wrongClass

	for name, req := range cases {
		res := runner.Run(ctx, req)
		require.True(t, res.Failed(), name)
		assert.Equal(t, InvalidFunctionDefinition, res.Err().Kind, name)
	}
}

func TestRunRestoresStdio(t *testing.T) {
	stdin, stdout := os.Stdin, os.Stdout
	runner := NewRunner(testRegistry(), IsolateStdio())

	res := runner.Run(context.Background(), request(t, function.Identifier{Class: "geo", Method: "stdout"}, nil))
	raw, ok := res.ReturnValue()
	require.True(t, ok)
	assert.Equal(t, "true", string(raw))
	assert.Same(t, stdin, os.Stdin)
	assert.Same(t, stdout, os.Stdout)

	// also after a panic
	res = runner.Run(context.Background(), request(t, function.Identifier{Class: "geo", Method: "panic"}, nil))
	assert.True(t, res.Failed())
	assert.Same(t, stdin, os.Stdin)
	assert.Same(t, stdout, os.Stdout)
}

func TestServe(t *testing.T) {
	runner := NewRunner(testRegistry())

	payload, err := json.Marshal(request(t, function.Inc, 41))
	require.NoError(t, err)
	var in bytes.Buffer
	require.NoError(t, WriteFrame(&in, payload))

	var out bytes.Buffer
	require.NoError(t, runner.Serve(context.Background(), &in, &out))
	assert.JSONEq(t, `{"returnValue":"42","error":null}`, out.String())
}

func TestServeTruncatedInput(t *testing.T) {
	runner := NewRunner(testRegistry())

	var out bytes.Buffer
	require.NoError(t, runner.Serve(context.Background(), bytes.NewReader([]byte{0, 0, 0, 10, '{'}), &out))

	var res InvocationResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	require.True(t, res.Failed())
	assert.Equal(t, InternalError, res.Err().Kind)
}

func TestServeUndecodableRequest(t *testing.T) {
	var in bytes.Buffer
	require.NoError(t, WriteFrame(&in, []byte("not json")))

	var out bytes.Buffer
	require.NoError(t, NewRunner(testRegistry()).Serve(context.Background(), &in, &out))

	var res InvocationResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, InternalError, res.Err().Kind)
}
