package function

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// BuiltinClass is the class of the functions shipped with the worker.
const BuiltinClass = "builtin"

func builtin(method string) Identifier {
	return Identifier{Class: BuiltinClass, Method: method}
}

var (
	Echo  = builtin("echo")
	Inc   = builtin("inc")
	Sleep = builtin("sleep")
	Fail  = builtin("fail")
	Hello = builtin("hello")
	Noop  = builtin("noop")
)

// RegisterBuiltins adds the builtin functions to r.
func RegisterBuiltins(r *Registry) {
	r.MustRegister(Echo, Func(func(_ context.Context, s string) (string, error) {
		return s, nil
	}))
	r.MustRegister(Inc, Func(func(_ context.Context, n int) (int, error) {
		return n + 1, nil
	}))
	r.MustRegister(Sleep, Func(func(ctx context.Context, millis int) (string, error) {
		select {
		case <-time.After(time.Duration(millis) * time.Millisecond):
			return fmt.Sprintf("slept %d ms", millis), nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}))
	r.MustRegister(Fail, Func(func(_ context.Context, msg string) (any, error) {
		return nil, errors.New(msg)
	}))
	r.MustRegister(Hello, NoParam(func(context.Context) (string, error) {
		return "hello", nil
	}))
	r.MustRegister(Noop, NoParam(func(context.Context) (any, error) {
		return nil, nil
	}))
}

// Builtins returns a new registry holding only the builtin functions.
func Builtins() *Registry {
	r := NewRegistry()
	RegisterBuiltins(r)
	return r
}
