package function

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrEntryPointNotFound = errors.New("entry point not found")
var ErrDuplicateEntryPoint = errors.New("entry point already registered")

// Identifier locates an entry point: a class (the unit of code) and a method in it.
type Identifier struct {
	Class  string `json:"functionClass"`
	Method string `json:"functionMethod"`
}

func (id Identifier) String() string {
	return fmt.Sprintf("%s::%s", id.Class, id.Method)
}

// Handler is an instantiated entry point.
type Handler interface {
	// ParameterType names the type expected by Call, or "" if Call takes no parameter.
	ParameterType() string
	// NewParameter returns a pointer to decode the parameter into, or nil.
	NewParameter() any
	// Call runs the function. param is the value returned by NewParameter after decoding.
	Call(ctx context.Context, param any) (any, error)
}

// Factory instantiates a Handler for a single invocation.
type Factory func() (Handler, error)

// Registry maps identifiers to entry points.
type Registry struct {
	mu      sync.RWMutex
	entries map[Identifier]Factory
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[Identifier]Factory)}
}

func (r *Registry) Register(id Identifier, f Factory) error {
	if f == nil {
		return fmt.Errorf("nil factory for %s", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateEntryPoint, id)
	}
	r.entries[id] = f
	return nil
}

// MustRegister is like Register but panics on error. Meant for init-time wiring.
func (r *Registry) MustRegister(id Identifier, f Factory) {
	if err := r.Register(id, f); err != nil {
		panic(err)
	}
}

func (r *Registry) Resolve(id Identifier) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryPointNotFound, id)
	}
	return f, nil
}

// Identifiers returns the registered identifiers, sorted.
func (r *Registry) Identifiers() []Identifier {
	r.mu.RLock()
	ids := make([]Identifier, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
	return ids
}

type typedHandler[P any, R any] struct {
	fn func(context.Context, P) (R, error)
}

func (h typedHandler[P, R]) ParameterType() string {
	var p P
	return fmt.Sprintf("%T", p)
}

func (h typedHandler[P, R]) NewParameter() any {
	return new(P)
}

func (h typedHandler[P, R]) Call(ctx context.Context, param any) (any, error) {
	p, ok := param.(*P)
	if !ok {
		return nil, fmt.Errorf("unexpected parameter %T", param)
	}
	return h.fn(ctx, *p)
}

// Func adapts a typed function taking one parameter.
func Func[P any, R any](fn func(context.Context, P) (R, error)) Factory {
	return func() (Handler, error) {
		return typedHandler[P, R]{fn: fn}, nil
	}
}

type noParamHandler[R any] struct {
	fn func(context.Context) (R, error)
}

func (h noParamHandler[R]) ParameterType() string { return "" }

func (h noParamHandler[R]) NewParameter() any { return nil }

func (h noParamHandler[R]) Call(ctx context.Context, _ any) (any, error) {
	return h.fn(ctx)
}

// NoParam adapts a typed function taking no parameter.
func NoParam[R any](fn func(context.Context) (R, error)) Factory {
	return func() (Handler, error) {
		return noParamHandler[R]{fn: fn}, nil
	}
}
