package function

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryResolve(t *testing.T) {
	r := Builtins()

	f, err := r.Resolve(Inc)
	require.NoError(t, err)
	h, err := f()
	require.NoError(t, err)
	assert.Equal(t, "int", h.ParameterType())

	p := h.NewParameter().(*int)
	*p = 41
	out, err := h.Call(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 42, out)

	_, err = r.Resolve(Identifier{Class: BuiltinClass, Method: "missing"})
	assert.ErrorIs(t, err, ErrEntryPointNotFound)
}

func TestRegistryDuplicate(t *testing.T) {
	r := Builtins()
	err := r.Register(Echo, NoParam(func(context.Context) (int, error) { return 0, nil }))
	assert.ErrorIs(t, err, ErrDuplicateEntryPoint)
	assert.Panics(t, func() { RegisterBuiltins(r) })
}

func TestNoParamHandler(t *testing.T) {
	h, err := NoParam(func(context.Context) (string, error) { return "hi", nil })()
	require.NoError(t, err)
	assert.Equal(t, "", h.ParameterType())
	assert.Nil(t, h.NewParameter())

	out, err := h.Call(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
}

func TestIdentifiersSorted(t *testing.T) {
	ids := Builtins().Identifiers()
	require.Len(t, ids, 6)
	assert.Equal(t, Echo, ids[0])
	assert.Equal(t, Sleep, ids[len(ids)-1])
}
