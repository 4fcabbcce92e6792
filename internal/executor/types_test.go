package executor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultExactlyOne(t *testing.T) {
	results := []InvocationResult{
		Success(json.RawMessage(`{"a":1}`)),
		Success(nil),
		Failure(NewInvocationError(UserCodeFailure, "boom")),
		Failure(nil),
	}
	for _, r := range results {
		_, hasValue := r.ReturnValue()
		hasErr := r.Err() != nil
		assert.True(t, hasValue != hasErr, "%v", r)
		assert.True(t, r.Valid())
	}
	assert.False(t, InvocationResult{}.Valid())
}

func TestResultRejectsMalformedWire(t *testing.T) {
	inputs := []string{
		`{"returnValue":null,"error":null}`,
		`{}`,
		`{"returnValue":"1","error":{"kind":"UserCodeFailure","message":"x"}}`,
		`{"returnValue":"{not json","error":null}`,
		`{"returnValue":null,"error":{"kind":"Unknown","message":"x"}}`,
		`{"returnValue":1,"error":null}`,
	}
	for _, in := range inputs {
		var r InvocationResult
		assert.ErrorIs(t, json.Unmarshal([]byte(in), &r), ErrMalformedResult, in)
	}

	// json.Unmarshal rejects invalid syntax before calling the method
	var r InvocationResult
	assert.Error(t, json.Unmarshal([]byte(`not json at all`), &r))
	assert.ErrorIs(t, r.UnmarshalJSON([]byte(`not json at all`)), ErrMalformedResult)
	assert.ErrorIs(t, r.UnmarshalJSON(nil), ErrMalformedResult)

	_, err := json.Marshal(InvocationResult{})
	assert.Error(t, err)
}

func TestResultWireFormat(t *testing.T) {
	data, err := json.Marshal(Failuref(UserCodeFailure, "boom"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"returnValue":null,"error":{"kind":"UserCodeFailure","message":"boom"}}`, string(data))

	data, err = json.Marshal(Success(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"returnValue":"null","error":null}`, string(data))
}

func TestDecodeResult(t *testing.T) {
	res, err := DecodeResult([]byte(`{"returnValue":"{\"a\":[1,2]}","error":null}`))
	require.NoError(t, err)
	raw, _ := res.ReturnValue()
	assert.JSONEq(t, `{"a":[1,2]}`, string(raw))

	res, err = DecodeResult([]byte(`{"error":{"kind":"UserCodeFailure","message":"boom"}}`))
	require.NoError(t, err)
	assert.Equal(t, "boom", res.Err().Message)

	_, err = DecodeResult([]byte(`{"returnValue":"{oops","error":null}`))
	assert.ErrorIs(t, err, ErrMalformedResult)
}

func TestUnmarshalMatchesDecodeResult(t *testing.T) {
	for _, r := range []InvocationResult{
		Success(json.RawMessage(`[1,"two"]`)),
		Success(nil),
		Failuref(InvalidFunctionDefinition, "no such method"),
		Failuref(InternalError, "crashed"),
	} {
		data, err := json.Marshal(r)
		require.NoError(t, err)

		var viaJSON InvocationResult
		require.NoError(t, json.Unmarshal(data, &viaJSON))
		decoded, err := DecodeResult(data)
		require.NoError(t, err)
		assert.Equal(t, decoded, viaJSON)
		assert.Equal(t, r.String(), decoded.String())
	}
}
