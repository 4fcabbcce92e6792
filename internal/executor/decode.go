package executor

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/buger/jsonparser"
)

var knownKinds = map[ErrorKind]bool{
	InvalidFunctionDefinition: true,
	UserCodeFailure:           true,
	InternalError:             true,
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedResult, fmt.Sprintf(format, args...))
}

// field returns the value of key and whether it is present and not null.
func field(data []byte, key string) ([]byte, jsonparser.ValueType, bool, error) {
	value, typ, _, err := jsonparser.Get(data, key)
	if errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return nil, jsonparser.NotExist, false, nil
	}
	if err != nil {
		return nil, typ, false, malformed("field %s: %v", key, err)
	}
	return value, typ, typ != jsonparser.Null, nil
}

// DecodeResult parses a response frame. It is the only decoder of the
// response format; InvocationResult.UnmarshalJSON goes through it.
func DecodeResult(data []byte) (InvocationResult, error) {
	if len(data) == 0 {
		return InvocationResult{}, malformed("empty response")
	}
	if !json.Valid(data) {
		return InvocationResult{}, malformed("response is not valid JSON")
	}

	value, valueType, hasValue, err := field(data, "returnValue")
	if err != nil {
		return InvocationResult{}, err
	}
	errObj, errType, hasErr, err := field(data, "error")
	if err != nil {
		return InvocationResult{}, err
	}

	switch {
	case hasValue && hasErr:
		return InvocationResult{}, malformed("both return value and error are set")
	case !hasValue && !hasErr:
		return InvocationResult{}, malformed("neither return value nor error is set")
	case hasValue:
		if valueType != jsonparser.String {
			return InvocationResult{}, malformed("return value is a %s, not a string", valueType)
		}
		s, err := jsonparser.ParseString(value)
		if err != nil || !json.Valid([]byte(s)) {
			return InvocationResult{}, malformed("return value is not serialized JSON")
		}
		return Success(json.RawMessage(s)), nil
	}

	if errType != jsonparser.Object {
		return InvocationResult{}, malformed("error is a %s, not an object", errType)
	}
	kind, _ := jsonparser.GetString(errObj, "kind")
	message, _ := jsonparser.GetString(errObj, "message")
	if !knownKinds[ErrorKind(kind)] {
		return InvocationResult{}, malformed("unknown error kind %q", kind)
	}
	return Failure(&InvocationError{Kind: ErrorKind(kind), Message: message}), nil
}
