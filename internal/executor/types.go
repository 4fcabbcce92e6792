package executor

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/serverledge-faas/smartlambda/internal/function"
)

// ErrorKind classifies why an invocation did not produce a return value.
type ErrorKind string

const (
	// InvalidFunctionDefinition: unresolvable entry point, bad parameter shape,
	// failed instantiation. Never retried.
	InvalidFunctionDefinition ErrorKind = "InvalidFunctionDefinition"
	// UserCodeFailure: the function itself returned an error or panicked.
	UserCodeFailure ErrorKind = "UserCodeFailure"
	// InternalError: transport or protocol failure around the worker.
	InternalError ErrorKind = "InternalError"
)

// InvocationError describes a failed invocation.
type InvocationError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func NewInvocationError(kind ErrorKind, format string, args ...interface{}) *InvocationError {
	return &InvocationError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// InvocationRequest is the payload of the input frame sent to a worker.
type InvocationRequest struct {
	function.Identifier
	HasParameter   bool   `json:"hasParameter"`
	ParameterClass string `json:"parameterClass,omitempty"`
	Parameter      []byte `json:"parameter,omitempty"`
}

func (r *InvocationRequest) String() string {
	return r.Identifier.String()
}

// InvocationResult holds exactly one of a serialized return value or an error.
// The zero value is not a valid result; use Success or Failure.
type InvocationResult struct {
	returnValue json.RawMessage
	err         *InvocationError
}

// Success builds a result carrying the serialized return value. A nil value
// is stored as the JSON literal null.
func Success(value json.RawMessage) InvocationResult {
	if len(value) == 0 {
		value = json.RawMessage("null")
	}
	return InvocationResult{returnValue: value}
}

// Failure builds an error result. A nil error is turned into an InternalError
// so that a result is never empty.
func Failure(err *InvocationError) InvocationResult {
	if err == nil {
		err = NewInvocationError(InternalError, "missing error description")
	}
	return InvocationResult{err: err}
}

// Failuref is a shorthand for Failure(NewInvocationError(...)).
func Failuref(kind ErrorKind, format string, args ...interface{}) InvocationResult {
	return Failure(NewInvocationError(kind, format, args...))
}

// ReturnValue returns the serialized value and true, or nil and false for an error result.
func (r InvocationResult) ReturnValue() (json.RawMessage, bool) {
	if r.err != nil {
		return nil, false
	}
	return r.returnValue, r.returnValue != nil
}

// Err returns the invocation error, or nil for a successful result.
func (r InvocationResult) Err() *InvocationError {
	return r.err
}

func (r InvocationResult) Failed() bool {
	return r.err != nil
}

// Valid reports whether exactly one of return value and error is set.
func (r InvocationResult) Valid() bool {
	return (r.returnValue != nil) != (r.err != nil)
}

func (r InvocationResult) String() string {
	if r.err != nil {
		return r.err.Error()
	}
	return string(r.returnValue)
}

// wireResult is the response frame. The return value travels as a string
// holding its serialized form, so that a function returning nothing ("null")
// can be told apart from an error response.
type wireResult struct {
	ReturnValue *string          `json:"returnValue"`
	Error       *InvocationError `json:"error"`
}

var ErrMalformedResult = errors.New("malformed invocation result")

func (r InvocationResult) MarshalJSON() ([]byte, error) {
	if !r.Valid() {
		return nil, ErrMalformedResult
	}
	w := wireResult{Error: r.err}
	if r.err == nil {
		s := string(r.returnValue)
		w.ReturnValue = &s
	}
	return json.Marshal(w)
}

func (r *InvocationResult) UnmarshalJSON(data []byte) error {
	res, err := DecodeResult(data)
	if err != nil {
		return err
	}
	*r = res
	return nil
}
