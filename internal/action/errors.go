package action

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc/codes"
)

// Kind is a machine-readable failure category for a dispatched action.
type Kind string

const (
	KindUnknown         Kind = "unknown"
	KindDuplicateAction Kind = "duplicate_action"
	KindUnknownAction   Kind = "unknown_action"
	KindInvalidArgument Kind = "invalid_argument"
	KindSerialization   Kind = "serialization"
	KindDeserialization Kind = "deserialization"
	KindSchemaMismatch  Kind = "schema_mismatch"
	KindTransport       Kind = "transport"
	KindRemoteExecution Kind = "remote_execution"
	KindTimeout         Kind = "timeout"
)

// GRPCCode maps a failure kind to the gRPC status code used when the failure
// crosses a gRPC boundary.
func (k Kind) GRPCCode() codes.Code {
	switch k {
	case KindInvalidArgument, KindSerialization:
		return codes.InvalidArgument
	case KindUnknownAction:
		return codes.NotFound
	case KindDuplicateAction:
		return codes.AlreadyExists
	case KindDeserialization, KindSchemaMismatch:
		return codes.DataLoss
	case KindTransport:
		return codes.Unavailable
	case KindRemoteExecution:
		return codes.Aborted
	case KindTimeout:
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

// Error is the failure type produced by the dispatch core. Handler errors are
// not wrapped in it; they reach the caller unchanged.
type Error struct {
	Kind    Kind
	Action  Identifier
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "action error"
	}
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches another *Error by kind so that errors.Is(err, &Error{Kind: k})
// works without comparing messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return t.Kind == e.Kind && (t.Action == "" || t.Action == e.Action)
}

// KindOf extracts the failure kind from any error. Errors that are not
// produced by the dispatch core report KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given failure kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func DuplicateActionError(id Identifier) *Error {
	return &Error{
		Kind:    KindDuplicateAction,
		Action:  id,
		Message: fmt.Sprintf("action [%s] is already registered", id),
	}
}

func UnknownActionError(id Identifier) *Error {
	return &Error{
		Kind:    KindUnknownAction,
		Action:  id,
		Message: fmt.Sprintf("failed to find action [%s] to execute", id),
	}
}

// InvalidArgumentError carries the validation message verbatim.
func InvalidArgumentError(id Identifier, cause error) *Error {
	return &Error{
		Kind:    KindInvalidArgument,
		Action:  id,
		Message: cause.Error(),
	}
}

func SerializationError(schema string, cause error) *Error {
	return &Error{
		Kind:    KindSerialization,
		Message: fmt.Sprintf("serialize %s", schema),
		Err:     cause,
	}
}

func DeserializationError(schema string, cause error) *Error {
	return &Error{
		Kind:    KindDeserialization,
		Message: fmt.Sprintf("deserialize %s", schema),
		Err:     cause,
	}
}

func SchemaMismatchError(expected, got string) *Error {
	return &Error{
		Kind:    KindSchemaMismatch,
		Message: fmt.Sprintf("expected message of type [%s] but got [%s]", expected, got),
	}
}

func TransportError(id Identifier, peer string, cause error) *Error {
	return &Error{
		Kind:    KindTransport,
		Action:  id,
		Message: fmt.Sprintf("send action [%s] to peer %s", id, peer),
		Err:     cause,
	}
}

// RemoteExecutionError reports that the peer ran the action and it failed.
func RemoteExecutionError(id Identifier, description string) *Error {
	return &Error{
		Kind:    KindRemoteExecution,
		Action:  id,
		Message: description,
	}
}

func TimeoutError(id Identifier, after time.Duration) *Error {
	msg := "action timed out"
	if id != "" {
		msg = fmt.Sprintf("action [%s] timed out", id)
	}
	if after > 0 {
		msg = fmt.Sprintf("%s after %s", msg, after)
	}
	return &Error{
		Kind:    KindTimeout,
		Action:  id,
		Message: msg,
	}
}
