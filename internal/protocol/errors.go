// Package protocol defines the control-plane wire protocol: the typed error
// taxonomy, the length-prefixed JSON frame codec, and the command, reply and
// event envelopes exchanged between the gateway and its clients.
package protocol

import "fmt"

// ErrorKind classifies a command failure on the wire.
type ErrorKind string

const (
	KindAuthFailed     ErrorKind = "auth_failed"
	KindBadRequest     ErrorKind = "bad_request"
	KindNotFound       ErrorKind = "not_found"
	KindConflict       ErrorKind = "conflict"
	KindControllerHeld ErrorKind = "controller_held"
	KindBackpressure   ErrorKind = "backpressure"
	KindPTYStartFailed ErrorKind = "pty_start_failed"
	KindStorageError   ErrorKind = "storage_error"
	KindInternal       ErrorKind = "internal"
)

// Error is the typed failure carried in a command reply.
type Error struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// retryable reports whether a kind is worth retrying without operator
// intervention. backpressure and storage_error are transient; everything
// else is terminal for the command.
func retryable(kind ErrorKind) bool {
	switch kind {
	case KindBackpressure, KindStorageError:
		return true
	default:
		return false
	}
}

// NewError builds an Error with the kind's default retryability.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message, Retryable: retryable(kind)}
}

// Errorf builds an Error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return NewError(kind, fmt.Sprintf(format, args...))
}

// AsError coerces err into a protocol Error. Non-protocol errors become
// internal: a worker-task failure must never leak an untyped error to the
// wire.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if pe, ok := err.(*Error); ok {
		return pe
	}
	return NewError(KindInternal, err.Error())
}
