package backend

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when the backend rejects the session token.
// Callers treat it as a global sign-out signal rather than a local failure.
var ErrUnauthorized = errors.New("unauthorized")

type ErrorKind string

const (
	// KindFetch covers paged history, room list and unread-count reads.
	KindFetch ErrorKind = "fetch"
	// KindSend covers message send requests.
	KindSend ErrorKind = "send"
	// KindAction covers join/leave/delete/create and mark-as-read requests.
	KindAction ErrorKind = "action"
)

type BackendError struct {
	Kind       ErrorKind
	Op         string
	StatusCode int
	Err        error
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Kind, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

func NewFetchError(op string, statusCode int, err error) *BackendError {
	return &BackendError{Kind: KindFetch, Op: op, StatusCode: statusCode, Err: err}
}

func NewSendError(op string, statusCode int, err error) *BackendError {
	return &BackendError{Kind: KindSend, Op: op, StatusCode: statusCode, Err: err}
}

func NewActionError(op string, statusCode int, err error) *BackendError {
	return &BackendError{Kind: KindAction, Op: op, StatusCode: statusCode, Err: err}
}

// IsKind reports whether err is a BackendError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Kind == kind
	}
	return false
}
