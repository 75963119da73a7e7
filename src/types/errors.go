package types

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when a correlated call's deadline elapses
	// before the server acknowledges it. The call is not retried.
	ErrTimeout = errors.New("request timed out")

	// ErrQueueDiscarded rejects every pending and queued operation when
	// the client is closed while work is still outstanding.
	ErrQueueDiscarded = errors.New("connection closed, queued operations discarded")

	// ErrClosed is returned for operations on a permanently closed client.
	ErrClosed = errors.New("client is closed")

	// ErrNotConnected is returned when queueing is disabled and an
	// operation is issued while disconnected.
	ErrNotConnected = errors.New("not connected")
)

// ConnectionError is a transport-level failure. It drives the backoff
// machinery and is surfaced to subscribers, not to individual callers.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return "connection error during " + e.Op
	}
	return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ServerError is an explicit error payload in a reply frame, surfaced
// verbatim to the caller of the failed operation.
type ServerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ServerError) Error() string {
	if e.Code == "" {
		return "server error: " + e.Message
	}
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}
