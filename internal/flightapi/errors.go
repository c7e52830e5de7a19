package flightapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// ErrNotFound is returned when the API answers with no matching flight
var ErrNotFound = errors.New("flight not found")

// Sentinels matched by errors.Is against an *Error of the same kind
var (
	ErrNetwork = errors.New("network error")
	ErrAPI     = errors.New("api error")
	ErrUnknown = errors.New("unknown error")
)

// Kind classifies a failed API call
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindAPI
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAPI:
		return "api"
	default:
		return "unknown"
	}
}

// Error is a classified API failure
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("flight api %s error: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("flight api %s error: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrAPI:
		return e.Kind == KindAPI
	case ErrUnknown:
		return e.Kind == KindUnknown
	}
	return false
}

// classifyTransport maps an error from the HTTP round trip to an *Error
func classifyTransport(err error) *Error {
	if isNetwork(err) {
		return &Error{Kind: KindNetwork, Detail: "request failed", Err: err}
	}
	return &Error{Kind: KindUnknown, Detail: "request failed", Err: err}
}

func isNetwork(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
