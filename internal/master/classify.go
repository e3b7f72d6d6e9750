package master

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ConnectFailure is the user-facing category of a failed master connection.
type ConnectFailure int

const (
	FailureGeneric ConnectFailure = iota
	FailureRefused
	FailureUnknownHost
	FailureTimeout
	FailureInvalidAddress
)

func (f ConnectFailure) String() string {
	switch f {
	case FailureRefused:
		return "refused"
	case FailureUnknownHost:
		return "unknown_host"
	case FailureTimeout:
		return "timeout"
	case FailureInvalidAddress:
		return "invalid_address"
	default:
		return "generic"
	}
}

// Message is the short text shown to the user for this category.
func (f ConnectFailure) Message() string {
	switch f {
	case FailureRefused:
		return "Connection refused. Is the master running?"
	case FailureUnknownHost:
		return "Unknown host."
	case FailureTimeout:
		return "The master did not answer in time."
	case FailureInvalidAddress:
		return "Invalid master URI."
	default:
		return "Cannot connect to the master."
	}
}

// ConnectError wraps a transport failure with its classification.
type ConnectError struct {
	Endpoint Endpoint
	Kind     ConnectFailure
	Err      error
}

func NewConnectError(ep Endpoint, err error) *ConnectError {
	return &ConnectError{Endpoint: ep, Kind: ClassifyConnectError(err), Err: err}
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("master: connect %s: %s: %v", e.Endpoint.String(), e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ClassifyConnectError maps a dial/request error onto a ConnectFailure.
func ClassifyConnectError(err error) ConnectFailure {
	if err == nil {
		return FailureGeneric
	}
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, ErrInvalidAddress) {
		return FailureInvalidAddress
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return FailureRefused
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return FailureTimeout
		}
		return FailureUnknownHost
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "econnrefused"), strings.Contains(msg, "connection refused"):
		return FailureRefused
	case strings.Contains(msg, "unknownhost"), strings.Contains(msg, "no such host"):
		return FailureUnknownHost
	case strings.Contains(msg, "timeout"):
		return FailureTimeout
	}
	return FailureGeneric
}
