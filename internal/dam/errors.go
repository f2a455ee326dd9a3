package dam

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// Kind classifies a failed DAM call.
type Kind int

const (
	KindUnknown Kind = iota
	KindTimeout
	KindConnection
	KindClient
	KindServer
	KindNotFound
	KindAuthorization
	KindInvalidCredentials
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnection:
		return "connection"
	case KindClient:
		return "client"
	case KindServer:
		return "server"
	case KindNotFound:
		return "not_found"
	case KindAuthorization:
		return "authorization"
	case KindInvalidCredentials:
		return "invalid_credentials"
	default:
		return "unknown"
	}
}

// Error is returned by every Client method that fails.
type Error struct {
	Kind   Kind
	Status int // HTTP status, 0 when no response was received
	Op     string
	Err    error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("dam %s: %s (status %d): %v", e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("dam %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

func statusError(op string, status int, body []byte) *Error {
	err := fmt.Errorf("unexpected response: %s", truncate(body, 256))
	switch {
	case status == http.StatusNotFound:
		return &Error{Kind: KindNotFound, Status: status, Op: op, Err: err}
	case status == http.StatusRequestTimeout:
		return &Error{Kind: KindTimeout, Status: status, Op: op, Err: err}
	case status == http.StatusUnauthorized:
		return &Error{Kind: KindAuthorization, Status: status, Op: op, Err: err}
	case status >= 400 && status < 500:
		return &Error{Kind: KindClient, Status: status, Op: op, Err: err}
	case status >= 500:
		return &Error{Kind: KindServer, Status: status, Op: op, Err: err}
	default:
		return &Error{Kind: KindUnknown, Status: status, Op: op, Err: err}
	}
}

// transportError classifies a failure that produced no HTTP response.
func transportError(op string, err error) *Error {
	if kind, status, ok := networkFailure(err); ok {
		return &Error{Kind: kind, Status: status, Op: op, Err: err}
	}
	return &Error{Kind: KindUnknown, Op: op, Err: err}
}

// networkFailure reports whether err came from the network rather than from
// a response. Failing to reach the host, including a connect timeout, is a
// connection error; a timeout on an established exchange is a 408.
func networkFailure(err error) (Kind, int, bool) {
	var dnsErr *net.DNSError
	var opErr *net.OpError
	if errors.As(err, &dnsErr) || (errors.As(err, &opErr) && opErr.Op == "dial") || errors.Is(err, syscall.ECONNREFUSED) {
		return KindConnection, 0, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout, http.StatusRequestTimeout, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout, http.StatusRequestTimeout, true
	}
	if opErr != nil {
		return KindConnection, 0, true
	}
	return KindUnknown, 0, false
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
