package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// StatusClass buckets provider HTTP status codes by how the pipeline reacts.
type StatusClass int

const (
	ClassSuccess StatusClass = iota
	// ClassAuth is an invalid or revoked credential. The run stops.
	ClassAuth
	// ClassRateLimit is a 429. Retried with the fixed delay schedule.
	ClassRateLimit
	// ClassOverload is a 529 or 503. Retried like a rate limit.
	ClassOverload
	ClassServer
	ClassClient
	// ClassNetwork is a transport failure with no status code.
	ClassNetwork
)

func (c StatusClass) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassAuth:
		return "auth"
	case ClassRateLimit:
		return "rate_limit"
	case ClassOverload:
		return "overload"
	case ClassServer:
		return "server"
	case ClassClient:
		return "client"
	case ClassNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// ClassifyStatus maps an HTTP status code to a StatusClass. Zero means no
// response was received.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code == 0:
		return ClassNetwork
	case code >= 200 && code < 300:
		return ClassSuccess
	case code == 401 || code == 403:
		return ClassAuth
	case code == 429:
		return ClassRateLimit
	case code == 529 || code == 503:
		return ClassOverload
	case code >= 500:
		return ClassServer
	default:
		return ClassClient
	}
}

// StatusError is a non-success response from an external provider.
type StatusError struct {
	Provider string
	Code     int
	Class    StatusClass
	Body     string
	Err      error
}

// NewStatusError classifies code and wraps cause.
func NewStatusError(provider string, code int, body string, cause error) *StatusError {
	return &StatusError{
		Provider: provider,
		Code:     code,
		Class:    ClassifyStatus(code),
		Body:     body,
		Err:      cause,
	}
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s: status %d (%s)", e.Provider, e.Code, e.Class)
	if e.Body != "" {
		msg += ": " + truncate(e.Body, 300)
	}
	return msg
}

func (e *StatusError) Unwrap() error { return e.Err }

// ClassOf returns the StatusClass carried anywhere in err's chain, or
// ClassNetwork for transport errors, or ClassClient otherwise.
func ClassOf(err error) StatusClass {
	if err == nil {
		return ClassSuccess
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Class
	}
	if isNetworkError(err) {
		return ClassNetwork
	}
	return ClassClient
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool { return ClassOf(err) == ClassAuth }

// IsRateLimitOrOverload is the retry predicate for research calls.
func IsRateLimitOrOverload(err error) bool {
	c := ClassOf(err)
	return c == ClassRateLimit || c == ClassOverload
}

// IsServerOrNetwork is the circuit breaker's trip predicate: 5xx responses
// other than overloads, and transport failures. Rate limits and overloads are
// already absorbed by the retry schedule.
func IsServerOrNetwork(err error) bool {
	c := ClassOf(err)
	return c == ClassServer || c == ClassNetwork
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
