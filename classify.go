package livra

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/howk27/livra-sub000/internal/remote"
)

// ErrorClass partitions failures by retry policy. Transient classes are
// swallowed after logging and retried on the next sync trigger; permanent
// errors propagate to the caller.
type ErrorClass int

const (
	// ClassPermanent covers schema, validation, and authorization
	// failures, plus anything unrecognized.
	ClassPermanent ErrorClass = iota

	// ClassTransientNetwork covers connectivity loss, DNS failures, and
	// gateway error pages.
	ClassTransientNetwork

	// ClassTransientTimeout covers statement timeouts, deadlines, and
	// aborted calls.
	ClassTransientTimeout
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransientNetwork:
		return "transient-network"
	case ClassTransientTimeout:
		return "transient-timeout"
	default:
		return "permanent"
	}
}

// Transient reports whether the class is auto-retried silently.
func (c ErrorClass) Transient() bool {
	return c == ClassTransientNetwork || c == ClassTransientTimeout
}

// UserMessage maps the class to a message fit for the UI layer.
func (c ErrorClass) UserMessage() string {
	switch c {
	case ClassTransientNetwork:
		return "No connection. Your changes are saved and will sync when you're back online."
	case ClassTransientTimeout:
		return "The server is taking too long. Sync will retry shortly."
	default:
		return "Sync failed. Please try again or contact support if it persists."
	}
}

// Classify maps an error from a sync operation to its retry class.
// It is a pure function over the error value.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassPermanent
	}

	// Cancellation and deadline races resolve as timeout-transient: the
	// caller gave up waiting, the work itself may still be fine.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassTransientTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ClassTransientTimeout
		}
		return ClassTransientNetwork
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ClassTransientNetwork
	}

	var apiErr *remote.APIError
	if errors.As(err, &apiErr) {
		return classifyAPI(apiErr)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "network is unreachable"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "failed to fetch"):
		return ClassTransientNetwork
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "timed out"),
		strings.Contains(msg, "aborted"):
		return ClassTransientTimeout
	}

	return ClassPermanent
}

func classifyAPI(apiErr *remote.APIError) ErrorClass {
	// Statement timeout surfaces as a backend error code, not a transport
	// timeout.
	if apiErr.Code == remote.CodeStatementTimeout {
		return ClassTransientTimeout
	}

	// Overloaded gateways answer with HTML error pages instead of JSON.
	if looksLikeHTML(apiErr.Body) {
		return ClassTransientNetwork
	}

	switch apiErr.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return ClassTransientNetwork
	case http.StatusRequestTimeout:
		return ClassTransientTimeout
	}

	return ClassPermanent
}

func looksLikeHTML(body string) bool {
	trimmed := strings.TrimSpace(strings.ToLower(body))
	return strings.HasPrefix(trimmed, "<!doctype html") ||
		strings.HasPrefix(trimmed, "<html") ||
		strings.Contains(trimmed, "<body")
}
