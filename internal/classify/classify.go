// Package classify maps fetch and persistence failures onto retry classes.
package classify

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"syscall"
)

// Kind is a descriptive tag for a failure.
type Kind string

const (
	KindNetwork              Kind = "NETWORK_ERROR"
	KindTimeout              Kind = "TIMEOUT"
	KindAuthenticationFailed Kind = "AUTHENTICATION_FAILED"
	KindPermissionDenied     Kind = "PERMISSION_DENIED"
	KindResourceNotFound     Kind = "RESOURCE_NOT_FOUND"
	KindRateLimit            Kind = "RATE_LIMIT"
	KindInvalidConfiguration Kind = "INVALID_CONFIGURATION"
	KindUnknown              Kind = "UNKNOWN"
)

// Class decides retry eligibility.
type Class string

const (
	// ClassRateLimit stops processing with no automatic retry.
	ClassRateLimit Class = "RATE_LIMIT"
	// ClassTransient is retried by the job queue with backoff.
	ClassTransient Class = "TRANSIENT"
	// ClassPermanent fails the channel immediately.
	ClassPermanent Class = "PERMANENT"
)

type Result struct {
	Kind  Kind  `json:"kind"`
	Class Class `json:"class"`
}

func (r Result) Retryable() bool {
	return r.Class == ClassTransient
}

// ErrInvalidConfiguration marks failures caused by a broken setup (missing
// adapter, bad token format) that retrying cannot fix.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// StatusCoder is implemented by errors carrying an upstream HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// RateLimiter is implemented by errors that carry an adapter-specific
// rate-limit marker.
type RateLimiter interface {
	RateLimited() bool
}

type rule struct {
	result Result
	match  func(err error, msg string, status int) bool
}

// Order is precedence.
var rules = []rule{
	{Result{KindRateLimit, ClassRateLimit}, isRateLimit},
	{Result{KindNetwork, ClassTransient}, isNetwork},
	{Result{KindAuthenticationFailed, ClassPermanent}, func(_ error, msg string, status int) bool {
		return status == 401 || mentionsStatus(msg, 401) || containsAny(msg, "unauthorized", "invalid token", "invalid_auth", "not_authed", "token_revoked")
	}},
	{Result{KindPermissionDenied, ClassPermanent}, func(_ error, msg string, status int) bool {
		return status == 403 || mentionsStatus(msg, 403) || containsAny(msg, "forbidden", "missing access", "missing permissions", "missing_scope", "not_in_channel")
	}},
	{Result{KindResourceNotFound, ClassPermanent}, func(_ error, msg string, status int) bool {
		return status == 404 || mentionsStatus(msg, 404) || containsAny(msg, "not found", "unknown channel", "channel_not_found")
	}},
	{Result{KindInvalidConfiguration, ClassPermanent}, func(err error, msg string, _ int) bool {
		return errors.Is(err, ErrInvalidConfiguration) || strings.Contains(msg, "invalid configuration")
	}},
	{Result{KindTimeout, ClassTransient}, isTimeout},
}

// Classify is pure: the same error shape always yields the same Result.
// Unrecognised failures default to UNKNOWN/TRANSIENT.
func Classify(err error) Result {
	if err == nil {
		return Result{Kind: KindUnknown, Class: ClassTransient}
	}
	msg := strings.ToLower(err.Error())
	status := statusOf(err)
	for _, r := range rules {
		if r.match(err, msg, status) {
			return r.result
		}
	}
	return Result{Kind: KindUnknown, Class: ClassTransient}
}

func statusOf(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return 0
}

func isRateLimit(err error, msg string, status int) bool {
	var rl RateLimiter
	if errors.As(err, &rl) && rl.RateLimited() {
		return true
	}
	return status == 429 || mentionsStatus(msg, 429) || containsAny(msg, "rate limit", "rate-limit", "ratelimit", "too many requests")
}

func isNetwork(err error, msg string, _ int) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && !dnsErr.IsTimeout {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && !opErr.Timeout() {
		return true
	}
	return containsAny(msg, "econnrefused", "econnreset", "enotfound", "connection refused",
		"connection reset", "broken pipe", "no such host", "network is unreachable", "network error")
}

func isTimeout(err error, msg string, _ int) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return containsAny(msg, "timeout", "timed out", "etimedout", "deadline exceeded")
}

// mentionsStatus matches status codes only in an HTTP-ish phrase so that
// numeric ids embedded in messages are not mistaken for codes.
func mentionsStatus(msg string, code int) bool {
	c := strconv.Itoa(code)
	return containsAny(msg, "status "+c, "status code "+c, "status: "+c, "http "+c, "error "+c, "code "+c)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
