package platform

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"awardbot/internal/retry"
)

// Kind classifies a platform failure.
type Kind string

const (
	KindRateLimited Kind = "rate_limited"
	KindTransient   Kind = "transient"
	KindAuth        Kind = "auth"
	KindValidation  Kind = "validation"
	KindUnknown     Kind = "unknown"
)

// Error is returned by publishers for every remote failure.
type Error struct {
	Platform   string
	Kind       Kind
	StatusCode int
	RetryAfter time.Duration
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Platform, e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Platform, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

var _ retry.DelayHinter = (*Error)(nil)

// RetryDelay is the wait the platform asked for, zero when it named none.
func (e *Error) RetryDelay() time.Duration { return e.RetryAfter }

// Retryable reports whether another attempt may succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindRateLimited || e.Kind == KindTransient
}

// IsRetryable reports whether err is a retryable platform error. Errors that
// are not *Error are treated as permanent.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return false
}

// KindOf returns the kind of err, KindUnknown when it is not classified.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// KindForStatus maps an HTTP status code to a failure kind.
func KindForStatus(code int) Kind {
	switch {
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth
	case code == http.StatusRequestTimeout || code >= 500:
		return KindTransient
	case code >= 400:
		return KindValidation
	default:
		return KindUnknown
	}
}

// StatusError builds an Error from an HTTP response status and body excerpt.
func StatusError(platform string, code int, header http.Header, body string) *Error {
	e := &Error{
		Platform:   platform,
		Kind:       KindForStatus(code),
		StatusCode: code,
		Message:    truncateBody(body),
	}
	if header != nil {
		e.RetryAfter = parseRetryAfter(header.Get("Retry-After"))
	}
	return e
}

// NetworkError wraps a transport failure. Context cancellation stays
// permanent so an expired publish is not retried.
func NetworkError(platform string, err error) *Error {
	kind := KindTransient
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		kind = KindUnknown
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() && !errors.Is(err, context.DeadlineExceeded) {
		kind = KindTransient
	}
	return &Error{Platform: platform, Kind: kind, Err: err}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncateBody(s string) string {
	return Truncate(s, 300)
}
