package directory

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Fetcher retrieves the full user collection in a single round trip. It never
// caches and never retries; callers decide when to ask again.
type Fetcher interface {
	FetchAllUsers(ctx context.Context) ([]User, error)
}

// FallbackMessage is shown when a failure carries no readable text.
const FallbackMessage = "Failed to load users"

// Kind classifies fetch failures.
type Kind string

const (
	KindNetwork   Kind = "network"
	KindBackend   Kind = "backend"
	KindMalformed Kind = "malformed_response"
)

// FetchError describes why FetchAllUsers failed. Error returns text meant for
// display; Cause keeps the underlying error for logs.
type FetchError struct {
	Kind       Kind
	Message    string
	StatusCode int
	Cause      error
}

func (e *FetchError) Error() string {
	return e.Message
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

func networkError(cause error) *FetchError {
	msg := "users backend unreachable"
	if isTimeout(cause) {
		msg = "timeout"
	}
	return &FetchError{Kind: KindNetwork, Message: msg, Cause: cause}
}

// isTimeout reports whether err is a context deadline or a transport timeout,
// which covers http.Client.Timeout expiring during Do or while reading the body.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func backendError(status int, extracted string) *FetchError {
	msg := strings.TrimSpace(extracted)
	if msg == "" {
		msg = fmt.Sprintf("users backend returned status %d", status)
	}
	return &FetchError{Kind: KindBackend, Message: msg, StatusCode: status}
}

func malformedError(detail string, cause error) *FetchError {
	return &FetchError{
		Kind:    KindMalformed,
		Message: "users backend returned a malformed response: " + detail,
		Cause:   cause,
	}
}

// Message extracts display text from a fetch failure.
func Message(err error) string {
	if err == nil {
		return FallbackMessage
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return FallbackMessage
}

// KindOf reports the failure class of err, or "" when err is not a FetchError.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
