package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/linearmanager/lm/internal/manifest"
)

// Sentinel errors returned by RemoteClient implementations and the engine.
var (
	ErrUnauthorized     = errors.New("unauthorized: check the API key")
	ErrNotFound         = errors.New("not found")
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// ValidationError is malformed or contradictory manifest input.
type ValidationError = manifest.ValidationError

// RateLimitedError means the remote tracker throttled the request.
// RetryAfter is zero when the tracker gave no hint.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s)", e.RetryAfter)
	}
	return "rate limited"
}

// TransportError wraps network failures and call timeouts.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ServerError is a 5xx answer or a malformed response from the tracker.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	if e.StatusCode == 0 {
		return "server error: " + e.Message
	}
	return fmt.Sprintf("server error (HTTP %d): %s", e.StatusCode, e.Message)
}

// Resolution kinds.
const (
	KindTeam      = "team"
	KindState     = "state"
	KindLabel     = "label"
	KindMember    = "member"
	KindProject   = "project"
	KindParent    = "parent"
	KindDoneState = "done state"
)

// ResolutionError means a symbolic name has no remote counterpart. The
// message lists the valid alternatives so the user can fix the manifest.
type ResolutionError struct {
	Kind      string
	Names     []string
	Team      string
	Available []string
}

func (e *ResolutionError) Error() string {
	quoted := make([]string, len(e.Names))
	for i, n := range e.Names {
		quoted[i] = fmt.Sprintf("%q", n)
	}
	names := strings.Join(quoted, ", ")
	available := "none"
	if len(e.Available) > 0 {
		available = strings.Join(e.Available, ", ")
	}

	switch e.Kind {
	case KindTeam:
		return fmt.Sprintf("unknown team %s", names)
	case KindParent:
		return fmt.Sprintf("parent issue %s not found", names)
	case KindDoneState:
		return fmt.Sprintf("team %s has no completed workflow state (available states: %s)", e.Team, available)
	}
	kind := e.Kind
	if len(e.Names) > 1 {
		kind += "s"
	}
	return fmt.Sprintf("unknown %s %s for team %s (available: %s)", kind, names, e.Team, available)
}

// IsRetryable reports whether err is environmental and worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var rl *RateLimitedError
	var te *TransportError
	var se *ServerError
	switch {
	case errors.As(err, &rl), errors.As(err, &te), errors.As(err, &se):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}

// retryAfter extracts the rate-limit hint from err, if any.
func retryAfter(err error) time.Duration {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}
