package relay

import (
	"errors"
	"fmt"
)

// Sentinel failures produced while driving the page. All of them are
// terminal for the current request only: the shared session and any queued
// requests survive, and no layer retries automatically.
var (
	// ErrComposerNotFound means the prompt input never became visible
	// within the submission wait. The UI structure is unrecognized.
	ErrComposerNotFound = errors.New("composer not found")

	// ErrSubmissionFailed means neither the send control nor the keyboard
	// fallback produced an actionable submit path.
	ErrSubmissionFailed = errors.New("no actionable submit path")

	// ErrTimeout means the overall deadline elapsed and the final read of
	// the response text came back empty.
	ErrTimeout = errors.New("timed out with no response text")

	// ErrQueueFull means the request was rejected at admission because the
	// pending queue is at capacity.
	ErrQueueFull = errors.New("request queue full")
)

// SessionExpiredError reports an authentication boundary observed mid-poll:
// either the page location moved to a login flow or a login control
// became visible.
type SessionExpiredError struct {
	Location string
}

func (e *SessionExpiredError) Error() string {
	if e.Location == "" {
		return "session expired: login control visible"
	}
	return fmt.Sprintf("session expired: page at %s", e.Location)
}

// UpstreamError reports an error banner surfaced by the target application,
// carrying the banner's text as detail.
type UpstreamError struct {
	Detail string
}

func (e *UpstreamError) Error() string {
	if e.Detail == "" {
		return "upstream error banner visible"
	}
	return fmt.Sprintf("upstream error: %s", e.Detail)
}

// Kind maps a relay failure to its taxonomy name for transport payloads and
// history records. Unknown errors map to "internal".
func Kind(err error) string {
	var sessErr *SessionExpiredError
	var upErr *UpstreamError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrComposerNotFound):
		return "composer_not_found"
	case errors.Is(err, ErrSubmissionFailed):
		return "submission_failed"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrQueueFull):
		return "queue_full"
	case errors.As(err, &sessErr):
		return "session_expired"
	case errors.As(err, &upErr):
		return "upstream_error"
	default:
		return "internal"
	}
}
