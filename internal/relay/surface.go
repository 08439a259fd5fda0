package relay

import (
	"context"
	"time"

	"github.com/chatrelay/chatrelay/internal/locator"
)

// Request is one prompt to relay through the shared browser session.
// Immutable after creation.
type Request struct {
	ID      string
	Prompt  string
	Timeout time.Duration
	NewChat bool
}

// Surface is the set of page observations and gestures the relay core
// needs. The chromedp-backed implementation lives in internal/browser;
// tests substitute fakes.
type Surface interface {
	// Resolve locates a semantic role on the page. Absence is (zero,
	// false, nil), not an error.
	Resolve(ctx context.Context, role locator.Role) (locator.Match, bool, error)

	// SetComposerText replaces the resolved composer's content.
	SetComposerText(ctx context.Context, m locator.Match, text string) error

	// Activate clicks the resolved element.
	Activate(ctx context.Context, m locator.Match) error

	// KeySubmit issues the keyboard submit gesture on the resolved composer.
	KeySubmit(ctx context.Context, m locator.Match) error

	// MessageCount returns how many assistant messages are rendered.
	MessageCount(ctx context.Context) (int, error)

	// MessageText returns the text content of the assistant message at
	// index (zero-based, document order). Out-of-range reads return "".
	MessageText(ctx context.Context, index int) (string, error)

	// Location returns the page's current URL.
	Location(ctx context.Context) (string, error)
}

// Session supplies the single shared page to the relay pipeline.
type Session interface {
	// Surface returns the live page surface, recreating the page if it
	// was closed since the last request.
	Surface(ctx context.Context) (Surface, error)

	// StartNewConversation forces a fresh conversation context, navigating
	// to the base location only if not already there.
	StartNewConversation(ctx context.Context) error
}
