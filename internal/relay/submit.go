package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chatrelay/chatrelay/internal/locator"
)

// composerWait bounds how long Submit waits for the prompt input to become
// visible before giving up on the page structure.
const composerWait = 10 * time.Second

// Submitter places prompt text into the composer and triggers submission.
// Submission is "issued", never "accepted": acceptance is verified by the
// completion detector, so Submit never blocks past its own bounded wait.
type Submitter struct {
	pollInterval time.Duration
	wait         time.Duration
	logger       *slog.Logger
}

// NewSubmitter creates a submitter polling at the given interval.
func NewSubmitter(pollInterval time.Duration, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{pollInterval: pollInterval, wait: composerWait, logger: logger}
}

// Submit enters promptText and triggers submission. It returns the number
// of assistant messages rendered before submission; the detector uses that
// count as the anchor to identify which message is this request's reply.
func (s *Submitter) Submit(ctx context.Context, ui Surface, promptText string) (beforeCount int, err error) {
	composer, err := s.awaitComposer(ctx, ui)
	if err != nil {
		return 0, err
	}

	// Anchor before anything renders: the reply is the first assistant
	// message past this count.
	beforeCount, err = ui.MessageCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}

	if err := ui.SetComposerText(ctx, composer, promptText); err != nil {
		return 0, fmt.Errorf("set composer text: %w", err)
	}

	send, visible, err := ui.Resolve(ctx, locator.RoleSend)
	if err != nil {
		return 0, err
	}
	if visible && send.Probe.Enabled {
		if err := ui.Activate(ctx, send); err != nil {
			return 0, fmt.Errorf("%w: activate send control: %v", ErrSubmissionFailed, err)
		}
		return beforeCount, nil
	}

	// No actionable send control; fall back to the keyboard gesture on the
	// composer itself.
	s.logger.Debug("Send control not actionable, using keyboard submit")
	if err := ui.KeySubmit(ctx, composer); err != nil {
		return 0, fmt.Errorf("%w: keyboard submit: %v", ErrSubmissionFailed, err)
	}
	return beforeCount, nil
}

func (s *Submitter) awaitComposer(ctx context.Context, ui Surface) (locator.Match, error) {
	p := newPoller(s.pollInterval, time.Now().Add(s.wait))
	for {
		m, visible, err := ui.Resolve(ctx, locator.RoleComposer)
		if err != nil {
			return locator.Match{}, err
		}
		if visible {
			return m, nil
		}
		if err := p.wait(ctx); err != nil {
			if err == errDeadline {
				return locator.Match{}, ErrComposerNotFound
			}
			return locator.Match{}, err
		}
	}
}
