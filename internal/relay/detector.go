package relay

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/chatrelay/chatrelay/internal/locator"
)

// Phase is the completion detector's state. The happy path is
// AwaitingStart -> Generating -> Stabilizing -> Done; Failed and TimedOut
// are terminal from any non-terminal phase.
type Phase int

const (
	// PhaseAwaitingStart waits for the busy indicator to appear.
	PhaseAwaitingStart Phase = iota
	// PhaseGenerating waits for the busy indicator to disappear.
	PhaseGenerating
	// PhaseStabilizing polls response text until it stops changing.
	PhaseStabilizing
	// PhaseDone is terminal success.
	PhaseDone
	// PhaseFailed is a terminal classified failure.
	PhaseFailed
	// PhaseTimedOut means the overall deadline elapsed.
	PhaseTimedOut
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingStart:
		return "awaiting_start"
	case PhaseGenerating:
		return "generating"
	case PhaseStabilizing:
		return "stabilizing"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	case PhaseTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// startWindow bounds for PhaseAwaitingStart. Generation starts quickly when
// it starts at all, so this wait stays short no matter how generous the
// requested timeout is.
const (
	minStartWindow = 2 * time.Second
	maxStartWindow = 15 * time.Second
)

// authPathFragments mark page locations that belong to a login flow.
var authPathFragments = []string{"/auth", "/login", "/signin"}

// DetectorConfig holds completion-detection timing policy. The stability
// threshold is expressed as a multiple of the poll interval.
type DetectorConfig struct {
	PollInterval time.Duration
	StablePolls  int
}

// Detector decides, from observable UI signals only, when a reply has
// actually finished rendering. The target surface has no explicit done
// signal: a busy indicator, growing text, an occasional resume control and
// error banners must be reconciled into one terminal outcome.
type Detector struct {
	cfg     DetectorConfig
	logger  *slog.Logger
	onPhase func(requestID string, phase Phase)
}

// NewDetector creates a detector. onPhase, if non-nil, is invoked on every
// phase transition.
func NewDetector(cfg DetectorConfig, logger *slog.Logger, onPhase func(string, Phase)) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StablePolls < 2 {
		cfg.StablePolls = 2
	}
	return &Detector{cfg: cfg, logger: logger, onPhase: onPhase}
}

// detection is the per-request tracking state. At most one exists at a
// time; the queue guarantees that.
type detection struct {
	target   int // response message index, -1 until selected
	lastText string
	stable   int // consecutive identical non-empty reads, including the first
}

// Await polls the page until the reply anchored at anchor (the assistant
// message count captured before submission) reaches a terminal outcome.
//
// On deadline it takes one best-effort final read: non-empty partial text is
// returned as a success, because partial real content is more useful to the
// caller than no content. Only an empty final read yields ErrTimeout.
func (d *Detector) Await(ctx context.Context, ui Surface, requestID string, anchor int, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	st := &detection{target: -1}

	d.setPhase(requestID, PhaseAwaitingStart)
	if err := d.awaitStart(ctx, ui, deadline, timeout); err != nil {
		return "", err
	}

	d.setPhase(requestID, PhaseGenerating)
	text, settled, err := d.awaitQuiet(ctx, ui, requestID, st, anchor, deadline)
	if settled || err != nil {
		return d.finish(requestID, text, err)
	}

	d.setPhase(requestID, PhaseStabilizing)
	text, err = d.stabilize(ctx, ui, requestID, st, anchor, deadline)
	return d.finish(requestID, text, err)
}

func (d *Detector) finish(requestID, text string, err error) (string, error) {
	switch {
	case err == nil:
		d.setPhase(requestID, PhaseDone)
	case errors.Is(err, ErrTimeout):
		d.setPhase(requestID, PhaseTimedOut)
	default:
		d.setPhase(requestID, PhaseFailed)
	}
	return text, err
}

// awaitStart waits for the busy indicator to appear. If it never does
// within the start window the detector proceeds anyway: fast replies can
// finish before the indicator would even render, and failing here would
// turn every short answer into a false timeout.
func (d *Detector) awaitStart(ctx context.Context, ui Surface, deadline time.Time, timeout time.Duration) error {
	window := timeout / 10
	if window < minStartWindow {
		window = minStartWindow
	}
	if window > maxStartWindow {
		window = maxStartWindow
	}
	startDeadline := time.Now().Add(window)
	if startDeadline.After(deadline) {
		startDeadline = deadline
	}

	p := newPoller(d.cfg.PollInterval, startDeadline)
	for {
		_, busy, err := ui.Resolve(ctx, locator.RoleBusy)
		if err != nil {
			return err
		}
		if busy {
			return nil
		}
		if err := p.wait(ctx); err != nil {
			if err == errDeadline {
				d.logger.Debug("Busy indicator never appeared, proceeding", "window", window)
				return nil
			}
			return err
		}
	}
}

// awaitQuiet waits for the busy indicator to disappear. Disappearance is
// necessary but not sufficient: text may still be settling after the signal
// clears, so control passes to stabilize rather than returning.
// Error classification runs on each poll here too, so an auth redirect or a
// banner that interrupts generation is caught without waiting for the
// indicator to clear.
func (d *Detector) awaitQuiet(ctx context.Context, ui Surface, requestID string, st *detection, anchor int, deadline time.Time) (text string, settled bool, err error) {
	p := newPoller(d.cfg.PollInterval, deadline)
	for {
		if err := d.classify(ctx, ui); err != nil {
			return "", true, err
		}

		_, busy, err := ui.Resolve(ctx, locator.RoleBusy)
		if err != nil {
			return "", true, err
		}
		if !busy {
			return "", false, nil
		}

		if err := p.wait(ctx); err != nil {
			if err == errDeadline {
				text, err := d.finalRead(ctx, ui, requestID, st, anchor)
				return text, true, err
			}
			return "", true, err
		}
	}
}

// stabilize reads the response text at the poll interval until it holds
// still for the configured number of consecutive reads.
func (d *Detector) stabilize(ctx context.Context, ui Surface, requestID string, st *detection, anchor int, deadline time.Time) (string, error) {
	p := newPoller(d.cfg.PollInterval, deadline)
	for {
		if err := d.classify(ctx, ui); err != nil {
			return "", err
		}

		// A visible continuation control means the application paused the
		// reply mid-generation. Resume it and restart stability counting:
		// whatever text we saw so far is not the final text.
		cont, visible, err := ui.Resolve(ctx, locator.RoleContinue)
		if err != nil {
			return "", err
		}
		if visible {
			d.logger.Info("Activating continuation control", "request_id", requestID)
			if err := ui.Activate(ctx, cont); err != nil {
				return "", err
			}
			st.stable = 0
		} else {
			text, err := d.readResponse(ctx, ui, st, anchor)
			if err != nil {
				return "", err
			}
			if text != "" && text == st.lastText {
				st.stable++
				if st.stable >= d.cfg.StablePolls {
					return text, nil
				}
			} else {
				if text != "" {
					st.stable = 1
				} else {
					st.stable = 0
				}
				st.lastText = text
			}
		}

		if err := p.wait(ctx); err != nil {
			if err == errDeadline {
				return d.finalRead(ctx, ui, requestID, st, anchor)
			}
			return "", err
		}
	}
}

// classify checks for terminal fault signals: an authentication boundary
// (login control visible or auth-looking location) or a visible error
// banner. Both are immediately terminal; no retry happens here.
func (d *Detector) classify(ctx context.Context, ui Surface) error {
	_, loginVisible, err := ui.Resolve(ctx, locator.RoleLogin)
	if err != nil {
		return err
	}
	if loginVisible {
		return &SessionExpiredError{}
	}

	loc, err := ui.Location(ctx)
	if err != nil {
		return err
	}
	lower := strings.ToLower(loc)
	for _, frag := range authPathFragments {
		if strings.Contains(lower, frag) {
			return &SessionExpiredError{Location: loc}
		}
	}

	banner, bannerVisible, err := ui.Resolve(ctx, locator.RoleErrorBanner)
	if err != nil {
		return err
	}
	if bannerVisible {
		return &UpstreamError{Detail: strings.TrimSpace(banner.Probe.Text)}
	}

	return nil
}

// readResponse reads the text of this request's response message. The
// target is selected exactly once, as the first new message beyond the
// anchor, and never re-selected mid-poll: if further messages render
// concurrently the detector must not start tracking the wrong one.
func (d *Detector) readResponse(ctx context.Context, ui Surface, st *detection, anchor int) (string, error) {
	if st.target < 0 {
		count, err := ui.MessageCount(ctx)
		if err != nil {
			return "", err
		}
		if count <= anchor {
			return "", nil
		}
		st.target = anchor
	}
	return ui.MessageText(ctx, st.target)
}

// finalRead is the deadline path: one last read, partial text wins over a
// timeout error.
func (d *Detector) finalRead(ctx context.Context, ui Surface, requestID string, st *detection, anchor int) (string, error) {
	text, err := d.readResponse(ctx, ui, st, anchor)
	if err != nil {
		d.logger.Warn("Final read failed after deadline", "request_id", requestID, "error", err)
		return "", ErrTimeout
	}
	if text == "" {
		return "", ErrTimeout
	}
	d.logger.Info("Deadline elapsed with partial text, returning it",
		"request_id", requestID,
		"text_len", len(text),
	)
	return text, nil
}

func (d *Detector) setPhase(requestID string, phase Phase) {
	d.logger.Debug("Detector phase", "request_id", requestID, "phase", phase.String())
	if d.onPhase != nil {
		d.onPhase(requestID, phase)
	}
}
