package relay

import (
	"context"
	"errors"
	"time"
)

// errDeadline signals that a poller's deadline passed. Internal to the
// detector: the deadline outcome (partial success vs timeout) depends on
// which state observed it.
var errDeadline = errors.New("poll deadline reached")

// poller drives fixed-interval polling against an absolute deadline. Every
// waiting state of the detector goes through the same poller so timing
// behavior cannot diverge between states.
type poller struct {
	interval time.Duration
	deadline time.Time
}

func newPoller(interval time.Duration, deadline time.Time) *poller {
	return &poller{interval: interval, deadline: deadline}
}

// wait sleeps one interval. It returns errDeadline once the deadline has
// passed (waking early at the deadline rather than overshooting it), or the
// context error on cancellation.
func (p *poller) wait(ctx context.Context) error {
	now := time.Now()
	if !now.Before(p.deadline) {
		return errDeadline
	}

	d := p.interval
	if remaining := p.deadline.Sub(now); remaining < d {
		d = remaining
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		if !time.Now().Before(p.deadline) {
			return errDeadline
		}
		return nil
	}
}
