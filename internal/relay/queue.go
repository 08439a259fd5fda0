package relay

import (
	"context"
	"log/slog"
)

// Runner executes one request end to end and returns its response text.
type Runner func(ctx context.Context, req Request) (string, error)

// job wraps a request with its pending result slot. The slot is fulfilled
// exactly once, by the worker, when processing settles.
type job struct {
	req  Request
	text string
	err  error
	done chan struct{}
}

// Queue serializes requests into a strict one-at-a-time pipeline. The
// shared session has exactly one composer and one response stream, so this
// is a correctness requirement, not a throughput choice: concurrent
// submissions would corrupt both the prompt text and the response-anchor
// counting.
//
// The single-flight invariant is structural: one buffered FIFO channel,
// one worker goroutine. No locks are needed because there is only one
// logical worker.
type Queue struct {
	runner Runner
	jobs   chan *job
	logger *slog.Logger
}

// NewQueue creates a queue admitting at most size pending requests.
func NewQueue(runner Runner, size int, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = 64
	}
	return &Queue{
		runner: runner,
		jobs:   make(chan *job, size),
		logger: logger,
	}
}

// Start launches the single worker. The worker stops when ctx is done.
func (q *Queue) Start(ctx context.Context) {
	go q.worker(ctx)
}

func (q *Queue) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			q.logger.Info("Queue worker stopping", "pending", len(q.jobs))
			return
		case j := <-q.jobs:
			j.text, j.err = q.runner(ctx, j.req)
			close(j.done)
		}
	}
}

// Enqueue admits a request and waits for its result. Requests are serviced
// in arrival order; request k+1 never begins before request k's result has
// settled. A full queue rejects immediately with ErrQueueFull.
//
// There is no external cancellation: if the caller's context ends first,
// only the wait is abandoned — the in-flight interaction keeps the session
// until it settles on its own timeout, and its outcome is still recorded.
func (q *Queue) Enqueue(ctx context.Context, req Request) (string, error) {
	j := &job{req: req, done: make(chan struct{})}

	select {
	case q.jobs <- j:
	default:
		return "", ErrQueueFull
	}

	select {
	case <-j.done:
		return j.text, j.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
