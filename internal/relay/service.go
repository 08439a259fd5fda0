// Package relay contains the core of the daemon: the completion-detection
// state machine, the submission controller and the single-flight request
// queue that guards the shared browser session.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chatrelay/chatrelay/internal/events"
	"github.com/chatrelay/chatrelay/internal/store"
)

// ServiceConfig bundles relay tuning.
type ServiceConfig struct {
	DefaultTimeout time.Duration
	PollInterval   time.Duration
	StablePolls    int
	QueueSize      int
}

// Service is the single-flight relay facade consumed by the transport
// layer. It owns the queue, the submitter and the detector, and records
// every settled request.
type Service struct {
	session   Session
	submitter *Submitter
	detector  *Detector
	queue     *Queue
	repo      store.Repository
	hub       *events.Hub
	cfg       ServiceConfig
	logger    *slog.Logger
}

// NewService wires the relay pipeline. repo and hub may be nil (no history,
// no event stream).
func NewService(session Session, cfg ServiceConfig, repo store.Repository, hub *events.Hub, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		session: session,
		repo:    repo,
		hub:     hub,
		cfg:     cfg,
		logger:  logger,
	}
	s.submitter = NewSubmitter(cfg.PollInterval, logger)
	s.detector = NewDetector(DetectorConfig{
		PollInterval: cfg.PollInterval,
		StablePolls:  cfg.StablePolls,
	}, logger, s.publishPhase)
	s.queue = NewQueue(s.run, cfg.QueueSize, logger)
	return s
}

// Start launches the queue worker.
func (s *Service) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Ask relays one prompt and returns the finished reply text. Blocks until
// the request settles or ctx ends.
func (s *Service) Ask(ctx context.Context, req Request) (string, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Prompt == "" {
		return "", fmt.Errorf("empty prompt")
	}
	if req.Timeout <= 0 {
		req.Timeout = s.cfg.DefaultTimeout
	}

	s.publish(events.Event{RequestID: req.ID, Type: events.TypeQueued})
	return s.queue.Enqueue(ctx, req)
}

// run is the queue worker's entry point: one full interaction against the
// shared session, with history recording and event publication.
func (s *Service) run(ctx context.Context, req Request) (string, error) {
	started := time.Now()
	s.publish(events.Event{RequestID: req.ID, Type: events.TypeStarted})
	s.logger.Info("Processing request",
		"request_id", req.ID,
		"prompt_len", len(req.Prompt),
		"timeout", req.Timeout,
		"new_chat", req.NewChat,
	)

	text, err := s.process(ctx, req)
	elapsed := time.Since(started)

	s.record(ctx, req, text, err, elapsed)

	if err != nil {
		s.logger.Warn("Request failed",
			"request_id", req.ID,
			"kind", Kind(err),
			"error", err,
			"elapsed", elapsed,
		)
		s.publish(events.Event{RequestID: req.ID, Type: events.TypeFailed, Detail: Kind(err)})
		return "", err
	}

	s.logger.Info("Request complete",
		"request_id", req.ID,
		"response_len", len(text),
		"elapsed", elapsed,
	)
	s.publish(events.Event{RequestID: req.ID, Type: events.TypeDone})
	return text, nil
}

func (s *Service) process(ctx context.Context, req Request) (string, error) {
	if req.NewChat {
		if err := s.session.StartNewConversation(ctx); err != nil {
			return "", fmt.Errorf("start new conversation: %w", err)
		}
	}

	ui, err := s.session.Surface(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire page: %w", err)
	}

	anchor, err := s.submitter.Submit(ctx, ui, req.Prompt)
	if err != nil {
		return "", err
	}

	return s.detector.Await(ctx, ui, req.ID, anchor, req.Timeout)
}

func (s *Service) record(ctx context.Context, req Request, text string, err error, elapsed time.Duration) {
	if s.repo == nil {
		return
	}

	rec := &store.RequestRecord{
		ID:          req.ID,
		Prompt:      req.Prompt,
		Status:      "ok",
		ResponseLen: len(text),
		Duration:    elapsed,
		CreatedAt:   time.Now(),
	}
	switch {
	case err != nil:
		rec.Status = Kind(err)
		rec.ErrorDetail = err.Error()
	case elapsed >= req.Timeout:
		// Deadline elapsed but a non-empty final read was returned.
		rec.Status = "partial"
	}

	if recErr := s.repo.RecordRequest(ctx, rec); recErr != nil {
		s.logger.Error("Failed to record request history", "request_id", req.ID, "error", recErr)
	}
}

func (s *Service) publish(ev events.Event) {
	if s.hub != nil {
		s.hub.Publish(ev)
	}
}

func (s *Service) publishPhase(requestID string, phase Phase) {
	s.publish(events.Event{RequestID: requestID, Type: events.TypePhase, Phase: phase.String()})
}
