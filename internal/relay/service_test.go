package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chatrelay/chatrelay/internal/events"
	"github.com/chatrelay/chatrelay/internal/store"
)

type fakeSession struct {
	ui       *fakeSurface
	newChats int
}

func (f *fakeSession) Surface(_ context.Context) (Surface, error) { return f.ui, nil }

func (f *fakeSession) StartNewConversation(_ context.Context) error {
	f.newChats++
	return nil
}

type memRepo struct {
	mu      sync.Mutex
	records []*store.RequestRecord
}

func (m *memRepo) RecordRequest(_ context.Context, rec *store.RequestRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memRepo) RecentRequests(_ context.Context, _ int) ([]*store.RequestRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records, nil
}

func (m *memRepo) Ping(_ context.Context) error { return nil }
func (m *memRepo) Close() error                 { return nil }

func (m *memRepo) last(t *testing.T) *store.RequestRecord {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) == 0 {
		t.Fatal("Expected a history record")
	}
	return m.records[len(m.records)-1]
}

func newTestService(session *fakeSession, repo store.Repository, hub *events.Hub) *Service {
	return NewService(session, ServiceConfig{
		DefaultTimeout: 2 * time.Second,
		PollInterval:   5 * time.Millisecond,
		StablePolls:    2,
		QueueSize:      4,
	}, repo, hub, nil)
}

func TestServiceAskEndToEnd(t *testing.T) {
	session := &fakeSession{ui: &fakeSurface{
		composerVisible: true,
		sendVisible:     true,
		sendEnabled:     true,
		busySeq:         []bool{true, false},
		countSeq:        []int{0, 1},
		textSeq:         []string{"4"},
	}}
	repo := &memRepo{}
	hub := events.NewHub(nil)
	ch, cancelSub := hub.Subscribe()
	defer cancelSub()

	svc := newTestService(session, repo, hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	text, err := svc.Ask(context.Background(), Request{Prompt: "what is 2+2", NewChat: true})
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if text != "4" {
		t.Errorf("Expected text %q, got %q", "4", text)
	}
	if session.newChats != 1 {
		t.Errorf("Expected 1 new conversation, got %d", session.newChats)
	}
	if session.ui.composerText != "what is 2+2" {
		t.Errorf("Expected prompt in composer, got %q", session.ui.composerText)
	}

	rec := repo.last(t)
	if rec.Status != "ok" {
		t.Errorf("Expected status ok, got %q", rec.Status)
	}
	if rec.ResponseLen != 1 {
		t.Errorf("Expected response_len 1, got %d", rec.ResponseLen)
	}
	if rec.ID == "" {
		t.Error("Expected a generated request ID")
	}

	types := drainEventTypes(ch)
	assertEventOrder(t, types, events.TypeQueued, events.TypeStarted, events.TypeDone)
	if !containsEvent(types, events.TypePhase) {
		t.Errorf("Expected phase events, got %v", types)
	}
}

func TestServiceAskRecordsPartialOnDeadline(t *testing.T) {
	session := &fakeSession{ui: &fakeSurface{
		composerVisible: true,
		sendVisible:     true,
		sendEnabled:     true,
		busySeq:         []bool{true}, // never clears
		countSeq:        []int{0, 1},
		textSeq:         []string{"partial answer"},
	}}
	repo := &memRepo{}

	svc := newTestService(session, repo, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	text, err := svc.Ask(context.Background(), Request{Prompt: "hi", Timeout: 60 * time.Millisecond})
	if err != nil {
		t.Fatalf("Expected partial success, got %v", err)
	}
	if text != "partial answer" {
		t.Errorf("Expected partial text, got %q", text)
	}

	rec := repo.last(t)
	if rec.Status != "partial" {
		t.Errorf("Expected status partial, got %q", rec.Status)
	}
}

func TestServiceAskRecordsFailureKind(t *testing.T) {
	session := &fakeSession{ui: &fakeSurface{
		composerVisible: true,
		sendVisible:     true,
		sendEnabled:     true,
		busySeq:         []bool{true, false},
		loginSeq:        []bool{true},
	}}
	repo := &memRepo{}
	hub := events.NewHub(nil)
	ch, cancelSub := hub.Subscribe()
	defer cancelSub()

	svc := newTestService(session, repo, hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	_, err := svc.Ask(context.Background(), Request{Prompt: "hi"})
	var sessErr *SessionExpiredError
	if !errors.As(err, &sessErr) {
		t.Fatalf("Expected SessionExpiredError, got %v", err)
	}

	rec := repo.last(t)
	if rec.Status != "session_expired" {
		t.Errorf("Expected status session_expired, got %q", rec.Status)
	}
	if rec.ErrorDetail == "" {
		t.Error("Expected error detail to be recorded")
	}

	types := drainEventTypes(ch)
	assertEventOrder(t, types, events.TypeQueued, events.TypeStarted, events.TypeFailed)
}

func TestServiceAskRejectsEmptyPrompt(t *testing.T) {
	svc := newTestService(&fakeSession{ui: &fakeSurface{}}, nil, nil)

	if _, err := svc.Ask(context.Background(), Request{Prompt: ""}); err == nil {
		t.Error("Expected error for empty prompt")
	}
}

func drainEventTypes(ch <-chan events.Event) []string {
	var types []string
	for {
		select {
		case ev := <-ch:
			types = append(types, ev.Type)
		default:
			return types
		}
	}
}

func containsEvent(types []string, want string) bool {
	for _, typ := range types {
		if typ == want {
			return true
		}
	}
	return false
}

// assertEventOrder checks that want appears in types as a subsequence.
func assertEventOrder(t *testing.T, types []string, want ...string) {
	t.Helper()
	i := 0
	for _, typ := range types {
		if i < len(want) && typ == want[i] {
			i++
		}
	}
	if i != len(want) {
		t.Errorf("Expected event order %v within %v", want, types)
	}
}
