package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chatrelay/chatrelay/internal/locator"
)

func testDetector(stablePolls int, phases *[]Phase) *Detector {
	var mu sync.Mutex
	onPhase := func(_ string, p Phase) {
		if phases == nil {
			return
		}
		mu.Lock()
		*phases = append(*phases, p)
		mu.Unlock()
	}
	return NewDetector(DetectorConfig{
		PollInterval: 5 * time.Millisecond,
		StablePolls:  stablePolls,
	}, nil, onPhase)
}

func TestAwaitBusyThenStableText(t *testing.T) {
	ui := &fakeSurface{
		busySeq:  []bool{true, true, false},
		countSeq: []int{1},
		textSeq:  []string{"4"},
	}

	var phases []Phase
	d := testDetector(2, &phases)

	text, err := d.Await(context.Background(), ui, "req-1", 0, 2*time.Second)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if text != "4" {
		t.Errorf("Expected text %q, got %q", "4", text)
	}

	want := []Phase{PhaseAwaitingStart, PhaseGenerating, PhaseStabilizing, PhaseDone}
	if len(phases) != len(want) {
		t.Fatalf("Expected phases %v, got %v", want, phases)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Errorf("Phase %d: expected %s, got %s", i, want[i], phases[i])
		}
	}
}

func TestAwaitTargetSelectedOnceBeyondAnchor(t *testing.T) {
	// Two prior assistant messages; the reply is index 2 and must stay
	// index 2 on every read even as more content renders.
	ui := &fakeSurface{
		busySeq:  []bool{true, false},
		countSeq: []int{3},
		textSeq:  []string{"answer"},
	}
	d := testDetector(3, nil)

	text, err := d.Await(context.Background(), ui, "req-1", 2, 2*time.Second)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if text != "answer" {
		t.Errorf("Expected text %q, got %q", "answer", text)
	}
	if len(ui.textReads) == 0 {
		t.Fatal("Expected at least one text read")
	}
	for _, idx := range ui.textReads {
		if idx != 2 {
			t.Errorf("Response target re-selected: read index %d, want 2", idx)
		}
	}
}

func TestAwaitContinuationResetsStability(t *testing.T) {
	ui := &fakeSurface{
		busySeq:  []bool{true, false},
		contSeq:  []bool{false, true, false},
		countSeq: []int{1},
		textSeq:  []string{"part1"},
	}
	ui.onContinue = func(f *fakeSurface) {
		f.mu.Lock()
		f.textSeq = []string{"part1 part2"}
		f.mu.Unlock()
	}

	d := testDetector(2, nil)

	text, err := d.Await(context.Background(), ui, "req-1", 0, 2*time.Second)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if text != "part1 part2" {
		t.Errorf("Expected post-continuation text, got %q", text)
	}
	if got := ui.clicked(locator.RoleContinue); got != 1 {
		t.Errorf("Expected 1 continuation activation, got %d", got)
	}
	// The stability bar must be met again after the continuation: at
	// least two reads of the final text on top of the pre-continuation read.
	if len(ui.textReads) < 3 {
		t.Errorf("Expected at least 3 text reads (stability restarted), got %d", len(ui.textReads))
	}
}

func TestAwaitSessionExpiredDuringStabilizing(t *testing.T) {
	ui := &fakeSurface{
		busySeq:  []bool{true, false},
		loginSeq: []bool{false, false, true},
		countSeq: []int{1},
		textSeq:  []string{"should not be returned"},
	}

	var phases []Phase
	d := testDetector(3, &phases)

	text, err := d.Await(context.Background(), ui, "req-1", 0, 2*time.Second)
	var sessErr *SessionExpiredError
	if !errors.As(err, &sessErr) {
		t.Fatalf("Expected SessionExpiredError, got %v", err)
	}
	if text != "" {
		t.Errorf("Expected no partial text on session expiry, got %q", text)
	}
	if phases[len(phases)-1] != PhaseFailed {
		t.Errorf("Expected terminal phase %s, got %s", PhaseFailed, phases[len(phases)-1])
	}
}

func TestAwaitAuthLocationIsSessionExpired(t *testing.T) {
	ui := &fakeSurface{
		busySeq:  []bool{true, false},
		location: "https://chat.example.com/auth/login?next=%2F",
	}
	d := testDetector(2, nil)

	_, err := d.Await(context.Background(), ui, "req-1", 0, 2*time.Second)
	var sessErr *SessionExpiredError
	if !errors.As(err, &sessErr) {
		t.Fatalf("Expected SessionExpiredError, got %v", err)
	}
	if sessErr.Location == "" {
		t.Error("Expected the offending location to be carried")
	}
}

func TestAwaitUpstreamErrorCarriesBannerText(t *testing.T) {
	ui := &fakeSurface{
		busySeq:   []bool{true, false},
		bannerSeq: []string{"", "", "Something went wrong"},
		countSeq:  []int{1},
		textSeq:   []string{"half an answer"},
	}
	d := testDetector(3, nil)

	_, err := d.Await(context.Background(), ui, "req-1", 0, 2*time.Second)
	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("Expected UpstreamError, got %v", err)
	}
	if upErr.Detail != "Something went wrong" {
		t.Errorf("Expected banner detail, got %q", upErr.Detail)
	}
}

func TestAwaitTimeoutWithPartialTextIsSuccess(t *testing.T) {
	// Busy never clears; the deadline elapses with readable partial text.
	ui := &fakeSurface{
		busySeq:  []bool{true},
		countSeq: []int{1},
		textSeq:  []string{"partial answer..."},
	}

	var phases []Phase
	d := testDetector(2, &phases)

	text, err := d.Await(context.Background(), ui, "req-1", 0, 60*time.Millisecond)
	if err != nil {
		t.Fatalf("Expected partial success, got error: %v", err)
	}
	if text != "partial answer..." {
		t.Errorf("Expected exactly the partial text, got %q", text)
	}
	if phases[len(phases)-1] != PhaseDone {
		t.Errorf("Partial text at deadline must settle as %s, got %s", PhaseDone, phases[len(phases)-1])
	}
}

func TestAwaitTimeoutWithEmptyTextIsError(t *testing.T) {
	ui := &fakeSurface{
		busySeq:  []bool{true},
		countSeq: []int{0},
	}

	var phases []Phase
	d := testDetector(2, &phases)

	text, err := d.Await(context.Background(), ui, "req-1", 0, 60*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
	if text != "" {
		t.Errorf("Expected no text, got %q", text)
	}
	if phases[len(phases)-1] != PhaseTimedOut {
		t.Errorf("Expected terminal phase %s, got %s", PhaseTimedOut, phases[len(phases)-1])
	}
}

func TestAwaitProceedsWhenBusyIndicatorNeverAppears(t *testing.T) {
	// Fast responses may finish before the indicator would render. The
	// detector must not fail the request; it falls through and returns
	// whatever text is present at the deadline.
	ui := &fakeSurface{
		busySeq:  []bool{false},
		countSeq: []int{1},
		textSeq:  []string{"hi"},
	}
	d := testDetector(2, nil)

	text, err := d.Await(context.Background(), ui, "req-1", 0, 60*time.Millisecond)
	if err != nil {
		t.Fatalf("Expected success without busy indicator, got %v", err)
	}
	if text != "hi" {
		t.Errorf("Expected text %q, got %q", "hi", text)
	}
}

func TestAwaitCancelledContext(t *testing.T) {
	ui := &fakeSurface{
		busySeq:  []bool{true},
		countSeq: []int{0},
	}
	d := testDetector(2, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Await(ctx, ui, "req-1", 0, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}
