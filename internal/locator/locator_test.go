package locator

import (
	"context"
	"errors"
	"testing"
)

// fakeProber reports canned probe results keyed by query string.
type fakeProber struct {
	probes map[string]Probe
	err    error
}

func (f *fakeProber) Probe(_ context.Context, s Strategy) (Probe, error) {
	if f.err != nil {
		return Probe{}, f.err
	}
	return f.probes[s.Query], nil
}

func TestResolveFirstMatchWins(t *testing.T) {
	r := NewResolver(nil)
	candidates := r.Candidates(RoleComposer)
	if len(candidates) < 3 {
		t.Fatalf("Expected at least 3 composer candidates, got %d", len(candidates))
	}

	// Only the second and third candidates match; the second must win.
	r.prober = &fakeProber{probes: map[string]Probe{
		candidates[1].Query: {Found: true, Visible: true, Text: "b"},
		candidates[2].Query: {Found: true, Visible: true, Text: "c"},
	}}

	m, ok, err := r.Resolve(context.Background(), RoleComposer)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !ok {
		t.Fatal("Expected a match")
	}
	if m.Strategy.Query != candidates[1].Query {
		t.Errorf("Expected second candidate %q to win, got %q", candidates[1].Query, m.Strategy.Query)
	}
	if m.Probe.Text != "b" {
		t.Errorf("Expected probe text b, got %q", m.Probe.Text)
	}
}

func TestResolveSkipsFoundButHidden(t *testing.T) {
	r := NewResolver(nil)
	candidates := r.Candidates(RoleBusy)

	// First candidate exists in the DOM but is hidden; second is visible.
	r.prober = &fakeProber{probes: map[string]Probe{
		candidates[0].Query: {Found: true, Visible: false},
		candidates[1].Query: {Found: true, Visible: true},
	}}

	m, ok, err := r.Resolve(context.Background(), RoleBusy)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !ok {
		t.Fatal("Expected a match")
	}
	if m.Strategy.Query != candidates[1].Query {
		t.Errorf("Hidden element should not resolve; got %q", m.Strategy.Query)
	}
}

func TestResolveAbsentIsNotAnError(t *testing.T) {
	r := NewResolver(&fakeProber{probes: map[string]Probe{}})

	_, ok, err := r.Resolve(context.Background(), RoleContinue)
	if err != nil {
		t.Fatalf("Absent role should not error: %v", err)
	}
	if ok {
		t.Error("Expected no match")
	}
}

func TestResolveUnknownRole(t *testing.T) {
	r := NewResolver(&fakeProber{})

	_, _, err := r.Resolve(context.Background(), Role("bogus"))
	if err == nil {
		t.Fatal("Expected error for unknown role")
	}
}

func TestResolvePropagatesProbeError(t *testing.T) {
	probeErr := errors.New("page gone")
	r := NewResolver(&fakeProber{err: probeErr})

	_, _, err := r.Resolve(context.Background(), RoleComposer)
	if !errors.Is(err, probeErr) {
		t.Fatalf("Expected wrapped probe error, got %v", err)
	}
}

func TestStructuralCandidatesPrecedeTextualOnes(t *testing.T) {
	r := NewResolver(nil)
	for _, role := range []Role{RoleComposer, RoleSend, RoleBusy, RoleContinue, RoleAssistantMessage, RoleErrorBanner, RoleLogin} {
		candidates := r.Candidates(role)
		if len(candidates) == 0 {
			t.Errorf("Role %s has no candidates", role)
			continue
		}
		if candidates[0].Kind != CSS {
			t.Errorf("Role %s: first candidate should be structural CSS, got %s", role, candidates[0].Kind)
		}
	}
}
