package relay

import (
	"context"
	"sync"

	"github.com/chatrelay/chatrelay/internal/locator"
)

// fakeSurface scripts page observations as consumable sequences: each
// resolve of a role pops the next value, and the last value sticks. That
// keeps tests deterministic without tying them to wall-clock frame timing.
type fakeSurface struct {
	mu sync.Mutex

	busySeq   []bool
	loginSeq  []bool
	contSeq   []bool
	bannerSeq []string // "" means absent
	countSeq  []int
	textSeq   []string

	location string

	composerVisible bool
	sendVisible     bool
	sendEnabled     bool

	composerText string
	clicks       []string
	keySubmits   int
	textReads    []int

	// onContinue mutates the script when the continuation control is
	// activated, mimicking the page resuming generation.
	onContinue func(f *fakeSurface)
}

func popBool(seq *[]bool) bool {
	if len(*seq) == 0 {
		return false
	}
	v := (*seq)[0]
	if len(*seq) > 1 {
		*seq = (*seq)[1:]
	}
	return v
}

func popString(seq *[]string) string {
	if len(*seq) == 0 {
		return ""
	}
	v := (*seq)[0]
	if len(*seq) > 1 {
		*seq = (*seq)[1:]
	}
	return v
}

func popInt(seq *[]int) int {
	if len(*seq) == 0 {
		return 0
	}
	v := (*seq)[0]
	if len(*seq) > 1 {
		*seq = (*seq)[1:]
	}
	return v
}

func roleMatch(role locator.Role, text string, enabled bool) locator.Match {
	return locator.Match{
		Strategy: locator.Strategy{Kind: locator.CSS, Query: string(role)},
		Probe:    locator.Probe{Found: true, Visible: true, Enabled: enabled, Text: text},
	}
}

func (f *fakeSurface) Resolve(_ context.Context, role locator.Role) (locator.Match, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch role {
	case locator.RoleBusy:
		if popBool(&f.busySeq) {
			return roleMatch(role, "", true), true, nil
		}
	case locator.RoleLogin:
		if popBool(&f.loginSeq) {
			return roleMatch(role, "", true), true, nil
		}
	case locator.RoleContinue:
		if popBool(&f.contSeq) {
			return roleMatch(role, "", true), true, nil
		}
	case locator.RoleErrorBanner:
		if text := popString(&f.bannerSeq); text != "" {
			return roleMatch(role, text, true), true, nil
		}
	case locator.RoleComposer:
		if f.composerVisible {
			return roleMatch(role, "", true), true, nil
		}
	case locator.RoleSend:
		if f.sendVisible {
			return roleMatch(role, "", f.sendEnabled), true, nil
		}
	}
	return locator.Match{}, false, nil
}

func (f *fakeSurface) SetComposerText(_ context.Context, _ locator.Match, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.composerText = text
	return nil
}

func (f *fakeSurface) Activate(_ context.Context, m locator.Match) error {
	f.mu.Lock()
	f.clicks = append(f.clicks, m.Strategy.Query)
	onContinue := f.onContinue
	isContinue := m.Strategy.Query == string(locator.RoleContinue)
	f.mu.Unlock()

	if isContinue && onContinue != nil {
		onContinue(f)
	}
	return nil
}

func (f *fakeSurface) KeySubmit(_ context.Context, _ locator.Match) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keySubmits++
	return nil
}

func (f *fakeSurface) MessageCount(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return popInt(&f.countSeq), nil
}

func (f *fakeSurface) MessageText(_ context.Context, index int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.textReads = append(f.textReads, index)
	return popString(&f.textSeq), nil
}

func (f *fakeSurface) Location(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.location == "" {
		return "https://chat.example.com/c/abc", nil
	}
	return f.location, nil
}

func (f *fakeSurface) clicked(role locator.Role) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.clicks {
		if c == string(role) {
			n++
		}
	}
	return n
}
