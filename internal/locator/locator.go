// Package locator maps semantic UI roles to ordered lists of selector
// strategies and resolves them against a live page.
//
// The target application exposes no stable automation API, so every role is
// backed by several redundant candidates. Structural selectors (test ids,
// ARIA attributes) come first; textual fallbacks come last because copy and
// localization changes break them. Callers must preserve this ordering:
// detection logic treats an earlier candidate as authoritative whenever it
// matches.
package locator

import (
	"context"
	"fmt"
)

// Role identifies a semantic UI element independent of how it is selected.
type Role string

const (
	// RoleComposer is the input region where outgoing prompt text is entered.
	RoleComposer Role = "composer"
	// RoleSend is the control that submits the composer content.
	RoleSend Role = "send"
	// RoleBusy is the indicator whose visibility means a reply is being generated.
	RoleBusy Role = "busy"
	// RoleContinue is the affordance that resumes a reply paused mid-generation.
	RoleContinue Role = "continue"
	// RoleAssistantMessage matches rendered assistant reply containers.
	RoleAssistantMessage Role = "assistant_message"
	// RoleErrorBanner matches error surfaces raised by the application.
	RoleErrorBanner Role = "error_banner"
	// RoleLogin matches controls that only render at an authentication boundary.
	RoleLogin Role = "login"
)

// Kind tags how a strategy's query is interpreted.
type Kind string

const (
	// CSS queries run through querySelector.
	CSS Kind = "css"
	// XPath queries run through document.evaluate.
	XPath Kind = "xpath"
)

// Strategy is one way of finding a role's element.
type Strategy struct {
	Kind  Kind
	Query string
}

// Probe is the observed state of a strategy's first matching element.
type Probe struct {
	Found   bool
	Visible bool
	Enabled bool
	Text    string
}

// Prober evaluates a single strategy against the current page state.
type Prober interface {
	Probe(ctx context.Context, s Strategy) (Probe, error)
}

// Match is a resolved role: the strategy that won and what it observed.
type Match struct {
	Strategy Strategy
	Probe    Probe
}

// defaultCandidates is the static role table. Order is priority order.
var defaultCandidates = map[Role][]Strategy{
	RoleComposer: {
		{CSS, `#prompt-textarea`},
		{CSS, `div[contenteditable="true"].ProseMirror`},
		{CSS, `textarea[data-testid="prompt-textarea"]`},
		{CSS, `main form textarea`},
	},
	RoleSend: {
		{CSS, `button[data-testid="send-button"]`},
		{CSS, `button[aria-label="Send prompt"]`},
		{XPath, `//form//button[@type='submit']`},
	},
	RoleBusy: {
		{CSS, `button[data-testid="stop-button"]`},
		{CSS, `button[aria-label="Stop generating"]`},
		{XPath, `//button[contains(., 'Stop generating')]`},
	},
	RoleContinue: {
		{CSS, `button[data-testid="continue-button"]`},
		{XPath, `//button[contains(., 'Continue generating')]`},
	},
	RoleAssistantMessage: {
		{CSS, `div[data-message-author-role="assistant"]`},
		{CSS, `main div.agent-turn div.markdown`},
		{CSS, `main div.markdown`},
	},
	RoleErrorBanner: {
		{CSS, `div[data-testid="error-message"]`},
		{CSS, `main div[role="alert"]`},
		{XPath, `//div[contains(@class, 'text-red') and string-length(normalize-space(.)) > 0]`},
	},
	RoleLogin: {
		{CSS, `button[data-testid="login-button"]`},
		{CSS, `a[href*="/auth/login"]`},
		{XPath, `//button[contains(., 'Log in')]`},
	},
}

// Resolver resolves roles over a Prober using the static candidate table.
type Resolver struct {
	prober     Prober
	candidates map[Role][]Strategy
}

// NewResolver creates a resolver over the default candidate table.
func NewResolver(p Prober) *Resolver {
	return &Resolver{prober: p, candidates: defaultCandidates}
}

// Candidates returns the ordered strategy list for a role.
func (r *Resolver) Candidates(role Role) []Strategy {
	return r.candidates[role]
}

// Resolve returns the first candidate that currently matches a visible
// element. A role with no visible match resolves to (zero, false, nil):
// absence is an observation, not an error. Callers decide its significance.
func (r *Resolver) Resolve(ctx context.Context, role Role) (Match, bool, error) {
	candidates, ok := r.candidates[role]
	if !ok {
		return Match{}, false, fmt.Errorf("locator: unknown role %q", role)
	}

	for _, s := range candidates {
		probe, err := r.prober.Probe(ctx, s)
		if err != nil {
			return Match{}, false, fmt.Errorf("locator: probe %s %q: %w", s.Kind, s.Query, err)
		}
		if probe.Found && probe.Visible {
			return Match{Strategy: s, Probe: probe}, true, nil
		}
	}
	return Match{}, false, nil
}
