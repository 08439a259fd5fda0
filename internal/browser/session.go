// Package browser owns the single long-lived Chrome page shared by all
// relay requests, and implements the page-observation surface the relay
// core polls.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/chatrelay/chatrelay/internal/relay"
)

// Options controls how the shared browser session is launched.
type Options struct {
	BaseURL    string
	Headless   bool
	ChromePath string
	Artifact   *Artifact
}

// chromeCandidates lists Chrome binaries tried when no explicit path is
// configured.
var chromeCandidates = map[string][]string{
	"darwin": {
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"/Applications/Chromium.app/Contents/MacOS/Chromium",
		"/Applications/Brave Browser.app/Contents/MacOS/Brave Browser",
	},
	"linux": {
		"google-chrome",
		"google-chrome-stable",
		"chromium",
		"chromium-browser",
	},
	"windows": {
		`C:\Program Files\Google\Chrome\Application\chrome.exe`,
		`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
	},
}

func findChrome(requested string) (string, error) {
	candidates := make([]string, 0, 8)
	if requested != "" {
		candidates = append(candidates, requested)
	}
	candidates = append(candidates, chromeCandidates[runtime.GOOS]...)

	for _, candidate := range candidates {
		if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, nil
			}
			continue
		}
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no Chrome binary found; set CHROME_PATH")
}

// Session is the exactly-one shared browser page plus its navigation state.
// Its only mutators are create, getOrRecreate and Close; the relay queue's
// serialization guarantees no two requests touch it concurrently.
type Session struct {
	opts   Options
	logger *slog.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu        sync.Mutex
	tabCtx    context.Context
	tabCancel context.CancelFunc
}

// NewSession launches Chrome, loads the persisted authentication cookies
// and navigates the single tab to the base location.
func NewSession(ctx context.Context, opts Options, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}

	chromePath, err := findChrome(opts.ChromePath)
	if err != nil {
		return nil, err
	}
	logger.Info("Using Chrome binary", "path", chromePath, "headless", opts.Headless)

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(chromePath),
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.WindowSize(1280, 960),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)

	s := &Session{
		opts:        opts,
		logger:      logger,
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
	}

	if err := s.createTab(); err != nil {
		allocCancel()
		return nil, err
	}
	return s, nil
}

// createTab opens the tab, primes the browser process, installs the
// session-artifact cookies and navigates to the base location.
// Caller must hold s.mu or be the constructor.
func (s *Session) createTab() error {
	tabCtx, tabCancel := chromedp.NewContext(s.allocCtx, chromedp.WithLogf(func(format string, v ...interface{}) {
		s.logger.Debug("chromedp: " + fmt.Sprintf(format, v...))
	}))

	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		tabCancel()
		return fmt.Errorf("start browser: %w", err)
	}

	if s.opts.Artifact != nil {
		if err := chromedp.Run(tabCtx, s.opts.Artifact.setCookiesAction()); err != nil {
			tabCancel()
			return fmt.Errorf("install session cookies: %w", err)
		}
		s.logger.Info("Session cookies installed", "count", len(s.opts.Artifact.Cookies))
	}

	if err := chromedp.Run(tabCtx,
		chromedp.Navigate(s.opts.BaseURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		tabCancel()
		return fmt.Errorf("navigate to %s: %w", s.opts.BaseURL, err)
	}

	s.tabCtx = tabCtx
	s.tabCancel = tabCancel
	s.logger.Info("Browser page ready", "url", s.opts.BaseURL)
	return nil
}

// page returns the live tab context, recreating the tab if it was closed.
func (s *Session) page(ctx context.Context) (context.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tabCtx != nil && s.tabCtx.Err() == nil {
		return s.tabCtx, nil
	}

	s.logger.Warn("Browser page closed, recreating")
	if s.tabCancel != nil {
		s.tabCancel()
	}
	if err := s.createTab(); err != nil {
		return nil, err
	}
	return s.tabCtx, nil
}

// Surface returns the relay observation surface bound to the live page.
func (s *Session) Surface(ctx context.Context) (relay.Surface, error) {
	tab, err := s.page(ctx)
	if err != nil {
		return nil, err
	}
	return newSurface(tab), nil
}

// StartNewConversation navigates back to the base location to force a
// fresh conversation context. Skipped when already there, so requests that
// opt in do not pay a reload on an idle session.
func (s *Session) StartNewConversation(ctx context.Context) error {
	tab, err := s.page(ctx)
	if err != nil {
		return err
	}

	var loc string
	if err := chromedp.Run(tab, chromedp.Location(&loc)); err != nil {
		return fmt.Errorf("read location: %w", err)
	}
	if loc == s.opts.BaseURL || loc == s.opts.BaseURL+"/" {
		return nil
	}

	if err := chromedp.Run(tab,
		chromedp.Navigate(s.opts.BaseURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigate to %s: %w", s.opts.BaseURL, err)
	}

	// Give the SPA a moment to mount before the composer is probed.
	time.Sleep(500 * time.Millisecond)
	return nil
}

// ExportArtifact snapshots the session's current cookies into a fresh
// artifact. Used by the interactive login tool after the user has signed in.
func (s *Session) ExportArtifact(ctx context.Context) (*Artifact, error) {
	tab, err := s.page(ctx)
	if err != nil {
		return nil, err
	}
	cookies, err := ExportCookies(tab)
	if err != nil {
		return nil, err
	}
	return &Artifact{CreatedAt: time.Now(), Cookies: cookies}, nil
}

// Close tears down the tab and the browser process.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tabCancel != nil {
		s.tabCancel()
	}
	s.allocCancel()
}
