package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

// Cookie is one persisted browser cookie. The fields mirror what the CDP
// storage domain exports, kept as plain JSON so the artifact file survives
// cdproto upgrades.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"http_only,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"same_site,omitempty"`
}

// Artifact is the opaque persisted capture of authentication state,
// produced by the one-time interactive login step and loaded by the daemon
// at startup.
type Artifact struct {
	CreatedAt time.Time `json:"created_at"`
	Cookies   []Cookie  `json:"cookies"`
}

// LoadArtifact reads the session artifact. A missing file is a hard
// startup precondition failure for the daemon.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("session artifact %s not found; run chatrelay-login first", path)
		}
		return nil, fmt.Errorf("read session artifact: %w", err)
	}

	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse session artifact: %w", err)
	}
	if len(a.Cookies) == 0 {
		return nil, fmt.Errorf("session artifact %s contains no cookies", path)
	}
	return &a, nil
}

// SaveArtifact writes the session artifact with owner-only permissions.
func SaveArtifact(path string, a *Artifact) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session artifact: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write session artifact: %w", err)
	}
	return nil
}

// ExportCookies snapshots all cookies from the live browser.
func ExportCookies(tab context.Context) ([]Cookie, error) {
	var cookies []Cookie
	err := chromedp.Run(tab, chromedp.ActionFunc(func(ctx context.Context) error {
		raw, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range raw {
			cookies = append(cookies, Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Expires:  c.Expires,
				HTTPOnly: c.HTTPOnly,
				Secure:   c.Secure,
				SameSite: c.SameSite.String(),
			})
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("export cookies: %w", err)
	}
	return cookies, nil
}

// setCookiesAction installs the artifact's cookies into the browser.
func (a *Artifact) setCookiesAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		params := make([]*network.CookieParam, 0, len(a.Cookies))
		for _, c := range a.Cookies {
			p := &network.CookieParam{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				HTTPOnly: c.HTTPOnly,
				Secure:   c.Secure,
			}
			if c.SameSite != "" {
				p.SameSite = network.CookieSameSite(c.SameSite)
			}
			if c.Expires > 0 {
				expires := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
				p.Expires = &expires
			}
			params = append(params, p)
		}
		return network.SetCookies(params).Do(ctx)
	})
}
