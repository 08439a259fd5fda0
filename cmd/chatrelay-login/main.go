// chatrelay-login - one-time interactive login capture
//
// Opens a visible Chrome window on the target application, waits for the
// user to complete the login flow, then snapshots the authenticated
// cookies into the session artifact the daemon loads at startup.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/chatrelay/chatrelay/internal/browser"
	"github.com/chatrelay/chatrelay/internal/config"
	"github.com/chatrelay/chatrelay/internal/locator"
)

// loginWait bounds how long the tool waits for the user to finish signing in.
const loginWait = 10 * time.Minute

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Opening browser for login", "url", cfg.BaseURL)

	// Always headed: the whole point is a human completing the login flow.
	sess, err := browser.NewSession(ctx, browser.Options{
		BaseURL:    cfg.BaseURL,
		Headless:   false,
		ChromePath: cfg.ChromePath,
	}, logger)
	if err != nil {
		slog.Error("Failed to start browser", "error", err)
		os.Exit(1)
	}
	defer sess.Close()

	slog.Info("Log in through the browser window; capture happens automatically")

	if err := awaitLogin(ctx, sess); err != nil {
		slog.Error("Login not completed", "error", err)
		os.Exit(1)
	}

	artifact, err := sess.ExportArtifact(ctx)
	if err != nil {
		slog.Error("Failed to export cookies", "error", err)
		os.Exit(1)
	}

	if err := browser.SaveArtifact(cfg.SessionFile, artifact); err != nil {
		slog.Error("Failed to save session artifact", "error", err)
		os.Exit(1)
	}

	slog.Info("Session artifact saved", "path", cfg.SessionFile, "cookies", len(artifact.Cookies))
}

// awaitLogin polls until the page shows a usable composer and no login
// control, meaning the user has finished signing in.
func awaitLogin(ctx context.Context, sess *browser.Session) error {
	deadline := time.Now().Add(loginWait)
	for time.Now().Before(deadline) {
		ui, err := sess.Surface(ctx)
		if err != nil {
			return err
		}

		_, loginVisible, err := ui.Resolve(ctx, locator.RoleLogin)
		if err != nil {
			return err
		}
		_, composerVisible, err := ui.Resolve(ctx, locator.RoleComposer)
		if err != nil {
			return err
		}
		if composerVisible && !loginVisible {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return context.DeadlineExceeded
}
