// Package drivertest holds the shared behavior checks every browser driver must pass.
// Driver packages call Run from their own tests against the fake CAS server.
package drivertest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kuitang/cas-scenarios/internal/browser"
	"github.com/kuitang/cas-scenarios/internal/castest"
)

// Timeout for every driver operation in these checks.
const Timeout = 5 * time.Second

// Launch starts a headless browser that ignores the fake server's certificate,
// skipping the test when the driver's browser is not installed.
func Launch(t *testing.T, d browser.Driver) browser.Browser {
	t.Helper()

	b, err := d.Launch(context.Background(), browser.LaunchOptions{
		Headless:          true,
		IgnoreHTTPSErrors: true,
		Timeout:           Timeout,
	})
	if err != nil {
		t.Skipf("%s driver not available: %v", d.Name(), err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// Run checks the driver against the login and policy pages.
func Run(t *testing.T, d browser.Driver) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}

	t.Run("LoginShowsPolicy", func(t *testing.T) {
		s := castest.New(t, castest.Options{})
		page := login(t, Launch(t, d), s)
		ctx := context.Background()

		text, err := page.TextContent(ctx, "#main-content #login #fm1 h3")
		if err != nil {
			t.Fatalf("TextContent: %v", err)
		}
		if text != "Acceptable Usage Policy" {
			t.Fatalf("heading mismatch: %q", text)
		}
		for _, sel := range []string{"button[name=submit]", "button[name=cancel]"} {
			visible, err := page.IsVisible(ctx, sel)
			if err != nil {
				t.Fatalf("IsVisible(%s): %v", sel, err)
			}
			if !visible {
				t.Fatalf("%s should be visible", sel)
			}
		}
	})

	t.Run("PressWaitsForNextDocument", func(t *testing.T) {
		s := castest.New(t, castest.Options{})
		page := login(t, Launch(t, d), s)

		// Content does not wait, so it shows whichever document is current.
		html, err := page.Content(context.Background())
		if err != nil {
			t.Fatalf("Content: %v", err)
		}
		if !strings.Contains(html, `id="aupPolicy"`) {
			t.Fatal("Press returned before the policy page loaded")
		}
		if strings.Contains(html, `id="username"`) {
			t.Fatal("login form still current after Press")
		}
	})

	t.Run("HiddenControls", func(t *testing.T) {
		s := castest.New(t, castest.Options{HideButtons: true})
		page := login(t, Launch(t, d), s)
		ctx := context.Background()

		if err := page.WaitForSelector(ctx, "button[name=cancel]"); err != nil {
			t.Fatalf("cancel button should be in the markup: %v", err)
		}
		visible, err := page.IsVisible(ctx, "button[name=cancel]")
		if err != nil {
			t.Fatalf("IsVisible: %v", err)
		}
		if visible {
			t.Fatal("display:none button reported visible")
		}
	})

	t.Run("MissingElement", func(t *testing.T) {
		s := castest.New(t, castest.Options{SkipAUP: true})
		page := login(t, Launch(t, d), s)

		_, err := page.TextContent(context.Background(), "#main-content #login #fm1 h3")
		if !errors.Is(err, browser.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("CloseIsIdempotent", func(t *testing.T) {
		b := Launch(t, d)
		if err := b.Close(); err != nil {
			t.Fatalf("first Close: %v", err)
		}
		if err := b.Close(); err != nil {
			t.Fatalf("second Close: %v", err)
		}
		if _, err := b.NewPage(context.Background()); err == nil {
			t.Fatal("NewPage after Close should fail")
		}
	})
}

func login(t *testing.T, b browser.Browser, s *castest.Server) browser.Page {
	t.Helper()
	ctx := context.Background()

	page, err := b.NewPage(ctx)
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	if _, err := page.Goto(ctx, s.LoginURL(s.ServiceURL())); err != nil {
		t.Fatalf("Goto: %v", err)
	}
	if err := page.Fill(ctx, "#username", castest.DefaultUsername); err != nil {
		t.Fatalf("Fill username: %v", err)
	}
	if err := page.Fill(ctx, "#password", castest.DefaultPassword); err != nil {
		t.Fatalf("Fill password: %v", err)
	}
	if err := page.Press(ctx, "#password", "Enter"); err != nil {
		t.Fatalf("Press Enter: %v", err)
	}
	return page
}
