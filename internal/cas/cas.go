// Package cas implements the shared helper steps that CAS browser scenarios are
// written in: opening pages, navigating, logging in through the CAS login form,
// and asserting on the rendered page.
package cas

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kuitang/cas-scenarios/internal/browser"
	"github.com/kuitang/cas-scenarios/internal/errs"
	"github.com/kuitang/cas-scenarios/internal/logutil"
	"github.com/kuitang/cas-scenarios/internal/obs"
)

// Login form selectors of the CAS thymeleaf views.
const (
	UsernameSelector = "#username"
	PasswordSelector = "#password"
)

// Credentials used by LoginWith.
type Credentials struct {
	Username string
	Password string
}

// Options configures a Helper.
type Options struct {
	Launch      browser.LaunchOptions
	Credentials Credentials
}

// Helper runs scenario steps against a browser page.
type Helper struct {
	opts Options
}

// New returns a helper.
func New(opts Options) *Helper {
	return &Helper{opts: opts}
}

// BrowserOptions returns the launch options every scenario browser starts with.
func (h *Helper) BrowserOptions() browser.LaunchOptions {
	return h.opts.Launch
}

// NewPage opens a tab in b.
func (h *Helper) NewPage(ctx context.Context, b browser.Browser) (browser.Page, error) {
	page, err := b.NewPage(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.Launch, "open page", err)
	}
	return page, nil
}

// Goto navigates and waits for the page to load. An HTTP error status fails the step.
func (h *Helper) Goto(ctx context.Context, page browser.Page, url string) error {
	logURL := logutil.RedactURLForLog(url)
	start := time.Now()

	status, err := page.Goto(ctx, url)
	if err != nil {
		return errs.Wrap(errs.Navigation, "navigate to "+logURL, err)
	}
	if status >= 400 {
		return errs.New(errs.Navigation, fmt.Sprintf("navigate to %s: HTTP %d", logURL, status))
	}
	step(ctx).Info("navigated", "url", logURL, "status", status, "dur_ms", time.Since(start).Milliseconds())
	return nil
}

// LoginWith logs in with the configured credentials.
func (h *Helper) LoginWith(ctx context.Context, page browser.Page) error {
	return h.LoginWithCredentials(ctx, page, h.opts.Credentials.Username, h.opts.Credentials.Password)
}

// LoginWithCredentials fills the CAS login form and submits it with Enter.
func (h *Helper) LoginWithCredentials(ctx context.Context, page browser.Page, username, password string) error {
	if err := page.WaitForSelector(ctx, UsernameSelector); err != nil {
		return stepErr("login form", UsernameSelector, err)
	}
	if err := page.Fill(ctx, UsernameSelector, username); err != nil {
		return stepErr("fill username", UsernameSelector, err)
	}
	if err := page.Fill(ctx, PasswordSelector, password); err != nil {
		return stepErr("fill password", PasswordSelector, err)
	}
	if err := page.Press(ctx, PasswordSelector, "Enter"); err != nil {
		return errs.Wrap(errs.Navigation, "submit login form", err)
	}
	step(ctx).Info("logged in", "username", username, "url", logutil.RedactURLForLog(page.URL()))
	return nil
}

// AssertTextContent fails unless the element's text, trimmed, equals expected.
func (h *Helper) AssertTextContent(ctx context.Context, page browser.Page, selector, expected string) error {
	if err := page.WaitForSelector(ctx, selector); err != nil {
		return stepErr("text content", selector, err)
	}
	text, err := page.TextContent(ctx, selector)
	if err != nil {
		return stepErr("text content", selector, err)
	}
	if got := strings.TrimSpace(text); got != expected {
		return errs.Assertionf("text of %s: expected %q, got %q", selector, expected, logutil.TruncateForLog(got, 200))
	}
	step(ctx).Info("text matched", "selector", selector, "text", expected)
	return nil
}

// AssertVisibility fails unless the element exists and is visible.
func (h *Helper) AssertVisibility(ctx context.Context, page browser.Page, selector string) error {
	if err := page.WaitForSelector(ctx, selector); err != nil {
		return stepErr("visibility", selector, err)
	}
	visible, err := page.IsVisible(ctx, selector)
	if err != nil {
		return errs.Wrap(errs.Unavailable, "visibility of "+selector, err)
	}
	if !visible {
		return errs.Assertionf("%s is not visible", selector)
	}
	step(ctx).Info("element visible", "selector", selector)
	return nil
}

func step(ctx context.Context) *slog.Logger {
	return obs.From(ctx).With("pkg", "cas")
}

// stepErr reports a missing element as an assertion failure and anything else as
// the browser being unavailable.
func stepErr(action, selector string, err error) error {
	if errors.Is(err, browser.ErrNotFound) {
		return &errs.Error{Code: errs.Assertion, Message: fmt.Sprintf("%s: element %s not found", action, selector), Err: err}
	}
	return errs.Wrap(errs.Unavailable, action+" "+selector, err)
}
