// Package browser defines the browser-automation capability the scenarios drive.
// Drivers in the subpackages adapt a concrete automation library to these interfaces
// so a scenario runs unchanged against Playwright, Chrome DevTools, or plain HTTP.
package browser

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a selector matches no element.
	ErrNotFound = errors.New("browser: element not found")
	// ErrUnsupported is returned when a driver cannot perform an operation.
	ErrUnsupported = errors.New("browser: operation not supported by driver")
	// ErrClosed is returned when a page or browser is used after Close.
	ErrClosed = errors.New("browser: closed")
)

// LaunchOptions configures a browser launch. The zero value is a headed browser
// with driver default timeouts.
type LaunchOptions struct {
	Headless          bool
	IgnoreHTTPSErrors bool
	// Timeout bounds every navigation and wait. Zero uses the driver default.
	Timeout time.Duration
	// SlowMo delays each browser operation, for watching a headed run.
	SlowMo time.Duration
}

// Driver launches browsers.
type Driver interface {
	Name() string
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}

// Browser is one launched browser process. Close releases the process and must be
// safe to call more than once.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is one tab within a Browser.
type Page interface {
	// Goto navigates and waits for the load event. It returns the HTTP status of
	// the main document, or 0 when the driver cannot observe it.
	Goto(ctx context.Context, url string) (int, error)
	// Fill replaces the value of the first input matching selector.
	Fill(ctx context.Context, selector, value string) error
	// Press sends a key to the first element matching selector and waits for any
	// navigation it triggers.
	Press(ctx context.Context, selector, key string) error
	// WaitForSelector waits until an element matching selector is attached.
	WaitForSelector(ctx context.Context, selector string) error
	// TextContent returns the rendered text of the first element matching selector.
	TextContent(ctx context.Context, selector string) (string, error)
	// IsVisible reports whether the first element matching selector is rendered with
	// a non-zero box and not hidden by style or attribute. A missing element is not visible.
	IsVisible(ctx context.Context, selector string) (bool, error)
	URL() string
	Content(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// TimeoutOr returns o.Timeout, or def when unset.
func (o LaunchOptions) TimeoutOr(def time.Duration) time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return def
}
