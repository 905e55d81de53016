// Package pwdriver drives Chromium through Playwright.
package pwdriver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/cas-scenarios/internal/browser"
	"github.com/kuitang/cas-scenarios/internal/obs"
)

const defaultTimeout = 10 * time.Second

// Driver launches Chromium via the Playwright driver process.
type Driver struct {
	// RunOptions are passed to playwright.Run, e.g. to skip browser installation.
	RunOptions *playwright.RunOptions
}

// New returns a Playwright driver.
func New() *Driver {
	return &Driver{}
}

func (d *Driver) Name() string { return "playwright" }

// Launch starts the Playwright driver and a Chromium instance. Close on the returned
// browser stops both.
func (d *Driver) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var runOpts []*playwright.RunOptions
	if d.RunOptions != nil {
		runOpts = append(runOpts, d.RunOptions)
	}
	pw, err := playwright.Run(runOpts...)
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	}
	if opts.SlowMo > 0 {
		launchOpts.SlowMo = playwright.Float(float64(opts.SlowMo.Milliseconds()))
	}
	chromium, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	timeoutMS := float64(opts.TimeoutOr(defaultTimeout).Milliseconds())
	bctx, err := chromium.NewContext(playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(opts.IgnoreHTTPSErrors),
	})
	if err != nil {
		_ = chromium.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("create browser context: %w", err)
	}
	bctx.SetDefaultTimeout(timeoutMS)
	bctx.SetDefaultNavigationTimeout(timeoutMS)

	obs.From(ctx).Debug("playwright browser launched", "pkg", "pwdriver", "headless", opts.Headless, "version", chromium.Version())
	return &Browser{pw: pw, browser: chromium, context: bctx, timeoutMS: timeoutMS}, nil
}

// Browser is a Chromium instance with one isolated browser context.
type Browser struct {
	pw        *playwright.Playwright
	browser   playwright.Browser
	context   playwright.BrowserContext
	timeoutMS float64

	closeOnce sync.Once
	closeErr  error
	closed    bool
	mu        sync.Mutex
}

func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, browser.ErrClosed
	}

	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("new page: %w", err)
	}
	page.SetDefaultTimeout(b.timeoutMS)
	page.SetDefaultNavigationTimeout(b.timeoutMS)
	return &Page{page: page, timeoutMS: b.timeoutMS}, nil
}

// Close closes the context, the browser, and stops the Playwright driver.
func (b *Browser) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()

		var errs []error
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close context: %w", err))
		}
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop playwright: %w", err))
		}
		b.closeErr = errors.Join(errs...)
	})
	return b.closeErr
}

// Page wraps a Playwright page.
type Page struct {
	page      playwright.Page
	timeoutMS float64
}

func (p *Page) Goto(ctx context.Context, url string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	resp, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   playwright.Float(p.timeoutMS),
	})
	if err != nil {
		return 0, err
	}
	if resp == nil {
		return 0, nil
	}
	return resp.Status(), nil
}

func (p *Page) Fill(ctx context.Context, selector, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapErr(p.page.Locator(selector).First().Fill(value))
}

func (p *Page) Press(ctx context.Context, selector, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	locator := p.page.Locator(selector).First()
	if key != "Enter" {
		return mapErr(locator.Press(key))
	}

	// Enter submits the form; wait for the document that replaces this one.
	var pressErr error
	_, err := p.page.ExpectNavigation(func() error {
		pressErr = locator.Press(key)
		return pressErr
	}, playwright.PageExpectNavigationOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   playwright.Float(p.timeoutMS),
	})
	if pressErr != nil {
		return mapErr(pressErr)
	}
	if err != nil {
		return fmt.Errorf("wait for navigation after %s: %w", key, err)
	}
	return nil
}

func (p *Page) WaitForSelector(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := p.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(p.timeoutMS),
	})
	return mapErr(err)
}

func (p *Page) TextContent(ctx context.Context, selector string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := p.page.Locator(selector).First().InnerText()
	if err != nil {
		return "", mapErr(err)
	}
	return text, nil
}

func (p *Page) IsVisible(ctx context.Context, selector string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return p.page.Locator(selector).First().IsVisible()
}

func (p *Page) URL() string {
	return p.page.URL()
}

func (p *Page) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.page.Content()
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
	})
}

// mapErr turns a locator timeout into ErrNotFound so callers can tell a missing
// element from a dead browser.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %v", browser.ErrNotFound, err)
	}
	return err
}
