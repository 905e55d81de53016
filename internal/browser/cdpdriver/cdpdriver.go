// Package cdpdriver drives Chrome over the DevTools protocol with chromedp.
package cdpdriver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/kuitang/cas-scenarios/internal/browser"
	"github.com/kuitang/cas-scenarios/internal/obs"
)

const (
	defaultTimeout = 10 * time.Second
	pollInterval   = 100 * time.Millisecond
	urlTimeout     = 2 * time.Second
)

// Driver launches a Chrome subprocess per browser.
type Driver struct {
	// ExecPath overrides chromedp's Chrome discovery.
	ExecPath string
}

// New returns a chromedp driver.
func New() *Driver {
	return &Driver{}
}

func (d *Driver) Name() string { return "chromedp" }

func (d *Driver) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	options := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
	)
	if opts.IgnoreHTTPSErrors {
		options = append(options, chromedp.IgnoreCertErrors)
	}
	if runtime.GOOS != "darwin" && runtime.GOOS != "windows" {
		// CI runs inside containers where the Chrome sandbox cannot start.
		options = append(options, chromedp.NoSandbox)
	}
	if d.ExecPath != "" {
		options = append(options, chromedp.ExecPath(d.ExecPath))
	}

	log := obs.Pkg("cdpdriver")
	logf := func(format string, args ...any) { log.Debug(fmt.Sprintf(format, args...)) }
	errorf := func(format string, args ...any) { log.Warn(fmt.Sprintf(format, args...)) }

	// The browser outlives the launch call, so its contexts do not derive from ctx.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), options...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logf),
		chromedp.WithErrorf(errorf),
	)

	stop := context.AfterFunc(ctx, cancelBrowser)
	err := chromedp.Run(browserCtx)
	stop()
	if err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	obs.From(ctx).Debug("chrome launched", "pkg", "cdpdriver", "headless", opts.Headless)
	return &Browser{
		ctx:           browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
		timeout:       opts.TimeoutOr(defaultTimeout),
		slowMo:        opts.SlowMo,
	}, nil
}

// Browser is one Chrome process.
type Browser struct {
	ctx           context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
	timeout       time.Duration
	slowMo        time.Duration

	closeOnce sync.Once
	closeErr  error
}

func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.ctx.Err() != nil {
		return nil, browser.ErrClosed
	}

	tabCtx, cancelTab := chromedp.NewContext(b.ctx)
	p := &Page{ctx: tabCtx, cancel: cancelTab, browser: b, lastURL: "about:blank"}

	chromedp.ListenTarget(tabCtx, func(ev any) {
		switch ev := ev.(type) {
		case *cdpruntime.EventExceptionThrown:
			obs.Pkg("cdpdriver").Debug("page exception", "error", ev.ExceptionDetails.Error())
		case *cdpruntime.EventConsoleAPICalled:
			if ev.Type == cdpruntime.APITypeError {
				obs.Pkg("cdpdriver").Debug("page console error", "args", len(ev.Args))
			}
		}
	})

	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return p, nil
}

// Close shuts Chrome down gracefully, then kills the allocator.
func (b *Browser) Close() error {
	b.closeOnce.Do(func() {
		if err := chromedp.Cancel(b.ctx); err != nil && !errors.Is(err, context.Canceled) {
			b.closeErr = fmt.Errorf("close chrome: %w", err)
		}
		b.cancelBrowser()
		b.cancelAlloc()
	})
	return b.closeErr
}

// Page is one Chrome tab.
type Page struct {
	ctx     context.Context
	cancel  context.CancelFunc
	browser *Browser

	mu      sync.Mutex
	lastURL string
}

// run executes actions on the tab, bounded by the browser timeout and the caller's ctx.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.browser.ctx.Err() != nil {
		return browser.ErrClosed
	}
	if err := p.browser.pause(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(p.ctx, p.browser.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func (p *Page) Goto(ctx context.Context, url string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if p.browser.ctx.Err() != nil {
		return 0, browser.ErrClosed
	}

	runCtx, cancel := context.WithTimeout(p.ctx, p.browser.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	resp, err := chromedp.RunResponse(runCtx, chromedp.Navigate(url))
	if err != nil {
		return 0, err
	}
	p.setURL(url)
	if resp == nil {
		return 0, nil
	}
	if resp.URL != "" {
		p.setURL(resp.URL)
	}
	return int(resp.Status), nil
}

func (p *Page) Fill(ctx context.Context, selector, value string) error {
	return notFound(selector, p.run(ctx, chromedp.SetValue(selector, value, chromedp.ByQuery)))
}

// Press sends key to the element and, for Enter, waits for the document it submits
// to finish loading. A press that triggers no navigation returns after the timeout.
func (p *Page) Press(ctx context.Context, selector, key string) error {
	if key == "Enter" {
		key = kb.Enter
	}
	const marker = `window.__casscenarioPending`
	if err := p.run(ctx, chromedp.Evaluate(marker+` = true`, nil)); err != nil {
		return err
	}
	if err := notFound(selector, p.run(ctx, chromedp.SendKeys(selector, key, chromedp.ByQuery))); err != nil {
		return err
	}

	deadline := time.Now().Add(p.browser.timeout)
	for time.Now().Before(deadline) {
		var done bool
		err := p.run(ctx, chromedp.Evaluate(`typeof `+marker+` === 'undefined' && document.readyState === 'complete'`, &done))
		if err != nil && (ctx.Err() != nil || errors.Is(err, browser.ErrClosed)) {
			return err
		}
		if err == nil && done {
			p.refreshURL(ctx)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return nil
}

func (p *Page) WaitForSelector(ctx context.Context, selector string) error {
	return notFound(selector, p.run(ctx, chromedp.WaitReady(selector, chromedp.ByQuery)))
}

func (p *Page) TextContent(ctx context.Context, selector string) (string, error) {
	var text string
	if err := p.run(ctx, chromedp.Text(selector, &text, chromedp.ByQuery)); err != nil {
		return "", notFound(selector, err)
	}
	return text, nil
}

const visibleJS = `(() => {
	const el = document.querySelector(%s);
	if (!el) return false;
	const style = window.getComputedStyle(el);
	if (style.visibility === 'hidden' || style.visibility === 'collapse' || style.display === 'none') return false;
	const rect = el.getBoundingClientRect();
	return rect.width > 0 && rect.height > 0;
})()`

func (p *Page) IsVisible(ctx context.Context, selector string) (bool, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return false, err
	}
	var visible bool
	if err := p.run(ctx, chromedp.Evaluate(fmt.Sprintf(visibleJS, quoted), &visible)); err != nil {
		return false, err
	}
	return visible, nil
}

func (p *Page) URL() string {
	p.refreshURL(context.Background())
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastURL
}

func (p *Page) Content(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *Page) refreshURL(ctx context.Context) {
	if p.browser.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, urlTimeout)
	defer cancel()
	var loc string
	if err := p.run(ctx, chromedp.Location(&loc)); err == nil && loc != "" {
		p.setURL(loc)
	}
}

func (p *Page) setURL(u string) {
	p.mu.Lock()
	p.lastURL = u
	p.mu.Unlock()
}

func (b *Browser) pause(ctx context.Context) error {
	if b.slowMo <= 0 {
		return nil
	}
	t := time.NewTimer(b.slowMo)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// notFound reports a query that timed out waiting for its node as ErrNotFound.
func notFound(selector string, err error) error {
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", browser.ErrNotFound, selector, err)
	}
	return err
}
