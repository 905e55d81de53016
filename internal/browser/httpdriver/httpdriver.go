// Package httpdriver is a browserless driver: pages are fetched with net/http and
// queried with goquery. It runs no JavaScript and has no layout engine, so
// visibility is judged from markup alone (hidden attribute, type=hidden, and
// inline display, visibility, width and height). That is enough for server-rendered
// login flows and lets scenarios run where no browser is installed.
package httpdriver

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/kuitang/cas-scenarios/internal/browser"
	"github.com/kuitang/cas-scenarios/internal/logutil"
	"github.com/kuitang/cas-scenarios/internal/obs"
)

const (
	defaultTimeout = 10 * time.Second
	userAgent      = "casscenario/1.0 (httpdriver)"
	maxBodyBytes   = 8 << 20
)

// Driver creates HTTP "browsers", each with its own cookie jar.
type Driver struct {
	// Transport overrides the default transport, e.g. an httptest server's client transport.
	Transport http.RoundTripper
}

// New returns an HTTP driver.
func New() *Driver {
	return &Driver{}
}

func (d *Driver) Name() string { return "http" }

func (d *Driver) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	transport := d.Transport
	var owned *http.Transport
	if transport == nil {
		owned = http.DefaultTransport.(*http.Transport).Clone()
		if opts.IgnoreHTTPSErrors {
			owned.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // mirrors the browser's ignore-certificate-errors flag
		}
		transport = owned
	}

	return &Browser{
		client: &http.Client{
			Jar:       jar,
			Transport: transport,
			Timeout:   opts.TimeoutOr(defaultTimeout),
		},
		transport: owned,
		slowMo:    opts.SlowMo,
	}, nil
}

// Browser holds the cookie jar shared by its pages.
type Browser struct {
	client    *http.Client
	transport *http.Transport
	slowMo    time.Duration
	closed    atomic.Bool
}

func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.closed.Load() {
		return nil, browser.ErrClosed
	}
	return &Page{browser: b}, nil
}

func (b *Browser) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	if b.transport != nil {
		b.transport.CloseIdleConnections()
	}
	return nil
}

// Page is the last document loaded into a tab.
type Page struct {
	browser *Browser
	url     *url.URL
	doc     *goquery.Document
}

func (p *Page) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.browser.closed.Load() {
		return browser.ErrClosed
	}
	return nil
}

func (p *Page) checkLoaded(ctx context.Context) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	if p.doc == nil {
		return fmt.Errorf("%w: no document loaded", browser.ErrNotFound)
	}
	return nil
}

func (p *Page) Goto(ctx context.Context, rawURL string) (int, error) {
	if err := p.check(ctx); err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	return p.load(ctx, req, nil)
}

func (p *Page) Fill(ctx context.Context, selector, value string) error {
	if err := p.checkLoaded(ctx); err != nil {
		return err
	}
	sel := p.doc.Find(selector).First()
	if sel.Length() == 0 {
		return fmt.Errorf("%w: %s", browser.ErrNotFound, selector)
	}
	switch goquery.NodeName(sel) {
	case "input":
		sel.SetAttr("value", value)
	case "textarea":
		sel.SetText(value)
	default:
		return fmt.Errorf("fill %s: element <%s> is not an input", selector, goquery.NodeName(sel))
	}
	return nil
}

// Press supports only Enter, which submits the element's form the way a browser's
// implicit submission does.
func (p *Page) Press(ctx context.Context, selector, key string) error {
	if err := p.checkLoaded(ctx); err != nil {
		return err
	}
	if key != "Enter" {
		return fmt.Errorf("press %q: %w", key, browser.ErrUnsupported)
	}
	sel := p.doc.Find(selector).First()
	if sel.Length() == 0 {
		return fmt.Errorf("%w: %s", browser.ErrNotFound, selector)
	}
	form := sel.Closest("form")
	if form.Length() == 0 {
		return fmt.Errorf("press Enter in %s: element is not inside a form", selector)
	}

	req, values, err := p.submitRequest(ctx, form)
	if err != nil {
		return err
	}
	_, err = p.load(ctx, req, values)
	return err
}

func (p *Page) WaitForSelector(ctx context.Context, selector string) error {
	if err := p.checkLoaded(ctx); err != nil {
		return err
	}
	if p.doc.Find(selector).Length() == 0 {
		return fmt.Errorf("%w: %s", browser.ErrNotFound, selector)
	}
	return nil
}

func (p *Page) TextContent(ctx context.Context, selector string) (string, error) {
	if err := p.checkLoaded(ctx); err != nil {
		return "", err
	}
	sel := p.doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", fmt.Errorf("%w: %s", browser.ErrNotFound, selector)
	}
	return strings.Join(strings.Fields(sel.Text()), " "), nil
}

func (p *Page) IsVisible(ctx context.Context, selector string) (bool, error) {
	if err := p.checkLoaded(ctx); err != nil {
		return false, err
	}
	sel := p.doc.Find(selector).First()
	if sel.Length() == 0 {
		return false, nil
	}
	return isVisible(sel), nil
}

func (p *Page) URL() string {
	if p.url == nil {
		return "about:blank"
	}
	return p.url.String()
}

func (p *Page) Content(ctx context.Context) (string, error) {
	if err := p.checkLoaded(ctx); err != nil {
		return "", err
	}
	return p.doc.Html()
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	return nil, browser.ErrUnsupported
}

func (p *Page) load(ctx context.Context, req *http.Request, form url.Values) (int, error) {
	if err := p.browser.pause(ctx); err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	if corr := obs.CorrelationFromContext(ctx); corr.RunID != "" {
		req.Header.Set(obs.RequestIDHeader, corr.RunID)
	}

	log := obs.From(ctx).With("pkg", "httpdriver")
	log.Debug("http_driver_request",
		"method", req.Method,
		"url", logutil.RedactURLForLog(req.URL.String()),
		"headers", logutil.FormatHeadersForLog(req.Header),
		"form", logutil.FormatFormForLog(form),
	)

	resp, err := p.browser.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", req.Method, logutil.RedactURLForLog(req.URL.String()), err)
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("parse HTML: %w", err)
	}
	p.doc = doc
	p.url = resp.Request.URL

	log.Debug("http_driver_response",
		"status", resp.StatusCode,
		"url", logutil.RedactURLForLog(p.url.String()),
		"title", strings.TrimSpace(doc.Find("title").First().Text()),
	)
	return resp.StatusCode, nil
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

// submitRequest builds the request a browser sends for an implicit submission of form.
func (p *Page) submitRequest(ctx context.Context, form *goquery.Selection) (*http.Request, url.Values, error) {
	values := formValues(form)

	submitter := form.Find(`button[type=submit], button:not([type]), input[type=submit]`).First()
	action, _ := form.Attr("action")
	method, _ := form.Attr("method")
	if submitter.Length() > 0 {
		if name, ok := submitter.Attr("name"); ok && name != "" {
			v, _ := submitter.Attr("value")
			values.Add(name, v)
		}
		if fa, ok := submitter.Attr("formaction"); ok {
			action = fa
		}
	}

	target, err := p.url.Parse(strings.TrimSpace(action))
	if err != nil {
		return nil, nil, fmt.Errorf("resolve form action %q: %w", action, err)
	}

	if strings.EqualFold(strings.TrimSpace(method), http.MethodPost) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewBufferString(values.Encode()))
		if err != nil {
			return nil, nil, fmt.Errorf("build form request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, values, nil
	}

	target.RawQuery = values.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build form request: %w", err)
	}
	return req, values, nil
}

func formValues(form *goquery.Selection) url.Values {
	values := url.Values{}
	form.Find("input, select, textarea").Each(func(_ int, field *goquery.Selection) {
		name, _ := field.Attr("name")
		if name == "" {
			return
		}
		if _, disabled := field.Attr("disabled"); disabled {
			return
		}

		switch goquery.NodeName(field) {
		case "input":
			typ := strings.ToLower(field.AttrOr("type", "text"))
			switch typ {
			case "submit", "button", "image", "reset", "file":
				return
			case "checkbox", "radio":
				if _, checked := field.Attr("checked"); !checked {
					return
				}
				values.Add(name, field.AttrOr("value", "on"))
			default:
				values.Add(name, field.AttrOr("value", ""))
			}
		case "textarea":
			values.Add(name, field.Text())
		case "select":
			opt := field.Find("option[selected]").First()
			if opt.Length() == 0 {
				opt = field.Find("option").First()
			}
			if opt.Length() == 0 {
				return
			}
			values.Add(name, opt.AttrOr("value", strings.TrimSpace(opt.Text())))
		}
	})
	return values
}
