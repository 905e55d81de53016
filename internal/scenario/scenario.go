// Package scenario runs browser acceptance scenarios. A scenario is one linear
// flow of helper steps; the Runner owns the browser around it and guarantees the
// browser is closed exactly once however the flow ends.
package scenario

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/kuitang/cas-scenarios/internal/browser"
	"github.com/kuitang/cas-scenarios/internal/errs"
)

// Helper is the shared step library scenarios are written in.
type Helper interface {
	BrowserOptions() browser.LaunchOptions
	NewPage(ctx context.Context, b browser.Browser) (browser.Page, error)
	Goto(ctx context.Context, page browser.Page, url string) error
	LoginWith(ctx context.Context, page browser.Page) error
	AssertTextContent(ctx context.Context, page browser.Page, selector, expected string) error
	AssertVisibility(ctx context.Context, page browser.Page, selector string) error
}

// Session is what a scenario's steps operate on. The browser itself stays with the Runner.
type Session struct {
	Page   browser.Page
	Helper Helper
}

// Scenario is one acceptance flow.
type Scenario struct {
	Name string
	Run  func(ctx context.Context, s *Session) error
}

// Target identifies the server a scenario runs against.
type Target struct {
	BaseURL string
	Service string
}

// Factory builds a scenario for a target.
type Factory func(Target) Scenario

var registry = map[string]Factory{
	AUPLoginName: func(t Target) Scenario { return AUPLogin(t.BaseURL, t.Service) },
}

// Lookup returns the factory registered under name.
func Lookup(name string) (Factory, bool) {
	f, ok := registry[name]
	return f, ok
}

// Names returns the registered scenario names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoginURL returns the CAS login URL on baseURL with service as the redirect target.
// A base URL that already ends in /cas is not given a second one.
func LoginURL(baseURL, service string) (string, error) {
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", errs.Wrap(errs.InvalidArgument, "parse base URL", err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return "", errs.New(errs.InvalidArgument, fmt.Sprintf("base URL %q must be absolute http(s)", baseURL))
	}

	p := strings.TrimRight(base.Path, "/")
	if !strings.HasSuffix(p, "/cas") {
		p += "/cas"
	}
	login := url.URL{Scheme: base.Scheme, Host: base.Host, Path: p + "/login"}
	if service != "" {
		login.RawQuery = url.Values{"service": {service}}.Encode()
	}
	return login.String(), nil
}
