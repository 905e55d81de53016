package cas

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kuitang/cas-scenarios/internal/browser"
	"github.com/kuitang/cas-scenarios/internal/browser/httpdriver"
	"github.com/kuitang/cas-scenarios/internal/castest"
	"github.com/kuitang/cas-scenarios/internal/errs"
)

// stubPage answers from fixed maps and records the steps it was asked to take.
type stubPage struct {
	status   int
	gotoErr  error
	pressErr error
	texts    map[string]string
	visible  map[string]bool
	calls    []string
	filled   map[string]string
}

func (p *stubPage) Goto(_ context.Context, url string) (int, error) {
	p.calls = append(p.calls, "goto "+url)
	return p.status, p.gotoErr
}

func (p *stubPage) Fill(_ context.Context, selector, value string) error {
	p.calls = append(p.calls, "fill "+selector)
	if p.filled == nil {
		p.filled = map[string]string{}
	}
	p.filled[selector] = value
	return nil
}

func (p *stubPage) Press(_ context.Context, selector, key string) error {
	p.calls = append(p.calls, "press "+selector+" "+key)
	return p.pressErr
}

func (p *stubPage) WaitForSelector(_ context.Context, selector string) error {
	if _, ok := p.texts[selector]; ok {
		return nil
	}
	if _, ok := p.visible[selector]; ok {
		return nil
	}
	return fmt.Errorf("%w: %s", browser.ErrNotFound, selector)
}

func (p *stubPage) TextContent(ctx context.Context, selector string) (string, error) {
	if err := p.WaitForSelector(ctx, selector); err != nil {
		return "", err
	}
	return p.texts[selector], nil
}

func (p *stubPage) IsVisible(_ context.Context, selector string) (bool, error) {
	return p.visible[selector], nil
}

func (p *stubPage) URL() string                                { return "https://cas.example.org/cas/login" }
func (p *stubPage) Content(context.Context) (string, error)    { return "", nil }
func (p *stubPage) Screenshot(context.Context) ([]byte, error) { return nil, browser.ErrUnsupported }

func TestGoto_HTTPErrorStatusFails(t *testing.T) {
	t.Parallel()

	h := New(Options{})
	err := h.Goto(context.Background(), &stubPage{status: 503}, "https://cas.example.org/cas/login")
	require.Error(t, err)
	require.Equal(t, errs.Navigation, errs.CodeOf(err))
	require.Contains(t, err.Error(), "HTTP 503")
}

func TestGoto_TransportErrorIsNavigation(t *testing.T) {
	t.Parallel()

	h := New(Options{})
	err := h.Goto(context.Background(), &stubPage{gotoErr: errors.New("connection refused")}, "https://cas.example.org/")
	require.Equal(t, errs.Navigation, errs.CodeOf(err))
}

func TestGoto_UnknownStatusPasses(t *testing.T) {
	t.Parallel()

	require.NoError(t, New(Options{}).Goto(context.Background(), &stubPage{status: 0}, "https://cas.example.org/"))
}

func TestLoginWith_FillsBothFieldsAndSubmitsWithEnter(t *testing.T) {
	t.Parallel()

	page := &stubPage{texts: map[string]string{UsernameSelector: ""}}
	h := New(Options{Credentials: Credentials{Username: "casuser", Password: "Mellon"}})

	require.NoError(t, h.LoginWith(context.Background(), page))
	require.Equal(t, []string{"fill #username", "fill #password", "press #password Enter"}, page.calls)
	require.Equal(t, map[string]string{"#username": "casuser", "#password": "Mellon"}, page.filled)
}

func TestLoginWith_MissingFormIsAssertion(t *testing.T) {
	t.Parallel()

	err := New(Options{}).LoginWith(context.Background(), &stubPage{})
	require.True(t, errs.IsAssertion(err), "got %v", err)
	require.ErrorIs(t, err, browser.ErrNotFound)
}

func TestLoginWith_SubmitFailureIsNavigation(t *testing.T) {
	t.Parallel()

	page := &stubPage{texts: map[string]string{UsernameSelector: ""}, pressErr: errors.New("net::ERR_ABORTED")}
	err := New(Options{}).LoginWith(context.Background(), page)
	require.Equal(t, errs.Navigation, errs.CodeOf(err))
}

func TestAssertTextContent(t *testing.T) {
	t.Parallel()

	const sel = "#main-content #login #fm1 h3"
	tests := []struct {
		name string
		text string
		ok   bool
	}{
		{"exact", "Acceptable Usage Policy", true},
		{"surrounding whitespace", "\n   Acceptable Usage Policy  \t", true},
		{"different case", "acceptable usage policy", false},
		{"prefix only", "Acceptable Usage", false},
		{"extra words", "Acceptable Usage Policy v2", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := &stubPage{texts: map[string]string{sel: tt.text}}
			err := New(Options{}).AssertTextContent(context.Background(), page, sel, "Acceptable Usage Policy")
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.True(t, errs.IsAssertion(err), "got %v", err)
		})
	}
}

func TestAssertTextContent_MissingElementIsAssertion(t *testing.T) {
	t.Parallel()

	err := New(Options{}).AssertTextContent(context.Background(), &stubPage{}, "h3", "x")
	require.True(t, errs.IsAssertion(err), "got %v", err)
	require.Contains(t, err.Error(), "not found")
}

func TestAssertVisibility(t *testing.T) {
	t.Parallel()

	page := &stubPage{visible: map[string]bool{
		"button[name=submit]": true,
		"button[name=cancel]": false,
	}}
	h := New(Options{})
	ctx := context.Background()

	require.NoError(t, h.AssertVisibility(ctx, page, "button[name=submit]"))

	err := h.AssertVisibility(ctx, page, "button[name=cancel]")
	require.True(t, errs.IsAssertion(err), "got %v", err)
	require.Contains(t, err.Error(), "not visible")

	err = h.AssertVisibility(ctx, page, "button[name=other]")
	require.True(t, errs.IsAssertion(err), "got %v", err)
}

func TestStepErr_NonNotFoundIsUnavailable(t *testing.T) {
	t.Parallel()

	err := stepErr("visibility", "#x", browser.ErrClosed)
	require.Equal(t, errs.Unavailable, errs.CodeOf(err))
	require.ErrorIs(t, err, browser.ErrClosed)
}

func TestHelper_AgainstFakeServer(t *testing.T) {
	s := castest.New(t, castest.Options{})
	h := New(Options{
		Launch:      browser.LaunchOptions{Headless: true, IgnoreHTTPSErrors: true, Timeout: 5 * time.Second},
		Credentials: Credentials{Username: castest.DefaultUsername, Password: castest.DefaultPassword},
	})
	ctx := context.Background()

	b, err := httpdriver.New().Launch(ctx, h.BrowserOptions())
	require.NoError(t, err)
	defer b.Close()

	page, err := h.NewPage(ctx, b)
	require.NoError(t, err)
	require.NoError(t, h.Goto(ctx, page, s.LoginURL(s.ServiceURL())))
	require.NoError(t, h.LoginWith(ctx, page))
	require.NoError(t, h.AssertTextContent(ctx, page, "#main-content #login #fm1 h3", "Acceptable Usage Policy"))
	require.NoError(t, h.AssertVisibility(ctx, page, "button[name=submit]"))
	require.NoError(t, h.AssertVisibility(ctx, page, "button[name=cancel]"))

	// Wrong password re-renders the login form with 401.
	page2, err := h.NewPage(ctx, b)
	require.NoError(t, err)
	require.NoError(t, h.Goto(ctx, page2, s.LoginURL(s.ServiceURL())))
	require.NoError(t, h.LoginWithCredentials(ctx, page2, castest.DefaultUsername, "wrong"))
	err = h.AssertTextContent(ctx, page2, "#main-content #login #fm1 h3", "Acceptable Usage Policy")
	require.True(t, errs.IsAssertion(err), "got %v", err)
}
