// Package castest runs a small fake CAS server for scenario tests. It serves the
// login webflow at /cas/login with the same markup structure as the CAS
// thymeleaf views the scenarios assert against, and an Acceptable Usage Policy
// interstitial after a successful login.
package castest

import (
	"crypto/subtle"
	"html/template"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/kuitang/cas-scenarios/internal/obs"
	"github.com/kuitang/cas-scenarios/internal/ratelimit"
)

const (
	DefaultUsername = "casuser"
	DefaultPassword = "Mellon"

	blockedMessage = "You've entered the wrong password for the user too many times. You've been throttled."
)

// Options controls how the fake server behaves.
type Options struct {
	Username string
	Password string
	// SkipAUP redirects straight to the service after login, as if the policy
	// had already been accepted.
	SkipAUP bool
	// HideButtons renders the policy's submit and cancel buttons with display:none.
	HideButtons bool
	// ZeroSizeCancel renders the cancel button with zero width and height.
	ZeroSizeCancel bool
	// MaxFailures blocks a username and client address with 423 Locked after that
	// many failed logins. Zero disables throttling.
	MaxFailures int
}

type stage int

const (
	stageLogin stage = iota
	stageAUP
)

// Server is a running fake CAS server.
type Server struct {
	*httptest.Server

	opts         Options
	passwordHash []byte
	throttle     *ratelimit.Throttle

	mu         sync.Mutex
	executions map[string]stage

	logins   atomic.Int64
	aupShown atomic.Int64
}

// New starts a TLS fake CAS server that is shut down when the test ends.
func New(t testing.TB, opts Options) *Server {
	t.Helper()

	s := NewUnstarted(opts)
	s.StartTLS()
	t.Cleanup(s.Close)
	return s
}

// NewUnstarted returns a server that the caller starts with Start or StartTLS.
func NewUnstarted(opts Options) *Server {
	if opts.Username == "" {
		opts.Username = DefaultUsername
	}
	if opts.Password == "" {
		opts.Password = DefaultPassword
	}
	// Stored like a CAS BCRYPT password encoder would; MinCost keeps tests fast.
	hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), bcrypt.MinCost)
	if err != nil {
		panic("castest: hash password: " + err.Error())
	}
	throttle := ratelimit.DefaultConfig
	throttle.Burst = opts.MaxFailures
	s := &Server{
		opts:         opts,
		passwordHash: hash,
		throttle:     ratelimit.New(throttle),
		executions:   make(map[string]stage),
	}

	blocked := ratelimit.BlockedMiddleware(s.throttle, throttleKey, http.HandlerFunc(s.handleBlocked))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /cas/login", s.handleLoginPage)
	mux.Handle("POST /cas/login", blocked(http.HandlerFunc(s.handleLoginSubmit)))
	mux.HandleFunc("GET /app", s.handleApp)

	var handler http.Handler = mux
	handler = obs.AccessLogMiddleware("castest", handler)
	handler = obs.RequestContextMiddleware(handler)
	s.Server = httptest.NewUnstartedServer(handler)
	return s
}

// LoginURL returns the CAS login URL for service.
func (s *Server) LoginURL(service string) string {
	return s.URL + "/cas/login?service=" + url.QueryEscape(service)
}

// ServiceURL returns a service URL hosted on this server, so redirects stay local.
func (s *Server) ServiceURL() string {
	return s.URL + "/app"
}

// Logins returns the number of successful credential checks.
func (s *Server) Logins() int64 { return s.logins.Load() }

// AUPShown returns the number of times the policy page was rendered.
func (s *Server) AUPShown() int64 { return s.aupShown.Load() }

func (s *Server) newExecution(st stage) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.executions[id] = st
	s.mu.Unlock()
	return id
}

// takeExecution consumes an execution id; webflow executions are single use.
func (s *Server) takeExecution(id string) (stage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.executions[id]
	if ok {
		delete(s.executions, id)
	}
	return st, ok
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	s.renderLogin(w, r, http.StatusOK, "")
}

func (s *Server) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	service := r.URL.Query().Get("service")

	st, ok := s.takeExecution(r.PostForm.Get("execution"))
	if !ok {
		s.renderLogin(w, r, http.StatusBadRequest, "Your login session has expired.")
		return
	}

	switch st {
	case stageLogin:
		key := throttleKey(r)
		if !s.authenticate(r.PostForm.Get("username"), r.PostForm.Get("password")) {
			locked := s.throttle.RecordFailure(key)
			obs.From(r.Context()).Info("authentication failed", "pkg", "castest", "throttled", locked)
			s.renderLogin(w, r, http.StatusUnauthorized, "Invalid credentials.")
			return
		}
		s.throttle.Reset(key)
		s.logins.Add(1)
		if s.opts.SkipAUP {
			s.redirectToService(w, r, service)
			return
		}
		s.renderAUP(w, r, service)
	case stageAUP:
		if r.PostForm.Get("_eventId") == "cancel" {
			s.renderLogin(w, r, http.StatusOK, "")
			return
		}
		s.redirectToService(w, r, service)
	}
}

func (s *Server) authenticate(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.opts.Username)) == 1
	passOK := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)) == nil
	return userOK && passOK
}

func (s *Server) handleBlocked(w http.ResponseWriter, r *http.Request) {
	s.renderLogin(w, r, http.StatusLocked, blockedMessage)
}

func throttleKey(r *http.Request) string {
	username := r.PostFormValue("username")
	if username == "" {
		return ""
	}
	return ratelimit.Key(username, r.RemoteAddr)
}

func (s *Server) handleApp(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = appTemplate.Execute(w, map[string]any{"Ticket": r.URL.Query().Get("ticket") != ""})
}

func (s *Server) redirectToService(w http.ResponseWriter, r *http.Request, service string) {
	if service == "" {
		s.renderLogin(w, r, http.StatusOK, "")
		return
	}
	target, err := url.Parse(service)
	if err != nil {
		http.Error(w, "invalid service", http.StatusBadRequest)
		return
	}
	q := target.Query()
	q.Set("ticket", "ST-"+uuid.NewString())
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (s *Server) renderLogin(w http.ResponseWriter, r *http.Request, status int, flash string) {
	s.render(w, status, loginTemplate, map[string]any{
		"Action":    formAction(r),
		"Execution": s.newExecution(stageLogin),
		"Flash":     flash,
	})
}

func (s *Server) renderAUP(w http.ResponseWriter, r *http.Request, service string) {
	s.aupShown.Add(1)
	s.render(w, http.StatusOK, aupTemplate, map[string]any{
		"Action":         formAction(r),
		"Execution":      s.newExecution(stageAUP),
		"Service":        service,
		"HideButtons":    s.opts.HideButtons,
		"ZeroSizeCancel": s.opts.ZeroSizeCancel,
	})
}

func (s *Server) render(w http.ResponseWriter, status int, tmpl *template.Template, data map[string]any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = tmpl.Execute(w, data)
}

func formAction(r *http.Request) string {
	if service := r.URL.Query().Get("service"); service != "" {
		return "/cas/login?service=" + url.QueryEscape(service)
	}
	return "/cas/login"
}
