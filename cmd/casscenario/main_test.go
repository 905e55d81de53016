package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kuitang/cas-scenarios/internal/castest"
	"github.com/kuitang/cas-scenarios/internal/config"
	"github.com/kuitang/cas-scenarios/internal/errs"
	"github.com/kuitang/cas-scenarios/internal/obs"
)

func setTarget(t *testing.T, s *castest.Server) {
	t.Helper()
	t.Cleanup(obs.SetOutputForTests(io.Discard))
	t.Setenv("CAS_BASE_URL", s.URL)
	t.Setenv("CAS_SERVICE", s.ServiceURL())
	t.Setenv("CAS_USERNAME", castest.DefaultUsername)
	t.Setenv("CAS_PASSWORD", castest.DefaultPassword)
	t.Setenv("IGNORE_HTTPS_ERRORS", "true")
	t.Setenv("ARTIFACT_DIR", "")
	t.Setenv("ARTIFACT_BUCKET", "")
}

func TestRun_PassingScenarioExitsZero(t *testing.T) {
	s := castest.New(t, castest.Options{})
	setTarget(t, s)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"--driver", "http", "aup-login"}, &stdout, &stderr)
	if code != errs.ExitOK {
		t.Fatalf("exit %d, stdout=%s stderr=%s", code, stdout.String(), stderr.String())
	}
	if !strings.HasPrefix(stdout.String(), "PASS aup-login (http, ") {
		t.Fatalf("unexpected output: %q", stdout.String())
	}
}

func TestRun_FailingScenarioExitsOneWithArtifacts(t *testing.T) {
	s := castest.New(t, castest.Options{SkipAUP: true})
	setTarget(t, s)
	dir := t.TempDir()
	t.Setenv("ARTIFACT_DIR", dir)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"--driver", "http", "aup-login"}, &stdout, &stderr)
	if code != errs.ExitFailed {
		t.Fatalf("exit %d, want %d; stdout=%s", code, errs.ExitFailed, stdout.String())
	}
	out := stdout.String()
	if !strings.Contains(out, "FAIL aup-login") || !strings.Contains(out, "artifact: "+dir) {
		t.Fatalf("unexpected output: %q", out)
	}
	if !strings.Contains(out, "    assertion: text content: element #main-content #login #fm1 h3 not found\n") {
		t.Fatalf("failure line should carry the code and message: %q", out)
	}

	metas, err := filepath.Glob(filepath.Join(dir, "aup-login", "*", "meta.json"))
	if err != nil || len(metas) != 1 {
		t.Fatalf("expected one meta.json, got %v (%v)", metas, err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(metas[0]), "page.html")); err != nil {
		t.Fatalf("page.html missing: %v", err)
	}
}

func TestRun_List(t *testing.T) {
	t.Cleanup(obs.SetOutputForTests(io.Discard))

	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"--list"}, &stdout, &stderr); code != errs.ExitOK {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	if stdout.String() != "aup-login\n" {
		t.Fatalf("unexpected list: %q", stdout.String())
	}
}

func TestRun_UsageErrors(t *testing.T) {
	t.Cleanup(obs.SetOutputForTests(io.Discard))
	t.Setenv("CAS_BASE_URL", "")

	tests := []struct {
		name string
		args []string
	}{
		{"no scenario", nil},
		{"unknown flag", []string{"--nope", "aup-login"}},
		{"unknown driver", []string{"--driver", "selenium", "aup-login"}},
		{"unknown scenario", []string{"--driver", "http", "logout"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(context.Background(), tt.args, &stdout, &stderr); code != errs.ExitUsage {
				t.Fatalf("exit %d, want %d; stderr=%s", code, errs.ExitUsage, stderr.String())
			}
			if stdout.Len() != 0 {
				t.Fatalf("usage error wrote to stdout: %q", stdout.String())
			}
		})
	}
}

func TestRun_HelpExitsZero(t *testing.T) {
	t.Cleanup(obs.SetOutputForTests(io.Discard))

	for _, arg := range []string{"-h", "--help"} {
		var stdout, stderr bytes.Buffer
		if code := run(context.Background(), []string{arg}, &stdout, &stderr); code != errs.ExitOK {
			t.Fatalf("%s: exit %d, want %d", arg, code, errs.ExitOK)
		}
		if !strings.Contains(stderr.String(), "usage: casscenario") {
			t.Fatalf("%s: usage text missing: %q", arg, stderr.String())
		}
	}
}

func TestRun_UnparsableEnvIsUsageError(t *testing.T) {
	s := castest.New(t, castest.Options{})
	setTarget(t, s)
	t.Setenv("BROWSER_TIMEOUT", "abc")

	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"--driver", "http", "aup-login"}, &stdout, &stderr); code != errs.ExitUsage {
		t.Fatalf("exit %d, want %d", code, errs.ExitUsage)
	}
	if !strings.Contains(stderr.String(), `BROWSER_TIMEOUT="abc"`) {
		t.Fatalf("bad value not reported: %q", stderr.String())
	}
	if s.Logins() != 0 {
		t.Fatal("scenario ran despite a configuration error")
	}
}

func TestStartupExit(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"help", flag.ErrHelp, errs.ExitOK},
		{"validation", &config.ValidationError{Errors: []string{"x"}}, errs.ExitUsage},
		{"other", errors.New("boom"), errs.ExitFailed},
	}
	for _, tt := range tests {
		if got := startupExit(tt.err); got != tt.want {
			t.Fatalf("%s: startupExit = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestRun_InterruptedBeforeStart(t *testing.T) {
	s := castest.New(t, castest.Options{})
	setTarget(t, s)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stdout, stderr bytes.Buffer
	if code := run(ctx, []string{"--driver", "http", "aup-login"}, &stdout, &stderr); code != errs.ExitFailed {
		t.Fatalf("exit %d, want %d", code, errs.ExitFailed)
	}
	if s.Logins() != 0 {
		t.Fatalf("cancelled run still logged in %d times", s.Logins())
	}
}
