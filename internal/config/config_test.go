package config

import (
	"bytes"
	"errors"
	"flag"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func validTestConfig() Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		Service:   DefaultService,
		Username:  DefaultUsername,
		Password:  DefaultPassword,
		Driver:    "http",
		Headless:  true,
		Timeout:   DefaultTimeout,
		Scenarios: []string{"aup-login"},
	}
}

func TestValidate_MinimalConfigPasses(t *testing.T) {
	t.Parallel()
	cfg := validTestConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	t.Parallel()
	cfg := validTestConfig()
	cfg.BaseURL = "localhost:8443"
	cfg.Service = "not a url"
	cfg.Driver = "selenium"
	cfg.Timeout = 0
	cfg.ArtifactBucket = "artifacts"
	cfg.Scenarios = nil

	err := cfg.Validate()
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	msg := err.Error()
	for _, expected := range []string{
		"CAS_BASE_URL",
		"CAS_SERVICE",
		`driver "selenium"`,
		"BROWSER_TIMEOUT",
		"AWS_ACCESS_KEY_ID",
		"AWS_SECRET_ACCESS_KEY",
		"scenario name",
	} {
		if !strings.Contains(msg, expected) {
			t.Fatalf("expected validation error to mention %q, got: %v", expected, err)
		}
	}
}

func TestValidate_ListNeedsNoScenario(t *testing.T) {
	t.Parallel()
	cfg := validTestConfig()
	cfg.Scenarios = nil
	cfg.List = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("--list must not require scenarios: %v", err)
	}
}

func testValidate_RejectsNonHTTPBaseURL(t *rapid.T) {
	cfg := validTestConfig()
	scheme := rapid.SampledFrom([]string{"ftp", "file", "ws", "cas"}).Draw(t, "scheme")
	host := rapid.StringMatching(`[a-z]{1,12}(:[0-9]{2,5})?`).Draw(t, "host")
	cfg.BaseURL = scheme + "://" + host

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "CAS_BASE_URL") {
		t.Fatalf("expected CAS_BASE_URL error for %q, got %v", cfg.BaseURL, err)
	}
}

func TestValidate_RejectsNonHTTPBaseURL(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testValidate_RejectsNonHTTPBaseURL)
}

func TestLoadConfig_DefaultsAndOverrides(t *testing.T) {
	t.Setenv("CAS_BASE_URL", "https://cas.example.net:8443/")
	t.Setenv("CAS_SERVICE", "")
	t.Setenv("CAS_USERNAME", "")
	t.Setenv("CAS_PASSWORD", "")
	t.Setenv("SCENARIO_DRIVER", "chromedp")
	t.Setenv("HEADLESS", "true")
	t.Setenv("IGNORE_HTTPS_ERRORS", "")
	t.Setenv("BROWSER_TIMEOUT", "3s")
	t.Setenv("BROWSER_SLOWMO", "")
	t.Setenv("ARTIFACT_BUCKET", "")

	cfg, err := LoadConfig(Flags{Driver: "http", Headful: true, Scenarios: []string{"aup-login"}})
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.BaseURL != "https://cas.example.net:8443" {
		t.Fatalf("BaseURL mismatch: %q", cfg.BaseURL)
	}
	if cfg.Service != DefaultService || cfg.Username != DefaultUsername || cfg.Password != DefaultPassword {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Driver != "http" {
		t.Fatalf("--driver must override SCENARIO_DRIVER, got %q", cfg.Driver)
	}
	if cfg.Headless {
		t.Fatal("--headful must override HEADLESS")
	}
	if !cfg.IgnoreHTTPSErrors {
		t.Fatal("IGNORE_HTTPS_ERRORS should default to true")
	}
	if cfg.Timeout != 3*time.Second {
		t.Fatalf("Timeout mismatch: %v", cfg.Timeout)
	}
}

func TestParseFlags(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	f, err := ParseFlags([]string{"-driver", "http", "-headful", "aup-login"}, &out)
	if err != nil {
		t.Fatalf("ParseFlags failed: %v", err)
	}
	if f.Driver != "http" || !f.Headful || len(f.Scenarios) != 1 || f.Scenarios[0] != "aup-login" {
		t.Fatalf("unexpected flags: %+v", f)
	}

	_, err = ParseFlags([]string{"-h"}, &out)
	if !errors.Is(err, flag.ErrHelp) || !IsUsage(err) {
		t.Fatalf("expected help to be a usage error, got %v", err)
	}
	if !strings.Contains(out.String(), "usage: casscenario") {
		t.Fatalf("usage text missing: %q", out.String())
	}

	_, err = ParseFlags([]string{"-nope"}, &out)
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) || !IsUsage(err) {
		t.Fatalf("expected an unknown flag to be a ValidationError, got %v", err)
	}
}

func TestHelperParsers_DefaultOnBadInput(t *testing.T) {
	t.Setenv("CFG_TEST_BOOL", "not-a-bool")
	t.Setenv("CFG_TEST_DUR", "not-a-duration")
	var problems []string
	if got := parseBoolOrDefault("CFG_TEST_BOOL", true, &problems); got != true {
		t.Fatalf("parseBoolOrDefault fallback mismatch: got=%v", got)
	}
	if got := parseDurationOrDefault("CFG_TEST_DUR", 2*time.Minute, &problems); got != 2*time.Minute {
		t.Fatalf("parseDurationOrDefault fallback mismatch: got=%v want=%v", got, 2*time.Minute)
	}
	if len(problems) != 2 {
		t.Fatalf("expected both bad values reported, got %q", problems)
	}

	problems = nil
	t.Setenv("CFG_TEST_DUR", "")
	if got := parseDurationOrDefault("CFG_TEST_DUR", time.Second, &problems); got != time.Second || len(problems) != 0 {
		t.Fatalf("unset value must default silently: got=%v problems=%q", got, problems)
	}
}

func TestLoadConfig_ReportsUnparsableEnv(t *testing.T) {
	t.Setenv("CAS_BASE_URL", "")
	t.Setenv("CAS_SERVICE", "")
	t.Setenv("SCENARIO_DRIVER", "")
	t.Setenv("ARTIFACT_BUCKET", "")
	t.Setenv("IGNORE_HTTPS_ERRORS", "")
	t.Setenv("BROWSER_SLOWMO", "")
	t.Setenv("BROWSER_TIMEOUT", "abc")
	t.Setenv("HEADLESS", "maybe")

	_, err := LoadConfig(Flags{Scenarios: []string{"aup-login"}})
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(validationErr.Errors) != 2 {
		t.Fatalf("expected exactly the two bad values, got %q", validationErr.Errors)
	}
	for _, expected := range []string{`BROWSER_TIMEOUT="abc"`, `HEADLESS="maybe"`} {
		if !strings.Contains(err.Error(), expected) {
			t.Fatalf("expected validation error to mention %s, got: %v", expected, err)
		}
	}
}

func TestGetEnvOrDefault_TrimsWhitespace(t *testing.T) {
	t.Setenv("CFG_TEST_STR", "   ")
	if got := getEnvOrDefault("CFG_TEST_STR", "fallback"); got != "fallback" {
		t.Fatalf("whitespace-only value should fall back, got %q", got)
	}
	t.Setenv("CFG_TEST_STR", "  value  ")
	if got := getEnvOrDefault("CFG_TEST_STR", "fallback"); got != "value" {
		t.Fatalf("value should be trimmed, got %q", got)
	}
}
