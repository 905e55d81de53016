// Package config loads scenario runner configuration from CLI flags and environment variables,
// validates it, and provides the defaults used by the CAS acceptance scenarios.
//
// CLI flags choose the driver and browser mode (--driver, --headful, --list).
// Environment variables describe the target server, credentials, and artifact storage.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL  = "https://localhost:8443"
	DefaultService  = "https://example.org"
	DefaultUsername = "casuser"
	DefaultPassword = "Mellon"
	DefaultDriver   = "playwright"
	DefaultTimeout  = 10 * time.Second
	defaultRegion   = "us-east-1"
)

// Drivers lists the supported browser drivers.
var Drivers = []string{"playwright", "chromedp", "http"}

// Config holds all runner configuration.
type Config struct {
	// Target server
	BaseURL string // CAS_BASE_URL, scheme://host:port of the CAS server
	Service string // CAS_SERVICE, downstream service passed as ?service=

	// Credentials used by LoginWith
	Username string
	Password string

	// Browser
	Driver            string
	Headless          bool
	IgnoreHTTPSErrors bool
	Timeout           time.Duration
	SlowMo            time.Duration
	LogLevel          string

	// Failure artifacts. ArtifactDir and ArtifactBucket are independent; either may be empty.
	ArtifactDir        string
	ArtifactBucket     string
	AWSEndpointS3      string
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string

	// Scenarios named on the command line.
	Scenarios []string
	List      bool

	// envErrors are unparsable environment values, reported by Validate.
	envErrors []string
}

// Flags are the parsed command-line values.
type Flags struct {
	Driver    string
	Headful   bool
	List      bool
	Scenarios []string
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// ParseFlags parses args (without the program name). Call before LoadConfig.
func ParseFlags(args []string, output io.Writer) (Flags, error) {
	var f Flags
	fs := flag.NewFlagSet("casscenario", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&f.Driver, "driver", "", "Browser driver: playwright, chromedp or http (overrides SCENARIO_DRIVER)")
	fs.BoolVar(&f.Headful, "headful", false, "Show the browser window (overrides HEADLESS)")
	fs.BoolVar(&f.List, "list", false, "List available scenarios and exit")
	fs.Usage = func() {
		fmt.Fprintln(output, "usage: casscenario [flags] <scenario>...")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return Flags{}, err
		}
		return Flags{}, &ValidationError{Errors: []string{err.Error()}}
	}
	f.Scenarios = fs.Args()
	return f, nil
}

// LoadConfig loads configuration from environment variables and flag values.
func LoadConfig(f Flags) (*Config, error) {
	cfg := &Config{}

	cfg.BaseURL = strings.TrimRight(getEnvOrDefault("CAS_BASE_URL", DefaultBaseURL), "/")
	cfg.Service = getEnvOrDefault("CAS_SERVICE", DefaultService)
	cfg.Username = getEnvOrDefault("CAS_USERNAME", DefaultUsername)
	cfg.Password = getEnvOrDefault("CAS_PASSWORD", DefaultPassword)

	cfg.Driver = getEnvOrDefault("SCENARIO_DRIVER", DefaultDriver)
	if f.Driver != "" {
		cfg.Driver = f.Driver
	}
	cfg.Headless = parseBoolOrDefault("HEADLESS", true, &cfg.envErrors)
	if f.Headful {
		cfg.Headless = false
	}
	cfg.IgnoreHTTPSErrors = parseBoolOrDefault("IGNORE_HTTPS_ERRORS", true, &cfg.envErrors)
	cfg.Timeout = parseDurationOrDefault("BROWSER_TIMEOUT", DefaultTimeout, &cfg.envErrors)
	cfg.SlowMo = parseDurationOrDefault("BROWSER_SLOWMO", 0, &cfg.envErrors)
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.ArtifactDir = strings.TrimSpace(os.Getenv("ARTIFACT_DIR"))
	cfg.ArtifactBucket = strings.TrimSpace(os.Getenv("ARTIFACT_BUCKET"))
	cfg.AWSEndpointS3 = strings.TrimSpace(os.Getenv("AWS_ENDPOINT_URL_S3"))
	cfg.AWSRegion = getEnvOrDefault("AWS_REGION", defaultRegion)
	cfg.AWSAccessKeyID = strings.TrimSpace(os.Getenv("AWS_ACCESS_KEY_ID"))
	cfg.AWSSecretAccessKey = strings.TrimSpace(os.Getenv("AWS_SECRET_ACCESS_KEY"))

	cfg.Scenarios = f.Scenarios
	cfg.List = f.List

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present and valid.
func (c *Config) Validate() error {
	errs := append([]string(nil), c.envErrors...)

	if u, err := url.Parse(c.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "CAS_BASE_URL must be an absolute http(s) URL")
	}
	if u, err := url.Parse(c.Service); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "CAS_SERVICE must be an absolute URL")
	}
	if c.Username == "" {
		errs = append(errs, "CAS_USERNAME must not be empty")
	}
	if !isKnownDriver(c.Driver) {
		errs = append(errs, fmt.Sprintf("driver %q is not one of %s", c.Driver, strings.Join(Drivers, ", ")))
	}
	if c.Timeout <= 0 {
		errs = append(errs, "BROWSER_TIMEOUT must be positive")
	}
	if c.SlowMo < 0 {
		errs = append(errs, "BROWSER_SLOWMO must not be negative")
	}

	// S3 artifacts: the bucket needs credentials, the endpoint is optional (real AWS).
	if c.ArtifactBucket != "" {
		if c.AWSAccessKeyID == "" {
			errs = append(errs, "AWS_ACCESS_KEY_ID is required when ARTIFACT_BUCKET is set")
		}
		if c.AWSSecretAccessKey == "" {
			errs = append(errs, "AWS_SECRET_ACCESS_KEY is required when ARTIFACT_BUCKET is set")
		}
	}

	if !c.List && len(c.Scenarios) == 0 {
		errs = append(errs, "at least one scenario name is required (use --list to see them)")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// PrintSummary prints a human-readable summary of the configuration.
func (c *Config) PrintSummary(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "casscenario starting...")
	fmt.Fprintf(w, "  Target:   %s (service %s)\n", c.BaseURL, c.Service)
	fmt.Fprintf(w, "  Driver:   %s (headless=%t)\n", c.Driver, c.Headless)
	fmt.Fprintf(w, "  Login:    %s\n", c.Username)
	switch {
	case c.ArtifactBucket != "":
		fmt.Fprintf(w, "  Artifacts: s3://%s\n", c.ArtifactBucket)
	case c.ArtifactDir != "":
		fmt.Fprintf(w, "  Artifacts: %s\n", c.ArtifactDir)
	default:
		fmt.Fprintln(w, "  Artifacts: disabled")
	}
	fmt.Fprintln(w, "")
}

func isKnownDriver(name string) bool {
	for _, d := range Drivers {
		if d == name {
			return true
		}
	}
	return false
}

// Helper functions for parsing environment variables

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

// The parse helpers fall back to the default on an unset value. A value that
// does not parse is appended to problems and the default is returned.

func parseBoolOrDefault(key string, defaultValue bool, problems *[]string) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		*problems = append(*problems, fmt.Sprintf("%s=%q is not a boolean", key, value))
		return defaultValue
	}
	return parsed
}

func parseDurationOrDefault(key string, defaultValue time.Duration, problems *[]string) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		*problems = append(*problems, fmt.Sprintf("%s=%q is not a duration (e.g. 10s)", key, value))
		return defaultValue
	}
	return parsed
}

// IsUsage reports whether err came from flag parsing or validation rather than a scenario.
func IsUsage(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr) || errors.Is(err, flag.ErrHelp)
}
