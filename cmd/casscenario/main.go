// Command casscenario runs CAS browser acceptance scenarios against a CAS server.
//
// Usage:
//
//	casscenario [--driver playwright|chromedp|http] [--headful] <scenario>...
//	casscenario --list
//
// The target server, credentials and artifact storage come from the environment
// (CAS_BASE_URL, CAS_SERVICE, CAS_USERNAME, CAS_PASSWORD, ARTIFACT_DIR, ARTIFACT_BUCKET).
// The exit status is 0 when every scenario passed, 1 when any failed, and 2 for
// usage errors.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/kuitang/cas-scenarios/internal/artifacts"
	"github.com/kuitang/cas-scenarios/internal/browser"
	"github.com/kuitang/cas-scenarios/internal/browser/cdpdriver"
	"github.com/kuitang/cas-scenarios/internal/browser/httpdriver"
	"github.com/kuitang/cas-scenarios/internal/browser/pwdriver"
	"github.com/kuitang/cas-scenarios/internal/cas"
	"github.com/kuitang/cas-scenarios/internal/config"
	"github.com/kuitang/cas-scenarios/internal/errs"
	"github.com/kuitang/cas-scenarios/internal/obs"
	"github.com/kuitang/cas-scenarios/internal/scenario"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	obs.Init()
	log := obs.Pkg("main")

	flags, err := config.ParseFlags(args, stderr)
	if err != nil {
		return startupExit(err)
	}
	cfg, err := config.LoadConfig(flags)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return startupExit(err)
	}
	obs.SetLevel(obs.ParseLevel(cfg.LogLevel))

	if cfg.List {
		for _, name := range scenario.Names() {
			fmt.Fprintln(stdout, name)
		}
		return errs.ExitOK
	}

	scenarios := make([]scenario.Scenario, 0, len(cfg.Scenarios))
	target := scenario.Target{BaseURL: cfg.BaseURL, Service: cfg.Service}
	for _, name := range cfg.Scenarios {
		factory, ok := scenario.Lookup(name)
		if !ok {
			fmt.Fprintf(stderr, "unknown scenario %q (use --list to see them)\n", name)
			return errs.ExitUsage
		}
		scenarios = append(scenarios, factory(target))
	}

	cfg.PrintSummary(stderr)

	store, err := newArtifactStore(ctx, cfg)
	if err != nil {
		log.Error("artifact store unavailable", "error", err)
		return errs.ExitFailed
	}

	runner := &scenario.Runner{
		Driver: newDriver(cfg.Driver),
		Helper: cas.New(cas.Options{
			Launch: browser.LaunchOptions{
				Headless:          cfg.Headless,
				IgnoreHTTPSErrors: cfg.IgnoreHTTPSErrors,
				Timeout:           cfg.Timeout,
				SlowMo:            cfg.SlowMo,
			},
			Credentials: cas.Credentials{Username: cfg.Username, Password: cfg.Password},
		}),
		Artifacts: store,
	}

	exit := errs.ExitOK
	for _, sc := range scenarios {
		if ctx.Err() != nil {
			log.Warn("interrupted, skipping remaining scenarios")
			return errs.ExitFailed
		}
		res, err := runner.Run(ctx, sc)
		status := "PASS"
		if !res.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(stdout, "%s %s (%s, %dms)\n", status, res.Scenario, res.Driver, res.Duration.Milliseconds())
		if err != nil {
			fmt.Fprintf(stdout, "    %s: %s\n", errs.CodeOf(err), errs.MessageOf(err))
			for _, loc := range res.Artifacts {
				fmt.Fprintf(stdout, "    artifact: %s\n", loc)
			}
			if code := errs.ExitCode(err); code > exit {
				exit = code
			}
		}
	}
	return exit
}

// startupExit maps a flag or configuration error to the exit status. Asking for
// help is not a failure.
func startupExit(err error) int {
	switch {
	case errors.Is(err, flag.ErrHelp):
		return errs.ExitOK
	case config.IsUsage(err):
		return errs.ExitUsage
	default:
		return errs.ExitFailed
	}
}

func newDriver(name string) browser.Driver {
	switch name {
	case "chromedp":
		return cdpdriver.New()
	case "http":
		return httpdriver.New()
	default:
		return pwdriver.New()
	}
}

// newArtifactStore prefers S3 when a bucket is configured. A nil store disables
// failure snapshots.
func newArtifactStore(ctx context.Context, cfg *config.Config) (artifacts.Store, error) {
	switch {
	case cfg.ArtifactBucket != "":
		s3, err := artifacts.NewS3Store(ctx, artifacts.S3Config{
			Endpoint:        cfg.AWSEndpointS3,
			Region:          cfg.AWSRegion,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			BucketName:      cfg.ArtifactBucket,
			UsePathStyle:    cfg.AWSEndpointS3 != "",
		})
		if err != nil {
			return nil, err
		}
		return s3, nil
	case cfg.ArtifactDir != "":
		return artifacts.NewFileStore(cfg.ArtifactDir), nil
	default:
		return nil, nil
	}
}
