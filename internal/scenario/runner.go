package scenario

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/kuitang/cas-scenarios/internal/artifacts"
	"github.com/kuitang/cas-scenarios/internal/browser"
	"github.com/kuitang/cas-scenarios/internal/errs"
	"github.com/kuitang/cas-scenarios/internal/obs"
)

const snapshotTimeout = 10 * time.Second

// Result is the outcome of one scenario run.
type Result struct {
	RunID     string
	Scenario  string
	Driver    string
	Passed    bool
	Err       error
	Duration  time.Duration
	Artifacts []string
}

// Runner launches a browser per scenario and releases it when the scenario ends.
type Runner struct {
	Driver browser.Driver
	Helper Helper
	// Artifacts receives a page snapshot when a scenario fails. Nil disables snapshots.
	Artifacts artifacts.Store
	// NewRunID overrides run ID generation.
	NewRunID func() string
}

// Run executes sc in a fresh browser. The browser is closed exactly once before
// Run returns, whether the scenario passes, fails, or panics. The returned error
// equals Result.Err.
func (r *Runner) Run(ctx context.Context, sc Scenario) (res Result, err error) {
	runID := r.runID()
	var driverName string
	if r.Driver != nil {
		driverName = r.Driver.Name()
	}
	ctx = obs.WithCorrelation(ctx, obs.Correlation{RunID: runID, Scenario: sc.Name, Driver: driverName})
	log := obs.From(ctx).With("pkg", "scenario")

	res = Result{RunID: runID, Scenario: sc.Name, Driver: driverName}
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		res.Err = err
		res.Passed = err == nil
		if err != nil {
			log.Error("scenario failed", "code", errs.CodeOf(err), "error", err, "dur_ms", res.Duration.Milliseconds())
		} else {
			log.Info("scenario passed", "dur_ms", res.Duration.Milliseconds())
		}
	}()

	if r.Driver == nil || r.Helper == nil {
		return res, errs.New(errs.InvalidArgument, "runner needs a driver and a helper")
	}
	if sc.Run == nil {
		return res, errs.New(errs.InvalidArgument, fmt.Sprintf("scenario %q has no steps", sc.Name))
	}

	log.Info("scenario started")
	b, err := r.Driver.Launch(ctx, r.Helper.BrowserOptions())
	if err != nil {
		return res, errs.Wrap(errs.Launch, "launch browser", err)
	}
	defer func() {
		if cerr := b.Close(); cerr != nil {
			log.Warn("browser close failed", "error", cerr)
			if err == nil {
				err = errs.Wrap(errs.Unavailable, "close browser", cerr)
			}
		}
	}()

	page, err := r.Helper.NewPage(ctx, b)
	if err != nil {
		return res, err
	}

	err = runSteps(ctx, sc, &Session{Page: page, Helper: r.Helper})
	if err != nil && r.Artifacts != nil {
		res.Artifacts = r.snapshot(ctx, page, sc.Name, runID, err)
	}
	return res, err
}

func (r *Runner) runID() string {
	if r.NewRunID != nil {
		return r.NewRunID()
	}
	return uuid.NewString()
}

// runSteps runs the scenario body, turning a panic into an internal error.
func runSteps(ctx context.Context, sc Scenario, s *Session) (err error) {
	defer func() {
		if p := recover(); p != nil {
			obs.From(ctx).Error("scenario panicked", "pkg", "scenario", "panic", fmt.Sprint(p), "stack", string(debug.Stack()))
			err = errs.New(errs.Internal, fmt.Sprintf("scenario panicked: %v", p))
		}
	}()
	return sc.Run(ctx, s)
}

// snapshot captures the failed page. It runs on a context detached from
// cancellation so a cancelled run still leaves evidence behind.
func (r *Runner) snapshot(ctx context.Context, page browser.Page, name, runID string, cause error) []string {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotTimeout)
	defer cancel()
	log := obs.From(ctx).With("pkg", "scenario")

	snap := artifacts.Snapshot{
		Scenario: name,
		RunID:    runID,
		Driver:   r.Driver.Name(),
		URL:      page.URL(),
		Error:    cause.Error(),
	}
	if html, err := page.Content(ctx); err == nil {
		snap.HTML = html
	} else {
		log.Warn("snapshot: page content unavailable", "error", err)
	}
	if png, err := page.Screenshot(ctx); err == nil {
		snap.Screenshot = png
	} else if !errors.Is(err, browser.ErrUnsupported) {
		log.Warn("snapshot: screenshot unavailable", "error", err)
	}

	keys, err := artifacts.SaveSnapshot(ctx, r.Artifacts, snap)
	if err != nil {
		log.Warn("snapshot: save failed", "error", err)
	}
	locations := make([]string, 0, len(keys))
	for _, k := range keys {
		locations = append(locations, r.Artifacts.Location(k))
	}
	if len(locations) > 0 {
		log.Info("snapshot saved", "files", locations)
	}
	return locations
}
