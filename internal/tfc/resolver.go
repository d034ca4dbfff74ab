// Package tfc resolves Terraform plan JSON from Terraform Cloud/Enterprise.
// It locates the relevant run in a workspace, waits for its plan to
// complete, and downloads the plan's JSON export to a local file.
package tfc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	tfe "github.com/hashicorp/go-tfe"
	"github.com/rs/zerolog"
)

// ErrRunNotFound is returned when no workspace run matches the selector.
var ErrRunNotFound = errors.New("tfc: run not found")

// ErrRunFailed is returned when the selected run reached a terminal
// failure state before producing a plan.
var ErrRunFailed = errors.New("tfc: run failed before plan completed")

// ErrPlanTimeout is returned when the run does not reach a completed plan
// state within the configured wait budget.
var ErrPlanTimeout = errors.New("tfc: timed out waiting for plan")

// defaultPollInterval is the fixed delay between run status reads.
const defaultPollInterval = 10 * time.Second

// Narrow views of the go-tfe services the resolver uses; the real
// tfe.Client satisfies all three, and tests substitute fakes.
type workspacesAPI interface {
	Read(ctx context.Context, organization, workspace string) (*tfe.Workspace, error)
}

type runsAPI interface {
	List(ctx context.Context, workspaceID string, options *tfe.RunListOptions) (*tfe.RunList, error)
	ReadWithOptions(ctx context.Context, runID string, options *tfe.RunReadOptions) (*tfe.Run, error)
}

type plansAPI interface {
	ReadJSONOutput(ctx context.Context, planID string) ([]byte, error)
}

// Options configures a Resolver.
type Options struct {
	Host         string
	Token        string
	Organization string
	Workspace    string

	// RunID selects a run directly; when empty the most recent run
	// matching PRNumber, then Branch, then any run is used.
	RunID    string
	PRNumber int
	Branch   string

	// MaxWait bounds the poll loop waiting for the plan to complete.
	MaxWait time.Duration
}

// Resolver fetches plan JSON exports from TFC/TFE.
type Resolver struct {
	opts         Options
	workspaces   workspacesAPI
	runs         runsAPI
	plans        plansAPI
	pollInterval time.Duration
}

// NewResolver builds a Resolver backed by an authenticated go-tfe client.
func NewResolver(opts Options) (*Resolver, error) {
	client, err := tfe.NewClient(&tfe.Config{
		Address: "https://" + opts.Host,
		Token:   opts.Token,
	})
	if err != nil {
		return nil, fmt.Errorf("tfc: create client: %w", err)
	}
	return &Resolver{
		opts:         opts,
		workspaces:   client.Workspaces,
		runs:         client.Runs,
		plans:        client.Plans,
		pollInterval: defaultPollInterval,
	}, nil
}

// Resolve locates the run, waits until its plan is complete, downloads the
// plan JSON export to a file under dir, and returns the file path.
func (r *Resolver) Resolve(ctx context.Context, dir string) (string, error) {
	log := zerolog.Ctx(ctx)

	runID := r.opts.RunID
	if runID == "" {
		id, err := r.findRun(ctx)
		if err != nil {
			return "", err
		}
		runID = id
	}
	log.Info().Str("run_id", runID).Msg("resolved TFC run")

	run, err := r.waitForPlan(ctx, runID)
	if err != nil {
		return "", err
	}
	if run.Plan == nil || run.Plan.ID == "" {
		return "", fmt.Errorf("tfc: run %s has no plan relationship", runID)
	}

	planJSON, err := r.plans.ReadJSONOutput(ctx, run.Plan.ID)
	if err != nil {
		return "", fmt.Errorf("tfc: download plan json for %s: %w", run.Plan.ID, err)
	}

	path := filepath.Join(dir, runID+"-plan.json")
	if err := os.WriteFile(path, planJSON, 0o600); err != nil {
		return "", fmt.Errorf("tfc: write plan file: %w", err)
	}
	log.Info().Str("path", path).Int("bytes", len(planJSON)).Msg("plan JSON downloaded")
	return path, nil
}

// findRun returns the most recent workspace run matching the PR number or
// branch hint, or the most recent run overall when no hint is given.
func (r *Resolver) findRun(ctx context.Context) (string, error) {
	ws, err := r.workspaces.Read(ctx, r.opts.Organization, r.opts.Workspace)
	if err != nil {
		return "", fmt.Errorf("tfc: read workspace %s/%s: %w", r.opts.Organization, r.opts.Workspace, err)
	}

	list, err := r.runs.List(ctx, ws.ID, &tfe.RunListOptions{
		ListOptions: tfe.ListOptions{PageSize: 50},
		Include:     []tfe.RunIncludeOpt{tfe.RunConfigVer, tfe.RunConfigVerIngress},
	})
	if err != nil {
		return "", fmt.Errorf("tfc: list runs for workspace %s: %w", ws.ID, err)
	}
	if len(list.Items) == 0 {
		return "", fmt.Errorf("%w: workspace %s has no runs", ErrRunNotFound, r.opts.Workspace)
	}

	// The API returns runs newest first, so the first match wins.
	for _, run := range list.Items {
		if matches(run, r.opts.PRNumber, r.opts.Branch) {
			return run.ID, nil
		}
	}

	if r.opts.PRNumber > 0 {
		return "", fmt.Errorf("%w: no run for PR #%d in workspace %s", ErrRunNotFound, r.opts.PRNumber, r.opts.Workspace)
	}
	return "", fmt.Errorf("%w: no run for branch %q in workspace %s", ErrRunNotFound, r.opts.Branch, r.opts.Workspace)
}

// matches reports whether a run satisfies the PR/branch selector. With no
// selector every run matches, so the newest run is chosen.
func matches(run *tfe.Run, prNumber int, branch string) bool {
	if prNumber <= 0 && branch == "" {
		return true
	}
	cv := run.ConfigurationVersion
	if cv == nil || cv.IngressAttributes == nil {
		return false
	}
	if prNumber > 0 {
		return cv.IngressAttributes.PullRequestNumber == prNumber
	}
	return cv.IngressAttributes.Branch == branch
}

// planComplete holds run states whose plan output is final.
var planComplete = map[tfe.RunStatus]bool{
	tfe.RunPlanned:            true,
	tfe.RunPlannedAndFinished: true,
	tfe.RunCostEstimated:      true,
	tfe.RunPolicyChecked:      true,
	tfe.RunPolicyOverride:     true,
	tfe.RunApplied:            true,
}

// runFailed holds terminal states that will never produce a plan.
var runFailed = map[tfe.RunStatus]bool{
	tfe.RunErrored:   true,
	tfe.RunCanceled:  true,
	tfe.RunDiscarded: true,
}

// waitForPlan polls the run at a fixed interval until its plan completes,
// the run fails, or the wait budget elapses. No retries on API errors;
// any read failure is propagated immediately.
func (r *Resolver) waitForPlan(ctx context.Context, runID string) (*tfe.Run, error) {
	log := zerolog.Ctx(ctx)
	start := time.Now()
	deadline := start.Add(r.opts.MaxWait)
	readOpts := &tfe.RunReadOptions{Include: []tfe.RunIncludeOpt{tfe.RunPlan}}

	for {
		run, err := r.runs.ReadWithOptions(ctx, runID, readOpts)
		if err != nil {
			return nil, fmt.Errorf("tfc: read run %s: %w", runID, err)
		}

		switch {
		case planComplete[run.Status]:
			return run, nil
		case runFailed[run.Status]:
			return nil, fmt.Errorf("%w: run %s is %s", ErrRunFailed, runID, run.Status)
		}

		if time.Now().Add(r.pollInterval).After(deadline) {
			return nil, fmt.Errorf("%w: run %s still %s after %s (budget %s)",
				ErrPlanTimeout, runID, run.Status, time.Since(start).Round(time.Second), r.opts.MaxWait)
		}

		log.Debug().Str("run_id", runID).Str("status", string(run.Status)).Msg("waiting for plan")
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("tfc: wait for run %s: %w", runID, ctx.Err())
		case <-time.After(r.pollInterval):
		}
	}
}
