package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/planguard/planguard/internal/config"
	"github.com/planguard/planguard/internal/llm"
	"github.com/planguard/planguard/internal/output"
	"github.com/planguard/planguard/internal/plan"
	"github.com/planguard/planguard/internal/publish"
	"github.com/planguard/planguard/internal/render"
	"github.com/planguard/planguard/internal/tfc"
	"github.com/planguard/planguard/internal/verdict"
)

// Exit codes. A threshold failure is a designed signal — the tool worked
// and found a real problem — so it gets a code distinct from breakage.
const (
	exitCodeError         = 1
	exitCodeThresholdFail = 2
)

// exitError carries a process exit code alongside the error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// reportPublisher is the slice of publish.Publisher the pipeline needs;
// a variable factory lets tests substitute a fake.
type reportPublisher interface {
	Publish(ctx context.Context, prNumber int, report string) error
}

var newPublisher = func(token, repository string) (reportPublisher, error) {
	return publish.NewPublisher(token, repository)
}

// planResolver mirrors tfc.Resolver for the same reason.
type planResolver interface {
	Resolve(ctx context.Context, dir string) (string, error)
}

var newResolver = func(opts tfc.Options) (planResolver, error) {
	return tfc.NewResolver(opts)
}

func newAnalyzeCmd() *cobra.Command {
	v := config.New()

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze a Terraform plan and post the findings report",
		Long: "Analyze a Terraform plan (local JSON export or fetched from " +
			"Terraform Cloud/Enterprise) for security risks using Gemini, " +
			"post the report as a PR comment, and set workflow outputs.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAnalyze(cmd.Context(), v)
		},
	}

	flags := cmd.Flags()
	flags.String("plan-path", "", "path to the Terraform plan JSON export")
	flags.String("gemini-api-key", "", "Google Gemini API key")
	flags.String("gemini-model", "gemini-1.5-pro", "Gemini model name")
	flags.String("github-token", "", "GitHub API token for PR comments")
	flags.String("repository", "", "repository in owner/name form (default: $GITHUB_REPOSITORY)")
	flags.Int("pr-number", 0, "pull request number (default: derived from $GITHUB_REF)")
	flags.String("issue-severity-threshold", "medium", "minimum severity to include in the report")
	flags.String("fail-on-severity", "high", "fail the run when findings at or above this severity exist")
	flags.Bool("include-plan-summary", true, "include the plan summary section in the report")
	flags.String("output", "tf-plan-analysis.md", "report output path")
	flags.Bool("tfc-enabled", false, "fetch the plan from Terraform Cloud/Enterprise")
	flags.String("tfc-token", "", "TFC/TFE API token")
	flags.String("tfc-organization", "", "TFC/TFE organization name")
	flags.String("tfc-workspace", "", "TFC/TFE workspace name")
	flags.String("tfc-host", config.DefaultTFCHost, "TFC/TFE hostname")
	flags.String("tfc-run-id", "", "explicit TFC run ID (default: most recent matching run)")
	flags.String("tfc-branch", "", "branch hint for TFC run selection")
	flags.Int("tfc-max-wait-minutes", 15, "maximum minutes to wait for the TFC plan")

	flags.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
	})

	return cmd
}

// runAnalyze executes the full pipeline: resolve → validate → analyze →
// render → publish → outputs. Strictly sequential; the only long block
// is the TFC poll loop, bounded by its wait budget.
func runAnalyze(ctx context.Context, v *viper.Viper) error {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	ctx = logger.WithContext(ctx)

	cfg, err := config.Load(v)
	if err != nil {
		return &exitError{code: exitCodeError, err: err}
	}

	planPath := cfg.PlanPath
	if cfg.TFC.Enabled {
		resolver, err := newResolver(tfc.Options{
			Host:         cfg.TFC.Host,
			Token:        cfg.TFC.Token,
			Organization: cfg.TFC.Organization,
			Workspace:    cfg.TFC.Workspace,
			RunID:        cfg.TFC.RunID,
			PRNumber:     cfg.PRNumber,
			Branch:       cfg.TFC.Branch,
			MaxWait:      cfg.TFC.MaxWait,
		})
		if err != nil {
			return &exitError{code: exitCodeError, err: err}
		}
		planPath, err = resolver.Resolve(ctx, os.TempDir())
		if err != nil {
			return &exitError{code: exitCodeError, err: err}
		}
	}

	doc, err := plan.Load(planPath)
	if err != nil {
		return &exitError{code: exitCodeError, err: err}
	}
	logger.Info().Str("plan", planPath).Int("resource_changes", len(doc.ResourceChanges)).Msg("plan validated")

	findings, err := llm.Analyze(ctx, doc.Changes(), llm.Options{
		APIKey: cfg.GeminiAPIKey,
		Model:  cfg.GeminiModel,
	})
	if err != nil {
		return &exitError{code: exitCodeError, err: err}
	}

	retained := verdict.FilterBySeverity(findings, cfg.IssueSeverityThreshold)
	result := verdict.Summarize(retained, cfg.FailOnSeverity)
	result.Report = render.Markdown(render.Input{
		PlanPath:       planPath,
		Summary:        doc.Summarize(),
		IncludeSummary: cfg.IncludePlanSummary,
		Findings:       result.Findings,
		GeneratedAt:    time.Now(),
	})
	logger.Info().
		Int("issue_count", result.IssueCount).
		Str("highest_severity", string(result.HighestSeverity)).
		Msg("analysis complete")

	if err := os.WriteFile(cfg.ReportPath, []byte(result.Report), 0o644); err != nil {
		return &exitError{code: exitCodeError, err: fmt.Errorf("write report: %w", err)}
	}

	// Publishing is best-effort: failures are logged, never escalated.
	publishReport(ctx, cfg, result.Report)

	if err := output.Write(os.Stdout, result); err != nil {
		return &exitError{code: exitCodeError, err: err}
	}

	if result.ShouldFail {
		return &exitError{
			code: exitCodeThresholdFail,
			err: fmt.Errorf("security issues found at or above %s severity; see %s",
				cfg.FailOnSeverity, cfg.ReportPath),
		}
	}
	return nil
}

func publishReport(ctx context.Context, cfg *config.Config, report string) {
	log := zerolog.Ctx(ctx)
	if cfg.Repository == "" {
		log.Info().Msg("no repository context; skipping comment")
		return
	}
	pub, err := newPublisher(cfg.GitHubToken, cfg.Repository)
	if err != nil {
		log.Warn().Err(err).Msg("report comment skipped")
		return
	}
	if err := pub.Publish(ctx, cfg.PRNumber, report); err != nil {
		log.Warn().Err(err).Msg("report comment failed")
	}
}
