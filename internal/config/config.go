// Package config builds the explicit runtime configuration for a
// planguard invocation. Values come from CLI flags and, underneath them,
// environment variables with the INPUT_ prefix — the form GitHub Actions
// uses to pass action inputs. The Config struct is built once at process
// start and passed into each component; there are no ambient globals.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/planguard/planguard/internal/schema"
)

// DefaultTFCHost is the public Terraform Cloud SaaS hostname.
const DefaultTFCHost = "app.terraform.io"

// Config is the full invocation configuration.
type Config struct {
	PlanPath     string
	GeminiAPIKey string
	GeminiModel  string
	GitHubToken  string

	Repository string
	PRNumber   int

	IssueSeverityThreshold schema.Severity
	FailOnSeverity         schema.Severity
	IncludePlanSummary     bool
	ReportPath             string

	TFC TFCConfig
}

// TFCConfig configures cloud plan-fetch mode.
type TFCConfig struct {
	Enabled      bool
	Token        string
	Organization string
	Workspace    string
	Host         string
	RunID        string
	Branch       string
	MaxWait      time.Duration
}

// New returns a viper instance with the INPUT_ environment binding and
// all defaults registered. The cmd layer binds its flags on top.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("INPUT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("gemini-model", "gemini-1.5-pro")
	v.SetDefault("issue-severity-threshold", "medium")
	v.SetDefault("fail-on-severity", "high")
	v.SetDefault("include-plan-summary", true)
	v.SetDefault("output", "tf-plan-analysis.md")
	v.SetDefault("tfc-enabled", false)
	v.SetDefault("tfc-host", DefaultTFCHost)
	v.SetDefault("tfc-max-wait-minutes", 15)

	return v
}

// Load materializes and validates a Config from v. All validation runs
// here, before any network call is attempted.
func Load(v *viper.Viper) (*Config, error) {
	inclusion, err := schema.ParseSeverity(v.GetString("issue-severity-threshold"))
	if err != nil {
		return nil, fmt.Errorf("config: issue-severity-threshold: %w", err)
	}
	failOn, err := schema.ParseSeverity(v.GetString("fail-on-severity"))
	if err != nil {
		return nil, fmt.Errorf("config: fail-on-severity: %w", err)
	}

	cfg := &Config{
		PlanPath:     v.GetString("plan-path"),
		GeminiAPIKey: v.GetString("gemini-api-key"),
		GeminiModel:  v.GetString("gemini-model"),
		GitHubToken:  v.GetString("github-token"),

		Repository: v.GetString("repository"),
		PRNumber:   v.GetInt("pr-number"),

		IssueSeverityThreshold: inclusion,
		FailOnSeverity:         failOn,
		IncludePlanSummary:     v.GetBool("include-plan-summary"),
		ReportPath:             v.GetString("output"),

		TFC: TFCConfig{
			Enabled:      v.GetBool("tfc-enabled"),
			Token:        v.GetString("tfc-token"),
			Organization: v.GetString("tfc-organization"),
			Workspace:    v.GetString("tfc-workspace"),
			Host:         v.GetString("tfc-host"),
			RunID:        v.GetString("tfc-run-id"),
			Branch:       v.GetString("tfc-branch"),
			MaxWait:      time.Duration(v.GetInt("tfc-max-wait-minutes")) * time.Minute,
		},
	}

	// GitHub-provided context fills the gaps the action inputs leave.
	if cfg.Repository == "" {
		cfg.Repository = os.Getenv("GITHUB_REPOSITORY")
	}
	if cfg.PRNumber == 0 {
		cfg.PRNumber = prNumberFromRef(os.Getenv("GITHUB_REF"))
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate fails fast with every missing option named, so a misconfigured
// workflow is fixed in one pass.
func (c *Config) validate() error {
	var missing []string
	if c.GeminiAPIKey == "" {
		missing = append(missing, "gemini-api-key")
	}
	if c.GitHubToken == "" {
		missing = append(missing, "github-token")
	}
	if c.TFC.Enabled {
		if c.TFC.Token == "" {
			missing = append(missing, "tfc-token")
		}
		if c.TFC.Organization == "" {
			missing = append(missing, "tfc-organization")
		}
		if c.TFC.Workspace == "" {
			missing = append(missing, "tfc-workspace")
		}
	} else if c.PlanPath == "" {
		missing = append(missing, "plan-path")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required option(s): %s", strings.Join(missing, ", "))
	}
	if c.TFC.Enabled && c.TFC.MaxWait <= 0 {
		return fmt.Errorf("config: tfc-max-wait-minutes must be positive")
	}
	return nil
}

// prRefRe extracts the PR number from a GITHUB_REF like
// "refs/pull/123/merge".
var prRefRe = regexp.MustCompile(`^refs/pull/(\d+)/`)

func prNumberFromRef(ref string) int {
	m := prRefRe.FindStringSubmatch(ref)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}
