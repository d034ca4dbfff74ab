//go:build integration

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"github.com/planguard/planguard/internal/config"
	"github.com/planguard/planguard/internal/llm"
	"github.com/planguard/planguard/internal/tfc"
)

const fixturePlan = `{
  "format_version": "1.2",
  "resource_changes": [
    {
      "address": "aws_s3_bucket.logs",
      "type": "aws_s3_bucket",
      "name": "logs",
      "change": {"actions": ["create"], "before": null, "after": {"acl": "public-read"}}
    }
  ]
}`

const highFindingResponse = `[
  {
    "resource_type": "aws_s3_bucket",
    "resource_name": "logs",
    "severity": "HIGH",
    "description": "Bucket ACL is public-read",
    "impact": "Log data exposed",
    "recommendation": "Set the ACL to private"
  }
]`

// mockLLM returns the configured response for every prompt.
type mockLLM struct {
	response string
	err      error
}

func (m *mockLLM) Complete(context.Context, string) (string, error) {
	return m.response, m.err
}

func injectLLM(t *testing.T, response string, err error) {
	t.Helper()
	orig := llm.NewProvider
	llm.NewProvider = func(_, _ string) (llm.Provider, error) {
		return &mockLLM{response: response, err: err}, nil
	}
	t.Cleanup(func() { llm.NewProvider = orig })
}

// recordingPublisher records the last published report.
type recordingPublisher struct {
	pr     int
	report string
	err    error
	calls  int
}

func (r *recordingPublisher) Publish(_ context.Context, pr int, report string) error {
	r.calls++
	r.pr = pr
	r.report = report
	return r.err
}

func injectPublisher(t *testing.T, rp *recordingPublisher) {
	t.Helper()
	orig := newPublisher
	newPublisher = func(_, _ string) (reportPublisher, error) { return rp, nil }
	t.Cleanup(func() { newPublisher = orig })
}

// pathResolver returns a fixed local path, standing in for a TFC fetch.
type pathResolver struct {
	path string
	err  error
}

func (p *pathResolver) Resolve(context.Context, string) (string, error) {
	return p.path, p.err
}

func injectResolver(t *testing.T, pr *pathResolver) {
	t.Helper()
	orig := newResolver
	newResolver = func(tfc.Options) (planResolver, error) { return pr, nil }
	t.Cleanup(func() { newResolver = orig })
}

func writeFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.json")
	if err := os.WriteFile(path, []byte(fixturePlan), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

// baseViper returns settings for a local-mode run against the fixture.
func baseViper(t *testing.T, planPath string) *viper.Viper {
	t.Helper()
	t.Setenv("GITHUB_REPOSITORY", "acme/infra")
	t.Setenv("GITHUB_REF", "refs/pull/12/merge")
	t.Setenv("GITHUB_OUTPUT", filepath.Join(t.TempDir(), "gh-output"))

	v := config.New()
	v.Set("plan-path", planPath)
	v.Set("gemini-api-key", "test-key")
	v.Set("github-token", "test-token")
	v.Set("output", filepath.Join(t.TempDir(), "report.md"))
	return v
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

func readGithubOutput(t *testing.T) string {
	t.Helper()
	b, err := os.ReadFile(os.Getenv("GITHUB_OUTPUT"))
	if err != nil {
		t.Fatalf("read GITHUB_OUTPUT: %v", err)
	}
	return string(b)
}

func TestRun_NoFindings(t *testing.T) {
	injectLLM(t, "[]", nil)
	rp := &recordingPublisher{}
	injectPublisher(t, rp)
	v := baseViper(t, writeFixture(t))

	err := runAnalyze(context.Background(), v)
	if code := exitCode(err); code != 0 {
		t.Fatalf("expected exit 0, got %d: %v", code, err)
	}

	out := readGithubOutput(t)
	for _, want := range []string{"has_issues=false", "issue_count=0", "highest_severity=none"} {
		if !strings.Contains(out, want) {
			t.Errorf("outputs missing %q:\n%s", want, out)
		}
	}
	if rp.calls != 1 || rp.pr != 12 {
		t.Errorf("publisher calls=%d pr=%d, want 1 call on PR 12", rp.calls, rp.pr)
	}
}

func TestRun_ThresholdFailure(t *testing.T) {
	injectLLM(t, highFindingResponse, nil)
	injectPublisher(t, &recordingPublisher{})
	v := baseViper(t, writeFixture(t))
	// default fail-on-severity is high; the HIGH finding must fail the run.

	err := runAnalyze(context.Background(), v)
	if code := exitCode(err); code != exitCodeThresholdFail {
		t.Fatalf("expected exit %d, got %d: %v", exitCodeThresholdFail, code, err)
	}

	out := readGithubOutput(t)
	for _, want := range []string{"has_issues=true", "issue_count=1", "highest_severity=high"} {
		if !strings.Contains(out, want) {
			t.Errorf("outputs missing %q:\n%s", want, out)
		}
	}

	report, err2 := os.ReadFile(v.GetString("output"))
	if err2 != nil {
		t.Fatalf("read report: %v", err2)
	}
	if !strings.Contains(string(report), "aws_s3_bucket.logs") {
		t.Error("report missing the finding's resource address")
	}
}

func TestRun_FilteredFindingDoesNotFail(t *testing.T) {
	injectLLM(t, highFindingResponse, nil)
	injectPublisher(t, &recordingPublisher{})
	v := baseViper(t, writeFixture(t))
	v.Set("issue-severity-threshold", "critical")
	v.Set("fail-on-severity", "medium")

	err := runAnalyze(context.Background(), v)
	if code := exitCode(err); code != 0 {
		t.Fatalf("expected exit 0 (HIGH finding filtered before fail check), got %d: %v", code, err)
	}
	if !strings.Contains(readGithubOutput(t), "issue_count=0") {
		t.Error("filtered finding should not be counted")
	}
}

func TestRun_MissingConfig(t *testing.T) {
	v := config.New()
	v.Set("plan-path", writeFixture(t))
	t.Setenv("GITHUB_REPOSITORY", "")
	t.Setenv("GITHUB_REF", "")

	err := runAnalyze(context.Background(), v)
	if code := exitCode(err); code != exitCodeError {
		t.Fatalf("expected exit %d for missing credentials, got %d: %v", exitCodeError, code, err)
	}
}

func TestRun_MalformedPlan(t *testing.T) {
	injectLLM(t, "", fmt.Errorf("must not be called"))
	path := filepath.Join(t.TempDir(), "plan.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	v := baseViper(t, path)

	err := runAnalyze(context.Background(), v)
	if code := exitCode(err); code != exitCodeError {
		t.Fatalf("expected exit %d for malformed plan, got %d: %v", exitCodeError, code, err)
	}
}

func TestRun_InvalidModelOutput(t *testing.T) {
	injectLLM(t, "the plan looks fine to me", nil)
	injectPublisher(t, &recordingPublisher{})
	v := baseViper(t, writeFixture(t))

	err := runAnalyze(context.Background(), v)
	if code := exitCode(err); code != exitCodeError {
		t.Fatalf("expected exit %d for unparseable model output, got %d: %v", exitCodeError, code, err)
	}
	if !errors.Is(err, llm.ErrInvalidModelOutput) {
		t.Errorf("expected ErrInvalidModelOutput, got %v", err)
	}
}

func TestRun_PublishFailureIsNonFatal(t *testing.T) {
	injectLLM(t, "[]", nil)
	rp := &recordingPublisher{err: fmt.Errorf("github unreachable")}
	injectPublisher(t, rp)
	v := baseViper(t, writeFixture(t))

	err := runAnalyze(context.Background(), v)
	if code := exitCode(err); code != 0 {
		t.Fatalf("publish failure must not fail the run, got exit %d: %v", code, err)
	}
	if !strings.Contains(readGithubOutput(t), "has_issues=false") {
		t.Error("outputs must still be written when publishing fails")
	}
}

func TestRun_CloudModeUsesResolver(t *testing.T) {
	injectLLM(t, "[]", nil)
	injectPublisher(t, &recordingPublisher{})
	injectResolver(t, &pathResolver{path: writeFixture(t)})

	v := baseViper(t, "")
	v.Set("plan-path", "")
	v.Set("tfc-enabled", true)
	v.Set("tfc-token", "tt")
	v.Set("tfc-organization", "acme")
	v.Set("tfc-workspace", "prod")

	err := runAnalyze(context.Background(), v)
	if code := exitCode(err); code != 0 {
		t.Fatalf("expected exit 0, got %d: %v", code, err)
	}
}

func TestRun_ResolverFailure(t *testing.T) {
	injectLLM(t, "[]", nil)
	injectResolver(t, &pathResolver{err: fmt.Errorf("tfc: run not found")})

	v := baseViper(t, "")
	v.Set("plan-path", "")
	v.Set("tfc-enabled", true)
	v.Set("tfc-token", "tt")
	v.Set("tfc-organization", "acme")
	v.Set("tfc-workspace", "prod")

	err := runAnalyze(context.Background(), v)
	if code := exitCode(err); code != exitCodeError {
		t.Fatalf("expected exit %d, got %d: %v", exitCodeError, code, err)
	}
}
