// Package llm handles communication with the generative-AI service,
// prompt construction, and strict parsing of the findings response.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/planguard/planguard/internal/plan"
	"github.com/planguard/planguard/internal/schema"
)

// ErrInvalidModelOutput is returned when the model response does not
// parse into the findings schema. An empty findings array is a valid
// result; an unparseable response is not.
var ErrInvalidModelOutput = errors.New("llm: model output does not match the findings schema")

// maxPayloadBytes bounds the serialized change list embedded in the
// prompt. Plans larger than this are truncated with an explicit marker
// so the model knows the list is incomplete.
const maxPayloadBytes = 200_000

// Provider is the interface for generative-AI backends.
type Provider interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// NewProvider is the factory for creating providers. It is a
// package-level variable so tests can replace it with a mock without
// modifying the call site. Tests must restore the original value; use
// t.Cleanup to do so safely.
var NewProvider func(apiKey, model string) (Provider, error) = newGoogleProvider

// Options configures an Analyze call.
type Options struct {
	APIKey string
	Model  string
}

// Analyze builds the analysis prompt from the plan's change list, submits
// it to the AI service, and parses the structured findings. One request,
// no retries: a transport error or schema mismatch is a hard failure.
func Analyze(ctx context.Context, changes []plan.ChangeSummary, opts Options) ([]schema.Finding, error) {
	provider, err := NewProvider(opts.APIKey, opts.Model)
	if err != nil {
		return nil, fmt.Errorf("llm: create provider: %w", err)
	}

	prompt, err := BuildPrompt(changes)
	if err != nil {
		return nil, err
	}

	raw, err := provider.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("llm: complete: %w", err)
	}

	return ParseFindings(raw)
}

// BuildPrompt assembles the analysis prompt with a size-bounded JSON
// serialization of the resource changes.
func BuildPrompt(changes []plan.ChangeSummary) (string, error) {
	payload, err := json.MarshalIndent(changes, "", "  ")
	if err != nil {
		return "", fmt.Errorf("llm: marshal changes: %w", err)
	}
	truncated := false
	if len(payload) > maxPayloadBytes {
		payload = payload[:maxPayloadBytes]
		truncated = true
	}

	var sb strings.Builder
	sb.WriteString("As a security expert, analyze this Terraform plan for security and safety risks.\n\n")
	sb.WriteString("Terraform plan changes:\n```json\n")
	sb.Write(payload)
	sb.WriteString("\n```\n")
	if truncated {
		sb.WriteString("\nNote: the change list above was truncated for size; treat it as a partial view of the plan.\n")
	}
	sb.WriteString(`
Identify any security concerns, including but not limited to:
1. Exposed credentials or secrets
2. Public access to sensitive resources
3. Missing encryption
4. Overly permissive IAM roles or security groups
5. Resource configurations that do not follow security best practices
6. Potential for data loss or unintended destruction of resources

Only include actual security concerns, not style or efficiency issues.

`)
	sb.WriteString(outputSchema)
	return sb.String(), nil
}

// outputSchema is the response contract shown to the model.
const outputSchema = `Respond with ONLY a JSON array of findings. No prose, no markdown, no explanation outside the JSON. Each finding has these fields:
[
  {
    "resource_type": "the Terraform resource type",
    "resource_name": "the resource name",
    "severity": "LOW|MEDIUM|HIGH|CRITICAL",
    "description": "a clear explanation of the security issue",
    "impact": "the potential security impact if exploited",
    "recommendation": "specific actions to fix the issue"
  }
]
Return [] if no security concerns are found.
`

// fenceRe matches a markdown code fence block (` + "```" + ` or ~~~) with an
// optional language tag and captures the content between the fences.
var fenceRe = regexp.MustCompile("(?s)^(?:`{3}|~{3})[^\\n]*\\n(.*?)(?:`{3}|~{3})\\s*$")

// openFenceRe matches only an opening fence line. Used to strip orphaned
// opening fences from truncated responses.
var openFenceRe = regexp.MustCompile("^(?:`{3}|~{3})[^\\n]*\\n")

// stripMarkdownFences removes leading/trailing markdown code fences that
// models sometimes wrap around JSON output, even when a JSON response
// MIME type was requested.
func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if loc := openFenceRe.FindStringIndex(s); loc != nil {
		return strings.TrimSpace(s[loc[1]:])
	}
	return s
}

// rawFinding mirrors the response contract before severity validation.
type rawFinding struct {
	ResourceType   string `json:"resource_type"`
	ResourceName   string `json:"resource_name"`
	Severity       string `json:"severity"`
	Description    string `json:"description"`
	Impact         string `json:"impact"`
	Recommendation string `json:"recommendation"`
}

// ParseFindings parses and validates the raw model response. Fences are
// stripped before parsing. The payload must be a JSON array; every
// severity must be one of the four known values. Any mismatch wraps
// ErrInvalidModelOutput — a parse failure is never treated as an empty
// findings list.
func ParseFindings(raw string) ([]schema.Finding, error) {
	raw = stripMarkdownFences(raw)

	var rfs []rawFinding
	if err := json.Unmarshal([]byte(raw), &rfs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModelOutput, err)
	}

	findings := make([]schema.Finding, 0, len(rfs))
	for i, rf := range rfs {
		sev, err := schema.ParseSeverity(rf.Severity)
		if err != nil {
			return nil, fmt.Errorf("%w: finding[%d]: %v", ErrInvalidModelOutput, i, err)
		}
		findings = append(findings, schema.Finding{
			ResourceType:   rf.ResourceType,
			ResourceName:   rf.ResourceName,
			Severity:       sev,
			Description:    rf.Description,
			Impact:         rf.Impact,
			Recommendation: rf.Recommendation,
		})
	}
	return findings, nil
}
