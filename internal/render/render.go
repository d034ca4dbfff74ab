// Package render produces the markdown analysis report.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/planguard/planguard/internal/plan"
	"github.com/planguard/planguard/internal/schema"
	"github.com/planguard/planguard/internal/verdict"
)

// Input carries everything the report template needs.
type Input struct {
	PlanPath string
	// Summary is rendered when IncludeSummary is true.
	Summary        plan.Summary
	IncludeSummary bool
	Findings       []schema.Finding
	GeneratedAt    time.Time
}

// bands lists the severity table rows in display order. All four rows
// render even at zero count.
var bands = []schema.Severity{
	schema.SeverityCritical,
	schema.SeverityHigh,
	schema.SeverityMedium,
	schema.SeverityLow,
}

// Markdown renders the full report as GitHub-flavoured markdown.
func Markdown(in Input) string {
	var sb strings.Builder

	sb.WriteString("# Terraform Plan Analysis\n\n")
	fmt.Fprintf(&sb, "Plan file: `%s`  \n", in.PlanPath)
	fmt.Fprintf(&sb, "Generated: %s\n\n", in.GeneratedAt.UTC().Format(time.RFC3339))

	if in.IncludeSummary {
		writePlanSummary(&sb, in.Summary)
	}

	writeFindingsSummary(&sb, in.Findings)

	if len(in.Findings) > 0 {
		writeDetailedFindings(&sb, in.Findings)
	} else {
		sb.WriteString("\nNo security issues detected at or above the configured threshold.\n")
	}

	return sb.String()
}

func writePlanSummary(sb *strings.Builder, s plan.Summary) {
	sb.WriteString("## Plan Summary\n\n")
	sb.WriteString("| Operation | Count |\n")
	sb.WriteString("|-----------|-------|\n")
	fmt.Fprintf(sb, "| Create | %d |\n", len(s.Create))
	fmt.Fprintf(sb, "| Update/Replace | %d |\n", len(s.UpdateReplace))
	fmt.Fprintf(sb, "| Delete | %d |\n", len(s.Delete))

	if len(s.Create) > 0 {
		sb.WriteString("\n### Resources to Create\n\n")
		for _, addr := range s.Create {
			fmt.Fprintf(sb, "- `%s`\n", addr)
		}
	}
	if len(s.UpdateReplace) > 0 {
		sb.WriteString("\n### Resources to Update/Replace\n\n")
		for _, e := range s.UpdateReplace {
			fmt.Fprintf(sb, "- `%s` (%s)\n", e.Address, e.Action)
		}
	}
	if len(s.Delete) > 0 {
		sb.WriteString("\n### Resources to Delete\n\n")
		for _, addr := range s.Delete {
			fmt.Fprintf(sb, "- `%s`\n", addr)
		}
	}
	sb.WriteString("\n")
}

func writeFindingsSummary(sb *strings.Builder, findings []schema.Finding) {
	sb.WriteString("## Security Findings Summary\n\n")
	fmt.Fprintf(sb, "Total issues found: %d\n\n", len(findings))
	sb.WriteString("| Severity | Count |\n")
	sb.WriteString("|----------|-------|\n")

	counts := verdict.CountBySeverity(findings)
	for _, band := range bands {
		fmt.Fprintf(sb, "| %s | %d |\n", band.Band(), counts[band])
	}
}

func writeDetailedFindings(sb *strings.Builder, findings []schema.Finding) {
	sb.WriteString("\n## Detailed Findings\n\n")
	for i, f := range findings {
		fmt.Fprintf(sb, "### Issue %d: %s - %s\n\n", i+1, f.Severity.Band(), f.ResourceAddress())
		fmt.Fprintf(sb, "**Description**: %s\n\n", orDefault(f.Description, "No description provided"))
		fmt.Fprintf(sb, "**Potential Impact**: %s\n\n", orDefault(f.Impact, "No impact analysis provided"))
		fmt.Fprintf(sb, "**Recommendation**: %s\n\n", orDefault(f.Recommendation, "No recommendation provided"))
		sb.WriteString("---\n\n")
	}
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return mdEscape(s)
}

// mdEscape neutralizes characters that would break the surrounding
// markdown structure.
func mdEscape(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\r", "")
	return s
}
