// Package verdict provides deterministic local logic for severity
// filtering, aggregation, and the failure decision. No LLM calls are
// made here.
package verdict

import (
	"sort"

	"github.com/planguard/planguard/internal/schema"
)

// FilterBySeverity retains exactly the findings with severity at or above
// threshold. The input slice is not mutated.
func FilterBySeverity(findings []schema.Finding, threshold schema.Severity) []schema.Finding {
	out := make([]schema.Finding, 0, len(findings))
	for _, f := range findings {
		if f.Severity.AtLeast(threshold) {
			out = append(out, f)
		}
	}
	return out
}

// SortFindings orders findings by descending severity for presentation.
// The sort is stable: findings of equal severity keep the model's
// original relative order.
func SortFindings(findings []schema.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Severity.Ordinal() > findings[j].Severity.Ordinal()
	})
}

// HighestSeverity returns the maximum severity among findings, or
// SeverityNone when the list is empty.
func HighestSeverity(findings []schema.Finding) schema.Severity {
	highest := schema.SeverityNone
	for _, f := range findings {
		if f.Severity.Ordinal() > highest.Ordinal() {
			highest = f.Severity
		}
	}
	return highest
}

// CountBySeverity counts findings per severity band. All four bands are
// always present in the result, zero-valued when empty.
func CountBySeverity(findings []schema.Finding) map[schema.Severity]int {
	counts := map[schema.Severity]int{
		schema.SeverityLow:      0,
		schema.SeverityMedium:   0,
		schema.SeverityHigh:     0,
		schema.SeverityCritical: 0,
	}
	for _, f := range findings {
		if _, ok := counts[f.Severity]; ok {
			counts[f.Severity]++
		}
	}
	return counts
}

// ShouldFail reports whether any retained finding is at or above the
// failure threshold. The check runs against the post-filter list: a
// finding excluded by the inclusion threshold never fails the run, so
// the report, the outputs, and the failure signal always describe the
// same set of findings.
func ShouldFail(retained []schema.Finding, failThreshold schema.Severity) bool {
	for _, f := range retained {
		if f.Severity.AtLeast(failThreshold) {
			return true
		}
	}
	return false
}

// Summarize assembles the aggregate result from retained findings. The
// slice is sorted in place for presentation before aggregation.
func Summarize(retained []schema.Finding, failThreshold schema.Severity) schema.AnalysisResult {
	SortFindings(retained)
	return schema.AnalysisResult{
		Findings:        retained,
		IssueCount:      len(retained),
		HighestSeverity: HighestSeverity(retained),
		HasIssues:       len(retained) > 0,
		ShouldFail:      ShouldFail(retained, failThreshold),
	}
}
