// Package schema defines the canonical data types for planguard findings
// and analysis results.
package schema

import (
	"fmt"
	"strings"
)

// Severity is the ordered severity scale for findings.
// Ordering: low < medium < high < critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"

	// SeverityNone is the defined value for highest_severity when no
	// findings were retained. It never appears on a Finding.
	SeverityNone Severity = "none"
)

// ParseSeverity converts a string to a Severity constant. Matching is
// case-insensitive; unknown values return an error.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityLow:
		return SeverityLow, nil
	case SeverityMedium:
		return SeverityMedium, nil
	case SeverityHigh:
		return SeverityHigh, nil
	case SeverityCritical:
		return SeverityCritical, nil
	}
	return "", fmt.Errorf("schema: unknown severity %q (valid: low, medium, high, critical)", s)
}

// Ordinal returns the numeric rank of a severity, used for threshold
// comparisons. low=0, medium=1, high=2, critical=3. SeverityNone and
// unknown values return -1 so they never satisfy a threshold.
func (s Severity) Ordinal() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

// AtLeast reports whether s is at or above the threshold t.
func (s Severity) AtLeast(t Severity) bool {
	return s.Ordinal() >= t.Ordinal()
}

// Band returns the uppercase label used in report tables.
func (s Severity) Band() string {
	return strings.ToUpper(string(s))
}

// Finding is one security concern reported by the model. Immutable once
// parsed; threshold filtering selects findings, it never mutates them.
type Finding struct {
	ResourceType   string   `json:"resource_type"`
	ResourceName   string   `json:"resource_name"`
	Severity       Severity `json:"severity"`
	Description    string   `json:"description"`
	Impact         string   `json:"impact"`
	Recommendation string   `json:"recommendation"`
}

// ResourceAddress returns the type.name address for display.
func (f Finding) ResourceAddress() string {
	switch {
	case f.ResourceType == "" && f.ResourceName == "":
		return "unknown"
	case f.ResourceType == "":
		return f.ResourceName
	case f.ResourceName == "":
		return f.ResourceType
	}
	return f.ResourceType + "." + f.ResourceName
}

// AnalysisResult is the aggregate passed to the publisher and to workflow
// outputs. Findings holds only retained findings, in presentation order.
type AnalysisResult struct {
	Findings        []Finding `json:"findings"`
	IssueCount      int       `json:"issue_count"`
	HighestSeverity Severity  `json:"highest_severity"`
	HasIssues       bool      `json:"has_issues"`
	ShouldFail      bool      `json:"should_fail"`
	Report          string    `json:"-"`
}
