// Package output writes GitHub Actions step outputs.
package output

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/planguard/planguard/internal/schema"
)

// Write appends the analysis outputs as name=value lines to the file
// named by the GITHUB_OUTPUT environment variable. Outside of Actions
// (variable unset) the lines go to w instead, so local runs still show
// the values.
func Write(w io.Writer, result schema.AnalysisResult) error {
	if path := os.Getenv("GITHUB_OUTPUT"); path != "" {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("output: open %s: %w", path, err)
		}
		defer f.Close()
		w = f
	}
	return writeLines(w, result)
}

func writeLines(w io.Writer, result schema.AnalysisResult) error {
	lines := []struct {
		name, value string
	}{
		{"has_issues", strconv.FormatBool(result.HasIssues)},
		{"issue_count", strconv.Itoa(result.IssueCount)},
		{"highest_severity", string(result.HighestSeverity)},
	}
	for _, l := range lines {
		if _, err := fmt.Fprintf(w, "%s=%s\n", l.name, l.value); err != nil {
			return fmt.Errorf("output: write %s: %w", l.name, err)
		}
	}
	return nil
}
