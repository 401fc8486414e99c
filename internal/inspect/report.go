package inspect

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/joshsymonds/triage/internal/triage"
)

const previewSubjectDisplayLimit = 60

// PrintHuman writes the report, including per-rule hit counts.
func PrintHuman(rep Report, w io.Writer) error {
	if w == nil {
		w = os.Stdout
	}
	var builder strings.Builder
	builder.WriteString(rep.HumanSummary())
	if len(rep.Hits) > 0 {
		fmt.Fprintf(&builder, "\nHits (%s):\n", rep.Query)
		for _, st := range rep.Hits {
			fmt.Fprintf(&builder, "  %-8s %-36s %-40s %4d\n", st.Family, st.RuleID, st.Match, st.Hits)
			for _, hs := range st.Samples {
				fmt.Fprintf(&builder, "      %s %s\n", hs.ID, truncate(hs.Subject, previewSubjectDisplayLimit))
			}
		}
	}
	if _, err := io.WriteString(w, builder.String()); err != nil {
		return fmt.Errorf("write human report: %w", err)
	}
	return nil
}

// PrintSuggestions writes a readable suggestion list.
func PrintSuggestions(rep SuggestReport, w io.Writer) error {
	if w == nil {
		w = os.Stdout
	}
	var builder strings.Builder
	fmt.Fprintf(&builder, "triage suggest: window %s (%d manual actions)\n", rep.Window, rep.Scanned)
	if len(rep.Suggestions) == 0 {
		builder.WriteString("no suggestions\n")
	}
	for _, sg := range rep.Suggestions {
		what := "label " + sg.Label
		if sg.Family == triage.FamilyAssignee {
			what = "assign to " + sg.Assignee
		}
		fmt.Fprintf(&builder, "  %s -> %s (%d %s actions by %s)\n",
			sg.Match, what, sg.Actions, sg.Action, strings.Join(sg.Actors, ", "))
		if len(sg.Senders) > 0 {
			fmt.Fprintf(&builder, "      senders: %s\n", strings.Join(sg.Senders, ", "))
		}
		for _, warn := range sg.Warnings {
			fmt.Fprintf(&builder, "      warning: %s\n", warn)
		}
	}
	if _, err := io.WriteString(w, builder.String()); err != nil {
		return fmt.Errorf("write suggestions: %w", err)
	}
	return nil
}

// WriteJSON serializes v to a file under the working directory.
func WriteJSON(v any, path string) error {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return fmt.Errorf("path must not be empty")
	}
	clean = filepath.Clean(clean)
	if filepath.IsAbs(clean) {
		return fmt.Errorf("output path must be relative, got %s", clean)
	}
	if strings.HasPrefix(clean, "..") {
		return fmt.Errorf("output path %s escapes working directory", clean)
	}
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("determine working directory: %w", err)
	}
	abs := filepath.Join(wd, clean)
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) // #nosec G304
	if err != nil {
		return fmt.Errorf("create %s: %w", abs, err)
	}
	defer func() { _ = f.Close() }()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if encodeErr := enc.Encode(v); encodeErr != nil {
		return fmt.Errorf("encode report: %w", encodeErr)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
