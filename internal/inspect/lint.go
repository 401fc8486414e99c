package inspect

import (
	"fmt"
	"sort"
	"strings"
)

// ShouldFail reports whether any of the requested conditions are present.
// Recognized conditions are conflict, ambiguous, broad and inactive.
func (r Report) ShouldFail(failOn []string) bool {
	flags := map[string]bool{
		"conflict":  len(r.Conflicts) > 0,
		"ambiguous": len(r.Ambiguities) > 0,
		"broad":     len(r.Broad) > 0,
		"inactive":  len(r.Inactive) > 0,
	}
	for _, cond := range failOn {
		cond = strings.TrimSpace(strings.ToLower(cond))
		if cond == "" {
			continue
		}
		if flags[cond] {
			return true
		}
	}
	return false
}

// HumanSummary renders a concise CLI summary.
func (r Report) HumanSummary() string {
	builder := &strings.Builder{}
	fmt.Fprintf(builder, "triage inspect (%d messages sampled)\n", r.Sampled)
	if len(r.Conflicts) == 0 && len(r.Ambiguities) == 0 && len(r.Broad) == 0 && len(r.Inactive) == 0 {
		builder.WriteString("no findings\n")
		return builder.String()
	}
	if len(r.Conflicts) > 0 {
		builder.WriteString("conflicts:\n")
		for _, cf := range r.Conflicts {
			fmt.Fprintf(builder, "  [%s] %s on %s: %s\n", cf.Type, strings.Join(cf.RuleIDs, ", "), cf.Sender, cf.Description)
		}
	}
	if len(r.Ambiguities) > 0 {
		builder.WriteString("ambiguous priorities:\n")
		for _, am := range r.Ambiguities {
			fmt.Fprintf(builder, "  %s share priority %d on %s; %s wins by order\n",
				strings.Join(am.RuleIDs, ", "), am.Priority, am.Sender, am.Winner)
		}
	}
	writeFindings(builder, "broad domains:\n", r.Broad)
	writeFindings(builder, "inactive rules:\n", r.Inactive)
	return builder.String()
}

func writeFindings(builder *strings.Builder, title string, findings []RuleFinding) {
	if len(findings) == 0 {
		return
	}
	builder.WriteString(title)
	sorted := append([]RuleFinding(nil), findings...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RuleID < sorted[j].RuleID })
	for _, fr := range sorted {
		fmt.Fprintf(builder, "  %s rule %s: %s\n", fr.Family, fr.RuleID, fr.Reason)
	}
}

// ParseFailOn splits a comma separated list into canonical tokens.
func ParseFailOn(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(strings.ToLower(part))
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
