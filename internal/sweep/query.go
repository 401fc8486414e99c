package sweep

import (
	"fmt"
	"strings"
	"time"

	"github.com/joshsymonds/triage/internal/gmail"
	"github.com/joshsymonds/triage/internal/rules"
)

// QueryOptions are the parts of a search expression shared by every rule.
type QueryOptions struct {
	Base          string
	ExcludeLabels []string
	Window        time.Duration
}

func (o QueryOptions) parts() []string {
	parts := []string{o.Base}
	if o.Window > 0 {
		parts = append(parts, gmail.NewerThan(o.Window))
	}
	for _, l := range o.ExcludeLabels {
		parts = append(parts, fmt.Sprintf(`-label:%s`, quoteLabel(l)))
	}
	return parts
}

func fromClause(m rules.Match) (string, bool) {
	kind, value := m.Discriminant()
	switch kind {
	case rules.ReasonFromEmail:
		email, ok := rules.NormalizeEmailAddress(value)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("from:(%s)", email), true
	case rules.ReasonFromDomain:
		domain, ok := rules.NormalizeDomain(value)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("from:(%s)", domain), true
	default:
		return "", false
	}
}

// LabelRuleQuery narrows the search to mail from the rule's sender that does
// not already carry every label of the rule. ok is false for a rule that
// cannot match anything.
func LabelRuleQuery(r rules.LabelRule, opts QueryOptions) (string, bool) {
	from, ok := fromClause(r.Match)
	if !ok {
		return "", false
	}
	parts := append(opts.parts(), from)
	switch len(r.LabelNames) {
	case 0:
	case 1:
		parts = append(parts, "-label:"+quoteLabel(r.LabelNames[0]))
	default:
		all := make([]string, 0, len(r.LabelNames))
		for _, l := range r.LabelNames {
			all = append(all, "label:"+quoteLabel(l))
		}
		parts = append(parts, "-("+strings.Join(all, " ")+")")
	}
	return strings.Join(parts, " "), true
}

// AssigneeRuleQuery narrows the search to mail from the rule's sender.
func AssigneeRuleQuery(r rules.AssigneeRule, opts QueryOptions) (string, bool) {
	from, ok := fromClause(r.Match)
	if !ok {
		return "", false
	}
	return strings.Join(append(opts.parts(), from), " "), true
}

func quoteLabel(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `\"`) + `"`
}
