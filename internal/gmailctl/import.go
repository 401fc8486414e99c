package gmailctl

import (
	"fmt"
	"strings"
	"time"

	"github.com/joshsymonds/triage/internal/rules"
)

// Skipped names a filter that could not become a label rule.
type Skipped struct {
	Filter string `json:"filter"`
	Reason string `json:"reason"`
}

// ImportResult holds the label rules derived from an export.
type ImportResult struct {
	Rules   []rules.LabelRule `json:"rules"`
	Skipped []Skipped         `json:"skipped"`
}

// ImportLabelRules turns every sender-only filter that adds user labels into
// one label rule per sender. Filters on other criteria cannot be expressed as
// sender rules and are skipped. labelNames supplements the export's own label
// table, keyed by label id.
func ImportLabelRules(export Export, labelNames map[string]string, orgDomain string, now time.Time) ImportResult {
	names := make(map[string]string, len(labelNames)+len(export.Labels))
	for id, name := range labelNames {
		names[id] = name
	}
	for _, lbl := range export.Labels {
		if lbl.ID != "" && lbl.Name != "" {
			names[lbl.ID] = lbl.Name
		}
	}

	var res ImportResult
	for _, filt := range export.Filters {
		name := filterName(filt)
		senders, reason := senderCandidates(filt.Criteria)
		if reason != "" {
			res.Skipped = append(res.Skipped, Skipped{Filter: name, Reason: reason})
			continue
		}
		labels := userLabels(filt.Action, names)
		if len(labels) == 0 {
			res.Skipped = append(res.Skipped, Skipped{Filter: name, Reason: "adds no user label"})
			continue
		}
		for _, sender := range senders {
			r, err := rules.NewLabelRule(senderMatch(sender), labels, nil, orgDomain, now)
			if err != nil {
				res.Skipped = append(res.Skipped, Skipped{Filter: name, Reason: fmt.Sprintf("%s: %v", sender, err)})
				continue
			}
			res.Rules = append(res.Rules, r)
		}
	}
	return res
}

func filterName(f Filter) string {
	if n := strings.TrimSpace(f.Name); n != "" {
		return n
	}
	if id := strings.TrimSpace(f.ID); id != "" {
		return id
	}
	if f.Criteria.From != "" {
		return "from:" + strings.TrimSpace(f.Criteria.From)
	}
	if f.Criteria.Query != "" {
		return strings.TrimSpace(f.Criteria.Query)
	}
	return "gmailctl-filter"
}

func senderCandidates(c FilterCriteria) ([]string, string) {
	if strings.TrimSpace(c.To) != "" || strings.TrimSpace(c.Subject) != "" || strings.TrimSpace(c.List) != "" {
		return nil, "matches more than the sender"
	}
	senders := splitCandidates(c.From)
	if q := strings.TrimSpace(c.Query); q != "" {
		fromQuery, ok := queryFromTokens(q)
		if !ok {
			return nil, "query is not a plain from: search"
		}
		senders = append(senders, fromQuery...)
	}
	if len(senders) == 0 {
		return nil, "no sender criteria"
	}
	return senders, ""
}

// queryFromTokens accepts queries made only of from: terms joined by OR.
func queryFromTokens(query string) ([]string, bool) {
	var out []string
	for _, raw := range strings.Fields(query) {
		tok := strings.Trim(raw, "()\"'{}")
		if tok == "" || strings.EqualFold(tok, "OR") {
			continue
		}
		if !strings.HasPrefix(strings.ToLower(tok), "from:") {
			return nil, false
		}
		vals := splitCandidates(tok[len("from:"):])
		if len(vals) == 0 {
			return nil, false
		}
		out = append(out, vals...)
	}
	return out, len(out) > 0
}

func splitCandidates(raw string) []string {
	replacer := strings.NewReplacer(",", " ", ";", " ", "|", " ", "{", " ", "}", " ")
	raw = strings.TrimSpace(replacer.Replace(raw))
	if raw == "" {
		return nil
	}
	parts := strings.Fields(raw)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.ToLower(strings.Trim(part, "\"'()"))
		if part == "" || strings.EqualFold(part, "OR") {
			continue
		}
		out = append(out, part)
	}
	return out
}

// senderMatch maps "a@b.com" to an email match and "*@b.com", "@b.com" or
// "b.com" to a domain match.
func senderMatch(sender string) rules.Match {
	s := strings.TrimPrefix(sender, "*")
	if at := strings.Index(s, "@"); at > 0 {
		return rules.Match{FromEmail: s}
	}
	return rules.Match{FromDomain: s}
}

var systemLabels = map[string]struct{}{
	"INBOX":     {},
	"UNREAD":    {},
	"STARRED":   {},
	"IMPORTANT": {},
	"SPAM":      {},
	"TRASH":     {},
}

func userLabels(action FilterAction, names map[string]string) []string {
	var out []string
	for _, id := range action.AddLabelIDs {
		if _, ok := systemLabels[id]; ok || strings.HasPrefix(id, "CATEGORY_") {
			continue
		}
		if name, ok := names[id]; ok && name != "" {
			out = append(out, name)
		}
	}
	return out
}
