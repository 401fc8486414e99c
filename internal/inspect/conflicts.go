package inspect

import (
	"fmt"
	"sort"
	"strings"

	"github.com/joshsymonds/triage/internal/rules"
)

// ConflictType names the rule families involved in a conflict.
type ConflictType string

const (
	LabelLabel       ConflictType = "label_label"
	AssigneeAssignee ConflictType = "assignee_assignee"
	LabelAssignee    ConflictType = "label_assignee"
)

// Conflict is a pair of enabled rules that can fire on the same sender but
// decide differently.
type Conflict struct {
	Type        ConflictType `json:"type"`
	RuleIDs     []string     `json:"rule_ids"`
	Sender      string       `json:"sender"`
	Description string       `json:"description"`
}

// Ambiguity is a pair of overlapping assignee rules with equal priority and
// different assignees. The winner is whichever is stored first.
type Ambiguity struct {
	RuleIDs  []string `json:"rule_ids"`
	Priority int      `json:"priority"`
	Sender   string   `json:"sender"`
	Winner   string   `json:"winner"`
}

// DetectConflicts compares every pair of enabled rules. It makes no backend
// calls.
func DetectConflicts(labelRules []rules.LabelRule, assigneeRules []rules.AssigneeRule) []Conflict {
	labels := rules.EnabledLabelRules(labelRules)
	assignees := enabledAssignees(assigneeRules)

	var conflicts []Conflict
	for i := 0; i < len(labels); i++ {
		for j := i + 1; j < len(labels); j++ {
			a, b := labels[i], labels[j]
			sender, ok := overlap(a.Match, b.Match)
			if !ok {
				continue
			}
			if desc := labelDifference(a, b); desc != "" {
				conflicts = append(conflicts, Conflict{
					Type:        LabelLabel,
					RuleIDs:     []string{a.ID, b.ID},
					Sender:      sender,
					Description: desc,
				})
			}
		}
	}
	for i := 0; i < len(assignees); i++ {
		for j := i + 1; j < len(assignees); j++ {
			a, b := assignees[i], assignees[j]
			if a.AssigneeEmail == b.AssigneeEmail {
				continue
			}
			sender, ok := overlap(a.Match, b.Match)
			if !ok {
				continue
			}
			conflicts = append(conflicts, Conflict{
				Type:    AssigneeAssignee,
				RuleIDs: []string{a.ID, b.ID},
				Sender:  sender,
				Description: fmt.Sprintf(
					"assigns to %s (priority %d) and %s (priority %d)",
					a.AssigneeEmail, a.Priority, b.AssigneeEmail, b.Priority,
				),
			})
		}
	}
	for _, l := range labels {
		if l.AssignTo == nil {
			continue
		}
		for _, a := range assignees {
			if l.AssignTo.Kind == rules.AssignSpecific && l.AssignTo.Email == a.AssigneeEmail {
				continue
			}
			sender, ok := overlap(l.Match, a.Match)
			if !ok {
				continue
			}
			conflicts = append(conflicts, Conflict{
				Type:    LabelAssignee,
				RuleIDs: []string{l.ID, a.ID},
				Sender:  sender,
				Description: fmt.Sprintf(
					"label rule assigns to %s, assignee rule to %s (assignee rule wins)",
					l.AssignTo, a.AssigneeEmail,
				),
			})
		}
	}
	sortConflicts(conflicts)
	return conflicts
}

// DetectAmbiguities reports overlapping assignee rules that share a priority
// but route to different assignees.
func DetectAmbiguities(assigneeRules []rules.AssigneeRule) []Ambiguity {
	ordered := rules.SortAssigneeRules(assigneeRules)
	var out []Ambiguity
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			a, b := ordered[i], ordered[j]
			if b.Priority != a.Priority {
				break
			}
			if a.AssigneeEmail == b.AssigneeEmail {
				continue
			}
			sender, ok := overlap(a.Match, b.Match)
			if !ok {
				continue
			}
			out = append(out, Ambiguity{
				RuleIDs:  []string{a.ID, b.ID},
				Priority: a.Priority,
				Sender:   sender,
				Winner:   a.ID,
			})
		}
	}
	return out
}

func enabledAssignees(in []rules.AssigneeRule) []rules.AssigneeRule {
	out := make([]rules.AssigneeRule, 0, len(in))
	for _, r := range in {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}

// overlap reports whether some sender satisfies both conditions and returns
// the narrowest such sender pattern.
func overlap(a, b rules.Match) (string, bool) {
	ka, va, oka := normalized(a)
	kb, vb, okb := normalized(b)
	if !oka || !okb {
		return "", false
	}
	switch {
	case ka == rules.ReasonFromEmail && kb == rules.ReasonFromEmail:
		return va, va == vb
	case ka == rules.ReasonFromEmail:
		return va, rules.MatchOne(va, b).OK
	case kb == rules.ReasonFromEmail:
		return vb, rules.MatchOne(vb, a).OK
	default:
		if covers(va, vb) {
			return "*@" + vb, true
		}
		if covers(vb, va) {
			return "*@" + va, true
		}
		return "", false
	}
}

func normalized(m rules.Match) (rules.MatchReason, string, bool) {
	kind, value := m.Discriminant()
	switch kind {
	case rules.ReasonFromEmail:
		v, ok := rules.NormalizeEmailAddress(value)
		return kind, v, ok
	case rules.ReasonFromDomain:
		v, ok := rules.NormalizeDomain(value)
		return kind, v, ok
	default:
		return kind, "", false
	}
}

// covers reports whether domain rule d matches every sender of sub.
func covers(d, sub string) bool {
	return sub == d || strings.HasSuffix(sub, "."+d)
}

func labelDifference(a, b rules.LabelRule) string {
	var parts []string
	if !sameSet(a.LabelNames, b.LabelNames) {
		parts = append(parts, fmt.Sprintf(
			"labels [%s] vs [%s]",
			strings.Join(a.LabelNames, ", "),
			strings.Join(b.LabelNames, ", "),
		))
	}
	if a.AssignTo != nil && b.AssignTo != nil && *a.AssignTo != *b.AssignTo {
		parts = append(parts, fmt.Sprintf("assigns to %s vs %s (first wins)", a.AssignTo, b.AssignTo))
	}
	return strings.Join(parts, "; ")
}

func sameSet(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	other := make(map[string]struct{}, len(b))
	for _, v := range b {
		if _, ok := set[v]; !ok {
			return false
		}
		other[v] = struct{}{}
	}
	return len(set) == len(other)
}

func sortConflicts(conflicts []Conflict) {
	sort.SliceStable(conflicts, func(i, j int) bool {
		if conflicts[i].Type != conflicts[j].Type {
			return conflicts[i].Type < conflicts[j].Type
		}
		return strings.Join(conflicts[i].RuleIDs, "|") < strings.Join(conflicts[j].RuleIDs, "|")
	})
}
