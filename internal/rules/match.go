package rules

import "sort"

// MatchOne evaluates a single rule condition against a sender. Senders or
// rules that fail normalization never match.
func MatchOne(sender string, m Match) MatchResult {
	email, ok := NormalizeEmailAddress(sender)
	if !ok {
		return MatchResult{Reason: ReasonInvalidRule}
	}
	kind, value := m.Discriminant()
	switch kind {
	case ReasonFromEmail:
		want, ok := NormalizeEmailAddress(value)
		if !ok {
			return MatchResult{Reason: ReasonInvalidRule}
		}
		if email == want {
			return MatchResult{OK: true, Reason: ReasonFromEmail}
		}
		return MatchResult{Reason: ReasonNoMatch}
	case ReasonFromDomain:
		want, ok := NormalizeDomain(value)
		if !ok {
			return MatchResult{Reason: ReasonInvalidRule}
		}
		if domainCovers(want, DomainOf(email)) {
			return MatchResult{OK: true, Reason: ReasonFromDomain}
		}
		return MatchResult{Reason: ReasonNoMatch}
	default:
		return MatchResult{Reason: ReasonInvalidRule}
	}
}

// MatchLabelRules unions the labels of every enabled rule matching sender, in
// rule order without duplicates. The first assignment directive seen wins.
func MatchLabelRules(sender string, rules []LabelRule) LabelDecision {
	var (
		decision LabelDecision
		seen     = map[string]struct{}{}
	)
	for i := range rules {
		rule := &rules[i]
		if !rule.Enabled {
			continue
		}
		if !MatchOne(sender, rule.Match).OK {
			continue
		}
		decision.RuleIDs = append(decision.RuleIDs, rule.ID)
		for _, name := range rule.LabelNames {
			if _, dup := seen[name]; dup || name == "" {
				continue
			}
			seen[name] = struct{}{}
			decision.Labels = append(decision.Labels, name)
		}
		if decision.AssignTo == nil && rule.AssignTo != nil {
			directive := *rule.AssignTo
			decision.AssignTo = &directive
		}
	}
	return decision
}

// PickAssigneeRule returns the first enabled rule, in ascending priority
// order, that matches sender. Equal priorities keep their input order.
func PickAssigneeRule(sender string, rules []AssigneeRule) *AssigneeRule {
	for _, rule := range SortAssigneeRules(rules) {
		if MatchOne(sender, rule.Match).OK {
			picked := rule
			return &picked
		}
	}
	return nil
}

// SortAssigneeRules returns the enabled rules in evaluation order.
func SortAssigneeRules(rules []AssigneeRule) []AssigneeRule {
	enabled := make([]AssigneeRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Enabled {
			enabled = append(enabled, rule)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].Priority < enabled[j].Priority
	})
	return enabled
}

// EnabledLabelRules filters out disabled rules, preserving order.
func EnabledLabelRules(rules []LabelRule) []LabelRule {
	out := make([]LabelRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Enabled {
			out = append(out, rule)
		}
	}
	return out
}
