// Package store persists label and assignee rules. Every read returns a fresh
// snapshot; nothing here caches rules between calls.
package store

import (
	"context"
	"fmt"

	"github.com/joshsymonds/triage/internal/rules"
)

// RuleSource reads the current rule set.
type RuleSource interface {
	LabelRules(ctx context.Context) ([]rules.LabelRule, error)
	AssigneeRules(ctx context.Context) ([]rules.AssigneeRule, error)
}

// RuleStore is a RuleSource that can also be edited. Put validates the rule
// against the organization domain before saving it.
type RuleStore interface {
	RuleSource
	PutLabelRule(ctx context.Context, r rules.LabelRule) error
	PutAssigneeRule(ctx context.Context, r rules.AssigneeRule) error
	DeleteRule(ctx context.Context, id string) error
}

// EnabledLabelRules returns the enabled label rules in stored order.
func EnabledLabelRules(ctx context.Context, src RuleSource) ([]rules.LabelRule, error) {
	all, err := src.LabelRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load label rules: %w", err)
	}
	return rules.EnabledLabelRules(all), nil
}

// EnabledAssigneeRules returns the enabled assignee rules by ascending
// priority, keeping stored order among equal priorities.
func EnabledAssigneeRules(ctx context.Context, src RuleSource) ([]rules.AssigneeRule, error) {
	all, err := src.AssigneeRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load assignee rules: %w", err)
	}
	return rules.SortAssigneeRules(all), nil
}

// LookupLabelRule finds a label rule by id regardless of its enabled flag.
func LookupLabelRule(ctx context.Context, src RuleSource, id string) (rules.LabelRule, error) {
	all, err := src.LabelRules(ctx)
	if err != nil {
		return rules.LabelRule{}, fmt.Errorf("load label rules: %w", err)
	}
	for _, r := range all {
		if r.ID == id {
			return r, nil
		}
	}
	return rules.LabelRule{}, fmt.Errorf("label rule %s: %w", id, rules.ErrRuleNotFound)
}

// LookupAssigneeRule finds an assignee rule by id regardless of its enabled flag.
func LookupAssigneeRule(ctx context.Context, src RuleSource, id string) (rules.AssigneeRule, error) {
	all, err := src.AssigneeRules(ctx)
	if err != nil {
		return rules.AssigneeRule{}, fmt.Errorf("load assignee rules: %w", err)
	}
	for _, r := range all {
		if r.ID == id {
			return r, nil
		}
	}
	return rules.AssigneeRule{}, fmt.Errorf("assignee rule %s: %w", id, rules.ErrRuleNotFound)
}

func upsert[T any](list []T, item T, id func(T) string) []T {
	for i := range list {
		if id(list[i]) == id(item) {
			list[i] = item
			return list
		}
	}
	return append(list, item)
}

func remove[T any](list []T, target string, id func(T) string) ([]T, bool) {
	for i := range list {
		if id(list[i]) == target {
			return append(list[:i], list[i+1:]...), true
		}
	}
	return list, false
}

func labelID(r rules.LabelRule) string       { return r.ID }
func assigneeID(r rules.AssigneeRule) string { return r.ID }
