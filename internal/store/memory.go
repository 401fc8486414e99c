package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/joshsymonds/triage/internal/rules"
)

// Memory holds rules in process, in insertion order.
type Memory struct {
	orgDomain string

	mu       sync.RWMutex
	label    []rules.LabelRule
	assignee []rules.AssigneeRule
}

func NewMemory(orgDomain string) *Memory {
	return &Memory{orgDomain: orgDomain}
}

func (m *Memory) LabelRules(context.Context) ([]rules.LabelRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]rules.LabelRule, len(m.label))
	for i, r := range m.label {
		r.LabelNames = slices.Clone(r.LabelNames)
		out[i] = r
	}
	return out, nil
}

func (m *Memory) AssigneeRules(context.Context) ([]rules.AssigneeRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.assignee), nil
}

func (m *Memory) PutLabelRule(_ context.Context, r rules.LabelRule) error {
	if err := rules.ValidateLabelRule(&r, m.orgDomain); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.label = upsert(m.label, r, labelID)
	return nil
}

func (m *Memory) PutAssigneeRule(_ context.Context, r rules.AssigneeRule) error {
	if err := rules.ValidateAssigneeRule(&r, m.orgDomain); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignee = upsert(m.assignee, r, assigneeID)
	return nil
}

func (m *Memory) DeleteRule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ok bool
	if m.label, ok = remove(m.label, id, labelID); ok {
		return nil
	}
	if m.assignee, ok = remove(m.assignee, id, assigneeID); ok {
		return nil
	}
	return fmt.Errorf("delete %s: %w", id, rules.ErrRuleNotFound)
}
