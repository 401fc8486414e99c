// Package auditlog records triage actions. Writes are best-effort: callers log
// and drop Record errors rather than failing the action that produced them.
package auditlog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Action is the kind of change an entry describes.
type Action string

const (
	ActionLabel     Action = "label"
	ActionAssign    Action = "assign"
	ActionMute      Action = "mute"
	ActionRuleApply Action = "rule_apply"
)

// Entry is one recorded action on one message.
type Entry struct {
	ID        string    `json:"id"`
	At        time.Time `json:"at"`
	Actor     string    `json:"actor"`
	Action    Action    `json:"action"`
	MessageID string    `json:"messageId"`
	Sender    string    `json:"sender,omitempty"`
	Labels    []string  `json:"labels,omitempty"`
	Assignee  string    `json:"assignee,omitempty"`
	// RuleID is set when a rule, not a person, caused the action.
	RuleID string `json:"ruleId,omitempty"`
	DryRun bool   `json:"dryRun,omitempty"`
}

// Automated reports whether the entry came from a rule run.
func (e Entry) Automated() bool { return e.RuleID != "" }

// Sink accepts entries.
type Sink interface {
	Record(ctx context.Context, e Entry) error
}

// History reads entries back, newest first.
type History interface {
	Since(ctx context.Context, t time.Time) ([]Entry, error)
}

// Discard drops every entry.
type Discard struct{}

func (Discard) Record(context.Context, Entry) error { return nil }

// Stamp fills ID and At when they are unset.
func Stamp(e Entry, now time.Time) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = now.UTC()
	}
	return e
}

// Multi fans an entry out to every sink and returns the first error.
type Multi []Sink

func (m Multi) Record(ctx context.Context, e Entry) error {
	var first error
	for _, s := range m {
		if err := s.Record(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
