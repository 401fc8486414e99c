// Package rules holds the label and assignee rule model, the sender
// normalizers, and the matching logic shared by every triage component.
package rules

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Match is the sender condition of a rule. FromEmail wins when both are set;
// FromDomain is only consulted when FromEmail is empty.
type Match struct {
	FromEmail  string `json:"fromEmail,omitempty" toml:"from_email,omitempty" db:"from_email"`
	FromDomain string `json:"fromDomain,omitempty" toml:"from_domain,omitempty" db:"from_domain"`
}

// Discriminant reports which field decides the match and its raw value.
func (m Match) Discriminant() (MatchReason, string) {
	if strings.TrimSpace(m.FromEmail) != "" {
		return ReasonFromEmail, m.FromEmail
	}
	if strings.TrimSpace(m.FromDomain) != "" {
		return ReasonFromDomain, m.FromDomain
	}
	return ReasonInvalidRule, ""
}

func (m Match) String() string {
	kind, value := m.Discriminant()
	switch kind {
	case ReasonFromEmail:
		return "from:" + value
	case ReasonFromDomain:
		return "from:*@" + value
	default:
		return "from:<unset>"
	}
}

// AssignKind tags the AssignTo variant.
type AssignKind int

const (
	AssignSelf AssignKind = iota + 1
	AssignSpecific
)

// AssignTo is the assignment directive carried by a label rule: either the
// operator running the request or a specific assignee.
type AssignTo struct {
	Kind  AssignKind
	Email string
}

// Self returns the directive that assigns to the requesting operator.
func Self() AssignTo { return AssignTo{Kind: AssignSelf} }

// Specific returns the directive that assigns to email.
func Specific(email string) AssignTo { return AssignTo{Kind: AssignSpecific, Email: email} }

// Resolve returns the concrete assignee for the directive.
func (a AssignTo) Resolve(actor string) string {
	if a.Kind == AssignSelf {
		return actor
	}
	return a.Email
}

func (a AssignTo) String() string {
	if a.Kind == AssignSelf {
		return "self"
	}
	return a.Email
}

type assigneeObject struct {
	AssigneeEmail string `json:"assigneeEmail"`
}

// MarshalJSON encodes the directive as "self" or {"assigneeEmail": "..."}.
func (a AssignTo) MarshalJSON() ([]byte, error) {
	switch a.Kind {
	case AssignSelf:
		return json.Marshal("self")
	case AssignSpecific:
		return json.Marshal(assigneeObject{AssigneeEmail: a.Email})
	default:
		return nil, fmt.Errorf("marshal assign directive: unknown kind %d", a.Kind)
	}
}

// UnmarshalJSON accepts "self" or {"assigneeEmail": "..."}.
func (a *AssignTo) UnmarshalJSON(data []byte) error {
	var token string
	if err := json.Unmarshal(data, &token); err == nil {
		if token != "self" {
			return fmt.Errorf("unknown assign directive %q", token)
		}
		*a = Self()
		return nil
	}
	var obj assigneeObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("decode assign directive: %w", err)
	}
	if strings.TrimSpace(obj.AssigneeEmail) == "" {
		return fmt.Errorf("assign directive missing assigneeEmail")
	}
	*a = Specific(obj.AssigneeEmail)
	return nil
}

// LabelRule adds labels (and optionally an assignee) to mail from a sender.
type LabelRule struct {
	ID         string    `json:"id"`
	Enabled    bool      `json:"enabled"`
	Match      Match     `json:"match"`
	LabelNames []string  `json:"labelNames"`
	AssignTo   *AssignTo `json:"assignTo,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// When restricts when an assignee rule fires.
type When struct {
	UnassignedOnly bool `json:"unassignedOnly"`
}

// AssigneeRule routes mail from a sender to one assignee. Lower Priority is
// evaluated first.
type AssigneeRule struct {
	ID                     string    `json:"id"`
	Enabled                bool      `json:"enabled"`
	Priority               int       `json:"priority"`
	Match                  Match     `json:"match"`
	AssigneeEmail          string    `json:"assigneeEmail"`
	When                   When      `json:"when"`
	DangerousDomainConfirm bool      `json:"dangerousDomainConfirm"`
	CreatedAt              time.Time `json:"createdAt"`
	UpdatedAt              time.Time `json:"updatedAt"`
}

// MatchReason explains a MatchResult.
type MatchReason string

const (
	ReasonFromEmail   MatchReason = "fromEmail"
	ReasonFromDomain  MatchReason = "fromDomain"
	ReasonNoMatch     MatchReason = "no_match"
	ReasonInvalidRule MatchReason = "invalid_rule"
)

// MatchResult is the outcome of evaluating one rule against one sender.
type MatchResult struct {
	OK     bool        `json:"ok"`
	Reason MatchReason `json:"reason"`
}

// LabelDecision is the union of every matching label rule.
type LabelDecision struct {
	Labels   []string  `json:"labels"`
	AssignTo *AssignTo `json:"assignTo,omitempty"`
	RuleIDs  []string  `json:"ruleIds,omitempty"`
}

// Empty reports whether no label rule matched.
func (d LabelDecision) Empty() bool {
	return len(d.Labels) == 0 && d.AssignTo == nil
}
