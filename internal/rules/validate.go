package rules

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for rule configuration and lookup.
var (
	// ErrInvalidRule indicates a rule definition that cannot be saved.
	ErrInvalidRule = errors.New("invalid rule")

	// ErrRuleNotFound indicates a rule id that does not exist.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrRuleDisabled indicates a request for a rule that is disabled.
	ErrRuleDisabled = errors.New("rule is disabled")
)

// ConfigError describes why a rule definition was rejected.
type ConfigError struct {
	RuleID string
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.RuleID == "" {
		return fmt.Sprintf("invalid rule: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid rule %s: %s: %s", e.RuleID, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidRule }

func normalizeMatch(id string, m Match) (Match, error) {
	var out Match
	if strings.TrimSpace(m.FromEmail) != "" {
		email, ok := NormalizeEmailAddress(m.FromEmail)
		if !ok {
			return Match{}, &ConfigError{RuleID: id, Field: "match.fromEmail", Reason: "not a valid address"}
		}
		out.FromEmail = email
	}
	if strings.TrimSpace(m.FromDomain) != "" {
		domain, ok := NormalizeDomain(m.FromDomain)
		if !ok {
			return Match{}, &ConfigError{RuleID: id, Field: "match.fromDomain", Reason: "not a valid domain"}
		}
		out.FromDomain = domain
	}
	if out.FromEmail == "" && out.FromDomain == "" {
		return Match{}, &ConfigError{RuleID: id, Field: "match", Reason: "fromEmail or fromDomain is required"}
	}
	return out, nil
}

// ValidateLabelRule normalizes r in place or returns a *ConfigError.
func ValidateLabelRule(r *LabelRule, orgDomain string) error {
	m, err := normalizeMatch(r.ID, r.Match)
	if err != nil {
		return err
	}
	r.Match = m

	labels := make([]string, 0, len(r.LabelNames))
	seen := map[string]struct{}{}
	for _, name := range r.LabelNames {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		labels = append(labels, name)
	}
	if len(labels) == 0 {
		return &ConfigError{RuleID: r.ID, Field: "labelNames", Reason: "at least one label is required"}
	}
	r.LabelNames = labels

	if r.AssignTo != nil {
		switch r.AssignTo.Kind {
		case AssignSelf:
		case AssignSpecific:
			email, ok := NormalizeOrgEmail(r.AssignTo.Email, orgDomain)
			if !ok {
				return &ConfigError{
					RuleID: r.ID,
					Field:  "assignTo.assigneeEmail",
					Reason: "must be an address in " + orgDomain,
				}
			}
			r.AssignTo.Email = email
		default:
			return &ConfigError{RuleID: r.ID, Field: "assignTo", Reason: "unknown directive"}
		}
	}
	return nil
}

// ValidateAssigneeRule normalizes r in place or returns a *ConfigError. A
// rule on a broad domain is rejected unless DangerousDomainConfirm is set.
func ValidateAssigneeRule(r *AssigneeRule, orgDomain string) error {
	m, err := normalizeMatch(r.ID, r.Match)
	if err != nil {
		return err
	}
	r.Match = m

	email, ok := NormalizeOrgEmail(r.AssigneeEmail, orgDomain)
	if !ok {
		return &ConfigError{RuleID: r.ID, Field: "assigneeEmail", Reason: "must be an address in " + orgDomain}
	}
	r.AssigneeEmail = email

	if warning := BroadDomainWarning(r.Match); warning != "" && !r.DangerousDomainConfirm {
		return &ConfigError{RuleID: r.ID, Field: "dangerousDomainConfirm", Reason: warning}
	}
	return nil
}

// NewLabelRule builds an enabled, validated label rule with a fresh id.
func NewLabelRule(m Match, labels []string, assignTo *AssignTo, orgDomain string, now time.Time) (LabelRule, error) {
	r := LabelRule{
		ID:         uuid.NewString(),
		Enabled:    true,
		Match:      m,
		LabelNames: labels,
		AssignTo:   assignTo,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := ValidateLabelRule(&r, orgDomain); err != nil {
		return LabelRule{}, err
	}
	return r, nil
}

// NewAssigneeRule builds an enabled, validated assignee rule with a fresh id.
// UnassignedOnly starts true.
func NewAssigneeRule(
	m Match,
	assignee string,
	priority int,
	confirmBroad bool,
	orgDomain string,
	now time.Time,
) (AssigneeRule, error) {
	r := AssigneeRule{
		ID:                     uuid.NewString(),
		Enabled:                true,
		Priority:               priority,
		Match:                  m,
		AssigneeEmail:          assignee,
		When:                   When{UnassignedOnly: true},
		DangerousDomainConfirm: confirmBroad,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := ValidateAssigneeRule(&r, orgDomain); err != nil {
		return AssigneeRule{}, err
	}
	return r, nil
}
