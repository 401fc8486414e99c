package triage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joshsymonds/triage/internal/rules"
)

// ErrInvalidRequest is matched by every *ValidationError.
var ErrInvalidRequest = errors.New("invalid request")

// ValidationError names the request field that was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRequest }

// Family restricts a request to one rule family. The zero value means both.
type Family string

const (
	FamilyAll      Family = ""
	FamilyLabel    Family = "label"
	FamilyAssignee Family = "assignee"
)

// Request is the shared input of Preview and Apply.
type Request struct {
	RuleID string `json:"ruleId,omitempty"`
	Family Family `json:"family,omitempty"`
	// MessageIDs lists explicit targets. When empty the latest Limit inbox
	// messages are fetched.
	MessageIDs []string `json:"messageIds,omitempty"`
	Limit      int      `json:"limit,omitempty"`
	// UnassignedOnly narrows the implicit fetch to unowned messages.
	UnassignedOnly bool   `json:"unassignedOnly,omitempty"`
	DryRun         bool   `json:"dryRun"`
	Actor          string `json:"actor,omitempty"`
}

// Validate normalizes r in place. maxItems caps Limit; a Limit of zero takes
// the cap.
func (r *Request) Validate(maxItems int) error {
	switch r.Family {
	case FamilyAll, FamilyLabel, FamilyAssignee:
	default:
		return &ValidationError{Field: "family", Reason: fmt.Sprintf("unknown family %q", r.Family)}
	}
	r.RuleID = strings.TrimSpace(r.RuleID)
	if r.Limit < 0 {
		return &ValidationError{Field: "limit", Reason: "must not be negative"}
	}
	if r.Limit == 0 || r.Limit > maxItems {
		r.Limit = maxItems
	}
	if strings.TrimSpace(r.Actor) != "" {
		actor, ok := rules.NormalizeEmailAddress(r.Actor)
		if !ok {
			return &ValidationError{Field: "actor", Reason: "not a valid address"}
		}
		r.Actor = actor
	}
	seen := make(map[string]struct{}, len(r.MessageIDs))
	ids := make([]string, 0, len(r.MessageIDs))
	for _, id := range r.MessageIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return &ValidationError{Field: "messageIds", Reason: "contains an empty id"}
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	r.MessageIDs = ids
	return nil
}

// ResolveRuleID picks the rule filter for a request: the id in the request
// path, then the id in the request body, then the configured default. The
// first non-blank value wins.
func ResolveRuleID(path, body, configured string) string {
	for _, candidate := range []string{path, body, configured} {
		if v := strings.TrimSpace(candidate); v != "" {
			return v
		}
	}
	return ""
}
