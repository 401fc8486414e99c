// Package triage applies label and assignee rules to shared-inbox messages.
// Preview and Apply share one code path; a dry run stops before the first
// mutating call.
package triage

import (
	"context"

	"github.com/joshsymonds/triage/internal/gmail"
)

// CandidateQuery selects messages to consider.
type CandidateQuery struct {
	Query          string
	Max            int
	UnassignedOnly bool
}

// CandidatePage is the result of a candidate listing. More reports that the
// backend had additional matches beyond Max.
type CandidatePage struct {
	IDs  []gmail.MessageID
	More bool
}

// LabelChange names labels to add and remove.
type LabelChange struct {
	Add    []string
	Remove []string
}

// Mailbox is the mail backend as the rule engine sees it.
type Mailbox interface {
	ListCandidates(ctx context.Context, q CandidateQuery) (CandidatePage, error)
	RoutingMetadata(ctx context.Context, id gmail.MessageID) (gmail.MessageMeta, error)
	// LookupLabelID reports the id of an existing label without creating it.
	LookupLabelID(ctx context.Context, name string) (gmail.LabelID, bool, error)
	// ApplyLabelChange creates missing labels before modifying the message.
	ApplyLabelChange(ctx context.Context, id gmail.MessageID, change LabelChange) error
}

// Assignments tracks message ownership. Assign writes email only while the
// owner is still expected ("" for unassigned). It returns "" when the message
// is now held by email, or the teammate who owns it instead.
type Assignments interface {
	Current(ctx context.Context, id gmail.MessageID) (string, error)
	Assign(ctx context.Context, id gmail.MessageID, email, expected string) (string, error)
}

// Status is the outcome of one message.
type Status string

const (
	StatusApplied Status = "applied"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// SkipReason explains a skipped outcome.
type SkipReason string

const (
	SkipMissingFrom       SkipReason = "missing_from"
	SkipNoMatch           SkipReason = "no_match"
	SkipAlreadyLabeled    SkipReason = "already_labeled"
	SkipNotUnassignedOnly SkipReason = "not_unassigned_only"
)

// Change is what was, or in a dry run would be, done to a message.
type Change struct {
	AddLabels []string `json:"addLabels,omitempty"`
	AssignTo  string   `json:"assignTo,omitempty"`
	RuleIDs   []string `json:"ruleIds,omitempty"`
	// RaceLost is set when another teammate claimed the message between the
	// ownership check and the assignment write.
	RaceLost bool `json:"raceLost,omitempty"`
	Holder   string `json:"holder,omitempty"`
}

// Outcome is the result for one message id.
type Outcome struct {
	MessageID gmail.MessageID `json:"messageId"`
	Status    Status          `json:"status"`
	Reason    SkipReason      `json:"reason,omitempty"`
	Change    *Change         `json:"change,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Preview is a human-readable sample of a would-be change.
type Preview struct {
	MessageID gmail.MessageID `json:"messageId"`
	Sender    string          `json:"sender"`
	Subject   string          `json:"subject"`
	Change    Change          `json:"change"`
}

// Response partitions the processed ids by outcome.
type Response struct {
	DryRun    bool              `json:"dryRun"`
	Applied   []gmail.MessageID `json:"applied"`
	Skipped   []gmail.MessageID `json:"skipped"`
	Failed    []gmail.MessageID `json:"failed"`
	Outcomes  []Outcome         `json:"outcomes"`
	Previews  []Preview         `json:"previews,omitempty"`
	Warnings  []string          `json:"warnings,omitempty"`
	Truncated bool              `json:"truncated"`
	Matched   int               `json:"matched"`
	Assigned  int               `json:"assigned"`
}

// Merge folds other into r, keeping the preview sample bounded by limit.
func (r *Response) Merge(other Response, limit int) {
	r.Applied = append(r.Applied, other.Applied...)
	r.Skipped = append(r.Skipped, other.Skipped...)
	r.Failed = append(r.Failed, other.Failed...)
	r.Outcomes = append(r.Outcomes, other.Outcomes...)
	for _, p := range other.Previews {
		if len(r.Previews) >= limit {
			break
		}
		r.Previews = append(r.Previews, p)
	}
	for _, w := range other.Warnings {
		r.Warnings = appendUnique(r.Warnings, w)
	}
	r.Truncated = r.Truncated || other.Truncated
	r.Matched += other.Matched
	r.Assigned += other.Assigned
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
