package triage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joshsymonds/triage/internal/auditlog"
	"github.com/joshsymonds/triage/internal/gmail"
	"github.com/joshsymonds/triage/internal/metrics"
	"github.com/joshsymonds/triage/internal/rules"
)

const (
	DefaultMuteLabel = "Muted"
	inboxLabel       = "INBOX"
)

// ManualAction is an operator changing one message by hand. These are the
// entries suggestion mining learns from.
type ManualAction struct {
	Action    auditlog.Action
	MessageID string
	Labels    []string
	Assignee  string
	Actor     string
	// MuteLabel is added by a mute, which also archives the message.
	MuteLabel string
}

func (a *ManualAction) validate() error {
	actor, ok := rules.NormalizeEmailAddress(a.Actor)
	if !ok {
		return &ValidationError{Field: "actor", Reason: "a valid operator address is required"}
	}
	a.Actor = actor
	a.MessageID = strings.TrimSpace(a.MessageID)
	if a.MessageID == "" {
		return &ValidationError{Field: "messageId", Reason: "required"}
	}
	switch a.Action {
	case auditlog.ActionLabel:
		labels := make([]string, 0, len(a.Labels))
		for _, l := range a.Labels {
			if l = strings.TrimSpace(l); l != "" {
				labels = append(labels, l)
			}
		}
		if len(labels) == 0 {
			return &ValidationError{Field: "labels", Reason: "at least one label is required"}
		}
		a.Labels = labels
	case auditlog.ActionMute:
		if strings.TrimSpace(a.MuteLabel) == "" {
			a.MuteLabel = DefaultMuteLabel
		}
		a.Labels = []string{a.MuteLabel}
	case auditlog.ActionAssign:
		assignee, ok := rules.NormalizeEmailAddress(a.Assignee)
		if !ok {
			return &ValidationError{Field: "assignee", Reason: "not a valid address"}
		}
		a.Assignee = assignee
	default:
		return &ValidationError{Field: "action", Reason: fmt.Sprintf("unsupported action %q", a.Action)}
	}
	return nil
}

// Act applies a manual action and records it. A manual assignment replaces
// the current holder. The audit write is best-effort.
func (s *Service) Act(ctx context.Context, a ManualAction) (auditlog.Entry, error) {
	if err := a.validate(); err != nil {
		return auditlog.Entry{}, err
	}
	id := gmail.MessageID(a.MessageID)
	meta, err := s.Mailbox.RoutingMetadata(ctx, id)
	if err != nil {
		return auditlog.Entry{}, fmt.Errorf("fetch metadata %s: %w", id, err)
	}
	sender, _ := rules.NormalizeEmailAddress(meta.Header("From"))

	switch a.Action {
	case auditlog.ActionLabel:
		err = s.Mailbox.ApplyLabelChange(ctx, id, LabelChange{Add: a.Labels})
	case auditlog.ActionMute:
		err = s.Mailbox.ApplyLabelChange(ctx, id, LabelChange{Add: a.Labels, Remove: []string{inboxLabel}})
	case auditlog.ActionAssign:
		err = s.reassign(ctx, id, a.Assignee)
	}
	if err != nil {
		return auditlog.Entry{}, fmt.Errorf("%s %s: %w", a.Action, id, err)
	}

	entry := auditlog.Stamp(auditlog.Entry{
		Actor:     a.Actor,
		Action:    a.Action,
		MessageID: a.MessageID,
		Sender:    sender,
		Labels:    a.Labels,
		Assignee:  a.Assignee,
	}, s.Clock())
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if err := s.Audit.Record(auditCtx, entry); err != nil {
		metrics.AuditFailures.Inc()
		s.Logger.WarnContext(ctx, "audit record failed",
			slog.String("message_id", a.MessageID),
			slog.String("error", err.Error()),
		)
	}
	s.Logger.InfoContext(ctx, "manual action",
		slog.String("action", string(a.Action)),
		slog.String("message_id", a.MessageID),
		slog.String("actor", a.Actor),
	)
	return entry, nil
}

// reassign hands id to assignee over whoever owns it now. If the owner changes
// between the read and the write the operator is told instead.
func (s *Service) reassign(ctx context.Context, id gmail.MessageID, assignee string) error {
	current, err := s.Assignments.Current(ctx, id)
	if err != nil {
		return fmt.Errorf("current assignee: %w", err)
	}
	holder, err := s.Assignments.Assign(ctx, id, assignee, current)
	if err != nil {
		return err
	}
	if holder != "" {
		return fmt.Errorf("claimed by %s while reassigning", holder)
	}
	return nil
}
