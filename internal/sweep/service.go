// Package sweep runs every enabled rule in one bounded pass. Each rule gets a
// narrow backend search so the sweep never scans the whole mailbox.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joshsymonds/triage/internal/gmail"
	"github.com/joshsymonds/triage/internal/metrics"
	"github.com/joshsymonds/triage/internal/triage"
)

const (
	DefaultMaxTotal   = 500
	DefaultMaxPerRule = 100
)

// Spec bounds one sweep.
type Spec struct {
	MaxTotal      int
	MaxPerRule    int
	DryRun        bool
	Actor         string
	PauseWeekends bool
	// ExcludeLabels protects mail carrying any of these labels.
	ExcludeLabels []string
	// Window limits candidates to recent mail when positive.
	Window time.Duration
}

// RuleResult summarizes one rule within a sweep.
type RuleResult struct {
	RuleID   string        `json:"ruleId"`
	Family   triage.Family `json:"family"`
	Query    string        `json:"query"`
	Fetched  int           `json:"fetched"`
	Applied  int           `json:"applied"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Assigned int           `json:"assigned"`
	// Capped is set when the rule had more candidates than its budget.
	Capped bool   `json:"capped,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Result is the outcome of one sweep.
type Result struct {
	StartedAt time.Time       `json:"startedAt"`
	DryRun    bool            `json:"dryRun"`
	Paused    bool            `json:"paused,omitempty"`
	Truncated bool            `json:"truncated"`
	Processed int             `json:"processed"`
	Rules     []RuleResult    `json:"rules"`
	Response  triage.Response `json:"response"`
}

// Service drives the triage service over every enabled rule.
type Service struct {
	Triage  *triage.Service
	Mailbox triage.Mailbox
	Log     *slog.Logger
	Clock   func() time.Time
}

func NewService(svc *triage.Service, mailbox triage.Mailbox, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Service{Triage: svc, Mailbox: mailbox, Log: logger, Clock: time.Now}
}

type plannedRule struct {
	id             string
	family         triage.Family
	query          string
	unassignedOnly bool
}

func (s *Service) plan(set triage.RuleSet, opts QueryOptions) []plannedRule {
	var out []plannedRule
	for _, r := range set.Label {
		q, ok := LabelRuleQuery(r, opts)
		if !ok {
			s.Log.Warn("skipping label rule that cannot match", slog.String("rule_id", r.ID))
			continue
		}
		out = append(out, plannedRule{
			id:     r.ID,
			family: triage.FamilyLabel,
			query:  q,
		})
	}
	for _, r := range set.Assignee {
		q, ok := AssigneeRuleQuery(r, opts)
		if !ok {
			s.Log.Warn("skipping assignee rule that cannot match", slog.String("rule_id", r.ID))
			continue
		}
		out = append(out, plannedRule{
			id:             r.ID,
			family:         triage.FamilyAssignee,
			query:          q,
			unassignedOnly: r.When.UnassignedOnly,
		})
	}
	return out
}

// Run sweeps label rules in stored order, then assignee rules by priority.
// Each rule only narrows the candidate search; every candidate is evaluated
// against the whole rule set, so the highest priority assignee rule wins no
// matter which rule's query found the message. It stops as soon as MaxTotal
// messages have been processed.
func (s *Service) Run(ctx context.Context, spec Spec) (Result, error) {
	if spec.MaxTotal < 0 || spec.MaxPerRule < 0 {
		return Result{}, fmt.Errorf("sweep budgets must not be negative")
	}
	if spec.MaxTotal == 0 {
		spec.MaxTotal = DefaultMaxTotal
	}
	if spec.MaxPerRule == 0 {
		spec.MaxPerRule = DefaultMaxPerRule
	}

	now := s.Clock()
	res := Result{
		StartedAt: now,
		DryRun:    spec.DryRun,
		Rules:     []RuleResult{},
		Response: triage.Response{
			DryRun:  spec.DryRun,
			Applied: []gmail.MessageID{},
			Skipped: []gmail.MessageID{},
			Failed:  []gmail.MessageID{},
		},
	}
	if spec.PauseWeekends && isWeekend(now) {
		s.Log.InfoContext(ctx, "weekend pause active; skipping sweep")
		res.Paused = true
		return res, nil
	}

	set, err := s.Triage.LoadRuleSet(ctx, "", triage.FamilyAll)
	if err != nil {
		return Result{}, err
	}
	planned := s.plan(set, QueryOptions{
		Base:          s.Triage.BaseQuery(),
		ExcludeLabels: spec.ExcludeLabels,
		Window:        spec.Window,
	})

	remaining := spec.MaxTotal
	mode := triage.Mode{DryRun: spec.DryRun, Actor: spec.Actor}
	for i, p := range planned {
		if remaining == 0 {
			res.Truncated = true
			break
		}
		metrics.SweepRulesTotal.WithLabelValues(string(p.family)).Inc()
		rr := RuleResult{RuleID: p.id, Family: p.family, Query: p.query}

		page, err := s.Mailbox.ListCandidates(ctx, triage.CandidateQuery{
			Query:          p.query,
			Max:            min(spec.MaxPerRule, remaining),
			UnassignedOnly: p.unassignedOnly,
		})
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			rr.Error = err.Error()
			res.Rules = append(res.Rules, rr)
			s.Log.WarnContext(ctx, "rule listing failed",
				slog.String("rule_id", p.id),
				slog.String("error", err.Error()),
			)
			continue
		}

		resp := s.Triage.Process(ctx, set, page.IDs, mode)
		remaining -= len(page.IDs)
		rr.Fetched = len(page.IDs)
		rr.Applied, rr.Skipped, rr.Failed = len(resp.Applied), len(resp.Skipped), len(resp.Failed)
		rr.Assigned = resp.Assigned
		rr.Capped = page.More
		res.Rules = append(res.Rules, rr)
		res.Response.Merge(resp, s.Triage.PreviewLimit())
		res.Processed += len(page.IDs)

		if remaining == 0 && (page.More || i < len(planned)-1) {
			res.Truncated = true
			break
		}
	}

	res.Response.Truncated = res.Truncated
	if res.Truncated {
		metrics.SweepTruncated.Inc()
	}
	metrics.SweepLastRun.Set(float64(s.Clock().Unix()))
	s.Log.InfoContext(ctx, "sweep complete",
		slog.Bool("dry_run", spec.DryRun),
		slog.Int("rules", len(res.Rules)),
		slog.Int("processed", res.Processed),
		slog.Bool("truncated", res.Truncated),
	)
	return res, nil
}

// Loop sweeps immediately and then every interval until ctx is done. Errors
// are logged and do not stop the loop.
func (s *Service) Loop(ctx context.Context, every time.Duration, spec Spec, onResult func(Result)) error {
	if every <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		res, err := s.Run(ctx, spec)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil:
			s.Log.ErrorContext(ctx, "sweep failed", slog.String("error", err.Error()))
		case onResult != nil:
			onResult(res)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
