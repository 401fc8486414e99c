package triage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joshsymonds/triage/internal/auditlog"
	"github.com/joshsymonds/triage/internal/batch"
	"github.com/joshsymonds/triage/internal/gmail"
	"github.com/joshsymonds/triage/internal/metrics"
	"github.com/joshsymonds/triage/internal/rules"
	"github.com/joshsymonds/triage/internal/store"
)

const (
	DefaultMaxItems     = 200
	DefaultPreviewLimit = 10
	DefaultBaseQuery    = "in:inbox"

	auditTimeout = 5 * time.Second
)

// Options tunes a Service. Zero values take the defaults.
type Options struct {
	Concurrency  int
	ItemTimeout  time.Duration
	Hooks        batch.Hooks
	MaxItems     int
	PreviewLimit int
	BaseQuery    string
}

func (o Options) withDefaults() Options {
	if o.MaxItems <= 0 {
		o.MaxItems = DefaultMaxItems
	}
	if o.PreviewLimit <= 0 {
		o.PreviewLimit = DefaultPreviewLimit
	}
	if strings.TrimSpace(o.BaseQuery) == "" {
		o.BaseQuery = DefaultBaseQuery
	}
	return o
}

// Service runs rules against messages.
type Service struct {
	Mailbox     Mailbox
	Assignments Assignments
	Rules       store.RuleSource
	Audit       auditlog.Sink
	Logger      *slog.Logger
	Clock       func() time.Time

	opts Options
}

// NewService wires a Service. A nil audit sink discards entries.
func NewService(
	mailbox Mailbox,
	assignments Assignments,
	src store.RuleSource,
	audit auditlog.Sink,
	logger *slog.Logger,
	opts Options,
) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if audit == nil {
		audit = auditlog.Discard{}
	}
	return &Service{
		Mailbox:     mailbox,
		Assignments: assignments,
		Rules:       src,
		Audit:       audit,
		Logger:      logger,
		Clock:       time.Now,
		opts:        opts.withDefaults(),
	}
}

// PreviewLimit is the cap on preview samples in one response.
func (s *Service) PreviewLimit() int { return s.opts.PreviewLimit }

// BaseQuery is the search expression every candidate listing starts from.
func (s *Service) BaseQuery() string { return s.opts.BaseQuery }

// RuleSet is the effective rules of one run.
type RuleSet struct {
	Label    []rules.LabelRule
	Assignee []rules.AssigneeRule
}

// Empty reports whether the set holds no rule.
func (rs RuleSet) Empty() bool { return len(rs.Label) == 0 && len(rs.Assignee) == 0 }

// Warnings lists broad-domain warnings for the rules in the set.
func (rs RuleSet) Warnings() []string {
	var out []string
	for _, r := range rs.Label {
		if w := rules.BroadDomainWarning(r.Match); w != "" {
			out = append(out, fmt.Sprintf("label rule %s: %s", r.ID, w))
		}
	}
	for _, r := range rs.Assignee {
		if w := rules.BroadDomainWarning(r.Match); w != "" {
			out = append(out, fmt.Sprintf("assignee rule %s: %s", r.ID, w))
		}
	}
	return out
}

// Mode carries the per-run switches Process needs.
type Mode struct {
	DryRun bool
	Actor  string
}

// Preview runs req without mutating anything.
func (s *Service) Preview(ctx context.Context, req Request) (Response, error) {
	req.DryRun = true
	return s.Run(ctx, req)
}

// Apply runs req and mutates matching messages.
func (s *Service) Apply(ctx context.Context, req Request) (Response, error) {
	req.DryRun = false
	return s.Run(ctx, req)
}

// Run validates req, loads a fresh rule snapshot, resolves the candidate ids
// and processes them. Only request-level problems return an error.
func (s *Service) Run(ctx context.Context, req Request) (Response, error) {
	if err := req.Validate(s.opts.MaxItems); err != nil {
		return Response{}, err
	}
	set, err := s.LoadRuleSet(ctx, req.RuleID, req.Family)
	if err != nil {
		return Response{}, err
	}
	ids, truncated, err := s.candidates(ctx, req)
	if err != nil {
		return Response{}, err
	}
	resp := s.Process(ctx, set, ids, Mode{DryRun: req.DryRun, Actor: req.Actor})
	resp.Truncated = resp.Truncated || truncated
	return resp, nil
}

// LoadRuleSet reads the rules a request applies: one rule when ruleID is set,
// otherwise every enabled rule of the requested families.
func (s *Service) LoadRuleSet(ctx context.Context, ruleID string, family Family) (RuleSet, error) {
	if ruleID == "" {
		var set RuleSet
		var err error
		if family != FamilyAssignee {
			if set.Label, err = store.EnabledLabelRules(ctx, s.Rules); err != nil {
				return RuleSet{}, err
			}
		}
		if family != FamilyLabel {
			if set.Assignee, err = store.EnabledAssigneeRules(ctx, s.Rules); err != nil {
				return RuleSet{}, err
			}
		}
		return set, nil
	}

	if family != FamilyAssignee {
		r, err := store.LookupLabelRule(ctx, s.Rules, ruleID)
		switch {
		case err == nil:
			if !r.Enabled {
				return RuleSet{}, fmt.Errorf("label rule %s: %w", ruleID, rules.ErrRuleDisabled)
			}
			return RuleSet{Label: []rules.LabelRule{r}}, nil
		case !errors.Is(err, rules.ErrRuleNotFound):
			return RuleSet{}, err
		}
	}
	if family != FamilyLabel {
		r, err := store.LookupAssigneeRule(ctx, s.Rules, ruleID)
		if err != nil {
			return RuleSet{}, err
		}
		if !r.Enabled {
			return RuleSet{}, fmt.Errorf("assignee rule %s: %w", ruleID, rules.ErrRuleDisabled)
		}
		return RuleSet{Assignee: []rules.AssigneeRule{r}}, nil
	}
	return RuleSet{}, fmt.Errorf("rule %s: %w", ruleID, rules.ErrRuleNotFound)
}

func (s *Service) candidates(ctx context.Context, req Request) ([]gmail.MessageID, bool, error) {
	if len(req.MessageIDs) > 0 {
		ids := make([]gmail.MessageID, 0, min(len(req.MessageIDs), req.Limit))
		for _, id := range req.MessageIDs {
			if len(ids) == req.Limit {
				return ids, true, nil
			}
			ids = append(ids, gmail.MessageID(id))
		}
		return ids, false, nil
	}
	page, err := s.Mailbox.ListCandidates(ctx, CandidateQuery{
		Query:          s.opts.BaseQuery,
		Max:            req.Limit,
		UnassignedOnly: req.UnassignedOnly,
	})
	if err != nil {
		return nil, false, fmt.Errorf("list candidates: %w", err)
	}
	return page.IDs, page.More, nil
}

type itemResult struct {
	outcome  Outcome
	sender   string
	subject  string
	matched  bool
	assigned bool
}

// Process applies set to ids with bounded concurrency. Every id gets exactly
// one outcome, in input order.
func (s *Service) Process(ctx context.Context, set RuleSet, ids []gmail.MessageID, mode Mode) Response {
	start := s.Clock()
	modeLabel := metrics.Mode(mode.DryRun)
	audits := &auditTracker{}

	results := batch.Map(ctx, ids, func(ctx context.Context, id gmail.MessageID) (itemResult, error) {
		return s.processOne(ctx, set, id, mode, audits)
	}, batch.Options{
		Concurrency: s.opts.Concurrency,
		Timeout:     s.opts.ItemTimeout,
		Hooks:       s.opts.Hooks,
	})
	audits.wait()

	resp := Response{
		DryRun:   mode.DryRun,
		Applied:  []gmail.MessageID{},
		Skipped:  []gmail.MessageID{},
		Failed:   []gmail.MessageID{},
		Outcomes: make([]Outcome, 0, len(ids)),
		Warnings: set.Warnings(),
	}
	for i, r := range results {
		item := r.Value
		if r.Err != nil {
			item = itemResult{outcome: Outcome{MessageID: ids[i], Status: StatusFailed, Error: r.Err.Error()}}
			if errors.Is(r.Err, batch.ErrItemTimeout) {
				metrics.ItemTimeouts.WithLabelValues(modeLabel).Inc()
			}
			s.Logger.WarnContext(ctx, "message failed",
				slog.String("message_id", string(ids[i])),
				slog.String("error", r.Err.Error()),
			)
		}
		out := item.outcome
		resp.Outcomes = append(resp.Outcomes, out)
		metrics.ItemsTotal.WithLabelValues(modeLabel, string(out.Status), string(out.Reason)).Inc()
		switch out.Status {
		case StatusApplied:
			resp.Applied = append(resp.Applied, out.MessageID)
			if mode.DryRun && len(resp.Previews) < s.opts.PreviewLimit {
				resp.Previews = append(resp.Previews, Preview{
					MessageID: out.MessageID,
					Sender:    item.sender,
					Subject:   item.subject,
					Change:    *out.Change,
				})
			}
		case StatusSkipped:
			resp.Skipped = append(resp.Skipped, out.MessageID)
		default:
			resp.Failed = append(resp.Failed, out.MessageID)
		}
		if item.matched {
			resp.Matched++
		}
		if item.assigned {
			resp.Assigned++
		}
	}

	metrics.BatchDuration.WithLabelValues(modeLabel).Observe(s.Clock().Sub(start).Seconds())
	s.Logger.InfoContext(ctx, "rule batch complete",
		slog.Bool("dry_run", mode.DryRun),
		slog.Int("applied", len(resp.Applied)),
		slog.Int("skipped", len(resp.Skipped)),
		slog.Int("failed", len(resp.Failed)),
		slog.Int("assigned", resp.Assigned),
	)
	return resp
}

type assignPlan struct {
	target   string
	takeover bool
	ruleID   string
}

func (s *Service) planAssignment(sender string, set RuleSet, decision rules.LabelDecision, actor string) (assignPlan, error) {
	if r := rules.PickAssigneeRule(sender, set.Assignee); r != nil {
		return assignPlan{target: r.AssigneeEmail, takeover: !r.When.UnassignedOnly, ruleID: r.ID}, nil
	}
	if decision.AssignTo != nil {
		target := decision.AssignTo.Resolve(actor)
		if target == "" {
			return assignPlan{}, errors.New("self assignment requires an actor")
		}
		return assignPlan{target: target}, nil
	}
	return assignPlan{}, nil
}

func (s *Service) processOne(
	ctx context.Context,
	set RuleSet,
	id gmail.MessageID,
	mode Mode,
	audits *auditTracker,
) (itemResult, error) {
	meta, err := s.Mailbox.RoutingMetadata(ctx, id)
	if err != nil {
		return itemResult{}, fmt.Errorf("routing metadata: %w", err)
	}
	res := itemResult{
		outcome: Outcome{MessageID: id},
		subject: meta.Header("Subject"),
	}
	sender, ok := rules.NormalizeEmailAddress(meta.Header("From"))
	if !ok {
		res.outcome.Status, res.outcome.Reason = StatusSkipped, SkipMissingFrom
		return res, nil
	}
	res.sender = sender

	decision := rules.MatchLabelRules(sender, set.Label)
	plan, err := s.planAssignment(sender, set, decision, mode.Actor)
	if err != nil {
		return itemResult{}, err
	}
	if len(decision.Labels) == 0 && plan.target == "" {
		res.outcome.Status, res.outcome.Reason = StatusSkipped, SkipNoMatch
		return res, nil
	}
	res.matched = true

	missing, err := s.missingLabels(ctx, decision.Labels, meta)
	if err != nil {
		return itemResult{}, err
	}

	var (
		current               string
		assignNeeded, blocked bool
	)
	if plan.target != "" {
		current, err = s.Assignments.Current(ctx, id)
		if err != nil {
			return itemResult{}, fmt.Errorf("current assignee: %w", err)
		}
		if current != plan.target {
			if current == "" || plan.takeover {
				assignNeeded = true
			} else {
				blocked = true
			}
		}
	}

	if len(missing) == 0 && !assignNeeded {
		res.outcome.Status, res.outcome.Reason = StatusSkipped, SkipAlreadyLabeled
		if blocked && len(decision.Labels) == 0 {
			res.outcome.Reason = SkipNotUnassignedOnly
		}
		return res, nil
	}

	change := &Change{AddLabels: missing, RuleIDs: decision.RuleIDs}
	if plan.ruleID != "" {
		change.RuleIDs = append(append([]string(nil), change.RuleIDs...), plan.ruleID)
	}
	if assignNeeded {
		change.AssignTo = plan.target
	}
	res.outcome.Status, res.outcome.Change = StatusApplied, change

	if mode.DryRun {
		res.assigned = assignNeeded
		return res, nil
	}

	if len(missing) > 0 {
		if err := s.Mailbox.ApplyLabelChange(ctx, id, LabelChange{Add: missing}); err != nil {
			return itemResult{}, fmt.Errorf("apply labels: %w", err)
		}
	}
	if assignNeeded {
		// A teammate who claims the message after current was read keeps it,
		// even when the rule may take over owned mail.
		holder, err := s.Assignments.Assign(ctx, id, plan.target, current)
		if err != nil {
			return itemResult{}, fmt.Errorf("assign %s: %w", plan.target, err)
		}
		if holder != "" {
			change.AssignTo, change.RaceLost, change.Holder = "", true, holder
			metrics.AssignmentsTotal.WithLabelValues("race_lost").Inc()
		} else {
			res.assigned = true
			metrics.AssignmentsTotal.WithLabelValues("assigned").Inc()
		}
	}

	s.recordAudit(ctx, audits, auditlog.Entry{
		Actor:     mode.Actor,
		Action:    auditlog.ActionRuleApply,
		MessageID: string(id),
		Sender:    sender,
		Labels:    change.AddLabels,
		Assignee:  change.AssignTo,
		RuleID:    strings.Join(change.RuleIDs, ","),
	})
	return res, nil
}

// missingLabels returns the names in want that are not on the message. A
// label that does not exist yet is missing.
func (s *Service) missingLabels(ctx context.Context, want []string, meta gmail.MessageMeta) ([]string, error) {
	var missing []string
	for _, name := range want {
		id, ok, err := s.Mailbox.LookupLabelID(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("resolve label %q: %w", name, err)
		}
		if ok && meta.HasLabel(id) {
			continue
		}
		missing = append(missing, name)
	}
	return missing, nil
}

// auditTracker lets Process wait for the audit writes of its own batch. Items
// abandoned after their timeout may still record, untracked, once the batch
// has closed the tracker.
type auditTracker struct {
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func (t *auditTracker) start() func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return func() {}
	}
	t.wg.Add(1)
	return t.wg.Done
}

func (t *auditTracker) wait() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.wg.Wait()
}

// recordAudit writes e off the item's critical path. Failures are logged and
// dropped.
func (s *Service) recordAudit(ctx context.Context, tracker *auditTracker, e auditlog.Entry) {
	e = auditlog.Stamp(e, s.Clock())
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	done := tracker.start()
	go func() {
		defer done()
		defer cancel()
		if err := s.Audit.Record(auditCtx, e); err != nil {
			metrics.AuditFailures.Inc()
			s.Logger.WarnContext(auditCtx, "audit record failed",
				slog.String("message_id", e.MessageID),
				slog.String("error", err.Error()),
			)
		}
	}()
}
