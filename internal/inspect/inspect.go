// Package inspect reports on the saved rules without changing anything:
// static conflicts, broad domains, rules that matched nothing in a recent
// sample, and rule suggestions mined from the audit history.
package inspect

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joshsymonds/triage/internal/auditlog"
	"github.com/joshsymonds/triage/internal/batch"
	"github.com/joshsymonds/triage/internal/gmail"
	"github.com/joshsymonds/triage/internal/rules"
	"github.com/joshsymonds/triage/internal/store"
	"github.com/joshsymonds/triage/internal/triage"
)

const (
	DefaultSampleSize = 200
	DefaultHitSamples = 3
	DefaultQuery      = "in:inbox"
)

// Sampler reads recent mail. *mailbox.Mailbox satisfies it.
type Sampler interface {
	ListCandidates(ctx context.Context, q triage.CandidateQuery) (triage.CandidatePage, error)
	RoutingMetadata(ctx context.Context, id gmail.MessageID) (gmail.MessageMeta, error)
}

// Options controls an Inspect run.
type Options struct {
	SampleSize int
	HitSamples int
	Query      string
	Window     time.Duration
}

// Service inspects the rules held by a RuleSource.
type Service struct {
	Rules   store.RuleSource
	Sampler Sampler
	History auditlog.History
	Logger  *slog.Logger
	Clock   func() time.Time
	Batch   batch.Options
}

// NewService constructs a Service. A nil sampler limits Inspect to static
// findings; a nil history makes Suggest fail.
func NewService(src store.RuleSource, sampler Sampler, history auditlog.History, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Service{
		Rules:   src,
		Sampler: sampler,
		History: history,
		Logger:  logger,
		Clock:   time.Now,
	}
}

// Report is the result of Inspect.
type Report struct {
	GeneratedAt  time.Time     `json:"generated_at"`
	Query        string        `json:"query,omitempty"`
	Sampled      int           `json:"sampled"`
	SampleErrors int           `json:"sample_errors"`
	Conflicts    []Conflict    `json:"conflicts"`
	Ambiguities  []Ambiguity   `json:"ambiguities"`
	Broad        []RuleFinding `json:"broad"`
	Inactive     []RuleFinding `json:"inactive"`
	Hits         []RuleStat    `json:"hits"`
}

// RuleFinding flags one rule.
type RuleFinding struct {
	RuleID string        `json:"rule_id"`
	Family triage.Family `json:"family"`
	Reason string        `json:"reason"`
}

// RuleStat counts sampled messages matched by one rule.
type RuleStat struct {
	RuleID  string        `json:"rule_id"`
	Family  triage.Family `json:"family"`
	Match   string        `json:"match"`
	Hits    int           `json:"hits"`
	Samples []HitSample   `json:"samples,omitempty"`
}

// HitSample is one matched message shown for sanity checking.
type HitSample struct {
	ID      gmail.MessageID `json:"id"`
	From    string          `json:"from"`
	Subject string          `json:"subject"`
}

// Inspect runs the static checks over the enabled rules, then replays them
// against a bounded sample of recent mail.
func (s *Service) Inspect(ctx context.Context, opts Options) (Report, error) {
	if opts.SampleSize < 0 || opts.HitSamples < 0 {
		return Report{}, fmt.Errorf("sample size and hit samples must not be negative")
	}
	if opts.SampleSize == 0 {
		opts.SampleSize = DefaultSampleSize
	}
	if opts.HitSamples == 0 {
		opts.HitSamples = DefaultHitSamples
	}

	labelRules, err := store.EnabledLabelRules(ctx, s.Rules)
	if err != nil {
		return Report{}, err
	}
	assigneeRules, err := store.EnabledAssigneeRules(ctx, s.Rules)
	if err != nil {
		return Report{}, err
	}

	rep := Report{
		GeneratedAt: s.Clock(),
		Conflicts:   DetectConflicts(labelRules, assigneeRules),
		Ambiguities: DetectAmbiguities(assigneeRules),
		Broad:       broadFindings(labelRules, assigneeRules),
	}
	if s.Sampler == nil {
		return rep, nil
	}

	rep.Query = sampleQuery(opts)
	s.Logger.InfoContext(ctx, "sampling mail for rule hits",
		slog.String("query", rep.Query),
		slog.Int("sample_size", opts.SampleSize),
	)
	metas, failed, err := s.sample(ctx, rep.Query, opts.SampleSize)
	if err != nil {
		return Report{}, err
	}
	rep.Sampled = len(metas)
	rep.SampleErrors = failed
	rep.Hits, rep.Inactive = hitStats(labelRules, assigneeRules, metas, opts.HitSamples)
	return rep, nil
}

func (s *Service) sample(ctx context.Context, query string, size int) ([]gmail.MessageMeta, int, error) {
	page, err := s.Sampler.ListCandidates(ctx, triage.CandidateQuery{Query: query, Max: size})
	if err != nil {
		return nil, 0, fmt.Errorf("list sample: %w", err)
	}
	results := batch.Map(ctx, page.IDs, s.Sampler.RoutingMetadata, s.Batch)
	metas := make([]gmail.MessageMeta, 0, len(results))
	failed := 0
	for i, r := range results {
		if r.Err != nil {
			failed++
			s.Logger.WarnContext(ctx, "sample metadata failed",
				slog.String("message_id", string(page.IDs[i])),
				slog.String("error", r.Err.Error()),
			)
			continue
		}
		metas = append(metas, r.Value)
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, fmt.Errorf("sample metadata: %w", err)
	}
	return metas, failed, nil
}

func sampleQuery(opts Options) string {
	q := strings.TrimSpace(opts.Query)
	if q == "" {
		q = DefaultQuery
	}
	if opts.Window > 0 {
		q += " " + gmail.NewerThan(opts.Window)
	}
	return q
}

func broadFindings(labelRules []rules.LabelRule, assigneeRules []rules.AssigneeRule) []RuleFinding {
	var out []RuleFinding
	for _, r := range labelRules {
		if w := rules.BroadDomainWarning(r.Match); w != "" {
			out = append(out, RuleFinding{RuleID: r.ID, Family: triage.FamilyLabel, Reason: w})
		}
	}
	for _, r := range assigneeRules {
		if w := rules.BroadDomainWarning(r.Match); w != "" {
			out = append(out, RuleFinding{RuleID: r.ID, Family: triage.FamilyAssignee, Reason: w})
		}
	}
	return out
}

// hitStats counts matches per rule. Every enabled rule with zero hits in a
// non-empty sample is inactive.
func hitStats(
	labelRules []rules.LabelRule,
	assigneeRules []rules.AssigneeRule,
	metas []gmail.MessageMeta,
	samples int,
) ([]RuleStat, []RuleFinding) {
	stats := make([]RuleStat, 0, len(labelRules)+len(assigneeRules))
	for _, r := range labelRules {
		stats = append(stats, countHits(r.ID, triage.FamilyLabel, r.Match, metas, samples))
	}
	for _, r := range assigneeRules {
		stats = append(stats, countHits(r.ID, triage.FamilyAssignee, r.Match, metas, samples))
	}
	if len(metas) == 0 {
		return stats, nil
	}
	var inactive []RuleFinding
	for _, st := range stats {
		if st.Hits == 0 {
			inactive = append(inactive, RuleFinding{
				RuleID: st.RuleID,
				Family: st.Family,
				Reason: fmt.Sprintf("no match in %d sampled messages", len(metas)),
			})
		}
	}
	return stats, inactive
}

func countHits(id string, family triage.Family, m rules.Match, metas []gmail.MessageMeta, samples int) RuleStat {
	st := RuleStat{RuleID: id, Family: family, Match: m.String()}
	for _, meta := range metas {
		from := meta.Header("From")
		if !rules.MatchOne(from, m).OK {
			continue
		}
		st.Hits++
		if len(st.Samples) < samples {
			st.Samples = append(st.Samples, HitSample{ID: meta.ID, From: from, Subject: meta.Header("Subject")})
		}
	}
	return st
}
