package inspect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/joshsymonds/triage/internal/auditlog"
	"github.com/joshsymonds/triage/internal/rules"
	"github.com/joshsymonds/triage/internal/store"
	"github.com/joshsymonds/triage/internal/triage"
)

const (
	DefaultSuggestWindow = 30 * 24 * time.Hour
	DefaultMinActions    = 3
	DefaultMinActors     = 2
)

// SuggestOptions controls suggestion mining.
type SuggestOptions struct {
	Window     time.Duration
	MinActions int
	MinActors  int
	// MuteLabel is the label proposed for senders people keep muting.
	MuteLabel string
}

func (o SuggestOptions) withDefaults() SuggestOptions {
	if o.Window <= 0 {
		o.Window = DefaultSuggestWindow
	}
	if o.MinActions <= 0 {
		o.MinActions = DefaultMinActions
	}
	if o.MinActors <= 0 {
		o.MinActors = DefaultMinActors
	}
	if strings.TrimSpace(o.MuteLabel) == "" {
		o.MuteLabel = triage.DefaultMuteLabel
	}
	return o
}

// Suggestion proposes one rule. Exactly one of Label or Assignee is set.
type Suggestion struct {
	Family   triage.Family   `json:"family"`
	Action   auditlog.Action `json:"action"`
	Match    rules.Match     `json:"match"`
	Label    string          `json:"label,omitempty"`
	Assignee string          `json:"assignee,omitempty"`
	Actions  int             `json:"actions"`
	Actors   []string        `json:"actors"`
	Senders  []string        `json:"senders,omitempty"`
	Warnings []string        `json:"warnings,omitempty"`
}

// SuggestReport is the result of Suggest.
type SuggestReport struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Window      time.Duration `json:"window"`
	Scanned     int           `json:"scanned"`
	Suggestions []Suggestion  `json:"suggestions"`
}

type target struct {
	action auditlog.Action
	family triage.Family
	value  string
}

type tally struct {
	actions int
	actors  map[string]struct{}
	senders map[string]struct{}
}

func (t *tally) add(actor, sender string) {
	t.actions++
	if actor != "" {
		t.actors[actor] = struct{}{}
	}
	t.senders[sender] = struct{}{}
}

func (t *tally) qualifies(o SuggestOptions) bool {
	return t.actions >= o.MinActions && len(t.actors) >= o.MinActors
}

type groupKey struct {
	target
	match string
}

// Suggest mines manual actions in the audit history and proposes a rule for
// every (action, target, sender) that enough distinct people repeated.
// Proposals already covered by an enabled rule are dropped. When two or more
// senders of one specific domain qualify together, a single domain-level
// proposal replaces theirs.
func (s *Service) Suggest(ctx context.Context, opts SuggestOptions) (SuggestReport, error) {
	if s.History == nil {
		return SuggestReport{}, errors.New("suggest: no audit history configured")
	}
	opts = opts.withDefaults()
	now := s.Clock()
	entries, err := s.History.Since(ctx, now.Add(-opts.Window))
	if err != nil {
		return SuggestReport{}, fmt.Errorf("read audit history: %w", err)
	}
	labelRules, err := store.EnabledLabelRules(ctx, s.Rules)
	if err != nil {
		return SuggestReport{}, err
	}
	assigneeRules, err := store.EnabledAssigneeRules(ctx, s.Rules)
	if err != nil {
		return SuggestReport{}, err
	}

	bySender := map[groupKey]*tally{}
	byDomain := map[groupKey]*tally{}
	scanned := 0
	for _, e := range entries {
		if e.Automated() || e.DryRun {
			continue
		}
		sender, ok := rules.NormalizeEmailAddress(e.Sender)
		if !ok {
			continue
		}
		scanned++
		actor := strings.ToLower(strings.TrimSpace(e.Actor))
		for _, t := range targetsOf(e, opts.MuteLabel) {
			count(bySender, groupKey{target: t, match: sender}, actor, sender)
			count(byDomain, groupKey{target: t, match: rules.DomainOf(sender)}, actor, sender)
		}
	}

	var out []Suggestion
	promoted := map[groupKey]struct{}{}
	for key, t := range byDomain {
		if len(t.senders) < 2 || !t.qualifies(opts) || rules.IsBroadDomain(key.match) {
			continue
		}
		promoted[key] = struct{}{}
		out = append(out, suggestion(key, t, rules.Match{FromDomain: key.match}))
	}
	for key, t := range bySender {
		if !t.qualifies(opts) {
			continue
		}
		domain := rules.DomainOf(key.match)
		if _, ok := promoted[groupKey{target: key.target, match: domain}]; ok {
			continue
		}
		sg := suggestion(key, t, rules.Match{FromEmail: key.match})
		if w := rules.BroadDomainWarning(rules.Match{FromDomain: domain}); w != "" {
			sg.Warnings = append(sg.Warnings, "keep this rule on the exact address: "+w)
		}
		out = append(out, sg)
	}

	kept := out[:0]
	for _, sg := range out {
		if covered(sg, labelRules, assigneeRules) {
			continue
		}
		if w := rules.BroadDomainWarning(sg.Match); w != "" {
			sg.Warnings = append(sg.Warnings, w)
		}
		kept = append(kept, sg)
	}
	sortSuggestions(kept)

	s.Logger.InfoContext(ctx, "mined rule suggestions",
		slog.Int("entries", len(entries)),
		slog.Int("manual", scanned),
		slog.Int("suggestions", len(kept)),
	)
	return SuggestReport{
		GeneratedAt: now,
		Window:      opts.Window,
		Scanned:     scanned,
		Suggestions: kept,
	}, nil
}

func targetsOf(e auditlog.Entry, muteLabel string) []target {
	switch e.Action {
	case auditlog.ActionLabel:
		out := make([]target, 0, len(e.Labels))
		for _, l := range e.Labels {
			if l = strings.TrimSpace(l); l != "" {
				out = append(out, target{action: e.Action, family: triage.FamilyLabel, value: l})
			}
		}
		return out
	case auditlog.ActionMute:
		return []target{{action: e.Action, family: triage.FamilyLabel, value: muteLabel}}
	case auditlog.ActionAssign:
		assignee, ok := rules.NormalizeEmailAddress(e.Assignee)
		if !ok {
			return nil
		}
		return []target{{action: e.Action, family: triage.FamilyAssignee, value: assignee}}
	default:
		return nil
	}
}

func count(groups map[groupKey]*tally, key groupKey, actor, sender string) {
	t := groups[key]
	if t == nil {
		t = &tally{actors: map[string]struct{}{}, senders: map[string]struct{}{}}
		groups[key] = t
	}
	t.add(actor, sender)
}

func suggestion(key groupKey, t *tally, m rules.Match) Suggestion {
	sg := Suggestion{
		Family:  key.family,
		Action:  key.action,
		Match:   m,
		Actions: t.actions,
		Actors:  sortedKeys(t.actors),
	}
	if m.FromDomain != "" {
		sg.Senders = sortedKeys(t.senders)
	}
	if key.family == triage.FamilyAssignee {
		sg.Assignee = key.value
	} else {
		sg.Label = key.value
	}
	return sg
}

// covered reports whether an enabled rule already does what sg proposes for
// every sender sg would match.
func covered(sg Suggestion, labelRules []rules.LabelRule, assigneeRules []rules.AssigneeRule) bool {
	if sg.Family == triage.FamilyAssignee {
		for _, r := range assigneeRules {
			if !includes(r.Match, sg.Match) {
				continue
			}
			// Rules are in evaluation order: the first that covers decides.
			return r.AssigneeEmail == sg.Assignee
		}
		return false
	}
	for _, r := range labelRules {
		if !includes(r.Match, sg.Match) {
			continue
		}
		for _, l := range r.LabelNames {
			if l == sg.Label {
				return true
			}
		}
	}
	return false
}

// includes reports whether every sender matched by inner is matched by outer.
func includes(outer, inner rules.Match) bool {
	ko, vo, ok := normalized(outer)
	if !ok {
		return false
	}
	ki, vi, ok := normalized(inner)
	if !ok {
		return false
	}
	if ki == rules.ReasonFromEmail {
		return rules.MatchOne(vi, outer).OK
	}
	return ko == rules.ReasonFromDomain && covers(vo, vi)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortSuggestions(in []Suggestion) {
	sort.Slice(in, func(i, j int) bool {
		if in[i].Actions != in[j].Actions {
			return in[i].Actions > in[j].Actions
		}
		if in[i].Family != in[j].Family {
			return in[i].Family < in[j].Family
		}
		if ti, tj := in[i].Label+in[i].Assignee, in[j].Label+in[j].Assignee; ti != tj {
			return ti < tj
		}
		return in[i].Match.String() < in[j].Match.String()
	})
}
