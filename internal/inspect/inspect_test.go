package inspect

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/joshsymonds/triage/internal/gmail"
	"github.com/joshsymonds/triage/internal/rules"
	"github.com/joshsymonds/triage/internal/store"
	"github.com/joshsymonds/triage/internal/triage"
)

type fakeSampler struct {
	mu      sync.Mutex
	ids     []gmail.MessageID
	metas   map[gmail.MessageID]gmail.MessageMeta
	errs    map[gmail.MessageID]error
	queries []triage.CandidateQuery
}

func (f *fakeSampler) ListCandidates(_ context.Context, q triage.CandidateQuery) (triage.CandidatePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	ids := f.ids
	if q.Max > 0 && len(ids) > q.Max {
		return triage.CandidatePage{IDs: ids[:q.Max], More: true}, nil
	}
	return triage.CandidatePage{IDs: ids}, nil
}

func (f *fakeSampler) RoutingMetadata(_ context.Context, id gmail.MessageID) (gmail.MessageMeta, error) {
	if err := f.errs[id]; err != nil {
		return gmail.MessageMeta{}, err
	}
	return f.metas[id], nil
}

func (f *fakeSampler) add(id gmail.MessageID, from, subject string) {
	if f.metas == nil {
		f.metas = map[gmail.MessageID]gmail.MessageMeta{}
	}
	f.ids = append(f.ids, id)
	f.metas[id] = gmail.MessageMeta{ID: id, Headers: map[string]string{"From": from, "Subject": subject}}
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seededStore(t *testing.T) *store.Memory {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory("org.com")
	puts := []rules.LabelRule{
		labelRule("r-vip", rules.Match{FromEmail: "vip@example.com"}, "VIP"),
		labelRule("r-quiet", rules.Match{FromDomain: "quiet.example.net"}, "Quiet"),
		labelRule("r-vip-alt", rules.Match{FromDomain: "example.com"}, "Priority"),
	}
	for _, r := range puts {
		if err := st.PutLabelRule(ctx, r); err != nil {
			t.Fatalf("put label rule %s: %v", r.ID, err)
		}
	}
	broad := assigneeRule("a-gmail", 1, rules.Match{FromDomain: "gmail.com"}, "ops@org.com")
	broad.DangerousDomainConfirm = true
	if err := st.PutAssigneeRule(ctx, broad); err != nil {
		t.Fatalf("put assignee rule: %v", err)
	}
	return st
}

func TestInspectReportsHitsAndInactiveRules(t *testing.T) {
	sampler := &fakeSampler{errs: map[gmail.MessageID]error{"m4": errors.New("backend unavailable")}}
	sampler.add("m1", "VIP <vip@example.com>", "Quarterly numbers")
	sampler.add("m2", "vip@example.com", "Follow up")
	sampler.add("m3", "friend@gmail.com", "Lunch?")
	sampler.add("m4", "vip@example.com", "Lost")

	svc := NewService(seededStore(t), sampler, nil, slogDiscard())
	svc.Clock = func() time.Time { return time.Unix(1700000000, 0) }

	rep, err := svc.Inspect(context.Background(), Options{SampleSize: 10, HitSamples: 1, Window: 36 * time.Hour})
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if rep.Sampled != 3 || rep.SampleErrors != 1 {
		t.Fatalf("unexpected sample counts: sampled=%d errors=%d", rep.Sampled, rep.SampleErrors)
	}
	if rep.Query != "in:inbox newer_than:2d" {
		t.Fatalf("unexpected query %q", rep.Query)
	}
	if len(sampler.queries) != 1 || sampler.queries[0].Max != 10 {
		t.Fatalf("unexpected sample queries %+v", sampler.queries)
	}

	hits := map[string]RuleStat{}
	for _, st := range rep.Hits {
		hits[st.RuleID] = st
	}
	if hits["r-vip"].Hits != 2 || len(hits["r-vip"].Samples) != 1 {
		t.Fatalf("unexpected r-vip stats %+v", hits["r-vip"])
	}
	if hits["r-vip"].Samples[0].Subject != "Quarterly numbers" {
		t.Fatalf("unexpected sample %+v", hits["r-vip"].Samples[0])
	}
	if hits["a-gmail"].Hits != 1 {
		t.Fatalf("unexpected a-gmail stats %+v", hits["a-gmail"])
	}

	if len(rep.Inactive) != 1 || rep.Inactive[0].RuleID != "r-quiet" {
		t.Fatalf("expected r-quiet inactive, got %+v", rep.Inactive)
	}
	if len(rep.Broad) != 1 || rep.Broad[0].RuleID != "a-gmail" || rep.Broad[0].Family != triage.FamilyAssignee {
		t.Fatalf("expected the gmail.com rule flagged broad, got %+v", rep.Broad)
	}
	if len(rep.Conflicts) != 1 || rep.Conflicts[0].Type != LabelLabel {
		t.Fatalf("expected the overlapping VIP rules to conflict, got %+v", rep.Conflicts)
	}

	if !rep.ShouldFail([]string{"inactive"}) {
		t.Fatalf("expected inactive to fail")
	}
	if rep.ShouldFail([]string{"ambiguous"}) {
		t.Fatalf("expected ambiguous not to fail")
	}
	if !rep.ShouldFail(ParseFailOn(" Broad , ")) {
		t.Fatalf("expected broad to fail")
	}
}

func TestInspectWithoutSamplerIsStatic(t *testing.T) {
	svc := NewService(seededStore(t), nil, nil, slogDiscard())
	rep, err := svc.Inspect(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if rep.Sampled != 0 || len(rep.Inactive) != 0 || len(rep.Hits) != 0 {
		t.Fatalf("expected no sampled findings, got %+v", rep)
	}
	if len(rep.Broad) != 1 {
		t.Fatalf("expected broad findings without sampling, got %+v", rep.Broad)
	}
}

func TestInspectEmptySampleReportsNothingInactive(t *testing.T) {
	svc := NewService(seededStore(t), &fakeSampler{}, nil, slogDiscard())
	rep, err := svc.Inspect(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if len(rep.Inactive) != 0 {
		t.Fatalf("empty sample must not mark rules inactive: %+v", rep.Inactive)
	}
}

func TestInspectRejectsNegativeOptions(t *testing.T) {
	svc := NewService(store.NewMemory("org.com"), nil, nil, slogDiscard())
	if _, err := svc.Inspect(context.Background(), Options{SampleSize: -1}); err == nil {
		t.Fatalf("expected error for negative sample size")
	}
}

func TestHumanOutput(t *testing.T) {
	rep := Report{
		Sampled: 5,
		Query:   "in:inbox",
		Conflicts: []Conflict{{
			Type:        LabelLabel,
			RuleIDs:     []string{"r1", "r2"},
			Sender:      "a@example.com",
			Description: "labels [X] vs [Y]",
		}},
		Inactive: []RuleFinding{{RuleID: "r3", Family: triage.FamilyLabel, Reason: "no match in 5 sampled messages"}},
		Hits: []RuleStat{{
			RuleID:  "r1",
			Family:  triage.FamilyLabel,
			Match:   "from:a@example.com",
			Hits:    1,
			Samples: []HitSample{{ID: "m1", Subject: strings.Repeat("s", 80)}},
		}},
	}
	summary := rep.HumanSummary()
	for _, want := range []string{"conflicts:", "r1, r2", "inactive rules:", "label rule r3"} {
		if !strings.Contains(summary, want) {
			t.Fatalf("summary missing %q:\n%s", want, summary)
		}
	}
	var buf bytes.Buffer
	if err := PrintHuman(rep, &buf); err != nil {
		t.Fatalf("PrintHuman returned error: %v", err)
	}
	if !strings.Contains(buf.String(), "…") {
		t.Fatalf("expected long subjects truncated:\n%s", buf.String())
	}
	if got := (Report{}).HumanSummary(); !strings.Contains(got, "no findings") {
		t.Fatalf("unexpected empty summary %q", got)
	}
}

func TestWriteJSONRejectsEscapingPaths(t *testing.T) {
	for _, path := range []string{"", "/tmp/report.json", "../report.json"} {
		if err := WriteJSON(Report{}, path); err == nil {
			t.Fatalf("expected error for %q", path)
		}
	}
}

func TestWriteJSONWritesRelativeFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := WriteJSON(Report{Sampled: 7}, "report.json"); err != nil {
		t.Fatalf("WriteJSON returned error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "report.json"))
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !strings.Contains(string(data), `"sampled": 7`) {
		t.Fatalf("unexpected report contents %s", data)
	}
}
