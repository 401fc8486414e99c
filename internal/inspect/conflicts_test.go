package inspect

import (
	"testing"

	"github.com/joshsymonds/triage/internal/rules"
)

func labelRule(id string, m rules.Match, labels ...string) rules.LabelRule {
	return rules.LabelRule{ID: id, Enabled: true, Match: m, LabelNames: labels}
}

func assigneeRule(id string, priority int, m rules.Match, assignee string) rules.AssigneeRule {
	return rules.AssigneeRule{
		ID:            id,
		Enabled:       true,
		Priority:      priority,
		Match:         m,
		AssigneeEmail: assignee,
		When:          rules.When{UnassignedOnly: true},
	}
}

func TestDetectConflictsSameSenderDifferentLabels(t *testing.T) {
	sender := rules.Match{FromEmail: "a@example.com"}
	got := DetectConflicts([]rules.LabelRule{
		labelRule("r1", sender, "X"),
		labelRule("r2", sender, "Y"),
	}, nil)
	if len(got) != 1 {
		t.Fatalf("expected exactly one conflict, got %+v", got)
	}
	if got[0].Type != LabelLabel {
		t.Fatalf("unexpected type %s", got[0].Type)
	}
	if len(got[0].RuleIDs) != 2 || got[0].RuleIDs[0] != "r1" || got[0].RuleIDs[1] != "r2" {
		t.Fatalf("unexpected rule ids %v", got[0].RuleIDs)
	}
	if got[0].Sender != "a@example.com" {
		t.Fatalf("unexpected sender %q", got[0].Sender)
	}
}

func TestDetectConflictsSameDecisionIsNotAConflict(t *testing.T) {
	sender := rules.Match{FromEmail: "a@example.com"}
	got := DetectConflicts([]rules.LabelRule{
		labelRule("r1", sender, "X"),
		labelRule("r2", sender, "X"),
		labelRule("r3", rules.Match{FromDomain: "example.com"}, "X"),
	}, nil)
	if len(got) != 0 {
		t.Fatalf("expected no conflicts, got %+v", got)
	}

	got = DetectConflicts([]rules.LabelRule{
		labelRule("r1", sender, "A", "B"),
		labelRule("r2", sender, "B", "A"),
	}, nil)
	if len(got) != 0 {
		t.Fatalf("label order must not matter, got %+v", got)
	}
}

func TestDetectConflictsOverlapKinds(t *testing.T) {
	tests := []struct {
		name   string
		a, b   rules.Match
		sender string
		want   bool
	}{
		{"email in domain", rules.Match{FromDomain: "example.com"}, rules.Match{FromEmail: "x@alerts.example.com"}, "x@alerts.example.com", true},
		{"domain contains subdomain", rules.Match{FromDomain: "example.com"}, rules.Match{FromDomain: "alerts.example.com"}, "*@alerts.example.com", true},
		{"subdomain first", rules.Match{FromDomain: "alerts.example.com"}, rules.Match{FromDomain: "example.com"}, "*@alerts.example.com", true},
		{"disjoint domains", rules.Match{FromDomain: "example.com"}, rules.Match{FromDomain: "example.org"}, "", false},
		{"lookalike domain", rules.Match{FromDomain: "example.com"}, rules.Match{FromEmail: "x@notexample.com"}, "", false},
		{"different emails", rules.Match{FromEmail: "a@example.com"}, rules.Match{FromEmail: "b@example.com"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectConflicts([]rules.LabelRule{
				labelRule("a", tt.a, "One"),
				labelRule("b", tt.b, "Two"),
			}, nil)
			if !tt.want {
				if len(got) != 0 {
					t.Fatalf("expected no conflict, got %+v", got)
				}
				return
			}
			if len(got) != 1 || got[0].Sender != tt.sender {
				t.Fatalf("expected one conflict on %s, got %+v", tt.sender, got)
			}
		})
	}
}

func TestDetectConflictsIgnoresDisabledRules(t *testing.T) {
	off := labelRule("off", rules.Match{FromEmail: "a@example.com"}, "Y")
	off.Enabled = false
	got := DetectConflicts([]rules.LabelRule{
		labelRule("on", rules.Match{FromEmail: "a@example.com"}, "X"),
		off,
	}, nil)
	if len(got) != 0 {
		t.Fatalf("disabled rule produced conflicts: %+v", got)
	}
}

func TestDetectConflictsAssigneeFamilies(t *testing.T) {
	domain := rules.Match{FromDomain: "example.com"}
	specific := rules.Specific("a@org.com")
	self := rules.Self()
	labelRules := []rules.LabelRule{
		{ID: "l-same", Enabled: true, Match: domain, LabelNames: []string{"X"}, AssignTo: &specific},
		{ID: "l-self", Enabled: true, Match: rules.Match{FromEmail: "x@example.com"}, LabelNames: []string{"X"}, AssignTo: &self},
	}
	assigneeRules := []rules.AssigneeRule{
		assigneeRule("a1", 1, domain, "a@org.com"),
		assigneeRule("a2", 5, rules.Match{FromEmail: "x@example.com"}, "b@org.com"),
	}
	got := DetectConflicts(labelRules, assigneeRules)

	counts := map[ConflictType]int{}
	for _, c := range got {
		counts[c.Type]++
	}
	if counts[AssigneeAssignee] != 1 {
		t.Fatalf("expected one assignee conflict, got %+v", got)
	}
	// l-same vs a2, l-self vs a1, l-self vs a2.
	if counts[LabelAssignee] != 3 {
		t.Fatalf("expected three label/assignee conflicts, got %+v", got)
	}
	if counts[LabelLabel] != 1 {
		t.Fatalf("expected the differing directives to conflict, got %+v", got)
	}
	if len(DetectAmbiguities(assigneeRules)) != 0 {
		t.Fatalf("different priorities are not ambiguous")
	}
}

func TestDetectAmbiguitiesEqualPriority(t *testing.T) {
	assigneeRules := []rules.AssigneeRule{
		assigneeRule("first", 2, rules.Match{FromDomain: "example.com"}, "a@org.com"),
		assigneeRule("other", 1, rules.Match{FromDomain: "example.org"}, "c@org.com"),
		assigneeRule("second", 2, rules.Match{FromEmail: "x@example.com"}, "b@org.com"),
		assigneeRule("same", 2, rules.Match{FromEmail: "y@example.com"}, "a@org.com"),
	}
	got := DetectAmbiguities(assigneeRules)
	if len(got) != 1 {
		t.Fatalf("expected one ambiguity, got %+v", got)
	}
	if got[0].Winner != "first" || got[0].Priority != 2 || got[0].Sender != "x@example.com" {
		t.Fatalf("unexpected ambiguity %+v", got[0])
	}
}
