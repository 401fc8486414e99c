package rules

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeEmailAddress(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{name: "plain", input: "Alice@Example.COM", want: "alice@example.com", ok: true},
		{name: "display name", input: `"Alice Smith" <alice@example.com>`, want: "alice@example.com", ok: true},
		{name: "encoded display name", input: "=?UTF-8?B?QWxpY2U=?= <Alice@example.com>", want: "alice@example.com", ok: true},
		{name: "loose brackets", input: "Alice, Team <alice@example.com>", want: "alice@example.com", ok: true},
		{name: "no at", input: "alice.example.com", ok: false},
		{name: "whitespace", input: "ali ce@example.com", ok: false},
		{name: "empty", input: "  ", ok: false},
		{name: "trailing at", input: "alice@", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeEmailAddress(tt.input)
			if ok != tt.ok {
				t.Fatalf("ok mismatch: got %v want %v (value %q)", ok, tt.ok, got)
			}
			if got != tt.want {
				t.Fatalf("address mismatch: got %q want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeDomain(t *testing.T) {
	tests := []struct {
		input string
		want  string
		ok    bool
	}{
		{input: "@Example.com", want: "example.com", ok: true},
		{input: ".sub.example.com.", want: "sub.example.com", ok: true},
		{input: "localhost", ok: false},
		{input: "", ok: false},
		{input: "exa mple.com", ok: false},
	}
	for _, tt := range tests {
		got, ok := NormalizeDomain(tt.input)
		assert.Equal(t, tt.ok, ok, tt.input)
		assert.Equal(t, tt.want, got, tt.input)
	}
}

func TestNormalizeOrgEmail(t *testing.T) {
	got, ok := NormalizeOrgEmail("Bob <BOB@org.com>", "org.com")
	require.True(t, ok)
	assert.Equal(t, "bob@org.com", got)

	_, ok = NormalizeOrgEmail("bob@evilorg.com", "org.com")
	assert.False(t, ok)
	_, ok = NormalizeOrgEmail("bob@gmail.com", "org.com")
	assert.False(t, ok)
}

func TestMatchOne(t *testing.T) {
	tests := []struct {
		name   string
		sender string
		match  Match
		want   MatchResult
	}{
		{"exact email", "Vip <VIP@example.com>", Match{FromEmail: "vip@example.com"}, MatchResult{OK: true, Reason: ReasonFromEmail}},
		{"domain", "x@example.com", Match{FromDomain: "@example.com"}, MatchResult{OK: true, Reason: ReasonFromDomain}},
		{"subdomain", "x@alerts.example.com", Match{FromDomain: "example.com"}, MatchResult{OK: true, Reason: ReasonFromDomain}},
		{"lookalike domain", "x@notexample.com", Match{FromDomain: "example.com"}, MatchResult{Reason: ReasonNoMatch}},
		{"email wins over domain", "y@example.com", Match{FromEmail: "x@example.com", FromDomain: "example.com"}, MatchResult{Reason: ReasonNoMatch}},
		{"no discriminant", "x@example.com", Match{}, MatchResult{Reason: ReasonInvalidRule}},
		{"bad sender", "not an address", Match{FromDomain: "example.com"}, MatchResult{Reason: ReasonInvalidRule}},
		{"bad rule email", "x@example.com", Match{FromEmail: "nope"}, MatchResult{Reason: ReasonInvalidRule}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchOne(tt.sender, tt.match))
		})
	}
}

func TestMatchLabelRulesUnion(t *testing.T) {
	rulesIn := []LabelRule{
		{ID: "r1", Enabled: true, Match: Match{FromDomain: "example.com"}, LabelNames: []string{"VIP"}},
		{ID: "r2", Enabled: true, Match: Match{FromEmail: "vip@example.com"}, LabelNames: []string{"Priority", "VIP"}},
	}
	got := MatchLabelRules("vip@example.com", rulesIn)
	assert.Equal(t, []string{"VIP", "Priority"}, got.Labels)
	assert.Equal(t, []string{"r1", "r2"}, got.RuleIDs)
	assert.Nil(t, got.AssignTo)
}

func TestMatchLabelRulesFirstDirectiveWins(t *testing.T) {
	first := Specific("a@org.com")
	second := Self()
	rulesIn := []LabelRule{
		{ID: "off", Enabled: false, Match: Match{FromDomain: "example.com"}, LabelNames: []string{"Off"}, AssignTo: &second},
		{ID: "r1", Enabled: true, Match: Match{FromDomain: "example.com"}, LabelNames: []string{"A"}, AssignTo: &first},
		{ID: "r2", Enabled: true, Match: Match{FromEmail: "x@example.com"}, LabelNames: []string{"B"}, AssignTo: &second},
	}
	got := MatchLabelRules("x@example.com", rulesIn)
	require.NotNil(t, got.AssignTo)
	assert.Equal(t, first, *got.AssignTo)
	assert.Equal(t, []string{"A", "B"}, got.Labels)
}

func TestMatchLabelRulesEmpty(t *testing.T) {
	got := MatchLabelRules("x@example.com", nil)
	assert.True(t, got.Empty())
}

func TestPickAssigneeRulePriorityBeatsSpecificity(t *testing.T) {
	rulesIn := []AssigneeRule{
		{ID: "specific", Enabled: true, Priority: 5, Match: Match{FromEmail: "x@example.com"}, AssigneeEmail: "b@org.com"},
		{ID: "domain", Enabled: true, Priority: 1, Match: Match{FromDomain: "example.com"}, AssigneeEmail: "a@org.com"},
	}
	got := PickAssigneeRule("x@example.com", rulesIn)
	require.NotNil(t, got)
	assert.Equal(t, "a@org.com", got.AssigneeEmail)
}

func TestPickAssigneeRuleTieKeepsInputOrder(t *testing.T) {
	rulesIn := []AssigneeRule{
		{ID: "first", Enabled: true, Priority: 2, Match: Match{FromDomain: "example.com"}, AssigneeEmail: "a@org.com"},
		{ID: "second", Enabled: true, Priority: 2, Match: Match{FromDomain: "example.com"}, AssigneeEmail: "b@org.com"},
	}
	got := PickAssigneeRule("x@example.com", rulesIn)
	require.NotNil(t, got)
	assert.Equal(t, "first", got.ID)
}

func TestPickAssigneeRuleSkipsDisabled(t *testing.T) {
	rulesIn := []AssigneeRule{
		{ID: "off", Enabled: false, Priority: 0, Match: Match{FromDomain: "example.com"}, AssigneeEmail: "a@org.com"},
	}
	assert.Nil(t, PickAssigneeRule("x@example.com", rulesIn))
	assert.Nil(t, PickAssigneeRule("x@example.com", nil))
}

func TestIsBroadDomain(t *testing.T) {
	assert.True(t, IsBroadDomain("gmail.com"))
	assert.True(t, IsBroadDomain("@GMAIL.com"))
	assert.True(t, IsBroadDomain("github.com"))
	assert.False(t, IsBroadDomain("alerts.specific-vendor.example.com"))
	assert.False(t, IsBroadDomain(""))
}

func TestMatchProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	local := gen.RegexMatch(`[a-z][a-z0-9]{0,8}`)
	domain := gen.RegexMatch(`[a-z]{2,8}\.(com|net|org)`)

	properties.Property("a matching enabled rule yields exactly its labels", prop.ForAll(
		func(user, dom string, labels []string) bool {
			sender := user + "@" + dom
			rule := LabelRule{ID: "r", Enabled: true, Match: Match{FromDomain: dom}, LabelNames: labels}
			if !MatchOne(sender, rule.Match).OK {
				return false
			}
			got := MatchLabelRules(sender, []LabelRule{rule})
			return len(got.Labels) == len(labels) && equalStrings(got.Labels, labels)
		},
		local,
		domain,
		gen.SliceOfN(3, gen.RegexMatch(`L[0-9]{1,3}`)).SuchThat(distinctStrings),
	))

	properties.Property("disabled rules never match", prop.ForAll(
		func(user, dom string) bool {
			sender := user + "@" + dom
			rule := LabelRule{ID: "r", Enabled: false, Match: Match{FromEmail: sender}, LabelNames: []string{"X"}}
			arule := AssigneeRule{ID: "a", Enabled: false, Match: Match{FromEmail: sender}, AssigneeEmail: "a@org.com"}
			return MatchLabelRules(sender, []LabelRule{rule}).Empty() &&
				PickAssigneeRule(sender, []AssigneeRule{arule}) == nil
		},
		local,
		domain,
	))

	properties.Property("single matching assignee rule is found at any position", prop.ForAll(
		func(user, dom string, pos int) bool {
			sender := user + "@" + dom
			set := []AssigneeRule{
				{ID: "n1", Enabled: true, Priority: 1, Match: Match{FromDomain: "other.invalid.test"}, AssigneeEmail: "n@org.com"},
				{ID: "n2", Enabled: true, Priority: 9, Match: Match{FromEmail: "nobody@other.test"}, AssigneeEmail: "n@org.com"},
			}
			hit := AssigneeRule{ID: "hit", Enabled: true, Priority: pos, Match: Match{FromEmail: sender}, AssigneeEmail: "h@org.com"}
			idx := pos % (len(set) + 1)
			set = append(set[:idx], append([]AssigneeRule{hit}, set[idx:]...)...)
			got := PickAssigneeRule(sender, set)
			return got != nil && got.ID == "hit"
		},
		local,
		domain,
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func distinctStrings(in []string) bool {
	seen := map[string]struct{}{}
	for _, s := range in {
		if _, ok := seen[s]; ok {
			return false
		}
		seen[s] = struct{}{}
	}
	return true
}
