package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/triage/internal/rules"
)

const org = "org.com"

// exerciseStore runs the behavior every RuleStore must share.
func exerciseStore(t *testing.T, s RuleStore) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

	self := rules.Self()
	vip, err := rules.NewLabelRule(rules.Match{FromEmail: "vip@example.com"}, []string{"VIP"}, &self, org, now)
	require.NoError(t, err)
	vendor, err := rules.NewLabelRule(rules.Match{FromDomain: "vendor.example.com"}, []string{"Vendor", "Ops"}, nil, org, now.Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, s.PutLabelRule(ctx, vip))
	require.NoError(t, s.PutLabelRule(ctx, vendor))

	late, err := rules.NewAssigneeRule(rules.Match{FromDomain: "example.com"}, "b@org.com", 5, false, org, now)
	require.NoError(t, err)
	early, err := rules.NewAssigneeRule(rules.Match{FromEmail: "vip@example.com"}, "a@org.com", 1, false, org, now.Add(time.Minute))
	require.NoError(t, err)
	early.When.UnassignedOnly = false
	require.NoError(t, s.PutAssigneeRule(ctx, late))
	require.NoError(t, s.PutAssigneeRule(ctx, early))

	labels, err := s.LabelRules(ctx)
	require.NoError(t, err)
	require.Len(t, labels, 2)
	assert.Equal(t, vip.ID, labels[0].ID)
	require.NotNil(t, labels[0].AssignTo)
	assert.Equal(t, rules.AssignSelf, labels[0].AssignTo.Kind)
	assert.Equal(t, []string{"Vendor", "Ops"}, labels[1].LabelNames)
	assert.Nil(t, labels[1].AssignTo)

	enabled, err := EnabledAssigneeRules(ctx, s)
	require.NoError(t, err)
	require.Len(t, enabled, 2)
	assert.Equal(t, early.ID, enabled[0].ID)
	assert.False(t, enabled[0].When.UnassignedOnly)
	assert.True(t, enabled[1].When.UnassignedOnly)

	vip.Enabled = false
	require.NoError(t, s.PutLabelRule(ctx, vip))
	active, err := EnabledLabelRules(ctx, s)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, vendor.ID, active[0].ID)

	found, err := LookupLabelRule(ctx, s, vip.ID)
	require.NoError(t, err)
	assert.False(t, found.Enabled)

	broad := rules.AssigneeRule{ID: "broad", Enabled: true, Match: rules.Match{FromDomain: "gmail.com"}, AssigneeEmail: "a@org.com"}
	err = s.PutAssigneeRule(ctx, broad)
	assert.True(t, errors.Is(err, rules.ErrInvalidRule))

	require.NoError(t, s.DeleteRule(ctx, late.ID))
	_, err = LookupAssigneeRule(ctx, s, late.ID)
	assert.True(t, errors.Is(err, rules.ErrRuleNotFound))
	assert.True(t, errors.Is(s.DeleteRule(ctx, "missing"), rules.ErrRuleNotFound))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory(org))
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.toml")
	exerciseStore(t, NewFile(path, org))
}

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	s := NewFile(filepath.Join(t.TempDir(), "absent.toml"), org)
	labels, err := s.LabelRules(context.Background())
	require.NoError(t, err)
	assert.Empty(t, labels)
}

func TestFileStoreReadsHandEditedRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.toml")
	doc := `
[[label_rule]]
id = "news"
enabled = true
from_domain = "news.example.com"
labels = ["News"]
assign_to = "desk@org.com"

[[assignee_rule]]
id = "desk"
enabled = true
priority = 2
from_domain = "news.example.com"
assignee = "desk@org.com"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	s := NewFile(path, org)
	ctx := context.Background()

	labels, err := s.LabelRules(ctx)
	require.NoError(t, err)
	require.Len(t, labels, 1)
	require.NotNil(t, labels[0].AssignTo)
	assert.Equal(t, rules.Specific("desk@org.com"), *labels[0].AssignTo)

	assignees, err := s.AssigneeRules(ctx)
	require.NoError(t, err)
	require.Len(t, assignees, 1)
	assert.True(t, assignees[0].When.UnassignedOnly, "unassigned_only defaults to true")

	// Edits on disk are visible on the next read.
	require.NoError(t, os.WriteFile(path, []byte(doc+"\n[[label_rule]]\nid = \"x\"\nenabled = false\nfrom_email = \"x@example.com\"\nlabels = [\"X\"]\n"), 0o600))
	labels, err = s.LabelRules(ctx)
	require.NoError(t, err)
	assert.Len(t, labels, 2)
}

func TestLabelRuleRowRoundTrip(t *testing.T) {
	a := rules.Specific("a@org.com")
	r := rules.LabelRule{ID: "r", Enabled: true, Match: rules.Match{FromDomain: "example.com"}, LabelNames: []string{"A"}, AssignTo: &a}
	got := fromLabelRule(r).toRule()
	assert.Equal(t, r, got)

	self := rules.Self()
	r.AssignTo = &self
	row := fromLabelRule(r)
	assert.Equal(t, "self", row.AssignKind)
	assert.Empty(t, row.AssignEmail)
}
