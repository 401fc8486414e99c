package rules

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateLabelRule(t *testing.T) {
	now := time.Unix(1700000000, 0)

	r, err := NewLabelRule(Match{FromDomain: "@Example.com"}, []string{" VIP ", "VIP", ""}, nil, "org.com", now)
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.True(t, r.Enabled)
	assert.Equal(t, "example.com", r.Match.FromDomain)
	assert.Equal(t, []string{"VIP"}, r.LabelNames)

	_, err = NewLabelRule(Match{}, []string{"VIP"}, nil, "org.com", now)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRule))

	_, err = NewLabelRule(Match{FromEmail: "a@example.com"}, nil, nil, "org.com", now)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "labelNames", cfgErr.Field)

	outsider := Specific("someone@gmail.com")
	_, err = NewLabelRule(Match{FromEmail: "a@example.com"}, []string{"X"}, &outsider, "org.com", now)
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "assignTo.assigneeEmail", cfgErr.Field)
}

func TestValidateAssigneeRule(t *testing.T) {
	now := time.Unix(1700000000, 0)

	r, err := NewAssigneeRule(Match{FromDomain: "vendor.example.com"}, "Ops <OPS@org.com>", 3, false, "org.com", now)
	require.NoError(t, err)
	assert.Equal(t, "ops@org.com", r.AssigneeEmail)
	assert.True(t, r.When.UnassignedOnly)

	_, err = NewAssigneeRule(Match{FromDomain: "vendor.example.com"}, "ops@elsewhere.com", 3, false, "org.com", now)
	assert.True(t, errors.Is(err, ErrInvalidRule))

	_, err = NewAssigneeRule(Match{FromDomain: "gmail.com"}, "ops@org.com", 1, false, "org.com", now)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "dangerousDomainConfirm", cfgErr.Field)

	confirmed, err := NewAssigneeRule(Match{FromDomain: "gmail.com"}, "ops@org.com", 1, true, "org.com", now)
	require.NoError(t, err)
	assert.True(t, confirmed.DangerousDomainConfirm)

	// An exact address at a public provider is not broad.
	_, err = NewAssigneeRule(Match{FromEmail: "ceo.friend@gmail.com"}, "ops@org.com", 1, false, "org.com", now)
	require.NoError(t, err)
}

func TestAssignToJSON(t *testing.T) {
	self, err := json.Marshal(Self())
	require.NoError(t, err)
	assert.JSONEq(t, `"self"`, string(self))

	specific, err := json.Marshal(Specific("a@org.com"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"assigneeEmail":"a@org.com"}`, string(specific))

	var decoded AssignTo
	require.NoError(t, json.Unmarshal([]byte(`{"assigneeEmail":"b@org.com"}`), &decoded))
	assert.Equal(t, Specific("b@org.com"), decoded)
	require.NoError(t, json.Unmarshal([]byte(`"self"`), &decoded))
	assert.Equal(t, Self(), decoded)
	assert.Error(t, json.Unmarshal([]byte(`"someone"`), &decoded))
	assert.Equal(t, "a@org.com", Specific("a@org.com").Resolve("me@org.com"))
	assert.Equal(t, "me@org.com", Self().Resolve("me@org.com"))
}
