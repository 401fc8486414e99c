package auditlog

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisRecordAndSince(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := NewRedis(client, "", 3)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	for i := range 5 {
		require.NoError(t, log.Record(ctx, Entry{
			At:        base.Add(time.Duration(i) * time.Hour),
			Actor:     "a@org.com",
			Action:    ActionLabel,
			MessageID: string(rune('a' + i)),
		}))
	}

	all, err := log.Since(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 3, "list is capped")
	assert.Equal(t, "e", all[0].MessageID)
	assert.NotEmpty(t, all[0].ID)

	recent, err := log.Since(ctx, base.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, []string{"e", "d"}, []string{recent[0].MessageID, recent[1].MessageID})
}

func TestMemorySince(t *testing.T) {
	m := NewMemory()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m.Now = func() time.Time { return now }
	ctx := context.Background()
	require.NoError(t, m.Record(ctx, Entry{Action: ActionMute, MessageID: "old", At: now.Add(-48 * time.Hour)}))
	require.NoError(t, m.Record(ctx, Entry{Action: ActionMute, MessageID: "new"}))

	got, err := m.Since(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].MessageID)
	assert.Equal(t, now, got[0].At)
}

type failingSink struct{}

func (failingSink) Record(context.Context, Entry) error { return errors.New("down") }

func TestMultiRecordsEverywhere(t *testing.T) {
	var buf bytes.Buffer
	mem := NewMemory()
	multi := Multi{failingSink{}, mem, Logger{Log: slog.New(slog.NewTextHandler(&buf, nil))}}
	err := multi.Record(context.Background(), Entry{Action: ActionAssign, MessageID: "m1", RuleID: "r1"})
	assert.Error(t, err)
	assert.Len(t, mem.Entries(), 1)
	assert.True(t, mem.Entries()[0].Automated())
	assert.Contains(t, buf.String(), "rule_id=r1")
}
