package auditlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultKey = "triage:audit"
	DefaultMax = 50000
)

// Redis keeps entries in a capped list, newest at the head.
type Redis struct {
	client *redis.Client
	key    string
	max    int64
	now    func() time.Time
}

// NewRedis returns a list-backed log. Zero values select the defaults.
func NewRedis(client *redis.Client, key string, maxEntries int) *Redis {
	if key == "" {
		key = DefaultKey
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMax
	}
	return &Redis{client: client, key: key, max: int64(maxEntries), now: time.Now}
}

func (r *Redis) Record(ctx context.Context, e Entry) error {
	e = Stamp(e, r.now())
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.key, data)
	pipe.LTrim(ctx, r.key, 0, r.max-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push audit entry: %w", err)
	}
	return nil
}

// Since scans from the head and stops at the first entry older than t.
func (r *Redis) Since(ctx context.Context, t time.Time) ([]Entry, error) {
	const page = 500
	var out []Entry
	for start := int64(0); ; start += page {
		raw, err := r.client.LRange(ctx, r.key, start, start+page-1).Result()
		if err != nil {
			return nil, fmt.Errorf("read audit log: %w", err)
		}
		for _, item := range raw {
			var e Entry
			if err := json.Unmarshal([]byte(item), &e); err != nil {
				return nil, fmt.Errorf("decode audit entry: %w", err)
			}
			if e.At.Before(t) {
				return out, nil
			}
			out = append(out, e)
		}
		if len(raw) < page {
			return out, nil
		}
	}
}
