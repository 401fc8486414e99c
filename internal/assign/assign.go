// Package assign records which teammate owns a shared-inbox message. Writes
// are compare-and-set: an owner is only replaced by a caller that saw it.
package assign

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/joshsymonds/triage/internal/gmail"
)

const defaultPrefix = "triage:assignee:"

// Redis stores one key per message.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis returns a Redis-backed store. An empty prefix uses the default.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(id gmail.MessageID) string { return r.prefix + string(id) }

// Current returns the assignee of id, or "" when unassigned.
func (r *Redis) Current(ctx context.Context, id gmail.MessageID) (string, error) {
	v, err := r.client.Get(ctx, r.key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get assignee %s: %w", id, err)
	}
	return v, nil
}

// maxWatchRetries bounds how often a replacement is retried when the key
// changes under WATCH.
const maxWatchRetries = 3

// Assign gives id to email provided the owner is still expected ("" for an
// unassigned message). It returns "" when id is now held by email, or the
// owner that got there first. An existing owner is never replaced unless the
// caller saw it.
func (r *Redis) Assign(ctx context.Context, id gmail.MessageID, email, expected string) (string, error) {
	if expected == "" {
		return r.claim(ctx, id, email)
	}
	key := r.key(id)
	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		var holder string
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			cur, err := tx.Get(ctx, key).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if cur == email {
				return nil
			}
			if cur != "" && cur != expected {
				holder = cur
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Set(ctx, key, email, 0)
				return nil
			})
			return err
		}, key)
		switch {
		case errors.Is(err, redis.TxFailedErr):
			continue
		case err != nil:
			return "", fmt.Errorf("replace assignee %s: %w", id, err)
		}
		return holder, nil
	}
	// Still contended: only an unowned message can be taken now.
	return r.claim(ctx, id, email)
}

func (r *Redis) claim(ctx context.Context, id gmail.MessageID, email string) (string, error) {
	ok, err := r.client.SetNX(ctx, r.key(id), email, 0).Result()
	if err != nil {
		return "", fmt.Errorf("claim %s: %w", id, err)
	}
	if ok {
		return "", nil
	}
	holder, err := r.Current(ctx, id)
	if err != nil {
		return "", err
	}
	if holder == email {
		return "", nil
	}
	return holder, nil
}

// Memory is an in-process store for local runs and tests.
type Memory struct {
	mu     sync.Mutex
	owners map[gmail.MessageID]string
}

func NewMemory() *Memory {
	return &Memory{owners: map[gmail.MessageID]string{}}
}

func (m *Memory) Current(_ context.Context, id gmail.MessageID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owners[id], nil
}

func (m *Memory) Assign(_ context.Context, id gmail.MessageID, email, expected string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	holder := m.owners[id]
	if holder != "" && holder != email && holder != expected {
		return holder, nil
	}
	m.owners[id] = email
	return "", nil
}
