package auditlog

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Memory keeps entries in process, newest first.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
	Now     func() time.Time
}

func NewMemory() *Memory { return &Memory{Now: time.Now} }

func (m *Memory) Record(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e = Stamp(e, m.Now())
	m.entries = append([]Entry{e}, m.entries...)
	return nil
}

func (m *Memory) Since(_ context.Context, t time.Time) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries {
		if !e.At.Before(t) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Entries returns a copy of everything recorded.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

// Logger writes entries to a structured logger.
type Logger struct {
	Log *slog.Logger
}

func (l Logger) Record(ctx context.Context, e Entry) error {
	l.Log.InfoContext(ctx, "audit",
		slog.String("action", string(e.Action)),
		slog.String("actor", e.Actor),
		slog.String("message_id", e.MessageID),
		slog.String("sender", e.Sender),
		slog.Any("labels", e.Labels),
		slog.String("assignee", e.Assignee),
		slog.String("rule_id", e.RuleID),
		slog.Bool("dry_run", e.DryRun),
	)
	return nil
}
