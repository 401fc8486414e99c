// Package mailbox adapts a gmail.Client to the triage mail contract. Every
// backend call waits on the rate limiter first.
package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/joshsymonds/triage/internal/gmail"
	"github.com/joshsymonds/triage/internal/rate"
	"github.com/joshsymonds/triage/internal/triage"
)

const (
	DefaultPageSize = 100
	maxPageSize     = 500
)

var _ triage.Mailbox = (*Mailbox)(nil)

// Owners reports the current assignee of a message.
type Owners interface {
	Current(ctx context.Context, id gmail.MessageID) (string, error)
}

// Mailbox is meant to live for one run: label ids are loaded once and
// remembered for its lifetime.
type Mailbox struct {
	client   gmail.Client
	limiter  rate.Limiter
	owners   Owners
	pageSize int
	log      *slog.Logger

	mu     sync.Mutex
	labels map[string]gmail.LabelID
}

// New builds a Mailbox. owners may be nil when unassigned-only listings are
// never requested.
func New(client gmail.Client, limiter rate.Limiter, owners Owners, pageSize int, logger *slog.Logger) *Mailbox {
	if limiter == nil {
		limiter = rate.Unlimited{}
	}
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = DefaultPageSize
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Mailbox{client: client, limiter: limiter, owners: owners, pageSize: pageSize, log: logger}
}

func (m *Mailbox) wait(ctx context.Context, operation string) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit %s: %w", operation, err)
	}
	return nil
}

// ListCandidates pages through the search until q.Max ids are collected.
func (m *Mailbox) ListCandidates(ctx context.Context, q triage.CandidateQuery) (triage.CandidatePage, error) {
	if q.UnassignedOnly && m.owners == nil {
		return triage.CandidatePage{}, fmt.Errorf("unassigned-only listing needs an assignment store")
	}
	var (
		out   triage.CandidatePage
		token string
	)
	for {
		if err := m.wait(ctx, "list"); err != nil {
			return triage.CandidatePage{}, err
		}
		size := m.pageSize
		if q.Max > 0 {
			size = min(size, q.Max-len(out.IDs))
		}
		page, err := m.client.List(ctx, gmail.Query{Raw: q.Query}, token, size)
		if err != nil {
			return triage.CandidatePage{}, fmt.Errorf("list messages: %w", err)
		}
		for _, id := range page.IDs {
			if q.Max > 0 && len(out.IDs) == q.Max {
				out.More = true
				return out, nil
			}
			if q.UnassignedOnly {
				owner, err := m.owners.Current(ctx, id)
				if err != nil {
					return triage.CandidatePage{}, fmt.Errorf("current assignee %s: %w", id, err)
				}
				if owner != "" {
					continue
				}
			}
			out.IDs = append(out.IDs, id)
		}
		if page.NextPageToken == "" {
			return out, nil
		}
		if q.Max > 0 && len(out.IDs) == q.Max {
			out.More = true
			return out, nil
		}
		token = page.NextPageToken
	}
}

// RoutingMetadata fetches the sender, subject and current labels of id.
func (m *Mailbox) RoutingMetadata(ctx context.Context, id gmail.MessageID) (gmail.MessageMeta, error) {
	if err := m.wait(ctx, "metadata"); err != nil {
		return gmail.MessageMeta{}, err
	}
	meta, err := m.client.GetMetadata(ctx, id, gmail.RoutingHeaders)
	if err != nil {
		return gmail.MessageMeta{}, fmt.Errorf("get metadata %s: %w", id, err)
	}
	return meta, nil
}

func (m *Mailbox) loadLabels(ctx context.Context) error {
	if m.labels != nil {
		return nil
	}
	if err := m.wait(ctx, "labels"); err != nil {
		return err
	}
	byName, _, err := m.client.ListLabels(ctx)
	if err != nil {
		return fmt.Errorf("list labels: %w", err)
	}
	m.labels = byName
	return nil
}

// LookupLabelID reports the id of an existing label.
func (m *Mailbox) LookupLabelID(ctx context.Context, name string) (gmail.LabelID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.loadLabels(ctx); err != nil {
		return "", false, err
	}
	id, ok := m.labels[name]
	return id, ok, nil
}

// ResolveLabelID returns the id of name, creating the label when needed.
func (m *Mailbox) ResolveLabelID(ctx context.Context, name string) (gmail.LabelID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.loadLabels(ctx); err != nil {
		return "", err
	}
	if id, ok := m.labels[name]; ok {
		return id, nil
	}
	if err := m.wait(ctx, "create label"); err != nil {
		return "", err
	}
	id, err := m.client.EnsureLabel(ctx, name)
	if err != nil {
		return "", err
	}
	m.labels[name] = id
	m.log.InfoContext(ctx, "created label", slog.String("label", name))
	return id, nil
}

// ApplyLabelChange adds and removes labels on one message. Labels to remove
// that do not exist are ignored.
func (m *Mailbox) ApplyLabelChange(ctx context.Context, id gmail.MessageID, change triage.LabelChange) error {
	var ops gmail.ModifyOps
	for _, name := range change.Add {
		lid, err := m.ResolveLabelID(ctx, name)
		if err != nil {
			return err
		}
		ops.AddLabels = append(ops.AddLabels, lid)
	}
	for _, name := range change.Remove {
		lid, ok, err := m.LookupLabelID(ctx, name)
		if err != nil {
			return err
		}
		if ok {
			ops.RemoveLabels = append(ops.RemoveLabels, lid)
		}
	}
	if ops.Empty() {
		return nil
	}
	if err := m.wait(ctx, "modify"); err != nil {
		return err
	}
	if err := m.client.Modify(ctx, id, ops); err != nil {
		return fmt.Errorf("modify %s: %w", id, err)
	}
	return nil
}
