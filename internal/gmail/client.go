// Package gmail defines the narrow Gmail surface the triage engine consumes.
package gmail

import "context"

// Client is the subset of the Gmail API used for rule application.
type Client interface {
	List(ctx context.Context, q Query, pageToken string, pageSize int) (ListPage, error)
	GetMetadata(ctx context.Context, id MessageID, headers []string) (MessageMeta, error)
	Modify(ctx context.Context, id MessageID, ops ModifyOps) error
	ListLabels(ctx context.Context) (map[string]LabelID, map[LabelID]string, error)
	EnsureLabel(ctx context.Context, name string) (LabelID, error)
}
