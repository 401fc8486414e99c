// Package runtime wires the Gmail API, credentials, and logging for the
// triage binaries.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	gc "github.com/joshsymonds/triage/internal/gmail"
)

const gmailUser = "me"

// ErrBackendUnavailable is returned while the breaker is open.
var ErrBackendUnavailable = errors.New("gmail backend unavailable")

type googleClient struct {
	svc *gmail.Service
	cb  *gobreaker.CircuitBreaker
	log *slog.Logger
}

// NewGoogleAPIClient adapts svc to gc.Client. Every call goes through a
// circuit breaker that only trips on server-side and quota errors.
func NewGoogleAPIClient(svc *gmail.Service, logger *slog.Logger) gc.Client {
	if logger == nil {
		logger = DefaultLogger()
	}
	settings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 || (counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	}
	return &googleClient{svc: svc, cb: gobreaker.NewCircuitBreaker(settings), log: logger}
}

// clientError carries 4xx responses through the breaker without counting
// them as failures.
type clientError struct{ err error }

func (e *clientError) Error() string { return e.err.Error() }

func (g *googleClient) do(operation string, fn func() error) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		err := fn()
		if err == nil {
			return nil, nil
		}
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests {
			return nil, &clientError{err: err}
		}
		return nil, err
	})
	var ce *clientError
	if errors.As(err, &ce) {
		return fmt.Errorf("%s: %w", operation, ce.err)
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w", operation, ErrBackendUnavailable)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	return nil
}

func (g *googleClient) List(ctx context.Context, q gc.Query, pageToken string, pageSize int) (gc.ListPage, error) {
	var page gc.ListPage
	err := g.do("list messages", func() error {
		call := g.svc.Users.Messages.List(gmailUser).Q(q.Raw).MaxResults(int64(pageSize))
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		res, err := call.Context(ctx).Do()
		if err != nil {
			return err
		}
		page.NextPageToken = res.NextPageToken
		page.IDs = make([]gc.MessageID, 0, len(res.Messages))
		for _, m := range res.Messages {
			page.IDs = append(page.IDs, gc.MessageID(m.Id))
		}
		return nil
	})
	return page, err
}

func (g *googleClient) GetMetadata(ctx context.Context, id gc.MessageID, headers []string) (gc.MessageMeta, error) {
	var meta gc.MessageMeta
	err := g.do("get metadata", func() error {
		msg, err := g.svc.Users.Messages.Get(gmailUser, string(id)).
			Format("metadata").
			MetadataHeaders(headers...).
			Context(ctx).Do()
		if err != nil {
			return err
		}
		h := map[string]string{}
		if msg.Payload != nil {
			for _, hd := range msg.Payload.Headers {
				h[hd.Name] = hd.Value
			}
		}
		meta = gc.MessageMeta{
			ID:       id,
			Headers:  h,
			LabelIDs: toLabelIDs(msg.LabelIds),
			Date:     time.UnixMilli(msg.InternalDate),
		}
		return nil
	})
	return meta, err
}

func (g *googleClient) Modify(ctx context.Context, id gc.MessageID, ops gc.ModifyOps) error {
	if ops.Empty() {
		return nil
	}
	return g.do("modify message", func() error {
		req := &gmail.ModifyMessageRequest{
			AddLabelIds:    toStrings(ops.AddLabels),
			RemoveLabelIds: toStrings(ops.RemoveLabels),
		}
		_, err := g.svc.Users.Messages.Modify(gmailUser, string(id), req).Context(ctx).Do()
		return err
	})
}

func (g *googleClient) ListLabels(ctx context.Context) (map[string]gc.LabelID, map[gc.LabelID]string, error) {
	byName := map[string]gc.LabelID{}
	byID := map[gc.LabelID]string{}
	err := g.do("list labels", func() error {
		lr, err := g.svc.Users.Labels.List(gmailUser).Context(ctx).Do()
		if err != nil {
			return err
		}
		for _, l := range lr.Labels {
			byName[l.Name] = gc.LabelID(l.Id)
			byID[gc.LabelID(l.Id)] = l.Name
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return byName, byID, nil
}

func (g *googleClient) EnsureLabel(ctx context.Context, name string) (gc.LabelID, error) {
	byName, _, err := g.ListLabels(ctx)
	if err != nil {
		return "", err
	}
	if id, ok := byName[name]; ok {
		return id, nil
	}
	var id gc.LabelID
	err = g.do("create label", func() error {
		created, err := g.svc.Users.Labels.Create(gmailUser, &gmail.Label{
			Name:                  name,
			LabelListVisibility:   "labelShow",
			MessageListVisibility: "show",
		}).Context(ctx).Do()
		if err != nil {
			return err
		}
		id = gc.LabelID(created.Id)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ensure label %q: %w", name, err)
	}
	return id, nil
}

func toStrings[T ~string](in []T) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

func toLabelIDs(in []string) []gc.LabelID {
	out := make([]gc.LabelID, len(in))
	for i, v := range in {
		out[i] = gc.LabelID(v)
	}
	return out
}
