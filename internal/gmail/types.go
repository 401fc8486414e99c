package gmail

import (
	"strconv"
	"strings"
	"time"
)

type (
	MessageID string
	LabelID   string
)

// RoutingHeaders are the only headers triage needs to route a message.
var RoutingHeaders = []string{"From", "Subject", "Date"}

// MessageMeta is a headers-only view of a message.
type MessageMeta struct {
	ID       MessageID
	LabelIDs []LabelID
	Headers  map[string]string
	Date     time.Time
}

// Header returns a header value, matching the name case-insensitively.
func (m MessageMeta) Header(name string) string {
	if v, ok := m.Headers[name]; ok {
		return v
	}
	for k, v := range m.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// HasLabel reports whether id is currently applied.
func (m MessageMeta) HasLabel(id LabelID) bool {
	for _, l := range m.LabelIDs {
		if l == id {
			return true
		}
	}
	return false
}

// ModifyOps adds and removes labels on one or more messages.
type ModifyOps struct {
	AddLabels    []LabelID
	RemoveLabels []LabelID
}

// Empty reports whether the operation would change nothing.
func (o ModifyOps) Empty() bool {
	return len(o.AddLabels) == 0 && len(o.RemoveLabels) == 0
}

// Query is a Gmail search expression, already formed
// (e.g. `in:inbox from:(vip@example.com) -{label:"VIP"}`).
type Query struct {
	Raw string
}

// ListPage is one page of message ids.
type ListPage struct {
	IDs           []MessageID
	NextPageToken string
}

// NewerThan renders a newer_than: clause covering window. Gmail only takes
// whole days, so the window rounds up with a one day minimum.
func NewerThan(window time.Duration) string {
	const day = 24 * time.Hour
	days := int(window / day)
	if window%day != 0 {
		days++
	}
	return "newer_than:" + strconv.Itoa(max(days, 1)) + "d"
}
