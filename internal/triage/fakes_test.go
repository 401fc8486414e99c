package triage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/joshsymonds/triage/internal/auditlog"
	"github.com/joshsymonds/triage/internal/gmail"
)

type fakeMailbox struct {
	mu sync.Mutex

	messages map[gmail.MessageID]gmail.MessageMeta
	labels   map[string]gmail.LabelID
	metaErr  map[gmail.MessageID]error
	slow     map[gmail.MessageID]time.Duration
	listIDs  []gmail.MessageID

	listQueries []CandidateQuery
	applyCalls  []gmail.MessageID
	changes     []LabelChange
	applyErr    error
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{
		messages: map[gmail.MessageID]gmail.MessageMeta{},
		labels:   map[string]gmail.LabelID{},
		metaErr:  map[gmail.MessageID]error{},
		slow:     map[gmail.MessageID]time.Duration{},
	}
}

func (f *fakeMailbox) add(id gmail.MessageID, from, subject string, labels ...gmail.LabelID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[id] = gmail.MessageMeta{
		ID:       id,
		LabelIDs: labels,
		Headers:  map[string]string{"From": from, "Subject": subject},
	}
	f.listIDs = append(f.listIDs, id)
}

func (f *fakeMailbox) ListCandidates(_ context.Context, q CandidateQuery) (CandidatePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listQueries = append(f.listQueries, q)
	ids := append([]gmail.MessageID(nil), f.listIDs...)
	if q.Max > 0 && len(ids) > q.Max {
		return CandidatePage{IDs: ids[:q.Max], More: true}, nil
	}
	return CandidatePage{IDs: ids}, nil
}

func (f *fakeMailbox) RoutingMetadata(ctx context.Context, id gmail.MessageID) (gmail.MessageMeta, error) {
	f.mu.Lock()
	delay := f.slow[id]
	err := f.metaErr[id]
	meta, ok := f.messages[id]
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return gmail.MessageMeta{}, err
	}
	if !ok {
		return gmail.MessageMeta{}, errors.New("message not found")
	}
	meta.LabelIDs = append([]gmail.LabelID(nil), meta.LabelIDs...)
	return meta, nil
}

func (f *fakeMailbox) LookupLabelID(_ context.Context, name string) (gmail.LabelID, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.labels[name]
	return id, ok, nil
}

func (f *fakeMailbox) ApplyLabelChange(_ context.Context, id gmail.MessageID, change LabelChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applyCalls = append(f.applyCalls, id)
	f.changes = append(f.changes, change)
	if f.applyErr != nil {
		return f.applyErr
	}
	meta := f.messages[id]
	for _, name := range change.Add {
		lid, ok := f.labels[name]
		if !ok {
			lid = gmail.LabelID("Label_" + name)
			f.labels[name] = lid
		}
		meta.LabelIDs = append(meta.LabelIDs, lid)
	}
	f.messages[id] = meta
	return nil
}

func (f *fakeMailbox) applyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applyCalls)
}

type fakeAssignments struct {
	mu       sync.Mutex
	owners   map[gmail.MessageID]string
	calls    int
	expected []string
	raceFor  map[gmail.MessageID]string
}

func newFakeAssignments() *fakeAssignments {
	return &fakeAssignments{owners: map[gmail.MessageID]string{}, raceFor: map[gmail.MessageID]string{}}
}

func (f *fakeAssignments) Current(_ context.Context, id gmail.MessageID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.owners[id], nil
}

func (f *fakeAssignments) Assign(_ context.Context, id gmail.MessageID, email, expected string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.expected = append(f.expected, expected)
	// A teammate claims the message between our read and our write.
	if racer, ok := f.raceFor[id]; ok {
		f.owners[id] = racer
		delete(f.raceFor, id)
	}
	holder := f.owners[id]
	if holder != "" && holder != email && holder != expected {
		return holder, nil
	}
	f.owners[id] = email
	return "", nil
}

func (f *fakeAssignments) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type failingSink struct {
	mu    sync.Mutex
	calls int
}

func (f *failingSink) Record(context.Context, auditlog.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("audit backend down")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
