package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/joshsymonds/triage/internal/rules"
)

// File keeps rules in a TOML document. The file is read on every call so
// edits made by hand take effect on the next request.
type File struct {
	path      string
	orgDomain string
	mu        sync.Mutex
}

func NewFile(path, orgDomain string) *File {
	return &File{path: path, orgDomain: orgDomain}
}

type fileDoc struct {
	LabelRules    []fileLabelRule    `toml:"label_rule"`
	AssigneeRules []fileAssigneeRule `toml:"assignee_rule"`
}

type fileLabelRule struct {
	ID         string    `toml:"id"`
	Enabled    bool      `toml:"enabled"`
	FromEmail  string    `toml:"from_email,omitempty"`
	FromDomain string    `toml:"from_domain,omitempty"`
	Labels     []string  `toml:"labels"`
	AssignSelf bool      `toml:"assign_self,omitempty"`
	AssignTo   string    `toml:"assign_to,omitempty"`
	CreatedAt  time.Time `toml:"created_at"`
	UpdatedAt  time.Time `toml:"updated_at"`
}

type fileAssigneeRule struct {
	ID                     string    `toml:"id"`
	Enabled                bool      `toml:"enabled"`
	Priority               int       `toml:"priority"`
	FromEmail              string    `toml:"from_email,omitempty"`
	FromDomain             string    `toml:"from_domain,omitempty"`
	Assignee               string    `toml:"assignee"`
	UnassignedOnly         *bool     `toml:"unassigned_only,omitempty"`
	DangerousDomainConfirm bool      `toml:"dangerous_domain_confirm,omitempty"`
	CreatedAt              time.Time `toml:"created_at"`
	UpdatedAt              time.Time `toml:"updated_at"`
}

func (f fileLabelRule) rule() rules.LabelRule {
	r := rules.LabelRule{
		ID:         f.ID,
		Enabled:    f.Enabled,
		Match:      rules.Match{FromEmail: f.FromEmail, FromDomain: f.FromDomain},
		LabelNames: f.Labels,
		CreatedAt:  f.CreatedAt,
		UpdatedAt:  f.UpdatedAt,
	}
	switch {
	case f.AssignSelf:
		a := rules.Self()
		r.AssignTo = &a
	case f.AssignTo != "":
		a := rules.Specific(f.AssignTo)
		r.AssignTo = &a
	}
	return r
}

func toFileLabelRule(r rules.LabelRule) fileLabelRule {
	f := fileLabelRule{
		ID:         r.ID,
		Enabled:    r.Enabled,
		FromEmail:  r.Match.FromEmail,
		FromDomain: r.Match.FromDomain,
		Labels:     r.LabelNames,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if r.AssignTo != nil {
		if r.AssignTo.Kind == rules.AssignSelf {
			f.AssignSelf = true
		} else {
			f.AssignTo = r.AssignTo.Email
		}
	}
	return f
}

func (f fileAssigneeRule) rule() rules.AssigneeRule {
	unassignedOnly := true
	if f.UnassignedOnly != nil {
		unassignedOnly = *f.UnassignedOnly
	}
	return rules.AssigneeRule{
		ID:                     f.ID,
		Enabled:                f.Enabled,
		Priority:               f.Priority,
		Match:                  rules.Match{FromEmail: f.FromEmail, FromDomain: f.FromDomain},
		AssigneeEmail:          f.Assignee,
		When:                   rules.When{UnassignedOnly: unassignedOnly},
		DangerousDomainConfirm: f.DangerousDomainConfirm,
		CreatedAt:              f.CreatedAt,
		UpdatedAt:              f.UpdatedAt,
	}
}

func toFileAssigneeRule(r rules.AssigneeRule) fileAssigneeRule {
	unassignedOnly := r.When.UnassignedOnly
	return fileAssigneeRule{
		ID:                     r.ID,
		Enabled:                r.Enabled,
		Priority:               r.Priority,
		FromEmail:              r.Match.FromEmail,
		FromDomain:             r.Match.FromDomain,
		Assignee:               r.AssigneeEmail,
		UnassignedOnly:         &unassignedOnly,
		DangerousDomainConfirm: r.DangerousDomainConfirm,
		CreatedAt:              r.CreatedAt,
		UpdatedAt:              r.UpdatedAt,
	}
}

func (s *File) read() (fileDoc, error) {
	var doc fileDoc
	if _, err := toml.DecodeFile(s.path, &doc); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fileDoc{}, nil
		}
		return fileDoc{}, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return doc, nil
}

func (s *File) write(doc fileDoc) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".rules-*.toml")
	if err != nil {
		return fmt.Errorf("create temp rules file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if err := toml.NewEncoder(tmp).Encode(doc); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode rules: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp rules file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

func (s *File) LabelRules(context.Context) ([]rules.LabelRule, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	out := make([]rules.LabelRule, 0, len(doc.LabelRules))
	for _, r := range doc.LabelRules {
		out = append(out, r.rule())
	}
	return out, nil
}

func (s *File) AssigneeRules(context.Context) ([]rules.AssigneeRule, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	out := make([]rules.AssigneeRule, 0, len(doc.AssigneeRules))
	for _, r := range doc.AssigneeRules {
		out = append(out, r.rule())
	}
	return out, nil
}

func (s *File) PutLabelRule(_ context.Context, r rules.LabelRule) error {
	if err := rules.ValidateLabelRule(&r, s.orgDomain); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return err
	}
	doc.LabelRules = upsert(doc.LabelRules, toFileLabelRule(r), func(f fileLabelRule) string { return f.ID })
	return s.write(doc)
}

func (s *File) PutAssigneeRule(_ context.Context, r rules.AssigneeRule) error {
	if err := rules.ValidateAssigneeRule(&r, s.orgDomain); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return err
	}
	doc.AssigneeRules = upsert(doc.AssigneeRules, toFileAssigneeRule(r), func(f fileAssigneeRule) string { return f.ID })
	return s.write(doc)
}

func (s *File) DeleteRule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return err
	}
	var ok bool
	doc.LabelRules, ok = remove(doc.LabelRules, id, func(f fileLabelRule) string { return f.ID })
	if !ok {
		doc.AssigneeRules, ok = remove(doc.AssigneeRules, id, func(f fileAssigneeRule) string { return f.ID })
	}
	if !ok {
		return fmt.Errorf("delete %s: %w", id, rules.ErrRuleNotFound)
	}
	return s.write(doc)
}
