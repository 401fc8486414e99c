package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/joshsymonds/triage/internal/rules"
)

// Postgres stores rules in the label_rules and assignee_rules tables.
type Postgres struct {
	db        *sqlx.DB
	orgDomain string
}

// OpenPostgres connects with lib/pq and pings the database.
func OpenPostgres(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return db, nil
}

func NewPostgres(db *sqlx.DB, orgDomain string) *Postgres {
	return &Postgres{db: db, orgDomain: orgDomain}
}

type labelRuleRow struct {
	ID          string         `db:"id"`
	Enabled     bool           `db:"enabled"`
	FromEmail   string         `db:"from_email"`
	FromDomain  string         `db:"from_domain"`
	LabelNames  pq.StringArray `db:"label_names"`
	AssignKind  string         `db:"assign_kind"`
	AssignEmail string         `db:"assign_email"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (row labelRuleRow) toRule() rules.LabelRule {
	r := rules.LabelRule{
		ID:         row.ID,
		Enabled:    row.Enabled,
		Match:      rules.Match{FromEmail: row.FromEmail, FromDomain: row.FromDomain},
		LabelNames: []string(row.LabelNames),
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
	switch row.AssignKind {
	case "self":
		a := rules.Self()
		r.AssignTo = &a
	case "specific":
		a := rules.Specific(row.AssignEmail)
		r.AssignTo = &a
	}
	return r
}

func fromLabelRule(r rules.LabelRule) labelRuleRow {
	row := labelRuleRow{
		ID:         r.ID,
		Enabled:    r.Enabled,
		FromEmail:  r.Match.FromEmail,
		FromDomain: r.Match.FromDomain,
		LabelNames: pq.StringArray(r.LabelNames),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if r.AssignTo != nil {
		switch r.AssignTo.Kind {
		case rules.AssignSelf:
			row.AssignKind = "self"
		case rules.AssignSpecific:
			row.AssignKind = "specific"
			row.AssignEmail = r.AssignTo.Email
		}
	}
	return row
}

type assigneeRuleRow struct {
	ID                     string    `db:"id"`
	Enabled                bool      `db:"enabled"`
	Priority               int       `db:"priority"`
	FromEmail              string    `db:"from_email"`
	FromDomain             string    `db:"from_domain"`
	AssigneeEmail          string    `db:"assignee_email"`
	UnassignedOnly         bool      `db:"unassigned_only"`
	DangerousDomainConfirm bool      `db:"dangerous_domain_confirm"`
	CreatedAt              time.Time `db:"created_at"`
	UpdatedAt              time.Time `db:"updated_at"`
}

func (row assigneeRuleRow) toRule() rules.AssigneeRule {
	return rules.AssigneeRule{
		ID:                     row.ID,
		Enabled:                row.Enabled,
		Priority:               row.Priority,
		Match:                  rules.Match{FromEmail: row.FromEmail, FromDomain: row.FromDomain},
		AssigneeEmail:          row.AssigneeEmail,
		When:                   rules.When{UnassignedOnly: row.UnassignedOnly},
		DangerousDomainConfirm: row.DangerousDomainConfirm,
		CreatedAt:              row.CreatedAt,
		UpdatedAt:              row.UpdatedAt,
	}
}

func fromAssigneeRule(r rules.AssigneeRule) assigneeRuleRow {
	return assigneeRuleRow{
		ID:                     r.ID,
		Enabled:                r.Enabled,
		Priority:               r.Priority,
		FromEmail:              r.Match.FromEmail,
		FromDomain:             r.Match.FromDomain,
		AssigneeEmail:          r.AssigneeEmail,
		UnassignedOnly:         r.When.UnassignedOnly,
		DangerousDomainConfirm: r.DangerousDomainConfirm,
		CreatedAt:              r.CreatedAt,
		UpdatedAt:              r.UpdatedAt,
	}
}

func (p *Postgres) LabelRules(ctx context.Context) ([]rules.LabelRule, error) {
	query := `
		SELECT id, enabled, from_email, from_domain, label_names,
		       assign_kind, assign_email, created_at, updated_at
		FROM label_rules
		ORDER BY created_at, id`

	var rows []labelRuleRow
	if err := p.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("select label rules: %w", err)
	}
	out := make([]rules.LabelRule, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRule())
	}
	return out, nil
}

func (p *Postgres) AssigneeRules(ctx context.Context) ([]rules.AssigneeRule, error) {
	query := `
		SELECT id, enabled, priority, from_email, from_domain, assignee_email,
		       unassigned_only, dangerous_domain_confirm, created_at, updated_at
		FROM assignee_rules
		ORDER BY priority, created_at, id`

	var rows []assigneeRuleRow
	if err := p.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("select assignee rules: %w", err)
	}
	out := make([]rules.AssigneeRule, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRule())
	}
	return out, nil
}

func (p *Postgres) PutLabelRule(ctx context.Context, r rules.LabelRule) error {
	if err := rules.ValidateLabelRule(&r, p.orgDomain); err != nil {
		return err
	}
	query := `
		INSERT INTO label_rules (id, enabled, from_email, from_domain, label_names,
		                         assign_kind, assign_email, created_at, updated_at)
		VALUES (:id, :enabled, :from_email, :from_domain, :label_names,
		        :assign_kind, :assign_email, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			from_email = EXCLUDED.from_email,
			from_domain = EXCLUDED.from_domain,
			label_names = EXCLUDED.label_names,
			assign_kind = EXCLUDED.assign_kind,
			assign_email = EXCLUDED.assign_email,
			updated_at = EXCLUDED.updated_at`

	if _, err := p.db.NamedExecContext(ctx, query, fromLabelRule(r)); err != nil {
		return fmt.Errorf("upsert label rule %s: %w", r.ID, err)
	}
	return nil
}

func (p *Postgres) PutAssigneeRule(ctx context.Context, r rules.AssigneeRule) error {
	if err := rules.ValidateAssigneeRule(&r, p.orgDomain); err != nil {
		return err
	}
	query := `
		INSERT INTO assignee_rules (id, enabled, priority, from_email, from_domain, assignee_email,
		                            unassigned_only, dangerous_domain_confirm, created_at, updated_at)
		VALUES (:id, :enabled, :priority, :from_email, :from_domain, :assignee_email,
		        :unassigned_only, :dangerous_domain_confirm, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			priority = EXCLUDED.priority,
			from_email = EXCLUDED.from_email,
			from_domain = EXCLUDED.from_domain,
			assignee_email = EXCLUDED.assignee_email,
			unassigned_only = EXCLUDED.unassigned_only,
			dangerous_domain_confirm = EXCLUDED.dangerous_domain_confirm,
			updated_at = EXCLUDED.updated_at`

	if _, err := p.db.NamedExecContext(ctx, query, fromAssigneeRule(r)); err != nil {
		return fmt.Errorf("upsert assignee rule %s: %w", r.ID, err)
	}
	return nil
}

func (p *Postgres) DeleteRule(ctx context.Context, id string) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var deleted int64
	for _, table := range []string{"label_rules", "assignee_rules"} {
		res, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = $1", id)
		if err != nil {
			return fmt.Errorf("delete from %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		deleted += n
	}
	if deleted == 0 {
		return fmt.Errorf("delete %s: %w", id, rules.ErrRuleNotFound)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}
