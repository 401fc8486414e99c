package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/joshsymonds/triage/internal/assign"
	"github.com/joshsymonds/triage/internal/auditlog"
	"github.com/joshsymonds/triage/internal/config"
	"github.com/joshsymonds/triage/internal/inspect"
	"github.com/joshsymonds/triage/internal/mailbox"
	"github.com/joshsymonds/triage/internal/rate"
	"github.com/joshsymonds/triage/internal/runtime"
	"github.com/joshsymonds/triage/internal/store"
	"github.com/joshsymonds/triage/internal/triage"
)

// assignments is the ownership backend: it answers owner lookups for the
// mailbox and claims messages for the rule runner.
type assignments interface {
	triage.Assignments
	mailbox.Owners
}

// backends are the non-Gmail collaborators shared by every command.
type backends struct {
	store       store.RuleStore
	assignments assignments
	audit       auditlog.Sink
	history     auditlog.History
	db          *sqlx.DB
	redis       *redis.Client
}

func openRuleStore(ctx context.Context) (store.RuleStore, *sqlx.DB, error) {
	switch cfg.Store.Kind {
	case config.StorePostgres:
		db, err := store.OpenPostgres(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store.NewPostgres(db, cfg.OrgDomain), db, nil
	case config.StoreMemory:
		return store.NewMemory(cfg.OrgDomain), nil, nil
	default:
		return store.NewFile(cfg.Store.Path, cfg.OrgDomain), nil, nil
	}
}

func openBackends(ctx context.Context) (*backends, error) {
	rs, db, err := openRuleStore(ctx)
	if err != nil {
		return nil, err
	}
	b := &backends{store: rs, db: db}

	slogSink := auditlog.Logger{Log: logger}
	if cfg.Redis.URL == "" {
		logger.WarnContext(ctx, "redis.url not set; assignments and audit history last for this process only")
		mem := auditlog.NewMemory()
		b.assignments = assign.NewMemory()
		b.audit = auditlog.Multi{mem, slogSink}
		b.history = mem
		return b, nil
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	b.redis = redis.NewClient(opts)
	if err := b.redis.Ping(ctx).Err(); err != nil {
		b.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	history := auditlog.NewRedis(b.redis, cfg.Redis.AuditKey, cfg.Redis.AuditMax)
	b.assignments = assign.NewRedis(b.redis, cfg.Redis.AssignKey)
	b.audit = auditlog.Multi{history, slogSink}
	b.history = history
	return b, nil
}

func (b *backends) Close() {
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.db != nil {
		_ = b.db.Close()
	}
}

// gmailSession is an authenticated, rate-limited mailbox.
type gmailSession struct {
	mailbox *mailbox.Mailbox
	bucket  *rate.TokenBucket
}

func (g *gmailSession) Close() {
	if g.bucket != nil {
		g.bucket.Stop()
	}
}

func openGmail(ctx context.Context, b *backends, scope runtime.Scope) (*gmailSession, error) {
	client, err := runtime.NewGmailClient(ctx, os.ExpandEnv(cfg.Gmail.ConfigDir), scope, logger)
	if err != nil {
		return nil, fmt.Errorf("create gmail client: %w", err)
	}
	bucket := rate.NewTokenBucket(cfg.Gmail.RPS, cfg.Gmail.Burst)
	return &gmailSession{
		mailbox: mailbox.New(client, bucket, b.assignments, cfg.Gmail.PageSize, logger),
		bucket:  bucket,
	}, nil
}

func newTriageService(b *backends, mb triage.Mailbox) *triage.Service {
	return triage.NewService(mb, b.assignments, b.store, b.audit, logger, triage.Options{
		Concurrency:  cfg.Batch.Concurrency,
		ItemTimeout:  cfg.Batch.ItemTimeout,
		MaxItems:     cfg.Apply.MaxItems,
		PreviewLimit: cfg.Apply.PreviewLimit,
		BaseQuery:    cfg.Apply.BaseQuery,
	})
}

func newInspectService(b *backends, sampler inspect.Sampler) *inspect.Service {
	svc := inspect.NewService(b.store, sampler, b.history, logger)
	svc.Batch.Concurrency = cfg.Batch.Concurrency
	svc.Batch.Timeout = cfg.Batch.ItemTimeout
	return svc
}
