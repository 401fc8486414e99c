// Package config loads triage settings. Precedence is flags, then TRIAGE_*
// environment variables (optionally from a .env file), then the config file,
// then defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/joshsymonds/triage/internal/rules"
	"github.com/joshsymonds/triage/internal/triage"
)

const envPrefix = "TRIAGE"

// Store kinds.
const (
	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config is the full runtime configuration.
type Config struct {
	OrgDomain     string
	DefaultRuleID string

	Gmail   GmailConfig
	Store   StoreConfig
	Redis   RedisConfig
	Batch   BatchConfig
	Apply   ApplyConfig
	Sweep   SweepConfig
	Suggest SuggestConfig
	Metrics MetricsConfig
}

type GmailConfig struct {
	ConfigDir string
	RPS       int
	Burst     int
	PageSize  int
}

type StoreConfig struct {
	Kind string
	Path string
	DSN  string
}

// RedisConfig is optional. An empty URL keeps assignments and audit history
// in process.
type RedisConfig struct {
	URL       string
	AssignKey string
	AuditKey  string
	AuditMax  int
}

type BatchConfig struct {
	Concurrency int
	ItemTimeout time.Duration
}

type ApplyConfig struct {
	MaxItems     int
	PreviewLimit int
	BaseQuery    string
}

type SweepConfig struct {
	MaxTotal   int
	MaxPerRule int
	Every      time.Duration
}

type SuggestConfig struct {
	Window     time.Duration
	MinActions int
	MinActors  int
	MuteLabel  string
}

type MetricsConfig struct {
	Addr string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("org_domain", "")
	v.SetDefault("default_rule_id", "")
	v.SetDefault("gmail.config_dir", "$HOME/.gmailctl")
	v.SetDefault("gmail.rps", 5)
	v.SetDefault("gmail.burst", 5)
	v.SetDefault("gmail.page_size", 100)
	v.SetDefault("store.kind", StoreFile)
	v.SetDefault("store.path", "rules.toml")
	v.SetDefault("store.dsn", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.assign_key", "triage:assignee:")
	v.SetDefault("redis.audit_key", "triage:audit")
	v.SetDefault("redis.audit_max", 50000)
	v.SetDefault("batch.concurrency", 3)
	v.SetDefault("batch.item_timeout", "20s")
	v.SetDefault("apply.max_items", 200)
	v.SetDefault("apply.preview_limit", 10)
	v.SetDefault("apply.base_query", triage.DefaultBaseQuery)
	v.SetDefault("sweep.max_total", 500)
	v.SetDefault("sweep.max_per_rule", 100)
	v.SetDefault("sweep.every", "15m")
	v.SetDefault("suggest.window", "720h")
	v.SetDefault("suggest.min_actions", 3)
	v.SetDefault("suggest.min_actors", 2)
	v.SetDefault("suggest.mute_label", triage.DefaultMuteLabel)
	v.SetDefault("metrics.addr", "")
}

// Load reads configuration. envFile is loaded first when it exists; a
// missing .env is not an error. configPath is optional.
func Load(configPath, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	if err := rejectSecretsInFile(configPath); err != nil {
		return nil, err
	}

	cfg := &Config{
		OrgDomain:     v.GetString("org_domain"),
		DefaultRuleID: v.GetString("default_rule_id"),
		Gmail: GmailConfig{
			ConfigDir: v.GetString("gmail.config_dir"),
			RPS:       v.GetInt("gmail.rps"),
			Burst:     v.GetInt("gmail.burst"),
			PageSize:  v.GetInt("gmail.page_size"),
		},
		Store: StoreConfig{
			Kind: strings.ToLower(v.GetString("store.kind")),
			Path: v.GetString("store.path"),
			DSN:  v.GetString("store.dsn"),
		},
		Redis: RedisConfig{
			URL:       v.GetString("redis.url"),
			AssignKey: v.GetString("redis.assign_key"),
			AuditKey:  v.GetString("redis.audit_key"),
			AuditMax:  v.GetInt("redis.audit_max"),
		},
		Batch: BatchConfig{
			Concurrency: v.GetInt("batch.concurrency"),
			ItemTimeout: v.GetDuration("batch.item_timeout"),
		},
		Apply: ApplyConfig{
			MaxItems:     v.GetInt("apply.max_items"),
			PreviewLimit: v.GetInt("apply.preview_limit"),
			BaseQuery:    v.GetString("apply.base_query"),
		},
		Sweep: SweepConfig{
			MaxTotal:   v.GetInt("sweep.max_total"),
			MaxPerRule: v.GetInt("sweep.max_per_rule"),
			Every:      v.GetDuration("sweep.every"),
		},
		Suggest: SuggestConfig{
			Window:     v.GetDuration("suggest.window"),
			MinActions: v.GetInt("suggest.min_actions"),
			MinActors:  v.GetInt("suggest.min_actors"),
			MuteLabel:  v.GetString("suggest.mute_label"),
		},
		Metrics: MetricsConfig{
			Addr: v.GetString("metrics.addr"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate normalizes the organization domain and checks value ranges.
func (c *Config) Validate() error {
	org, ok := rules.NormalizeDomain(c.OrgDomain)
	if !ok {
		return fmt.Errorf("org_domain must be a domain such as example.com, got %q", c.OrgDomain)
	}
	c.OrgDomain = org

	switch c.Store.Kind {
	case StoreFile:
		if strings.TrimSpace(c.Store.Path) == "" {
			return fmt.Errorf("store.path is required for the file store")
		}
	case StorePostgres:
		if strings.TrimSpace(c.Store.DSN) == "" {
			return fmt.Errorf("store.dsn is required for the postgres store (set TRIAGE_STORE_DSN)")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("store.kind must be file, postgres or memory, got %q", c.Store.Kind)
	}

	positive := []struct {
		key string
		val int
	}{
		{"gmail.rps", c.Gmail.RPS},
		{"gmail.burst", c.Gmail.Burst},
		{"gmail.page_size", c.Gmail.PageSize},
		{"redis.audit_max", c.Redis.AuditMax},
		{"batch.concurrency", c.Batch.Concurrency},
		{"apply.max_items", c.Apply.MaxItems},
		{"apply.preview_limit", c.Apply.PreviewLimit},
		{"sweep.max_total", c.Sweep.MaxTotal},
		{"sweep.max_per_rule", c.Sweep.MaxPerRule},
		{"suggest.min_actions", c.Suggest.MinActions},
		{"suggest.min_actors", c.Suggest.MinActors},
	}
	for _, p := range positive {
		if p.val <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.key, p.val)
		}
	}
	if c.Gmail.PageSize > 500 {
		return fmt.Errorf("gmail.page_size must be at most 500, got %d", c.Gmail.PageSize)
	}
	if c.Batch.ItemTimeout <= 0 {
		return fmt.Errorf("batch.item_timeout must be positive, got %v", c.Batch.ItemTimeout)
	}
	if c.Sweep.Every <= 0 {
		return fmt.Errorf("sweep.every must be positive, got %v", c.Sweep.Every)
	}
	if c.Suggest.Window <= 0 {
		return fmt.Errorf("suggest.window must be positive, got %v", c.Suggest.Window)
	}
	if c.Sweep.MaxPerRule > c.Sweep.MaxTotal {
		return fmt.Errorf("sweep.max_per_rule (%d) must not exceed sweep.max_total (%d)", c.Sweep.MaxPerRule, c.Sweep.MaxTotal)
	}
	return nil
}

// rejectSecretsInFile keeps connection strings carrying passwords out of
// config files.
func rejectSecretsInFile(configPath string) error {
	if configPath == "" {
		return nil
	}
	file := viper.New()
	file.SetConfigFile(configPath)
	if err := file.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	for _, key := range []string{"store.dsn", "redis.url"} {
		if hasPassword(file.GetString(key)) {
			return fmt.Errorf("%s with a password is not allowed in config files (use TRIAGE_%s)",
				key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
		}
	}
	return nil
}

func hasPassword(raw string) bool {
	scheme := strings.Index(raw, "://")
	if scheme < 0 {
		return false
	}
	rest := raw[scheme+3:]
	at := strings.Index(rest, "@")
	if at < 0 {
		return false
	}
	return strings.Contains(rest[:at], ":")
}
