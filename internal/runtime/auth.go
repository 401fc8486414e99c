package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mbrt/gmailctl/cmd/gmailctl/localcred"
	"google.golang.org/api/gmail/v1"

	gc "github.com/joshsymonds/triage/internal/gmail"
)

type Scope int

const (
	ScopeReadonly Scope = iota
	ScopeModify
)

// NewGmailClient authenticates with the gmailctl credentials in cfgDir.
// Preview and inspection only need ScopeReadonly.
func NewGmailClient(ctx context.Context, cfgDir string, scope Scope, logger *slog.Logger) (gc.Client, error) {
	var scopeURL string
	switch scope {
	case ScopeReadonly:
		scopeURL = gmail.GmailReadonlyScope
	case ScopeModify:
		scopeURL = gmail.GmailModifyScope
	default:
		return nil, fmt.Errorf("unknown scope %d", scope)
	}
	svc, err := (localcred.Provider{}).ServiceWithScopes(ctx, cfgDir, scopeURL)
	if err != nil {
		return nil, fmt.Errorf("gmail service: %w", err)
	}
	return NewGoogleAPIClient(svc, logger), nil
}

func DefaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// NewLogger builds a stderr logger from the --log-level and --log-format flags.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (use text or json)", format)
	}
}
