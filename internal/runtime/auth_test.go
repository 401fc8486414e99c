package runtime

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "warn", "json")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "rule", "r1")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line leaked at warn level: %s", out)
	}
	if !strings.Contains(out, `"rule":"r1"`) {
		t.Fatalf("expected json attrs, got %s", out)
	}

	if _, err := NewLogger(&buf, "loud", "text"); err == nil {
		t.Fatalf("expected error for bad level")
	}
	if _, err := NewLogger(&buf, "info", "xml"); err == nil {
		t.Fatalf("expected error for bad format")
	}
}
