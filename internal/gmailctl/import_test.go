package gmailctl

import (
	"strings"
	"testing"
	"time"
)

const sampleExport = `{
  "labels": [
    {"id": "Label_1", "name": "Vendors", "type": "user"},
    {"id": "Label_2", "name": "Newsletters", "type": "user"}
  ],
  "filters": [
    {"name": "vendors", "criteria": {"from": "billing@acme.example.com, *@partner.example.org"},
     "action": {"addLabelIds": ["Label_1", "STARRED"]}},
    {"criteria": {"query": "(from:news@letters.example.com OR from:digest@letters.example.com)"},
     "action": {"addLabelIds": ["Label_2"], "removeLabelIds": ["INBOX"]}},
    {"name": "subject", "criteria": {"subject": "invoice"}, "action": {"addLabelIds": ["Label_1"]}},
    {"name": "archive-only", "criteria": {"from": "noise@example.com"}, "action": {"removeLabelIds": ["INBOX"]}},
    {"name": "negated", "criteria": {"query": "-from:boss@example.com"}, "action": {"addLabelIds": ["Label_1"]}},
    {"name": "external", "criteria": {"from": "x@example.com"}, "action": {"addLabelIds": ["Label_9"]}}
  ]
}`

func TestReadExport(t *testing.T) {
	export, err := ReadExport(strings.NewReader(sampleExport))
	if err != nil {
		t.Fatalf("ReadExport returned error: %v", err)
	}
	if len(export.Filters) != 6 || len(export.Labels) != 2 {
		t.Fatalf("unexpected export %+v", export)
	}
	if _, err := ReadExport(strings.NewReader(`{}`)); err == nil {
		t.Fatalf("expected error for empty export")
	}
	if _, err := ReadExport(strings.NewReader(`not json`)); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestImportLabelRules(t *testing.T) {
	export, err := ReadExport(strings.NewReader(sampleExport))
	if err != nil {
		t.Fatalf("ReadExport returned error: %v", err)
	}
	now := time.Unix(1700000000, 0)
	res := ImportLabelRules(export, map[string]string{"Label_9": "External"}, "org.com", now)

	if len(res.Rules) != 5 {
		t.Fatalf("expected five rules, got %+v", res.Rules)
	}
	first := res.Rules[0]
	if first.Match.FromEmail != "billing@acme.example.com" || len(first.LabelNames) != 1 || first.LabelNames[0] != "Vendors" {
		t.Fatalf("unexpected first rule %+v", first)
	}
	if !first.Enabled || first.ID == "" || !first.CreatedAt.Equal(now) {
		t.Fatalf("imported rules must be enabled and stamped: %+v", first)
	}
	if res.Rules[1].Match.FromDomain != "partner.example.org" {
		t.Fatalf("expected wildcard sender to become a domain rule, got %+v", res.Rules[1].Match)
	}
	if res.Rules[2].Match.FromEmail != "news@letters.example.com" || res.Rules[3].Match.FromEmail != "digest@letters.example.com" {
		t.Fatalf("expected query senders imported, got %+v %+v", res.Rules[2].Match, res.Rules[3].Match)
	}
	if res.Rules[4].LabelNames[0] != "External" {
		t.Fatalf("expected caller label names used, got %+v", res.Rules[4])
	}

	skipped := map[string]string{}
	for _, s := range res.Skipped {
		skipped[s.Filter] = s.Reason
	}
	for _, name := range []string{"subject", "archive-only", "negated"} {
		if _, ok := skipped[name]; !ok {
			t.Fatalf("expected %s skipped, got %+v", name, res.Skipped)
		}
	}
}
