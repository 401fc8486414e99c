// Package gmailctl reads compiled gmailctl filters so existing sender filters
// can be imported as label rules.
package gmailctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Export mirrors the JSON payload produced by `gmailctl compile --format=json`.
type Export struct {
	Filters []Filter `json:"filters"`
	Labels  []Label  `json:"labels"`
}

// Filter is a single Gmail filter definition.
type Filter struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name,omitempty"`
	Criteria FilterCriteria `json:"criteria"`
	Action   FilterAction   `json:"action"`
}

// FilterCriteria holds the Gmail search predicates of a filter.
type FilterCriteria struct {
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Subject string `json:"subject,omitempty"`
	Query   string `json:"query,omitempty"`
	List    string `json:"list,omitempty"`
}

// FilterAction describes the Gmail actions for a filter.
type FilterAction struct {
	AddLabelIDs    []string `json:"addLabelIds,omitempty"`
	RemoveLabelIDs []string `json:"removeLabelIds,omitempty"`
	Forward        string   `json:"forward,omitempty"`
}

// Label mirrors Gmail label metadata in the compile output.
type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Loader produces a compiled export.
type Loader interface {
	ExportFilters(ctx context.Context) (Export, error)
}

// Runner shells out to the gmailctl binary to obtain compiled filters.
type Runner struct {
	Binary    string
	ConfigDir string
}

// ExportFilters invokes gmailctl and parses the resulting JSON export.
func (r Runner) ExportFilters(ctx context.Context) (Export, error) {
	bin := r.Binary
	if bin == "" {
		bin = "gmailctl"
	}
	args := []string{"compile", "--format=json"}
	if strings.TrimSpace(r.ConfigDir) != "" {
		args = append(args, "--config", r.ConfigDir)
	}
	cmd := exec.CommandContext(ctx, bin, args...) // #nosec G204 - binary determined by user input
	out, err := cmd.CombinedOutput()
	if err != nil {
		return Export{}, fmt.Errorf(
			"run gmailctl: %w (output: %s)",
			err,
			strings.TrimSpace(string(out)),
		)
	}
	return decode(out)
}

// ReadExport parses an export saved earlier with `gmailctl compile`.
func ReadExport(r io.Reader) (Export, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Export{}, fmt.Errorf("read gmailctl export: %w", err)
	}
	return decode(data)
}

func decode(data []byte) (Export, error) {
	var export Export
	if err := json.Unmarshal(data, &export); err != nil {
		return Export{}, fmt.Errorf("decode gmailctl output: %w", err)
	}
	if len(export.Filters) == 0 && len(export.Labels) == 0 {
		return Export{}, errors.New("gmailctl returned no filters or labels")
	}
	return export, nil
}
