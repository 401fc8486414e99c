package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/triage/internal/inspect"
	"github.com/joshsymonds/triage/internal/runtime"
	"github.com/joshsymonds/triage/internal/triage"
)

type runFlags struct {
	ruleID         string
	family         string
	ids            []string
	limit          int
	unassignedOnly bool
	actor          string
	jsonOut        string
}

func newRunCommand(use, short string, dryRun bool) *cobra.Command {
	var f runFlags
	c := &cobra.Command{
		Use:   use + " [rule-id]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runRules(cmd, f, path, dryRun)
		},
	}
	c.Flags().StringVar(&f.ruleID, "rule", "", "rule id (the positional id wins)")
	c.Flags().StringVar(&f.family, "family", "", "limit to one rule family: label or assignee")
	c.Flags().StringSliceVar(&f.ids, "ids", nil, "explicit message ids (default: latest inbox messages)")
	c.Flags().IntVar(&f.limit, "limit", 0, "maximum messages to fetch when no ids are given")
	c.Flags().BoolVar(&f.unassignedOnly, "unassigned-only", false, "only fetch messages nobody owns")
	c.Flags().StringVar(&f.actor, "actor", os.Getenv("TRIAGE_ACTOR"), "operator address, used by assign-to-self rules")
	c.Flags().StringVar(&f.jsonOut, "json", "", "write JSON response to path")
	return c
}

var (
	previewCmd = newRunCommand("preview", "Show what the rules would do without changing anything", true)
	applyCmd   = newRunCommand("apply", "Apply rules to messages", false)
)

func init() {
	rootCmd.AddCommand(previewCmd, applyCmd)
}

func runRules(cmd *cobra.Command, f runFlags, pathRuleID string, dryRun bool) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	b, err := openBackends(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	scope := runtime.ScopeModify
	if dryRun {
		scope = runtime.ScopeReadonly
	}
	gs, err := openGmail(ctx, b, scope)
	if err != nil {
		return err
	}
	defer gs.Close()

	svc := newTriageService(b, gs.mailbox)
	req := triage.Request{
		RuleID:         triage.ResolveRuleID(pathRuleID, f.ruleID, cfg.DefaultRuleID),
		Family:         triage.Family(strings.ToLower(strings.TrimSpace(f.family))),
		MessageIDs:     f.ids,
		Limit:          f.limit,
		UnassignedOnly: f.unassignedOnly,
		Actor:          f.actor,
	}
	var resp triage.Response
	if dryRun {
		resp, err = svc.Preview(ctx, req)
	} else {
		resp, err = svc.Apply(ctx, req)
	}
	if err != nil {
		return err
	}
	if err := printResponse(cmd.OutOrStdout(), resp); err != nil {
		return err
	}
	if f.jsonOut != "" {
		if err := inspect.WriteJSON(resp, f.jsonOut); err != nil {
			return fmt.Errorf("write json: %w", err)
		}
	}
	return nil
}

func printResponse(w io.Writer, resp triage.Response) error {
	var builder strings.Builder
	mode := "apply"
	if resp.DryRun {
		mode = "preview"
	}
	fmt.Fprintf(&builder, "%s: %d applied, %d skipped, %d failed (%d matched, %d assigned)\n",
		mode, len(resp.Applied), len(resp.Skipped), len(resp.Failed), resp.Matched, resp.Assigned)
	if resp.Truncated {
		builder.WriteString("more candidates remain beyond the limit\n")
	}
	for _, warning := range resp.Warnings {
		fmt.Fprintf(&builder, "warning: %s\n", warning)
	}
	for _, p := range resp.Previews {
		fmt.Fprintf(&builder, "  %s\n", formatPreview(p))
	}
	for _, o := range resp.Outcomes {
		if o.Status == triage.StatusFailed {
			fmt.Fprintf(&builder, "  failed %s: %s\n", o.MessageID, o.Error)
		}
	}
	if _, err := io.WriteString(w, builder.String()); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

func formatPreview(p triage.Preview) string {
	parts := []string{string(p.MessageID), p.Sender}
	if len(p.Change.AddLabels) > 0 {
		parts = append(parts, "+"+strings.Join(p.Change.AddLabels, ",+"))
	}
	if p.Change.AssignTo != "" {
		parts = append(parts, "-> "+p.Change.AssignTo)
	}
	if len(p.Change.RuleIDs) > 0 {
		parts = append(parts, "["+strings.Join(p.Change.RuleIDs, " ")+"]")
	}
	if p.Subject != "" {
		parts = append(parts, fmt.Sprintf("%q", p.Subject))
	}
	return strings.Join(parts, " ")
}
