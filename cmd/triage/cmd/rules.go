package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/triage/internal/gmailctl"
	"github.com/joshsymonds/triage/internal/inspect"
	"github.com/joshsymonds/triage/internal/rules"
	"github.com/joshsymonds/triage/internal/store"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List and edit label and assignee rules",
}

var addLabelFlags struct {
	from       string
	domain     string
	labels     []string
	assignSelf bool
	assignTo   string
}

var addLabelCmd = &cobra.Command{
	Use:   "add-label",
	Short: "Add a rule that labels mail from a sender",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		m, err := parseMatch(addLabelFlags.from, addLabelFlags.domain)
		if err != nil {
			return err
		}
		var directive *rules.AssignTo
		switch {
		case addLabelFlags.assignSelf && addLabelFlags.assignTo != "":
			return errors.New("use either --assign-self or --assign-to, not both")
		case addLabelFlags.assignSelf:
			d := rules.Self()
			directive = &d
		case addLabelFlags.assignTo != "":
			d := rules.Specific(addLabelFlags.assignTo)
			directive = &d
		}
		r, err := rules.NewLabelRule(m, addLabelFlags.labels, directive, cfg.OrgDomain, time.Now())
		if err != nil {
			return err
		}
		return withRuleStore(cmd.Context(), func(rs store.RuleStore) error {
			if err := rs.PutLabelRule(cmd.Context(), r); err != nil {
				return err
			}
			if w := rules.BroadDomainWarning(r.Match); w != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "added label rule %s\n", r.ID)
			return err
		})
	},
}

var addAssigneeFlags struct {
	from           string
	domain         string
	assignee       string
	priority       int
	confirmBroad   bool
	unassignedOnly bool
}

var addAssigneeCmd = &cobra.Command{
	Use:   "add-assignee",
	Short: "Add a rule that assigns mail from a sender",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		m, err := parseMatch(addAssigneeFlags.from, addAssigneeFlags.domain)
		if err != nil {
			return err
		}
		r, err := rules.NewAssigneeRule(
			m,
			addAssigneeFlags.assignee,
			addAssigneeFlags.priority,
			addAssigneeFlags.confirmBroad,
			cfg.OrgDomain,
			time.Now(),
		)
		if err != nil {
			return err
		}
		r.When.UnassignedOnly = addAssigneeFlags.unassignedOnly
		return withRuleStore(cmd.Context(), func(rs store.RuleStore) error {
			if err := rs.PutAssigneeRule(cmd.Context(), r); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "added assignee rule %s\n", r.ID)
			return err
		})
	},
}

var listJSON string

var listRulesCmd = &cobra.Command{
	Use:   "list",
	Short: "Print every rule, enabled or not",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRuleStore(cmd.Context(), func(rs store.RuleStore) error {
			labelRules, err := rs.LabelRules(cmd.Context())
			if err != nil {
				return err
			}
			assigneeRules, err := rs.AssigneeRules(cmd.Context())
			if err != nil {
				return err
			}
			if err := printRules(cmd.OutOrStdout(), labelRules, assigneeRules); err != nil {
				return err
			}
			if listJSON == "" {
				return nil
			}
			return inspect.WriteJSON(map[string]any{
				"labelRules":    labelRules,
				"assigneeRules": assigneeRules,
			}, listJSON)
		})
	},
}

var deleteRuleCmd = &cobra.Command{
	Use:   "delete <rule-id>",
	Short: "Delete a rule by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuleStore(cmd.Context(), func(rs store.RuleStore) error {
			if err := rs.DeleteRule(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "deleted rule %s\n", args[0])
			return err
		})
	},
}

var importFlags struct {
	file   string
	binary string
	dryRun bool
}

var importCmd = &cobra.Command{
	Use:   "import-gmailctl",
	Short: "Turn sender-only gmailctl filters into label rules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		export, err := loadExport(ctx)
		if err != nil {
			return err
		}
		res := gmailctl.ImportLabelRules(export, nil, cfg.OrgDomain, time.Now())
		out := cmd.OutOrStdout()
		for _, sk := range res.Skipped {
			fmt.Fprintf(out, "  skipped %s: %s\n", sk.Filter, sk.Reason)
		}
		if importFlags.dryRun {
			for _, r := range res.Rules {
				fmt.Fprintf(out, "  would add %s -> %s\n", r.Match, strings.Join(r.LabelNames, ", "))
			}
			_, err := fmt.Fprintf(out, "%d rules would be imported, %d filters skipped\n", len(res.Rules), len(res.Skipped))
			return err
		}
		return withRuleStore(ctx, func(rs store.RuleStore) error {
			for _, r := range res.Rules {
				if err := rs.PutLabelRule(ctx, r); err != nil {
					return fmt.Errorf("save rule for %s: %w", r.Match, err)
				}
			}
			_, err := fmt.Fprintf(out, "imported %d rules, %d filters skipped\n", len(res.Rules), len(res.Skipped))
			return err
		})
	},
}

func init() {
	al := addLabelCmd.Flags()
	al.StringVar(&addLabelFlags.from, "from", "", "exact sender address")
	al.StringVar(&addLabelFlags.domain, "domain", "", "sender domain (subdomains included)")
	al.StringSliceVar(&addLabelFlags.labels, "labels", nil, "labels to add")
	al.BoolVar(&addLabelFlags.assignSelf, "assign-self", false, "also assign to whoever runs the rule")
	al.StringVar(&addLabelFlags.assignTo, "assign-to", "", "also assign to this address")

	aa := addAssigneeCmd.Flags()
	aa.StringVar(&addAssigneeFlags.from, "from", "", "exact sender address")
	aa.StringVar(&addAssigneeFlags.domain, "domain", "", "sender domain (subdomains included)")
	aa.StringVar(&addAssigneeFlags.assignee, "assignee", "", "address inside the organization domain")
	aa.IntVar(&addAssigneeFlags.priority, "priority", 100, "lower runs first")
	aa.BoolVar(&addAssigneeFlags.confirmBroad, "confirm-broad", false, "allow a broad public domain")
	aa.BoolVar(&addAssigneeFlags.unassignedOnly, "unassigned-only", true, "never take over an owned message")

	listRulesCmd.Flags().StringVar(&listJSON, "json", "", "write rules as JSON to path")

	im := importCmd.Flags()
	im.StringVar(&importFlags.file, "file", "", "read a saved gmailctl JSON export instead of running gmailctl")
	im.StringVar(&importFlags.binary, "gmailctl", "gmailctl", "gmailctl binary")
	im.BoolVar(&importFlags.dryRun, "dry-run", false, "print the rules without saving them")

	rulesCmd.AddCommand(addLabelCmd, addAssigneeCmd, listRulesCmd, deleteRuleCmd, importCmd)
	rootCmd.AddCommand(rulesCmd)
}

func parseMatch(from, domain string) (rules.Match, error) {
	from, domain = strings.TrimSpace(from), strings.TrimSpace(domain)
	switch {
	case from != "" && domain != "":
		return rules.Match{}, errors.New("use either --from or --domain, not both")
	case from != "":
		return rules.Match{FromEmail: from}, nil
	case domain != "":
		return rules.Match{FromDomain: domain}, nil
	default:
		return rules.Match{}, errors.New("one of --from or --domain is required")
	}
}

func withRuleStore(ctx context.Context, fn func(store.RuleStore) error) error {
	rs, db, err := openRuleStore(ctx)
	if err != nil {
		return err
	}
	if db != nil {
		defer func() { _ = db.Close() }()
	}
	return fn(rs)
}

func loadExport(ctx context.Context) (gmailctl.Export, error) {
	if importFlags.file == "" {
		var loader gmailctl.Loader = gmailctl.Runner{
			Binary:    importFlags.binary,
			ConfigDir: os.ExpandEnv(cfg.Gmail.ConfigDir),
		}
		return loader.ExportFilters(ctx)
	}
	f, err := os.Open(importFlags.file)
	if err != nil {
		return gmailctl.Export{}, fmt.Errorf("open export: %w", err)
	}
	defer f.Close()
	return gmailctl.ReadExport(f)
}

func printRules(w io.Writer, labelRules []rules.LabelRule, assigneeRules []rules.AssigneeRule) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FAMILY\tID\tENABLED\tMATCH\tACTION")
	for _, r := range labelRules {
		action := "+" + strings.Join(r.LabelNames, ",+")
		if r.AssignTo != nil {
			action += " assign " + r.AssignTo.String()
		}
		fmt.Fprintf(tw, "label\t%s\t%t\t%s\t%s\n", r.ID, r.Enabled, r.Match, action)
	}
	for _, r := range assigneeRules {
		action := fmt.Sprintf("assign %s (priority %d", r.AssigneeEmail, r.Priority)
		if r.When.UnassignedOnly {
			action += ", unassigned only"
		}
		fmt.Fprintf(tw, "assignee\t%s\t%t\t%s\t%s)\n", r.ID, r.Enabled, r.Match, action)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write rules: %w", err)
	}
	return nil
}
