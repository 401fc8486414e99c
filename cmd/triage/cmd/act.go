package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/triage/internal/auditlog"
	"github.com/joshsymonds/triage/internal/runtime"
	"github.com/joshsymonds/triage/internal/triage"
)

var actFlags struct {
	actor     string
	labels    []string
	assignee  string
	muteLabel string
}

var actCmd = &cobra.Command{
	Use:   "act <label|mute|assign> <message-id>",
	Short: "Label, mute or assign one message by hand and record it",
	Long: `act applies a manual change to a single message and writes it to the audit
history, where suggest looks for patterns worth turning into rules.`,
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{string(auditlog.ActionLabel), string(auditlog.ActionMute), string(auditlog.ActionAssign)},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		b, err := openBackends(ctx)
		if err != nil {
			return err
		}
		defer b.Close()

		gs, err := openGmail(ctx, b, runtime.ScopeModify)
		if err != nil {
			return err
		}
		defer gs.Close()

		entry, err := newTriageService(b, gs.mailbox).Act(ctx, triage.ManualAction{
			Action:    auditlog.Action(args[0]),
			MessageID: args[1],
			Labels:    actFlags.labels,
			Assignee:  actFlags.assignee,
			Actor:     actFlags.actor,
			MuteLabel: firstNonEmpty(actFlags.muteLabel, cfg.Suggest.MuteLabel),
		})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s (sender %s) by %s\n",
			entry.Action, entry.MessageID, entry.Sender, entry.Actor)
		return err
	},
}

func init() {
	f := actCmd.Flags()
	f.StringVar(&actFlags.actor, "actor", os.Getenv("TRIAGE_ACTOR"), "operator address recorded in the audit history")
	f.StringSliceVar(&actFlags.labels, "labels", nil, "labels to add (label action)")
	f.StringVar(&actFlags.assignee, "assignee", "", "new owner (assign action)")
	f.StringVar(&actFlags.muteLabel, "mute-label", "", "label added by mute (default from config)")
	rootCmd.AddCommand(actCmd)
}
