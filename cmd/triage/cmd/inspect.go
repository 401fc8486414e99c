package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/triage/internal/inspect"
	"github.com/joshsymonds/triage/internal/runtime"
)

var inspectFlags struct {
	sample     int
	hitSamples int
	query      string
	window     time.Duration
	static     bool
	failOn     string
	jsonOut    string
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Report rule conflicts, ambiguous priorities, broad matches and inactive rules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		b, err := openBackends(ctx)
		if err != nil {
			return err
		}
		defer b.Close()

		var svc *inspect.Service
		if inspectFlags.static {
			svc = newInspectService(b, nil)
		} else {
			gs, err := openGmail(ctx, b, runtime.ScopeReadonly)
			if err != nil {
				return err
			}
			defer gs.Close()
			svc = newInspectService(b, gs.mailbox)
		}

		rep, err := svc.Inspect(ctx, inspect.Options{
			SampleSize: inspectFlags.sample,
			HitSamples: inspectFlags.hitSamples,
			Query:      inspectFlags.query,
			Window:     inspectFlags.window,
		})
		if err != nil {
			return fmt.Errorf("inspect rules: %w", err)
		}
		if err := inspect.PrintHuman(rep, cmd.OutOrStdout()); err != nil {
			return err
		}
		if inspectFlags.jsonOut != "" {
			if err := inspect.WriteJSON(rep, inspectFlags.jsonOut); err != nil {
				return fmt.Errorf("write json: %w", err)
			}
		}
		if rep.ShouldFail(inspect.ParseFailOn(inspectFlags.failOn)) {
			return fmt.Errorf("inspect failed on: %s", inspectFlags.failOn)
		}
		return nil
	},
}

var suggestFlags struct {
	window     time.Duration
	minActions int
	minActors  int
	muteLabel  string
	jsonOut    string
}

var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Propose rules from repeated manual actions in the audit history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		b, err := openBackends(ctx)
		if err != nil {
			return err
		}
		defer b.Close()

		svc := newInspectService(b, nil)
		rep, err := svc.Suggest(ctx, inspect.SuggestOptions{
			Window:     firstPositiveDuration(suggestFlags.window, cfg.Suggest.Window),
			MinActions: firstPositive(suggestFlags.minActions, cfg.Suggest.MinActions),
			MinActors:  firstPositive(suggestFlags.minActors, cfg.Suggest.MinActors),
			MuteLabel:  firstNonEmpty(suggestFlags.muteLabel, cfg.Suggest.MuteLabel),
		})
		if err != nil {
			return err
		}
		if err := inspect.PrintSuggestions(rep, cmd.OutOrStdout()); err != nil {
			return err
		}
		if suggestFlags.jsonOut != "" {
			if err := inspect.WriteJSON(rep, suggestFlags.jsonOut); err != nil {
				return fmt.Errorf("write json: %w", err)
			}
		}
		return nil
	},
}

func init() {
	f := inspectCmd.Flags()
	f.IntVar(&inspectFlags.sample, "sample", inspect.DefaultSampleSize, "messages to sample for hit counts")
	f.IntVar(&inspectFlags.hitSamples, "hit-samples", inspect.DefaultHitSamples, "example messages kept per rule")
	f.StringVar(&inspectFlags.query, "query", inspect.DefaultQuery, "Gmail query for the sample")
	f.DurationVar(&inspectFlags.window, "window", 0, "only sample mail newer than this")
	f.BoolVar(&inspectFlags.static, "static", false, "skip sampling; report static findings only")
	f.StringVar(&inspectFlags.failOn, "fail-on", "", "comma separated: conflict, ambiguous, broad, inactive")
	f.StringVar(&inspectFlags.jsonOut, "json", "", "write JSON report to path")

	s := suggestCmd.Flags()
	s.DurationVar(&suggestFlags.window, "window", 0, "how far back to read history (default from config)")
	s.IntVar(&suggestFlags.minActions, "min-actions", 0, "manual actions needed per proposal (default from config)")
	s.IntVar(&suggestFlags.minActors, "min-actors", 0, "distinct operators needed per proposal (default from config)")
	s.StringVar(&suggestFlags.muteLabel, "mute-label", "", "label proposed for muted senders (default from config)")
	s.StringVar(&suggestFlags.jsonOut, "json", "", "write JSON report to path")

	rootCmd.AddCommand(inspectCmd, suggestCmd)
}

func firstPositiveDuration(values ...time.Duration) time.Duration {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
