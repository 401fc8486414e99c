package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/triage/internal/inspect"
	"github.com/joshsymonds/triage/internal/metrics"
	"github.com/joshsymonds/triage/internal/runtime"
	"github.com/joshsymonds/triage/internal/sweep"
)

var sweepFlags struct {
	dryRun        bool
	actor         string
	maxTotal      int
	maxPerRule    int
	pauseWeekends bool
	exclude       string
	window        time.Duration
	loop          bool
	every         time.Duration
	metricsAddr   string
	jsonOut       string
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run every enabled rule against the inbox",
	Long: `sweep builds one Gmail query per enabled rule and applies the rules to what
it finds, bounded by a per-rule and a total cap. With --loop it repeats on
an interval until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	f := sweepCmd.Flags()
	f.BoolVar(&sweepFlags.dryRun, "dry-run", false, "log only; skip modifications")
	f.StringVar(&sweepFlags.actor, "actor", os.Getenv("TRIAGE_ACTOR"), "operator address, used by assign-to-self rules")
	f.IntVar(&sweepFlags.maxTotal, "max-total", 0, "messages per sweep (default from config)")
	f.IntVar(&sweepFlags.maxPerRule, "max-per-rule", 0, "messages per rule (default from config)")
	f.BoolVar(&sweepFlags.pauseWeekends, "pause-weekends", false, "skip runs on Saturday/Sunday")
	f.StringVar(&sweepFlags.exclude, "exclude-labels", "", "comma separated labels to leave alone")
	f.DurationVar(&sweepFlags.window, "window", 0, "only look at mail newer than this")
	f.BoolVar(&sweepFlags.loop, "loop", false, "keep sweeping on an interval")
	f.DurationVar(&sweepFlags.every, "every", 0, "loop interval (default from config)")
	f.StringVar(&sweepFlags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (default from config)")
	f.StringVar(&sweepFlags.jsonOut, "json", "", "write the last result as JSON to path")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	b, err := openBackends(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	scope := runtime.ScopeModify
	if sweepFlags.dryRun {
		scope = runtime.ScopeReadonly
	}
	gs, err := openGmail(ctx, b, scope)
	if err != nil {
		return err
	}
	defer gs.Close()

	addr := firstNonEmpty(sweepFlags.metricsAddr, cfg.Metrics.Addr)
	if addr != "" {
		stop := serveMetrics(ctx, addr)
		defer stop()
	}

	svc := sweep.NewService(newTriageService(b, gs.mailbox), gs.mailbox, logger)
	spec := sweep.Spec{
		MaxTotal:      firstPositive(sweepFlags.maxTotal, cfg.Sweep.MaxTotal),
		MaxPerRule:    firstPositive(sweepFlags.maxPerRule, cfg.Sweep.MaxPerRule),
		DryRun:        sweepFlags.dryRun,
		Actor:         sweepFlags.actor,
		PauseWeekends: sweepFlags.pauseWeekends,
		ExcludeLabels: splitList(sweepFlags.exclude),
		Window:        sweepFlags.window,
	}

	report := func(res sweep.Result) {
		if err := printSweep(cmd.OutOrStdout(), res); err != nil {
			logger.WarnContext(ctx, "print sweep result", slog.String("error", err.Error()))
		}
		if sweepFlags.jsonOut == "" {
			return
		}
		if err := inspect.WriteJSON(res, sweepFlags.jsonOut); err != nil {
			logger.WarnContext(ctx, "write sweep json", slog.String("error", err.Error()))
		}
	}

	if sweepFlags.loop {
		every := sweepFlags.every
		if every <= 0 {
			every = cfg.Sweep.Every
		}
		return svc.Loop(ctx, every, spec, report)
	}

	res, err := svc.Run(ctx, spec)
	if err != nil {
		return fmt.Errorf("run sweep: %w", err)
	}
	report(res)
	return nil
}

// serveMetrics exposes /metrics until ctx ends. The returned func waits for
// the server to shut down.
func serveMetrics(ctx context.Context, addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.InfoContext(ctx, "serving metrics", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "metrics server", slog.String("error", err.Error()))
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-done
	}
}

func printSweep(w io.Writer, res sweep.Result) error {
	var builder strings.Builder
	mode := "sweep"
	if res.DryRun {
		mode = "sweep (dry run)"
	}
	if res.Paused {
		fmt.Fprintf(&builder, "%s paused for the weekend\n", mode)
	} else {
		fmt.Fprintf(&builder, "%s: %d processed, %d applied, %d failed\n",
			mode, res.Processed, len(res.Response.Applied), len(res.Response.Failed))
	}
	if res.Truncated {
		builder.WriteString("total cap reached; remaining rules were not swept\n")
	}
	for _, r := range res.Rules {
		line := fmt.Sprintf("  %-10s %-24s fetched=%d applied=%d skipped=%d failed=%d",
			r.Family, r.RuleID, r.Fetched, r.Applied, r.Skipped, r.Failed)
		if r.Capped {
			line += " capped"
		}
		if r.Error != "" {
			line += " error=" + r.Error
		}
		builder.WriteString(line + "\n")
	}
	if _, err := io.WriteString(w, builder.String()); err != nil {
		return fmt.Errorf("write sweep result: %w", err)
	}
	return nil
}

func splitList(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
