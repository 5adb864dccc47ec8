package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"sentinel/internal/app"
	"sentinel/internal/domain"
	"sentinel/internal/render"
)

var (
	days      int
	topN      int
	format    string
	outPath   string
	procFreq  string
	statusMax int
)

func addReportCommands(root *cobra.Command) {
	analyzeCmd := &cobra.Command{
		Use:   "analyze <repo>",
		Short: "Build an ad hoc report for the last N days",
		Long:  `Analyze fetches recent activity and renders a report without touching any subscription.`,
		Args:  cobra.ExactArgs(1),
		RunE:  runAnalyze,
	}
	analyzeCmd.Flags().IntVarP(&days, "days", "d", 7, "window length in days")
	analyzeCmd.Flags().IntVar(&topN, "top", 0, "items per section (0 uses the default)")
	analyzeCmd.Flags().StringVar(&format, "format", "md", "md, html, json or xlsx")
	analyzeCmd.Flags().StringVarP(&outPath, "out", "o", "", "write to file instead of stdout")
	analyzeCmd.Flags().StringSliceVar(&events, "events", nil, "event kinds to include (default all)")

	processCmd := &cobra.Command{
		Use:   "process",
		Short: "Run due subscriptions of one cadence now",
		Args:  cobra.NoArgs,
		RunE:  runProcess,
	}
	processCmd.Flags().StringVarP(&procFreq, "frequency", "f", "daily", "daily, weekly or monthly")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show subscription counts and recent cycles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				st, err := a.Status(ctx, statusMax)
				if err != nil {
					return err
				}
				printStatus(st)
				return nil
			})
		},
	}
	statusCmd.Flags().IntVarP(&statusMax, "limit", "n", 20, "recent cycles to show")

	root.AddCommand(analyzeCmd, processCmd, statusCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	f, ok := render.ParseFormat(format)
	if !ok {
		return fmt.Errorf("unknown format %q (want md, html, json or xlsx)", format)
	}
	if f == render.FormatXLSX && outPath == "" {
		return fmt.Errorf("xlsx output needs --out")
	}
	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		bar := newSpinner("Fetching activity")
		r, err := a.Analyze(ctx, app.AnalyzeRequest{Repo: args[0], Days: days, Events: events, TopN: topN})
		finishBar(bar)
		if err != nil {
			return err
		}

		var out []byte
		switch f {
		case render.FormatHTML:
			s, err := render.HTML(&r)
			if err != nil {
				return err
			}
			out = []byte(s)
		case render.FormatJSON:
			if out, err = render.JSON(&r); err != nil {
				return err
			}
		case render.FormatXLSX:
			if out, err = render.XLSX(&r); err != nil {
				return err
			}
		default:
			out = []byte(render.Markdown(&r))
		}

		if outPath == "" {
			_, err = os.Stdout.Write(out)
			return err
		}
		if err := os.WriteFile(outPath, out, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "%s: %d events -> %s\n", r.Title(), r.Total(), outPath)
		return nil
	})
}

func runProcess(cmd *cobra.Command, _ []string) error {
	freq, err := domain.ParseFrequency(procFreq)
	if err != nil {
		return err
	}
	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		bar := newBar(-1, "Processing "+string(freq))
		res, err := a.Process(ctx, freq, func(done, total int) {
			if done == 0 {
				bar.ChangeMax(total)
			}
			_ = bar.Set(done)
		})
		finishBar(bar)
		if err != nil {
			return err
		}
		fmt.Printf("due %d, started %d, skipped in flight %d, skipped by breaker %d\n",
			res.Due, len(res.Started), len(res.SkippedInFlight), len(res.SkippedBreaker))
		// Pending deliveries finish when the app stops.
		return nil
	})
}

func printStatus(st app.Status) {
	if st.NextTick != nil {
		fmt.Println("next tick:", st.NextTick.UTC().Format("2006-01-02 15:04:05Z"))
	}
	statuses := make([]string, 0, len(st.Subscriptions))
	for s := range st.Subscriptions {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	parts := make([]string, len(statuses))
	for i, s := range statuses {
		parts[i] = fmt.Sprintf("%s=%d", s, st.Subscriptions[domain.Status(s)])
	}
	fmt.Println("subscriptions:", strings.Join(parts, " "))

	b, err := json.MarshalIndent(st.Cycles, "", "  ")
	if err == nil {
		fmt.Printf("recent cycles:\n%s\n", b)
	}
}
