package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/playbook/internal/service"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		q       service.HistoryQuery
		analyze bool
		wipe    bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Query, analyze or clear execution history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if analyze && wipe {
				return fmt.Errorf("--analyze and --clear are mutually exclusive")
			}
			return withApp(cmd.Context(), opts, false, func(a *app) error {
				ctx := cmd.Context()
				switch {
				case wipe:
					n, err := a.svc.ClearHistory(ctx, q.WorkflowName)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Removed %d execution records\n", n)
					return nil
				case analyze:
					summary, err := a.svc.AnalyzeHistory(ctx, q)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), summary)
				}

				res, err := a.svc.History(ctx, q)
				if err != nil {
					return err
				}
				if q.IncludeDetails {
					return printJSON(cmd.OutOrStdout(), res)
				}
				if res.Count == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No executions found.")
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "STARTED\tWORKFLOW\tSTATUS\tSTEPS\tDURATION")
				for _, e := range res.Executions {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
						e.Timestamp.Local().Format(time.DateTime), e.WorkflowName, e.Status, e.StepsRun,
						(time.Duration(e.DurationMs) * time.Millisecond).String())
				}
				return tw.Flush()
			})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&q.WorkflowName, "workflow", "w", "", "restrict to one workflow")
	f.StringVar(&q.Window, "window", "", "time window: hour, day, week, month, all")
	f.StringVar(&q.Outcome, "outcome", "", "outcome filter: all, success, failed, partial")
	f.StringVar(&q.Where, "where", "", "CEL predicate over record")
	f.IntVarP(&q.Limit, "limit", "n", 0, "max records (default 50)")
	f.BoolVar(&q.IncludeDetails, "details", false, "print full records as JSON")
	f.BoolVar(&analyze, "analyze", false, "print aggregate statistics")
	f.BoolVar(&wipe, "clear", false, "delete matching history (all of it without --workflow)")
	return cmd
}

func newSuggestCmd(opts *rootOptions) *cobra.Command {
	var (
		window   string
		minOcc   int
		patterns bool
	)
	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Suggest automations from execution patterns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, false, func(a *app) error {
				ctx := cmd.Context()
				suggestions, err := a.svc.Suggestions(ctx, window, minOcc)
				if err != nil {
					return err
				}
				if patterns {
					p, err := a.svc.Patterns(ctx, window)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), map[string]any{
						"suggestions": suggestions,
						"patterns":    p,
					})
				}
				if len(suggestions) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No suggestions yet.")
					return nil
				}
				for _, s := range suggestions {
					fmt.Fprintf(cmd.OutOrStdout(), "[%s/%s] %s\n", s.Type, s.Priority, s.Text)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&window, "window", "week", "time window: hour, day, week, month, all")
	cmd.Flags().IntVar(&minOcc, "min", 0, "minimum occurrences (default 3)")
	cmd.Flags().BoolVar(&patterns, "patterns", false, "also print the mined patterns as JSON")
	return cmd
}
