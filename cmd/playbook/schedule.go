package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/playbook/internal/service"
)

func newScheduleCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage cron schedules (runs happen while `playbook serve` is up)",
	}

	var (
		vars    []string
		maxRuns int
	)
	create := &cobra.Command{
		Use:   "create WORKFLOW CRON",
		Short: "Schedule a stored workflow",
		Example: `  playbook schedule create morning_routine "0 9 * * 1-5"
  playbook schedule create backup @daily --max-runs 7`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			variables, err := parseVars(vars)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, false, func(a *app) error {
				job, err := a.svc.Schedule(cmd.Context(), service.ScheduleRequest{
					WorkflowName:   args[0],
					CronExpression: args[1],
					Variables:      variables,
					MaxRuns:        maxRuns,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Scheduled %s (job %s), next run %s\n",
					job.WorkflowName, job.ID, formatTime(job.NextRunAt))
				return nil
			})
		},
	}
	create.Flags().StringArrayVar(&vars, "var", nil, "variable passed to every run, key=value (repeatable)")
	create.Flags().IntVar(&maxRuns, "max-runs", 0, "disable after this many runs (0: unlimited)")

	var workflow string
	list := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, false, func(a *app) error {
				jobs, err := a.svc.ListSchedules(cmd.Context(), workflow)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No schedules.")
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tWORKFLOW\tCRON\tENABLED\tRUNS\tLAST\tNEXT")
				for _, j := range jobs {
					runs := fmt.Sprint(j.RunCount)
					if j.MaxRuns > 0 {
						runs = fmt.Sprintf("%d/%d", j.RunCount, j.MaxRuns)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\t%s\n", j.ID, j.WorkflowName, j.CronExpression,
						j.Enabled, runs, j.LastRunStatus, formatTime(j.NextRunAt))
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().StringVarP(&workflow, "workflow", "w", "", "restrict to one workflow")

	del := &cobra.Command{
		Use:   "delete JOB_ID",
		Short: "Delete a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, false, func(a *app) error {
				if err := a.svc.Unschedule(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Schedule %s deleted\n", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(create, list, del)
	return cmd
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
