package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/playbook/internal/service"
	"github.com/rendis/playbook/internal/store"
	"github.com/rendis/playbook/internal/templates"
)

func newDefineCmd(opts *rootOptions) *cobra.Command {
	var (
		file string
		name string
	)
	cmd := &cobra.Command{
		Use:   "define -f FILE",
		Short: "Define or replace a workflow from a YAML or JSON file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			wf, err := templates.DecodeYAML(data)
			if err != nil {
				return err
			}
			if name != "" {
				wf.Name = name
			}
			return withApp(cmd.Context(), opts, false, func(a *app) error {
				res, err := a.svc.Define(cmd.Context(), wf)
				if err != nil {
					return err
				}
				verb := "updated"
				if res.Created {
					verb = "created"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Workflow %q %s (version %d, %d steps)\n",
					res.Workflow.Name, verb, res.Workflow.Version, len(res.Workflow.Steps))
				for _, w := range res.Warnings {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s: %s\n", w.Path, w.Message)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "workflow definition file")
	cmd.Flags().StringVar(&name, "name", "", "override the workflow name")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		vars            []string
		dryRun          bool
		continueOnError bool
		parallel        bool
		timeout         time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run NAME",
		Short: "Run a stored workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			variables, err := parseVars(vars)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, true, func(a *app) error {
				resp, err := a.svc.Run(cmd.Context(), service.RunRequest{
					WorkflowName:    args[0],
					Variables:       variables,
					DryRun:          dryRun,
					ContinueOnError: continueOnError,
					Parallel:        parallel,
					Timeout:         timeout,
				})
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), resp); err != nil {
					return err
				}
				if !resp.Success {
					return fmt.Errorf("%s", resp.Message)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&vars, "var", nil, "variable override key=value (repeatable)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview interpolated steps without running them")
	cmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "keep going after a failed step")
	cmd.Flags().BoolVar(&parallel, "parallel", false, "run all steps concurrently")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "run timeout (default: run_timeout)")
	return cmd
}

func newListCmd(opts *rootOptions) *cobra.Command {
	var filter store.WorkflowFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, false, func(a *app) error {
				wfs, err := a.svc.ListWorkflows(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if len(wfs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No workflows defined.")
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tVERSION\tSTEPS\tCATEGORY\tUPDATED")
				for _, wf := range wfs {
					fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", wf.Name, wf.Version, len(wf.Steps), wf.Category,
						wf.UpdatedAt.Local().Format(time.DateTime))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&filter.Category, "category", "", "filter by category")
	cmd.Flags().StringVar(&filter.Tag, "tag", "", "filter by tag")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 0, "max results")
	return cmd
}

func newDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a stored workflow (its history is kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, false, func(a *app) error {
				if err := a.svc.DeleteWorkflow(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Workflow %q deleted\n", args[0])
				return nil
			})
		},
	}
}
