package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newTemplatesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Browse and install built-in workflow templates",
	}

	var category string
	list := &cobra.Command{
		Use:   "list",
		Short: "List built-in templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, false, func(a *app) error {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tCATEGORY\tSTEPS\tDESCRIPTION")
				for _, t := range a.svc.ListTemplates(category) {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", t.ID, t.Category, t.Steps, t.Description)
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().StringVar(&category, "category", "", "filter by category")

	show := &cobra.Command{
		Use:   "show ID",
		Short: "Print a template definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, false, func(a *app) error {
				wf, err := a.svc.GetTemplate(args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), wf)
			})
		},
	}

	var (
		name string
		vars []string
	)
	install := &cobra.Command{
		Use:   "install ID",
		Short: "Install a template as a stored workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := parseVars(vars)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, false, func(a *app) error {
				res, err := a.svc.InstallTemplate(cmd.Context(), args[0], name, overrides)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Installed %q as workflow %q (version %d)\n",
					args[0], res.Workflow.Name, res.Workflow.Version)
				return nil
			})
		},
	}
	install.Flags().StringVar(&name, "name", "", "workflow name (default: template id)")
	install.Flags().StringArrayVar(&vars, "var", nil, "variable override key=value (repeatable)")

	cmd.AddCommand(list, show, install)
	return cmd
}
