package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "playbook",
		Short: "Workflow automation over skills",
		Long: `Playbook stores named multi-step workflows, runs them against skills
(built-in system actions and MCP servers mounted as skill namespaces),
records every run and suggests automations from the history.

Examples:
  playbook define -f morning.yaml
  playbook run morning_routine --var city=Lisbon
  playbook history --window day --where 'record.duration_ms > 1000'
  playbook suggest --window week
  playbook serve`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default: ./config.yaml or ~/.playbook/config.yaml)")

	root.AddCommand(
		newServeCmd(opts),
		newDefineCmd(opts),
		newRunCmd(opts),
		newListCmd(opts),
		newDeleteCmd(opts),
		newHistoryCmd(opts),
		newSuggestCmd(opts),
		newTemplatesCmd(opts),
		newScheduleCmd(opts),
		newVersionCmd(),
	)
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseVars turns key=value pairs into variables. Values are read as YAML
// scalars, so numbers and booleans keep their type.
func parseVars(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vars := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, raw, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --var %q, want key=value", p)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil || v == nil {
			v = raw
		}
		vars[k] = v
	}
	return vars, nil
}
