package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pyxis/internal/config"
	"pyxis/internal/ingest"
	"pyxis/internal/merge"
)

type ruleView struct {
	Attribute string `json:"attribute"`
	Method    string `json:"method"`
	Round     string `json:"round"`
}

func rulesFromConfig(cfg *config.Config) (*merge.RuleSet, error) {
	rules, err := ingest.RulesFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("merge rules: %w", err)
	}
	return rules, nil
}

func newRulesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List the configured merge rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			rules, err := rulesFromConfig(cfg)
			if err != nil {
				return err
			}
			views := make([]ruleView, 0, rules.Len())
			for _, rule := range rules.Rules() {
				views = append(views, ruleView{Attribute: rule.Attribute, Method: rule.Method.String(), Round: rule.Round.String()})
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, views)
			}
			rows := make([][]string, 0, len(views))
			for _, v := range views {
				rows = append(rows, []string{v.Attribute, v.Method, v.Round})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(out, []string{"Attribute", "Method", "Round"}, rows, nil))
			opts := rules.Options()
			fmt.Fprintf(out, "Weight attribute: %s\n", opts.WeightAttribute)
			if opts.CurrentYear > 0 {
				fmt.Fprintf(out, "Reference year: %d\n", opts.CurrentYear)
			}
			return nil
		},
	}
}
