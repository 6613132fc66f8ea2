package main

import (
	"fmt"

	"github.com/antoine1anthony/sprout-ci/internal/workflow"
	"github.com/spf13/cobra"
)

func newTemplateCmd() *cobra.Command {
	var p workflow.Params
	cmd := &cobra.Command{
		Use:     "template",
		Short:   "Print a CI WorkflowTemplate without contacting the agent",
		Example: `  agentctl template --language go --language node --coverage 85 --severity critical`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tmpl, err := workflow.Generate(p)
			if err != nil {
				return err
			}
			manifest, err := workflow.Render(tmpl)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), manifest)
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&p.Languages, "language", "l", nil, fmt.Sprintf("Languages to build %v", workflow.Languages()))
	cmd.Flags().IntVar(&p.CoverageThreshold, "coverage", 80, "Minimum line coverage percentage")
	cmd.Flags().StringVar(&p.SeverityFailLevel, "severity", "high", "Lowest vulnerability severity that fails the scan")
	cmd.Flags().StringVar(&p.Name, "name", "", "Template name")
	_ = cmd.MarkFlagRequired("language")
	return cmd
}
