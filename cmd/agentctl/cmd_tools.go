package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func newToolsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools the agent advertises",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAgentClient(root.server, root.timeout)
			list, err := client.Tools(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, t := range list {
				params := make([]string, 0, len(t.Function.Parameters.Properties))
				for name := range t.Function.Parameters.Properties {
					params = append(params, name)
				}
				sort.Strings(params)
				fmt.Fprintf(out, "%s(%s)\n  %s\n", agentStyle.Render(t.Function.Name), strings.Join(params, ", "), dimStyle.Render(t.Function.Description))
			}
			return nil
		},
	}
}
