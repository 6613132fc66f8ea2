// Command agentctl talks to a running sprout agent and runs the offline
// helpers (workflow templates, stability scoring) locally.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	server  string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "agentctl",
		Short:         "Drive the sprout CI/CD agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultServer := os.Getenv("SPROUT_URL")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}
	root.PersistentFlags().StringVarP(&opts.server, "server", "s", defaultServer, "Agent base URL (or set SPROUT_URL)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Minute, "Request timeout")

	root.AddCommand(
		newChatCmd(opts),
		newToolsCmd(opts),
		newTemplateCmd(),
		newStabilityCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}
