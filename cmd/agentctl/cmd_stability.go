package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/antoine1anthony/sprout-ci/internal/metrics"
	"github.com/antoine1anthony/sprout-ci/internal/observability"
	"github.com/antoine1anthony/sprout-ci/internal/stability"
	"github.com/spf13/cobra"
)

type stabilityOptions struct {
	file       string
	prometheus string
	namespace  string
	deployment string
	baseline   time.Duration
	live       time.Duration
	step       time.Duration
	asJSON     bool
}

// windowsFile is the --file input: two pre-fetched windows.
type windowsFile struct {
	Deployment string           `json:"deployment"`
	Baseline   stability.Window `json:"baseline"`
	Live       stability.Window `json:"live"`
}

func newStabilityCmd() *cobra.Command {
	opts := &stabilityOptions{}
	cmd := &cobra.Command{
		Use:   "stability",
		Short: "Score a deployment's live window against its baseline",
		Long: `Score a deployment locally, either from a JSON file holding both windows
or by querying Prometheus directly. Nothing is sent to the agent.`,
		Example: `  agentctl stability --file windows.json
  agentctl stability --prometheus http://prometheus:9090 -n shop --deployment checkout --live 15m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			deployment, baseline, live, err := loadWindows(cmd, opts)
			if err != nil {
				return err
			}
			report, err := stability.Evaluate(deployment, baseline, live, stability.DefaultConfig())
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), report, opts.asJSON)
		},
	}
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "JSON file with deployment, baseline and live windows")
	cmd.Flags().StringVar(&opts.prometheus, "prometheus", "", "Prometheus base URL")
	cmd.Flags().StringVarP(&opts.namespace, "namespace", "n", "default", "Kubernetes namespace")
	cmd.Flags().StringVar(&opts.deployment, "deployment", "", "Deployment name")
	cmd.Flags().DurationVar(&opts.baseline, "baseline", time.Hour, "Baseline window length")
	cmd.Flags().DurationVar(&opts.live, "live", 15*time.Minute, "Live window length")
	cmd.Flags().DurationVar(&opts.step, "step", 30*time.Second, "Query resolution")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print the full report as JSON")
	cmd.MarkFlagsMutuallyExclusive("file", "prometheus")
	return cmd
}

func loadWindows(cmd *cobra.Command, opts *stabilityOptions) (string, stability.Window, stability.Window, error) {
	var none stability.Window
	if opts.file != "" {
		raw, err := os.ReadFile(opts.file)
		if err != nil {
			return "", none, none, err
		}
		var wf windowsFile
		if err := json.Unmarshal(raw, &wf); err != nil {
			return "", none, none, fmt.Errorf("parse %s: %w", opts.file, err)
		}
		if wf.Deployment == "" {
			wf.Deployment = opts.deployment
		}
		return wf.Deployment, wf.Baseline, wf.Live, nil
	}

	if opts.prometheus == "" || opts.deployment == "" {
		return "", none, none, errors.New("either --file, or --prometheus with --deployment, is required")
	}
	backend, err := metrics.NewPrometheus(opts.prometheus, nil, 0, observability.Component("agentctl"))
	if err != nil {
		return "", none, none, err
	}
	target := metrics.Target{Namespace: opts.namespace, Deployment: opts.deployment}
	liveEnd := time.Now().UTC().Truncate(time.Second)
	liveStart := liveEnd.Add(-opts.live)

	baseline, err := metrics.FetchWindow(cmd.Context(), backend, target, liveStart.Add(-opts.baseline), liveStart, opts.step)
	if err != nil {
		return "", none, none, err
	}
	live, err := metrics.FetchWindow(cmd.Context(), backend, target, liveStart, liveEnd, opts.step)
	if err != nil {
		return "", none, none, err
	}
	return target.String(), baseline, live, nil
}

func printReport(out io.Writer, report *stability.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	fmt.Fprintf(out, "%s  score %d  %s\n", report.Deployment, report.Score, verdictStyle(report.Verdict).Render(report.Verdict))
	fmt.Fprintln(out, report.Summary)
	for _, note := range report.Excluded {
		fmt.Fprintln(out, dimStyle.Render("excluded: "+note))
	}
	return nil
}
