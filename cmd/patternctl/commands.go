package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/patternd/internal/fingerprint"
	httpapi "github.com/fyrsmithlabs/patternd/internal/http"
	"github.com/fyrsmithlabs/patternd/internal/monitor"
	"github.com/fyrsmithlabs/patternd/internal/pruner"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func newFingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint <url>",
		Short: "Print the site fingerprint of a URL",
		Long: `Print the site fingerprint of a URL. Volatile path segments (ids, hashes,
dates) become "*" so pages built from the same template share a fingerprint.
Runs locally; no server is needed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fp, err := fingerprint.FromURL(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), fp)
			return nil
		},
	}
}

func newDecideCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "decide <url> <target>",
		Short: "Show the cache decision for a URL and target without executing it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp httpapi.DecideResponse
			req := httpapi.DecideRequest{URL: args[0], Target: args[1]}
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/api/v1/decide", req, &resp); err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), resp)
			}

			d := resp.Decision
			w := newTable(cmd.OutOrStdout())
			fmt.Fprintf(w, "Fingerprint:\t%s\n", resp.Fingerprint)
			fmt.Fprintf(w, "Threshold:\t%s\n", monitor.FormatThreshold(d.Threshold))
			if d.Hit {
				fmt.Fprintf(w, "Decision:\thit\n")
			} else {
				fmt.Fprintf(w, "Decision:\tmiss (%s)\n", d.Reason)
			}
			fmt.Fprintf(w, "Candidates:\t%d considered, %d below fitness floor\n", d.Considered, d.Discarded)
			if err := w.Flush(); err != nil {
				return err
			}

			if len(d.Ranked) == 0 {
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout())
			w = newTable(cmd.OutOrStdout())
			fmt.Fprintln(w, "ID\tSIMILARITY\tFITNESS\tCOMPOSITE\tAPPROACH\tINSTRUCTION")
			for _, s := range d.Ranked {
				fmt.Fprintf(w, "%s\t%.3f\t%.3f\t%.3f\t%s\t%s\n",
					s.Pattern.ID, s.Similarity, s.Fitness, s.Composite, s.Pattern.Approach, s.Pattern.Instruction)
			}
			return w.Flush()
		},
	}
}

func newPatternsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Inspect, add and delete stored patterns",
	}

	var limit, offset int
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored patterns with their fitness, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("limit", strconv.Itoa(limit))
			q.Set("offset", strconv.Itoa(offset))

			var resp httpapi.PatternListResponse
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/api/v1/patterns?"+q.Encode(), nil, &resp); err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), resp)
			}

			w := newTable(cmd.OutOrStdout())
			fmt.Fprintln(w, "ID\tFINGERPRINT\tTARGET\tAPPROACH\tSUCCESS\tFAILURE\tFITNESS")
			for _, p := range resp.Patterns {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%.3f\n",
					p.ID, p.Fingerprint, p.Target, p.Approach, p.SuccessCount, p.FailureCount, p.Fitness)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nShowing %d of %d (offset %d)\n", len(resp.Patterns), resp.Total, resp.Offset)
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "maximum patterns to list")
	list.Flags().IntVar(&offset, "offset", 0, "patterns to skip")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p httpapi.PatternView
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/api/v1/patterns/"+url.PathEscape(args[0]), nil, &p); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().do(cmd.Context(), http.MethodDelete, "/api/v1/patterns/"+url.PathEscape(args[0]), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}

	var approach, technique string
	add := &cobra.Command{
		Use:   "add <url> <target> <instruction>",
		Short: "Store a learned pattern",
		Long: `Store a pattern learned by an executor. Credentials found in the
instruction are redacted before it is saved.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp httpapi.CreatePatternResponse
			req := httpapi.CreatePatternRequest{
				URL:         args[0],
				Target:      args[1],
				Instruction: args[2],
				Approach:    approach,
				Technique:   technique,
			}
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/api/v1/patterns", req, &resp); err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s for %s\n", resp.ID, resp.Fingerprint)
			if len(resp.Redacted) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Redacted: %s\n", strings.Join(resp.Redacted, ", "))
			}
			return nil
		},
	}
	add.Flags().StringVar(&approach, "approach", "extract", "extract, act-extract or agent")
	add.Flags().StringVar(&technique, "technique", "", "recovery technique that produced the instruction")

	cmd.AddCommand(list, get, add, del)
	return cmd
}

func newThresholdCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threshold",
		Short: "Read or adjust the confidence threshold",
	}

	get := &cobra.Command{
		Use:   "get",
		Short: "Print the current threshold",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp httpapi.ThresholdResponse
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/api/v1/threshold", nil, &resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), monitor.FormatThreshold(resp.Threshold))
			return nil
		},
	}

	var success, failure bool
	adjust := &cobra.Command{
		Use:   "adjust --success|--failure",
		Short: "Apply one outcome to the threshold",
		Long: `Apply one outcome to the threshold. A success lowers it by a small step,
a failure raises it by a larger one; it never leaves its bounds.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if success == failure {
				return fmt.Errorf("exactly one of --success or --failure is required")
			}
			var resp httpapi.ThresholdResponse
			req := httpapi.OutcomeRequest{Success: httpapi.Outcome(success)}
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/api/v1/threshold/adjust", req, &resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), monitor.FormatThreshold(resp.Threshold))
			return nil
		},
	}
	adjust.Flags().BoolVar(&success, "success", false, "record a successful cached attempt")
	adjust.Flags().BoolVar(&failure, "failure", false, "record a failed cached attempt")

	cmd.AddCommand(get, adjust)
	return cmd
}

func newStrategiesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "strategies <url>",
		Short: "Show recovery techniques in the order they would be tried for a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp httpapi.StrategiesResponse
			path := "/api/v1/strategies?url=" + url.QueryEscape(args[0])
			if err := opts.client().do(cmd.Context(), http.MethodGet, path, nil, &resp); err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), resp)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Fingerprint: %s\n\n", resp.Fingerprint)
			w := newTable(cmd.OutOrStdout())
			fmt.Fprintln(w, "#\tTECHNIQUE\tATTEMPTS\tSUCCESS RATE\tAVG DURATION")
			for i, r := range resp.Ranking {
				if !r.Known {
					fmt.Fprintf(w, "%d\t%s\t-\t-\t-\n", i+1, r.Technique)
					continue
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%.0fms\n",
					i+1, r.Technique, r.Stat.Attempts,
					monitor.FormatPercentage(r.Stat.SuccessRate()), r.Stat.AvgDurationMs)
			}
			return w.Flush()
		},
	}
}

func newPruneCmd(opts *options) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Run a pruning pass now",
		Long: `Run a pruning pass now. Patterns whose fitness has fallen below the cutoff
and that have failed enough times are deleted. With --dry-run nothing is
deleted and the candidates are listed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var report pruner.Report
			req := httpapi.PruneRequest{DryRun: dryRun}
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/api/v1/prune", req, &report); err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), report)
			}

			verb := "Pruned"
			if report.DryRun {
				verb = "Would prune"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d of %d patterns (%d remaining, %d failed deletes, %d stale stats swept)\n",
				verb, report.Pruned, report.Scanned, report.Remaining, report.Failed, report.StatsSwept)
			if len(report.Removed) == 0 {
				return nil
			}

			w := newTable(cmd.OutOrStdout())
			fmt.Fprintln(w, "ID\tFINGERPRINT\tTARGET\tFITNESS\tFAILURES")
			for _, r := range report.Removed {
				fmt.Fprintf(w, "%s\t%s\t%s\t%.3f\t%d\n", r.ID, r.Fingerprint, r.Target, r.Fitness, r.FailureCount)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be pruned without deleting")
	return cmd
}
