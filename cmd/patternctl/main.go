// Package main implements patternctl, the operator CLI for a patternd server.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	httpapi "github.com/fyrsmithlabs/patternd/internal/http"
	"github.com/fyrsmithlabs/patternd/internal/monitor"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// options are the persistent flags shared by every command.
type options struct {
	serverURL string
	timeout   time.Duration
	jsonOut   bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "patternctl",
		Short: "CLI for patternd server operations",
		Long: `patternctl inspects and operates a running patternd server: stored patterns,
the confidence threshold, recovery strategy rankings and pruning.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.serverURL, "server", "http://127.0.0.1:9191", "patternd server URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print raw JSON responses")

	root.AddCommand(
		newHealthCmd(opts),
		newStatusCmd(opts),
		newWatchCmd(opts),
		newFingerprintCmd(),
		newDecideCmd(opts),
		newPatternsCmd(opts),
		newThresholdCmd(opts),
		newStrategiesCmd(opts),
		newPruneCmd(opts),
	)
	return root
}

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check patternd server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp httpapi.HealthResponse
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/health", nil, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Server Status: %s\n", resp.Status)
			return nil
		},
	}
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pattern counts, threshold and the last prune",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var s httpapi.StatusResponse
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/api/v1/status", nil, &s); err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), s)
			}

			w := newTable(cmd.OutOrStdout())
			fmt.Fprintf(w, "Status:\t%s\n", s.Status)
			if s.Version != "" {
				fmt.Fprintf(w, "Version:\t%s\n", s.Version)
			}
			fmt.Fprintf(w, "Patterns:\t%s\n", monitor.FormatCount(s.Patterns))
			fmt.Fprintf(w, "Indexed:\t%s\n", monitor.FormatCount(s.Indexed))
			fmt.Fprintf(w, "Threshold:\t%s\n", monitor.FormatThreshold(s.Threshold))
			fmt.Fprintf(w, "Decisions:\t%d hits, %d misses (%s)\n",
				s.Decisions.Hits, s.Decisions.Misses,
				monitor.FormatPercentage(monitor.HitRate(s.Decisions.Hits, s.Decisions.Misses)))
			if s.Scheduler != nil {
				fmt.Fprintf(w, "Scheduler:\trunning=%t\n", s.Scheduler.Running)
			}
			if lp := s.LastPrune; lp != nil {
				fmt.Fprintf(w, "Last prune:\t%s (pruned %d, remaining %d)\n",
					lp.StartedAt.Format(time.RFC3339), lp.Pruned, lp.Remaining)
				if lp.Error != "" {
					fmt.Fprintf(w, "Last prune error:\t%s\n", lp.Error)
				}
			}
			return w.Flush()
		},
	}
}

func newWatchCmd(opts *options) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live dashboard of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := tea.NewProgram(monitor.NewModel(opts.serverURL, interval), tea.WithAltScreen())
			_, err := p.Run()
			return err
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "refresh interval")
	return cmd
}

// apiClient talks JSON to the patternd HTTP API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func (o *options) client() *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(o.serverURL, "/"),
		http:    &http.Client{Timeout: o.timeout},
	}
}

// do sends body as JSON and decodes a 2xx response into out. Error responses
// are reported with the server's message.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		r = bytes.NewReader(b)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		var apiErr struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(b, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("server returned status %d: %s", resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
