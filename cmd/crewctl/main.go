// Package main implements crewctl, the operator CLI for a running crewd
// dashboard.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fyrsmithlabs/crewd/internal/monitor"
	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL of the crewd dashboard
	serverURL string
	// timeout bounds every API call
	timeout time.Duration
	// asJSON prints raw API replies
	asJSON bool
	// version information
	version = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "crewctl",
		Short: "CLI for crewd dashboard operations",
		Long: `crewctl talks to the crewd dashboard API. It shows run status, starts runs,
resets the usage ledger and opens a live terminal view.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8765", "crewd dashboard URL")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "API request timeout")
	root.PersistentFlags().BoolVar(&asJSON, "json", false, "print raw JSON replies")

	usageCmd := &cobra.Command{Use: "usage", Short: "Usage ledger operations"}
	usageCmd.AddCommand(newUsageResetCmd())

	root.AddCommand(newStatusCmd(), newTriggerCmd(), newHealthCmd(), usageCmd, newTopCmd())
	return root
}

func client() *monitor.Client {
	return monitor.NewClient(serverURL, timeout)
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check crewd dashboard health",
		Example: `  # Check health on a different server
  crewctl health --server http://localhost:9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			health, err := client().Health(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), health)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Server Status: %s\n", health.Status)
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current run, agents and usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := client().Status(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), status)
			}
			printStatus(cmd.OutOrStdout(), status, time.Now())
			return nil
		},
	}
}

func newTriggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <issue>",
		Short: "Start a run for an issue",
		Example: `  # Process issue #42 now
  crewctl trigger 42`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			issue, err := strconv.Atoi(args[0])
			if err != nil || issue <= 0 {
				return fmt.Errorf("invalid issue number %q", args[0])
			}
			resp, err := client().Trigger(cmd.Context(), issue)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Run started for issue #%d\n", resp.Issue)
			return nil
		},
	}
}

func newUsageResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Zero the usage counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := client().ResetUsage(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Usage reset: %s tokens, %d calls\n",
				monitor.FormatLimit(resp.Usage.TotalTokens, resp.Usage.Limits.Tokens), resp.Usage.Calls)
			return nil
		},
	}
}

func newTopCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "top",
		Short: "Live view of runs, agents and usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := tea.NewProgram(monitor.NewModel(client(), interval),
				tea.WithAltScreen(),
				tea.WithContext(cmd.Context()))
			_, err := p.Run()
			return err
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "refresh interval")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
