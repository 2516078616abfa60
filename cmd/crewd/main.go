// Package main implements the crewd daemon: it processes labelled GitHub
// issues with a planned team of LLM agents and serves the status dashboard.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fyrsmithlabs/crewd/internal/config"
	"github.com/fyrsmithlabs/crewd/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// configPath is the optional YAML config file.
var configPath string

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "crewd",
		Short: "Agent team orchestrator for GitHub issues",
		Long: `crewd hands GitHub issues to a team of LLM agents.

A planning agent picks the team for each issue, the team runs as a sequential
pipeline, and crewd checks that every agent left its comment on the issue.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/crewd/config.yaml)")

	root.AddCommand(newRunCmd(), newWatchCmd(), newServeCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd)
		},
	}
}

// printVersion prints version information
func printVersion(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "crewd by Fyrsmith Labs\n")
	fmt.Fprintf(out, "Version:    %s\n", version)
	fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(out, "Build Date: %s\n", buildDate)
}

// loadConfig reads and validates the configuration for mode and builds the
// logger every command shares.
func loadConfig(mode config.Mode) (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(mode); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid logging configuration: %w", err)
	}
	logCfg.Fields["version"] = version
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info(context.Background(), "starting crewd",
		zap.String("mode", string(mode)),
		zap.String("repo", cfg.GitHub.Repo),
		zap.String("commit", gitCommit))
	return cfg, logger, nil
}
