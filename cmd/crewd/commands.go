package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/crewd/internal/config"
	crewhttp "github.com/fyrsmithlabs/crewd/internal/http"
	"github.com/fyrsmithlabs/crewd/internal/poller"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCmd() *cobra.Command {
	var issue int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process a single issue and exit",
		Example: `  # Plan, run and verify issue #42
  crewd run --issue 42`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if issue <= 0 {
				return fmt.Errorf("--issue must be a positive issue number, got %d", issue)
			}
			return runOnce(cmd.Context(), cmd, issue)
		},
	}
	cmd.Flags().IntVar(&issue, "issue", 0, "issue number to process")
	_ = cmd.MarkFlagRequired("issue")
	return cmd
}

func runOnce(ctx context.Context, cmd *cobra.Command, issue int) error {
	cfg, logger, err := loadConfig(config.ModeRun)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := a.runner.ProcessIssue(ctx, issue)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Issue #%d processed in %s (team: %v)\n",
		out.Issue, out.Duration.Round(time.Millisecond), out.Team)
	if len(out.Missing) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Compensated for missing comments: %v\n", out.Missing)
	}
	return nil
}

func newWatchCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll for labelled issues and process them",
		Long: `Poll the repository for open issues carrying the trigger label, process
each one and swap the trigger label for the done label.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(config.ModeWatch)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			p := a.poller()
			if once {
				res, err := p.Scan(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "found=%d processed=%d failed=%d skipped=%d quota_hit=%t\n",
					res.Found, res.Processed, res.Failed, res.Skipped, res.QuotaHit)
				return nil
			}
			return ignoreCanceled(p.Run(cmd.Context()))
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single scan and exit")
	return cmd
}

func newServeCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the status dashboard and API",
		Long: `Serve the status dashboard, GET /api/status, POST /api/run and
POST /api/usage/reset. With --watch the poller runs alongside the server.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), watch)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "also poll for labelled issues")
	return cmd
}

func serve(ctx context.Context, watch bool) error {
	cfg, logger, err := loadConfig(config.ModeServe)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	logger = a.logger

	srv, err := crewhttp.NewServer(a.store, a.ledger, logger, cfg.Dashboard, crewhttp.WithRunner(a.runner))
	if err != nil {
		return fmt.Errorf("failed to create dashboard server: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info(ctx, "dashboard listening", zap.String("addr", cfg.Dashboard.Addr()))
		errCh <- srv.Start()
	}()
	if watch {
		p := a.poller()
		go func() {
			errCh <- ignoreCanceled(p.Run(ctx))
		}()
	}

	select {
	case <-ctx.Done():
	case err = <-errCh:
		if err != nil {
			logger.Error(ctx, "component stopped", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Dashboard.ShutdownTimeout.Duration())
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn(shutdownCtx, "dashboard shutdown", zap.Error(serr))
	}
	logger.Info(shutdownCtx, "server shutdown complete")
	return err
}

// poller builds the watch loop over the app's runner.
func (a *app) poller() *poller.Poller {
	return poller.New(a.tracker, a.runner, a.ledger, poller.Config{
		Interval:     a.cfg.Poll.Interval.Duration(),
		TriggerLabel: a.cfg.Labels.Trigger,
		DoneLabel:    a.cfg.Labels.Done,
	}, a.logger)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
