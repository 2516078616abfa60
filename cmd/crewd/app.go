package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/crewd/internal/agents"
	"github.com/fyrsmithlabs/crewd/internal/config"
	"github.com/fyrsmithlabs/crewd/internal/crew"
	"github.com/fyrsmithlabs/crewd/internal/deploy"
	"github.com/fyrsmithlabs/crewd/internal/logging"
	"github.com/fyrsmithlabs/crewd/internal/notify"
	"github.com/fyrsmithlabs/crewd/internal/orchestrator"
	"github.com/fyrsmithlabs/crewd/internal/runstate"
	"github.com/fyrsmithlabs/crewd/internal/secrets"
	"github.com/fyrsmithlabs/crewd/internal/telemetry"
	"github.com/fyrsmithlabs/crewd/internal/toolkit"
	"github.com/fyrsmithlabs/crewd/internal/tracker"
	"github.com/fyrsmithlabs/crewd/internal/usage"
	"go.uber.org/zap"
)

// shutdownGrace bounds flushing telemetry and draining NATS on exit.
const shutdownGrace = 10 * time.Second

// app holds every long-lived component of one crewd process.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	publisher *notify.NATSPublisher
	tracker   *tracker.GitHub
	ledger    *usage.Ledger
	store     *runstate.Store
	runner    *orchestrator.Runner
}

// newApp wires the tracker, engine, roster and orchestrator from cfg.
//
// Optional integrations (Discord, Vercel, NATS, telemetry) are enabled by
// their configuration and degrade to no-ops when absent.
func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	tel, err := telemetry.New(ctx, cfg.Telemetry, version, logger)
	if err != nil {
		return nil, err
	}
	a.telemetry = tel
	logger = logger.WithOTEL(cfg.Telemetry.ServiceName, tel.LoggerProvider())
	a.logger = logger

	scrubCfg := secrets.DefaultConfig()
	scrubCfg.Literals = credentials(cfg)
	scrubber, err := secrets.New(scrubCfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to build secret scrubber: %w", err)
	}

	// A nil *Discord must not end up inside the Notifier interface.
	var notifier notify.Notifier = notify.Nop{}
	discord := notify.NewDiscord(cfg.Discord)
	if discord != nil {
		notifier = discord
	}

	var publisher notify.Publisher = notify.NopPublisher{}
	if cfg.NATS.URL != "" {
		pub, err := notify.ConnectNATS(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}
		a.publisher = pub
		publisher = pub
		logger.Info(ctx, "connected to NATS",
			zap.String("url", cfg.NATS.URL),
			zap.String("subject", cfg.NATS.Subject))
	}

	ledger, err := usage.Open(cfg.Usage.Path,
		usage.Limits{Tokens: cfg.Usage.LimitTokens, Calls: cfg.Usage.LimitCalls},
		usage.WithNotifier(notifier),
		usage.WithLogger(logger.Named("usage")),
		usage.WithCostModel(cfg.LLM.CostModel),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open usage ledger: %w", err)
	}
	a.ledger = ledger

	client, err := tracker.NewClient(ctx, cfg.GitHub)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create GitHub client: %w", err)
	}
	a.tracker = tracker.NewGitHub(client, cfg.GitHub.Owner(), cfg.GitHub.Name(),
		tracker.WithRetry(tracker.DefaultRetryConfig()),
		tracker.WithLogger(logger.Named("tracker")),
	)

	tools := toolkit.New(a.tracker, toolkit.Options{
		BaseBranch:    cfg.GitHub.BaseBranch,
		TriggerLabel:  cfg.Labels.Trigger,
		FollowupLabel: cfg.Labels.Followup,
		Scrubber:      scrubber,
		Discord:       discord,
		Vercel:        deploy.NewVercel(cfg.Vercel),
	})

	models, err := crew.NewOpenAIModels(cfg.OpenAI, ledger.CallbackHandler())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create chat models: %w", err)
	}
	engine, err := crew.NewLangchainEngine(models, tools,
		crew.WithGate(ledger),
		crew.WithMaxIterations(cfg.OpenAI.MaxIterations),
		crew.WithLogger(logger.Named("engine")),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create agent engine: %w", err)
	}

	registry, err := agents.Load(agents.Settings{
		BaseBranch:    cfg.GitHub.BaseBranch,
		FollowupLabel: cfg.Labels.Followup,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load agent roster: %w", err)
	}

	a.store = runstate.New()
	runner, err := orchestrator.NewRunner(orchestrator.Config{
		Tracker:   a.tracker,
		Store:     a.store,
		Registry:  registry,
		Planner:   orchestrator.NewPlanner(engine, registry, cfg.Run.PlanTimeout.Duration(), logger),
		Executor:  orchestrator.NewExecutor(engine, registry, cfg.Run.ExecTimeout.Duration(), logger),
		Verifier:  orchestrator.NewVerifier(a.tracker, scrubber, logger),
		Quota:     ledger,
		Notifier:  notifier,
		Publisher: publisher,
		Scrubber:  scrubber,
		Logger:    logger,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}
	a.runner = runner

	logger.Info(ctx, "components initialized",
		zap.Int("tools", len(tools)),
		zap.Int("agents", len(registry.Roster())),
		zap.Bool("discord", discord != nil),
		zap.Bool("nats", a.publisher != nil),
		zap.Bool("telemetry", tel.IsEnabled()))
	return a, nil
}

// credentials returns the configured secret values so the scrubber redacts
// them verbatim wherever they appear.
func credentials(cfg *config.Config) []string {
	var out []string
	for _, s := range []config.Secret{
		cfg.GitHub.Token,
		cfg.OpenAI.APIKey,
		cfg.Discord.BotToken,
		cfg.Vercel.Token,
	} {
		if s.IsSet() {
			out = append(out, s.Value())
		}
	}
	return out
}

// Close waits for background runs, then releases NATS and telemetry.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	var errs []error
	if a.runner != nil {
		if err := a.runner.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("runner shutdown: %w", err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("nats close: %w", err))
		}
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn(ctx, "shutdown incomplete", zap.Error(err))
	}
	_ = a.logger.Sync() // Best-effort sync on shutdown
}
