// Package config provides configuration loading for crewd.
//
// Configuration comes from an optional YAML file overridden by environment
// variables. Every section maps to one environment prefix, for example
// GITHUB_TOKEN, USAGE_LIMIT_TOKENS or DASHBOARD_PORT.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Mode selects which parts of the configuration must be present.
type Mode string

const (
	// ModeRun processes a single issue and exits.
	ModeRun Mode = "run"
	// ModeWatch polls the tracker for labelled issues.
	ModeWatch Mode = "watch"
	// ModeServe runs the dashboard API, optionally with the poller.
	ModeServe Mode = "serve"
)

// Config holds the complete crewd configuration.
type Config struct {
	GitHub    GitHubConfig    `koanf:"github"`
	Labels    LabelsConfig    `koanf:"labels"`
	Usage     UsageConfig     `koanf:"usage"`
	OpenAI    OpenAIConfig    `koanf:"openai"`
	LLM       LLMConfig       `koanf:"llm"`
	Poll      PollConfig      `koanf:"poll"`
	Run       RunConfig       `koanf:"run"`
	Dashboard DashboardConfig `koanf:"dashboard"`
	Discord   DiscordConfig   `koanf:"discord"`
	Vercel    VercelConfig    `koanf:"vercel"`
	NATS      NATSConfig      `koanf:"nats"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// GitHubConfig holds issue tracker access.
type GitHubConfig struct {
	Token      Secret `koanf:"token"`
	Repo       string `koanf:"repo"` // owner/name
	BaseBranch string `koanf:"base_branch"`
	APIURL     string `koanf:"api_url"` // GitHub Enterprise only
}

// Owner returns the owner part of Repo.
func (g GitHubConfig) Owner() string {
	owner, _, _ := strings.Cut(g.Repo, "/")
	return owner
}

// Name returns the repository part of Repo.
func (g GitHubConfig) Name() string {
	_, name, _ := strings.Cut(g.Repo, "/")
	return name
}

// LabelsConfig names the labels that drive the poller.
type LabelsConfig struct {
	Trigger  string `koanf:"trigger"`
	Done     string `koanf:"done"`
	Followup string `koanf:"followup"`
}

// UsageConfig holds the usage ledger location and limits. Zero disables a limit.
type UsageConfig struct {
	Path        string `koanf:"path"`
	LimitTokens int64  `koanf:"limit_tokens"`
	LimitCalls  int64  `koanf:"limit_calls"`
}

// OpenAIConfig configures the chat model backing every agent.
type OpenAIConfig struct {
	APIKey        Secret `koanf:"api_key"`
	BaseURL       string `koanf:"base_url"`
	ModelStrong   string `koanf:"model_strong"`
	ModelFast     string `koanf:"model_fast"`
	ModelReason   string `koanf:"model_reason"`
	MaxIterations int    `koanf:"max_iterations"`
}

// LLMConfig holds provider independent LLM settings.
type LLMConfig struct {
	CostModel string `koanf:"cost_model"`
}

// PollConfig configures the watch loop.
type PollConfig struct {
	Interval Duration `koanf:"interval"`
}

// RunConfig bounds the planning and execution phases.
type RunConfig struct {
	PlanTimeout Duration `koanf:"plan_timeout"`
	ExecTimeout Duration `koanf:"exec_timeout"`
}

// DashboardConfig configures the status API.
type DashboardConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	RateLimit       float64  `koanf:"rate_limit"` // requests per second per client on mutating routes
	RateBurst       int      `koanf:"rate_burst"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Addr returns host:port.
func (d DashboardConfig) Addr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// DiscordConfig enables the Discord notifier and agent tool when BotToken is set.
type DiscordConfig struct {
	BotToken  Secret `koanf:"bot_token"`
	ChannelID string `koanf:"channel_id"`
	APIURL    string `koanf:"api_url"`
}

// VercelConfig enables the deployment tools when Token is set.
type VercelConfig struct {
	Token  Secret `koanf:"token"`
	TeamID string `koanf:"team_id"`
	APIURL string `koanf:"api_url"`
}

// NATSConfig enables run lifecycle events when URL is set.
type NATSConfig struct {
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"` // grpc or http/protobuf
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// LoggingConfig is the subset of logging settings exposed to operators.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Validate checks the settings every mode needs, then the ones mode needs.
func (c *Config) Validate(mode Mode) error {
	if c.Usage.LimitTokens < 0 || c.Usage.LimitCalls < 0 {
		return errors.New("usage limits must not be negative")
	}
	if c.Run.PlanTimeout <= 0 || c.Run.ExecTimeout <= 0 {
		return errors.New("run timeouts must be positive")
	}
	if c.Poll.Interval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.Labels.Trigger == "" || c.Labels.Done == "" {
		return errors.New("trigger and done labels are required")
	}
	if c.Labels.Trigger == c.Labels.Done {
		return fmt.Errorf("trigger and done labels must differ, both are %q", c.Labels.Trigger)
	}

	switch mode {
	case ModeRun, ModeWatch:
		if err := c.validateWorker(); err != nil {
			return fmt.Errorf("%s mode: %w", mode, err)
		}
	case ModeServe:
		if c.Dashboard.Port < 1 || c.Dashboard.Port > 65535 {
			return fmt.Errorf("invalid dashboard port: %d (must be 1-65535)", c.Dashboard.Port)
		}
		// serve triggers runs, so it needs the same credentials as a worker
		if err := c.validateWorker(); err != nil {
			return fmt.Errorf("serve mode: %w", err)
		}
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
	return nil
}

func (c *Config) validateWorker() error {
	if c.GitHub.Repo == "" {
		return errors.New("GITHUB_REPO is required (owner/name)")
	}
	if c.GitHub.Owner() == "" || c.GitHub.Name() == "" || strings.Count(c.GitHub.Repo, "/") != 1 {
		return fmt.Errorf("GITHUB_REPO must look like owner/name, got %q", c.GitHub.Repo)
	}
	if !c.GitHub.Token.IsSet() {
		return errors.New("GITHUB_TOKEN is required")
	}
	if !c.OpenAI.APIKey.IsSet() {
		return errors.New("OPENAI_API_KEY is required")
	}
	if c.Discord.BotToken.IsSet() && c.Discord.ChannelID == "" {
		return errors.New("DISCORD_CHANNEL_ID is required when DISCORD_BOT_TOKEN is set")
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.GitHub.BaseBranch == "" {
		cfg.GitHub.BaseBranch = "main"
	}

	if cfg.Labels.Trigger == "" {
		cfg.Labels.Trigger = "agent-todo"
	}
	if cfg.Labels.Done == "" {
		cfg.Labels.Done = "agent-done"
	}
	if cfg.Labels.Followup == "" {
		cfg.Labels.Followup = "agent-followup"
	}

	if cfg.Usage.Path == "" {
		cfg.Usage.Path = ".agent_usage.json"
	}

	if cfg.OpenAI.ModelStrong == "" {
		cfg.OpenAI.ModelStrong = "gpt-4o"
	}
	if cfg.OpenAI.ModelFast == "" {
		cfg.OpenAI.ModelFast = "gpt-4o-mini"
	}
	if cfg.OpenAI.ModelReason == "" {
		cfg.OpenAI.ModelReason = "gpt-4o"
	}
	if cfg.OpenAI.MaxIterations == 0 {
		cfg.OpenAI.MaxIterations = 5
	}
	if cfg.LLM.CostModel == "" {
		cfg.LLM.CostModel = "gpt-4o"
	}

	if cfg.Poll.Interval == 0 {
		cfg.Poll.Interval = Duration(300 * time.Second)
	}
	if cfg.Run.PlanTimeout == 0 {
		cfg.Run.PlanTimeout = Duration(600 * time.Second)
	}
	if cfg.Run.ExecTimeout == 0 {
		cfg.Run.ExecTimeout = Duration(600 * time.Second)
	}

	if cfg.Dashboard.Host == "" {
		cfg.Dashboard.Host = "127.0.0.1"
	}
	if cfg.Dashboard.Port == 0 {
		cfg.Dashboard.Port = 8765
	}
	if cfg.Dashboard.RateLimit == 0 {
		cfg.Dashboard.RateLimit = 1
	}
	if cfg.Dashboard.RateBurst == 0 {
		cfg.Dashboard.RateBurst = 5
	}
	if cfg.Dashboard.ShutdownTimeout == 0 {
		cfg.Dashboard.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Discord.APIURL == "" {
		cfg.Discord.APIURL = "https://discord.com/api/v10"
	}
	if cfg.Vercel.APIURL == "" {
		cfg.Vercel.APIURL = "https://api.vercel.com"
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = "crewd.runs"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "crewd"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
