package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fyrsmithlabs/crewd/internal/config"
	"golang.org/x/time/rate"
)

// MaxDiscordMessage is Discord's per-message content limit.
const MaxDiscordMessage = 2000

// ErrNoChannel is returned when neither the call nor the config names a channel.
var ErrNoChannel = errors.New("discord channel not configured")

// Discord posts messages through the Discord bot REST API.
type Discord struct {
	baseURL    string
	token      config.Secret
	channelID  string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ Notifier = (*Discord)(nil)

// NewDiscord returns a client for cfg, or nil when no bot token is configured.
func NewDiscord(cfg config.DiscordConfig) *Discord {
	if !cfg.BotToken.IsSet() {
		return nil
	}
	base := cfg.APIURL
	if base == "" {
		base = "https://discord.com/api/v10"
	}
	return &Discord{
		baseURL:    strings.TrimSuffix(base, "/"),
		token:      cfg.BotToken,
		channelID:  cfg.ChannelID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		// Discord allows 5 messages per 5s per channel.
		limiter: rate.NewLimiter(rate.Limit(1), 5),
	}
}

// Notify posts text to the configured channel.
func (d *Discord) Notify(ctx context.Context, text string) error {
	return d.Send(ctx, "", text)
}

// Send posts content to channelID, or to the configured channel when empty.
// Content longer than MaxDiscordMessage is truncated.
func (d *Discord) Send(ctx context.Context, channelID, content string) error {
	if channelID == "" {
		channelID = d.channelID
	}
	if channelID == "" {
		return ErrNoChannel
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(map[string]string{"content": truncate(content, MaxDiscordMessage)})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	url := fmt.Sprintf("%s/channels/%s/messages", d.baseURL, channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+d.token.Value())
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("discord request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord API status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
