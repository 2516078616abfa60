package crew

import (
	"fmt"

	"github.com/fyrsmithlabs/crewd/internal/config"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// NewOpenAIModels builds one chat client per tier. handler, when non-nil,
// receives generation callbacks (token accounting).
func NewOpenAIModels(cfg config.OpenAIConfig, handler callbacks.Handler) (map[Tier]llms.Model, error) {
	tiers := map[Tier]string{
		TierStrong: cfg.ModelStrong,
		TierFast:   cfg.ModelFast,
		TierReason: cfg.ModelReason,
	}

	models := make(map[Tier]llms.Model, len(tiers))
	for tier, name := range tiers {
		if name == "" {
			continue
		}
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey.Value()),
			openai.WithModel(name),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		if handler != nil {
			opts = append(opts, openai.WithCallback(handler))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating %s model %q: %w", tier, name, err)
		}
		models[tier] = llm
	}
	return models, nil
}
