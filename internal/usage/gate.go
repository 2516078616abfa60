package usage

import (
	"context"

	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
)

// ApproxTokens estimates the token count of text without a tokenizer.
func ApproxTokens(text string) int64 {
	return int64(len(text)*4) / 3
}

// BeforeCall is the hook run before every model invocation. It refuses the
// call with ErrLimitExceeded while over limit; otherwise it counts the call and
// the approximate input tokens of prompts.
func (l *Ledger) BeforeCall(ctx context.Context, prompts ...string) error {
	var tokens int64
	for _, p := range prompts {
		tokens += ApproxTokens(p)
	}
	admitted, err := l.addIfUnder(ctx, tokens, 0, 1)
	if !admitted {
		return ErrLimitExceeded
	}
	if err != nil {
		// The call was counted in memory; a disk hiccup must not stop the run.
		l.logger.Warn(ctx, "persisting usage failed", zap.Error(err))
	}
	return nil
}

// AfterCall records completion tokens reported by the provider.
func (l *Ledger) AfterCall(ctx context.Context, outputTokens int64) {
	if outputTokens <= 0 {
		return
	}
	if err := l.Add(ctx, 0, outputTokens, 0); err != nil {
		l.logger.Warn(ctx, "persisting usage failed", zap.Error(err))
	}
}

// CallbackHandler adapts the ledger to langchaingo's callback interface so the
// model client reports completion tokens after each generation.
func (l *Ledger) CallbackHandler() callbacks.Handler {
	return &callbackHandler{ledger: l}
}

type callbackHandler struct {
	callbacks.SimpleHandler
	ledger *Ledger
}

var _ callbacks.Handler = (*callbackHandler)(nil)

func (h *callbackHandler) HandleLLMGenerateContentEnd(ctx context.Context, res *llms.ContentResponse) {
	if res == nil {
		return
	}
	var out int64
	for _, choice := range res.Choices {
		if choice == nil {
			continue
		}
		out += intFromInfo(choice.GenerationInfo, "CompletionTokens")
	}
	h.ledger.AfterCall(ctx, out)
}

func intFromInfo(info map[string]any, key string) int64 {
	switch v := info[key].(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}
