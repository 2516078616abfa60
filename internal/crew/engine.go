package crew

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/crewd/internal/logging"
	"github.com/fyrsmithlabs/crewd/internal/metrics"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
)

const defaultMaxIterations = 5

// maxToolOutput bounds what a single tool result feeds back into the prompt.
const maxToolOutput = 12000

// Gate is consulted before every model call.
type Gate interface {
	BeforeCall(ctx context.Context, prompts ...string) error
}

// EngineOption configures a LangchainEngine.
type EngineOption func(*LangchainEngine)

// WithGate installs a pre-call gate, typically the usage ledger.
func WithGate(g Gate) EngineOption {
	return func(e *LangchainEngine) { e.gate = g }
}

// WithMaxIterations bounds model turns per step.
func WithMaxIterations(n int) EngineOption {
	return func(e *LangchainEngine) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) EngineOption {
	return func(e *LangchainEngine) { e.logger = l }
}

// LangchainEngine runs steps as a tool-calling loop over langchaingo models.
type LangchainEngine struct {
	models        map[Tier]llms.Model
	tools         map[string]Tool
	gate          Gate
	maxIterations int
	logger        *logging.Logger
	metrics       *metrics.Metrics
}

var _ Engine = (*LangchainEngine)(nil)

// NewLangchainEngine builds an engine. models must contain TierStrong, which
// also serves tiers that are not configured.
func NewLangchainEngine(models map[Tier]llms.Model, toolset []Tool, opts ...EngineOption) (*LangchainEngine, error) {
	if models[TierStrong] == nil {
		return nil, errors.New("crew: a strong tier model is required")
	}
	e := &LangchainEngine{
		models:        models,
		tools:         make(map[string]Tool, len(toolset)),
		maxIterations: defaultMaxIterations,
		logger:        logging.Nop(),
		metrics:       metrics.Get(),
	}
	for _, t := range toolset {
		e.tools[t.Name()] = t
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Kickoff runs steps in order and returns the last step's result.
func (e *LangchainEngine) Kickoff(ctx context.Context, steps []Step, onStep StepFunc) (Result, error) {
	var (
		last  = Result{Kind: Empty}
		prior []string
	)
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		stepCtx := logging.WithAgent(ctx, step.Agent.ID)
		res, err := e.runStep(stepCtx, step, prior)
		if err != nil {
			return last, fmt.Errorf("step %d (%s): %w", i, step.Agent.ID, err)
		}
		e.logger.Info(stepCtx, "step finished", zap.Int("step", i), zap.Stringer("kind", res.Kind))
		if onStep != nil {
			onStep(i, res)
		}
		prior = append(prior, fmt.Sprintf("%s:\n%s", step.Agent.Role, res.String()))
		last = res
	}
	return last, nil
}

func (e *LangchainEngine) runStep(ctx context.Context, step Step, prior []string) (Result, error) {
	model := e.models[step.Agent.Tier]
	if model == nil {
		model = e.models[TierStrong]
	}

	toolset, defs := e.resolveTools(ctx, step.Agent.Tools)
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt(step.Agent)),
		llms.TextParts(llms.ChatMessageTypeHuman, taskPrompt(step.Task, prior)),
	}

	var callOpts []llms.CallOption
	if len(defs) > 0 {
		callOpts = append(callOpts, llms.WithTools(defs))
	}

	for iter := 0; iter < e.maxIterations; iter++ {
		if e.gate != nil {
			if err := e.gate.BeforeCall(ctx, messageTexts(messages)...); err != nil {
				return Result{}, err
			}
		}

		resp, err := model.GenerateContent(ctx, messages, callOpts...)
		if err != nil {
			e.metrics.LLMCalls.WithLabelValues(string(step.Agent.Tier), "error").Inc()
			return Result{}, fmt.Errorf("model call: %w", err)
		}
		e.metrics.LLMCalls.WithLabelValues(string(step.Agent.Tier), "ok").Inc()
		if len(resp.Choices) == 0 {
			return Result{Kind: Empty}, nil
		}
		choice := resp.Choices[0]
		if len(choice.ToolCalls) == 0 {
			return Classify(choice), nil
		}
		// Out of turns: the requested calls will never run.
		if iter == e.maxIterations-1 {
			e.logger.Warn(ctx, "iterations exhausted with pending tool calls",
				zap.Int("max_iterations", e.maxIterations))
			return Classify(choice), nil
		}

		assistant := llms.MessageContent{Role: llms.ChatMessageTypeAI}
		for _, call := range choice.ToolCalls {
			assistant.Parts = append(assistant.Parts, call)
		}
		messages = append(messages, assistant)

		for _, call := range choice.ToolCalls {
			messages = append(messages, llms.MessageContent{
				Role:  llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{e.invoke(ctx, toolset, call)},
			})
		}
	}
	return Result{Kind: Empty}, nil
}

// invoke runs one call. Tool failures go back to the model as text so it can
// recover; they never abort the step.
func (e *LangchainEngine) invoke(ctx context.Context, toolset map[string]Tool, call llms.ToolCall) llms.ToolCallResponse {
	resp := llms.ToolCallResponse{ToolCallID: call.ID}
	if call.FunctionCall == nil {
		resp.Content = "error: malformed tool call"
		return resp
	}
	resp.Name = call.FunctionCall.Name

	tool, ok := toolset[call.FunctionCall.Name]
	if !ok {
		e.metrics.ToolCalls.WithLabelValues(call.FunctionCall.Name, "unknown").Inc()
		resp.Content = fmt.Sprintf("error: tool %q is not available to this agent", call.FunctionCall.Name)
		return resp
	}

	e.logger.Debug(ctx, "tool call", zap.String("tool", tool.Name()))
	e.logger.Trace(ctx, "tool input", zap.String("tool", tool.Name()), zap.String("input", call.FunctionCall.Arguments))
	out, err := tool.Call(ctx, call.FunctionCall.Arguments)
	if err != nil {
		e.metrics.ToolCalls.WithLabelValues(tool.Name(), "error").Inc()
		e.logger.Warn(ctx, "tool call failed", zap.String("tool", tool.Name()), zap.Error(err))
		resp.Content = "error: " + err.Error()
		return resp
	}
	e.metrics.ToolCalls.WithLabelValues(tool.Name(), "ok").Inc()
	resp.Content = truncateRunes(out, maxToolOutput)
	return resp
}

func (e *LangchainEngine) resolveTools(ctx context.Context, names []string) (map[string]Tool, []llms.Tool) {
	set := make(map[string]Tool, len(names))
	defs := make([]llms.Tool, 0, len(names))
	for _, name := range names {
		t, ok := e.tools[name]
		if !ok {
			// Optional integrations (deploy, chat) are absent without credentials.
			e.logger.Debug(ctx, "tool not configured, skipping", zap.String("tool", name))
			continue
		}
		set[name] = t
		defs = append(defs, definition(t))
	}
	return set, defs
}

func systemPrompt(a Agent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.\n\nGoal: %s\n", a.Role, a.Goal)
	if a.Backstory != "" {
		fmt.Fprintf(&b, "\n%s\n", strings.TrimSpace(a.Backstory))
	}
	return b.String()
}

func taskPrompt(t Task, prior []string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(t.Description))
	if t.ExpectedOutput != "" {
		fmt.Fprintf(&b, "\n\nExpected output:\n%s", strings.TrimSpace(t.ExpectedOutput))
	}
	if len(prior) > 0 {
		b.WriteString("\n\nContext from earlier steps:\n")
		b.WriteString(strings.Join(prior, "\n\n"))
	}
	return b.String()
}

func messageTexts(messages []llms.MessageContent) []string {
	var out []string
	for _, m := range messages {
		for _, p := range m.Parts {
			switch part := p.(type) {
			case llms.TextContent:
				out = append(out, part.Text)
			case llms.ToolCallResponse:
				out = append(out, part.Content)
			case llms.ToolCall:
				if part.FunctionCall != nil {
					out = append(out, part.FunctionCall.Arguments)
				}
			}
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "\n[truncated]"
}
