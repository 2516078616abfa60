package crew

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// Kind tags what a model's final turn actually contained.
type Kind int

const (
	// Empty means the run produced nothing, e.g. no tasks were scheduled.
	Empty Kind = iota
	// Text is a realized answer.
	Text
	// ToolCallEcho means the final turn was a tool call that never ran.
	ToolCallEcho
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case ToolCallEcho:
		return "tool_call_echo"
	default:
		return "empty"
	}
}

// ToolCallRef names an unexecuted call.
type ToolCallRef struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// Result is the tagged outcome of a step or pipeline.
type Result struct {
	Kind  Kind
	Text  string
	Calls []ToolCallRef
}

// TextResult wraps s, or returns an Empty result for blank text.
func TextResult(s string) Result {
	if strings.TrimSpace(s) == "" {
		return Result{Kind: Empty}
	}
	return Result{Kind: Text, Text: s}
}

// String renders the result for logs and comments.
func (r Result) String() string {
	switch r.Kind {
	case Text:
		return r.Text
	case ToolCallEcho:
		names := make([]string, len(r.Calls))
		for i, c := range r.Calls {
			names[i] = c.Name
		}
		return fmt.Sprintf("unexecuted tool call(s): %s", strings.Join(names, ", "))
	default:
		return ""
	}
}

// Classify turns a model's final choice into a tagged Result. Native tool
// calls win; otherwise text that is nothing but a serialized call descriptor
// is also treated as an echo.
func Classify(choice *llms.ContentChoice) Result {
	if choice == nil {
		return Result{Kind: Empty}
	}
	if len(choice.ToolCalls) > 0 {
		return Result{Kind: ToolCallEcho, Calls: refsFromCalls(choice.ToolCalls)}
	}
	return ClassifyText(choice.Content)
}

// ClassifyText recognizes tool-call descriptors serialized as JSON text.
func ClassifyText(s string) Result {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Result{Kind: Empty}
	}
	if calls, ok := parseCallDescriptor(trimmed); ok {
		return Result{Kind: ToolCallEcho, Calls: calls}
	}
	return Result{Kind: Text, Text: s}
}

func refsFromCalls(calls []llms.ToolCall) []ToolCallRef {
	refs := make([]ToolCallRef, 0, len(calls))
	for _, c := range calls {
		if c.FunctionCall == nil {
			continue
		}
		refs = append(refs, ToolCallRef{Name: c.FunctionCall.Name, Arguments: c.FunctionCall.Arguments})
	}
	return refs
}

// descriptor covers the shapes providers use when a call leaks into text:
// {"name":..,"arguments":..}, {"function":{"name":..}} and {"tool_calls":[..]}.
type descriptor struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Function  *struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
	ToolCalls []descriptor `json:"tool_calls"`
}

func (d descriptor) refs() []ToolCallRef {
	switch {
	case len(d.ToolCalls) > 0:
		var out []ToolCallRef
		for _, c := range d.ToolCalls {
			out = append(out, c.refs()...)
		}
		return out
	case d.Function != nil && d.Function.Name != "":
		return []ToolCallRef{{Name: d.Function.Name, Arguments: rawString(d.Function.Arguments)}}
	case d.Name != "" && len(d.Arguments) > 0:
		return []ToolCallRef{{Name: d.Name, Arguments: rawString(d.Arguments)}}
	default:
		return nil
	}
}

func parseCallDescriptor(s string) ([]ToolCallRef, bool) {
	switch s[0] {
	case '[':
		var list []descriptor
		if err := json.Unmarshal([]byte(s), &list); err != nil || len(list) == 0 {
			return nil, false
		}
		var refs []ToolCallRef
		for _, d := range list {
			r := d.refs()
			if len(r) == 0 {
				return nil, false
			}
			refs = append(refs, r...)
		}
		return refs, true
	case '{':
		var d descriptor
		if err := json.Unmarshal([]byte(s), &d); err != nil {
			return nil, false
		}
		refs := d.refs()
		return refs, len(refs) > 0
	default:
		return nil, false
	}
}

func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
