package crew

import (
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/tools"
)

// Tool is a langchaingo tool that also declares its JSON argument schema so
// models can call it natively.
type Tool interface {
	tools.Tool
	Parameters() map[string]any
}

// definition converts t to the wire form passed with every model call.
func definition(t Tool) llms.Tool {
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}
