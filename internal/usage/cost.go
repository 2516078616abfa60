package usage

import "strings"

// price is USD per million tokens.
type price struct {
	input, output float64
}

var prices = map[string]price{
	"gpt-4o":    {input: 2.50, output: 10.00},
	"claude":    {input: 3.00, output: 15.00},
	"anthropic": {input: 3.00, output: 15.00},
}

// EstimateCost prices c with the table for model. Unknown models use gpt-4o.
func EstimateCost(model string, c Counters) float64 {
	p, ok := prices[strings.ToLower(model)]
	if !ok {
		for name, candidate := range prices {
			if strings.Contains(strings.ToLower(model), name) {
				p, ok = candidate, true
				break
			}
		}
	}
	if !ok {
		p = prices["gpt-4o"]
	}
	return (float64(c.InputTokens)*p.input + float64(c.OutputTokens)*p.output) / 1_000_000
}
