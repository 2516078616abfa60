package secrets

import (
	"slices"
	"strings"
)

// Scrubber detects and redacts secrets from content.
type Scrubber interface {
	// Scrub redacts secrets from content.
	Scrub(content string) *Result
	// Redact is Scrub returning only the redacted text.
	Redact(content string) string
	// IsEnabled returns whether scrubbing is enabled.
	IsEnabled() bool
}

// Result contains the scrubbing result. Matched values are never kept.
type Result struct {
	Scrubbed      string
	TotalFindings int
	ByRule        map[string]int
}

// HasFindings returns true if any secrets were found.
func (r *Result) HasFindings() bool {
	return r.TotalFindings > 0
}

// RuleIDs returns the matched rule ids, sorted.
func (r *Result) RuleIDs() []string {
	ids := make([]string, 0, len(r.ByRule))
	for id := range r.ByRule {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

type scrubber struct {
	config *Config
}

type span struct {
	start, end int
}

// New creates a Scrubber. A nil cfg means DefaultConfig().
func New(cfg *Config) (Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &scrubber{config: cfg}, nil
}

// MustNew creates a Scrubber, panicking on error.
func MustNew(cfg *Config) Scrubber {
	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *scrubber) Scrub(content string) *Result {
	result := &Result{Scrubbed: content, ByRule: make(map[string]int)}
	if !s.config.Enabled || content == "" {
		return result
	}

	lower := strings.ToLower(content)
	var spans []span
	for _, rule := range s.config.compiledRules {
		if len(rule.keywords) > 0 && !containsAny(lower, rule.keywords) {
			continue
		}
		for _, m := range rule.pattern.FindAllStringIndex(content, -1) {
			if s.isAllowed(content[m[0]:m[1]]) {
				continue
			}
			result.ByRule[rule.ID]++
			result.TotalFindings++
			spans = append(spans, span{m[0], m[1]})
		}
	}
	if len(spans) == 0 {
		return result
	}

	var b strings.Builder
	last := 0
	for _, sp := range merge(spans) {
		b.WriteString(content[last:sp.start])
		b.WriteString(s.config.RedactionString)
		last = sp.end
	}
	b.WriteString(content[last:])
	result.Scrubbed = b.String()
	return result
}

func (s *scrubber) Redact(content string) string {
	return s.Scrub(content).Scrubbed
}

func (s *scrubber) IsEnabled() bool {
	return s.config.Enabled
}

func (s *scrubber) isAllowed(match string) bool {
	for _, pattern := range s.config.compiledAllowList {
		if pattern.MatchString(match) {
			return true
		}
	}
	return false
}

func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// merge sorts spans and joins overlapping or adjacent ones.
func merge(spans []span) []span {
	slices.SortFunc(spans, func(a, b span) int { return a.start - b.start })

	merged := []span{spans[0]}
	for _, cur := range spans[1:] {
		last := &merged[len(merged)-1]
		if cur.start <= last.end {
			last.end = max(last.end, cur.end)
			continue
		}
		merged = append(merged, cur)
	}
	return merged
}

// Nop returns a Scrubber that leaves content unchanged.
func Nop() Scrubber { return nopScrubber{} }

type nopScrubber struct{}

func (nopScrubber) Scrub(content string) *Result {
	return &Result{Scrubbed: content, ByRule: map[string]int{}}
}
func (nopScrubber) Redact(content string) string { return content }
func (nopScrubber) IsEnabled() bool              { return false }

var (
	_ Scrubber = (*scrubber)(nil)
	_ Scrubber = nopScrubber{}
)
