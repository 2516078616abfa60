package secrets

import (
	"fmt"
	"regexp"
	"strings"
)

// minLiteralLen keeps short configured values (test fixtures, ids) from
// turning ordinary words into redactions.
const minLiteralLen = 8

// Config configures the scrubber.
type Config struct {
	// Enabled controls whether scrubbing is active (default: true)
	Enabled bool

	// Rules are the token shapes to detect.
	Rules []Rule

	// Literals are exact values to redact wherever they appear, typically the
	// configured credentials.
	Literals []string

	// RedactionString replaces each match (default: "[REDACTED]")
	RedactionString string

	// AllowList holds patterns for matches that must be left alone.
	AllowList []string

	compiledRules     []*compiledRule
	compiledAllowList []*regexp.Regexp
}

// Rule defines a secret detection rule.
type Rule struct {
	ID          string
	Description string
	Pattern     string
	// Keywords, when set, must appear (case-insensitive) for the rule to run.
	Keywords []string
}

type compiledRule struct {
	Rule
	pattern  *regexp.Regexp
	keywords []string
}

// DefaultConfig returns the standard rules with no literals.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		RedactionString: "[REDACTED]",
		Rules:           DefaultRules(),
	}
}

// Validate validates and compiles the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.RedactionString == "" {
		c.RedactionString = "[REDACTED]"
	}

	c.compiledRules = make([]*compiledRule, 0, len(c.Rules)+1)
	for i, rule := range c.Rules {
		if rule.ID == "" {
			return fmt.Errorf("rule %d: ID is required", i)
		}
		if rule.Pattern == "" {
			return fmt.Errorf("rule %s: pattern is required", rule.ID)
		}
		pattern, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return fmt.Errorf("rule %s: invalid pattern: %w", rule.ID, err)
		}
		compiled := &compiledRule{Rule: rule, pattern: pattern}
		for _, kw := range rule.Keywords {
			compiled.keywords = append(compiled.keywords, strings.ToLower(kw))
		}
		c.compiledRules = append(c.compiledRules, compiled)
	}

	if lit := literalRule(c.Literals); lit != nil {
		c.compiledRules = append(c.compiledRules, lit)
	}

	c.compiledAllowList = make([]*regexp.Regexp, 0, len(c.AllowList))
	for i, pattern := range c.AllowList {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		c.compiledAllowList = append(c.compiledAllowList, compiled)
	}
	return nil
}

func literalRule(values []string) *compiledRule {
	var quoted []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if len(v) < minLiteralLen {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(v))
	}
	if len(quoted) == 0 {
		return nil
	}
	return &compiledRule{
		Rule:    Rule{ID: "configured-credential", Description: "Configured credential"},
		pattern: regexp.MustCompile(strings.Join(quoted, "|")),
	}
}
