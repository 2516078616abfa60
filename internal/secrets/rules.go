package secrets

// DefaultRules returns the token shapes agents are most likely to echo into
// comments: the credentials of the services crewd talks to plus common
// cloud and database secrets.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "github-token",
			Description: "GitHub Personal Access Token",
			Pattern:     `gh[pousr]_[A-Za-z0-9]{36}`,
		},
		{
			ID:          "github-fine-grained",
			Description: "GitHub Fine-grained Personal Access Token",
			Pattern:     `github_pat_[A-Za-z0-9_]{22,}`,
		},
		{
			ID:          "openai-api-key",
			Description: "OpenAI API Key",
			Pattern:     `sk-(?:proj-|svcacct-)?[A-Za-z0-9_\-]{32,}`,
		},
		{
			ID:          "anthropic-api-key",
			Description: "Anthropic API Key",
			Pattern:     `sk-ant-[A-Za-z0-9_\-]{90,}`,
		},
		{
			ID:          "discord-bot-token",
			Description: "Discord Bot Token",
			Pattern:     `[MN][A-Za-z\d]{23,25}\.[\w-]{6}\.[\w-]{27,38}`,
			Keywords:    []string{"discord", "bot"},
		},
		{
			ID:          "vercel-token",
			Description: "Vercel Access Token",
			Pattern:     `(?i)vercel[_-]?token\s*[:=]\s*['"]?[A-Za-z0-9]{24}['"]?`,
			Keywords:    []string{"vercel"},
		},
		{
			ID:          "aws-access-key-id",
			Description: "AWS Access Key ID",
			Pattern:     `(?:A3T[A-Z0-9]|AKIA|ASIA)[A-Z0-9]{16}`,
		},
		{
			ID:          "slack-token",
			Description: "Slack Token",
			Pattern:     `xox[baprs]-[A-Za-z0-9\-]{10,}`,
		},
		{
			ID:          "private-key",
			Description: "Private Key",
			Pattern:     `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?:[- ]BLOCK)?-----`,
		},
		{
			ID:          "jwt",
			Description: "JSON Web Token",
			Pattern:     `eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`,
		},
		{
			ID:          "bearer-token",
			Description: "Bearer Token in Authorization Header",
			Pattern:     `(?i)bearer\s+[A-Za-z0-9_\-\.]{20,}`,
			Keywords:    []string{"bearer"},
		},
		{
			ID:          "generic-api-key",
			Description: "Generic API Key",
			Pattern:     `(?i)(?:api[_-]?key|apikey)\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,64}['"]?`,
			Keywords:    []string{"key"},
		},
		{
			ID:          "generic-secret",
			Description: "Generic Secret",
			Pattern:     `(?i)(?:secret|password|passwd)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`,
			Keywords:    []string{"secret", "passw"},
		},
		{
			ID:          "database-url",
			Description: "Database Connection URL with credentials",
			Pattern:     `(?i)(?:postgres|mysql|mongodb|redis|amqp|nats)://[^:\s]+:[^@\s]+@[^\s]+`,
		},
	}
}
