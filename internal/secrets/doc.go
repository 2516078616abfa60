// Package secrets redacts credentials from text the orchestrator writes to
// issues and notification channels.
//
// Two kinds of matches are redacted: well-known token shapes (GitHub, OpenAI,
// Discord, Vercel, cloud keys) and the literal values of the credentials crewd
// itself was configured with.
package secrets
