// Package toolkit exposes the tracker, deployment and chat integrations to
// agents as callable tools.
package toolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/crewd/internal/crew"
	"github.com/fyrsmithlabs/crewd/internal/deploy"
	"github.com/fyrsmithlabs/crewd/internal/notify"
	"github.com/fyrsmithlabs/crewd/internal/secrets"
	"github.com/fyrsmithlabs/crewd/internal/tracker"
)

// Options wire the optional integrations. Nil Discord or Vercel leaves their
// tools out of the set.
type Options struct {
	BaseBranch    string
	TriggerLabel  string
	FollowupLabel string
	Scrubber      secrets.Scrubber
	Discord       *notify.Discord
	Vercel        *deploy.Vercel
}

// New returns every tool available with the given integrations.
func New(tr tracker.Tracker, opts Options) []crew.Tool {
	if opts.BaseBranch == "" {
		opts.BaseBranch = "main"
	}
	if opts.Scrubber == nil {
		opts.Scrubber = secrets.Nop()
	}
	gh := &githubTools{tr: tr, opts: opts}

	set := []crew.Tool{
		gh.listIssues(),
		gh.getIssue(),
		gh.commentIssue(),
		gh.readFile(),
		gh.writeFile(),
		gh.createBranch(),
		gh.createPullRequest(),
		gh.createIssue(),
	}
	if opts.Discord != nil {
		set = append(set, discordTool(opts.Discord, opts.Scrubber))
	}
	if opts.Vercel != nil {
		set = append(set, listProjectsTool(opts.Vercel), createDeploymentTool(opts.Vercel))
	}
	return set
}

// jsonTool adapts a typed function to crew.Tool. Arguments arrive as the JSON
// object the model produced.
type jsonTool[A any] struct {
	name        string
	description string
	params      map[string]any
	run         func(ctx context.Context, args A) (string, error)
}

var _ crew.Tool = (*jsonTool[struct{}])(nil)

func (t *jsonTool[A]) Name() string               { return t.name }
func (t *jsonTool[A]) Description() string        { return t.description }
func (t *jsonTool[A]) Parameters() map[string]any { return t.params }

func (t *jsonTool[A]) Call(ctx context.Context, input string) (string, error) {
	var args A
	if s := strings.TrimSpace(input); s != "" && s != "null" {
		if err := json.Unmarshal([]byte(s), &args); err != nil {
			return "", fmt.Errorf("invalid arguments for %s: %w", t.name, err)
		}
	}
	return t.run(ctx, args)
}

type prop struct {
	name, typ, desc string
}

func str(name, desc string) prop     { return prop{name, "string", desc} }
func integer(name, desc string) prop { return prop{name, "integer", desc} }

// schema builds a JSON schema object; required names the mandatory props.
func schema(props []prop, required ...string) map[string]any {
	properties := make(map[string]any, len(props))
	for _, p := range props {
		if p.typ == "array" {
			properties[p.name] = map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": p.desc}
			continue
		}
		properties[p.name] = map[string]any{"type": p.typ, "description": p.desc}
	}
	s := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
