package toolkit

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/crewd/internal/deploy"
	"github.com/fyrsmithlabs/crewd/internal/notify"
	"github.com/fyrsmithlabs/crewd/internal/secrets"
)

type discordArgs struct {
	Content   string `json:"content"`
	ChannelID string `json:"channel_id"`
}

func discordTool(d *notify.Discord, scrub secrets.Scrubber) *jsonTool[discordArgs] {
	return &jsonTool[discordArgs]{
		name:        "send_discord_message",
		description: "Send a message (max 2000 characters) to the team Discord channel.",
		params: schema([]prop{
			str("content", "message text"),
			str("channel_id", "channel id; defaults to the configured channel"),
		}, "content"),
		run: func(ctx context.Context, args discordArgs) (string, error) {
			if err := d.Send(ctx, args.ChannelID, scrub.Redact(args.Content)); err != nil {
				return "", err
			}
			return "message sent", nil
		},
	}
}

func listProjectsTool(v *deploy.Vercel) *jsonTool[struct{}] {
	return &jsonTool[struct{}]{
		name:        "list_vercel_projects",
		description: "List Vercel projects to find the id to deploy.",
		params:      schema(nil),
		run: func(ctx context.Context, _ struct{}) (string, error) {
			projects, err := v.ListProjects(ctx)
			if err != nil {
				return "", err
			}
			if len(projects) == 0 {
				return "no Vercel projects", nil
			}
			var b strings.Builder
			for _, p := range projects {
				fmt.Fprintf(&b, "- %s (id: %s)\n", p.Name, p.ID)
			}
			return b.String(), nil
		},
	}
}

type deployArgs struct {
	Project     string `json:"project_id_or_name"`
	Branch      string `json:"branch"`
	Description string `json:"description"`
}

func createDeploymentTool(v *deploy.Vercel) *jsonTool[deployArgs] {
	return &jsonTool[deployArgs]{
		name:        "create_vercel_deployment",
		description: "Trigger a Vercel deployment of a Git branch.",
		params: schema([]prop{
			str("project_id_or_name", "Vercel project id or name"),
			str("branch", "Git branch to deploy"),
			str("description", "optional description"),
		}, "project_id_or_name"),
		run: func(ctx context.Context, args deployArgs) (string, error) {
			dep, err := v.CreateDeployment(ctx, args.Project, args.Branch, args.Description)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("deployment %s triggered: https://%s", dep.ID, dep.URL), nil
		},
	}
}
