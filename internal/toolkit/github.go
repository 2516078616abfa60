package toolkit

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/fyrsmithlabs/crewd/internal/tracker"
)

const maxListedIssues = 10

type githubTools struct {
	tr   tracker.Tracker
	opts Options
}

func (g *githubTools) branchOr(b string) string {
	if b == "" {
		return g.opts.BaseBranch
	}
	return b
}

type labelArgs struct {
	Label string `json:"label"`
}

func (g *githubTools) listIssues() *jsonTool[labelArgs] {
	return &jsonTool[labelArgs]{
		name:        "list_issues",
		description: "List open issues in the repository, optionally filtered by label.",
		params:      schema([]prop{str("label", "label to filter by; empty for all")}),
		run: func(ctx context.Context, args labelArgs) (string, error) {
			tickets, err := g.tr.ListOpen(ctx, args.Label)
			if err != nil {
				return "", err
			}
			if len(tickets) == 0 {
				return "no open issues", nil
			}
			var b strings.Builder
			for i, t := range tickets {
				if i == maxListedIssues {
					break
				}
				fmt.Fprintf(&b, "[#%d] %s | %s | %s\n", t.Number, t.Title, strings.Join(t.Labels, ","), t.URL)
			}
			return b.String(), nil
		},
	}
}

type issueArgs struct {
	IssueNumber int `json:"issue_number"`
}

func (g *githubTools) getIssue() *jsonTool[issueArgs] {
	return &jsonTool[issueArgs]{
		name:        "get_issue",
		description: "Read an issue: title, state, labels, body and every comment in order.",
		params:      schema([]prop{integer("issue_number", "issue number")}, "issue_number"),
		run: func(ctx context.Context, args issueArgs) (string, error) {
			t, err := g.tr.Get(ctx, args.IssueNumber)
			if err != nil {
				return "", err
			}
			comments, err := g.tr.Comments(ctx, args.IssueNumber)
			if err != nil {
				return "", err
			}

			var b strings.Builder
			fmt.Fprintf(&b, "#%d %s\nstate: %s\nlabels: %s\n\n%s\n", t.Number, t.Title, t.State, strings.Join(t.Labels, ", "), t.Body)
			if len(comments) > 0 {
				b.WriteString("\ncomments:\n")
				for i, c := range comments {
					fmt.Fprintf(&b, "--- %d. %s\n%s\n", i+1, c.Author, c.Body)
				}
			}
			return b.String(), nil
		},
	}
}

type commentArgs struct {
	IssueNumber int    `json:"issue_number"`
	Comment     string `json:"comment"`
}

func (g *githubTools) commentIssue() *jsonTool[commentArgs] {
	return &jsonTool[commentArgs]{
		name:        "comment_issue",
		description: "Post a comment on an issue. Start the comment with your required header.",
		params: schema([]prop{
			integer("issue_number", "issue number"),
			str("comment", "markdown comment body"),
		}, "issue_number", "comment"),
		run: func(ctx context.Context, args commentArgs) (string, error) {
			if strings.TrimSpace(args.Comment) == "" {
				return "", errors.New("comment is empty")
			}
			if err := g.tr.AppendComment(ctx, args.IssueNumber, g.opts.Scrubber.Redact(args.Comment)); err != nil {
				return "", err
			}
			return fmt.Sprintf("comment posted on #%d", args.IssueNumber), nil
		},
	}
}

type readArgs struct {
	FilePath string `json:"file_path"`
	Branch   string `json:"branch"`
}

func (g *githubTools) readFile() *jsonTool[readArgs] {
	return &jsonTool[readArgs]{
		name:        "read_file",
		description: "Read a file from the repository.",
		params: schema([]prop{
			str("file_path", "path relative to the repository root"),
			str("branch", "branch to read from; defaults to the base branch"),
		}, "file_path"),
		run: func(ctx context.Context, args readArgs) (string, error) {
			content, err := g.tr.ReadFile(ctx, args.FilePath, g.branchOr(args.Branch))
			if errors.Is(err, tracker.ErrNotFound) {
				return fmt.Sprintf("%s does not exist on %s", args.FilePath, g.branchOr(args.Branch)), nil
			}
			return content, err
		},
	}
}

type writeArgs struct {
	FilePath      string `json:"file_path"`
	Content       string `json:"content"`
	CommitMessage string `json:"commit_message"`
	Branch        string `json:"branch"`
}

func (g *githubTools) writeFile() *jsonTool[writeArgs] {
	return &jsonTool[writeArgs]{
		name:        "write_file",
		description: "Create or update a file and commit it to a branch.",
		params: schema([]prop{
			str("file_path", "path relative to the repository root"),
			str("content", "full new file content"),
			str("commit_message", "commit message"),
			str("branch", "target branch; defaults to the base branch"),
		}, "file_path", "content", "commit_message"),
		run: func(ctx context.Context, args writeArgs) (string, error) {
			if args.FilePath == "" {
				return "", errors.New("file_path is required")
			}
			branch := g.branchOr(args.Branch)
			if err := g.tr.WriteFile(ctx, args.FilePath, args.Content, args.CommitMessage, branch); err != nil {
				return "", err
			}
			return fmt.Sprintf("committed %s to %s", args.FilePath, branch), nil
		},
	}
}

type branchArgs struct {
	NewBranch  string `json:"new_branch"`
	BaseBranch string `json:"base_branch"`
}

func (g *githubTools) createBranch() *jsonTool[branchArgs] {
	return &jsonTool[branchArgs]{
		name:        "create_branch",
		description: "Create a branch from the base branch. An existing branch is reused.",
		params: schema([]prop{
			str("new_branch", "branch to create"),
			str("base_branch", "branch to start from; defaults to the base branch"),
		}, "new_branch"),
		run: func(ctx context.Context, args branchArgs) (string, error) {
			if args.NewBranch == "" {
				return "", errors.New("new_branch is required")
			}
			created, err := g.tr.CreateBranch(ctx, args.NewBranch, g.branchOr(args.BaseBranch))
			if err != nil {
				return "", err
			}
			if !created {
				return fmt.Sprintf("branch %s already exists, reusing it", args.NewBranch), nil
			}
			return fmt.Sprintf("created branch %s from %s", args.NewBranch, g.branchOr(args.BaseBranch)), nil
		},
	}
}

type prArgs struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	HeadBranch string `json:"head_branch"`
	BaseBranch string `json:"base_branch"`
}

func (g *githubTools) createPullRequest() *jsonTool[prArgs] {
	return &jsonTool[prArgs]{
		name:        "create_pull_request",
		description: "Open a pull request from a work branch into the base branch.",
		params: schema([]prop{
			str("title", "pull request title"),
			str("body", "pull request description"),
			str("head_branch", "branch with the changes"),
			str("base_branch", "branch to merge into; defaults to the base branch"),
		}, "title", "head_branch"),
		run: func(ctx context.Context, args prArgs) (string, error) {
			pr, err := g.tr.CreatePullRequest(ctx, args.Title, g.opts.Scrubber.Redact(args.Body), args.HeadBranch, g.branchOr(args.BaseBranch))
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("opened pull request #%d: %s", pr.Number, pr.URL), nil
		},
	}
}

type createIssueArgs struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels"`
}

// createIssue always applies the follow-up label and never the trigger label,
// so agent-filed issues are not picked up by the poller.
func (g *githubTools) createIssue() *jsonTool[createIssueArgs] {
	return &jsonTool[createIssueArgs]{
		name:        "create_issue",
		description: fmt.Sprintf("Open a follow-up issue. It is labelled %q automatically.", g.opts.FollowupLabel),
		params: schema([]prop{
			str("title", "issue title"),
			str("body", "issue description"),
			{name: "labels", typ: "array", desc: "extra labels"},
		}, "title", "body"),
		run: func(ctx context.Context, args createIssueArgs) (string, error) {
			labels := followupLabels(args.Labels, g.opts.TriggerLabel, g.opts.FollowupLabel)
			t, err := g.tr.CreateIssue(ctx, args.Title, g.opts.Scrubber.Redact(args.Body), labels)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("created issue #%d: %s", t.Number, t.URL), nil
		},
	}
}

func followupLabels(requested []string, trigger, followup string) []string {
	out := slices.DeleteFunc(slices.Clone(requested), func(l string) bool {
		return l == "" || l == trigger
	})
	if followup != "" && !slices.Contains(out, followup) {
		out = append(out, followup)
	}
	return out
}
