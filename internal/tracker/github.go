package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/fyrsmithlabs/crewd/internal/config"
	"github.com/fyrsmithlabs/crewd/internal/logging"
	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const perPage = 100

// GitHub implements Tracker for a single repository.
type GitHub struct {
	client *github.Client
	owner  string
	repo   string
	retry  RetryConfig
	logger *logging.Logger
}

var _ Tracker = (*GitHub)(nil)

// Option configures a GitHub tracker.
type Option func(*GitHub)

// WithRetry overrides the retry policy.
func WithRetry(cfg RetryConfig) Option {
	return func(g *GitHub) { g.retry = cfg }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *logging.Logger) Option {
	return func(g *GitHub) { g.logger = l }
}

// NewClient creates an authenticated go-github client. APIURL selects a GitHub
// Enterprise installation.
func NewClient(ctx context.Context, cfg config.GitHubConfig) (*github.Client, error) {
	if !cfg.Token.IsSet() {
		return nil, errors.New("GitHub token not set")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token.Value()})
	client := github.NewClient(oauth2.NewClient(ctx, ts))
	if cfg.APIURL == "" {
		return client, nil
	}
	client, err := client.WithEnterpriseURLs(cfg.APIURL, cfg.APIURL)
	if err != nil {
		return nil, fmt.Errorf("github api url: %w", err)
	}
	return client, nil
}

// NewGitHub returns a tracker for owner/repo.
func NewGitHub(client *github.Client, owner, repo string, opts ...Option) *GitHub {
	g := &GitHub{
		client: client,
		owner:  owner,
		repo:   repo,
		retry:  DefaultRetryConfig(),
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.Named("tracker").With(zap.String("repo", owner+"/"+repo))
	return g
}

func (g *GitHub) do(ctx context.Context, op string, fn func() (*github.Response, error)) error {
	resp, err := withRetry(ctx, g.retry, g.logger, op, fn)
	if err == nil {
		return nil
	}
	if statusCode(resp) == http.StatusNotFound {
		return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ListOpen lists open issues carrying label. Pull requests are excluded.
func (g *GitHub) ListOpen(ctx context.Context, label string) ([]Ticket, error) {
	opts := &github.IssueListByRepoOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	if label != "" {
		opts.Labels = []string{label}
	}

	var tickets []Ticket
	for {
		var page []*github.Issue
		var resp *github.Response
		err := g.do(ctx, "list issues", func() (*github.Response, error) {
			var err error
			page, resp, err = g.client.Issues.ListByRepo(ctx, g.owner, g.repo, opts)
			return resp, err
		})
		if err != nil {
			return nil, err
		}
		for _, issue := range page {
			if issue.IsPullRequest() {
				continue
			}
			tickets = append(tickets, ticketFrom(issue))
		}
		if resp == nil || resp.NextPage == 0 {
			return tickets, nil
		}
		opts.Page = resp.NextPage
	}
}

// Get fetches one issue.
func (g *GitHub) Get(ctx context.Context, number int) (Ticket, error) {
	var issue *github.Issue
	err := g.do(ctx, fmt.Sprintf("get issue #%d", number), func() (*github.Response, error) {
		var resp *github.Response
		var err error
		issue, resp, err = g.client.Issues.Get(ctx, g.owner, g.repo, number)
		return resp, err
	})
	if err != nil {
		return Ticket{}, err
	}
	return ticketFrom(issue), nil
}

// Comments returns every comment on the issue, oldest first.
func (g *GitHub) Comments(ctx context.Context, number int) ([]Comment, error) {
	opts := &github.IssueListCommentsOptions{
		Sort:        github.String("created"),
		Direction:   github.String("asc"),
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	var comments []Comment
	for {
		var page []*github.IssueComment
		var resp *github.Response
		err := g.do(ctx, fmt.Sprintf("list comments #%d", number), func() (*github.Response, error) {
			var err error
			page, resp, err = g.client.Issues.ListComments(ctx, g.owner, g.repo, number, opts)
			return resp, err
		})
		if err != nil {
			return nil, err
		}
		for _, c := range page {
			comments = append(comments, Comment{
				Author:    c.GetUser().GetLogin(),
				Body:      c.GetBody(),
				CreatedAt: c.GetCreatedAt().Time,
			})
		}
		if resp == nil || resp.NextPage == 0 {
			return comments, nil
		}
		opts.Page = resp.NextPage
	}
}

// AppendComment adds a comment to the issue.
func (g *GitHub) AppendComment(ctx context.Context, number int, body string) error {
	return g.do(ctx, fmt.Sprintf("comment on #%d", number), func() (*github.Response, error) {
		_, resp, err := g.client.Issues.CreateComment(ctx, g.owner, g.repo, number, &github.IssueComment{
			Body: github.String(body),
		})
		return resp, err
	})
}

// AddLabels adds labels to the issue.
func (g *GitHub) AddLabels(ctx context.Context, number int, labels ...string) error {
	return g.do(ctx, fmt.Sprintf("add labels to #%d", number), func() (*github.Response, error) {
		_, resp, err := g.client.Issues.AddLabelsToIssue(ctx, g.owner, g.repo, number, labels)
		return resp, err
	})
}

// RemoveLabel removes label from the issue. A label that is not present is not an error.
func (g *GitHub) RemoveLabel(ctx context.Context, number int, label string) error {
	err := g.do(ctx, fmt.Sprintf("remove label from #%d", number), func() (*github.Response, error) {
		return g.client.Issues.RemoveLabelForIssue(ctx, g.owner, g.repo, number, label)
	})
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// ReadFile returns the decoded file at path on branch (default branch when empty).
func (g *GitHub) ReadFile(ctx context.Context, path, branch string) (string, error) {
	file, err := g.getFile(ctx, path, branch)
	if err != nil {
		return "", err
	}
	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", path, err)
	}
	return content, nil
}

func (g *GitHub) getFile(ctx context.Context, path, branch string) (*github.RepositoryContent, error) {
	var file *github.RepositoryContent
	err := g.do(ctx, "get "+path, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		file, _, resp, err = g.client.Repositories.GetContents(ctx, g.owner, g.repo, path,
			&github.RepositoryContentGetOptions{Ref: branch})
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return file, nil
}

// WriteFile commits content to path on branch, updating the file when it exists.
func (g *GitHub) WriteFile(ctx context.Context, path, content, message, branch string) error {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: []byte(content),
	}
	if branch != "" {
		opts.Branch = github.String(branch)
	}

	existing, err := g.getFile(ctx, path, branch)
	switch {
	case err == nil:
		opts.SHA = existing.SHA
		return g.do(ctx, "update "+path, func() (*github.Response, error) {
			_, resp, err := g.client.Repositories.UpdateFile(ctx, g.owner, g.repo, path, opts)
			return resp, err
		})
	case errors.Is(err, ErrNotFound):
		return g.do(ctx, "create "+path, func() (*github.Response, error) {
			_, resp, err := g.client.Repositories.CreateFile(ctx, g.owner, g.repo, path, opts)
			return resp, err
		})
	default:
		return err
	}
}

// CreateBranch creates name from base. An existing branch is reused and
// reported with created == false.
func (g *GitHub) CreateBranch(ctx context.Context, name, base string) (bool, error) {
	_, err := g.getRef(ctx, name)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, err
	}

	baseRef, err := g.getRef(ctx, base)
	if err != nil {
		return false, fmt.Errorf("base branch %s: %w", base, err)
	}
	err = g.do(ctx, "create branch "+name, func() (*github.Response, error) {
		_, resp, err := g.client.Git.CreateRef(ctx, g.owner, g.repo, &github.Reference{
			Ref:    github.String("refs/heads/" + name),
			Object: &github.GitObject{SHA: baseRef.Object.SHA},
		})
		return resp, err
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (g *GitHub) getRef(ctx context.Context, branch string) (*github.Reference, error) {
	var ref *github.Reference
	err := g.do(ctx, "get branch "+branch, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		ref, resp, err = g.client.Git.GetRef(ctx, g.owner, g.repo, "heads/"+strings.TrimPrefix(branch, "refs/heads/"))
		return resp, err
	})
	return ref, err
}

// CreatePullRequest opens a pull request from head into base.
func (g *GitHub) CreatePullRequest(ctx context.Context, title, body, head, base string) (PullRequest, error) {
	var pr *github.PullRequest
	err := g.do(ctx, "create pull request", func() (*github.Response, error) {
		var resp *github.Response
		var err error
		pr, resp, err = g.client.PullRequests.Create(ctx, g.owner, g.repo, &github.NewPullRequest{
			Title: github.String(title),
			Body:  github.String(body),
			Head:  github.String(head),
			Base:  github.String(base),
		})
		return resp, err
	})
	if err != nil {
		return PullRequest{}, err
	}
	return PullRequest{Number: pr.GetNumber(), URL: pr.GetHTMLURL()}, nil
}

// CreateIssue opens a new issue with labels.
func (g *GitHub) CreateIssue(ctx context.Context, title, body string, labels []string) (Ticket, error) {
	req := &github.IssueRequest{
		Title: github.String(title),
		Body:  github.String(body),
	}
	if len(labels) > 0 {
		req.Labels = &labels
	}

	var issue *github.Issue
	err := g.do(ctx, "create issue", func() (*github.Response, error) {
		var resp *github.Response
		var err error
		issue, resp, err = g.client.Issues.Create(ctx, g.owner, g.repo, req)
		return resp, err
	})
	if err != nil {
		return Ticket{}, err
	}
	return ticketFrom(issue), nil
}

func ticketFrom(issue *github.Issue) Ticket {
	t := Ticket{
		Number: issue.GetNumber(),
		Title:  issue.GetTitle(),
		Body:   issue.GetBody(),
		State:  issue.GetState(),
		URL:    issue.GetHTMLURL(),
	}
	for _, l := range issue.Labels {
		t.Labels = append(t.Labels, l.GetName())
	}
	return t
}
