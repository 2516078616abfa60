// Package tracker is the issue tracker collaborator: tickets, their append-only
// comment log, and the repository operations agents perform on the way.
package tracker

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an issue, file or branch does not exist.
var ErrNotFound = errors.New("not found")

// Ticket is an issue as the orchestrator sees it.
type Ticket struct {
	Number int
	Title  string
	Body   string
	State  string
	Labels []string
	URL    string
}

// HasLabel reports whether the ticket carries label.
func (t Ticket) HasLabel(label string) bool {
	for _, l := range t.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Comment is one entry of a ticket's comment log, in creation order.
type Comment struct {
	Author    string
	Body      string
	CreatedAt time.Time
}

// PullRequest is the subset of a created pull request agents report back.
type PullRequest struct {
	Number int
	URL    string
}

// Tracker is implemented by GitHub and by trackertest.Fake.
//
// Every method may fail on transport errors; callers treat each as fallible.
// Comments are only ever appended.
type Tracker interface {
	ListOpen(ctx context.Context, label string) ([]Ticket, error)
	Get(ctx context.Context, number int) (Ticket, error)
	Comments(ctx context.Context, number int) ([]Comment, error)
	AppendComment(ctx context.Context, number int, body string) error
	AddLabels(ctx context.Context, number int, labels ...string) error
	RemoveLabel(ctx context.Context, number int, label string) error

	ReadFile(ctx context.Context, path, branch string) (string, error)
	WriteFile(ctx context.Context, path, content, message, branch string) error
	CreateBranch(ctx context.Context, name, base string) (created bool, err error)
	CreatePullRequest(ctx context.Context, title, body, head, base string) (PullRequest, error)
	CreateIssue(ctx context.Context, title, body string, labels []string) (Ticket, error)
}
