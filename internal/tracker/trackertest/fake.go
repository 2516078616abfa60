// Package trackertest provides an in-memory tracker.Tracker for tests.
package trackertest

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/fyrsmithlabs/crewd/internal/tracker"
)

// PullRecord is a pull request opened against the fake.
type PullRecord struct {
	tracker.PullRequest
	Title string
	Body  string
	Head  string
	Base  string
}

type issue struct {
	ticket   tracker.Ticket
	comments []tracker.Comment
}

// Fake is a concurrency-safe in-memory tracker. The zero value is not usable;
// call New.
type Fake struct {
	mu       sync.Mutex
	issues   map[int]*issue
	order    []int
	files    map[string]string
	branches map[string]bool
	pulls    []PullRecord
	next     int
	failures map[string]error
	now      func() time.Time
}

var _ tracker.Tracker = (*Fake)(nil)

// New returns an empty fake whose repository has a main branch.
func New() *Fake {
	return &Fake{
		issues:   make(map[int]*issue),
		files:    make(map[string]string),
		branches: map[string]bool{"main": true},
		failures: make(map[string]error),
		next:     1,
		now:      time.Now,
	}
}

// AddIssue stores ticket with optional pre-existing comment bodies.
func (f *Fake) AddIssue(t tracker.Ticket, comments ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if t.State == "" {
		t.State = "open"
	}
	is := &issue{ticket: t}
	for _, body := range comments {
		is.comments = append(is.comments, tracker.Comment{Author: "human", Body: body, CreatedAt: f.now()})
	}
	if _, exists := f.issues[t.Number]; !exists {
		f.order = append(f.order, t.Number)
	}
	f.issues[t.Number] = is
	if t.Number >= f.next {
		f.next = t.Number + 1
	}
}

// FailOn makes every call to method (e.g. "Comments") return err until
// cleared with a nil err.
func (f *Fake) FailOn(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, method)
		return
	}
	f.failures[method] = err
}

// CommentBodies returns the bodies of every comment on issue n.
func (f *Fake) CommentBodies(n int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	is, ok := f.issues[n]
	if !ok {
		return nil
	}
	out := make([]string, len(is.comments))
	for i, c := range is.comments {
		out[i] = c.Body
	}
	return out
}

// Labels returns the current labels of issue n.
func (f *Fake) Labels(n int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if is, ok := f.issues[n]; ok {
		return slices.Clone(is.ticket.Labels)
	}
	return nil
}

// File returns the content written to path on branch.
func (f *Fake) File(branch, path string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.files[fileKey(branch, path)]
	return content, ok
}

// SetFile seeds a file.
func (f *Fake) SetFile(branch, path, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[fileKey(branch, path)] = content
}

// HasBranch reports whether name was created.
func (f *Fake) HasBranch(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.branches[name]
}

// PullRequests returns the pull requests opened so far.
func (f *Fake) PullRequests() []PullRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.pulls)
}

func (f *Fake) fail(method string) error {
	return f.failures[method]
}

func (f *Fake) lookup(n int) (*issue, error) {
	is, ok := f.issues[n]
	if !ok {
		return nil, fmt.Errorf("issue #%d: %w", n, tracker.ErrNotFound)
	}
	return is, nil
}

// ListOpen implements tracker.Tracker.
func (f *Fake) ListOpen(_ context.Context, label string) ([]tracker.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ListOpen"); err != nil {
		return nil, err
	}

	var out []tracker.Ticket
	for _, n := range f.order {
		t := f.issues[n].ticket
		if t.State != "open" || (label != "" && !t.HasLabel(label)) {
			continue
		}
		t.Labels = slices.Clone(t.Labels)
		out = append(out, t)
	}
	return out, nil
}

// Get implements tracker.Tracker.
func (f *Fake) Get(_ context.Context, number int) (tracker.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("Get"); err != nil {
		return tracker.Ticket{}, err
	}
	is, err := f.lookup(number)
	if err != nil {
		return tracker.Ticket{}, err
	}
	t := is.ticket
	t.Labels = slices.Clone(t.Labels)
	return t, nil
}

// Comments implements tracker.Tracker.
func (f *Fake) Comments(_ context.Context, number int) ([]tracker.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("Comments"); err != nil {
		return nil, err
	}
	is, err := f.lookup(number)
	if err != nil {
		return nil, err
	}
	return slices.Clone(is.comments), nil
}

// AppendComment implements tracker.Tracker.
func (f *Fake) AppendComment(_ context.Context, number int, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("AppendComment"); err != nil {
		return err
	}
	is, err := f.lookup(number)
	if err != nil {
		return err
	}
	is.comments = append(is.comments, tracker.Comment{Author: "crewd", Body: body, CreatedAt: f.now()})
	return nil
}

// AddLabels implements tracker.Tracker.
func (f *Fake) AddLabels(_ context.Context, number int, labels ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("AddLabels"); err != nil {
		return err
	}
	is, err := f.lookup(number)
	if err != nil {
		return err
	}
	for _, l := range labels {
		if !is.ticket.HasLabel(l) {
			is.ticket.Labels = append(is.ticket.Labels, l)
		}
	}
	return nil
}

// RemoveLabel implements tracker.Tracker.
func (f *Fake) RemoveLabel(_ context.Context, number int, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("RemoveLabel"); err != nil {
		return err
	}
	is, err := f.lookup(number)
	if err != nil {
		return err
	}
	is.ticket.Labels = slices.DeleteFunc(is.ticket.Labels, func(l string) bool { return l == label })
	return nil
}

// ReadFile implements tracker.Tracker.
func (f *Fake) ReadFile(_ context.Context, path, branch string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ReadFile"); err != nil {
		return "", err
	}
	content, ok := f.files[fileKey(branch, path)]
	if !ok {
		return "", fmt.Errorf("%s@%s: %w", path, branch, tracker.ErrNotFound)
	}
	return content, nil
}

// WriteFile implements tracker.Tracker.
func (f *Fake) WriteFile(_ context.Context, path, content, _, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("WriteFile"); err != nil {
		return err
	}
	if branch != "" && !f.branches[branch] {
		return fmt.Errorf("branch %s: %w", branch, tracker.ErrNotFound)
	}
	f.files[fileKey(branch, path)] = content
	return nil
}

// CreateBranch implements tracker.Tracker.
func (f *Fake) CreateBranch(_ context.Context, name, base string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("CreateBranch"); err != nil {
		return false, err
	}
	if f.branches[name] {
		return false, nil
	}
	if !f.branches[base] {
		return false, fmt.Errorf("base branch %s: %w", base, tracker.ErrNotFound)
	}
	f.branches[name] = true
	return true, nil
}

// CreatePullRequest implements tracker.Tracker.
func (f *Fake) CreatePullRequest(_ context.Context, title, body, head, base string) (tracker.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("CreatePullRequest"); err != nil {
		return tracker.PullRequest{}, err
	}
	pr := tracker.PullRequest{
		Number: f.next,
		URL:    fmt.Sprintf("https://example.test/pull/%d", f.next),
	}
	f.next++
	f.pulls = append(f.pulls, PullRecord{PullRequest: pr, Title: title, Body: body, Head: head, Base: base})
	return pr, nil
}

// CreateIssue implements tracker.Tracker.
func (f *Fake) CreateIssue(_ context.Context, title, body string, labels []string) (tracker.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("CreateIssue"); err != nil {
		return tracker.Ticket{}, err
	}
	t := tracker.Ticket{
		Number: f.next,
		Title:  title,
		Body:   body,
		State:  "open",
		Labels: slices.Clone(labels),
		URL:    fmt.Sprintf("https://example.test/issues/%d", f.next),
	}
	f.next++
	f.issues[t.Number] = &issue{ticket: t}
	f.order = append(f.order, t.Number)
	return t, nil
}

func fileKey(branch, path string) string {
	if branch == "" {
		branch = "main"
	}
	return branch + ":" + path
}
