package http

import (
	"github.com/fyrsmithlabs/crewd/internal/runstate"
	"github.com/fyrsmithlabs/crewd/internal/usage"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the response body for GET /api/status.
type StatusResponse struct {
	Running bool `json:"running"`
	runstate.Snapshot
	Usage usage.Snapshot `json:"usage"`
}

// RunRequest is the body of POST /api/run. Issue is accepted as a shorter
// alias of IssueNumber.
type RunRequest struct {
	IssueNumber int `json:"issue_number"`
	Issue       int `json:"issue"`
}

func (r RunRequest) number() int {
	if r.IssueNumber != 0 {
		return r.IssueNumber
	}
	return r.Issue
}

// RunResponse is returned once a run has been started.
type RunResponse struct {
	OK    bool `json:"ok"`
	Issue int  `json:"issue"`
}

// UsageResetResponse is returned by POST /api/usage/reset.
type UsageResetResponse struct {
	OK    bool           `json:"ok"`
	Usage usage.Snapshot `json:"usage"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Message string `json:"message"`
}
