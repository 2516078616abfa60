// Package deploy triggers preview deployments on Vercel.
package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fyrsmithlabs/crewd/internal/config"
	"golang.org/x/time/rate"
)

const maxProjects = 20

// Project is a Vercel project.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Deployment is the result of triggering a deployment.
type Deployment struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Vercel is a minimal Vercel REST client.
type Vercel struct {
	baseURL    string
	token      config.Secret
	teamID     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewVercel returns a client for cfg, or nil when no token is configured.
func NewVercel(cfg config.VercelConfig) *Vercel {
	if !cfg.Token.IsSet() {
		return nil
	}
	base := cfg.APIURL
	if base == "" {
		base = "https://api.vercel.com"
	}
	return &Vercel{
		baseURL:    strings.TrimSuffix(base, "/"),
		token:      cfg.Token,
		teamID:     cfg.TeamID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(2), 4),
	}
}

// ListProjects returns up to 20 projects.
func (v *Vercel) ListProjects(ctx context.Context) ([]Project, error) {
	var out struct {
		Projects []Project `json:"projects"`
	}
	if err := v.do(ctx, http.MethodGet, "/v9/projects", url.Values{"limit": {fmt.Sprint(maxProjects)}}, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Projects) > maxProjects {
		out.Projects = out.Projects[:maxProjects]
	}
	return out.Projects, nil
}

// CreateDeployment deploys branch of project (id or name) from its linked
// GitHub repository.
func (v *Vercel) CreateDeployment(ctx context.Context, project, branch, description string) (Deployment, error) {
	if branch == "" {
		branch = "main"
	}
	payload := map[string]any{
		"name":      project,
		"project":   project,
		"gitSource": map[string]string{"type": "github", "ref": branch},
	}
	if description != "" {
		payload["meta"] = map[string]string{"description": description}
	}

	var dep Deployment
	if err := v.do(ctx, http.MethodPost, "/v13/deployments", nil, payload, &dep); err != nil {
		return Deployment{}, err
	}
	return dep, nil
}

func (v *Vercel) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	if err := v.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	if v.teamID != "" {
		if query == nil {
			query = url.Values{}
		}
		query.Set("teamId", v.teamID)
	}
	target := v.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+v.token.Value())
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vercel request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("vercel API %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
