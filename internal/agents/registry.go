// Package agents holds the fixed agent roster: who exists, which comment header
// each must leave, and how to build each agent's task for an issue.
package agents

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/fyrsmithlabs/crewd/internal/crew"
	"gopkg.in/yaml.v3"
)

//go:embed roster.yaml
var defaultRoster []byte

// Settings are the deployment values substituted into prompts.
type Settings struct {
	BaseBranch    string
	FollowupLabel string
}

// Descriptor is one immutable roster entry.
type Descriptor struct {
	ID           string
	Name         string
	Role         string
	Header       string
	Goal         string
	Backstory    string
	Tier         crew.Tier
	Tools        []string
	BranchPrefix string

	task      *template.Template
	expected  string
	settings  Settings
	teammates []RosterEntry
}

// Agent returns the capability handle the engine runs.
func (d Descriptor) Agent() crew.Agent {
	return crew.Agent{
		ID:        d.ID,
		Role:      fmt.Sprintf("%s, %s", d.Name, d.Role),
		Goal:      d.Goal,
		Backstory: d.Backstory,
		Tier:      d.Tier,
		Tools:     append([]string(nil), d.Tools...),
	}
}

// Branch derives the working branch for issue, or "" when the agent's work is
// not branch scoped.
func (d Descriptor) Branch(issue int) string {
	if d.BranchPrefix == "" {
		return ""
	}
	return fmt.Sprintf("%s/issue-%d", d.BranchPrefix, issue)
}

// RosterEntry is what task templates see about teammates.
type RosterEntry struct {
	ID   string
	Name string
	Role string
}

type taskData struct {
	Issue         int
	Branch        string
	BaseBranch    string
	Header        string
	FollowupLabel string
	Roster        []RosterEntry
}

// Task renders the agent's task for issue.
func (d Descriptor) Task(issue int, branch string) (crew.Task, error) {
	var b strings.Builder
	err := d.task.Execute(&b, taskData{
		Issue:         issue,
		Branch:        branch,
		BaseBranch:    d.settings.BaseBranch,
		Header:        d.Header,
		FollowupLabel: d.settings.FollowupLabel,
		Roster:        d.teammates,
	})
	if err != nil {
		return crew.Task{}, fmt.Errorf("rendering task for %s: %w", d.ID, err)
	}
	return crew.Task{Description: b.String(), ExpectedOutput: d.expected}, nil
}

// Step builds the pipeline entry for issue, deriving the branch.
func (d Descriptor) Step(issue int) (crew.Step, error) {
	task, err := d.Task(issue, d.Branch(issue))
	if err != nil {
		return crew.Step{}, err
	}
	return crew.Step{Agent: d.Agent(), Task: task}, nil
}

// Registry maps agent ids to descriptors.
type Registry struct {
	order       []string
	byID        map[string]Descriptor
	planner     string
	defaultTeam []string
}

// Load parses the built-in roster.
func Load(s Settings) (*Registry, error) {
	return Parse(defaultRoster, s)
}

type rosterFile struct {
	Planner     string        `yaml:"planner"`
	DefaultTeam []string      `yaml:"default_team"`
	Agents      []agentRecord `yaml:"agents"`
}

type agentRecord struct {
	ID             string   `yaml:"id"`
	Name           string   `yaml:"name"`
	Role           string   `yaml:"role"`
	Header         string   `yaml:"header"`
	Tier           string   `yaml:"tier"`
	BranchPrefix   string   `yaml:"branch_prefix"`
	Tools          []string `yaml:"tools"`
	Goal           string   `yaml:"goal"`
	Backstory      string   `yaml:"backstory"`
	Task           string   `yaml:"task"`
	ExpectedOutput string   `yaml:"expected_output"`
}

// Parse builds a registry from roster YAML.
func Parse(data []byte, s Settings) (*Registry, error) {
	var file rosterFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing roster: %w", err)
	}
	if s.BaseBranch == "" {
		s.BaseBranch = "main"
	}
	if s.FollowupLabel == "" {
		s.FollowupLabel = "agent-followup"
	}

	r := &Registry{byID: make(map[string]Descriptor, len(file.Agents)), planner: file.Planner}
	for _, rec := range file.Agents {
		d, err := rec.descriptor(s)
		if err != nil {
			return nil, err
		}
		if _, dup := r.byID[d.ID]; dup {
			return nil, fmt.Errorf("roster: duplicate agent id %q", d.ID)
		}
		r.byID[d.ID] = d
		r.order = append(r.order, d.ID)
	}

	if _, ok := r.byID[r.planner]; !ok {
		return nil, fmt.Errorf("roster: planner %q is not a registered agent", r.planner)
	}
	if len(file.DefaultTeam) == 0 {
		return nil, errors.New("roster: default_team must not be empty")
	}
	for _, id := range file.DefaultTeam {
		if _, ok := r.byID[id]; !ok || id == r.planner {
			return nil, fmt.Errorf("roster: default team member %q must be a registered non-planner agent", id)
		}
	}
	r.defaultTeam = append([]string(nil), file.DefaultTeam...)

	teammates := r.Teammates()
	for id, d := range r.byID {
		d.teammates = teammates
		r.byID[id] = d
	}
	return r, nil
}

func (rec agentRecord) descriptor(s Settings) (Descriptor, error) {
	if rec.ID == "" {
		return Descriptor{}, errors.New("roster: agent without id")
	}
	if rec.Header == "" {
		return Descriptor{}, fmt.Errorf("roster: agent %q has no comment header", rec.ID)
	}
	tier := crew.Tier(rec.Tier)
	switch tier {
	case crew.TierStrong, crew.TierFast, crew.TierReason:
	case "":
		tier = crew.TierStrong
	default:
		return Descriptor{}, fmt.Errorf("roster: agent %q has unknown tier %q", rec.ID, rec.Tier)
	}

	task, err := template.New(rec.ID).Option("missingkey=error").Parse(rec.Task)
	if err != nil {
		return Descriptor{}, fmt.Errorf("roster: agent %q task template: %w", rec.ID, err)
	}
	backstory, err := renderStatic(rec.ID+"-backstory", rec.Backstory, s)
	if err != nil {
		return Descriptor{}, err
	}

	return Descriptor{
		ID:           rec.ID,
		Name:         rec.Name,
		Role:         rec.Role,
		Header:       rec.Header,
		Goal:         rec.Goal,
		Backstory:    backstory,
		Tier:         tier,
		Tools:        rec.Tools,
		BranchPrefix: rec.BranchPrefix,
		task:         task,
		expected:     rec.ExpectedOutput,
		settings:     s,
	}, nil
}

// renderStatic fills deployment settings into text that does not vary per issue.
func renderStatic(name, text string, s Settings) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("roster: %s: %w", name, err)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, s); err != nil {
		return "", fmt.Errorf("roster: %s: %w", name, err)
	}
	return b.String(), nil
}

// Lookup returns the descriptor for id.
func (r *Registry) Lookup(id string) (Descriptor, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// Planner returns the planning agent.
func (r *Registry) Planner() Descriptor {
	return r.byID[r.planner]
}

// Roster returns every descriptor in roster order.
func (r *Registry) Roster() []Descriptor {
	out := make([]Descriptor, len(r.order))
	for i, id := range r.order {
		out[i] = r.byID[id]
	}
	return out
}

// Teammates lists the agents the planner may select.
func (r *Registry) Teammates() []RosterEntry {
	out := make([]RosterEntry, 0, len(r.order))
	for _, id := range r.order {
		if id == r.planner {
			continue
		}
		d := r.byID[id]
		out = append(out, RosterEntry{ID: d.ID, Name: d.Name, Role: d.Role})
	}
	return out
}

// DefaultTeam is used whenever planning fails.
func (r *Registry) DefaultTeam() []string {
	return append([]string(nil), r.defaultTeam...)
}
