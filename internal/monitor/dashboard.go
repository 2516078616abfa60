package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	crewhttp "github.com/fyrsmithlabs/crewd/internal/http"
	"github.com/fyrsmithlabs/crewd/internal/runstate"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	fetchTimeout    = 5 * time.Second
	maxResultLines  = 6
)

// Model is the BubbleTea model behind `crewctl top`.
type Model struct {
	client     *Client
	interval   time.Duration
	lastUpdate time.Time
	status     *crewhttp.StatusResponse
	err        error
	notice     string
	quitting   bool
	now        func() time.Time

	// tokens and calls per refresh, for the sparklines
	tokenHistory []float64
	callHistory  []float64

	usageProgress progress.Model
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard that refreshes from client every interval.
func NewModel(client *Client, interval time.Duration) Model {
	return Model{
		client:   client,
		interval: interval,
		now:      time.Now,
		usageProgress: progress.New(
			progress.WithGradient("#00ff00", "#ff0000"),
			progress.WithWidth(40),
		),
		tokenHistory: make([]float64, 0, historySize),
		callHistory:  make([]float64, 0, historySize),
	}
}

// getStatusBadge returns the overall badge for a status reply.
func getStatusBadge(s *crewhttp.StatusResponse) string {
	switch {
	case s.Usage.OverLimit:
		return errorStyle.Render("✗ OVER LIMIT")
	case s.Running:
		return warningStyle.Render("● RUNNING")
	default:
		return healthyStyle.Render("✓ IDLE")
	}
}

// getAgentBadge returns a colored marker for an agent state.
func getAgentBadge(state runstate.AgentState) string {
	switch state {
	case runstate.StateWorking:
		return warningStyle.Render("[●]")
	case runstate.StateDone:
		return healthyStyle.Render("[✓]")
	default:
		return dimStyle.Render("[ ]")
	}
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()

	return sparklineStyle.Render(spark.View())
}

// Message types
type tickMsg time.Time
type statusMsg *crewhttp.StatusResponse
type resetMsg struct{}
type errMsg error

// Init starts the refresh loop.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchStatus(m.client),
	)
}

// tick creates a tick command for auto-refresh
func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchStatus reads GET /api/status.
func fetchStatus(client *Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		status, err := client.Status(ctx)
		if err != nil {
			return errMsg(err)
		}
		return statusMsg(status)
	}
}

// resetUsage calls POST /api/usage/reset.
func resetUsage(client *Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		if _, err := client.ResetUsage(ctx); err != nil {
			return errMsg(err)
		}
		return resetMsg{}
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchStatus(m.client)
		case "u":
			return m, resetUsage(m.client)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetchStatus(m.client),
		)

	case statusMsg:
		status := (*crewhttp.StatusResponse)(msg)
		m.tokenHistory = appendToHistory(m.tokenHistory, float64(status.Usage.TotalTokens))
		m.callHistory = appendToHistory(m.callHistory, float64(status.Usage.Calls))
		m.status = status
		m.lastUpdate = m.now()
		m.err = nil
		return m, nil

	case resetMsg:
		m.notice = "usage counters reset"
		m.tokenHistory = m.tokenHistory[:0]
		m.callHistory = m.callHistory[:0]
		return m, fetchStatus(m.client)

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	header := headerStyle.Render(" crewd Monitor ")

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(errorStyle.Render("⚠ Cannot reach the crewd dashboard") + "\n\n")
	b.WriteString(dimStyle.Render("URL: ") + valueStyle.Render(m.client.BaseURL()) + "\n")
	b.WriteString(dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n\n")
	b.WriteString(dimStyle.Render("Start it with: crewd serve") + "\n")
	b.WriteString(footerStyle.Render("[q] quit  [r] retry") + "\n")

	return containerStyle.Render(header + "\n" + b.String())
}

func (m Model) renderDashboard() string {
	var b strings.Builder
	now := m.now()

	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}
	b.WriteString(headerStyle.Render(" crewd Monitor ") + "\n")

	if m.status == nil {
		b.WriteString(dimStyle.Render("waiting for first status...") + "\n")
		b.WriteString("\n" + m.renderFooter())
		return containerStyle.Render(b.String())
	}
	s := m.status

	b.WriteString(fmt.Sprintf("%s   %s %s   %s\n",
		getStatusBadge(s),
		dimStyle.Render("Runs:"),
		valueStyle.Render(fmt.Sprintf("%d", s.CompletedRuns)),
		dimStyle.Render(lastUpdateStr)))

	b.WriteString("\n" + sectionStyle.Render("┃ Current Run") + "\n")
	if run := s.CurrentRun; run != nil {
		step := "complete"
		if run.StepIndex != runstate.StepDone {
			step = fmt.Sprintf("%d of %d", run.StepIndex+1, len(s.ActiveAgents))
		}
		b.WriteString(labelStyle.Render("  Issue: ") + valueStyle.Render(fmt.Sprintf("#%d", run.Issue)) +
			dimStyle.Render("  run "+run.RunID) + "\n")
		b.WriteString(labelStyle.Render("  Step: ") + valueStyle.Render(step) +
			labelStyle.Render("  Elapsed: ") + valueStyle.Render(FormatDuration(now.Sub(run.StartedAt))) + "\n")
		for _, st := range run.Steps {
			b.WriteString(dimStyle.Render(fmt.Sprintf("    %s: ", st.AgentID)) + firstLine(st.Summary) + "\n")
		}
	} else {
		b.WriteString(dimStyle.Render("  no run in progress") + "\n")
	}

	b.WriteString("\n" + sectionStyle.Render("┃ Agents") + "\n")
	for _, a := range s.AllAgents {
		state := runstate.StateIdle
		for _, active := range s.ActiveAgents {
			if active.ID == a.ID {
				state = active.State
				break
			}
		}
		b.WriteString("  " + getAgentBadge(state) + " " + valueStyle.Render(a.ID) + dimStyle.Render("  "+a.Role) + "\n")
	}

	u := s.Usage
	b.WriteString("\n" + sectionStyle.Render("┃ Usage") + "\n")
	b.WriteString(labelStyle.Render("  Tokens: ") +
		valueStyle.Render(FormatLimit(u.TotalTokens, u.Limits.Tokens)) +
		"   " + createSparkline(m.tokenHistory) + "\n")
	b.WriteString(labelStyle.Render("  Calls: ") +
		valueStyle.Render(FormatLimit(u.Calls, u.Limits.Calls)) +
		"   " + createSparkline(m.callHistory) + "\n")
	ratio := usageRatio(u.TotalTokens, u.Limits.Tokens, u.Calls, u.Limits.Calls)
	b.WriteString(labelStyle.Render("  Limit: ") +
		m.usageProgress.ViewAs(ratio) +
		" " + dimStyle.Render(FormatPercentage(ratio)) + "\n")
	b.WriteString(labelStyle.Render("  Cost: ") + valueStyle.Render(FormatCost(u.EstimatedCostUSD)) +
		dimStyle.Render(" ("+u.CostModel+")") + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ Last Result") + "\n")
	b.WriteString(dimStyle.Render("  "+FormatSince(s.LastRunAt, now)) + "\n")
	if s.LastResult != "" {
		for _, line := range headLines(s.LastResult, maxResultLines) {
			b.WriteString("  " + line + "\n")
		}
	}

	if m.notice != "" {
		b.WriteString("\n" + healthyStyle.Render(m.notice) + "\n")
	}
	b.WriteString("\n" + m.renderFooter())
	return containerStyle.Render(b.String())
}

func (m Model) renderFooter() string {
	return footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerKeyStyle.Render("[u]") + footerStyle.Render(" reset usage  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func headLines(s string, n int) []string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = append(lines[:n], "...")
	}
	return lines
}
