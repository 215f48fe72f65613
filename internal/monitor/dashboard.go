// Package monitor renders a live terminal dashboard for a patternd server.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/patternd/internal/confidence"
	httpapi "github.com/fyrsmithlabs/patternd/internal/http"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
)

// Model is the Bubble Tea dashboard model.
type Model struct {
	serverURL  string
	interval   time.Duration
	lastUpdate time.Time
	status     httpapi.StatusResponse
	haveStatus bool
	err        error
	quitting   bool
	now        func() time.Time

	thresholdHistory []float64
	patternHistory   []float64
	hitRateHistory   []float64

	thresholdBar progress.Model
	hitRateBar   progress.Model
}

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("214")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("180"))

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
			Foreground(lipgloss.Color("214")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))
)

// NewModel creates a dashboard polling serverURL every interval.
func NewModel(serverURL string, interval time.Duration) Model {
	return Model{
		serverURL: serverURL,
		interval:  interval,
		now:       time.Now,

		thresholdHistory: make([]float64, 0, historySize),
		patternHistory:   make([]float64, 0, historySize),
		hitRateHistory:   make([]float64, 0, historySize),

		thresholdBar: progress.New(
			progress.WithGradient("#00ff00", "#ff0000"),
			progress.WithWidth(40),
		),
		hitRateBar: progress.New(
			progress.WithGradient("#ff8700", "#00ff87"),
			progress.WithWidth(40),
		),
	}
}

// thresholdPosition places v within the controller bounds, 0 at the minimum.
func thresholdPosition(v float64) float64 {
	return clampUnit((v - confidence.MinThreshold) / (confidence.MaxThreshold - confidence.MinThreshold))
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// thresholdBadge flags a threshold that has climbed toward the maximum, which
// means cached patterns have been failing.
func thresholdBadge(v float64) string {
	pos := thresholdPosition(v)
	switch {
	case pos < 0.6:
		return healthyStyle.Render("[✓]")
	case pos < 0.9:
		return warningStyle.Render("[⚠]")
	default:
		return errorStyle.Render("[✗]")
	}
}

func statusBadge(status string) string {
	if status == "ok" {
		return healthyStyle.Render("✓ HEALTHY")
	}
	return warningStyle.Render("⚠ " + status)
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

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

type tickMsg time.Time
type statusMsg httpapi.StatusResponse
type errMsg error

// Init starts polling.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchStatus(m.serverURL),
	)
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchStatus(serverURL string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		status, err := NewStatusClient(serverURL).Status(ctx)
		if err != nil {
			return errMsg(err)
		}
		return statusMsg(status)
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchStatus(m.serverURL)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetchStatus(m.serverURL),
		)

	case statusMsg:
		next := httpapi.StatusResponse(msg)

		// Hit rate over the last interval, from the change in the running totals.
		if m.haveStatus {
			dh := next.Decisions.Hits - m.status.Decisions.Hits
			dm := next.Decisions.Misses - m.status.Decisions.Misses
			if dh >= 0 && dm >= 0 && dh+dm > 0 {
				m.hitRateHistory = appendToHistory(m.hitRateHistory, HitRate(dh, dm)*100)
			}
		}
		m.thresholdHistory = appendToHistory(m.thresholdHistory, next.Threshold)
		if next.Patterns >= 0 {
			m.patternHistory = appendToHistory(m.patternHistory, float64(next.Patterns))
		}

		m.status = next
		m.haveStatus = true
		m.lastUpdate = m.now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard.
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
	header := headerStyle.Render("patternd Monitor")

	var content string
	content += "\n"
	content += errorStyle.Render("⚠ Cannot reach patternd") + "\n"
	content += "\n"
	content += dimStyle.Render("URL: ") + valueStyle.Render(m.serverURL) + "\n"
	content += dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n"
	content += "\n"
	content += dimStyle.Render("Start the daemon with: patternd --config ~/.config/patternd/config.yaml") + "\n"
	content += "\n"
	content += footerStyle.Render("[q] quit  [r] retry") + "\n"

	return containerStyle.Render(header + "\n" + content)
}

func (m Model) renderDashboard() string {
	var content string
	s := m.status

	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}

	header := headerStyle.Render(" patternd Monitor ")
	badge := dimStyle.Render("waiting for data")
	if m.haveStatus {
		badge = statusBadge(s.Status)
	}
	content += header + "\n"
	content += fmt.Sprintf("%s   %s   %s",
		badge,
		dimStyle.Render("Version:"),
		valueStyle.Render(orDash(s.Version))) +
		"   " + dimStyle.Render(lastUpdateStr) + "\n"

	// Patterns
	content += "\n" + sectionStyle.Render("┃ Patterns") + "\n"
	indexBadge := healthyStyle.Render("[✓]")
	if s.Indexed >= 0 && s.Patterns >= 0 && s.Indexed != s.Patterns {
		indexBadge = warningStyle.Render("[⚠]")
	}
	content += labelStyle.Render("  Stored: ") +
		valueStyle.Render(FormatCount(s.Patterns)) +
		labelStyle.Render("  Indexed: ") +
		valueStyle.Render(FormatCount(s.Indexed)) +
		" " + indexBadge +
		"   " + createSparkline(m.patternHistory) + "\n"

	// Confidence threshold
	content += "\n" + sectionStyle.Render("┃ Confidence") + "\n"
	content += labelStyle.Render("  Threshold: ") +
		valueStyle.Render(FormatThreshold(s.Threshold)) +
		" " + thresholdBadge(s.Threshold) +
		"   " + createSparkline(m.thresholdHistory) + "\n"
	content += labelStyle.Render("  Range: ") +
		m.thresholdBar.ViewAs(thresholdPosition(s.Threshold)) +
		" " + dimStyle.Render(fmt.Sprintf("%s-%s",
		FormatThreshold(confidence.MinThreshold), FormatThreshold(confidence.MaxThreshold))) + "\n"

	// Cache decisions
	content += "\n" + sectionStyle.Render("┃ Cache Decisions") + "\n"
	rate := HitRate(s.Decisions.Hits, s.Decisions.Misses)
	content += labelStyle.Render("  Hits: ") +
		valueStyle.Render(fmt.Sprintf("%d", s.Decisions.Hits)) +
		labelStyle.Render("  Misses: ") +
		valueStyle.Render(fmt.Sprintf("%d", s.Decisions.Misses)) +
		"   " + createSparkline(m.hitRateHistory) + "\n"
	content += labelStyle.Render("  Hit rate: ") +
		m.hitRateBar.ViewAs(rate) +
		" " + dimStyle.Render(FormatPercentage(rate)) + "\n"

	// Pruner
	content += "\n" + sectionStyle.Render("┃ Pruner") + "\n"
	switch {
	case s.Scheduler == nil:
		content += labelStyle.Render("  Scheduler: ") + dimStyle.Render("disabled") + "\n"
	case s.Scheduler.Running:
		content += labelStyle.Render("  Scheduler: ") + healthyStyle.Render("running") + "\n"
	default:
		content += labelStyle.Render("  Scheduler: ") + warningStyle.Render("stopped") + "\n"
	}
	if lp := s.LastPrune; lp != nil {
		content += labelStyle.Render("  Last run: ") +
			valueStyle.Render(FormatAgo(lp.StartedAt, m.now())) +
			labelStyle.Render("  Pruned: ") +
			valueStyle.Render(fmt.Sprintf("%d", lp.Pruned)) +
			labelStyle.Render("  Remaining: ") +
			valueStyle.Render(fmt.Sprintf("%d", lp.Remaining)) + "\n"
		if lp.Error != "" {
			content += labelStyle.Render("  Error: ") + errorStyle.Render(lp.Error) + "\n"
		}
	} else {
		content += labelStyle.Render("  Last run: ") + dimStyle.Render("never") + "\n"
	}

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))
	content += "\n" + footer

	return containerStyle.Render(content)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
