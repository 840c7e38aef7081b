// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Thermoquad/cardwatch/pkg/iso7816"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Error log entry
type errorLogEntry struct {
	offset  time.Duration
	message string
	isError bool // true for errors, false for info
}

// TUI model
type model struct {
	connInfo      string
	statsInterval int
	showAll       bool
	stats         *iso7816.Statistics
	errorLog      []errorLogEntry
	maxLogEntries int
	context       iso7816.Context
	params        iso7816.Params
	atr           []byte
	lastSW        string
	streamDone    bool
	logView       viewport.Model
	width         int
	height        int
	quitting      bool
}

// Messages
type tickMsg time.Time
type recordMsg struct {
	record           iso7816.Record
	validationErrors []iso7816.ValidationError
	context          iso7816.Context
	params           iso7816.Params
}
type streamEndMsg struct {
	err error
}

// Rows taken by everything above the event log
const tuiHeaderRows = 17

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	statsLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	statsValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func initialModel(connInfo string, statsInterval int, showAll bool) model {
	return model{
		connInfo:      connInfo,
		statsInterval: statsInterval,
		showAll:       showAll,
		stats:         iso7816.NewStatistics(),
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 500,
		context:       iso7816.ContextATR,
		params:        iso7816.DefaultParams(),
		logView:       viewport.New(76, 5),
		width:         80,
		height:        24,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.logView, cmd = m.logView.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.logView.Width = msg.Width - 4
		m.logView.Height = max(msg.Height-tuiHeaderRows, 5)
		m.refreshLog()

	case tickMsg:
		// Update statistics rates
		m.stats.CalculateRates()
		return m, tickCmd()

	case recordMsg:
		m.applyRecord(msg)

	case streamEndMsg:
		m.streamDone = true
		if msg.err != nil {
			m.addLogEntry(0, fmt.Sprintf("STREAM ERROR: %v", msg.err), true)
		} else {
			m.addLogEntry(0, "Stream ended", false)
		}
	}

	return m, nil
}

// applyRecord counts a decoded record and logs it when it matters
func (m *model) applyRecord(msg recordMsg) {
	r := msg.record
	m.stats.Update(r)
	m.context = msg.context
	m.params = msg.params

	switch {
	case r.Title == iso7816.TitleATR && r.Field == "TS":
		m.atr = append([]byte(nil), r.Decoded...)
		m.addLogEntry(r.Start, "Card reset: ATR started", false)
	case r.Title == iso7816.TitleATR:
		m.atr = append(m.atr, r.Decoded...)
	case r.Field == "SW1-SW2":
		m.lastSW = fmt.Sprintf("% X %s", r.Decoded, r.Value)
	}

	if len(msg.validationErrors) > 0 {
		for _, err := range msg.validationErrors {
			m.addLogEntry(r.Start, fmt.Sprintf("%s: %s", r.Title, err.Message), true)
		}
	} else if m.showAll {
		m.addLogEntry(r.Start, fmt.Sprintf("%s %s: %s", r.Title, r.Field, r.Value), false)
	}
}

func (m *model) addLogEntry(offset time.Duration, message string, isError bool) {
	entry := errorLogEntry{
		offset:  offset,
		message: message,
		isError: isError,
	}
	m.errorLog = append(m.errorLog, entry)

	// Keep only last N entries
	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
	m.refreshLog()
}

// refreshLog renders the log into the viewport, following the tail unless the
// user scrolled up
func (m *model) refreshLog() {
	follow := m.logView.AtBottom()

	if len(m.errorLog) == 0 {
		m.logView.SetContent(headerStyle.Render("  (no events yet)"))
		return
	}

	var content strings.Builder
	for _, entry := range m.errorLog {
		offset := headerStyle.Render(iso7816.FormatOffset(entry.offset))
		if entry.isError {
			content.WriteString(fmt.Sprintf("%s %s\n", offset, errorStyle.Render("✗ "+entry.message)))
		} else {
			content.WriteString(fmt.Sprintf("%s %s\n", offset, warningStyle.Render("ℹ "+entry.message)))
		}
	}
	m.logView.SetContent(content.String())
	if follow {
		m.logView.GotoBottom()
	}
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("CARDWATCH - ERROR DETECTION"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Mode: %s | ↑/↓ scroll, 'q' to quit",
		m.connInfo, func() string {
			if m.showAll {
				return "All records"
			}
			return "Errors only"
		}())))
	s.WriteString("\n\n")

	// Session state
	if m.streamDone {
		s.WriteString(warningStyle.Render("■ Stream ended"))
	} else if m.stats.TotalRecords == 0 {
		s.WriteString(warningStyle.Render("⏳ Waiting for an ATR..."))
	} else {
		s.WriteString(statsValueStyle.Render("✓ " + m.context.String()))
	}
	s.WriteString("\n")
	sessionContent := fmt.Sprintf("%s %s\n%s %s",
		statsLabelStyle.Render("ATR:"), statsValueStyle.Render(hexOrNone(m.atr)),
		statsLabelStyle.Render("Params:"), statsValueStyle.Render(iso7816.FormatParams(m.params)),
	)
	if m.lastSW != "" {
		sessionContent += fmt.Sprintf("\n%s %s", statsLabelStyle.Render("Last SW:"), statsValueStyle.Render(m.lastSW))
	}
	s.WriteString(boxStyle.Render(sessionContent))
	s.WriteString("\n")

	// Statistics
	m.stats.CalculateRates()
	var cleanPercent, errorPercent float64
	if m.stats.TotalRecords > 0 {
		cleanPercent = float64(m.stats.CleanRecords) * 100.0 / float64(m.stats.TotalRecords)
		errorPercent = float64(m.stats.Errors()) * 100.0 / float64(m.stats.TotalRecords)
	}

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.TotalRecords)),
		statsLabelStyle.Render("Clean:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", m.stats.CleanRecords, cleanPercent)),
		statsLabelStyle.Render("Anomalies:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", m.stats.Errors(), errorPercent)),
	))
	statsContent.WriteString(fmt.Sprintf("%s %d   %s %d   %s %d\n",
		statsLabelStyle.Render("ATRs:"), m.stats.ATRs,
		statsLabelStyle.Render("Commands:"), m.stats.Commands,
		statsLabelStyle.Render("T=1 Blocks:"), m.stats.Blocks,
	))

	if m.stats.ChecksumErrors > 0 || m.stats.PPSFailures > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Checksum:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.ChecksumErrors)),
			statsLabelStyle.Render("PPS:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.PPSFailures)),
		))
	}

	if m.stats.Ambiguities > 0 || m.stats.UnknownCodes > 0 || m.stats.MalformedValues > 0 || m.stats.UndefinedBytes > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s (%s: %d, %s: %d, %s: %d)\n",
			statsLabelStyle.Render("Decoding:"),
			warningStyle.Render(fmt.Sprintf("%d", m.stats.Ambiguities+m.stats.UnknownCodes+m.stats.MalformedValues+m.stats.UndefinedBytes)),
			headerStyle.Render("no APDU case"), m.stats.Ambiguities,
			headerStyle.Render("unknown codes"), m.stats.UnknownCodes,
			headerStyle.Render("malformed"), m.stats.MalformedValues+m.stats.UndefinedBytes,
		))
	}

	if sw := topStatusWords(m.stats, 4); sw != "" {
		statsContent.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Status words:"), sw))
	}

	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Record Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f recs/s", m.stats.RecordRate)),
		statsLabelStyle.Render("Error Rate:"), func() string {
			if m.stats.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f err/s", m.stats.ErrorRate))
			}
			return statsValueStyle.Render(fmt.Sprintf("%.1f err/s", m.stats.ErrorRate))
		}(),
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n")

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Width(m.width - 4).Render(m.logView.View()))

	return s.String()
}

// topStatusWords lists the most frequent status words, most frequent first
func topStatusWords(stats *iso7816.Statistics, n int) string {
	codes := make([]string, 0, len(stats.StatusWordsByCode))
	for code := range stats.StatusWordsByCode {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool {
		ci, cj := stats.StatusWordsByCode[codes[i]], stats.StatusWordsByCode[codes[j]]
		if ci != cj {
			return ci > cj
		}
		return codes[i] < codes[j]
	})
	if len(codes) > n {
		codes = codes[:n]
	}

	parts := make([]string, len(codes))
	for i, code := range codes {
		parts[i] = fmt.Sprintf("%s ×%d", code, stats.StatusWordsByCode[code])
	}
	return strings.Join(parts, ", ")
}

func hexOrNone(b []byte) string {
	if len(b) == 0 {
		return "(none)"
	}
	return fmt.Sprintf("% X", b)
}
