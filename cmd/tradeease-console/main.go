// Terminal monitor for a running tradeease server: live order book,
// positions with P&L, and auto-opposite engine state, polled over the REST
// API.
//
// Usage:
//
//	TRADEEASE_ADDR=localhost:8080 go run cmd/tradeease-console/main.go
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"tradeease/internal/httpapi"
)

// Styles.
var (
	headerBarStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4"))
	sectionStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("6"))
	colHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	gainStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	autoTagStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))

	statusStyles = map[string]lipgloss.Style{
		"COMPLETE":  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		"OPEN":      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11")),
		"REJECTED":  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		"CANCELLED": lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	}
)

func statusStyle(status string) lipgloss.Style {
	if s, ok := statusStyles[status]; ok {
		return s
	}
	// Transitional broker states render dim until they settle.
	return dimStyle
}

// Messages.
type tickMsg time.Time

type snapshotMsg struct {
	session   httpapi.SessionResponse
	orders    httpapi.OrdersResponse
	positions httpapi.PositionsResponse
	autotrade httpapi.AutoTradeResponse
	err       error
}

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// apiClient wraps the server's REST API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(addr string) *apiClient {
	return &apiClient{
		baseURL: "http://" + addr,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *apiClient) get(path string, out any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// fetchSnapshot pulls all four views in one command so the screen never
// shows a half-updated state.
func (c *apiClient) fetchSnapshot() tea.Msg {
	var msg snapshotMsg
	if err := c.get("/api/session", &msg.session); err != nil {
		msg.err = err
		return msg
	}
	if err := c.get("/api/orders", &msg.orders); err != nil {
		msg.err = err
		return msg
	}
	if err := c.get("/api/positions", &msg.positions); err != nil {
		msg.err = err
		return msg
	}
	if err := c.get("/api/autotrade", &msg.autotrade); err != nil {
		msg.err = err
		return msg
	}
	return msg
}

// Model.
type model struct {
	client *apiClient
	logger *slog.Logger

	session   httpapi.SessionResponse
	orders    []httpapi.OrderJSON
	positions httpapi.PositionsResponse
	autotrade httpapi.AutoTradeResponse
	lastErr   error
	fetchedAt time.Time

	viewport      viewport.Model
	ready         bool
	width, height int
}

func initialModel(client *apiClient, logger *slog.Logger) model {
	return model{client: client, logger: logger}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.client.fetchSnapshot, tickCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.client.fetchSnapshot
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := m.height - 2 // header + footer
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(m.width, vpHeight)
			m.viewport.MouseWheelEnabled = true
			m.ready = true
			m.viewport.SetContent(m.renderContent())
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = vpHeight
		}
		return m, nil

	case tickMsg:
		return m, m.client.fetchSnapshot

	case snapshotMsg:
		if msg.err != nil {
			m.lastErr = msg.err
			m.logger.Warn("snapshot fetch failed", "error", msg.err)
		} else {
			m.lastErr = nil
			m.session = msg.session
			m.orders = msg.orders.Orders
			m.positions = msg.positions
			m.autotrade = msg.autotrade
			m.fetchedAt = time.Now()
		}
		if m.ready {
			m.viewport.SetContent(m.renderContent())
		}
		return m, tickCmd()
	}

	if m.ready {
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

func (m model) View() string {
	if !m.ready {
		return "Connecting..."
	}

	sessionLabel := "signed out"
	if m.session.Authenticated {
		sessionLabel = "live"
		if m.session.Profile != nil {
			sessionLabel = m.session.Profile.UserID
		}
	}
	headerText := fmt.Sprintf(" TradeEase  %s    session: %s    P&L  realized %s  unrealized %s ",
		m.fetchedAt.Format("15:04:05"),
		sessionLabel,
		formatPL(m.positions.TotalRealized),
		formatPL(m.positions.TotalUnrealized),
	)
	header := headerBarStyle.Render(padOrTrunc(headerText, m.width))

	footerText := " q quit   r refresh   scroll with arrows/wheel "
	if m.lastErr != nil {
		footerText = fmt.Sprintf(" error: %v ", m.lastErr)
	}
	footer := dimStyle.Render(padOrTrunc(footerText, m.width))

	return header + "\n" + m.viewport.View() + "\n" + footer
}

func (m model) renderContent() string {
	var b strings.Builder

	b.WriteString(sectionStyle.Render(" ORDERS "))
	b.WriteString("\n")
	if len(m.orders) == 0 {
		b.WriteString(dimStyle.Render("  (no tracked orders)") + "\n")
	} else {
		b.WriteString(colHeaderStyle.Render(fmt.Sprintf("  %-14s %-22s %-4s %6s %6s %9s %9s  %-22s %s",
			"Order", "Symbol", "Side", "Qty", "Fill", "Price", "Avg", "Status", "Info")) + "\n")
		for _, o := range m.orders {
			tag := ""
			if o.IsAutoOrder {
				tag = autoTagStyle.Render(" [auto]")
			}
			b.WriteString(fmt.Sprintf("  %-14s %-22s %-4s %6d %6d %9.2f %9.2f  %s %s%s\n",
				o.OrderID, o.Symbol, o.Side, o.Quantity, o.FilledQty, o.Price, o.AveragePrice,
				statusStyle(o.Status).Render(fmt.Sprintf("%-22s", o.Status)),
				o.StatusMessage, tag))
		}
	}

	b.WriteString("\n")
	b.WriteString(sectionStyle.Render(" POSITIONS "))
	b.WriteString("\n")
	if len(m.positions.Positions) == 0 {
		b.WriteString(dimStyle.Render("  (flat)") + "\n")
	} else {
		b.WriteString(colHeaderStyle.Render(fmt.Sprintf("  %-22s %7s %9s %9s %12s %12s %12s",
			"Symbol", "Net", "Avg", "LTP", "Realized", "Unrealized", "Total")) + "\n")
		for _, p := range m.positions.Positions {
			b.WriteString(fmt.Sprintf("  %-22s %7d %9.2f %9.2f %12s %12s %12s\n",
				p.Symbol, p.NetQuantity, p.AvgPrice, p.CurrentPrice,
				formatPL(p.RealizedPL), formatPL(p.UnrealizedPL), formatPL(p.TotalPL)))
		}
	}

	b.WriteString("\n")
	b.WriteString(sectionStyle.Render(" AUTO-OPPOSITE "))
	b.WriteString("\n")
	if len(m.autotrade.Pending) == 0 && len(m.autotrade.Pairs) == 0 {
		b.WriteString(dimStyle.Render("  (idle)") + "\n")
	} else {
		for _, id := range m.autotrade.Pending {
			b.WriteString(fmt.Sprintf("  armed   %s\n", id))
		}
		for _, pair := range m.autotrade.Pairs {
			b.WriteString(fmt.Sprintf("  placed  %s -> %s  (offset %.2f, %s)\n",
				pair.ParentID, pair.ChildID, pair.Offset, pair.PlacedAt.Format("15:04:05")))
		}
	}

	return b.String()
}

// formatPL renders a signed amount green or red.
func formatPL(v float64) string {
	s := fmt.Sprintf("%+.2f", v)
	if v < 0 {
		return lossStyle.Render(s)
	}
	return gainStyle.Render(s)
}

func padOrTrunc(s string, width int) string {
	if len(s) > width {
		if width < 1 {
			return ""
		}
		return s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}

func main() {
	addr := "localhost:8080"
	if a := os.Getenv("TRADEEASE_ADDR"); a != "" {
		addr = a
	}

	logPath := fmt.Sprintf("/tmp/tradeease-console-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()
	logger := slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: slog.LevelInfo}))

	client := newAPIClient(addr)
	logger.Info("console starting", "addr", addr)

	p := tea.NewProgram(
		initialModel(client, logger),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
