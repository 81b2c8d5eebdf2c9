// Command flight-tui is a terminal dashboard that tracks one flight and
// redraws its progress every second.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/unklstewy/flight-tracker/internal/app"
	"github.com/unklstewy/flight-tracker/internal/logging"
	"github.com/unklstewy/flight-tracker/internal/session"
	"github.com/unklstewy/flight-tracker/pkg/config"
	"github.com/unklstewy/flight-tracker/pkg/flight"
	"github.com/unklstewy/flight-tracker/pkg/progress"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(12)
	liveStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	offlineStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(1, 2)
)

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// tracker is the part of the session the dashboard drives.
type tracker interface {
	SetOfflineMode(offline bool)
	State() session.State
	Latest() (progress.Result, bool)
}

type model struct {
	tracker tracker
	flight  flight.Flight
	offline bool
	result  progress.Result
	hasData bool
	width   int
	now     time.Time
}

func (m model) Init() tea.Cmd {
	return tick()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "o":
			m.offline = !m.offline
			m.tracker.SetOfflineMode(m.offline)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tickMsg:
		m.now = time.Time(msg)
		if res, ok := m.tracker.Latest(); ok {
			m.result = res
			m.hasData = true
		}
		return m, tick()
	}

	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	s := m.flight.Schedule
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s  %s → %s",
		m.flight.FlightNumber, s.Departure.Code(), s.Arrival.Code())))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(fmt.Sprintf("%s to %s", s.Departure.Name, s.Arrival.Name)))
	b.WriteString("\n\n")

	state := m.tracker.State()
	stateText := state.String()
	if state == session.StateTrackingOnline {
		b.WriteString(row("State", liveStyle.Render(stateText)))
	} else {
		b.WriteString(row("State", offlineStyle.Render(stateText)))
	}

	if !m.hasData {
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("waiting for the first estimate..."))
		b.WriteString("\n")
		return m.frame(b.String())
	}

	barWidth := 40
	if m.width > 0 && m.width-30 < barWidth {
		barWidth = max(10, m.width-30)
	}

	res := m.result
	b.WriteString(row("Progress", progressBar(res.Fraction(), barWidth)))
	pos := res.Position()
	b.WriteString(row("Position", fmt.Sprintf("%.4f, %.4f", pos.Latitude, pos.Longitude)))
	b.WriteString(row("Over", res.LocationName()))

	switch {
	case res.Live != nil:
		live := res.Live
		b.WriteString(row("Source", liveStyle.Render("live "+live.VehicleID)))
		b.WriteString(row("Altitude", fmt.Sprintf("%.0f m", live.AltitudeM)))
		b.WriteString(row("Speed", fmt.Sprintf("%.0f km/h", live.SpeedMps*3.6)))
		b.WriteString(row("Heading", fmt.Sprintf("%.0f°", live.HeadingDeg)))
		b.WriteString(row("Remaining", fmt.Sprintf("%.0f km", live.DistanceRemainingKm)))
		b.WriteString(row("ETA", formatETA(time.Duration(live.ETASeconds*float64(time.Second)))))
	case res.Offline != nil:
		off := res.Offline
		b.WriteString(row("Source", offlineStyle.Render("schedule estimate")))
		b.WriteString(row("Elapsed", formatETA(time.Duration(off.ElapsedSeconds*float64(time.Second)))))
		b.WriteString(row("ETA", formatETA(time.Duration(off.RemainingSeconds*float64(time.Second)))))
	}

	if !res.ComputedAt().IsZero() && !m.now.IsZero() {
		age := m.now.Sub(res.ComputedAt()).Round(time.Second)
		b.WriteString(row("Updated", fmt.Sprintf("%s ago", age)))
	}

	return m.frame(b.String())
}

func (m model) frame(body string) string {
	help := "o: toggle offline mode • q: quit"
	if m.offline {
		help = "o: go back online • q: quit"
	}
	return boxStyle.Render(body) + "\n" + helpStyle.Render(help) + "\n"
}

func row(label, value string) string {
	return labelStyle.Render(label) + value + "\n"
}

// progressBar renders fraction as a bar of width cells followed by a
// percentage.
func progressBar(fraction float64, width int) string {
	if width <= 0 {
		return ""
	}
	fraction = min(1, max(0, fraction))
	filled := int(fraction*float64(width) + 0.5)
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]" +
		fmt.Sprintf(" %5.1f%%", fraction*100)
}

// formatETA prints d as "1h05m", "12m30s" or "45s".
func formatETA(d time.Duration) string {
	if d <= 0 {
		return "arrived"
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// buildFlight resolves the route flags against the airport directory.
func buildFlight(dir *flight.Directory, number, from, to string, departed time.Duration, now time.Time) (flight.Flight, error) {
	dep, ok := dir.Find(from)
	if !ok {
		return flight.Flight{}, fmt.Errorf("unknown departure airport %q", from)
	}
	arr, ok := dir.Find(to)
	if !ok {
		return flight.Flight{}, fmt.Errorf("unknown arrival airport %q", to)
	}

	schedule := flight.NewRouteSchedule(dep, arr, now.Add(-departed).UTC())
	if err := schedule.Validate(); err != nil {
		return flight.Flight{}, err
	}
	return flight.New(number, schedule), nil
}

func main() {
	configPath := flag.String("config", "configs/config.json", "Path to configuration file")
	from := flag.String("from", "LAX", "Departure airport (IATA or ICAO)")
	to := flag.String("to", "JFK", "Arrival airport (IATA or ICAO)")
	departed := flag.Duration("departed", 90*time.Minute, "How long ago the flight departed")
	number := flag.String("flight", "UA123", "Flight number")
	offline := flag.Bool("offline", false, "Start in offline mode")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Log lines on the terminal would tear the dashboard
	logger := zap.NewNop()
	if cfg.Logging.File != "" {
		logger, err = logging.NewWithWriter(cfg.Logging, io.Discard)
		if err != nil {
			log.Fatalf("Failed to set up logging: %v", err)
		}
	}
	defer logger.Sync()

	f, err := buildFlight(flight.DefaultDirectory(), *number, *from, *to, *departed, time.Now())
	if err != nil {
		log.Fatalf("Invalid flight: %v", err)
	}

	engine, err := app.NewEngine(cfg, nil, logger)
	if err != nil {
		log.Fatalf("Failed to build tracking engine: %v", err)
	}
	defer engine.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine.Session.SetOfflineMode(*offline)
	if err := engine.Session.Start(ctx, f); err != nil {
		log.Fatalf("Failed to start tracking: %v", err)
	}

	m := model{
		tracker: engine.Session,
		flight:  f,
		offline: *offline,
	}

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}
