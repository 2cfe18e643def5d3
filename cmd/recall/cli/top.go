package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/aiovoice/recall"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#5F5FD7")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#04B575"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C6C6C"))
)

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Live dashboard of cache and store activity",
	Run: func(cmd *cobra.Command, args []string) {
		eng := startEngine()
		defer eng.Close()

		model := newDashboard(eng)
		if _, err := tea.NewProgram(model).Run(); err != nil {
			fmt.Printf("Dashboard error: %v\n", err)
		}
	},
}

func init() {
	RootCmd.AddCommand(topCmd)
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

type dashboard struct {
	eng *recall.Engine

	caches map[string]recall.CacheStats
	roles  []string
	store  recall.MemoryStoreStats
	bar    progress.Model

	quitting bool
}

func newDashboard(eng *recall.Engine) dashboard {
	d := dashboard{
		eng: eng,
		bar: progress.New(progress.WithDefaultGradient()),
	}
	d.refresh()
	return d
}

func (d *dashboard) refresh() {
	d.caches = d.eng.CacheStats()
	d.roles = d.roles[:0]
	for role := range d.caches {
		d.roles = append(d.roles, role)
	}
	sort.Strings(d.roles)
	d.store = d.eng.MemoryStoreStats(context.Background())
}

func (d dashboard) Init() tea.Cmd {
	return tick()
}

func (d dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.String() == "q" {
			d.quitting = true
			return d, tea.Quit
		}

	case tea.WindowSizeMsg:
		d.bar.Width = msg.Width - 30
		if d.bar.Width > 50 {
			d.bar.Width = 50
		}

	case tickMsg:
		d.refresh()
		return d, tick()
	}

	return d, nil
}

func (d dashboard) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(" recall "))
	b.WriteString("\n\n")

	b.WriteString(sectionStyle.Render("Caches"))
	b.WriteString("\n")
	for _, role := range d.roles {
		s := d.caches[role]
		fill := 0.0
		if s.MaxSize > 0 {
			fill = float64(s.Size) / float64(s.MaxSize)
		}
		b.WriteString(fmt.Sprintf("  %-8s %s %4d/%-4d  hits %d  misses %d  %.1f%%\n",
			role, d.bar.ViewAs(fill), s.Size, s.MaxSize, s.Hits, s.Misses, s.HitRate))
	}

	b.WriteString("\n")
	b.WriteString(sectionStyle.Render("Memory store"))
	b.WriteString("\n")
	if !d.store.Available {
		b.WriteString("  unavailable\n")
	} else {
		b.WriteString(fmt.Sprintf("  memories %d  embedded %d\n", d.store.Total, d.store.Embedded))
		if len(d.store.ByCategory) > 0 {
			categories := make([]string, 0, len(d.store.ByCategory))
			for cat := range d.store.ByCategory {
				categories = append(categories, cat)
			}
			sort.Strings(categories)
			var parts []string
			for _, cat := range categories {
				parts = append(parts, fmt.Sprintf("%s %d", cat, d.store.ByCategory[cat]))
			}
			b.WriteString("  " + strings.Join(parts, "  ") + "\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("q to quit"))
	b.WriteString("\n")

	if d.quitting {
		b.WriteString("\n")
	}
	return b.String()
}
