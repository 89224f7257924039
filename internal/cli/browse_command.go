package cli

import (
	"errors"
	"flag"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"launcher-archiver/internal/config"
	"launcher-archiver/internal/store"
)

var (
	browseTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	browseMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	browsePanelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	browseSelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62")).Bold(true)
	browseStageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

type browseModel struct {
	archiveRoot string
	records     []store.Record
	cursor      int
	width       int
	height      int
	detail      viewport.Model
	ready       bool
}

func runBrowse(args []string) error {
	fs := flag.NewFlagSet("browse", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "config file path")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !stdinIsTTY() {
		return errors.New("browse requires an interactive terminal (TTY)")
	}

	cfg, err := config.Load(strings.TrimSpace(*configPath))
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.ArchiveRoot)
	if err != nil {
		return err
	}
	records, err := st.List()
	if err != nil {
		return err
	}

	m := browseModel{archiveRoot: st.Root(), records: records}
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "tty") {
			return errors.New("browse requires an interactive terminal (TTY)")
		}
		return err
	}
	return nil
}

func (m browseModel) Init() tea.Cmd { return nil }

func (m browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		detailWidth := m.width - m.listWidth() - 6
		if detailWidth < 20 {
			detailWidth = 20
		}
		detailHeight := m.height - 6
		if detailHeight < 5 {
			detailHeight = 5
		}
		if !m.ready {
			m.detail = viewport.New(detailWidth, detailHeight)
			m.ready = true
		} else {
			m.detail.Width = detailWidth
			m.detail.Height = detailHeight
		}
		m.detail.SetContent(m.detailText())
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
				m.detail.SetContent(m.detailText())
				m.detail.GotoTop()
			}
			return m, nil
		case "down", "j":
			if m.cursor < len(m.records)-1 {
				m.cursor++
				m.detail.SetContent(m.detailText())
				m.detail.GotoTop()
			}
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.detail, cmd = m.detail.Update(msg)
	return m, cmd
}

func (m browseModel) View() string {
	if len(m.records) == 0 {
		return browseTitleStyle.Render("launcher-archiver") + "\n\n" +
			browseMutedStyle.Render("no archived versions under "+m.archiveRoot) + "\n\n" +
			browseMutedStyle.Render("q: quit") + "\n"
	}

	var list strings.Builder
	for i, rec := range m.records {
		line := rec.FullVersion
		if i == m.cursor {
			line = browseSelStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		list.WriteString(line + "\n")
	}

	left := browsePanelStyle.Render(list.String())
	right := browsePanelStyle.Render(m.detail.View())
	body := lipgloss.JoinHorizontal(lipgloss.Top, left, right)

	return browseTitleStyle.Render("launcher-archiver: "+m.archiveRoot) + "\n" +
		body + "\n" +
		browseMutedStyle.Render("up/down: select   pgup/pgdn: scroll detail   q: quit") + "\n"
}

func (m browseModel) listWidth() int {
	w := 20
	for _, rec := range m.records {
		if len(rec.FullVersion) > w {
			w = len(rec.FullVersion)
		}
	}
	return w + 4
}

func (m browseModel) detailText() string {
	if m.cursor < 0 || m.cursor >= len(m.records) {
		return ""
	}
	rec := m.records[m.cursor]

	var b strings.Builder
	fmt.Fprintf(&b, "version:    %s\n", rec.Version)
	fmt.Fprintf(&b, "channel:    %s\n", rec.Channel)
	fmt.Fprintf(&b, "stage:      %s\n", browseStageStyle.Render(rec.Stage))
	fmt.Fprintf(&b, "discovered: %s\n", rec.DiscoveredAt)
	if rec.DownloadedAt != "" {
		fmt.Fprintf(&b, "downloaded: %s\n", rec.DownloadedAt)
	}
	if rec.ExtractedAt != "" {
		fmt.Fprintf(&b, "extracted:  %s\n", rec.ExtractedAt)
	}
	if rec.LauncherPath != "" {
		fmt.Fprintf(&b, "launcher:   %s\n", rec.LauncherPath)
	}
	if len(rec.Harvests) > 0 {
		b.WriteString("\nharvests:\n")
		platforms := make([]string, 0, len(rec.Harvests))
		for p := range rec.Harvests {
			platforms = append(platforms, p)
		}
		sort.Strings(platforms)
		for _, p := range platforms {
			h := rec.Harvests[p]
			fmt.Fprintf(&b, "  %s: %s (%d copied, %d excluded)\n", p, h.HarvestedAt, h.FilesCopied, h.FilesExcluded)
		}
	}
	return b.String()
}
