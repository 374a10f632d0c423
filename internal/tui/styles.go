package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/openllama/openllama/internal/chat"
)

// Color palette
var (
	Green = lipgloss.Color("10") // success, user label
	Red   = lipgloss.Color("9")  // errors
	Grey  = lipgloss.Color("8")  // muted text
	Blue  = lipgloss.Color("4")  // headers, assistant label
	White = lipgloss.Color("15") // header text
)

type Styles struct {
	Header    lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	Body      lipgloss.Style
	Muted     lipgloss.Style
	Error     lipgloss.Style
	Notice    lipgloss.Style
	Input     lipgloss.Style
}

// NewStyles binds the styles to a renderer for out. With noColor the
// renderer emits plain text whatever the terminal supports.
func NewStyles(out io.Writer, noColor bool) *Styles {
	var opts []termenv.OutputOption
	if noColor {
		opts = append(opts, termenv.WithProfile(termenv.Ascii))
	}
	r := lipgloss.NewRenderer(out, opts...)
	return &Styles{
		Header: r.NewStyle().
			Bold(true).
			Foreground(White).
			Background(Blue).
			Padding(0, 1),
		User: r.NewStyle().
			Bold(true).
			Foreground(Green),
		Assistant: r.NewStyle().
			Bold(true).
			Foreground(Blue),
		Body: r.NewStyle().
			PaddingLeft(2),
		Muted: r.NewStyle().
			Foreground(Grey),
		Error: r.NewStyle().
			Foreground(Red),
		Notice: r.NewStyle().
			Italic(true).
			Foreground(Grey),
		Input: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Grey),
	}
}

// statusLine renders the generation indicator and stats.
type statusLine struct {
	Spinner string
	State   chat.State
	Stats   chat.Stats
	Staged  []string
}

func (s statusLine) Render(styles *Styles) string {
	var b strings.Builder
	switch s.State {
	case chat.StateSending:
		b.WriteString(s.Spinner + " Thinking...")
	case chat.StateStreaming:
		b.WriteString(s.Spinner + " Responding...")
	case chat.StateCancelled:
		b.WriteString(styles.Muted.Render("Stopped"))
	case chat.StateFailed:
		b.WriteString(styles.Error.Render("Failed"))
	}

	if s.Stats.TokenCount > 0 {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(styles.Muted.Render(formatStats(s.Stats)))
	}
	if s.State == chat.StateSending || s.State == chat.StateStreaming {
		b.WriteString(" ")
		b.WriteString(styles.Muted.Render("(esc to stop)"))
	}
	if len(s.Staged) > 0 {
		if b.Len() > 0 {
			b.WriteString(styles.Muted.Render(" | "))
		}
		b.WriteString(styles.Muted.Render("Attached: " + strings.Join(s.Staged, ", ")))
	}
	return b.String()
}

// formatStats renders stats as "12 tokens | 4.1 tok/s | 2.9s".
func formatStats(st chat.Stats) string {
	return fmt.Sprintf("%d tokens | %.1f tok/s | %.1fs", st.TokenCount, st.TokensPerSecond, st.ElapsedSeconds)
}
