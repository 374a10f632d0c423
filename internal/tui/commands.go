package tui

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sahilm/fuzzy"

	"github.com/openllama/openllama/internal/chat"
	"github.com/openllama/openllama/internal/llm"
)

// Command is a slash command typed into the input box.
type Command struct {
	Name        string
	Aliases     []string
	Usage       string
	Description string

	run func(m *Model, arg string) (tea.Model, tea.Cmd)
}

func (c Command) matches(name string) bool {
	return c.Name == name || slices.Contains(c.Aliases, name)
}

// AllCommands lists the slash commands in help order.
func AllCommands() []Command {
	noArg := func(f func(*Model) (tea.Model, tea.Cmd)) func(*Model, string) (tea.Model, tea.Cmd) {
		return func(m *Model, _ string) (tea.Model, tea.Cmd) { return f(m) }
	}
	return []Command{
		{"help", []string{"h", "?"}, "/help", "List commands and key bindings", noArg((*Model).cmdHelp)},
		{"new", []string{"n"}, "/new", "Open a fresh chat", noArg((*Model).cmdNew)},
		{"switch", []string{"s", "open"}, "/switch <n|title>", "Jump to a chat by number or title", (*Model).cmdSwitch},
		{"sessions", []string{"ls"}, "/sessions", "List chats grouped by date", noArg((*Model).cmdSessions)},
		{"rename", nil, "/rename <title>", "Retitle the current chat", (*Model).cmdRename},
		{"delete", []string{"rm"}, "/delete", "Remove the current chat", noArg((*Model).cmdDelete)},
		{"model", []string{"m"}, "/model <id>", "Change the model of the current chat", (*Model).cmdModel},
		{"attach", []string{"a", "file"}, "/attach <path|glob>", "Stage files for the next message", (*Model).cmdAttach},
		{"detach", nil, "/detach [name]", "Drop staged attachments", (*Model).cmdDetach},
		{"stop", nil, "/stop", "Cancel the reply being generated", noArg((*Model).cmdStop)},
		{"quit", []string{"q", "exit"}, "/quit", "Leave the chat", noArg((*Model).quit)},
	}
}

type commandNames []Command

func (c commandNames) String(i int) string { return c[i].Name }
func (c commandNames) Len() int            { return len(c) }

// FilterCommands resolves a typed command name. An exact name or alias wins,
// then name prefixes, then fuzzy matches.
func FilterCommands(query string) []Command {
	all := AllCommands()
	query = strings.ToLower(strings.TrimPrefix(query, "/"))
	if query == "" {
		return all
	}
	if i := slices.IndexFunc(all, func(c Command) bool { return c.matches(query) }); i >= 0 {
		return all[i : i+1]
	}

	var found []Command
	for _, c := range all {
		if strings.HasPrefix(c.Name, query) {
			found = append(found, c)
		}
	}
	if len(found) > 0 {
		return found
	}
	for _, match := range fuzzy.FindFrom(query, commandNames(all)) {
		found = append(found, all[match.Index])
	}
	return found
}

type sessionTitles []chat.Session

func (s sessionTitles) String(i int) string { return s[i].Title }
func (s sessionTitles) Len() int            { return len(s) }

// ExecuteCommand runs the slash command typed in input.
func (m *Model) ExecuteCommand(input string) (tea.Model, tea.Cmd) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return m, nil
	}
	name := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	args := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(input), parts[0]))

	matches := FilterCommands(name)
	if len(matches) == 0 {
		return m.showNotice(fmt.Sprintf("Unknown command: /%s. Type /help for available commands.", name))
	}
	if len(matches) > 1 {
		var names []string
		for _, c := range matches {
			names = append(names, "/"+c.Name)
		}
		return m.showNotice(fmt.Sprintf("Ambiguous command: /%s. Did you mean: %s?", name, strings.Join(names, ", ")))
	}

	m.textarea.SetValue("")
	return matches[0].run(m, args)
}

func (m *Model) showNotice(content string) (tea.Model, tea.Cmd) {
	m.textarea.SetValue("")
	m.notice = content
	m.refreshViewport()
	return m, nil
}

func (m *Model) cmdHelp() (tea.Model, tea.Cmd) {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, c := range AllCommands() {
		usage := c.Usage
		if len(c.Aliases) > 0 {
			usage += " (" + strings.Join(c.Aliases, ", ") + ")"
		}
		fmt.Fprintf(&b, "  %-32s %s\n", usage, c.Description)
	}
	b.WriteString("Keys: Enter send, Ctrl+J newline, Esc stop, Ctrl+N new chat, Alt+Up/Down switch chat, Ctrl+C quit")
	return m.showNotice(b.String())
}

func (m *Model) cmdStop() (tea.Model, tea.Cmd) {
	m.ctrl.Stop()
	return m, nil
}

func (m *Model) cmdNew() (tea.Model, tea.Cmd) {
	if _, err := m.ctrl.NewSession(m.ctx, m.defaultModel); err != nil {
		return m.showNotice("New chat failed: " + err.Error())
	}
	m.syncFromStore()
	return m.showNotice("")
}

func (m *Model) cmdSwitch(arg string) (tea.Model, tea.Cmd) {
	if arg == "" {
		return m.showNotice("Usage: /switch <n|title>")
	}
	sessions := m.ctrl.Store().Sessions()
	var target string
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(sessions) {
			return m.showNotice(fmt.Sprintf("No chat #%d (have %d).", n, len(sessions)))
		}
		target = sessions[n-1].ID
	} else {
		found := fuzzy.FindFrom(arg, sessionTitles(sessions))
		if len(found) == 0 {
			return m.showNotice(fmt.Sprintf("No chat matches %q.", arg))
		}
		target = sessions[found[0].Index].ID
	}
	if err := m.ctrl.SelectSession(target); err != nil {
		return m.showNotice(err.Error())
	}
	m.syncFromStore()
	return m.showNotice("")
}

func (m *Model) cmdSessions() (tea.Model, tea.Cmd) {
	number := make(map[string]int, len(m.sessions))
	for i, s := range m.sessions {
		number[s.ID] = i + 1
	}
	var b strings.Builder
	for _, g := range chat.GroupByDate(m.sessions, m.now()) {
		b.WriteString(g.Label + ":\n")
		for _, s := range g.Sessions {
			marker := " "
			if s.ID == m.activeID {
				marker = "*"
			}
			fmt.Fprintf(&b, " %s %2d. %s\n", marker, number[s.ID], chat.FitTitle(s.Title, 40))
		}
	}
	return m.showNotice(strings.TrimRight(b.String(), "\n"))
}

func (m *Model) cmdRename(title string) (tea.Model, tea.Cmd) {
	if title == "" {
		return m.showNotice("Usage: /rename <title>")
	}
	if err := m.ctrl.Store().Rename(m.ctx, m.activeID, title); err != nil {
		return m.showNotice("Rename failed: " + err.Error())
	}
	m.syncFromStore()
	return m.showNotice("")
}

func (m *Model) cmdDelete() (tea.Model, tea.Cmd) {
	if err := m.ctrl.DeleteSession(m.ctx, m.activeID, m.defaultModel); err != nil {
		return m.showNotice("Delete failed: " + err.Error())
	}
	m.syncFromStore()
	return m.showNotice("Chat deleted.")
}

func (m *Model) cmdModel(id string) (tea.Model, tea.Cmd) {
	if id == "" {
		var names []string
		for _, info := range llm.Models {
			names = append(names, info.ID)
		}
		return m.showNotice("Usage: /model <id>. Known models: " + strings.Join(names, ", "))
	}
	if err := m.ctrl.Store().SetModel(m.ctx, m.activeID, id); err != nil {
		return m.showNotice("Model change failed: " + err.Error())
	}
	m.syncFromStore()
	return m.showNotice("Model set to " + id + ".")
}

func (m *Model) cmdAttach(path string) (tea.Model, tea.Cmd) {
	if path == "" {
		return m.showNotice("Usage: /attach <path>")
	}
	paths, err := chat.ExpandPaths([]string{path})
	if err != nil {
		return m.showNotice("Attach failed: " + err.Error())
	}
	var names []string
	for _, p := range paths {
		att, err := chat.AttachmentFromFile(p)
		if err != nil {
			return m.showNotice("Attach failed: " + err.Error())
		}
		m.ctrl.Stage(att)
		names = append(names, att.Name)
	}
	return m.showNotice("Attached " + strings.Join(names, ", ") + ".")
}

func (m *Model) cmdDetach(name string) (tea.Model, tea.Cmd) {
	removed := 0
	for _, att := range m.ctrl.Staged() {
		if name == "" || att.Name == name || att.ID == name {
			if m.ctrl.Unstage(att.ID) {
				removed++
			}
		}
	}
	if removed == 0 {
		return m.showNotice("Nothing to detach.")
	}
	return m.showNotice(fmt.Sprintf("Removed %d attachment(s).", removed))
}
