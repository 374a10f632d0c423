package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/openllama/openllama/internal/chat"
	"github.com/openllama/openllama/internal/llm"
	"github.com/openllama/openllama/internal/store"
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"chats"},
	Short:   "Manage saved chats",
	Long: `List, show, create, rename, delete and find saved chats.

Chats can be referred to by their number in the listing or by a prefix of
their id.

Examples:
  openllama sessions                      # List chats grouped by date
  openllama sessions show 1
  openllama sessions rename 2 "Trip planning"
  openllama sessions find kubernetes
  openllama sessions export 1 trip.md
  openllama sessions delete 20240115-1430`,
	RunE: runSessionsList,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List chats",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <n|id>",
	Short: "Show a chat transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create an empty chat and make it active",
	Args:  cobra.NoArgs,
	RunE:  runSessionsNew,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <n|id>",
	Short: "Delete a chat",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

var sessionsRenameCmd = &cobra.Command{
	Use:   "rename <n|id> <title>",
	Short: "Rename a chat",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runSessionsRename,
}

var sessionsFindCmd = &cobra.Command{
	Use:   "find <query>",
	Short: "Fuzzy search chat titles",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSessionsFind,
}

var sessionsExportCmd = &cobra.Command{
	Use:   "export <n|id> [path]",
	Short: "Export a chat as markdown",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runSessionsExport,
}

var sessionsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all chats (asks for confirmation)",
	Long: `Delete every saved chat. This cannot be undone.

You are asked to confirm unless --yes is given.`,
	Args: cobra.NoArgs,
	RunE: runSessionsReset,
}

// Flags
var (
	sessionsJSON  bool
	sessionsModel string
	sessionsYes   bool
)

func init() {
	sessionsCmd.PersistentFlags().BoolVar(&sessionsJSON, "json", false, "Output as JSON")
	sessionsNewCmd.Flags().StringVarP(&sessionsModel, "model", "m", "", "Model for the new chat")
	sessionsResetCmd.Flags().BoolVarP(&sessionsYes, "yes", "y", false, "Skip the confirmation")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsNewCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	sessionsCmd.AddCommand(sessionsRenameCmd)
	sessionsCmd.AddCommand(sessionsFindCmd)
	sessionsCmd.AddCommand(sessionsExportCmd)
	sessionsCmd.AddCommand(sessionsResetCmd)

	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	a, err := newApp(context.Background(), appOptions{quiet: true})
	if err != nil {
		return err
	}
	defer a.Close()

	sessions := a.store.Sessions()
	if sessionsJSON {
		return writeJSON(cmd.OutOrStdout(), sessionSummaries(sessions))
	}
	writeSessionList(cmd.OutOrStdout(), sessions, a.store.ActiveID(), time.Now())
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	a, err := newApp(context.Background(), appOptions{quiet: true})
	if err != nil {
		return err
	}
	defer a.Close()

	sess, err := findSession(a.store, args[0])
	if err != nil {
		return err
	}
	if sessionsJSON {
		return writeJSON(cmd.OutOrStdout(), sess)
	}
	writeTranscript(cmd.OutOrStdout(), sess)
	return nil
}

func runSessionsNew(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx, appOptions{quiet: true, model: sessionsModel})
	if err != nil {
		return err
	}
	defer a.Close()

	sess, err := a.store.Create(ctx, a.defaultModel)
	if err != nil {
		return fmt.Errorf("failed to create chat: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created chat %s (%s)\n", sess.ID, sess.ModelID)
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx, appOptions{quiet: true})
	if err != nil {
		return err
	}
	defer a.Close()

	sess, err := findSession(a.store, args[0])
	if err != nil {
		return err
	}
	if err := a.store.Delete(ctx, sess.ID, a.defaultModel); err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted chat: %s (%s)\n", sess.Title, sess.ID)
	return nil
}

func runSessionsRename(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx, appOptions{quiet: true})
	if err != nil {
		return err
	}
	defer a.Close()

	sess, err := findSession(a.store, args[0])
	if err != nil {
		return err
	}
	title := strings.TrimSpace(strings.Join(args[1:], " "))
	if title == "" {
		return fmt.Errorf("title must not be empty")
	}
	if err := a.store.Rename(ctx, sess.ID, title); err != nil {
		return fmt.Errorf("failed to rename chat: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %q\n", sess.ID, title)
	return nil
}

func runSessionsFind(cmd *cobra.Command, args []string) error {
	a, err := newApp(context.Background(), appOptions{quiet: true})
	if err != nil {
		return err
	}
	defer a.Close()

	query := strings.Join(args, " ")
	matches := searchSessions(a.store.Sessions(), query)
	if sessionsJSON {
		return writeJSON(cmd.OutOrStdout(), sessionSummaries(matches))
	}
	if len(matches) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No chats match '%s'\n", query)
		return nil
	}
	for _, s := range matches {
		fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", chat.ShortID(s.ID), chat.FitTitle(s.Title, 60))
	}
	return nil
}

func runSessionsExport(cmd *cobra.Command, args []string) error {
	a, err := newApp(context.Background(), appOptions{quiet: true})
	if err != nil {
		return err
	}
	defer a.Close()

	sess, err := findSession(a.store, args[0])
	if err != nil {
		return err
	}
	outputPath := chat.ShortID(sess.ID) + ".md"
	if len(args) > 1 {
		outputPath = args[1]
	}

	var b strings.Builder
	writeMarkdown(&b, sess)
	if err := os.WriteFile(outputPath, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d messages to %s\n", len(sess.Messages), outputPath)
	return nil
}

func runSessionsReset(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx, appOptions{quiet: true})
	if err != nil {
		return err
	}
	defer a.Close()

	count := len(a.store.Sessions())
	if !sessionsYes {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("refusing to delete %d chats without --yes", count)
		}
		confirmed := false
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Delete all %d chats?", count)).
					Description("This cannot be undone.").
					Affirmative("Delete").
					Negative("Cancel").
					Value(&confirmed),
			),
		).WithShowHelp(false)
		if err := form.Run(); err != nil {
			return fmt.Errorf("confirmation: %w", err)
		}
		if !confirmed {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
	}

	if err := a.kv.Delete(ctx, store.ChatsKey); err != nil {
		return fmt.Errorf("failed to delete chats: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d chats.\n", count)
	return nil
}

// findSession resolves a listing number, a full id or a unique id prefix.
func findSession(st *chat.Store, ref string) (chat.Session, error) {
	sessions := st.Sessions()
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(sessions) {
		return sessions[n-1], nil
	}
	if s, ok := st.Get(ref); ok {
		return s, nil
	}

	var found []chat.Session
	for _, s := range sessions {
		if strings.HasPrefix(s.ID, ref) || strings.HasPrefix(chat.ShortID(s.ID), ref) {
			found = append(found, s)
		}
	}
	switch len(found) {
	case 0:
		return chat.Session{}, fmt.Errorf("%w: %s", chat.ErrSessionNotFound, ref)
	case 1:
		return found[0], nil
	}
	return chat.Session{}, fmt.Errorf("'%s' matches %d chats, use a longer prefix", ref, len(found))
}

// sessionSource implements fuzzy.Source over chat titles
type sessionSource []chat.Session

func (s sessionSource) String(i int) string { return s[i].Title }
func (s sessionSource) Len() int            { return len(s) }

// searchSessions returns the chats whose titles fuzzy-match query, best first.
func searchSessions(sessions []chat.Session, query string) []chat.Session {
	var out []chat.Session
	for _, m := range fuzzy.FindFrom(query, sessionSource(sessions)) {
		out = append(out, sessions[m.Index])
	}
	return out
}

type sessionSummary struct {
	Number    int       `json:"number"`
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	ModelID   string    `json:"modelId"`
	Messages  int       `json:"messages"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func sessionSummaries(sessions []chat.Session) []sessionSummary {
	out := make([]sessionSummary, 0, len(sessions))
	for i, s := range sessions {
		out = append(out, sessionSummary{
			Number:    i + 1,
			ID:        s.ID,
			Title:     s.Title,
			ModelID:   s.ModelID,
			Messages:  len(s.Messages),
			UpdatedAt: s.UpdatedAt,
		})
	}
	return out
}

// writeSessionList prints chats bucketed by date. Numbers follow the
// overall recency order so they can be passed back to other commands.
func writeSessionList(w io.Writer, sessions []chat.Session, activeID string, now time.Time) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No chats found.")
		return
	}
	number := make(map[string]int, len(sessions))
	for i, s := range sessions {
		number[s.ID] = i + 1
	}
	for gi, g := range chat.GroupByDate(sessions, now) {
		if gi > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s\n", g.Label)
		for _, s := range g.Sessions {
			marker := " "
			if s.ID == activeID {
				marker = "*"
			}
			fmt.Fprintf(w, "%s %3d  %-12s %-40s %s\n", marker, number[s.ID], chat.ShortID(s.ID),
				chat.FitTitle(s.Title, 40), s.ModelID)
		}
	}
}

func writeTranscript(w io.Writer, s chat.Session) {
	fmt.Fprintf(w, "Chat: %s\n", s.ID)
	fmt.Fprintf(w, "Title: %s\n", s.Title)
	fmt.Fprintf(w, "Model: %s\n", s.ModelID)
	fmt.Fprintf(w, "Updated: %s\n", s.UpdatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Messages: %d\n", len(s.Messages))

	for _, msg := range s.Messages {
		fmt.Fprintln(w)
		switch msg.Role {
		case llm.RoleUser:
			fmt.Fprintln(w, "❯ You")
		default:
			fmt.Fprintln(w, "● Assistant")
		}
		if msg.Content != "" {
			fmt.Fprintln(w, msg.Content)
		}
		for _, att := range msg.Attachments {
			fmt.Fprintf(w, "[%s: %s]\n", att.Kind, att.Name)
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeMarkdown(w io.Writer, s chat.Session) {
	fmt.Fprintf(w, "# %s\n\n", s.Title)
	fmt.Fprintf(w, "**Chat:** %s\n", s.ID)
	fmt.Fprintf(w, "**Model:** %s\n", s.ModelID)
	fmt.Fprintf(w, "**Updated:** %s\n", s.UpdatedAt.Format(time.RFC3339))
	fmt.Fprint(w, "\n---\n\n")

	for _, msg := range s.Messages {
		if msg.Role == llm.RoleUser {
			fmt.Fprint(w, "## You\n\n")
		} else {
			fmt.Fprint(w, "## Assistant\n\n")
		}
		fmt.Fprint(w, msg.Content)
		for _, att := range msg.Attachments {
			fmt.Fprintf(w, "\n\n_[%s: %s]_", att.Kind, att.Name)
		}
		fmt.Fprint(w, "\n\n---\n\n")
	}
}
