package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/openllama/openllama/internal/chat"
	"github.com/openllama/openllama/internal/exitcode"
	"github.com/openllama/openllama/internal/llm"
)

var (
	askBackend string
	askModel   string
	askSession string
	askFiles   []string
	askStats   bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a single question and stream the answer",
	Long: `Ask a question in a new chat and stream the answer to stdout.

The question is taken from the arguments. When stdin is not a terminal its
contents are appended, so output can be piped in as context. Ctrl+C stops
the answer; what arrived so far is kept in the chat.

Examples:
  openllama ask "What is the capital of France?"
  openllama ask --backend mock hello
  git diff | openllama ask "write a commit message for this"
  openllama ask -f notes.txt "summarize this"
  openllama ask -f 'docs/**/*.md' "what is missing from these docs?"
  openllama ask --session 2 "and in one sentence?"`,
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askBackend, "backend", "b", "", "Override backend (api, browser-model, mock)")
	askCmd.Flags().StringVarP(&askModel, "model", "m", "", "Model for the new chat")
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "Continue an existing chat (number or id prefix)")
	askCmd.Flags().StringArrayVarP(&askFiles, "file", "f", nil, "Attach a file or glob pattern (repeatable)")
	askCmd.Flags().BoolVar(&askStats, "stats", false, "Print generation stats when done")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	stdinTTY := term.IsTerminal(int(os.Stdin.Fd()))
	question, err := buildQuestion(args, os.Stdin, stdinTTY)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, appOptions{quiet: true, backend: askBackend, model: askModel})
	if err != nil {
		return err
	}
	defer a.Close()

	var sess chat.Session
	if askSession != "" {
		if sess, err = findSession(a.store, askSession); err != nil {
			return err
		}
		if err := a.ctrl.SelectSession(sess.ID); err != nil {
			return err
		}
	} else if sess, err = a.ctrl.NewSession(ctx, a.defaultModel); err != nil {
		return fmt.Errorf("create chat: %w", err)
	}

	paths, err := chat.ExpandPaths(askFiles)
	if err != nil {
		return err
	}
	for _, path := range paths {
		att, err := chat.AttachmentFromFile(path)
		if err != nil {
			return fmt.Errorf("attach %s: %w", path, err)
		}
		a.ctrl.Stage(att)
	}

	printer := &answerPrinter{w: cmd.OutOrStdout(), sessionID: sess.ID}
	unsubscribe := a.ctrl.Subscribe(printer.update)
	defer unsubscribe()

	run, err := a.ctrl.Send(ctx, question)
	if errors.Is(err, chat.ErrEmptyMessage) {
		return exitcode.UsageError("nothing to ask: pass a question or pipe one on stdin")
	}
	if err != nil {
		return err
	}

	outcome := run.Wait()
	if final, ok := a.store.Get(sess.ID); ok {
		printer.flush(final)
	}
	printer.finish()

	if askStats {
		statsOut := os.Stderr
		if term.IsTerminal(int(os.Stdout.Fd())) {
			statsOut = os.Stdout
		}
		fmt.Fprintln(statsOut, formatRunStats(a.ctrl.Stats(), outcome))
	}

	switch outcome {
	case chat.StateCancelled:
		return exitcode.Cancel()
	case chat.StateFailed:
		return exitcode.Failure(fmt.Sprintf("generation failed: %v", run.Err()))
	}
	return nil
}

// buildQuestion joins the arguments and, when stdin is piped, appends its
// contents separated by a blank line.
func buildQuestion(args []string, stdin io.Reader, stdinTTY bool) (string, error) {
	question := strings.Join(args, " ")
	if stdinTTY || stdin == nil {
		return question, nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	piped := strings.TrimRight(string(data), "\n")
	switch {
	case strings.TrimSpace(piped) == "":
		return question, nil
	case strings.TrimSpace(question) == "":
		return piped, nil
	}
	return question + "\n\n" + piped, nil
}

func formatRunStats(s chat.Stats, outcome chat.State) string {
	return fmt.Sprintf("%s: %d tokens | %.1f tok/s | %.1fs", outcome, s.TokenCount, s.TokensPerSecond, s.ElapsedSeconds)
}

// answerPrinter writes the growing assistant reply of one session as
// controller updates arrive, printing only what is new.
type answerPrinter struct {
	w         io.Writer
	sessionID string

	mu      sync.Mutex
	printed int
	wrote   bool
}

func (p *answerPrinter) update(u chat.Update) {
	if u.SessionID != p.sessionID {
		return
	}
	for _, s := range u.Sessions {
		if s.ID == p.sessionID {
			p.flush(s)
			return
		}
	}
}

func (p *answerPrinter) flush(s chat.Session) {
	if len(s.Messages) == 0 {
		return
	}
	last := s.Messages[len(s.Messages)-1]
	if last.Role != llm.RoleAssistant {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(last.Content) <= p.printed {
		return
	}
	io.WriteString(p.w, last.Content[p.printed:])
	p.printed = len(last.Content)
	p.wrote = true
}

// finish terminates the answer with a newline if anything was printed.
func (p *answerPrinter) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.wrote {
		io.WriteString(p.w, "\n")
	}
}
