package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/openllama/openllama/internal/tui"
)

var (
	chatBackend string
	chatModel   string
	chatInline  bool
	chatNoColor bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat",
	Long: `Start an interactive chat in the terminal.

Keyboard shortcuts:
  Enter          - Send message
  Ctrl+J         - Insert newline
  Esc            - Stop the running reply
  Ctrl+N         - New chat
  Alt+Up/Down    - Switch chat
  Ctrl+C         - Quit

Slash commands:
  /help          - Show help
  /new           - New chat
  /switch <n>    - Switch chat by number or title
  /attach <path> - Attach a file to the next message
  /quit          - Exit chat`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatBackend, "backend", "b", "", "Override backend (api, browser-model, mock)")
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "", "Model for new chats")
	chatCmd.Flags().BoolVar(&chatInline, "inline", false, "Render inline instead of using the alternate screen")
	chatCmd.Flags().BoolVar(&chatNoColor, "no-color", os.Getenv("NO_COLOR") != "", "Disable colors")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, appOptions{logToFile: true, backend: chatBackend, model: chatModel})
	if err != nil {
		return err
	}
	defer a.Close()

	model := tui.New(ctx, a.ctrl, tui.Options{DefaultModel: a.defaultModel, Output: os.Stdout, NoColor: chatNoColor})
	defer model.Close()

	progOpts := []tea.ProgramOption{tea.WithContext(ctx)}
	if !chatInline {
		progOpts = append(progOpts, tea.WithAltScreen())
	}
	if _, err := tea.NewProgram(model, progOpts...).Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("failed to run chat: %w", err)
	}
	return nil
}
