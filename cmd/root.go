package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openllama/openllama/internal/exitcode"
)

var (
	configPath string
	debugMode  bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/openllama/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Log at debug level")
}

var rootCmd = &cobra.Command{
	Use:   "openllama",
	Short: "Chat with local and OpenAI-compatible language models",
	Long: `openllama streams chat completions from an OpenAI-compatible server,
a model hosted by LM Studio, or a built-in mock backend, and keeps your
chats on disk.

Examples:
  openllama chat                           # interactive chat
  openllama ask "why is the sky blue?"     # one-shot answer
  openllama ask --backend mock "hello"
  openllama sessions                       # list saved chats
  openllama settings set temperature 0.2
  openllama models --remote                # ask the server what it serves`,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr exitcode.ExitError
		if errors.As(err, &exitErr) {
			if exitErr.Message != "" {
				fmt.Fprintln(os.Stderr, exitErr.Message)
			}
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitcode.Error)
	}
}
