package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openllama/openllama/internal/config"
	"github.com/openllama/openllama/internal/store"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change generation settings",
	Long: `Show or change the generation settings used for every new reply.

Saved settings override the generation defaults from the config file.
OPENLLAMA_API_KEY, OPENLLAMA_API_URL and OPENLLAMA_BACKEND override both
for the current process only.

The api_key value may reference the environment or a command:
  $VAR, ${VAR}   - environment variable
  $(command)     - output of a shell command

Examples:
  openllama settings                         # show effective settings
  openllama settings set temperature 0.2
  openllama settings set backend mock
  openllama settings set api_key '$(pass show llama-server)'
  openllama settings reset`,
	RunE: runSettingsShow,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective settings",
	Args:  cobra.NoArgs,
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Save a setting",
	Args:  cobra.MinimumNArgs(2),
	ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) == 0 {
			return config.SettingsKeys(), cobra.ShellCompDirectiveNoFileComp
		}
		return nil, cobra.ShellCompDirectiveNoFileComp
	},
	RunE: runSettingsSet,
}

var settingsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard saved settings",
	Args:  cobra.NoArgs,
	RunE:  runSettingsReset,
}

var settingsKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List setting keys",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(config.SettingsKeys(), "\n"))
	},
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsResetCmd)
	settingsCmd.AddCommand(settingsKeysCmd)
	rootCmd.AddCommand(settingsCmd)
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	a, err := newApp(context.Background(), appOptions{quiet: true})
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := config.YAML(a.Settings())
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), out)
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, kv, err := openSettingsStore()
	if err != nil {
		return err
	}
	defer kv.Close()

	// Edit the saved values, not the effective ones, so env overrides and
	// resolved secrets never end up in the store.
	saved, err := config.LoadSettings(ctx, kv, cfg.Generation)
	if err != nil {
		return err
	}
	key, value := args[0], strings.Join(args[1:], " ")
	updated, err := config.SetField(saved, key, value)
	if err != nil {
		return err
	}
	if err := config.SaveSettings(ctx, kv, updated); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Set %s\n", strings.ReplaceAll(key, "-", "_"))
	return nil
}

func runSettingsReset(cmd *cobra.Command, args []string) error {
	_, kv, err := openSettingsStore()
	if err != nil {
		return err
	}
	defer kv.Close()

	if err := config.ResetSettings(context.Background(), kv); err != nil {
		return fmt.Errorf("failed to reset settings: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Settings reset to defaults.")
	return nil
}

// openSettingsStore opens the store without resolving the saved settings,
// so broken settings can still be fixed or reset.
func openSettingsStore() (*config.Config, store.KV, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	kv, err := store.Open(cfg.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return cfg, kv, nil
}
