package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/spf13/cobra"

	"github.com/openllama/openllama/internal/llm"
)

var (
	modelsRemote bool
	modelsJSON   bool
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List available models",
	Long: `List the built-in model catalogue, or ask the configured
OpenAI-compatible server which models it serves.

Examples:
  openllama models                 # built-in catalogue
  openllama models --remote        # query <api_url>/models
  openllama models --json`,
	Args: cobra.NoArgs,
	RunE: runModels,
}

func init() {
	modelsCmd.Flags().BoolVarP(&modelsRemote, "remote", "r", false, "Query the API server instead of the built-in catalogue")
	modelsCmd.Flags().BoolVar(&modelsJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(modelsCmd)
}

// remoteModel is one entry of the server's /models listing.
type remoteModel struct {
	ID      string `json:"id"`
	OwnedBy string `json:"ownedBy,omitempty"`
	Created int64  `json:"created,omitempty"`
}

func runModels(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if !modelsRemote {
		if modelsJSON {
			return writeJSON(out, llm.Models)
		}
		writeCatalogue(out, llm.Models)
		return nil
	}

	a, err := newApp(context.Background(), appOptions{quiet: true})
	if err != nil {
		return err
	}
	defer a.Close()
	settings := a.Settings()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	models, err := listRemoteModels(ctx, settings.APIURL, settings.APIKey)
	if err != nil {
		if strings.Contains(err.Error(), "connection refused") {
			return fmt.Errorf("cannot connect to %s.\n"+
				"Make sure the server is running, or change api_url with 'openllama settings set api_url <url>'", settings.APIURL)
		}
		return fmt.Errorf("failed to list models: %w", err)
	}
	if modelsJSON {
		return writeJSON(out, models)
	}
	if len(models) == 0 {
		fmt.Fprintln(out, "No models found.")
		return nil
	}
	fmt.Fprintf(out, "Models served by %s:\n\n", llm.BaseURL(settings.APIURL))
	for _, m := range models {
		if m.OwnedBy != "" {
			fmt.Fprintf(out, "  %s (%s)\n", m.ID, m.OwnedBy)
		} else {
			fmt.Fprintf(out, "  %s\n", m.ID)
		}
	}
	fmt.Fprintf(out, "\nUse one with: openllama chat --model <id>\n")
	return nil
}

// listRemoteModels queries the OpenAI-compatible /models endpoint.
// Local servers usually ignore the key, but the client insists on one.
func listRemoteModels(ctx context.Context, apiURL, apiKey string) ([]remoteModel, error) {
	if apiKey == "" {
		apiKey = "no-key"
	}
	client := openai.NewClient(
		option.WithBaseURL(llm.BaseURL(apiURL)+"/"),
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	)
	page, err := client.Models.List(ctx)
	if err != nil {
		return nil, err
	}
	models := make([]remoteModel, 0, len(page.Data))
	for _, m := range page.Data {
		models = append(models, remoteModel{ID: m.ID, OwnedBy: m.OwnedBy, Created: m.Created})
	}
	return models, nil
}

func writeCatalogue(w io.Writer, models []llm.ModelInfo) {
	fmt.Fprintf(w, "%-34s %-14s %8s  %s\n", "ID", "Backend", "Context", "Description")
	fmt.Fprintln(w, strings.Repeat("-", 90))
	for _, m := range models {
		fmt.Fprintf(w, "%-34s %-14s %8d  %s\n", m.ID, m.Backend, m.ContextWindow, m.Description)
	}
}
