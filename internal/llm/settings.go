package llm

import (
	"fmt"
	"strings"
)

// Backend selects which adapter serves a generation.
type Backend string

const (
	BackendAPI   Backend = "api"
	BackendLocal Backend = "browser-model"
	BackendMock  Backend = "mock"
)

// SeedUnset means "let the server pick a seed"; it is never sent on the wire.
const SeedUnset = -1

// DefaultSystemPrompt is used when no system prompt has been configured.
const DefaultSystemPrompt = "You are a helpful AI assistant."

// ParseBackend accepts the canonical backend names plus a couple of aliases.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "api", "remote", "openai":
		return BackendAPI, nil
	case "browser-model", "browser", "local":
		return BackendLocal, nil
	case "mock":
		return BackendMock, nil
	}
	return "", fmt.Errorf("unknown backend %q (want api, browser-model or mock)", s)
}

// Settings is the generation configuration consulted by every adapter.
// It is read once per generation; edits apply from the next send.
type Settings struct {
	Backend          Backend `mapstructure:"backend" json:"backend" yaml:"backend"`
	APIURL           string  `mapstructure:"api_url" json:"apiUrl" yaml:"api_url"`
	APIKey           string  `mapstructure:"api_key" json:"apiKey" yaml:"api_key"`
	SystemPrompt     string  `mapstructure:"system_prompt" json:"systemPrompt" yaml:"system_prompt"`
	Temperature      float64 `mapstructure:"temperature" json:"temperature" yaml:"temperature"`
	TopP             float64 `mapstructure:"top_p" json:"topP" yaml:"top_p"`
	TopK             int     `mapstructure:"top_k" json:"topK" yaml:"top_k"`
	MinP             float64 `mapstructure:"min_p" json:"minP" yaml:"min_p"`
	MaxTokens        int     `mapstructure:"max_tokens" json:"maxTokens" yaml:"max_tokens"`
	RepeatPenalty    float64 `mapstructure:"repeat_penalty" json:"repeatPenalty" yaml:"repeat_penalty"`
	RepeatLastN      int     `mapstructure:"repeat_last_n" json:"repeatLastN" yaml:"repeat_last_n"`
	PresencePenalty  float64 `mapstructure:"presence_penalty" json:"presencePenalty" yaml:"presence_penalty"`
	FrequencyPenalty float64 `mapstructure:"frequency_penalty" json:"frequencyPenalty" yaml:"frequency_penalty"`
	Seed             int64   `mapstructure:"seed" json:"seed" yaml:"seed"`
	Mirostat         int     `mapstructure:"mirostat" json:"mirostat" yaml:"mirostat"`
	MirostatTau      float64 `mapstructure:"mirostat_tau" json:"mirostatTau" yaml:"mirostat_tau"`
	MirostatEta      float64 `mapstructure:"mirostat_eta" json:"mirostatEta" yaml:"mirostat_eta"`
}

// DefaultSettings returns the stock generation settings.
func DefaultSettings() Settings {
	return Settings{
		Backend:          BackendAPI,
		APIURL:           "http://localhost:8080/v1",
		SystemPrompt:     DefaultSystemPrompt,
		Temperature:      0.8,
		TopP:             0.95,
		TopK:             40,
		MinP:             0.05,
		MaxTokens:        4096,
		RepeatPenalty:    1.1,
		RepeatLastN:      64,
		PresencePenalty:  0,
		FrequencyPenalty: 0,
		Seed:             SeedUnset,
		Mirostat:         0,
		MirostatTau:      5.0,
		MirostatEta:      0.1,
	}
}

// Validate rejects settings no adapter can honor.
func (s Settings) Validate() error {
	if _, err := ParseBackend(string(s.Backend)); err != nil {
		return err
	}
	if s.Temperature < 0 {
		return fmt.Errorf("temperature must be >= 0, got %v", s.Temperature)
	}
	if s.TopP < 0 || s.TopP > 1 {
		return fmt.Errorf("top_p must be within [0, 1], got %v", s.TopP)
	}
	if s.MinP < 0 || s.MinP > 1 {
		return fmt.Errorf("min_p must be within [0, 1], got %v", s.MinP)
	}
	if s.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be >= 0, got %d", s.MaxTokens)
	}
	if s.TopK < 0 {
		return fmt.Errorf("top_k must be >= 0, got %d", s.TopK)
	}
	if s.Mirostat < 0 || s.Mirostat > 2 {
		return fmt.Errorf("mirostat must be 0, 1 or 2, got %d", s.Mirostat)
	}
	return nil
}
