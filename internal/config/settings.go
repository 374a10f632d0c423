package config

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/openllama/openllama/internal/llm"
	"github.com/openllama/openllama/internal/store"
)

// Env holds per-process overrides. They apply on top of the saved
// settings and are never persisted.
type Env struct {
	APIKey  string `env:"OPENLLAMA_API_KEY"`
	APIURL  string `env:"OPENLLAMA_API_URL"`
	Backend string `env:"OPENLLAMA_BACKEND"`
	Model   string `env:"OPENLLAMA_MODEL"`
}

func LoadEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("parse environment: %w", err)
	}
	return e, nil
}

// ApplySettings overlays the non-empty variables onto s.
func (e Env) ApplySettings(s llm.Settings) (llm.Settings, error) {
	if e.APIKey != "" {
		key, err := ResolveValue(e.APIKey)
		if err != nil {
			return s, fmt.Errorf("resolve OPENLLAMA_API_KEY: %w", err)
		}
		s.APIKey = key
	}
	if e.APIURL != "" {
		s.APIURL = e.APIURL
	}
	if e.Backend != "" {
		b, err := llm.ParseBackend(e.Backend)
		if err != nil {
			return s, fmt.Errorf("OPENLLAMA_BACKEND: %w", err)
		}
		s.Backend = b
	}
	return s, nil
}

// LoadSettings layers the saved settings blob over defaults. Values are
// returned unresolved so they can be saved back as written.
func LoadSettings(ctx context.Context, kv store.KV, defaults llm.Settings) (llm.Settings, error) {
	s := defaults
	if _, err := store.LoadJSON(ctx, kv, store.SettingsKey, &s); err != nil {
		return defaults, err
	}
	if err := s.Validate(); err != nil {
		return defaults, fmt.Errorf("saved settings: %w", err)
	}
	return s, nil
}

// ResolveSecrets expands the API key reference for use in requests.
func ResolveSecrets(s llm.Settings) (llm.Settings, error) {
	key, err := ResolveValue(s.APIKey)
	if err != nil {
		return s, fmt.Errorf("resolve api_key: %w", err)
	}
	s.APIKey = key
	return s, nil
}

// SaveSettings writes the full settings blob.
func SaveSettings(ctx context.Context, kv store.KV, s llm.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return store.SaveJSON(ctx, kv, store.SettingsKey, s)
}

// ResetSettings drops the saved blob so defaults apply again.
func ResetSettings(ctx context.Context, kv store.KV) error {
	return kv.Delete(ctx, store.SettingsKey)
}

// SettingsKeys lists the keys accepted by SetField, sorted.
func SettingsKeys() []string {
	fields, _ := settingsMap(llm.DefaultSettings())
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func settingsMap(s llm.Settings) (map[string]any, error) {
	raw, err := yaml.Marshal(s)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if err := yaml.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// SetField sets one settings key from its YAML-typed textual value, so
// "0.7", "true" and "hello world" all land with the right type.
func SetField(s llm.Settings, key, value string) (llm.Settings, error) {
	key = strings.ReplaceAll(strings.TrimSpace(key), "-", "_")
	fields, err := settingsMap(s)
	if err != nil {
		return s, err
	}
	if _, ok := fields[key]; !ok {
		return s, fmt.Errorf("unknown setting %q (valid: %s)", key, strings.Join(SettingsKeys(), ", "))
	}

	var parsed any = value
	if _, isString := fields[key].(string); !isString {
		if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
			return s, fmt.Errorf("invalid value for %s: %w", key, err)
		}
	}
	if key == "backend" {
		b, err := llm.ParseBackend(value)
		if err != nil {
			return s, err
		}
		parsed = string(b)
	}
	fields[key] = parsed

	raw, err := yaml.Marshal(fields)
	if err != nil {
		return s, err
	}
	var out llm.Settings
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return s, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if err := out.Validate(); err != nil {
		return s, err
	}
	return out, nil
}

// YAML renders settings for display with the API key masked.
func YAML(s llm.Settings) (string, error) {
	if s.APIKey != "" {
		s.APIKey = maskSecret(s.APIKey)
	}
	raw, err := yaml.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func maskSecret(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
