package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openllama/openllama/internal/llm"
	"github.com/openllama/openllama/internal/store"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultModel != llm.DefaultModelID {
		t.Errorf("default_model = %q", cfg.DefaultModel)
	}
	if cfg.Store.Backend != store.BackendSQLite || cfg.Store.Path != "" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Local.Host != "localhost:1234" || cfg.Local.LoadTimeout != 2*time.Minute {
		t.Errorf("local = %+v", cfg.Local)
	}
	if cfg.Generation != llm.DefaultSettings() {
		t.Errorf("generation = %+v\nwant %+v", cfg.Generation, llm.DefaultSettings())
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "openllama", "config.yaml")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	content := `
default_model: mistral-7b-instruct
store:
  backend: bolt
log:
  level: debug
generation:
  backend: mock
  temperature: 0.2
  seed: 42
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OPENLLAMA_LOCAL_HOST", "gpu-box:1234")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultModel != "mistral-7b-instruct" || cfg.Store.Backend != store.BackendBolt || cfg.Log.Level != "debug" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Generation.Backend != llm.BackendMock || cfg.Generation.Temperature != 0.2 || cfg.Generation.Seed != 42 {
		t.Errorf("generation = %+v", cfg.Generation)
	}
	if cfg.Generation.TopK != 40 {
		t.Errorf("unset keys should keep defaults, top_k = %d", cfg.Generation.TopK)
	}
	if cfg.Local.Host != "gpu-box:1234" {
		t.Errorf("env override ignored, host = %q", cfg.Local.Host)
	}
}

func TestLoadExplicitPathMustExist(t *testing.T) {
	isolate(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for a missing explicit config file")
	}
}

func TestLoadRejectsInvalidGeneration(t *testing.T) {
	isolate(t)
	t.Setenv("OPENLLAMA_GENERATION_BACKEND", "carrier-pigeon")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for an unknown backend")
	}
}

func TestEnvApplySettings(t *testing.T) {
	t.Setenv("OPENLLAMA_API_KEY", "sk-test")
	t.Setenv("OPENLLAMA_API_URL", "http://example.test/v1")
	t.Setenv("OPENLLAMA_BACKEND", "local")
	t.Setenv("OPENLLAMA_MODEL", "tiny")

	e, err := LoadEnv()
	if err != nil {
		t.Fatal(err)
	}
	if e.Model != "tiny" {
		t.Errorf("Model = %q", e.Model)
	}
	s, err := e.ApplySettings(llm.DefaultSettings())
	if err != nil {
		t.Fatal(err)
	}
	if s.APIKey != "sk-test" || s.APIURL != "http://example.test/v1" || s.Backend != llm.BackendLocal {
		t.Errorf("settings = %+v", s)
	}

	if _, err := (Env{Backend: "nope"}).ApplySettings(llm.DefaultSettings()); err == nil {
		t.Error("expected error for an unknown backend")
	}
}

func TestSettingsPersistence(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	defaults := llm.DefaultSettings()

	s, err := LoadSettings(ctx, kv, defaults)
	if err != nil || s != defaults {
		t.Fatalf("LoadSettings on empty store = %+v, %v", s, err)
	}

	s.Temperature = 0.1
	s.APIKey = "$OPENLLAMA_TEST_KEY"
	if err := SaveSettings(ctx, kv, s); err != nil {
		t.Fatal(err)
	}
	got, err := LoadSettings(ctx, kv, defaults)
	if err != nil {
		t.Fatal(err)
	}
	if got.Temperature != 0.1 || got.APIKey != "$OPENLLAMA_TEST_KEY" {
		t.Errorf("reloaded = %+v", got)
	}

	t.Setenv("OPENLLAMA_TEST_KEY", "resolved")
	if r, _ := ResolveSecrets(got); r.APIKey != "resolved" {
		t.Errorf("ResolveSecrets key = %q", r.APIKey)
	}

	if err := ResetSettings(ctx, kv); err != nil {
		t.Fatal(err)
	}
	if got, _ := LoadSettings(ctx, kv, defaults); got != defaults {
		t.Errorf("after reset = %+v", got)
	}
}

func TestSetField(t *testing.T) {
	base := llm.DefaultSettings()
	tests := []struct {
		key, value string
		check      func(llm.Settings) bool
	}{
		{"temperature", "0.3", func(s llm.Settings) bool { return s.Temperature == 0.3 }},
		{"max-tokens", "128", func(s llm.Settings) bool { return s.MaxTokens == 128 }},
		{"seed", "-1", func(s llm.Settings) bool { return s.Seed == llm.SeedUnset }},
		{"system_prompt", "Be terse.", func(s llm.Settings) bool { return s.SystemPrompt == "Be terse." }},
		{"api_key", "12345", func(s llm.Settings) bool { return s.APIKey == "12345" }},
		{"backend", "local", func(s llm.Settings) bool { return s.Backend == llm.BackendLocal }},
	}
	for _, tc := range tests {
		t.Run(tc.key, func(t *testing.T) {
			got, err := SetField(base, tc.key, tc.value)
			if err != nil {
				t.Fatal(err)
			}
			if !tc.check(got) {
				t.Errorf("SetField(%s, %s) = %+v", tc.key, tc.value, got)
			}
			if got.TopK != base.TopK {
				t.Error("other fields should be preserved")
			}
		})
	}

	for _, bad := range [][2]string{
		{"nope", "1"},
		{"max_tokens", "lots"},
		{"top_p", "2"},
		{"backend", "pigeon"},
	} {
		if _, err := SetField(base, bad[0], bad[1]); err == nil {
			t.Errorf("SetField(%s, %s) should fail", bad[0], bad[1])
		}
	}
}

func TestYAMLMasksKey(t *testing.T) {
	s := llm.DefaultSettings()
	s.APIKey = "sk-abcdefghijkl"
	out, err := YAML(s)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "abcdefghijkl") || !strings.Contains(out, "sk-a****ijkl") {
		t.Errorf("YAML output leaks or misses masked key:\n%s", out)
	}
	if !strings.Contains(out, "system_prompt: You are a helpful AI assistant.") {
		t.Errorf("YAML output:\n%s", out)
	}
}

func TestResolveValue(t *testing.T) {
	t.Setenv("OPENLLAMA_RESOLVE", "from-env")
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"  literal ", "literal"},
		{"$OPENLLAMA_RESOLVE", "from-env"},
		{"${OPENLLAMA_RESOLVE}", "from-env"},
		{"$(echo from-command)", "from-command"},
	}
	for _, tc := range tests {
		got, err := ResolveValue(tc.in)
		if err != nil {
			t.Fatalf("ResolveValue(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ResolveValue(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if _, err := ResolveValue("$(exit 3)"); err == nil {
		t.Error("failing command should error")
	}
}
