package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/openllama/openllama/internal/llm"
	"github.com/openllama/openllama/internal/store"
)

const appName = "openllama"

type Config struct {
	DefaultModel string       `mapstructure:"default_model"`
	Store        store.Config `mapstructure:"store"`
	Log          LogConfig    `mapstructure:"log"`
	Local        LocalConfig  `mapstructure:"local"`

	// Generation holds the default settings; the saved settings blob
	// overrides them.
	Generation llm.Settings `mapstructure:"generation"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`

	// File receives logs while the TUI owns the terminal. Empty means
	// openllama.log under the data dir.
	File string `mapstructure:"file"`
}

// LocalConfig points at the LM Studio server backing the local backend.
type LocalConfig struct {
	Host        string        `mapstructure:"host"`
	LoadTimeout time.Duration `mapstructure:"load_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("default_model", llm.DefaultModelID)
	v.SetDefault("store.backend", store.BackendSQLite)
	v.SetDefault("store.path", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("local.host", "localhost:1234")
	v.SetDefault("local.load_timeout", "2m")

	d := llm.DefaultSettings()
	v.SetDefault("generation.backend", string(d.Backend))
	v.SetDefault("generation.api_url", d.APIURL)
	v.SetDefault("generation.api_key", d.APIKey)
	v.SetDefault("generation.system_prompt", d.SystemPrompt)
	v.SetDefault("generation.temperature", d.Temperature)
	v.SetDefault("generation.top_p", d.TopP)
	v.SetDefault("generation.top_k", d.TopK)
	v.SetDefault("generation.min_p", d.MinP)
	v.SetDefault("generation.max_tokens", d.MaxTokens)
	v.SetDefault("generation.repeat_penalty", d.RepeatPenalty)
	v.SetDefault("generation.repeat_last_n", d.RepeatLastN)
	v.SetDefault("generation.presence_penalty", d.PresencePenalty)
	v.SetDefault("generation.frequency_penalty", d.FrequencyPenalty)
	v.SetDefault("generation.seed", d.Seed)
	v.SetDefault("generation.mirostat", d.Mirostat)
	v.SetDefault("generation.mirostat_tau", d.MirostatTau)
	v.SetDefault("generation.mirostat_eta", d.MirostatEta)
}

// Load reads the config file (optional), OPENLLAMA_* environment
// variables and defaults. An explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("OPENLLAMA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir, err := GetConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Generation.Validate(); err != nil {
		return nil, fmt.Errorf("invalid generation defaults: %w", err)
	}
	return &cfg, nil
}

// GetConfigDir returns the directory holding config.yaml.
func GetConfigDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config dir: %w", err)
	}
	return filepath.Join(dir, appName), nil
}

// GetConfigPath returns the path where the config file should be located
func GetConfigPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// LogPath returns where file logging goes.
func (c *Config) LogPath() (string, error) {
	if c.Log.File != "" {
		return c.Log.File, nil
	}
	dir, err := store.GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName+".log"), nil
}
