// Package store persists opaque blobs (chat history, settings) under
// string keys. Callers own the encoding; the store only moves bytes.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound is returned by Get when no value is stored under the key.
var ErrNotFound = errors.New("key not found")

// Well-known keys.
const (
	ChatsKey    = "openllama_chats"
	SettingsKey = "openllama_settings"
)

// KV is a minimal key/value store. Implementations must be safe for
// concurrent use.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

// Config selects and locates the persistence backend.
type Config struct {
	Backend string `mapstructure:"backend"`

	// Path is the database file. Empty means the default under the data dir.
	Path string `mapstructure:"path"`
}

// Open returns the store described by cfg.
func Open(cfg Config) (KV, error) {
	switch cfg.Backend {
	case "", BackendSQLite:
		return NewSQLiteStore(cfg.Path)
	case BackendBolt:
		return NewBoltStore(cfg.Path)
	case BackendMemory:
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// GetDataDir returns the directory for persistent data, honouring
// XDG_DATA_HOME and falling back to ~/.local/share.
func GetDataDir() (string, error) {
	if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
		return filepath.Join(dataHome, "openllama"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "openllama"), nil
}

func defaultPath(name string) (string, error) {
	dir, err := GetDataDir()
	if err != nil {
		return "", fmt.Errorf("get data dir: %w", err)
	}
	return filepath.Join(dir, name), nil
}

// LoadJSON decodes the value under key into v. It reports false, with no
// error, when the key is absent.
func LoadJSON(ctx context.Context, kv KV, key string, v any) (bool, error) {
	raw, err := kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SaveJSON encodes v and stores it under key.
func SaveJSON(ctx context.Context, kv KV, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := kv.Put(ctx, key, raw); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}
