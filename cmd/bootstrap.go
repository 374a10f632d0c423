package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/openllama/openllama/internal/chat"
	"github.com/openllama/openllama/internal/config"
	"github.com/openllama/openllama/internal/llm"
	"github.com/openllama/openllama/internal/lmstudio"
	"github.com/openllama/openllama/internal/logging"
	"github.com/openllama/openllama/internal/store"
)

const shutdownTimeout = 5 * time.Second

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// appOptions tune how a command boots the app.
type appOptions struct {
	// logToFile sends logs to the log file, for commands that own the terminal.
	logToFile bool

	// quiet raises the default info level to warn, for commands whose
	// stderr is part of their output.
	quiet bool

	backend string
	model   string
}

// app holds everything a command needs, wired from config.
type app struct {
	cfg    *config.Config
	env    config.Env
	logger *slog.Logger
	kv     store.KV
	store  *chat.Store
	ctrl   *chat.Controller

	local    *llm.LocalAdapter
	lmClient *lmstudio.Client

	mu       sync.RWMutex
	settings llm.Settings

	// defaultModel names the model for new chats.
	defaultModel string

	closers []io.Closer
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	env, err := config.LoadEnv()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, env: env}

	logOpts := logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format}
	switch {
	case debugMode:
		logOpts.Level = "debug"
	case opts.quiet && (logOpts.Level == "" || logOpts.Level == "info"):
		logOpts.Level = "warn"
	}
	if opts.logToFile {
		if logOpts.File, err = cfg.LogPath(); err != nil {
			return nil, err
		}
	}
	logger, logCloser, err := logging.Setup(logOpts)
	if err != nil {
		return nil, err
	}
	a.logger = logger
	a.closers = append(a.closers, logCloser)
	slog.SetDefault(logger)

	kv, err := store.Open(cfg.Store)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.kv = kv
	a.closers = append(a.closers, kv)

	if err := a.reloadSettings(ctx, opts.backend); err != nil {
		a.Close()
		return nil, err
	}

	a.defaultModel = cfg.DefaultModel
	if env.Model != "" {
		a.defaultModel = env.Model
	}
	if opts.model != "" {
		a.defaultModel = opts.model
	}

	a.store = chat.NewStore(kv, logger)
	if err := a.store.Load(ctx, a.defaultModel); err != nil {
		a.Close()
		return nil, fmt.Errorf("load chats: %w", err)
	}

	a.lmClient = lmstudio.NewClient(cfg.Local.Host,
		lmstudio.WithLoadTimeout(cfg.Local.LoadTimeout),
		lmstudio.WithLogger(logger))
	a.local = llm.NewLocalAdapter(a.lmClient, logger)
	adapters := llm.NewSelector(
		llm.NewMockAdapter(),
		llm.NewRemoteAdapter(&http.Client{}, logger),
		a.local,
	)
	a.ctrl = chat.NewController(a.store, adapters, a.Settings, chat.WithLogger(logger))
	return a, nil
}

// reloadSettings recomputes the effective settings: config defaults, the
// saved blob, environment overrides, then the --backend flag.
func (a *app) reloadSettings(ctx context.Context, backendFlag string) error {
	s, err := config.LoadSettings(ctx, a.kv, a.cfg.Generation)
	if err != nil {
		return err
	}
	if s, err = config.ResolveSecrets(s); err != nil {
		return err
	}
	if s, err = a.env.ApplySettings(s); err != nil {
		return err
	}
	if backendFlag != "" {
		b, err := llm.ParseBackend(backendFlag)
		if err != nil {
			return err
		}
		s.Backend = b
	}
	a.mu.Lock()
	a.settings = s
	a.mu.Unlock()
	return nil
}

// Settings returns a copy of the effective settings.
func (a *app) Settings() llm.Settings {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.settings
}

// Close stops any running generation, then releases the local model, the
// store and the log file.
func (a *app) Close() {
	if a.ctrl != nil {
		if run := a.ctrl.Active(); run != nil {
			a.ctrl.Stop()
			select {
			case <-run.Done():
			case <-time.After(shutdownTimeout):
				a.logger.Warn("generation did not stop before shutdown")
			}
		}
	}
	if a.local != nil {
		if err := a.local.Close(); err != nil {
			a.logger.Warn("unloading local model", "error", err)
		}
	}
	if a.lmClient != nil {
		a.lmClient.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && a.logger != nil {
			a.logger.Warn("close", "error", err)
		}
	}
	a.closers = nil
}
