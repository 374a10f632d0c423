package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// defaultLocalMaxTokens applies when settings leave max tokens at zero.
const defaultLocalMaxTokens = 1024

// GenerateOptions are the sampling knobs passed to a local pipeline.
type GenerateOptions struct {
	MaxNewTokens      int
	Temperature       float64
	TopP              float64
	TopK              int
	RepetitionPenalty float64
	DoSample          bool
}

// Runtime loads text-generation pipelines by model id.
type Runtime interface {
	Load(ctx context.Context, modelID string) (Pipeline, error)
}

// Pipeline generates text for a formatted prompt, calling onText for each
// decoded piece as it is produced.
type Pipeline interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions, onText func(string)) error
	Close() error
}

// LocalAdapter runs generations on a locally hosted model. It keeps one
// pipeline loaded at a time and reloads only when the model id changes.
type LocalAdapter struct {
	runtime   Runtime
	logger    *slog.Logger
	queueSize int

	// mu serialises generations; the loaded pipeline is owned by whoever holds it.
	mu       sync.Mutex
	pipeline Pipeline
	modelID  string
}

func NewLocalAdapter(runtime Runtime, logger *slog.Logger) *LocalAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalAdapter{runtime: runtime, logger: logger, queueSize: 256}
}

func (a *LocalAdapter) Name() string {
	return "local"
}

// LoadedModel returns the id of the currently loaded model, if any.
func (a *LocalAdapter) LoadedModel() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.modelID
}

func (a *LocalAdapter) Generate(ctx context.Context, transcript []Message, modelID string, s Settings) Stream {
	modelID = chooseModel(modelID, DefaultModelID)
	streamCtx, cancel := context.WithCancel(ctx)
	q := newFragmentQueue(a.queueSize)
	go a.run(streamCtx, q, CloneMessages(transcript), modelID, s)
	return &queueStream{ctx: streamCtx, cancel: cancel, queue: q}
}

func (a *LocalAdapter) run(ctx context.Context, q *fragmentQueue, transcript []Message, modelID string, s Settings) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ctx.Err() != nil {
		q.finish(nil)
		return
	}

	pipe, err := a.acquire(ctx, modelID, func(note string) { q.push(ctx, note) })
	if err != nil {
		q.finish(a.fail(ctx, q, err))
		return
	}

	prompt := FormatPrompt(transcript, s.SystemPrompt)
	err = pipe.Generate(ctx, prompt, localOptions(s), func(text string) {
		q.push(ctx, text)
	})
	if err != nil {
		err = fmt.Errorf("generate with %s: %w", modelID, err)
	}
	q.finish(a.fail(ctx, q, err))
}

// fail annotates err into the reply unless the run was cancelled.
func (a *LocalAdapter) fail(ctx context.Context, q *fragmentQueue, err error) error {
	if err == nil || ctx.Err() != nil {
		return nil
	}
	a.logger.Warn("local generation failed", "error", err)
	q.push(ctx, "Error: "+err.Error())
	return err
}

// acquire returns the pipeline for modelID, loading it if another model
// (or none) is loaded. Caller holds a.mu.
func (a *LocalAdapter) acquire(ctx context.Context, modelID string, announce func(string)) (Pipeline, error) {
	if a.pipeline != nil && a.modelID == modelID {
		return a.pipeline, nil
	}
	if a.runtime == nil {
		return nil, fmt.Errorf("no local runtime configured")
	}

	announce(fmt.Sprintf("*Initializing %s...*\n", modelID))
	a.logger.Info("loading local model", "model", modelID, "previous", a.modelID)
	pipe, err := a.runtime.Load(ctx, modelID)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", modelID, err)
	}

	if a.pipeline != nil {
		if cerr := a.pipeline.Close(); cerr != nil {
			a.logger.Warn("closing previous pipeline", "model", a.modelID, "error", cerr)
		}
	}
	a.pipeline, a.modelID = pipe, modelID
	return pipe, nil
}

// Close releases the loaded pipeline. It waits for any running generation.
func (a *LocalAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pipeline == nil {
		return nil
	}
	err := a.pipeline.Close()
	a.pipeline, a.modelID = nil, ""
	return err
}

func localOptions(s Settings) GenerateOptions {
	maxTokens := s.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultLocalMaxTokens
	}
	return GenerateOptions{
		MaxNewTokens:      maxTokens,
		Temperature:       s.Temperature,
		TopP:              s.TopP,
		TopK:              s.TopK,
		RepetitionPenalty: s.RepeatPenalty,
		DoSample:          true,
	}
}

// FormatPrompt renders a transcript in the chat-markup format used by the
// small local chat models:
//
//	<|system|>
//	{system prompt}</s>
//	<|user|>
//	{content}</s>
//	<|assistant|>
//
// The system turn is omitted when the prompt is blank. Text file
// attachments are inlined after the message content.
func FormatPrompt(transcript []Message, systemPrompt string) string {
	var b strings.Builder
	if strings.TrimSpace(systemPrompt) != "" {
		fmt.Fprintf(&b, "<|system|>\n%s</s>\n", systemPrompt)
	}
	for _, m := range transcript {
		fmt.Fprintf(&b, "<|%s|>\n%s%s</s>\n", m.Role, m.Content, attachedFiles(m.Attachments))
	}
	b.WriteString("<|assistant|>\n")
	return b.String()
}

func attachedFiles(atts []Attachment) string {
	var blocks []string
	for _, att := range atts {
		if att.Kind != AttachmentFile {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("--- %s ---\n%s\n---", att.Name, att.Data))
	}
	if len(blocks) == 0 {
		return ""
	}
	return "\n\nAttached Files:\n" + strings.Join(blocks, "\n")
}
