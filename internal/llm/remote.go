package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

const chatCompletionsPath = "/chat/completions"

// RemoteAdapter streams replies from an OpenAI-compatible
// /chat/completions endpoint.
type RemoteAdapter struct {
	client *http.Client
	logger *slog.Logger
}

func NewRemoteAdapter(client *http.Client, logger *slog.Logger) *RemoteAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteAdapter{client: client, logger: logger}
}

func (a *RemoteAdapter) Name() string {
	return "remote"
}

// StatusError is reported when the endpoint answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chat completions returned status %d", e.StatusCode)
}

func (a *RemoteAdapter) Generate(ctx context.Context, transcript []Message, modelID string, s Settings) Stream {
	modelID = chooseModel(modelID, DefaultModelID)
	return NewStream(ctx, func(ctx context.Context, emit EmitFunc) error {
		body, err := json.Marshal(buildChatRequest(transcript, modelID, s))
		if err != nil {
			emit(connectionErrorAnnotation(err))
			return fmt.Errorf("encode request: %w", err)
		}

		url := CompletionsURL(s.APIURL)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			emit(connectionErrorAnnotation(err))
			return fmt.Errorf("create request: %w", err)
		}
		key := s.APIKey
		if key == "" {
			key = "no-key"
		}
		req.Header.Set("Authorization", "Bearer "+key)
		req.Header.Set("Content-Type", "application/json")

		a.logger.Debug("chat completions request", "url", url, "model", modelID, "messages", len(transcript))
		resp, err := a.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			emit(connectionErrorAnnotation(err))
			return fmt.Errorf("chat completions request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			raw, _ := io.ReadAll(resp.Body)
			emit(fmt.Sprintf("**API Error**: %d\n`%s`", resp.StatusCode, raw))
			return &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
		}

		err = a.readEvents(ctx, resp.Body, emit)
		if err != nil && ctx.Err() == nil {
			emit(connectionErrorAnnotation(err))
			return fmt.Errorf("read event stream: %w", err)
		}
		return nil
	})
}

// readEvents decodes server-sent "data:" lines until [DONE], end of body,
// or the consumer goes away. Malformed payloads are skipped.
func (a *RemoteAdapter) readEvents(ctx context.Context, body io.Reader, emit EmitFunc) error {
	var lines lineBuffer
	buf := make([]byte, 4096)
	for {
		n, readErr := body.Read(buf)
		for _, line := range lines.Feed(buf[:n]) {
			line = strings.TrimSpace(line)
			payload, ok := strings.CutPrefix(line, "data: ")
			if !ok {
				continue
			}
			if payload == "[DONE]" {
				return nil
			}
			if !gjson.Valid(payload) {
				a.logger.Debug("skipping malformed event", "payload", truncate(payload, 120))
				continue
			}
			content := gjson.Get(payload, "choices.0.delta.content")
			if content.Type != gjson.String || content.Str == "" {
				continue
			}
			if !emit(content.Str) {
				return nil
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return readErr
		}
	}
}

func connectionErrorAnnotation(err error) string {
	return "\n\n**Connection Error**: " + err.Error()
}

// CompletionsURL derives the endpoint URL from a configured base URL.
// Trailing slashes are trimmed and the path is appended unless the base
// already ends with it.
func CompletionsURL(base string) string {
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(base, chatCompletionsPath) {
		return base
	}
	return base + chatCompletionsPath
}

// BaseURL strips a trailing /chat/completions, giving the API root that
// other endpoints such as /models hang off.
func BaseURL(apiURL string) string {
	base := strings.TrimRight(apiURL, "/")
	return strings.TrimSuffix(base, chatCompletionsPath)
}

type chatRequest struct {
	Model            string        `json:"model"`
	Messages         []chatMessage `json:"messages"`
	Stream           bool          `json:"stream"`
	Temperature      float64       `json:"temperature"`
	TopP             float64       `json:"top_p"`
	MaxTokens        int           `json:"max_tokens"`
	PresencePenalty  float64       `json:"presence_penalty"`
	FrequencyPenalty float64       `json:"frequency_penalty"`
	Seed             *int64        `json:"seed,omitempty"`
	TopK             int           `json:"top_k"`
	MinP             float64       `json:"min_p"`
	RepeatPenalty    float64       `json:"repeat_penalty"`
	RepeatLastN      int           `json:"repeat_last_n"`
	Mirostat         int           `json:"mirostat"`
	MirostatTau      float64       `json:"mirostat_tau"`
	MirostatEta      float64       `json:"mirostat_eta"`
	CachePrompt      bool          `json:"cache_prompt"`
}

// chatMessage content is either a plain string or a list of contentParts.
type chatMessage struct {
	Role    Role `json:"role"`
	Content any  `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

// buildChatRequest assembles the streaming request body. The system
// prompt always comes first.
func buildChatRequest(transcript []Message, modelID string, s Settings) chatRequest {
	msgs := make([]chatMessage, 0, len(transcript)+1)
	msgs = append(msgs, chatMessage{Role: RoleSystem, Content: s.SystemPrompt})
	for _, m := range transcript {
		msgs = append(msgs, toChatMessage(m))
	}

	req := chatRequest{
		Model:            modelID,
		Messages:         msgs,
		Stream:           true,
		Temperature:      s.Temperature,
		TopP:             s.TopP,
		MaxTokens:        s.MaxTokens,
		PresencePenalty:  s.PresencePenalty,
		FrequencyPenalty: s.FrequencyPenalty,
		TopK:             s.TopK,
		MinP:             s.MinP,
		RepeatPenalty:    s.RepeatPenalty,
		RepeatLastN:      s.RepeatLastN,
		Mirostat:         s.Mirostat,
		MirostatTau:      s.MirostatTau,
		MirostatEta:      s.MirostatEta,
		CachePrompt:      true,
	}
	if s.Seed != SeedUnset {
		seed := s.Seed
		req.Seed = &seed
	}
	return req
}

// toChatMessage keeps plain messages as strings. Messages with attachments
// become a part list: the text part (if any), one image_url part per image,
// and file contents appended to the first text part.
func toChatMessage(m Message) chatMessage {
	if len(m.Attachments) == 0 {
		return chatMessage{Role: m.Role, Content: m.Content}
	}

	var parts []contentPart
	if m.Content != "" {
		parts = append(parts, contentPart{Type: "text", Text: m.Content})
	}
	for _, att := range m.Attachments {
		switch att.Kind {
		case AttachmentImage:
			parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: att.Data}})
		default:
			block := fmt.Sprintf("\n[File: %s]\n%s\n", att.Name, att.Data)
			if i := firstTextPart(parts); i >= 0 {
				parts[i].Text += block
			} else {
				parts = append(parts, contentPart{Type: "text", Text: block})
			}
		}
	}
	return chatMessage{Role: m.Role, Content: parts}
}

func firstTextPart(parts []contentPart) int {
	for i, p := range parts {
		if p.Type == "text" {
			return i
		}
	}
	return -1
}
