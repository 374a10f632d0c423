package lmstudio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openllama/openllama/internal/llm"
)

// rawPromptTemplate passes the already formatted prompt through untouched.
const rawPromptTemplate = "{% for message in messages %}{{ message['content'] }}{% endfor %}"

type pipeline struct {
	client *Client
	model  LoadedModel
	owned  bool // loaded by this process, so unloaded on Close
}

// predictionFields maps generation options onto LM Studio's KV config.
func predictionFields(opts llm.GenerateOptions) []map[string]any {
	fields := []map[string]any{
		{"key": "llm.prediction.temperature", "value": opts.Temperature},
		{"key": "llm.prediction.maxPredictedTokens", "value": map[string]any{"checked": true, "value": opts.MaxNewTokens}},
		{"key": "llm.prediction.topPSampling", "value": map[string]any{"checked": true, "value": opts.TopP}},
		{"key": "llm.prediction.repeatPenalty", "value": map[string]any{"checked": true, "value": opts.RepetitionPenalty}},
		{"key": "llm.prediction.promptTemplate", "value": map[string]any{
			"type":                "jinja",
			"jinjaPromptTemplate": map[string]any{"template": rawPromptTemplate},
			"stopStrings":         []string{"</s>"},
		}},
	}
	if opts.TopK > 0 {
		fields = append(fields, map[string]any{"key": "llm.prediction.topKSampling", "value": opts.TopK})
	}
	if !opts.DoSample {
		fields[0]["value"] = 0.0
	}
	return fields
}

func (p *pipeline) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions, onText func(string)) error {
	ch, err := p.client.openChannel(ctx, "predict", map[string]any{
		"modelSpecifier": map[string]any{
			"type":              "instanceReference",
			"instanceReference": p.model.InstanceReference,
		},
		"history": map[string]any{
			"messages": []any{map[string]any{
				"role":    "user",
				"content": []any{map[string]any{"type": "text", "text": prompt}},
			}},
		},
		"predictionConfigStack": map[string]any{
			"layers": []any{map[string]any{
				"layerName": "instance",
				"config":    map[string]any{"fields": predictionFields(opts)},
			}},
		},
	})
	if err != nil {
		return err
	}
	defer ch.close()

	for {
		env, err := ch.next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				if sendErr := ch.send(map[string]any{"type": "cancel"}); sendErr != nil {
					p.client.logger.Debug("cancel prediction", "error", sendErr)
				}
			}
			return err
		}

		switch env.Type {
		case "channelError":
			return channelError(env)
		case "channelClose", "channelSuccess":
			return nil
		case "channelSend":
			msg, err := decodeMessage(env)
			if err != nil {
				return fmt.Errorf("decode prediction message: %w", err)
			}
			switch msg.Type {
			case "fragment":
				if msg.Fragment != nil && msg.Fragment.Content != "" {
					onText(msg.Fragment.Content)
				}
			case "chatToken":
				if msg.Token != "" {
					onText(msg.Token)
				}
			case "success", "chatEnd", "completed":
				return nil
			case "error":
				return errors.New("prediction failed")
			}
		}
	}
}

// Close unloads the model when this process loaded it.
func (p *pipeline) Close() error {
	if !p.owned {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return p.client.UnloadModel(ctx, p.model.Identifier)
}
