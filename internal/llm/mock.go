package llm

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// MockAdapter produces canned replies with simulated typing delays.
// It needs no network and is used for offline demos and tests.
type MockAdapter struct {
	thinkDelay time.Duration
	minDelay   time.Duration
	maxDelay   time.Duration
}

// mockTrigger maps keywords in the latest user message to a reply.
// Triggers are tried in order; the first match wins.
type mockTrigger struct {
	keywords []string
	reply    func(modelID string) string
}

var mockTriggers = []mockTrigger{
	{
		keywords: []string{"hello", "hi"},
		reply: func(modelID string) string {
			return fmt.Sprintf("Hello! I am running on the **%s** model (Mock Mode). How can I help you today?", modelID)
		},
	},
	{
		keywords: []string{"code"},
		reply: func(string) string {
			return "Here is a Python snippet:\n\n```python\nprint(\"Hello World\")\n```"
		},
	},
}

func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		thinkDelay: 600 * time.Millisecond,
		minDelay:   10 * time.Millisecond,
		maxDelay:   40 * time.Millisecond,
	}
}

// WithDelays overrides the initial "thinking" pause and the per-fragment
// delay range, and returns the adapter for chaining.
func (m *MockAdapter) WithDelays(think, minDelay, maxDelay time.Duration) *MockAdapter {
	m.thinkDelay = think
	m.minDelay = minDelay
	m.maxDelay = maxDelay
	return m
}

func (m *MockAdapter) Name() string {
	return "mock"
}

func (m *MockAdapter) Generate(ctx context.Context, transcript []Message, modelID string, _ Settings) Stream {
	reply := MockReply(transcript, modelID)
	return NewStream(ctx, func(ctx context.Context, emit EmitFunc) error {
		if !sleepCtx(ctx, m.thinkDelay) {
			return nil
		}
		for _, frag := range SplitFragments(reply) {
			if !sleepCtx(ctx, m.fragmentDelay()) {
				return nil
			}
			if !emit(frag) {
				return nil
			}
		}
		return nil
	})
}

func (m *MockAdapter) fragmentDelay() time.Duration {
	if m.maxDelay <= m.minDelay {
		return m.minDelay
	}
	return m.minDelay + rand.N(m.maxDelay-m.minDelay)
}

// MockReply picks the canned reply for the most recent user message.
func MockReply(transcript []Message, modelID string) string {
	last, _ := LastUserMessage(transcript)
	if n := len(last.Attachments); n > 0 {
		return fmt.Sprintf("I see you uploaded %d attachment(s). In mock mode, I can't analyze them, but they are properly passed in the message structure.", n)
	}
	lower := strings.ToLower(last.Content)
	for _, t := range mockTriggers {
		for _, kw := range t.keywords {
			if strings.Contains(lower, kw) {
				return t.reply(modelID)
			}
		}
	}
	return fmt.Sprintf("I received your message: \"%s\". (Mock Response)", last.Content)
}

// SplitFragments splits text immediately before each run of spaces or
// newlines, so whitespace is carried at the front of the next fragment.
// Concatenating the result yields text again.
func SplitFragments(text string) []string {
	var out []string
	start := 0
	for i := 1; i < len(text); i++ {
		if isFragmentBreak(text[i]) && !isFragmentBreak(text[i-1]) {
			out = append(out, text[start:i])
			start = i
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

func isFragmentBreak(b byte) bool {
	return b == ' ' || b == '\n'
}

// sleepCtx waits for d or until ctx is done. It reports whether the full
// delay elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
