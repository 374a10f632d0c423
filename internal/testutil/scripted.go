package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/openllama/openllama/internal/llm"
)

// Turn is one scripted reply.
type Turn struct {
	Fragments []string

	// Delay is slept before each fragment.
	Delay time.Duration

	// Hold, when set, blocks before every fragment after the first until
	// it is closed or the generation is cancelled.
	Hold chan struct{}

	// Err is annotated into the reply and reported by Stream.Err.
	Err error
}

// Request records one Generate call.
type Request struct {
	Transcript []llm.Message
	ModelID    string
	Settings   llm.Settings
}

// ScriptedAdapter replays scripted turns and records every request.
// It satisfies both llm.Adapter and the controller's adapter lookup.
type ScriptedAdapter struct {
	mu       sync.Mutex
	turns    []Turn
	next     int
	requests []Request
}

func NewScriptedAdapter(turns ...Turn) *ScriptedAdapter {
	return &ScriptedAdapter{turns: turns}
}

// AddReply appends a turn streaming the given fragments.
func (a *ScriptedAdapter) AddReply(fragments ...string) *ScriptedAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.turns = append(a.turns, Turn{Fragments: fragments})
	return a
}

func (a *ScriptedAdapter) Name() string {
	return "scripted"
}

// For returns the adapter itself for every backend.
func (a *ScriptedAdapter) For(llm.Backend) llm.Adapter {
	return a
}

// Requests returns the recorded requests.
func (a *ScriptedAdapter) Requests() []Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Request, len(a.requests))
	copy(out, a.requests)
	return out
}

func (a *ScriptedAdapter) Generate(ctx context.Context, transcript []llm.Message, modelID string, s llm.Settings) llm.Stream {
	a.mu.Lock()
	a.requests = append(a.requests, Request{Transcript: llm.CloneMessages(transcript), ModelID: modelID, Settings: s})
	var turn Turn
	if a.next < len(a.turns) {
		turn = a.turns[a.next]
		a.next++
	}
	a.mu.Unlock()

	return llm.NewStream(ctx, func(ctx context.Context, emit llm.EmitFunc) error {
		for i, frag := range turn.Fragments {
			if i > 0 && turn.Hold != nil {
				select {
				case <-turn.Hold:
				case <-ctx.Done():
					return nil
				}
			}
			if turn.Delay > 0 {
				select {
				case <-time.After(turn.Delay):
				case <-ctx.Done():
					return nil
				}
			}
			if !emit(frag) {
				return nil
			}
		}
		if turn.Err != nil {
			emit("Error: " + turn.Err.Error())
			return turn.Err
		}
		return nil
	})
}
