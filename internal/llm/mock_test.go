package llm

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestMockReply(t *testing.T) {
	tests := []struct {
		name    string
		message Message
		want    string
	}{
		{
			name:    "greeting names the model",
			message: Message{Role: RoleUser, Content: "hello there"},
			want:    "Hello! I am running on the **llama-3-8b-instruct** model (Mock Mode). How can I help you today?",
		},
		{
			name:    "greeting is case insensitive",
			message: Message{Role: RoleUser, Content: "Hi!"},
			want:    "Hello! I am running on the **llama-3-8b-instruct** model (Mock Mode). How can I help you today?",
		},
		{
			name:    "code request",
			message: Message{Role: RoleUser, Content: "write some CODE"},
			want:    "Here is a Python snippet:\n\n```python\nprint(\"Hello World\")\n```",
		},
		{
			name:    "greeting beats code",
			message: Message{Role: RoleUser, Content: "hello, show me code"},
			want:    "Hello! I am running on the **llama-3-8b-instruct** model (Mock Mode). How can I help you today?",
		},
		{
			name:    "echo fallback",
			message: Message{Role: RoleUser, Content: "what is 2+2"},
			want:    `I received your message: "what is 2+2". (Mock Response)`,
		},
		{
			name: "attachments win over keywords",
			message: Message{Role: RoleUser, Content: "hello", Attachments: []Attachment{
				{ID: "a", Kind: AttachmentFile, Name: "a.txt", Data: "x"},
				{ID: "b", Kind: AttachmentImage, Name: "b.png", Data: "data:image/png;base64,AA=="},
			}},
			want: "I see you uploaded 2 attachment(s). In mock mode, I can't analyze them, but they are properly passed in the message structure.",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := MockReply([]Message{tc.message}, "llama-3-8b-instruct")
			if got != tc.want {
				t.Errorf("MockReply() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestMockReplyUsesLatestUserMessage(t *testing.T) {
	transcript := []Message{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "Hello!"},
		{Role: RoleUser, Content: "plain"},
	}
	got := MockReply(transcript, "m")
	if got != `I received your message: "plain". (Mock Response)` {
		t.Errorf("MockReply() = %q", got)
	}
}

func TestSplitFragments(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"", nil},
		{"word", []string{"word"}},
		{"a b", []string{"a", " b"}},
		{"a  b\n\nc", []string{"a", "  b", "\n\nc"}},
		{" lead", []string{" lead"}},
		{"trail ", []string{"trail", " "}},
	}
	for _, tc := range tests {
		got := SplitFragments(tc.input)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("SplitFragments(%q) = %q, want %q", tc.input, got, tc.want)
		}
		if strings.Join(got, "") != tc.input {
			t.Errorf("SplitFragments(%q) does not concatenate back to input", tc.input)
		}
	}
}

func TestMockAdapterStreamsWholeReply(t *testing.T) {
	m := NewMockAdapter().WithDelays(0, 0, 0)
	transcript := []Message{{Role: RoleUser, Content: "hello world"}}

	got, err := Collect(m.Generate(context.Background(), transcript, "tiny", DefaultSettings()))
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	want := MockReply(transcript, "tiny")
	if got != want {
		t.Errorf("streamed %q, want %q", got, want)
	}
}

func TestMockAdapterStopsOnCancel(t *testing.T) {
	m := NewMockAdapter().WithDelays(0, 0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	stream := m.Generate(ctx, []Message{{Role: RoleUser, Content: "one two three four"}}, "m", DefaultSettings())
	defer stream.Close()

	first, err := stream.Recv()
	if err != nil {
		t.Fatalf("first Recv() error = %v", err)
	}
	if first != "I" {
		t.Fatalf("first fragment = %q, want %q", first, "I")
	}
	cancel()
	if frag, err := stream.Recv(); err == nil {
		t.Fatalf("Recv() after cancel returned %q, want io.EOF", frag)
	}
	if err := stream.Err(); err != nil {
		t.Errorf("Err() = %v, want nil for a cancelled run", err)
	}
}

func TestMockAdapterThinkingDelayIsCancellable(t *testing.T) {
	m := NewMockAdapter().WithDelays(time.Hour, 0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	stream := m.Generate(ctx, []Message{{Role: RoleUser, Content: "x"}}, "m", DefaultSettings())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = Collect(stream)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after cancel")
	}
}
