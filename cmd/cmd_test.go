package cmd

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/openllama/openllama/internal/chat"
	"github.com/openllama/openllama/internal/llm"
	"github.com/openllama/openllama/internal/store"
)

func TestBuildQuestion(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		stdin string
		tty   bool
		want  string
	}{
		{"args only", []string{"why", "is", "the", "sky", "blue?"}, "", true, "why is the sky blue?"},
		{"stdin ignored on tty", []string{"hi"}, "ignored", true, "hi"},
		{"stdin only", nil, "summarize this\n", false, "summarize this"},
		{"args and stdin", []string{"explain"}, "x := 1\n", false, "explain\n\nx := 1"},
		{"empty pipe", []string{"hi"}, "\n", false, "hi"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := buildQuestion(tc.args, strings.NewReader(tc.stdin), tc.tty)
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("buildQuestion() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAnswerPrinterPrintsOnlyNewText(t *testing.T) {
	var buf bytes.Buffer
	p := &answerPrinter{w: &buf, sessionID: "s1"}

	snapshot := func(content ...string) chat.Update {
		msgs := []llm.Message{{Role: llm.RoleUser, Content: "q"}}
		if len(content) > 0 {
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: strings.Join(content, "")})
		}
		return chat.Update{
			SessionID: "s1",
			Sessions: []chat.Session{
				{ID: "other", Messages: []llm.Message{{Role: llm.RoleAssistant, Content: "nope"}}},
				{ID: "s1", Messages: msgs},
			},
		}
	}

	p.update(snapshot())
	p.update(snapshot("Hel"))
	p.update(snapshot("Hel", "lo"))
	p.update(snapshot("Hel", "lo"))
	p.update(chat.Update{SessionID: "other"})
	p.finish()

	if got := buf.String(); got != "Hello\n" {
		t.Errorf("printed %q, want %q", got, "Hello\n")
	}
}

func TestAnswerPrinterSilentWithoutReply(t *testing.T) {
	var buf bytes.Buffer
	p := &answerPrinter{w: &buf, sessionID: "s1"}
	p.flush(chat.Session{ID: "s1", Messages: []llm.Message{{Role: llm.RoleUser, Content: "q"}}})
	p.finish()
	if buf.Len() != 0 {
		t.Errorf("printed %q, want nothing", buf.String())
	}
}

func newTestStore(t *testing.T, titles ...string) *chat.Store {
	t.Helper()
	ctx := context.Background()
	st := chat.NewStore(store.NewMemoryStore(), nil)
	if err := st.Load(ctx, "test-model"); err != nil {
		t.Fatal(err)
	}
	for i, title := range titles {
		var id string
		if i == 0 {
			id = st.ActiveID()
		} else {
			s, err := st.Create(ctx, "test-model")
			if err != nil {
				t.Fatal(err)
			}
			id = s.ID
		}
		if err := st.Rename(ctx, id, title); err != nil {
			t.Fatal(err)
		}
	}
	return st
}

func TestFindSession(t *testing.T) {
	st := newTestStore(t, "Kubernetes upgrade", "Trip planning")
	sessions := st.Sessions()

	byNumber, err := findSession(st, "1")
	if err != nil || byNumber.ID != sessions[0].ID {
		t.Errorf("findSession(1) = %v, %v", byNumber.ID, err)
	}
	byID, err := findSession(st, sessions[1].ID)
	if err != nil || byID.ID != sessions[1].ID {
		t.Errorf("findSession(id) = %v, %v", byID.ID, err)
	}
	if _, err := findSession(st, "nope"); !errors.Is(err, chat.ErrSessionNotFound) {
		t.Errorf("findSession(nope) error = %v, want ErrSessionNotFound", err)
	}
	if _, err := findSession(st, "9"); !errors.Is(err, chat.ErrSessionNotFound) {
		t.Errorf("findSession(9) error = %v, want ErrSessionNotFound", err)
	}
}

func TestSearchSessions(t *testing.T) {
	st := newTestStore(t, "Kubernetes upgrade", "Trip planning", "Kitchen remodel")
	got := searchSessions(st.Sessions(), "kube")
	if len(got) != 1 || got[0].Title != "Kubernetes upgrade" {
		t.Errorf("searchSessions(kube) = %+v", got)
	}
	if got := searchSessions(st.Sessions(), "zzzz"); len(got) != 0 {
		t.Errorf("searchSessions(zzzz) = %+v, want none", got)
	}
}

func TestWriteSessionList(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.Local)
	sessions := []chat.Session{
		{ID: "20240310-110000-aaaaaa", Title: "Fresh", ModelID: "m1", UpdatedAt: now.Add(-time.Hour)},
		{ID: "20240301-110000-bbbbbb", Title: "Old", ModelID: "m2", UpdatedAt: now.AddDate(0, 0, -9)},
	}
	var buf bytes.Buffer
	writeSessionList(&buf, sessions, sessions[1].ID, now)
	out := buf.String()

	for _, want := range []string{"Today", "Older", "Fresh", "*   2"} {
		if !strings.Contains(out, want) {
			t.Errorf("listing missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "Today") > strings.Index(out, "Older") {
		t.Errorf("groups out of order:\n%s", out)
	}

	buf.Reset()
	writeSessionList(&buf, nil, "", now)
	if !strings.Contains(buf.String(), "No chats found.") {
		t.Errorf("empty listing = %q", buf.String())
	}
}

func TestListRemoteModels(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","data":[` +
			`{"id":"llama-3-8b-instruct","object":"model","created":1700000000,"owned_by":"llamacpp"},` +
			`{"id":"mistral-7b-instruct","object":"model","created":0,"owned_by":"llamacpp"}]}`))
	}))
	defer srv.Close()

	models, err := listRemoteModels(context.Background(), srv.URL+"/v1/chat/completions", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 2 || models[0].ID != "llama-3-8b-instruct" || models[1].OwnedBy != "llamacpp" {
		t.Errorf("models = %+v", models)
	}
	if gotAuth != "Bearer no-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestWriteMarkdown(t *testing.T) {
	var buf bytes.Buffer
	writeMarkdown(&buf, chat.Session{
		ID:      "20240310-110000-aaaaaa",
		Title:   "Milk",
		ModelID: "m1",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "what did I forget?", Attachments: []llm.Attachment{
				{Kind: llm.AttachmentFile, Name: "notes.txt"},
			}},
			{Role: llm.RoleAssistant, Content: "The milk."},
		},
	})
	out := buf.String()
	for _, want := range []string{"# Milk", "**Model:** m1", "## You\n\nwhat did I forget?", "_[file: notes.txt]_", "## Assistant\n\nThe milk."} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown missing %q:\n%s", want, out)
		}
	}
}

func TestWriteCatalogue(t *testing.T) {
	var buf bytes.Buffer
	writeCatalogue(&buf, llm.Models)
	out := buf.String()
	for _, m := range llm.Models {
		if !strings.Contains(out, m.ID) {
			t.Errorf("catalogue missing %s", m.ID)
		}
	}
}
