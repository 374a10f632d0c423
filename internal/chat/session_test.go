package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/openllama/openllama/internal/llm"
	"github.com/openllama/openllama/internal/store"
)

func TestStoreLoadCreatesFirstSession(t *testing.T) {
	st := NewStore(store.NewMemoryStore(), nil)
	if err := st.Load(context.Background(), "llama"); err != nil {
		t.Fatal(err)
	}
	sessions := st.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	if sessions[0].Title != NewChatTitle || sessions[0].ModelID != "llama" {
		t.Errorf("session = %+v", sessions[0])
	}
	if st.ActiveID() != sessions[0].ID {
		t.Error("created session should be active")
	}
}

func TestStoreLoadOrdersByUpdatedAt(t *testing.T) {
	kv := store.NewMemoryStore()
	now := time.Now()
	seed := []Session{
		{ID: "old", Title: "old", UpdatedAt: now.Add(-time.Hour)},
		{ID: "new", Title: "new", UpdatedAt: now},
	}
	if err := store.SaveJSON(context.Background(), kv, store.ChatsKey, seed); err != nil {
		t.Fatal(err)
	}

	st := NewStore(kv, nil)
	if err := st.Load(context.Background(), "m"); err != nil {
		t.Fatal(err)
	}
	if got := st.Sessions(); got[0].ID != "new" || got[1].ID != "old" {
		t.Errorf("order = %s, %s", got[0].ID, got[1].ID)
	}
	if st.ActiveID() != "new" {
		t.Errorf("active = %q, want most recent", st.ActiveID())
	}
}

func TestStoreLoadCorruptBlob(t *testing.T) {
	kv := store.NewMemoryStore()
	kv.Put(context.Background(), store.ChatsKey, []byte("nope"))
	if err := NewStore(kv, nil).Load(context.Background(), "m"); err == nil {
		t.Fatal("Load should fail on a corrupt blob")
	}
}

func TestStoreDelete(t *testing.T) {
	ctx := context.Background()
	st := NewStore(store.NewMemoryStore(), nil)
	st.Load(ctx, "m")
	first := st.ActiveID()
	second, _ := st.Create(ctx, "m")

	if err := st.Delete(ctx, second.ID, "m"); err != nil {
		t.Fatal(err)
	}
	if st.ActiveID() != first {
		t.Errorf("deleting the active session should activate the next one")
	}

	if err := st.Delete(ctx, first, "fallback"); err != nil {
		t.Fatal(err)
	}
	sessions := st.Sessions()
	if len(sessions) != 1 || sessions[0].ModelID != "fallback" || st.ActiveID() != sessions[0].ID {
		t.Errorf("deleting the last session should create a fresh one, got %+v", sessions)
	}

	if err := st.Delete(ctx, "missing", "m"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Delete(missing) = %v", err)
	}
}

func TestStoreRenameAndSelect(t *testing.T) {
	ctx := context.Background()
	st := NewStore(nil, nil)
	st.Load(ctx, "m")
	a := st.ActiveID()
	b, _ := st.Create(ctx, "m")

	if err := st.Rename(ctx, a, "Renamed"); err != nil {
		t.Fatal(err)
	}
	if got, _ := st.Get(a); got.Title != "Renamed" {
		t.Errorf("title = %q", got.Title)
	}
	if st.Sessions()[0].ID != b.ID {
		t.Error("rename should not reorder sessions")
	}
	if err := st.SetActive(a); err != nil || st.ActiveID() != a {
		t.Errorf("SetActive: %v", err)
	}
	if err := st.SetActive("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("SetActive(nope) = %v", err)
	}
}

func TestSessionsAreSnapshots(t *testing.T) {
	ctx := context.Background()
	st := NewStore(nil, nil)
	st.Load(ctx, "m")
	id := st.ActiveID()
	st.appendUser(ctx, id, llm.Message{ID: "u", Role: llm.RoleUser, Content: "hi",
		Attachments: []llm.Attachment{{Name: "a"}}, Timestamp: time.Now()})

	snap := st.Sessions()
	snap[0].Messages[0].Content = "mutated"
	snap[0].Messages[0].Attachments[0].Name = "mutated"

	got, _ := st.Get(id)
	if got.Messages[0].Content != "hi" || got.Messages[0].Attachments[0].Name != "a" {
		t.Error("mutating a snapshot leaked into the store")
	}
}

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"hi", "hi"},
		{"", "New Attachment"},
		{"   ", "New Attachment"},
		{strings.Repeat("a", 30), strings.Repeat("a", 30)},
		{strings.Repeat("a", 31), strings.Repeat("a", 30) + "..."},
		{strings.Repeat("é", 31), strings.Repeat("é", 30) + "..."},
	}
	for _, tc := range tests {
		if got := deriveTitle(tc.input); got != tc.want {
			t.Errorf("deriveTitle(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestFitTitle(t *testing.T) {
	if got := FitTitle("short", 10); got != "short" {
		t.Errorf("FitTitle(short) = %q", got)
	}
	if got := FitTitle("a much longer title", 8); got != "a much …" {
		t.Errorf("FitTitle(long) = %q", got)
	}
}

func TestGroupByDate(t *testing.T) {
	now := time.Date(2025, 3, 10, 15, 0, 0, 0, time.Local)
	sessions := []Session{
		{ID: "today", UpdatedAt: now.Add(-time.Hour)},
		{ID: "yesterday", UpdatedAt: now.AddDate(0, 0, -1)},
		{ID: "week", UpdatedAt: now.AddDate(0, 0, -5)},
		{ID: "older", UpdatedAt: now.AddDate(0, -1, 0)},
		{ID: "today2", UpdatedAt: now.Add(-14 * time.Hour)},
	}
	groups := GroupByDate(sessions, now)

	want := map[string][]string{
		GroupToday:     {"today", "today2"},
		GroupYesterday: {"yesterday"},
		GroupWeek:      {"week"},
		GroupOlder:     {"older"},
	}
	if len(groups) != 4 {
		t.Fatalf("got %d groups, want 4", len(groups))
	}
	for _, g := range groups {
		var ids []string
		for _, s := range g.Sessions {
			ids = append(ids, s.ID)
		}
		if strings.Join(ids, ",") != strings.Join(want[g.Label], ",") {
			t.Errorf("group %s = %v, want %v", g.Label, ids, want[g.Label])
		}
	}
	if groups[0].Label != GroupToday || groups[3].Label != GroupOlder {
		t.Errorf("groups out of order: %s ... %s", groups[0].Label, groups[3].Label)
	}
}

func TestComputeStats(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		count    int
		elapsed  time.Duration
		wantRate float64
		wantSecs float64
	}{
		{"no time elapsed", 3, 0, 0, 0},
		{"clock skew", 3, -time.Second, 0, 0},
		{"rounds to one decimal", 10, 3 * time.Second, 3.3, 3},
		{"sub-second", 1, 250 * time.Millisecond, 4, 0.3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := computeStats(start, tc.count, start.Add(tc.elapsed))
			if got.TokensPerSecond != tc.wantRate || got.ElapsedSeconds != tc.wantSecs || got.TokenCount != tc.count {
				t.Errorf("computeStats = %+v, want rate %v secs %v", got, tc.wantRate, tc.wantSecs)
			}
		})
	}
}

func TestSessionIDs(t *testing.T) {
	id := NewSessionID()
	if len(id) != 22 || id[8] != '-' || id[15] != '-' {
		t.Errorf("NewSessionID() = %q", id)
	}
	if ParseIDTime(id).IsZero() {
		t.Errorf("ParseIDTime(%q) is zero", id)
	}
	if !ParseIDTime("short").IsZero() {
		t.Error("ParseIDTime(short) should be zero")
	}
	if got := ShortID("20240115-143052-a1b2c3"); got != "240115-1430" {
		t.Errorf("ShortID = %q", got)
	}
	if NewMessageID() == NewMessageID() {
		t.Error("message ids should be unique")
	}
}
