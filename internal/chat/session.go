package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/openllama/openllama/internal/llm"
	"github.com/openllama/openllama/internal/store"
)

var ErrSessionNotFound = errors.New("session not found")

// Session is one conversation and its transcript.
type Session struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	ModelID   string        `json:"modelId"`
	Messages  []llm.Message `json:"messages"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Clone deep-copies the session.
func (s Session) Clone() Session {
	s.Messages = llm.CloneMessages(s.Messages)
	return s
}

// Store owns the session list, ordered most recently updated first, and
// persists it as a single blob after every mutation.
type Store struct {
	kv     store.KV
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	sessions []*Session
	activeID string
}

// NewStore wraps kv. A nil kv keeps sessions in memory only.
func NewStore(kv store.KV, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, logger: logger, now: time.Now}
}

// Load replaces the in-memory list with the persisted one. If nothing is
// persisted, a fresh session for defaultModel is created. The most recent
// session becomes active.
func (s *Store) Load(ctx context.Context, defaultModel string) error {
	var loaded []*Session
	if s.kv != nil {
		if _, err := store.LoadJSON(ctx, s.kv, store.ChatsKey, &loaded); err != nil {
			return fmt.Errorf("load sessions: %w", err)
		}
	}
	sort.SliceStable(loaded, func(i, j int) bool {
		return loaded[i].UpdatedAt.After(loaded[j].UpdatedAt)
	})

	s.mu.Lock()
	s.sessions = loaded
	s.activeID = ""
	if len(loaded) > 0 {
		s.activeID = loaded[0].ID
	}
	s.mu.Unlock()

	if len(loaded) == 0 {
		_, err := s.Create(ctx, defaultModel)
		return err
	}
	return nil
}

// Sessions returns a deep copy of the list, most recent first.
func (s *Store) Sessions() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Session, len(s.sessions))
	for i, sess := range s.sessions {
		out[i] = sess.Clone()
	}
	return out
}

func (s *Store) Get(id string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess := s.find(id); sess != nil {
		return sess.Clone(), true
	}
	return Session{}, false
}

// Active returns the session shown in the UI.
func (s *Store) Active() (Session, bool) {
	s.mu.RLock()
	id := s.activeID
	s.mu.RUnlock()
	return s.Get(id)
}

func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// SetActive switches the UI to another session. It does not touch any
// generation in progress.
func (s *Store) SetActive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.find(id) == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.activeID = id
	return nil
}

// Create adds an empty session at the front and makes it active.
func (s *Store) Create(ctx context.Context, modelID string) (Session, error) {
	sess := &Session{
		ID:        NewSessionID(),
		Title:     NewChatTitle,
		ModelID:   modelID,
		Messages:  []llm.Message{},
		UpdatedAt: s.now(),
	}
	s.mu.Lock()
	s.sessions = append([]*Session{sess}, s.sessions...)
	s.activeID = sess.ID
	out := sess.Clone()
	s.mu.Unlock()
	return out, s.save(ctx)
}

// Delete removes a session. If it was active, the next most recent one
// becomes active; if none remain, a fresh session for defaultModel is created.
func (s *Store) Delete(ctx context.Context, id, defaultModel string) error {
	s.mu.Lock()
	idx := s.index(id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.sessions = append(s.sessions[:idx], s.sessions[idx+1:]...)
	empty := len(s.sessions) == 0
	if s.activeID == id && !empty {
		s.activeID = s.sessions[0].ID
	}
	s.mu.Unlock()

	if empty {
		_, err := s.Create(ctx, defaultModel)
		return err
	}
	return s.save(ctx)
}

// Rename sets a session's title.
func (s *Store) Rename(ctx context.Context, id, title string) error {
	return s.mutate(ctx, id, false, func(sess *Session) {
		sess.Title = title
	})
}

// SetModel changes the model used for future generations in a session.
func (s *Store) SetModel(ctx context.Context, id, modelID string) error {
	return s.mutate(ctx, id, false, func(sess *Session) {
		sess.ModelID = modelID
	})
}

// appendUser adds a user message, titles the session if it was empty, and
// returns the resulting transcript.
func (s *Store) appendUser(ctx context.Context, id string, msg llm.Message) ([]llm.Message, error) {
	var transcript []llm.Message
	err := s.mutate(ctx, id, true, func(sess *Session) {
		if len(sess.Messages) == 0 {
			sess.Title = deriveTitle(msg.Content)
		}
		sess.Messages = append(sess.Messages, msg)
		sess.UpdatedAt = msg.Timestamp
		transcript = llm.CloneMessages(sess.Messages)
	})
	return transcript, err
}

// appendFragment extends the assistant message msgID, creating it on the
// first fragment.
func (s *Store) appendFragment(ctx context.Context, id, msgID, fragment string, at time.Time) error {
	return s.mutate(ctx, id, true, func(sess *Session) {
		if n := len(sess.Messages); n > 0 && sess.Messages[n-1].ID == msgID {
			sess.Messages[n-1].Content += fragment
		} else {
			sess.Messages = append(sess.Messages, llm.Message{
				ID:        msgID,
				Role:      llm.RoleAssistant,
				Content:   fragment,
				Timestamp: at,
			})
		}
		sess.UpdatedAt = at
	})
}

// mutate applies fn to a session under the lock, optionally moves it to
// the front, and persists the list. Persistence failures are logged and
// do not fail the mutation.
func (s *Store) mutate(ctx context.Context, id string, toFront bool, fn func(*Session)) error {
	s.mu.Lock()
	idx := s.index(id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess := s.sessions[idx]
	fn(sess)
	if toFront && idx > 0 {
		copy(s.sessions[1:idx+1], s.sessions[:idx])
		s.sessions[0] = sess
	}
	s.mu.Unlock()

	if err := s.save(ctx); err != nil {
		s.logger.Warn("persisting sessions failed", "session", id, "error", err)
	}
	return nil
}

func (s *Store) save(ctx context.Context) error {
	if s.kv == nil {
		return nil
	}
	// Held across the write so no mutation lands between encode and put.
	s.mu.RLock()
	defer s.mu.RUnlock()
	return store.SaveJSON(context.WithoutCancel(ctx), s.kv, store.ChatsKey, s.sessions)
}

func (s *Store) index(id string) int {
	for i, sess := range s.sessions {
		if sess.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) find(id string) *Session {
	if i := s.index(id); i >= 0 {
		return s.sessions[i]
	}
	return nil
}
