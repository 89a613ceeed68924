package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smartdocai/smartdoc-web-ui/internal/models"
	"github.com/smartdocai/smartdoc-web-ui/internal/stream"
	"github.com/smartdocai/smartdoc-web-ui/internal/transcript"
)

// BackendClient is the slice of the backend used by a session: opening the
// chat stream and loading the history of an existing chat.
type BackendClient interface {
	stream.Backend
	History(ctx context.Context, chatID string) ([]models.Message, error)
}

// Session is the per-screen coordinator. It binds a chat id (new or existing)
// to a stream controller and a transcript store, loads prior history when
// switching chats, and performs the navigate-on-chat-created transition
// without losing the just-sent user message. A session owns its transcript
// exclusively; Close must be called when the screen goes away so an active
// stream cannot dispatch into a disposed store.
type Session struct {
	client   BackendClient
	store    *transcript.Store
	ctrl     *stream.Controller
	dir      *Directory
	navigate func(chatID string)
	logger   *slog.Logger

	mu      sync.Mutex
	chatID  string
	loading bool
}

// NewSession creates a session for one chat screen. navigate is invoked with
// the new chat id when the stream creates a chat mid-flight, so the caller
// can update the location to the canonical chat URL without remounting the
// transcript; it may be nil.
func NewSession(client BackendClient, dir *Directory, navigate func(chatID string), logger *slog.Logger) *Session {
	s := &Session{
		client:   client,
		store:    transcript.NewStore(),
		dir:      dir,
		navigate: navigate,
		logger:   logger.With(slog.String("module", "session")),
	}
	s.ctrl = stream.NewController(client, s.store, logger)
	s.ctrl.OnChatCreated(s.chatCreated)
	s.ctrl.OnTitle(func(chatID, title string) {
		dir.SetTitle(chatID, title)
	})
	return s
}

// Bind points the session at chatID, loading its history into the transcript.
// Binding the id the session already holds is a no-op; in particular, after a
// stream assigns an id to a new chat, rebinding to that id keeps the live,
// just-streamed turns instead of refetching. Binding the empty id resets the
// session to a new, unsaved chat. Switching to a different existing chat
// aborts any active stream and discards the previous transcript.
func (s *Session) Bind(ctx context.Context, chatID string) error {
	s.mu.Lock()
	if chatID == s.chatID {
		s.mu.Unlock()
		return nil
	}
	s.chatID = chatID
	s.loading = chatID != ""
	s.mu.Unlock()

	s.ctrl.Abort()

	if chatID == "" {
		s.store.Dispatch(transcript.SetMessages{})
		return nil
	}

	messages, err := s.client.History(ctx, chatID)

	s.mu.Lock()
	stale := s.chatID != chatID
	s.loading = false
	s.mu.Unlock()
	if stale {
		return nil
	}

	if err != nil {
		s.logger.Error("Failed to load chat history",
			slog.String("chatID", chatID),
			slog.String("err", err.Error()))
		s.store.Dispatch(transcript.SetMessages{})
		return fmt.Errorf("failed to load chat history: %w", err)
	}

	s.store.Dispatch(transcript.SetMessages{Messages: messages})
	return nil
}

// Send submits a user message on the bound chat. For an unsaved chat the
// stream will assign an id, which arrives through the navigate callback.
func (s *Session) Send(userText, modelID string, fileIDs []int) error {
	s.mu.Lock()
	chatID := s.chatID
	s.mu.Unlock()
	return s.ctrl.Send(userText, chatID, modelID, fileIDs)
}

// Close aborts any active stream. The session must not be used afterwards.
func (s *Session) Close() {
	s.ctrl.Abort()
}

// ChatID returns the bound chat id, empty for a new chat.
func (s *Session) ChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatID
}

// LoadingHistory reports whether a history fetch is in flight.
func (s *Session) LoadingHistory() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Messages returns a snapshot of the transcript.
func (s *Session) Messages() []models.Message {
	return s.store.Messages()
}

// Store exposes the transcript store for change subscriptions.
func (s *Session) Store() *transcript.Store {
	return s.store
}

// Streaming reports whether a response stream is active.
func (s *Session) Streaming() bool {
	return s.ctrl.Streaming()
}

// LastError returns the last stream failure, if any.
func (s *Session) LastError() string {
	return s.ctrl.LastError()
}

// chatCreated handles the mid-stream transition from an unsaved chat to a
// server-assigned id: adopt the id, register the chat in the directory, and
// signal navigation. The transcript is kept as is; the pending user turn is
// re-added only if it somehow never reached the store.
func (s *Session) chatCreated(chatID string, pendingUser models.Message) {
	s.mu.Lock()
	s.chatID = chatID
	s.mu.Unlock()

	now := time.Now()
	s.dir.Upsert(models.Chat{
		ID:        chatID,
		Title:     "New Chat",
		CreatedAt: now,
		UpdatedAt: now,
	})

	if _, ok := s.store.Find(pendingUser.ID); !ok {
		s.store.Dispatch(transcript.AddUser{Message: pendingUser})
	}

	if s.navigate != nil {
		s.navigate(chatID)
	}
}
