package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/smartdocai/smartdoc-web-ui/internal/api"
	"github.com/smartdocai/smartdoc-web-ui/internal/models"
	"github.com/smartdocai/smartdoc-web-ui/internal/stream"
)

// LLM answers document-chat queries. It accepts the conversation so far and
// returns an iterator yielding text deltas and potential errors.
type LLM interface {
	Chat(ctx context.Context, messages []models.Message) iter.Seq2[string, error]
}

// TitleGenerator produces a chat title from the first user message.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, message string) (string, error)
}

// Store persists chats and their transcripts.
type Store interface {
	Chats(ctx context.Context) ([]models.Chat, error)
	PutChat(ctx context.Context, chat models.Chat) error
	DeleteChat(ctx context.Context, chatID string) error

	Messages(ctx context.Context, chatID string) ([]models.Message, error)
	AddMessage(ctx context.Context, chatID string, message models.Message) error
}

const defaultPageSize = 20

// Server is a stand-in for the document backend, used to develop the web
// client offline. It serves the chat-completion stream with the same
// blank-line-framed event protocol as the real backend (start, content,
// title, error frames) plus the history and chat-directory endpoints.
type Server struct {
	llm      LLM
	titleGen TitleGenerator
	store    Store
	logger   *slog.Logger
}

// New creates a dev backend server.
func New(llm LLM, titleGen TitleGenerator, store Store, logger *slog.Logger) *Server {
	return &Server{
		llm:      llm,
		titleGen: titleGen,
		store:    store,
		logger:   logger.With(slog.String("module", "devserver")),
	}
}

// Handler returns the route table of the dev backend.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/documents/chat", s.handleChat)
	mux.HandleFunc("GET /api/chats", s.handleChats)
	mux.HandleFunc("GET /api/chats/{id}/messages", s.handleMessages)
	mux.HandleFunc("DELETE /api/chats/{id}", s.handleDeleteChat)
	return mux
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req stream.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()

	chatID := req.ChatID
	isNewChat := chatID == ""
	chatRecord := models.Chat{ID: chatID}
	if isNewChat {
		now := time.Now()
		chatRecord = models.Chat{
			ID:        uuid.New().String(),
			Title:     "New Chat",
			CreatedAt: now,
			UpdatedAt: now,
		}
		chatID = chatRecord.ID
		if err := s.store.PutChat(ctx, chatRecord); err != nil {
			s.logger.Error("Failed to create chat", slog.String("err", err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	history, err := s.store.Messages(ctx, chatID)
	if err != nil {
		s.logger.Error("Failed to load messages",
			slog.String("chatID", chatID),
			slog.String("err", err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	writeFrame(w, flusher, "start", map[string]string{"chat_id": chatID})

	userMsg := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleUser,
		Content:   req.Query,
		Timestamp: time.Now(),
		Kind:      models.KindMessage,
	}
	if err := s.store.AddMessage(ctx, chatID, userMsg); err != nil {
		s.logger.Error("Failed to store user message", slog.String("err", err.Error()))
		writeFrame(w, flusher, "error", map[string]string{"error": err.Error()})
		return
	}

	var answer string
	for delta, err := range s.llm.Chat(ctx, append(history, userMsg)) {
		if err != nil {
			s.logger.Error("Error from llm provider", slog.String("err", err.Error()))
			writeFrame(w, flusher, "error", map[string]string{"error": err.Error()})
			return
		}
		if delta == "" {
			continue
		}
		answer += delta
		writeFrame(w, flusher, "content", map[string]string{"content": delta})
	}
	if ctx.Err() != nil {
		return
	}

	assistantMsg := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleAssistant,
		Content:   answer,
		Timestamp: time.Now(),
		Kind:      models.KindMessage,
	}
	if err := s.store.AddMessage(ctx, chatID, assistantMsg); err != nil {
		s.logger.Error("Failed to store assistant message", slog.String("err", err.Error()))
	}

	if isNewChat {
		s.generateTitle(ctx, w, flusher, chatRecord, req.Query)
	}
}

// generateTitle produces and persists a title for a newly created chat, then
// reports it to the streaming client.
func (s *Server) generateTitle(
	ctx context.Context,
	w io.Writer,
	flusher http.Flusher,
	chatRecord models.Chat,
	message string,
) {
	title, err := s.titleGen.GenerateTitle(ctx, message)
	if err != nil {
		s.logger.Error("Error generating chat title",
			slog.String("message", message),
			slog.String("err", err.Error()))
		return
	}

	chatRecord.Title = title
	chatRecord.UpdatedAt = time.Now()
	if err := s.store.PutChat(ctx, chatRecord); err != nil {
		s.logger.Error("Failed to update chat title", slog.String("err", err.Error()))
		return
	}

	writeFrame(w, flusher, "title", map[string]string{"title": title})
}

func (s *Server) handleChats(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", defaultPageSize)

	chats, err := s.store.Chats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	start := (page - 1) * pageSize
	if start > len(chats) {
		start = len(chats)
	}
	end := min(start+pageSize, len(chats))

	totalPages := (len(chats) + pageSize - 1) / pageSize
	if totalPages == 0 {
		totalPages = 1
	}

	writeJSON(w, api.ChatPage{
		Results:     chats[start:end],
		TotalPages:  totalPages,
		TotalCount:  len(chats),
		HasNext:     end < len(chats),
		CurrentPage: page,
	})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.store.Messages(r.Context(), r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	writeJSON(w, messages)
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteChat(r.Context(), r.PathValue("id")); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeFrame emits one protocol frame. Payloads are marshaled to JSON, which
// never contains a literal newline, so a frame cannot be truncated by the
// blank-line terminator.
func writeFrame(w io.Writer, flusher http.Flusher, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
	flusher.Flush()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
