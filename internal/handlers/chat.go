package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/smartdocai/smartdoc-web-ui/internal/stream"
)

// HandleChats accepts a user message through form data and submits it on the
// bound chat session. It expects "message" and "model_id" fields and an
// optional "chat_id"; an empty chat_id starts a new chat whose server id
// arrives mid-stream. The response body is empty; transcript updates reach
// the browser through the SSE channel.
func (m *Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	msg := r.FormValue("message")
	if msg == "" {
		m.logger.Error("Message is required")
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	chatID := r.FormValue("chat_id")
	if err := m.session.Bind(r.Context(), chatID); err != nil {
		m.logger.Error("Failed to bind chat",
			slog.String("chatID", chatID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var fileIDs []int
	for _, raw := range r.Form["file_ids"] {
		id, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "file_ids must be numeric", http.StatusBadRequest)
			return
		}
		fileIDs = append(fileIDs, id)
	}

	if err := m.session.Send(msg, r.FormValue("model_id"), fileIDs); err != nil {
		if errors.Is(err, stream.ErrModelRequired) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m.logger.Error("Failed to send message", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleDeleteChat removes a chat from the backend and the sidebar. It
// expects a "chat_id" form field.
func (m *Main) HandleDeleteChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	chatID := r.FormValue("chat_id")
	if chatID == "" {
		http.Error(w, "Chat id is required", http.StatusBadRequest)
		return
	}

	if err := m.dir.Remove(r.Context(), chatID); err != nil {
		m.logger.Error("Failed to delete chat",
			slog.String("chatID", chatID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleMoreChats loads the next sidebar page from the backend.
func (m *Main) HandleMoreChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := m.dir.LoadMore(r.Context()); err != nil {
		m.logger.Error("Failed to load more chats", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
