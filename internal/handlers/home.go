package handlers

import (
	"html/template"
	"log/slog"
	"net/http"
)

// modelOption is one selectable model in the chat footer.
type modelOption struct {
	Name        string
	Value       string
	Description string
}

var llmModels = []modelOption{
	{
		Name:        "Llama 3.2 1B",
		Value:       "llama3.2:1b",
		Description: "Lightweight multilingual model optimized for dialogue, summarization, and retrieval tasks.",
	},
	{
		Name:        "DeepSeek R1 1.5B",
		Value:       "deepseek-r1:1.5b",
		Description: "Distilled reasoning model based on the Qwen architecture.",
	},
}

var promptSuggestions = []string{
	"How does AI work?",
	"What are the admission requirements?",
	"How do I apply for a scholarship?",
	"What is the academic calendar?",
}

type homePageData struct {
	CurrentChatID string
	Messages      []message
	ChatDivs      template.HTML
	Models        []modelOption
	Suggestions   []string
	Streaming     bool
	LastError     string
}

// HandleHome renders the chat screen. An optional chat_id query parameter
// selects an existing chat, whose history is loaded before rendering; without
// it the screen starts a new, unsaved chat.
func (m *Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	if err := m.dir.Load(r.Context()); err != nil {
		// The sidebar degrades to empty; the chat screen still works.
		m.logger.Error("Failed to load recent chats", slog.String(errLoggerKey, err.Error()))
	}

	chatID := r.URL.Query().Get("chat_id")
	if err := m.session.Bind(r.Context(), chatID); err != nil {
		m.logger.Error("Failed to bind chat",
			slog.String("chatID", chatID),
			slog.String(errLoggerKey, err.Error()))
	}

	divs, err := m.chatDivs(chatID)
	if err != nil {
		m.logger.Error("Failed to render chat list", slog.String(errLoggerKey, err.Error()))
	}

	data := homePageData{
		CurrentChatID: m.session.ChatID(),
		Messages:      m.viewMessages(m.session.Messages()),
		ChatDivs:      template.HTML(divs), //nolint:gosec // our own rendered partial
		Models:        llmModels,
		Suggestions:   promptSuggestions,
		Streaming:     m.session.Streaming(),
		LastError:     m.session.LastError(),
	}
	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
