package handlers

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alecthomas/chroma/formatters/html"
	smartdocwebui "github.com/smartdocai/smartdoc-web-ui"
	"github.com/smartdocai/smartdoc-web-ui/internal/chat"
	"github.com/smartdocai/smartdoc-web-ui/internal/models"
	"github.com/tmaxmax/go-sse"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
)

// Backend is the document backend surface the web client needs: the chat
// stream, history load, and chat-directory CRUD.
type Backend interface {
	chat.BackendClient
	chat.Lister
}

// Main serves the chat web interface. It owns one recent-chats directory and
// one active chat session, and pushes transcript and sidebar updates to the
// browser through server-sent events.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template
	markdown  goldmark.Markdown

	dir     *chat.Directory
	session *chat.Session

	logger *slog.Logger
}

// SSE event types for real-time updates.
var (
	chatsSSEType    = sse.Type("chats")
	messagesSSEType = sse.Type("messages")
	navigateSSEType = sse.Type("navigate")
)

const (
	chatsSSETopic    = "chats"
	messagesSSETopic = "messages"
)

const errLoggerKey = "err"

// NewMain creates the web interface around the given backend client. cache
// may be nil to disable the local recent-chats cache.
func NewMain(backend Backend, cache chat.ChatCache, logger *slog.Logger) (*Main, error) {
	tmpl, err := template.ParseFS(
		smartdocwebui.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return nil, err
	}

	m := &Main{
		templates: tmpl,
		markdown: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				highlighting.NewHighlighting(
					highlighting.WithStyle("monokai"),
					highlighting.WithFormatOptions(html.WithClasses(false)),
				),
			),
		),
		logger: logger.With(slog.String("module", "handlers")),
	}

	m.sseSrv = &sse.Server{
		OnSession: func(s *sse.Session) (sse.Subscription, bool) {
			return sse.Subscription{
				Client:      s,
				LastEventID: s.LastEventID,
				Topics:      []string{sse.DefaultTopic, chatsSSETopic, messagesSSETopic},
			}, true
		},
	}

	m.dir = chat.NewDirectory(backend, cache, logger)
	m.session = chat.NewSession(backend, m.dir, m.publishNavigate, logger)

	m.dir.SetOnChange(func([]models.Chat) {
		m.publishChats()
	})
	m.session.Store().SetOnChange(func(msgs []models.Message) {
		m.publishMessages(msgs)
	})

	return m, nil
}

// HandleSSE serves the event stream consumed by the browser.
func (m *Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

// Shutdown broadcasts a close message to connected browsers and terminates
// the SSE server, waiting up to 5 seconds for connections to drain. It also
// aborts any active chat stream.
func (m *Main) Shutdown(ctx context.Context) error {
	m.session.Close()

	e := &sse.Message{Type: sse.Type("closeChat")}
	e.AppendData("bye")
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}

func (m *Main) publishNavigate(chatID string) {
	msg := &sse.Message{Type: navigateSSEType}
	msg.AppendData(fmt.Sprintf("/?chat_id=%s", chatID))
	if err := m.sseSrv.Publish(msg); err != nil {
		m.logger.Error("Failed to publish navigation", slog.String(errLoggerKey, err.Error()))
	}
}

func (m *Main) publishChats() {
	divs, err := m.chatDivs(m.session.ChatID())
	if err != nil {
		m.logger.Error("Failed to render chat list", slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := &sse.Message{Type: chatsSSEType}
	msg.AppendData(divs)
	if err := m.sseSrv.Publish(msg, chatsSSETopic); err != nil {
		m.logger.Error("Failed to publish chats", slog.String(errLoggerKey, err.Error()))
	}
}

func (m *Main) publishMessages(msgs []models.Message) {
	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, "messages", m.viewMessages(msgs)); err != nil {
		m.logger.Error("Failed to render messages", slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := &sse.Message{Type: messagesSSEType}
	msg.AppendData(sb.String())
	if err := m.sseSrv.Publish(msg, messagesSSETopic); err != nil {
		m.logger.Error("Failed to publish messages", slog.String(errLoggerKey, err.Error()))
	}
}

// message is the template-facing view of one transcript turn.
type message struct {
	ID        string
	Role      string
	Content   template.HTML
	Timestamp time.Time
	Sources   []models.Source
}

// viewMessages renders assistant markdown to HTML and drops tool turns,
// which only carry sources and are never shown as conversation.
func (m *Main) viewMessages(msgs []models.Message) []message {
	out := make([]message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Role == models.RoleTool || msg.Kind == models.KindToolCall {
			continue
		}
		out = append(out, message{
			ID:        msg.ID,
			Role:      string(msg.Role),
			Content:   m.renderMarkdown(msg.Content),
			Timestamp: msg.Timestamp,
			Sources:   msg.Sources,
		})
	}
	return out
}

func (m *Main) renderMarkdown(content string) template.HTML {
	var buf bytes.Buffer
	if err := m.markdown.Convert([]byte(content), &buf); err != nil {
		m.logger.Error("Failed to render markdown", slog.String(errLoggerKey, err.Error()))
		return template.HTML(template.HTMLEscapeString(content))
	}
	return template.HTML(buf.String()) //nolint:gosec // goldmark output of our own transcript
}

// chatView is the template-facing view of one sidebar entry.
type chatView struct {
	ID     string
	Title  string
	Active bool
}

func (m *Main) chatDivs(activeID string) (string, error) {
	groups := m.dir.Grouped(time.Now())

	var sb strings.Builder
	for _, group := range []struct {
		Label string
		Chats []models.Chat
	}{
		{"Today", groups.Today},
		{"Last 7 days", groups.LastWeek},
		{"Last 30 days", groups.LastMonth},
		{"Older", groups.Older},
	} {
		if len(group.Chats) == 0 {
			continue
		}
		views := make([]chatView, len(group.Chats))
		for i, ch := range group.Chats {
			views[i] = chatView{ID: ch.ID, Title: ch.Title, Active: ch.ID == activeID}
		}
		err := m.templates.ExecuteTemplate(&sb, "chat_group", struct {
			Label string
			Chats []chatView
		}{group.Label, views})
		if err != nil {
			return "", fmt.Errorf("failed to execute chat_group template: %w", err)
		}
	}
	return sb.String(), nil
}
