package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smartdocai/smartdoc-web-ui/internal/models"
	"github.com/smartdocai/smartdoc-web-ui/internal/transcript"
)

// ErrModelRequired is returned by Send when no model has been selected. The
// failure is local; no request is made.
var ErrModelRequired = errors.New("a model must be selected before sending")

// Backend opens the chat-completion stream on the document backend. The
// returned body carries the blank-line-framed event protocol consumed by
// Frames. Implementations must honor ctx cancellation on the underlying
// request.
type Backend interface {
	OpenChatStream(ctx context.Context, req ChatRequest) (io.ReadCloser, error)
}

// ChatRequest is the body of the chat-completion request.
type ChatRequest struct {
	Query   string `json:"query"`
	ModelID string `json:"model_id"`
	ChatID  string `json:"chat_id,omitempty"`
	FileIDs []int  `json:"file_ids,omitempty"`
}

// Controller owns at most one in-flight chat stream at a time and reconciles
// its frames into a transcript store. A new Send cancels any prior stream
// before opening the next one; frames from a cancelled stream never reach the
// store. Side-band events (chat creation, title generation) are reported
// through callbacks rather than store actions so the reducer stays pure.
//
// A stream that never completes and is never cancelled keeps the controller
// in the streaming state indefinitely; no idle timeout is imposed beyond the
// transport's defaults.
type Controller struct {
	backend Backend
	store   *transcript.Store
	logger  *slog.Logger

	onChatCreated func(chatID string, pendingUser models.Message)
	onTitle       func(chatID, title string)

	mu        sync.Mutex
	cancel    context.CancelFunc
	runID     uint64
	streaming bool
	lastErr   string
}

// NewController creates a Controller dispatching into store.
func NewController(backend Backend, store *transcript.Store, logger *slog.Logger) *Controller {
	return &Controller{
		backend: backend,
		store:   store,
		logger:  logger.With(slog.String("module", "stream")),
	}
}

// OnChatCreated registers the callback invoked when a start frame assigns an
// id to a previously unsaved chat. The pending user message that triggered
// the stream is carried along so navigation can preserve it.
func (c *Controller) OnChatCreated(fn func(chatID string, pendingUser models.Message)) {
	c.onChatCreated = fn
}

// OnTitle registers the callback invoked when the stream produces a generated
// title for a newly created chat.
func (c *Controller) OnTitle(fn func(chatID, title string)) {
	c.onTitle = fn
}

// Streaming reports whether a stream is currently active.
func (c *Controller) Streaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streaming
}

// LastError returns the last stream failure, or the empty string. It is
// cleared on the next Send.
func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Abort cancels the active stream, if any. Aborts are silent: the resulting
// request error is never surfaced as a user-visible error.
func (c *Controller) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.streaming = false
}

// Send submits a user query to the backend and streams the response into the
// transcript. The user turn is appended optimistically before the network
// round-trip. chatID is empty for a new, unsaved chat; fileIDs optionally
// scope the answer to specific documents. Send returns immediately after
// issuing the request.
func (c *Controller) Send(userText, chatID, modelID string, fileIDs []int) error {
	if modelID == "" {
		return ErrModelRequired
	}

	userMsg := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleUser,
		Content:   userText,
		Timestamp: time.Now(),
		Kind:      models.KindMessage,
	}

	ctx, id := c.begin()

	c.store.Dispatch(transcript.AddUser{Message: userMsg})

	st := &runState{
		chatID:      chatID,
		seen:        make(map[string]struct{}),
		pendingUser: userMsg,
	}
	req := ChatRequest{
		Query:   userText,
		ModelID: modelID,
		ChatID:  chatID,
		FileIDs: fileIDs,
	}

	go c.run(ctx, id, st, req)

	return nil
}

// begin cancels any prior stream and registers a new run.
func (c *Controller) begin() (context.Context, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.runID++
	c.streaming = true
	c.lastErr = ""
	return ctx, c.runID
}

// finish returns the controller to idle, unless a newer run has taken over.
func (c *Controller) finish(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runID != id {
		return
	}
	c.streaming = false
	c.cancel = nil
}

func (c *Controller) fail(id uint64, reason string) {
	c.store.Dispatch(transcript.SetError{Err: reason})

	c.mu.Lock()
	if c.runID == id {
		c.lastErr = reason
	}
	c.mu.Unlock()

	c.finish(id)
}

// runState is the per-send stream bookkeeping. Each Send gets a fresh
// instance, so concurrent chat screens never share dedup or source state.
type runState struct {
	chatID      string // known chat id, empty until the stream assigns one
	createdID   string // id assigned by the start frame, for title routing
	started     bool   // an assistant turn is open
	assistantID string
	seen        map[string]struct{} // dedup keys of applied update deltas
	sources     []models.Source     // sources cached from tool deltas
	pendingUser models.Message
}

func (c *Controller) run(ctx context.Context, id uint64, st *runState, req ChatRequest) {
	body, err := c.backend.OpenChatStream(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		c.logger.Error("Failed to open chat stream", slog.String("err", err.Error()))
		c.fail(id, err.Error())
		return
	}
	defer body.Close()

	for frame, err := range Frames(body, c.logger) {
		// A cancelled run must not dispatch into the store; the check runs
		// before every frame.
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.Error("Chat stream failed", slog.String("err", err.Error()))
			c.fail(id, err.Error())
			return
		}
		c.handleFrame(id, st, frame)
	}

	if ctx.Err() != nil {
		return
	}
	c.finish(id)
}

type startPayload struct {
	ChatID string `json:"chat_id"`
}

type contentPayload struct {
	Content string `json:"content"`
}

type updatePayload struct {
	Delta struct {
		Messages []deltaMessage `json:"messages"`
	} `json:"delta"`
}

// deltaMessage is one message inside an update frame's runtime delta. Content
// is raw because tool messages carry a JSON array of sources where assistant
// messages carry a JSON string.
type deltaMessage struct {
	ID      string          `json:"id"`
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Sources []models.Source `json:"sources"`
}

type sourcesPayload struct {
	MessageID string          `json:"message_id"`
	Sources   []models.Source `json:"sources"`
}

type titlePayload struct {
	Title string `json:"title"`
}

type errorPayload struct {
	Error string `json:"error"`
}

func (d deltaMessage) text() string {
	var s string
	if err := json.Unmarshal(d.Content, &s); err != nil {
		return ""
	}
	return s
}

// toolSources decodes the sources carried by a tool delta. The runtime
// serializes them either as a JSON array or as that array re-encoded inside a
// JSON string.
func (d deltaMessage) toolSources() []models.Source {
	var sources []models.Source
	if err := json.Unmarshal(d.Content, &sources); err == nil {
		return sources
	}
	var encoded string
	if err := json.Unmarshal(d.Content, &encoded); err != nil {
		return nil
	}
	if err := json.Unmarshal([]byte(encoded), &sources); err != nil {
		return nil
	}
	return sources
}

func (c *Controller) handleFrame(id uint64, st *runState, frame Frame) {
	switch frame.Type {
	case "start":
		var p startPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return
		}
		c.handleStart(st, p)
	case "content":
		var p contentPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return
		}
		c.handleContent(st, p)
	case "update":
		var p updatePayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return
		}
		c.handleUpdate(st, p)
	case "sources":
		var p sourcesPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return
		}
		c.handleSources(st, p)
	case "title":
		var p titlePayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return
		}
		if p.Title != "" && st.createdID != "" && c.onTitle != nil {
			c.onTitle(st.createdID, p.Title)
		}
	case "error":
		var p errorPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return
		}
		reason := p.Error
		if reason == "" {
			reason = "unknown error"
		}
		c.store.Dispatch(transcript.SetError{Err: reason})
		c.mu.Lock()
		if c.runID == id {
			c.lastErr = reason
		}
		c.mu.Unlock()
		st.started = false
	default:
		// Unknown event types never terminate the stream.
	}
}

func (c *Controller) handleStart(st *runState, p startPayload) {
	if st.chatID != "" || p.ChatID == "" {
		return
	}
	st.chatID = p.ChatID
	st.createdID = p.ChatID
	c.logger.Debug("Chat created", slog.String("chatID", p.ChatID))
	if c.onChatCreated != nil {
		c.onChatCreated(p.ChatID, st.pendingUser)
	}
}

func (c *Controller) handleContent(st *runState, p contentPayload) {
	if p.Content == "" {
		return
	}
	if st.started {
		c.store.Dispatch(transcript.AppendAssistant{Content: p.Content})
		return
	}

	st.started = true
	st.assistantID = uuid.New().String()
	c.store.Dispatch(transcript.StartAssistant{Message: models.Message{
		ID:        st.assistantID,
		Role:      models.RoleAssistant,
		Content:   p.Content,
		Timestamp: time.Now(),
		Kind:      models.KindMessage,
	}})
}

func (c *Controller) handleUpdate(st *runState, p updatePayload) {
	for _, dm := range p.Delta.Messages {
		if dm.Role != "tool" {
			continue
		}
		if sources := dm.toolSources(); len(sources) > 0 {
			st.sources = sources
		}
	}

	var latest *deltaMessage
	for i := range p.Delta.Messages {
		dm := &p.Delta.Messages[i]
		if dm.Role != "ai" && dm.Role != "assistant" {
			continue
		}
		if strings.TrimSpace(dm.text()) == "" {
			continue
		}
		latest = dm
	}
	if latest == nil {
		return
	}

	text := latest.text()
	key := dedupKey(latest.ID, text)
	if _, ok := st.seen[key]; ok {
		return
	}
	st.seen[key] = struct{}{}

	sources := latest.Sources
	if len(sources) == 0 {
		sources = st.sources
	}

	if st.started {
		c.store.Dispatch(transcript.ReplaceAssistant{
			ID:      st.assistantID,
			Content: text,
			Sources: sources,
		})
		return
	}
	st.started = true

	if last, ok := c.store.Last(); ok && last.Role == models.RoleAssistant {
		st.assistantID = last.ID
		c.store.Dispatch(transcript.ReplaceAssistant{
			ID:      last.ID,
			Content: text,
			Sources: sources,
		})
		return
	}

	st.assistantID = key
	c.store.Dispatch(transcript.StartAssistant{Message: models.Message{
		ID:        key,
		Role:      models.RoleAssistant,
		Content:   text,
		Timestamp: time.Now(),
		Kind:      models.KindMessage,
		Sources:   sources,
	}})
}

func (c *Controller) handleSources(st *runState, p sourcesPayload) {
	if len(p.Sources) == 0 {
		return
	}
	st.sources = p.Sources

	targetID := p.MessageID
	if targetID == "" {
		targetID = st.assistantID
	}
	if targetID == "" {
		last, ok := c.store.Last()
		if !ok {
			return
		}
		targetID = last.ID
	}

	target, ok := c.store.Find(targetID)
	if !ok {
		return
	}
	c.store.Dispatch(transcript.ReplaceAssistant{
		ID:      targetID,
		Content: target.Content,
		Sources: p.Sources,
	})
}

// dedupKey builds the composite key used to discard repeated update deltas:
// the runtime message id plus the first 20 characters of the content.
func dedupKey(messageID, content string) string {
	if messageID == "" {
		messageID = "ai"
	}
	if len(content) > 20 {
		content = content[:20]
	}
	return fmt.Sprintf("%s-%s", messageID, content)
}
