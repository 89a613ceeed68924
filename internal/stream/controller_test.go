package stream_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/smartdocai/smartdoc-web-ui/internal/models"
	"github.com/smartdocai/smartdoc-web-ui/internal/stream"
	"github.com/smartdocai/smartdoc-web-ui/internal/transcript"
)

// streamBody is a response body fed frame by frame from a test. Read blocks
// until the test pushes a frame or the request context is cancelled, which
// mirrors how an HTTP response body behaves under aborted requests.
type streamBody struct {
	ctx    context.Context
	frames chan string
	buf    string
}

func (b *streamBody) Read(p []byte) (int, error) {
	if b.buf == "" {
		select {
		case frame, ok := <-b.frames:
			if !ok {
				return 0, io.EOF
			}
			b.buf = frame
		case <-b.ctx.Done():
			return 0, b.ctx.Err()
		}
	}
	n := copy(p, b.buf)
	b.buf = b.buf[n:]
	return n, nil
}

func (b *streamBody) Close() error { return nil }

func (b *streamBody) push(eventType, data string) {
	b.frames <- fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data)
}

func (b *streamBody) finish() { close(b.frames) }

type fakeBackend struct {
	mu      sync.Mutex
	reqs    []stream.ChatRequest
	opened  []*streamBody
	openErr error
}

func (f *fakeBackend) OpenChatStream(ctx context.Context, req stream.ChatRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.openErr != nil {
		return nil, f.openErr
	}
	body := &streamBody{ctx: ctx, frames: make(chan string, 16)}
	f.opened = append(f.opened, body)
	return body, nil
}

func (f *fakeBackend) requests() []stream.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]stream.ChatRequest(nil), f.reqs...)
}

// body waits for the controller's goroutine to open the i-th stream.
func (f *fakeBackend) body(t *testing.T, i int) *streamBody {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		f.mu.Lock()
		if len(f.opened) > i {
			body := f.opened[i]
			f.mu.Unlock()
			return body
		}
		f.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatal("stream was never opened")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newTestController() (*stream.Controller, *fakeBackend, *transcript.Store) {
	backend := &fakeBackend{}
	store := transcript.NewStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return stream.NewController(backend, store, logger), backend, store
}

func TestSendRequiresModel(t *testing.T) {
	ctrl, backend, store := newTestController()

	err := ctrl.Send("hello", "", "", nil)
	if !errors.Is(err, stream.ErrModelRequired) {
		t.Fatalf("Send() error = %v, want %v", err, stream.ErrModelRequired)
	}
	if len(backend.requests()) != 0 {
		t.Error("no request should be made without a model")
	}
	if store.Len() != 0 {
		t.Error("no user turn should be appended without a model")
	}
}

func TestSendStreamsContent(t *testing.T) {
	ctrl, backend, store := newTestController()

	if err := ctrl.Send("hello", "chat-1", "llama3.2:1b", []int{3, 5}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	body := backend.body(t, 0)
	body.push("content", `{"content": "Hel"}`)
	body.push("content", `{"content": "lo!"}`)
	body.finish()

	waitFor(t, "stream to finish", func() bool { return !ctrl.Streaming() })

	reqs := backend.requests()
	if len(reqs) != 1 {
		t.Fatalf("got %d requests, want 1", len(reqs))
	}
	if reqs[0].Query != "hello" || reqs[0].ModelID != "llama3.2:1b" || reqs[0].ChatID != "chat-1" {
		t.Errorf("request = %+v", reqs[0])
	}
	if len(reqs[0].FileIDs) != 2 {
		t.Errorf("file ids = %v", reqs[0].FileIDs)
	}

	msgs := store.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != models.RoleUser || msgs[0].Content != "hello" {
		t.Errorf("user turn = %+v", msgs[0])
	}
	if msgs[1].Role != models.RoleAssistant || msgs[1].Content != "Hello!" {
		t.Errorf("assistant turn = %+v", msgs[1])
	}
	if ctrl.LastError() != "" {
		t.Errorf("LastError() = %q, want empty", ctrl.LastError())
	}
}

func TestStartFrameAdoptsChat(t *testing.T) {
	ctrl, backend, store := newTestController()

	var createdID string
	var pending models.Message
	ctrl.OnChatCreated(func(chatID string, pendingUser models.Message) {
		createdID = chatID
		pending = pendingUser
	})
	var titleID, title string
	ctrl.OnTitle(func(chatID, generated string) {
		titleID = chatID
		title = generated
	})

	if err := ctrl.Send("first question", "", "llama3.2:1b", nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	body := backend.body(t, 0)
	body.push("start", `{"chat_id": "chat-9"}`)
	body.push("content", `{"content": "answer"}`)
	body.push("title", `{"title": "First Question"}`)
	body.finish()

	waitFor(t, "stream to finish", func() bool { return !ctrl.Streaming() })

	if createdID != "chat-9" {
		t.Errorf("created chat id = %q, want %q", createdID, "chat-9")
	}
	if pending.Content != "first question" {
		t.Errorf("pending user turn = %+v", pending)
	}
	if titleID != "chat-9" || title != "First Question" {
		t.Errorf("title callback = (%q, %q)", titleID, title)
	}

	// The optimistic user turn survives the chat-created transition.
	msgs := store.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != models.RoleUser || msgs[0].Content != "first question" {
		t.Errorf("first turn = %+v", msgs[0])
	}
}

func TestUpdateDeltaDedup(t *testing.T) {
	ctrl, backend, store := newTestController()

	if err := ctrl.Send("hello", "chat-1", "llama3.2:1b", nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	// Same message id, same first 20 characters of content. The runtime
	// re-emits such deltas and only the first may be applied.
	first := `{"delta": {"messages": [{"id": "m1", "role": "ai", "content": "abcdefghijklmnopqrst FIRST"}]}}`
	repeat := `{"delta": {"messages": [{"id": "m1", "role": "ai", "content": "abcdefghijklmnopqrst SECOND"}]}}`

	body := backend.body(t, 0)
	body.push("update", first)
	body.push("update", repeat)
	body.push("update", first)
	body.finish()

	waitFor(t, "stream to finish", func() bool { return !ctrl.Streaming() })

	msgs := store.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[1].Content != "abcdefghijklmnopqrst FIRST" {
		t.Errorf("assistant content = %q", msgs[1].Content)
	}
}

func TestUpdateToolSources(t *testing.T) {
	ctrl, backend, store := newTestController()

	if err := ctrl.Send("what does the report say", "chat-1", "llama3.2:1b", nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	toolDelta := `{"delta": {"messages": [{"id": "t1", "role": "tool", "content": "[{\"id\": 3, \"title\": \"report.pdf\"}]"}]}}`
	aiDelta := `{"delta": {"messages": [{"id": "m1", "role": "ai", "content": "The report says hello."}]}}`

	body := backend.body(t, 0)
	body.push("update", toolDelta)
	body.push("update", aiDelta)
	body.finish()

	waitFor(t, "stream to finish", func() bool { return !ctrl.Streaming() })

	msgs := store.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[1].Content != "The report says hello." {
		t.Errorf("assistant content = %q", msgs[1].Content)
	}
	if len(msgs[1].Sources) != 1 || msgs[1].Sources[0].ID != 3 {
		t.Errorf("sources = %+v", msgs[1].Sources)
	}
}

func TestSourcesFrame(t *testing.T) {
	ctrl, backend, store := newTestController()

	if err := ctrl.Send("cite this", "chat-1", "llama3.2:1b", nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	body := backend.body(t, 0)
	body.push("content", `{"content": "Cited answer"}`)
	body.push("sources", `{"sources": [{"id": 11, "title": "contract.pdf", "contents": [{"snippet": "clause 4", "chunk_index": 0}]}]}`)
	body.finish()

	waitFor(t, "stream to finish", func() bool { return !ctrl.Streaming() })

	msgs := store.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[1].Content != "Cited answer" {
		t.Errorf("assistant content = %q", msgs[1].Content)
	}
	if len(msgs[1].Sources) != 1 || msgs[1].Sources[0].Title != "contract.pdf" {
		t.Errorf("sources = %+v", msgs[1].Sources)
	}
}

func TestErrorFrame(t *testing.T) {
	ctrl, backend, store := newTestController()

	if err := ctrl.Send("hello", "chat-1", "llama3.2:1b", nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	body := backend.body(t, 0)
	body.push("content", `{"content": "partial"}`)
	body.push("error", `{"error": "rate limited"}`)
	body.finish()

	waitFor(t, "stream to finish", func() bool { return !ctrl.Streaming() })

	if ctrl.LastError() != "rate limited" {
		t.Errorf("LastError() = %q, want %q", ctrl.LastError(), "rate limited")
	}

	msgs := store.Messages()
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[2].Role != models.RoleAssistant || msgs[2].Content != "Error: rate limited" {
		t.Errorf("error turn = %+v", msgs[2])
	}
}

func TestSendCancelsPriorStream(t *testing.T) {
	ctrl, backend, store := newTestController()

	if err := ctrl.Send("first", "chat-1", "llama3.2:1b", nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	stale := backend.body(t, 0)

	if err := ctrl.Send("second", "chat-1", "llama3.2:1b", nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	fresh := backend.body(t, 1)
	fresh.push("content", `{"content": "fresh answer"}`)
	fresh.finish()

	waitFor(t, "second stream to finish", func() bool { return !ctrl.Streaming() })

	// Frames queued on the aborted stream must never reach the transcript.
	stale.push("content", `{"content": "stale answer"}`)
	stale.finish()
	time.Sleep(20 * time.Millisecond)

	msgs := store.Messages()
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[0].Content != "first" || msgs[1].Content != "second" {
		t.Errorf("user turns = %q, %q", msgs[0].Content, msgs[1].Content)
	}
	if msgs[2].Content != "fresh answer" {
		t.Errorf("assistant turn = %q", msgs[2].Content)
	}
	if ctrl.LastError() != "" {
		t.Errorf("an aborted stream must not surface an error, got %q", ctrl.LastError())
	}
}

func TestAbort(t *testing.T) {
	ctrl, backend, store := newTestController()

	if err := ctrl.Send("hello", "chat-1", "llama3.2:1b", nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	body := backend.body(t, 0)

	ctrl.Abort()

	if ctrl.Streaming() {
		t.Error("Streaming() should be false after Abort")
	}

	body.push("content", `{"content": "late"}`)
	body.finish()
	time.Sleep(20 * time.Millisecond)

	msgs := store.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if ctrl.LastError() != "" {
		t.Errorf("LastError() = %q, want empty", ctrl.LastError())
	}
}

func TestOpenStreamFailure(t *testing.T) {
	backend := &fakeBackend{openErr: errors.New("connection refused")}
	store := transcript.NewStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctrl := stream.NewController(backend, store, logger)

	if err := ctrl.Send("hello", "chat-1", "llama3.2:1b", nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	waitFor(t, "failure to surface", func() bool { return !ctrl.Streaming() })

	if ctrl.LastError() != "connection refused" {
		t.Errorf("LastError() = %q", ctrl.LastError())
	}

	msgs := store.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[1].Content != "Error: connection refused" {
		t.Errorf("error turn = %q", msgs[1].Content)
	}
}

func TestUnknownFramesIgnored(t *testing.T) {
	ctrl, backend, store := newTestController()

	if err := ctrl.Send("hello", "chat-1", "llama3.2:1b", nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	body := backend.body(t, 0)
	body.push("heartbeat", `{}`)
	body.push("content", `{"content": "still here"}`)
	body.push("metrics", `{"tokens": 12}`)
	body.finish()

	waitFor(t, "stream to finish", func() bool { return !ctrl.Streaming() })

	msgs := store.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[1].Content != "still here" {
		t.Errorf("assistant turn = %q", msgs[1].Content)
	}
}
