package transcript

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/smartdocai/smartdoc-web-ui/internal/models"
)

// Action is a state transition applied to a transcript. The variants form a
// closed set; navigation is deliberately not an action, it is signalled out of
// band by the stream controller so the reducer stays a pure function of its
// inputs.
type Action interface {
	isAction()
}

// AddUser appends a user turn.
type AddUser struct {
	Message models.Message
}

// StartAssistant appends a new assistant turn, which becomes the open turn
// eligible for appends.
type StartAssistant struct {
	Message models.Message
}

// AppendAssistant concatenates content onto the open assistant turn. It is a
// no-op when the last turn is not an assistant turn; creating one is the
// controller's job via StartAssistant.
type AppendAssistant struct {
	Content string
}

// ReplaceAssistant replaces the content of the turn identified by ID and
// merges in sources. Nil Sources keeps whatever the turn already has. It is a
// no-op when no turn has that ID.
type ReplaceAssistant struct {
	ID      string
	Content string
	Sources []models.Source
}

// SetError appends a synthetic assistant turn rendering the error text.
type SetError struct {
	Err string
}

// SetMessages replaces the whole transcript, used when loading the history of
// an existing chat.
type SetMessages struct {
	Messages []models.Message
}

func (AddUser) isAction()          {}
func (StartAssistant) isAction()   {}
func (AppendAssistant) isAction()  {}
func (ReplaceAssistant) isAction() {}
func (SetError) isAction()         {}
func (SetMessages) isAction()      {}

// Reduce applies action to msgs and returns the resulting transcript. The
// input slice is never mutated. Turns are only ever appended or patched in
// place, never reordered. Reduce performs no deduplication; suppressing
// repeated stream deltas happens in the controller before dispatch.
func Reduce(msgs []models.Message, action Action) []models.Message {
	switch a := action.(type) {
	case AddUser:
		return append(slices.Clone(msgs), a.Message)

	case StartAssistant:
		return append(slices.Clone(msgs), a.Message)

	case AppendAssistant:
		if len(msgs) == 0 {
			return msgs
		}
		last := msgs[len(msgs)-1]
		if last.Role != models.RoleAssistant {
			return msgs
		}
		out := slices.Clone(msgs)
		last.Content += a.Content
		out[len(out)-1] = last
		return out

	case ReplaceAssistant:
		idx := slices.IndexFunc(msgs, func(m models.Message) bool { return m.ID == a.ID })
		if idx == -1 {
			return msgs
		}
		out := slices.Clone(msgs)
		out[idx].Content = a.Content
		if a.Sources != nil {
			out[idx].Sources = a.Sources
		}
		return out

	case SetError:
		return append(slices.Clone(msgs), models.Message{
			ID:        fmt.Sprintf("err-%d", time.Now().UnixMilli()),
			Role:      models.RoleAssistant,
			Content:   fmt.Sprintf("Error: %s", a.Err),
			Timestamp: time.Now(),
			Kind:      models.KindMessage,
		})

	case SetMessages:
		return slices.Clone(a.Messages)
	}

	return msgs
}

// Store holds the transcript of one chat screen. It is owned by exactly one
// session at a time; the stream controller dispatches into it from the read
// goroutine while the UI reads snapshots, so access is serialized internally.
type Store struct {
	mu       sync.Mutex
	messages []models.Message
	onChange func([]models.Message)
}

// NewStore returns an empty transcript store.
func NewStore() *Store {
	return &Store{}
}

// SetOnChange registers a callback invoked with a snapshot of the transcript
// after every dispatch. The callback runs outside the store lock.
func (s *Store) SetOnChange(fn func([]models.Message)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Dispatch reduces the current transcript with action.
func (s *Store) Dispatch(action Action) {
	s.mu.Lock()
	s.messages = Reduce(s.messages, action)
	snapshot := slices.Clone(s.messages)
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
}

// Messages returns a copy of the transcript in insertion order.
func (s *Store) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages)
}

// Last returns the most recent turn, if any.
func (s *Store) Last() (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return models.Message{}, false
	}
	return s.messages[len(s.messages)-1], true
}

// Find returns the turn with the given id, if present.
func (s *Store) Find(id string) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id {
			return m, true
		}
	}
	return models.Message{}, false
}

// Len reports the number of turns.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}
