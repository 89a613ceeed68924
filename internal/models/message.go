package models

import "time"

// Role represents the author of a transcript turn.
type Role string

// MessageKind distinguishes a plain conversational message from a tool
// invocation record.
type MessageKind string

const (
	// RoleUser represents a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant represents a message produced by the assistant.
	RoleAssistant Role = "assistant"
	// RoleTool represents a tool output record. Tool turns are never rendered
	// as conversational messages; they only carry sources until an assistant
	// turn claims them.
	RoleTool Role = "tool"

	// KindMessage is a plain conversational message.
	KindMessage MessageKind = "message"
	// KindToolCall is a record of a tool invocation made by the assistant.
	KindToolCall MessageKind = "tool_call"
)

// Message is a single entry in a chat transcript. The ID is client-generated
// for user turns and for the first chunk of an assistant turn; identifiers
// supplied by the server are preserved once adopted. Content is only ever
// appended to while streaming, or replaced wholesale by a correction frame.
// Timestamp is set at creation and never mutated.
type Message struct {
	ID        string      `json:"id"`
	Role      Role        `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
	Kind      MessageKind `json:"message_type,omitempty"`

	// ToolCall is present only when Kind is KindToolCall.
	ToolCall *ToolCall `json:"tool_call,omitempty"`

	// Sources holds the ordered citations attached to an assistant turn,
	// usually by a frame that arrives after the content itself.
	Sources []Source `json:"sources,omitempty"`
}

// ToolCall holds the name of the invoked tool and the query it was given.
type ToolCall struct {
	Name  string `json:"name"`
	Query string `json:"query"`
}

// Source is a document citation attached to an assistant message.
type Source struct {
	ID          int64         `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	FileName    string        `json:"file_name,omitempty"`
	FileType    string        `json:"file_type,omitempty"`
	Contents    []SourceChunk `json:"contents,omitempty"`
}

// SourceChunk is one snippet excerpt from a cited document.
type SourceChunk struct {
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score,omitempty"`
	ChunkIndex int     `json:"chunk_index"`
}
