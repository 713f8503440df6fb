package models

import "time"

// Message is a single entry of the conversation log. Content only changes while the message is the open
// reply of an in-flight generation; every other message is immutable once appended.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	StreamingState StreamingState `json:"streamingState"`
}

// Role represents the role of a message participant.
type Role string

// StreamingState tells the page how to render a message: as a loading placeholder, as text that is still
// growing, or as a finished message.
type StreamingState string

const (
	// RoleUser represents a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant represents a message produced by the language model, or by the application on its behalf.
	RoleAssistant Role = "assistant"

	StreamingStateLoading   StreamingState = "loading"
	StreamingStateStreaming StreamingState = "streaming"
	StreamingStateEnded     StreamingState = "ended"
)

// Label returns the speaker name used when the message is written into a prompt transcript.
func (r Role) Label() string {
	if r == RoleUser {
		return "User"
	}
	return "Assistant"
}
