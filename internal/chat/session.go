package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/weather-chat/internal/models"
	"github.com/google/uuid"
)

// LLM generates a reply for a prompt. The returned iterator yields text fragments in order; a non-nil error
// is terminal.
type LLM interface {
	Generate(ctx context.Context, prompt string) iter.Seq2[string, error]
}

// State is the send state of a Session.
type State int

const (
	// StateIdle accepts a new submit.
	StateIdle State = iota
	// StateStreaming rejects submits until the reply in flight ends.
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

const (
	// GreetingMessage opens every conversation.
	GreetingMessage = "Hello! I'm your AI assistant powered by Ollama. How can I help you today?"
	// ApologyMessage is appended to the log when a reply fails.
	ApologyMessage = "Sorry, I encountered an error while processing your request. Please try again later."

	errLoggerKey = "err"
)

var (
	// ErrBusy is returned by Submit while a reply is still streaming.
	ErrBusy = errors.New("a reply is already streaming")
	// ErrEmptyMessage is returned by Submit for blank input.
	ErrEmptyMessage = errors.New("message is empty")
)

// Turn is one accepted submit: the user's message, the reply placeholder that the stream fills, and the
// prompt that was built for it.
type Turn struct {
	User  models.Message
	Reply models.Message

	prompt string
}

// Session is a single conversation with the model. It owns the conversation log and the API context used
// to build prompts, and allows one reply in flight at a time.
//
// Only the goroutine running Stream writes to the open reply; the mutex keeps concurrent readers, such as
// page renders, consistent with it.
type Session struct {
	mu       sync.Mutex
	messages []models.Message
	state    State
	// openIdx is the log index of the reply being streamed, or -1.
	openIdx int

	llm    LLM
	apiCtx *APIContext
	now    func() time.Time

	logger *slog.Logger
}

// NewSession creates a Session whose log starts with the greeting message. A nil apiCtx gets an empty
// one.
func NewSession(llm LLM, apiCtx *APIContext, logger *slog.Logger) *Session {
	if apiCtx == nil {
		apiCtx = NewAPIContext()
	}
	s := &Session{
		state:   StateIdle,
		openIdx: -1,
		llm:     llm,
		apiCtx:  apiCtx,
		now:     time.Now,
		logger:  logger.With(slog.String("module", "chat")),
	}
	s.messages = append(s.messages, s.newMessage(models.RoleAssistant, GreetingMessage))
	return s
}

func (s *Session) newMessage(role models.Role, content string) models.Message {
	return models.Message{
		ID:             uuid.New().String(),
		Role:           role,
		Content:        content,
		Timestamp:      s.now(),
		StreamingState: models.StreamingStateEnded,
	}
}

// Context returns the API context the session builds its prompts from.
func (s *Session) Context() *APIContext {
	return s.apiCtx
}

// State returns the current send state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a copy of the conversation log in chronological order.
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]models.Message, len(s.messages))
	copy(msgs, s.messages)
	return msgs
}

// Message returns the message with the given ID.
func (s *Session) Message(id string) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.messages {
		if msg.ID == id {
			return msg, true
		}
	}
	return models.Message{}, false
}

// Submit accepts a new user input. It builds the prompt from the conversation so far, appends the user
// message and an empty reply placeholder, and moves the session to StateStreaming. The returned Turn must
// be passed to Stream, which moves the session back to StateIdle.
func (s *Session) Submit(input string) (Turn, error) {
	if strings.TrimSpace(input) == "" {
		return Turn{}, ErrEmptyMessage
	}

	apiContext, err := s.apiCtx.JSON()
	if err != nil {
		return Turn{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStreaming {
		return Turn{}, ErrBusy
	}

	turn := Turn{
		User:   s.newMessage(models.RoleUser, input),
		Reply:  s.newMessage(models.RoleAssistant, ""),
		prompt: BuildPrompt(apiContext, s.messages, input),
	}
	turn.Reply.StreamingState = models.StreamingStateLoading

	s.messages = append(s.messages, turn.User, turn.Reply)
	s.openIdx = len(s.messages) - 1
	s.state = StateStreaming

	return turn, nil
}

// Stream generates the reply of turn. Every fragment is appended to the reply and the updated message is
// passed to onUpdate, in order, before the next fragment is read. onUpdate may be nil.
//
// When generation fails the reply keeps what was streamed so far, an apology message is appended, and the
// error is returned. In every case the reply is closed and the session returns to StateIdle.
func (s *Session) Stream(ctx context.Context, turn Turn, onUpdate func(models.Message)) error {
	if onUpdate == nil {
		onUpdate = func(models.Message) {}
	}

	var genErr error
	for text, err := range s.llm.Generate(ctx, turn.prompt) {
		if err != nil {
			genErr = err
			break
		}
		msg, ok := s.apply(turn.Reply.ID, text)
		if !ok {
			genErr = fmt.Errorf("reply %s is no longer open", turn.Reply.ID)
			break
		}
		onUpdate(msg)
	}

	if genErr != nil {
		s.logger.Error("Failed to generate reply",
			slog.String("messageID", turn.Reply.ID),
			slog.String(errLoggerKey, genErr.Error()))
	}

	s.finish(turn.Reply.ID, genErr != nil)
	return genErr
}

// Send submits input and streams its reply.
func (s *Session) Send(ctx context.Context, input string, onUpdate func(models.Message)) (Turn, error) {
	turn, err := s.Submit(input)
	if err != nil {
		return Turn{}, err
	}
	return turn, s.Stream(ctx, turn, onUpdate)
}

// apply appends text to the open reply identified by id and returns a copy of it.
func (s *Session) apply(id, text string) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.openIdx < 0 || s.messages[s.openIdx].ID != id {
		return models.Message{}, false
	}

	msg := &s.messages[s.openIdx]
	msg.Content += text
	msg.StreamingState = models.StreamingStateStreaming
	return *msg, true
}

func (s *Session) finish(id string, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.openIdx >= 0 && s.messages[s.openIdx].ID == id {
		s.messages[s.openIdx].StreamingState = models.StreamingStateEnded
	}
	if failed {
		s.messages = append(s.messages, s.newMessage(models.RoleAssistant, ApologyMessage))
	}
	s.openIdx = -1
	s.state = StateIdle
}

// LastMessage returns the most recent message of the log.
func (s *Session) LastMessage() models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[len(s.messages)-1]
}
