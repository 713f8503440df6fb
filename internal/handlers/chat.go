package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/weather-chat/internal/chat"
	"github.com/MegaGrindStone/weather-chat/internal/models"
	"github.com/tmaxmax/go-sse"
)

// HandleChats accepts a user message through HTTP POST form data and starts generating the reply.
//
// The handler expects a "message" form field. It responds right away with the rendered user message and an
// empty, loading reply; the reply itself is streamed in the background and delivered through Server-Sent
// Events on the reply's message topic.
//
// Blank messages get 400, and a message sent while another reply is still streaming gets 409.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	turn, err := m.session.Submit(r.FormValue("message"))
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		m.logger.Error("Message is required")
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	case errors.Is(err, chat.ErrBusy):
		m.logger.Warn("Message rejected while a reply is streaming")
		http.Error(w, "A reply is still streaming", http.StatusConflict)
		return
	case err != nil:
		m.logger.Error("Failed to submit message", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	go m.chat(turn)

	if err := m.templates.ExecuteTemplate(w, "user_message", turn.User); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := m.templates.ExecuteTemplate(w, "ai_message", turn.Reply); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleSSE serves the event stream. Clients pass message_id to follow one reply.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

func (m Main) onSSESession(s *sse.Session) (sse.Subscription, bool) {
	topics := []string{sse.DefaultTopic}

	messageID := s.Req.URL.Query().Get("message_id")
	if messageID != "" {
		// A reply that already ended is sent whole and the request ends. One that ends while the
		// subscription is being registered is covered by the provider's replay.
		if msg, ok := m.session.Message(messageID); ok && msg.StreamingState == models.StreamingStateEnded {
			if err := m.replayEnded(s, msg); err != nil {
				m.logger.Error("Failed to replay ended message",
					slog.String("messageID", messageID),
					slog.String(errLoggerKey, err.Error()))
			}
			return sse.Subscription{}, false
		}
		topics = append(topics, messageIDTopic(messageID))
	}

	return sse.Subscription{
		Client:      s,
		LastEventID: s.LastEventID,
		Topics:      topics,
	}, true
}

func (m Main) replayEnded(s *sse.Session, msg models.Message) error {
	events := []*sse.Message{}

	content, err := renderMarkdown(msg.Content)
	if err != nil {
		return err
	}
	e := &sse.Message{Type: messagesSSEType}
	e.AppendData(string(content))
	events = append(events, e)

	if apology, ok := m.apologyAfter(msg.ID); ok {
		e, err := m.appendMessageEvent(apology)
		if err != nil {
			return err
		}
		events = append(events, e)
	}

	e = &sse.Message{Type: closeMessageSSEType}
	e.AppendData("bye")
	events = append(events, e)

	for _, e := range events {
		if err := s.Send(e); err != nil {
			return fmt.Errorf("failed to send event: %w", err)
		}
	}
	return s.Flush()
}

// apologyAfter returns the apology message appended right after the reply with the given ID, if any.
func (m Main) apologyAfter(id string) (models.Message, bool) {
	msgs := m.session.Messages()
	for i, msg := range msgs {
		if msg.ID != id {
			continue
		}
		if i+1 < len(msgs) && msgs[i+1].Content == chat.ApologyMessage {
			return msgs[i+1], true
		}
		break
	}
	return models.Message{}, false
}

func (m Main) appendMessageEvent(msg models.Message) (*sse.Message, error) {
	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, "ai_message", msg); err != nil {
		return nil, fmt.Errorf("failed to execute ai_message template: %w", err)
	}
	e := &sse.Message{Type: appendMessageSSEType}
	e.AppendData(sb.String())
	return e, nil
}

// chat streams the reply of turn, publishing the whole rendered reply after every fragment. When the reply
// fails, the apology message is published for the page to append.
func (m Main) chat(turn chat.Turn) {
	topic := messageIDTopic(turn.Reply.ID)

	// Ensure the client stops listening on function exit
	defer func() {
		e := &sse.Message{Type: closeMessageSSEType}
		e.AppendData("bye")
		_ = m.sseSrv.Publish(e, topic)
	}()

	err := m.session.Stream(context.Background(), turn, func(msg models.Message) {
		content, err := renderMarkdown(msg.Content)
		if err != nil {
			m.logger.Error("Failed to render contents",
				slog.String("messageID", msg.ID),
				slog.String(errLoggerKey, err.Error()))
			return
		}

		e := &sse.Message{Type: messagesSSEType}
		e.AppendData(string(content))
		if err := m.sseSrv.Publish(e, topic); err != nil {
			m.logger.Error("Failed to publish message",
				slog.String("messageID", msg.ID),
				slog.String(errLoggerKey, err.Error()))
		}
	})
	if err == nil {
		return
	}

	apology, ok := m.apologyAfter(turn.Reply.ID)
	if !ok {
		return
	}
	e, err := m.appendMessageEvent(apology)
	if err != nil {
		m.logger.Error("Failed to render apology", slog.String(errLoggerKey, err.Error()))
		return
	}
	if err := m.sseSrv.Publish(e, topic); err != nil {
		m.logger.Error("Failed to publish apology", slog.String(errLoggerKey, err.Error()))
	}
}
