package handlers

import (
	"fmt"
	"sync"

	"github.com/tmaxmax/go-sse"
)

// replyReplayer keeps the latest state of every reply topic so a client subscribing late starts from it.
// The provider runs Replay and Put on the goroutine that delivers published events, so a subscriber either
// receives an event live or gets it replayed, never neither.
type replyReplayer struct {
	mu      sync.Mutex
	replies map[string]*replyState
}

type replyState struct {
	content *sse.Message
	apology *sse.Message
	closed  *sse.Message
}

func newReplyReplayer() *replyReplayer {
	return &replyReplayer{replies: make(map[string]*replyState)}
}

// Put records message under every topic it was published to.
func (r *replyReplayer) Put(message *sse.Message, topics []string) (*sse.Message, error) {
	if len(topics) == 0 {
		return nil, sse.ErrNoTopic
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, topic := range topics {
		if topic == sse.DefaultTopic {
			continue
		}
		state, ok := r.replies[topic]
		if !ok {
			state = &replyState{}
			r.replies[topic] = state
		}
		switch message.Type {
		case messagesSSEType:
			state.content = message
		case appendMessageSSEType:
			state.apology = message
		case closeMessageSSEType:
			state.closed = message
		}
	}
	return message, nil
}

// Replay sends the latest content of each reply the subscription follows, and its apology and close
// events if the reply already ended.
func (r *replyReplayer) Replay(subscription sse.Subscription) error {
	var events []*sse.Message

	r.mu.Lock()
	for _, topic := range subscription.Topics {
		state, ok := r.replies[topic]
		if !ok {
			continue
		}
		for _, e := range []*sse.Message{state.content, state.apology, state.closed} {
			if e != nil {
				events = append(events, e)
			}
		}
	}
	r.mu.Unlock()

	if len(events) == 0 {
		return nil
	}
	for _, e := range events {
		if err := subscription.Client.Send(e); err != nil {
			return fmt.Errorf("failed to replay event: %w", err)
		}
	}
	return subscription.Client.Flush()
}
