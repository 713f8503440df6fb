package chat

import (
	"encoding/json"
	"fmt"
	"maps"
	"sync"
)

// APIContext keeps the latest decoded response of every API the application called, keyed by URL. It is
// serialized into each prompt so the model can answer from that data.
type APIContext struct {
	mu        sync.RWMutex
	responses map[string]any
}

// NewAPIContext creates an empty APIContext.
func NewAPIContext() *APIContext {
	return &APIContext{responses: make(map[string]any)}
}

// Save records data as the response of url, replacing any earlier one.
func (c *APIContext) Save(url string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[url] = data
}

// Response returns the response recorded for url, or nil.
func (c *APIContext) Response(url string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.responses[url]
}

// Responses returns a copy of all recorded responses.
func (c *APIContext) Responses() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.responses)
}

// Clear forgets every recorded response.
func (c *APIContext) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.responses)
}

// JSON serializes the recorded responses as a single JSON object.
func (c *APIContext) JSON() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	b, err := json.Marshal(c.responses)
	if err != nil {
		return "", fmt.Errorf("failed to marshal api context: %w", err)
	}
	return string(b), nil
}
