package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/MegaGrindStone/weather-chat/internal/stream"
	"github.com/ollama/ollama/api"
)

// Ollama generates replies with a model served by an Ollama server. Replies are requested from the
// streaming /api/generate endpoint and reassembled from its newline-delimited JSON body.
type Ollama struct {
	host  *url.URL
	model string

	httpClient *http.Client
	client     *api.Client

	logger *slog.Logger
}

// NewOllama creates a new Ollama instance with the specified host URL and model name. The host parameter
// should be a valid URL pointing to an Ollama server; an error is returned otherwise.
func NewOllama(host, model string, logger *slog.Logger) (Ollama, error) {
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: scheme and host are required", host)
	}

	httpClient := &http.Client{}
	return Ollama{
		host:       u,
		model:      model,
		httpClient: httpClient,
		client:     api.NewClient(u, httpClient),
		logger:     logger.With(slog.String("module", "ollama")),
	}, nil
}

// Ping checks that the Ollama server is reachable.
func (o Ollama) Ping(ctx context.Context) error {
	if err := o.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("ollama server at %s is unreachable: %w", o.host, err)
	}
	return nil
}

// Generate implements chat.LLM. It posts prompt to /api/generate with streaming enabled and yields the
// response text of every fragment as soon as its line is complete. A non-2xx status is yielded as an
// api.StatusError before anything is streamed. The response body is closed when the iteration ends, however
// it ends.
func (o Ollama) Generate(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		t := true
		body, err := json.Marshal(api.GenerateRequest{
			Model:  o.model,
			Prompt: prompt,
			Stream: &t,
		})
		if err != nil {
			yield("", fmt.Errorf("error marshaling request: %w", err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.host.JoinPath("/api/generate").String(),
			bytes.NewReader(body))
		if err != nil {
			yield("", fmt.Errorf("error creating request: %w", err))
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/x-ndjson")

		res, err := o.httpClient.Do(req)
		if err != nil {
			yield("", fmt.Errorf("error sending request: %w", err))
			return
		}
		defer res.Body.Close()

		if res.StatusCode < 200 || res.StatusCode > 299 {
			yield("", statusError(res))
			return
		}
		if res.Body == nil || res.Body == http.NoBody {
			yield("", errors.New("response has no body to stream"))
			return
		}

		o.logger.Debug("Streaming reply", slog.String("model", o.model), slog.Int("promptBytes", len(prompt)))

		for text, err := range stream.Consume(res.Body, o.logger) {
			if !yield(text, err) {
				return
			}
		}
	}
}

func statusError(res *http.Response) error {
	// Ollama reports failures as {"error": "..."}; fall back to the raw body otherwise.
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	serr := api.StatusError{
		StatusCode: res.StatusCode,
		Status:     res.Status,
	}
	if err := json.Unmarshal(raw, &serr); err != nil || serr.ErrorMessage == "" {
		serr.ErrorMessage = string(bytes.TrimSpace(raw))
	}
	return serr
}
