package handlers

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"time"

	weatherchat "github.com/MegaGrindStone/weather-chat"
	"github.com/MegaGrindStone/weather-chat/internal/chat"
	"github.com/MegaGrindStone/weather-chat/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Forecaster provides the forecast shown by the weather widget, and whether it is mock data.
type Forecaster interface {
	Forecasts(ctx context.Context) ([]models.Forecast, bool, error)
}

// ForecastSource returns the records served by the forecast endpoint.
type ForecastSource func(now time.Time) []models.Forecast

// Main handles the web application: the chat page, message submission, the server-sent events that carry
// streamed replies to the browser, the weather widget, and the forecast endpoint.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	session        *chat.Session
	weather        Forecaster
	forecastSource ForecastSource
	allowedOrigin  string

	logger *slog.Logger
}

const errLoggerKey = "err"

// SSE event types for real-time updates.
var (
	messagesSSEType      = sse.Type("messages")
	appendMessageSSEType = sse.Type("appendMessage")
	closeMessageSSEType  = sse.Type("closeMessage")
)

// NewMain creates a new Main instance serving the given session. It parses the HTML templates from the
// embedded filesystem and sets up the SSE server, which subscribes every client to the default topic and,
// when the request names a message_id, to that message's topic.
func NewMain(
	session *chat.Session,
	weather Forecaster,
	forecastSource ForecastSource,
	allowedOrigin string,
	logger *slog.Logger,
) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"markdown": renderMarkdown,
	}).ParseFS(
		weatherchat.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	m := Main{
		templates:      tmpl,
		session:        session,
		weather:        weather,
		forecastSource: forecastSource,
		allowedOrigin:  allowedOrigin,
		logger:         logger.With(slog.String("module", "main")),
	}
	m.sseSrv = &sse.Server{
		Provider:  &sse.Joe{Replayer: newReplyReplayer()},
		OnSession: m.onSSESession,
	}
	return m, nil
}

func messageIDTopic(messageID string) string {
	return fmt.Sprintf("message-%s", messageID)
}

// Shutdown gracefully terminates the Main instance's SSE server. It broadcasts a close message to all
// connected clients and waits up to 5 seconds for connections to terminate. After the timeout, any
// remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	e := &sse.Message{Type: sse.Type("closeChat")}
	// Events without data are dropped by browsers.
	e.AppendData("bye")

	// Shutting down anyway.
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}

func renderMarkdown(content string) (template.HTML, error) {
	html, err := models.RenderContent(content)
	if err != nil {
		return "", err
	}
	// goldmark drops raw HTML from the source, so the output is safe to embed.
	return template.HTML(html), nil //nolint:gosec
}
