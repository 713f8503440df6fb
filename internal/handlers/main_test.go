package handlers_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MegaGrindStone/weather-chat/internal/chat"
	"github.com/MegaGrindStone/weather-chat/internal/handlers"
	"github.com/MegaGrindStone/weather-chat/internal/models"
	"github.com/MegaGrindStone/weather-chat/internal/services"
)

type mockLLM struct {
	responses []string
	err       error
	// release, when set, holds the stream after its first fragment until closed.
	release chan struct{}
}

type mockForecaster struct {
	forecasts []models.Forecast
	mock      bool
	err       error
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMain(t *testing.T, llm chat.LLM, weather handlers.Forecaster) (handlers.Main, *chat.Session) {
	t.Helper()

	session := chat.NewSession(llm, nil, discardLogger())
	m, err := handlers.NewMain(session, weather, services.StaticForecasts, "http://localhost:5173", discardLogger())
	if err != nil {
		t.Fatalf("NewMain() error = %v", err)
	}
	t.Cleanup(func() {
		_ = m.Shutdown(context.Background())
	})
	return m, session
}

func waitIdle(t *testing.T, s *chat.Session) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.State() != chat.StateIdle {
		if time.Now().After(deadline) {
			t.Fatal("session did not return to idle")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewMain(t *testing.T) {
	session := chat.NewSession(&mockLLM{}, nil, discardLogger())

	main, err := handlers.NewMain(session, &mockForecaster{}, services.StaticForecasts, "", discardLogger())
	if err != nil {
		t.Fatalf("NewMain() error = %v", err)
	}

	if main.Shutdown(context.Background()) != nil {
		t.Error("Shutdown() should not return error")
	}
}

func TestHandleHome(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		method     string
		weather    *mockForecaster
		wantStatus int
		wantBody   []string
	}{
		{
			name:   "Home page",
			url:    "/",
			method: http.MethodGet,
			weather: &mockForecaster{forecasts: []models.Forecast{
				{Date: "2025-03-30", TemperatureC: 33, TemperatureF: 91, Summary: "Hot"},
			}},
			wantStatus: http.StatusOK,
			wantBody:   []string{"How can I help you today?", "Hot", "33°C / 91°F", "Sun, Mar 30", "icon-sun"},
		},
		{
			name:       "Mock weather",
			url:        "/",
			method:     http.MethodGet,
			weather:    &mockForecaster{forecasts: services.MockForecasts(time.Now()), mock: true},
			wantStatus: http.StatusOK,
			wantBody:   []string{"Sunny and warm", "Showing mock data"},
		},
		{
			name:       "Weather error",
			url:        "/",
			method:     http.MethodGet,
			weather:    &mockForecaster{err: errors.New("backend down")},
			wantStatus: http.StatusOK,
			wantBody:   []string{"backend down", "Type your message..."},
		},
		{
			name:       "Unknown path",
			url:        "/nope",
			method:     http.MethodGet,
			weather:    &mockForecaster{},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "Invalid method",
			url:        "/",
			method:     http.MethodPost,
			weather:    &mockForecaster{},
			wantStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			main, _ := newMain(t, &mockLLM{}, tt.weather)

			req := httptest.NewRequest(tt.method, tt.url, nil)
			w := httptest.NewRecorder()

			main.HandleHome(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleHome() status = %v, want %v", w.Code, tt.wantStatus)
			}
			for _, want := range tt.wantBody {
				if !strings.Contains(w.Body.String(), want) {
					t.Errorf("HandleHome() body = %v, want to contain %v", w.Body.String(), want)
				}
			}
		})
	}
}

func TestHandleWeather(t *testing.T) {
	main, _ := newMain(t, &mockLLM{}, &mockForecaster{forecasts: []models.Forecast{
		{Date: "2025-04-02", TemperatureC: 4, TemperatureF: 39, Summary: "Freezing"},
	}})

	w := httptest.NewRecorder()
	main.HandleWeather(w, httptest.NewRequest(http.MethodGet, "/weather", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("HandleWeather() status = %v", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "Freezing") || !strings.Contains(body, "icon-snow") {
		t.Errorf("HandleWeather() body = %v", body)
	}
	if strings.Contains(body, "<html") {
		t.Error("HandleWeather() must render the widget alone")
	}
}

func TestHandleChats(t *testing.T) {
	llm := &mockLLM{responses: []string{"AI ", "response"}}
	main, session := newMain(t, llm, &mockForecaster{})

	tests := []struct {
		name       string
		method     string
		message    string
		wantStatus int
		wantBody   []string
	}{
		{
			name:       "Invalid method",
			method:     http.MethodGet,
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "Empty message",
			method:     http.MethodPost,
			message:    "   ",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Message",
			method:     http.MethodPost,
			message:    "Hello",
			wantStatus: http.StatusOK,
			wantBody:   []string{"message-user", "Hello", "message-assistant", `data-streaming-state="loading"`},
		},
		{
			name:       "Second message",
			method:     http.MethodPost,
			message:    "Is it cold?",
			wantStatus: http.StatusOK,
			wantBody:   []string{"Is it cold?"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := strings.NewReader("message=" + tt.message)
			req := httptest.NewRequest(tt.method, "/chats", form)
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			w := httptest.NewRecorder()

			main.HandleChats(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleChats() status = %v, want %v", w.Code, tt.wantStatus)
			}
			for _, want := range tt.wantBody {
				if !strings.Contains(w.Body.String(), want) {
					t.Errorf("HandleChats() body = %v, want to contain %v", w.Body.String(), want)
				}
			}

			waitIdle(t, session)
		})
	}

	msgs := session.Messages()
	if len(msgs) != 5 {
		t.Fatalf("messages = %d, want 5", len(msgs))
	}
	if msgs[2].Content != "AI response" || msgs[4].Content != "AI response" {
		t.Errorf("replies = %q, %q", msgs[2].Content, msgs[4].Content)
	}
}

func TestHandleChatsBusy(t *testing.T) {
	llm := &mockLLM{responses: []string{"slow"}, release: make(chan struct{})}
	main, session := newMain(t, llm, &mockForecaster{})

	post := func() int {
		req := httptest.NewRequest(http.MethodPost, "/chats", strings.NewReader("message=hi"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		main.HandleChats(w, req)
		return w.Code
	}

	if code := post(); code != http.StatusOK {
		t.Fatalf("first post status = %v", code)
	}
	if code := post(); code != http.StatusConflict {
		t.Errorf("post while streaming status = %v, want %v", code, http.StatusConflict)
	}

	close(llm.release)
	waitIdle(t, session)

	if code := post(); code != http.StatusOK {
		t.Errorf("post after stream end status = %v", code)
	}
	waitIdle(t, session)
}

func TestHandleChatsFailure(t *testing.T) {
	llm := &mockLLM{responses: []string{"partial"}, err: errors.New("connection reset")}
	main, session := newMain(t, llm, &mockForecaster{})

	req := httptest.NewRequest(http.MethodPost, "/chats", strings.NewReader("message=hi"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	main.HandleChats(httptest.NewRecorder(), req)
	waitIdle(t, session)

	msgs := session.Messages()
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	if msgs[2].Content != "partial" {
		t.Errorf("reply = %q, want partial content kept", msgs[2].Content)
	}
	if msgs[3].Content != chat.ApologyMessage {
		t.Errorf("last message = %q, want apology", msgs[3].Content)
	}

	// A client subscribing after the reply failed gets the final state right away.
	w := httptest.NewRecorder()
	main.HandleSSE(w, httptest.NewRequest(http.MethodGet, "/sse/messages?message_id="+msgs[2].ID, nil))

	body := w.Body.String()
	for _, want := range []string{"event: messages", "partial", "event: appendMessage", "Sorry, I encountered an error", "event: closeMessage"} {
		if !strings.Contains(body, want) {
			t.Errorf("HandleSSE() body = %q, want to contain %q", body, want)
		}
	}
}

func TestHandleSSEStreamsReply(t *testing.T) {
	llm := &mockLLM{responses: []string{"AI ", "response"}, release: make(chan struct{})}
	main, session := newMain(t, llm, &mockForecaster{})

	srv := httptest.NewServer(http.HandlerFunc(main.HandleSSE))
	t.Cleanup(srv.Close)

	req := httptest.NewRequest(http.MethodPost, "/chats", strings.NewReader("message=hi"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	main.HandleChats(httptest.NewRecorder(), req)
	replyID := session.LastMessage().ID

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sseReq, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?message_id="+replyID, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(sseReq)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer resp.Body.Close()
	events := bufio.NewReader(resp.Body)

	// The subscription is registered once the first event arrives, so nothing after it can be missed.
	typ, data := readEvent(t, events)
	if typ != "messages" || !strings.Contains(data, "<p>AI</p>") {
		t.Fatalf("first event = %s %q, want messages with the first fragment", typ, data)
	}

	close(llm.release)

	typ, data = readEvent(t, events)
	if typ != "messages" || !strings.Contains(data, "<p>AI response</p>") {
		t.Errorf("second event = %s %q, want messages with the whole reply", typ, data)
	}
	if typ, _ := readEvent(t, events); typ != "closeMessage" {
		t.Errorf("last event = %s, want closeMessage", typ)
	}
	waitIdle(t, session)
}

// readEvent reads one server-sent event and returns its type and data lines joined by newlines.
func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()

	var (
		typ  string
		data []string
	)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if typ != "" || len(data) > 0 {
				return typ, strings.Join(data, "\n")
			}
		case strings.HasPrefix(line, "event:"):
			typ = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}

func TestHandleWeatherForecast(t *testing.T) {
	main, _ := newMain(t, &mockLLM{}, &mockForecaster{})

	tests := []struct {
		name       string
		method     string
		wantStatus int
	}{
		{name: "Get", method: http.MethodGet, wantStatus: http.StatusOK},
		{name: "Preflight", method: http.MethodOptions, wantStatus: http.StatusNoContent},
		{name: "Invalid method", method: http.MethodDelete, wantStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			main.HandleWeatherForecast(w, httptest.NewRequest(tt.method, "/weatherforecast", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("HandleWeatherForecast() status = %v, want %v", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
				t.Errorf("Access-Control-Allow-Origin = %q", got)
			}
			if tt.method != http.MethodGet {
				return
			}

			var forecasts []models.Forecast
			if err := json.NewDecoder(w.Body).Decode(&forecasts); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if len(forecasts) != 5 {
				t.Fatalf("forecasts = %d, want 5", len(forecasts))
			}
			if forecasts[0].Summary != "Mild" || forecasts[4].TemperatureF != 105 {
				t.Errorf("forecasts = %+v", forecasts)
			}
		})
	}
}

func (m *mockLLM) Generate(_ context.Context, _ string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for i, resp := range m.responses {
			if !yield(resp, nil) {
				return
			}
			if i == 0 && m.release != nil {
				<-m.release
			}
		}
		if m.err != nil {
			yield("", m.err)
		}
	}
}

func (m *mockForecaster) Forecasts(_ context.Context) ([]models.Forecast, bool, error) {
	if m.err != nil {
		return nil, false, m.err
	}
	return m.forecasts, m.mock, nil
}
