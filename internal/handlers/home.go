package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/MegaGrindStone/weather-chat/internal/chat"
	"github.com/MegaGrindStone/weather-chat/internal/models"
)

type homePageData struct {
	Messages []models.Message
	Busy     bool
	Weather  weatherWidgetData
}

type weatherWidgetData struct {
	Forecasts []forecast
	Mock      bool
	Error     string
}

type forecast struct {
	Day          string
	TemperatureC int
	TemperatureF int
	Summary      string
	Icon         string
}

// HandleHome renders the chat page: the conversation so far, the message form, and the weather widget.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data := homePageData{
		Messages: m.session.Messages(),
		Busy:     m.session.State() == chat.StateStreaming,
		Weather:  m.weatherWidget(r),
	}

	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to render home page", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

// HandleWeather renders the weather widget alone, so the page can refresh it.
func (m Main) HandleWeather(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := m.templates.ExecuteTemplate(w, "weather_widget", m.weatherWidget(r)); err != nil {
		m.logger.Error("Failed to render weather widget", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m Main) weatherWidget(r *http.Request) weatherWidgetData {
	forecasts, mock, err := m.weather.Forecasts(r.Context())
	if err != nil {
		m.logger.Error("Weather data fetch error", slog.String(errLoggerKey, err.Error()))
		return weatherWidgetData{Error: err.Error()}
	}

	data := weatherWidgetData{
		Forecasts: make([]forecast, len(forecasts)),
		Mock:      mock,
	}
	for i, f := range forecasts {
		data.Forecasts[i] = forecast{
			Day:          forecastDay(f.Date),
			TemperatureC: f.TemperatureC,
			TemperatureF: f.TemperatureF,
			Summary:      f.Summary,
			Icon:         f.Icon(),
		}
	}
	return data
}

// forecastDay formats a forecast date, which the backend sends as a plain date and the mock table as a
// timestamp, for display. Unknown layouts are shown as they are.
func forecastDay(date string) string {
	for _, layout := range []string{time.DateOnly, time.RFC3339Nano} {
		if t, err := time.Parse(layout, date); err == nil {
			return t.Format("Mon, Jan 2")
		}
	}
	return date
}
