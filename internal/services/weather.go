package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/MegaGrindStone/weather-chat/internal/models"
)

// ResponseRecorder receives every API response the weather client shows, so it can be offered to the model
// as context.
type ResponseRecorder interface {
	Save(url string, data any)
}

// Weather fetches the forecast from the forecast backend for the weather widget.
type Weather struct {
	endpoint    string
	mockOnError bool

	client   *http.Client
	recorder ResponseRecorder
	now      func() time.Time

	logger *slog.Logger
}

// NewWeather creates a Weather client for the backend at baseURL. When mockOnError is set, a failing
// backend is replaced by the mock forecast instead of an error. recorder may be nil.
func NewWeather(baseURL string, timeout time.Duration, mockOnError bool, recorder ResponseRecorder,
	logger *slog.Logger,
) (Weather, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return Weather{}, fmt.Errorf("invalid weather base url %q: %w", baseURL, err)
	}

	return Weather{
		endpoint:    u.JoinPath("/weatherforecast").String(),
		mockOnError: mockOnError,
		client:      &http.Client{Timeout: timeout},
		recorder:    recorder,
		now:         time.Now,
		logger:      logger.With(slog.String("module", "weather")),
	}, nil
}

// Forecasts returns the forecast and whether it is the mock table. The forecast shown is also saved to the
// recorder under the endpoint URL.
func (w Weather) Forecasts(ctx context.Context) ([]models.Forecast, bool, error) {
	forecasts, err := w.fetch(ctx)
	if err == nil {
		w.record(forecasts)
		return forecasts, false, nil
	}

	w.logger.Error("Error fetching weather forecast",
		slog.String("endpoint", w.endpoint),
		slog.String(errLoggerKey, err.Error()))
	if !w.mockOnError {
		return nil, false, err
	}

	w.logger.Info("Using mock weather data as fallback")
	forecasts = MockForecasts(w.now())
	w.record(forecasts)
	return forecasts, true, nil
}

func (w Weather) fetch(ctx context.Context) ([]models.Forecast, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status: %s", res.Status)
	}

	var forecasts []models.Forecast
	if err := json.NewDecoder(res.Body).Decode(&forecasts); err != nil {
		return nil, fmt.Errorf("error decoding forecast: %w", err)
	}
	return forecasts, nil
}

func (w Weather) record(forecasts []models.Forecast) {
	if w.recorder != nil {
		w.recorder.Save(w.endpoint, forecasts)
	}
}
