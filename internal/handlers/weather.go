package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// HandleWeatherForecast is the forecast backend: GET returns the forecast records as a JSON array. Browsers
// on the configured origin may call it directly.
func (m Main) HandleWeatherForecast(w http.ResponseWriter, r *http.Request) {
	if m.allowedOrigin != "" {
		w.Header().Set("Access-Control-Allow-Origin", m.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Add("Vary", "Origin")
	}

	switch r.Method {
	case http.MethodGet:
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	default:
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(m.forecastSource(time.Now())); err != nil {
		m.logger.Error("Failed to encode forecast", slog.String(errLoggerKey, err.Error()))
	}
}
