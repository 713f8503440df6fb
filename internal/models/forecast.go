package models

import "strings"

// Forecast is one day of the weather forecast, as served by GET /weatherforecast.
type Forecast struct {
	Date         string `json:"date"`
	TemperatureC int    `json:"temperatureC"`
	TemperatureF int    `json:"temperatureF"`
	Summary      string `json:"summary"`
}

// Icon names the widget icon matching the forecast summary: sun, rain, snow or cloud.
func (f Forecast) Icon() string {
	s := strings.ToLower(f.Summary)
	switch {
	case strings.Contains(s, "sun"), strings.Contains(s, "hot"), strings.Contains(s, "warm"):
		return "sun"
	case strings.Contains(s, "rain"), strings.Contains(s, "drizzle"):
		return "rain"
	case strings.Contains(s, "snow"), strings.Contains(s, "freezing"):
		return "snow"
	default:
		return "cloud"
	}
}
