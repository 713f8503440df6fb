package services

import (
	"time"

	"github.com/MegaGrindStone/weather-chat/internal/models"
)

var staticForecastDays = []struct {
	temperatureC int
	summary      string
}{
	{27, "Mild"},
	{17, "Cool"},
	{33, "Hot"},
	{4, "Freezing"},
	{41, "Scorching"},
}

// StaticForecasts returns the five forecast records served by the backend, starting with the date of now.
func StaticForecasts(now time.Time) []models.Forecast {
	forecasts := make([]models.Forecast, len(staticForecastDays))
	for i, day := range staticForecastDays {
		forecasts[i] = models.Forecast{
			Date:         now.AddDate(0, 0, i).Format(time.DateOnly),
			TemperatureC: day.temperatureC,
			TemperatureF: Fahrenheit(day.temperatureC),
			Summary:      day.summary,
		}
	}
	return forecasts
}

// Fahrenheit converts a Celsius temperature the way the forecast backend always has, truncating
// C / 0.5556 before adding 32.
func Fahrenheit(c int) int {
	return 32 + int(float64(c)/0.5556)
}

var mockForecastDays = []models.Forecast{
	{TemperatureC: 22, TemperatureF: 71, Summary: "Sunny and warm"},
	{TemperatureC: 18, TemperatureF: 64, Summary: "Partly cloudy"},
	{TemperatureC: 15, TemperatureF: 59, Summary: "Light rain showers"},
	{TemperatureC: 12, TemperatureF: 53, Summary: "Cloudy with a chance of rain"},
	{TemperatureC: 20, TemperatureF: 68, Summary: "Sunny intervals"},
}

// MockForecasts returns the fallback table shown when the forecast backend is unavailable, dated one to
// five days after now.
func MockForecasts(now time.Time) []models.Forecast {
	forecasts := make([]models.Forecast, len(mockForecastDays))
	for i, f := range mockForecastDays {
		f.Date = now.Add(time.Duration(i+1) * 24 * time.Hour).UTC().Format(time.RFC3339Nano)
		forecasts[i] = f
	}
	return forecasts
}
