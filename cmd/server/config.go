package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v9"
	"gopkg.in/yaml.v3"
)

type config struct {
	Port          string        `yaml:"port" env:"PORT"`
	LogLevel      string        `yaml:"logLevel" env:"LOG_LEVEL"`
	NoColor       bool          `yaml:"noColor" env:"LOG_NO_COLOR"`
	AllowedOrigin string        `yaml:"allowedOrigin" env:"ALLOWED_ORIGIN"`
	Ollama        ollamaConfig  `yaml:"ollama"`
	Weather       weatherConfig `yaml:"weather"`
}

type ollamaConfig struct {
	Host  string `yaml:"host" env:"OLLAMA_HOST"`
	Model string `yaml:"model" env:"OLLAMA_MODEL"`
}

type weatherConfig struct {
	// BaseURL of the forecast backend. Empty means this server's own /weatherforecast.
	BaseURL     string        `yaml:"baseURL" env:"WEATHER_BASE_URL"`
	MockOnError bool          `yaml:"mockOnError" env:"WEATHER_MOCK_ON_ERROR"`
	Timeout     time.Duration `yaml:"timeout" env:"WEATHER_TIMEOUT"`
}

func defaultConfig() config {
	return config{
		Port:          "8080",
		LogLevel:      "info",
		AllowedOrigin: "http://localhost:5173",
		Ollama: ollamaConfig{
			Host:  "http://localhost:11434",
			Model: "llama2",
		},
		Weather: weatherConfig{
			MockOnError: true,
			Timeout:     5 * time.Second,
		},
	}
}

// loadConfig starts from the defaults, applies the YAML file at path if it exists, then the environment.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()

	f, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return config{}, fmt.Errorf("error opening config file: %w", err)
	default:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return config{}, fmt.Errorf("error decoding config file: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return config{}, fmt.Errorf("error parsing env config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if c.Ollama.Host == "" {
		return fmt.Errorf("ollama host is required")
	}
	if c.Ollama.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Weather.Timeout <= 0 {
		return fmt.Errorf("weather timeout must be positive")
	}
	return nil
}

func (c config) weatherBaseURL() string {
	if c.Weather.BaseURL != "" {
		return c.Weather.BaseURL
	}
	return "http://localhost:" + c.Port
}
