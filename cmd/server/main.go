package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	weatherchat "github.com/MegaGrindStone/weather-chat"
	"github.com/MegaGrindStone/weather-chat/internal/chat"
	"github.com/MegaGrindStone/weather-chat/internal/handlers"
	"github.com/MegaGrindStone/weather-chat/internal/logger"
	"github.com/MegaGrindStone/weather-chat/internal/services"
	"github.com/hashicorp/go-multierror"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Shutting down due to error", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func configPath() (string, error) {
	if p := os.Getenv("WEATHERCHAT_CONFIG"); p != "" {
		return p, nil
	}
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("error getting user config dir: %w", err)
	}
	return filepath.Join(cfgDir, "weatherchat", "config.yaml"), nil
}

func run() error {
	cfgPath, err := configPath()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log := slog.New(logger.New(os.Stderr, logger.Options{Level: level, NoColor: cfg.NoColor}))
	slog.SetDefault(log)

	llm, err := services.NewOllama(cfg.Ollama.Host, cfg.Ollama.Model, log)
	if err != nil {
		return err
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := llm.Ping(pingCtx); err != nil {
		// Chat replies will fail until Ollama is up; the page and the forecast still work.
		log.Warn("Ollama is not reachable", slog.String("err", err.Error()))
	}
	pingCancel()

	apiCtx := chat.NewAPIContext()
	session := chat.NewSession(llm, apiCtx, log)

	weather, err := services.NewWeather(cfg.weatherBaseURL(), cfg.Weather.Timeout, cfg.Weather.MockOnError, apiCtx, log)
	if err != nil {
		return err
	}

	m, err := handlers.NewMain(session, weather, services.StaticForecasts, cfg.AllowedOrigin, log)
	if err != nil {
		return err
	}

	// Serve static files
	staticFS, err := fs.Sub(weatherchat.StaticFS, "static")
	if err != nil {
		return err
	}
	fileServer := http.FileServer(http.FS(staticFS))

	// Create custom mux
	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/chats", m.HandleChats)
	mux.HandleFunc("/sse/messages", m.HandleSSE)
	mux.HandleFunc("/weather", m.HandleWeather)
	mux.HandleFunc("/weatherforecast", m.HandleWeatherForecast)

	// Create custom server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	// Start server in goroutine
	go func() {
		log.Info("Server starting",
			slog.String("addr", srv.Addr),
			slog.String("model", cfg.Ollama.Model),
			slog.String("ollama", cfg.Ollama.Host))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Blocking select waiting for either interrupt or server error
	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Info("Start shutdown", slog.String("signal", sig.String()))

		// Create context with timeout for shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var result error
		if err := m.Shutdown(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to shutdown sse server: %w", err))
		}
		// Gracefully shutdown the server
		if err := srv.Shutdown(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("graceful shutdown failed: %w", err))
			if err := srv.Close(); err != nil {
				result = multierror.Append(result, fmt.Errorf("forcing server close: %w", err))
			}
		}
		if result == nil {
			log.Info("Shutdown complete")
		}
		return result
	}
}
