package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/fieldagent/internal/api"
	"github.com/ashureev/fieldagent/internal/chat"
	"github.com/ashureev/fieldagent/internal/config"
	"github.com/ashureev/fieldagent/internal/dialogue"
	"github.com/ashureev/fieldagent/internal/identity"
	"github.com/ashureev/fieldagent/internal/llm"
	"github.com/ashureev/fieldagent/internal/middleware"
	"github.com/ashureev/fieldagent/internal/reaper"
	"github.com/ashureev/fieldagent/internal/session"
	"github.com/ashureev/fieldagent/internal/speech"
	"github.com/ashureev/fieldagent/internal/store"
	"github.com/ashureev/fieldagent/web"
)

// drainTimeout bounds how long shutdown waits for live sessions to persist.
const drainTimeout = 10 * time.Second

// setupLogging installs the JSON slog handler and loads configuration.
func setupLogging() (*config.Config, *slog.Logger, error) {
	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: &level,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	level.Set(cfg.SlogLevel())
	return cfg, logger, nil
}

func runServe(ctx context.Context) error {
	cfg, logger, err := setupLogging()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return err
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "version", Version)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		return err
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	opts := []dialogue.Option{dialogue.WithPersistTimeout(cfg.Session.PersistTimeout)}

	chatModel, err := llm.NewChatModel(ctx, cfg.LLM)
	if err != nil {
		slog.Error("Failed to initialize chat model", "error", err)
		return err
	}
	if chatModel != nil {
		opts = append(opts, dialogue.WithGenerator(dialogue.NewResponder(chatModel, dialogue.ResponderConfig{
			Timeout:     cfg.LLM.Timeout,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
		})))
		slog.Info("Chat model configured", "model", cfg.LLM.Model, "base_url", cfg.LLM.BaseURL)
	} else {
		slog.Info("LLM_API_KEY not set, agents will use canned replies")
	}

	conversationLogger, err := dialogue.NewConversationLogger(dialogue.ConversationLogConfig{
		Enabled:   cfg.ConversationLog.Enabled,
		Dir:       cfg.ConversationLog.Dir,
		QueueSize: cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		return err
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Warn("Failed to close conversation logger", "error", closeErr)
		}
	}()
	opts = append(opts, dialogue.WithConversationLogger(conversationLogger))

	// Initialize services.
	sm := session.NewManager()
	ctrl := dialogue.NewController(repo, opts...)
	tts := speech.NewSynthesizer(speech.Config{
		APIKey:   cfg.TTS.APIKey,
		VoiceID:  cfg.TTS.VoiceID,
		BaseURL:  cfg.TTS.BaseURL,
		AudioDir: cfg.TTS.AudioDir,
		Timeout:  cfg.TTS.Timeout,
	})
	if !tts.Enabled() {
		slog.Info("TTS_API_KEY not set, speech synthesis disabled")
	}

	// Initialize handlers.
	apiHandler := api.NewHandler(repo, sm, tts)
	wsHandler := chat.NewHandler(repo, sm, ctrl, cfg.Origins(), cfg.IsDevelopment())

	origins := cfg.Origins()
	if len(origins) == 0 && cfg.IsDevelopment() {
		origins = []string{"*"}
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(origins))

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.IsDevelopment()))
		apiHandler.Routes(r)
	})

	// Synthesized speech.
	r.Handle(web.AudioPrefix+"*", web.AudioHandler(cfg.TTS.AudioDir))

	// WebSocket endpoint.
	r.Get("/ws/conversations/{sessionID}", wsHandler.ServeHTTP)

	// Websocket connections are hijacked, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start background workers.
	reaper.StartIdleReaper(ctx, sm, cfg.Session.IdleTimeout, cfg.Session.ReapInterval)
	if err := reaper.StartAbandonedCleanup(ctx, repo, cfg.Session.AbandonedTTL, cfg.Session.CleanupSchedule); err != nil {
		slog.Error("Failed to schedule conversation cleanup", "error", err)
		return err
	}

	// Start server.
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for shutdown signal.
	select {
	case err := <-serveErr:
		if err != nil {
			slog.Error("Server failed", "error", err)
			return err
		}
	case <-ctx.Done():
	}

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return fmt.Errorf("shutdown: %w", err)
	}

	drainSessions(sm, wsHandler, drainTimeout)
	slog.Info("Server stopped successfully")
	return nil
}

// drainSessions closes live websocket sessions and waits for their
// termination to finish persisting.
func drainSessions(sm *session.Manager, ws *chat.Handler, timeout time.Duration) {
	if n := sm.CloseAll(); n > 0 {
		slog.Info("Closing live sessions", "count", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ws.Wait(ctx); err != nil {
		slog.Warn("Sessions still open after drain timeout", "count", sm.Len())
	}
}
