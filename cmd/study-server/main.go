package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"turing-study/internal/config"
	"turing-study/internal/conversation"
	"turing-study/internal/generation"
	"turing-study/internal/logging"
	"turing-study/internal/mcpserver"
	"turing-study/internal/presence"
	"turing-study/internal/store"
	"turing-study/internal/study"
	httptransport "turing-study/internal/transport/http"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/samber/do/v2"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}
	cfg, err := config.LoadApp()
	if err != nil {
		panic(err)
	}
	logging.Init(cfg.Log)
	defer func() { _ = logging.Close() }()

	injector := setupDI(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	coord, err := do.Invoke[*study.Coordinator](injector)
	if err != nil {
		log.Fatal().Err(err).Msg("coordinator init failed")
	}
	interrupted, err := coord.MarkInterruptedOnStartup(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("startup recovery failed")
	}
	log.Info().Int("sessions", interrupted).Msg("startup recovery done")
	coord.StartJanitor(ctx, cfg.Study.JanitorInterval)

	router, err := do.Invoke[*chi.Mux](injector)
	if err != nil {
		log.Fatal().Err(err).Msg("router init failed")
	}
	httptransport.LogRoutes(router)

	server := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.Server.HTTPAddr).Str("study_mode", string(coord.Mode())).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
}

func setupDI(cfg config.AppConfig) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	store.RegisterDI(injector)
	study.RegisterDI(injector)
	generation.RegisterDI(injector)
	presence.RegisterDI(injector)
	conversation.RegisterDI(injector)
	mcpserver.RegisterDI(injector)
	httptransport.RegisterDI(injector)

	return injector
}
