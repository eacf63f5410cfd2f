package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danrezi-gif/encontro/internal/ceremony"
	"github.com/danrezi-gif/encontro/internal/config"
	"github.com/danrezi-gif/encontro/internal/events"
	"github.com/danrezi-gif/encontro/internal/gateway"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Str("level", cfg.LogLevel).Msg("bad log level")
	}
	zerolog.SetGlobalLevel(level)

	durations := ceremony.DefaultDurations()
	if cfg.PhaseConfigPath != "" {
		durations, err = ceremony.LoadDurations(cfg.PhaseConfigPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.PhaseConfigPath).Msg("load phase config")
		}
		log.Info().
			Str("path", cfg.PhaseConfigPath).
			Dur("total", durations.Total()).
			Msg("phase durations loaded")
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.NATSURL != "" {
		jsCfg := events.DefaultJetStreamConfig()
		jsCfg.URL = cfg.NATSURL
		publisher, err = events.NewJetStreamPublisher(jsCfg)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATSURL).Msg("connect event mirror")
		}
		log.Info().Str("url", cfg.NATSURL).Msg("event mirror enabled")
	}

	connCfg := gateway.DefaultConnectionConfig()
	connCfg.CheckOrigin = gateway.OriginChecker(cfg.AllowedOrigins)

	manager := gateway.NewManager(connCfg, durations, ceremony.Limits{
		MaxRooms:    cfg.MaxRooms,
		MaxRoomSize: cfg.MaxRoomSize,
	}, publisher, clockwork.NewRealClock())
	service := gateway.NewService(manager)

	mux := http.NewServeMux()
	service.RegisterRoutes(mux)

	handler := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet},
	}).Handler(mux)

	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     handler,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Int("max_rooms", cfg.MaxRooms).
			Int("max_room_size", cfg.MaxRoomSize).
			Msg("encontro server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}

	service.Close()
	log.Info().Msg("shutdown complete")
}
