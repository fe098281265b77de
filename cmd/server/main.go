package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ferrochat/ferrochat/internal/config"
	"github.com/ferrochat/ferrochat/internal/database"
	"github.com/ferrochat/ferrochat/internal/routes"
	"github.com/ferrochat/ferrochat/internal/server"
	"github.com/ferrochat/ferrochat/internal/services"
)

func main() {
	host := flag.String("host", "0.0.0.0", "listen host for the TCP endpoint")
	port := flag.String("port", "5000", "listen port for the TCP endpoint")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found")
	}
	cfg := config.Load()

	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "ferrochat").Logger()
	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if cfg.EnableEncryption && cfg.EncryptionMasterKey == "" {
		log.Warn().Msg("ENABLE_ENCRYPTION is set but ENCRYPTION_MASTER_KEY is empty; message payloads stay plaintext")
	}

	if err := database.Connect(cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Disconnect()

	if err := database.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	if err := database.ConnectRedis(cfg.RedisURL); err != nil {
		log.Warn().Err(err).Msg("redis unavailable, realtime fan-out is node-local")
	} else {
		defer database.DisconnectRedis()
	}

	services.Configure(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services.StartSessionReaper(ctx, cfg.ReaperInterval)
	services.StartRedisBridge(ctx)

	// Real-time endpoint on its own HTTP listener.
	wsServer := &http.Server{
		Addr:    ":" + cfg.WebSocketPort,
		Handler: routes.NewRouter(cfg),
	}
	go func() {
		log.Info().Str("port", cfg.WebSocketPort).Msg("websocket endpoint listening")
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("websocket server failed")
		}
	}()
	defer wsServer.Shutdown(context.Background())

	srv := server.New(cfg)
	if err := srv.Listen(*host + ":" + *port); err != nil {
		log.Fatal().Err(err).Msg("failed to bind tcp listener")
	}
	if err := srv.Serve(ctx); err != nil {
		log.Fatal().Err(err).Msg("tcp server failed")
	}

	log.Info().Msg("shutting down")
}
