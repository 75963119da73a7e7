// Command relay runs a standalone realtime relay: WebSocket endpoint,
// info routes, and an optional Redis bridge for multi-instance fan-out.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/waseem2959/flextasker-realtime/providers"
	"github.com/waseem2959/flextasker-realtime/src/relay"
)

func main() {
	_ = godotenv.Load()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg := relay.ConfigFromEnv()
	hub := relay.NewHub(cfg, logger)
	auth := relay.NewAuthenticator(cfg.JWTSecret)

	// The bridge is optional: without Redis the relay still serves a
	// single instance.
	var bridge *relay.RedisBridge
	if os.Getenv("REDIS_ADDR") != "" {
		bridge = relay.NewRedisBridge(relay.RedisConfigFromEnv(), hub, logger)
		if err := bridge.Start(); err != nil {
			logger.Warn().Err(err).Msg("redis bridge unavailable, running standalone")
			bridge = nil
		} else {
			hub.SetBridge(bridge)
		}
	}

	srv := providers.NewServer(hub, auth, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("relay listening")
		errCh <- srv.ListenAndServe(cfg.Addr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal().Err(err).Msg("server failed")
		}
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	if bridge != nil {
		if err := bridge.Stop(); err != nil {
			logger.Error().Err(err).Msg("bridge stop error")
		}
	}
}
