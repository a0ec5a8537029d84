package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/config"
	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/registry"
	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/session"
)

// roomserver hosts the live session of exactly one room. The docker and
// kubernetes providers bake it into the per-room image; the room id comes
// in through the environment.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.RoomID == "" {
		log.Fatal().Msg("QUIZ_ROOM_ID is required")
	}

	var reg *registry.Registry
	if cfg.RedisAddr != "" {
		reg = registry.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer reg.Close()
		if err := reg.Ping(ctx); err != nil {
			// The live protocol works without the registry; only the
			// heartbeat is lost, so the cleanup sweep will reclaim us.
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("registry unreachable, running without heartbeat")
			reg = nil
		}
	}

	hub := session.NewHub(cfg.MaxConnections, cfg.MaxRoomSize, session.NewMetrics())
	srv := &session.Server{
		Hub:   hub,
		Allow: func(roomID string) bool { return roomID == cfg.RoomID },
		Path:  fmt.Sprintf("/rooms/%s/ws", cfg.RoomID),
	}

	hb := &session.Heartbeater{
		Registry: reg,
		RoomID:   cfg.RoomID,
		Interval: cfg.StaleThreshold / 3,
	}
	go hb.Run(ctx)

	addr := fmt.Sprintf(":%d", cfg.Port)
	httpSrv := &http.Server{
		Addr:    addr,
		Handler: srv.Router(ctx, cfg.Mode),
	}

	go func() {
		log.Info().Str("addr", addr).Str("room", cfg.RoomID).Msg("room server started")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
