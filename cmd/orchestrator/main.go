package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/config"
	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/manager"
	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/provider/cluster"
	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/registry"
	router "github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/transport/http"
)

func main() {
	// The cluster provider re-executes this binary for its pool workers.
	workerMode := flag.Bool("worker", false, "run as a cluster pool worker")
	workerID := flag.Int("worker-id", 0, "pool worker id")
	workerPort := flag.Int("worker-port", 0, "pool worker listen port")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	if *workerMode {
		if err := cluster.RunWorker(ctx, cfg, *workerID, *workerPort); err != nil {
			log.Error().Err(err).Msg("worker exited with error")
			os.Exit(1)
		}
		return
	}

	reg := registry.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer reg.Close()
	if err := reg.Ping(ctx); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("registry unreachable")
	}

	mgr, err := manager.New(ctx, cfg, reg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build room manager")
	}
	defer mgr.Close()
	go mgr.Run(ctx)

	r := router.SetupRouter(cfg.Mode, mgr)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("provider", cfg.Provider).Msg("orchestrator started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
