package cluster

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/config"
	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/registry"
	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/rooms"
	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/session"
)

// RunWorker is the entry point of one pool worker. It hosts a session hub
// serving every room the primary assigns to this process, reports status
// changes on stdout, and heartbeats each hosted room's registry record so
// the cleanup sweep leaves them alone. It returns when stdin closes, which
// is how the primary signals shutdown.
func RunWorker(ctx context.Context, cfg *config.Config, workerID, port int) error {
	reg := registry.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer reg.Close()

	var (
		mu     sync.Mutex
		hosted = make(map[string]struct{})
	)
	hub := session.NewHub(cfg.MaxConnections, cfg.MaxRoomSize, session.NewMetrics())
	srv := &session.Server{
		Hub: hub,
		Allow: func(roomID string) bool {
			mu.Lock()
			defer mu.Unlock()
			_, ok := hosted[roomID]
			return ok
		},
		Path: "/rooms",
	}

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: srv.Router(ctx, cfg.Mode),
	}
	go func() {
		log.Info().Str("module", "provider.cluster.worker").Int("worker", workerID).Str("addr", httpSrv.Addr).Msg("worker serving")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Str("module", "provider.cluster.worker").Err(err).Msg("worker server error")
		}
	}()

	var outMu sync.Mutex
	report := func(roomID string, status rooms.Status) {
		outMu.Lock()
		defer outMu.Unlock()
		err := WriteMessage(os.Stdout, Message{
			Type:     MessageRoomStatus,
			RoomID:   roomID,
			Status:   status,
			WorkerID: workerID,
			PID:      os.Getpid(),
		})
		if err != nil {
			log.Error().Str("module", "provider.cluster.worker").Err(err).Msg("status report failed")
		}
	}

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go func() {
		interval := cfg.StaleThreshold / 3
		if interval <= 0 {
			interval = 10 * time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				mu.Lock()
				ids := make([]string, 0, len(hosted))
				for id := range hosted {
					ids = append(ids, id)
				}
				mu.Unlock()
				for _, id := range ids {
					if _, err := reg.Heartbeat(hbCtx, id, rooms.StatusRunning); err != nil {
						log.Warn().Str("module", "provider.cluster.worker").Str("room", id).Err(err).Msg("heartbeat failed")
					}
				}
			}
		}
	}()

	readErr := ReadMessages(os.Stdin, func(m Message) {
		switch m.Type {
		case MessageCreateRoom:
			mu.Lock()
			hosted[m.RoomID] = struct{}{}
			mu.Unlock()
			log.Info().Str("module", "provider.cluster.worker").Int("worker", workerID).Str("room", m.RoomID).Msg("room assigned")
			report(m.RoomID, rooms.StatusRunning)
		case MessageDeleteRoom:
			mu.Lock()
			delete(hosted, m.RoomID)
			mu.Unlock()
			log.Info().Str("module", "provider.cluster.worker").Int("worker", workerID).Str("room", m.RoomID).Msg("room dropped")
			report(m.RoomID, rooms.StatusTerminated)
		default:
			log.Debug().Str("module", "provider.cluster.worker").Str("type", string(m.Type)).Msg("unexpected command")
		}
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	return readErr
}
