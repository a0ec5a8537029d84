package session

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/registry"
	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/rooms"
)

// Heartbeater keeps one room's registry record fresh while its session
// server lives. Without it the cleanup sweep reclaims the room as stale.
type Heartbeater struct {
	Registry *registry.Registry
	RoomID   string
	Interval time.Duration
}

// Run blocks until ctx is cancelled. A nil registry or empty room id means
// the server runs standalone and nothing is heartbeaten.
func (h *Heartbeater) Run(ctx context.Context) {
	if h.Registry == nil || h.RoomID == "" {
		return
	}
	interval := h.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := h.Registry.Heartbeat(ctx, h.RoomID, rooms.StatusRunning)
			if err != nil {
				log.Warn().Str("module", "session.heartbeat").Str("room", h.RoomID).Err(err).Msg("heartbeat failed")
				continue
			}
			if !ok {
				log.Warn().Str("module", "session.heartbeat").Str("room", h.RoomID).Msg("registry record missing")
			}
		}
	}
}
