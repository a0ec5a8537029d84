// Package manager is the façade the rest of the system talks to: it picks
// exactly one provider backend at construction and sweeps stale rooms on a
// timer.
package manager

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/config"
	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/provider"
	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/provider/cluster"
	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/provider/docker"
	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/provider/kube"
	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/registry"
	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/rooms"
)

type Manager struct {
	provider provider.RoomProvider
	interval time.Duration
	sweeping atomic.Bool
}

// New builds the one provider named by cfg.Provider. An unrecognized
// selector is a fatal configuration error: construction refuses.
func New(ctx context.Context, cfg *config.Config, reg *registry.Registry) (*Manager, error) {
	kind, err := rooms.ParseProviderKind(cfg.Provider)
	if err != nil {
		return nil, err
	}

	base := provider.Base{Registry: reg, StaleThreshold: cfg.StaleThreshold}
	var p provider.RoomProvider
	switch kind {
	case rooms.ProviderCluster:
		p, err = cluster.New(ctx, base, cfg.WorkerBasePort)
	case rooms.ProviderDocker:
		p, err = docker.New(base, cfg.RoomImage, cfg.RedisAddr)
	case rooms.ProviderKubernetes:
		p, err = kube.New(base, cfg.Namespace, cfg.RoomImage, cfg.RedisAddr)
	}
	if err != nil {
		return nil, fmt.Errorf("build %s provider: %w", kind, err)
	}
	log.Info().Str("module", "manager").Str("provider", string(kind)).Msg("room manager ready")
	return NewWithProvider(p, cfg.CleanupInterval), nil
}

// NewWithProvider wires a prebuilt provider; used by tests.
func NewWithProvider(p provider.RoomProvider, interval time.Duration) *Manager {
	return &Manager{provider: p, interval: interval}
}

// Run drives the periodic cleanup sweep until ctx is cancelled. A tick that
// fires while the previous sweep is still running is skipped, never run
// concurrently; sweep failures are logged and the timer keeps going.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Manager) sweep(ctx context.Context) {
	if !m.sweeping.CompareAndSwap(false, true) {
		log.Warn().Str("module", "manager").Msg("cleanup sweep still running, skipping tick")
		return
	}
	go func() {
		defer m.sweeping.Store(false)
		if err := m.provider.Cleanup(ctx); err != nil {
			log.Error().Str("module", "manager").Err(err).Msg("cleanup sweep failed")
		}
	}()
}

func (m *Manager) CreateRoom(ctx context.Context, opts rooms.Options) (*rooms.RoomInfo, error) {
	if opts.RoomID == "" {
		opts.RoomID = rooms.NewRoomID()
	}
	return m.provider.CreateRoom(ctx, opts)
}

func (m *Manager) DeleteRoom(ctx context.Context, roomID string) error {
	return m.provider.DeleteRoom(ctx, roomID)
}

// GetRoomStatus returns the registry record, or nil when the room does not
// exist.
func (m *Manager) GetRoomStatus(ctx context.Context, roomID string) (*rooms.RoomInfo, error) {
	return m.provider.GetRoomStatus(ctx, roomID)
}

func (m *Manager) ListRooms(ctx context.Context) ([]*rooms.RoomInfo, error) {
	return m.provider.ListRooms(ctx)
}

// Close releases provider resources, e.g. the cluster worker pool.
func (m *Manager) Close() {
	if c, ok := m.provider.(interface{ Close() }); ok {
		c.Close()
	}
}
