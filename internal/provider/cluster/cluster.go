package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/provider"
	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/rooms"
)

var ErrNoWorkers = errors.New("no workers available")

type worker struct {
	id    int
	pid   int
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// Provider forks one worker process per CPU core and assigns rooms to the
// least-loaded one. The load map is a soft in-process hint, rebuilt from a
// registry scan at startup and never authoritative; the registry record is
// what decides which worker owns a room.
type Provider struct {
	provider.Base

	execPath    string
	basePort    int
	workerCount int

	mu      sync.Mutex
	workers map[int]*worker
	loads   map[int]int
	closed  bool
}

func New(ctx context.Context, base provider.Base, basePort int) (*Provider, error) {
	execPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	p := &Provider{
		Base:        base,
		execPath:    execPath,
		basePort:    basePort,
		workerCount: runtime.NumCPU(),
		workers:     make(map[int]*worker),
		loads:       make(map[int]int),
	}
	p.rebuildLoads(ctx)
	for i := 0; i < p.workerCount; i++ {
		if err := p.spawn(i); err != nil {
			p.Close()
			return nil, err
		}
	}
	log.Info().Str("module", "provider.cluster").Int("workers", p.workerCount).Msg("worker pool started")
	return p, nil
}

// rebuildLoads seeds the load hints from the registry instead of trusting
// an empty map after a primary restart.
func (p *Provider) rebuildLoads(ctx context.Context) {
	list, err := p.Registry.ListRooms(ctx)
	if err != nil {
		log.Warn().Str("module", "provider.cluster").Err(err).Msg("load hint rebuild failed")
		return
	}
	for _, info := range list {
		if info.Provider == rooms.ProviderCluster && info.WorkerID != nil {
			p.loads[*info.WorkerID]++
		}
	}
}

func (p *Provider) spawn(id int) error {
	cmd := exec.Command(p.execPath,
		"--worker",
		"--worker-id", strconv.Itoa(id),
		"--worker-port", strconv.Itoa(p.basePort+id),
	)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("worker %d stdin: %w", id, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("worker %d stdout: %w", id, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start worker %d: %w", id, err)
	}

	w := &worker{id: id, pid: cmd.Process.Pid, cmd: cmd, stdin: stdin}
	p.mu.Lock()
	p.workers[id] = w
	p.mu.Unlock()
	log.Info().Str("module", "provider.cluster").Int("worker", id).Int("pid", w.pid).Msg("worker started")

	go func() {
		_ = ReadMessages(stdout, p.onWorkerMessage)
	}()
	go p.reapAndRestart(w)
	return nil
}

// reapAndRestart keeps the pool at full size: a worker that exits while the
// provider is alive is replaced immediately. Rooms the dead worker owned
// are left stale in the registry for the cleanup sweep; they are not
// re-homed onto the replacement.
func (p *Provider) reapAndRestart(w *worker) {
	err := w.cmd.Wait()

	p.mu.Lock()
	closed := p.closed
	if p.workers[w.id] == w {
		delete(p.workers, w.id)
	}
	p.mu.Unlock()
	if closed {
		return
	}

	log.Warn().Str("module", "provider.cluster").Int("worker", w.id).Err(err).Msg("worker exited, restarting")
	if err := p.spawn(w.id); err != nil {
		log.Error().Str("module", "provider.cluster").Int("worker", w.id).Err(err).Msg("worker restart failed")
	}
}

func (p *Provider) onWorkerMessage(m Message) {
	if m.Type != MessageRoomStatus {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now()
	wid := m.WorkerID
	status := m.Status
	ok, err := p.UpdateRoomInfo(ctx, m.RoomID, rooms.Patch{
		Status:     &status,
		WorkerID:   &wid,
		LastUpdate: &now,
	})
	if err != nil {
		log.Error().Str("module", "provider.cluster").Str("room", m.RoomID).Err(err).Msg("status update failed")
		return
	}
	if !ok {
		// The record is gone; a delete raced the worker's report.
		log.Debug().Str("module", "provider.cluster").Str("room", m.RoomID).Msg("status for unknown room dropped")
	}
}

func (p *Provider) CreateRoom(ctx context.Context, opts rooms.Options) (*rooms.RoomInfo, error) {
	if opts.RoomID == "" {
		opts.RoomID = rooms.NewRoomID()
	}

	p.mu.Lock()
	var target *worker
	best := -1
	for id, w := range p.workers {
		if target == nil || p.loads[id] < best {
			target = w
			best = p.loads[id]
		}
	}
	if target == nil {
		p.mu.Unlock()
		return nil, ErrNoWorkers
	}
	p.loads[target.id]++
	p.mu.Unlock()

	// The record goes in before the worker hears about the room: a room a
	// worker hosts without a record would never heartbeat and never be
	// reclaimed.
	wid, pid := target.id, target.pid
	info := &rooms.RoomInfo{
		RoomID:    opts.RoomID,
		Status:    rooms.StatusCreating,
		Provider:  rooms.ProviderCluster,
		CreatedAt: time.Now(),
		WorkerID:  &wid,
		PID:       &pid,
	}
	if err := p.Registry.PutRoomInfo(ctx, info); err != nil {
		p.releaseLoad(wid)
		return nil, err
	}

	p.mu.Lock()
	w := p.workers[wid]
	var sendErr error
	if w == nil {
		sendErr = ErrNoWorkers
	} else {
		sendErr = WriteMessage(w.stdin, Message{Type: MessageCreateRoom, RoomID: opts.RoomID})
	}
	p.mu.Unlock()
	if sendErr != nil {
		if err := p.Registry.DeleteRoom(ctx, opts.RoomID); err != nil {
			log.Warn().Str("module", "provider.cluster").Str("room", opts.RoomID).Err(err).Msg("orphan record cleanup failed")
		}
		p.releaseLoad(wid)
		return nil, fmt.Errorf("assign room %s to worker %d: %w", opts.RoomID, wid, sendErr)
	}

	log.Info().Str("module", "provider.cluster").Str("room", info.RoomID).Int("worker", wid).Msg("room created")
	return info, nil
}

func (p *Provider) releaseLoad(workerID int) {
	p.mu.Lock()
	if p.loads[workerID] > 0 {
		p.loads[workerID]--
	}
	p.mu.Unlock()
}

// DeleteRoom tells the owning worker to drop the room and removes the
// registry record whether or not the worker acknowledged.
func (p *Provider) DeleteRoom(ctx context.Context, roomID string) error {
	info, err := p.GetRoomInfo(ctx, roomID)
	if err != nil {
		return err
	}
	if info == nil {
		return nil
	}
	if info.WorkerID != nil {
		p.mu.Lock()
		if w := p.workers[*info.WorkerID]; w != nil {
			if err := WriteMessage(w.stdin, Message{Type: MessageDeleteRoom, RoomID: roomID}); err != nil {
				log.Warn().Str("module", "provider.cluster").Str("room", roomID).Err(err).Msg("delete message failed")
			}
		}
		if p.loads[*info.WorkerID] > 0 {
			p.loads[*info.WorkerID]--
		}
		p.mu.Unlock()
	}
	return p.Registry.DeleteRoom(ctx, roomID)
}

func (p *Provider) GetRoomStatus(ctx context.Context, roomID string) (*rooms.RoomInfo, error) {
	return p.GetRoomInfo(ctx, roomID)
}

func (p *Provider) ListRooms(ctx context.Context) ([]*rooms.RoomInfo, error) {
	return p.Registry.ListRooms(ctx)
}

func (p *Provider) Cleanup(ctx context.Context) error {
	return p.ReapStale(ctx, p.DeleteRoom)
}

// Close stops every worker. Registry records are left alone; another
// primary may still own them.
func (p *Provider) Close() {
	p.mu.Lock()
	p.closed = true
	workers := make([]*worker, 0, len(p.workers))
	for _, w := range p.workers {
		workers = append(workers, w)
	}
	p.mu.Unlock()

	for _, w := range workers {
		_ = w.stdin.Close()
		if w.cmd.Process != nil {
			_ = w.cmd.Process.Signal(syscall.SIGTERM)
		}
	}
}
