package session

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/rooms"
	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/sysmetrics"
)

var (
	ErrServerFull   = errors.New("connection limit reached")
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room is full")
	ErrNoFreeCode   = errors.New("no free room code")
)

const codeAttempts = 10

// sender is the transport half of a connection as the hub sees it. The
// adapter owns the underlying socket and must close it; the hub only
// pushes frames.
type sender interface {
	SocketID() string
	TrySend(data []byte) error
}

// participant is one joined member of a quiz room. The exported fields are
// exactly the user-joined payload.
type participant struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Answers []Answer `json:"answers"`

	conn sender
}

// quizRoom is protocol-level state, alive only inside this process. The
// host is the presenter connection that claimed the name; it receives
// every broadcast but does not count against the participant cap.
type quizRoom struct {
	name         string
	host         sender
	participants map[string]*participant
}

func (r *quizRoom) everyone() []sender {
	out := make([]sender, 0, len(r.participants)+1)
	if r.host != nil {
		out = append(out, r.host)
	}
	for _, p := range r.participants {
		out = append(out, p.conn)
	}
	return out
}

// Hub owns every protocol room and the shared connection counters of one
// session server process. All handlers funnel through its mutex; the
// counters must never be touched without it.
type Hub struct {
	maxConns    int
	maxRoomSize int

	mu        sync.RWMutex
	connCount int
	rooms     map[string]*quizRoom

	samplerMu sync.Mutex
	sampler   sysmetrics.Sampler

	metrics   *Metrics
	startedAt time.Time
}

func NewHub(maxConns, maxRoomSize int, metrics *Metrics) *Hub {
	return &Hub{
		maxConns:    maxConns,
		maxRoomSize: maxRoomSize,
		rooms:       make(map[string]*quizRoom),
		metrics:     metrics,
		startedAt:   time.Now(),
	}
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.connCount
}

func (h *Hub) Uptime() time.Duration {
	return time.Since(h.startedAt)
}

// Connect reserves a connection slot. The caller must notify and drop the
// socket itself when ErrServerFull comes back; that rejection is counted
// for capacity monitoring.
func (h *Hub) Connect() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.connCount >= h.maxConns {
		h.metrics.LimitRejections.Inc()
		log.Warn().Str("module", "session.hub").Int("limit", h.maxConns).Msg("connection limit reached")
		return ErrServerFull
	}
	h.connCount++
	h.metrics.Connections.Inc()
	return nil
}

// Disconnect releases the slot and tells every room the connection belonged
// to that it is gone. Rooms left with nobody in them are dropped.
func (h *Hub) Disconnect(c sender) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connCount--
	h.metrics.Connections.Dec()

	note, _ := json.Marshal(userDisconnectedMsg{Type: EvUserDisconnected, SocketID: c.SocketID()})
	for name, room := range h.rooms {
		hosted := room.host != nil && room.host.SocketID() == c.SocketID()
		_, joined := room.participants[c.SocketID()]
		if !hosted && !joined {
			continue
		}
		if hosted {
			room.host = nil
		}
		delete(room.participants, c.SocketID())
		for _, peer := range room.everyone() {
			_ = peer.TrySend(note)
		}
		if room.host == nil && len(room.participants) == 0 {
			delete(h.rooms, name)
			log.Info().Str("module", "session.hub").Str("room", name).Msg("room emptied")
		}
	}
}

// CreateRoom claims the requested name uppercased, or generates a 6-digit
// code when no name is given or the name is taken. The final name is
// returned for the create-success reply.
func (h *Hub) CreateRoom(c sender, requested string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	name := strings.ToUpper(strings.TrimSpace(requested))
	if name != "" {
		if _, taken := h.rooms[name]; taken {
			name = ""
		}
	}
	if name == "" {
		for i := 0; i < codeAttempts; i++ {
			code := rooms.NewRoomCode()
			if _, taken := h.rooms[code]; !taken {
				name = code
				break
			}
		}
		if name == "" {
			return "", ErrNoFreeCode
		}
	}

	h.rooms[name] = &quizRoom{
		name:         name,
		host:         c,
		participants: make(map[string]*participant),
	}
	log.Info().Str("module", "session.hub").Str("room", name).Str("sid", c.SocketID()).Msg("room created")
	return name, nil
}

// Join adds a connection to a room as a participant. Existing members are
// told about the joiner before it appears in the membership set, so the
// joiner never receives its own user-joined event.
func (h *Hub) Join(c sender, roomName, username string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[roomName]
	if !ok {
		return ErrRoomNotFound
	}
	if len(room.participants) >= h.maxRoomSize {
		h.metrics.FullRejections.Inc()
		return ErrRoomFull
	}

	p := &participant{ID: c.SocketID(), Name: username, Answers: []Answer{}, conn: c}
	note, _ := json.Marshal(userJoinedMsg{Type: EvUserJoined, ID: p.ID, Name: p.Name, Answers: p.Answers})
	for _, peer := range room.everyone() {
		_ = peer.TrySend(note)
	}
	room.participants[p.ID] = p
	log.Info().Str("module", "session.hub").Str("room", roomName).Str("sid", p.ID).Str("user", username).Msg("participant joined")
	return nil
}

// BroadcastQuestion relays a sanitized question payload to everyone in the
// room except the sender.
func (h *Hub) BroadcastQuestion(from sender, roomName string, question json.RawMessage) {
	data, _ := json.Marshal(questionMsg{Type: EvNextQuestion, Question: question})
	h.broadcastExcept(from, roomName, data)
}

// LaunchStudentMode relays the full sanitized question set at once for
// self-paced participants.
func (h *Hub) LaunchStudentMode(from sender, roomName string, questions json.RawMessage) {
	data, _ := json.Marshal(questionsMsg{Type: EvLaunchStudentMode, Questions: questions})
	h.broadcastExcept(from, roomName, data)
}

// SubmitAnswer records the submission on the sender's participant entry and
// relays it, tagged with the sender's connection id, to the rest of the
// room. Correctness evaluation happens presenter-side.
func (h *Hub) SubmitAnswer(from sender, roomName, username string, answer, idQuestion json.RawMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[roomName]
	if !ok {
		return
	}
	if p, joined := room.participants[from.SocketID()]; joined {
		p.Answers = append(p.Answers, Answer{IDQuestion: idQuestion, Answer: answer})
	}
	data, _ := json.Marshal(answerRoomMsg{
		Type:       EvSubmitAnswerRoom,
		IDUser:     from.SocketID(),
		Username:   username,
		Answer:     answer,
		IDQuestion: idQuestion,
	})
	// Deliver under the lock: once Disconnect removes a peer its socket may
	// close, so a snapshot delivered after unlocking could hit a dead
	// connection. TrySend never blocks, delivery here is cheap.
	for _, peer := range room.everyone() {
		if peer.SocketID() == from.SocketID() {
			continue
		}
		_ = peer.TrySend(data)
	}
}

// EndQuiz announces termination to the room. Clients are not force
// disconnected; they leave on their own.
func (h *Hub) EndQuiz(from sender, roomName string) {
	data, _ := json.Marshal(typeOnlyMsg{Type: EvEndQuiz})
	h.broadcastExcept(from, roomName, data)
}

// Usage samples the process's resource usage. The sampler carries its
// previous CPU reading, so calls are serialized.
func (h *Hub) Usage() sysmetrics.Usage {
	h.samplerMu.Lock()
	defer h.samplerMu.Unlock()
	return h.sampler.Sample()
}

// broadcastExcept delivers while holding the lock so membership cannot
// change mid-broadcast; a removed peer's socket is free to close the moment
// Disconnect returns.
func (h *Hub) broadcastExcept(from sender, roomName string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room, ok := h.rooms[roomName]
	if !ok {
		log.Debug().Str("module", "session.hub").Str("room", roomName).Msg("broadcast to unknown room dropped")
		return
	}
	for _, peer := range room.everyone() {
		if peer.SocketID() == from.SocketID() {
			continue
		}
		_ = peer.TrySend(data)
	}
}
