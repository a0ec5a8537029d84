package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient is the transport endpoint for one participant connection. It
// implements sender; the controller owns the socket and closes it. The
// closed flag keeps TrySend safe no matter how a teardown interleaves with
// a broadcast.
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func (c *wsClient) SocketID() string { return c.id }

func (c *wsClient) TrySend(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *wsClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// Controller upgrades sockets and dispatches protocol events onto the hub.
type Controller struct {
	Hub *Hub
}

func (ctl *Controller) HandleWS(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Str("module", "session.ws").Err(err).Msg("upgrade failed")
		return
	}

	client := &wsClient{
		id:   uuid.NewString(),
		conn: ws,
		send: make(chan []byte, 64),
	}

	if err := ctl.Hub.Connect(); err != nil {
		// Tell the client why before dropping it.
		reject, _ := json.Marshal(typeOnlyMsg{Type: EvConnectionLimit})
		_ = ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
		_ = ws.WriteMessage(websocket.TextMessage, reject)
		_ = ws.Close()
		return
	}
	log.Info().Str("module", "session.ws").Str("sid", client.id).Msg("new connection")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, client)
	go ctl.readPump(ctx, cancel, client)
}

func (ctl *Controller) writePump(ctx context.Context, c *wsClient) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, c *wsClient) {
	defer func() {
		ctl.Hub.Disconnect(c)
		cancel()
		c.Close()
		log.Info().Str("module", "session.ws").Str("sid", c.id).Msg("connection closed")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				return
			}
			ctl.dispatch(c, data)
		}
	}
}

func (ctl *Controller) dispatch(c *wsClient, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Str("module", "session.ws").Str("sid", c.id).Err(err).Msg("bad json frame")
		return
	}

	switch env.Type {
	case EvCreateRoom:
		ctl.handleCreateRoom(c, data)
	case EvJoinRoom:
		ctl.handleJoinRoom(c, data)
	case EvNextQuestion:
		ctl.handleNextQuestion(c, data)
	case EvLaunchStudentMode:
		ctl.handleLaunchStudentMode(c, data)
	case EvSubmitAnswer:
		ctl.handleSubmitAnswer(c, data)
	case EvEndQuiz:
		ctl.handleEndQuiz(c, data)
	case EvGetUsage:
		ctl.handleGetUsage(c)
	default:
		log.Debug().Str("module", "session.ws").Str("type", env.Type).Msg("unknown event")
	}
}

func (ctl *Controller) sendJSON(c *wsClient, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Str("module", "session.ws").Err(err).Msg("marshal reply")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *Controller) handleCreateRoom(c *wsClient, data []byte) {
	var p struct {
		RoomName string `json:"roomName"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendJSON(c, typeOnlyMsg{Type: EvCreateFailure})
		return
	}
	name, err := ctl.Hub.CreateRoom(c, p.RoomName)
	if err != nil {
		ctl.sendJSON(c, typeOnlyMsg{Type: EvCreateFailure})
		return
	}
	ctl.sendJSON(c, createSuccessMsg{Type: EvCreateSuccess, RoomName: name})
}

func (ctl *Controller) handleJoinRoom(c *wsClient, data []byte) {
	var p struct {
		EnteredRoomName string `json:"enteredRoomName"`
		Username        string `json:"username"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendJSON(c, joinFailureMsg{Type: EvJoinFailure, Reason: "invalid payload"})
		return
	}
	if err := ctl.Hub.Join(c, p.EnteredRoomName, p.Username); err != nil {
		ctl.sendJSON(c, joinFailureMsg{Type: EvJoinFailure, Reason: err.Error()})
		return
	}
	ctl.sendJSON(c, typeOnlyMsg{Type: EvJoinSuccess})
}

func (ctl *Controller) handleNextQuestion(c *wsClient, data []byte) {
	var p struct {
		RoomName string          `json:"roomName"`
		Question json.RawMessage `json:"question"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	ctl.Hub.BroadcastQuestion(c, p.RoomName, p.Question)
}

func (ctl *Controller) handleLaunchStudentMode(c *wsClient, data []byte) {
	var p struct {
		RoomName  string          `json:"roomName"`
		Questions json.RawMessage `json:"questions"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	ctl.Hub.LaunchStudentMode(c, p.RoomName, p.Questions)
}

func (ctl *Controller) handleSubmitAnswer(c *wsClient, data []byte) {
	var p struct {
		RoomName   string          `json:"roomName"`
		Username   string          `json:"username"`
		Answer     json.RawMessage `json:"answer"`
		IDQuestion json.RawMessage `json:"idQuestion"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	ctl.Hub.SubmitAnswer(c, p.RoomName, p.Username, p.Answer, p.IDQuestion)
}

func (ctl *Controller) handleEndQuiz(c *wsClient, data []byte) {
	var p struct {
		RoomName string `json:"roomName"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	ctl.Hub.EndQuiz(c, p.RoomName)
}

func (ctl *Controller) handleGetUsage(c *wsClient) {
	u := ctl.Hub.Usage()
	ctl.sendJSON(c, usageDataMsg{
		Type:                 EvUsageData,
		MemoryUsedMB:         u.MemoryUsedMB,
		MemoryUsedPercentage: u.MemoryUsedPercentage,
		CPUUsedPercentage:    u.CPUUsedPercentage,
	})
}
