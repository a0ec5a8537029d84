// Package cluster runs rooms on a pool of worker processes on one host,
// one worker per CPU core, coordinated purely through message passing.
package cluster

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/rooms"
)

// MessageType enumerates the primary↔worker wire protocol.
type MessageType string

const (
	MessageCreateRoom MessageType = "create_room"
	MessageDeleteRoom MessageType = "delete_room"
	MessageRoomStatus MessageType = "room_status"
)

// Message is one JSON line on a worker's stdin (commands from the primary)
// or stdout (status reports back).
type Message struct {
	Type     MessageType  `json:"type"`
	RoomID   string       `json:"roomId,omitempty"`
	Status   rooms.Status `json:"status,omitempty"`
	WorkerID int          `json:"workerId,omitempty"`
	PID      int          `json:"pid,omitempty"`
}

// WriteMessage appends one message as a JSON line.
func WriteMessage(w io.Writer, m Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode ipc message: %w", err)
	}
	if _, err := w.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("write ipc message: %w", err)
	}
	return nil
}

// ReadMessages decodes JSON lines from r and hands each message to fn until
// EOF. Undecodable lines are logged and skipped so one bad frame cannot
// wedge the channel.
func ReadMessages(r io.Reader, fn func(Message)) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var m Message
		if err := json.Unmarshal(line, &m); err != nil {
			log.Warn().Str("module", "provider.cluster").Err(err).Msg("skipping bad ipc line")
			continue
		}
		fn(m)
	}
	return sc.Err()
}
