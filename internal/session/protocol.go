// Package session implements the live quiz protocol served by one room
// server process: join/launch/broadcast/answer/end under hard capacity
// limits, plus the liveness and resource-usage surfaces.
package session

import "encoding/json"

// Client → server event names.
const (
	EvCreateRoom        = "create-room"
	EvJoinRoom          = "join-room"
	EvNextQuestion      = "next-question"
	EvLaunchStudentMode = "launch-student-mode"
	EvSubmitAnswer      = "submit-answer"
	EvEndQuiz           = "end-quiz"
	EvGetUsage          = "get-usage"
)

// Server → client event names.
const (
	EvCreateSuccess    = "create-success"
	EvCreateFailure    = "create-failure"
	EvJoinSuccess      = "join-success"
	EvJoinFailure      = "join-failure"
	EvUserJoined       = "user-joined"
	EvSubmitAnswerRoom = "submit-answer-room"
	EvUserDisconnected = "user-disconnected"
	EvUsageData        = "usage-data"
	EvConnectionLimit  = "connection-limit-reached"
)

// Answer is one recorded submission on a participant. Payload fields are
// relayed verbatim; the server never inspects correctness.
type Answer struct {
	IDQuestion json.RawMessage `json:"idQuestion"`
	Answer     json.RawMessage `json:"answer"`
}

type createSuccessMsg struct {
	Type     string `json:"type"`
	RoomName string `json:"roomName"`
}

type joinFailureMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type userJoinedMsg struct {
	Type    string   `json:"type"`
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Answers []Answer `json:"answers"`
}

type questionMsg struct {
	Type     string          `json:"type"`
	Question json.RawMessage `json:"question"`
}

type questionsMsg struct {
	Type      string          `json:"type"`
	Questions json.RawMessage `json:"questions"`
}

type answerRoomMsg struct {
	Type       string          `json:"type"`
	IDUser     string          `json:"idUser"`
	Username   string          `json:"username"`
	Answer     json.RawMessage `json:"answer"`
	IDQuestion json.RawMessage `json:"idQuestion"`
}

type userDisconnectedMsg struct {
	Type     string `json:"type"`
	SocketID string `json:"socketId"`
}

type usageDataMsg struct {
	Type                 string  `json:"type"`
	MemoryUsedMB         float64 `json:"memoryUsedMB"`
	MemoryUsedPercentage float64 `json:"memoryUsedPercentage"`
	CPUUsedPercentage    float64 `json:"cpuUsedPercentage"`
}

type typeOnlyMsg struct {
	Type string `json:"type"`
}
