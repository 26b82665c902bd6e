package ptt

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ControlMessage is a literal payload addressed to a fixed topic.
type ControlMessage struct {
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
}

var (
	StartMessage = ControlMessage{Topic: "/record/start", Payload: "start"}
	StopMessage  = ControlMessage{Topic: "/record/stop", Payload: "stop"}
)

// Published records one successful publish call.
type Published struct {
	Message   ControlMessage `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
}

// ClientIdentity is the session-scoped MQTT client identifier.
type ClientIdentity string

// NewClientIdentity returns prefix followed by 8 random lowercase hex digits.
func NewClientIdentity(prefix string) ClientIdentity {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return ClientIdentity(prefix + hex[:8])
}
