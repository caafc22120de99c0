package wsclient

import (
	"encoding/json"
	"time"

	"github.com/bytedance/sonic"
)

// Reserved control frame types. ping/pong never reach message consumers.
const (
	TypePing        = "ping"
	TypePong        = "pong"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
)

// Envelope is the wire frame: {type, data|payload, timestamp?}. Some ARCS
// endpoints populate data, others payload; Body unifies the two.
//
// Timestamp stays raw: the backend stamps frames with ISO-8601 strings
// while clients send epoch millis, and both must decode.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

// Body returns whichever of data/payload the frame carried.
func (e *Envelope) Body() json.RawMessage {
	if e.Data != nil {
		return e.Data
	}
	return e.Payload
}

type outbound struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type topicBody struct {
	Topic string `json:"topic"`
}

func encodeFrame(frameType string, data any) ([]byte, error) {
	return sonic.Marshal(outbound{
		Type:      frameType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}

func decodeFrame(payload []byte) (*Envelope, error) {
	var env Envelope
	if err := sonic.Unmarshal(payload, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
