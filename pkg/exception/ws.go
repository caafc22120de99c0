package exception

import (
	"fmt"

	"github.com/yanun0323/errors"
)

var (
	ErrNotConnected   = errors.New("wsclient: not connected")
	ErrAlreadyRunning = errors.New("wsclient: already connected")
	ErrQueueClosed    = errors.New("wsclient: event queue closed")
)

const (
	// CloseNormal is the normal closure code; it never triggers reconnection.
	CloseNormal = 1000
	// CloseGoingAway signals the peer is going down.
	CloseGoingAway = 1001
	// CloseAbnormal is reported when the connection dropped without a
	// close frame.
	CloseAbnormal = 1006
)

// SocketError carries the close code and reason from an abnormal socket
// closure.
type SocketError struct {
	Message string
	Code    int
	Reason  string
}

func NewSocketError(message string, code int, reason string) *SocketError {
	return &SocketError{Message: message, Code: code, Reason: reason}
}

func (e *SocketError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("websocket error %d: %s", e.Code, e.Message)
	}
	return "websocket error: " + e.Message
}

func (e *SocketError) IsNormalClosure() bool {
	return e.Code == CloseNormal
}

func (e *SocketError) IsGoingAway() bool {
	return e.Code == CloseGoingAway
}
