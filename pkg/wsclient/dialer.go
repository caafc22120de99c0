package wsclient

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"arclink/pkg/exception"
)

// Conn is one physical socket.
type Conn interface {
	// ReadMessage blocks until the next text frame or a read failure.
	ReadMessage() ([]byte, error)
	// WriteMessage writes one text frame. Not safe for concurrent use.
	WriteMessage(payload []byte) error
	// Close sends a close frame with code/reason and tears the socket down.
	Close(code int, reason string) error
}

// Dialer opens physical sockets. Injected so tests can fail dials on
// demand.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

type gorillaDialer struct {
	handshakeTimeout time.Duration
	header           http.Header
}

// NewDialer returns the production gorilla-backed dialer.
func NewDialer(handshakeTimeout time.Duration, header http.Header) Dialer {
	return &gorillaDialer{handshakeTimeout: handshakeTimeout, header: header}
}

func (d *gorillaDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, endpoint, d.header)
	if err != nil {
		if resp != nil {
			return nil, exception.NewSocketError("handshake rejected: "+resp.Status, 0, "")
		}
		return nil, exception.NewSocketError(err.Error(), 0, "")
	}
	return &gorillaConn{conn: conn}, nil
}

type gorillaConn struct {
	conn *websocket.Conn
}

func (c *gorillaConn) ReadMessage() ([]byte, error) {
	_, payload, err := c.conn.ReadMessage()
	return payload, err
}

func (c *gorillaConn) WriteMessage(payload []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *gorillaConn) Close(code int, reason string) error {
	frame := websocket.FormatCloseMessage(code, reason)
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage, frame, deadline)
	return c.conn.Close()
}

// closeInfo extracts the close code and reason from a read failure. A drop
// without a close frame reports 1006.
func closeInfo(err error) (int, string) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code, closeErr.Text
	}
	return exception.CloseAbnormal, ""
}

func isCloseFrame(err error) bool {
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr)
}

// EndpointURL derives the socket endpoint from an HTTP origin, upgrading
// the scheme (http -> ws, https -> wss) and appending path.
func EndpointURL(origin, path string) (string, error) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", exception.NewSocketError("invalid origin: "+err.Error(), 0, "")
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", exception.NewSocketError("unsupported scheme "+parsed.Scheme, 0, "")
	}
	parsed.Path = strings.TrimSuffix(parsed.Path, "/") + path
	return parsed.String(), nil
}
