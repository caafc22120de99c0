package wsclient

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"arclink/pkg/backoff"
	"arclink/pkg/exception"
)

const (
	// DefaultReconnectInterval is the base of the reconnect backoff.
	DefaultReconnectInterval = time.Second
	// DefaultMaxReconnectAttempts bounds automatic redials between manual
	// connects.
	DefaultMaxReconnectAttempts = 10
	// DefaultHeartbeatInterval is the ping cadence on an open socket.
	DefaultHeartbeatInterval = 30 * time.Second
	// DefaultHandshakeTimeout bounds one dial.
	DefaultHandshakeTimeout = 10 * time.Second
)

// Config configures a Client.
type Config struct {
	// Endpoint is the ws(s) URL. Required.
	Endpoint string
	// Dialer overrides the transport. Nil means the gorilla dialer.
	Dialer Dialer

	// DisableReconnect turns automatic redial off. Zero value keeps it on.
	DisableReconnect bool
	// ReconnectInterval is the backoff base. Zero means the default.
	ReconnectInterval time.Duration
	// MaxReconnectAttempts caps automatic redials. Zero means the default.
	MaxReconnectAttempts int
	// HeartbeatInterval is the ping cadence. Zero means the default.
	HeartbeatInterval time.Duration
	// HandshakeTimeout bounds each dial. Zero means the default.
	HandshakeTimeout time.Duration
}

func (cfg Config) withDefaults() Config {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = NewDialer(cfg.HandshakeTimeout, nil)
	}
	return cfg
}

// Client owns one logical connection: a lifecycle state machine over a
// sequence of physical sockets, a topic registry replayed on each reopen,
// a heartbeat, and automatic reconnection with exponential backoff.
//
// All methods are safe for concurrent use. Traffic and lifecycle events
// are delivered through attached Consumers, never through callbacks.
type Client struct {
	cfg     Config
	backoff backoff.Policy

	mu    sync.Mutex
	state State
	conn  Conn
	// gen invalidates pumps and timers from superseded sockets.
	gen            uint64
	reconnectCount int
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}

	writeMu sync.Mutex

	registry *Registry
	bus      broadcaster
}

// New builds a client. It does not dial; call Connect.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "empty endpoint")
	}
	cfg = cfg.withDefaults()
	return &Client{
		cfg:      cfg,
		backoff:  backoff.Policy{Base: cfg.ReconnectInterval, Cap: backoff.DefaultCap},
		registry: NewRegistry(),
	}, nil
}

// State reports the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Attach registers a consumer for all subsequent events.
func (c *Client) Attach(consumer *Consumer) {
	c.bus.attach(consumer)
}

// Detach removes a consumer. It is not closed; queued events stay readable.
func (c *Client) Detach(consumer *Consumer) {
	c.bus.detach(consumer)
}

// Events attaches and returns a fresh consumer.
func (c *Client) Events(capacity int, policy OverflowPolicy) *Consumer {
	consumer := NewConsumer(capacity, policy)
	c.bus.attach(consumer)
	return consumer
}

// Connect arms a dial. A client that is already connected or connecting is
// left alone. A manual connect cancels any pending reconnect timer and
// resets the reconnect budget.
func (c *Client) Connect() error {
	if c == nil {
		return exception.ErrNilClient
	}

	c.mu.Lock()
	c.cancelReconnectLocked()
	c.reconnectCount = 0
	next, ok := transition(c.state, eventDial)
	if !ok {
		c.mu.Unlock()
		return nil
	}
	c.state = next
	gen := c.gen
	c.mu.Unlock()

	go c.dialAndServe(gen)
	return nil
}

// Disconnect tears the connection down with a normal closure and settles
// in disconnected. It cancels pending reconnects and resets the budget, so
// no redial follows.
func (c *Client) Disconnect() {
	if c == nil {
		return
	}

	c.mu.Lock()
	c.cancelReconnectLocked()
	c.reconnectCount = 0
	if c.state == StateDisconnected {
		c.gen++ // a stopped timer may already be waiting on the lock
		c.mu.Unlock()
		return
	}
	if next, ok := transition(c.state, eventStop); ok {
		c.state = next
	}
	c.stopHeartbeatLocked()
	conn := c.conn
	c.conn = nil
	c.gen++ // orphan the pump and any in-flight timer callback
	c.state, _ = transition(c.state, eventClosed)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(exception.CloseNormal, "client disconnect")
	}
	c.bus.publish(Event{Kind: EventClosed, Code: exception.CloseNormal, Reason: "client disconnect"})
}

// Shutdown disconnects and closes every attached consumer.
func (c *Client) Shutdown() {
	c.Disconnect()
	c.bus.closeAll()
}

// Send writes one frame of the given type. Sending while not connected
// fails with ErrNotConnected instead of buffering.
func (c *Client) Send(frameType string, data any) error {
	if c == nil {
		return exception.ErrNilClient
	}

	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if state != StateConnected || conn == nil {
		logs.Warnf("wsclient: dropped %q frame while %s", frameType, state)
		return exception.ErrNotConnected
	}

	payload, err := encodeFrame(frameType, data)
	if err != nil {
		return err
	}
	return c.write(conn, payload)
}

func (c *Client) write(conn Conn, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return conn.WriteMessage(payload)
}

// Subscribe records intent to receive topic and, when connected, tells the
// server immediately. Re-subscribing to a held topic is a no-op success.
func (c *Client) Subscribe(topic string) error {
	if !c.registry.Add(topic) {
		return nil
	}
	if c.State() != StateConnected {
		// replayed on the next open
		return nil
	}
	return c.Send(TypeSubscribe, topicBody{Topic: topic})
}

// Unsubscribe drops the topic from the registry and, when connected, tells
// the server. Removing a topic that is not held is a no-op success.
func (c *Client) Unsubscribe(topic string) error {
	if !c.registry.Remove(topic) {
		return nil
	}
	if c.State() != StateConnected {
		return nil
	}
	return c.Send(TypeUnsubscribe, topicBody{Topic: topic})
}

// Subscriptions returns the held topic set.
func (c *Client) Subscriptions() []string {
	return c.registry.Topics()
}

// dialAndServe performs one dial and, on success, services the socket
// until it closes.
func (c *Client) dialAndServe(gen uint64) {
	ctx, cancelDial := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
	conn, err := c.cfg.Dialer.Dial(ctx, c.cfg.Endpoint)
	cancelDial()
	if err != nil {
		if !c.stale(gen) {
			c.bus.publish(Event{Kind: EventError, Err: err})
		}
		c.handleClose(gen, exception.CloseAbnormal, "dial failed")
		return
	}

	c.mu.Lock()
	if gen != c.gen || c.state != StateConnecting {
		// Disconnect raced the dial; the socket is unwanted.
		c.mu.Unlock()
		_ = conn.Close(exception.CloseNormal, "superseded")
		return
	}
	c.conn = conn
	c.state, _ = transition(c.state, eventOpen)
	c.reconnectCount = 0
	c.startHeartbeatLocked(conn)
	topics := c.registry.Topics()
	c.mu.Unlock()

	for _, topic := range topics {
		if err := c.Send(TypeSubscribe, topicBody{Topic: topic}); err != nil {
			logs.Warnf("wsclient: replay subscribe %q: %v", topic, err)
		}
	}
	c.bus.publish(Event{Kind: EventOpen})

	c.readPump(gen, conn)
}

// readPump decodes frames until the socket fails. Pongs are filtered and
// malformed frames are dropped with a warning; neither reaches consumers.
func (c *Client) readPump(gen uint64, conn Conn) {
	for {
		payload, err := conn.ReadMessage()
		if err != nil {
			code, reason := closeInfo(err)
			if !isCloseFrame(err) && !c.stale(gen) {
				c.bus.publish(Event{Kind: EventError, Err: exception.NewSocketError(err.Error(), code, reason)})
			}
			c.handleClose(gen, code, reason)
			return
		}

		env, err := decodeFrame(payload)
		if err != nil {
			logs.Warnf("wsclient: dropped malformed frame: %v", err)
			continue
		}
		if env.Type == TypePong {
			continue
		}
		c.bus.publish(Event{Kind: EventMessage, Message: env})
	}
}

func (c *Client) stale(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return gen != c.gen
}

// handleClose settles one socket teardown: exactly one Closed event, then
// a reconnect decision. Normal closure (1000) and exhausted budgets never
// redial.
func (c *Client) handleClose(gen uint64, code int, reason string) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.stopHeartbeatLocked()
	c.conn = nil
	c.state, _ = transition(c.state, eventClosed)

	redial := !c.cfg.DisableReconnect && code != exception.CloseNormal
	exhausted := false
	var delay time.Duration
	if redial && c.reconnectCount >= c.cfg.MaxReconnectAttempts {
		redial = false
		exhausted = true
	}
	if redial {
		delay = c.backoff.Delay(c.reconnectCount)
		c.reconnectCount++
		timerGen := c.gen
		c.reconnectTimer = time.AfterFunc(delay, func() { c.redial(timerGen) })
	}
	attempts := c.reconnectCount
	c.mu.Unlock()

	if exhausted {
		logs.Warnf("wsclient: giving up after %d reconnect attempts", attempts)
	} else if redial {
		logs.Infof("wsclient: closed (%d %q), reconnecting in %s (attempt %d/%d)",
			code, reason, delay, attempts, c.cfg.MaxReconnectAttempts)
	}
	c.bus.publish(Event{Kind: EventClosed, Code: code, Reason: reason, Exhausted: exhausted})
}

// redial fires from the reconnect timer. It preserves the reconnect
// budget, unlike a manual Connect.
func (c *Client) redial(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		// Disconnect or a manual Connect superseded this timer.
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	next, ok := transition(c.state, eventDial)
	if !ok {
		c.mu.Unlock()
		return
	}
	c.state = next
	c.mu.Unlock()

	go c.dialAndServe(gen)
}

func (c *Client) cancelReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// startHeartbeatLocked pings on a fixed cadence. Write failures are left
// to the read pump, which observes the broken socket first-hand.
func (c *Client) startHeartbeatLocked(conn Conn) {
	stop := make(chan struct{})
	c.heartbeatStop = stop

	go func() {
		ticker := time.NewTicker(c.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				payload, err := encodeFrame(TypePing, nil)
				if err != nil {
					continue
				}
				if err := c.write(conn, payload); err != nil {
					// the read pump observes the broken socket and closes
					logs.Warnf("wsclient: heartbeat write: %v", err)
				}
			}
		}
	}()
}

func (c *Client) stopHeartbeatLocked() {
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
}
