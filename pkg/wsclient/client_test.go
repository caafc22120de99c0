package wsclient

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arclink/pkg/exception"
)

type fakeConn struct {
	incoming chan []byte
	outgoing chan []byte

	closeOnce sync.Once
	closedCh  chan struct{}

	mu        sync.Mutex
	readErr   error
	closeCode int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan []byte, 16),
		outgoing: make(chan []byte, 16),
		closedCh: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case payload := <-c.incoming:
		return payload, nil
	case <-c.closedCh:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.readErr != nil {
			return nil, c.readErr
		}
		return nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteMessage(payload []byte) error {
	select {
	case c.outgoing <- payload:
		return nil
	case <-c.closedCh:
		return net.ErrClosed
	}
}

func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	c.closeCode = code
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.closedCh) })
	return nil
}

// serverClose terminates as the peer with a proper close frame.
func (c *fakeConn) serverClose(code int, reason string) {
	c.mu.Lock()
	c.readErr = &websocket.CloseError{Code: code, Text: reason}
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.closedCh) })
}

// serverDrop severs the link without a close frame.
func (c *fakeConn) serverDrop() {
	c.closeOnce.Do(func() { close(c.closedCh) })
}

type fakeDialer struct {
	mu        sync.Mutex
	failAll   bool
	dials     int
	dialTimes []time.Time
	ready     chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{ready: make(chan *fakeConn, 8)}
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	d.mu.Lock()
	d.dials++
	d.dialTimes = append(d.dialTimes, time.Now())
	fail := d.failAll
	d.mu.Unlock()

	if fail {
		return nil, exception.NewSocketError("connection refused", 0, "")
	}
	conn := newFakeConn()
	d.ready <- conn
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) times() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]time.Time, len(d.dialTimes))
	copy(out, d.dialTimes)
	return out
}

func (d *fakeDialer) waitConn(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case conn := <-d.ready:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

func newTestClient(t *testing.T, dialer Dialer, mutate func(*Config)) (*Client, *Consumer) {
	t.Helper()
	cfg := Config{
		Endpoint:          "ws://robot.local/ws",
		Dialer:            dialer,
		ReconnectInterval: time.Millisecond,
		HeartbeatInterval: time.Hour, // quiet unless a test wants pings
	}
	if mutate != nil {
		mutate(&cfg)
	}
	client, err := New(cfg)
	require.NoError(t, err)
	consumer := client.Events(0, OverflowDropOldest)
	t.Cleanup(client.Shutdown)
	return client, consumer
}

func nextEvent(t *testing.T, c *Consumer) Event {
	t.Helper()
	type result struct {
		ev  Event
		err error
	}
	ch := make(chan result, 1)
	go func() {
		ev, err := c.Next()
		ch <- result{ev, err}
	}()
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

// waitKind discards events until one of the wanted kind arrives.
func waitKind(t *testing.T, c *Consumer, kind EventKind) Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ev := nextEvent(t, c)
		if ev.Kind == kind {
			return ev
		}
	}
	t.Fatalf("no %s event before deadline", kind)
	return Event{}
}

func readFrame(t *testing.T, conn *fakeConn) map[string]any {
	t.Helper()
	select {
	case payload := <-conn.outgoing:
		var frame map[string]any
		require.NoError(t, sonic.Unmarshal(payload, &frame))
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client frame")
		return nil
	}
}

func TestTransitionReducer(t *testing.T) {
	cases := []struct {
		from  State
		ev    stateEvent
		to    State
		legal bool
	}{
		{StateDisconnected, eventDial, StateConnecting, true},
		{StateConnecting, eventOpen, StateConnected, true},
		{StateConnecting, eventClosed, StateDisconnected, true},
		{StateConnected, eventClosed, StateDisconnected, true},
		{StateConnected, eventStop, StateDisconnecting, true},
		{StateDisconnecting, eventClosed, StateDisconnected, true},
		{StateConnected, eventDial, StateConnected, false},
		{StateConnecting, eventDial, StateConnecting, false},
		{StateDisconnected, eventOpen, StateDisconnected, false},
		{StateDisconnected, eventStop, StateDisconnected, false},
		{StateDisconnecting, eventOpen, StateDisconnecting, false},
	}
	for _, tc := range cases {
		next, ok := transition(tc.from, tc.ev)
		assert.Equal(t, tc.to, next, "%s + %d", tc.from, tc.ev)
		assert.Equal(t, tc.legal, ok, "%s + %d", tc.from, tc.ev)
	}
}

func TestConnectAndDisconnect(t *testing.T) {
	dialer := newFakeDialer()
	client, consumer := newTestClient(t, dialer, nil)

	require.NoError(t, client.Connect())
	conn := dialer.waitConn(t)
	ev := waitKind(t, consumer, EventOpen)
	assert.Equal(t, EventOpen, ev.Kind)
	assert.Equal(t, StateConnected, client.State())

	// connect while connected is a no-op
	require.NoError(t, client.Connect())
	assert.Equal(t, 1, dialer.dialCount())

	client.Disconnect()
	closed := waitKind(t, consumer, EventClosed)
	assert.Equal(t, exception.CloseNormal, closed.Code)
	assert.False(t, closed.Exhausted)
	assert.Equal(t, StateDisconnected, client.State())

	conn.mu.Lock()
	assert.Equal(t, exception.CloseNormal, conn.closeCode)
	conn.mu.Unlock()

	// normal closure must not redial
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount())
}

func TestSendWhileDisconnected(t *testing.T) {
	dialer := newFakeDialer()
	client, _ := newTestClient(t, dialer, nil)

	err := client.Send("command", map[string]string{"op": "home"})
	assert.ErrorIs(t, err, exception.ErrNotConnected)
	assert.Zero(t, dialer.dialCount())
}

func TestSendFrameShape(t *testing.T) {
	dialer := newFakeDialer()
	client, consumer := newTestClient(t, dialer, nil)

	require.NoError(t, client.Connect())
	conn := dialer.waitConn(t)
	waitKind(t, consumer, EventOpen)

	require.NoError(t, client.Send("command", map[string]string{"op": "home"}))
	frame := readFrame(t, conn)
	assert.Equal(t, "command", frame["type"])
	assert.NotZero(t, frame["timestamp"])
	data, ok := frame["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "home", data["op"])
}

func TestMessageDeliveryFiltersPongAndMalformed(t *testing.T) {
	dialer := newFakeDialer()
	client, consumer := newTestClient(t, dialer, nil)

	require.NoError(t, client.Connect())
	conn := dialer.waitConn(t)
	waitKind(t, consumer, EventOpen)

	conn.incoming <- []byte(`{"type":"pong","timestamp":1}`)
	conn.incoming <- []byte(`{not json`)
	conn.incoming <- []byte(`{"type":"joint_state","data":{"positions":[0.5,1.0]}}`)

	ev := waitKind(t, consumer, EventMessage)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "joint_state", ev.Message.Type)
	assert.JSONEq(t, `{"positions":[0.5,1.0]}`, string(ev.Message.Body()))
}

func TestDecodeFrameTimestampFormats(t *testing.T) {
	// the backend stamps frames with ISO-8601 strings, clients with millis
	env, err := decodeFrame([]byte(`{"type":"joint_state","data":{"positions":[0.5]},"timestamp":"2026-08-25T12:00:00.000000"}`))
	require.NoError(t, err)
	assert.Equal(t, "joint_state", env.Type)
	assert.Equal(t, `"2026-08-25T12:00:00.000000"`, string(env.Timestamp))

	env, err = decodeFrame([]byte(`{"type":"joint_state","data":{},"timestamp":1756123200000}`))
	require.NoError(t, err)
	assert.Equal(t, "1756123200000", string(env.Timestamp))
}

func TestServerStampedFramesDelivered(t *testing.T) {
	dialer := newFakeDialer()
	client, consumer := newTestClient(t, dialer, nil)

	require.NoError(t, client.Connect())
	conn := dialer.waitConn(t)
	waitKind(t, consumer, EventOpen)

	// pong replies carry the string stamp too and stay filtered
	conn.incoming <- []byte(`{"type":"pong","timestamp":"2026-08-25T12:00:00.000000"}`)
	conn.incoming <- []byte(`{"type":"training_metrics","data":{"loss":0.042},"timestamp":"2026-08-25T12:00:01.000000"}`)

	ev := waitKind(t, consumer, EventMessage)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "training_metrics", ev.Message.Type)
	assert.JSONEq(t, `{"loss":0.042}`, string(ev.Message.Body()))
}

func TestPayloadFieldFallback(t *testing.T) {
	dialer := newFakeDialer()
	client, consumer := newTestClient(t, dialer, nil)

	require.NoError(t, client.Connect())
	conn := dialer.waitConn(t)
	waitKind(t, consumer, EventOpen)

	conn.incoming <- []byte(`{"type":"sim_frame","payload":{"tick":42}}`)
	ev := waitKind(t, consumer, EventMessage)
	assert.JSONEq(t, `{"tick":42}`, string(ev.Message.Body()))
}

func TestAbnormalCloseReconnectsAndReplaysSubscriptions(t *testing.T) {
	dialer := newFakeDialer()
	client, consumer := newTestClient(t, dialer, nil)

	// held before any connection; no frame is sent yet
	require.NoError(t, client.Subscribe("simulation:sess-1"))
	require.NoError(t, client.Subscribe("training:run-7"))
	assert.Equal(t, []string{"simulation:sess-1", "training:run-7"}, client.Subscriptions())

	require.NoError(t, client.Connect())
	first := dialer.waitConn(t)

	// replay happens before the open event, in sorted order
	assert.Equal(t, "simulation:sess-1", readFrame(t, first)["data"].(map[string]any)["topic"])
	assert.Equal(t, "training:run-7", readFrame(t, first)["data"].(map[string]any)["topic"])
	waitKind(t, consumer, EventOpen)

	first.serverClose(exception.CloseGoingAway, "restarting")
	closed := waitKind(t, consumer, EventClosed)
	assert.Equal(t, exception.CloseGoingAway, closed.Code)
	assert.Equal(t, "restarting", closed.Reason)
	assert.False(t, closed.Exhausted)

	second := dialer.waitConn(t)
	assert.Equal(t, "simulation:sess-1", readFrame(t, second)["data"].(map[string]any)["topic"])
	assert.Equal(t, "training:run-7", readFrame(t, second)["data"].(map[string]any)["topic"])
	waitKind(t, consumer, EventOpen)
	assert.Equal(t, 2, dialer.dialCount())
}

func TestSubscribeIdempotentAndLive(t *testing.T) {
	dialer := newFakeDialer()
	client, consumer := newTestClient(t, dialer, nil)

	require.NoError(t, client.Connect())
	conn := dialer.waitConn(t)
	waitKind(t, consumer, EventOpen)

	require.NoError(t, client.Subscribe("simulation:sess-1"))
	frame := readFrame(t, conn)
	assert.Equal(t, TypeSubscribe, frame["type"])
	assert.Equal(t, "simulation:sess-1", frame["data"].(map[string]any)["topic"])

	// held topic: success, nothing sent
	require.NoError(t, client.Subscribe("simulation:sess-1"))
	require.NoError(t, client.Unsubscribe("never-held"))
	select {
	case payload := <-conn.outgoing:
		t.Fatalf("unexpected frame: %s", payload)
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, client.Unsubscribe("simulation:sess-1"))
	frame = readFrame(t, conn)
	assert.Equal(t, TypeUnsubscribe, frame["type"])
	assert.Empty(t, client.Subscriptions())
}

func TestReconnectBudgetExhausted(t *testing.T) {
	dialer := newFakeDialer()
	dialer.failAll = true
	client, consumer := newTestClient(t, dialer, func(cfg *Config) {
		cfg.MaxReconnectAttempts = 2
	})

	require.NoError(t, client.Connect())

	var closes int
	for {
		ev := waitKind(t, consumer, EventClosed)
		closes++
		if ev.Exhausted {
			break
		}
		require.Less(t, closes, 10, "never exhausted")
	}
	assert.Equal(t, 3, closes, "initial dial plus two redials")
	assert.Equal(t, 3, dialer.dialCount())
	assert.Equal(t, StateDisconnected, client.State())

	// a manual connect resets the budget and dials again
	dialer.mu.Lock()
	dialer.failAll = false
	dialer.mu.Unlock()
	require.NoError(t, client.Connect())
	dialer.waitConn(t)
	waitKind(t, consumer, EventOpen)
	assert.Equal(t, 4, dialer.dialCount())
}

func TestReconnectDelayDoubles(t *testing.T) {
	const interval = 25 * time.Millisecond
	dialer := newFakeDialer()
	dialer.failAll = true
	client, consumer := newTestClient(t, dialer, func(cfg *Config) {
		cfg.ReconnectInterval = interval
		cfg.MaxReconnectAttempts = 2
	})

	require.NoError(t, client.Connect())
	for {
		if ev := waitKind(t, consumer, EventClosed); ev.Exhausted {
			break
		}
	}

	times := dialer.times()
	require.Len(t, times, 3)
	// timers never fire early: gap n is at least interval * 2^n
	assert.GreaterOrEqual(t, times[1].Sub(times[0]), interval)
	assert.GreaterOrEqual(t, times[2].Sub(times[1]), 2*interval)
}

func TestDisableReconnect(t *testing.T) {
	dialer := newFakeDialer()
	client, consumer := newTestClient(t, dialer, func(cfg *Config) {
		cfg.DisableReconnect = true
	})

	require.NoError(t, client.Connect())
	conn := dialer.waitConn(t)
	waitKind(t, consumer, EventOpen)

	conn.serverDrop()
	closed := waitKind(t, consumer, EventClosed)
	assert.Equal(t, exception.CloseAbnormal, closed.Code)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount())
}

func TestConsumerOverflowDropOldest(t *testing.T) {
	consumer := NewConsumer(2, OverflowDropOldest)
	consumer.push(Event{Kind: EventMessage, Reason: "a"})
	consumer.push(Event{Kind: EventMessage, Reason: "b"})
	consumer.push(Event{Kind: EventMessage, Reason: "c"})

	assert.Equal(t, uint64(1), consumer.Dropped())
	ev, err := consumer.Next()
	require.NoError(t, err)
	assert.Equal(t, "b", ev.Reason)
	ev, err = consumer.Next()
	require.NoError(t, err)
	assert.Equal(t, "c", ev.Reason)

	consumer.Close()
	_, err = consumer.Next()
	assert.ErrorIs(t, err, exception.ErrQueueClosed)
}

func TestConsumerOverflowDropNewest(t *testing.T) {
	consumer := NewConsumer(1, OverflowDropNewest)
	consumer.push(Event{Kind: EventMessage, Reason: "a"})
	consumer.push(Event{Kind: EventMessage, Reason: "b"})

	ev, err := consumer.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", ev.Reason)
	assert.Equal(t, uint64(1), consumer.Dropped())
}

func TestEndpointURL(t *testing.T) {
	cases := []struct {
		origin string
		path   string
		want   string
	}{
		{"http://localhost:8000", "/ws", "ws://localhost:8000/ws"},
		{"https://arcs.example.com", "/ws", "wss://arcs.example.com/ws"},
		{"http://localhost:8000/", "/ws", "ws://localhost:8000/ws"},
		{"ws://localhost:8000", "/ws", "ws://localhost:8000/ws"},
	}
	for _, tc := range cases {
		got, err := EndpointURL(tc.origin, tc.path)
		require.NoError(t, err, tc.origin)
		assert.Equal(t, tc.want, got, tc.origin)
	}

	_, err := EndpointURL("ftp://nope", "/ws")
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.True(t, reg.Add("a"))
	assert.False(t, reg.Add("a"))
	assert.True(t, reg.Has("a"))
	assert.True(t, reg.Add("b"))
	assert.Equal(t, []string{"a", "b"}, reg.Topics())
	assert.Equal(t, 2, reg.Count())
	assert.True(t, reg.Remove("a"))
	assert.False(t, reg.Remove("a"))
	assert.Equal(t, 1, reg.Count())
}

func TestGorillaRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan map[string]any, 16)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"joint_state","data":{"positions":[0.1]}}`)); err != nil {
			return
		}
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame map[string]any
			if err := sonic.Unmarshal(payload, &frame); err != nil {
				continue
			}
			received <- frame
		}
	}))
	defer server.Close()

	endpoint, err := EndpointURL(server.URL, "")
	require.NoError(t, err)

	client, err := New(Config{
		Endpoint:          endpoint,
		DisableReconnect:  true,
		HeartbeatInterval: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	consumer := client.Events(0, OverflowDropOldest)
	t.Cleanup(client.Shutdown)

	require.NoError(t, client.Connect())
	waitKind(t, consumer, EventOpen)

	msg := waitKind(t, consumer, EventMessage)
	assert.Equal(t, "joint_state", msg.Message.Type)

	require.NoError(t, client.Send("command", map[string]any{"op": "home"}))

	sawCommand, sawPing := false, false
	deadline := time.After(2 * time.Second)
	for !sawCommand || !sawPing {
		select {
		case frame := <-received:
			switch frame["type"] {
			case "command":
				sawCommand = true
			case TypePing:
				sawPing = true
			}
		case <-deadline:
			t.Fatalf("missing frames: command=%v ping=%v", sawCommand, sawPing)
		}
	}
}
