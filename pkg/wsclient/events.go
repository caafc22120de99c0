package wsclient

import (
	"sync"

	"arclink/pkg/exception"
)

// EventKind tags a lifecycle or traffic event.
type EventKind uint8

const (
	// EventOpen fires once per established connection, after subscription
	// replay.
	EventOpen EventKind = iota
	// EventClosed fires once per teardown, carrying the close code.
	EventClosed
	// EventError reports a transport failure. Errors never panic the
	// client; the lifecycle self-heals around them.
	EventError
	// EventMessage carries one decoded application frame.
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventClosed:
		return "closed"
	case EventError:
		return "error"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is one entry on a consumer queue.
type Event struct {
	Kind EventKind

	// Code and Reason describe a close.
	Code   int
	Reason string
	// Exhausted marks a close after the reconnect budget ran out.
	Exhausted bool

	// Err is set for EventError.
	Err error

	// Message is set for EventMessage.
	Message *Envelope
}

// OverflowPolicy decides what happens when a consumer queue is full.
type OverflowPolicy uint8

const (
	// OverflowDropOldest evicts the oldest queued event. The producer is
	// the read pump, which must never stall on a slow consumer.
	OverflowDropOldest OverflowPolicy = iota
	// OverflowDropNewest discards the incoming event.
	OverflowDropNewest
)

// Consumer receives events through a bounded ring. One consumer per
// reader goroutine.
type Consumer struct {
	mu       sync.Mutex
	notEmpty *sync.Cond

	ring   []Event
	head   int
	count  int
	policy OverflowPolicy
	closed bool

	dropped uint64
}

const defaultConsumerCapacity = 256

// NewConsumer builds a consumer with the given capacity; capacity <= 0
// means the default.
func NewConsumer(capacity int, policy OverflowPolicy) *Consumer {
	if capacity <= 0 {
		capacity = defaultConsumerCapacity
	}
	c := &Consumer{
		ring:   make([]Event, capacity),
		policy: policy,
	}
	c.notEmpty = sync.NewCond(&c.mu)
	return c
}

// push enqueues ev, applying the overflow policy when full.
func (c *Consumer) push(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if c.count == len(c.ring) {
		c.dropped++
		if c.policy == OverflowDropNewest {
			return
		}
		// evict oldest
		c.head = (c.head + 1) % len(c.ring)
		c.count--
	}
	c.ring[(c.head+c.count)%len(c.ring)] = ev
	c.count++
	c.notEmpty.Signal()
}

// Next blocks until an event is available or the consumer is closed.
func (c *Consumer) Next() (Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.count == 0 {
		if c.closed {
			return Event{}, exception.ErrQueueClosed
		}
		c.notEmpty.Wait()
	}
	ev := c.ring[c.head]
	c.ring[c.head] = Event{}
	c.head = (c.head + 1) % len(c.ring)
	c.count--
	return ev, nil
}

// Len reports the queued event count.
func (c *Consumer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.count
}

// Dropped reports how many events the overflow policy discarded.
func (c *Consumer) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.dropped
}

// Close wakes all blocked readers. Queued events drain before Next starts
// reporting ErrQueueClosed.
func (c *Consumer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.notEmpty.Broadcast()
}

// broadcaster fans events out to every attached consumer.
type broadcaster struct {
	mu        sync.RWMutex
	consumers []*Consumer
}

func (b *broadcaster) attach(c *Consumer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consumers = append(b.consumers, c)
}

func (b *broadcaster) detach(c *Consumer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, held := range b.consumers {
		if held == c {
			b.consumers = append(b.consumers[:i], b.consumers[i+1:]...)
			return
		}
	}
}

func (b *broadcaster) publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, c := range b.consumers {
		c.push(ev)
	}
}

func (b *broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range b.consumers {
		c.Close()
	}
	b.consumers = nil
}
