package journal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"arclink/pkg/exception"
	"arclink/pkg/wsclient"
)

var (
	ErrQueueFull      = errors.New("journal queue full")
	ErrClosed         = errors.New("journal closed")
	ErrNotStarted     = errors.New("journal not started")
	ErrAlreadyStarted = errors.New("journal already started")
)

const defaultQueueSize = 1024

// RequestLog is one REST request outcome.
type RequestLog struct {
	ID         uint   `gorm:"primaryKey"`
	Method     string `gorm:"size:8"`
	Path       string `gorm:"size:512"`
	StatusCode int
	Outcome    string `gorm:"size:16;index"`
	Detail     string `gorm:"size:1024"`
	ElapsedMs  int64
	CreatedAt  time.Time
}

// SocketEvent is one connection lifecycle event.
type SocketEvent struct {
	ID        uint   `gorm:"primaryKey"`
	Kind      string `gorm:"size:16;index"`
	Code      int
	Reason    string `gorm:"size:512"`
	Detail    string `gorm:"size:1024"`
	CreatedAt time.Time
}

// Request outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeAPIError = "api_error"
	OutcomeNetwork  = "network"
	OutcomeTimeout  = "timeout"
	OutcomeAborted  = "aborted"
)

// Sink persists journal entries.
type Sink interface {
	SaveRequest(ctx context.Context, entry *RequestLog) error
	SaveSocketEvent(ctx context.Context, entry *SocketEvent) error
	Close() error
}

type entry struct {
	request *RequestLog
	socket  *SocketEvent
}

// Journal persists request outcomes and socket lifecycle events through a
// buffered queue. Recording never blocks the caller; a full queue drops
// the entry.
type Journal struct {
	sink Sink
	ch   chan entry
	wg   sync.WaitGroup
	err  atomic.Value

	// sendMu orders push sends against the channel close in Close.
	sendMu sync.RWMutex

	started atomic.Bool
	closed  atomic.Bool
	dropped atomic.Uint64
}

// New builds a journal over sink. queueSize <= 0 means the default.
func New(sink Sink, queueSize int) *Journal {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Journal{
		sink: sink,
		ch:   make(chan entry, queueSize),
	}
}

// Start runs the persist loop in a new goroutine.
func (j *Journal) Start(ctx context.Context) error {
	if !j.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.run(ctx)
	}()
	return nil
}

// Close stops the journal, drains the queue, and closes the sink.
func (j *Journal) Close() error {
	j.sendMu.Lock()
	if j.closed.CompareAndSwap(false, true) {
		close(j.ch)
	}
	j.sendMu.Unlock()
	j.wg.Wait()
	if err := j.sink.Close(); err != nil && j.Err() == nil {
		j.setErr(err)
	}
	return j.Err()
}

// Err returns the first persist error observed, if any.
func (j *Journal) Err() error {
	if v := j.err.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Dropped reports entries lost to a full queue.
func (j *Journal) Dropped() uint64 {
	return j.dropped.Load()
}

// RecordRequest enqueues one request outcome without blocking.
func (j *Journal) RecordRequest(method, path string, status int, elapsed time.Duration, cause error) error {
	log := &RequestLog{
		Method:     method,
		Path:       path,
		StatusCode: status,
		Outcome:    classify(cause),
		ElapsedMs:  elapsed.Milliseconds(),
	}
	if cause != nil {
		log.Detail = cause.Error()
	}
	return j.push(entry{request: log})
}

// RecordSocketEvent enqueues one lifecycle event without blocking.
// Message traffic is not journaled.
func (j *Journal) RecordSocketEvent(ev wsclient.Event) error {
	if ev.Kind == wsclient.EventMessage {
		return nil
	}
	log := &SocketEvent{
		Kind:   ev.Kind.String(),
		Code:   ev.Code,
		Reason: ev.Reason,
	}
	if ev.Exhausted {
		log.Detail = "reconnect budget exhausted"
	}
	if ev.Err != nil {
		log.Detail = ev.Err.Error()
	}
	return j.push(entry{socket: log})
}

// ConsumeSocket drains a consumer into the journal until it closes.
// Run it in its own goroutine.
func (j *Journal) ConsumeSocket(consumer *wsclient.Consumer) {
	for {
		ev, err := consumer.Next()
		if err != nil {
			return
		}
		if err := j.RecordSocketEvent(ev); err != nil {
			logs.Warnf("journal: record socket event: %v", err)
		}
	}
}

func (j *Journal) push(e entry) error {
	j.sendMu.RLock()
	defer j.sendMu.RUnlock()

	if j.closed.Load() {
		return ErrClosed
	}
	if !j.started.Load() {
		return ErrNotStarted
	}
	if err := j.Err(); err != nil {
		return err
	}
	select {
	case j.ch <- e:
		return nil
	default:
		j.dropped.Add(1)
		return ErrQueueFull
	}
}

func (j *Journal) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			j.drainNonBlocking(ctx)
			return
		case e, ok := <-j.ch:
			if !ok {
				return
			}
			if err := j.persist(ctx, e); err != nil {
				j.setErr(err)
				return
			}
		}
	}
}

func (j *Journal) drainNonBlocking(ctx context.Context) {
	for {
		select {
		case e, ok := <-j.ch:
			if !ok {
				return
			}
			if err := j.persist(ctx, e); err != nil {
				j.setErr(err)
				return
			}
		default:
			return
		}
	}
}

func (j *Journal) persist(ctx context.Context, e entry) error {
	switch {
	case e.request != nil:
		return j.sink.SaveRequest(ctx, e.request)
	case e.socket != nil:
		return j.sink.SaveSocketEvent(ctx, e.socket)
	default:
		return nil
	}
}

func (j *Journal) setErr(err error) {
	if err == nil {
		return
	}
	if j.err.Load() != nil {
		return
	}
	j.err.Store(err)
}

// classify maps a request error onto an outcome label.
func classify(cause error) string {
	switch cause.(type) {
	case nil:
		return OutcomeOK
	case *exception.APIError:
		return OutcomeAPIError
	case *exception.TimeoutError:
		return OutcomeTimeout
	case *exception.AbortError:
		return OutcomeAborted
	case *exception.NetworkError:
		return OutcomeNetwork
	default:
		return OutcomeNetwork
	}
}
