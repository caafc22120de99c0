package journal

import (
	"context"
	"sync"
)

// MemorySink buffers entries in memory. Used when no DSN is configured
// and in tests.
type MemorySink struct {
	mu       sync.Mutex
	requests []RequestLog
	sockets  []SocketEvent
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) SaveRequest(ctx context.Context, entry *RequestLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, *entry)
	return nil
}

func (s *MemorySink) SaveSocketEvent(ctx context.Context, entry *SocketEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets = append(s.sockets, *entry)
	return nil
}

func (s *MemorySink) Close() error {
	return nil
}

func (s *MemorySink) Requests() []RequestLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RequestLog, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *MemorySink) SocketEvents() []SocketEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SocketEvent, len(s.sockets))
	copy(out, s.sockets)
	return out
}
