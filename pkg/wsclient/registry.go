package wsclient

import (
	"sort"
	"sync"
)

// Registry holds the set of topics the client intends to receive. The set
// survives physical connections; every reopen replays it in full.
type Registry struct {
	mu     sync.Mutex
	topics map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{topics: make(map[string]struct{})}
}

// Add records topic and reports whether it was newly added.
func (r *Registry) Add(topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.topics[topic]; ok {
		return false
	}
	r.topics[topic] = struct{}{}
	return true
}

// Remove drops topic and reports whether it was held.
func (r *Registry) Remove(topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.topics[topic]; !ok {
		return false
	}
	delete(r.topics, topic)
	return true
}

func (r *Registry) Has(topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.topics[topic]
	return ok
}

// Topics returns the held set sorted, so replay order is deterministic.
func (r *Registry) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.topics))
	for topic := range r.topics {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.topics)
}
