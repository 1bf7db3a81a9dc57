package thread

import (
	"context"
	"sync"

	"github.com/matheus3301/chatlink/internal/bus"
	"go.uber.org/zap"
)

// Registry keeps one running Synchronizer per open conversation.
type Registry struct {
	conn   Sender
	bus    *bus.Bus
	logger *zap.Logger

	mu     sync.Mutex
	open   map[int64]*Synchronizer
	closed bool
}

// NewRegistry creates an empty registry.
func NewRegistry(conn Sender, b *bus.Bus, logger *zap.Logger) *Registry {
	return &Registry{
		conn:   conn,
		bus:    b,
		logger: logger,
		open:   make(map[int64]*Synchronizer),
	}
}

// Open returns the conversation with friendID, starting it if needed.
// Opening an already open conversation asks for a fresh snapshot. The
// conversation runs until Close, independent of the caller's context.
func (r *Registry) Open(friendID int64) *Synchronizer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.open[friendID]; ok {
		s.Refresh()
		return s
	}
	s := New(friendID, r.conn, r.bus, r.logger)
	if !r.closed {
		s.Start(context.Background())
		r.open[friendID] = s
	}
	return s
}

// Get returns the open conversation with friendID, if any.
func (r *Registry) Get(friendID int64) (*Synchronizer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.open[friendID]
	return s, ok
}

// Close stops the conversation with friendID. Closing an unknown friend is a no-op.
func (r *Registry) Close(friendID int64) {
	r.mu.Lock()
	s, ok := r.open[friendID]
	delete(r.open, friendID)
	r.mu.Unlock()
	if ok {
		s.Stop()
	}
}

// OpenIDs lists the friends with an open conversation.
func (r *Registry) OpenIDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.open))
	for id := range r.open {
		ids = append(ids, id)
	}
	return ids
}

// CloseAll stops every conversation. The registry keeps accepting Open calls.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	open := r.open
	r.open = make(map[int64]*Synchronizer)
	r.mu.Unlock()
	for _, s := range open {
		s.Stop()
	}
}

// Shutdown stops every conversation; later Opens return unstarted synchronizers.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.CloseAll()
}
