package realtime

import (
	"sync"

	"github.com/matheus3301/chatlink/internal/protocol"
)

type result struct {
	in  protocol.Inbound
	err error
}

type waiter struct {
	id   string
	want protocol.InboundType
	ch   chan result
}

// waiters matches inbound frames to outstanding Request calls. A frame that
// echoes a request id only resolves that request; a frame without one
// resolves the oldest request expecting its type.
type waiters struct {
	mu   sync.Mutex
	list []*waiter
}

func (ws *waiters) add(id string, want protocol.InboundType) *waiter {
	w := &waiter{id: id, want: want, ch: make(chan result, 1)}
	ws.mu.Lock()
	ws.list = append(ws.list, w)
	ws.mu.Unlock()
	return w
}

func (ws *waiters) remove(w *waiter) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for i, x := range ws.list {
		if x == w {
			ws.list = append(ws.list[:i], ws.list[i+1:]...)
			return
		}
	}
}

// resolve hands in to the matching waiter and reports whether one was found.
func (ws *waiters) resolve(in protocol.Inbound) bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	idx := -1
	if id := in.RequestID(); id != "" {
		for i, w := range ws.list {
			if w.id == id {
				idx = i
				break
			}
		}
	} else {
		for i, w := range ws.list {
			if w.want == in.Type() {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		return false
	}
	w := ws.list[idx]
	ws.list = append(ws.list[:idx], ws.list[idx+1:]...)
	w.ch <- result{in: in}
	return true
}

// failAll wakes every waiter with err.
func (ws *waiters) failAll(err error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for _, w := range ws.list {
		w.ch <- result{err: err}
	}
	ws.list = nil
}
