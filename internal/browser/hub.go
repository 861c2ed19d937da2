package browser

import (
	"context"
	"sync"
)

// hub fans page events out to subscribers. Publishing never blocks: a full
// subscriber misses the event, which is fine for notifications that only
// prompt a re-query.
type hub[T any] struct {
	mu   sync.Mutex
	next int
	subs map[int]chan T
}

func newHub[T any]() *hub[T] {
	return &hub[T]{subs: make(map[int]chan T)}
}

func (h *hub[T]) subscribe(ctx context.Context, buffer int) <-chan T {
	ch := make(chan T, buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()
	return ch
}

func (h *hub[T]) publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

func (h *hub[T]) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
