package rewardd

import (
	"sync"

	"rewardledger/core/events"
	"rewardledger/core/types"
	"rewardledger/observability"
)

// Hub sequences committed engine events and fans them out to stream
// subscribers. Slow subscribers lose events rather than stall the engines.
type Hub struct {
	mu      sync.Mutex
	seq     uint64
	buffer  int
	backlog []types.Event
	subs    map[uint64]chan types.Event
	nextSub uint64
}

// NewHub returns a hub giving each subscriber buffer slots and retaining the
// last buffer events for replay.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{buffer: buffer, subs: make(map[uint64]chan types.Event)}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(evt events.Event) {
	typed, ok := evt.(events.Typed)
	if !ok {
		return
	}
	rendered := typed.Event()
	if rendered == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	out := types.Event{Sequence: h.seq, Type: rendered.Type, Attributes: rendered.Attributes}
	h.backlog = append(h.backlog, out)
	if len(h.backlog) > h.buffer {
		h.backlog = h.backlog[len(h.backlog)-h.buffer:]
	}
	observability.Events().RecordPublished(out.Type)
	for _, ch := range h.subs {
		select {
		case ch <- out:
		default:
			observability.Events().RecordDropped()
		}
	}
}

// Subscribe registers a subscriber. Retained events with a sequence above
// since are queued first. The returned cancel func must be called once.
func (h *Hub) Subscribe(since uint64) (<-chan types.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan types.Event, h.buffer)
	for _, evt := range h.backlog {
		if evt.Sequence > since {
			ch <- evt
		}
	}
	id := h.nextSub
	h.nextSub++
	h.subs[id] = ch
	observability.Events().SubscriberJoined()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			observability.Events().SubscriberLeft()
		})
	}
}

// Recent returns up to n retained events, oldest first.
func (h *Hub) Recent(n int) []types.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 || n > len(h.backlog) {
		n = len(h.backlog)
	}
	out := make([]types.Event, n)
	copy(out, h.backlog[len(h.backlog)-n:])
	return out
}

// Sequence returns the last assigned sequence number.
func (h *Hub) Sequence() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}
