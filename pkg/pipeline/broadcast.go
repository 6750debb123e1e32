package pipeline

import (
	"sync"

	"github.com/google/uuid"

	"github.com/liliang-cn/cognify/pkg/domain"
)

// subscriberBuffer bounds each subscriber channel. A slow subscriber loses
// the oldest events, never blocks the pipeline.
const subscriberBuffer = 64

// Broadcaster fans pipeline events out to per-run subscribers.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[int]chan domain.Event
	next int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[uuid.UUID]map[int]chan domain.Event)}
}

// Subscribe returns a channel of events for the run and a cancel function.
// The channel closes when the run finishes or cancel is called.
func (b *Broadcaster) Subscribe(runID uuid.UUID) (<-chan domain.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan domain.Event, subscriberBuffer)
	if b.subs[runID] == nil {
		b.subs[runID] = make(map[int]chan domain.Event)
	}
	id := b.next
	b.next++
	b.subs[runID][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[runID][id]; ok {
			delete(b.subs[runID], id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber of its run, dropping the
// oldest buffered event when a subscriber is full.
func (b *Broadcaster) Publish(ev domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs[ev.RunID] {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

// CloseRun closes and removes all subscriptions for a finished run.
func (b *Broadcaster) CloseRun(runID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs[runID] {
		delete(b.subs[runID], id)
		close(ch)
	}
	delete(b.subs, runID)
}
