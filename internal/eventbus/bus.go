// Package eventbus is an in-memory fan-out of server events.
//
// Publish never blocks: subscribers get buffered channels and a slow one
// loses events instead of stalling the server loop.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the server loop.
const (
	NotificationQueued    = "notification.queued"
	NotificationDisplayed = "notification.displayed"
	NotificationClosed    = "notification.closed"
	ActionInvoked         = "action.invoked"
	RunningChanged        = "running.changed"
)

// Event carries a snapshot; Data is never shared with the publisher.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a bus with no background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		deliver(ch, e)
	}
}

// deliver drops e when ch is full. A concurrent unsubscribe may close ch
// under us; the send panic is swallowed.
func deliver(ch chan Event, e Event) {
	defer func() { _ = recover() }()
	select {
	case ch <- e:
	default:
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}
