package fdn

import (
	"context"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

// orderGap is how long a call waits for an earlier one that never reaches
// its handler before it stops waiting.
const orderGap = time.Second

// callKey identifies a method call on one connection.
type callKey struct {
	sender string
	serial uint32
}

func keyOf(msg *dbus.Message) callKey {
	sender, _ := msg.Headers[dbus.FieldSender].Value().(string)
	return callKey{sender: sender, serial: msg.Serial()}
}

// sequencer numbers method calls on the connection's read goroutine and
// lets the handler goroutines, which godbus starts one per call, hand their
// requests to the loop in that same order.
type sequencer struct {
	gap time.Duration

	mu      sync.Mutex
	next    uint64
	turn    uint64
	pending map[callKey]uint64
	dropped map[uint64]bool
	moved   chan struct{}
}

func newSequencer(gap time.Duration) *sequencer {
	return &sequencer{
		gap:     gap,
		pending: map[callKey]uint64{},
		dropped: map[uint64]bool{},
		moved:   make(chan struct{}),
	}
}

// stamp records the arrival of a call. It must run in read order.
func (q *sequencer) stamp(k callKey) {
	q.mu.Lock()
	q.pending[k] = q.next
	q.next++
	q.mu.Unlock()
}

// claim returns the turn stamped for k, nil if the call was never stamped.
func (q *sequencer) claim(k callKey) *turn {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	seq, ok := q.pending[k]
	if !ok {
		return nil
	}
	delete(q.pending, k)
	return &turn{q: q, seq: seq}
}

// callCtx is the context a bus handler talks to the loop with.
func (q *sequencer) callCtx(sender dbus.Sender, msg dbus.Message) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	return withTurn(ctx, q.claim(callKey{sender: string(sender), serial: msg.Serial()})), cancel
}

// advance moves past the current turn and any later ones already given up.
// q.mu must be held.
func (q *sequencer) advance(to uint64) {
	for seq := range q.dropped {
		if seq < to {
			delete(q.dropped, seq)
		}
	}
	q.turn = to
	for q.dropped[q.turn] {
		delete(q.dropped, q.turn)
		q.turn++
	}
	for k, seq := range q.pending {
		if seq < q.turn {
			delete(q.pending, k)
		}
	}
	close(q.moved)
	q.moved = make(chan struct{})
}

// turn is one call's place in line. A nil turn never waits.
type turn struct {
	q    *sequencer
	seq  uint64
	once sync.Once
}

// wait blocks until every earlier call has been handed over. If the line
// does not move for gap, the missing calls are skipped.
func (t *turn) wait(ctx context.Context) error {
	if t == nil {
		return nil
	}
	q := t.q
	timer := time.NewTimer(q.gap)
	defer timer.Stop()
	for {
		q.mu.Lock()
		if q.turn >= t.seq {
			q.mu.Unlock()
			return nil
		}
		moved := q.moved
		q.mu.Unlock()

		select {
		case <-moved:
			timer.Reset(q.gap)
		case <-timer.C:
			q.mu.Lock()
			if q.turn < t.seq {
				q.advance(t.seq)
			}
			q.mu.Unlock()
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// done gives up the turn, whether or not the request was handed over.
func (t *turn) done() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		q := t.q
		q.mu.Lock()
		defer q.mu.Unlock()
		switch {
		case t.seq == q.turn:
			q.advance(t.seq + 1)
		case t.seq > q.turn:
			q.dropped[t.seq] = true
		}
	})
}

type turnKey struct{}

func withTurn(ctx context.Context, t *turn) context.Context {
	if t == nil {
		return ctx
	}
	return context.WithValue(ctx, turnKey{}, t)
}

func turnFrom(ctx context.Context) *turn {
	t, _ := ctx.Value(turnKey{}).(*turn)
	return t
}
