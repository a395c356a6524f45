package fdn

import (
	"context"

	"notifyd/internal/notification"
	"notifyd/internal/queue"
	logx "notifyd/pkg/logx"
)

type requestKind int

const (
	reqNotify requestKind = iota
	reqClose
	reqCloseTop
	reqCloseAll
	reqHistoryPop
	reqInvokeAction
	reqSetRunning
	reqSetFullscreen
	reqPrune
	reqSnapshot
)

type request struct {
	kind  requestKind
	n     *notification.Notification
	id    uint32
	key   string
	flag  bool
	reply chan reply
}

type reply struct {
	id    uint32
	count int
	ok    bool
	snap  Snapshot
}

// Snapshot is a copy of the queue state for inspection.
type Snapshot struct {
	Running   bool
	Waiting   []*notification.Notification
	Displayed []*notification.Notification
	History   []*notification.Notification
}

func (s *Server) handle(r request) {
	var rep reply
	switch r.kind {
	case reqNotify:
		rep.id = s.notify(r.n)
	case reqClose:
		rep.ok = s.q.CloseByID(r.id, notification.ReasonClosedByCall)
	case reqCloseTop:
		rep.ok = s.q.CloseTop()
	case reqCloseAll:
		rep.count = s.q.CloseAll(notification.ReasonDismissed)
	case reqHistoryPop:
		rep.id = s.q.PopHistory()
	case reqInvokeAction:
		rep.ok = s.q.InvokeAction(r.id, r.key)
	case reqSetRunning:
		// reply == nil marks a change that came in through the property
		// itself, which already carries the new value.
		s.setRunning(r.flag, r.reply != nil)
		rep.ok = true
	case reqSetFullscreen:
		rep.ok = s.q.SetFullscreen(r.flag)
	case reqPrune:
		rep.count = s.q.PruneHistory(s.now(), s.pruneMaxAge)
		if rep.count > 0 && !s.log.IsZero() {
			s.log.Info("history pruned", logx.Int("count", rep.count), logx.Duration("max_age", s.pruneMaxAge))
		}
	case reqSnapshot:
		rep.snap = Snapshot{
			Running:   s.q.Running(),
			Waiting:   cloneAll(s.q.Waiting()),
			Displayed: cloneAll(s.q.Displayed()),
			History:   cloneAll(s.q.History()),
		}
	}
	if r.reply != nil {
		r.reply <- rep
	}
}

func cloneAll(list []*notification.Notification) []*notification.Notification {
	out := make([]*notification.Notification, len(list))
	for i, n := range list {
		out[i] = n.Clone()
	}
	return out
}

func (s *Server) call(ctx context.Context, r request) (reply, error) {
	r.reply = make(chan reply, 1)
	if err := s.enqueue(ctx, r); err != nil {
		return reply{}, err
	}
	select {
	case rep := <-r.reply:
		return rep, nil
	case <-s.done:
		return reply{}, ErrStopped
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

// enqueue hands r to the loop once every call that arrived on the bus before
// it has been handed over.
func (s *Server) enqueue(ctx context.Context, r request) error {
	t := turnFrom(ctx)
	defer t.done()
	if err := t.wait(ctx); err != nil {
		return err
	}
	select {
	case s.reqs <- r:
		return nil
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify decodes and queues one call. The id is 0 when the notification was
// consumed or discarded.
func (s *Server) Notify(ctx context.Context, c NotifyCall) (uint32, error) {
	rep, err := s.call(ctx, request{kind: reqNotify, n: s.decoder.Decode(c)})
	return rep.id, err
}

// Close closes id with reason "closed by call". Unknown ids are a no-op.
func (s *Server) Close(ctx context.Context, id uint32) error {
	_, err := s.call(ctx, request{kind: reqClose, id: id})
	return err
}

func (s *Server) CloseTop(ctx context.Context) (bool, error) {
	rep, err := s.call(ctx, request{kind: reqCloseTop})
	return rep.ok, err
}

func (s *Server) CloseAll(ctx context.Context) (int, error) {
	rep, err := s.call(ctx, request{kind: reqCloseAll})
	return rep.count, err
}

// HistoryPop re-queues the newest history entry and returns its id, 0 when
// history is empty.
func (s *Server) HistoryPop(ctx context.Context) (uint32, error) {
	rep, err := s.call(ctx, request{kind: reqHistoryPop})
	return rep.id, err
}

func (s *Server) InvokeAction(ctx context.Context, id uint32, key string) (bool, error) {
	rep, err := s.call(ctx, request{kind: reqInvokeAction, id: id, key: key})
	return rep.ok, err
}

// SetRunning pauses or resumes display and mirrors the change to the bus.
func (s *Server) SetRunning(ctx context.Context, v bool) error {
	_, err := s.call(ctx, request{kind: reqSetRunning, flag: v})
	return err
}

// offerRunning queues a running change without waiting. It is called from
// the property setter, which holds the property lock.
func (s *Server) offerRunning(v bool) bool {
	select {
	case s.reqs <- request{kind: reqSetRunning, flag: v}:
		return true
	default:
		return false
	}
}

func (s *Server) SetFullscreen(ctx context.Context, v bool) (bool, error) {
	rep, err := s.call(ctx, request{kind: reqSetFullscreen, flag: v})
	return rep.ok, err
}

// Prune drops history entries older than the configured max age.
func (s *Server) Prune(ctx context.Context) (int, error) {
	rep, err := s.call(ctx, request{kind: reqPrune})
	return rep.count, err
}

func (s *Server) Snapshot(ctx context.Context) (Snapshot, error) {
	rep, err := s.call(ctx, request{kind: reqSnapshot})
	return rep.snap, err
}

// attach installs the bus side. It must happen before Run.
func (s *Server) attach(sig queue.Emitter, running func(bool)) {
	s.sig = sig
	s.runningSink = running
}
