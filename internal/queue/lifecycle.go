package queue

import (
	"time"

	"notifyd/internal/notification"
	logx "notifyd/pkg/logx"
)

// CloseByID closes a live notification. Unknown ids are ignored, which makes a
// client close racing a server-side expiry harmless. Reports whether anything
// was closed.
func (q *Queue) CloseByID(id uint32, reason notification.Reason) bool {
	if i := indexOf(q.displayed, id); i >= 0 && id != 0 {
		e := q.displayed[i]
		q.displayed = removeAt(q.displayed, i)
		q.finish(e.n, reason)
		return true
	}
	if i := indexOf(q.waiting, id); i >= 0 && id != 0 {
		e := q.waiting[i]
		q.waiting = removeAt(q.waiting, i)
		q.finish(e.n, reason)
		return true
	}
	return false
}

// CloseTop closes the first displayed notification as dismissed by the user.
func (q *Queue) CloseTop() bool {
	if len(q.displayed) == 0 {
		return false
	}
	return q.CloseByID(q.displayed[0].n.ID, notification.ReasonDismissed)
}

// CloseAll closes every live notification, displayed first.
func (q *Queue) CloseAll(reason notification.Reason) int {
	closed := 0
	for _, list := range [][]*entry{q.displayed, q.waiting} {
		for _, e := range list {
			q.finish(e.n, reason)
			closed++
		}
	}
	q.displayed = nil
	q.waiting = nil
	return closed
}

// finish signals the close and files n into history unless it opted out.
func (q *Queue) finish(n *notification.Notification, reason notification.Reason) {
	if !q.log.IsZero() {
		q.log.Debug("notification closed",
			logx.Uint64("id", uint64(n.ID)),
			logx.String("reason", reason.Normalize().String()),
		)
	}
	if q.emit != nil {
		q.emit.NotificationClosed(n, reason.Normalize())
	}
	n.Start = time.Time{}
	if n.HistoryIgnore || n.Transient {
		return
	}
	q.history = append(q.history, n)
	q.trimHistory()
}

func (q *Queue) trimHistory() {
	if q.cfg.HistoryLength <= 0 || len(q.history) <= q.cfg.HistoryLength {
		return
	}
	drop := len(q.history) - q.cfg.HistoryLength
	for i := 0; i < drop; i++ {
		q.history[i] = nil
	}
	q.history = q.history[drop:]
}

// EffectiveTimeout resolves the timeout of n: its own value when set, else the
// urgency default, else the global default. Zero means never.
func (q *Queue) EffectiveTimeout(n *notification.Notification) time.Duration {
	if n.Timeout >= 0 {
		return n.Timeout
	}
	d := time.Duration(-1)
	switch n.Urgency {
	case notification.UrgencyLow:
		d = q.cfg.Timeouts.Low
	case notification.UrgencyNormal:
		d = q.cfg.Timeouts.Normal
	case notification.UrgencyCritical:
		d = q.cfg.Timeouts.Critical
	}
	if d >= 0 {
		return d
	}
	if q.cfg.Timeouts.Default < 0 {
		return 0
	}
	return q.cfg.Timeouts.Default
}

func (q *Queue) expired(n *notification.Notification, now time.Time) bool {
	t := q.EffectiveTimeout(n)
	if t <= 0 || n.Start.IsZero() {
		return false
	}
	return !now.Before(n.Start.Add(t))
}

// NextDeadline is the earliest instant a displayed notification expires.
func (q *Queue) NextDeadline() (time.Time, bool) {
	var (
		best time.Time
		ok   bool
	)
	for _, e := range q.displayed {
		t := q.EffectiveTimeout(e.n)
		if t <= 0 || e.n.Start.IsZero() {
			continue
		}
		dl := e.n.Start.Add(t)
		if !ok || dl.Before(best) {
			best, ok = dl, true
		}
	}
	return best, ok
}

// eligible reports whether n may be on display right now.
func (q *Queue) eligible(n *notification.Notification) bool {
	if !q.running && !(q.cfg.CriticalWhenPaused && n.Urgency == notification.UrgencyCritical) {
		return false
	}
	if q.fullscreen && (n.Fullscreen == notification.FSDelay || n.Fullscreen == notification.FSPushback) {
		return false
	}
	return true
}

// Tick runs one maintenance pass at now: expire displayed notifications, pull
// back those that may no longer be shown, then fill free display slots by
// rank. Reports whether the displayed set changed.
func (q *Queue) Tick(now time.Time) bool {
	changed := false

	for i := 0; i < len(q.displayed); {
		e := q.displayed[i]
		if q.expired(e.n, now) {
			q.displayed = removeAt(q.displayed, i)
			q.finish(e.n, notification.ReasonExpired)
			changed = true
			continue
		}
		if !q.eligible(e.n) {
			// Displayed notifications only ever move back to waiting on pause
			// or pushback; a delayed one that is already shown stays.
			if !q.running || e.n.Fullscreen == notification.FSPushback {
				q.displayed = removeAt(q.displayed, i)
				e.n.Start = time.Time{}
				q.waiting = insertSorted(q.waiting, e)
				changed = true
				continue
			}
		}
		i++
	}

	for i := 0; i < len(q.waiting); {
		e := q.waiting[i]
		if !q.eligible(e.n) {
			i++
			continue
		}
		if e.n.SkipDisplay {
			// The caller holds a live id, so it still gets its one close signal.
			q.waiting = removeAt(q.waiting, i)
			q.finish(e.n, notification.ReasonUndefined)
			continue
		}
		if q.full() {
			worst := q.displayed[len(q.displayed)-1]
			if !ranks(e, worst) {
				break
			}
			q.displayed = q.displayed[:len(q.displayed)-1]
			worst.n.Start = time.Time{}
			q.waiting = removeAt(q.waiting, i)
			q.waiting = insertSorted(q.waiting, worst)
			q.show(e, now)
			changed = true
			// worst was re-inserted behind e's old slot; rescan from the top.
			i = 0
			continue
		}
		q.waiting = removeAt(q.waiting, i)
		q.show(e, now)
		changed = true
	}
	return changed
}

func (q *Queue) full() bool {
	return q.cfg.MaxDisplayed > 0 && len(q.displayed) >= q.cfg.MaxDisplayed
}

func (q *Queue) show(e *entry, now time.Time) {
	e.n.Start = now
	q.displayed = insertSorted(q.displayed, e)
	if q.onDisplay != nil {
		q.onDisplay(e.n)
	}
}

// InvokeAction reports key to the client of a live notification and, unless
// the notification is resident, closes it as dismissed.
func (q *Queue) InvokeAction(id uint32, key string) bool {
	e, _ := q.find(id)
	if e == nil {
		return false
	}
	if !e.n.Actions.Has(key) {
		if !q.log.IsZero() {
			q.log.Debug("unknown action", logx.Uint64("id", uint64(id)), logx.String("key", key))
		}
		return false
	}
	if q.emit != nil {
		q.emit.ActionInvoked(e.n, key)
	}
	if !e.n.Resident {
		q.CloseByID(id, notification.ReasonDismissed)
	}
	return true
}

// PopHistory moves the newest history entry back to waiting and returns its
// id. With StickyHistory it will not expire again.
func (q *Queue) PopHistory() uint32 {
	if len(q.history) == 0 {
		return 0
	}
	n := q.history[len(q.history)-1]
	q.history[len(q.history)-1] = nil
	q.history = q.history[:len(q.history)-1]

	if q.cfg.StickyHistory {
		n.Timeout = 0
	}
	if e, _ := q.find(n.ID); e != nil || n.ID == 0 {
		n.ID = q.nextFreeID()
	}
	q.seq++
	q.waiting = insertSorted(q.waiting, &entry{n: n, seq: q.seq})
	return n.ID
}

// PruneHistory drops history entries created more than maxAge before now.
func (q *Queue) PruneHistory(now time.Time, maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	kept := q.history[:0]
	pruned := 0
	for _, n := range q.history {
		if now.Sub(n.Timestamp) > maxAge {
			pruned++
			continue
		}
		kept = append(kept, n)
	}
	for i := len(kept); i < len(q.history); i++ {
		q.history[i] = nil
	}
	q.history = kept
	return pruned
}

// Drain empties every stage without signalling. Used on shutdown.
func (q *Queue) Drain() int {
	n := len(q.waiting) + len(q.displayed) + len(q.history)
	q.waiting, q.displayed, q.history = nil, nil, nil
	return n
}
