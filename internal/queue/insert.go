package queue

import (
	"time"

	"notifyd/internal/notification"
	logx "notifyd/pkg/logx"
)

// Summaries that are consumed as display commands instead of being queued.
const (
	CommandPause  = "NOTIFYD_COMMAND_PAUSE"
	CommandResume = "NOTIFYD_COMMAND_RESUME"
	CommandToggle = "NOTIFYD_COMMAND_TOGGLE"
)

// Insert takes ownership of n and returns its id, or 0 when n was not queued.
// On 0 the caller still owns n (for the discard signal).
//
// In order:
//   - empty notifications and display commands are rejected with 0;
//   - a live ReplacesID is updated in place and keeps its id and stage;
//   - a live notification with the same stack tag and app name is replaced
//     in place and keeps its id;
//   - with StackDuplicates, an identical live notification absorbs n;
//   - otherwise n gets a fresh id and waits.
func (q *Queue) Insert(n *notification.Notification) uint32 {
	if n == nil {
		return 0
	}
	if q.command(n.Summary) {
		return 0
	}
	if n.IsEmpty() {
		if !q.log.IsZero() {
			q.log.Debug("discarding empty notification", logx.String("app", n.AppName))
		}
		return 0
	}

	if n.ReplacesID != 0 {
		if e, shown := q.find(n.ReplacesID); e != nil {
			q.replace(e, shown, n)
			return e.n.ID
		}
	}

	if n.StackTag != "" {
		if e, shown := q.findLive(func(o *notification.Notification) bool {
			return o.StackTag == n.StackTag && o.AppName == n.AppName
		}); e != nil {
			dups := e.n.DupCount
			q.replace(e, shown, n)
			e.n.DupCount = dups
			return e.n.ID
		}
	}

	if q.cfg.StackDuplicates {
		if e, shown := q.findLive(n.SameContent); e != nil {
			dups := e.n.DupCount
			q.replace(e, shown, n)
			e.n.DupCount = dups + 1
			return e.n.ID
		}
	}

	n.ID = q.nextFreeID()
	n.Start = time.Time{}
	q.seq++
	q.waiting = insertSorted(q.waiting, &entry{n: n, seq: q.seq})
	if !q.log.IsZero() {
		q.log.Debug("notification queued",
			logx.Uint64("id", uint64(n.ID)),
			logx.String("app", n.AppName),
			logx.String("urgency", n.Urgency.String()),
		)
	}
	return n.ID
}

func (q *Queue) command(summary string) bool {
	switch summary {
	case CommandPause:
		q.SetRunning(false)
	case CommandResume:
		q.SetRunning(true)
	case CommandToggle:
		q.SetRunning(!q.running)
	default:
		return false
	}
	return true
}

// findLive returns the first live entry satisfying match, displayed first.
func (q *Queue) findLive(match func(*notification.Notification) bool) (*entry, bool) {
	for _, e := range q.displayed {
		if match(e.n) {
			return e, true
		}
	}
	for _, e := range q.waiting {
		if match(e.n) {
			return e, false
		}
	}
	return nil, false
}

// replace overwrites e's record with src in place. A displayed notification
// restarts its clock so the update is visible for a full timeout.
func (q *Queue) replace(e *entry, shown bool, src *notification.Notification) {
	e.n.UpdateFrom(src)
	if shown {
		e.n.Start = q.now()
		resort(q.displayed)
	} else {
		e.n.Start = time.Time{}
		resort(q.waiting)
	}
	if !q.log.IsZero() {
		q.log.Debug("notification replaced",
			logx.Uint64("id", uint64(e.n.ID)),
			logx.Bool("displayed", shown),
		)
	}
}
