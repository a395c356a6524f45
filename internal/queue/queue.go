// Package queue owns every live notification of the server and decides which
// of them are waiting, displayed or kept in history.
//
// A Queue has exactly one owner goroutine (the server loop). It holds no
// locks; callers must not share it.
package queue

import (
	"sort"
	"time"

	"notifyd/internal/notification"
	logx "notifyd/pkg/logx"
)

// Emitter receives the lifecycle signals the queue produces.
type Emitter interface {
	NotificationClosed(n *notification.Notification, reason notification.Reason)
	ActionInvoked(n *notification.Notification, key string)
}

// Timeouts are the per-urgency defaults used when a notification carries no
// explicit timeout. A negative per-urgency value falls back to Default.
type Timeouts struct {
	Default  time.Duration
	Low      time.Duration
	Normal   time.Duration
	Critical time.Duration
}

type Config struct {
	// MaxDisplayed <= 0 means no limit.
	MaxDisplayed int
	// HistoryLength <= 0 means no limit.
	HistoryLength      int
	StickyHistory      bool
	StackDuplicates    bool
	CriticalWhenPaused bool
	Timeouts           Timeouts
}

// DefaultConfig matches the shipped config file.
func DefaultConfig() Config {
	return Config{
		HistoryLength:      20,
		StickyHistory:      true,
		StackDuplicates:    true,
		CriticalWhenPaused: true,
		Timeouts: Timeouts{
			Default:  10 * time.Second,
			Low:      10 * time.Second,
			Normal:   10 * time.Second,
			Critical: 0,
		},
	}
}

// Option configures a Queue.
type Option func(*Queue)

func WithLogger(log logx.Logger) Option { return func(q *Queue) { q.log = log } }

// WithClock replaces time.Now; tests drive time explicitly.
func WithClock(now func() time.Time) Option { return func(q *Queue) { q.now = now } }

// WithDisplayHook is called every time a notification moves onto the display.
func WithDisplayHook(fn func(n *notification.Notification)) Option {
	return func(q *Queue) { q.onDisplay = fn }
}

// entry pins a notification to its arrival sequence, which breaks urgency ties.
type entry struct {
	n   *notification.Notification
	seq uint64
}

type Queue struct {
	cfg  Config
	emit Emitter
	log  logx.Logger
	now  func() time.Time

	waiting   []*entry
	displayed []*entry
	history   []*notification.Notification

	nextID     uint32
	seq        uint64
	running    bool
	fullscreen bool

	onDisplay func(n *notification.Notification)
}

func New(cfg Config, emit Emitter, opts ...Option) *Queue {
	q := &Queue{
		cfg:     cfg,
		emit:    emit,
		now:     time.Now,
		running: true,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// SetConfig swaps limits and timeouts. The display set is re-evaluated on the
// next Tick.
func (q *Queue) SetConfig(cfg Config) {
	q.cfg = cfg
	q.trimHistory()
}

func (q *Queue) Config() Config { return q.cfg }

// ranks reports whether a must be surfaced before b: higher urgency first,
// then arrival order.
func ranks(a, b *entry) bool {
	if a.n.Urgency != b.n.Urgency {
		return a.n.Urgency > b.n.Urgency
	}
	return a.seq < b.seq
}

func insertSorted(list []*entry, e *entry) []*entry {
	i := sort.Search(len(list), func(i int) bool { return ranks(e, list[i]) })
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = e
	return list
}

func resort(list []*entry) {
	sort.SliceStable(list, func(i, j int) bool { return ranks(list[i], list[j]) })
}

func indexOf(list []*entry, id uint32) int {
	for i, e := range list {
		if e.n.ID == id {
			return i
		}
	}
	return -1
}

func removeAt(list []*entry, i int) []*entry {
	copy(list[i:], list[i+1:])
	list[len(list)-1] = nil
	return list[:len(list)-1]
}

// find looks an id up among live notifications.
func (q *Queue) find(id uint32) (e *entry, displayed bool) {
	if id == 0 {
		return nil, false
	}
	if i := indexOf(q.displayed, id); i >= 0 {
		return q.displayed[i], true
	}
	if i := indexOf(q.waiting, id); i >= 0 {
		return q.waiting[i], false
	}
	return nil, false
}

// Get returns the live notification with id, or nil.
func (q *Queue) Get(id uint32) *notification.Notification {
	if e, _ := q.find(id); e != nil {
		return e.n
	}
	return nil
}

func (q *Queue) nextFreeID() uint32 {
	for {
		q.nextID++
		if q.nextID == 0 {
			continue
		}
		if e, _ := q.find(q.nextID); e == nil {
			return q.nextID
		}
	}
}

// Displayed returns the displayed notifications in display order.
func (q *Queue) Displayed() []*notification.Notification { return notes(q.displayed) }

// Waiting returns the waiting notifications in the order they would surface.
func (q *Queue) Waiting() []*notification.Notification { return notes(q.waiting) }

// History returns history entries, oldest first.
func (q *Queue) History() []*notification.Notification {
	return append([]*notification.Notification(nil), q.history...)
}

func notes(list []*entry) []*notification.Notification {
	out := make([]*notification.Notification, len(list))
	for i, e := range list {
		out[i] = e.n
	}
	return out
}

func (q *Queue) LiveCount() int { return len(q.waiting) + len(q.displayed) }

func (q *Queue) Running() bool { return q.running }

// SetRunning pauses or resumes display. Reports whether the state changed.
func (q *Queue) SetRunning(v bool) bool {
	if q.running == v {
		return false
	}
	q.running = v
	if !q.log.IsZero() {
		q.log.Info("display state changed", logx.Bool("running", v))
	}
	return true
}

// SetFullscreen records whether a fullscreen window currently has focus.
func (q *Queue) SetFullscreen(v bool) bool {
	if q.fullscreen == v {
		return false
	}
	q.fullscreen = v
	return true
}
