// Package fdn serves org.freedesktop.Notifications on the session bus.
//
// All state lives in one goroutine, Server.Run. D-Bus handler goroutines turn
// calls into requests and wait for the loop to answer them.
package fdn

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"notifyd/internal/eventbus"
	"notifyd/internal/notification"
	"notifyd/internal/queue"
	"notifyd/internal/rules"
	logx "notifyd/pkg/logx"
)

var ErrStopped = errors.New("fdn: server stopped")

// Display renders the displayed set. Show is called from the loop after every
// iteration that changed it, so it must not block.
type Display interface {
	Show(displayed []*notification.Notification)
}

type logDisplay struct{ log logx.Logger }

func (d logDisplay) Show(displayed []*notification.Notification) {
	if d.log.IsZero() {
		return
	}
	ids := make([]string, len(displayed))
	for i, n := range displayed {
		ids[i] = n.AppName + ":" + n.Summary
	}
	d.log.Debug("display updated", logx.Int("count", len(displayed)), logx.Strs("items", ids))
}

// Settings is the reloadable part of the server state.
type Settings struct {
	Queue       queue.Config
	Rules       []*rules.Rule
	Markup      notification.Markup
	PruneMaxAge time.Duration
}

// ClosedEvent is the payload of eventbus.NotificationClosed.
type ClosedEvent struct {
	Notification *notification.Notification
	Reason       notification.Reason
}

// ActionEvent is the payload of eventbus.ActionInvoked.
type ActionEvent struct {
	Notification *notification.Notification
	Key          string
}

// DisplayedEvent is the payload of eventbus.NotificationDisplayed. First is
// set the first time this content reaches the display.
type DisplayedEvent struct {
	Notification *notification.Notification
	First        bool
}

type Option func(*Server)

func WithLogger(log logx.Logger) Option { return func(s *Server) { s.log = log } }

func WithEventBus(bus eventbus.Bus) Option { return func(s *Server) { s.bus = bus } }

func WithDisplay(d Display) Option { return func(s *Server) { s.display = d } }

// WithEmitter sends lifecycle signals somewhere other than the bus. Tests use
// it; Open installs the bus emitter otherwise.
func WithEmitter(e queue.Emitter) Option { return func(s *Server) { s.sig = e } }

func WithClock(now func() time.Time) Option { return func(s *Server) { s.now = now } }

// WithRunningSink is told about running changes that did not come from the
// bus property itself.
func WithRunningSink(fn func(bool)) Option { return func(s *Server) { s.runningSink = fn } }

type Server struct {
	log     logx.Logger
	bus     eventbus.Bus
	display Display
	sig     queue.Emitter
	now     func() time.Time
	decoder *Decoder

	q           *queue.Queue
	rules       *rules.Set
	markup      atomic.Int32
	pruneMaxAge time.Duration

	// runningSink mirrors loop-side running changes to the bus property.
	runningSink func(bool)

	// shown is the id list last handed to the display; redraw forces the
	// next Show after an in-place update.
	shown  []uint32
	redraw bool

	reqs     chan request
	settings chan Settings
	done     chan struct{}
	started  atomic.Bool
}

func NewServer(st Settings, opts ...Option) *Server {
	s := &Server{
		now:      time.Now,
		reqs:     make(chan request, 64),
		settings: make(chan Settings, 1),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.display == nil {
		s.display = logDisplay{log: s.log}
	}
	s.decoder = NewDecoder(s.log)
	s.rules = rules.NewSet(st.Rules...)
	s.markup.Store(int32(st.Markup))
	s.pruneMaxAge = st.PruneMaxAge
	s.q = queue.New(st.Queue, s,
		queue.WithLogger(s.log),
		queue.WithClock(s.now),
		queue.WithDisplayHook(s.displayed),
	)
	return s
}

// Markup is the configured default markup. Safe from any goroutine.
func (s *Server) Markup() notification.Markup {
	return notification.Markup(s.markup.Load())
}

// Apply hands new settings to the loop. Only the latest pending value is kept.
func (s *Server) Apply(st Settings) {
	s.markup.Store(int32(st.Markup))
	for {
		select {
		case s.settings <- st:
			return
		default:
		}
		select {
		case <-s.settings:
		default:
		}
	}
}

// Run owns the queue until ctx is done. Whatever is still queued is dropped
// without signalling.
func (s *Server) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("fdn: server already running")
	}
	defer close(s.done)

	timer := time.NewTimer(time.Hour)
	stopTimer(timer)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			dropped := s.q.Drain()
			if !s.log.IsZero() {
				s.log.Info("notification loop stopped", logx.Int("dropped", dropped))
			}
			return nil
		case r := <-s.reqs:
			// Settings applied before this request was sent must be in effect.
			s.drainSettings()
			s.handle(r)
		case st := <-s.settings:
			s.applySettings(st)
		case <-timer.C:
		}
		s.settle(timer)
	}
}

// settle runs the queue maintenance pass, pushes display changes out and
// re-arms the deadline timer.
func (s *Server) settle(timer *time.Timer) {
	changed := s.q.Tick(s.now())
	displayed := s.q.Displayed()
	ids := make([]uint32, len(displayed))
	for i, n := range displayed {
		ids[i] = n.ID
	}
	if changed || s.redraw || !sameIDs(ids, s.shown) {
		s.shown = ids
		s.redraw = false
		s.display.Show(displayed)
	}
	stopTimer(timer)
	if dl, ok := s.q.NextDeadline(); ok {
		d := dl.Sub(s.now())
		if d < 0 {
			d = 0
		}
		timer.Reset(d)
	}
}

func sameIDs(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (s *Server) drainSettings() {
	select {
	case st := <-s.settings:
		s.applySettings(st)
	default:
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func (s *Server) applySettings(st Settings) {
	s.q.SetConfig(st.Queue)
	s.rules.ReplaceUserDefined(st.Rules)
	s.pruneMaxAge = st.PruneMaxAge
	if !s.log.IsZero() {
		s.log.Info("settings applied",
			logx.Int("rules", s.rules.Len()),
			logx.Int("max_displayed", st.Queue.MaxDisplayed),
			logx.String("markup", st.Markup.String()),
		)
	}
}

func (s *Server) notify(n *notification.Notification) uint32 {
	n.Timestamp = s.now()
	s.rules.Apply(n)
	if n.Markup == notification.MarkupNull {
		n.Markup = s.Markup()
	}

	wasRunning := s.q.Running()
	id := s.q.Insert(n)
	if s.q.Running() != wasRunning {
		s.runningChanged(s.q.Running(), true)
	}
	if id == 0 {
		// The client still expects to learn the fate of its notification.
		s.NotificationClosed(n, notification.ReasonDismissed)
		return 0
	}
	if n.ID != id {
		// Merged into a live notification, which may be on display.
		s.redraw = true
		n = s.q.Get(id)
	}
	s.publish(eventbus.NotificationQueued, n.Clone())
	return id
}

func (s *Server) setRunning(v, mirror bool) {
	if s.q.SetRunning(v) {
		s.runningChanged(v, mirror)
	}
}

func (s *Server) runningChanged(v, mirror bool) {
	s.publish(eventbus.RunningChanged, v)
	if mirror && s.runningSink != nil {
		s.runningSink(v)
	}
}

// displayed is the queue's display hook.
func (s *Server) displayed(n *notification.Notification) {
	first := !n.ScriptRun
	n.ScriptRun = true
	s.publish(eventbus.NotificationDisplayed, DisplayedEvent{Notification: n.Clone(), First: first})
}

// NotificationClosed implements queue.Emitter: the event goes out before the
// signal, which clears Valid.
func (s *Server) NotificationClosed(n *notification.Notification, reason notification.Reason) {
	s.publish(eventbus.NotificationClosed, ClosedEvent{Notification: n.Clone(), Reason: reason})
	if s.sig != nil {
		s.sig.NotificationClosed(n, reason)
	}
}

func (s *Server) ActionInvoked(n *notification.Notification, key string) {
	s.publish(eventbus.ActionInvoked, ActionEvent{Notification: n.Clone(), Key: key})
	if s.sig != nil {
		s.sig.ActionInvoked(n, key)
	}
}

func (s *Server) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: data})
}
