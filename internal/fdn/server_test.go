package fdn

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/require"

	"notifyd/internal/eventbus"
	"notifyd/internal/notification"
	"notifyd/internal/queue"
	"notifyd/internal/rules"
	logx "notifyd/pkg/logx"
)

type signal struct {
	name   string
	id     uint32
	reason notification.Reason
	key    string
	client string
}

// fakeEmitter applies the same validity guard as the bus emitter.
type fakeEmitter struct {
	mu      sync.Mutex
	signals []signal
}

func (e *fakeEmitter) NotificationClosed(n *notification.Notification, reason notification.Reason) {
	if !n.Invalidate() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.signals = append(e.signals, signal{name: "closed", id: n.ID, reason: reason, client: n.Client})
}

func (e *fakeEmitter) ActionInvoked(n *notification.Notification, key string) {
	if !n.Valid {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.signals = append(e.signals, signal{name: "action", id: n.ID, key: key, client: n.Client})
}

func (e *fakeEmitter) all() []signal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]signal(nil), e.signals...)
}

type fakeDisplay struct {
	mu    sync.Mutex
	shown [][]uint32
}

func (d *fakeDisplay) Show(displayed []*notification.Notification) {
	ids := make([]uint32, len(displayed))
	for i, n := range displayed {
		ids[i] = n.ID
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shown = append(d.shown, ids)
}

func (d *fakeDisplay) last() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.shown) == 0 {
		return nil
	}
	return d.shown[len(d.shown)-1]
}

type harness struct {
	srv     *Server
	emit    *fakeEmitter
	display *fakeDisplay
	bus     eventbus.Bus
	ctx     context.Context
}

func defaultSettings() Settings {
	return Settings{Queue: queue.DefaultConfig(), Markup: notification.MarkupNo, PruneMaxAge: time.Hour}
}

func startServer(t *testing.T, st Settings, opts ...Option) *harness {
	t.Helper()
	h := &harness{emit: &fakeEmitter{}, display: &fakeDisplay{}, bus: eventbus.New()}
	opts = append([]Option{
		WithLogger(logx.Nop()),
		WithEmitter(h.emit),
		WithDisplay(h.display),
		WithEventBus(h.bus),
	}, opts...)
	h.srv = NewServer(st, opts...)

	runCtx, stop := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.srv.Run(runCtx) }()
	t.Cleanup(func() {
		stop()
		require.NoError(t, <-errc)
	})

	var cancel context.CancelFunc
	h.ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return h
}

func (h *harness) notify(t *testing.T, c NotifyCall) uint32 {
	t.Helper()
	if c.Sender == "" {
		c.Sender = ":1.9"
	}
	id, err := h.srv.Notify(h.ctx, c)
	require.NoError(t, err)
	return id
}

func (h *harness) snapshot(t *testing.T) Snapshot {
	t.Helper()
	snap, err := h.srv.Snapshot(h.ctx)
	require.NoError(t, err)
	return snap
}

func TestNotifyDisplaysAndCloses(t *testing.T) {
	t.Parallel()
	h := startServer(t, defaultSettings())

	id := h.notify(t, NotifyCall{AppName: "app", Summary: "hello", ExpireTimeout: 0})
	require.NotZero(t, id)

	snap := h.snapshot(t)
	require.Len(t, snap.Displayed, 1)
	require.Equal(t, []uint32{id}, h.display.last())

	require.NoError(t, h.srv.Close(h.ctx, id))
	require.NoError(t, h.srv.Close(h.ctx, id), "second close is a no-op")
	require.NoError(t, h.srv.Close(h.ctx, 4242), "unknown id is a no-op")
	h.snapshot(t)

	require.Equal(t, []signal{{name: "closed", id: id, reason: notification.ReasonClosedByCall, client: ":1.9"}}, h.emit.all())
	require.Empty(t, h.display.last())
}

func TestDiscardedNotifySignalsDismissed(t *testing.T) {
	t.Parallel()
	h := startServer(t, defaultSettings())

	id := h.notify(t, NotifyCall{AppName: "app", Summary: "  ", Body: ""})
	require.Zero(t, id)
	h.snapshot(t)
	require.Equal(t, []signal{{name: "closed", id: 0, reason: notification.ReasonDismissed, client: ":1.9"}}, h.emit.all())
}

func TestReplaceKeepsID(t *testing.T) {
	t.Parallel()
	h := startServer(t, defaultSettings())

	id := h.notify(t, NotifyCall{AppName: "app", Summary: "v1"})
	again := h.notify(t, NotifyCall{AppName: "app", Summary: "v2", ReplacesID: id})
	require.Equal(t, id, again)

	snap := h.snapshot(t)
	require.Len(t, snap.Displayed, 1)
	require.Equal(t, "v2", snap.Displayed[0].Summary)
	require.Empty(t, h.emit.all(), "a replace does not close anything")
}

func TestExpiryFiresFromDeadlineTimer(t *testing.T) {
	t.Parallel()
	h := startServer(t, defaultSettings())

	id := h.notify(t, NotifyCall{AppName: "app", Summary: "short", ExpireTimeout: 20})
	require.Eventually(t, func() bool {
		for _, s := range h.emit.all() {
			if s.id == id && s.reason == notification.ReasonExpired {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	snap := h.snapshot(t)
	require.Empty(t, snap.Displayed)
	require.Len(t, snap.History, 1)
}

func TestInvokeActionThenDismiss(t *testing.T) {
	t.Parallel()
	h := startServer(t, defaultSettings())

	id := h.notify(t, NotifyCall{AppName: "app", Summary: "s", Actions: []string{"default", "Open"}})
	resident := h.notify(t, NotifyCall{
		AppName: "other", Summary: "r", Actions: []string{"snooze", "Snooze"},
		Hints: map[string]dbus.Variant{"resident": dbus.MakeVariant(true)},
	})

	ok, err := h.srv.InvokeAction(h.ctx, id, "default")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = h.srv.InvokeAction(h.ctx, id, "default")
	require.NoError(t, err)
	require.False(t, ok, "closed notification has no actions left")

	ok, err = h.srv.InvokeAction(h.ctx, resident, "snooze")
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, []signal{
		{name: "action", id: id, key: "default", client: ":1.9"},
		{name: "closed", id: id, reason: notification.ReasonDismissed, client: ":1.9"},
		{name: "action", id: resident, key: "snooze", client: ":1.9"},
	}, h.emit.all())
	require.Len(t, h.snapshot(t).Displayed, 1)
}

func TestPauseCommandAndRunningMirror(t *testing.T) {
	t.Parallel()
	var (
		mu       sync.Mutex
		mirrored []bool
	)
	h := startServer(t, defaultSettings(), WithRunningSink(func(v bool) {
		mu.Lock()
		defer mu.Unlock()
		mirrored = append(mirrored, v)
	}))
	events, unsubscribe := h.bus.Subscribe(32)
	defer unsubscribe()

	require.Zero(t, h.notify(t, NotifyCall{Summary: queue.CommandPause}))
	id := h.notify(t, NotifyCall{AppName: "app", Summary: "while paused"})

	snap := h.snapshot(t)
	require.False(t, snap.Running)
	require.Empty(t, snap.Displayed)
	require.Len(t, snap.Waiting, 1)

	// A change that arrives through the property is not echoed back.
	require.True(t, h.srv.offerRunning(true))
	snap = h.snapshot(t)
	require.True(t, snap.Running)
	require.Equal(t, id, snap.Displayed[0].ID)

	require.NoError(t, h.srv.SetRunning(h.ctx, false))
	h.snapshot(t)

	mu.Lock()
	require.Equal(t, []bool{false, false}, mirrored)
	mu.Unlock()

	var running []bool
	for len(events) > 0 {
		e := <-events
		if e.Type == eventbus.RunningChanged {
			running = append(running, e.Data.(bool))
		}
	}
	require.Equal(t, []bool{false, true, false}, running)
}

func TestSettingsRulesAndMarkup(t *testing.T) {
	t.Parallel()
	h := startServer(t, defaultSettings())

	escalate := rules.New("escalate", rules.UserDefined)
	escalate.AppName = rules.NewPattern("pager")
	escalate.Urgency = notification.UrgencyCritical

	st := defaultSettings()
	st.Rules = []*rules.Rule{escalate}
	st.Markup = notification.MarkupFull
	h.srv.Apply(st)
	require.Equal(t, notification.MarkupFull, h.srv.Markup())

	h.notify(t, NotifyCall{AppName: "pager", Summary: "disk full"})
	snap := h.snapshot(t)
	require.Len(t, snap.Displayed, 1)
	got := snap.Displayed[0]
	require.Equal(t, notification.UrgencyCritical, got.Urgency)
	require.Equal(t, notification.MarkupFull, got.Markup)
	require.Equal(t, notification.FSDelay, got.Fullscreen, "builtins run before user rules")
}

func TestCloseAllHistoryPopAndPrune(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	h := startServer(t, defaultSettings(), WithClock(clock))

	a := h.notify(t, NotifyCall{AppName: "a", Summary: "one"})
	b := h.notify(t, NotifyCall{AppName: "b", Summary: "two"})

	n, err := h.srv.CloseAll(h.ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, h.snapshot(t).History, 2)

	popped, err := h.srv.HistoryPop(h.ctx)
	require.NoError(t, err)
	require.Equal(t, b, popped)
	snap := h.snapshot(t)
	require.Len(t, snap.History, 1)
	require.Equal(t, time.Duration(0), snap.Displayed[0].Timeout, "sticky history never expires")

	ok, err := h.srv.CloseTop(h.ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mu.Lock()
	now = now.Add(2 * time.Hour)
	mu.Unlock()
	pruned, err := h.srv.Prune(h.ctx)
	require.NoError(t, err)
	require.Equal(t, 2, pruned)
	require.Empty(t, h.snapshot(t).History)

	// Every close was signalled exactly once.
	closed := map[uint32]int{}
	for _, s := range h.emit.all() {
		if s.name == "closed" {
			closed[s.id]++
		}
	}
	require.Equal(t, map[uint32]int{a: 1, b: 1}, closed)
}

func TestFullscreenDelaysNormal(t *testing.T) {
	t.Parallel()
	h := startServer(t, defaultSettings())

	changed, err := h.srv.SetFullscreen(h.ctx, true)
	require.NoError(t, err)
	require.True(t, changed)

	h.notify(t, NotifyCall{AppName: "app", Summary: "normal"})
	crit := h.notify(t, NotifyCall{AppName: "app", Summary: "critical",
		Hints: map[string]dbus.Variant{"urgency": dbus.MakeVariant(byte(2))}})

	snap := h.snapshot(t)
	require.Len(t, snap.Displayed, 1)
	require.Equal(t, crit, snap.Displayed[0].ID)
	require.Len(t, snap.Waiting, 1)

	_, err = h.srv.SetFullscreen(h.ctx, false)
	require.NoError(t, err)
	require.Len(t, h.snapshot(t).Displayed, 2)
}

func TestDisplayedEventFirstOnly(t *testing.T) {
	t.Parallel()
	h := startServer(t, defaultSettings())
	events, unsubscribe := h.bus.Subscribe(32)
	defer unsubscribe()

	id := h.notify(t, NotifyCall{AppName: "app", Summary: "s"})
	require.NoError(t, h.srv.SetRunning(h.ctx, false))
	require.NoError(t, h.srv.SetRunning(h.ctx, true))
	h.snapshot(t)

	var firsts []bool
	for len(events) > 0 {
		e := <-events
		if e.Type != eventbus.NotificationDisplayed {
			continue
		}
		ev := e.Data.(DisplayedEvent)
		require.Equal(t, id, ev.Notification.ID)
		firsts = append(firsts, ev.First)
	}
	require.Equal(t, []bool{true, false}, firsts)
}

func TestStoppedServer(t *testing.T) {
	t.Parallel()
	srv := NewServer(defaultSettings(), WithEmitter(&fakeEmitter{}))
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Run(ctx) }()
	cancel()
	require.NoError(t, <-errc)

	_, err := srv.Notify(context.Background(), NotifyCall{Summary: "late"})
	require.ErrorIs(t, err, ErrStopped)
	require.Error(t, srv.Run(context.Background()), "Run is single use")
}
