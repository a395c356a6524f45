package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"notifyd/internal/notification"
)

type closedSignal struct {
	id     uint32
	reason notification.Reason
}

type actionSignal struct {
	id  uint32
	key string
}

// recorder guards on validity exactly like the bus emitter does.
type recorder struct {
	closed  []closedSignal
	actions []actionSignal
}

func (r *recorder) NotificationClosed(n *notification.Notification, reason notification.Reason) {
	if !n.Invalidate() {
		return
	}
	r.closed = append(r.closed, closedSignal{id: n.ID, reason: reason})
}

func (r *recorder) ActionInvoked(n *notification.Notification, key string) {
	if !n.Valid {
		return
	}
	r.actions = append(r.actions, actionSignal{id: n.ID, key: key})
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) time.Time {
	c.t = c.t.Add(d)
	return c.t
}

func newQueue(t *testing.T, cfg Config) (*Queue, *recorder, *clock) {
	t.Helper()
	rec := &recorder{}
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	return New(cfg, rec, WithClock(clk.now)), rec, clk
}

func note(app, summary string, u notification.Urgency) *notification.Notification {
	n := notification.New()
	n.AppName = app
	n.Summary = summary
	n.Urgency = u
	n.Client = ":1.7"
	n.Valid = true
	return n
}

func TestInsertAssignsUniqueNonZeroIDs(t *testing.T) {
	t.Parallel()
	q, _, _ := newQueue(t, DefaultConfig())

	seen := map[uint32]bool{}
	for i := 0; i < 50; i++ {
		id := q.Insert(note("app", "msg "+string(rune('a'+i%26))+time.Duration(i).String(), notification.UrgencyNormal))
		require.NotZero(t, id)
		require.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
		require.NotNil(t, q.Get(id))
	}
}

func TestInsertSkipsZeroAndLiveIDsOnWrap(t *testing.T) {
	t.Parallel()
	q, _, _ := newQueue(t, DefaultConfig())
	q.nextID = ^uint32(0) - 1

	a := q.Insert(note("app", "a", notification.UrgencyNormal))
	require.Equal(t, ^uint32(0), a)

	q.nextID = 0
	b := q.Insert(note("app", "b", notification.UrgencyNormal))
	require.Equal(t, uint32(1), b)

	q.nextID = 0
	c := q.Insert(note("app", "c", notification.UrgencyNormal))
	require.Equal(t, uint32(2), c, "live id 1 must be skipped")
}

func TestInsertRejectsEmpty(t *testing.T) {
	t.Parallel()
	q, _, _ := newQueue(t, DefaultConfig())
	require.Zero(t, q.Insert(note("app", "  ", notification.UrgencyNormal)))
	require.Zero(t, q.LiveCount())
}

func TestDisplayCommands(t *testing.T) {
	t.Parallel()
	q, _, _ := newQueue(t, DefaultConfig())

	require.Zero(t, q.Insert(note("ctl", CommandPause, notification.UrgencyNormal)))
	require.False(t, q.Running())
	require.Zero(t, q.Insert(note("ctl", CommandToggle, notification.UrgencyNormal)))
	require.True(t, q.Running())
	require.Zero(t, q.Insert(note("ctl", CommandResume, notification.UrgencyNormal)))
	require.True(t, q.Running())
	require.Zero(t, q.LiveCount())
}

func TestReplaceByIDInPlace(t *testing.T) {
	t.Parallel()
	q, rec, clk := newQueue(t, DefaultConfig())

	id := q.Insert(note("app", "first", notification.UrgencyNormal))
	require.True(t, q.Tick(clk.now()))
	require.Len(t, q.Displayed(), 1)

	upd := note("app", "second", notification.UrgencyNormal)
	upd.ReplacesID = id
	require.Equal(t, id, q.Insert(upd))

	require.Len(t, q.Displayed(), 1)
	require.Empty(t, q.Waiting())
	require.Empty(t, q.History())
	require.Empty(t, rec.closed)
	require.Equal(t, "second", q.Get(id).Summary)
}

func TestReplaceUnknownIDGetsFreshID(t *testing.T) {
	t.Parallel()
	q, _, _ := newQueue(t, DefaultConfig())
	n := note("app", "x", notification.UrgencyNormal)
	n.ReplacesID = 4242
	id := q.Insert(n)
	require.NotZero(t, id)
	require.NotEqual(t, uint32(4242), id)
}

func TestStackTagMerges(t *testing.T) {
	t.Parallel()
	q, rec, clk := newQueue(t, DefaultConfig())

	first := note("volume", "50%", notification.UrgencyNormal)
	first.StackTag = "vol"
	id := q.Insert(first)
	q.Tick(clk.now())

	second := note("volume", "60%", notification.UrgencyNormal)
	second.StackTag = "vol"
	require.Equal(t, id, q.Insert(second))

	require.Equal(t, 1, q.LiveCount())
	require.Equal(t, "60%", q.Get(id).Summary)
	require.Empty(t, rec.closed)

	// Same tag from another app is a separate notification.
	other := note("mixer", "70%", notification.UrgencyNormal)
	other.StackTag = "vol"
	require.NotEqual(t, id, q.Insert(other))
	require.Equal(t, 2, q.LiveCount())
}

func TestStackDuplicates(t *testing.T) {
	t.Parallel()
	q, _, _ := newQueue(t, DefaultConfig())
	id := q.Insert(note("mail", "new mail", notification.UrgencyNormal))
	require.Equal(t, id, q.Insert(note("mail", "new mail", notification.UrgencyNormal)))
	require.Equal(t, 1, q.Get(id).DupCount)

	cfg := DefaultConfig()
	cfg.StackDuplicates = false
	q2, _, _ := newQueue(t, cfg)
	a := q2.Insert(note("mail", "new mail", notification.UrgencyNormal))
	b := q2.Insert(note("mail", "new mail", notification.UrgencyNormal))
	require.NotEqual(t, a, b)
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()
	q, rec, clk := newQueue(t, DefaultConfig())
	id := q.Insert(note("app", "x", notification.UrgencyNormal))
	q.Tick(clk.now())

	require.True(t, q.CloseByID(id, notification.ReasonClosedByCall))
	require.False(t, q.CloseByID(id, notification.ReasonClosedByCall))
	require.False(t, q.CloseByID(0, notification.ReasonClosedByCall))

	// Expiry after the explicit close finds nothing.
	q.Tick(clk.advance(time.Hour))

	require.Equal(t, []closedSignal{{id: id, reason: notification.ReasonClosedByCall}}, rec.closed)
	require.Len(t, q.History(), 1)
}

func TestExpiryThenCloseSignalsOnce(t *testing.T) {
	t.Parallel()
	q, rec, clk := newQueue(t, DefaultConfig())
	id := q.Insert(note("app", "x", notification.UrgencyNormal))
	q.Tick(clk.now())
	q.Tick(clk.advance(10 * time.Second))
	q.CloseByID(id, notification.ReasonClosedByCall)

	require.Equal(t, []closedSignal{{id: id, reason: notification.ReasonExpired}}, rec.closed)
}

func TestTransientAndHistoryIgnoreSkipHistory(t *testing.T) {
	t.Parallel()
	q, rec, _ := newQueue(t, DefaultConfig())
	a := note("app", "a", notification.UrgencyNormal)
	a.Transient = true
	b := note("app", "b", notification.UrgencyNormal)
	b.HistoryIgnore = true
	q.CloseByID(q.Insert(a), notification.ReasonDismissed)
	q.CloseByID(q.Insert(b), notification.ReasonDismissed)

	require.Empty(t, q.History())
	require.Len(t, rec.closed, 2)
}

func TestTimeoutResolution(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Timeouts = Timeouts{Default: 7 * time.Second, Low: 3 * time.Second, Normal: -1, Critical: 0}
	q, _, _ := newQueue(t, cfg)

	tests := []struct {
		name    string
		urgency notification.Urgency
		timeout time.Duration
		want    time.Duration
	}{
		{name: "explicit wins", urgency: notification.UrgencyLow, timeout: 2 * time.Second, want: 2 * time.Second},
		{name: "explicit zero never", urgency: notification.UrgencyLow, timeout: 0, want: 0},
		{name: "urgency default", urgency: notification.UrgencyLow, timeout: -1, want: 3 * time.Second},
		{name: "unset urgency default falls back", urgency: notification.UrgencyNormal, timeout: -1, want: 7 * time.Second},
		{name: "critical never", urgency: notification.UrgencyCritical, timeout: -1, want: 0},
		{name: "no urgency uses global", urgency: notification.UrgencyNone, timeout: -1, want: 7 * time.Second},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			n := note("app", "x", tt.urgency)
			n.Timeout = tt.timeout
			require.Equal(t, tt.want, q.EffectiveTimeout(n))
		})
	}
}

func TestCriticalDefaultAndNeverExpire(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Timeouts.Critical = 30 * time.Second
	q, rec, clk := newQueue(t, cfg)

	crit := q.Insert(note("app", "crit", notification.UrgencyCritical))
	forever := note("app", "forever", notification.UrgencyNormal)
	forever.Timeout = 0
	never := q.Insert(forever)
	q.Tick(clk.now())

	q.Tick(clk.advance(29 * time.Second))
	require.NotNil(t, q.Get(crit), "critical expired before its default")

	q.Tick(clk.advance(time.Second))
	require.Nil(t, q.Get(crit))

	q.Tick(clk.advance(24 * time.Hour))
	require.NotNil(t, q.Get(never))
	require.Len(t, rec.closed, 1)
}

func TestOrderingAndMaxDisplayed(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.MaxDisplayed = 2
	q, _, clk := newQueue(t, cfg)

	low := q.Insert(note("app", "low", notification.UrgencyLow))
	n1 := q.Insert(note("app", "n1", notification.UrgencyNormal))
	n2 := q.Insert(note("app", "n2", notification.UrgencyNormal))
	q.Tick(clk.now())

	require.Equal(t, []uint32{n1, n2}, ids(q.Displayed()))
	require.Equal(t, []uint32{low}, ids(q.Waiting()))

	crit := q.Insert(note("app", "crit", notification.UrgencyCritical))
	require.True(t, q.Tick(clk.now()))
	require.Equal(t, []uint32{crit, n1}, ids(q.Displayed()))
	require.Equal(t, []uint32{n2, low}, ids(q.Waiting()))

	q.CloseByID(crit, notification.ReasonDismissed)
	q.Tick(clk.now())
	require.Equal(t, []uint32{n1, n2}, ids(q.Displayed()))
}

func TestNextDeadline(t *testing.T) {
	t.Parallel()
	q, _, clk := newQueue(t, DefaultConfig())
	_, ok := q.NextDeadline()
	require.False(t, ok)

	start := clk.now()
	short := note("app", "short", notification.UrgencyNormal)
	short.Timeout = 2 * time.Second
	q.Insert(short)
	q.Insert(note("app", "default", notification.UrgencyNormal))
	q.Tick(start)

	dl, ok := q.NextDeadline()
	require.True(t, ok)
	require.Equal(t, start.Add(2*time.Second), dl)
}

func TestPauseMovesDisplayedBack(t *testing.T) {
	t.Parallel()
	q, _, clk := newQueue(t, DefaultConfig())
	normal := q.Insert(note("app", "n", notification.UrgencyNormal))
	crit := q.Insert(note("app", "c", notification.UrgencyCritical))
	q.Tick(clk.now())
	require.Len(t, q.Displayed(), 2)

	require.True(t, q.SetRunning(false))
	q.Tick(clk.now())
	require.Equal(t, []uint32{crit}, ids(q.Displayed()))
	require.Equal(t, []uint32{normal}, ids(q.Waiting()))

	q.SetRunning(true)
	q.Tick(clk.now())
	require.Len(t, q.Displayed(), 2)
}

func TestFullscreenPolicy(t *testing.T) {
	t.Parallel()
	q, _, clk := newQueue(t, DefaultConfig())

	shown := note("app", "shown", notification.UrgencyNormal)
	shown.Fullscreen = notification.FSPushback
	pushed := q.Insert(shown)
	q.Tick(clk.now())

	q.SetFullscreen(true)
	delayed := note("app", "delayed", notification.UrgencyNormal)
	delayed.Fullscreen = notification.FSDelay
	d := q.Insert(delayed)
	always := note("app", "always", notification.UrgencyCritical)
	always.Fullscreen = notification.FSShow
	a := q.Insert(always)
	q.Tick(clk.now())

	require.Equal(t, []uint32{a}, ids(q.Displayed()))
	require.ElementsMatch(t, []uint32{pushed, d}, ids(q.Waiting()))

	q.SetFullscreen(false)
	q.Tick(clk.now())
	require.Len(t, q.Displayed(), 3)
}

func TestSkipDisplayGoesToHistory(t *testing.T) {
	t.Parallel()
	q, rec, clk := newQueue(t, DefaultConfig())
	n := note("app", "quiet", notification.UrgencyNormal)
	n.SkipDisplay = true
	id := q.Insert(n)
	q.Tick(clk.now())

	require.Empty(t, q.Displayed())
	require.Len(t, q.History(), 1)
	require.Equal(t, []closedSignal{{id: id, reason: notification.ReasonUndefined}}, rec.closed)
}

func TestInvokeAction(t *testing.T) {
	t.Parallel()
	q, rec, clk := newQueue(t, DefaultConfig())

	n := note("app", "x", notification.UrgencyNormal)
	n.Actions = notification.ParseActions([]string{"default", "Open"})
	id := q.Insert(n)
	res := note("app", "y", notification.UrgencyNormal)
	res.Actions = notification.ParseActions([]string{"reply", "Reply"})
	res.Resident = true
	rid := q.Insert(res)
	q.Tick(clk.now())

	require.False(t, q.InvokeAction(id, "missing"))
	require.True(t, q.InvokeAction(id, "default"))
	require.Nil(t, q.Get(id))
	require.True(t, q.InvokeAction(rid, "reply"))
	require.NotNil(t, q.Get(rid))

	require.Equal(t, []actionSignal{{id, "default"}, {rid, "reply"}}, rec.actions)
	require.Equal(t, []closedSignal{{id: id, reason: notification.ReasonDismissed}}, rec.closed)
}

func TestHistoryBoundAndPop(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.HistoryLength = 2
	q, rec, clk := newQueue(t, cfg)

	var closed []uint32
	for _, s := range []string{"a", "b", "c"} {
		id := q.Insert(note("app", s, notification.UrgencyNormal))
		q.CloseByID(id, notification.ReasonDismissed)
		closed = append(closed, id)
	}
	require.Equal(t, closed[1:], ids(q.History()))

	popped := q.PopHistory()
	require.Equal(t, closed[2], popped)
	q.Tick(clk.now())
	require.Equal(t, []uint32{popped}, ids(q.Displayed()))
	require.Zero(t, q.Get(popped).Timeout, "sticky history never expires")

	// Already signalled once: a second close stays silent.
	before := len(rec.closed)
	q.CloseByID(popped, notification.ReasonDismissed)
	require.Len(t, rec.closed, before)
}

func TestPruneHistory(t *testing.T) {
	t.Parallel()
	q, _, clk := newQueue(t, DefaultConfig())

	old := note("app", "old", notification.UrgencyNormal)
	old.Timestamp = clk.now().Add(-48 * time.Hour)
	fresh := note("app", "fresh", notification.UrgencyNormal)
	fresh.Timestamp = clk.now()
	q.CloseByID(q.Insert(old), notification.ReasonDismissed)
	q.CloseByID(q.Insert(fresh), notification.ReasonDismissed)

	require.Equal(t, 1, q.PruneHistory(clk.now(), 24*time.Hour))
	require.Len(t, q.History(), 1)
	require.Equal(t, "fresh", q.History()[0].Summary)
}

func TestCloseAllAndDrain(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.MaxDisplayed = 1
	q, rec, clk := newQueue(t, cfg)
	q.Insert(note("app", "a", notification.UrgencyNormal))
	q.Insert(note("app", "b", notification.UrgencyNormal))
	q.Tick(clk.now())

	require.Equal(t, 2, q.CloseAll(notification.ReasonDismissed))
	require.Zero(t, q.LiveCount())
	require.Len(t, rec.closed, 2)
	require.Equal(t, 2, q.Drain())
	require.Empty(t, q.History())
}

func ids(ns []*notification.Notification) []uint32 {
	out := make([]uint32, len(ns))
	for i, n := range ns {
		out[i] = n.ID
	}
	return out
}
