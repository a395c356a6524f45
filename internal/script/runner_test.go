package script

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"notifyd/internal/eventbus"
	"notifyd/internal/fdn"
	"notifyd/internal/notification"
	logx "notifyd/pkg/logx"
)

type call struct {
	path string
	args []string
	env  []string
}

type fakeExec struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (f *fakeExec) run(_ context.Context, path string, args, env []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{path: path, args: args, env: env})
	return f.err
}

func (f *fakeExec) all() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func scripted(id uint32, script string) *notification.Notification {
	n := notification.New()
	n.ID = id
	n.AppName = "mail"
	n.Summary = "new"
	n.Body = "body"
	n.Icon = "mail-unread"
	n.Urgency = notification.UrgencyCritical
	n.Category = "email.arrived"
	n.StackTag = "inbox"
	n.Script = script
	return n
}

func displayed(n *notification.Notification, first bool) eventbus.Event {
	return eventbus.Event{
		Type: eventbus.NotificationDisplayed,
		Data: fdn.DisplayedEvent{Notification: n, First: first},
	}
}

func TestArgsAndEnv(t *testing.T) {
	t.Parallel()
	n := scripted(7, "/bin/true")
	require.Equal(t, []string{"mail", "new", "body", "mail-unread", "critical"}, Args(n))

	env := Env(n)
	require.Contains(t, env, "NOTIFYD_ID=7")
	require.Contains(t, env, "NOTIFYD_CATEGORY=email.arrived")
	require.Contains(t, env, "NOTIFYD_STACK_TAG=inbox")
	require.Contains(t, env, "NOTIFYD_URGENCY=critical")
}

func TestRunOnlyFirstDisplayWithScript(t *testing.T) {
	t.Parallel()
	fx := &fakeExec{}
	r := New(logx.Nop(), Config{Timeout: time.Second}, WithExec(fx.run))

	events := make(chan eventbus.Event, 8)
	events <- displayed(scripted(1, "/usr/bin/hook"), true)
	events <- displayed(scripted(1, "/usr/bin/hook"), false)
	events <- displayed(scripted(2, ""), true)
	events <- eventbus.Event{Type: eventbus.NotificationQueued, Data: scripted(3, "/usr/bin/hook")}
	close(events)

	require.NoError(t, r.Run(context.Background(), events))
	calls := fx.all()
	require.Len(t, calls, 1)
	require.Equal(t, "/usr/bin/hook", calls[0].path)
	require.Contains(t, calls[0].env, "NOTIFYD_ID=1")
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	fx := &fakeExec{}
	r := New(logx.Nop(), Config{RatePerSec: 2, Timeout: time.Second}, WithExec(fx.run))

	started := 0
	for i := 0; i < 5; i++ {
		if r.Start(context.Background(), scripted(uint32(i+1), "/usr/bin/hook")) {
			started++
		}
	}
	r.Wait()
	require.Equal(t, 2, started, "burst equals the per-second rate")
	require.Len(t, fx.all(), 2)

	r.Configure(Config{})
	require.True(t, r.Start(context.Background(), scripted(9, "/usr/bin/hook")), "0 disables the limit")
	r.Wait()
}

func TestFailureIsLoggedNotFatal(t *testing.T) {
	t.Parallel()
	fx := &fakeExec{err: errors.New("exit status 1")}
	r := New(logx.Nop(), Config{}, WithExec(fx.run))
	require.True(t, r.Start(context.Background(), scripted(1, "/usr/bin/false")))
	r.Wait()
	require.Len(t, fx.all(), 1)
}

func TestTimeoutCancelsScript(t *testing.T) {
	t.Parallel()
	var got error
	r := New(logx.Nop(), Config{Timeout: 20 * time.Millisecond}, WithExec(func(ctx context.Context, _ string, _, _ []string) error {
		<-ctx.Done()
		got = ctx.Err()
		return got
	}))
	require.True(t, r.Start(context.Background(), scripted(1, "/usr/bin/sleep")))
	r.Wait()
	require.ErrorIs(t, got, context.DeadlineExceeded)
}
