// Package script runs the per-notification scripts that rules attach.
package script

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"notifyd/internal/eventbus"
	"notifyd/internal/fdn"
	"notifyd/internal/notification"
	logx "notifyd/pkg/logx"
)

type Config struct {
	// RatePerSec <= 0 disables the limit.
	RatePerSec int
	Timeout    time.Duration
}

// ExecFunc runs one script to completion.
type ExecFunc func(ctx context.Context, path string, args, env []string) error

func execCommand(ctx context.Context, path string, args, env []string) error {
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = append(os.Environ(), env...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if len(out) > 0 {
			return fmt.Errorf("%w: %s", err, truncate(string(out), 256))
		}
		return err
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

type Runner struct {
	log  logx.Logger
	exec ExecFunc

	mu      sync.Mutex
	limiter *rate.Limiter
	timeout time.Duration

	wg sync.WaitGroup
}

type Option func(*Runner)

// WithExec replaces os/exec, for tests.
func WithExec(fn ExecFunc) Option { return func(r *Runner) { r.exec = fn } }

func New(log logx.Logger, cfg Config, opts ...Option) *Runner {
	r := &Runner{log: log, exec: execCommand}
	for _, o := range opts {
		o(r)
	}
	r.Configure(cfg)
	return r
}

// Configure swaps the rate limit and timeout. Scripts already running keep
// their old deadline.
func (r *Runner) Configure(cfg Config) {
	limit := rate.Inf
	burst := 1
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
		burst = cfg.RatePerSec
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.limiter == nil {
		r.limiter = rate.NewLimiter(limit, burst)
	} else {
		r.limiter.SetLimit(limit)
		r.limiter.SetBurst(burst)
	}
	r.timeout = timeout
}

// Run consumes displayed events until ctx is done or events is closed, then
// waits for the scripts it started.
func (r *Runner) Run(ctx context.Context, events <-chan eventbus.Event) error {
	defer r.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if e.Type != eventbus.NotificationDisplayed {
				continue
			}
			ev, ok := e.Data.(fdn.DisplayedEvent)
			if !ok || !ev.First || ev.Notification == nil || ev.Notification.Script == "" {
				continue
			}
			r.Start(ctx, ev.Notification)
		}
	}
}

// Start launches the script of n in the background unless the rate limit is
// exhausted. Reports whether it was started.
func (r *Runner) Start(ctx context.Context, n *notification.Notification) bool {
	r.mu.Lock()
	allowed := r.limiter.Allow()
	timeout := r.timeout
	r.mu.Unlock()

	if !allowed {
		if !r.log.IsZero() {
			r.log.Warn("script skipped, rate limit reached",
				logx.String("script", n.Script),
				logx.Uint64("id", uint64(n.ID)),
			)
		}
		return false
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil && !r.log.IsZero() {
				r.log.Error("script runner panic", logx.Any("panic", rec), logx.Stack(logx.StackTrace(3, 32)))
			}
		}()
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		err := r.exec(ctx, n.Script, Args(n), Env(n))
		if r.log.IsZero() {
			return
		}
		if err != nil {
			r.log.Warn("script failed",
				logx.String("script", n.Script),
				logx.Uint64("id", uint64(n.ID)),
				logx.Duration("took", time.Since(start)),
				logx.Err(err),
			)
			return
		}
		r.log.Debug("script finished",
			logx.String("script", n.Script),
			logx.Uint64("id", uint64(n.ID)),
			logx.Duration("took", time.Since(start)),
		)
	}()
	return true
}

// Wait blocks until every started script returned.
func (r *Runner) Wait() { r.wg.Wait() }

// Args is the positional argument list: appname summary body icon urgency.
func Args(n *notification.Notification) []string {
	return []string{n.AppName, n.Summary, n.Body, n.Icon, n.Urgency.String()}
}

// Env is added to the script's inherited environment.
func Env(n *notification.Notification) []string {
	return []string{
		"NOTIFYD_ID=" + strconv.FormatUint(uint64(n.ID), 10),
		"NOTIFYD_APP_NAME=" + n.AppName,
		"NOTIFYD_SUMMARY=" + n.Summary,
		"NOTIFYD_BODY=" + n.Body,
		"NOTIFYD_ICON_PATH=" + n.Icon,
		"NOTIFYD_URGENCY=" + n.Urgency.String(),
		"NOTIFYD_CATEGORY=" + n.Category,
		"NOTIFYD_STACK_TAG=" + n.StackTag,
		"NOTIFYD_DESKTOP_ENTRY=" + n.DesktopEntry,
		"NOTIFYD_PROGRESS=" + strconv.Itoa(n.Progress),
		"NOTIFYD_TIMESTAMP=" + strconv.FormatInt(n.Timestamp.Unix(), 10),
	}
}
