package schedule

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "notifyd/pkg/logx"
)

// Runner runs named jobs on cron schedules. Setting a name again replaces its
// schedule; jobs never overlap with themselves.
type Runner struct {
	log logx.Logger
	c   *cron.Cron

	mu   sync.Mutex
	jobs map[string]job
}

type job struct {
	id   cron.EntryID
	spec ParsedSpec
}

func NewRunner(log logx.Logger, loc *time.Location) *Runner {
	if loc == nil {
		loc = time.Local
	}
	cl := cronLogger{log: log}
	return &Runner{
		log: log,
		c: cron.New(
			cron.WithParser(cronParser),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		jobs: map[string]job{},
	}
}

// Set schedules fn under name. An empty raw schedule removes the job.
func (r *Runner) Set(name, raw string, fn func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(raw) == "" {
		r.removeLocked(name)
		return nil
	}
	spec, err := ParseSchedule(raw)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	if old, ok := r.jobs[name]; ok && old.spec == spec {
		return nil
	}
	sched, err := spec.Schedule()
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}

	r.removeLocked(name)
	id := r.c.Schedule(sched, cron.FuncJob(fn))
	r.jobs[name] = job{id: id, spec: spec}
	if !r.log.IsZero() {
		r.log.Info("job scheduled",
			logx.String("job", name),
			logx.String("kind", spec.Kind.String()),
			logx.String("spec", spec.String()),
		)
	}
	return nil
}

func (r *Runner) removeLocked(name string) {
	old, ok := r.jobs[name]
	if !ok {
		return
	}
	r.c.Remove(old.id)
	delete(r.jobs, name)
	if !r.log.IsZero() {
		r.log.Info("job removed", logx.String("job", name))
	}
}

// Next reports when name fires next.
func (r *Runner) Next(name string) (time.Time, bool) {
	r.mu.Lock()
	j, ok := r.jobs[name]
	r.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	e := r.c.Entry(j.id)
	if !e.Valid() {
		return time.Time{}, false
	}
	return e.Next, !e.Next.IsZero()
}

func (r *Runner) Start() { r.c.Start() }

// Stop stops scheduling and waits for running jobs until ctx is done.
func (r *Runner) Stop(ctx context.Context) error {
	done := r.c.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if l.log.IsZero() {
		return
	}
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	if l.log.IsZero() {
		return
	}
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
