package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type journalSendFunc func(msg string, pri journal.Priority, vars map[string]string) error

type journalEntry struct {
	msg  string
	pri  journal.Priority
	vars map[string]string
}

// journalSink is a zerolog.LevelWriter that forwards events to journald from
// a single worker, never blocking the caller.
type journalSink struct {
	send journalSendFunc

	mu       sync.Mutex
	limiter  *rate.Limiter
	minLevel zerolog.Level
	queue    chan journalEntry
	once     sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func newJournalSink(send journalSendFunc) *journalSink {
	if send == nil {
		send = journal.Send
	}
	return &journalSink{
		send:     send,
		limiter:  rate.NewLimiter(rate.Limit(20), 20),
		minLevel: zerolog.InfoLevel,
		queue:    make(chan journalEntry, 256),
	}
}

func (j *journalSink) available() bool { return journal.Enabled() }

func (j *journalSink) configure(cfg JournalConfig) {
	rps := cfg.RatePerSec
	if rps < 1 {
		rps = 20
	}
	j.mu.Lock()
	j.minLevel = parseLevel(cfg.MinLevel, zerolog.InfoLevel)
	j.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	j.mu.Unlock()
}

func (j *journalSink) start(parent context.Context) {
	j.once.Do(func() {
		ctx, cancel := context.WithCancel(parent)
		j.mu.Lock()
		j.cancel = cancel
		j.mu.Unlock()
		j.wg.Add(1)
		go func() {
			defer j.wg.Done()
			j.worker(ctx)
		}()
	})
}

func (j *journalSink) stop() {
	j.mu.Lock()
	cancel := j.cancel
	j.cancel = nil
	j.mu.Unlock()
	if cancel != nil {
		cancel()
		j.wg.Wait()
	}
}

func (j *journalSink) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-j.queue:
			_ = j.send(it.msg, it.pri, it.vars)
		}
	}
}

func (j *journalSink) Write(p []byte) (int, error) {
	return j.WriteLevel(zerolog.InfoLevel, p)
}

func (j *journalSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	j.mu.Lock()
	lim := j.limiter
	min := j.minLevel
	j.mu.Unlock()

	if level < min || !lim.Allow() {
		return len(p), nil
	}
	ent, ok := journalEntryFromJSON(level, p)
	if !ok {
		return len(p), nil
	}
	select {
	case j.queue <- ent:
	default:
		// drop
	}
	return len(p), nil
}

func journalEntryFromJSON(level zerolog.Level, p []byte) (journalEntry, bool) {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		msg := strings.TrimSpace(string(p))
		return journalEntry{msg: msg, pri: journalPriority(level)}, msg != ""
	}
	msg, _ := m[zerolog.MessageFieldName].(string)

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	vars := make(map[string]string, len(m))
	for _, k := range keys {
		switch k {
		case zerolog.MessageFieldName, zerolog.LevelFieldName, zerolog.TimestampFieldName:
			continue
		}
		name := journalVarName(k)
		if name == "" {
			continue
		}
		vars[name] = fmt.Sprint(m[k])
	}
	return journalEntry{msg: msg, pri: journalPriority(level), vars: vars}, true
}

// journalVarName maps a field key onto journald's [A-Z0-9_] variable names.
// Keys cannot start with an underscore; those are reserved for journald.
func journalVarName(k string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(k) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := strings.TrimLeft(b.String(), "_")
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		name = "F_" + name
	}
	return name
}

func journalPriority(level zerolog.Level) journal.Priority {
	switch level {
	case zerolog.PanicLevel:
		return journal.PriCrit
	case zerolog.FatalLevel:
		return journal.PriCrit
	case zerolog.ErrorLevel:
		return journal.PriErr
	case zerolog.WarnLevel:
		return journal.PriWarning
	case zerolog.InfoLevel:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}
