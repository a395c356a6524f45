package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"notifyd/internal/notification"
	"notifyd/internal/queue"
	"notifyd/internal/rules"
	"notifyd/internal/schedule"
	logx "notifyd/pkg/logx"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// optionalDuration parses raw, mapping an empty value to -1 ("unset").
func optionalDuration(path, raw string) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return -1, nil
	}
	return ParseDurationField(path, raw)
}

// LogConfig maps the logging section onto logx.
func (c *Config) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
		Journal: logx.JournalConfig{
			Enabled:    c.Logging.Journal.Enabled,
			MinLevel:   c.Logging.Journal.MinLevel,
			RatePerSec: c.Logging.Journal.RatePerSec,
		},
	}
}

// QueueConfig resolves the queue limits and timeouts.
func (c *Config) QueueConfig() (queue.Config, error) {
	var (
		out queue.Config
		err error
	)
	out.MaxDisplayed = c.Queue.MaxDisplayed
	out.HistoryLength = c.Queue.HistoryLength
	out.StickyHistory = c.Queue.StickyHistory
	out.StackDuplicates = c.Queue.StackDuplicates
	out.CriticalWhenPaused = c.Queue.CriticalWhenPaused

	if out.Timeouts.Default, err = ParseDurationField("timeouts.default", c.Timeouts.Default); err != nil {
		return out, err
	}
	if out.Timeouts.Low, err = optionalDuration("timeouts.low", c.Timeouts.Low); err != nil {
		return out, err
	}
	if out.Timeouts.Normal, err = optionalDuration("timeouts.normal", c.Timeouts.Normal); err != nil {
		return out, err
	}
	if out.Timeouts.Critical, err = optionalDuration("timeouts.critical", c.Timeouts.Critical); err != nil {
		return out, err
	}
	return out, nil
}

// DefaultMarkup is the markup given to notifications no rule set one for.
func (c *Config) DefaultMarkup() notification.Markup {
	m, err := notification.ParseMarkup(c.Markup)
	if err != nil {
		return notification.MarkupFull
	}
	return m
}

// PruneMaxAge is history_prune.max_age; 0 disables pruning.
func (c *Config) PruneMaxAge() time.Duration {
	d, _ := ParseDurationField("history_prune.max_age", c.HistoryPrune.MaxAge)
	return d
}

func (c *Config) ScriptTimeout() time.Duration {
	d, _ := ParseDurationOrDefault("scripts.timeout", c.Scripts.Timeout, 10*time.Second)
	return d
}

// BuildRules compiles the rules list. Enum and duration mistakes are errors;
// malformed patterns are not, they only make the rule inert. Use
// rules.Set.Errs to list those.
func (c *Config) BuildRules() ([]*rules.Rule, error) {
	out := make([]*rules.Rule, 0, len(c.Rules))
	var errs []error
	for i, rc := range c.Rules {
		r, err := rc.build(i)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, r)
	}
	return out, errors.Join(errs...)
}

func (rc RuleConfig) build(idx int) (*rules.Rule, error) {
	name := strings.TrimSpace(rc.Name)
	if name == "" {
		name = fmt.Sprintf("rule-%d", idx)
	}
	path := "rules." + name
	r := rules.New(name, rules.UserDefined)

	r.AppName = rules.NewPattern(rc.AppName)
	r.DesktopEntry = rules.NewPattern(rc.DesktopEntry)
	r.Summary = rules.NewPattern(rc.Summary)
	r.Body = rules.NewPattern(rc.Body)
	r.Icon = rules.NewPattern(rc.Icon)
	r.Category = rules.NewPattern(rc.Category)
	r.StackTag = rules.NewPattern(rc.StackTag)
	r.MatchTransient = rc.MatchTransient

	var err error
	if rc.MatchUrgency != "" {
		if r.MatchUrgency, err = notification.ParseUrgency(rc.MatchUrgency); err != nil {
			return nil, fmt.Errorf("%s.match_urgency: %w", path, err)
		}
	}
	if rc.Urgency != "" {
		if r.Urgency, err = notification.ParseUrgency(rc.Urgency); err != nil {
			return nil, fmt.Errorf("%s.urgency: %w", path, err)
		}
	}
	if rc.Fullscreen != "" {
		if r.Fullscreen, err = notification.ParseFullscreen(rc.Fullscreen); err != nil {
			return nil, fmt.Errorf("%s.fullscreen: %w", path, err)
		}
	}
	if rc.Markup != "" {
		if r.Markup, err = notification.ParseMarkup(rc.Markup); err != nil {
			return nil, fmt.Errorf("%s.markup: %w", path, err)
		}
	}
	if strings.TrimSpace(rc.Timeout) != "" {
		d, err := ParseDurationField(path+".timeout", rc.Timeout)
		if err != nil {
			return nil, err
		}
		r.Timeout = &d
	}

	r.HistoryIgnore = rc.HistoryIgnore
	r.SetTransient = rc.SetTransient
	r.SkipDisplay = rc.SkipDisplay
	r.NewIcon = rc.NewIcon
	r.FG = rc.FG
	r.BG = rc.BG
	r.Frame = rc.Frame
	r.Format = rc.Format
	r.Script = rc.Script
	r.SetStackTag = rc.SetStackTag
	return r, nil
}

// Validate checks everything the server would otherwise fail on at apply
// time. The error wraps ErrInvalid and lists every problem found.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		add(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if strings.TrimSpace(cfg.Bus.Name) == "" {
		add(errors.New("bus.name: must not be empty"))
	}
	if cfg.Queue.MaxDisplayed < 0 {
		add(errors.New("queue.max_displayed: must be >= 0"))
	}
	if cfg.Queue.HistoryLength < 0 {
		add(errors.New("queue.history_length: must be >= 0"))
	}
	_, err := cfg.QueueConfig()
	add(err)
	if _, err := notification.ParseMarkup(cfg.Markup); err != nil {
		add(fmt.Errorf("markup: %w", err))
	}
	if strings.TrimSpace(cfg.HistoryPrune.Schedule) != "" {
		if _, err := schedule.ParseSchedule(cfg.HistoryPrune.Schedule); err != nil {
			add(fmt.Errorf("history_prune.schedule: %w", err))
		}
	}
	_, err = ParseDurationField("history_prune.max_age", cfg.HistoryPrune.MaxAge)
	add(err)
	_, err = ParseDurationField("scripts.timeout", cfg.Scripts.Timeout)
	add(err)
	if cfg.Scripts.RatePerSec < 0 {
		add(errors.New("scripts.rate_per_sec: must be >= 0"))
	}
	_, err = cfg.BuildRules()
	add(err)

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
