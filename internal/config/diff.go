package config

import (
	"reflect"
	"sort"
	"strings"

	logx "notifyd/pkg/logx"
)

// Change describes what a reload touched.
type Change struct {
	// Sections lists the changed top-level sections, sorted.
	Sections []string
	// Attrs are log fields summarizing the new values.
	Attrs []logx.Field
	// Rules names the rules that were added, removed or edited, sorted.
	Rules []string
	// RestartRequired is set when a section changed that only applies at
	// startup (bus.name).
	RestartRequired bool
}

func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// SummarizeConfigChange compares two configs section by section.
func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change

	if oldCfg.Logging != newCfg.Logging {
		ch.Sections = append(ch.Sections, "logging")
		ch.Attrs = append(ch.Attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.journal_enabled", newCfg.Logging.Journal.Enabled),
		)
	}

	if strings.TrimSpace(oldCfg.Bus.Name) != strings.TrimSpace(newCfg.Bus.Name) {
		ch.Sections = append(ch.Sections, "bus")
		ch.RestartRequired = true
		ch.Attrs = append(ch.Attrs, logx.String("bus.name", newCfg.Bus.Name))
	}

	if oldCfg.Queue != newCfg.Queue {
		ch.Sections = append(ch.Sections, "queue")
		ch.Attrs = append(ch.Attrs,
			logx.Int("queue.max_displayed", newCfg.Queue.MaxDisplayed),
			logx.Int("queue.history_length", newCfg.Queue.HistoryLength),
			logx.Bool("queue.sticky_history", newCfg.Queue.StickyHistory),
			logx.Bool("queue.stack_duplicates", newCfg.Queue.StackDuplicates),
		)
	}

	if oldCfg.Timeouts != newCfg.Timeouts {
		ch.Sections = append(ch.Sections, "timeouts")
		ch.Attrs = append(ch.Attrs,
			logx.String("timeouts.default", newCfg.Timeouts.Default),
			logx.String("timeouts.critical", newCfg.Timeouts.Critical),
		)
	}

	if !strings.EqualFold(strings.TrimSpace(oldCfg.Markup), strings.TrimSpace(newCfg.Markup)) {
		ch.Sections = append(ch.Sections, "markup")
		ch.Attrs = append(ch.Attrs, logx.String("markup", newCfg.Markup))
	}

	if oldCfg.HistoryPrune != newCfg.HistoryPrune {
		ch.Sections = append(ch.Sections, "history_prune")
		ch.Attrs = append(ch.Attrs,
			logx.String("history_prune.schedule", newCfg.HistoryPrune.Schedule),
			logx.String("history_prune.max_age", newCfg.HistoryPrune.MaxAge),
		)
	}

	if oldCfg.Scripts != newCfg.Scripts {
		ch.Sections = append(ch.Sections, "scripts")
		ch.Attrs = append(ch.Attrs,
			logx.Int("scripts.rate_per_sec", newCfg.Scripts.RatePerSec),
			logx.String("scripts.timeout", newCfg.Scripts.Timeout),
		)
	}

	ch.Rules = diffRules(oldCfg.Rules, newCfg.Rules)
	if len(ch.Rules) > 0 || len(oldCfg.Rules) != len(newCfg.Rules) {
		ch.Sections = append(ch.Sections, "rules")
		ch.Attrs = append(ch.Attrs,
			logx.Int("rules.count", len(newCfg.Rules)),
			logx.Int("rules.changed_count", len(ch.Rules)),
		)
	}

	sort.Strings(ch.Sections)
	return ch
}

// diffRules matches rules by name. Order changes alone are reported through
// the section, not by name.
func diffRules(oldRules, newRules []RuleConfig) []string {
	index := func(rs []RuleConfig) map[string]RuleConfig {
		m := make(map[string]RuleConfig, len(rs))
		for _, r := range rs {
			m[r.Name] = r
		}
		return m
	}
	oldM, newM := index(oldRules), index(newRules)

	var out []string
	for name, o := range oldM {
		n, ok := newM[name]
		if !ok || !reflect.DeepEqual(o, n) {
			out = append(out, name)
		}
	}
	for name := range newM {
		if _, ok := oldM[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
