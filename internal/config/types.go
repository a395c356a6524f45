package config

// Config is the on-disk configuration. Durations are Go duration strings.
//
// Decoding starts from Default(), so omitted keys keep their default value.
type Config struct {
	Logging      LoggingConfig      `json:"logging"`
	Bus          BusConfig          `json:"bus"`
	Queue        QueueConfig        `json:"queue"`
	Timeouts     TimeoutsConfig     `json:"timeouts"`
	Markup       string             `json:"markup"`
	HistoryPrune HistoryPruneConfig `json:"history_prune"`
	Scripts      ScriptsConfig      `json:"scripts"`
	Rules        []RuleConfig       `json:"rules,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Journal LoggingJournal `json:"journal"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingJournal struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// BusConfig selects the well-known name the server claims. Changing it
// requires a restart.
type BusConfig struct {
	Name string `json:"name"`
}

type QueueConfig struct {
	// MaxDisplayed 0 means unlimited.
	MaxDisplayed int `json:"max_displayed"`
	// HistoryLength 0 means unlimited.
	HistoryLength      int  `json:"history_length"`
	StickyHistory      bool `json:"sticky_history"`
	StackDuplicates    bool `json:"stack_duplicates"`
	CriticalWhenPaused bool `json:"critical_when_paused"`
}

// TimeoutsConfig holds the default timeouts. An empty per-urgency value falls
// back to Default; "0s" means never expire.
type TimeoutsConfig struct {
	Default  string `json:"default"`
	Low      string `json:"low,omitempty"`
	Normal   string `json:"normal,omitempty"`
	Critical string `json:"critical,omitempty"`
}

// HistoryPruneConfig drops old history entries on a schedule. An empty
// schedule disables pruning.
//
// Schedule accepts a cron expression (with optional seconds or a descriptor
// such as "@every 1h"), a Go duration ("30m") or an HH:MM interval ("02:30").
type HistoryPruneConfig struct {
	Schedule string `json:"schedule"`
	MaxAge   string `json:"max_age"`
}

type ScriptsConfig struct {
	RatePerSec int    `json:"rate_per_sec"`
	Timeout    string `json:"timeout"`
}

// RuleConfig is one entry of the rules list. Match keys are shell-style
// patterns; an omitted key matches anything. Override keys are only applied
// when set.
type RuleConfig struct {
	Name string `json:"name"`

	AppName      string `json:"appname,omitempty"`
	DesktopEntry string `json:"desktop_entry,omitempty"`
	Summary      string `json:"summary,omitempty"`
	Body         string `json:"body,omitempty"`
	Icon         string `json:"icon,omitempty"`
	Category     string `json:"category,omitempty"`
	StackTag     string `json:"stack_tag,omitempty"`

	MatchUrgency   string `json:"match_urgency,omitempty"`
	MatchTransient *bool  `json:"match_transient,omitempty"`

	Timeout       string `json:"timeout,omitempty"`
	Urgency       string `json:"urgency,omitempty"`
	Fullscreen    string `json:"fullscreen,omitempty"`
	HistoryIgnore *bool  `json:"history_ignore,omitempty"`
	SetTransient  *bool  `json:"set_transient,omitempty"`
	SkipDisplay   *bool  `json:"skip_display,omitempty"`
	Markup        string `json:"markup,omitempty"`
	NewIcon       string `json:"new_icon,omitempty"`
	FG            string `json:"fgcolor,omitempty"`
	BG            string `json:"bgcolor,omitempty"`
	Frame         string `json:"frcolor,omitempty"`
	Format        string `json:"format,omitempty"`
	Script        string `json:"script,omitempty"`
	SetStackTag   string `json:"set_stack_tag,omitempty"`
}

const DefaultBusName = "org.freedesktop.Notifications"

// Default is the configuration used for keys the file leaves out.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Bus:     BusConfig{Name: DefaultBusName},
		Queue: QueueConfig{
			HistoryLength:      20,
			StickyHistory:      true,
			StackDuplicates:    true,
			CriticalWhenPaused: true,
		},
		Timeouts: TimeoutsConfig{
			Default:  "10s",
			Low:      "10s",
			Normal:   "10s",
			Critical: "0s",
		},
		Markup:       "full",
		HistoryPrune: HistoryPruneConfig{Schedule: "@every 1h", MaxAge: "24h"},
		Scripts:      ScriptsConfig{RatePerSec: 4, Timeout: "10s"},
	}
}
