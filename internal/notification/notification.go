// Package notification holds the record that represents one desktop
// notification while it travels through the daemon.
//
// A Notification has a single owner at any time. The protocol layer builds it,
// the rule engine mutates it, then it is handed to the queue, which keeps the
// only long-lived pointer. Anything that leaves the owning goroutine (events,
// script hooks) gets a Clone.
package notification

import (
	"strings"
	"time"
)

// Colors are optional color overrides. Empty means "not set".
type Colors struct {
	FG    string
	BG    string
	Frame string
}

// Action is one (key, label) pair of a notification's action list.
type Action struct {
	Key   string
	Label string
}

// Actions is the ordered action list. A nil *Actions means the notification
// carries no actions at all; a non-nil value is never empty.
type Actions struct {
	List []Action
}

// ParseActions turns the flat [key, label, key, label, ...] wire list into
// Actions. An odd trailing key is dropped. Returns nil when nothing is left.
func ParseActions(raw []string) *Actions {
	if len(raw) < 2 {
		return nil
	}
	out := &Actions{List: make([]Action, 0, len(raw)/2)}
	for i := 0; i+1 < len(raw); i += 2 {
		out.List = append(out.List, Action{Key: raw[i], Label: raw[i+1]})
	}
	return out
}

// Has reports whether key is one of the action keys.
func (a *Actions) Has(key string) bool {
	if a == nil {
		return false
	}
	for _, it := range a.List {
		if it.Key == key {
			return true
		}
	}
	return false
}

// Len is nil-safe.
func (a *Actions) Len() int {
	if a == nil {
		return 0
	}
	return len(a.List)
}

// Notification is the mutable record for one notification.
type Notification struct {
	ID         uint32
	ReplacesID uint32

	AppName      string
	Summary      string
	Body         string
	Icon         string
	RawIcon      *RawImage
	Category     string
	StackTag     string
	DesktopEntry string

	Urgency Urgency
	// Timeout < 0 means "use the default for the urgency", 0 means never expire.
	Timeout       time.Duration
	Transient     bool
	Markup        Markup
	Fullscreen    Fullscreen
	SkipDisplay   bool
	HistoryIgnore bool
	Resident      bool

	// Progress is the "value" hint, -1 when absent.
	Progress int
	Format   string
	Script   string
	Colors   Colors
	Actions  *Actions

	// ScriptRun is set once the notification reached the display, so the
	// script fires only once per content.
	ScriptRun bool

	// Client is the unique bus name of the caller. Valid is cleared once a
	// NotificationClosed signal went out, so it is never sent twice.
	Client string
	Valid  bool

	DupCount  int
	Timestamp time.Time
	// Start is when the notification was (last) put on display; zero while waiting.
	Start time.Time
}

// New returns a notification with every policy field at its "unset" sentinel.
func New() *Notification {
	return &Notification{
		Urgency:    UrgencyNone,
		Timeout:    -1,
		Markup:     MarkupNull,
		Fullscreen: FSNull,
		Progress:   -1,
		Timestamp:  time.Now(),
	}
}

// Clone returns a deep copy. The raw image buffer and the action list are
// copied so the clone shares no mutable state with n.
func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	cp := *n
	if n.RawIcon != nil {
		cp.RawIcon = n.RawIcon.clone()
	}
	if n.Actions != nil {
		cp.Actions = &Actions{List: append([]Action(nil), n.Actions.List...)}
	}
	return &cp
}

// ReplaceIcon swaps the icon path and drops any embedded image, which would
// otherwise win over the new path at render time.
func (n *Notification) ReplaceIcon(path string) {
	n.Icon = path
	n.RawIcon = nil
}

// IsEmpty reports whether there is nothing to show.
func (n *Notification) IsEmpty() bool {
	return strings.TrimSpace(n.Summary) == "" && strings.TrimSpace(n.Body) == ""
}

// SameContent reports whether two notifications would render the same,
// which is what duplicate stacking keys on.
func (n *Notification) SameContent(o *Notification) bool {
	return n.AppName == o.AppName &&
		n.Summary == o.Summary &&
		n.Body == o.Body &&
		n.Icon == o.Icon &&
		n.Urgency == o.Urgency &&
		n.RawIcon == nil && o.RawIcon == nil
}

// UpdateFrom replaces the content and policy of n with that of src while
// keeping n's identity (ID) and arrival position (Timestamp). The client of
// src takes over the signal channel.
func (n *Notification) UpdateFrom(src *Notification) {
	id, ts := n.ID, n.Timestamp
	*n = *src
	n.ID = id
	n.Timestamp = ts
}

// Invalidate clears Valid and reports whether it was set, so that the caller
// emitting the close signal is the only one that ever does.
func (n *Notification) Invalidate() bool {
	if n == nil || !n.Valid {
		return false
	}
	n.Valid = false
	return true
}
