// Package rules implements the declarative match/override rules that rewrite
// notifications before they are queued.
package rules

import (
	"fmt"
	"time"

	"notifyd/internal/notification"
)

// Origin tells builtin rules apart from the ones loaded from config. Reloading
// config only ever replaces UserDefined rules.
type Origin int

const (
	Builtin Origin = iota
	UserDefined
)

func (o Origin) String() string {
	if o == Builtin {
		return "builtin"
	}
	return "user"
}

// Rule is one match/override entry.
//
// Match side: every non-nil pattern and every set filter must hold (AND).
// Override side: only set fields are written; unset means "leave alone".
type Rule struct {
	Name   string
	Origin Origin

	AppName      *Pattern
	DesktopEntry *Pattern
	Summary      *Pattern
	Body         *Pattern
	Icon         *Pattern
	Category     *Pattern
	StackTag     *Pattern

	MatchUrgency   notification.Urgency // UrgencyNone: any
	MatchTransient *bool

	Timeout       *time.Duration
	Urgency       notification.Urgency // UrgencyNone: unset
	Fullscreen    notification.Fullscreen
	HistoryIgnore *bool
	SetTransient  *bool
	SkipDisplay   *bool
	Markup        notification.Markup
	NewIcon       string
	FG            string
	BG            string
	Frame         string
	Format        string
	Script        string
	SetStackTag   string
}

// New returns an empty rule: it matches everything and overrides nothing.
func New(name string, origin Origin) *Rule {
	return &Rule{
		Name:         name,
		Origin:       origin,
		MatchUrgency: notification.UrgencyNone,
		Urgency:      notification.UrgencyNone,
		Fullscreen:   notification.FSNull,
		Markup:       notification.MarkupNull,
	}
}

// Matches reports whether every predicate of r holds for n.
func (r *Rule) Matches(n *notification.Notification) bool {
	return r.AppName.Match(n.AppName) &&
		r.DesktopEntry.Match(n.DesktopEntry) &&
		r.Summary.Match(n.Summary) &&
		r.Body.Match(n.Body) &&
		r.Icon.Match(n.Icon) &&
		r.Category.Match(n.Category) &&
		r.StackTag.Match(n.StackTag) &&
		(r.MatchTransient == nil || *r.MatchTransient == n.Transient) &&
		(r.MatchUrgency == notification.UrgencyNone || r.MatchUrgency == n.Urgency)
}

// Apply writes every set override of r onto n.
func (r *Rule) Apply(n *notification.Notification) {
	if r.Timeout != nil {
		n.Timeout = *r.Timeout
	}
	if r.Urgency != notification.UrgencyNone {
		n.Urgency = r.Urgency
	}
	if r.Fullscreen != notification.FSNull {
		n.Fullscreen = r.Fullscreen
	}
	if r.HistoryIgnore != nil {
		n.HistoryIgnore = *r.HistoryIgnore
	}
	if r.SetTransient != nil {
		n.Transient = *r.SetTransient
	}
	if r.SkipDisplay != nil {
		n.SkipDisplay = *r.SkipDisplay
	}
	if r.Markup != notification.MarkupNull {
		n.Markup = r.Markup
	}
	if r.NewIcon != "" {
		n.ReplaceIcon(r.NewIcon)
	}
	if r.FG != "" {
		n.Colors.FG = r.FG
	}
	if r.BG != "" {
		n.Colors.BG = r.BG
	}
	if r.Frame != "" {
		n.Colors.Frame = r.Frame
	}
	if r.Format != "" {
		n.Format = r.Format
	}
	if r.Script != "" {
		n.Script = r.Script
	}
	if r.SetStackTag != "" {
		n.StackTag = r.SetStackTag
	}
}

// Err reports the first pattern that failed to compile. Such a rule is kept
// (it simply never matches) but config validation surfaces the error.
func (r *Rule) Err() error {
	for _, f := range []struct {
		field string
		p     *Pattern
	}{
		{"appname", r.AppName},
		{"desktop_entry", r.DesktopEntry},
		{"summary", r.Summary},
		{"body", r.Body},
		{"icon", r.Icon},
		{"category", r.Category},
		{"stack_tag", r.StackTag},
	} {
		if err := f.p.Err(); err != nil {
			return fmt.Errorf("rule %q: %s pattern %q: %w", r.Name, f.field, f.p.String(), err)
		}
	}
	return nil
}
