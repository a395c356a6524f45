package notification

import (
	"fmt"
	"strings"
)

type Urgency int

const (
	UrgencyNone Urgency = iota - 1
	UrgencyLow
	UrgencyNormal
	UrgencyCritical
)

func (u Urgency) String() string {
	switch u {
	case UrgencyLow:
		return "low"
	case UrgencyNormal:
		return "normal"
	case UrgencyCritical:
		return "critical"
	default:
		return "none"
	}
}

// ParseUrgency accepts the config spellings (low, normal, critical).
func ParseUrgency(s string) (Urgency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return UrgencyLow, nil
	case "normal":
		return UrgencyNormal, nil
	case "critical":
		return UrgencyCritical, nil
	default:
		return UrgencyNone, fmt.Errorf("invalid urgency %q", s)
	}
}

// Markup is how much markup in the body is honored.
type Markup int

const (
	MarkupNull Markup = iota
	MarkupNo
	MarkupStrip
	MarkupFull
)

func (m Markup) String() string {
	switch m {
	case MarkupNo:
		return "no"
	case MarkupStrip:
		return "strip"
	case MarkupFull:
		return "full"
	default:
		return "null"
	}
}

func ParseMarkup(s string) (Markup, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "no", "none", "false":
		return MarkupNo, nil
	case "strip":
		return MarkupStrip, nil
	case "full", "yes", "true":
		return MarkupFull, nil
	default:
		return MarkupNull, fmt.Errorf("invalid markup %q", s)
	}
}

// Fullscreen is what happens to a notification while a fullscreen window
// has focus.
type Fullscreen int

const (
	FSNull Fullscreen = iota
	FSShow
	FSDelay
	FSPushback
)

func (f Fullscreen) String() string {
	switch f {
	case FSShow:
		return "show"
	case FSDelay:
		return "delay"
	case FSPushback:
		return "pushback"
	default:
		return "null"
	}
}

func ParseFullscreen(s string) (Fullscreen, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "show":
		return FSShow, nil
	case "delay":
		return FSDelay, nil
	case "pushback":
		return FSPushback, nil
	default:
		return FSNull, fmt.Errorf("invalid fullscreen %q", s)
	}
}

// Reason is the NotificationClosed reason code.
type Reason uint32

const (
	ReasonExpired Reason = 1 + iota
	ReasonDismissed
	ReasonClosedByCall
	ReasonUndefined
)

// Normalize maps anything outside 1..4 to ReasonUndefined.
func (r Reason) Normalize() Reason {
	if r < ReasonExpired || r > ReasonUndefined {
		return ReasonUndefined
	}
	return r
}

func (r Reason) String() string {
	switch r {
	case ReasonExpired:
		return "expired"
	case ReasonDismissed:
		return "dismissed"
	case ReasonClosedByCall:
		return "closed"
	default:
		return "undefined"
	}
}
