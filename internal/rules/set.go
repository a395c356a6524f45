package rules

import "notifyd/internal/notification"

// Set is the ordered rule list. Order is significant: for every field, the
// last matching rule that sets it wins.
//
// A Set is owned by the server loop and is not safe for concurrent use.
type Set struct {
	rules []*Rule
}

// NewSet returns a set holding the builtin rules followed by user.
func NewSet(user ...*Rule) *Set {
	s := &Set{}
	s.rules = append(s.rules, Builtins()...)
	s.rules = append(s.rules, user...)
	return s
}

func (s *Set) Len() int { return len(s.rules) }

// Rules returns a copy of the ordered rule list.
func (s *Set) Rules() []*Rule {
	return append([]*Rule(nil), s.rules...)
}

// Add appends r; it is evaluated after every rule already present.
func (s *Set) Add(r *Rule) {
	if r != nil {
		s.rules = append(s.rules, r)
	}
}

// ReplaceUserDefined drops every UserDefined rule and appends user in order.
// Builtin rules keep their position at the front.
func (s *Set) ReplaceUserDefined(user []*Rule) {
	kept := s.rules[:0:0]
	for _, r := range s.rules {
		if r.Origin == Builtin {
			kept = append(kept, r)
		}
	}
	s.rules = append(kept, user...)
}

// Apply runs every matching rule against n, in order, and returns n.
func (s *Set) Apply(n *notification.Notification) *notification.Notification {
	if s == nil || n == nil {
		return n
	}
	for _, r := range s.rules {
		if r.Matches(n) {
			r.Apply(n)
		}
	}
	return n
}

// Errs lists the rules whose patterns failed to compile.
func (s *Set) Errs() []error {
	var out []error
	for _, r := range s.rules {
		if err := r.Err(); err != nil {
			out = append(out, err)
		}
	}
	return out
}

// Builtins are the rules every set starts with: everything waits out a
// fullscreen window except critical notifications.
func Builtins() []*Rule {
	delay := New("fullscreen-delay-everything", Builtin)
	delay.Fullscreen = notification.FSDelay

	crit := New("fullscreen-show-critical", Builtin)
	crit.MatchUrgency = notification.UrgencyCritical
	crit.Fullscreen = notification.FSShow
	return []*Rule{delay, crit}
}
