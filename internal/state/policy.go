package state

import (
	"strings"

	"alerteval/internal/domain"
)

// DoNotNag disables periodic re-notification.
const DoNotNag int64 = -1

// DefaultTransitions returns the allow-set used when an alert configures none.
func DefaultTransitions() []string {
	return []string{
		"unknowntowarn",
		"unknowntobad",
		"goodtowarn",
		"goodtobad",
		"warntobad",
		"badtowarn",
		"warntogood",
		"badtogood",
	}
}

// Policy decides whether a state transition is notify-worthy.
// Params: lower-cased "<from>to<to>" allow-set, MISSING flag, and nag interval.
// Returns: pure decisions consulted by Store.Raise.
type Policy struct {
	allowed         map[string]struct{}
	notifyOnMissing bool
	nagIntervalSec  int64
}

// NewPolicy builds transition policy.
// Params: transitions (nil selects defaults), notifyOnMissing, nagIntervalSec (<0 disables nag).
// Returns: immutable policy value.
func NewPolicy(transitions []string, notifyOnMissing bool, nagIntervalSec int64) Policy {
	if transitions == nil {
		transitions = DefaultTransitions()
	}
	allowed := make(map[string]struct{}, len(transitions))
	for _, transition := range transitions {
		allowed[strings.ToLower(strings.TrimSpace(transition))] = struct{}{}
	}
	if nagIntervalSec < 0 {
		nagIntervalSec = DoNotNag
	}
	return Policy{allowed: allowed, notifyOnMissing: notifyOnMissing, nagIntervalSec: nagIntervalSec}
}

// ShouldNotify reports whether from -> to must emit an event.
// Params: previous and new signal.
// Returns: notifyOnMissing for MISSING and missing-recovery, allow-set membership otherwise.
func (p Policy) ShouldNotify(from, to domain.Signal) bool {
	if to == domain.SignalMissing || (from == domain.SignalMissing && to == domain.SignalGood) {
		return p.notifyOnMissing
	}
	_, ok := p.allowed[from.Lower()+"to"+to.Lower()]
	return ok
}

// NagEnabled reports whether re-notification is configured.
func (p Policy) NagEnabled() bool {
	return p.nagIntervalSec >= 0
}

// NagIntervalSec returns configured nag interval or DoNotNag.
func (p Policy) NagIntervalSec() int64 {
	return p.nagIntervalSec
}

// NagDue reports whether the nag interval elapsed since the last notification.
// Params: last notification and current time in unix seconds.
// Returns: false when nag is disabled.
func (p Policy) NagDue(lastNotifiedSec, nowSec int64) bool {
	if !p.NagEnabled() {
		return false
	}
	return nowSec-lastNotifiedSec >= p.nagIntervalSec
}
