package state

import (
	"testing"

	"alerteval/internal/domain"
)

var allSignals = []domain.Signal{
	domain.SignalUnknown,
	domain.SignalGood,
	domain.SignalWarn,
	domain.SignalBad,
	domain.SignalMissing,
}

func TestPolicyFollowsAllowSet(t *testing.T) {
	t.Parallel()

	policy := NewPolicy([]string{"GOODtoBAD", "warntogood"}, false, DoNotNag)
	for _, from := range allSignals {
		for _, to := range allSignals {
			if to == domain.SignalMissing || (from == domain.SignalMissing && to == domain.SignalGood) {
				continue
			}
			want := (from == domain.SignalGood && to == domain.SignalBad) || (from == domain.SignalWarn && to == domain.SignalGood)
			if got := policy.ShouldNotify(from, to); got != want {
				t.Fatalf("%s->%s: expected %v, got %v", from, to, want, got)
			}
		}
	}
}

func TestPolicyMissingUsesOnlyFlag(t *testing.T) {
	t.Parallel()

	everything := make([]string, 0, len(allSignals)*len(allSignals))
	for _, from := range allSignals {
		for _, to := range allSignals {
			everything = append(everything, from.Lower()+"to"+to.Lower())
		}
	}

	for _, notifyOnMissing := range []bool{false, true} {
		for _, transitions := range [][]string{{}, everything} {
			policy := NewPolicy(transitions, notifyOnMissing, DoNotNag)
			for _, from := range allSignals {
				if got := policy.ShouldNotify(from, domain.SignalMissing); got != notifyOnMissing {
					t.Fatalf("%s->MISSING with flag=%v: got %v", from, notifyOnMissing, got)
				}
			}
			if got := policy.ShouldNotify(domain.SignalMissing, domain.SignalGood); got != notifyOnMissing {
				t.Fatalf("missing recovery with flag=%v: got %v", notifyOnMissing, got)
			}
		}
	}
}

func TestPolicyDefaults(t *testing.T) {
	t.Parallel()

	policy := NewPolicy(nil, false, DoNotNag)
	if !policy.ShouldNotify(domain.SignalGood, domain.SignalBad) {
		t.Fatalf("expected goodtobad in default set")
	}
	if policy.ShouldNotify(domain.SignalBad, domain.SignalBad) {
		t.Fatalf("badtobad must not be in default set")
	}
	if policy.ShouldNotify(domain.SignalUnknown, domain.SignalGood) {
		t.Fatalf("unknowntogood must not be in default set")
	}
}

func TestPolicyNagDisabled(t *testing.T) {
	t.Parallel()

	policy := NewPolicy(nil, false, -5)
	if policy.NagEnabled() || policy.NagIntervalSec() != DoNotNag {
		t.Fatalf("expected nag disabled")
	}
	if policy.NagDue(0, 1<<40) {
		t.Fatalf("disabled nag must never be due")
	}
}
