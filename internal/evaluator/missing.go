package evaluator

import (
	"math"

	"alerteval/internal/domain"
	"alerteval/internal/identity"
	"alerteval/internal/templatefmt"
)

func nan() float64 {
	return math.NaN()
}

// payloadFunc fills the kind-specific payload of an event.
type payloadFunc func(*domain.AlertEvent)

// detectMissing handles missing and missing-recovery for one present tag-set.
// Params: key, latest non-NaN timestamp (-1 when none), latest value, and payload builder.
// Returns: true when the identity was decided and breach checks must be skipped.
func (c *cycle) detectMissing(key identity.Key, latestTs int64, latest float64, payload payloadFunc) bool {
	if !c.alert.MissingEnabled {
		return false
	}

	if latestTs < 0 {
		lastSeen := c.store.LastSeen(key.Hash)
		if lastSeen >= 0 && c.nowSec-lastSeen < c.alert.MissingIntervalSec {
			return false
		}
		if !c.claim(key.Hash) {
			return true
		}
		c.out.Stats.Missing++
		c.emit(key, domain.SignalMissing, func(event *domain.AlertEvent, details *templatefmt.Details) {
			payload(event)
			details.Reason = templatefmt.ReasonMissing
			details.Value = nan()
		})
		return true
	}

	if c.store.CurrentState(key.Hash) != domain.SignalMissing {
		return false
	}
	if !c.claim(key.Hash) {
		return true
	}
	c.out.Stats.Recovered++
	c.emit(key, domain.SignalGood, func(event *domain.AlertEvent, details *templatefmt.Details) {
		payload(event)
		details.Reason = templatefmt.ReasonMissingRecovery
		details.Value = latest
	})
	return true
}

// scanStored runs absent-identity missing detection or auto-recovery over stored records.
// Params: suppression set; identities in it are left untouched.
// Returns: cancellation error only.
func (c *cycle) scanStored(suppressed map[uint64]struct{}) error {
	switch {
	case c.alert.MissingEnabled:
		return c.scanAbsent(suppressed)
	case c.alert.AutoRecover:
		return c.scanAutoRecover(suppressed)
	default:
		return nil
	}
}

// scanAbsent raises MISSING for stored identities absent from this cycle's batch.
// Suppressed identities keep their state.
func (c *cycle) scanAbsent(suppressed map[uint64]struct{}) error {
	for hash, record := range c.store.ForAlert(c.alert.Namespace, c.alert.ID) {
		if err := c.tick(); err != nil {
			return err
		}
		if _, ok := c.present[hash]; ok {
			continue
		}
		if _, ok := c.claimed[hash]; ok {
			continue
		}
		if _, ok := suppressed[hash]; ok {
			c.out.Stats.Suppressed++
			continue
		}
		if len(record.Tags) == 0 {
			c.out.Stats.Errors++
			c.logger.Warn("stored identity without tags skipped", "alert_hash", hash)
			continue
		}
		if record.LastSeenSec >= 0 && c.nowSec-record.LastSeenSec < c.alert.MissingIntervalSec {
			continue
		}

		key := identity.Key{Namespace: record.Namespace, AlertID: record.AlertID, Tags: record.Tags, Hash: hash}
		c.claim(hash)
		c.out.Stats.Missing++
		c.emit(key, domain.SignalMissing, func(event *domain.AlertEvent, details *templatefmt.Details) {
			c.blankPayload(event)
			details.Reason = templatefmt.ReasonMissing
			details.Value = nan()
		})
	}
	return nil
}

// scanAutoRecover raises GOOD for BAD/WARN identities silent longer than the auto-recovery interval.
func (c *cycle) scanAutoRecover(suppressed map[uint64]struct{}) error {
	for hash, record := range c.store.ForAlert(c.alert.Namespace, c.alert.ID) {
		if err := c.tick(); err != nil {
			return err
		}
		if record.State != domain.SignalBad && record.State != domain.SignalWarn {
			continue
		}
		if _, ok := suppressed[hash]; ok {
			continue
		}
		if _, ok := c.claimed[hash]; ok {
			continue
		}
		silence := c.alert.SlidingWindowSec
		if record.LastSeenSec >= 0 {
			silence = c.nowSec - record.LastSeenSec
			if silence <= c.alert.AutoRecoveryIntervalSec {
				continue
			}
		}
		if len(record.Tags) == 0 {
			c.out.Stats.Errors++
			c.logger.Warn("stored identity without tags skipped", "alert_hash", hash)
			continue
		}

		key := identity.Key{Namespace: record.Namespace, AlertID: record.AlertID, Tags: record.Tags, Hash: hash}
		c.claim(hash)
		c.out.Stats.Recovered++
		c.emit(key, domain.SignalGood, func(event *domain.AlertEvent, details *templatefmt.Details) {
			c.blankPayload(event)
			details.Reason = templatefmt.ReasonAutoRecovery
			details.Value = nan()
			details.Silence = secondsToDuration(silence)
		})
	}
	return nil
}

// blankPayload fills a payload without observed values for identities absent from the batch.
func (c *cycle) blankPayload(event *domain.AlertEvent) {
	event.Kind = c.eventKind()
	switch event.Kind {
	case domain.EventPeriodOverPeriod:
		event.Anomaly = &domain.AnomalyPayload{
			TimestampSec: c.nowSec,
			Observed:     domain.Float(nan()),
			Predicted:    domain.Float(nan()),
			UpperBad:     domain.Float(nan()),
			UpperWarn:    domain.Float(nan()),
			LowerWarn:    domain.Float(nan()),
			LowerBad:     domain.Float(nan()),
		}
	case domain.EventSingleMetricSummary:
		event.Summary = &domain.SummaryPayload{
			Comparator: c.alert.Comparator,
			Aggregator: c.alert.Aggregator,
			Threshold:  domain.Float(c.reportedThreshold()),
			Value:      domain.Float(nan()),
		}
	default:
		event.Metric = &domain.MetricPayload{
			Comparator:     c.alert.Comparator,
			Sampler:        c.alert.Sampler,
			Threshold:      domain.Float(c.reportedThreshold()),
			BreachingValue: domain.Float(nan()),
		}
	}
}
