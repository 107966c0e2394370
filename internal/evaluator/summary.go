package evaluator

import (
	"math"

	"alerteval/internal/domain"
	"alerteval/internal/identity"
	"alerteval/internal/templatefmt"
)

// evaluateSummary runs the scalar-per-tag-set algorithm.
// Params: summary payload and optional heartbeat result.
// Returns: cancellation error only.
func (c *cycle) evaluateSummary(result domain.SummaryResult, suppress *domain.SuppressResult) error {
	suppressed := c.suppressed(suppress)
	observedAt := result.Grid.EndSec
	if observedAt <= 0 {
		observedAt = c.nowSec
	}

	type scalar struct {
		key   identity.Key
		value float64
	}
	order := make([]scalar, 0, len(result.Series))
	for _, raw := range result.Series {
		if err := c.tick(); err != nil {
			return err
		}
		key, ok := c.key(raw.Tags)
		if !ok || !c.track(key, suppressed) {
			continue
		}
		order = append(order, scalar{key: key, value: float64(raw.Value)})
	}

	for _, item := range order {
		latestTs := int64(-1)
		if !math.IsNaN(item.value) {
			latestTs = observedAt
		}
		c.detectMissing(item.key, latestTs, item.value, c.summaryPayload(c.alert.Comparator, c.reportedThreshold(), item.value))
	}
	for _, item := range order {
		if !math.IsNaN(item.value) {
			c.store.UpdateDataPoint(item.key, observedAt)
		}
	}
	if err := c.scanStored(suppressed); err != nil {
		return err
	}

	levels := c.levels(nil, nil, nil)
	for _, item := range order {
		if err := c.tick(); err != nil {
			return err
		}
		if _, ok := c.claimed[item.key.Hash]; ok {
			continue
		}
		for _, lvl := range levels {
			if !lvl.comparator.Satisfied(item.value, lvl.threshold) {
				continue
			}
			c.claim(item.key.Hash)
			value := item.value
			c.emit(item.key, lvl.signal, func(event *domain.AlertEvent, details *templatefmt.Details) {
				c.summaryPayload(lvl.comparator, lvl.threshold, value)(event)
				details.Comparator = lvl.comparator.Word()
				details.Threshold = lvl.threshold
				details.Value = value
				details.Phrase = templatefmt.SamplerPhrase(string(c.alert.Sampler), string(c.alert.Aggregator), c.alert.SlidingWindow())
			})
			break
		}
	}
	return nil
}

// summaryPayload returns builder of the summary payload.
func (c *cycle) summaryPayload(cmp domain.Comparator, threshold, value float64) payloadFunc {
	return func(event *domain.AlertEvent) {
		event.Kind = domain.EventSingleMetricSummary
		event.Summary = &domain.SummaryPayload{
			Comparator: cmp,
			Aggregator: c.alert.Aggregator,
			Threshold:  domain.Float(threshold),
			Value:      domain.Float(value),
		}
	}
}
