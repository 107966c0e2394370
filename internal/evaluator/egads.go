package evaluator

import (
	"fmt"

	"alerteval/internal/domain"
	"alerteval/internal/identity"
	"alerteval/internal/templatefmt"
)

type egadsSeries struct {
	key        identity.Key
	raw        domain.EgadsSeries
	timestamps []int64
	window     window
}

// evaluateEgads runs the anomaly-detection algorithm: the state follows the alert entry at the last timestamp.
// Params: egads payload and optional heartbeat result.
// Returns: cancellation error only.
func (c *cycle) evaluateEgads(result domain.EgadsResult, suppress *domain.SuppressResult) error {
	suppressed := c.suppressed(suppress)

	order := make([]egadsSeries, 0, len(result.Series))
	for _, raw := range result.Series {
		if err := c.tick(); err != nil {
			return err
		}
		key, ok := c.key(raw.Tags)
		if !ok {
			continue
		}
		if err := validateEgadsSeries(raw); err != nil {
			c.skipTagSet(key.Tags, err)
			continue
		}
		if !c.track(key, suppressed) {
			continue
		}
		timestamps := Timestamps(result.Grid, len(raw.Observed))
		order = append(order, egadsSeries{
			key:        key,
			raw:        raw,
			timestamps: timestamps,
			window:     alignWindow(timestamps, raw.Observed, int64(len(raw.Observed))),
		})
	}

	for _, es := range order {
		c.detectMissing(es.key, es.window.latestTs, es.window.latest, c.anomalyPayload(es, len(es.raw.Observed)-1, ""))
	}
	for _, es := range order {
		if es.window.latestTs >= 0 {
			c.store.UpdateDataPoint(es.key, es.window.latestTs)
		}
	}
	if err := c.scanStored(suppressed); err != nil {
		return err
	}

	for _, es := range order {
		if err := c.tick(); err != nil {
			return err
		}
		if len(es.raw.Observed) == 0 {
			continue
		}
		if !c.claim(es.key.Hash) {
			continue
		}

		last := len(es.raw.Observed) - 1
		if last >= len(es.window.timestamps) {
			c.skipTagSet(es.key.Tags, fmt.Errorf("observed has %d points, grid has %d", len(es.raw.Observed), len(es.window.timestamps)))
			continue
		}
		lastTs := es.window.timestamps[last]
		signal := domain.SignalGood
		var thresholdType domain.ThresholdType
		for _, alert := range es.raw.Alerts {
			if alert.TimestampSec != lastTs {
				continue
			}
			mapped, err := alert.Type.Signal()
			if err != nil {
				c.skipTagSet(es.key.Tags, err)
				continue
			}
			if thresholdType == "" || mapped == domain.SignalBad {
				signal, thresholdType = mapped, alert.Type
			}
		}

		c.emit(es.key, signal, func(event *domain.AlertEvent, details *templatefmt.Details) {
			c.anomalyPayload(es, last, thresholdType)(event)
			details.Reason = templatefmt.ReasonAnomaly
			details.Value = es.raw.Observed[last]
			details.Predicted = valueAt(es.raw.Predicted, last)
			details.ThresholdType = string(thresholdType)
		})
	}
	return nil
}

// validateEgadsSeries checks that every bound array matches observed length.
func validateEgadsSeries(series domain.EgadsSeries) error {
	n := len(series.Observed)
	for name, values := range map[string]domain.Values{
		"predicted":  series.Predicted,
		"upper_bad":  series.UpperBad,
		"upper_warn": series.UpperWarn,
		"lower_warn": series.LowerWarn,
		"lower_bad":  series.LowerBad,
	} {
		if values != nil && len(values) != n {
			return fmt.Errorf("%s has %d points, observed has %d", name, len(values), n)
		}
	}
	return nil
}

func valueAt(values domain.Values, i int) float64 {
	if i < 0 || i >= len(values) {
		return nan()
	}
	return values[i]
}

// anomalyPayload returns builder of the anomaly payload for point i.
func (c *cycle) anomalyPayload(es egadsSeries, i int, thresholdType domain.ThresholdType) payloadFunc {
	return func(event *domain.AlertEvent) {
		ts := c.nowSec
		if i >= 0 && i < len(es.window.timestamps) {
			ts = es.window.timestamps[i]
		}
		event.Kind = domain.EventPeriodOverPeriod
		event.Anomaly = &domain.AnomalyPayload{
			TimestampSec:  ts,
			ThresholdType: thresholdType,
			Observed:      domain.Float(valueAt(es.raw.Observed, i)),
			Predicted:     domain.Float(valueAt(es.raw.Predicted, i)),
			UpperBad:      domain.Float(valueAt(es.raw.UpperBad, i)),
			UpperWarn:     domain.Float(valueAt(es.raw.UpperWarn, i)),
			LowerWarn:     domain.Float(valueAt(es.raw.LowerWarn, i)),
			LowerBad:      domain.Float(valueAt(es.raw.LowerBad, i)),
		}
	}
}
