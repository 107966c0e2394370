package evaluator

import (
	"alerteval/internal/domain"
	"alerteval/internal/identity"
	"alerteval/internal/templatefmt"
)

// windowSeries is one present, non-suppressed tag-set of a window result.
type windowSeries struct {
	key    identity.Key
	window window
}

// evaluateWindow runs the non-summary algorithm for one window result.
// Params: window payload and optional heartbeat result.
// Returns: cancellation error only; tag-set problems are logged and skipped.
func (c *cycle) evaluateWindow(result domain.WindowResult, suppress *domain.SuppressResult) error {
	suppressed := c.suppressed(suppress)
	nominal := nominalPoints(c.alert.SlidingWindowSec, result.Grid.IntervalSec)

	series := make(map[uint64]*windowSeries, len(result.Series))
	order := make([]*windowSeries, 0, len(result.Series))
	for _, raw := range result.Series {
		if err := c.tick(); err != nil {
			return err
		}
		key, ok := c.key(raw.Tags)
		if !ok || !c.track(key, suppressed) {
			continue
		}
		ws := &windowSeries{
			key:    key,
			window: alignWindow(Timestamps(result.Grid, len(raw.Values)), raw.Values, nominal),
		}
		series[key.Hash] = ws
		order = append(order, ws)
	}

	for _, ws := range order {
		c.detectMissing(ws.key, ws.window.latestTs, ws.window.latest, c.metricPayload(ws.window, c.alert.Comparator, c.reportedThreshold()))
	}
	for _, ws := range order {
		if ws.window.latestTs >= 0 {
			c.store.UpdateDataPoint(ws.key, ws.window.latestTs)
		}
	}
	if err := c.scanStored(suppressed); err != nil {
		return err
	}

	fullWindow := nominalPoints(c.alert.SlidingWindowSec, c.alert.ReportingIntervalSec)
	for _, lvl := range c.levels(result.Bad, result.Warn, result.Recovery) {
		if lvl.counts != nil {
			for _, count := range lvl.counts {
				if err := c.tick(); err != nil {
					return err
				}
				key, ok := c.key(count.Tags)
				if !ok {
					continue
				}
				if _, skip := suppressed[key.Hash]; skip {
					continue
				}
				c.breach(key, series[key.Hash], count.Count, lvl, nominal, fullWindow)
			}
			continue
		}
		for _, ws := range order {
			if err := c.tick(); err != nil {
				return err
			}
			c.breach(ws.key, ws, ws.window.count(lvl.comparator, lvl.threshold), lvl, nominal, fullWindow)
		}
	}
	return nil
}

// breach compares one breach count with the temporal threshold and raises the level's signal.
// Params: key, present series (nil when the count has no series), count, level, and window sizes.
// Returns: none; first writer per identity wins.
func (c *cycle) breach(key identity.Key, ws *windowSeries, count int64, lvl level, nominal, fullWindow int64) {
	if _, ok := c.claimed[key.Hash]; ok {
		return
	}
	available := nominal
	var w window
	if ws != nil {
		w = ws.window
		available = w.available
	} else {
		w = window{latestTs: -1, latest: nan()}
	}
	if c.alert.RequireFullWindow && available < fullWindow {
		c.out.Stats.Skipped++
		return
	}
	if count < temporalThreshold(c.alert.Sampler, nominal, available) {
		return
	}

	c.claim(key.Hash)
	value := w.breachingValue(lvl.comparator, lvl.threshold)
	c.emit(key, lvl.signal, func(event *domain.AlertEvent, details *templatefmt.Details) {
		c.metricPayload(w, lvl.comparator, lvl.threshold)(event)
		event.Metric.BreachingValue = domain.Float(value)
		details.Comparator = lvl.comparator.Word()
		details.Threshold = lvl.threshold
		details.Value = value
		details.Phrase = templatefmt.SamplerPhrase(string(c.alert.Sampler), string(c.alert.Aggregator), c.alert.SlidingWindow())
	})
}

// metricPayload returns builder of the window payload.
func (c *cycle) metricPayload(w window, cmp domain.Comparator, threshold float64) payloadFunc {
	return func(event *domain.AlertEvent) {
		event.Kind = c.eventKind()
		event.Metric = &domain.MetricPayload{
			Comparator:     cmp,
			Sampler:        c.alert.Sampler,
			Threshold:      domain.Float(threshold),
			BreachingValue: domain.Float(w.latest),
			Timestamps:     w.timestamps,
			Values:         domain.Values(w.values),
		}
	}
}
