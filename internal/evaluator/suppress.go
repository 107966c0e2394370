package evaluator

import (
	"math"

	"alerteval/internal/domain"
)

// suppressed evaluates the heartbeat metric into the set of silenced identities.
// Params: optional heartbeat result.
// Returns: identity hashes whose heartbeat breaches; nil when suppression is off.
func (c *cycle) suppressed(result *domain.SuppressResult) map[uint64]struct{} {
	cfg := c.alert.Suppress
	if !cfg.Enabled {
		return nil
	}
	if result == nil {
		c.logger.Debug("suppress metric absent from result")
		return nil
	}

	out := make(map[uint64]struct{})
	switch {
	case result.Summary != nil:
		for _, raw := range result.Summary.Series {
			key, ok := c.key(raw.Tags)
			if !ok {
				continue
			}
			if value := float64(raw.Value); !math.IsNaN(value) && cfg.Comparator.Satisfied(value, cfg.Threshold) {
				out[key.Hash] = struct{}{}
			}
		}
	case result.Window != nil:
		grid := result.Window.Grid
		nominal := nominalPoints(c.alert.SlidingWindowSec, grid.IntervalSec)
		sampler := cfg.Sampler
		if sampler == domain.SamplerSummary {
			sampler = domain.SamplerAtLeastOnce
		}
		for _, raw := range result.Window.Series {
			key, ok := c.key(raw.Tags)
			if !ok {
				continue
			}
			w := alignWindow(Timestamps(grid, len(raw.Values)), raw.Values, nominal)
			count := w.count(cfg.Comparator, cfg.Threshold)
			if count > 0 && count >= temporalThreshold(sampler, nominal, w.available) {
				out[key.Hash] = struct{}{}
			}
		}
	}
	return out
}
