package evaluator

import (
	"math"

	"alerteval/internal/domain"
)

// Timestamps builds the aligned grid for a series of `available` values.
// Params: query grid and number of values in the series.
// Returns: ascending timestamps; the grid is widened when values exceed its size.
func Timestamps(grid domain.TimeGrid, available int) []int64 {
	if grid.IntervalSec <= 0 {
		return nil
	}
	size := (grid.EndSec - grid.StartSec) / grid.IntervalSec
	last := grid.EndSec - grid.IntervalSec
	if int64(available) > size {
		size = int64(available)
		last = grid.EndSec
	}
	if size <= 0 {
		return nil
	}
	out := make([]int64, size)
	for i := int64(0); i < size; i++ {
		out[size-1-i] = last - i*grid.IntervalSec
	}
	return out
}

// window is one series aligned to its grid and clipped to the sliding window.
type window struct {
	timestamps []int64
	values     []float64
	available  int64
	latestTs   int64
	latest     float64
}

// alignWindow right-aligns values to the grid and keeps the last `points` entries.
// Params: grid timestamps, raw values, and sliding-window point count.
// Returns: clipped window with non-NaN count and latest non-NaN point (-1 when none).
func alignWindow(timestamps []int64, values []float64, points int64) window {
	offset := len(timestamps) - len(values)
	if offset < 0 {
		values = values[-offset:]
		offset = 0
	}
	aligned := timestamps[offset:]
	if int64(len(values)) > points && points > 0 {
		cut := int64(len(values)) - points
		values = values[cut:]
		aligned = aligned[cut:]
	}

	w := window{timestamps: aligned, values: values, latestTs: -1, latest: math.NaN()}
	for i, value := range values {
		if math.IsNaN(value) {
			continue
		}
		w.available++
		w.latestTs = aligned[i]
		w.latest = value
	}
	return w
}

// count returns how many window points satisfy comparator against threshold.
func (w window) count(cmp domain.Comparator, threshold float64) int64 {
	var n int64
	for _, value := range w.values {
		if cmp.Satisfied(value, threshold) {
			n++
		}
	}
	return n
}

// breachingValue returns the latest value satisfying comparator, else the latest non-NaN value.
func (w window) breachingValue(cmp domain.Comparator, threshold float64) float64 {
	for i := len(w.values) - 1; i >= 0; i-- {
		if cmp.Satisfied(w.values[i], threshold) {
			return w.values[i]
		}
	}
	return w.latest
}

// temporalThreshold returns breach count required for the sampler.
// Params: sampler, nominal window points, and non-NaN points available for the tag-set.
// Returns: 1 for at-least-once; nominal or max(available,1) when data is short for all-of-the-times.
func temporalThreshold(sampler domain.Sampler, nominal, available int64) int64 {
	if sampler != domain.SamplerAllOfTheTimes {
		return 1
	}
	if available < nominal {
		return max(available, 1)
	}
	return nominal
}

// nominalPoints returns sliding window length in grid points, at least 1.
func nominalPoints(slidingWindowSec, intervalSec int64) int64 {
	if intervalSec <= 0 {
		return 1
	}
	return max(slidingWindowSec/intervalSec, 1)
}
