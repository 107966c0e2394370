package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Signal is the evaluated state of one monitored entity.
// Params: GOOD/WARN/BAD/MISSING/UNKNOWN constants.
// Returns: state used by the state store, transition policy, and events.
type Signal string

const (
	// SignalUnknown is the state of an entity that has never been evaluated.
	SignalUnknown Signal = "UNKNOWN"
	// SignalGood indicates a healthy (or recovered) entity.
	SignalGood Signal = "GOOD"
	// SignalWarn indicates the warn threshold is breached.
	SignalWarn Signal = "WARN"
	// SignalBad indicates the bad threshold is breached.
	SignalBad Signal = "BAD"
	// SignalMissing indicates the entity stopped reporting data.
	SignalMissing Signal = "MISSING"
)

// ParseSignal converts case-insensitive text into a signal.
// Params: raw signal name.
// Returns: normalized signal or error for unknown names.
func ParseSignal(raw string) (Signal, error) {
	signal := Signal(strings.ToUpper(strings.TrimSpace(raw)))
	if !signal.Valid() {
		return "", fmt.Errorf("unsupported signal %q", raw)
	}
	return signal, nil
}

// Valid reports whether signal is one of the known constants.
func (s Signal) Valid() bool {
	switch s {
	case SignalUnknown, SignalGood, SignalWarn, SignalBad, SignalMissing:
		return true
	default:
		return false
	}
}

// Lower returns lower-case signal name used in transition keys.
func (s Signal) Lower() string {
	return strings.ToLower(string(s))
}

// AlertKind identifies the configured alert family.
// Params: kind constants.
// Returns: discriminant used for evaluator and purge dispatch.
type AlertKind string

const (
	// KindSingleMetric evaluates one metric against thresholds.
	KindSingleMetric AlertKind = "single_metric"
	// KindHealthCheck evaluates health-check status values.
	KindHealthCheck AlertKind = "health_check"
	// KindEventCount evaluates event counts over a window.
	KindEventCount AlertKind = "event_count"
	// KindPeriodOverPeriod evaluates anomaly-detection responses.
	KindPeriodOverPeriod AlertKind = "period_over_period"
)

// Valid reports whether kind is supported.
func (k AlertKind) Valid() bool {
	switch k {
	case KindSingleMetric, KindHealthCheck, KindEventCount, KindPeriodOverPeriod:
		return true
	default:
		return false
	}
}

// Sampler controls how many in-window breaches are required.
type Sampler string

const (
	// SamplerAtLeastOnce requires one breaching point in the window.
	SamplerAtLeastOnce Sampler = "at_least_once"
	// SamplerAllOfTheTimes requires every window point to breach.
	SamplerAllOfTheTimes Sampler = "all_of_the_times"
	// SamplerSummary compares one aggregated value per window.
	SamplerSummary Sampler = "summary"
)

// Valid reports whether sampler is supported.
func (s Sampler) Valid() bool {
	switch s {
	case SamplerAtLeastOnce, SamplerAllOfTheTimes, SamplerSummary:
		return true
	default:
		return false
	}
}

// Aggregator is the summary function used by summary alerts.
type Aggregator string

const (
	// AggregatorAvg averages the window.
	AggregatorAvg Aggregator = "avg"
	// AggregatorSum sums the window.
	AggregatorSum Aggregator = "sum"
)

// Comparator is an ordering predicate between a value and a threshold.
// Params: above/above_or_equal/below/below_or_equal constants.
// Returns: comparison semantics where NaN never satisfies any comparator.
type Comparator string

const (
	// ComparatorAbove is value > threshold.
	ComparatorAbove Comparator = "above"
	// ComparatorAboveOrEqual is value >= threshold.
	ComparatorAboveOrEqual Comparator = "above_or_equal"
	// ComparatorBelow is value < threshold.
	ComparatorBelow Comparator = "below"
	// ComparatorBelowOrEqual is value <= threshold.
	ComparatorBelowOrEqual Comparator = "below_or_equal"
)

// recoveryNudge is the relative shift applied to derived recovery thresholds.
const recoveryNudge = 1e-6

// Valid reports whether comparator is supported.
func (c Comparator) Valid() bool {
	switch c {
	case ComparatorAbove, ComparatorAboveOrEqual, ComparatorBelow, ComparatorBelowOrEqual:
		return true
	default:
		return false
	}
}

// Satisfied compares value with threshold using full float64 precision.
// Params: observed value and threshold.
// Returns: true when comparator holds; always false for NaN operands.
func (c Comparator) Satisfied(value, threshold float64) bool {
	if math.IsNaN(value) || math.IsNaN(threshold) {
		return false
	}
	switch c {
	case ComparatorAbove:
		return value > threshold
	case ComparatorAboveOrEqual:
		return value >= threshold
	case ComparatorBelow:
		return value < threshold
	case ComparatorBelowOrEqual:
		return value <= threshold
	default:
		return false
	}
}

// Word returns human comparator text for alert details.
func (c Comparator) Word() string {
	switch c {
	case ComparatorAbove:
		return "above"
	case ComparatorAboveOrEqual:
		return "above or equal to"
	case ComparatorBelow:
		return "below"
	case ComparatorBelowOrEqual:
		return "below or equal to"
	default:
		return string(c)
	}
}

// Recovery returns the strict opposite comparator used for recovery checks.
func (c Comparator) Recovery() Comparator {
	switch c {
	case ComparatorAbove, ComparatorAboveOrEqual:
		return ComparatorBelow
	default:
		return ComparatorAbove
	}
}

// RecoveryThreshold derives recovery threshold from primary threshold.
// Params: primary threshold the comparator is checked against.
// Returns: threshold for which Recovery() holds exactly when c does not.
func (c Comparator) RecoveryThreshold(threshold float64) float64 {
	nudge := math.Abs(threshold) * recoveryNudge
	if nudge == 0 {
		nudge = recoveryNudge
	}
	switch c {
	case ComparatorAbove:
		return threshold + nudge
	case ComparatorBelow:
		return threshold - nudge
	default:
		return threshold
	}
}

// ThresholdType is an anomaly-detection bound classification.
type ThresholdType string

const (
	// ThresholdUpperBad marks observed value above the upper bad bound.
	ThresholdUpperBad ThresholdType = "UPPER_BAD"
	// ThresholdUpperWarn marks observed value above the upper warn bound.
	ThresholdUpperWarn ThresholdType = "UPPER_WARN"
	// ThresholdLowerBad marks observed value below the lower bad bound.
	ThresholdLowerBad ThresholdType = "LOWER_BAD"
	// ThresholdLowerWarn marks observed value below the lower warn bound.
	ThresholdLowerWarn ThresholdType = "LOWER_WARN"
)

// Signal maps threshold type into the resulting state.
// Params: none.
// Returns: BAD/WARN signal or error for unknown type.
func (t ThresholdType) Signal() (Signal, error) {
	switch t {
	case ThresholdUpperBad, ThresholdLowerBad:
		return SignalBad, nil
	case ThresholdUpperWarn, ThresholdLowerWarn:
		return SignalWarn, nil
	default:
		return "", fmt.Errorf("unsupported threshold type %q", t)
	}
}

// StateChange is the ephemeral outcome of one state-store raise.
// Params: previous/current signal and notification flags.
// Returns: decision whether an alert event must be emitted.
type StateChange struct {
	Previous   Signal
	Current    Signal
	IsNag      bool
	RaiseAlert bool
}

// EventKind discriminates alert event payload variants.
type EventKind string

const (
	// EventSingleMetric carries MetricPayload.
	EventSingleMetric EventKind = "single_metric"
	// EventSingleMetricSummary carries SummaryPayload.
	EventSingleMetricSummary EventKind = "single_metric_summary"
	// EventHealthCheck carries MetricPayload.
	EventHealthCheck EventKind = "health_check"
	// EventEventCount carries MetricPayload.
	EventEventCount EventKind = "event_count"
	// EventPeriodOverPeriod carries AnomalyPayload.
	EventPeriodOverPeriod EventKind = "period_over_period"
)

// AlertEvent is one notification-worthy state change.
// Params: common identity/state fields plus exactly one kind-specific payload.
// Returns: immutable event handed to the notification boundary.
type AlertEvent struct {
	Kind               EventKind         `json:"kind"`
	AlertID            int64             `json:"alert_id"`
	Namespace          string            `json:"namespace"`
	Tags               map[string]string `json:"tags"`
	Signal             Signal            `json:"signal"`
	OriginSignal       Signal            `json:"origin_signal"`
	AlertHash          uint64            `json:"alert_hash,string"`
	RaisedTimestampSec int64             `json:"raised_timestamp_sec"`
	IsNag              bool              `json:"is_nag"`
	Details            string            `json:"details"`
	Metric             *MetricPayload    `json:"metric,omitempty"`
	Summary            *SummaryPayload   `json:"summary,omitempty"`
	Anomaly            *AnomalyPayload   `json:"anomaly,omitempty"`
}

// MetricPayload carries window values for single-metric, health-check, and event-count events.
type MetricPayload struct {
	Comparator     Comparator `json:"comparator"`
	Sampler        Sampler    `json:"sampler"`
	Threshold      Float      `json:"threshold"`
	BreachingValue Float      `json:"breaching_value"`
	Timestamps     []int64    `json:"timestamps"`
	Values         Values     `json:"values"`
}

// SummaryPayload carries the aggregated window value.
type SummaryPayload struct {
	Comparator Comparator `json:"comparator"`
	Aggregator Aggregator `json:"aggregator"`
	Threshold  Float      `json:"threshold"`
	Value      Float      `json:"value"`
}

// AnomalyPayload carries anomaly-detection values for the evaluated timestamp.
type AnomalyPayload struct {
	TimestampSec  int64         `json:"timestamp_sec"`
	ThresholdType ThresholdType `json:"threshold_type,omitempty"`
	Observed      Float         `json:"observed"`
	Predicted     Float         `json:"predicted"`
	UpperBad      Float         `json:"upper_bad"`
	UpperWarn     Float         `json:"upper_warn"`
	LowerWarn     Float         `json:"lower_warn"`
	LowerBad      Float         `json:"lower_bad"`
}

// Validate checks that the event carries exactly the payload of its kind.
// Params: none.
// Returns: error for mismatched or missing payload.
func (e AlertEvent) Validate() error {
	if !e.Signal.Valid() || !e.OriginSignal.Valid() {
		return fmt.Errorf("event signals %q/%q are invalid", e.OriginSignal, e.Signal)
	}
	metric, summary, anomaly := e.Metric != nil, e.Summary != nil, e.Anomaly != nil
	switch e.Kind {
	case EventSingleMetric, EventHealthCheck, EventEventCount:
		if !metric || summary || anomaly {
			return fmt.Errorf("event kind %q requires only metric payload", e.Kind)
		}
	case EventSingleMetricSummary:
		if metric || !summary || anomaly {
			return fmt.Errorf("event kind %q requires only summary payload", e.Kind)
		}
	case EventPeriodOverPeriod:
		if metric || summary || !anomaly {
			return fmt.Errorf("event kind %q requires only anomaly payload", e.Kind)
		}
	default:
		return fmt.Errorf("unsupported event kind %q", e.Kind)
	}
	return nil
}

// Status is one per-identity status write owed after an evaluation cycle.
type Status struct {
	AlertHash    uint64            `json:"alert_hash,string"`
	AlertID      int64             `json:"alert_id"`
	Namespace    string            `json:"namespace"`
	Tags         map[string]string `json:"tags"`
	Signal       Signal            `json:"signal"`
	TimestampSec int64             `json:"timestamp_sec"`
}

// ErrEmptyTransition indicates a transition key without from/to parts.
var ErrEmptyTransition = errors.New("transition must look like <from>to<to>")

// ParseTransition validates one "<from>to<to>" key and returns it lower-cased.
// Params: raw transition such as "GOODtoBAD".
// Returns: normalized key or error when either side is not a known signal.
func ParseTransition(raw string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	for _, from := range []Signal{SignalUnknown, SignalGood, SignalWarn, SignalBad, SignalMissing} {
		prefix := from.Lower() + "to"
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if to, err := ParseSignal(strings.TrimPrefix(key, prefix)); err == nil {
			return from.Lower() + "to" + to.Lower(), nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrEmptyTransition, raw)
}
