package evaluator

import (
	"math"
	"testing"

	"alerteval/internal/config"
	"alerteval/internal/domain"
	"alerteval/internal/state"
)

func summaryAlert() config.AlertConfig {
	alert := baseAlert()
	alert.Sampler = domain.SamplerSummary
	alert.Aggregator = domain.AggregatorAvg
	return alert
}

func summaryResult(values map[string]float64) domain.QueryResult {
	series := make([]domain.SummaryValue, 0, len(values))
	for name, value := range values {
		series = append(series, domain.SummaryValue{Tags: map[string]string{"host": name}, Value: domain.Float(value)})
	}
	return domain.QueryResult{
		AlertID:   42,
		Namespace: "prod",
		Summary: &domain.SummaryResult{
			Grid:   domain.TimeGrid{StartSec: end - 300, EndSec: end, IntervalSec: 300},
			Series: series,
		},
	}
}

func TestSummaryRaisesFirstMatchingLevel(t *testing.T) {
	t.Parallel()

	store := state.NewStore()
	alert := summaryAlert()
	alert.WarnThreshold = float(80)

	out := evaluate(t, New(store, discardLogger()), alert, summaryResult(map[string]float64{
		"h1": 95,
		"h2": 85,
		"h3": 10,
		"h4": math.NaN(),
	}), end)

	signals := make(map[string]domain.Signal)
	for _, event := range out.Events {
		if event.Kind != domain.EventSingleMetricSummary {
			t.Fatalf("unexpected kind %s", event.Kind)
		}
		signals[event.Tags["host"]] = event.Signal
	}
	if len(out.Events) != 2 || signals["h1"] != domain.SignalBad || signals["h2"] != domain.SignalWarn {
		t.Fatalf("unexpected events %+v", out.Events)
	}
	if store.CurrentState(hashOf("h3")) != domain.SignalGood {
		t.Fatalf("h3 must be recorded GOOD without notification")
	}
	if store.LastSeen(hashOf("h1")) != end {
		t.Fatalf("summary data point must be stamped at grid end, got %d", store.LastSeen(hashOf("h1")))
	}
	if _, ok := store.Get(hashOf("h4")); ok {
		t.Fatalf("NaN summary without missing detection must not create state")
	}
}

func TestSummaryDetailsPhrase(t *testing.T) {
	t.Parallel()

	out := evaluate(t, New(state.NewStore(), discardLogger()), summaryAlert(), summaryResult(map[string]float64{"h1": 91.23456}), end)
	if len(out.Events) != 1 {
		t.Fatalf("expected one event, got %+v", out.Events)
	}
	if got := out.Events[0].Details; got != "BAD: value 91.235 is above 90 on average over the last 5.0m" {
		t.Fatalf("unexpected details %q", got)
	}
	if float64(out.Events[0].Summary.Value) != 91.23456 {
		t.Fatalf("payload must keep raw value, got %v", out.Events[0].Summary.Value)
	}
}

func TestSummaryNaNGoesMissing(t *testing.T) {
	t.Parallel()

	store := state.NewStore()
	ev := New(store, discardLogger())
	alert := summaryAlert()
	alert.MissingEnabled = true
	alert.NotifyOnMissing = true

	out := evaluate(t, ev, alert, summaryResult(map[string]float64{"h1": math.NaN()}), end)
	if len(out.Events) != 1 || out.Events[0].Signal != domain.SignalMissing || out.Events[0].OriginSignal != domain.SignalUnknown {
		t.Fatalf("never-seen identity with NaN must go MISSING, got %+v", out.Events)
	}
	if !math.IsNaN(float64(out.Events[0].Summary.Value)) {
		t.Fatalf("missing payload must carry NaN value")
	}

	out = evaluate(t, ev, alert, summaryResult(map[string]float64{"h1": 95}), end+300)
	if len(out.Events) != 1 || out.Events[0].Signal != domain.SignalGood || out.Events[0].OriginSignal != domain.SignalMissing {
		t.Fatalf("expected missing recovery, got %+v", out.Events)
	}
}
