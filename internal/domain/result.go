package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Float is a float64 whose JSON null form is NaN.
type Float float64

// MarshalJSON encodes NaN and infinities as null.
func (f Float) MarshalJSON() ([]byte, error) {
	value := float64(f)
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(value)
}

// UnmarshalJSON decodes null as NaN.
func (f *Float) UnmarshalJSON(raw []byte) error {
	if string(raw) == "null" {
		*f = Float(math.NaN())
		return nil
	}
	var value float64
	if err := json.Unmarshal(raw, &value); err != nil {
		return err
	}
	*f = Float(value)
	return nil
}

// Values is a dense value array where JSON null marks a grid point without data.
type Values []float64

// MarshalJSON encodes NaN entries as null.
func (v Values) MarshalJSON() ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	out := make([]Float, len(v))
	for i, value := range v {
		out[i] = Float(value)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes null entries as NaN.
func (v *Values) UnmarshalJSON(raw []byte) error {
	var in []Float
	if err := json.Unmarshal(raw, &in); err != nil {
		return err
	}
	if in == nil {
		*v = nil
		return nil
	}
	out := make(Values, len(in))
	for i, value := range in {
		out[i] = float64(value)
	}
	*v = out
	return nil
}

// TimeGrid describes the aligned interval grid a query was evaluated on.
type TimeGrid struct {
	StartSec    int64 `json:"start_sec"`
	EndSec      int64 `json:"end_sec"`
	IntervalSec int64 `json:"interval_sec"`
}

// Validate checks grid bounds.
func (g TimeGrid) Validate() error {
	if g.IntervalSec <= 0 {
		return errors.New("interval_sec must be >0")
	}
	if g.EndSec < g.StartSec {
		return errors.New("end_sec must be >= start_sec")
	}
	return nil
}

// Series is one tag-set with its dense window values.
type Series struct {
	Tags   map[string]string `json:"tags"`
	Values Values            `json:"values"`
}

// BreachCount is a pre-aggregated number of breaching grid points for one tag-set.
type BreachCount struct {
	Tags  map[string]string `json:"tags"`
	Count int64             `json:"count"`
}

// WindowResult is the non-summary query payload.
// Params: grid, dense series, and optional BAD/WARN/RECOVERY breach counts.
// Returns: input of the window evaluator; a nil breach list means the sub-result is absent.
type WindowResult struct {
	Grid     TimeGrid      `json:"grid"`
	Series   []Series      `json:"series"`
	Bad      []BreachCount `json:"bad,omitempty"`
	Warn     []BreachCount `json:"warn,omitempty"`
	Recovery []BreachCount `json:"recovery,omitempty"`
}

// SummaryValue is one aggregated scalar for one tag-set.
type SummaryValue struct {
	Tags  map[string]string `json:"tags"`
	Value Float             `json:"value"`
}

// SummaryResult is the summary query payload.
type SummaryResult struct {
	Grid   TimeGrid       `json:"grid"`
	Series []SummaryValue `json:"series"`
}

// EgadsAlert is one anomaly flagged upstream for a timestamp.
type EgadsAlert struct {
	TimestampSec int64         `json:"timestamp_sec"`
	Type         ThresholdType `json:"type"`
}

// EgadsSeries is one tag-set of an anomaly-detection response.
type EgadsSeries struct {
	Tags      map[string]string `json:"tags"`
	Observed  Values            `json:"observed"`
	Predicted Values            `json:"predicted"`
	UpperBad  Values            `json:"upper_bad"`
	UpperWarn Values            `json:"upper_warn"`
	LowerWarn Values            `json:"lower_warn"`
	LowerBad  Values            `json:"lower_bad"`
	Alerts    []EgadsAlert      `json:"alerts"`
}

// EgadsResult is the anomaly-detection query payload.
type EgadsResult struct {
	Grid   TimeGrid      `json:"grid"`
	Series []EgadsSeries `json:"series"`
}

// SuppressResult carries the heartbeat metric in window or summary form.
type SuppressResult struct {
	Window  *WindowResult  `json:"window,omitempty"`
	Summary *SummaryResult `json:"summary,omitempty"`
}

// QueryResult is one already-fetched query payload for one alert and one cycle.
// Params: exactly one of Window/Summary/Egads plus optional Suppress.
// Returns: evaluator input.
type QueryResult struct {
	AlertID   int64           `json:"alert_id"`
	Namespace string          `json:"namespace"`
	Window    *WindowResult   `json:"window,omitempty"`
	Summary   *SummaryResult  `json:"summary,omitempty"`
	Egads     *EgadsResult    `json:"egads,omitempty"`
	Suppress  *SuppressResult `json:"suppress,omitempty"`
}

// DecodeQueryResult decodes and validates one query result payload.
// Params: JSON document bytes.
// Returns: validated result or decode/validation error.
func DecodeQueryResult(raw []byte) (QueryResult, error) {
	var result QueryResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return QueryResult{}, fmt.Errorf("decode query result: %w", err)
	}
	if err := result.Validate(); err != nil {
		return QueryResult{}, err
	}
	return result, nil
}

// DecodeQueryResultReader decodes and validates one query result from stream.
// Params: decoder positioned at one JSON object.
// Returns: validated result or decode/validation error.
func DecodeQueryResultReader(reader *json.Decoder) (QueryResult, error) {
	var result QueryResult
	if err := reader.Decode(&result); err != nil {
		return QueryResult{}, fmt.Errorf("decode query result: %w", err)
	}
	if err := result.Validate(); err != nil {
		return QueryResult{}, err
	}
	return result, nil
}

// DecodeQueryResultsReader decodes and validates one batch of query results.
// Params: decoder positioned at one JSON array.
// Returns: validated results or decode/validation error.
func DecodeQueryResultsReader(reader *json.Decoder) ([]QueryResult, error) {
	var results []QueryResult
	if err := reader.Decode(&results); err != nil {
		return nil, fmt.Errorf("decode query result batch: %w", err)
	}
	if len(results) == 0 {
		return nil, errors.New("query result batch must contain at least one result")
	}
	for i := range results {
		if err := results[i].Validate(); err != nil {
			return nil, fmt.Errorf("result[%d]: %w", i, err)
		}
	}
	return results, nil
}

// Validate checks the overall result shape. Per-tag-set defects are left to evaluators.
// Params: result fields parsed from transport.
// Returns: validation error when the payload cannot be evaluated at all.
func (r QueryResult) Validate() error {
	if r.AlertID <= 0 {
		return errors.New("alert_id must be >0")
	}
	if strings.TrimSpace(r.Namespace) == "" {
		return errors.New("namespace is required")
	}

	parts := 0
	if r.Window != nil {
		parts++
		if err := r.Window.Grid.Validate(); err != nil {
			return fmt.Errorf("window grid: %w", err)
		}
	}
	if r.Summary != nil {
		parts++
		if err := r.Summary.Grid.Validate(); err != nil {
			return fmt.Errorf("summary grid: %w", err)
		}
	}
	if r.Egads != nil {
		parts++
		if err := r.Egads.Grid.Validate(); err != nil {
			return fmt.Errorf("egads grid: %w", err)
		}
	}
	if parts != 1 {
		return errors.New("exactly one of window, summary, egads is required")
	}

	if r.Suppress != nil {
		if (r.Suppress.Window == nil) == (r.Suppress.Summary == nil) {
			return errors.New("suppress requires exactly one of window, summary")
		}
		if r.Suppress.Window != nil {
			if err := r.Suppress.Window.Grid.Validate(); err != nil {
				return fmt.Errorf("suppress grid: %w", err)
			}
		}
	}
	return nil
}
