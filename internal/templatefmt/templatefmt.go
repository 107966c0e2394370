package templatefmt

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"text/template"
	"time"

	"github.com/shopspring/decimal"
)

// DisplayScale is the number of fractional digits kept in rendered values.
const DisplayScale int32 = 3

// Detail reasons select the phrase rendered by DefaultDetailsTemplate.
const (
	ReasonBreach          = "breach"
	ReasonMissing         = "missing"
	ReasonMissingRecovery = "missing_recovery"
	ReasonAutoRecovery    = "auto_recovery"
	ReasonAnomaly         = "anomaly"
)

// DefaultDetailsTemplate renders alert details when an alert configures none.
const DefaultDetailsTemplate = `{{- if eq .Reason "missing" -}}
{{ .Signal }}: no data received in the last {{ fmtDuration .Window }}
{{- else if eq .Reason "missing_recovery" -}}
{{ .Signal }}: data resumed, latest value {{ round .Value }}
{{- else if eq .Reason "auto_recovery" -}}
{{ .Signal }}: recovered after {{ fmtDuration .Silence }} without data
{{- else if eq .Reason "anomaly" -}}
{{ .Signal }}: observed {{ round .Value }} against predicted {{ round .Predicted }}{{ if .ThresholdType }} ({{ .ThresholdType }}){{ end }}
{{- else -}}
{{ .Signal }}: value {{ round .Value }} is {{ .Comparator }} {{ round .Threshold }} {{ .Phrase }}
{{- end }}`

// Details is the template model for alert details.
// Params: display fields filled by evaluators.
// Returns: data passed to the details template.
type Details struct {
	Reason        string
	Signal        string
	OriginSignal  string
	Namespace     string
	AlertID       int64
	Tags          map[string]string
	Comparator    string
	Threshold     float64
	Value         float64
	Predicted     float64
	ThresholdType string
	Phrase        string
	Window        time.Duration
	Silence       time.Duration
	IsNag         bool
}

// FuncMap returns shared details template helpers.
// Params: none.
// Returns: deterministic helper map used by config validation and runtime rendering.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"fmtDuration": FormatDuration,
		"json":        MarshalJSON,
		"round":       FormatValue,
	}
}

// ParseDetailsTemplate parses one details template with shared helpers.
// Params: template name and body.
// Returns: compiled template or parse error.
func ParseDetailsTemplate(name, body string) (*template.Template, error) {
	return template.New(name).Funcs(FuncMap()).Option("missingkey=error").Parse(body)
}

// Render executes compiled template into string.
// Params: compiled template and details model.
// Returns: rendered text or execution error.
func Render(tmpl *template.Template, details Details) (string, error) {
	var b strings.Builder
	if err := tmpl.Execute(&b, details); err != nil {
		return "", fmt.Errorf("render details: %w", err)
	}
	return b.String(), nil
}

// FormatValue rounds half-even to DisplayScale and strips trailing zeros.
// Params: raw full-precision value.
// Returns: display string; "NaN" for NaN and "+Inf"/"-Inf" for infinities.
func FormatValue(value float64) string {
	switch {
	case math.IsNaN(value):
		return "NaN"
	case math.IsInf(value, 1):
		return "+Inf"
	case math.IsInf(value, -1):
		return "-Inf"
	}
	text := decimal.NewFromFloat(value).RoundBank(DisplayScale).StringFixed(DisplayScale)
	if strings.Contains(text, ".") {
		text = strings.TrimRight(text, "0")
		text = strings.TrimSuffix(text, ".")
	}
	if text == "-0" {
		return "0"
	}
	return text
}

// SamplerPhrase renders how breaches were counted over the window.
// Params: sampler and aggregator names plus window length.
// Returns: human phrase such as "at all times in the last 5.0m".
func SamplerPhrase(sampler, aggregator string, window time.Duration) string {
	span := FormatDuration(window)
	switch sampler {
	case "all_of_the_times":
		return "at all times in the last " + span
	case "summary":
		if aggregator == "sum" {
			return "in total over the last " + span
		}
		return "on average over the last " + span
	default:
		return "at least once in the last " + span
	}
}

// FormatDuration renders duration in compact human form with one decimal precision.
// Params: template value expected as time.Duration or *time.Duration.
// Returns: formatted duration string.
func FormatDuration(value any) string {
	var duration time.Duration
	switch typed := value.(type) {
	case time.Duration:
		duration = typed
	case *time.Duration:
		if typed == nil {
			return "0.0s"
		}
		duration = *typed
	default:
		return "0.0s"
	}

	if duration < 0 {
		duration = -duration
	}
	seconds := duration.Seconds()
	switch {
	case seconds >= 3600:
		return fmt.Sprintf("%.1fh", seconds/3600)
	case seconds >= 60:
		return fmt.Sprintf("%.1fm", seconds/60)
	default:
		return fmt.Sprintf("%.1fs", seconds)
	}
}

// MarshalJSON renders value into JSON string for template embedding.
// Params: template value of any type.
// Returns: marshaled JSON string or "null" on marshal failure.
func MarshalJSON(value any) string {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "null"
	}
	return string(encoded)
}
