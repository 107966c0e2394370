package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"text/template"
	"time"

	"alerteval/internal/config"
	"alerteval/internal/domain"
	"alerteval/internal/evalerr"
	"alerteval/internal/identity"
	"alerteval/internal/state"
	"alerteval/internal/templatefmt"
)

// cancelCheckEvery is how many tag-sets are processed between context checks.
const cancelCheckEvery = 1024

// ErrResultMismatch indicates a result that belongs to another alert or has the wrong shape.
var ErrResultMismatch = errors.New("query result does not match alert")

// Stats counts per-cycle evaluation work.
type Stats struct {
	TagSets    int
	Suppressed int
	Skipped    int
	Errors     int
	Missing    int
	Recovered  int
}

// Outcome is everything one evaluation cycle produced.
// Params: events to publish, statuses to write, and counters.
// Returns: value handed to sinks; state mutations are already applied to the store.
type Outcome struct {
	Events   []domain.AlertEvent
	Statuses []domain.Status
	Stats    Stats
}

// Evaluator runs alert evaluation cycles against a shared state store.
// Params: state store and logger.
// Returns: stateless runner safe for concurrent use across different alerts.
type Evaluator struct {
	store     *state.Store
	logger    *slog.Logger
	templates sync.Map
}

// New creates evaluator.
func New(store *state.Store, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{store: store, logger: logger}
}

// Evaluate runs one cycle for one alert.
// Params: ctx checked between tag-sets, alert config, fetched result, and cycle end time.
// Returns: outcome or cycle-level error; mutations committed before cancellation are kept.
func (e *Evaluator) Evaluate(ctx context.Context, alert config.AlertConfig, result domain.QueryResult, nowSec int64) (Outcome, error) {
	if err := result.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrResultMismatch, err)
	}
	if result.AlertID != alert.ID || result.Namespace != alert.Namespace {
		return Outcome{}, fmt.Errorf("%w: result %s/%d for alert %s/%d", ErrResultMismatch, result.Namespace, result.AlertID, alert.Namespace, alert.ID)
	}
	tmpl, err := e.template(alert.DetailsTemplate)
	if err != nil {
		return Outcome{}, err
	}

	c := &cycle{
		ctx:     ctx,
		alert:   alert,
		policy:  state.NewPolicy(alert.Transitions, alert.NotifyOnMissing, alert.NagInterval()),
		tmpl:    tmpl,
		nowSec:  nowSec,
		store:   e.store,
		logger:  e.logger.With("alert", alert.Name, "alert_id", alert.ID, "namespace", alert.Namespace),
		claimed: make(map[uint64]struct{}),
		present: make(map[uint64]struct{}),
	}

	switch alert.Kind {
	case domain.KindSingleMetric, domain.KindHealthCheck, domain.KindEventCount:
		if alert.Sampler == domain.SamplerSummary {
			if result.Summary == nil {
				return Outcome{}, fmt.Errorf("%w: summary alert requires summary result", ErrResultMismatch)
			}
			err = c.evaluateSummary(*result.Summary, result.Suppress)
		} else {
			if result.Window == nil {
				return Outcome{}, fmt.Errorf("%w: window alert requires window result", ErrResultMismatch)
			}
			err = c.evaluateWindow(*result.Window, result.Suppress)
		}
	case domain.KindPeriodOverPeriod:
		if result.Egads == nil {
			return Outcome{}, fmt.Errorf("%w: period_over_period alert requires egads result", ErrResultMismatch)
		}
		err = c.evaluateEgads(*result.Egads, result.Suppress)
	default:
		return Outcome{}, fmt.Errorf("unsupported alert kind %q", alert.Kind)
	}
	if err != nil {
		return c.out, err
	}

	c.logger.Debug("evaluation cycle finished",
		"tag_sets", c.out.Stats.TagSets,
		"events", len(c.out.Events),
		"statuses", len(c.out.Statuses),
		"suppressed", c.out.Stats.Suppressed,
		"skipped", c.out.Stats.Skipped,
		"errors", c.out.Stats.Errors,
	)
	return c.out, nil
}

func (e *Evaluator) template(body string) (*template.Template, error) {
	if cached, ok := e.templates.Load(body); ok {
		return cached.(*template.Template), nil
	}
	tmpl, err := templatefmt.ParseDetailsTemplate("details", body)
	if err != nil {
		return nil, fmt.Errorf("parse details template: %w", err)
	}
	actual, _ := e.templates.LoadOrStore(body, tmpl)
	return actual.(*template.Template), nil
}

// cycle is the per-call state of one evaluation.
type cycle struct {
	ctx       context.Context
	alert     config.AlertConfig
	policy    state.Policy
	tmpl      *template.Template
	nowSec    int64
	store     *state.Store
	logger    *slog.Logger
	claimed   map[uint64]struct{}
	present   map[uint64]struct{}
	processed int
	out       Outcome
}

// tick counts one processed tag-set and periodically checks cancellation.
func (c *cycle) tick() error {
	c.processed++
	if c.processed%cancelCheckEvery != 0 {
		return nil
	}
	if err := c.ctx.Err(); err != nil {
		return fmt.Errorf("evaluation abandoned after %d tag-sets: %w", c.processed, err)
	}
	return nil
}

// claim marks identity as decided for this cycle.
// Params: identity hash.
// Returns: false when another step already decided it.
func (c *cycle) claim(hash uint64) bool {
	if _, ok := c.claimed[hash]; ok {
		return false
	}
	c.claimed[hash] = struct{}{}
	return true
}

// key builds identity for tags or logs a tag-set error.
// Params: tags from the result payload.
// Returns: key and false when the tag-set must be skipped.
func (c *cycle) key(tags map[string]string) (identity.Key, bool) {
	key, err := identity.New(c.alert.Namespace, c.alert.ID, tags)
	if err != nil {
		c.skipTagSet(tags, err)
		return identity.Key{}, false
	}
	return key, true
}

func (c *cycle) skipTagSet(tags map[string]string, err error) {
	c.out.Stats.Errors++
	c.logger.Warn("tag-set skipped", "error", evalerr.Mark(tags, err))
}

// track registers a present tag-set, rejecting duplicates and suppressed identities.
// Params: identity key and suppression set.
// Returns: false when the tag-set must not be evaluated.
func (c *cycle) track(key identity.Key, suppressed map[uint64]struct{}) bool {
	if _, dup := c.present[key.Hash]; dup {
		c.skipTagSet(key.Tags, errors.New("duplicate tag-set in result"))
		return false
	}
	c.present[key.Hash] = struct{}{}
	c.out.Stats.TagSets++
	if _, ok := suppressed[key.Hash]; ok {
		c.out.Stats.Suppressed++
		c.logger.Debug("tag-set suppressed by heartbeat", "tags", key.Tags)
		return false
	}
	return true
}

// emit applies newState to the store and records owed status and event.
// Params: key, new signal, and payload builder invoked only when an event is raised.
// Returns: none.
func (c *cycle) emit(key identity.Key, signal domain.Signal, build func(*domain.AlertEvent, *templatefmt.Details)) {
	change := c.store.Raise(key, signal, c.nowSec, c.policy)
	c.out.Statuses = append(c.out.Statuses, domain.Status{
		AlertHash:    key.Hash,
		AlertID:      key.AlertID,
		Namespace:    key.Namespace,
		Tags:         key.Tags,
		Signal:       change.Current,
		TimestampSec: c.nowSec,
	})
	if !change.RaiseAlert {
		return
	}

	origin := change.Previous
	if change.IsNag {
		origin = change.Current
	}
	event := domain.AlertEvent{
		AlertID:            key.AlertID,
		Namespace:          key.Namespace,
		Tags:               key.Tags,
		Signal:             change.Current,
		OriginSignal:       origin,
		AlertHash:          key.Hash,
		RaisedTimestampSec: c.nowSec,
		IsNag:              change.IsNag,
	}
	details := templatefmt.Details{
		Reason:       templatefmt.ReasonBreach,
		Signal:       string(change.Current),
		OriginSignal: string(origin),
		Namespace:    key.Namespace,
		AlertID:      key.AlertID,
		Tags:         key.Tags,
		Window:       c.alert.SlidingWindow(),
		IsNag:        change.IsNag,
	}
	build(&event, &details)

	rendered, err := templatefmt.Render(c.tmpl, details)
	if err != nil {
		c.logger.Warn("details rendering failed", "tags", key.Tags, "error", err)
		rendered = fmt.Sprintf("%s: %s -> %s", details.Reason, origin, change.Current)
	}
	event.Details = rendered
	c.out.Events = append(c.out.Events, event)
}

// eventKind maps alert kind and sampler into event discriminant.
func (c *cycle) eventKind() domain.EventKind {
	switch {
	case c.alert.Kind == domain.KindPeriodOverPeriod:
		return domain.EventPeriodOverPeriod
	case c.alert.Sampler == domain.SamplerSummary:
		return domain.EventSingleMetricSummary
	case c.alert.Kind == domain.KindHealthCheck:
		return domain.EventHealthCheck
	case c.alert.Kind == domain.KindEventCount:
		return domain.EventEventCount
	default:
		return domain.EventSingleMetric
	}
}

// level is one breach check in BAD, WARN, RECOVERY priority order.
type level struct {
	signal     domain.Signal
	comparator domain.Comparator
	threshold  float64
	counts     []domain.BreachCount
}

// levels returns configured breach checks in priority order.
// Params: optional pre-aggregated counts per level (nil when absent).
// Returns: BAD, WARN, then RECOVERY for each configured threshold.
func (c *cycle) levels(bad, warn, recovery []domain.BreachCount) []level {
	out := make([]level, 0, 3)
	if c.alert.BadThreshold != nil {
		out = append(out, level{signal: domain.SignalBad, comparator: c.alert.Comparator, threshold: *c.alert.BadThreshold, counts: bad})
	}
	if c.alert.WarnThreshold != nil {
		out = append(out, level{signal: domain.SignalWarn, comparator: c.alert.Comparator, threshold: *c.alert.WarnThreshold, counts: warn})
	}
	if threshold, ok := c.alert.EffectiveRecoveryThreshold(); ok {
		out = append(out, level{signal: domain.SignalGood, comparator: c.alert.Comparator.Recovery(), threshold: threshold, counts: recovery})
	}
	return out
}

// reportedThreshold is the threshold shown in metric and summary payloads:
// bad when set, else warn; NaN when neither. Recovery derivation uses
// config.AlertConfig.PrimaryThreshold instead.
func (c *cycle) reportedThreshold() float64 {
	if c.alert.BadThreshold != nil {
		return *c.alert.BadThreshold
	}
	if c.alert.WarnThreshold != nil {
		return *c.alert.WarnThreshold
	}
	return nan()
}

func secondsToDuration(sec int64) time.Duration {
	return time.Duration(sec) * time.Second
}
