package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"alerteval/internal/clock"
	"alerteval/internal/config"
	"alerteval/internal/domain"
	"alerteval/internal/evaluator"
	"alerteval/internal/ingest"
	"alerteval/internal/metrics"
	"alerteval/internal/purge"
	"alerteval/internal/sink"
	"alerteval/internal/state"
	"alerteval/internal/status"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ResultSource hands out the latest fetched result for one alert.
type ResultSource interface {
	Take(namespace string, alertID int64) (domain.QueryResult, error)
}

// TaskState is the scheduler's view of one alert.
type TaskState struct {
	Alert        string
	Running      bool
	LastCycleID  string
	LastResult   string
	LastStarted  time.Time
	LastFinished time.Time
	LastPurgeSec int64
	Failures     int
}

// Scheduler runs per-alert evaluation tasks on a bounded worker pool.
// Params: service settings, alerts, and the collaborators one task drives.
// Returns: actor whose Run loop owns the task table.
type Scheduler struct {
	cfg       config.ServiceConfig
	alerts    []config.AlertConfig
	logger    *slog.Logger
	clock     clock.Clock
	results   ResultSource
	evaluator *evaluator.Evaluator
	store     *state.Store
	purger    *purge.Policy
	publisher sink.Publisher
	statuses  status.Writer
	metrics   *metrics.Metrics

	reports  chan taskReport
	requests chan chan []TaskState
}

// SchedulerDeps groups scheduler collaborators.
type SchedulerDeps struct {
	Logger    *slog.Logger
	Clock     clock.Clock
	Results   ResultSource
	Store     *state.Store
	Purger    *purge.Policy
	Publisher sink.Publisher
	Statuses  status.Writer
	Metrics   *metrics.Metrics
}

type taskReport struct {
	alert    string
	cycleID  string
	result   string
	purged   bool
	nowSec   int64
	finished time.Time
}

// NewScheduler builds scheduler for alert list.
// Params: service settings, alert definitions, and collaborators.
// Returns: scheduler ready for Run.
func NewScheduler(cfg config.ServiceConfig, alerts []config.AlertConfig, deps SchedulerDeps) *Scheduler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Scheduler{
		cfg:       cfg,
		alerts:    alerts,
		logger:    logger,
		clock:     clk,
		results:   deps.Results,
		evaluator: evaluator.New(deps.Store, logger),
		store:     deps.Store,
		purger:    deps.Purger,
		publisher: deps.Publisher,
		statuses:  deps.Statuses,
		metrics:   deps.Metrics,
		reports:   make(chan taskReport, len(alerts)),
		requests:  make(chan chan []TaskState),
	}
}

// Run ticks every eval interval until ctx is done, then waits for running tasks.
// Params: root context.
// Returns: ctx error after shutdown.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.EvalInterval())
	defer ticker.Stop()
	return s.loop(ctx, ticker.C)
}

// Tasks returns a snapshot of the task table.
// Params: context bounding the wait for the actor.
// Returns: per-alert states in alert order.
func (s *Scheduler) Tasks(ctx context.Context) ([]TaskState, error) {
	reply := make(chan []TaskState, 1)
	select {
	case s.requests <- reply:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case tasks := <-reply:
		return tasks, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Scheduler) loop(ctx context.Context, ticks <-chan time.Time) error {
	tasks := make(map[string]*TaskState, len(s.alerts))
	for _, alert := range s.alerts {
		tasks[alert.Name] = &TaskState{Alert: alert.Name, LastPurgeSec: clock.UnixSec(s.clock)}
	}

	var group errgroup.Group
	workers := s.cfg.Workers
	if workers <= 0 {
		workers = -1
	}
	group.SetLimit(workers)

	for {
		select {
		case <-ctx.Done():
			_ = group.Wait()
			return ctx.Err()
		case <-ticks:
			s.submitDue(ctx, &group, tasks)
		case report := <-s.reports:
			s.finish(tasks, report)
		case reply := <-s.requests:
			reply <- snapshot(s.alerts, tasks)
		}
	}
}

// submitDue starts one task per idle alert.
func (s *Scheduler) submitDue(ctx context.Context, group *errgroup.Group, tasks map[string]*TaskState) {
	nowSec := clock.UnixSec(s.clock)
	purgeEvery := int64(s.cfg.PurgeIntervalSec)
	for _, alert := range s.alerts {
		task := tasks[alert.Name]
		if task.Running {
			s.logger.Debug("alert still running, skipping tick", "alert", alert.Name, "cycle_id", task.LastCycleID)
			continue
		}
		task.Running = true
		task.LastCycleID = uuid.NewString()
		task.LastStarted = s.clock.Now()

		cycleID := task.LastCycleID
		purgeDue := purgeEvery > 0 && nowSec-task.LastPurgeSec >= purgeEvery
		group.Go(func() error {
			s.reports <- s.runTask(ctx, alert, cycleID, purgeDue)
			return nil
		})
	}
}

func (s *Scheduler) finish(tasks map[string]*TaskState, report taskReport) {
	task, ok := tasks[report.alert]
	if !ok {
		return
	}
	task.Running = false
	task.LastResult = report.result
	task.LastFinished = report.finished
	if report.purged {
		task.LastPurgeSec = report.nowSec
	}
	if report.result == metrics.ResultOK || report.result == metrics.ResultNoResult {
		task.Failures = 0
		return
	}
	task.Failures++
}

// runTask executes one cycle: take result, evaluate, purge, publish, write statuses.
// Params: root context, alert, cycle id, and whether purge is due.
// Returns: report for the actor; never panics.
func (s *Scheduler) runTask(ctx context.Context, alert config.AlertConfig, cycleID string, purgeDue bool) (report taskReport) {
	started := s.clock.Now()
	nowSec := started.Unix()
	logger := s.logger.With("alert", alert.Name, "cycle_id", cycleID)
	report = taskReport{alert: alert.Name, cycleID: cycleID, nowSec: nowSec}

	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("evaluation task panicked", "panic", fmt.Sprint(recovered), "stack", string(debug.Stack()))
			report.result = metrics.ResultPanic
		}
		report.finished = s.clock.Now()
		if s.metrics != nil {
			s.metrics.ObserveCycle(alert.Name, report.result, report.finished.Sub(started))
		}
	}()

	result, err := s.results.Take(alert.Namespace, alert.ID)
	if err != nil {
		if errors.Is(err, ingest.ErrNoResult) {
			logger.Debug("no query result for cycle", "error", err.Error())
			report.result = metrics.ResultNoResult
			return report
		}
		logger.Error("query result unavailable", "error", err.Error())
		report.result = metrics.ResultError
		return report
	}

	taskCtx, cancel := context.WithTimeout(ctx, s.cfg.TaskTimeout())
	defer cancel()

	outcome, err := s.evaluator.Evaluate(taskCtx, alert, result, nowSec)
	if err != nil {
		if errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
			logger.Warn("evaluation timed out", "timeout", s.cfg.TaskTimeout().String(), "tag_sets", outcome.Stats.TagSets)
			report.result = metrics.ResultTimeout
			return report
		}
		logger.Error("evaluation cycle failed", "error", err.Error())
		report.result = metrics.ResultError
		return report
	}
	if s.metrics != nil {
		s.metrics.ObserveEvaluation(alert.Name, outcome.Stats.TagSets, outcome.Stats.Errors, outcome.Stats.Suppressed, outcome.Events)
	}

	if purgeDue && s.purger != nil {
		purged := s.purger.Purge(s.store, alert, nowSec)
		report.purged = true
		if s.metrics != nil {
			s.metrics.ObservePurge(alert.Name, purged.Purged)
		}
		logger.Debug("state purge finished", "scanned", purged.Scanned, "purged", purged.Purged, "protected", purged.Protected)
	}
	if s.metrics != nil && s.store != nil {
		s.metrics.SetStoreSize(s.store.Len())
	}

	report.result = metrics.ResultOK
	s.deliver(ctx, logger, outcome)
	return report
}

// deliver publishes events and writes statuses on a fresh deadline.
// Params: root context, task logger, and evaluation outcome.
// Returns: none; failures are logged and counted.
func (s *Scheduler) deliver(ctx context.Context, logger *slog.Logger, outcome evaluator.Outcome) {
	deliverCtx, cancel := context.WithTimeout(ctx, s.cfg.TaskTimeout())
	defer cancel()

	if len(outcome.Events) > 0 && s.publisher != nil {
		if err := s.publisher.Publish(deliverCtx, outcome.Events); err != nil {
			logger.Error("publish alert events failed", "events", len(outcome.Events), "error", err.Error())
			if s.metrics != nil {
				s.metrics.PublishFailed()
			}
		}
	}
	if len(outcome.Statuses) > 0 && s.statuses != nil {
		if err := s.statuses.Write(deliverCtx, outcome.Statuses); err != nil {
			logger.Error("write statuses failed", "statuses", len(outcome.Statuses), "error", err.Error())
			if s.metrics != nil {
				s.metrics.StatusWriteFailed()
			}
		}
	}
}

func snapshot(alerts []config.AlertConfig, tasks map[string]*TaskState) []TaskState {
	out := make([]TaskState, 0, len(alerts))
	for _, alert := range alerts {
		out = append(out, *tasks[alert.Name])
	}
	return out
}
