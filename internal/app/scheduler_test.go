package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"alerteval/internal/clock"
	"alerteval/internal/config"
	"alerteval/internal/domain"
	"alerteval/internal/identity"
	"alerteval/internal/ingest"
	"alerteval/internal/metrics"
	"alerteval/internal/purge"
	"alerteval/internal/state"
	"alerteval/internal/status"
	"alerteval/internal/templatefmt"
)

const cycleEnd = int64(1_700_000_100)

type recordingPublisher struct {
	mu      sync.Mutex
	events  []domain.AlertEvent
	block   chan struct{}
	panicOn bool
}

func (p *recordingPublisher) Publish(_ context.Context, events []domain.AlertEvent) error {
	if p.block != nil {
		<-p.block
	}
	if p.panicOn {
		panic("publisher exploded")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) published() []domain.AlertEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.AlertEvent(nil), p.events...)
}

type countingSource struct {
	mu    sync.Mutex
	takes int
	inner ResultSource
}

func (s *countingSource) Take(namespace string, alertID int64) (domain.QueryResult, error) {
	s.mu.Lock()
	s.takes++
	s.mu.Unlock()
	return s.inner.Take(namespace, alertID)
}

func (s *countingSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.takes
}

func testAlert() config.AlertConfig {
	bad := 90.0
	nag := int64(-1)
	return config.AlertConfig{
		Name:                    "cpu",
		ID:                      42,
		Namespace:               "prod",
		Kind:                    domain.KindSingleMetric,
		Sampler:                 domain.SamplerAllOfTheTimes,
		Comparator:              domain.ComparatorAbove,
		BadThreshold:            &bad,
		SlidingWindowSec:        300,
		IntervalSec:             60,
		ReportingIntervalSec:    60,
		MissingIntervalSec:      300,
		AutoRecoveryIntervalSec: 600,
		NagIntervalSec:          &nag,
		DetailsTemplate:         templatefmt.DefaultDetailsTemplate,
	}
}

func breachingResult(hosts ...string) domain.QueryResult {
	series := make([]domain.Series, 0, len(hosts))
	for _, host := range hosts {
		series = append(series, domain.Series{Tags: map[string]string{"host": host}, Values: []float64{95, 96, 97, 98, 99}})
	}
	return domain.QueryResult{
		AlertID:   42,
		Namespace: "prod",
		Window: &domain.WindowResult{
			Grid:   domain.TimeGrid{StartSec: cycleEnd - 300, EndSec: cycleEnd, IntervalSec: 60},
			Series: series,
		},
	}
}

type schedulerFixture struct {
	scheduler *Scheduler
	buffer    *ingest.Buffer
	store     *state.Store
	publisher *recordingPublisher
	statuses  *status.Memory
	metrics   *metrics.Metrics
	ticks     chan time.Time
	cancel    context.CancelFunc
	done      chan error
}

func newSchedulerFixture(t *testing.T, cfg config.ServiceConfig, publisher *recordingPublisher, source func(*ingest.Buffer) ResultSource) *schedulerFixture {
	t.Helper()
	clk := clock.NewManual(time.Unix(cycleEnd, 0))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	buffer := ingest.NewBuffer(clk, 0)
	var results ResultSource = buffer
	if source != nil {
		results = source(buffer)
	}
	fx := &schedulerFixture{
		buffer:    buffer,
		store:     state.NewStore(),
		publisher: publisher,
		statuses:  status.NewMemory(),
		metrics:   metrics.New(nil),
		ticks:     make(chan time.Time),
		done:      make(chan error, 1),
	}
	fx.scheduler = NewScheduler(cfg, []config.AlertConfig{testAlert()}, SchedulerDeps{
		Logger:    logger,
		Clock:     clk,
		Results:   results,
		Store:     fx.store,
		Purger:    purge.New(config.PurgeConfig{}, logger),
		Publisher: publisher,
		Statuses:  fx.statuses,
		Metrics:   fx.metrics,
	})

	ctx, cancel := context.WithCancel(context.Background())
	fx.cancel = cancel
	go func() { fx.done <- fx.scheduler.loop(ctx, fx.ticks) }()
	t.Cleanup(fx.stop)
	return fx
}

func (fx *schedulerFixture) stop() {
	fx.cancel()
	<-fx.done
}

func (fx *schedulerFixture) tick() {
	fx.ticks <- time.Now()
}

// waitTask polls task table until cond holds for the only alert.
func (fx *schedulerFixture) waitTask(t *testing.T, cond func(TaskState) bool) TaskState {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		tasks, err := fx.scheduler.Tasks(context.Background())
		if err != nil {
			t.Fatalf("tasks: %v", err)
		}
		if len(tasks) != 1 {
			t.Fatalf("expected one task, got %d", len(tasks))
		}
		if cond(tasks[0]) {
			return tasks[0]
		}
		if time.Now().After(deadline) {
			t.Fatalf("task condition not reached, last state %+v", tasks[0])
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func serviceCfg() config.ServiceConfig {
	return config.ServiceConfig{EvalIntervalSec: 60, Workers: 2, TaskTimeoutMS: 5000, PurgeIntervalSec: 3600}
}

func finishedWith(result string) func(TaskState) bool {
	return func(task TaskState) bool {
		return !task.Running && task.LastResult == result
	}
}

func TestSchedulerCycleEvaluatesPublishesAndWritesStatus(t *testing.T) {
	t.Parallel()

	fx := newSchedulerFixture(t, serviceCfg(), &recordingPublisher{}, nil)
	if err := fx.buffer.Push(breachingResult("h1", "h2")); err != nil {
		t.Fatalf("push: %v", err)
	}

	fx.tick()
	task := fx.waitTask(t, finishedWith(metrics.ResultOK))
	if task.LastCycleID == "" || task.Failures != 0 {
		t.Fatalf("unexpected task state %+v", task)
	}

	events := fx.publisher.published()
	if len(events) != 2 {
		t.Fatalf("expected two events, got %+v", events)
	}
	for _, event := range events {
		if event.Signal != domain.SignalBad {
			t.Fatalf("unexpected event %+v", event)
		}
	}
	hash := identity.Hash("prod", 42, map[string]string{"host": "h1"})
	got, err := fx.statuses.Get(context.Background(), hash)
	if err != nil || got.Signal != domain.SignalBad {
		t.Fatalf("status must be written, got %+v err=%v", got, err)
	}
	if fx.store.CurrentState(hash) != domain.SignalBad {
		t.Fatalf("store must hold BAD, got %s", fx.store.CurrentState(hash))
	}
}

func TestSchedulerSkipsCycleWithoutResult(t *testing.T) {
	t.Parallel()

	fx := newSchedulerFixture(t, serviceCfg(), &recordingPublisher{}, nil)
	fx.tick()
	task := fx.waitTask(t, finishedWith(metrics.ResultNoResult))
	if task.Failures != 0 {
		t.Fatalf("missing result is not a failure: %+v", task)
	}
	if len(fx.publisher.published()) != 0 || fx.statuses.Len() != 0 {
		t.Fatalf("skipped cycle must not publish or write")
	}
}

func TestSchedulerDoesNotResubmitRunningAlert(t *testing.T) {
	t.Parallel()

	publisher := &recordingPublisher{block: make(chan struct{})}
	var counter *countingSource
	fx := newSchedulerFixture(t, serviceCfg(), publisher, func(buffer *ingest.Buffer) ResultSource {
		counter = &countingSource{inner: buffer}
		return counter
	})
	if err := fx.buffer.Push(breachingResult("h1")); err != nil {
		t.Fatalf("push: %v", err)
	}

	fx.tick()
	fx.waitTask(t, func(task TaskState) bool { return task.Running })
	fx.tick()
	fx.tick()
	close(publisher.block)
	fx.waitTask(t, finishedWith(metrics.ResultOK))

	if counter.count() != 1 {
		t.Fatalf("running alert must not be resubmitted, takes=%d", counter.count())
	}
}

func TestSchedulerRecoversPanicsAndKeepsScheduling(t *testing.T) {
	t.Parallel()

	publisher := &recordingPublisher{panicOn: true}
	fx := newSchedulerFixture(t, serviceCfg(), publisher, nil)
	if err := fx.buffer.Push(breachingResult("h1")); err != nil {
		t.Fatalf("push: %v", err)
	}

	fx.tick()
	task := fx.waitTask(t, finishedWith(metrics.ResultPanic))
	if task.Failures != 1 {
		t.Fatalf("panic must count as failure: %+v", task)
	}

	fx.tick()
	task = fx.waitTask(t, finishedWith(metrics.ResultNoResult))
	if task.Failures != 0 {
		t.Fatalf("next successful cycle resets failures: %+v", task)
	}
}

func TestSchedulerMarksExpiredDeadlineAsTimeout(t *testing.T) {
	t.Parallel()

	cfg := serviceCfg()
	cfg.TaskTimeoutMS = 0
	fx := newSchedulerFixture(t, cfg, &recordingPublisher{}, nil)

	// enough tag-sets for the cancellation check to fire after data points are stored
	hosts := make([]string, 0, 600)
	for i := 0; i < 600; i++ {
		hosts = append(hosts, "h"+strconv.Itoa(i))
	}
	if err := fx.buffer.Push(breachingResult(hosts...)); err != nil {
		t.Fatalf("push: %v", err)
	}

	fx.tick()
	task := fx.waitTask(t, finishedWith(metrics.ResultTimeout))
	if task.Failures != 1 {
		t.Fatalf("timeout must count as failure: %+v", task)
	}
	if len(fx.publisher.published()) != 0 {
		t.Fatalf("timed out cycle must not publish")
	}
	if fx.store.Len() == 0 {
		t.Fatalf("mutations committed before the deadline are kept")
	}
}

func TestSchedulerTasksHonorsContext(t *testing.T) {
	t.Parallel()

	scheduler := NewScheduler(serviceCfg(), nil, SchedulerDeps{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := scheduler.Tasks(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}
