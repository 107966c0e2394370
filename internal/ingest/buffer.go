package ingest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"alerteval/internal/clock"
	"alerteval/internal/domain"
)

// ErrNoResult indicates no fresh result is buffered for an alert.
var ErrNoResult = errors.New("no query result buffered")

type bufferKey struct {
	namespace string
	alertID   int64
}

type buffered struct {
	result     domain.QueryResult
	receivedAt time.Time
}

// Buffer keeps the latest pushed query result per alert.
// Params: clock for receive timestamps and max result age (0 keeps results forever).
// Returns: ResultSink consumed by the scheduler through Take.
type Buffer struct {
	mu      sync.Mutex
	clock   clock.Clock
	maxAge  time.Duration
	latest  map[bufferKey]buffered
	dropped int
}

// NewBuffer creates result buffer.
func NewBuffer(clk clock.Clock, maxAge time.Duration) *Buffer {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Buffer{clock: clk, maxAge: maxAge, latest: make(map[bufferKey]buffered)}
}

// Push stores result, replacing any older one for the same alert.
// Params: validated query result.
// Returns: validation error; the buffer itself never refuses a result.
func (b *Buffer) Push(result domain.QueryResult) error {
	if err := result.Validate(); err != nil {
		return fmt.Errorf("buffer result: %w", err)
	}
	now := b.clock.Now()
	b.mu.Lock()
	b.put(result, now)
	b.mu.Unlock()
	return nil
}

// PushBatch stores every result of batch under one lock.
func (b *Buffer) PushBatch(results []domain.QueryResult) error {
	for i := range results {
		if err := results[i].Validate(); err != nil {
			return fmt.Errorf("buffer result[%d]: %w", i, err)
		}
	}
	now := b.clock.Now()
	b.mu.Lock()
	for _, result := range results {
		b.put(result, now)
	}
	b.mu.Unlock()
	return nil
}

func (b *Buffer) put(result domain.QueryResult, now time.Time) {
	key := bufferKey{namespace: result.Namespace, alertID: result.AlertID}
	if _, ok := b.latest[key]; ok {
		b.dropped++
	}
	b.latest[key] = buffered{result: result, receivedAt: now}
}

// Take removes and returns the latest result for alert.
// Params: alert namespace and id.
// Returns: result or ErrNoResult when nothing fresh is buffered.
func (b *Buffer) Take(namespace string, alertID int64) (domain.QueryResult, error) {
	key := bufferKey{namespace: namespace, alertID: alertID}
	b.mu.Lock()
	defer b.mu.Unlock()

	item, ok := b.latest[key]
	if !ok {
		return domain.QueryResult{}, ErrNoResult
	}
	delete(b.latest, key)
	if b.maxAge > 0 && b.clock.Now().Sub(item.receivedAt) > b.maxAge {
		return domain.QueryResult{}, fmt.Errorf("%w: result for %s/%d is older than %s", ErrNoResult, namespace, alertID, b.maxAge)
	}
	return item.result, nil
}

// Len returns number of buffered alerts.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.latest)
}

// Superseded returns how many buffered results were replaced before being taken.
func (b *Buffer) Superseded() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
