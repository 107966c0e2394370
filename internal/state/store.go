package state

import (
	"iter"
	"sync"

	"alerteval/internal/domain"
	"alerteval/internal/identity"
)

// shardCount must stay a power of two.
const shardCount = 64

// Record is per-identity state owned by Store.
// Params: identity parts, current signal, and bookkeeping timestamps in unix seconds.
// Returns: value snapshot; Tags must be treated as read-only.
type Record struct {
	Namespace       string            `json:"namespace"`
	AlertID         int64             `json:"alert_id"`
	Tags            map[string]string `json:"tags"`
	State           domain.Signal     `json:"state"`
	LastSeenSec     int64             `json:"last_seen_sec"`
	StateSinceSec   int64             `json:"state_since_sec"`
	LastNotifiedSec int64             `json:"last_notified_sec"`
	Notified        bool              `json:"notified"`
}

// Store keeps per-identity records in a sharded map.
// Params: shards guarded by their own RWMutex.
// Returns: concurrent store shared by all evaluation tasks.
type Store struct {
	shards [shardCount]shard
}

type shard struct {
	mu      sync.RWMutex
	records map[uint64]Record
}

// NewStore creates empty state store.
func NewStore() *Store {
	store := &Store{}
	for i := range store.shards {
		store.shards[i].records = make(map[uint64]Record)
	}
	return store
}

func (s *Store) shardFor(hash uint64) *shard {
	return &s.shards[hash&(shardCount-1)]
}

func newRecord(key identity.Key, nowSec int64) Record {
	return Record{
		Namespace:     key.Namespace,
		AlertID:       key.AlertID,
		Tags:          key.Tags,
		State:         domain.SignalUnknown,
		LastSeenSec:   -1,
		StateSinceSec: nowSec,
	}
}

// Raise applies newState to the identity and reports whether to notify.
// Params: identity key, new signal, evaluation time, and transition policy.
// Returns: state change; RaiseAlert set by policy transition or due nag.
func (s *Store) Raise(key identity.Key, newState domain.Signal, nowSec int64, policy Policy) domain.StateChange {
	sh := s.shardFor(key.Hash)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	record, ok := sh.records[key.Hash]
	if !ok {
		record = newRecord(key, nowSec)
	}
	if len(record.Tags) == 0 {
		record.Tags = key.Tags
	}

	previous := record.State
	change := domain.StateChange{Previous: previous, Current: newState}
	unchangedMissing := previous == domain.SignalMissing && newState == domain.SignalMissing

	switch {
	case !unchangedMissing && policy.ShouldNotify(previous, newState):
		change.RaiseAlert = true
		record.LastNotifiedSec = nowSec
		record.Notified = true
	case previous == newState && record.Notified && policy.NagDue(record.LastNotifiedSec, nowSec):
		change.RaiseAlert = true
		change.IsNag = true
		record.LastNotifiedSec = nowSec
	case previous != newState:
		record.Notified = false
	}

	if previous != newState {
		record.StateSinceSec = nowSec
	}
	record.State = newState
	sh.records[key.Hash] = record
	return change
}

// UpdateDataPoint records that the identity reported data at tsSec.
// Params: identity key and data timestamp.
// Returns: none; last-seen never moves backwards.
func (s *Store) UpdateDataPoint(key identity.Key, tsSec int64) {
	sh := s.shardFor(key.Hash)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	record, ok := sh.records[key.Hash]
	if !ok {
		record = newRecord(key, tsSec)
	}
	if len(record.Tags) == 0 {
		record.Tags = key.Tags
	}
	if tsSec > record.LastSeenSec {
		record.LastSeenSec = tsSec
	}
	sh.records[key.Hash] = record
}

// LastSeen returns last data timestamp or -1 for unknown identities.
func (s *Store) LastSeen(hash uint64) int64 {
	record, ok := s.Get(hash)
	if !ok {
		return -1
	}
	return record.LastSeenSec
}

// CurrentState returns stored signal or UNKNOWN.
func (s *Store) CurrentState(hash uint64) domain.Signal {
	record, ok := s.Get(hash)
	if !ok {
		return domain.SignalUnknown
	}
	return record.State
}

// Tags returns retained tags.
// Params: identity hash.
// Returns: tags and false when record is absent or its tags are unresolvable.
func (s *Store) Tags(hash uint64) (map[string]string, bool) {
	record, ok := s.Get(hash)
	if !ok || len(record.Tags) == 0 {
		return nil, false
	}
	return record.Tags, true
}

// Get returns record snapshot.
func (s *Store) Get(hash uint64) (Record, bool) {
	sh := s.shardFor(hash)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	record, ok := sh.records[hash]
	return record, ok
}

// Put stores record as-is. Used to restore externally persisted state.
func (s *Store) Put(hash uint64, record Record) {
	sh := s.shardFor(hash)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.records[hash] = record
}

// Delete removes record.
// Params: identity hash.
// Returns: true when a record was removed.
func (s *Store) Delete(hash uint64) bool {
	sh := s.shardFor(hash)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.records[hash]; !ok {
		return false
	}
	delete(sh.records, hash)
	return true
}

// Len returns number of stored identities.
func (s *Store) Len() int {
	total := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		total += len(sh.records)
		sh.mu.RUnlock()
	}
	return total
}

// All iterates every stored identity.
// Params: none.
// Returns: sequence over per-shard snapshots; callers may mutate the store while iterating.
func (s *Store) All() iter.Seq2[uint64, Record] {
	return s.scan(func(Record) bool { return true })
}

// ForAlert iterates identities of one alert.
// Params: namespace and alert id.
// Returns: sequence over per-shard snapshots.
func (s *Store) ForAlert(namespace string, alertID int64) iter.Seq2[uint64, Record] {
	return s.scan(func(record Record) bool {
		return record.AlertID == alertID && record.Namespace == namespace
	})
}

type entry struct {
	hash   uint64
	record Record
}

func (s *Store) scan(match func(Record) bool) iter.Seq2[uint64, Record] {
	return func(yield func(uint64, Record) bool) {
		var batch []entry
		for i := range s.shards {
			sh := &s.shards[i]
			batch = batch[:0]
			sh.mu.RLock()
			for hash, record := range sh.records {
				if match(record) {
					batch = append(batch, entry{hash: hash, record: record})
				}
			}
			sh.mu.RUnlock()

			for _, item := range batch {
				if !yield(item.hash, item.record) {
					return
				}
			}
		}
	}
}
