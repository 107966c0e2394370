package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"alerteval/internal/domain"

	"github.com/nats-io/nats.go"
)

// NATSWriter persists statuses in a JetStream KV bucket keyed by alert hash.
// Params: KV bucket handle on a caller-owned connection.
// Returns: KV-backed status writer.
type NATSWriter struct {
	kv nats.KeyValue
}

// NewNATSWriter opens or creates the status bucket.
// Params: shared connection and bucket name.
// Returns: writer or setup error.
func NewNATSWriter(nc *nats.Conn, bucket string) (*NATSWriter, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream init for status: %w", err)
	}
	kv, err := js.KeyValue(bucket)
	if err != nil {
		if !errors.Is(err, nats.ErrBucketNotFound) {
			return nil, fmt.Errorf("open status bucket %q: %w", bucket, err)
		}
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:  bucket,
			History: 1,
		})
		if err != nil {
			return nil, fmt.Errorf("create status bucket %q: %w", bucket, err)
		}
	}
	return &NATSWriter{kv: kv}, nil
}

// statusKey renders KV key for alert hash.
func statusKey(alertHash uint64) string {
	return strconv.FormatUint(alertHash, 16)
}

// casAttempts bounds compare-and-set retries for one status key.
const casAttempts = 3

// Write stores one KV entry per status using revision CAS.
// Params: context checked between writes and statuses.
// Returns: first encode/put error; older timestamps never overwrite newer ones.
func (w *NATSWriter) Write(ctx context.Context, statuses []domain.Status) error {
	for _, st := range statuses {
		if err := ctx.Err(); err != nil {
			return err
		}
		body, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("encode status: %w", err)
		}
		if err := w.put(statusKey(st.AlertHash), st.TimestampSec, body); err != nil {
			return err
		}
	}
	return nil
}

func (w *NATSWriter) put(key string, tsSec int64, body []byte) error {
	for attempt := 0; attempt < casAttempts; attempt++ {
		entry, err := w.kv.Get(key)
		switch {
		case errors.Is(err, nats.ErrKeyNotFound):
			_, err = w.kv.Create(key, body)
		case err != nil:
			return fmt.Errorf("get status %s: %w", key, err)
		default:
			var stored domain.Status
			if json.Unmarshal(entry.Value(), &stored) == nil && stored.TimestampSec > tsSec {
				return nil
			}
			_, err = w.kv.Update(key, body, entry.Revision())
		}
		if err == nil {
			return nil
		}
		if !isConflict(err) {
			return fmt.Errorf("put status %s: %w", key, err)
		}
	}
	return fmt.Errorf("put status %s: revision conflict after %d attempts", key, casAttempts)
}

func isConflict(err error) bool {
	return errors.Is(err, nats.ErrKeyExists) || strings.Contains(strings.ToLower(err.Error()), "wrong last sequence")
}

// Get reads status by alert hash.
// Params: context and alert hash.
// Returns: status or ErrNotFound.
func (w *NATSWriter) Get(_ context.Context, alertHash uint64) (domain.Status, error) {
	entry, err := w.kv.Get(statusKey(alertHash))
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return domain.Status{}, ErrNotFound
		}
		return domain.Status{}, fmt.Errorf("get status: %w", err)
	}
	var st domain.Status
	if err := json.Unmarshal(entry.Value(), &st); err != nil {
		return domain.Status{}, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}

// Close is a no-op; the connection belongs to the caller.
func (w *NATSWriter) Close() error {
	return nil
}
