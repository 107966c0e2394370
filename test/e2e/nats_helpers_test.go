package e2e

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"alerteval/internal/domain"
	"alerteval/test/testutil"

	"github.com/nats-io/nats.go"
)

const (
	e2eResultsSubj   = "alerteval.results"
	e2eEventsStream  = "ALERTEVAL_EVENTS"
	e2eEventsSubj    = "alerteval.events"
	e2eStatusBucket  = "alerteval_status"
	e2eFetchDeadline = 2 * time.Second
)

// startLocalNATSServer starts a local JetStream NATS process for e2e tests.
// Params: testing handle for lifecycle/error reporting.
// Returns: server URL and stop callback.
func startLocalNATSServer(tb testing.TB) (string, func()) {
	return testutil.StartLocalNATSServer(tb)
}

// publishResult publishes one query result document into the results stream.
// Params: server URL and JSON payload.
// Returns: publish error.
func publishResult(url, payload string) error {
	nc, err := nats.Connect(url)
	if err != nil {
		return err
	}
	defer nc.Close()
	js, err := nc.JetStream()
	if err != nil {
		return err
	}
	_, err = js.Publish(e2eResultsSubj, []byte(payload))
	return err
}

// readEvents fetches every alert event currently held by the events stream.
// Params: test handle and server URL.
// Returns: decoded events in stream order.
func readEvents(tb testing.TB, url string) []domain.AlertEvent {
	tb.Helper()

	nc, err := nats.Connect(url)
	if err != nil {
		tb.Fatalf("connect nats: %v", err)
	}
	defer nc.Close()
	js, err := nc.JetStream()
	if err != nil {
		tb.Fatalf("jetstream init: %v", err)
	}
	info, err := js.StreamInfo(e2eEventsStream)
	if err != nil {
		return nil
	}

	events := make([]domain.AlertEvent, 0, info.State.Msgs)
	for seq := info.State.FirstSeq; seq <= info.State.LastSeq && info.State.Msgs > 0; seq++ {
		raw, err := js.GetMsg(e2eEventsStream, seq)
		if err != nil {
			tb.Fatalf("get event seq %d: %v", seq, err)
		}
		var event domain.AlertEvent
		if err := json.Unmarshal(raw.Data, &event); err != nil {
			tb.Fatalf("decode event seq %d: %v", seq, err)
		}
		events = append(events, event)
	}
	return events
}

// readStatus reads one status from the status KV bucket.
// Params: test handle, server URL, and alert hash.
// Returns: status and false when the key is absent.
func readStatus(tb testing.TB, url string, alertHash uint64) (domain.Status, bool) {
	tb.Helper()

	nc, err := nats.Connect(url)
	if err != nil {
		tb.Fatalf("connect nats: %v", err)
	}
	defer nc.Close()
	js, err := nc.JetStream(nats.MaxWait(e2eFetchDeadline))
	if err != nil {
		tb.Fatalf("jetstream init: %v", err)
	}
	kv, err := js.KeyValue(e2eStatusBucket)
	if err != nil {
		return domain.Status{}, false
	}
	entry, err := kv.Get(strconv.FormatUint(alertHash, 16))
	if err != nil {
		return domain.Status{}, false
	}
	var st domain.Status
	if err := json.Unmarshal(entry.Value(), &st); err != nil {
		tb.Fatalf("decode status: %v", err)
	}
	return st, true
}
