package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"alerteval/internal/domain"

	"github.com/nats-io/nats.go"
)

const eventsStreamMaxAge = 7 * 24 * time.Hour

// NATSPublisher publishes alert events into a JetStream stream.
// Params: JetStream context and events subject.
// Returns: publisher sharing the caller's connection.
type NATSPublisher struct {
	js      nats.JetStreamContext
	subject string
}

// NewNATSPublisher creates JetStream publisher and ensures the events stream.
// Params: shared connection, stream name, and subject.
// Returns: publisher or setup error.
func NewNATSPublisher(nc *nats.Conn, stream, subject string) (*NATSPublisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream init for event sink: %w", err)
	}
	if err := ensureStream(js, stream, subject, nats.LimitsPolicy, eventsStreamMaxAge); err != nil {
		return nil, err
	}
	return &NATSPublisher{js: js, subject: subject}, nil
}

// Publish sends each event with a Nats-Msg-Id dedupe header.
// Params: context and cycle events.
// Returns: first publish error.
func (p *NATSPublisher) Publish(ctx context.Context, events []domain.AlertEvent) error {
	for _, event := range events {
		body, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal alert event: %w", err)
		}
		msg := nats.NewMsg(p.subject)
		msg.Data = body
		msg.Header.Set(nats.MsgIdHdr, EventID(event))
		if _, err := p.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
			return fmt.Errorf("publish alert event: %w", err)
		}
	}
	return nil
}

// Close is a no-op; the connection belongs to the caller.
func (p *NATSPublisher) Close() error {
	return nil
}

// ensureStream ensures one JetStream stream exists with provided options.
// Params: JetStream context and stream settings.
// Returns: stream create/lookup error.
func ensureStream(
	js nats.JetStreamContext,
	streamName string,
	subject string,
	retention nats.RetentionPolicy,
	maxAge time.Duration,
) error {
	if _, err := js.StreamInfo(streamName); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) && !strings.Contains(strings.ToLower(err.Error()), "stream not found") {
		return fmt.Errorf("stream info %q: %w", streamName, err)
	}

	_, err := js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		Retention: retention,
		Storage:   nats.FileStorage,
		MaxAge:    maxAge,
	})
	if err != nil {
		return fmt.Errorf("create stream %q: %w", streamName, err)
	}
	return nil
}
