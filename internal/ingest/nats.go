package ingest

import (
	"fmt"
	"log/slog"
	"time"

	"alerteval/internal/config"

	"github.com/nats-io/nats.go"
)

// NATSSubscriber consumes query results via JetStream queue consumer and forwards to sink.
// Params: NATS connection, JetStream queue subscription, and result sink.
// Returns: NATS ingest lifecycle handle.
type NATSSubscriber struct {
	sub    *nats.Subscription
	logger *slog.Logger
}

// NewNATSSubscriber creates JetStream queue consumer for result ingestion.
// Params: shared connection, NATS config, sink, and optional logger.
// Returns: started subscriber or initialization error; the connection stays owned by caller.
func NewNATSSubscriber(nc *nats.Conn, cfg config.NATSConfig, sink ResultSink, logger *slog.Logger) (*NATSSubscriber, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream init for ingest: %w", err)
	}
	if err := ensureStream(js, cfg.ResultsStream, cfg.ResultsSubject); err != nil {
		return nil, err
	}

	subscriber := &NATSSubscriber{logger: logger}
	ingest := cfg.Ingest
	ackWait := time.Duration(ingest.AckWaitSec) * time.Second
	nackDelay := time.Duration(ingest.NackDelayMS) * time.Millisecond
	subOpts := []nats.SubOpt{
		nats.BindStream(cfg.ResultsStream),
		nats.Durable(cfg.ConsumerName),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(ackWait),
		nats.MaxDeliver(ingest.MaxDeliver),
		nats.MaxAckPending(ingest.MaxAckPending),
		nats.DeliverAll(),
	}
	sub, err := js.QueueSubscribe(cfg.ResultsSubject, cfg.DeliverGroup, func(message *nats.Msg) {
		results, decodeErr := decodeResultPayload(message.Data)
		if decodeErr != nil {
			if logger != nil {
				logger.Warn("nats ingest decode failed", "subject", message.Subject, "error", decodeErr.Error())
			}
			subscriber.ackMessage(message, "decode")
			return
		}
		if pushErr := pushResults(sink, results); pushErr != nil {
			if logger != nil {
				logger.Error("nats ingest push failed", "subject", message.Subject, "error", pushErr.Error())
			}
			subscriber.nackMessage(message, nackDelay)
			return
		}
		subscriber.ackMessage(message, "processed")
	}, subOpts...)
	if err != nil {
		return nil, fmt.Errorf("queue subscribe %q/%q: %w", cfg.ResultsSubject, cfg.DeliverGroup, err)
	}
	subscriber.sub = sub
	return subscriber, nil
}

// ensureStream creates the results stream when it does not exist yet.
// Params: JetStream context, stream name, and subject.
// Returns: stream lookup/create error.
func ensureStream(js nats.JetStreamContext, stream, subject string) error {
	if _, err := js.StreamInfo(stream); err == nil {
		return nil
	}
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      stream,
		Subjects:  []string{subject},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("create results stream %q: %w", stream, err)
	}
	return nil
}

// ackMessage acknowledges processed/invalid message and logs ack failures.
// Params: JetStream message and short reason.
// Returns: none.
func (s *NATSSubscriber) ackMessage(message *nats.Msg, reason string) {
	if message == nil {
		return
	}
	if err := message.Ack(); err != nil && s.logger != nil {
		s.logger.Warn("nats ingest ack failed", "subject", message.Subject, "reason", reason, "error", err.Error())
	}
}

// nackMessage asks JetStream to redeliver message and logs nack failures.
// Params: JetStream message and optional delay.
// Returns: none.
func (s *NATSSubscriber) nackMessage(message *nats.Msg, delay time.Duration) {
	if message == nil {
		return
	}
	var err error
	if delay > 0 {
		err = message.NakWithDelay(delay)
	} else {
		err = message.Nak()
	}
	if err != nil && s.logger != nil {
		s.logger.Warn("nats ingest nack failed", "subject", message.Subject, "error", err.Error())
	}
}

// Close drains the subscription.
// Params: none.
// Returns: drain error.
func (s *NATSSubscriber) Close() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Drain()
}
