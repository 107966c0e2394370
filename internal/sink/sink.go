package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"alerteval/internal/config"
	"alerteval/internal/domain"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// eventNamespace seeds deterministic event ids.
var eventNamespace = uuid.MustParse("4f5c2a9e-7d61-4b8e-9a3f-0c1d2e3f4a5b")

// Publisher hands alert events to one delivery backend.
// Params: context bounding the publish and events of one cycle.
// Returns: publish error; events already sent stay sent.
type Publisher interface {
	Publish(ctx context.Context, events []domain.AlertEvent) error
	Close() error
}

// EventID builds stable id for one raised event.
// Params: event.
// Returns: name-based UUID, identical for a redelivered event of the same cycle.
func EventID(event domain.AlertEvent) string {
	raw := fmt.Sprintf(
		"%d|%s|%s|%d|%t",
		event.AlertHash,
		event.OriginSignal,
		event.Signal,
		event.RaisedTimestampSec,
		event.IsNag,
	)
	return uuid.NewSHA1(eventNamespace, []byte(raw)).String()
}

// partitionKey keeps all events of one identity on one partition.
func partitionKey(event domain.AlertEvent) []byte {
	return []byte(strconv.FormatUint(event.AlertHash, 10))
}

// Fanout publishes each batch to every backend.
type Fanout struct {
	publishers []Publisher
}

// NewFanout combines publishers.
func NewFanout(publishers ...Publisher) *Fanout {
	return &Fanout{publishers: publishers}
}

// Publish sends events to all backends.
// Params: context and cycle events.
// Returns: joined error of failed backends; one failure never skips the others.
func (f *Fanout) Publish(ctx context.Context, events []domain.AlertEvent) error {
	if len(events) == 0 {
		return nil
	}
	var errs []error
	for _, publisher := range f.publishers {
		if err := publisher.Publish(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all backends.
func (f *Fanout) Close() error {
	var errs []error
	for _, publisher := range f.publishers {
		if err := publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// New builds publisher fan-out from sink config.
// Params: full config, shared NATS connection (nil when NATS is unused), and logger.
// Returns: fan-out or setup error; partially built backends are closed on failure.
func New(cfg config.Config, nc *nats.Conn, logger *slog.Logger) (*Fanout, error) {
	publishers := make([]Publisher, 0, len(cfg.Sink.Backends))
	fail := func(err error) (*Fanout, error) {
		_ = NewFanout(publishers...).Close()
		return nil, err
	}
	for _, backend := range cfg.Sink.Backends {
		switch backend {
		case config.SinkLog:
			publishers = append(publishers, NewLogPublisher(logger))
		case config.SinkNATS:
			if nc == nil {
				return fail(errors.New("nats sink requires nats connection"))
			}
			publisher, err := NewNATSPublisher(nc, cfg.NATS.EventsStream, cfg.NATS.EventsSubject)
			if err != nil {
				return fail(err)
			}
			publishers = append(publishers, publisher)
		case config.SinkKafka:
			publishers = append(publishers, NewKafkaPublisher(cfg.Kafka))
		default:
			return fail(fmt.Errorf("unsupported sink backend %q", backend))
		}
	}
	return NewFanout(publishers...), nil
}
