package sink

import (
	"context"
	"log/slog"

	"alerteval/internal/domain"
)

// LogPublisher writes events to the service logger.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates log publisher.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

// Publish logs one line per event; BAD and MISSING at WARN level.
func (p *LogPublisher) Publish(ctx context.Context, events []domain.AlertEvent) error {
	for _, event := range events {
		level := slog.LevelInfo
		if event.Signal == domain.SignalBad || event.Signal == domain.SignalMissing {
			level = slog.LevelWarn
		}
		p.logger.Log(ctx, level, "alert event",
			"event_id", EventID(event),
			"kind", event.Kind,
			"alert_id", event.AlertID,
			"namespace", event.Namespace,
			"alert_hash", event.AlertHash,
			"tags", event.Tags,
			"origin_signal", event.OriginSignal,
			"signal", event.Signal,
			"is_nag", event.IsNag,
			"details", event.Details,
		)
	}
	return nil
}

// Close is a no-op.
func (p *LogPublisher) Close() error {
	return nil
}
