package status

import (
	"context"
	"errors"
	"fmt"

	"alerteval/internal/config"
	"alerteval/internal/domain"

	"github.com/nats-io/nats.go"
)

var (
	// ErrUnsupportedBackend indicates an unknown status backend name.
	ErrUnsupportedBackend = errors.New("unsupported status backend")
	// ErrNotFound indicates no status stored for the identity.
	ErrNotFound = errors.New("status not found")
)

// Writer persists per-identity statuses owed after each evaluation cycle.
// Params: context bounding the write and statuses of one cycle.
// Returns: write error; a failed batch is retried by the next cycle's statuses.
type Writer interface {
	Write(ctx context.Context, statuses []domain.Status) error
	Get(ctx context.Context, alertHash uint64) (domain.Status, error)
	Close() error
}

// New builds status writer for configured backend.
// Params: status config, NATS config and shared connection for the nats backend.
// Returns: writer or setup error.
func New(ctx context.Context, cfg config.StatusConfig, natsCfg config.NATSConfig, nc *nats.Conn) (Writer, error) {
	switch cfg.Backend {
	case config.StatusBackendMemory:
		return NewMemory(), nil
	case config.StatusBackendNATS:
		if nc == nil {
			return nil, errors.New("nats status backend requires nats connection")
		}
		return wrap(NewNATSWriter(nc, natsCfg.StatusBucket))
	case config.StatusBackendSQLite:
		return wrap(OpenSQLite(ctx, cfg.DSN))
	case config.StatusBackendPostgres:
		return wrap(OpenPostgres(ctx, cfg.DSN))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, cfg.Backend)
	}
}

// wrap avoids returning a typed nil inside a non-nil Writer.
func wrap[W Writer](writer W, err error) (Writer, error) {
	if err != nil {
		return nil, err
	}
	return writer, nil
}
