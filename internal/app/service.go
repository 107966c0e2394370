package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"alerteval/internal/clock"
	"alerteval/internal/config"
	"alerteval/internal/ingest"
	"alerteval/internal/logging"
	"alerteval/internal/metrics"
	"alerteval/internal/purge"
	"alerteval/internal/sink"
	"alerteval/internal/state"
	"alerteval/internal/status"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
)

// Service composes runtime dependencies and process lifecycle.
// Params: config source and shared runtime components.
// Returns: runnable evaluation service.
type Service struct {
	cfg       config.Config
	logger    *slog.Logger
	closeLog  func()
	nc        *nats.Conn
	store     *state.Store
	buffer    *ingest.Buffer
	metrics   *metrics.Metrics
	scheduler *Scheduler
	publisher sink.Publisher
	statuses  status.Writer
	httpSrv   *http.Server
	natsSub   interface{ Close() error }
	readyFlag atomic.Bool
	clock     clock.Clock
}

// NewService builds service instance from config source.
// Params: context for backend setup, config source, and clock implementation.
// Returns: initialized service or setup error.
func NewService(ctx context.Context, source config.ConfigSource, clk clock.Clock) (*Service, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	logger = logger.With("service", cfg.Service.Name)

	service := &Service{
		cfg:      cfg,
		logger:   logger,
		closeLog: closeLog,
		store:    state.NewStore(),
		buffer:   ingest.NewBuffer(clk, time.Duration(cfg.Service.ResultMaxAgeSec)*time.Second),
		metrics:  metrics.New(prometheus.NewRegistry()),
		clock:    clk,
	}

	if err := service.connectNATS(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := service.buildOutputs(ctx); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := service.buildHTTPServer(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := service.buildNATSSubscriber(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}

	service.scheduler = NewScheduler(cfg.Service, cfg.Alert, SchedulerDeps{
		Logger:    logger,
		Clock:     clk,
		Results:   service.buffer,
		Store:     service.store,
		Purger:    purge.New(cfg.Purge, logger),
		Publisher: service.publisher,
		Statuses:  service.statuses,
		Metrics:   service.metrics,
	})
	return service, nil
}

// Run starts service lifecycle and blocks until shutdown signal.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	errChan := make(chan error, 1)
	if s.httpSrv != nil {
		go func() {
			s.logger.Info("http server starting", "listen", s.cfg.HTTP.Listen)
			err := s.httpSrv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()
	}

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		_ = s.scheduler.Run(runCtx)
	}()

	s.readyFlag.Store(true)
	s.logger.Info("service started",
		"alerts", len(s.cfg.Alert),
		"workers", s.cfg.Service.Workers,
		"eval_interval", s.cfg.Service.EvalInterval().String(),
		"sinks", strings.Join(s.cfg.Sink.Backends, ","),
		"status_backend", s.cfg.Status.Backend,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errChan:
		runErr = fmt.Errorf("http server failed: %w", err)
	case <-sigChan:
	}
	s.readyFlag.Store(false)
	runCancel()
	<-schedulerDone
	if err := s.shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// shutdown closes runtime resources in dependency order.
// Params: none.
// Returns: first close error.
func (s *Service) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var firstErr error
	markErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("http shutdown failed", "error", err.Error())
			markErr(fmt.Errorf("http shutdown: %w", err))
		}
	}
	if s.natsSub != nil {
		if err := s.natsSub.Close(); err != nil {
			s.logger.Error("nats subscriber close failed", "error", err.Error())
			markErr(fmt.Errorf("nats subscriber close: %w", err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Error("event publisher close failed", "error", err.Error())
			markErr(fmt.Errorf("event publisher close: %w", err))
		}
	}
	if s.statuses != nil {
		if err := s.statuses.Close(); err != nil {
			s.logger.Error("status writer close failed", "error", err.Error())
			markErr(fmt.Errorf("status writer close: %w", err))
		}
	}
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			s.logger.Error("nats drain failed", "error", err.Error())
			markErr(fmt.Errorf("nats drain: %w", err))
		}
	}
	s.logger.Info("service stopped", "state_records", s.store.Len())
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources on startup failures.
// Params: none.
// Returns: all acquired resources closed best-effort.
func (s *Service) cleanupInitResources() {
	if s.natsSub != nil {
		_ = s.natsSub.Close()
		s.natsSub = nil
	}
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
		s.httpSrv = nil
	}
	if s.publisher != nil {
		_ = s.publisher.Close()
		s.publisher = nil
	}
	if s.statuses != nil {
		_ = s.statuses.Close()
		s.statuses = nil
	}
	if s.nc != nil {
		s.nc.Close()
		s.nc = nil
	}
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// connectNATS opens the shared connection when any component needs NATS.
// Params: none.
// Returns: connection error.
func (s *Service) connectNATS() error {
	if !usesNATS(s.cfg) {
		return nil
	}
	nc, err := nats.Connect(strings.Join(s.cfg.NATS.URL, ","),
		nats.Name(s.cfg.Service.Name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				s.logger.Warn("nats disconnected", "error", err.Error())
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			s.logger.Info("nats reconnected", "url", conn.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	s.nc = nc
	return nil
}

// buildOutputs creates event publishers and the status writer.
// Params: context for backend setup.
// Returns: setup error.
func (s *Service) buildOutputs(ctx context.Context) error {
	publisher, err := sink.New(s.cfg, s.nc, s.logger)
	if err != nil {
		return err
	}
	s.publisher = publisher

	writer, err := status.New(ctx, s.cfg.Status, s.cfg.NATS, s.nc)
	if err != nil {
		return err
	}
	s.statuses = writer
	return nil
}

// buildHTTPServer wires router with ingest, metrics, and health endpoints.
// Params: none.
// Returns: setup error.
func (s *Service) buildHTTPServer() error {
	if !s.cfg.HTTP.Enabled {
		return nil
	}
	s.httpSrv = &http.Server{
		Addr:              s.cfg.HTTP.Listen,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}

func (s *Service) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.HTTP.HealthPath, func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	})
	mux.HandleFunc(s.cfg.HTTP.ReadyPath, func(writer http.ResponseWriter, _ *http.Request) {
		if !s.readyFlag.Load() {
			writer.WriteHeader(http.StatusServiceUnavailable)
			_, _ = writer.Write([]byte("not-ready"))
			return
		}
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ready"))
	})
	mux.Handle(s.cfg.HTTP.MetricsPath, s.metrics.Handler())

	handler := ingest.NewHTTPHandler(s.buffer, s.cfg.HTTP.MaxBodyBytes, s.logger)
	mux.Handle(s.cfg.HTTP.ResultsPath, handler)
	batchPath := strings.TrimSuffix(s.cfg.HTTP.ResultsPath, "/") + "/batch"
	if batchPath != s.cfg.HTTP.ResultsPath {
		mux.Handle(batchPath, handler)
	}
	return mux
}

// buildNATSSubscriber starts NATS ingest when enabled.
// Params: none.
// Returns: initialization error.
func (s *Service) buildNATSSubscriber() error {
	if !s.cfg.NATS.Ingest.Enabled {
		return nil
	}
	subscriber, err := ingest.NewNATSSubscriber(s.nc, s.cfg.NATS, s.buffer, s.logger)
	if err != nil {
		return err
	}
	s.natsSub = subscriber
	return nil
}

func usesNATS(cfg config.Config) bool {
	return cfg.NATS.Ingest.Enabled ||
		cfg.Status.Backend == config.StatusBackendNATS ||
		slices.Contains(cfg.Sink.Backends, config.SinkNATS)
}
