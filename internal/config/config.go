package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"

	"alerteval/internal/domain"
	"alerteval/internal/templatefmt"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	defaultServiceName        = "alerteval"
	defaultEvalIntervalSec    = 60
	defaultWorkers            = 4
	defaultTaskTimeoutMS      = 5000
	defaultPurgeIntervalSec   = 3600
	defaultResultMaxAgeSec    = 600
	defaultHTTPListen         = ":8080"
	defaultHealthPath         = "/healthz"
	defaultReadyPath          = "/readyz"
	defaultResultsPath        = "/results"
	defaultMetricsPath        = "/metrics"
	defaultMaxBodyBytes       = 8 << 20
	defaultNATSURL            = "nats://127.0.0.1:4222"
	defaultNATSResultsSubject = "alerteval.results"
	defaultNATSResultsStream  = "ALERTEVAL_RESULTS"
	defaultNATSConsumer       = "alerteval-ingest"
	defaultNATSDeliverGroup   = "alerteval-workers"
	defaultNATSEventsSubject  = "alerteval.events"
	defaultNATSEventsStream   = "ALERTEVAL_EVENTS"
	defaultNATSStatusBucket   = "alerteval_status"
	defaultNATSWorkers        = 1
	defaultNATSAckWaitSec     = 30
	defaultNATSNackDelayMS    = 1000
	defaultNATSMaxDeliver     = -1
	defaultNATSMaxAckPending  = 2048
	defaultKafkaTopic         = "alerteval.events"
	defaultKafkaBatchMS       = 100
	defaultIntervalSec        = 60
	defaultLogMaxSizeMB       = 10
	defaultLogMaxBackups      = 3
	defaultLogMaxAgeDays      = 7

	// StatusBackendMemory keeps statuses in process memory.
	StatusBackendMemory = "memory"
	// StatusBackendNATS writes statuses into a JetStream KV bucket.
	StatusBackendNATS = "nats"
	// StatusBackendSQLite upserts statuses into a SQLite database.
	StatusBackendSQLite = "sqlite"
	// StatusBackendPostgres upserts statuses into PostgreSQL.
	StatusBackendPostgres = "postgres"

	// SinkLog writes alert events to the service logger.
	SinkLog = "log"
	// SinkNATS publishes alert events to a JetStream stream.
	SinkNATS = "nats"
	// SinkKafka publishes alert events to a Kafka topic.
	SinkKafka = "kafka"

	// PurgeGroupMetric covers single-metric, event-count, and period-over-period alerts.
	PurgeGroupMetric = "metric"
	// PurgeGroupHealthCheck covers health-check alerts.
	PurgeGroupHealthCheck = "health_check"
)

var (
	legacyAlertArrayPattern = regexp.MustCompile(`(?m)^\s*\[\[\s*alert\s*\]\]`)
	fixedNATSKeysPattern    = regexp.MustCompile(`(?mi)^\s*(?:subject|stream|consumer_name|deliver_group|bucket)\s*=`)
)

// Config holds service runtime settings and alert definitions.
// Params: TOML/YAML sections from file or merged directory snapshot.
// Returns: validated runtime configuration.
type Config struct {
	Service ServiceConfig
	Log     LogConfig
	HTTP    HTTPConfig
	NATS    NATSConfig
	Kafka   KafkaConfig
	Status  StatusConfig
	Sink    SinkConfig
	Purge   PurgeConfig
	Alert   []AlertConfig
}

// rawConfig mirrors the file model before runtime normalization.
// Params: decoded sections from one TOML/YAML source.
// Returns: raw alert map keyed by alert name.
type rawConfig struct {
	Service ServiceConfig             `toml:"service" yaml:"service"`
	Log     LogConfig                 `toml:"log" yaml:"log"`
	HTTP    HTTPConfig                `toml:"http" yaml:"http"`
	NATS    NATSConfig                `toml:"nats" yaml:"nats"`
	Kafka   KafkaConfig               `toml:"kafka" yaml:"kafka"`
	Status  StatusConfig              `toml:"status" yaml:"status"`
	Sink    SinkConfig                `toml:"sink" yaml:"sink"`
	Purge   PurgeConfig               `toml:"purge" yaml:"purge"`
	Alert   map[string]rawAlertConfig `toml:"alert" yaml:"alert"`
}

// ServiceConfig contains process-level scheduling settings.
// Params: evaluation cadence, worker pool size, and per-task timeout.
// Returns: scheduler behavior defaults.
type ServiceConfig struct {
	Name             string `toml:"name" yaml:"name"`
	EvalIntervalSec  int    `toml:"eval_interval_sec" yaml:"eval_interval_sec"`
	Workers          int    `toml:"workers" yaml:"workers"`
	TaskTimeoutMS    int    `toml:"task_timeout_ms" yaml:"task_timeout_ms"`
	PurgeIntervalSec int    `toml:"purge_interval_sec" yaml:"purge_interval_sec"`
	ResultMaxAgeSec  int    `toml:"result_max_age_sec" yaml:"result_max_age_sec"`
}

// EvalInterval returns scheduler tick as duration.
func (s ServiceConfig) EvalInterval() time.Duration {
	return time.Duration(s.EvalIntervalSec) * time.Second
}

// TaskTimeout returns per-task wall-clock timeout.
func (s ServiceConfig) TaskTimeout() time.Duration {
	return time.Duration(s.TaskTimeoutMS) * time.Millisecond
}

// LogConfig contains console/file logging sinks.
// Params: sink settings for each output target.
// Returns: logger setup options.
type LogConfig struct {
	Console LogSinkConfig `toml:"console" yaml:"console"`
	File    LogSinkConfig `toml:"file" yaml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink enable flag, level, format, path, and file rotation limits.
// Returns: sink-specific behavior.
type LogSinkConfig struct {
	Enabled    bool   `toml:"enabled" yaml:"enabled"`
	Level      string `toml:"level" yaml:"level"`
	Format     string `toml:"format" yaml:"format"`
	Path       string `toml:"path" yaml:"path"`
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `toml:"compress" yaml:"compress"`
}

// HTTPConfig configures the service HTTP server.
// Params: listen address, endpoint paths, and request body limit.
// Returns: HTTP server behavior.
type HTTPConfig struct {
	Enabled      bool   `toml:"enabled" yaml:"enabled"`
	Listen       string `toml:"listen" yaml:"listen"`
	HealthPath   string `toml:"health_path" yaml:"health_path"`
	ReadyPath    string `toml:"ready_path" yaml:"ready_path"`
	ResultsPath  string `toml:"results_path" yaml:"results_path"`
	MetricsPath  string `toml:"metrics_path" yaml:"metrics_path"`
	MaxBodyBytes int64  `toml:"max_body_bytes" yaml:"max_body_bytes"`
}

// NATSConfig configures the shared NATS connection and result consumer.
// Params: URLs plus consumer ack/redelivery policy; subjects, streams, and bucket are runtime-fixed.
// Returns: NATS behavior for ingest, event sink, and status KV.
type NATSConfig struct {
	URL            []string         `toml:"url" yaml:"url"`
	Ingest         NATSIngestConfig `toml:"ingest" yaml:"ingest"`
	ResultsSubject string           `toml:"-" yaml:"-"`
	ResultsStream  string           `toml:"-" yaml:"-"`
	ConsumerName   string           `toml:"-" yaml:"-"`
	DeliverGroup   string           `toml:"-" yaml:"-"`
	EventsSubject  string           `toml:"-" yaml:"-"`
	EventsStream   string           `toml:"-" yaml:"-"`
	StatusBucket   string           `toml:"-" yaml:"-"`
}

// NATSIngestConfig configures the JetStream queue consumer for query results.
type NATSIngestConfig struct {
	Enabled       bool `toml:"enabled" yaml:"enabled"`
	Workers       int  `toml:"workers" yaml:"workers"`
	AckWaitSec    int  `toml:"ack_wait_sec" yaml:"ack_wait_sec"`
	NackDelayMS   int  `toml:"nack_delay_ms" yaml:"nack_delay_ms"`
	MaxDeliver    int  `toml:"max_deliver" yaml:"max_deliver"`
	MaxAckPending int  `toml:"max_ack_pending" yaml:"max_ack_pending"`
}

// KafkaConfig configures the Kafka event sink.
type KafkaConfig struct {
	Brokers        []string `toml:"brokers" yaml:"brokers"`
	Topic          string   `toml:"topic" yaml:"topic"`
	BatchTimeoutMS int      `toml:"batch_timeout_ms" yaml:"batch_timeout_ms"`
}

// StatusConfig selects the status writer backend.
// Params: backend name and DSN for SQL backends.
// Returns: status writer options.
type StatusConfig struct {
	Backend string `toml:"backend" yaml:"backend"`
	DSN     string `toml:"dsn" yaml:"dsn"`
}

// SinkConfig lists enabled alert event publishers.
type SinkConfig struct {
	Backends []string `toml:"backends" yaml:"backends"`
}

// PurgeConfig holds per-kind-group state retention.
type PurgeConfig struct {
	Metric      PurgeRule `toml:"metric" yaml:"metric"`
	HealthCheck PurgeRule `toml:"health_check" yaml:"health_check"`
}

// PurgeRule is retention for one alert kind group.
// Params: retention for live states, retention for MISSING, and BAD/WARN protection.
// Returns: purge thresholds in seconds.
type PurgeRule struct {
	RetentionSec        int64 `toml:"retention_sec" yaml:"retention_sec"`
	MissingRetentionSec int64 `toml:"missing_retention_sec" yaml:"missing_retention_sec"`
	ProtectActive       *bool `toml:"protect_active" yaml:"protect_active"`
}

// For returns purge rule applicable to alert kind.
func (p PurgeConfig) For(kind domain.AlertKind) PurgeRule {
	if kind == domain.KindHealthCheck {
		return p.HealthCheck
	}
	return p.Metric
}

// Protects reports whether BAD/WARN records are kept regardless of age.
func (r PurgeRule) Protects() bool {
	return r.ProtectActive != nil && *r.ProtectActive
}

// AlertConfig describes one configured alert.
// Params: identity, thresholds, sampler, missing/recovery flags, and notification policy.
// Returns: runtime alert definition consumed by evaluators.
type AlertConfig struct {
	Name                    string
	ID                      int64
	Namespace               string
	Kind                    domain.AlertKind
	Sampler                 domain.Sampler
	Aggregator              domain.Aggregator
	Comparator              domain.Comparator
	BadThreshold            *float64
	WarnThreshold           *float64
	RecoveryThreshold       *float64
	SlidingWindowSec        int64
	IntervalSec             int64
	ReportingIntervalSec    int64
	RequireFullWindow       bool
	MissingEnabled          bool
	MissingIntervalSec      int64
	AutoRecover             bool
	AutoRecoveryIntervalSec int64
	NagIntervalSec          *int64
	NotifyOnMissing         bool
	Transitions             []string
	DetailsTemplate         string
	Suppress                SuppressConfig
}

// rawAlertConfig stores one alert body from `[alert.<name>]` table.
// Params: alert fields except key-derived name.
// Returns: intermediate body used for normalization.
type rawAlertConfig struct {
	Name                    string            `toml:"name" yaml:"name"`
	ID                      int64             `toml:"id" yaml:"id"`
	Namespace               string            `toml:"namespace" yaml:"namespace"`
	Kind                    domain.AlertKind  `toml:"kind" yaml:"kind"`
	Sampler                 domain.Sampler    `toml:"sampler" yaml:"sampler"`
	Aggregator              domain.Aggregator `toml:"aggregator" yaml:"aggregator"`
	Comparator              domain.Comparator `toml:"comparator" yaml:"comparator"`
	BadThreshold            *float64          `toml:"bad_threshold" yaml:"bad_threshold"`
	WarnThreshold           *float64          `toml:"warn_threshold" yaml:"warn_threshold"`
	RecoveryThreshold       *float64          `toml:"recovery_threshold" yaml:"recovery_threshold"`
	SlidingWindowSec        int64             `toml:"sliding_window_sec" yaml:"sliding_window_sec"`
	IntervalSec             int64             `toml:"interval_sec" yaml:"interval_sec"`
	ReportingIntervalSec    int64             `toml:"reporting_interval_sec" yaml:"reporting_interval_sec"`
	RequireFullWindow       bool              `toml:"require_full_window" yaml:"require_full_window"`
	MissingEnabled          bool              `toml:"missing_enabled" yaml:"missing_enabled"`
	MissingIntervalSec      int64             `toml:"missing_interval_sec" yaml:"missing_interval_sec"`
	AutoRecover             bool              `toml:"auto_recover" yaml:"auto_recover"`
	AutoRecoveryIntervalSec int64             `toml:"auto_recovery_interval_sec" yaml:"auto_recovery_interval_sec"`
	NagIntervalSec          *int64            `toml:"nag_interval_sec" yaml:"nag_interval_sec"`
	NotifyOnMissing         bool              `toml:"notify_on_missing" yaml:"notify_on_missing"`
	Transitions             []string          `toml:"transitions" yaml:"transitions"`
	DetailsTemplate         string            `toml:"details_template" yaml:"details_template"`
	Suppress                SuppressConfig    `toml:"suppress" yaml:"suppress"`
}

// SuppressConfig configures the heartbeat metric that silences a tag-set.
// Params: comparator/threshold/sampler applied to the heartbeat series.
// Returns: suppression behavior.
type SuppressConfig struct {
	Enabled    bool              `toml:"enabled" yaml:"enabled"`
	Comparator domain.Comparator `toml:"comparator" yaml:"comparator"`
	Threshold  float64           `toml:"threshold" yaml:"threshold"`
	Sampler    domain.Sampler    `toml:"sampler" yaml:"sampler"`
}

// NagInterval returns configured nag interval or -1 when nag is disabled.
func (a AlertConfig) NagInterval() int64 {
	if a.NagIntervalSec == nil {
		return -1
	}
	return *a.NagIntervalSec
}

// SlidingWindow returns the evaluation window as duration.
func (a AlertConfig) SlidingWindow() time.Duration {
	return time.Duration(a.SlidingWindowSec) * time.Second
}

// PrimaryThreshold returns the threshold recovery is derived from: warn when set, else bad.
// Params: none.
// Returns: threshold and false when neither is configured.
func (a AlertConfig) PrimaryThreshold() (float64, bool) {
	if a.WarnThreshold != nil {
		return *a.WarnThreshold, true
	}
	if a.BadThreshold != nil {
		return *a.BadThreshold, true
	}
	return 0, false
}

// EffectiveRecoveryThreshold returns explicit recovery threshold or the derived one.
// Params: none.
// Returns: threshold for the recovery comparator and false when nothing can be derived.
func (a AlertConfig) EffectiveRecoveryThreshold() (float64, bool) {
	if a.RecoveryThreshold != nil {
		return *a.RecoveryThreshold, true
	}
	primary, ok := a.PrimaryThreshold()
	if !ok {
		return 0, false
	}
	return a.Comparator.RecoveryThreshold(primary), true
}

// ConfigSource describes file or directory config source.
// Params: exactly one of file path or directory path.
// Returns: normalized source descriptor.
type ConfigSource struct {
	File string
	Dir  string
}

// FromCLI builds normalized source configuration from input paths.
// Params: optional file and directory arguments.
// Returns: source descriptor or validation error.
func FromCLI(filePath, dirPath string) (ConfigSource, error) {
	filePath = strings.TrimSpace(filePath)
	dirPath = strings.TrimSpace(dirPath)

	if filePath == "" && dirPath == "" {
		return ConfigSource{}, errors.New("either --config-file or --config-dir must be provided")
	}
	if filePath != "" && dirPath != "" {
		return ConfigSource{}, errors.New("config source must be either file or dir")
	}

	if filePath != "" {
		return ConfigSource{File: filePath}, nil
	}
	return ConfigSource{Dir: dirPath}, nil
}

// LoadSnapshot loads and validates configuration from one source.
// Params: source selects file or directory mode.
// Returns: validated config or load/validation error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	var cfg Config
	var err error
	if src.File != "" {
		cfg, err = loadFile(src.File)
	} else {
		cfg, err = loadDir(src.Dir)
	}
	if err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// normalizeRawConfig converts raw file model to runtime config.
// Params: decoded raw config from file fragment.
// Returns: normalized config snapshot with alerts sorted by name.
func normalizeRawConfig(raw rawConfig) (Config, error) {
	cfg := Config{
		Service: raw.Service,
		Log:     raw.Log,
		HTTP:    raw.HTTP,
		NATS:    raw.NATS,
		Kafka:   raw.Kafka,
		Status:  raw.Status,
		Sink:    raw.Sink,
		Purge:   raw.Purge,
	}
	if len(raw.Alert) == 0 {
		return cfg, nil
	}

	names := make([]string, 0, len(raw.Alert))
	for name := range raw.Alert {
		names = append(names, name)
	}
	sort.Strings(names)
	cfg.Alert = make([]AlertConfig, 0, len(names))
	for _, name := range names {
		body := raw.Alert[name]
		if strings.TrimSpace(body.Name) != "" {
			return Config{}, fmt.Errorf("alert.%s.name is not supported; use [alert.%s] key as alert name", name, name)
		}
		cfg.Alert = append(cfg.Alert, AlertConfig{
			Name:                    name,
			ID:                      body.ID,
			Namespace:               body.Namespace,
			Kind:                    body.Kind,
			Sampler:                 body.Sampler,
			Aggregator:              body.Aggregator,
			Comparator:              body.Comparator,
			BadThreshold:            body.BadThreshold,
			WarnThreshold:           body.WarnThreshold,
			RecoveryThreshold:       body.RecoveryThreshold,
			SlidingWindowSec:        body.SlidingWindowSec,
			IntervalSec:             body.IntervalSec,
			ReportingIntervalSec:    body.ReportingIntervalSec,
			RequireFullWindow:       body.RequireFullWindow,
			MissingEnabled:          body.MissingEnabled,
			MissingIntervalSec:      body.MissingIntervalSec,
			AutoRecover:             body.AutoRecover,
			AutoRecoveryIntervalSec: body.AutoRecoveryIntervalSec,
			NagIntervalSec:          body.NagIntervalSec,
			NotifyOnMissing:         body.NotifyOnMissing,
			Transitions:             body.Transitions,
			DetailsTemplate:         body.DetailsTemplate,
			Suppress:                body.Suppress,
		})
	}
	return cfg, nil
}

// rejectUnsupportedSyntax checks forbidden TOML syntax and returns explicit error.
// Params: raw TOML file body.
// Returns: error when unsupported syntax is detected.
func rejectUnsupportedSyntax(body []byte) error {
	if legacyAlertArrayPattern.Match(body) {
		return errors.New("[[alert]] arrays are not supported; use [alert.<alert_name>] tables")
	}
	if fixedNATSKeysPattern.Match(body) {
		return errors.New("nats subject/stream/consumer_name/deliver_group/bucket are fixed in runtime and must not be configured")
	}
	return nil
}

// loadFile reads one TOML or YAML configuration file.
// Params: file path to config snapshot; extension selects the decoder.
// Returns: decoded config or read/decode error.
func loadFile(path string) (Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", path, err)
	}

	var raw rawConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(body, &raw); err != nil {
			return Config{}, fmt.Errorf("decode config file %q: %w", path, err)
		}
	default:
		if err := rejectUnsupportedSyntax(body); err != nil {
			return Config{}, fmt.Errorf("decode config file %q: %w", path, err)
		}
		if err := toml.Unmarshal(body, &raw); err != nil {
			return Config{}, fmt.Errorf("decode config file %q: %w", path, err)
		}
	}

	cfg, err := normalizeRawConfig(raw)
	if err != nil {
		return Config{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	return cfg, nil
}

// loadDir reads and merges config fragments from one directory.
// Params: directory containing .toml/.yaml/.yml fragments.
// Returns: merged config snapshot or load/decode error.
func loadDir(dir string) (Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Config{}, fmt.Errorf("read config dir %q: %w", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".toml", ".yaml", ".yml":
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	if len(files) == 0 {
		return Config{}, fmt.Errorf("no config files found in %q", dir)
	}
	sort.Strings(files)

	var merged Config
	for _, file := range files {
		fragment, err := loadFile(file)
		if err != nil {
			return Config{}, err
		}
		mergeConfig(&merged, fragment)
	}
	return merged, nil
}

// mergeConfig overlays source onto destination.
// Params: destination config and next fragment; non-empty sections replace, alerts append.
// Returns: merged configuration side-effect in dst.
func mergeConfig(dst *Config, src Config) {
	if !isZero(src.Service) {
		dst.Service = src.Service
	}
	if !isZero(src.Log) {
		dst.Log = src.Log
	}
	if !isZero(src.HTTP) {
		dst.HTTP = src.HTTP
	}
	if !isZero(src.NATS) {
		dst.NATS = src.NATS
	}
	if !isZero(src.Kafka) {
		dst.Kafka = src.Kafka
	}
	if !isZero(src.Status) {
		dst.Status = src.Status
	}
	if !isZero(src.Sink) {
		dst.Sink = src.Sink
	}
	if !isZero(src.Purge.Metric) {
		dst.Purge.Metric = src.Purge.Metric
	}
	if !isZero(src.Purge.HealthCheck) {
		dst.Purge.HealthCheck = src.Purge.HealthCheck
	}
	if len(src.Alert) > 0 {
		dst.Alert = append(dst.Alert, src.Alert...)
	}
}

func isZero(section any) bool {
	return reflect.ValueOf(section).IsZero()
}

// applyDefaults fills omitted settings.
// Params: cfg pointer to decoded snapshot.
// Returns: defaults applied in place.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Service.Name) == "" {
		cfg.Service.Name = defaultServiceName
	}
	if cfg.Service.EvalIntervalSec <= 0 {
		cfg.Service.EvalIntervalSec = defaultEvalIntervalSec
	}
	if cfg.Service.Workers == 0 {
		cfg.Service.Workers = defaultWorkers
	}
	if cfg.Service.TaskTimeoutMS <= 0 {
		cfg.Service.TaskTimeoutMS = defaultTaskTimeoutMS
	}
	if cfg.Service.PurgeIntervalSec <= 0 {
		cfg.Service.PurgeIntervalSec = defaultPurgeIntervalSec
	}
	if cfg.Service.ResultMaxAgeSec <= 0 {
		cfg.Service.ResultMaxAgeSec = defaultResultMaxAgeSec
	}

	applyLogSinkDefaults(&cfg.Log.Console, "line")
	applyLogSinkDefaults(&cfg.Log.File, "json")
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}

	if strings.TrimSpace(cfg.HTTP.Listen) == "" {
		cfg.HTTP.Listen = defaultHTTPListen
	}
	if strings.TrimSpace(cfg.HTTP.HealthPath) == "" {
		cfg.HTTP.HealthPath = defaultHealthPath
	}
	if strings.TrimSpace(cfg.HTTP.ReadyPath) == "" {
		cfg.HTTP.ReadyPath = defaultReadyPath
	}
	if strings.TrimSpace(cfg.HTTP.ResultsPath) == "" {
		cfg.HTTP.ResultsPath = defaultResultsPath
	}
	if strings.TrimSpace(cfg.HTTP.MetricsPath) == "" {
		cfg.HTTP.MetricsPath = defaultMetricsPath
	}
	if cfg.HTTP.MaxBodyBytes <= 0 {
		cfg.HTTP.MaxBodyBytes = defaultMaxBodyBytes
	}
	if !cfg.HTTP.Enabled && !cfg.NATS.Ingest.Enabled {
		cfg.HTTP.Enabled = true
	}

	cfg.NATS.URL = normalizeList(cfg.NATS.URL)
	if len(cfg.NATS.URL) == 0 {
		cfg.NATS.URL = []string{defaultNATSURL}
	}
	cfg.NATS.ResultsSubject = defaultNATSResultsSubject
	cfg.NATS.ResultsStream = defaultNATSResultsStream
	cfg.NATS.ConsumerName = defaultNATSConsumer
	cfg.NATS.DeliverGroup = defaultNATSDeliverGroup
	cfg.NATS.EventsSubject = defaultNATSEventsSubject
	cfg.NATS.EventsStream = defaultNATSEventsStream
	cfg.NATS.StatusBucket = defaultNATSStatusBucket
	if cfg.NATS.Ingest.Workers == 0 {
		cfg.NATS.Ingest.Workers = defaultNATSWorkers
	}
	if cfg.NATS.Ingest.AckWaitSec <= 0 {
		cfg.NATS.Ingest.AckWaitSec = defaultNATSAckWaitSec
	}
	if cfg.NATS.Ingest.NackDelayMS <= 0 {
		cfg.NATS.Ingest.NackDelayMS = defaultNATSNackDelayMS
	}
	if cfg.NATS.Ingest.MaxDeliver == 0 {
		cfg.NATS.Ingest.MaxDeliver = defaultNATSMaxDeliver
	}
	if cfg.NATS.Ingest.MaxAckPending <= 0 {
		cfg.NATS.Ingest.MaxAckPending = defaultNATSMaxAckPending
	}

	cfg.Kafka.Brokers = normalizeList(cfg.Kafka.Brokers)
	if strings.TrimSpace(cfg.Kafka.Topic) == "" {
		cfg.Kafka.Topic = defaultKafkaTopic
	}
	if cfg.Kafka.BatchTimeoutMS <= 0 {
		cfg.Kafka.BatchTimeoutMS = defaultKafkaBatchMS
	}

	cfg.Status.Backend = strings.ToLower(strings.TrimSpace(cfg.Status.Backend))
	if cfg.Status.Backend == "" {
		cfg.Status.Backend = StatusBackendMemory
	}
	cfg.Sink.Backends = normalizeList(cfg.Sink.Backends)
	for i := range cfg.Sink.Backends {
		cfg.Sink.Backends[i] = strings.ToLower(cfg.Sink.Backends[i])
	}
	if len(cfg.Sink.Backends) == 0 {
		cfg.Sink.Backends = []string{SinkLog}
	}

	applyPurgeDefaults(&cfg.Purge.Metric, 7*24*3600, 2*24*3600, false)
	applyPurgeDefaults(&cfg.Purge.HealthCheck, 2*24*3600, 24*3600, true)

	for i := range cfg.Alert {
		applyAlertDefaults(&cfg.Alert[i])
	}
}

func applyLogSinkDefaults(sink *LogSinkConfig, format string) {
	if sink.Level == "" {
		sink.Level = "info"
	}
	if sink.Format == "" {
		sink.Format = format
	}
	if sink.MaxSizeMB <= 0 {
		sink.MaxSizeMB = defaultLogMaxSizeMB
	}
	if sink.MaxBackups <= 0 {
		sink.MaxBackups = defaultLogMaxBackups
	}
	if sink.MaxAgeDays <= 0 {
		sink.MaxAgeDays = defaultLogMaxAgeDays
	}
}

func applyPurgeDefaults(rule *PurgeRule, retentionSec, missingRetentionSec int64, protect bool) {
	if rule.RetentionSec <= 0 {
		rule.RetentionSec = retentionSec
	}
	if rule.MissingRetentionSec <= 0 {
		rule.MissingRetentionSec = missingRetentionSec
	}
	if rule.ProtectActive == nil {
		rule.ProtectActive = &protect
	}
}

// applyAlertDefaults fills omitted alert settings.
// Params: alert pointer.
// Returns: defaults applied in place.
func applyAlertDefaults(alert *AlertConfig) {
	alert.Namespace = strings.TrimSpace(alert.Namespace)
	if alert.Sampler == "" {
		alert.Sampler = domain.SamplerAtLeastOnce
	}
	if alert.Sampler == domain.SamplerSummary && alert.Aggregator == "" {
		alert.Aggregator = domain.AggregatorAvg
	}
	if alert.IntervalSec <= 0 {
		alert.IntervalSec = defaultIntervalSec
	}
	if alert.ReportingIntervalSec <= 0 {
		alert.ReportingIntervalSec = alert.IntervalSec
	}
	if alert.MissingIntervalSec <= 0 {
		alert.MissingIntervalSec = alert.SlidingWindowSec
	}
	if alert.AutoRecoveryIntervalSec <= 0 {
		alert.AutoRecoveryIntervalSec = 2 * alert.SlidingWindowSec
	}
	if alert.NagIntervalSec == nil {
		disabled := int64(-1)
		alert.NagIntervalSec = &disabled
	}
	if strings.TrimSpace(alert.DetailsTemplate) == "" {
		alert.DetailsTemplate = templatefmt.DefaultDetailsTemplate
	}
	if alert.Suppress.Enabled && alert.Suppress.Sampler == "" {
		alert.Suppress.Sampler = domain.SamplerAtLeastOnce
	}
}

// validateConfig validates full runtime configuration.
// Params: cfg snapshot to validate.
// Returns: first validation error.
func validateConfig(cfg Config) error {
	if len(cfg.Alert) == 0 {
		return errors.New("at least one alert is required")
	}
	if cfg.Service.Workers <= 0 {
		return errors.New("service.workers must be >0")
	}
	if err := validateLogSink("log.console", cfg.Log.Console, false); err != nil {
		return err
	}
	if err := validateLogSink("log.file", cfg.Log.File, true); err != nil {
		return err
	}

	if cfg.HTTP.Enabled {
		for name, path := range map[string]string{
			"http.health_path":  cfg.HTTP.HealthPath,
			"http.ready_path":   cfg.HTTP.ReadyPath,
			"http.results_path": cfg.HTTP.ResultsPath,
			"http.metrics_path": cfg.HTTP.MetricsPath,
		} {
			if !strings.HasPrefix(path, "/") {
				return fmt.Errorf("%s must start with /", name)
			}
		}
	}

	for i, url := range cfg.NATS.URL {
		if url == "" {
			return fmt.Errorf("nats.url[%d] is empty", i)
		}
	}
	if cfg.NATS.Ingest.Enabled {
		if cfg.NATS.Ingest.Workers <= 0 {
			return errors.New("nats.ingest.workers must be >0 when nats.ingest.enabled=true")
		}
		if cfg.NATS.Ingest.MaxDeliver == 0 || cfg.NATS.Ingest.MaxDeliver < -1 {
			return errors.New("nats.ingest.max_deliver must be -1 or >0")
		}
	}

	switch cfg.Status.Backend {
	case StatusBackendMemory, StatusBackendNATS:
	case StatusBackendSQLite, StatusBackendPostgres:
		if strings.TrimSpace(cfg.Status.DSN) == "" {
			return fmt.Errorf("status.dsn is required when status.backend=%s", cfg.Status.Backend)
		}
	default:
		return fmt.Errorf("status.backend has unsupported value %q", cfg.Status.Backend)
	}

	for _, backend := range cfg.Sink.Backends {
		switch backend {
		case SinkLog, SinkNATS:
		case SinkKafka:
			if len(cfg.Kafka.Brokers) == 0 {
				return errors.New("kafka.brokers is required when sink.backends contains kafka")
			}
		default:
			return fmt.Errorf("sink.backends has unsupported value %q", backend)
		}
	}

	for name, rule := range map[string]PurgeRule{"purge.metric": cfg.Purge.Metric, "purge.health_check": cfg.Purge.HealthCheck} {
		if rule.RetentionSec <= 0 || rule.MissingRetentionSec <= 0 {
			return fmt.Errorf("%s retention must be >0", name)
		}
	}

	names := make(map[string]struct{}, len(cfg.Alert))
	ids := make(map[string]string, len(cfg.Alert))
	for i, alert := range cfg.Alert {
		if err := validateAlert(alert); err != nil {
			return fmt.Errorf("alert[%d] %q: %w", i, alert.Name, err)
		}
		if _, exists := names[alert.Name]; exists {
			return fmt.Errorf("duplicate alert name %q", alert.Name)
		}
		names[alert.Name] = struct{}{}
		idKey := fmt.Sprintf("%s/%d", alert.Namespace, alert.ID)
		if other, exists := ids[idKey]; exists {
			return fmt.Errorf("alert %q reuses id %d of alert %q in namespace %q", alert.Name, alert.ID, other, alert.Namespace)
		}
		ids[idKey] = alert.Name
	}
	return nil
}

// validateAlert validates one alert against schema constraints.
// Params: one decoded alert with defaults applied.
// Returns: alert-level validation error.
func validateAlert(alert AlertConfig) error {
	if alert.ID <= 0 {
		return errors.New("id must be >0")
	}
	if alert.Namespace == "" {
		return errors.New("namespace is required")
	}
	if !alert.Kind.Valid() {
		return fmt.Errorf("kind has unsupported value %q", alert.Kind)
	}
	if alert.SlidingWindowSec <= 0 {
		return errors.New("sliding_window_sec must be >0")
	}
	if alert.IntervalSec > alert.SlidingWindowSec {
		return errors.New("interval_sec must be <= sliding_window_sec")
	}
	if alert.NagInterval() < -1 {
		return errors.New("nag_interval_sec must be -1 (disabled) or >=0")
	}

	if alert.Kind != domain.KindPeriodOverPeriod {
		if !alert.Sampler.Valid() {
			return fmt.Errorf("sampler has unsupported value %q", alert.Sampler)
		}
		if !alert.Comparator.Valid() {
			return fmt.Errorf("comparator has unsupported value %q", alert.Comparator)
		}
		if alert.BadThreshold == nil && alert.WarnThreshold == nil {
			return errors.New("at least one of bad_threshold, warn_threshold is required")
		}
		if alert.Sampler == domain.SamplerSummary {
			switch alert.Aggregator {
			case domain.AggregatorAvg, domain.AggregatorSum:
			default:
				return fmt.Errorf("aggregator has unsupported value %q", alert.Aggregator)
			}
		}
	}

	for i, transition := range alert.Transitions {
		if _, err := domain.ParseTransition(transition); err != nil {
			return fmt.Errorf("transitions[%d]: %w", i, err)
		}
	}
	if _, err := templatefmt.ParseDetailsTemplate("details_template", alert.DetailsTemplate); err != nil {
		return fmt.Errorf("details_template is invalid: %w", err)
	}

	if alert.Suppress.Enabled {
		if !alert.Suppress.Comparator.Valid() {
			return fmt.Errorf("suppress.comparator has unsupported value %q", alert.Suppress.Comparator)
		}
		if !alert.Suppress.Sampler.Valid() {
			return fmt.Errorf("suppress.sampler has unsupported value %q", alert.Suppress.Sampler)
		}
	}
	return nil
}

// normalizeList trims entries and drops empty ones.
func normalizeList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// validateLogSink validates one log sink configuration.
// Params: sink name, sink values, and whether path is required.
// Returns: sink validation error.
func validateLogSink(name string, sink LogSinkConfig, requirePath bool) error {
	if !sink.Enabled {
		return nil
	}

	switch strings.ToLower(strings.TrimSpace(sink.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%s.level has unsupported value %q", name, sink.Level)
	}

	switch strings.ToLower(strings.TrimSpace(sink.Format)) {
	case "line", "json":
	default:
		return fmt.Errorf("%s.format has unsupported value %q", name, sink.Format)
	}

	if requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required", name)
	}

	return nil
}
