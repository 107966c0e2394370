package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"alerteval/internal/domain"
	"alerteval/internal/templatefmt"
)

const (
	cpuAlert = `[alert.cpu]
id = 1
namespace = "prod"
kind = "single_metric"
sampler = "all_of_the_times"
comparator = "above"
bad_threshold = 90.0
warn_threshold = 80.0
sliding_window_sec = 300
interval_sec = 60`
	heartbeatAlert = `[alert.heartbeat]
id = 2
namespace = "prod"
kind = "health_check"
comparator = "below"
bad_threshold = 1.0
sliding_window_sec = 120
interval_sec = 30
missing_enabled = true
notify_on_missing = true
nag_interval_sec = 600
transitions = ["GOODtoBAD", "badtogood"]`
)

func TestLoadSnapshotFromFile(t *testing.T) {
	t.Parallel()

	cfg := mustLoadSnapshot(t, joinSections(cpuAlert, heartbeatAlert))

	if cfg.Service.Name != "alerteval" || cfg.Service.Workers != 4 || cfg.Service.EvalIntervalSec != 60 {
		t.Fatalf("unexpected service defaults %+v", cfg.Service)
	}
	if len(cfg.Alert) != 2 || cfg.Alert[0].Name != "cpu" || cfg.Alert[1].Name != "heartbeat" {
		t.Fatalf("unexpected alerts %+v", cfg.Alert)
	}
	cpu := cfg.Alert[0]
	if cpu.NagInterval() != -1 {
		t.Fatalf("expected nag disabled by default, got %d", cpu.NagInterval())
	}
	if cpu.MissingIntervalSec != 300 || cpu.ReportingIntervalSec != 60 {
		t.Fatalf("unexpected derived intervals %+v", cpu)
	}
	if cpu.DetailsTemplate != templatefmt.DefaultDetailsTemplate {
		t.Fatalf("expected default details template")
	}
	recovery, ok := cpu.EffectiveRecoveryThreshold()
	if !ok || recovery <= 80 || recovery > 80.001 {
		t.Fatalf("expected recovery derived from warn threshold, got %v", recovery)
	}
	if cfg.Alert[1].NagInterval() != 600 || len(cfg.Alert[1].Transitions) != 2 {
		t.Fatalf("unexpected heartbeat alert %+v", cfg.Alert[1])
	}
	if cfg.Status.Backend != StatusBackendMemory || len(cfg.Sink.Backends) != 1 || cfg.Sink.Backends[0] != SinkLog {
		t.Fatalf("unexpected status/sink defaults %+v %+v", cfg.Status, cfg.Sink)
	}
	if !cfg.HTTP.Enabled || cfg.HTTP.ResultsPath != "/results" {
		t.Fatalf("unexpected http defaults %+v", cfg.HTTP)
	}
}

func TestPurgeDefaults(t *testing.T) {
	t.Parallel()

	cfg := mustLoadSnapshot(t, joinSections(cpuAlert, `[purge.health_check]
retention_sec = 3600`))

	metric := cfg.Purge.For(domain.KindSingleMetric)
	if metric.RetentionSec != 7*24*3600 || metric.MissingRetentionSec != 2*24*3600 || metric.Protects() {
		t.Fatalf("unexpected metric purge rule %+v", metric)
	}
	health := cfg.Purge.For(domain.KindHealthCheck)
	if health.RetentionSec != 3600 || health.MissingRetentionSec != 24*3600 || !health.Protects() {
		t.Fatalf("unexpected health-check purge rule %+v", health)
	}
}

func TestLoadSnapshotFromYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, `service:
  workers: 8
status:
  backend: sqlite
  dsn: file:status.db
alert:
  latency:
    id: 9
    namespace: edge
    kind: single_metric
    sampler: summary
    aggregator: sum
    comparator: above_or_equal
    bad_threshold: 250
    sliding_window_sec: 600
`)
	cfg, err := LoadSnapshot(ConfigSource{File: path})
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if cfg.Service.Workers != 8 || cfg.Status.Backend != StatusBackendSQLite {
		t.Fatalf("unexpected yaml sections %+v %+v", cfg.Service, cfg.Status)
	}
	if len(cfg.Alert) != 1 || cfg.Alert[0].Aggregator != domain.AggregatorSum || *cfg.Alert[0].BadThreshold != 250 {
		t.Fatalf("unexpected yaml alert %+v", cfg.Alert)
	}
}

func TestLoadSnapshotFromDirMergesFragments(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	writeConfigFile(t, filepath.Join(tmpDir, "00-service.toml"), `[service]
workers = 2`)
	writeConfigFile(t, filepath.Join(tmpDir, "10-cpu.toml"), cpuAlert)
	writeConfigFile(t, filepath.Join(tmpDir, "20-heartbeat.yml"), `alert:
  heartbeat:
    id: 2
    namespace: prod
    kind: health_check
    comparator: below
    bad_threshold: 1
    sliding_window_sec: 120
    interval_sec: 30
`)
	writeConfigFile(t, filepath.Join(tmpDir, "README.md"), "ignored")

	cfg, err := LoadSnapshot(ConfigSource{Dir: tmpDir})
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if cfg.Service.Workers != 2 || len(cfg.Alert) != 2 {
		t.Fatalf("unexpected merged config workers=%d alerts=%d", cfg.Service.Workers, len(cfg.Alert))
	}
}

func TestLoadSnapshotFromDirRejectsDuplicateAlert(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	writeConfigFile(t, filepath.Join(tmpDir, "a.toml"), cpuAlert)
	writeConfigFile(t, filepath.Join(tmpDir, "b.toml"), cpuAlert)

	_, err := LoadSnapshot(ConfigSource{Dir: tmpDir})
	if err == nil || !strings.Contains(err.Error(), "duplicate alert name") {
		t.Fatalf("expected duplicate alert error, got %v", err)
	}
}

func TestLoadSnapshotValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "no alerts", content: `[service]
workers = 1`, wantErr: "at least one alert"},
		{name: "unknown comparator", content: strings.Replace(cpuAlert, `"above"`, `"sideways"`, 1), wantErr: "comparator"},
		{name: "unknown kind", content: strings.Replace(cpuAlert, `"single_metric"`, `"gauge"`, 1), wantErr: "kind"},
		{name: "no thresholds", content: strings.NewReplacer("bad_threshold = 90.0\n", "", "warn_threshold = 80.0\n", "").Replace(cpuAlert), wantErr: "bad_threshold"},
		{name: "bad transition", content: cpuAlert + "\ntransitions = [\"goodtosad\"]", wantErr: "transitions[0]"},
		{name: "bad template", content: cpuAlert + "\ndetails_template = \"{{ .Signal \"", wantErr: "details_template"},
		{name: "legacy array", content: "[[alert]]\nid = 1", wantErr: "[[alert]]"},
		{name: "fixed nats key", content: cpuAlert + "\n[nats]\nsubject = \"x\"", wantErr: "fixed in runtime"},
		{name: "sql without dsn", content: cpuAlert + "\n[status]\nbackend = \"postgres\"", wantErr: "status.dsn"},
		{name: "kafka without brokers", content: cpuAlert + "\n[sink]\nbackends = [\"kafka\"]", wantErr: "kafka.brokers"},
		{name: "unknown sink", content: cpuAlert + "\n[sink]\nbackends = [\"email\"]", wantErr: "sink.backends"},
		{name: "file log without path", content: cpuAlert + "\n[log.file]\nenabled = true", wantErr: "log.file.path"},
		{name: "duplicate id", content: joinSections(cpuAlert, strings.Replace(cpuAlert, "[alert.cpu]", "[alert.cpu2]", 1)), wantErr: "reuses id"},
		{name: "name key", content: cpuAlert + "\nname = \"x\"", wantErr: "alert.cpu.name"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := loadSnapshotErr(t, tt.content)
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestFromCLI(t *testing.T) {
	t.Parallel()

	if _, err := FromCLI("", ""); err == nil {
		t.Fatalf("expected error without source")
	}
	if _, err := FromCLI("a.toml", "dir"); err == nil {
		t.Fatalf("expected error with both sources")
	}
	src, err := FromCLI(" a.toml ", "")
	if err != nil || src.File != "a.toml" {
		t.Fatalf("unexpected source %+v err=%v", src, err)
	}
}

func mustLoadSnapshot(t *testing.T, content string) Config {
	t.Helper()
	cfg, err := loadSnapshotFromContent(t, content)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	return cfg
}

func loadSnapshotErr(t *testing.T, content string) error {
	t.Helper()
	_, err := loadSnapshotFromContent(t, content)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	return err
}

func loadSnapshotFromContent(t *testing.T, content string) (Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	writeConfigFile(t, path, content)
	return LoadSnapshot(ConfigSource{File: path})
}

func joinSections(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		nonEmpty = append(nonEmpty, trimmed)
	}
	return strings.Join(nonEmpty, "\n\n") + "\n"
}

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}
