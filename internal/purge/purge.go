package purge

import (
	"log/slog"

	"alerteval/internal/config"
	"alerteval/internal/domain"
	"alerteval/internal/state"
)

// Report counts one purge pass over an alert's identities.
type Report struct {
	Scanned   int
	Purged    int
	Protected int
	Failed    int
}

// Policy evicts stale state records per alert kind.
// Params: per-kind retention rules and logger.
// Returns: purge runner invoked by the scheduler after evaluation.
type Policy struct {
	cfg    config.PurgeConfig
	logger *slog.Logger
}

// New creates purge policy.
func New(cfg config.PurgeConfig, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{cfg: cfg, logger: logger}
}

// Purge removes records of alert not observed within retention.
// Params: state store, alert config, and current time in unix seconds.
// Returns: per-pass counters; a failure for one identity never aborts the scan.
func (p *Policy) Purge(store *state.Store, alert config.AlertConfig, nowSec int64) Report {
	rule := p.cfg.For(alert.Kind)
	logger := p.logger.With("alert", alert.Name, "alert_id", alert.ID, "namespace", alert.Namespace)

	var report Report
	for hash, record := range store.ForAlert(alert.Namespace, alert.ID) {
		report.Scanned++
		if !Expired(rule, record, nowSec) {
			continue
		}
		if rule.Protects() && (record.State == domain.SignalBad || record.State == domain.SignalWarn) {
			report.Protected++
			continue
		}
		if !store.Delete(hash) {
			report.Failed++
			logger.Warn("state purge failed", "alert_hash", hash, "state", record.State)
			continue
		}
		report.Purged++
		logger.Debug("state purged", "alert_hash", hash, "state", record.State, "last_seen", record.LastSeenSec)
	}
	return report
}

// Expired reports whether record is older than the retention of its state.
// Params: retention rule, record, and current time.
// Returns: true when lastSeen precedes now minus retention; never-seen records age from StateSinceSec.
func Expired(rule config.PurgeRule, record state.Record, nowSec int64) bool {
	retention := rule.RetentionSec
	if record.State == domain.SignalMissing {
		retention = rule.MissingRetentionSec
	}
	if retention <= 0 {
		return false
	}
	seen := record.LastSeenSec
	if seen < 0 {
		seen = record.StateSinceSec
	}
	return seen < nowSec-retention
}
