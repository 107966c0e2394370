package status

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"alerteval/internal/domain"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type dialect struct {
	driver string
	schema string
	upsert string
	get    string
}

var sqliteDialect = dialect{
	driver: "sqlite",
	schema: `CREATE TABLE IF NOT EXISTS alert_status (
		alert_hash TEXT PRIMARY KEY,
		alert_id INTEGER NOT NULL,
		namespace TEXT NOT NULL,
		tags_json TEXT NOT NULL,
		signal TEXT NOT NULL,
		updated_sec INTEGER NOT NULL
	)`,
	upsert: `INSERT INTO alert_status (alert_hash, alert_id, namespace, tags_json, signal, updated_sec)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (alert_hash) DO UPDATE SET
			signal = excluded.signal,
			tags_json = excluded.tags_json,
			updated_sec = excluded.updated_sec
		WHERE excluded.updated_sec >= alert_status.updated_sec`,
	get: `SELECT alert_id, namespace, tags_json, signal, updated_sec FROM alert_status WHERE alert_hash = ?`,
}

var postgresDialect = dialect{
	driver: "pgx",
	schema: `CREATE TABLE IF NOT EXISTS alert_status (
		alert_hash TEXT PRIMARY KEY,
		alert_id BIGINT NOT NULL,
		namespace TEXT NOT NULL,
		tags_json TEXT NOT NULL,
		signal TEXT NOT NULL,
		updated_sec BIGINT NOT NULL
	)`,
	upsert: `INSERT INTO alert_status (alert_hash, alert_id, namespace, tags_json, signal, updated_sec)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (alert_hash) DO UPDATE SET
			signal = excluded.signal,
			tags_json = excluded.tags_json,
			updated_sec = excluded.updated_sec
		WHERE excluded.updated_sec >= alert_status.updated_sec`,
	get: `SELECT alert_id, namespace, tags_json, signal, updated_sec FROM alert_status WHERE alert_hash = $1`,
}

// SQLWriter upserts statuses into the alert_status table.
type SQLWriter struct {
	db      *sql.DB
	dialect dialect
}

// OpenSQLite opens SQLite status writer and creates its schema.
// Params: context and DSN; empty DSN uses a local file.
// Returns: writer or open/schema error.
func OpenSQLite(ctx context.Context, dsn string) (*SQLWriter, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:alerteval.db?_pragma=busy_timeout(5000)"
	}
	return openSQL(ctx, sqliteDialect, dsn)
}

// OpenPostgres opens PostgreSQL status writer and creates its schema.
// Params: context and DSN.
// Returns: writer or open/schema error.
func OpenPostgres(ctx context.Context, dsn string) (*SQLWriter, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/alerteval?sslmode=disable"
	}
	return openSQL(ctx, postgresDialect, dsn)
}

func openSQL(ctx context.Context, d dialect, dsn string) (*SQLWriter, error) {
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s status db: %w", d.driver, err)
	}
	if _, err := db.ExecContext(ctx, d.schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create alert_status table: %w", err)
	}
	return &SQLWriter{db: db, dialect: d}, nil
}

// Write upserts statuses in one transaction; older timestamps never overwrite newer ones.
// Params: context and statuses.
// Returns: transaction error; nothing is committed on failure.
func (w *SQLWriter) Write(ctx context.Context, statuses []domain.Status) error {
	if len(statuses) == 0 {
		return nil
	}
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin status tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, w.dialect.upsert)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare status upsert: %w", err)
	}
	defer stmt.Close()

	for _, st := range statuses {
		tags, err := json.Marshal(st.Tags)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("encode status tags: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			strconv.FormatUint(st.AlertHash, 10),
			st.AlertID,
			st.Namespace,
			string(tags),
			string(st.Signal),
			st.TimestampSec,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert status: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit status tx: %w", err)
	}
	return nil
}

// Get reads status by alert hash.
// Params: context and alert hash.
// Returns: status or ErrNotFound.
func (w *SQLWriter) Get(ctx context.Context, alertHash uint64) (domain.Status, error) {
	st := domain.Status{AlertHash: alertHash}
	var tags, signal string
	err := w.db.QueryRowContext(ctx, w.dialect.get, strconv.FormatUint(alertHash, 10)).
		Scan(&st.AlertID, &st.Namespace, &tags, &signal, &st.TimestampSec)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Status{}, ErrNotFound
	}
	if err != nil {
		return domain.Status{}, fmt.Errorf("query status: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &st.Tags); err != nil {
		return domain.Status{}, fmt.Errorf("decode status tags: %w", err)
	}
	st.Signal = domain.Signal(signal)
	return st, nil
}

// Close closes the database.
func (w *SQLWriter) Close() error {
	return w.db.Close()
}
