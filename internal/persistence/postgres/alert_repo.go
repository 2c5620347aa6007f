// Package postgres implements persistence.AlertRepo against PostgreSQL via
// sqlx and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/riftline/confluence-sentinel/internal/domain"
	"github.com/riftline/confluence-sentinel/internal/persistence"
)

// ErrNotConnected is returned by every query method while the store has no
// live connection — startup never blocks on Postgres being reachable, so
// this is the ordinary state until the first successful (re)connect.
var ErrNotConnected = errors.New("postgres: not connected")

const schema = `
CREATE TABLE IF NOT EXISTS confluence_alerts (
	id               TEXT PRIMARY KEY,
	symbol           TEXT NOT NULL,
	setup_type       TEXT NOT NULL,
	severity         TEXT NOT NULL,
	title            TEXT NOT NULL,
	description      TEXT NOT NULL,
	signals          JSONB NOT NULL,
	confluence_score INT NOT NULL,
	timestamp        BIGINT NOT NULL,
	data             JSONB NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_confluence_alerts_symbol ON confluence_alerts (symbol);
CREATE INDEX IF NOT EXISTS idx_confluence_alerts_timestamp ON confluence_alerts (timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_confluence_alerts_severity ON confluence_alerts (severity);
CREATE INDEX IF NOT EXISTS idx_confluence_alerts_setup_type ON confluence_alerts (setup_type);
`

// AlertRepo implements persistence.AlertRepo over a sqlx.DB. The connection
// is established lazily and may be nil between Open and a successful
// (re)connect — persistence availability is never a startup gate, and a
// reconnect may happen at any point during the process lifetime.
type AlertRepo struct {
	mu      sync.RWMutex
	db      *sqlx.DB
	dsn     string
	timeout time.Duration
}

// Open returns a repo immediately and makes a best-effort initial connection
// attempt. A failed attempt is logged, not returned as an error — the HTTP
// listener, Fetcher, and Scheduler all start regardless, and the store
// reconnects in the background via Health, which the Scheduler calls on
// every cycle failure.
func Open(dsn string, timeout time.Duration) *AlertRepo {
	r := &AlertRepo{dsn: dsn, timeout: timeout}
	if err := r.connect(); err != nil {
		log.Warn().Err(err).Msg("postgres: initial connect failed, will retry in background")
	}
	return r
}

// connect dials dsn and migrates the schema, swapping in the new handle only
// on success. Safe to call repeatedly from Health when disconnected.
func (r *AlertRepo) connect() error {
	db, err := sqlx.Connect("postgres", r.dsn)
	if err != nil {
		return fmt.Errorf("postgres: connect: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return fmt.Errorf("postgres: migrate schema: %w", err)
	}

	r.mu.Lock()
	r.db = db
	r.mu.Unlock()
	return nil
}

// handle returns the live DB handle, or ErrNotConnected while disconnected.
func (r *AlertRepo) handle() (*sqlx.DB, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.db == nil {
		return nil, ErrNotConnected
	}
	return r.db, nil
}

// Insert implements persistence.AlertRepo. A primary-key conflict is a
// silent no-op — the Emitter treats that as idempotent dedup, not an error.
func (r *AlertRepo) Insert(ctx context.Context, alert domain.Alert) error {
	db, err := r.handle()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	signalsJSON, err := json.Marshal(alert.Signals)
	if err != nil {
		return fmt.Errorf("postgres: marshal signals: %w", err)
	}
	dataJSON, err := json.Marshal(alert.Payload)
	if err != nil {
		return fmt.Errorf("postgres: marshal payload: %w", err)
	}

	query := `
		INSERT INTO confluence_alerts
			(id, symbol, setup_type, severity, title, description, signals, confluence_score, timestamp, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`

	_, err = db.ExecContext(ctx, query,
		alert.ID, alert.Symbol, string(alert.SetupType), string(alert.Severity),
		alert.Title, alert.Description, signalsJSON, alert.ConfluenceScore,
		alert.Timestamp, dataJSON)
	if err != nil {
		return fmt.Errorf("postgres: insert alert %s: %w", alert.ID, err)
	}
	return nil
}

// Exists implements persistence.AlertRepo.
func (r *AlertRepo) Exists(ctx context.Context, id string) (bool, error) {
	db, err := r.handle()
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var exists bool
	err = db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM confluence_alerts WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: exists %s: %w", id, err)
	}
	return exists, nil
}

// ListAll implements persistence.AlertRepo.
func (r *AlertRepo) ListAll(ctx context.Context, tr persistence.TimeRange) ([]domain.Alert, error) {
	return r.listWhere(ctx, `timestamp >= $1 AND timestamp <= $2`, tr.From.UnixMilli(), tr.To.UnixMilli())
}

// ListBySymbol implements persistence.AlertRepo.
func (r *AlertRepo) ListBySymbol(ctx context.Context, symbol string, tr persistence.TimeRange) ([]domain.Alert, error) {
	return r.listWhere(ctx, `symbol = $1 AND timestamp >= $2 AND timestamp <= $3`, symbol, tr.From.UnixMilli(), tr.To.UnixMilli())
}

// ListBySeverity implements persistence.AlertRepo.
func (r *AlertRepo) ListBySeverity(ctx context.Context, severity domain.Severity, tr persistence.TimeRange) ([]domain.Alert, error) {
	return r.listWhere(ctx, `severity = $1 AND timestamp >= $2 AND timestamp <= $3`, string(severity), tr.From.UnixMilli(), tr.To.UnixMilli())
}

func (r *AlertRepo) listWhere(ctx context.Context, whereClause string, args ...interface{}) ([]domain.Alert, error) {
	db, err := r.handle()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, symbol, setup_type, severity, title, description, signals, confluence_score, timestamp, data
		FROM confluence_alerts
		WHERE %s
		ORDER BY timestamp DESC`, whereClause)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list: %w", err)
	}
	defer rows.Close()

	var alerts []domain.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate alerts: %w", err)
	}
	return alerts, nil
}

func scanAlert(rows *sql.Rows) (domain.Alert, error) {
	var (
		alert       domain.Alert
		setupType   string
		severity    string
		signalsJSON []byte
		dataJSON    []byte
	)

	if err := rows.Scan(&alert.ID, &alert.Symbol, &setupType, &severity, &alert.Title,
		&alert.Description, &signalsJSON, &alert.ConfluenceScore, &alert.Timestamp, &dataJSON); err != nil {
		return domain.Alert{}, err
	}

	alert.SetupType = domain.SetupType(setupType)
	alert.Severity = domain.Severity(severity)

	if err := json.Unmarshal(signalsJSON, &alert.Signals); err != nil {
		return domain.Alert{}, fmt.Errorf("unmarshal signals: %w", err)
	}
	if err := json.Unmarshal(dataJSON, &alert.Payload); err != nil {
		return domain.Alert{}, fmt.Errorf("unmarshal payload: %w", err)
	}

	return alert, nil
}

// Stats implements persistence.AlertRepo.
func (r *AlertRepo) Stats(ctx context.Context, tr persistence.TimeRange) (persistence.Stats, error) {
	db, err := r.handle()
	if err != nil {
		return persistence.Stats{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	stats := persistence.Stats{
		BySeverity:  make(map[domain.Severity]int64),
		BySetupType: make(map[domain.SetupType]int64),
	}

	row := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM confluence_alerts WHERE timestamp >= $1 AND timestamp <= $2`,
		tr.From.UnixMilli(), tr.To.UnixMilli())
	if err := row.Scan(&stats.Total); err != nil {
		return persistence.Stats{}, fmt.Errorf("postgres: stats total: %w", err)
	}

	sevRows, err := db.QueryContext(ctx, `
		SELECT severity, COUNT(*) FROM confluence_alerts
		WHERE timestamp >= $1 AND timestamp <= $2 GROUP BY severity`,
		tr.From.UnixMilli(), tr.To.UnixMilli())
	if err != nil {
		return persistence.Stats{}, fmt.Errorf("postgres: stats by severity: %w", err)
	}
	defer sevRows.Close()
	for sevRows.Next() {
		var sev string
		var count int64
		if err := sevRows.Scan(&sev, &count); err != nil {
			return persistence.Stats{}, err
		}
		stats.BySeverity[domain.Severity(sev)] = count
	}

	setupRows, err := db.QueryContext(ctx, `
		SELECT setup_type, COUNT(*) FROM confluence_alerts
		WHERE timestamp >= $1 AND timestamp <= $2 GROUP BY setup_type`,
		tr.From.UnixMilli(), tr.To.UnixMilli())
	if err != nil {
		return persistence.Stats{}, fmt.Errorf("postgres: stats by setup type: %w", err)
	}
	defer setupRows.Close()
	for setupRows.Next() {
		var setup string
		var count int64
		if err := setupRows.Scan(&setup, &count); err != nil {
			return persistence.Stats{}, err
		}
		stats.BySetupType[domain.SetupType(setup)] = count
	}

	return stats, nil
}

// Prune implements persistence.AlertRepo.
func (r *AlertRepo) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	db, err := r.handle()
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := db.ExecContext(ctx, `DELETE FROM confluence_alerts WHERE timestamp < $1`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("postgres: prune: %w", err)
	}
	return res.RowsAffected()
}

// Health pings the live connection, attempting a (re)connect first if the
// store is currently disconnected — this is what lets the Scheduler's
// failure-triggered reconnect loop heal persistence without a restart.
func (r *AlertRepo) Health(ctx context.Context) error {
	db, err := r.handle()
	if err != nil {
		if cerr := r.connect(); cerr != nil {
			return cerr
		}
		db, err = r.handle()
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// Close releases the connection, if one is currently held.
func (r *AlertRepo) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}
