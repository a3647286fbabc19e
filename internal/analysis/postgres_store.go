package analysis

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL. The report body
// is stored as JSONB; day, revision and the flagged bit are lifted into
// columns for lookups.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed report store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the audit_reports table if it doesn't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_reports (
			day          VARCHAR(10) PRIMARY KEY,
			revision     BIGINT NOT NULL DEFAULT 0,
			flagged      BOOLEAN NOT NULL DEFAULT FALSE,
			report       JSONB NOT NULL,
			computed_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_audit_reports_flagged ON audit_reports(flagged) WHERE flagged;
	`)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, day string) (*StoredReport, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT revision, report, computed_at
		FROM audit_reports WHERE day = $1
	`, day)

	var rec StoredReport
	var revision int64
	var body []byte
	err := row.Scan(&revision, &body, &rec.ComputedAt)
	if err == sql.ErrNoRows {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get audit report: %w", err)
	}
	if err := json.Unmarshal(body, &rec.Report); err != nil {
		return nil, fmt.Errorf("decode audit report %s: %w", day, err)
	}
	rec.Revision = uint64(revision)
	return &rec, nil
}

func (p *PostgresStore) Put(ctx context.Context, rec *StoredReport) error {
	body, err := json.Marshal(rec.Report)
	if err != nil {
		return fmt.Errorf("encode audit report %s: %w", rec.Report.Date, err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO audit_reports (day, revision, flagged, report, computed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (day) DO UPDATE SET
			revision    = EXCLUDED.revision,
			flagged     = EXCLUDED.flagged,
			report      = EXCLUDED.report,
			computed_at = EXCLUDED.computed_at
	`, rec.Report.Date, int64(rec.Revision), rec.Report.Flagged, body, rec.ComputedAt)
	if err != nil {
		return fmt.Errorf("put audit report %s: %w", rec.Report.Date, err)
	}
	return nil
}

func (p *PostgresStore) ListFlagged(ctx context.Context, limit int) ([]*StoredReport, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT revision, report, computed_at
		FROM audit_reports WHERE flagged
		ORDER BY day DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list flagged reports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*StoredReport
	for rows.Next() {
		var rec StoredReport
		var revision int64
		var body []byte
		if err := rows.Scan(&revision, &body, &rec.ComputedAt); err != nil {
			return nil, fmt.Errorf("scan audit report: %w", err)
		}
		if err := json.Unmarshal(body, &rec.Report); err != nil {
			return nil, fmt.Errorf("decode audit report: %w", err)
		}
		rec.Revision = uint64(revision)
		result = append(result, &rec)
	}
	return result, rows.Err()
}
