package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"flow-observer/src/logger"
	"flow-observer/src/models"
	"flow-observer/src/utils"

	_ "github.com/lib/pq"
)

// -----------------------------------------------------------------------------

// PostgresDB stores depth snapshots as JSONB documents in a schema named after
// the running executable.
type PostgresDB struct {
	Config *models.MConfig
	DB     *sql.DB
	Schema string
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewPostgresDB(cfg *models.MConfig, log *logger.Logger) (*PostgresDB, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable name: %w", err)
	}
	name := filepath.Base(exe)
	name = strings.TrimSuffix(name, filepath.Ext(name))

	return &PostgresDB{
		Config: cfg,
		Schema: sanitizeSchema(name),
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Initialize() error {
	db, err := sql.Open("postgres", d.Config.Storage.DBConnectionString)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return err
	}

	d.DB = db

	if _, err := d.DB.Exec(fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, d.Schema)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", d.Schema, err)
	}

	if err := d.createTables(); err != nil {
		return err
	}

	d.Logger.Info("PostgresDB initialized successfully (Schema: %s)", d.Schema)
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) createTables() error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			bucket_start BIGINT NOT NULL,
			captured_at BIGINT NOT NULL,
			document JSONB NOT NULL,
			PRIMARY KEY (symbol, timeframe, bucket_start)
		);
	`, d.table())
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create depth_snapshots: %w", err)
	}

	query = fmt.Sprintf(`CREATE INDEX IF NOT EXISTS depth_snapshots_captured_idx ON %s (timeframe, captured_at)`, d.table())
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to index depth_snapshots: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) SaveDepthSnapshots(records []models.MDepthSnapshotRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := d.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(fmt.Sprintf(`
		INSERT INTO %s (symbol, timeframe, bucket_start, captured_at, document)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (symbol, timeframe, bucket_start) DO UPDATE SET
			captured_at = EXCLUDED.captured_at,
			document = EXCLUDED.document
	`, d.table()))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		if !utils.IsTimeframe(rec.Timeframe) {
			return fmt.Errorf("invalid snapshot timeframe %q", rec.Timeframe)
		}
		rec.Bids = nonNilLevels(rec.Bids)
		rec.Asks = nonNilLevels(rec.Asks)
		doc, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		if _, err := stmt.Exec(rec.Symbol, rec.Timeframe, rec.BucketStart, rec.CapturedAt, string(doc)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) ListDepthSnapshots(symbol, timeframe string, limit int) ([]models.MDepthSnapshotRecord, error) {
	tf := utils.NormalizeTimeframe(timeframe)
	rows, err := d.DB.Query(fmt.Sprintf(`
		SELECT document FROM %s
		WHERE symbol = $1 AND timeframe = $2
		ORDER BY bucket_start DESC LIMIT $3
	`, d.table()), symbol, tf, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.MDepthSnapshotRecord
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var rec models.MDepthSnapshotRecord
		if err := json.Unmarshal(doc, &rec); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reverse(out)
	return out, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) PruneDepthSnapshots(timeframe string, before int64) (int64, error) {
	res, err := d.DB.Exec(fmt.Sprintf(`DELETE FROM %s WHERE timeframe = $1 AND captured_at < $2`, d.table()), timeframe, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) table() string {
	return fmt.Sprintf(`"%s"."depth_snapshots"`, d.Schema)
}

func sanitizeSchema(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "flow_observer"
	}
	return b.String()
}
