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

	_ "modernc.org/sqlite"
)

const sqliteBusyTimeoutMs = 5000

const minuteBarColumns = "symbol, minute_start, cumulative_total, b0, b1, b2, b3, b4, last_price"

// -----------------------------------------------------------------------------

// AsyncSQLiteDB is the embedded hot store. It runs in WAL mode so that query
// readers never block the single engine writer.
type AsyncSQLiteDB struct {
	Config *models.MConfig
	DB     *sql.DB
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewAsyncSQLiteDB(cfg *models.MConfig, log *logger.Logger) (*AsyncSQLiteDB, error) {
	if cfg == nil || cfg.Storage.DBPath == "" {
		return nil, fmt.Errorf("sqlite: db_path is not configured")
	}
	return &AsyncSQLiteDB{
		Config: cfg,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) Initialize() error {
	path := d.Config.Storage.DBPath
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, sqliteBusyTimeoutMs)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return err
	}

	d.DB = db

	// PRAGMA optimizations
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}

	return d.createTables()
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) createTables() error {
	query := `
		CREATE TABLE IF NOT EXISTS cvd_minute (
			symbol TEXT NOT NULL,
			minute_start INTEGER NOT NULL,
			cumulative_total REAL NOT NULL,
			b0 REAL NOT NULL, b1 REAL NOT NULL, b2 REAL NOT NULL, b3 REAL NOT NULL, b4 REAL NOT NULL,
			last_price REAL NOT NULL,
			PRIMARY KEY (symbol, minute_start)
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create cvd_minute: %w", err)
	}

	for _, tf := range utils.CoarserTimeframes() {
		table := rollupTable(tf)
		query = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				symbol TEXT NOT NULL,
				bucket_start INTEGER NOT NULL,
				source_minute INTEGER NOT NULL,
				cumulative_total REAL NOT NULL,
				b0 REAL NOT NULL, b1 REAL NOT NULL, b2 REAL NOT NULL, b3 REAL NOT NULL, b4 REAL NOT NULL,
				last_price REAL NOT NULL,
				PRIMARY KEY (symbol, bucket_start)
			);
		`, table)
		if _, err := d.DB.Exec(query); err != nil {
			return fmt.Errorf("failed to create %s: %w", table, err)
		}
	}

	for _, tf := range utils.Timeframes() {
		table := depthTable(tf)
		query = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				symbol TEXT NOT NULL,
				bucket_start INTEGER NOT NULL,
				captured_at INTEGER NOT NULL,
				bids TEXT NOT NULL,
				asks TEXT NOT NULL,
				last_price REAL NOT NULL,
				PRIMARY KEY (symbol, bucket_start)
			);
		`, table)
		if _, err := d.DB.Exec(query); err != nil {
			return fmt.Errorf("failed to create %s: %w", table, err)
		}
	}

	query = `
		CREATE TABLE IF NOT EXISTS liquidations (
			symbol TEXT NOT NULL,
			event_time INTEGER NOT NULL,
			side TEXT NOT NULL,
			price REAL NOT NULL,
			quantity REAL NOT NULL,
			notional REAL NOT NULL,
			UNIQUE (symbol, event_time, side, price, quantity)
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create liquidations: %w", err)
	}
	if _, err := d.DB.Exec("CREATE INDEX IF NOT EXISTS idx_liquidations_time ON liquidations (event_time)"); err != nil {
		return fmt.Errorf("failed to index liquidations: %w", err)
	}

	return nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) SaveMinuteBar(bar models.MTradeDeltaMinuteBar, rollups []models.MTradeDeltaRollup) error {
	tx, err := d.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	b := bar.CumulativeBuckets
	_, err = tx.Exec(`
		INSERT INTO cvd_minute (`+minuteBarColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, minute_start) DO UPDATE SET
			cumulative_total = excluded.cumulative_total,
			b0 = excluded.b0, b1 = excluded.b1, b2 = excluded.b2, b3 = excluded.b3, b4 = excluded.b4,
			last_price = excluded.last_price
	`, bar.Symbol, bar.MinuteStart, bar.CumulativeTotal, b[0], b[1], b[2], b[3], b[4], bar.LastPrice)
	if err != nil {
		return fmt.Errorf("failed to save minute bar: %w", err)
	}

	for _, r := range rollups {
		if !utils.IsTimeframe(r.Timeframe) || r.Timeframe == utils.DefaultTimeframe {
			return fmt.Errorf("invalid rollup timeframe %q", r.Timeframe)
		}
		table := rollupTable(r.Timeframe)
		rb := r.CumulativeBuckets
		_, err = tx.Exec(fmt.Sprintf(`
			INSERT INTO %[1]s (symbol, bucket_start, source_minute, cumulative_total, b0, b1, b2, b3, b4, last_price)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (symbol, bucket_start) DO UPDATE SET
				source_minute = excluded.source_minute,
				cumulative_total = excluded.cumulative_total,
				b0 = excluded.b0, b1 = excluded.b1, b2 = excluded.b2, b3 = excluded.b3, b4 = excluded.b4,
				last_price = excluded.last_price
			WHERE excluded.source_minute >= %[1]s.source_minute
		`, table), r.Symbol, r.BucketStart, r.SourceMinute, r.CumulativeTotal, rb[0], rb[1], rb[2], rb[3], rb[4], r.LastPrice)
		if err != nil {
			return fmt.Errorf("failed to upsert %s: %w", table, err)
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) LoadLatestMinuteBar(symbol string) (*models.MTradeDeltaMinuteBar, error) {
	row := d.DB.QueryRow(`
		SELECT `+minuteBarColumns+` FROM cvd_minute
		WHERE symbol = ? ORDER BY minute_start DESC LIMIT 1
	`, symbol)

	var bar models.MTradeDeltaMinuteBar
	b := &bar.CumulativeBuckets
	err := row.Scan(&bar.Symbol, &bar.MinuteStart, &bar.CumulativeTotal, &b[0], &b[1], &b[2], &b[3], &b[4], &bar.LastPrice)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bar, nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) ListCvdPoints(symbol, timeframe string, limit int) ([]models.MTradeDeltaRollup, error) {
	tf := utils.NormalizeTimeframe(timeframe)

	var query string
	if tf == utils.DefaultTimeframe {
		query = `
			SELECT minute_start, minute_start, cumulative_total, b0, b1, b2, b3, b4, last_price
			FROM cvd_minute WHERE symbol = ? ORDER BY minute_start DESC LIMIT ?
		`
	} else {
		query = fmt.Sprintf(`
			SELECT bucket_start, source_minute, cumulative_total, b0, b1, b2, b3, b4, last_price
			FROM %s WHERE symbol = ? ORDER BY bucket_start DESC LIMIT ?
		`, rollupTable(tf))
	}

	rows, err := d.DB.Query(query, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.MTradeDeltaRollup
	for rows.Next() {
		r := models.MTradeDeltaRollup{Symbol: symbol, Timeframe: tf}
		b := &r.CumulativeBuckets
		if err := rows.Scan(&r.BucketStart, &r.SourceMinute, &r.CumulativeTotal, &b[0], &b[1], &b[2], &b[3], &b[4], &r.LastPrice); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reverse(out)
	return out, nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) InsertLiquidation(ev models.MLiquidationEvent) (bool, error) {
	res, err := d.DB.Exec(`
		INSERT INTO liquidations (symbol, event_time, side, price, quantity, notional)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, ev.Symbol, ev.EventTime, ev.Side, ev.Price, ev.Quantity, ev.Notional)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) ListLiquidations(symbol string, since int64) ([]models.MLiquidationEvent, error) {
	rows, err := d.DB.Query(`
		SELECT symbol, event_time, side, price, quantity, notional FROM liquidations
		WHERE symbol = ? AND event_time >= ? ORDER BY event_time ASC
	`, symbol, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.MLiquidationEvent
	for rows.Next() {
		var ev models.MLiquidationEvent
		if err := rows.Scan(&ev.Symbol, &ev.EventTime, &ev.Side, &ev.Price, &ev.Quantity, &ev.Notional); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) PruneTradeDeltas(before int64) (int64, error) {
	var total int64

	res, err := d.DB.Exec("DELETE FROM cvd_minute WHERE minute_start < ?", before)
	if err != nil {
		return total, fmt.Errorf("prune cvd_minute: %w", err)
	}
	n, _ := res.RowsAffected()
	total += n

	for _, tf := range utils.CoarserTimeframes() {
		table := rollupTable(tf)
		res, err := d.DB.Exec(fmt.Sprintf("DELETE FROM %s WHERE bucket_start < ?", table), before)
		if err != nil {
			d.Logger.Error("Cleanup %s error: %v", table, err)
			continue
		}
		n, _ := res.RowsAffected()
		total += n
	}

	return total, nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) PruneLiquidations(before int64) (int64, error) {
	res, err := d.DB.Exec("DELETE FROM liquidations WHERE event_time < ?", before)
	if err != nil {
		return 0, fmt.Errorf("prune liquidations: %w", err)
	}
	return res.RowsAffected()
}

// -----------------------------------------------------------------------------
// Snapshot store (JSON text columns)
// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) SaveDepthSnapshots(records []models.MDepthSnapshotRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := d.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, rec := range records {
		if !utils.IsTimeframe(rec.Timeframe) {
			return fmt.Errorf("invalid snapshot timeframe %q", rec.Timeframe)
		}
		bids, asks, err := encodeLevels(rec)
		if err != nil {
			return err
		}
		_, err = tx.Exec(fmt.Sprintf(`
			INSERT INTO %s (symbol, bucket_start, captured_at, bids, asks, last_price)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (symbol, bucket_start) DO UPDATE SET
				captured_at = excluded.captured_at,
				bids = excluded.bids,
				asks = excluded.asks,
				last_price = excluded.last_price
		`, depthTable(rec.Timeframe)), rec.Symbol, rec.BucketStart, rec.CapturedAt, bids, asks, rec.LastPrice)
		if err != nil {
			return fmt.Errorf("failed to save depth snapshot: %w", err)
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) ListDepthSnapshots(symbol, timeframe string, limit int) ([]models.MDepthSnapshotRecord, error) {
	tf := utils.NormalizeTimeframe(timeframe)
	rows, err := d.DB.Query(fmt.Sprintf(`
		SELECT bucket_start, captured_at, bids, asks, last_price FROM %s
		WHERE symbol = ? ORDER BY bucket_start DESC LIMIT ?
	`, depthTable(tf)), symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.MDepthSnapshotRecord
	for rows.Next() {
		rec := models.MDepthSnapshotRecord{Symbol: symbol, Timeframe: tf}
		var bids, asks string
		if err := rows.Scan(&rec.BucketStart, &rec.CapturedAt, &bids, &asks, &rec.LastPrice); err != nil {
			return nil, err
		}
		if err := decodeLevels(bids, asks, &rec); err != nil {
			return nil, err
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

func (d *AsyncSQLiteDB) PruneDepthSnapshots(timeframe string, before int64) (int64, error) {
	if !utils.IsTimeframe(timeframe) {
		return 0, fmt.Errorf("invalid snapshot timeframe %q", timeframe)
	}
	res, err := d.DB.Exec(fmt.Sprintf("DELETE FROM %s WHERE captured_at < ?", depthTable(timeframe)), before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func rollupTable(tf string) string {
	return "cvd_rollup_" + utils.TableSuffix(tf)
}

func depthTable(tf string) string {
	return "depth_snapshots_" + utils.TableSuffix(tf)
}

func encodeLevels(rec models.MDepthSnapshotRecord) (string, string, error) {
	bids, err := json.Marshal(nonNilLevels(rec.Bids))
	if err != nil {
		return "", "", fmt.Errorf("encode bids: %w", err)
	}
	asks, err := json.Marshal(nonNilLevels(rec.Asks))
	if err != nil {
		return "", "", fmt.Errorf("encode asks: %w", err)
	}
	return string(bids), string(asks), nil
}

func decodeLevels(bids, asks string, rec *models.MDepthSnapshotRecord) error {
	if err := json.NewDecoder(strings.NewReader(bids)).Decode(&rec.Bids); err != nil {
		return fmt.Errorf("decode bids: %w", err)
	}
	if err := json.NewDecoder(strings.NewReader(asks)).Decode(&rec.Asks); err != nil {
		return fmt.Errorf("decode asks: %w", err)
	}
	return nil
}

func nonNilLevels(levels []models.MPriceLevel) []models.MPriceLevel {
	if levels == nil {
		return []models.MPriceLevel{}
	}
	return levels
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
