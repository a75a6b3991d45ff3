package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb/v2"

	"github.com/johnayoung/go-derivs-collector/internal/models"
)

const seriesTable = "aligned_series"

// DuckDBStorage stores aligned series in a DuckDB database. Rows are written
// with the Appender API after the overlapping range is cleared.
type DuckDBStorage struct {
	db           *sql.DB
	dbPath       string
	queryTimeout time.Duration
	logger       *slog.Logger
	mu           sync.RWMutex
}

// NewDuckDBStorage opens the database at dbPath; ":memory:" opens an
// in-memory database. Call Initialize before use.
func NewDuckDBStorage(dbPath string, logger *slog.Logger) (*DuckDBStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, NewStorageError("open", "", "", fmt.Errorf("failed to open DuckDB database: %w", err))
	}

	// DuckDB allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return &DuckDBStorage{
		db:     db,
		dbPath: dbPath,
		logger: logger.With("component", "storage", "backend", TypeDuckDB),
	}, nil
}

// Initialize applies pending schema migrations.
func (d *DuckDBStorage) Initialize(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return NewStorageError("initialize", "", "", ErrStorageClosed)
	}

	d.logger.Info("initializing DuckDB storage", "db_path", d.dbPath)
	if err := NewMigrationManager(d.db, d.logger).MigrateToLatest(ctx); err != nil {
		return NewStorageError("initialize", "", "", err)
	}
	return nil
}

func (d *DuckDBStorage) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.queryTimeout > 0 {
		return context.WithTimeout(ctx, d.queryTimeout)
	}
	return context.WithCancel(ctx)
}

// SaveSeries implements SeriesStore.
func (d *DuckDBStorage) SaveSeries(ctx context.Context, key SeriesKey, series *models.AlignedSeries) error {
	if err := key.Validate(); err != nil {
		return NewInsertError(seriesTable, err)
	}
	if series.Len() == 0 {
		return nil
	}

	start := time.Now()
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	d.mu.RLock()
	db := d.db
	d.mu.RUnlock()
	if db == nil {
		return NewInsertError(seriesTable, ErrStorageClosed)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return NewInsertError(seriesTable, fmt.Errorf("failed to get connection: %w", err))
	}
	defer conn.Close()

	rows := series.Rows()
	first, last := rows[0].Timestamp, rows[len(rows)-1].Timestamp

	deleteQuery := `DELETE FROM aligned_series
		WHERE exchange = ? AND instrument = ? AND bar_interval = ? AND ts >= ? AND ts <= ?`
	if _, err := conn.ExecContext(ctx, deleteQuery, key.Exchange, key.Instrument, key.Interval, first, last); err != nil {
		return NewStorageError("delete", seriesTable, deleteQuery, err)
	}

	var driverConn *duckdb.Conn
	err = conn.Raw(func(dc interface{}) error {
		var ok bool
		driverConn, ok = dc.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("underlying connection is not a DuckDB connection")
		}
		return nil
	})
	if err != nil {
		return NewInsertError(seriesTable, err)
	}

	appender, err := duckdb.NewAppenderFromConn(driverConn, "", seriesTable)
	if err != nil {
		return NewInsertError(seriesTable, fmt.Errorf("failed to create appender: %w", err))
	}

	for _, row := range rows {
		if err := appender.AppendRow(
			key.Exchange, key.Instrument, key.Interval, row.Timestamp,
			row.Open, row.High, row.Low, row.Close, row.Volume,
			row.OI.Open, row.OI.High, row.OI.Low, row.OI.Close,
			row.FR.Open, row.FR.High, row.FR.Low, row.FR.Close,
		); err != nil {
			appender.Close()
			return NewInsertError(seriesTable, fmt.Errorf("failed to append row %s: %w", row.Timestamp, err))
		}
	}
	if err := appender.Close(); err != nil {
		return NewInsertError(seriesTable, fmt.Errorf("failed to flush appender: %w", err))
	}

	if _, err := conn.ExecContext(ctx,
		`INSERT INTO series_saves (exchange, instrument, bar_interval, first_ts, last_ts, row_count) VALUES (?, ?, ?, ?, ?, ?)`,
		key.Exchange, key.Instrument, key.Interval, first, last, len(rows)); err != nil {
		return NewInsertError("series_saves", err)
	}

	d.logger.Debug("stored aligned series",
		"series", key.String(),
		"rows", len(rows),
		"duration", time.Since(start))
	return nil
}

// LoadSeries implements SeriesStore.
func (d *DuckDBStorage) LoadSeries(ctx context.Context, key SeriesKey, start, end time.Time) (*models.AlignedSeries, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	d.mu.RLock()
	db := d.db
	d.mu.RUnlock()
	if db == nil {
		return nil, NewQueryError(seriesTable, "", ErrStorageClosed)
	}

	query := `SELECT ts, open, high, low, close, volume,
			oi_open, oi_high, oi_low, oi_close,
			fr_open, fr_high, fr_low, fr_close
		FROM aligned_series
		WHERE exchange = ? AND instrument = ? AND bar_interval = ? AND ts >= ?`
	args := []interface{}{key.Exchange, key.Instrument, key.Interval, start}
	if !end.IsZero() {
		query += " AND ts < ?"
		args = append(args, end)
	}
	query += " ORDER BY ts"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewQueryError(seriesTable, query, err)
	}
	defer rows.Close()

	var out []models.AlignedRow
	for rows.Next() {
		var r models.AlignedRow
		if err := rows.Scan(&r.Timestamp, &r.Open, &r.High, &r.Low, &r.Close, &r.Volume,
			&r.OI.Open, &r.OI.High, &r.OI.Low, &r.OI.Close,
			&r.FR.Open, &r.FR.High, &r.FR.Low, &r.FR.Close); err != nil {
			return nil, NewQueryError(seriesTable, query, err)
		}
		r.Timestamp = r.Timestamp.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError(seriesTable, query, err)
	}
	return models.NewAlignedSeries(out), nil
}

// SaveCount returns how many saves were recorded for key.
func (d *DuckDBStorage) SaveCount(ctx context.Context, key SeriesKey) (int, error) {
	d.mu.RLock()
	db := d.db
	d.mu.RUnlock()
	if db == nil {
		return 0, NewQueryError("series_saves", "", ErrStorageClosed)
	}

	var n int
	query := `SELECT COUNT(*) FROM series_saves WHERE exchange = ? AND instrument = ? AND bar_interval = ?`
	if err := db.QueryRowContext(ctx, query, key.Exchange, key.Instrument, key.Interval).Scan(&n); err != nil {
		return 0, NewQueryError("series_saves", query, err)
	}
	return n, nil
}

// Close implements SeriesStore.
func (d *DuckDBStorage) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return nil
	}
	d.logger.Info("closing DuckDB storage")
	err := d.db.Close()
	d.db = nil
	if err != nil {
		return NewStorageError("close", "", "", fmt.Errorf("failed to close database: %w", err))
	}
	return nil
}
