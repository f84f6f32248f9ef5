package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"trading-hub/src/logger"
	"trading-hub/src/models"

	_ "modernc.org/sqlite"
)

// -----------------------------------------------------------------------------

type AsyncSQLiteDB struct {
	Config *models.MConfig
	DB     *sql.DB
	Logger *logger.Logger
	now    func() time.Time
}

// -----------------------------------------------------------------------------

func NewAsyncSQLiteDB(cfg *models.MConfig, log *logger.Logger) (*AsyncSQLiteDB, error) {
	return &AsyncSQLiteDB{
		Config: cfg,
		Logger: log,
		now:    time.Now,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) Initialize() error {
	db, err := sql.Open("sqlite", d.Config.Storage.DBPath)
	if err != nil {
		return err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return err
	}

	// One writer at a time; sqlite serializes writes anyway.
	db.SetMaxOpenConns(1)
	d.DB = db

	// PRAGMA optimizations
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}

	if err := d.createTables(); err != nil {
		return err
	}

	d.Logger.Info("SQLite archive ready at %s", d.Config.Storage.DBPath)
	return nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) createTables() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS market_points (
			symbol TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			value REAL NOT NULL,
			change_percent REAL NOT NULL,
			PRIMARY KEY (symbol, timestamp)
		);`,
		`CREATE TABLE IF NOT EXISTS news_items (
			id TEXT PRIMARY KEY,
			headline TEXT NOT NULL,
			summary TEXT,
			source TEXT,
			url TEXT,
			symbols TEXT,
			published_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_news_items_published ON news_items (published_at);`,
	}
	for _, q := range statements {
		if _, err := d.DB.Exec(q); err != nil {
			return fmt.Errorf("failed to create archive tables: %w", err)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) SaveMarketPoints(ctx context.Context, points []models.MMarketPoint) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO market_points (symbol, timestamp, value, change_percent)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, p.Symbol, p.Timestamp, p.Value, p.ChangePercent); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) SaveNewsItems(ctx context.Context, items []models.MNewsItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO news_items (id, headline, summary, source, url, symbols, published_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, n := range items {
		_, err := stmt.ExecContext(ctx, n.ID, n.Headline, n.Summary, n.Source, n.URL,
			strings.Join(n.Symbols, ","), n.PublishedAt.UnixMilli())
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) LoadMarketPoints(ctx context.Context, symbol string, limit int) ([]models.MMarketPoint, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT symbol, timestamp, value, change_percent FROM (
			SELECT symbol, timestamp, value, change_percent
			FROM market_points
			WHERE symbol = ?
			ORDER BY timestamp DESC
			LIMIT ?
		) ORDER BY timestamp ASC
	`, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMarketPoints(rows)
}

// -----------------------------------------------------------------------------

// CleanupOldData removes data older than the retention policy.
func (d *AsyncSQLiteDB) CleanupOldData(ctx context.Context) error {
	cutoff := retentionCutoff(d.now(), d.Config.Storage.RetentionDays)

	res, err := d.DB.ExecContext(ctx, "DELETE FROM market_points WHERE timestamp < ?", cutoff)
	if err != nil {
		return fmt.Errorf("failed to clean market_points: %w", err)
	}
	points, _ := res.RowsAffected()

	res, err = d.DB.ExecContext(ctx, "DELETE FROM news_items WHERE published_at < ?", cutoff)
	if err != nil {
		return fmt.Errorf("failed to clean news_items: %w", err)
	}
	news, _ := res.RowsAffected()

	if points > 0 || news > 0 {
		d.Logger.Info("Archive cleanup removed %d market points and %d headlines", points, news)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
