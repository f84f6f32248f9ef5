package storage

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"trading-hub/src/logger"
	"trading-hub/src/models"

	"github.com/lib/pq"
)

var unsafeSchemaChars = regexp.MustCompile(`[^a-z0-9_]+`)

// -----------------------------------------------------------------------------

type PostgresDB struct {
	Config *models.MConfig
	DB     *sql.DB
	Schema string
	Logger *logger.Logger
	now    func() time.Time
}

// -----------------------------------------------------------------------------

// NewPostgresDB archives into a schema named after the application.
func NewPostgresDB(cfg *models.MConfig, log *logger.Logger) (*PostgresDB, error) {
	return &PostgresDB{
		Config: cfg,
		Schema: SchemaName(cfg.Name),
		Logger: log,
		now:    time.Now,
	}, nil
}

// SchemaName turns an application name into a safe schema identifier.
func SchemaName(name string) string {
	s := unsafeSchemaChars.ReplaceAllString(strings.ToLower(name), "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "trading_hub"
	}
	return s
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

func (d *PostgresDB) table(name string) string {
	return fmt.Sprintf(`"%s"."%s"`, d.Schema, name)
}

func (d *PostgresDB) createTables() error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			symbol TEXT NOT NULL,
			timestamp BIGINT NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			change_percent DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (symbol, timestamp)
		);`, d.table("market_points")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			headline TEXT NOT NULL,
			summary TEXT,
			source TEXT,
			url TEXT,
			symbols TEXT[],
			published_at BIGINT NOT NULL
		);`, d.table("news_items")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_news_items_published ON %s (published_at);`, d.table("news_items")),
	}
	for _, q := range statements {
		if _, err := d.DB.Exec(q); err != nil {
			return fmt.Errorf("failed to create archive tables: %w", err)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) SaveMarketPoints(ctx context.Context, points []models.MMarketPoint) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (symbol, timestamp, value, change_percent)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (symbol, timestamp) DO NOTHING
	`, d.table("market_points")))
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

func (d *PostgresDB) SaveNewsItems(ctx context.Context, items []models.MNewsItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, headline, summary, source, url, symbols, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, d.table("news_items")))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, n := range items {
		_, err := stmt.ExecContext(ctx, n.ID, n.Headline, n.Summary, n.Source, n.URL,
			pq.Array(n.Symbols), n.PublishedAt.UnixMilli())
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) LoadMarketPoints(ctx context.Context, symbol string, limit int) ([]models.MMarketPoint, error) {
	rows, err := d.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT symbol, timestamp, value, change_percent FROM (
			SELECT symbol, timestamp, value, change_percent
			FROM %s
			WHERE symbol = $1
			ORDER BY timestamp DESC
			LIMIT $2
		) recent ORDER BY timestamp ASC
	`, d.table("market_points")), symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMarketPoints(rows)
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) CleanupOldData(ctx context.Context) error {
	cutoff := retentionCutoff(d.now(), d.Config.Storage.RetentionDays)

	if _, err := d.DB.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE timestamp < $1`, d.table("market_points")), cutoff); err != nil {
		return fmt.Errorf("failed to clean market_points: %w", err)
	}
	if _, err := d.DB.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE published_at < $1`, d.table("news_items")), cutoff); err != nil {
		return fmt.Errorf("failed to clean news_items: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
