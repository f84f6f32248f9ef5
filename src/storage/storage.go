package storage

import (
	"database/sql"
	"fmt"
	"time"

	"trading-hub/src/interfaces"
	"trading-hub/src/logger"
	"trading-hub/src/models"
)

// NewDatabase returns the archive backend selected by storage.db_type.
func NewDatabase(cfg *models.MConfig, log *logger.Logger) (interfaces.IDatabase, error) {
	switch cfg.Storage.DBType {
	case "sqlite":
		return NewAsyncSQLiteDB(cfg, log)
	case "postgres":
		return NewPostgresDB(cfg, log)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Storage.DBType)
	}
}

// -----------------------------------------------------------------------------

// retentionCutoff is the oldest unix-millis timestamp kept.
func retentionCutoff(now time.Time, days int) int64 {
	return now.AddDate(0, 0, -days).UnixMilli()
}

func scanMarketPoints(rows *sql.Rows) ([]models.MMarketPoint, error) {
	points := make([]models.MMarketPoint, 0)
	for rows.Next() {
		var p models.MMarketPoint
		if err := rows.Scan(&p.Symbol, &p.Timestamp, &p.Value, &p.ChangePercent); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
