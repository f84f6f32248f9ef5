package interfaces

import (
	"context"

	"trading-hub/src/models"
)

// -----------------------------------------------------------------------------
// IDatabase archives what the publisher broadcast. It never stores connection
// or subscription state.
// -----------------------------------------------------------------------------

type IDatabase interface {

	// Initialize sets up the database schema and tables.
	Initialize() error

	// SaveMarketPoints inserts a batch of market samples.
	SaveMarketPoints(ctx context.Context, points []models.MMarketPoint) error

	// SaveNewsItems inserts headlines, ignoring duplicates.
	SaveNewsItems(ctx context.Context, items []models.MNewsItem) error

	// LoadMarketPoints returns the newest samples for symbol, oldest first.
	LoadMarketPoints(ctx context.Context, symbol string, limit int) ([]models.MMarketPoint, error)

	// CleanupOldData removes data older than the retention policy.
	CleanupOldData(ctx context.Context) error

	// Close the database connection
	Close() error
}
