package interfaces

import (
	"context"

	"trading-hub/src/models"
)

// -----------------------------------------------------------------------------
// External collaborators polled by the publisher and called by the relay.
// -----------------------------------------------------------------------------

type IPortfolioSource interface {
	// FetchPortfolioSnapshot returns the current account value and positions.
	FetchPortfolioSnapshot(ctx context.Context) (*models.MPortfolioData, error)
}

// -----------------------------------------------------------------------------

type IMarketSource interface {
	// FetchMarketSnapshot returns the reference index and the watched quotes.
	FetchMarketSnapshot(ctx context.Context) (*models.MMarketData, error)
}

// -----------------------------------------------------------------------------

type INewsSource interface {
	// FetchLatestNews returns headlines newer than the previous call, newest first.
	FetchLatestNews(ctx context.Context) ([]models.MNewsItem, error)
}

// -----------------------------------------------------------------------------

type IActionExecutor interface {
	// ExecuteAction performs a trading action. Executed=true means shared
	// state (the portfolio) changed.
	ExecuteAction(ctx context.Context, req models.MActionRequest) (*models.MActionResult, error)
}
