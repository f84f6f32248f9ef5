package publisher

import (
	"trading-hub/src/analysis/core"
	"trading-hub/src/models"
)

// PortfolioChanged reports whether cur should be broadcast given the last
// broadcast snapshot prev.
func PortfolioChanged(prev, cur *models.MPortfolioData, threshold float64) bool {
	if cur == nil {
		return false
	}
	if prev == nil {
		return true
	}
	if len(cur.Positions) != len(prev.Positions) {
		return true
	}
	return core.ExceedsThreshold(cur.TotalValue, prev.TotalValue, threshold)
}

// MarketChanged gates on the reference index only.
func MarketChanged(prev, cur *models.MMarketData, threshold float64) bool {
	if cur == nil {
		return false
	}
	if prev == nil {
		return true
	}
	return core.ExceedsThreshold(cur.IndexValue, prev.IndexValue, threshold)
}

// NewsChanged is true whenever the feed returned anything.
func NewsChanged(items []models.MNewsItem) bool {
	return len(items) > 0
}
