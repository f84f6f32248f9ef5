package models

import "time"

// MPosition is one open position at the brokerage.
type MPosition struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	CurrentPrice  float64 `json:"current_price"`
	MarketValue   float64 `json:"market_value"`
	UnrealizedPL  float64 `json:"unrealized_pl"`
}

// MPortfolioData is one portfolio snapshot.
type MPortfolioData struct {
	TotalValue  float64     `json:"total_value"`
	Cash        float64     `json:"cash"`
	BuyingPower float64     `json:"buying_power"`
	DayChange   float64     `json:"day_change"`
	Positions   []MPosition `json:"positions"`
	FetchedAt   int64       `json:"fetched_at"`
}

// MQuote is the latest price for a symbol.
type MQuote struct {
	Symbol             string  `json:"symbol"`
	Price              float64 `json:"price"`
	PreviousClose      float64 `json:"previous_close"`
	PricePercentChange float64 `json:"price_percent_change"`
	Timestamp          int64   `json:"timestamp"`
}

// MMarketData is one market snapshot. IndexValue is the reference used for gating.
type MMarketData struct {
	IndexSymbol string            `json:"index_symbol"`
	IndexValue  float64           `json:"index_value"`
	Quotes      map[string]MQuote `json:"quotes"`
	MarketOpen  bool              `json:"market_open"`
	FetchedAt   int64             `json:"fetched_at"`
}

// MNewsItem is one headline from the news feed.
type MNewsItem struct {
	ID          string    `json:"id"`
	Headline    string    `json:"headline"`
	Summary     string    `json:"summary,omitempty"`
	Source      string    `json:"source,omitempty"`
	URL         string    `json:"url,omitempty"`
	Symbols     []string  `json:"symbols,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// MMarketPoint is one archived market sample.
type MMarketPoint struct {
	Symbol        string  `json:"symbol"`
	Value         float64 `json:"value"`
	ChangePercent float64 `json:"change_percent"`
	Timestamp     int64   `json:"timestamp"`
}
