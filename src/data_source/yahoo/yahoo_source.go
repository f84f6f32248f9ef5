package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"trading-hub/src/analysis/core"
	"trading-hub/src/helpers"
	"trading-hub/src/interfaces"
	"trading-hub/src/logger"
	"trading-hub/src/models"
)

// YahooMarketSource builds market snapshots from the Yahoo chart endpoint:
// one request per symbol, the reference index included.
type YahooMarketSource struct {
	Config  *models.MConfig
	Network interfaces.INetworkManager
	Logger  *logger.Logger
	now     func() time.Time
}

// -----------------------------------------------------------------------------

func NewYahooMarketSource(cfg *models.MConfig, netMgr interfaces.INetworkManager, log *logger.Logger) *YahooMarketSource {
	return &YahooMarketSource{
		Config:  cfg,
		Network: netMgr,
		Logger:  log,
		now:     time.Now,
	}
}

// -----------------------------------------------------------------------------

// FetchMarketSnapshot fetches the reference index and every watched symbol.
// The reference index is mandatory; watched symbols that fail are left out.
func (s *YahooMarketSource) FetchMarketSnapshot(ctx context.Context) (*models.MMarketData, error) {
	ref := s.Config.Market.ReferenceSymbol
	symbols := append([]string{ref}, s.Config.Market.Symbols...)

	quotes, open, err := s.fetchBatch(ctx, symbols)
	if err != nil {
		return nil, err
	}

	index, ok := quotes[ref]
	if !ok {
		return nil, helpers.NewCollaboratorError("reference index "+ref+" unavailable", nil)
	}
	delete(quotes, ref)

	return &models.MMarketData{
		IndexSymbol: ref,
		IndexValue:  index.Price,
		Quotes:      quotes,
		MarketOpen:  open[ref],
		FetchedAt:   s.now().UnixMilli(),
	}, nil
}

// -----------------------------------------------------------------------------

// fetchBatch processes symbols concurrently
func (s *YahooMarketSource) fetchBatch(ctx context.Context, symbols []string) (map[string]models.MQuote, map[string]bool, error) {
	quotes := make(map[string]models.MQuote, len(symbols))
	open := make(map[string]bool, len(symbols))
	var mu sync.Mutex
	var wg sync.WaitGroup
	var firstErr error

	limit := s.Config.Market.MaxConcurrent
	if limit < 1 {
		limit = 1
	}
	sem := make(chan struct{}, limit)

	for _, symbol := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			q, isOpen, err := s.fetchQuote(ctx, sym)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.Logger.Debug("Error fetching symbol %s: %v", sym, err)
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			quotes[sym] = q
			open[sym] = isOpen
		}(symbol)
	}

	wg.Wait()

	s.Logger.Debug("Fetched %d/%d symbols", len(quotes), len(symbols))

	if len(quotes) == 0 && firstErr != nil {
		return nil, nil, helpers.NewCollaboratorError("all market fetches failed", firstErr)
	}
	return quotes, open, nil
}

// -----------------------------------------------------------------------------

func (s *YahooMarketSource) fetchQuote(ctx context.Context, symbol string) (models.MQuote, bool, error) {
	params := map[string]string{
		"interval":       "5m",
		"range":          "1d",
		"includePrePost": "false",
	}

	endpoint := fmt.Sprintf("%s/%s", s.Config.Market.ChartURL, url.PathEscape(symbol))
	respBytes, err := s.Network.Get(ctx, endpoint, params, nil)
	if err != nil {
		return models.MQuote{}, false, fmt.Errorf("network error for %s: %w", symbol, err)
	}

	return parseChartResponse(symbol, respBytes)
}

// -----------------------------------------------------------------------------

type tradingPeriod struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol               string  `json:"symbol"`
				RegularMarketTime    int64   `json:"regularMarketTime"`
				RegularMarketPrice   float64 `json:"regularMarketPrice"`
				ChartPreviousClose   float64 `json:"chartPreviousClose"`
				PreviousClose        float64 `json:"previousClose"`
				CurrentTradingPeriod struct {
					Regular tradingPeriod `json:"regular"`
				} `json:"currentTradingPeriod"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"` // null for empty bars
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// -----------------------------------------------------------------------------

// parseChartResponse extracts the latest price for symbol. The meta price wins;
// the last non-null close is the fallback.
func parseChartResponse(symbol string, data []byte) (models.MQuote, bool, error) {
	var resp chartResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return models.MQuote{}, false, fmt.Errorf("json unmarshal failed: %w", err)
	}

	if resp.Chart.Error != nil {
		return models.MQuote{}, false, fmt.Errorf("yahoo api error: %s - %s", resp.Chart.Error.Code, resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return models.MQuote{}, false, fmt.Errorf("no result in response for %s", symbol)
	}

	result := resp.Chart.Result[0]
	meta := result.Meta

	price := meta.RegularMarketPrice
	ts := meta.RegularMarketTime
	if price <= 0 && len(result.Indicators.Quote) > 0 {
		closes := result.Indicators.Quote[0].Close
		for i := len(closes) - 1; i >= 0; i-- {
			if closes[i] != nil && *closes[i] > 0 && i < len(result.Timestamp) {
				price = *closes[i]
				ts = result.Timestamp[i]
				break
			}
		}
	}
	if price <= 0 {
		return models.MQuote{}, false, fmt.Errorf("no valid price for %s", symbol)
	}

	prevClose := meta.ChartPreviousClose
	if prevClose <= 0 {
		prevClose = meta.PreviousClose
	}

	quote := models.MQuote{
		Symbol:             symbol,
		Price:              price,
		PreviousClose:      prevClose,
		PricePercentChange: core.RelativeChange(price, prevClose),
		Timestamp:          ts,
	}

	regular := meta.CurrentTradingPeriod.Regular
	isOpen := regular.Start > 0 && ts >= regular.Start && ts < regular.End

	return quote, isOpen, nil
}
