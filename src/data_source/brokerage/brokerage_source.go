package brokerage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"trading-hub/src/helpers"
	"trading-hub/src/interfaces"
	"trading-hub/src/logger"
	"trading-hub/src/models"
)

// BrokerageSource talks to an Alpaca-compatible trading REST API. It serves
// portfolio snapshots to the publisher and executes actions for the relay.
type BrokerageSource struct {
	Config  *models.MConfig
	Network interfaces.INetworkManager
	Logger  *logger.Logger
	now     func() time.Time
}

// -----------------------------------------------------------------------------

func NewBrokerageSource(cfg *models.MConfig, netMgr interfaces.INetworkManager, log *logger.Logger) *BrokerageSource {
	return &BrokerageSource{
		Config:  cfg,
		Network: netMgr,
		Logger:  log,
		now:     time.Now,
	}
}

// -----------------------------------------------------------------------------
// Wire types. The API encodes numbers as strings.
// -----------------------------------------------------------------------------

type account struct {
	Equity      string `json:"equity"`
	LastEquity  string `json:"last_equity"`
	Cash        string `json:"cash"`
	BuyingPower string `json:"buying_power"`
}

type position struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	AvgEntryPrice string `json:"avg_entry_price"`
	CurrentPrice  string `json:"current_price"`
	MarketValue   string `json:"market_value"`
	UnrealizedPL  string `json:"unrealized_pl"`
}

type orderRequest struct {
	Symbol      string `json:"symbol"`
	Qty         string `json:"qty"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	TimeInForce string `json:"time_in_force"`
	LimitPrice  string `json:"limit_price,omitempty"`
	ClientID    string `json:"client_order_id,omitempty"`
}

type order struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Symbol string `json:"symbol"`
	Qty    string `json:"qty"`
	Side   string `json:"side"`
}

// -----------------------------------------------------------------------------

// FetchPortfolioSnapshot reads the account and its open positions.
func (b *BrokerageSource) FetchPortfolioSnapshot(ctx context.Context) (*models.MPortfolioData, error) {
	var acct account
	if err := b.getJSON(ctx, "/v2/account", &acct); err != nil {
		return nil, err
	}

	var positions []position
	if err := b.getJSON(ctx, "/v2/positions", &positions); err != nil {
		return nil, err
	}

	equity := parseNumber(acct.Equity)
	snapshot := &models.MPortfolioData{
		TotalValue:  equity,
		Cash:        parseNumber(acct.Cash),
		BuyingPower: parseNumber(acct.BuyingPower),
		DayChange:   equity - parseNumber(acct.LastEquity),
		Positions:   make([]models.MPosition, 0, len(positions)),
		FetchedAt:   b.now().UnixMilli(),
	}

	for _, p := range positions {
		snapshot.Positions = append(snapshot.Positions, models.MPosition{
			Symbol:        p.Symbol,
			Quantity:      parseNumber(p.Qty),
			AvgEntryPrice: parseNumber(p.AvgEntryPrice),
			CurrentPrice:  parseNumber(p.CurrentPrice),
			MarketValue:   parseNumber(p.MarketValue),
			UnrealizedPL:  parseNumber(p.UnrealizedPL),
		})
	}

	return snapshot, nil
}

// -----------------------------------------------------------------------------

// ExecuteAction maps an action onto the order API.
//
//	buy, sell   submit a market order (limit when params.limit_price is set)
//	close       liquidate the position in symbol
//	cancel      cancel params.order_id
//	hold        acknowledged without touching the account
func (b *BrokerageSource) ExecuteAction(ctx context.Context, req models.MActionRequest) (*models.MActionResult, error) {
	switch strings.ToLower(req.Action) {
	case "buy", "sell":
		return b.submitOrder(ctx, req)
	case "close":
		if req.Symbol == "" {
			return nil, helpers.NewActionError("close requires a symbol", nil)
		}
		var o order
		if err := b.sendJSON(ctx, http.MethodDelete, "/v2/positions/"+url.PathEscape(req.Symbol), nil, &o); err != nil {
			return nil, err
		}
		return &models.MActionResult{
			Executed: true,
			OrderID:  o.ID,
			Message:  fmt.Sprintf("closing position in %s", req.Symbol),
		}, nil
	case "cancel":
		orderID, _ := req.Params["order_id"].(string)
		if orderID == "" {
			return nil, helpers.NewActionError("cancel requires params.order_id", nil)
		}
		if err := b.sendJSON(ctx, http.MethodDelete, "/v2/orders/"+url.PathEscape(orderID), nil, nil); err != nil {
			return nil, err
		}
		return &models.MActionResult{Executed: true, OrderID: orderID, Message: "order cancelled"}, nil
	case "hold":
		return &models.MActionResult{Executed: false, Message: "no action taken"}, nil
	default:
		return nil, helpers.NewActionError(fmt.Sprintf("unsupported action %q", req.Action), nil)
	}
}

// -----------------------------------------------------------------------------

func (b *BrokerageSource) submitOrder(ctx context.Context, req models.MActionRequest) (*models.MActionResult, error) {
	if req.Symbol == "" {
		return nil, helpers.NewActionError(req.Action+" requires a symbol", nil)
	}
	if req.Quantity <= 0 {
		return nil, helpers.NewActionError(req.Action+" requires a positive quantity", nil)
	}

	body := orderRequest{
		Symbol:      strings.ToUpper(req.Symbol),
		Qty:         strconv.FormatFloat(req.Quantity, 'f', -1, 64),
		Side:        strings.ToLower(req.Action),
		Type:        "market",
		TimeInForce: "day",
		ClientID:    req.ActionID,
	}
	if limit, ok := req.Params["limit_price"].(float64); ok && limit > 0 {
		body.Type = "limit"
		body.LimitPrice = strconv.FormatFloat(limit, 'f', -1, 64)
	}

	var o order
	if err := b.sendJSON(ctx, http.MethodPost, "/v2/orders", body, &o); err != nil {
		return nil, err
	}

	b.Logger.Info("Submitted %s order for %s %s: %s (%s)", body.Type, body.Qty, body.Symbol, o.ID, o.Status)
	return &models.MActionResult{
		Executed: true,
		OrderID:  o.ID,
		Message:  fmt.Sprintf("%s %s %s accepted", body.Side, body.Qty, body.Symbol),
		Details:  map[string]any{"status": o.Status, "type": body.Type},
	}, nil
}

// -----------------------------------------------------------------------------

func (b *BrokerageSource) headers() map[string]string {
	return map[string]string{
		"APCA-API-KEY-ID":     b.Config.Brokerage.APIKey,
		"APCA-API-SECRET-KEY": b.Config.Brokerage.APISecret,
	}
}

func (b *BrokerageSource) getJSON(ctx context.Context, path string, out any) error {
	body, err := b.Network.Get(ctx, b.Config.Brokerage.BaseURL+path, nil, b.headers())
	if err != nil {
		return helpers.NewCollaboratorError("brokerage request "+path+" failed", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return helpers.NewCollaboratorError("invalid brokerage response for "+path, err)
	}
	return nil
}

func (b *BrokerageSource) sendJSON(ctx context.Context, method, path string, in any, out any) error {
	body, err := b.Network.SendJSON(ctx, method, b.Config.Brokerage.BaseURL+path, in, b.headers())
	if err != nil {
		return helpers.NewActionError("brokerage rejected "+method+" "+path, err)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return helpers.NewActionError("invalid brokerage response for "+path, err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func parseNumber(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
