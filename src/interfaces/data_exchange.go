package interfaces

import (
	"context"

	"trading-hub/src/models"
)

// -----------------------------------------------------------------------------
// IDispatcher delivers messages to live connections.
// -----------------------------------------------------------------------------

type IDispatcher interface {
	// SendTo reports whether the connection exists and accepted the write.
	SendTo(connID string, msg *models.MOutboundMessage) bool

	// BroadcastTopic returns the number of subscribers the message was queued to.
	BroadcastTopic(topic string, msg *models.MOutboundMessage) int

	// BroadcastTopics delivers once per connection subscribed to any of topics.
	BroadcastTopics(topics []string, msg *models.MOutboundMessage) int

	// BroadcastAll returns the number of connections the message was queued to.
	BroadcastAll(msg *models.MOutboundMessage) int
}

// -----------------------------------------------------------------------------
// IEventSink receives outbound events as explicit messages.
// -----------------------------------------------------------------------------

type IEventSink interface {
	// Publish enqueues an event; it never blocks and reports whether it was queued.
	Publish(evt models.MOutboundEvent) bool
}

// -----------------------------------------------------------------------------

type IPortfolioRefresher interface {
	// RefreshPortfolio fetches and publishes the portfolio, ignoring the change gate.
	RefreshPortfolio(ctx context.Context) error
}

// -----------------------------------------------------------------------------

type IActionSubmitter interface {
	// Submit acknowledges synchronously and executes asynchronously.
	Submit(ctx context.Context, connID string, req models.MActionRequest) string

	// Forget drops per-connection state once the connection is gone.
	Forget(connID string)
}

// -----------------------------------------------------------------------------

type IMarketHistory interface {
	// MarketHistory returns up to limit recent points for symbol, oldest first.
	MarketHistory(symbol string, limit int) []models.MMarketPoint
}
