package models

import (
	"encoding/json"
	"time"
)

// -----------------------------------------------------------------------------
// Message types (wire contract)
// -----------------------------------------------------------------------------

const (
	// Inbound
	MsgSubscribe     = "subscribe"
	MsgUnsubscribe   = "unsubscribe"
	MsgPing          = "ping"
	MsgTradingAction = "trading_action"

	// Outbound
	MsgConnection              = "connection"
	MsgSubscriptionConfirmed   = "subscription_confirmed"
	MsgUnsubscriptionConfirmed = "unsubscription_confirmed"
	MsgPong                    = "pong"
	MsgError                   = "error"
	MsgTradingActionReceived   = "trading_action_received"
	MsgTradingActionResult     = "trading_action_result"
	MsgTradingActionError      = "trading_action_error"
	MsgPortfolioUpdate         = "portfolio_update"
	MsgTradingDecision         = "trading_decision"
	MsgMarketData              = "market_data"
	MsgNewsUpdate              = "news_update"
	MsgAlert                   = "alert"
	MsgServerShutdown          = "server_shutdown"
)

// Well-known topics
const (
	TopicPortfolio = "portfolio"
	TopicMarket    = "market"
	TopicNews      = "news"
	TopicAlerts    = "alerts"
	TopicTrading   = "trading"
)

// -----------------------------------------------------------------------------
// Envelopes
// -----------------------------------------------------------------------------

// MInboundMessage is what clients send: {type, data}.
type MInboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MOutboundMessage is an immutable tagged payload. Build it with NewMessage and
// never modify it afterwards; the same instance is fanned out to many connections.
type MOutboundMessage struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"` // unix millis
}

// NewMessage stamps a message with the current time.
func NewMessage(msgType string, data any) *MOutboundMessage {
	if data == nil {
		data = struct{}{}
	}
	return &MOutboundMessage{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Encode serializes the message into one self-contained frame.
func (m *MOutboundMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// MOutboundEvent is a message addressed to the union of subscribers of Topics.
// An empty Topics slice addresses every connection.
type MOutboundEvent struct {
	Topics  []string
	Message *MOutboundMessage
}

// -----------------------------------------------------------------------------
// Payloads
// -----------------------------------------------------------------------------

type MChannelsPayload struct {
	Channels []string `json:"channels"`
}

type MConnectionPayload struct {
	ClientID string `json:"clientId"`
	Message  string `json:"message"`
}

type MErrorPayload struct {
	Message string `json:"message"`
}

type MShutdownPayload struct {
	Message string `json:"message"`
}

// MAlertPayload is published on the alerts topic by operators and services.
type MAlertPayload struct {
	Level   string `json:"level"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message"`
	Symbol  string `json:"symbol,omitempty"`
	Source  string `json:"source,omitempty"`
}
