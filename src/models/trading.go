package models

// Action statuses reported back to the originating connection.
const (
	ActionStatusReceived  = "received"
	ActionStatusCompleted = "completed"
	ActionStatusFailed    = "failed"
)

// MActionRequest is a client-submitted trading instruction.
// Unknown fields are kept in Params so they reach the executor untouched.
type MActionRequest struct {
	ActionID string         `json:"actionId,omitempty"`
	Action   string         `json:"action"` // "buy", "sell", "close", "cancel", ...
	Symbol   string         `json:"symbol,omitempty"`
	Quantity float64        `json:"quantity,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
}

// Target describes what the action operates on.
func (r MActionRequest) Target() string {
	if r.Symbol == "" {
		return r.Action
	}
	return r.Action + " " + r.Symbol
}

// MActionResult is what the execution collaborator returns.
type MActionResult struct {
	Executed bool           `json:"executed"`
	OrderID  string         `json:"orderId,omitempty"`
	Message  string         `json:"message,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

type MActionReceived struct {
	ActionID string `json:"actionId"`
	Status   string `json:"status"`
}

type MActionOutcome struct {
	ActionID string         `json:"actionId"`
	Status   string         `json:"status"`
	Result   *MActionResult `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// MTradingDecision is pushed to the trading topic when an action changed state,
// or when an operator/inference service publishes one.
type MTradingDecision struct {
	ActionID string         `json:"actionId,omitempty"`
	Action   string         `json:"action"`
	Symbol   string         `json:"symbol,omitempty"`
	Quantity float64        `json:"quantity,omitempty"`
	Source   string         `json:"source"`
	Details  map[string]any `json:"details,omitempty"`
}
