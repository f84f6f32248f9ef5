package server

import (
	"encoding/json"
	"sort"
	"strings"

	"trading-hub/src/helpers"
	"trading-hub/src/models"
)

// -----------------------------------------------------------------------------

// normalizeTopics trims, drops empties and deduplicates, keeping first-seen order.
func normalizeTopics(topics []string) []string {
	out := make([]string, 0, len(topics))
	seen := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// -----------------------------------------------------------------------------

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// -----------------------------------------------------------------------------

// parseChannels reads {"channels": [...]} from a subscribe/unsubscribe payload.
func parseChannels(data json.RawMessage) ([]string, error) {
	if len(data) == 0 {
		return nil, helpers.NewProtocolError("No channels specified", nil)
	}
	var payload models.MChannelsPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, helpers.NewProtocolError("Invalid channels payload", err)
	}
	channels := normalizeTopics(payload.Channels)
	if len(channels) == 0 {
		return nil, helpers.NewProtocolError("No channels specified", nil)
	}
	return channels, nil
}

// -----------------------------------------------------------------------------

var knownActionFields = map[string]struct{}{
	"actionId": {}, "action": {}, "symbol": {}, "quantity": {}, "params": {},
}

// parseActionRequest decodes a trading_action payload. Fields outside the
// known set are folded into Params.
func parseActionRequest(data json.RawMessage) (models.MActionRequest, error) {
	var req models.MActionRequest
	if len(data) == 0 {
		return req, helpers.NewProtocolError("Missing trading action payload", nil)
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, helpers.NewProtocolError("Invalid trading action payload", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return req, helpers.NewProtocolError("Invalid trading action payload", err)
	}
	for k, v := range raw {
		if _, known := knownActionFields[k]; known {
			continue
		}
		if req.Params == nil {
			req.Params = make(map[string]any)
		}
		if _, exists := req.Params[k]; !exists {
			req.Params[k] = v
		}
	}
	return req, nil
}
