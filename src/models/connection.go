package models

import "time"

// MConnectionInfo is a read-only view of a live connection for status endpoints.
type MConnectionInfo struct {
	ID           string    `json:"id"`
	RemoteAddr   string    `json:"remote_addr,omitempty"`
	Alive        bool      `json:"alive"`
	Topics       []string  `json:"topics"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
}

// MHubStats summarizes the hub for health checks and the control service.
type MHubStats struct {
	Connections int            `json:"connections"`
	Topics      map[string]int `json:"topics"`
	StartedAt   time.Time      `json:"started_at"`
}
