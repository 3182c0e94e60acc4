package domain

// RelayStats provides statistics about the relay
type RelayStats struct {
	ConnectedClients int     `json:"connected_clients"`
	FramesReceived   int64   `json:"frames_received"`
	Deliveries       int64   `json:"deliveries"`
	Failures         int64   `json:"failures"`
	Skipped          int64   `json:"skipped"`
	Uptime           float64 `json:"uptime_seconds"`
}
