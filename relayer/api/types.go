package api

// StatusResponse is the /status payload.
type StatusResponse struct {
	ConnectionState string           `json:"connection_state"`
	Reconnects      int              `json:"reconnects"`
	Checkpoint      *uint64          `json:"checkpoint,omitempty"`
	PendingEvents   int              `json:"pending_events"`
	FundingAccount  string           `json:"funding_account"`
	FundingBalance  string           `json:"funding_balance,omitempty"`
	Payouts         map[string]int64 `json:"payouts"`
	InFlight        int              `json:"in_flight"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}
