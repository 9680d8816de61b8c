package api

import "context"

// StatusProvider reports the live relay state. Implemented by core.RelayClient.
type StatusProvider interface {
	Status(ctx context.Context) StatusResponse
}
