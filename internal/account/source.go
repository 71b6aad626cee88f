package account

import "context"

// DataSource is the upstream trading backend. Implementations bound their own
// request latency; errors from the Fetch methods are per account.
type DataSource interface {
	// Connect verifies the backend is reachable and accepts the configured
	// credentials. It returns a *ConnectionError otherwise.
	Connect(ctx context.Context) error
	FetchAccount(ctx context.Context, id ID) (Fields, error)
	// FetchPositions returns the complete open position list, ordered as the
	// backend reports it.
	FetchPositions(ctx context.Context, id ID) ([]Position, error)
	FetchTrades(ctx context.Context, id ID, sinceDays int) ([]Trade, error)
	Close() error
}
