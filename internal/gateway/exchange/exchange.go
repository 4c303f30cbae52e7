package exchange

import "context"

// Gateway is the authenticated multi-account exchange surface the engine
// consumes. Every call is keyed by the ledger account ID; the implementation
// owns the per-account credential/client mapping.
type Gateway interface {
	Name() string

	// RegisterAccount binds credentials to an account ID. Idempotent.
	RegisterAccount(accountID int64, apiKey, secretKey string) error

	// DeregisterAccount drops the client for the account, if any.
	DeregisterAccount(accountID int64)

	GetOpenOrders(ctx context.Context, accountID int64) ([]OrderSummary, error)

	// GetPosition returns nil when the account holds no position in symbol.
	GetPosition(ctx context.Context, accountID int64, symbol string) (*PositionSummary, error)

	GetEquity(ctx context.Context, accountID int64) (float64, error)

	GetMarkPrice(ctx context.Context, symbol string) (float64, error)

	SymbolFilters(ctx context.Context, symbol string) (SymbolFilters, error)

	PlaceOrder(ctx context.Context, accountID int64, spec OrderSpec) (*OrderResult, error)

	// CancelOrder reports true when the order is no longer open, including
	// the unknown-order case (already cancelled or filled).
	CancelOrder(ctx context.Context, accountID int64, symbol, exchangeOrderID string) (bool, error)

	// SetLeverage is best-effort; sub-accounts frequently lack permission.
	SetLeverage(ctx context.Context, accountID int64, symbol string, leverage int) error
}
