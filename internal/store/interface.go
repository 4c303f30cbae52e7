// Package store defines the persistent ledger the replication engine runs
// against: exchange accounts, copy links between them, every observed or
// placed trade, and operator-facing system logs.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Trade lifecycle states as recorded in the ledger.
const (
	TradeStatusPending         = "PENDING"
	TradeStatusPartiallyFilled = "PARTIALLY_FILLED"
	TradeStatusFilled          = "FILLED"
	TradeStatusCancelled       = "CANCELLED"
	TradeStatusFailed          = "FAILED"
)

// Account is one set of exchange credentials, master or follower.
type Account struct {
	ID             int64
	Name           string
	APIKey         string
	SecretKey      string
	IsMaster       bool
	IsActive       bool
	Leverage       int
	RiskPercentage float64
	Balance        float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CopyLink routes one master's trades onto one follower.
type CopyLink struct {
	ID                int64
	MasterAccountID   int64
	FollowerAccountID int64
	IsActive          bool
	CopyPercentage    float64
	RiskMultiplier    float64
	MaxRiskPercentage float64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Trade is one order observed on a master or placed on a follower. Master
// rows are unique per (AccountID, ExchangeOrderID); follower rows carry the
// originating MasterTradeID.
type Trade struct {
	ID               int64
	AccountID        int64
	Symbol           string
	Side             string
	OrderType        string
	Quantity         float64
	Price            float64
	StopPrice        float64
	TakeProfitPrice  float64
	Status           string
	ExchangeOrderID  string
	ClientOrderID    string
	CopiedFromMaster bool
	MasterTradeID    *int64
	RawPayload       []byte
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SystemLog is one operator-visible event row.
type SystemLog struct {
	ID        int64
	Level     string
	Message   string
	AccountID *int64
	TradeID   *int64
	CreatedAt time.Time
}

// Ledger is the storage contract the engine, replicator and admin API share.
type Ledger interface {
	// UpsertAccount inserts or updates by Name and backfills the ID.
	UpsertAccount(ctx context.Context, account *Account) error
	GetAccount(ctx context.Context, id int64) (*Account, error)
	GetAccountByName(ctx context.Context, name string) (*Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	ListActiveMasters(ctx context.Context) ([]Account, error)
	UpdateAccountBalance(ctx context.Context, id int64, balance float64) error

	// UpsertLink inserts or updates by (master, follower) pair.
	UpsertLink(ctx context.Context, link *CopyLink) error
	ListLinks(ctx context.Context) ([]CopyLink, error)
	ListActiveLinksForMaster(ctx context.Context, masterAccountID int64) ([]CopyLink, error)

	// RecordMasterTrade inserts the trade unless a row with the same
	// (AccountID, ExchangeOrderID) already exists. It reports whether a new
	// row was created; the existing row's ID is backfilled either way.
	RecordMasterTrade(ctx context.Context, trade *Trade) (bool, error)

	CreateTrade(ctx context.Context, trade *Trade) error
	UpdateTradeStatus(ctx context.Context, id int64, status string) error
	UpdateTradeFill(ctx context.Context, id int64, status string, executedQty, avgPrice float64) error
	GetTrade(ctx context.Context, id int64) (*Trade, error)
	GetTradeByExchangeOrderID(ctx context.Context, accountID int64, exchangeOrderID string) (*Trade, error)

	// HasFollowerTrade reports whether the follower already holds a trade
	// copied from the given master trade.
	HasFollowerTrade(ctx context.Context, masterTradeID, followerAccountID int64) (bool, error)
	// ListOpenFollowerTrades returns the PENDING and PARTIALLY_FILLED trades
	// copied from the given master trade.
	ListOpenFollowerTrades(ctx context.Context, masterTradeID int64) ([]Trade, error)

	// ListRecentTrades returns the follower's ledger rows for (symbol, side)
	// created inside [from, to], newest first. Used for the cancel fallback
	// match when no direct master-trade link exists.
	ListRecentTrades(ctx context.Context, accountID int64, symbol, side string, from, to time.Time) ([]Trade, error)

	// ListTradeHistory returns the account's trades in symbol since the given
	// time, newest first, capped at limit. Used by the classifier's signed
	// history scan.
	ListTradeHistory(ctx context.Context, accountID int64, symbol string, since time.Time, limit int) ([]Trade, error)

	ListTrades(ctx context.Context, accountID int64, limit int) ([]Trade, error)

	AddSystemLog(ctx context.Context, level, message string, accountID, tradeID *int64) error
	ListSystemLogs(ctx context.Context, limit int) ([]SystemLog, error)
	// PruneSystemLogs deletes rows older than keep, returning the count removed.
	PruneSystemLogs(ctx context.Context, keep time.Duration) (int64, error)

	Close() error
}
