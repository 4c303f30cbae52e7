package model

import (
	"time"

	"gorm.io/datatypes"
)

type AccountModel struct {
	ID             int64   `gorm:"column:id;primaryKey"`
	Name           string  `gorm:"column:name;uniqueIndex"`
	APIKey         string  `gorm:"column:api_key"`
	SecretKey      string  `gorm:"column:secret_key"`
	IsMaster       bool    `gorm:"column:is_master"`
	IsActive       bool    `gorm:"column:is_active"`
	Leverage       int     `gorm:"column:leverage"`
	RiskPercentage float64 `gorm:"column:risk_percentage"`
	Balance        float64 `gorm:"column:balance"`
	CreatedAtUnix  int64   `gorm:"column:created_at"`
	UpdatedAtUnix  int64   `gorm:"column:updated_at"`

	CreatedAt time.Time `gorm:"-"`
	UpdatedAt time.Time `gorm:"-"`
}

func (AccountModel) TableName() string { return "accounts" }

type CopyLinkModel struct {
	ID                int64   `gorm:"column:id;primaryKey"`
	MasterAccountID   int64   `gorm:"column:master_account_id;uniqueIndex:idx_copy_link,priority:1"`
	FollowerAccountID int64   `gorm:"column:follower_account_id;uniqueIndex:idx_copy_link,priority:2"`
	IsActive          bool    `gorm:"column:is_active"`
	CopyPercentage    float64 `gorm:"column:copy_percentage"`
	RiskMultiplier    float64 `gorm:"column:risk_multiplier"`
	MaxRiskPercentage float64 `gorm:"column:max_risk_percentage"`
	CreatedAtUnix     int64   `gorm:"column:created_at"`
	UpdatedAtUnix     int64   `gorm:"column:updated_at"`

	CreatedAt time.Time `gorm:"-"`
	UpdatedAt time.Time `gorm:"-"`
}

func (CopyLinkModel) TableName() string { return "copy_links" }

type TradeModel struct {
	ID               int64          `gorm:"column:id;primaryKey"`
	AccountID        int64          `gorm:"column:account_id;uniqueIndex:idx_account_order,priority:1;index:idx_account_symbol,priority:1"`
	Symbol           string         `gorm:"column:symbol;index:idx_account_symbol,priority:2"`
	Side             string         `gorm:"column:side"`
	OrderType        string         `gorm:"column:order_type"`
	Quantity         float64        `gorm:"column:quantity"`
	Price            float64        `gorm:"column:price"`
	StopPrice        float64        `gorm:"column:stop_price"`
	TakeProfitPrice  float64        `gorm:"column:take_profit_price"`
	Status           string         `gorm:"column:status;index"`
	ExchangeOrderID  string         `gorm:"column:exchange_order_id;uniqueIndex:idx_account_order,priority:2"`
	ClientOrderID    string         `gorm:"column:client_order_id"`
	CopiedFromMaster bool           `gorm:"column:copied_from_master"`
	MasterTradeID    *int64         `gorm:"column:master_trade_id;index"`
	RawPayload       datatypes.JSON `gorm:"column:raw_payload;type:TEXT"`
	CreatedAtUnix    int64          `gorm:"column:created_at;index"`
	UpdatedAtUnix    int64          `gorm:"column:updated_at"`

	CreatedAt time.Time `gorm:"-"`
	UpdatedAt time.Time `gorm:"-"`
}

func (TradeModel) TableName() string { return "trades" }

type SystemLogModel struct {
	ID            int64  `gorm:"column:id;primaryKey"`
	Level         string `gorm:"column:level;index"`
	Message       string `gorm:"column:message"`
	AccountID     *int64 `gorm:"column:account_id"`
	TradeID       *int64 `gorm:"column:trade_id"`
	CreatedAtUnix int64  `gorm:"column:created_at;index"`

	CreatedAt time.Time `gorm:"-"`
}

func (SystemLogModel) TableName() string { return "system_logs" }
