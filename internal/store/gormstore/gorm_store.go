// Package gormstore implements store.Ledger on Gorm + SQLite.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"copytrade/internal/store"
	storemodel "copytrade/internal/store/model"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type accountModel = storemodel.AccountModel
type copyLinkModel = storemodel.CopyLinkModel
type tradeModel = storemodel.TradeModel
type systemLogModel = storemodel.SystemLogModel

// GormStore implements the ledger on a single SQLite file.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: database path is required")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	models := []interface{}{
		&accountModel{},
		&copyLinkModel{},
		&tradeModel{},
		&systemLogModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP
	// reads while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

var _ store.Ledger = (*GormStore)(nil)

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *GormStore) UpsertAccount(ctx context.Context, account *store.Account) error {
	if account == nil {
		return fmt.Errorf("account is nil")
	}
	now := time.Now()
	m := accountToModel(account)
	if m.CreatedAtUnix == 0 {
		m.CreatedAtUnix = now.Unix()
	}
	m.UpdatedAtUnix = now.Unix()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"api_key", "secret_key", "is_master", "is_active",
			"leverage", "risk_percentage", "updated_at",
		}),
	}).Create(m).Error
	if err != nil {
		return err
	}
	if m.ID == 0 {
		// Conflict path: the insert did not assign an ID, fetch it by name.
		var existing accountModel
		if err := s.db.WithContext(ctx).Where("name = ?", m.Name).First(&existing).Error; err != nil {
			return err
		}
		m.ID = existing.ID
	}
	account.ID = m.ID
	account.UpdatedAt = now
	return nil
}

func (s *GormStore) GetAccount(ctx context.Context, id int64) (*store.Account, error) {
	var m accountModel
	if err := s.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, translateErr(err)
	}
	return accountFromModel(&m), nil
}

func (s *GormStore) GetAccountByName(ctx context.Context, name string) (*store.Account, error) {
	var m accountModel
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&m).Error; err != nil {
		return nil, translateErr(err)
	}
	return accountFromModel(&m), nil
}

func (s *GormStore) ListAccounts(ctx context.Context) ([]store.Account, error) {
	var models []accountModel
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.Account, 0, len(models))
	for i := range models {
		out = append(out, *accountFromModel(&models[i]))
	}
	return out, nil
}

func (s *GormStore) ListActiveMasters(ctx context.Context) ([]store.Account, error) {
	var models []accountModel
	err := s.db.WithContext(ctx).
		Where("is_master = ? AND is_active = ?", true, true).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]store.Account, 0, len(models))
	for i := range models {
		out = append(out, *accountFromModel(&models[i]))
	}
	return out, nil
}

func (s *GormStore) UpdateAccountBalance(ctx context.Context, id int64, balance float64) error {
	return s.db.WithContext(ctx).Model(&accountModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"balance":    balance,
			"updated_at": time.Now().Unix(),
		}).Error
}

func (s *GormStore) UpsertLink(ctx context.Context, link *store.CopyLink) error {
	if link == nil {
		return fmt.Errorf("copy link is nil")
	}
	now := time.Now()
	m := linkToModel(link)
	if m.CreatedAtUnix == 0 {
		m.CreatedAtUnix = now.Unix()
	}
	m.UpdatedAtUnix = now.Unix()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "master_account_id"}, {Name: "follower_account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"is_active", "copy_percentage", "risk_multiplier",
			"max_risk_percentage", "updated_at",
		}),
	}).Create(m).Error
	if err != nil {
		return err
	}
	if m.ID == 0 {
		var existing copyLinkModel
		err := s.db.WithContext(ctx).
			Where("master_account_id = ? AND follower_account_id = ?", m.MasterAccountID, m.FollowerAccountID).
			First(&existing).Error
		if err != nil {
			return err
		}
		m.ID = existing.ID
	}
	link.ID = m.ID
	link.UpdatedAt = now
	return nil
}

func (s *GormStore) ListLinks(ctx context.Context) ([]store.CopyLink, error) {
	var models []copyLinkModel
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.CopyLink, 0, len(models))
	for i := range models {
		out = append(out, *linkFromModel(&models[i]))
	}
	return out, nil
}

func (s *GormStore) ListActiveLinksForMaster(ctx context.Context, masterAccountID int64) ([]store.CopyLink, error) {
	var models []copyLinkModel
	err := s.db.WithContext(ctx).
		Where("master_account_id = ? AND is_active = ?", masterAccountID, true).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]store.CopyLink, 0, len(models))
	for i := range models {
		out = append(out, *linkFromModel(&models[i]))
	}
	return out, nil
}

func (s *GormStore) RecordMasterTrade(ctx context.Context, trade *store.Trade) (bool, error) {
	if trade == nil {
		return false, fmt.Errorf("trade is nil")
	}
	now := time.Now()
	m := tradeToModel(trade)
	if m.CreatedAtUnix == 0 {
		m.CreatedAtUnix = now.Unix()
	}
	m.UpdatedAtUnix = now.Unix()
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "exchange_order_id"}},
		DoNothing: true,
	}).Create(m)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		trade.ID = m.ID
		return true, nil
	}
	var existing tradeModel
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND exchange_order_id = ?", m.AccountID, m.ExchangeOrderID).
		First(&existing).Error
	if err != nil {
		return false, err
	}
	trade.ID = existing.ID
	return false, nil
}

func (s *GormStore) CreateTrade(ctx context.Context, trade *store.Trade) error {
	if trade == nil {
		return fmt.Errorf("trade is nil")
	}
	now := time.Now()
	m := tradeToModel(trade)
	if m.CreatedAtUnix == 0 {
		m.CreatedAtUnix = now.Unix()
	}
	m.UpdatedAtUnix = now.Unix()
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	trade.ID = m.ID
	return nil
}

func (s *GormStore) UpdateTradeStatus(ctx context.Context, id int64, status string) error {
	return s.db.WithContext(ctx).Model(&tradeModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now().Unix(),
		}).Error
}

func (s *GormStore) UpdateTradeFill(ctx context.Context, id int64, status string, executedQty, avgPrice float64) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now().Unix(),
	}
	if executedQty > 0 {
		updates["quantity"] = executedQty
	}
	if avgPrice > 0 {
		updates["price"] = avgPrice
	}
	return s.db.WithContext(ctx).Model(&tradeModel{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (s *GormStore) GetTrade(ctx context.Context, id int64) (*store.Trade, error) {
	var m tradeModel
	if err := s.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, translateErr(err)
	}
	return tradeFromModel(&m), nil
}

func (s *GormStore) GetTradeByExchangeOrderID(ctx context.Context, accountID int64, exchangeOrderID string) (*store.Trade, error) {
	var m tradeModel
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND exchange_order_id = ?", accountID, exchangeOrderID).
		First(&m).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return tradeFromModel(&m), nil
}

func (s *GormStore) HasFollowerTrade(ctx context.Context, masterTradeID, followerAccountID int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&tradeModel{}).
		Where("master_trade_id = ? AND account_id = ?", masterTradeID, followerAccountID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *GormStore) ListOpenFollowerTrades(ctx context.Context, masterTradeID int64) ([]store.Trade, error) {
	var models []tradeModel
	err := s.db.WithContext(ctx).
		Where("master_trade_id = ? AND status IN ?",
			masterTradeID,
			[]string{store.TradeStatusPending, store.TradeStatusPartiallyFilled}).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return tradesFromModels(models), nil
}

func (s *GormStore) ListRecentTrades(ctx context.Context, accountID int64, symbol, side string, from, to time.Time) ([]store.Trade, error) {
	var models []tradeModel
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND symbol = ? AND side = ? AND created_at BETWEEN ? AND ?",
			accountID, symbol, side, from.Unix(), to.Unix()).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return tradesFromModels(models), nil
}

func (s *GormStore) ListTradeHistory(ctx context.Context, accountID int64, symbol string, since time.Time, limit int) ([]store.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []tradeModel
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND symbol = ? AND created_at >= ?", accountID, symbol, since.Unix()).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return tradesFromModels(models), nil
}

func (s *GormStore) ListTrades(ctx context.Context, accountID int64, limit int) ([]store.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Model(&tradeModel{})
	if accountID > 0 {
		q = q.Where("account_id = ?", accountID)
	}
	var models []tradeModel
	if err := q.Order("id DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	return tradesFromModels(models), nil
}

func (s *GormStore) AddSystemLog(ctx context.Context, level, message string, accountID, tradeID *int64) error {
	m := &systemLogModel{
		Level:         strings.ToUpper(strings.TrimSpace(level)),
		Message:       message,
		AccountID:     accountID,
		TradeID:       tradeID,
		CreatedAtUnix: time.Now().Unix(),
	}
	return s.db.WithContext(ctx).Create(m).Error
}

func (s *GormStore) ListSystemLogs(ctx context.Context, limit int) ([]store.SystemLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []systemLogModel
	err := s.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]store.SystemLog, 0, len(models))
	for i := range models {
		m := &models[i]
		out = append(out, store.SystemLog{
			ID:        m.ID,
			Level:     m.Level,
			Message:   m.Message,
			AccountID: m.AccountID,
			TradeID:   m.TradeID,
			CreatedAt: time.Unix(m.CreatedAtUnix, 0),
		})
	}
	return out, nil
}

func (s *GormStore) PruneSystemLogs(ctx context.Context, keep time.Duration) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-keep).Unix()
	res := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&systemLogModel{})
	return res.RowsAffected, res.Error
}

func translateErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}

func accountToModel(a *store.Account) *accountModel {
	m := &accountModel{
		ID:             a.ID,
		Name:           a.Name,
		APIKey:         a.APIKey,
		SecretKey:      a.SecretKey,
		IsMaster:       a.IsMaster,
		IsActive:       a.IsActive,
		Leverage:       a.Leverage,
		RiskPercentage: a.RiskPercentage,
		Balance:        a.Balance,
	}
	if !a.CreatedAt.IsZero() {
		m.CreatedAtUnix = a.CreatedAt.Unix()
	}
	return m
}

func accountFromModel(m *accountModel) *store.Account {
	return &store.Account{
		ID:             m.ID,
		Name:           m.Name,
		APIKey:         m.APIKey,
		SecretKey:      m.SecretKey,
		IsMaster:       m.IsMaster,
		IsActive:       m.IsActive,
		Leverage:       m.Leverage,
		RiskPercentage: m.RiskPercentage,
		Balance:        m.Balance,
		CreatedAt:      time.Unix(m.CreatedAtUnix, 0),
		UpdatedAt:      time.Unix(m.UpdatedAtUnix, 0),
	}
}

func linkToModel(l *store.CopyLink) *copyLinkModel {
	m := &copyLinkModel{
		ID:                l.ID,
		MasterAccountID:   l.MasterAccountID,
		FollowerAccountID: l.FollowerAccountID,
		IsActive:          l.IsActive,
		CopyPercentage:    l.CopyPercentage,
		RiskMultiplier:    l.RiskMultiplier,
		MaxRiskPercentage: l.MaxRiskPercentage,
	}
	if !l.CreatedAt.IsZero() {
		m.CreatedAtUnix = l.CreatedAt.Unix()
	}
	return m
}

func linkFromModel(m *copyLinkModel) *store.CopyLink {
	return &store.CopyLink{
		ID:                m.ID,
		MasterAccountID:   m.MasterAccountID,
		FollowerAccountID: m.FollowerAccountID,
		IsActive:          m.IsActive,
		CopyPercentage:    m.CopyPercentage,
		RiskMultiplier:    m.RiskMultiplier,
		MaxRiskPercentage: m.MaxRiskPercentage,
		CreatedAt:         time.Unix(m.CreatedAtUnix, 0),
		UpdatedAt:         time.Unix(m.UpdatedAtUnix, 0),
	}
}

func tradeToModel(t *store.Trade) *tradeModel {
	m := &tradeModel{
		ID:               t.ID,
		AccountID:        t.AccountID,
		Symbol:           t.Symbol,
		Side:             t.Side,
		OrderType:        t.OrderType,
		Quantity:         t.Quantity,
		Price:            t.Price,
		StopPrice:        t.StopPrice,
		TakeProfitPrice:  t.TakeProfitPrice,
		Status:           t.Status,
		ExchangeOrderID:  t.ExchangeOrderID,
		ClientOrderID:    t.ClientOrderID,
		CopiedFromMaster: t.CopiedFromMaster,
		MasterTradeID:    t.MasterTradeID,
	}
	if len(t.RawPayload) > 0 {
		m.RawPayload = datatypes.JSON(t.RawPayload)
	}
	if !t.CreatedAt.IsZero() {
		m.CreatedAtUnix = t.CreatedAt.Unix()
	}
	return m
}

func tradeFromModel(m *tradeModel) *store.Trade {
	return &store.Trade{
		ID:               m.ID,
		AccountID:        m.AccountID,
		Symbol:           m.Symbol,
		Side:             m.Side,
		OrderType:        m.OrderType,
		Quantity:         m.Quantity,
		Price:            m.Price,
		StopPrice:        m.StopPrice,
		TakeProfitPrice:  m.TakeProfitPrice,
		Status:           m.Status,
		ExchangeOrderID:  m.ExchangeOrderID,
		ClientOrderID:    m.ClientOrderID,
		CopiedFromMaster: m.CopiedFromMaster,
		MasterTradeID:    m.MasterTradeID,
		RawPayload:       []byte(m.RawPayload),
		CreatedAt:        time.Unix(m.CreatedAtUnix, 0),
		UpdatedAt:        time.Unix(m.UpdatedAtUnix, 0),
	}
}

func tradesFromModels(models []tradeModel) []store.Trade {
	out := make([]store.Trade, 0, len(models))
	for i := range models {
		out = append(out, *tradeFromModel(&models[i]))
	}
	return out
}
