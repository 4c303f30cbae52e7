package replicate

import (
	"context"
	"fmt"
	"math"

	"copytrade/internal/engine/sizing"
	"copytrade/internal/gateway/exchange"
	"copytrade/internal/logger"
	"copytrade/internal/store"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// copyEntry fans an entry out to every active link. Followers are
// independent, so they run concurrently; a failed follower never blocks the
// others, and every failure path ends in a skip with a logged reason.
func (r *Replicator) copyEntry(ctx context.Context, masterTrade *store.Trade, links []store.CopyLink) error {
	masterAccount, err := r.ledger.GetAccount(ctx, masterTrade.AccountID)
	if err != nil {
		return fmt.Errorf("load master account: %w", err)
	}
	masterEquity := r.refreshEquity(ctx, masterAccount)

	markPrice, err := r.getMarkPrice(ctx, masterTrade.Symbol)
	if err != nil {
		logger.Warnf("[replicate] mark price fetch failed for %s: %v", masterTrade.Symbol, err)
		if masterTrade.Price > 0 {
			markPrice = masterTrade.Price
		}
	}
	filters, err := r.symbolFilters(ctx, masterTrade.Symbol)
	if err != nil {
		logger.Warnf("[replicate] symbol filters unavailable for %s: %v", masterTrade.Symbol, err)
	}

	var g errgroup.Group
	for _, link := range links {
		link := link
		g.Go(func() error {
			r.copyToFollower(ctx, masterTrade, link, masterEquity, markPrice, filters)
			return nil
		})
	}
	return g.Wait()
}

func (r *Replicator) copyToFollower(ctx context.Context, masterTrade *store.Trade, link store.CopyLink, masterEquity, markPrice float64, filters exchange.SymbolFilters) {
	followerID := link.FollowerAccountID

	already, err := r.ledger.HasFollowerTrade(ctx, masterTrade.ID, followerID)
	if err != nil {
		logger.Errorf("[replicate] follower %d idempotency check failed: %v", followerID, err)
		return
	}
	if already {
		logger.Warnf("[replicate] follower %d already copied master trade %d, skipping", followerID, masterTrade.ID)
		return
	}

	follower, err := r.ledger.GetAccount(ctx, followerID)
	if err != nil {
		logger.Errorf("[replicate] follower %d account load failed: %v", followerID, err)
		return
	}
	if !follower.IsActive {
		logger.Infof("[replicate] follower %d inactive, skipping", followerID)
		return
	}

	followerEquity := r.refreshEquity(ctx, follower)

	result := sizing.Compute(sizing.Input{
		MasterQuantity:    masterTrade.Quantity,
		MasterPrice:       masterTrade.Price,
		MarkPrice:         markPrice,
		MasterEquity:      masterEquity,
		FollowerEquity:    followerEquity,
		FollowerLeverage:  follower.Leverage,
		FollowerRiskPct:   follower.RiskPercentage,
		CopyPercentage:    link.CopyPercentage,
		RiskMultiplier:    link.RiskMultiplier,
		MaxRiskPercentage: link.MaxRiskPercentage,
		TargetMarginRatio: r.opts.TargetMarginRatio,
		Filters:           filters,
	})
	if result.Skipped {
		logger.Warnf("[replicate] follower %d sizing skipped for %s: %s", followerID, masterTrade.Symbol, result.Reason)
		r.systemLog(ctx, "WARNING",
			fmt.Sprintf("Copy skipped for %s: %s", masterTrade.Symbol, result.Reason),
			&followerID, &masterTrade.ID)
		return
	}

	// Best effort: subaccounts often lack permission to change leverage.
	if err := r.setLeverage(ctx, followerID, masterTrade.Symbol, follower.Leverage); err != nil {
		logger.Warnf("[replicate] follower %d leverage setup failed (continuing): %v", followerID, err)
	}

	r.dispatch(ctx, masterTrade, link, follower, result.Quantity, markPrice, filters)
}

// dispatch places the follower order with bounded adaptation: insufficient
// margin first walks the leverage ladder (untried values above the current
// setting, one retry each), then halves the quantity while it stays above
// the exchange minimum. Any other rejection aborts this follower.
func (r *Replicator) dispatch(ctx context.Context, masterTrade *store.Trade, link store.CopyLink, follower *store.Account, quantity, markPrice float64, filters exchange.SymbolFilters) {
	price := masterTrade.Price
	if price <= 0 {
		price = markPrice
	}
	ladder := untriedLeverage(r.opts.LeverageLadder, follower.Leverage)

	for attempt := 1; attempt <= r.opts.DispatchBudget; attempt++ {
		spec := followerOrderSpec(masterTrade, quantity)
		result, err := r.placeOrder(ctx, follower.ID, spec)
		if err == nil {
			r.recordFollowerTrade(ctx, masterTrade, link, spec, result)
			return
		}

		switch {
		case exchange.IsInsufficientMargin(err):
			if len(ladder) > 0 {
				next := ladder[0]
				ladder = ladder[1:]
				logger.Warnf("[replicate] follower %d margin insufficient, raising leverage to %dx and retrying",
					follower.ID, next)
				if levErr := r.setLeverage(ctx, follower.ID, masterTrade.Symbol, next); levErr != nil {
					logger.Warnf("[replicate] follower %d leverage escalation to %dx failed: %v", follower.ID, next, levErr)
				}
				continue
			}
			halved := quantity / 2
			if filters.MinNotional > 0 && halved*price < filters.MinNotional {
				logger.Warnf("[replicate] follower %d cannot halve below minimum notional, aborting copy", follower.ID)
				r.systemLog(ctx, "ERROR",
					fmt.Sprintf("Copy aborted for %s: margin insufficient at minimum size", masterTrade.Symbol),
					&follower.ID, &masterTrade.ID)
				return
			}
			quantity = halved
			logger.Warnf("[replicate] follower %d margin insufficient, halving quantity to %g and retrying",
				follower.ID, quantity)
			continue

		case exchange.IsPermissionDenied(err):
			logger.Errorf("[replicate] follower %d lacks permission, skipping: %v", follower.ID, err)
			r.systemLog(ctx, "ERROR",
				fmt.Sprintf("Copy aborted for %s: permission denied", masterTrade.Symbol),
				&follower.ID, &masterTrade.ID)
			return

		default:
			logger.Errorf("[replicate] follower %d order rejected, skipping: %v", follower.ID, err)
			r.systemLog(ctx, "ERROR",
				fmt.Sprintf("Copy aborted for %s: %v", masterTrade.Symbol, err),
				&follower.ID, &masterTrade.ID)
			return
		}
	}
	logger.Errorf("[replicate] follower %d dispatch budget exhausted for master trade %d", follower.ID, masterTrade.ID)
	r.systemLog(ctx, "ERROR",
		fmt.Sprintf("Copy aborted for %s: retry budget exhausted", masterTrade.Symbol),
		&follower.ID, &masterTrade.ID)
}

func (r *Replicator) recordFollowerTrade(ctx context.Context, masterTrade *store.Trade, link store.CopyLink, spec exchange.OrderSpec, result *exchange.OrderResult) {
	masterTradeID := masterTrade.ID
	trade := &store.Trade{
		AccountID:        link.FollowerAccountID,
		Symbol:           masterTrade.Symbol,
		Side:             masterTrade.Side,
		OrderType:        masterTrade.OrderType,
		Quantity:         spec.Quantity,
		Price:            masterTrade.Price,
		StopPrice:        masterTrade.StopPrice,
		TakeProfitPrice:  masterTrade.TakeProfitPrice,
		Status:           store.TradeStatusPending,
		ExchangeOrderID:  result.ExchangeOrderID,
		ClientOrderID:    spec.ClientOrderID,
		CopiedFromMaster: true,
		MasterTradeID:    &masterTradeID,
	}
	if err := r.ledger.CreateTrade(ctx, trade); err != nil {
		logger.Errorf("[replicate] follower %d trade persist failed for order %s: %v",
			link.FollowerAccountID, result.ExchangeOrderID, err)
		return
	}
	logger.Infof("[replicate] copied master trade %d to follower %d: %s %s %g",
		masterTrade.ID, link.FollowerAccountID, trade.Symbol, trade.Side, trade.Quantity)
	r.systemLog(ctx, "INFO",
		fmt.Sprintf("Trade copied: %s %s master=%g follower=%g (copy%%=%g)",
			trade.Symbol, trade.Side, masterTrade.Quantity, trade.Quantity, link.CopyPercentage),
		&trade.AccountID, &trade.ID)
}

// refreshEquity returns the live equity when reachable, falling back to the
// cached balance, and writes the live value back when it drifts enough.
func (r *Replicator) refreshEquity(ctx context.Context, account *store.Account) float64 {
	callCtx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
	defer cancel()
	live, err := r.gateway.GetEquity(callCtx, account.ID)
	if err != nil || live <= 0 {
		if err != nil {
			logger.Warnf("[replicate] account %d equity fetch failed, using cached %.2f: %v",
				account.ID, account.Balance, err)
		}
		return account.Balance
	}
	if account.Balance > 0 {
		drift := math.Abs(live-account.Balance) / account.Balance
		if drift > r.opts.EquityDriftThreshold {
			if err := r.ledger.UpdateAccountBalance(ctx, account.ID, live); err != nil {
				logger.Warnf("[replicate] account %d balance writeback failed: %v", account.ID, err)
			} else {
				logger.Infof("[replicate] account %d balance updated %.2f -> %.2f", account.ID, account.Balance, live)
			}
		}
	} else if err := r.ledger.UpdateAccountBalance(ctx, account.ID, live); err != nil {
		logger.Warnf("[replicate] account %d balance writeback failed: %v", account.ID, err)
	}
	return live
}

func (r *Replicator) placeOrder(ctx context.Context, accountID int64, spec exchange.OrderSpec) (*exchange.OrderResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
	defer cancel()
	return r.gateway.PlaceOrder(callCtx, accountID, spec)
}

func (r *Replicator) setLeverage(ctx context.Context, accountID int64, symbol string, leverage int) error {
	callCtx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
	defer cancel()
	return r.gateway.SetLeverage(callCtx, accountID, symbol, leverage)
}

func (r *Replicator) getMarkPrice(ctx context.Context, symbol string) (float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
	defer cancel()
	return r.gateway.GetMarkPrice(callCtx, symbol)
}

func (r *Replicator) symbolFilters(ctx context.Context, symbol string) (exchange.SymbolFilters, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
	defer cancel()
	return r.gateway.SymbolFilters(callCtx, symbol)
}

func followerOrderSpec(masterTrade *store.Trade, quantity float64) exchange.OrderSpec {
	return exchange.OrderSpec{
		Symbol:        masterTrade.Symbol,
		Side:          masterTrade.Side,
		Type:          masterTrade.OrderType,
		Quantity:      quantity,
		Price:         masterTrade.Price,
		StopPrice:     stopPriceFor(masterTrade),
		ClientOrderID: uuid.NewString(),
	}
}

// stopPriceFor picks the trigger price for stop and take-profit orders.
func stopPriceFor(masterTrade *store.Trade) float64 {
	switch masterTrade.OrderType {
	case exchange.OrderTypeStopMarket:
		return masterTrade.StopPrice
	case exchange.OrderTypeTakeProfitMarket:
		if masterTrade.TakeProfitPrice > 0 {
			return masterTrade.TakeProfitPrice
		}
		return masterTrade.StopPrice
	default:
		return 0
	}
}

// untriedLeverage keeps only ladder values strictly above the follower's
// current setting.
func untriedLeverage(ladder []int, current int) []int {
	out := make([]int, 0, len(ladder))
	for _, lev := range ladder {
		if lev > current {
			out = append(out, lev)
		}
	}
	return out
}
