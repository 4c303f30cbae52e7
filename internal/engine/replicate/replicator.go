// Package replicate turns classified master order events into follower
// actions: proportional entry copies, full reduce-only closes, and linked
// order cancellations. It owns the ledger writes that make propagation
// at-most-once.
package replicate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"copytrade/internal/engine/classify"
	"copytrade/internal/gateway/exchange"
	"copytrade/internal/logger"
	"copytrade/internal/store"
)

// Options tunes one replicator. Zero values fall back to the defaults below.
type Options struct {
	HistoryLookback time.Duration // classifier history scan depth
	HistoryLimit    int           // classifier history row cap

	StaleCancelAge time.Duration // cancellations older than this are ignored
	FallbackWindow time.Duration // ± window for the unlinked-cancel match

	LeverageLadder []int // ascending escalation values on margin rejection
	DispatchBudget int   // total order attempts per follower

	EquityDriftThreshold float64 // writeback threshold for cached balances
	TargetMarginRatio    float64 // passed through to sizing

	CallTimeout time.Duration // bound on each exchange call

	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

func (o Options) withDefaults() Options {
	if o.HistoryLookback <= 0 {
		o.HistoryLookback = 6 * time.Hour
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 50
	}
	if o.StaleCancelAge <= 0 {
		o.StaleCancelAge = 2 * time.Minute
	}
	if o.FallbackWindow <= 0 {
		o.FallbackWindow = 30 * time.Minute
	}
	if len(o.LeverageLadder) == 0 {
		o.LeverageLadder = []int{20, 25, 50, 75, 100}
	}
	if o.DispatchBudget <= 0 {
		o.DispatchBudget = 4
	}
	if o.EquityDriftThreshold <= 0 {
		o.EquityDriftThreshold = 0.05
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 10 * time.Second
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// Replicator implements monitor.Handler.
type Replicator struct {
	gateway exchange.Gateway
	ledger  store.Ledger
	opts    Options
}

func New(gateway exchange.Gateway, ledger store.Ledger, opts Options) *Replicator {
	return &Replicator{
		gateway: gateway,
		ledger:  ledger,
		opts:    opts.withDefaults(),
	}
}

// HandleOpened records the master order, classifies it and fans out to the
// followers. Re-observation of an already-recorded order is a no-op.
func (r *Replicator) HandleOpened(ctx context.Context, masterID int64, order exchange.OrderSummary) error {
	masterTrade := masterTradeFromOrder(masterID, order)
	created, err := r.ledger.RecordMasterTrade(ctx, masterTrade)
	if err != nil {
		return fmt.Errorf("record master trade: %w", err)
	}
	if !created {
		logger.Warnf("[replicate] master %d order %s re-observed, already propagated", masterID, order.ExchangeOrderID)
		return nil
	}
	r.systemLog(ctx, "INFO",
		fmt.Sprintf("Master trade detected: %s %s %g (%s)", order.Symbol, order.Side, masterTrade.Quantity, order.Status),
		&masterID, &masterTrade.ID)

	links, err := r.ledger.ListActiveLinksForMaster(ctx, masterID)
	if err != nil {
		return fmt.Errorf("list links: %w", err)
	}
	if len(links) == 0 {
		logger.Infof("[replicate] master %d has no active links, order %s recorded only", masterID, order.ExchangeOrderID)
		return nil
	}

	decision := r.classifyOrder(ctx, masterTrade, order, links)
	logger.Infof("[replicate] master %d order %s classified as %s (%s)",
		masterID, order.ExchangeOrderID, decision.Kind, decision.Reason)

	if decision.Kind == classify.Close {
		return r.closeFollowers(ctx, masterTrade, links)
	}
	return r.copyEntry(ctx, masterTrade, links)
}

// HandleUpdated is status bookkeeping only; a copied order is never
// re-propagated on status change.
func (r *Replicator) HandleUpdated(ctx context.Context, masterID int64, order exchange.OrderSummary) error {
	trade, err := r.ledger.GetTradeByExchangeOrderID(ctx, masterID, order.ExchangeOrderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.Debugf("[replicate] master %d order %s updated but never recorded", masterID, order.ExchangeOrderID)
			return nil
		}
		return err
	}
	status := ledgerStatus(order.Status)
	if status == trade.Status {
		return nil
	}
	return r.ledger.UpdateTradeFill(ctx, trade.ID, status, order.ExecutedQty, order.AvgPrice)
}

// HandleClosed reconciles an order that left the open book. It is treated
// as a cancellation check: linked follower orders still open are cancelled,
// and if the master is flat in the symbol, residual follower positions are
// closed as well. Stale disappearances are ignored.
func (r *Replicator) HandleClosed(ctx context.Context, masterID int64, order exchange.OrderSummary) error {
	now := r.opts.Clock()
	seenAt := order.UpdatedAt
	if seenAt.IsZero() {
		seenAt = order.OpenedAt
	}
	if !seenAt.IsZero() && now.Sub(seenAt) > r.opts.StaleCancelAge {
		logger.Infof("[replicate] master %d order %s disappeared but is stale (%s old), ignored",
			masterID, order.ExchangeOrderID, now.Sub(seenAt).Round(time.Second))
		return nil
	}
	return r.cancelFollowers(ctx, masterID, order)
}

// classifyOrder gathers the snapshots and history the pure classifier needs.
// A failed snapshot fetch degrades to a nil position rather than failing the
// whole event.
func (r *Replicator) classifyOrder(ctx context.Context, masterTrade *store.Trade, order exchange.OrderSummary, links []store.CopyLink) classify.Result {
	now := r.opts.Clock()

	followerPositions := make([]*exchange.PositionSummary, 0, len(links))
	for _, link := range links {
		pos, err := r.getPosition(ctx, link.FollowerAccountID, order.Symbol)
		if err != nil {
			logger.Warnf("[replicate] follower %d position fetch failed for %s: %v",
				link.FollowerAccountID, order.Symbol, err)
			continue
		}
		if pos != nil {
			followerPositions = append(followerPositions, pos)
		}
	}

	masterPos, err := r.getPosition(ctx, masterTrade.AccountID, order.Symbol)
	if err != nil {
		logger.Warnf("[replicate] master %d position fetch failed for %s: %v",
			masterTrade.AccountID, order.Symbol, err)
	}

	history := r.masterHistory(ctx, masterTrade, now)

	return classify.Decide(classify.Input{
		Symbol:            order.Symbol,
		Side:              order.Side,
		Quantity:          masterTrade.Quantity,
		ReduceOnly:        order.ReduceOnly,
		FollowerPositions: followerPositions,
		MasterPosition:    masterPos,
		History:           history,
		Now:               now,
	})
}

func (r *Replicator) masterHistory(ctx context.Context, masterTrade *store.Trade, now time.Time) []classify.HistoryTrade {
	rows, err := r.ledger.ListTradeHistory(ctx, masterTrade.AccountID, masterTrade.Symbol,
		now.Add(-r.opts.HistoryLookback), r.opts.HistoryLimit)
	if err != nil {
		logger.Warnf("[replicate] master %d history fetch failed for %s: %v",
			masterTrade.AccountID, masterTrade.Symbol, err)
		return nil
	}
	history := make([]classify.HistoryTrade, 0, len(rows))
	for _, row := range rows {
		if row.ID == masterTrade.ID || row.CopiedFromMaster {
			continue
		}
		if row.Status == store.TradeStatusCancelled || row.Status == store.TradeStatusFailed {
			continue
		}
		history = append(history, classify.HistoryTrade{
			Side:      row.Side,
			Quantity:  row.Quantity,
			CreatedAt: row.CreatedAt,
		})
	}
	return history
}

func (r *Replicator) getPosition(ctx context.Context, accountID int64, symbol string) (*exchange.PositionSummary, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
	defer cancel()
	return r.gateway.GetPosition(callCtx, accountID, symbol)
}

func (r *Replicator) systemLog(ctx context.Context, level, message string, accountID, tradeID *int64) {
	if err := r.ledger.AddSystemLog(ctx, level, message, accountID, tradeID); err != nil {
		logger.Warnf("[replicate] system log write failed: %v", err)
	}
}

func masterTradeFromOrder(masterID int64, order exchange.OrderSummary) *store.Trade {
	quantity := order.Quantity
	price := order.Price
	if order.Status == exchange.StatusPartiallyFilled || order.Status == exchange.StatusFilled {
		if order.ExecutedQty > 0 {
			quantity = order.ExecutedQty
		}
		if order.AvgPrice > 0 {
			price = order.AvgPrice
		}
	}
	raw, _ := json.Marshal(order)
	return &store.Trade{
		AccountID:       masterID,
		Symbol:          order.Symbol,
		Side:            order.Side,
		OrderType:       order.Type,
		Quantity:        quantity,
		Price:           price,
		StopPrice:       order.StopPrice,
		Status:          ledgerStatus(order.Status),
		ExchangeOrderID: order.ExchangeOrderID,
		RawPayload:      raw,
	}
}

func ledgerStatus(exchangeStatus string) string {
	switch exchangeStatus {
	case exchange.StatusNew:
		return store.TradeStatusPending
	case exchange.StatusPartiallyFilled:
		return store.TradeStatusPartiallyFilled
	case exchange.StatusFilled:
		return store.TradeStatusFilled
	case exchange.StatusCanceled, exchange.StatusExpired, exchange.StatusRejected:
		return store.TradeStatusCancelled
	default:
		return store.TradeStatusPending
	}
}
