package replicate

import (
	"context"
	"errors"
	"fmt"

	"copytrade/internal/gateway/exchange"
	"copytrade/internal/logger"
	"copytrade/internal/store"

	"golang.org/x/sync/errgroup"
)

// closeFollowers fully closes every follower position opposite the master's
// order side. The close is never scaled by the link's copy percentage:
// partial closes drift from the master's true state over repeated cycles.
func (r *Replicator) closeFollowers(ctx context.Context, masterTrade *store.Trade, links []store.CopyLink) error {
	var g errgroup.Group
	for _, link := range links {
		link := link
		g.Go(func() error {
			r.closeFollowerPosition(ctx, masterTrade, link)
			return nil
		})
	}
	return g.Wait()
}

func (r *Replicator) closeFollowerPosition(ctx context.Context, masterTrade *store.Trade, link store.CopyLink) {
	followerID := link.FollowerAccountID
	pos, err := r.getPosition(ctx, followerID, masterTrade.Symbol)
	if err != nil {
		logger.Errorf("[replicate] follower %d position fetch failed for close: %v", followerID, err)
		r.systemLog(ctx, "ERROR",
			fmt.Sprintf("Position close failed for %s: %v", masterTrade.Symbol, err),
			&followerID, &masterTrade.ID)
		return
	}
	if !pos.Closes(masterTrade.Side) {
		logger.Infof("[replicate] follower %d has no opposite %s position to close", followerID, masterTrade.Symbol)
		r.systemLog(ctx, "INFO",
			fmt.Sprintf("No %s position to close (master closed %s)", masterTrade.Symbol, masterTrade.Side),
			&followerID, nil)
		return
	}
	r.closePosition(ctx, followerID, pos, &masterTrade.ID)
}

// closePosition issues a reduce-only market order for the whole position.
func (r *Replicator) closePosition(ctx context.Context, followerID int64, pos *exchange.PositionSummary, masterTradeID *int64) {
	closeSide := exchange.SideSell
	if pos.Side == exchange.PositionShort {
		closeSide = exchange.SideBuy
	}
	spec := exchange.OrderSpec{
		Symbol:     pos.Symbol,
		Side:       closeSide,
		Type:       exchange.OrderTypeMarket,
		Quantity:   pos.Size,
		ReduceOnly: true,
	}
	result, err := r.placeOrder(ctx, followerID, spec)
	if err != nil {
		logger.Errorf("[replicate] follower %d close order failed for %s: %v", followerID, pos.Symbol, err)
		r.systemLog(ctx, "ERROR",
			fmt.Sprintf("Position close failed: %s %s %g: %v", pos.Symbol, pos.Side, pos.Size, err),
			&followerID, masterTradeID)
		return
	}
	trade := &store.Trade{
		AccountID:        followerID,
		Symbol:           pos.Symbol,
		Side:             closeSide,
		OrderType:        exchange.OrderTypeMarket,
		Quantity:         pos.Size,
		Status:           store.TradeStatusFilled,
		ExchangeOrderID:  result.ExchangeOrderID,
		CopiedFromMaster: true,
		MasterTradeID:    masterTradeID,
	}
	if err := r.ledger.CreateTrade(ctx, trade); err != nil {
		logger.Errorf("[replicate] follower %d close trade persist failed: %v", followerID, err)
		return
	}
	logger.Infof("[replicate] closed follower %d position: %s %s %g", followerID, pos.Symbol, pos.Side, pos.Size)
	r.systemLog(ctx, "INFO",
		fmt.Sprintf("Position closed: %s %s %g (master position closing)", pos.Symbol, pos.Side, pos.Size),
		&followerID, &trade.ID)
}

// cancelFollowers handles a master order leaving the open book: cancel the
// linked follower orders still open, fall back to a time-window match when
// no link was recorded, then clean up residual positions if the master is
// flat in the symbol.
func (r *Replicator) cancelFollowers(ctx context.Context, masterID int64, order exchange.OrderSummary) error {
	masterTrade, err := r.ledger.GetTradeByExchangeOrderID(ctx, masterID, order.ExchangeOrderID)
	switch {
	case err == nil:
		if masterTrade.Status != store.TradeStatusFilled && masterTrade.Status != store.TradeStatusCancelled {
			if err := r.ledger.UpdateTradeStatus(ctx, masterTrade.ID, store.TradeStatusCancelled); err != nil {
				logger.Warnf("[replicate] master trade %d status update failed: %v", masterTrade.ID, err)
			}
		}
		r.cancelLinkedTrades(ctx, masterTrade)
	case errors.Is(err, store.ErrNotFound):
		// Cancelled before any link could be recorded; match recent
		// follower trades by symbol, side and time proximity instead.
		logger.Infof("[replicate] master %d order %s never recorded, using fallback cancel match",
			masterID, order.ExchangeOrderID)
		r.cancelByPattern(ctx, masterID, order)
	default:
		return err
	}

	return r.cleanupAfterCancel(ctx, masterID, order.Symbol)
}

func (r *Replicator) cancelLinkedTrades(ctx context.Context, masterTrade *store.Trade) {
	trades, err := r.ledger.ListOpenFollowerTrades(ctx, masterTrade.ID)
	if err != nil {
		logger.Errorf("[replicate] follower trade lookup failed for master trade %d: %v", masterTrade.ID, err)
		return
	}
	cancelled := 0
	for i := range trades {
		if r.cancelFollowerTrade(ctx, &trades[i]) {
			cancelled++
		}
	}
	if cancelled > 0 {
		r.systemLog(ctx, "INFO",
			fmt.Sprintf("Master order cancelled: %d follower orders cancelled", cancelled),
			&masterTrade.AccountID, &masterTrade.ID)
	} else {
		logger.Infof("[replicate] no open follower orders for cancelled master trade %d", masterTrade.ID)
	}
}

func (r *Replicator) cancelByPattern(ctx context.Context, masterID int64, order exchange.OrderSummary) {
	links, err := r.ledger.ListActiveLinksForMaster(ctx, masterID)
	if err != nil {
		logger.Errorf("[replicate] link lookup failed for fallback cancel: %v", err)
		return
	}
	anchor := order.OpenedAt
	if anchor.IsZero() {
		anchor = r.opts.Clock()
	}
	from := anchor.Add(-r.opts.FallbackWindow)
	to := anchor.Add(r.opts.FallbackWindow)

	cancelled := 0
	for _, link := range links {
		trades, err := r.ledger.ListRecentTrades(ctx, link.FollowerAccountID, order.Symbol, order.Side, from, to)
		if err != nil {
			logger.Errorf("[replicate] follower %d recent trade lookup failed: %v", link.FollowerAccountID, err)
			continue
		}
		for i := range trades {
			trade := &trades[i]
			if !trade.CopiedFromMaster {
				continue
			}
			if trade.Status != store.TradeStatusPending && trade.Status != store.TradeStatusPartiallyFilled {
				continue
			}
			if r.cancelFollowerTrade(ctx, trade) {
				cancelled++
			}
		}
	}
	if cancelled > 0 {
		r.systemLog(ctx, "INFO",
			fmt.Sprintf("Master order cancelled: %d follower orders cancelled by pattern match", cancelled),
			&masterID, nil)
	}
}

func (r *Replicator) cancelFollowerTrade(ctx context.Context, trade *store.Trade) bool {
	if trade.ExchangeOrderID == "" {
		logger.Warnf("[replicate] follower trade %d has no exchange order id, cannot cancel", trade.ID)
		return false
	}
	callCtx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
	defer cancel()
	done, err := r.gateway.CancelOrder(callCtx, trade.AccountID, trade.Symbol, trade.ExchangeOrderID)
	if err != nil {
		logger.Errorf("[replicate] follower %d cancel of order %s failed: %v", trade.AccountID, trade.ExchangeOrderID, err)
		r.systemLog(ctx, "ERROR",
			fmt.Sprintf("Failed to cancel follower order: %s", trade.Symbol),
			&trade.AccountID, &trade.ID)
		return false
	}
	if !done {
		return false
	}
	if err := r.ledger.UpdateTradeStatus(ctx, trade.ID, store.TradeStatusCancelled); err != nil {
		logger.Warnf("[replicate] follower trade %d status update failed: %v", trade.ID, err)
	}
	logger.Infof("[replicate] cancelled follower %d order %s (%s)", trade.AccountID, trade.ExchangeOrderID, trade.Symbol)
	r.systemLog(ctx, "INFO",
		fmt.Sprintf("Cancelled follower order: %s %s (master order cancelled)", trade.Symbol, trade.Side),
		&trade.AccountID, &trade.ID)
	return true
}

// cleanupAfterCancel closes residual follower positions in the symbol when
// the master holds none, so followers never stay exposed after the master
// has exited.
func (r *Replicator) cleanupAfterCancel(ctx context.Context, masterID int64, symbol string) error {
	masterPos, err := r.getPosition(ctx, masterID, symbol)
	if err != nil {
		logger.Warnf("[replicate] master %d position check failed during cleanup: %v", masterID, err)
		return nil
	}
	if masterPos != nil && masterPos.Size > 0 {
		logger.Debugf("[replicate] master %d still holds %s, no cleanup needed", masterID, symbol)
		return nil
	}

	links, err := r.ledger.ListActiveLinksForMaster(ctx, masterID)
	if err != nil {
		return err
	}
	for _, link := range links {
		pos, err := r.getPosition(ctx, link.FollowerAccountID, symbol)
		if err != nil {
			logger.Warnf("[replicate] follower %d position check failed during cleanup: %v", link.FollowerAccountID, err)
			continue
		}
		if pos == nil || pos.Size <= 0 {
			continue
		}
		logger.Infof("[replicate] cleanup: closing follower %d residual %s position (master flat)",
			link.FollowerAccountID, symbol)
		r.closePosition(ctx, link.FollowerAccountID, pos, nil)
	}
	return nil
}
