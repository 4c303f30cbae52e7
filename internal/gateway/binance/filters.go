package binance

import (
	"context"
	"fmt"
	"time"

	"copytrade/internal/gateway/exchange"
	symbolpkg "copytrade/internal/pkg/symbol"
)

// SymbolFilters serves the per-symbol lot and notional constraints from a
// cached exchange-info snapshot, refreshed when the TTL lapses.
func (g *Gateway) SymbolFilters(ctx context.Context, symbol string) (exchange.SymbolFilters, error) {
	clean := symbolpkg.ToExchange(symbol)

	g.filterMu.Lock()
	defer g.filterMu.Unlock()
	if time.Now().After(g.filtersExp) {
		if err := g.refreshFiltersLocked(ctx); err != nil {
			// Serve stale filters over failing the caller when we have any.
			if len(g.filters) == 0 {
				return exchange.SymbolFilters{}, err
			}
		} else {
			g.filtersExp = time.Now().Add(g.cfg.FilterTTL)
		}
	}
	filters, ok := g.filters[clean]
	if !ok {
		return exchange.SymbolFilters{}, fmt.Errorf("symbol %s not listed in exchange info", symbol)
	}
	return filters, nil
}

func (g *Gateway) refreshFiltersLocked(ctx context.Context) error {
	info, err := g.public.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return wrapError(err)
	}
	fresh := make(map[string]exchange.SymbolFilters, len(info.Symbols))
	for i := range info.Symbols {
		sym := &info.Symbols[i]
		filters := exchange.SymbolFilters{}
		if lot := sym.LotSizeFilter(); lot != nil {
			filters.StepSize = parseFloat(lot.StepSize)
			filters.MinQty = parseFloat(lot.MinQuantity)
			filters.MaxQty = parseFloat(lot.MaxQuantity)
		}
		if price := sym.PriceFilter(); price != nil {
			filters.TickSize = parseFloat(price.TickSize)
		}
		if notional := sym.MinNotionalFilter(); notional != nil {
			filters.MinNotional = parseFloat(notional.Notional)
		}
		if filters.MinNotional <= 0 {
			filters.MinNotional = 5 // Binance futures floor
		}
		fresh[sym.Symbol] = filters
	}
	g.filters = fresh
	return nil
}
