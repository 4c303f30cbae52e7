// Package binance implements the exchange.Gateway contract on Binance USD-M
// futures via the go-binance SDK. One REST client is held per registered
// account; market data calls ride an unauthenticated shared client.
package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"copytrade/internal/gateway/exchange"
	symbolpkg "copytrade/internal/pkg/symbol"

	"github.com/adshao/go-binance/v2/futures"
)

type Gateway struct {
	cfg        Config
	httpClient *http.Client

	mu      sync.RWMutex
	clients map[int64]*futures.Client
	public  *futures.Client

	filterMu   sync.Mutex
	filters    map[string]exchange.SymbolFilters
	filtersExp time.Time
}

func New(cfg Config) (*Gateway, error) {
	final := cfg.withDefaults()
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	g := &Gateway{
		cfg:        final,
		httpClient: httpClient,
		clients:    make(map[int64]*futures.Client),
		filters:    make(map[string]exchange.SymbolFilters),
	}
	g.public = g.newClient("", "")
	return g, nil
}

func (g *Gateway) Name() string { return "binance" }

func (g *Gateway) newClient(apiKey, secretKey string) *futures.Client {
	client := futures.NewClient(apiKey, secretKey)
	client.BaseURL = g.cfg.RESTBaseURL
	client.HTTPClient = g.httpClient
	return client
}

func (g *Gateway) RegisterAccount(accountID int64, apiKey, secretKey string) error {
	apiKey = strings.TrimSpace(apiKey)
	secretKey = strings.TrimSpace(secretKey)
	if apiKey == "" || secretKey == "" {
		return fmt.Errorf("account %d: api key and secret are required", accountID)
	}
	g.mu.Lock()
	g.clients[accountID] = g.newClient(apiKey, secretKey)
	g.mu.Unlock()
	return nil
}

func (g *Gateway) DeregisterAccount(accountID int64) {
	g.mu.Lock()
	delete(g.clients, accountID)
	g.mu.Unlock()
}

func (g *Gateway) client(accountID int64) (*futures.Client, error) {
	g.mu.RLock()
	client, ok := g.clients[accountID]
	g.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("account %d is not registered with the binance gateway", accountID)
	}
	return client, nil
}

func (g *Gateway) GetOpenOrders(ctx context.Context, accountID int64) ([]exchange.OrderSummary, error) {
	client, err := g.client(accountID)
	if err != nil {
		return nil, err
	}
	orders, err := client.NewListOpenOrdersService().Do(ctx)
	if err != nil {
		return nil, wrapError(err)
	}
	out := make([]exchange.OrderSummary, 0, len(orders))
	for _, o := range orders {
		if o == nil {
			continue
		}
		out = append(out, convertOrder(o))
	}
	return out, nil
}

func (g *Gateway) GetPosition(ctx context.Context, accountID int64, symbol string) (*exchange.PositionSummary, error) {
	client, err := g.client(accountID)
	if err != nil {
		return nil, err
	}
	clean := symbolpkg.ToExchange(symbol)
	risks, err := client.NewGetPositionRiskService().Symbol(clean).Do(ctx)
	if err != nil {
		return nil, wrapError(err)
	}
	for _, r := range risks {
		if r == nil {
			continue
		}
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		side := exchange.PositionLong
		if amt < 0 {
			side = exchange.PositionShort
			amt = -amt
		}
		leverage := int(parseFloat(r.Leverage))
		return &exchange.PositionSummary{
			Symbol:           symbolpkg.Normalize(r.Symbol),
			Side:             side,
			Size:             amt,
			EntryPrice:       parseFloat(r.EntryPrice),
			MarkPrice:        parseFloat(r.MarkPrice),
			Leverage:         leverage,
			UnrealizedProfit: parseFloat(r.UnRealizedProfit),
		}, nil
	}
	return nil, nil
}

func (g *Gateway) GetEquity(ctx context.Context, accountID int64) (float64, error) {
	client, err := g.client(accountID)
	if err != nil {
		return 0, err
	}
	acct, err := client.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, wrapError(err)
	}
	return parseFloat(acct.TotalMarginBalance), nil
}

func (g *Gateway) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	clean := symbolpkg.ToExchange(symbol)
	premiums, err := g.public.NewPremiumIndexService().Symbol(clean).Do(ctx)
	if err != nil {
		return 0, wrapError(err)
	}
	for _, p := range premiums {
		if p == nil {
			continue
		}
		if price := parseFloat(p.MarkPrice); price > 0 {
			return price, nil
		}
	}
	return 0, fmt.Errorf("no mark price returned for %s", symbol)
}

func (g *Gateway) PlaceOrder(ctx context.Context, accountID int64, spec exchange.OrderSpec) (*exchange.OrderResult, error) {
	client, err := g.client(accountID)
	if err != nil {
		return nil, err
	}
	svc := client.NewCreateOrderService().
		Symbol(symbolpkg.ToExchange(spec.Symbol)).
		Side(futures.SideType(spec.Side)).
		Type(futures.OrderType(spec.Type))
	if spec.ClosePosition {
		svc = svc.ClosePosition(true)
	} else {
		svc = svc.Quantity(formatFloat(spec.Quantity))
		if spec.ReduceOnly {
			svc = svc.ReduceOnly(true)
		}
	}
	if spec.Type == exchange.OrderTypeLimit {
		tif := spec.TimeInForce
		if tif == "" {
			tif = string(futures.TimeInForceTypeGTC)
		}
		svc = svc.Price(formatFloat(spec.Price)).TimeInForce(futures.TimeInForceType(tif))
	}
	if spec.StopPrice > 0 {
		svc = svc.StopPrice(formatFloat(spec.StopPrice))
	}
	if spec.ClientOrderID != "" {
		svc = svc.NewClientOrderID(spec.ClientOrderID)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, wrapError(err)
	}
	return &exchange.OrderResult{
		ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
		Status:          string(resp.Status),
		ExecutedQty:     parseFloat(resp.ExecutedQuantity),
		AvgPrice:        parseFloat(resp.AvgPrice),
	}, nil
}

func (g *Gateway) CancelOrder(ctx context.Context, accountID int64, symbol, exchangeOrderID string) (bool, error) {
	client, err := g.client(accountID)
	if err != nil {
		return false, err
	}
	orderID, err := strconv.ParseInt(exchangeOrderID, 10, 64)
	if err != nil {
		return false, fmt.Errorf("invalid exchange order id %q: %w", exchangeOrderID, err)
	}
	_, err = client.NewCancelOrderService().
		Symbol(symbolpkg.ToExchange(symbol)).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		wrapped := wrapError(err)
		// Already filled or already cancelled counts as done.
		if exchange.IsUnknownOrder(wrapped) {
			return true, nil
		}
		return false, wrapped
	}
	return true, nil
}

func (g *Gateway) SetLeverage(ctx context.Context, accountID int64, symbol string, leverage int) error {
	client, err := g.client(accountID)
	if err != nil {
		return err
	}
	if leverage <= 0 {
		return fmt.Errorf("leverage must be positive, got %d", leverage)
	}
	_, err = client.NewChangeLeverageService().
		Symbol(symbolpkg.ToExchange(symbol)).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		return wrapError(err)
	}
	return nil
}

func convertOrder(o *futures.Order) exchange.OrderSummary {
	return exchange.OrderSummary{
		ExchangeOrderID: strconv.FormatInt(o.OrderID, 10),
		Symbol:          symbolpkg.Normalize(o.Symbol),
		Side:            string(o.Side),
		Type:            string(o.Type),
		Status:          string(o.Status),
		Quantity:        parseFloat(o.OrigQuantity),
		ExecutedQty:     parseFloat(o.ExecutedQuantity),
		Price:           parseFloat(o.Price),
		AvgPrice:        parseFloat(o.AvgPrice),
		StopPrice:       parseFloat(o.StopPrice),
		ReduceOnly:      o.ReduceOnly,
		OpenedAt:        time.UnixMilli(o.Time),
		UpdatedAt:       time.UnixMilli(o.UpdateTime),
	}
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
