package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"mlbot/internal/logger"
	"mlbot/internal/market"
	"mlbot/internal/pkg/trading"
	symbolpkg "mlbot/internal/pkg/symbol"

	"github.com/adshao/go-binance/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// quotePrecision is the number of decimals sent for quote order quantities.
const quotePrecision = 8

type wsKlineServeFunc func(symbol, interval string, handler binance.WsKlineHandler, errHandler binance.ErrHandler) (doneC, stopC chan struct{}, err error)

// Client implements market.Exchange on Binance spot.
type Client struct {
	cfg     Config
	api     *binance.Client
	limiter *rate.Limiter
	wsServe wsKlineServeFunc
}

var _ market.Exchange = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	final := cfg.withDefaults()
	if final.Testnet {
		binance.UseTestnet = true
	}
	api := binance.NewClient(final.APIKey, final.APISecret)
	if final.RESTBaseURL != "" {
		api.BaseURL = final.RESTBaseURL
	}
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyURL != "" {
		proxyURL, err := url.Parse(final.ProxyURL)
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
	api.HTTPClient = httpClient

	limiter := rate.NewLimiter(rate.Inf, 1)
	if final.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(final.RequestsPerSecond), 1)
	}
	return &Client{
		cfg:     final,
		api:     api,
		limiter: limiter,
		wsServe: binance.WsKlineServe,
	}, nil
}

func (c *Client) MaxPageSize() int { return MaxKlinesPerPage }

func (c *Client) GetKlines(ctx context.Context, req market.KlineRequest) ([]market.Candle, error) {
	sym := symbolpkg.Binance.ToExchange(req.Symbol)
	if sym == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if !req.Interval.Valid() {
		return nil, fmt.Errorf("unsupported interval %q", req.Interval)
	}
	limit := req.Limit
	if limit <= 0 || limit > MaxKlinesPerPage {
		limit = MaxKlinesPerPage
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	svc := c.api.NewKlinesService().Symbol(sym).Interval(req.Interval.String()).Limit(limit)
	if req.Start > 0 {
		svc = svc.StartTime(req.Start)
	}
	if req.End > 0 {
		svc = svc.EndTime(req.End)
	}
	kls, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		cndl, err := convertKline(kl)
		if err != nil {
			return nil, fmt.Errorf("kline %d: %w", kl.OpenTime, err)
		}
		out = append(out, cndl)
	}
	return out, nil
}

func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	sym := symbolpkg.Binance.ToExchange(symbol)
	if sym == "" {
		return 0, fmt.Errorf("symbol is required")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	prices, err := c.api.NewListPricesService().Symbol(sym).Do(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range prices {
		if p == nil || !strings.EqualFold(p.Symbol, sym) {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(p.Price), 64)
		if err != nil {
			return 0, fmt.Errorf("parse price %q: %w", p.Price, err)
		}
		return v, nil
	}
	return 0, fmt.Errorf("price not available for %s", symbol)
}

func (c *Client) PlaceBuyOrder(ctx context.Context, symbol string, quoteQty float64, test bool) error {
	return c.placeMarketOrder(ctx, symbol, binance.SideTypeBuy, quoteQty, test)
}

func (c *Client) PlaceSellOrder(ctx context.Context, symbol string, quoteQty float64, test bool) error {
	return c.placeMarketOrder(ctx, symbol, binance.SideTypeSell, quoteQty, test)
}

// placeMarketOrder sends a MARKET order sized in the quote asset. Test orders
// go to the validation endpoint and never execute.
func (c *Client) placeMarketOrder(ctx context.Context, symbol string, side binance.SideType, quoteQty float64, test bool) error {
	sym := symbolpkg.Binance.ToExchange(symbol)
	if sym == "" {
		return fmt.Errorf("symbol is required")
	}
	if quoteQty <= 0 {
		return fmt.Errorf("quote quantity must be > 0, got %v", quoteQty)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	clientID := "mlbot-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
	svc := c.api.NewCreateOrderService().
		Symbol(sym).
		Side(side).
		Type(binance.OrderTypeMarket).
		QuoteOrderQty(trading.QuoteQty(quoteQty, quotePrecision)).
		NewClientOrderID(clientID)
	if test {
		if err := svc.Test(ctx); err != nil {
			return err
		}
		logger.Infof("[binance] test %s %s quote=%.8f id=%s accepted", side, sym, quoteQty, clientID)
		return nil
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return err
	}
	logger.Infof("[binance] %s %s quote=%.8f id=%s order=%d status=%s filled=%s",
		side, sym, quoteQty, clientID, resp.OrderID, resp.Status, resp.ExecutedQuantity)
	return nil
}
