// Package mt5bridge talks to an MT5 terminal through a local HTTP bridge
// process that exposes the terminal API as JSON.
package mt5bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/somboon29/MT5-Bot/pkg/cache"
	exchange "github.com/somboon29/MT5-Bot/pkg/exchanges/common"
)

// Config holds the bridge endpoint and credentials.
type Config struct {
	BaseURL   string
	Token     string
	RateLimit float64 // requests per second; <= 0 disables limiting
	Timeout   time.Duration
	SpecTTL   time.Duration // instrument spec cache lifetime; 0 selects 1h, < 0 disables
}

// Client implements exchange.Gateway over the bridge.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	specs      *cache.TTL[exchange.InstrumentSpec]
	clock      *TimeSync
	log        zerolog.Logger
}

// NewClient creates a bridge client.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.SpecTTL == 0 {
		cfg.SpecTTL = time.Hour
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	c := &Client{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
		specs:      cache.NewTTL[exchange.InstrumentSpec](cfg.SpecTTL),
		log:        logger.With().Str("component", "mt5bridge").Logger(),
	}
	c.clock = NewTimeSync(c.ServerTime, c.log)
	return c
}

// Connect initializes the terminal session behind the bridge.
func (c *Client) Connect(ctx context.Context) error {
	var out initResp
	if err := c.do(ctx, http.MethodPost, "/api/v1/initialize", nil, nil, &out); err != nil {
		return err
	}
	if !out.Connected {
		return errors.New("mt5bridge: terminal not connected")
	}
	c.log.Info().
		Str("terminal", out.Terminal).
		Int64("login", out.Login).
		Str("server", out.Server).
		Msg("terminal session initialized")
	if err := c.clock.Sync(ctx); err != nil {
		c.log.Warn().Err(err).Msg("initial time sync failed")
	}
	return nil
}

// ServerTime returns the terminal server clock in unix milliseconds.
func (c *Client) ServerTime(ctx context.Context) (int64, error) {
	var out timeResp
	if err := c.do(ctx, http.MethodGet, "/api/v1/time", nil, nil, &out); err != nil {
		return 0, err
	}
	return out.ServerTime, nil
}

// Clock exposes the server clock tracker.
func (c *Client) Clock() *TimeSync { return c.clock }

func (c *Client) FetchBars(ctx context.Context, symbol string, tf exchange.Timeframe, count int) ([]exchange.Bar, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("timeframe", string(tf))
	q.Set("count", strconv.Itoa(count))

	var rates []rateDTO
	if err := c.do(ctx, http.MethodGet, "/api/v1/rates", q, nil, &rates); err != nil {
		return nil, err
	}
	if len(rates) == 0 {
		return nil, fmt.Errorf("mt5bridge: no rates for %s %s", symbol, tf)
	}
	bars := make([]exchange.Bar, 0, len(rates))
	for _, r := range rates {
		bars = append(bars, r.bar())
	}
	return bars, nil
}

func (c *Client) CurrentQuote(ctx context.Context, symbol string) (exchange.Quote, error) {
	var out *tickDTO
	if err := c.do(ctx, http.MethodGet, "/api/v1/tick", symbolQuery(symbol), nil, &out); err != nil {
		return exchange.Quote{}, err
	}
	if out == nil {
		return exchange.Quote{}, fmt.Errorf("mt5bridge: no tick for %s", symbol)
	}
	return exchange.Quote{Bid: out.Bid, Ask: out.Ask, Time: time.Unix(out.Time, 0).UTC()}, nil
}

func (c *Client) AccountSnapshot(ctx context.Context) (exchange.AccountSnapshot, error) {
	var out *accountDTO
	if err := c.do(ctx, http.MethodGet, "/api/v1/account", nil, nil, &out); err != nil {
		return exchange.AccountSnapshot{}, err
	}
	if out == nil {
		return exchange.AccountSnapshot{}, errors.New("mt5bridge: account info unavailable")
	}
	return exchange.AccountSnapshot{
		Balance:    out.Balance,
		Equity:     out.Equity,
		UsedMargin: out.Margin,
		FreeMargin: out.MarginFree,
		Currency:   out.Currency,
	}, nil
}

// InstrumentSpec returns the symbol's trading parameters. They rarely change,
// so answers are cached for SpecTTL.
func (c *Client) InstrumentSpec(ctx context.Context, symbol string) (exchange.InstrumentSpec, error) {
	if spec, ok := c.specs.Get(symbol); ok {
		return spec, nil
	}
	var out *symbolDTO
	if err := c.do(ctx, http.MethodGet, "/api/v1/symbol", symbolQuery(symbol), nil, &out); err != nil {
		return exchange.InstrumentSpec{}, err
	}
	if out == nil {
		return exchange.InstrumentSpec{}, fmt.Errorf("mt5bridge: symbol %s unavailable", symbol)
	}
	spec := exchange.InstrumentSpec{
		Symbol:     out.Name,
		Digits:     out.Digits,
		Point:      out.Point,
		TickValue:  out.TickValue,
		TickSize:   out.TickSize,
		VolumeMin:  out.VolumeMin,
		VolumeMax:  out.VolumeMax,
		VolumeStep: out.VolumeStep,
	}
	c.specs.Set(symbol, spec)
	return spec, nil
}

func (c *Client) OpenPositions(ctx context.Context, symbol string) ([]exchange.Position, error) {
	var rows []positionDTO
	if err := c.do(ctx, http.MethodGet, "/api/v1/positions", symbolQuery(symbol), nil, &rows); err != nil {
		return nil, err
	}
	out := make([]exchange.Position, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.position())
	}
	return out, nil
}

func (c *Client) PendingOrders(ctx context.Context, symbol string) ([]exchange.PendingOrder, error) {
	var rows []orderDTO
	if err := c.do(ctx, http.MethodGet, "/api/v1/orders", symbolQuery(symbol), nil, &rows); err != nil {
		return nil, err
	}
	out := make([]exchange.PendingOrder, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.pending())
	}
	return out, nil
}

// SubmitOrder sends req to the terminal. A non-done return code is reported
// in the result, not as an error.
func (c *Client) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	var out *tradeResultDTO
	if err := c.do(ctx, http.MethodPost, "/api/v1/order", nil, toTradeRequest(req), &out); err != nil {
		return exchange.OrderResult{}, err
	}
	if out == nil {
		return exchange.OrderResult{}, errors.New("mt5bridge: order_send returned no result")
	}
	return out.result(), nil
}

func (c *Client) ModifyProtection(ctx context.Context, ticket uint64, sl, tp float64) (exchange.OrderResult, error) {
	pos, err := c.position(ctx, ticket)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	return c.SubmitOrder(ctx, exchange.ModifyRequest(pos, sl, tp))
}

func (c *Client) ClosePosition(ctx context.Context, ticket uint64, volume float64) (exchange.OrderResult, error) {
	pos, err := c.position(ctx, ticket)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	q, err := c.CurrentQuote(ctx, pos.Symbol)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	req := exchange.CloseRequest(pos, volume)
	req.Price = q.Bid
	if pos.Side == exchange.SideShort {
		req.Price = q.Ask
	}
	return c.SubmitOrder(ctx, req)
}

func (c *Client) position(ctx context.Context, ticket uint64) (exchange.Position, error) {
	positions, err := c.OpenPositions(ctx, "")
	if err != nil {
		return exchange.Position{}, err
	}
	pos, ok := exchange.FindPosition(positions, ticket)
	if !ok {
		return exchange.Position{}, fmt.Errorf("mt5bridge: position %d not found", ticket)
	}
	return pos, nil
}

func symbolQuery(symbol string) url.Values {
	q := url.Values{}
	if symbol != "" {
		q.Set("symbol", symbol)
	}
	return q
}

// do performs one rate-limited call and decodes the JSON body into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("mt5bridge: encode %s: %w", path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mt5bridge %s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	data, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		var e errorResp
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("mt5bridge %s %s status %d: %s", method, path, res.StatusCode, e.Error)
		}
		return fmt.Errorf("mt5bridge %s %s status %d: %s", method, path, res.StatusCode, string(data))
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("mt5bridge: decode %s: %w", path, err)
	}
	return nil
}
