package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/quartzline/rudder/internal/domain"
)

// Wire types follow the venue's spot REST API. Numeric fields arrive as
// strings and are parsed at this boundary.

type tickerResponse struct {
	Symbol   string `json:"symbol"`
	Bid      string `json:"bidPrice"`
	Ask      string `json:"askPrice"`
	Last     string `json:"lastPrice"`
	Volume   string `json:"volume"`
	CloseTs  int64  `json:"closeTime"`
	Weighted string `json:"weightedAvgPrice"`
}

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol     string   `json:"symbol"`
		OrderTypes []string `json:"orderTypes"`
		Filters    []struct {
			FilterType  string `json:"filterType"`
			TickSize    string `json:"tickSize"`
			StepSize    string `json:"stepSize"`
			MinQty      string `json:"minQty"`
			MinNotional string `json:"minNotional"`
			MinPrice    string `json:"minPrice"`
			MaxPrice    string `json:"maxPrice"`
		} `json:"filters"`
	} `json:"symbols"`
}

type accountResponse struct {
	MakerCommission float64 `json:"makerCommission"` // basis points
	TakerCommission float64 `json:"takerCommission"`
}

type orderResponse struct {
	OrderID     int64  `json:"orderId"`
	Status      string `json:"status"`
	ExecutedQty string `json:"executedQty"`
	Fills       []struct {
		Price      string `json:"price"`
		Qty        string `json:"qty"`
		Commission string `json:"commission"`
	} `json:"fills"`
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// restTicker fetches the 24h ticker for one symbol
func (c *Client) restTicker(ctx context.Context, symbol string) (*domain.PriceData, error) {
	var resp tickerResponse
	err := c.get(ctx, "ticker", "/api/v3/ticker/24hr",
		map[string]string{"symbol": venueSymbol(symbol)}, &resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrDataUnavailable, symbol, err)
	}

	now := time.Now().UTC()
	quote := &domain.PriceData{
		Symbol:    symbol,
		Source:    c.cfg.Name,
		Bid:       parseFloat(resp.Bid),
		Ask:       parseFloat(resp.Ask),
		Last:      parseFloat(resp.Last),
		Price:     parseFloat(resp.Last),
		Volume:    parseFloat(resp.Volume),
		Timestamp: now,
		FetchedAt: now,
	}
	if resp.CloseTs > 0 {
		quote.Timestamp = time.UnixMilli(resp.CloseTs).UTC()
	}
	if quote.Price <= 0 {
		return nil, fmt.Errorf("%w: %s: venue returned no price", domain.ErrDataUnavailable, symbol)
	}
	return quote, nil
}

// OHLCV implements domain.DataEngine. Bars come back oldest first.
func (c *Client) OHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	var raw []json.RawMessage
	err := c.get(ctx, "klines", "/api/v3/klines", map[string]string{
		"symbol":   venueSymbol(symbol),
		"interval": timeframe,
		"limit":    strconv.Itoa(limit),
	}, &raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrDataUnavailable, symbol, err)
	}

	candles := make([]domain.Candle, 0, len(raw))
	for _, row := range raw {
		// Kline rows are heterogenous arrays: [openTime, o, h, l, c, v, ...]
		var fields []interface{}
		if err := json.Unmarshal(row, &fields); err != nil || len(fields) < 6 {
			continue
		}
		ts, _ := fields[0].(float64)
		candle := domain.Candle{
			Timestamp: time.UnixMilli(int64(ts)).UTC(),
			Open:      klineFloat(fields[1]),
			High:      klineFloat(fields[2]),
			Low:       klineFloat(fields[3]),
			Close:     klineFloat(fields[4]),
			Volume:    klineFloat(fields[5]),
		}
		if candle.Close > 0 {
			candles = append(candles, candle)
		}
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("%w: %s: no candles", domain.ErrDataUnavailable, symbol)
	}
	return candles, nil
}

func klineFloat(v interface{}) float64 {
	switch t := v.(type) {
	case string:
		return parseFloat(t)
	case float64:
		return t
	}
	return 0
}

// Rules implements domain.Connector. Config rules win when present so
// operators can tighten venue defaults; otherwise exchange info is fetched
// once and cached.
func (c *Client) Rules(ctx context.Context, symbol string) (*domain.SymbolRules, error) {
	if r, ok := c.configuredRule(symbol); ok {
		return ruleFromConfig(symbol, r), nil
	}

	c.mu.RLock()
	cached, ok := c.ruleCache[symbol]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	var resp exchangeInfoResponse
	err := c.get(ctx, "exchange_info", "/api/v3/exchangeInfo",
		map[string]string{"symbol": venueSymbol(symbol)}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Symbols) == 0 {
		return nil, fmt.Errorf("venue has no rules for %s", symbol)
	}

	info := resp.Symbols[0]
	rules := &domain.SymbolRules{Symbol: symbol}
	for _, f := range info.Filters {
		switch f.FilterType {
		case "PRICE_FILTER":
			rules.TickSize = parseFloat(f.TickSize)
			rules.MinPrice = parseFloat(f.MinPrice)
			rules.MaxPrice = parseFloat(f.MaxPrice)
		case "LOT_SIZE":
			rules.StepSize = parseFloat(f.StepSize)
			rules.MinQty = parseFloat(f.MinQty)
		case "NOTIONAL", "MIN_NOTIONAL":
			rules.MinNotional = parseFloat(f.MinNotional)
		}
	}

	c.mu.Lock()
	c.ruleCache[symbol] = rules
	c.typesCache = mapOrderTypes(info.OrderTypes)
	c.mu.Unlock()

	return rules, nil
}

var orderTypeNames = map[string]domain.OrderType{
	"LIMIT":             domain.OrderTypeLimit,
	"MARKET":            domain.OrderTypeMarket,
	"STOP_LOSS":         domain.OrderTypeStop,
	"STOP_LOSS_LIMIT":   domain.OrderTypeStopLimit,
	"TAKE_PROFIT":       domain.OrderTypeTakeProfit,
	"TAKE_PROFIT_LIMIT": domain.OrderTypeTakeProfitLimit,
}

func mapOrderTypes(names []string) []domain.OrderType {
	out := make([]domain.OrderType, 0, len(names))
	for _, n := range names {
		if t, ok := orderTypeNames[n]; ok {
			out = append(out, t)
		}
	}
	return out
}

// SupportedOrderTypes implements domain.Connector
func (c *Client) SupportedOrderTypes(ctx context.Context, symbol string) ([]domain.OrderType, error) {
	c.mu.RLock()
	cached := c.typesCache
	c.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}
	// Populating the cache is a side effect of the rules fetch
	if _, err := c.Rules(ctx, symbol); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.typesCache == nil {
		return []domain.OrderType{domain.OrderTypeLimit, domain.OrderTypeMarket}, nil
	}
	return c.typesCache, nil
}

// Fees implements domain.Connector. Without API credentials the configured
// paper rates apply.
func (c *Client) Fees(ctx context.Context, symbol string) (*domain.FeeInfo, error) {
	c.mu.RLock()
	cached, ok := c.feeCache[symbol]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	fees := &domain.FeeInfo{
		Symbol:   symbol,
		MakerBps: c.cfg.Paper.MakerFeeBps,
		TakerBps: c.cfg.Paper.TakerFeeBps,
	}

	if c.cfg.APIKey != "" {
		var resp accountResponse
		if err := c.signedGet(ctx, "account", "/api/v3/account", nil, &resp); err != nil {
			c.log.Warn().Err(err).Msg("fee lookup failed, using configured rates")
		} else {
			fees.MakerBps = resp.MakerCommission
			fees.TakerBps = resp.TakerCommission
		}
	}

	c.mu.Lock()
	c.feeCache[symbol] = fees
	c.mu.Unlock()
	return fees, nil
}

// SubmitOrder implements domain.Connector for live sessions. A nil fill
// with nil error means the venue accepted the order but nothing executed.
func (c *Client) SubmitOrder(ctx context.Context, order *domain.Order) (*domain.Fill, error) {
	if order == nil {
		return nil, fmt.Errorf("nil order")
	}
	if c.cfg.APIKey == "" {
		return nil, fmt.Errorf("venue %s has no API credentials", c.cfg.Name)
	}

	params := map[string]string{
		"symbol":           venueSymbol(order.Symbol),
		"side":             strings.ToUpper(string(order.Side)),
		"type":             strings.ToUpper(string(order.Type)),
		"quantity":         strconv.FormatFloat(order.Quantity, 'f', -1, 64),
		"newClientOrderId": order.ID,
	}
	if order.Type != domain.OrderTypeMarket {
		params["price"] = strconv.FormatFloat(order.LimitPrice, 'f', -1, 64)
		params["timeInForce"] = string(order.TimeInForce)
	}
	if order.StopPrice > 0 {
		params["stopPrice"] = strconv.FormatFloat(order.StopPrice, 'f', -1, 64)
	}

	var resp orderResponse
	if err := c.signedPost(ctx, "order", "/api/v3/order", params, &resp); err != nil {
		return nil, err
	}

	qty := parseFloat(resp.ExecutedQty)
	if qty <= 0 {
		return nil, nil
	}

	// Volume-weighted price and summed commissions across partial fills
	var notional, fees float64
	for _, f := range resp.Fills {
		p, q := parseFloat(f.Price), parseFloat(f.Qty)
		notional += p * q
		fees += parseFloat(f.Commission)
	}
	price := order.LimitPrice
	if notional > 0 {
		price = notional / qty
	}

	return &domain.Fill{
		OrderID:    order.ID,
		TradeID:    fmt.Sprintf("%s-%d", c.cfg.Name, resp.OrderID),
		Symbol:     order.Symbol,
		Strategy:   order.Metadata.Strategy,
		Side:       order.Side,
		Quantity:   qty,
		Price:      price,
		Fee:        fees,
		Role:       domain.FeeRoleTaker,
		CycleID:    order.Metadata.CycleID,
		Reason:     order.Metadata.Reason,
		ReduceOnly: order.ReduceOnly,
		ExecutedAt: time.Now().UTC(),
	}, nil
}

// sign produces the venue's HMAC-SHA256 request signature
func (c *Client) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) signedQuery(params map[string]string) string {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	values.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	query := values.Encode()
	return query + "&signature=" + c.sign(query)
}

func (c *Client) signedGet(ctx context.Context, endpoint, path string, params map[string]string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter interrupted: %w", err)
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.rest.R().
			SetContext(ctx).
			SetHeader("X-MBX-APIKEY", c.cfg.APIKey).
			SetQueryString(c.signedQuery(params)).
			SetResult(out).
			Get(path)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("venue returned %d: %s", resp.StatusCode(), resp.String())
		}
		return nil, nil
	})

	c.count(endpoint, err)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", endpoint, err)
	}
	return nil
}

func (c *Client) signedPost(ctx context.Context, endpoint, path string, params map[string]string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter interrupted: %w", err)
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.rest.R().
			SetContext(ctx).
			SetHeader("X-MBX-APIKEY", c.cfg.APIKey).
			SetHeader("Content-Type", "application/x-www-form-urlencoded").
			SetBody(c.signedQuery(params)).
			SetResult(out).
			Post(path)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("venue returned %d: %s", resp.StatusCode(), resp.String())
		}
		return nil, nil
	})

	c.count(endpoint, err)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", endpoint, err)
	}
	return nil
}
