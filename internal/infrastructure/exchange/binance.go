package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"futures-autopilot/internal/domain"
)

const (
	BinanceFuturesBaseURL = "https://fapi.binance.com"
	BinanceFuturesWSURL   = "wss://fstream.binance.com"
)

// BinanceAdapter talks to the Binance USDⓈ-M futures REST API and the
// public mark-price stream. It implements domain.Exchange and
// domain.CoinProvider.
type BinanceAdapter struct {
	apiKey    string
	apiSecret string
	baseURL   string
	wsURL     string
	client    *http.Client
	logger    *zap.Logger

	wsConn    *websocket.Conn
	callbacks []func(symbol string, mark decimal.Decimal)
	mu        sync.Mutex

	// coins caches exchangeInfo filters; they change rarely.
	coins   map[string]*domain.Coin
	coinsMu sync.RWMutex
}

func NewBinanceAdapter(apiKey, apiSecret, baseURL, wsURL string, logger *zap.Logger) *BinanceAdapter {
	return &BinanceAdapter{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		wsURL:     wsURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    logger,
		coins:     make(map[string]*domain.Coin),
	}
}

// --- REST API ---

func (b *BinanceAdapter) sign(query string) string {
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(query))
	return hex.EncodeToString(h.Sum(nil))
}

// sendSigned issues a signed request; params go in the query string for
// every method, as the futures API expects.
func (b *BinanceAdapter) sendSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", "5000")

	query := params.Encode()
	query += "&signature=" + b.sign(query)

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path+"?"+query, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", b.apiKey)

	return b.do(req)
}

func (b *BinanceAdapter) sendPublic(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := b.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return b.do(req)
}

func (b *BinanceAdapter) do(req *http.Request) ([]byte, error) {
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Msg != "" {
			return nil, fmt.Errorf("binance api error %d: %s", apiErr.Code, apiErr.Msg)
		}
		return nil, fmt.Errorf("binance api error: %s", string(body))
	}

	return body, nil
}

func (b *BinanceAdapter) GetActivePositions(ctx context.Context) ([]domain.PositionSnapshot, error) {
	resp, err := b.sendSigned(ctx, http.MethodGet, "/fapi/v2/positionRisk", nil)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Symbol           string `json:"symbol"`
		PositionSide     string `json:"positionSide"`
		PositionAmt      string `json:"positionAmt"`
		EntryPrice       string `json:"entryPrice"`
		MarkPrice        string `json:"markPrice"`
		LiquidationPrice string `json:"liquidationPrice"`
		UnRealizedProfit string `json:"unRealizedProfit"`
		IsolatedWallet   string `json:"isolatedWallet"`
		IsolatedMargin   string `json:"isolatedMargin"`
		Notional         string `json:"notional"`
		Leverage         string `json:"leverage"`
		MarginType       string `json:"marginType"`
	}
	if err := json.Unmarshal(resp, &raw); err != nil {
		return nil, err
	}

	var snapshots []domain.PositionSnapshot
	for _, item := range raw {
		amt, err := decimal.NewFromString(item.PositionAmt)
		if err != nil {
			return nil, fmt.Errorf("positionAmt %q for %s: %w", item.PositionAmt, item.Symbol, err)
		}
		if amt.IsZero() {
			continue
		}

		snap := domain.PositionSnapshot{
			Symbol:      item.Symbol,
			PositionAmt: amt,
			MarginType:  item.MarginType,
		}

		switch item.PositionSide {
		case "LONG":
			snap.Side = domain.SideLong
		case "SHORT":
			snap.Side = domain.SideShort
		default:
			// One-way mode reports BOTH; the sign of the amount decides.
			if amt.IsNegative() {
				snap.Side = domain.SideShort
			} else {
				snap.Side = domain.SideLong
			}
		}

		for _, f := range []struct {
			dst   *decimal.Decimal
			src   string
			field string
		}{
			{&snap.EntryPrice, item.EntryPrice, "entryPrice"},
			{&snap.MarkPrice, item.MarkPrice, "markPrice"},
			{&snap.LiquidationPrice, item.LiquidationPrice, "liquidationPrice"},
			{&snap.UnrealizedPnL, item.UnRealizedProfit, "unRealizedProfit"},
			{&snap.IsolatedWallet, item.IsolatedWallet, "isolatedWallet"},
			{&snap.IsolatedMargin, item.IsolatedMargin, "isolatedMargin"},
			{&snap.Notional, item.Notional, "notional"},
		} {
			if *f.dst, err = decimal.NewFromString(f.src); err != nil {
				return nil, fmt.Errorf("%s %q for %s: %w", f.field, f.src, item.Symbol, err)
			}
		}
		if snap.Leverage, err = strconv.Atoi(item.Leverage); err != nil {
			return nil, fmt.Errorf("leverage %q for %s: %w", item.Leverage, item.Symbol, err)
		}

		snapshots = append(snapshots, snap)
	}

	return snapshots, nil
}

func (b *BinanceAdapter) Order(ctx context.Context, symbol string, positionSide domain.Side, actionSide domain.OrderSide, quantity decimal.Decimal, stopPrice *decimal.Decimal) (*domain.ExecutionPayload, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(actionSide))
	params.Set("positionSide", string(positionSide))
	params.Set("quantity", quantity.String())
	if stopPrice != nil {
		params.Set("type", "STOP_MARKET")
		params.Set("stopPrice", stopPrice.String())
	} else {
		params.Set("type", "MARKET")
	}

	resp, err := b.sendSigned(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return nil, err
	}

	var raw struct {
		OrderID       int64  `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		Status        string `json:"status"`
		ExecutedQty   string `json:"executedQty"`
		AvgPrice      string `json:"avgPrice"`
	}
	if err := json.Unmarshal(resp, &raw); err != nil {
		return nil, err
	}

	payload := &domain.ExecutionPayload{
		OrderID:       raw.OrderID,
		ClientOrderID: raw.ClientOrderID,
		Status:        raw.Status,
	}
	if raw.ExecutedQty != "" {
		if payload.ExecutedQty, err = decimal.NewFromString(raw.ExecutedQty); err != nil {
			return nil, fmt.Errorf("executedQty %q: %w", raw.ExecutedQty, err)
		}
	}
	if raw.AvgPrice != "" {
		if payload.AvgPrice, err = decimal.NewFromString(raw.AvgPrice); err != nil {
			return nil, fmt.Errorf("avgPrice %q: %w", raw.AvgPrice, err)
		}
	}

	return payload, nil
}

func (b *BinanceAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	_, err := b.sendSigned(ctx, http.MethodPost, "/fapi/v1/leverage", params)
	return err
}

func (b *BinanceAdapter) SetMarginType(ctx context.Context, symbol string, marginType string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("marginType", strings.ToUpper(marginType))
	_, err := b.sendSigned(ctx, http.MethodPost, "/fapi/v1/marginType", params)
	return err
}

// InstalledCoin resolves the precision filters for a symbol, cached after
// the first exchangeInfo fetch.
func (b *BinanceAdapter) InstalledCoin(ctx context.Context, symbol string) (*domain.Coin, error) {
	b.coinsMu.RLock()
	coin, ok := b.coins[symbol]
	b.coinsMu.RUnlock()
	if ok {
		c := *coin
		return &c, nil
	}

	if err := b.loadExchangeInfo(ctx); err != nil {
		return nil, err
	}

	b.coinsMu.RLock()
	coin, ok = b.coins[symbol]
	b.coinsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("symbol %s not listed", symbol)
	}
	c := *coin
	return &c, nil
}

func (b *BinanceAdapter) InstalledCoinAndPrice(ctx context.Context, symbol string) (*domain.Coin, decimal.Decimal, error) {
	coin, err := b.InstalledCoin(ctx, symbol)
	if err != nil {
		return nil, decimal.Zero, err
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	resp, err := b.sendPublic(ctx, "/fapi/v1/premiumIndex", params)
	if err != nil {
		return nil, decimal.Zero, err
	}

	var raw struct {
		MarkPrice string `json:"markPrice"`
	}
	if err := json.Unmarshal(resp, &raw); err != nil {
		return nil, decimal.Zero, err
	}
	price, err := decimal.NewFromString(raw.MarkPrice)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("markPrice %q: %w", raw.MarkPrice, err)
	}

	return coin, price, nil
}

func (b *BinanceAdapter) loadExchangeInfo(ctx context.Context) error {
	resp, err := b.sendPublic(ctx, "/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return err
	}

	var raw struct {
		Symbols []struct {
			Symbol            string `json:"symbol"`
			Status            string `json:"status"`
			PricePrecision    int32  `json:"pricePrecision"`
			QuantityPrecision int32  `json:"quantityPrecision"`
			Filters           []struct {
				FilterType string `json:"filterType"`
				MinQty     string `json:"minQty"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(resp, &raw); err != nil {
		return err
	}

	b.coinsMu.Lock()
	defer b.coinsMu.Unlock()
	for _, s := range raw.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		coin := &domain.Coin{
			Symbol:            s.Symbol,
			PricePrecision:    s.PricePrecision,
			QuantityPrecision: s.QuantityPrecision,
		}
		for _, f := range s.Filters {
			if f.FilterType == "LOT_SIZE" {
				if minQty, err := decimal.NewFromString(f.MinQty); err == nil {
					coin.MinQty = minQty
				}
			}
		}
		b.coins[s.Symbol] = coin
	}

	return nil
}

// Klines returns closed candles oldest first. The open candle the venue
// appends to the series is dropped.
func (b *BinanceAdapter) Klines(ctx context.Context, symbol, interval string, limit int) ([]domain.Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit+1))

	resp, err := b.sendPublic(ctx, "/fapi/v1/klines", params)
	if err != nil {
		return nil, err
	}

	var raw [][]json.RawMessage
	if err := json.Unmarshal(resp, &raw); err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		raw = raw[:len(raw)-1]
	}

	klines := make([]domain.Kline, 0, len(raw))
	for _, row := range raw {
		// [openTime, open, high, low, close, volume, ...]
		if len(row) < 6 {
			continue
		}
		var openTimeMs int64
		if err := json.Unmarshal(row[0], &openTimeMs); err != nil {
			return nil, fmt.Errorf("kline open time: %w", err)
		}
		k := domain.Kline{OpenTime: time.UnixMilli(openTimeMs)}
		for i, dst := range []*decimal.Decimal{&k.Open, &k.High, &k.Low, &k.Close, &k.Volume} {
			var s string
			if err := json.Unmarshal(row[i+1], &s); err != nil {
				return nil, fmt.Errorf("kline field %d: %w", i+1, err)
			}
			if *dst, err = decimal.NewFromString(s); err != nil {
				return nil, fmt.Errorf("kline field %d %q: %w", i+1, s, err)
			}
		}
		klines = append(klines, k)
	}

	return klines, nil
}

func (b *BinanceAdapter) OpenInterestHistory(ctx context.Context, symbol, period string, limit int) ([]decimal.Decimal, error) {
	return b.futuresDataSeries(ctx, "/futures/data/openInterestHist", symbol, period, limit, "sumOpenInterest")
}

func (b *BinanceAdapter) LongShortRatio(ctx context.Context, symbol, period string, limit int) ([]decimal.Decimal, error) {
	return b.futuresDataSeries(ctx, "/futures/data/globalLongShortAccountRatio", symbol, period, limit, "longShortRatio")
}

func (b *BinanceAdapter) futuresDataSeries(ctx context.Context, path, symbol, period string, limit int, field string) ([]decimal.Decimal, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("period", period)
	params.Set("limit", strconv.Itoa(limit))

	resp, err := b.sendPublic(ctx, path, params)
	if err != nil {
		return nil, err
	}

	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(resp, &raw); err != nil {
		return nil, err
	}

	series := make([]decimal.Decimal, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item[field], &s); err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		v, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("%s %q: %w", field, s, err)
		}
		series = append(series, v)
	}

	return series, nil
}

// --- WebSocket ---

// OnMarkPrice registers a callback for mark-price stream updates.
func (b *BinanceAdapter) OnMarkPrice(callback func(symbol string, mark decimal.Decimal)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks = append(b.callbacks, callback)
}

// ConnectMarkPriceStream opens the public mark-price stream for a symbol
// and starts the read loop. Safe to call once per adapter.
func (b *BinanceAdapter) ConnectMarkPriceStream(symbol string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.wsConn != nil {
		return nil
	}

	u := b.wsURL + "/ws/" + strings.ToLower(symbol) + "@markPrice"
	c, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		return err
	}
	b.wsConn = c

	go b.readLoop(c)
	return nil
}

func (b *BinanceAdapter) CloseStream() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.wsConn != nil {
		b.wsConn.Close()
		b.wsConn = nil
	}
}

func (b *BinanceAdapter) readLoop(c *websocket.Conn) {
	defer func() {
		c.Close()
		b.mu.Lock()
		if b.wsConn == c {
			b.wsConn = nil
		}
		b.mu.Unlock()
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			b.logger.Warn("mark price stream closed", zap.Error(err))
			return
		}

		var event struct {
			EventType string `json:"e"`
			Symbol    string `json:"s"`
			MarkPrice string `json:"p"`
		}
		if err := json.Unmarshal(message, &event); err != nil {
			b.logger.Debug("mark price stream unmarshal", zap.Error(err))
			continue
		}
		if event.EventType != "markPriceUpdate" {
			continue
		}

		mark, err := decimal.NewFromString(event.MarkPrice)
		if err != nil {
			continue
		}

		b.mu.Lock()
		callbacks := make([]func(string, decimal.Decimal), len(b.callbacks))
		copy(callbacks, b.callbacks)
		b.mu.Unlock()

		for _, cb := range callbacks {
			cb(event.Symbol, mark)
		}
	}
}
