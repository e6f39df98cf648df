// Package binance fetches spot market data from the Binance public REST API.
//
// The client is fail-closed: any transport error, non-200 status or
// malformed payload surfaces as an error, never as fabricated candles.
package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/valyala/fasthttp"

	"crypto-signal-backend/internal/model"
)

const (
	defaultBaseURL = "https://api.binance.com"

	// Binance caps klines at 1000 rows per request on spot.
	maxKlineLimit = 1000
)

// ErrBadResponse wraps any upstream payload the client refuses to parse.
var ErrBadResponse = errors.New("binance: unexpected response")

// Client is a thin REST client over the Binance spot public endpoints.
// Safe for concurrent use.
type Client struct {
	http    *fasthttp.Client
	baseURL string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different host. Used for tests and
// regional mirrors.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// New creates a Binance spot client.
func New(opts ...Option) *Client {
	c := &Client{
		http: &fasthttp.Client{
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		baseURL: defaultBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// binanceSymbol maps the engine's "BTC/USDT" form to Binance's "BTCUSDT".
func binanceSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

// Klines fetches up to limit closed candles for one symbol and timeframe,
// oldest first. Binance interval strings match model.Timeframe exactly.
func (c *Client) Klines(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error) {
	if !tf.Valid() {
		return nil, fmt.Errorf("binance: unknown timeframe %q", tf)
	}
	if limit <= 0 || limit > maxKlineLimit {
		limit = maxKlineLimit
	}

	uri := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&limit=%d",
		c.baseURL, binanceSymbol(symbol), tf, limit)
	body, err := c.get(ctx, uri)
	if err != nil {
		return nil, err
	}

	parsed := gjson.ParseBytes(body)
	if !parsed.IsArray() {
		return nil, fmt.Errorf("%w: klines for %s: not an array", ErrBadResponse, symbol)
	}

	rows := parsed.Array()
	candles := make([]model.Candle, 0, len(rows))
	for _, v := range rows {
		row := v.Array()
		if len(row) < 6 {
			return nil, fmt.Errorf("%w: klines row with %d fields", ErrBadResponse, len(row))
		}
		candles = append(candles, model.Candle{
			Symbol:    symbol,
			Timeframe: tf,
			TS:        time.UnixMilli(row[0].Int()).UTC(),
			Open:      row[1].Float(),
			High:      row[2].Float(),
			Low:       row[3].Float(),
			Close:     row[4].Float(),
			Volume:    row[5].Float(),
		})
	}

	if err := model.ValidateSeries(candles); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return candles, nil
}

// CurrentPrice fetches the 24h ticker and returns the spot snapshot.
// Satisfies pricecache.Provider.
func (c *Client) CurrentPrice(ctx context.Context, symbol string) (model.PriceSnapshot, error) {
	uri := fmt.Sprintf("%s/api/v3/ticker/24hr?symbol=%s", c.baseURL, binanceSymbol(symbol))
	body, err := c.get(ctx, uri)
	if err != nil {
		return model.PriceSnapshot{}, err
	}

	last := gjson.GetBytes(body, "lastPrice")
	change := gjson.GetBytes(body, "priceChangePercent")
	if !last.Exists() {
		return model.PriceSnapshot{}, fmt.Errorf("%w: ticker for %s missing lastPrice", ErrBadResponse, symbol)
	}
	price := last.Float()
	if price <= 0 {
		return model.PriceSnapshot{}, fmt.Errorf("%w: ticker for %s: non-positive price %q", ErrBadResponse, symbol, last.String())
	}

	return model.PriceSnapshot{
		Symbol:    symbol,
		Price:     price,
		Change24h: change.Float(),
		FetchedAt: time.Now().UTC(),
	}, nil
}

// get issues one GET honoring ctx's deadline as the request timeout.
func (c *Client) get(ctx context.Context, uri string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(fasthttp.MethodGet)

	timeout := 10 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return nil, ctx.Err()
		}
	}

	if err := c.http.DoTimeout(req, resp, timeout); err != nil {
		return nil, fmt.Errorf("binance: %s: %w", uri, err)
	}
	if status := resp.StatusCode(); status != fasthttp.StatusOK {
		msg := gjson.GetBytes(resp.Body(), "msg").String()
		return nil, fmt.Errorf("%w: status %d %s (%s)", ErrBadResponse, status, fasthttp.StatusMessage(status), strconv.Quote(msg))
	}

	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())
	return body, nil
}
