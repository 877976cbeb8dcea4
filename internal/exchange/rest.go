package exchange

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

const restCallTimeout = 10 * time.Second

// restClient performs the venue REST calls backing cache misses and
// stream-unhealthy reads. Retries use exponential backoff: 1s base,
// doubling, capped at 10s, 3 retries.
type restClient struct {
	client *retryablehttp.Client
	venue  venue
	log    zerolog.Logger
}

func newRESTClient(v venue, log zerolog.Logger) *restClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = time.Second
	client.RetryWaitMax = 10 * time.Second
	client.HTTPClient.Timeout = restCallTimeout
	client.Logger = nil

	return &restClient{
		client: client,
		venue:  v,
		log:    log.With().Str("component", "rest_client").Str("exchange", v.name()).Logger(),
	}
}

func (r *restClient) get(ctx context.Context, url string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}

// Ticker fetches the last traded price for one symbol.
func (r *restClient) Ticker(ctx context.Context, symbol string) (float64, error) {
	body, err := r.get(ctx, r.venue.tickerURL(symbol))
	if err != nil {
		return 0, err
	}
	return r.venue.parseTicker(body)
}

// KlineClose fetches the close of the single 1-minute candle opening at
// startMs.
func (r *restClient) KlineClose(ctx context.Context, symbol string, startMs int64) (float64, error) {
	candles, err := r.Klines(ctx, symbol, startMs, 1)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, fmt.Errorf("no candle for %s at %d", symbol, startMs)
	}
	return candles[0].Close, nil
}

// Klines fetches up to limit 1-minute candles starting at startMs, oldest
// first.
func (r *restClient) Klines(ctx context.Context, symbol string, startMs int64, limit int) ([]Candle, error) {
	body, err := r.get(ctx, r.venue.klineURL(symbol, startMs, limit))
	if err != nil {
		return nil, err
	}
	return r.venue.parseKlines(body)
}
