package exchange

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// binanceVenue streams USDT-margined futures tickers. Binance encodes the
// subscription into the URI, so no subscribe frame is sent.
type binanceVenue struct{}

func (v *binanceVenue) name() string { return "binance" }

func (v *binanceVenue) streamURL(symbols []string) string {
	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		streams = append(streams, strings.ToLower(marketID(s))+"@ticker")
	}
	return "wss://fstream.binance.com/ws/" + strings.Join(streams, "/")
}

func (v *binanceVenue) subscribePayloads([]string) [][]byte { return nil }

// binanceTicker is the 24hr ticker event payload.
type binanceTicker struct {
	Event  string `json:"e"`
	Symbol string `json:"s"`
	Last   string `json:"c"`
}

func (v *binanceVenue) parseFrame(data []byte) (frameResult, error) {
	var frame binanceTicker
	if err := json.Unmarshal(data, &frame); err != nil {
		return frameResult{}, fmt.Errorf("binance frame: %w", err)
	}

	if frame.Event == "ping" {
		return frameResult{pong: []byte(`{"e":"pong"}`)}, nil
	}
	if frame.Symbol == "" || frame.Last == "" {
		return frameResult{}, nil
	}

	price, err := strconv.ParseFloat(frame.Last, 64)
	if err != nil {
		return frameResult{}, fmt.Errorf("binance last price %q: %w", frame.Last, err)
	}
	return frameResult{ticks: []tick{{symbol: frame.Symbol, price: price}}}, nil
}

func (v *binanceVenue) tickerURL(symbol string) string {
	return "https://fapi.binance.com/fapi/v1/ticker/price?symbol=" + marketID(symbol)
}

func (v *binanceVenue) parseTicker(data []byte) (float64, error) {
	var payload struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return 0, fmt.Errorf("binance ticker: %w", err)
	}
	return strconv.ParseFloat(payload.Price, 64)
}

func (v *binanceVenue) klineURL(symbol string, startMs int64, limit int) string {
	return fmt.Sprintf(
		"https://fapi.binance.com/fapi/v1/klines?symbol=%s&interval=1m&startTime=%d&limit=%d",
		marketID(symbol), startMs, limit,
	)
}

func (v *binanceVenue) parseKlines(data []byte) ([]Candle, error) {
	// Kline rows are [openTime, open, high, low, close, volume, ...].
	var rows [][]json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("binance klines: %w", err)
	}

	candles := make([]Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("binance klines: short row")
		}
		var ts int64
		if err := json.Unmarshal(row[0], &ts); err != nil {
			return nil, fmt.Errorf("binance kline timestamp: %w", err)
		}
		values := make([]float64, 5)
		for i := 1; i <= 5; i++ {
			var s string
			if err := json.Unmarshal(row[i], &s); err != nil {
				return nil, fmt.Errorf("binance kline field: %w", err)
			}
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("binance kline value %q: %w", s, err)
			}
			values[i-1] = f
		}
		candles = append(candles, Candle{
			Timestamp: ts,
			Open:      values[0],
			High:      values[1],
			Low:       values[2],
			Close:     values[3],
			Volume:    values[4],
		})
	}
	return candles, nil
}
