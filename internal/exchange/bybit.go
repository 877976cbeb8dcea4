package exchange

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// bybitVenue streams linear perpetual tickers from the unified public
// endpoint.
type bybitVenue struct{}

func (v *bybitVenue) name() string { return "bybit" }

func (v *bybitVenue) streamURL([]string) string {
	return "wss://stream.bybit.com/v5/public/linear"
}

func (v *bybitVenue) subscribePayloads(symbols []string) [][]byte {
	args := make([]string, 0, len(symbols))
	for _, s := range symbols {
		args = append(args, "tickers."+marketID(s))
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"op":   "subscribe",
		"args": args,
	})
	return [][]byte{payload}
}

func (v *bybitVenue) parseFrame(data []byte) (frameResult, error) {
	var frame struct {
		Op    string `json:"op"`
		ReqID string `json:"req_id"`
		Topic string `json:"topic"`
		Data  struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return frameResult{}, fmt.Errorf("bybit frame: %w", err)
	}

	if frame.Op == "ping" {
		pong, _ := json.Marshal(map[string]string{"op": "pong", "req_id": frame.ReqID})
		return frameResult{pong: pong}, nil
	}
	if !strings.HasPrefix(frame.Topic, "tickers.") || frame.Data.Symbol == "" {
		return frameResult{}, nil
	}
	// Ticker deltas may omit lastPrice; skip those.
	if frame.Data.LastPrice == "" {
		return frameResult{}, nil
	}

	price, err := strconv.ParseFloat(frame.Data.LastPrice, 64)
	if err != nil {
		return frameResult{}, fmt.Errorf("bybit last price %q: %w", frame.Data.LastPrice, err)
	}
	return frameResult{ticks: []tick{{symbol: frame.Data.Symbol, price: price}}}, nil
}

func (v *bybitVenue) tickerURL(symbol string) string {
	return "https://api.bybit.com/v5/market/tickers?category=linear&symbol=" + marketID(symbol)
}

func (v *bybitVenue) parseTicker(data []byte) (float64, error) {
	var payload struct {
		Result struct {
			List []struct {
				LastPrice string `json:"lastPrice"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return 0, fmt.Errorf("bybit ticker: %w", err)
	}
	if len(payload.Result.List) == 0 {
		return 0, fmt.Errorf("bybit ticker: empty response")
	}
	return strconv.ParseFloat(payload.Result.List[0].LastPrice, 64)
}

func (v *bybitVenue) klineURL(symbol string, startMs int64, limit int) string {
	return fmt.Sprintf(
		"https://api.bybit.com/v5/market/kline?category=linear&symbol=%s&interval=1&start=%d&limit=%d",
		marketID(symbol), startMs, limit,
	)
}

func (v *bybitVenue) parseKlines(data []byte) ([]Candle, error) {
	// Kline rows are [start, open, high, low, close, volume, turnover] as
	// strings, newest first.
	var payload struct {
		Result struct {
			List [][]string `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("bybit kline: %w", err)
	}

	candles := make([]Candle, 0, len(payload.Result.List))
	for i := len(payload.Result.List) - 1; i >= 0; i-- {
		row := payload.Result.List[i]
		if len(row) < 6 {
			return nil, fmt.Errorf("bybit kline: short row")
		}
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bybit kline timestamp %q: %w", row[0], err)
		}
		values := make([]float64, 5)
		for j := 1; j <= 5; j++ {
			f, err := strconv.ParseFloat(row[j], 64)
			if err != nil {
				return nil, fmt.Errorf("bybit kline value %q: %w", row[j], err)
			}
			values[j-1] = f
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
