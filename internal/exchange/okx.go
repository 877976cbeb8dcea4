package exchange

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// okxVenue streams perpetual swap tickers from the OKX public endpoint.
type okxVenue struct{}

func (v *okxVenue) name() string { return "okx" }

func (v *okxVenue) streamURL([]string) string {
	return "wss://ws.okx.com:8443/ws/v5/public"
}

// okxInstID converts a canonical symbol into OKX's BTC-USDT-SWAP form.
func okxInstID(symbol string) string {
	base := symbol
	if idx := strings.Index(base, ":"); idx >= 0 {
		base = base[:idx]
	}
	return strings.ToUpper(strings.ReplaceAll(base, "/", "-")) + "-SWAP"
}

func (v *okxVenue) subscribePayloads(symbols []string) [][]byte {
	args := make([]map[string]string, 0, len(symbols))
	for _, s := range symbols {
		args = append(args, map[string]string{
			"channel": "tickers",
			"instId":  okxInstID(s),
		})
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"op":   "subscribe",
		"args": args,
	})
	return [][]byte{payload}
}

func (v *okxVenue) parseFrame(data []byte) (frameResult, error) {
	// OKX answers keepalive with a bare text "ping"/"pong" pair.
	if string(data) == "ping" {
		return frameResult{pong: []byte("pong")}, nil
	}

	var frame struct {
		Event string `json:"event"`
		Arg   struct {
			Channel string `json:"channel"`
		} `json:"arg"`
		Data []struct {
			InstID string `json:"instId"`
			Last   string `json:"last"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return frameResult{}, fmt.Errorf("okx frame: %w", err)
	}

	// Subscription acks and errors carry an event field; not ticker data.
	if frame.Event != "" || frame.Arg.Channel != "tickers" {
		return frameResult{}, nil
	}

	var ticks []tick
	for _, d := range frame.Data {
		price, err := strconv.ParseFloat(d.Last, 64)
		if err != nil {
			return frameResult{}, fmt.Errorf("okx last price %q: %w", d.Last, err)
		}
		// BTC-USDT-SWAP -> BTCUSDT native form shared with canonicalFor.
		native := strings.ReplaceAll(strings.TrimSuffix(d.InstID, "-SWAP"), "-", "")
		ticks = append(ticks, tick{symbol: native, price: price})
	}
	return frameResult{ticks: ticks}, nil
}

func (v *okxVenue) tickerURL(symbol string) string {
	return "https://www.okx.com/api/v5/market/ticker?instId=" + okxInstID(symbol)
}

func (v *okxVenue) parseTicker(data []byte) (float64, error) {
	var payload struct {
		Data []struct {
			Last string `json:"last"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return 0, fmt.Errorf("okx ticker: %w", err)
	}
	if len(payload.Data) == 0 {
		return 0, fmt.Errorf("okx ticker: empty response")
	}
	return strconv.ParseFloat(payload.Data[0].Last, 64)
}

func (v *okxVenue) klineURL(symbol string, startMs int64, limit int) string {
	// "after" pages backwards from the given timestamp, so limit candles at
	// after=start+limit*60s cover the window opening at start.
	return fmt.Sprintf(
		"https://www.okx.com/api/v5/market/history-candles?instId=%s&bar=1m&after=%d&limit=%d",
		okxInstID(symbol), startMs+int64(limit)*60_000, limit,
	)
}

func (v *okxVenue) parseKlines(data []byte) ([]Candle, error) {
	// Candle rows are [ts, open, high, low, close, volume, ...] as
	// strings, newest first.
	var payload struct {
		Data [][]string `json:"data"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("okx candles: %w", err)
	}

	candles := make([]Candle, 0, len(payload.Data))
	for i := len(payload.Data) - 1; i >= 0; i-- {
		row := payload.Data[i]
		if len(row) < 6 {
			return nil, fmt.Errorf("okx candles: short row")
		}
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("okx candle timestamp %q: %w", row[0], err)
		}
		values := make([]float64, 5)
		for j := 1; j <= 5; j++ {
			f, err := strconv.ParseFloat(row[j], 64)
			if err != nil {
				return nil, fmt.Errorf("okx candle value %q: %w", row[j], err)
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
