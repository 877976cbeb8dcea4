// Package chart prepares OHLCV series for the pluggable chart renderer.
// Rendering itself is an external concern: the core fetches the candles,
// computes the moving-average overlays, and hands everything to whatever
// Renderer is configured.
package chart

import (
	"context"
	"fmt"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/Xeron2000/pricesentry/internal/config"
	"github.com/Xeron2000/pricesentry/internal/exchange"
)

// maxChartSymbols caps how many movers one composite chart covers.
const maxChartSymbols = 6

// Series is one symbol's candle data plus its moving-average overlays
// keyed by window size.
type Series struct {
	Symbol  string
	Candles []exchange.Candle
	MAs     map[int][]float64
}

// Options are the renderer inputs taken from configuration.
type Options struct {
	Theme     string
	Width     int
	Height    int
	Scale     int
	Timezone  string
	Timeframe string
}

// Renderer turns prepared series into image bytes.
type Renderer interface {
	Render(series []Series, opts Options) ([]byte, error)
}

// NopRenderer renders nothing; it stands in when no real renderer is
// plugged.
type NopRenderer struct{}

// Render implements Renderer.
func (NopRenderer) Render([]Series, Options) ([]byte, error) { return nil, nil }

// KlineSource supplies 1-minute candles, normally the exchange adapter.
type KlineSource interface {
	Klines(ctx context.Context, symbol string, startMs int64, limit int) ([]exchange.Candle, error)
}

// Builder assembles chart data for the top movers and invokes the
// renderer.
type Builder struct {
	renderer Renderer
	log      zerolog.Logger
	now      func() time.Time
}

// NewBuilder builds a chart builder. A nil renderer falls back to the nop
// renderer.
func NewBuilder(renderer Renderer, log zerolog.Logger) *Builder {
	if renderer == nil {
		renderer = NopRenderer{}
	}
	return &Builder{
		renderer: renderer,
		log:      log.With().Str("component", "chart_builder").Logger(),
		now:      time.Now,
	}
}

// Build fetches the lookback window for up to six symbols, computes the
// configured moving averages, and renders the composite image. Symbols
// whose candles cannot be fetched are skipped; an error is returned only
// when nothing could be prepared.
func (b *Builder) Build(ctx context.Context, source KlineSource, symbols []string, cfg config.Config) ([]byte, error) {
	if len(symbols) > maxChartSymbols {
		symbols = symbols[:maxChartSymbols]
	}

	lookback := cfg.ChartLookbackMinutes
	if lookback <= 0 {
		lookback = 60
	}
	startMs := b.now().Add(-time.Duration(lookback) * time.Minute).UnixMilli()

	var series []Series
	for _, symbol := range symbols {
		candles, err := source.Klines(ctx, symbol, startMs, lookback)
		if err != nil {
			b.log.Warn().Err(err).Str("symbol", symbol).Msg("Skipping symbol in chart")
			continue
		}
		if len(candles) == 0 {
			continue
		}
		series = append(series, Series{
			Symbol:  symbol,
			Candles: candles,
			MAs:     movingAverages(candles, cfg.ChartIncludeMA),
		})
	}

	if len(series) == 0 {
		return nil, fmt.Errorf("no chart data available for %d symbols", len(symbols))
	}

	return b.renderer.Render(series, Options{
		Theme:     cfg.ChartTheme,
		Width:     cfg.ChartImageWidth,
		Height:    cfg.ChartImageHeight,
		Scale:     cfg.ChartImageScale,
		Timezone:  cfg.NotificationTimezone,
		Timeframe: cfg.ChartTimeframe,
	})
}

// movingAverages computes simple moving averages of the closes for each
// requested window. Windows longer than the series are skipped.
func movingAverages(candles []exchange.Candle, windows []int) map[int][]float64 {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	out := make(map[int][]float64, len(windows))
	for _, w := range windows {
		if w <= 0 || w > len(closes) {
			continue
		}
		out[w] = talib.Ma(closes, w, talib.SMA)
	}
	return out
}
