package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/Xeron2000/pricesentry/internal/cache"
	"github.com/Xeron2000/pricesentry/internal/monitor"
	"github.com/Xeron2000/pricesentry/internal/reliability"
)

const (
	// startTimeout bounds one websocket dial + subscribe handshake.
	startTimeout = 10 * time.Second
	// maxStartRetries is the number of connect attempts per Start call.
	maxStartRetries = 3
	// startRetryDelay spaces consecutive connect attempts.
	startRetryDelay = 5 * time.Second
	// closeJoinTimeout bounds waiting for the stream worker on Close.
	closeJoinTimeout = 5 * time.Second
	// historicalCutoff is how far a ring point may sit from the target
	// before Historical falls through to REST.
	historicalCutoff = 10 * time.Minute
)

// ErrNotConnected is returned when the live connection cannot be
// established within the retry budget.
var ErrNotConnected = errors.New("websocket connection could not be established")

// State is the adapter's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "disconnected"
	}
}

// wsConn is the slice of *websocket.Conn the adapter uses; tests inject
// fakes through dialFunc.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

type dialFunc func(ctx context.Context, url string) (wsConn, error)

func defaultDial(ctx context.Context, url string) (wsConn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(1 << 20)
	return conn, nil
}

// Adapter owns one venue's live ticker subscription plus its last-price
// map and history ring, and hides reconnection behind a small surface.
type Adapter struct {
	venue    venue
	rest     *restClient
	cache    *cache.PriceCache
	breakers *reliability.BreakerRegistry
	perf     *monitor.PerfMonitor
	log      zerolog.Logger
	dial       dialFunc
	now        func() time.Time
	startDelay time.Duration

	mu         sync.RWMutex
	state      State
	conn       wsConn
	cancel     context.CancelFunc
	workerDone chan struct{}
	lastPrices map[string]float64
	ring       *HistoryRing
}

// NewAdapter builds an adapter for the named exchange. The price cache and
// breaker registry are process-wide; the last-price map and ring belong to
// this adapter and die with it.
func NewAdapter(exchangeName string, priceCache *cache.PriceCache, breakers *reliability.BreakerRegistry, perf *monitor.PerfMonitor, log zerolog.Logger) (*Adapter, error) {
	v, err := newVenue(exchangeName)
	if err != nil {
		return nil, err
	}

	componentLog := log.With().Str("component", "exchange_adapter").Str("exchange", v.name()).Logger()
	return &Adapter{
		venue:      v,
		rest:       newRESTClient(v, log),
		cache:      priceCache,
		breakers:   breakers,
		perf:       perf,
		log:        componentLog,
		dial:       defaultDial,
		now:        time.Now,
		startDelay: startRetryDelay,
		lastPrices: make(map[string]float64),
		ring:       NewHistoryRing(),
	}, nil
}

// Name returns the venue name.
func (a *Adapter) Name() string { return a.venue.name() }

// IsConnected reports whether the live stream is healthy.
func (a *Adapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state == StateConnected
}

// Start establishes the live subscription for symbols. It is idempotent
// while connected and returns after the first successful handshake, or
// with an error once the retry budget (3 attempts, 5s apart) is spent.
// The whole call counts as a single circuit-breaker event.
func (a *Adapter) Start(ctx context.Context, symbols []string) error {
	a.mu.Lock()
	if a.state == StateConnected {
		a.mu.Unlock()
		return nil
	}
	a.state = StateConnecting
	a.mu.Unlock()

	a.log.Info().Int("symbols", len(symbols)).Msg("Starting websocket connection")

	err := a.breakers.Do("websocket_start", 5, 60*time.Second, func() error {
		policy := reliability.RetryPolicy{
			MaxRetries: maxStartRetries - 1,
			BaseDelay:  a.startDelay,
			MaxDelay:   a.startDelay,
			Factor:     1,
		}
		return policy.Do(ctx, "websocket_connect", a.log, func() error {
			return a.connectOnce(ctx, symbols)
		})
	})
	if err != nil {
		a.mu.Lock()
		a.state = StateDisconnected
		a.mu.Unlock()
		a.log.Error().Err(err).Msg("Websocket connection failed")
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	a.log.Info().Msg("Websocket connection established")
	return nil
}

// connectOnce performs one dial + subscribe handshake and, on success,
// installs the connection and spawns the stream worker.
func (a *Adapter) connectOnce(ctx context.Context, symbols []string) error {
	dialCtx, dialCancel := context.WithTimeout(ctx, startTimeout)
	defer dialCancel()

	url := a.venue.streamURL(symbols)
	conn, err := a.dial(dialCtx, url)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}

	for _, payload := range a.venue.subscribePayloads(symbols) {
		writeCtx, writeCancel := context.WithTimeout(ctx, startTimeout)
		err := conn.Write(writeCtx, websocket.MessageText, payload)
		writeCancel()
		if err != nil {
			conn.Close(websocket.StatusNormalClosure, "subscribe failed")
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	a.mu.Lock()
	a.conn = conn
	a.cancel = connCancel
	a.workerDone = done
	a.state = StateConnected
	a.mu.Unlock()

	go a.readLoop(connCtx, conn, symbols, done)
	return nil
}

// readLoop is the stream worker: the sole writer to the last-price map and
// history ring. Parse errors are logged and skipped; transport errors end
// the loop and mark the adapter disconnected.
func (a *Adapter) readLoop(ctx context.Context, conn wsConn, symbols []string, done chan struct{}) {
	defer close(done)
	defer func() {
		a.mu.Lock()
		if a.state != StateClosing {
			a.state = StateDisconnected
		}
		a.mu.Unlock()
		a.log.Info().Msg("Stream worker stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				a.log.Info().Int("status", int(status)).Msg("Websocket closed")
			} else {
				a.log.Error().Err(err).Msg("Websocket read error")
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		result, err := a.venue.parseFrame(data)
		if err != nil {
			a.perf.Count("stream_parse_errors", 1)
			a.log.Warn().Err(err).Msg("Dropping unparseable frame")
			continue
		}

		if result.pong != nil {
			if err := conn.Write(ctx, websocket.MessageText, result.pong); err != nil {
				a.log.Warn().Err(err).Msg("Failed to answer ping")
			}
			continue
		}

		for _, tk := range result.ticks {
			symbol := canonicalFor(tk.symbol, symbols)
			a.mu.Lock()
			a.lastPrices[symbol] = tk.price
			a.mu.Unlock()
			a.ring.Record(symbol, tk.price)
			a.perf.Count("stream_ticks", 1)
		}
	}
}

// Current returns the most recent price per requested symbol. Lookup
// order: price cache, then the live map when the stream is healthy, then
// REST; REST hits repopulate the cache. Missing symbols are absent from
// the result.
func (a *Adapter) Current(ctx context.Context, symbols []string) map[string]float64 {
	defer a.perf.Timer("get_current_prices")()

	result := a.cache.GetPrices(symbols)
	missing := missingFrom(symbols, result)

	if len(missing) == 0 {
		a.recordHitRate(symbols, 0)
		return result
	}

	if a.IsConnected() {
		a.mu.RLock()
		live := make(map[string]float64, len(missing))
		for _, s := range missing {
			if price, ok := a.lastPrices[s]; ok {
				live[s] = price
			}
		}
		a.mu.RUnlock()
		for s, price := range live {
			result[s] = price
			a.cache.Set(s, price)
		}
		missing = missingFrom(symbols, result)
	}

	for _, s := range missing {
		price, err := a.rest.Ticker(ctx, s)
		if err != nil {
			a.perf.Count("api_errors", 1)
			a.log.Warn().Err(err).Str("symbol", s).Msg("REST ticker fetch failed")
			continue
		}
		result[s] = price
		a.cache.Set(s, price)
	}

	a.recordHitRate(symbols, len(missing))
	return result
}

func (a *Adapter) recordHitRate(symbols []string, missed int) {
	if len(symbols) == 0 {
		return
	}
	rate := float64(len(symbols)-missed) / float64(len(symbols)) * 100
	a.perf.Gauge("cache_hit_rate", rate)
}

func missingFrom(symbols []string, have map[string]float64) []string {
	var missing []string
	for _, s := range symbols {
		if _, ok := have[s]; !ok {
			missing = append(missing, s)
		}
	}
	return missing
}

// Historical returns the reference price from minutes ago per symbol. With
// a healthy stream it serves from the ring unless the closest point sits
// more than ten minutes from the target; otherwise it fetches the close of
// the 1-minute candle opening at the target time.
func (a *Adapter) Historical(ctx context.Context, symbols []string, minutes int) map[string]float64 {
	defer a.perf.Timer("get_historical_prices")()

	targetMs := a.now().UnixMilli() - int64(minutes)*60_000
	result := make(map[string]float64, len(symbols))

	useRing := a.IsConnected()
	for _, s := range symbols {
		if useRing {
			if point, ok := a.ring.Closest(s, targetMs); ok {
				if absInt64(point.Timestamp-targetMs) <= historicalCutoff.Milliseconds() {
					result[s] = point.Price
					continue
				}
			}
		}

		price, err := a.rest.KlineClose(ctx, s, targetMs)
		if err != nil {
			a.perf.Count("api_errors", 1)
			a.log.Warn().Err(err).Str("symbol", s).Msg("REST OHLCV fetch failed")
			continue
		}
		result[s] = price
	}

	return result
}

// Klines exposes the venue's 1-minute OHLCV series for chart generation.
func (a *Adapter) Klines(ctx context.Context, symbol string, startMs int64, limit int) ([]Candle, error) {
	return a.rest.Klines(ctx, symbol, startMs, limit)
}

// LastPrices returns a copy of the live last-price map.
func (a *Adapter) LastPrices() map[string]float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]float64, len(a.lastPrices))
	for k, v := range a.lastPrices {
		out[k] = v
	}
	return out
}

// CheckAndReconnect re-enters Start with the currently-known symbol set
// (the keys of the last-price map). It fails when that set is empty or
// the reconnect breaker is open. Returns whether the stream is healthy.
func (a *Adapter) CheckAndReconnect(ctx context.Context) bool {
	if a.IsConnected() {
		return true
	}

	err := a.breakers.Do("websocket_reconnect", 3, 30*time.Second, func() error {
		a.mu.RLock()
		symbols := make([]string, 0, len(a.lastPrices))
		for s := range a.lastPrices {
			symbols = append(symbols, s)
		}
		a.mu.RUnlock()

		if len(symbols) == 0 {
			return errors.New("no known symbols for reconnection")
		}
		return a.Start(ctx, symbols)
	})
	if err != nil {
		a.log.Warn().Err(err).Msg("Reconnection attempt failed")
		return false
	}
	return true
}

// Close tears down the websocket and joins the stream worker within a 5s
// timeout; a worker that fails to exit is logged and abandoned. Close is
// idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.state == StateDisconnected && a.conn == nil {
		a.mu.Unlock()
		return nil
	}
	a.state = StateClosing
	conn := a.conn
	cancel := a.cancel
	done := a.workerDone
	a.conn = nil
	a.cancel = nil
	a.workerDone = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(closeJoinTimeout):
			a.log.Warn().Msg("Stream worker did not exit within timeout; abandoning")
		}
	}

	a.mu.Lock()
	a.state = StateDisconnected
	a.mu.Unlock()
	a.log.Info().Msg("Exchange adapter closed")
	return nil
}
