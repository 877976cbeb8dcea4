package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/Xeron2000/pricesentry/internal/cache"
	"github.com/Xeron2000/pricesentry/internal/monitor"
	"github.com/Xeron2000/pricesentry/internal/reliability"
)

// fakeVenue routes REST calls to a test server and speaks a trivial frame
// format: {"symbol":"BTCUSDT","price":1.0} or the literal "ping".
type fakeVenue struct {
	restBase string
}

func (v *fakeVenue) name() string                        { return "fake" }
func (v *fakeVenue) streamURL([]string) string           { return "ws://fake" }
func (v *fakeVenue) subscribePayloads([]string) [][]byte { return [][]byte{[]byte(`{"op":"subscribe"}`)} }

func (v *fakeVenue) parseFrame(data []byte) (frameResult, error) {
	if string(data) == "ping" {
		return frameResult{pong: []byte("pong")}, nil
	}
	var frame struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return frameResult{}, err
	}
	if frame.Symbol == "" {
		return frameResult{}, nil
	}
	return frameResult{ticks: []tick{{symbol: frame.Symbol, price: frame.Price}}}, nil
}

func (v *fakeVenue) tickerURL(symbol string) string {
	return v.restBase + "/ticker?symbol=" + marketID(symbol)
}

func (v *fakeVenue) parseTicker(data []byte) (float64, error) {
	var payload struct {
		Price float64 `json:"price"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return 0, err
	}
	return payload.Price, nil
}

func (v *fakeVenue) klineURL(symbol string, startMs int64, limit int) string {
	return fmt.Sprintf("%s/kline?symbol=%s&start=%d&limit=%d", v.restBase, marketID(symbol), startMs, limit)
}

func (v *fakeVenue) parseKlines(data []byte) ([]Candle, error) {
	var candles []Candle
	if err := json.Unmarshal(data, &candles); err != nil {
		return nil, err
	}
	return candles, nil
}

// fakeConn delivers frames from a channel and records writes.
type fakeConn struct {
	mu     sync.Mutex
	in     chan []byte
	writes [][]byte
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16)}
}

func (c *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case msg, ok := <-c.in:
		if !ok {
			return 0, nil, errors.New("connection closed")
		}
		return websocket.MessageText, msg, nil
	}
}

func (c *fakeConn) Write(_ context.Context, _ websocket.MessageType, p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), p...))
	return nil
}

func (c *fakeConn) Close(websocket.StatusCode, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.in)
	}
	return nil
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

func newTestAdapter(v venue, dial dialFunc) *Adapter {
	a := &Adapter{
		venue:      v,
		rest:       newRESTClient(v, zerolog.Nop()),
		cache:      cache.NewPriceCache(100, time.Minute),
		breakers:   reliability.NewBreakerRegistry(zerolog.Nop()),
		perf:       monitor.New(),
		log:        zerolog.Nop(),
		dial:       dial,
		now:        time.Now,
		startDelay: time.Millisecond,
		lastPrices: make(map[string]float64),
		ring:       NewHistoryRing(),
	}
	a.rest.client.RetryMax = 0
	return a
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestAdapter_StartSubscribesAndProcessesTicks(t *testing.T) {
	conn := newFakeConn()
	a := newTestAdapter(&fakeVenue{}, func(context.Context, string) (wsConn, error) {
		return conn, nil
	})

	require.NoError(t, a.Start(context.Background(), []string{"BTC/USDT:USDT"}))
	assert.True(t, a.IsConnected())
	assert.Equal(t, 1, conn.writeCount(), "subscribe frame should be sent")

	conn.in <- []byte(`{"symbol":"BTCUSDT","price":65000}`)
	waitFor(t, func() bool { return len(a.LastPrices()) == 1 })

	prices := a.LastPrices()
	assert.Equal(t, 65000.0, prices["BTC/USDT:USDT"], "symbol should be canonicalized")
	assert.Equal(t, 1, a.ring.Len("BTC/USDT:USDT"))

	require.NoError(t, a.Close())
	assert.False(t, a.IsConnected())
}

func TestAdapter_StartIdempotentWhileConnected(t *testing.T) {
	dials := 0
	a := newTestAdapter(&fakeVenue{}, func(context.Context, string) (wsConn, error) {
		dials++
		return newFakeConn(), nil
	})

	require.NoError(t, a.Start(context.Background(), []string{"BTC/USDT:USDT"}))
	require.NoError(t, a.Start(context.Background(), []string{"BTC/USDT:USDT"}))
	assert.Equal(t, 1, dials)
	a.Close()
}

func TestAdapter_PingAnsweredWithPong(t *testing.T) {
	conn := newFakeConn()
	a := newTestAdapter(&fakeVenue{}, func(context.Context, string) (wsConn, error) {
		return conn, nil
	})
	require.NoError(t, a.Start(context.Background(), []string{"BTC/USDT:USDT"}))

	conn.in <- []byte("ping")
	waitFor(t, func() bool { return conn.writeCount() == 2 })

	conn.mu.Lock()
	last := string(conn.writes[1])
	conn.mu.Unlock()
	assert.Equal(t, "pong", last)
	a.Close()
}

func TestAdapter_ParseErrorDoesNotTearDown(t *testing.T) {
	conn := newFakeConn()
	a := newTestAdapter(&fakeVenue{}, func(context.Context, string) (wsConn, error) {
		return conn, nil
	})
	require.NoError(t, a.Start(context.Background(), []string{"BTC/USDT:USDT"}))

	conn.in <- []byte("!!not json!!")
	conn.in <- []byte(`{"symbol":"BTCUSDT","price":1}`)
	waitFor(t, func() bool { return len(a.LastPrices()) == 1 })
	assert.True(t, a.IsConnected())
	a.Close()
}

func TestAdapter_TransportLossMarksDisconnected(t *testing.T) {
	conn := newFakeConn()
	a := newTestAdapter(&fakeVenue{}, func(context.Context, string) (wsConn, error) {
		return conn, nil
	})
	require.NoError(t, a.Start(context.Background(), []string{"BTC/USDT:USDT"}))

	conn.Close(websocket.StatusNormalClosure, "")
	waitFor(t, func() bool { return !a.IsConnected() })
}

// Start exhausts its three attempts with backoff and records exactly one
// breaker failure for the whole call.
func TestAdapter_StartRetryBudget(t *testing.T) {
	attempts := 0
	a := newTestAdapter(&fakeVenue{}, func(context.Context, string) (wsConn, error) {
		attempts++
		return nil, errors.New("refused")
	})

	err := a.Start(context.Background(), []string{"BTC/USDT:USDT"})
	require.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 3, attempts)
	assert.False(t, a.IsConnected())

	counts := a.breakers.Get("websocket_start", 5, time.Minute).Counts()
	assert.Equal(t, uint32(1), counts.TotalFailures)
}

func TestAdapter_CheckAndReconnectRequiresKnownSymbols(t *testing.T) {
	a := newTestAdapter(&fakeVenue{}, func(context.Context, string) (wsConn, error) {
		return newFakeConn(), nil
	})
	// No last prices yet: reconnect must fail.
	assert.False(t, a.CheckAndReconnect(context.Background()))
}

func TestAdapter_CheckAndReconnectUsesLastPriceKeys(t *testing.T) {
	conn := newFakeConn()
	dials := 0
	a := newTestAdapter(&fakeVenue{}, func(context.Context, string) (wsConn, error) {
		dials++
		if dials == 1 {
			return conn, nil
		}
		return newFakeConn(), nil
	})

	require.NoError(t, a.Start(context.Background(), []string{"BTC/USDT:USDT"}))
	conn.in <- []byte(`{"symbol":"BTCUSDT","price":65000}`)
	waitFor(t, func() bool { return len(a.LastPrices()) == 1 })

	// Drop the transport.
	conn.Close(websocket.StatusNormalClosure, "")
	waitFor(t, func() bool { return !a.IsConnected() })

	assert.True(t, a.CheckAndReconnect(context.Background()))
	assert.True(t, a.IsConnected())
	assert.Equal(t, 2, dials)
	a.Close()
}

func TestAdapter_CurrentFromLiveMap(t *testing.T) {
	conn := newFakeConn()
	a := newTestAdapter(&fakeVenue{}, func(context.Context, string) (wsConn, error) {
		return conn, nil
	})
	require.NoError(t, a.Start(context.Background(), []string{"BTC/USDT:USDT"}))
	conn.in <- []byte(`{"symbol":"BTCUSDT","price":64000}`)
	waitFor(t, func() bool { return len(a.LastPrices()) == 1 })

	got := a.Current(context.Background(), []string{"BTC/USDT:USDT"})
	assert.Equal(t, map[string]float64{"BTC/USDT:USDT": 64000}, got)

	// Second read hits the now-populated cache.
	got = a.Current(context.Background(), []string{"BTC/USDT:USDT"})
	assert.Equal(t, 64000.0, got["BTC/USDT:USDT"])
	assert.GreaterOrEqual(t, a.cache.Stats().Hits, int64(1))
	a.Close()
}

// Cache hit/miss accounting with the stream down: first read misses twice
// and fetches over REST, the second read serves both from cache, and after
// TTL expiry both are re-fetched.
func TestAdapter_CurrentRESTAccounting(t *testing.T) {
	var restCalls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		restCalls.Add(1)
		json.NewEncoder(w).Encode(map[string]float64{"price": 123.4})
	}))
	defer server.Close()

	a := newTestAdapter(&fakeVenue{restBase: server.URL}, nil)
	a.cache = cache.NewPriceCache(100, 50*time.Millisecond)

	symbols := []string{"A/USDT:USDT", "B/USDT:USDT"}

	got := a.Current(context.Background(), symbols)
	assert.Len(t, got, 2)
	assert.Equal(t, int64(2), restCalls.Load())
	assert.Equal(t, int64(2), a.cache.Stats().Misses)

	got = a.Current(context.Background(), symbols)
	assert.Len(t, got, 2)
	assert.Equal(t, int64(2), restCalls.Load(), "within TTL no REST calls")
	assert.Equal(t, int64(2), a.cache.Stats().Hits)

	time.Sleep(60 * time.Millisecond)
	got = a.Current(context.Background(), symbols)
	assert.Len(t, got, 2)
	assert.Equal(t, int64(4), restCalls.Load(), "expired entries re-fetched")
	assert.Equal(t, int64(2), a.cache.Stats().Expirations)
}

func TestAdapter_CurrentMissingSymbolAbsent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	a := newTestAdapter(&fakeVenue{restBase: server.URL}, nil)
	got := a.Current(context.Background(), []string{"GHOST/USDT:USDT"})
	assert.Empty(t, got)
}

// History closest-point selection and the ten-minute REST cutoff.
func TestAdapter_HistoricalFromRing(t *testing.T) {
	a := newTestAdapter(&fakeVenue{}, nil)
	a.mu.Lock()
	a.state = StateConnected
	a.mu.Unlock()

	now := time.Now()
	for _, p := range []struct {
		ts    int64
		price float64
	}{{1000, 100.0}, {60000, 101.0}, {120000, 102.0}} {
		a.ring.recordAt("X/USDT:USDT", p.price, p.ts, now)
	}

	// now=120s, minutes=1 -> target 60s -> closest is (60000, 101).
	a.now = func() time.Time { return time.UnixMilli(120_000) }
	got := a.Historical(context.Background(), []string{"X/USDT:USDT"}, 1)
	assert.Equal(t, map[string]float64{"X/USDT:USDT": 101.0}, got)

	// now=600s, minutes=1 -> target 540s; closest point (120s) is 7 minutes
	// (420s) away, inside the cutoff, so the ring still serves.
	a.now = func() time.Time { return time.UnixMilli(600_000) }
	got = a.Historical(context.Background(), []string{"X/USDT:USDT"}, 1)
	assert.Equal(t, map[string]float64{"X/USDT:USDT": 102.0}, got)
}

func TestAdapter_HistoricalFallsThroughToREST(t *testing.T) {
	var klineCalls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		klineCalls.Add(1)
		start, _ := strconv.ParseInt(r.URL.Query().Get("start"), 10, 64)
		json.NewEncoder(w).Encode([]Candle{{Timestamp: start, Close: 99.5}})
	}))
	defer server.Close()

	a := newTestAdapter(&fakeVenue{restBase: server.URL}, nil)
	a.mu.Lock()
	a.state = StateConnected
	a.mu.Unlock()
	a.ring.recordAt("X/USDT:USDT", 102.0, 120_000, time.Now())

	// now=840s, minutes=1 -> target 780s; closest point (120s) is 660s away,
	// beyond the ten-minute cutoff.
	a.now = func() time.Time { return time.UnixMilli(840_000) }
	got := a.Historical(context.Background(), []string{"X/USDT:USDT"}, 1)
	assert.Equal(t, map[string]float64{"X/USDT:USDT": 99.5}, got)
	assert.Equal(t, int64(1), klineCalls.Load())
}

func TestAdapter_HistoricalDisconnectedGoesStraightToREST(t *testing.T) {
	var klineCalls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		klineCalls.Add(1)
		json.NewEncoder(w).Encode([]Candle{{Timestamp: 0, Close: 50}})
	}))
	defer server.Close()

	a := newTestAdapter(&fakeVenue{restBase: server.URL}, nil)
	a.ring.recordAt("X/USDT:USDT", 102.0, time.Now().UnixMilli(), time.Now())

	got := a.Historical(context.Background(), []string{"X/USDT:USDT"}, 5)
	assert.Equal(t, map[string]float64{"X/USDT:USDT": 50.0}, got)
	assert.Equal(t, int64(1), klineCalls.Load())
}

func TestAdapter_CloseIdempotent(t *testing.T) {
	a := newTestAdapter(&fakeVenue{}, func(context.Context, string) (wsConn, error) {
		return newFakeConn(), nil
	})
	require.NoError(t, a.Start(context.Background(), []string{"BTC/USDT:USDT"}))
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}
