package sentry

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Xeron2000/pricesentry/internal/cache"
	"github.com/Xeron2000/pricesentry/internal/exchange"
	"github.com/Xeron2000/pricesentry/internal/monitor"
)

// Adapter is the contract the supervisor holds over the active exchange.
// The concrete variant behind it is chosen by configuration.
type Adapter interface {
	Name() string
	Start(ctx context.Context, symbols []string) error
	Close() error
	IsConnected() bool
	CheckAndReconnect(ctx context.Context) bool
	Current(ctx context.Context, symbols []string) map[string]float64
	Historical(ctx context.Context, symbols []string, minutes int) map[string]float64
	Klines(ctx context.Context, symbol string, startMs int64, limit int) ([]exchange.Candle, error)
	LastPrices() map[string]float64
}

// AdapterFactory constructs the adapter variant for an exchange name.
type AdapterFactory func(exchangeName string) (Adapter, error)

// StatsSnapshot aggregates the operational stats published to observers.
type StatsSnapshot struct {
	Cache         cache.Stats   `json:"cache"`
	Performance   monitor.Stats `json:"performance"`
	UptimeSeconds float64       `json:"uptime"`
}

// Snapshot is the read-only state pushed to observers after loop
// iterations that changed state.
type Snapshot struct {
	Prices map[string]float64  `json:"prices"`
	Alerts []cache.AlertRecord `json:"alerts"`
	Stats  StatsSnapshot       `json:"stats"`
}

// Observer consumes published snapshots. Publication is fire-and-forget;
// observers must not block.
type Observer interface {
	Publish(Snapshot)
}

// observerRegistry fans snapshots out to registered observers without
// letting any of them block or break the loop.
type observerRegistry struct {
	mu        sync.RWMutex
	observers []Observer
	log       zerolog.Logger
}

func (r *observerRegistry) subscribe(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.observers {
		if existing == o {
			return
		}
	}
	r.observers = append(r.observers, o)
}

func (r *observerRegistry) publish(snapshot Snapshot) {
	r.mu.RLock()
	observers := make([]Observer, len(r.observers))
	copy(observers, r.observers)
	r.mu.RUnlock()

	for _, o := range observers {
		go func(o Observer) {
			defer func() {
				if rec := recover(); rec != nil {
					r.log.Error().Interface("panic", rec).Msg("Observer panicked")
				}
			}()
			o.Publish(snapshot)
		}(o)
	}
}
