// Package sentry owns the main monitoring loop: it coordinates the
// configuration store, the exchange adapter, the movement detector, and
// the notifier, and publishes state snapshots to observers.
package sentry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Xeron2000/pricesentry/internal/cache"
	"github.com/Xeron2000/pricesentry/internal/chart"
	"github.com/Xeron2000/pricesentry/internal/config"
	"github.com/Xeron2000/pricesentry/internal/detector"
	"github.com/Xeron2000/pricesentry/internal/errs"
	"github.com/Xeron2000/pricesentry/internal/market"
	"github.com/Xeron2000/pricesentry/internal/monitor"
	"github.com/Xeron2000/pricesentry/internal/notify"
	"github.com/Xeron2000/pricesentry/internal/symbols"
)

const (
	// loopSleep is the cooperative pause between loop iterations.
	loopSleep = time.Second
	// reconnectCheckInterval is how often a dead stream is probed.
	reconnectCheckInterval = time.Minute
	// configApplyBudget is the soft processing budget per config event;
	// exceeding it is a warning.
	configApplyBudget = 5 * time.Second
	// configEventBuffer bounds the pending config-update queue.
	configEventBuffer = 16
)

// Notifier is the outbound delivery surface the supervisor drives.
type Notifier interface {
	Send(ctx context.Context, message string, photo []byte)
	UpdateConfig(cfg config.Config)
}

// ChartBuilder renders the optional alert chart.
type ChartBuilder interface {
	Build(ctx context.Context, source chart.KlineSource, symbols []string, cfg config.Config) ([]byte, error)
}

// Deps wires the supervisor's collaborators.
type Deps struct {
	Store      *config.Store
	Catalog    *market.Catalog
	Notifier   Notifier
	Chart      ChartBuilder
	Alerts     *cache.AlertHistory
	PriceCache *cache.PriceCache
	Perf       *monitor.PerfMonitor
	NewAdapter AdapterFactory
	Log        zerolog.Logger
}

// Supervisor runs the monitoring loop.
type Supervisor struct {
	store      *config.Store
	catalog    *market.Catalog
	detector   *detector.Detector
	cooldown   *notify.Cooldown
	notifier   Notifier
	chart      ChartBuilder
	alerts     *cache.AlertHistory
	priceCache *cache.PriceCache
	perf       *monitor.PerfMonitor
	newAdapter AdapterFactory
	observers  observerRegistry
	log        zerolog.Logger

	events chan config.UpdateEvent

	mu              sync.Mutex
	adapter         Adapter
	cfg             config.Config
	minutes         int
	threshold       float64
	checkInterval   time.Duration
	cooldownSeconds int
	bypassHigh      bool
	thresholds      notify.Thresholds
	matchedSymbols  []string
	allowedSymbols  []string

	lastTick time.Time

	now   func() time.Time
	sleep time.Duration
}

// New boots a supervisor: it validates the configured exchange against the
// market catalog, constructs the adapter, and resolves the symbol universe.
func New(deps Deps) (*Supervisor, error) {
	cfg := deps.Store.Get()

	if len(deps.Catalog.Symbols(cfg.Exchange)) == 0 {
		return nil, errs.Config("sentry_boot",
			fmt.Errorf("market catalog has no symbols for exchange %q", cfg.Exchange))
	}

	adapter, err := deps.NewAdapter(cfg.Exchange)
	if err != nil {
		return nil, errs.Config("sentry_boot", err)
	}

	s := &Supervisor{
		store:      deps.Store,
		catalog:    deps.Catalog,
		detector:   detector.New(deps.Log),
		cooldown:   notify.NewCooldown(),
		notifier:   deps.Notifier,
		chart:      deps.Chart,
		alerts:     deps.Alerts,
		priceCache: deps.PriceCache,
		perf:       deps.Perf,
		newAdapter: deps.NewAdapter,
		log:        deps.Log.With().Str("component", "sentry").Logger(),
		events:     make(chan config.UpdateEvent, configEventBuffer),
		adapter:    adapter,
		now:        time.Now,
		sleep:      loopSleep,
	}
	s.observers.log = s.log

	s.applyConfig(cfg)
	s.resolveSymbols(cfg)
	return s, nil
}

// Subscribe registers an observer for snapshot publication.
func (s *Supervisor) Subscribe(o Observer) {
	s.observers.subscribe(o)
}

// ConfigUpdated implements config.Subscriber: events queue in FIFO order
// for the loop to drain between detection ticks.
func (s *Supervisor) ConfigUpdated(event config.UpdateEvent) {
	select {
	case s.events <- event:
	default:
		s.log.Warn().Msg("Config event queue full; dropping update event")
	}
}

// MatchedSymbols returns the currently monitored canonical symbols.
func (s *Supervisor) MatchedSymbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.matchedSymbols...)
}

// Run executes the main loop until ctx is cancelled. The adapter is closed
// on the way out.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	matched := append([]string(nil), s.matchedSymbols...)
	adapter := s.adapter
	s.mu.Unlock()

	if len(matched) == 0 {
		return errs.Config("sentry_run", fmt.Errorf("no matched symbols; check the symbols file"))
	}

	if err := adapter.Start(ctx, matched); err != nil {
		return errs.Network("sentry_run", err)
	}
	s.log.Info().Int("symbols", len(matched)).Str("exchange", adapter.Name()).Msg("Live stream started")

	s.store.Subscribe(s)
	defer s.store.Unsubscribe(s)
	defer func() {
		s.mu.Lock()
		a := s.adapter
		s.mu.Unlock()
		if err := a.Close(); err != nil {
			s.log.Warn().Err(err).Msg("Adapter close failed during shutdown")
		}
	}()

	var lastReconnectCheck time.Time

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Supervisor interrupted; shutting down")
			return nil
		default:
		}

		s.drainConfigEvents(ctx)

		s.mu.Lock()
		minutes := s.minutes
		threshold := s.threshold
		interval := s.checkInterval
		symbolsSnapshot := append([]string(nil), s.matchedSymbols...)
		s.mu.Unlock()

		now := s.now()
		if now.Sub(s.lastTick) >= interval {
			if len(symbolsSnapshot) == 0 {
				s.log.Warn().Msg("No symbols available for monitoring")
			} else {
				s.runTick(ctx, minutes, threshold, symbolsSnapshot)
			}
			// The tick advances regardless of the detection outcome.
			s.lastTick = now
			s.publish()
		}

		if now.Sub(lastReconnectCheck) >= reconnectCheckInterval {
			lastReconnectCheck = now
			s.mu.Lock()
			adapter := s.adapter
			s.mu.Unlock()
			if !adapter.IsConnected() {
				s.log.Warn().Msg("Live stream disconnected; attempting reconnect")
				adapter.CheckAndReconnect(ctx)
			}
			s.publish()
		}

		select {
		case <-ctx.Done():
			s.log.Info().Msg("Supervisor interrupted; shutting down")
			return nil
		case <-time.After(s.sleep):
		}
	}
}

// runTick executes one detection pass. A panicking tick is abandoned at
// this boundary; the loop keeps running.
func (s *Supervisor) runTick(ctx context.Context, minutes int, threshold float64, symbolsSnapshot []string) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error().Interface("panic", rec).Msg("Detector tick abandoned")
		}
	}()
	defer s.perf.Timer("detector_tick")()

	s.mu.Lock()
	cfg := s.cfg.Clone()
	allowed := append([]string(nil), s.allowedSymbols...)
	cooldownSeconds := s.cooldownSeconds
	bypassHigh := s.bypassHigh
	thresholds := s.thresholds
	adapter := s.adapter
	s.mu.Unlock()

	result := s.detector.Detect(ctx, adapter, detector.Params{
		Minutes:         minutes,
		Symbols:         symbolsSnapshot,
		Threshold:       threshold,
		AllowedSymbols:  allowed,
		Cooldown:        s.cooldown,
		CooldownSeconds: cooldownSeconds,
		BypassHigh:      bypassHigh,
		Thresholds:      thresholds,
		Timezone:        cfg.NotificationTimezone,
	})
	if result == nil {
		s.log.Debug().Msg("No price movements exceeding threshold")
		return
	}

	s.log.Info().Int("movers", len(result.Movers)).Msg("Price movements detected")
	s.perf.Count("alerts_emitted", int64(len(result.Movers)))

	// Record per-symbol alerts for observers.
	prices := adapter.LastPrices()
	for _, m := range result.Movers {
		s.alerts.Add(cache.AlertRecord{
			Symbol:        m.Symbol,
			Message:       fmt.Sprintf("%s moved %.2f%% in %dm", m.Symbol, m.ChangePercent, minutes),
			Severity:      m.Priority.Severity(),
			Price:         prices[m.Symbol],
			ChangePercent: m.ChangePercent,
			Threshold:     threshold,
			Minutes:       minutes,
		})
	}

	var image []byte
	if cfg.AttachChart && s.chart != nil {
		chartSymbols := make([]string, 0, len(result.Movers))
		for _, m := range result.Movers {
			chartSymbols = append(chartSymbols, m.Symbol)
		}
		img, err := s.chart.Build(ctx, adapter, chartSymbols, cfg)
		if err != nil {
			s.log.Warn().Err(err).Msg("Chart generation failed; sending without image")
		} else {
			image = img
		}
	}

	s.notifier.Send(ctx, result.Message, image)

	// Cooldowns only start after the send attempt.
	for _, m := range result.Movers {
		s.cooldown.Record(m.Symbol)
	}
}

// drainConfigEvents applies every queued configuration update in FIFO
// order before the next detection tick.
func (s *Supervisor) drainConfigEvents(ctx context.Context) {
	for {
		select {
		case event := <-s.events:
			s.applyConfigUpdate(ctx, event)
		default:
			return
		}
	}
}

func (s *Supervisor) applyConfigUpdate(ctx context.Context, event config.UpdateEvent) {
	start := s.now()
	s.log.Info().Strs("changed", event.Diff.ChangedList()).Msg("Processing configuration update")
	for _, w := range event.Warnings {
		s.log.Warn().Msg(w)
	}

	s.applyConfig(event.New)

	if event.Diff.RequiresSymbolReload {
		s.reloadRuntimeComponents(ctx, event.New)
	}

	if elapsed := s.now().Sub(start); elapsed > configApplyBudget {
		s.log.Warn().Dur("elapsed", elapsed).Msg("Configuration update processing exceeded budget")
	}
}

// applyConfig refreshes the derived runtime settings under the lock.
func (s *Supervisor) applyConfig(cfg config.Config) {
	minutes, err := config.ParseTimeframe(cfg.DefaultTimeframe)
	if err != nil {
		s.log.Error().Err(err).Str("timeframe", cfg.DefaultTimeframe).Msg("Failed to parse timeframe; keeping previous")
		s.mu.Lock()
		minutes = s.minutes
		s.mu.Unlock()
		if minutes == 0 {
			minutes = 5
		}
	}

	intervalMinutes := minutes
	if cfg.CheckInterval != "" {
		if parsed, err := config.ParseTimeframe(cfg.CheckInterval); err == nil {
			intervalMinutes = parsed
		}
	}

	cooldownSeconds := 300
	if cfg.NotificationCooldown != "" {
		if parsed, err := config.ParseTimeframe(cfg.NotificationCooldown); err == nil {
			cooldownSeconds = parsed * 60
		}
	}

	var allowed []string
	if cfg.NotificationSymbols.Default {
		allowed = append([]string(nil), market.DefaultTop50Symbols...)
	} else {
		allowed = append([]string(nil), cfg.NotificationSymbols.Symbols...)
	}

	s.mu.Lock()
	s.cfg = cfg.Clone()
	s.minutes = minutes
	s.threshold = cfg.DefaultThreshold
	s.checkInterval = time.Duration(intervalMinutes) * time.Minute
	s.cooldownSeconds = cooldownSeconds
	s.bypassHigh = cfg.HighPriorityBypassCooldown
	s.thresholds = notify.Thresholds{
		High:   cfg.PriorityThresholds.High,
		Medium: cfg.PriorityThresholds.Medium,
	}
	s.allowedSymbols = allowed
	s.mu.Unlock()

	if s.notifier != nil {
		s.notifier.UpdateConfig(cfg)
	}
}

// resolveSymbols loads the symbol file and matches it against the catalog.
func (s *Supervisor) resolveSymbols(cfg config.Config) {
	userSymbols, err := symbols.Load(cfg.SymbolsFilePath)
	if err != nil {
		s.log.Warn().Err(err).Str("path", cfg.SymbolsFilePath).Msg("Failed to load symbols file")
	}

	matched := s.catalog.Match(userSymbols, cfg.Exchange)
	s.mu.Lock()
	s.matchedSymbols = matched
	s.mu.Unlock()
	s.log.Info().Int("matched", len(matched)).Str("path", cfg.SymbolsFilePath).Msg("Symbol universe resolved")
}

// reloadRuntimeComponents swaps the adapter after a config change that
// touches the exchange or symbol universe. The old adapter is closed
// before the new one is bound; a failed reload logs and leaves the loop
// running.
func (s *Supervisor) reloadRuntimeComponents(ctx context.Context, cfg config.Config) {
	s.log.Info().Str("exchange", cfg.Exchange).Msg("Reloading exchange and symbol set")

	s.mu.Lock()
	old := s.adapter
	s.mu.Unlock()

	if err := old.Close(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to close previous adapter cleanly")
	}

	adapter, err := s.newAdapter(cfg.Exchange)
	if err != nil {
		s.log.Error().Err(errs.Config("exchange_reload", err)).Msg("Exchange reload aborted")
		return
	}

	s.mu.Lock()
	s.adapter = adapter
	s.mu.Unlock()

	s.resolveSymbols(cfg)

	s.mu.Lock()
	matched := append([]string(nil), s.matchedSymbols...)
	s.mu.Unlock()

	if len(matched) == 0 {
		s.log.Warn().Msg("Symbol reload produced an empty set; stream not started")
		return
	}

	if err := adapter.Start(ctx, matched); err != nil {
		s.log.Error().Err(errs.Network("websocket_restart", err)).Msg("Failed to restart stream after config change")
		return
	}

	s.log.Info().Int("symbols", len(matched)).Msg("Exchange and symbol set reloaded")
}

// publish pushes the current state snapshot to all observers.
func (s *Supervisor) publish() {
	s.mu.Lock()
	adapter := s.adapter
	s.mu.Unlock()

	s.observers.publish(Snapshot{
		Prices: adapter.LastPrices(),
		Alerts: s.alerts.Snapshot(),
		Stats: StatsSnapshot{
			Cache:         s.priceCache.Stats(),
			Performance:   s.perf.Snapshot(),
			UptimeSeconds: s.perf.Uptime().Seconds(),
		},
	})
}
