package config

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Diff describes the changes between two configuration snapshots.
type Diff struct {
	ChangedKeys            map[string]bool
	RequiresExchangeReload bool
	RequiresSymbolReload   bool
}

// ChangedList returns the changed keys sorted, for logging.
func (d Diff) ChangedList() []string {
	keys := make([]string, 0, len(d.ChangedKeys))
	for k := range d.ChangedKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// UpdateEvent is delivered to every subscriber after a successful update.
type UpdateEvent struct {
	New      Config
	Previous Config
	Warnings []string
	Diff     Diff
}

// UpdateResult is returned by Store.Update.
type UpdateResult struct {
	Success  bool
	Errors   []string
	Warnings []string
	Message  string
	Diff     *Diff
}

// Subscriber receives configuration update events. Callbacks may run on any
// goroutine and must not call back into the store synchronously.
type Subscriber interface {
	ConfigUpdated(UpdateEvent)
}

// Store is the single source of truth for runtime configuration. It guards
// the current snapshot, persists accepted updates to disk before swapping,
// and broadcasts diffs to subscribers outside the lock.
type Store struct {
	mu          sync.RWMutex
	path        string
	current     Config
	subscribers []Subscriber
	log         zerolog.Logger
}

// NewStore loads and validates the initial configuration from path. A
// validation failure here is fatal to boot.
func NewStore(path string, log zerolog.Logger) (*Store, error) {
	cfg, warnings, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if res := Validate(cfg); !res.Valid() {
		return nil, fmt.Errorf("initial configuration failed validation: %v", res.Errors)
	}

	s := &Store{
		path:    path,
		current: cfg,
		log:     log.With().Str("component", "config_store").Logger(),
	}
	for _, w := range warnings {
		s.log.Warn().Msg(w)
	}
	return s, nil
}

// NewStoreFromConfig builds a store around an already-validated snapshot.
// Used by tests and by callers that manage the file themselves.
func NewStoreFromConfig(cfg Config, path string, log zerolog.Logger) *Store {
	return &Store{
		path:    path,
		current: cfg,
		log:     log.With().Str("component", "config_store").Logger(),
	}
}

// Get returns a deep copy of the current snapshot.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Subscribe registers a subscriber. Adding the same subscriber twice is a
// no-op.
func (s *Store) Subscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.subscribers {
		if existing == sub {
			return
		}
	}
	s.subscribers = append(s.subscribers, sub)
}

// Unsubscribe removes a subscriber. Removing an unknown subscriber is a
// no-op.
func (s *Store) Unsubscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.subscribers {
		if existing == sub {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			return
		}
	}
}

// Update coerces, validates, persists, and broadcasts a candidate
// configuration. The in-memory snapshot is only swapped after the file
// write succeeds. Subscribers are notified outside the lock.
func (s *Store) Update(candidate map[string]interface{}) UpdateResult {
	normalized, warnings, err := Normalize(candidate)
	if err != nil {
		return UpdateResult{
			Success:  false,
			Errors:   []string{err.Error()},
			Warnings: warnings,
			Message:  "Configuration coercion failed",
		}
	}

	if res := Validate(normalized); !res.Valid() {
		return UpdateResult{
			Success:  false,
			Errors:   res.Errors,
			Warnings: append(warnings, res.Warnings...),
			Message:  "Configuration validation failed",
		}
	}

	s.mu.Lock()
	previous := s.current.Clone()

	if reflect.DeepEqual(previous, normalized) {
		s.mu.Unlock()
		diff := Diff{ChangedKeys: map[string]bool{}}
		// Unchanged updates still notify so listeners can soft-refresh.
		s.notify(UpdateEvent{New: normalized.Clone(), Previous: previous, Warnings: warnings, Diff: diff})
		return UpdateResult{Success: true, Warnings: warnings, Message: "Configuration unchanged", Diff: &diff}
	}

	diff := ComputeDiff(previous, normalized)

	if err := WriteFile(normalized, s.path); err != nil {
		s.mu.Unlock()
		return UpdateResult{
			Success:  false,
			Errors:   []string{err.Error()},
			Warnings: warnings,
			Message:  "Failed to persist configuration",
		}
	}

	s.current = normalized.Clone()
	s.mu.Unlock()

	s.notify(UpdateEvent{New: normalized.Clone(), Previous: previous, Warnings: warnings, Diff: diff})

	return UpdateResult{Success: true, Warnings: warnings, Message: "Configuration updated successfully", Diff: &diff}
}

// ReloadFromDisk re-reads and revalidates the file, swapping the snapshot
// on success.
func (s *Store) ReloadFromDisk() (Config, error) {
	cfg, warnings, err := LoadFile(s.path)
	if err != nil {
		return Config{}, err
	}
	if res := Validate(cfg); !res.Valid() {
		return Config{}, fmt.Errorf("configuration failed validation: %v", res.Errors)
	}

	s.mu.Lock()
	previous := s.current.Clone()
	diff := ComputeDiff(previous, cfg)
	s.current = cfg.Clone()
	s.mu.Unlock()

	if len(diff.ChangedKeys) > 0 {
		s.notify(UpdateEvent{New: cfg.Clone(), Previous: previous, Warnings: warnings, Diff: diff})
	}
	return cfg, nil
}

// notify copies the subscriber list and invokes callbacks without holding
// the lock. A panicking subscriber does not break the chain.
func (s *Store) notify(event UpdateEvent) {
	s.mu.RLock()
	subs := make([]Subscriber, len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.RUnlock()

	for _, sub := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error().Interface("panic", r).Msg("Configuration subscriber panicked")
				}
			}()
			sub.ConfigUpdated(event)
		}()
	}
}

// ComputeDiff flattens both snapshots into dotted keys and reports what
// changed. Reload flags follow the exchange/symbols keys.
func ComputeDiff(old, new Config) Diff {
	oldFlat := flatten(old)
	newFlat := flatten(new)

	changed := map[string]bool{}
	for key, newVal := range newFlat {
		if !reflect.DeepEqual(oldFlat[key], newVal) {
			changed[key] = true
		}
	}
	for key := range oldFlat {
		if _, ok := newFlat[key]; !ok {
			changed[key] = true
		}
	}

	exchangeReload := changed["exchange"]
	symbolReload := exchangeReload || changed["symbols"] || changed["symbolsFilePath"]

	return Diff{
		ChangedKeys:            changed,
		RequiresExchangeReload: exchangeReload,
		RequiresSymbolReload:   symbolReload,
	}
}

func flatten(cfg Config) map[string]interface{} {
	flat := map[string]interface{}{
		"exchange":                   cfg.Exchange,
		"defaultTimeframe":           cfg.DefaultTimeframe,
		"checkInterval":              cfg.CheckInterval,
		"defaultThreshold":           cfg.DefaultThreshold,
		"symbolsFilePath":            cfg.SymbolsFilePath,
		"notificationChannels":       cfg.NotificationChannels,
		"notificationTimezone":       cfg.NotificationTimezone,
		"notificationCooldown":       cfg.NotificationCooldown,
		"priorityThresholds.low":     cfg.PriorityThresholds.Low,
		"priorityThresholds.medium":  cfg.PriorityThresholds.Medium,
		"priorityThresholds.high":    cfg.PriorityThresholds.High,
		"highPriorityBypassCooldown": cfg.HighPriorityBypassCooldown,
		"telegram.token":             cfg.Telegram.Token,
		"telegram.chatId":            cfg.Telegram.ChatID,
		"telegram.webhookSecret":     cfg.Telegram.WebhookSecret,
		"attachChart":                cfg.AttachChart,
		"chartTimeframe":             cfg.ChartTimeframe,
		"chartLookbackMinutes":       cfg.ChartLookbackMinutes,
		"chartTheme":                 cfg.ChartTheme,
		"chartIncludeMA":             cfg.ChartIncludeMA,
		"chartImageWidth":            cfg.ChartImageWidth,
		"chartImageHeight":           cfg.ChartImageHeight,
		"chartImageScale":            cfg.ChartImageScale,
		"logLevel":                   cfg.LogLevel,
	}
	if cfg.NotificationSymbols.Default {
		flat["notificationSymbols"] = "default"
	} else {
		flat["notificationSymbols"] = cfg.NotificationSymbols.Symbols
	}
	return flat
}
