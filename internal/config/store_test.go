package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSubscriber struct {
	mu     sync.Mutex
	events []UpdateEvent
}

func (r *recordingSubscriber) ConfigUpdated(e UpdateEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSubscriber) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recordingSubscriber) last() UpdateEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := validConfig()
	require.NoError(t, WriteFile(cfg, path))
	store, err := NewStore(path, zerolog.Nop())
	require.NoError(t, err)
	return store, path
}

func candidateFrom(cfg Config) map[string]interface{} {
	candidate := map[string]interface{}{
		"exchange":             cfg.Exchange,
		"defaultTimeframe":     cfg.DefaultTimeframe,
		"defaultThreshold":     cfg.DefaultThreshold,
		"symbolsFilePath":      cfg.SymbolsFilePath,
		"notificationChannels": cfg.NotificationChannels,
		"notificationTimezone": cfg.NotificationTimezone,
		"notificationCooldown": cfg.NotificationCooldown,
		"priorityThresholds": map[string]interface{}{
			"low":    cfg.PriorityThresholds.Low,
			"medium": cfg.PriorityThresholds.Medium,
			"high":   cfg.PriorityThresholds.High,
		},
		"highPriorityBypassCooldown": cfg.HighPriorityBypassCooldown,
		"telegram": map[string]interface{}{
			"token":  cfg.Telegram.Token,
			"chatId": cfg.Telegram.ChatID,
		},
		"attachChart":          cfg.AttachChart,
		"chartTimeframe":       cfg.ChartTimeframe,
		"chartLookbackMinutes": cfg.ChartLookbackMinutes,
		"chartTheme":           cfg.ChartTheme,
		"chartIncludeMA":       cfg.ChartIncludeMA,
		"chartImageWidth":      cfg.ChartImageWidth,
		"chartImageHeight":     cfg.ChartImageHeight,
		"chartImageScale":      cfg.ChartImageScale,
		"logLevel":             cfg.LogLevel,
	}
	if cfg.NotificationSymbols.Default {
		candidate["notificationSymbols"] = "default"
	} else {
		candidate["notificationSymbols"] = cfg.NotificationSymbols.Symbols
	}
	if cfg.CheckInterval != "" {
		candidate["checkInterval"] = cfg.CheckInterval
	}
	return candidate
}

func TestStore_GetReturnsDeepCopy(t *testing.T) {
	store, _ := newTestStore(t)

	a := store.Get()
	a.NotificationChannels[0] = "mutated"
	a.Exchange = "mutated"

	b := store.Get()
	assert.Equal(t, "okx", b.Exchange)
	assert.Equal(t, []string{"telegram"}, b.NotificationChannels)
}

func TestStore_UpdateIdenticalIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	sub := &recordingSubscriber{}
	store.Subscribe(sub)

	res := store.Update(candidateFrom(store.Get()))
	require.True(t, res.Success, "errors: %v", res.Errors)
	require.NotNil(t, res.Diff)
	assert.Empty(t, res.Diff.ChangedKeys)
	// Unchanged updates still notify with an empty diff.
	assert.Equal(t, 1, sub.count())
	assert.Empty(t, sub.last().Diff.ChangedKeys)
}

func TestStore_UpdatePersistsBeforeNotify(t *testing.T) {
	store, path := newTestStore(t)

	var observedOnDisk string
	sub := &funcSubscriber{fn: func(e UpdateEvent) {
		data, err := os.ReadFile(path)
		if err == nil {
			observedOnDisk = string(data)
		}
	}}
	store.Subscribe(sub)

	candidate := candidateFrom(store.Get())
	candidate["defaultThreshold"] = 2.5
	res := store.Update(candidate)
	require.True(t, res.Success, "errors: %v", res.Errors)

	assert.Contains(t, observedOnDisk, "defaultThreshold: 2.5")
	assert.Equal(t, 2.5, store.Get().DefaultThreshold)
}

type funcSubscriber struct{ fn func(UpdateEvent) }

func (f *funcSubscriber) ConfigUpdated(e UpdateEvent) { f.fn(e) }

func TestStore_UpdateValidationFailureLeavesSnapshot(t *testing.T) {
	store, _ := newTestStore(t)

	candidate := candidateFrom(store.Get())
	candidate["exchange"] = "kraken"
	res := store.Update(candidate)

	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Errors)
	assert.Equal(t, "okx", store.Get().Exchange)
}

func TestStore_DiffFlagsExchangeReload(t *testing.T) {
	store, _ := newTestStore(t)
	sub := &recordingSubscriber{}
	store.Subscribe(sub)

	candidate := candidateFrom(store.Get())
	candidate["exchange"] = "bybit"
	candidate["defaultTimeframe"] = "15m"
	res := store.Update(candidate)
	require.True(t, res.Success, "errors: %v", res.Errors)

	require.Equal(t, 1, sub.count())
	diff := sub.last().Diff
	assert.True(t, diff.ChangedKeys["exchange"])
	assert.True(t, diff.ChangedKeys["defaultTimeframe"])
	assert.True(t, diff.RequiresExchangeReload)
	assert.True(t, diff.RequiresSymbolReload)
}

func TestStore_DiffSymbolsFileOnly(t *testing.T) {
	store, _ := newTestStore(t)
	sub := &recordingSubscriber{}
	store.Subscribe(sub)

	candidate := candidateFrom(store.Get())
	candidate["symbolsFilePath"] = "config/other.txt"
	res := store.Update(candidate)
	require.True(t, res.Success, "errors: %v", res.Errors)

	diff := sub.last().Diff
	assert.False(t, diff.RequiresExchangeReload)
	assert.True(t, diff.RequiresSymbolReload)
}

func TestStore_SubscriberPanicDoesNotBreakChain(t *testing.T) {
	store, _ := newTestStore(t)

	store.Subscribe(&funcSubscriber{fn: func(UpdateEvent) { panic("boom") }})
	sub := &recordingSubscriber{}
	store.Subscribe(sub)

	candidate := candidateFrom(store.Get())
	candidate["defaultThreshold"] = 3.0
	res := store.Update(candidate)
	require.True(t, res.Success)
	assert.Equal(t, 1, sub.count())
}

func TestStore_SubscribeIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	sub := &recordingSubscriber{}
	store.Subscribe(sub)
	store.Subscribe(sub)

	candidate := candidateFrom(store.Get())
	candidate["defaultThreshold"] = 4.0
	require.True(t, store.Update(candidate).Success)
	assert.Equal(t, 1, sub.count())

	store.Unsubscribe(sub)
	store.Unsubscribe(sub)
	candidate["defaultThreshold"] = 5.0
	require.True(t, store.Update(candidate).Success)
	assert.Equal(t, 1, sub.count())
}

func TestStore_CoercesStringCandidates(t *testing.T) {
	store, _ := newTestStore(t)

	candidate := candidateFrom(store.Get())
	candidate["defaultThreshold"] = "2.5"
	candidate["highPriorityBypassCooldown"] = "false"
	candidate["notificationChannels"] = "telegram"
	res := store.Update(candidate)
	require.True(t, res.Success, "errors: %v", res.Errors)

	cfg := store.Get()
	assert.Equal(t, 2.5, cfg.DefaultThreshold)
	assert.False(t, cfg.HighPriorityBypassCooldown)
	assert.Equal(t, []string{"telegram"}, cfg.NotificationChannels)
}

func TestStore_UnknownKeysWarn(t *testing.T) {
	store, _ := newTestStore(t)

	candidate := candidateFrom(store.Get())
	candidate["mysteryKnob"] = 42
	res := store.Update(candidate)
	require.True(t, res.Success)

	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "mysteryKnob")
}

func TestStore_ReloadFromDisk(t *testing.T) {
	store, path := newTestStore(t)

	cfg := store.Get()
	cfg.DefaultThreshold = 9.0
	require.NoError(t, WriteFile(cfg, path))

	reloaded, err := store.ReloadFromDisk()
	require.NoError(t, err)
	assert.Equal(t, 9.0, reloaded.DefaultThreshold)
	assert.Equal(t, 9.0, store.Get().DefaultThreshold)
}
