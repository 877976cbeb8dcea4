// Package config owns the runtime configuration of the sentry: loading and
// validating the YAML file, persisting updates atomically, and broadcasting
// diffs to subscribers.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the on-disk location of the configuration file.
const DefaultPath = "config/config.yaml"

// PriorityThresholds holds the absolute percent-change cutoffs used to
// classify movers.
type PriorityThresholds struct {
	Low    float64 `yaml:"low" json:"low"`
	Medium float64 `yaml:"medium" json:"medium"`
	High   float64 `yaml:"high" json:"high"`
}

// TelegramConfig holds the telegram channel credentials.
type TelegramConfig struct {
	Token         string `yaml:"token" json:"token"`
	ChatID        string `yaml:"chatId" json:"chatId"`
	WebhookSecret string `yaml:"webhookSecret,omitempty" json:"webhookSecret,omitempty"`
}

// SymbolScope is either the literal "default" universe or an explicit list
// of symbols that may trigger notifications.
type SymbolScope struct {
	Default bool
	Symbols []string
}

// UnmarshalYAML accepts either the string "default" or a sequence.
func (s *SymbolScope) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var raw string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		if raw != "default" {
			return fmt.Errorf("notificationSymbols must be \"default\" or a list, got %q", raw)
		}
		s.Default = true
		s.Symbols = nil
		return nil
	case yaml.SequenceNode:
		s.Default = false
		return value.Decode(&s.Symbols)
	default:
		return fmt.Errorf("notificationSymbols must be \"default\" or a list")
	}
}

// MarshalYAML renders the scope back into its wire form.
func (s SymbolScope) MarshalYAML() (interface{}, error) {
	if s.Default {
		return "default", nil
	}
	return s.Symbols, nil
}

// Config is the full runtime configuration snapshot. The key set is closed;
// unknown keys are dropped with a warning during normalization.
type Config struct {
	Exchange         string  `yaml:"exchange" json:"exchange"`
	DefaultTimeframe string  `yaml:"defaultTimeframe" json:"defaultTimeframe"`
	CheckInterval    string  `yaml:"checkInterval,omitempty" json:"checkInterval,omitempty"`
	DefaultThreshold float64 `yaml:"defaultThreshold" json:"defaultThreshold"`
	SymbolsFilePath  string  `yaml:"symbolsFilePath" json:"symbolsFilePath"`

	NotificationChannels []string    `yaml:"notificationChannels" json:"notificationChannels"`
	NotificationSymbols  SymbolScope `yaml:"notificationSymbols" json:"-"`
	NotificationTimezone string      `yaml:"notificationTimezone" json:"notificationTimezone"`
	NotificationCooldown string      `yaml:"notificationCooldown" json:"notificationCooldown"`

	PriorityThresholds         PriorityThresholds `yaml:"priorityThresholds" json:"priorityThresholds"`
	HighPriorityBypassCooldown bool               `yaml:"highPriorityBypassCooldown" json:"highPriorityBypassCooldown"`

	Telegram TelegramConfig `yaml:"telegram" json:"-"`

	AttachChart          bool   `yaml:"attachChart" json:"attachChart"`
	ChartTimeframe       string `yaml:"chartTimeframe" json:"chartTimeframe"`
	ChartLookbackMinutes int    `yaml:"chartLookbackMinutes" json:"chartLookbackMinutes"`
	ChartTheme           string `yaml:"chartTheme" json:"chartTheme"`
	ChartIncludeMA       []int  `yaml:"chartIncludeMA" json:"chartIncludeMA"`
	ChartImageWidth      int    `yaml:"chartImageWidth" json:"chartImageWidth"`
	ChartImageHeight     int    `yaml:"chartImageHeight" json:"chartImageHeight"`
	ChartImageScale      int    `yaml:"chartImageScale" json:"chartImageScale"`

	LogLevel string `yaml:"logLevel" json:"logLevel"`
}

// Defaults returns a Config pre-populated with every optional default.
// Required fields (exchange, notificationSymbols) stay zero.
func Defaults() Config {
	return Config{
		DefaultTimeframe:     "5m",
		DefaultThreshold:     1.0,
		SymbolsFilePath:      "config/symbols.txt",
		NotificationChannels: []string{"telegram"},
		NotificationTimezone: "Asia/Shanghai",
		NotificationCooldown: "5m",
		PriorityThresholds: PriorityThresholds{
			Low:    0.5,
			Medium: 1.0,
			High:   3.0,
		},
		HighPriorityBypassCooldown: true,
		ChartTimeframe:             "1m",
		ChartLookbackMinutes:       60,
		ChartTheme:                 "dark",
		ChartIncludeMA:             []int{7, 25},
		ChartImageWidth:            1200,
		ChartImageHeight:           900,
		ChartImageScale:            2,
		LogLevel:                   "INFO",
	}
}

// Clone returns a deep copy of the config.
func (c Config) Clone() Config {
	out := c
	out.NotificationChannels = append([]string(nil), c.NotificationChannels...)
	out.NotificationSymbols.Symbols = append([]string(nil), c.NotificationSymbols.Symbols...)
	out.ChartIncludeMA = append([]int(nil), c.ChartIncludeMA...)
	return out
}

// CheckIntervalOrDefault returns the detector cadence, falling back to the
// reference timeframe when checkInterval is unset.
func (c Config) CheckIntervalOrDefault() string {
	if c.CheckInterval != "" {
		return c.CheckInterval
	}
	return c.DefaultTimeframe
}

// HasChannel reports whether the named notification channel is enabled.
func (c Config) HasChannel(name string) bool {
	for _, ch := range c.NotificationChannels {
		if ch == name {
			return true
		}
	}
	return false
}

// LoadFile reads, normalizes and defaults a config file without validating
// it. Callers validate through the Store.
func LoadFile(path string) (Config, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, nil, fmt.Errorf("read config: %w", err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, nil, fmt.Errorf("parse config: %w", err)
	}
	if raw == nil {
		raw = map[string]interface{}{}
	}

	return Normalize(raw)
}

// WriteFile persists cfg to path atomically (temp file + rename).
func WriteFile(cfg Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}
