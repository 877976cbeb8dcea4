package config

import (
	"fmt"
	"regexp"
	"time"
)

var (
	telegramTokenPattern  = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)
	telegramChatIDPattern = regexp.MustCompile(`^-?\d+$`)
)

var supportedExchanges = map[string]bool{
	"binance": true,
	"okx":     true,
	"bybit":   true,
}

var supportedTimeframes = map[string]bool{
	"1m": true, "5m": true, "15m": true, "1h": true, "1d": true,
}

var supportedChannels = map[string]bool{
	"telegram": true,
}

var supportedLogLevels = map[string]bool{
	"DEBUG": true, "INFO": true, "WARNING": true, "ERROR": true,
}

// ValidationResult collects validation findings. The snapshot is only
// accepted when Errors is empty.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

// Valid reports whether validation passed.
func (r ValidationResult) Valid() bool { return len(r.Errors) == 0 }

func (r *ValidationResult) errorf(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) warnf(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Validate checks a normalized config against the closed rule table plus
// the cross-field constraints.
func Validate(cfg Config) ValidationResult {
	var res ValidationResult

	if cfg.Exchange == "" {
		res.errorf("exchange is required")
	} else if !supportedExchanges[cfg.Exchange] {
		res.errorf("exchange must be one of: binance, okx, bybit (got %q)", cfg.Exchange)
	}

	if !supportedTimeframes[cfg.DefaultTimeframe] {
		res.errorf("defaultTimeframe must be one of: 1m, 5m, 15m, 1h, 1d (got %q)", cfg.DefaultTimeframe)
	}

	if cfg.CheckInterval != "" {
		if _, err := ParseTimeframe(cfg.CheckInterval); err != nil {
			res.errorf("checkInterval must use timeframe format such as 1m, 5m, 15m, 1h, 1d")
		}
	}

	if cfg.DefaultThreshold < 0.001 || cfg.DefaultThreshold > 100.0 {
		res.errorf("defaultThreshold must be between 0.001 and 100.0 (got %g)", cfg.DefaultThreshold)
	}

	if len(cfg.NotificationChannels) == 0 {
		res.warnf("no notification channels configured; alerts will only reach observers")
	}
	for _, ch := range cfg.NotificationChannels {
		if !supportedChannels[ch] {
			res.errorf("notification channel %q is not supported (supported: telegram)", ch)
		}
	}

	if !cfg.NotificationSymbols.Default && len(cfg.NotificationSymbols.Symbols) == 0 {
		res.errorf("notificationSymbols requires at least one symbol or the literal \"default\"")
	}

	if cfg.NotificationTimezone != "" {
		if _, err := time.LoadLocation(cfg.NotificationTimezone); err != nil {
			res.errorf("notificationTimezone must be a valid IANA timezone (got %q)", cfg.NotificationTimezone)
		}
	}

	if cfg.NotificationCooldown != "" {
		if _, err := ParseTimeframe(cfg.NotificationCooldown); err != nil {
			res.errorf("notificationCooldown must use timeframe format such as 1m, 5m, 15m, 30m, 1h")
		}
	}

	validatePriority := func(name string, v float64) {
		if v < 0.1 || v > 100.0 {
			res.errorf("%s priority threshold must be between 0.1 and 100.0 (got %g)", name, v)
		}
	}
	validatePriority("high", cfg.PriorityThresholds.High)
	validatePriority("medium", cfg.PriorityThresholds.Medium)
	if cfg.PriorityThresholds.Medium > cfg.PriorityThresholds.High {
		res.warnf("medium priority threshold exceeds high; every medium mover will classify as high")
	}

	// Cross-field: enabling the telegram channel requires credentials.
	if cfg.HasChannel("telegram") {
		if cfg.Telegram.Token == "" {
			res.errorf("telegram channel enabled but telegram.token is missing")
		} else if !telegramTokenPattern.MatchString(cfg.Telegram.Token) {
			res.errorf("telegram.token must match the BotFather format (digits:alphanumerics)")
		}
		if cfg.Telegram.ChatID == "" {
			res.errorf("telegram channel enabled but telegram.chatId is missing")
		} else if !telegramChatIDPattern.MatchString(cfg.Telegram.ChatID) {
			res.errorf("telegram.chatId must be a numeric string")
		}
	}
	if cfg.Telegram.WebhookSecret != "" && len(cfg.Telegram.WebhookSecret) < 6 {
		res.errorf("telegram.webhookSecret must be at least 6 characters when provided")
	}

	// Cross-field: attaching charts requires sane renderer parameters.
	if cfg.AttachChart {
		if _, err := ParseTimeframe(cfg.ChartTimeframe); err != nil {
			res.errorf("chartTimeframe must use timeframe format such as 1m, 5m")
		}
		if cfg.ChartLookbackMinutes <= 0 {
			res.errorf("chartLookbackMinutes must be positive (got %d)", cfg.ChartLookbackMinutes)
		}
		if cfg.ChartTheme != "dark" && cfg.ChartTheme != "light" {
			res.errorf("chartTheme must be dark or light (got %q)", cfg.ChartTheme)
		}
	}
	if cfg.ChartImageWidth < 400 || cfg.ChartImageWidth > 4000 {
		res.errorf("chartImageWidth must be between 400 and 4000 (got %d)", cfg.ChartImageWidth)
	}
	if cfg.ChartImageHeight < 300 || cfg.ChartImageHeight > 3000 {
		res.errorf("chartImageHeight must be between 300 and 3000 (got %d)", cfg.ChartImageHeight)
	}
	if cfg.ChartImageScale < 1 || cfg.ChartImageScale > 3 {
		res.errorf("chartImageScale must be 1, 2, or 3 (got %d)", cfg.ChartImageScale)
	}

	if cfg.LogLevel != "" && !supportedLogLevels[cfg.LogLevel] {
		res.errorf("logLevel must be one of: DEBUG, INFO, WARNING, ERROR (got %q)", cfg.LogLevel)
	}

	return res
}
