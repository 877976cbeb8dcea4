package config

import (
	"fmt"
	"strconv"
	"strings"
)

// knownKeys is the closed top-level key set. Anything else in the raw
// mapping is dropped with a warning.
var knownKeys = map[string]bool{
	"exchange":                   true,
	"defaultTimeframe":           true,
	"checkInterval":              true,
	"defaultThreshold":           true,
	"symbolsFilePath":            true,
	"notificationChannels":       true,
	"notificationSymbols":        true,
	"notificationTimezone":       true,
	"notificationCooldown":       true,
	"priorityThresholds":         true,
	"highPriorityBypassCooldown": true,
	"telegram":                   true,
	"attachChart":                true,
	"chartTimeframe":             true,
	"chartLookbackMinutes":       true,
	"chartTheme":                 true,
	"chartIncludeMA":             true,
	"chartImageWidth":            true,
	"chartImageHeight":           true,
	"chartImageScale":            true,
	"logLevel":                   true,
}

// Normalize coerces a raw decoded mapping into a typed Config. String
// values are coerced into their numeric, boolean, or list forms where the
// target field calls for it. Missing optional keys take their defaults;
// unknown keys produce warnings and are discarded.
func Normalize(raw map[string]interface{}) (Config, []string, error) {
	cfg := Defaults()
	var warnings []string

	for key := range raw {
		if !knownKeys[key] {
			warnings = append(warnings, fmt.Sprintf("unknown configuration key %q ignored", key))
		}
	}

	var err error
	if v, ok := raw["exchange"]; ok {
		cfg.Exchange = strings.ToLower(asString(v))
	}
	if v, ok := raw["defaultTimeframe"]; ok {
		cfg.DefaultTimeframe = asString(v)
	}
	if v, ok := raw["checkInterval"]; ok {
		cfg.CheckInterval = asString(v)
	}
	if v, ok := raw["defaultThreshold"]; ok {
		if cfg.DefaultThreshold, err = asFloat(v); err != nil {
			return Config{}, warnings, fmt.Errorf("defaultThreshold: %w", err)
		}
	}
	if v, ok := raw["symbolsFilePath"]; ok {
		cfg.SymbolsFilePath = asString(v)
	}
	if v, ok := raw["notificationChannels"]; ok {
		cfg.NotificationChannels = asStringList(v)
	}
	if v, ok := raw["notificationSymbols"]; ok {
		if s, isStr := v.(string); isStr && s == "default" {
			cfg.NotificationSymbols = SymbolScope{Default: true}
		} else {
			cfg.NotificationSymbols = SymbolScope{Symbols: asStringList(v)}
		}
	}
	if v, ok := raw["notificationTimezone"]; ok {
		cfg.NotificationTimezone = asString(v)
	}
	if v, ok := raw["notificationCooldown"]; ok {
		cfg.NotificationCooldown = asString(v)
	}
	if v, ok := raw["priorityThresholds"]; ok {
		if nested, isMap := asMap(v); isMap {
			if lv, ok := nested["low"]; ok {
				if cfg.PriorityThresholds.Low, err = asFloat(lv); err != nil {
					return Config{}, warnings, fmt.Errorf("priorityThresholds.low: %w", err)
				}
			}
			if mv, ok := nested["medium"]; ok {
				if cfg.PriorityThresholds.Medium, err = asFloat(mv); err != nil {
					return Config{}, warnings, fmt.Errorf("priorityThresholds.medium: %w", err)
				}
			}
			if hv, ok := nested["high"]; ok {
				if cfg.PriorityThresholds.High, err = asFloat(hv); err != nil {
					return Config{}, warnings, fmt.Errorf("priorityThresholds.high: %w", err)
				}
			}
		}
	}
	if v, ok := raw["highPriorityBypassCooldown"]; ok {
		if cfg.HighPriorityBypassCooldown, err = asBool(v); err != nil {
			return Config{}, warnings, fmt.Errorf("highPriorityBypassCooldown: %w", err)
		}
	}
	if v, ok := raw["telegram"]; ok {
		if nested, isMap := asMap(v); isMap {
			if tv, ok := nested["token"]; ok {
				cfg.Telegram.Token = asString(tv)
			}
			if cv, ok := nested["chatId"]; ok {
				cfg.Telegram.ChatID = asString(cv)
			}
			if sv, ok := nested["webhookSecret"]; ok {
				cfg.Telegram.WebhookSecret = asString(sv)
			}
		}
	}
	if v, ok := raw["attachChart"]; ok {
		if cfg.AttachChart, err = asBool(v); err != nil {
			return Config{}, warnings, fmt.Errorf("attachChart: %w", err)
		}
	}
	if v, ok := raw["chartTimeframe"]; ok {
		cfg.ChartTimeframe = asString(v)
	}
	if v, ok := raw["chartLookbackMinutes"]; ok {
		if cfg.ChartLookbackMinutes, err = asInt(v); err != nil {
			return Config{}, warnings, fmt.Errorf("chartLookbackMinutes: %w", err)
		}
	}
	if v, ok := raw["chartTheme"]; ok {
		cfg.ChartTheme = strings.ToLower(asString(v))
	}
	if v, ok := raw["chartIncludeMA"]; ok {
		if cfg.ChartIncludeMA, err = asIntList(v); err != nil {
			return Config{}, warnings, fmt.Errorf("chartIncludeMA: %w", err)
		}
	}
	if v, ok := raw["chartImageWidth"]; ok {
		if cfg.ChartImageWidth, err = asInt(v); err != nil {
			return Config{}, warnings, fmt.Errorf("chartImageWidth: %w", err)
		}
	}
	if v, ok := raw["chartImageHeight"]; ok {
		if cfg.ChartImageHeight, err = asInt(v); err != nil {
			return Config{}, warnings, fmt.Errorf("chartImageHeight: %w", err)
		}
	}
	if v, ok := raw["chartImageScale"]; ok {
		if cfg.ChartImageScale, err = asInt(v); err != nil {
			return Config{}, warnings, fmt.Errorf("chartImageScale: %w", err)
		}
	}
	if v, ok := raw["logLevel"]; ok {
		cfg.LogLevel = strings.ToUpper(asString(v))
	}

	return cfg, warnings, nil
}

func asString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case fmt.Stringer:
		return t.String()
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func asFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", t)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
}

func asInt(v interface{}) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.Atoi(s); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", t)
		}
		return int(f), nil
	default:
		return 0, fmt.Errorf("not an integer: %v", v)
	}
}

func asBool(v interface{}) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "1":
			return true, nil
		case "false", "no", "0":
			return false, nil
		}
		return false, fmt.Errorf("not a boolean: %q", t)
	default:
		return false, fmt.Errorf("not a boolean: %v", v)
	}
}

// asStringList accepts a list or a comma-separated string.
func asStringList(v interface{}) []string {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := asString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		parts := strings.Split(t, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	default:
		return nil
	}
}

func asIntList(v interface{}) ([]int, error) {
	switch t := v.(type) {
	case []int:
		return append([]int(nil), t...), nil
	case []interface{}:
		out := make([]int, 0, len(t))
		for _, item := range t {
			n, err := asInt(item)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	case string:
		var out []int
		for _, p := range strings.Split(t, ",") {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				n, err := strconv.Atoi(trimmed)
				if err != nil {
					return nil, fmt.Errorf("not an integer list: %q", t)
				}
				out = append(out, n)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("not an integer list: %v", v)
	}
}

// asMap accepts both map[string]interface{} and yaml's map[interface{}]interface{}.
func asMap(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}
