// Package detector computes percent price movements over a reference
// window and composes the periodic alert message.
package detector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Xeron2000/pricesentry/internal/notify"
)

// TopN caps how many movers one alert message reports.
const TopN = 6

// Exchange is the price source the detector consults.
type Exchange interface {
	Name() string
	Current(ctx context.Context, symbols []string) map[string]float64
	Historical(ctx context.Context, symbols []string, minutes int) map[string]float64
}

// Mover is one symbol whose move survived filtering.
type Mover struct {
	Symbol        string          `json:"symbol"`
	ChangePercent float64         `json:"changePercent"`
	Priority      notify.Priority `json:"priority"`
	Reference     float64         `json:"reference"`
	Current       float64         `json:"current"`
}

// Params are the inputs of one detection tick.
type Params struct {
	Minutes   int
	Symbols   []string
	Threshold float64

	// AllowedSymbols restricts which movers may alert; nil disables the
	// restriction.
	AllowedSymbols []string

	// Cooldown gates per-symbol alert frequency when non-nil.
	Cooldown        *notify.Cooldown
	CooldownSeconds int
	BypassHigh      bool
	Thresholds      notify.Thresholds

	Timezone string
}

// Result carries the composed message plus the surviving movers, ordered
// by absolute change descending.
type Result struct {
	Message string
	Movers  []Mover
}

// Detector runs the periodic movement check.
type Detector struct {
	log zerolog.Logger
	now func() time.Time
}

// New builds a detector.
func New(log zerolog.Logger) *Detector {
	return &Detector{
		log: log.With().Str("component", "movement_detector").Logger(),
		now: time.Now,
	}
}

// Detect fetches reference and current prices, filters moves strictly
// above the threshold, applies scope and cooldown gates, classifies and
// ranks the survivors, and composes the alert message. Returns nil when
// nothing qualifies.
func (d *Detector) Detect(ctx context.Context, exchange Exchange, p Params) *Result {
	reference := exchange.Historical(ctx, p.Symbols, p.Minutes)
	current := exchange.Current(ctx, p.Symbols)

	var movers []Mover
	for symbol, ref := range reference {
		cur, ok := current[symbol]
		if !ok || ref == 0 {
			continue
		}
		pct := (cur - ref) / ref * 100
		if math.Abs(pct) > p.Threshold {
			movers = append(movers, Mover{
				Symbol:        symbol,
				ChangePercent: pct,
				Reference:     ref,
				Current:       cur,
			})
		}
	}

	scopeCount := len(p.Symbols)
	if p.AllowedSymbols != nil {
		allowed := make(map[string]bool, len(p.AllowedSymbols))
		for _, s := range p.AllowedSymbols {
			allowed[strings.TrimSpace(s)] = true
		}
		scopeCount = len(allowed)

		filtered := movers[:0]
		for _, m := range movers {
			if allowed[m.Symbol] {
				filtered = append(filtered, m)
			}
		}
		movers = filtered
	}

	detected := len(movers)

	if p.Cooldown != nil {
		filtered := movers[:0]
		for _, m := range movers {
			priority := notify.Classify(m.ChangePercent, p.Thresholds)
			if !p.Cooldown.ShouldNotify(m.Symbol, priority, p.CooldownSeconds, p.BypassHigh) {
				d.log.Debug().Str("symbol", m.Symbol).Msg("Mover suppressed by cooldown")
				continue
			}
			m.Priority = priority
			filtered = append(filtered, m)
		}
		movers = filtered
	} else {
		for i := range movers {
			movers[i].Priority = notify.Classify(movers[i].ChangePercent, p.Thresholds)
		}
	}

	if len(movers) == 0 {
		return nil
	}

	sort.Slice(movers, func(i, j int) bool {
		ai, aj := math.Abs(movers[i].ChangePercent), math.Abs(movers[j].ChangePercent)
		if ai != aj {
			return ai > aj
		}
		return movers[i].Symbol < movers[j].Symbol
	})

	if len(movers) > TopN {
		movers = movers[:TopN]
	}

	message := d.composeMessage(exchange.Name(), movers, p, scopeCount, detected)
	return &Result{Message: message, Movers: movers}
}

func (d *Detector) composeMessage(exchangeName string, movers []Mover, p Params, scopeCount, detected int) string {
	tzName := p.Timezone
	if tzName == "" {
		tzName = "Asia/Shanghai"
	}
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		loc = time.UTC
	}
	timestamp := d.now().In(loc).Format("2006-01-02 15:04:05")

	var sb strings.Builder
	fmt.Fprintf(&sb, "**📈 %s Top %d Movers (%dm)**\n\n", exchangeName, TopN, p.Minutes)
	fmt.Fprintf(&sb, "**Time:** %s (%s)\n", timestamp, tzName)
	fmt.Fprintf(&sb, "**Threshold:** %g%% | **Monitored:** %d | **Alert Scope:** %d | **Detected:** %d\n\n",
		p.Threshold, len(p.Symbols), scopeCount, detected)

	for i, m := range movers {
		arrow := "🔼"
		color := "🟢"
		if m.ChangePercent < 0 {
			arrow = "🔽"
			color = "🔴"
		}
		diff := m.Current - m.Reference
		fmt.Fprintf(&sb, "%s %d. `%s` — %s %.2f%% — diff %+.4f (%.4f → %.4f)\n",
			color, i+1, m.Symbol, arrow, math.Abs(m.ChangePercent), diff, m.Reference, m.Current)
	}

	return sb.String()
}
