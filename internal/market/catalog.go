// Package market maps user-supplied base symbols to exchange-canonical
// contract identifiers and maintains the supported-markets file.
package market

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultCatalogPath is the on-disk location of the supported-markets file.
const DefaultCatalogPath = "config/supported_markets.json"

// Catalog answers symbol-matching queries against the per-exchange lists of
// canonical contract identifiers.
type Catalog struct {
	path    string
	markets map[string][]string
	log     zerolog.Logger
}

// LoadCatalog reads the supported-markets JSON file. A missing or corrupt
// file falls back to the hardcoded default lists.
func LoadCatalog(path string, log zerolog.Logger) *Catalog {
	c := &Catalog{
		path: path,
		log:  log.With().Str("component", "market_catalog").Logger(),
	}

	markets, err := readMarketsFile(path)
	if err != nil {
		c.log.Warn().Err(err).Str("path", path).Msg("Falling back to default market lists")
		markets = cloneMarkets(defaultMarkets)
	}
	c.markets = markets
	return c
}

// NewCatalogFromMarkets builds a catalog around an explicit mapping. Used
// by tests and by the refresher.
func NewCatalogFromMarkets(markets map[string][]string, log zerolog.Logger) *Catalog {
	return &Catalog{
		markets: cloneMarkets(markets),
		log:     log.With().Str("component", "market_catalog").Logger(),
	}
}

func readMarketsFile(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read supported markets: %w", err)
	}

	var markets map[string][]string
	if err := json.Unmarshal(data, &markets); err != nil {
		return nil, fmt.Errorf("parse supported markets: %w", err)
	}
	if len(markets) == 0 {
		return nil, fmt.Errorf("supported markets file is empty")
	}
	return markets, nil
}

func cloneMarkets(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Symbols returns the canonical symbol list for an exchange.
func (c *Catalog) Symbols(exchange string) []string {
	return append([]string(nil), c.markets[exchange]...)
}

// baseOf extracts the base portion of a canonical USDT contract symbol,
// e.g. "BTC" from "BTC/USDT:USDT". Returns "" for non-USDT entries.
func baseOf(symbol string) string {
	upper := strings.ToUpper(symbol)
	suffixes := []string{"/USDT:USDT", "/USDT"}
	for _, suffix := range suffixes {
		if strings.HasSuffix(upper, suffix) {
			return strings.TrimSpace(upper[:len(upper)-len(suffix)])
		}
	}
	return ""
}

// Match resolves user tokens to canonical contract identifiers. For each
// token it scans the exchange's list for entries whose base contains the
// token (case-insensitive) and keeps the entry with the shortest base, ties
// broken by catalog order. Results are deduplicated preserving first-match
// order.
func (c *Catalog) Match(userSymbols []string, exchange string) []string {
	markets, ok := c.markets[exchange]
	if !ok {
		c.log.Warn().Str("exchange", exchange).Msg("Exchange not present in market catalog")
		return nil
	}

	var matched []string
	seen := make(map[string]bool)

	for _, token := range userSymbols {
		token = strings.ToUpper(strings.TrimSpace(token))
		if token == "" {
			continue
		}

		var best string
		var bestBase string
		for _, candidate := range markets {
			base := baseOf(candidate)
			if base == "" || !strings.Contains(base, token) {
				continue
			}
			if best == "" || len(base) < len(bestBase) {
				best = candidate
				bestBase = base
			}
		}

		if best != "" && !seen[best] {
			seen[best] = true
			matched = append(matched, best)
		}
	}

	return matched
}

// Exchanges lists the exchanges present in the catalog.
func (c *Catalog) Exchanges() []string {
	out := make([]string, 0, len(c.markets))
	for exchange := range c.markets {
		out = append(out, exchange)
	}
	return out
}
