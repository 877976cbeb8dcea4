package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

// Refresher replaces the supported-markets file with the venues' live
// contract lists, filtered to USDT-quoted derivatives.
type Refresher struct {
	client *retryablehttp.Client
	path   string
	log    zerolog.Logger

	// endpoint overrides for tests
	binanceURL string
	okxURL     string
	bybitURL   string
}

// NewRefresher builds a refresher writing to path.
func NewRefresher(path string, log zerolog.Logger) *Refresher {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = nil

	return &Refresher{
		client:     client,
		path:       path,
		log:        log.With().Str("component", "market_refresh").Logger(),
		binanceURL: "https://fapi.binance.com/fapi/v1/exchangeInfo",
		okxURL:     "https://www.okx.com/api/v5/public/instruments?instType=SWAP",
		bybitURL:   "https://api.bybit.com/v5/market/instruments-info?category=linear&limit=1000",
	}
}

// Refresh fetches every supported venue's market list and rewrites the
// file. Venues that fail to fetch keep their previous entries.
func (r *Refresher) Refresh(ctx context.Context) error {
	current, err := readMarketsFile(r.path)
	if err != nil {
		current = map[string][]string{}
	}

	fetched := 0
	for exchange, fetch := range map[string]func(context.Context) ([]string, error){
		"binance": r.fetchBinance,
		"okx":     r.fetchOKX,
		"bybit":   r.fetchBybit,
	} {
		symbols, err := fetch(ctx)
		if err != nil {
			r.log.Error().Err(err).Str("exchange", exchange).Msg("Market list fetch failed; keeping previous entries")
			continue
		}
		sort.Strings(symbols)
		current[exchange] = symbols
		fetched++
		r.log.Info().Str("exchange", exchange).Int("symbols", len(symbols)).Msg("Market list refreshed")
	}

	if fetched == 0 {
		return fmt.Errorf("market refresh: no exchange could be fetched")
	}

	return writeMarketsFile(current, r.path)
}

func writeMarketsFile(markets map[string][]string, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create markets dir: %w", err)
	}

	data, err := json.MarshalIndent(markets, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal markets: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write markets: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace markets: %w", err)
	}
	return nil
}

func (r *Refresher) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func (r *Refresher) fetchBinance(ctx context.Context) ([]string, error) {
	var payload struct {
		Symbols []struct {
			BaseAsset    string `json:"baseAsset"`
			QuoteAsset   string `json:"quoteAsset"`
			MarginAsset  string `json:"marginAsset"`
			ContractType string `json:"contractType"`
			Status       string `json:"status"`
		} `json:"symbols"`
	}
	if err := r.getJSON(ctx, r.binanceURL, &payload); err != nil {
		return nil, err
	}

	var out []string
	for _, s := range payload.Symbols {
		if s.QuoteAsset != "USDT" || s.MarginAsset != "USDT" {
			continue
		}
		if s.Status != "TRADING" {
			continue
		}
		out = append(out, fmt.Sprintf("%s/USDT:USDT", strings.ToUpper(s.BaseAsset)))
	}
	return dedupe(out), nil
}

func (r *Refresher) fetchOKX(ctx context.Context) ([]string, error) {
	var payload struct {
		Data []struct {
			InstID    string `json:"instId"`
			SettleCcy string `json:"settleCcy"`
			CtType    string `json:"ctType"`
			State     string `json:"state"`
		} `json:"data"`
	}
	if err := r.getJSON(ctx, r.okxURL, &payload); err != nil {
		return nil, err
	}

	var out []string
	for _, inst := range payload.Data {
		// instId looks like BTC-USDT-SWAP.
		parts := strings.Split(inst.InstID, "-")
		if len(parts) < 3 || parts[1] != "USDT" || inst.SettleCcy != "USDT" {
			continue
		}
		if inst.State != "" && inst.State != "live" {
			continue
		}
		out = append(out, fmt.Sprintf("%s/USDT:USDT", strings.ToUpper(parts[0])))
	}
	return dedupe(out), nil
}

func (r *Refresher) fetchBybit(ctx context.Context) ([]string, error) {
	var payload struct {
		Result struct {
			List []struct {
				BaseCoin   string `json:"baseCoin"`
				QuoteCoin  string `json:"quoteCoin"`
				SettleCoin string `json:"settleCoin"`
				Status     string `json:"status"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := r.getJSON(ctx, r.bybitURL, &payload); err != nil {
		return nil, err
	}

	var out []string
	for _, s := range payload.Result.List {
		if s.QuoteCoin != "USDT" || s.SettleCoin != "USDT" {
			continue
		}
		if s.Status != "" && s.Status != "Trading" {
			continue
		}
		out = append(out, fmt.Sprintf("%s/USDT:USDT", strings.ToUpper(s.BaseCoin)))
	}
	return dedupe(out), nil
}

func dedupe(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := symbols[:0]
	for _, s := range symbols {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
