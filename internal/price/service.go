// Package price resolves USD prices for native assets and well-known tokens.
//
// Lookup order for PriceOf:
//  1. in-process cache (fresh entries only)
//  2. shared Redis tier, when configured
//  3. CoinGecko simple/price
//  4. the stale in-process entry, if any
//  5. the static fallback table
//
// Known symbols therefore always resolve to a usable number; unknown
// symbols resolve to 0.
package price

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/rawblock/wallet-investigator/pkg/models"
)

// coinGeckoIDs maps ticker symbols to CoinGecko asset ids
var coinGeckoIDs = map[string]string{
	"ETH":   "ethereum",
	"WETH":  "ethereum",
	"BTC":   "bitcoin",
	"SOL":   "solana",
	"MATIC": "matic-network",
	"POL":   "matic-network",
	"BNB":   "binancecoin",
	"AVAX":  "avalanche-2",
	"USDC":  "usd-coin",
	"USDT":  "tether",
	"DAI":   "dai",
}

// fallbackPrices are conservative values served when every live source fails
var fallbackPrices = map[string]float64{
	"ETH":   3000,
	"WETH":  3000,
	"BTC":   60000,
	"SOL":   150,
	"MATIC": 0.8,
	"POL":   0.8,
	"BNB":   400,
	"AVAX":  30,
	"USDC":  1,
	"USDT":  1,
	"DAI":   1,
}

// nativeSymbols is the gas asset of each chain
var nativeSymbols = map[string]string{
	models.ChainEthereum:  "ETH",
	models.ChainBase:      "ETH",
	models.ChainArbitrum:  "ETH",
	models.ChainOptimism:  "ETH",
	models.ChainPolygon:   "MATIC",
	models.ChainBinance:   "BNB",
	models.ChainAvalanche: "AVAX",
	models.ChainBitcoin:   "BTC",
	models.ChainSolana:    "SOL",
}

// NativeSymbol returns the ticker of chain's gas asset, or "" when unknown.
func NativeSymbol(chain models.ChainName) string {
	return nativeSymbols[chain]
}

// Service is the price collaborator shared by every chain adapter
type Service struct {
	cache   *Cache
	shared  SharedTier
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// Options configures NewService. Shared may be nil.
type Options struct {
	BaseURL string
	TTL     time.Duration
	Timeout time.Duration
	Shared  SharedTier
	Logger  zerolog.Logger
}

func NewService(opts Options) *Service {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Service{
		cache:   NewCache(opts.TTL),
		shared:  opts.Shared,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		client:  &http.Client{Timeout: opts.Timeout},
		logger:  opts.Logger.With().Str("component", "price").Logger(),
	}
}

// PriceOf returns the USD price of symbol. An empty symbol means the
// native asset of chain.
func (s *Service) PriceOf(ctx context.Context, symbol string, chain models.ChainName) float64 {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" {
		sym = NativeSymbol(chain)
	}
	id, known := coinGeckoIDs[sym]
	if !known {
		return 0
	}

	cached, fresh, ok := s.cache.Get(sym)
	if ok && fresh {
		return cached
	}

	if s.shared != nil {
		p, err := s.shared.Get(ctx, sym)
		switch {
		case err == nil && p > 0:
			s.cache.Set(sym, p)
			return p
		case err != nil && !errors.Is(err, redis.Nil):
			s.logger.Warn().Err(err).Str("symbol", sym).Msg("shared price tier unavailable")
		}
	}

	if s.baseURL != "" {
		p, err := s.fetchCoinGecko(ctx, id)
		if err == nil && p > 0 {
			s.cache.Set(sym, p)
			if s.shared != nil {
				if err := s.shared.Set(ctx, sym, p, s.cache.TTL()); err != nil {
					s.logger.Warn().Err(err).Str("symbol", sym).Msg("failed to write shared price tier")
				}
			}
			return p
		}
		s.logger.Warn().Err(err).Str("symbol", sym).Msg("price fetch failed, using fallback")
	}

	if ok {
		return cached
	}
	return fallbackPrices[sym]
}

func (s *Service) fetchCoinGecko(ctx context.Context, id string) (float64, error) {
	u := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd", s.baseURL, url.QueryEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("coingecko HTTP %d", resp.StatusCode)
	}

	var out map[string]struct {
		USD float64 `json:"usd"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode coingecko response: %w", err)
	}
	v, ok := out[id]
	if !ok {
		return 0, fmt.Errorf("coingecko: no price for %s", id)
	}
	return v.USD, nil
}
