// Package chains is the multi-chain data-provider layer.
//
// Every supported network is served by an Adapter. Adapters for the same
// family share an implementation and differ only by ChainInfo and provider
// endpoints:
//
//   - EVMAdapter      ethereum, polygon, binance, base, arbitrum, optimism, avalanche
//   - BitcoinAdapter  bitcoin (Esplora REST, then a Bitcoin Core node)
//   - SolanaAdapter   solana (Helius, then plain JSON-RPC)
//
// Each adapter tries its providers in a fixed order and returns the first
// success. Only a chain with no provider configured at all serves mock
// data, and it says so in the log on every call.
package chains

import (
	"context"
	"math/big"
	"strings"

	"github.com/rawblock/wallet-investigator/pkg/models"
)

// Adapter is the capability every chain exposes to the investigation engine
type Adapter interface {
	GetChainInfo() models.ChainInfo
	ValidateAddress(address string) bool
	GetBalance(ctx context.Context, address string) (models.Balance, error)
	GetTransactionHistory(ctx context.Context, address string, limit int) ([]models.Transaction, error)
}

// TokenLister is implemented by adapters that can enumerate fungible token
// holdings. Callers discover it with a type assertion.
type TokenLister interface {
	GetAllTokenBalances(ctx context.Context, address string) ([]models.TokenBalance, error)
}

// Pinger is implemented by adapters that can check provider reachability.
// Adapters without it are reported healthy when GetChainInfo succeeds.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PriceSource converts symbols into USD prices
type PriceSource interface {
	PriceOf(ctx context.Context, symbol string, chain models.ChainName) float64
}

// ─── Unit conversion ───────────────────────────────────────────────────────

// formatUnits renders an integer amount of base units (wei, sats, lamports)
// as a decimal string in whole units.
func formatUnits(raw *big.Int, decimals int) string {
	if raw == nil || raw.Sign() == 0 {
		return "0"
	}
	neg := raw.Sign() < 0
	abs := new(big.Int).Abs(raw)

	s := abs.String()
	if decimals > 0 {
		if len(s) <= decimals {
			s = strings.Repeat("0", decimals-len(s)+1) + s
		}
		intPart, frac := s[:len(s)-decimals], strings.TrimRight(s[len(s)-decimals:], "0")
		s = intPart
		if frac != "" {
			s += "." + frac
		}
	}
	if neg {
		s = "-" + s
	}
	return s
}

// formatUnitsString is formatUnits for a base-10 string, as explorers return.
// Unparseable input yields "0".
func formatUnitsString(raw string, decimals int) string {
	v, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return "0"
	}
	return formatUnits(v, decimals)
}

// parseAmount converts a decimal string into float64 for USD arithmetic.
func parseAmount(s string) float64 {
	f, _, err := big.ParseFloat(strings.TrimSpace(s), 10, 128, big.ToNearestEven)
	if err != nil {
		return 0
	}
	v, _ := f.Float64()
	return v
}
