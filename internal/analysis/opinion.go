package analysis

import (
	"fmt"

	"github.com/rawblock/wallet-investigator/pkg/models"
)

// Wallet Opinion Generator
//
// The archetype is decided by an ordered cascade; the first matching rule
// wins even when later rules would also match:
//   1. value > $1M                              -> whale
//   2. count > 100 and average > 1,000          -> active_trader
//   3. count < 10 and value > $1,000            -> hodler
//   4. count == 0                               -> inactive
//   5. count < 5                                -> new_user
//   6. exchange user and high value             -> exchange
//   7. DeFi user and active                     -> defi
//   8. otherwise                                -> active_trader
//
// Rules 6 and 7 only refine the default; they never pre-empt 1-5.
// Activity level and confidence are threshold-driven independently of
// the archetype.

const (
	whaleValue          = 1_000_000.0
	traderCount         = 100
	traderAverage       = 1_000.0
	hodlerMaxCount      = 10
	hodlerValue         = 1_000.0
	newUserMaxCount     = 5
	highValueUSD        = 10_000.0
	activeCount         = 10
	exchangeUserFlows   = 3
	defiUserFlows       = 5
	manyCounterparties  = 20
	institutionalValue  = 10_000.0
	institutionalPerDay = 5.0
	confidentCount      = 50
)

// EstimatedValue is the wallet's USD value: native balance plus tokens.
func EstimatedValue(balance models.Balance, tokens []models.TokenBalance) float64 {
	v := balance.USDValue
	for _, t := range tokens {
		v += t.USDValue
	}
	return v
}

// Characterize derives the boolean traits used by the opinion.
func Characterize(value float64, a models.TransactionAnalysis, summary models.FundFlowSummary) models.Characteristics {
	return models.Characteristics{
		IsActive:              a.TransactionCount > activeCount,
		IsHighValue:           value > highValueUSD,
		IsDeFiUser:            summary.DeFiInteractions > defiUserFlows,
		IsExchangeUser:        summary.ExchangeTransfers > exchangeUserFlows,
		HasManyCounterparties: a.UniqueCounterparties > manyCounterparties,
		IsInstitutional: a.LargestTransaction > institutionalValue &&
			(a.TransactionsPerDay > institutionalPerDay || summary.ExchangeTransfers > exchangeUserFlows || summary.ForexTransfers > 0),
	}
}

// Opine classifies the wallet. It is deterministic in its inputs.
func Opine(balance models.Balance, tokens []models.TokenBalance, a models.TransactionAnalysis, flows []models.FundFlow) models.WalletOpinion {
	value := EstimatedValue(balance, tokens)
	summary := Summarize(flows)
	traits := Characterize(value, a, summary)

	return models.WalletOpinion{
		Archetype:       archetype(value, a, traits),
		ActivityLevel:   activityLevel(a.TransactionCount),
		Confidence:      confidence(a.TransactionCount, value),
		EstimatedValue:  value,
		Characteristics: traits,
		Reasoning:       reasoning(value, a, summary, traits),
	}
}

func archetype(value float64, a models.TransactionAnalysis, c models.Characteristics) models.Archetype {
	count := a.TransactionCount
	switch {
	case value > whaleValue:
		return models.ArchetypeWhale
	case count > traderCount && a.AverageTransaction > traderAverage:
		return models.ArchetypeActiveTrader
	case count < hodlerMaxCount && value > hodlerValue:
		return models.ArchetypeHodler
	case count == 0:
		return models.ArchetypeInactive
	case count < newUserMaxCount:
		return models.ArchetypeNewUser
	case c.IsExchangeUser && c.IsHighValue:
		return models.ArchetypeExchange
	case c.IsDeFiUser && c.IsActive:
		return models.ArchetypeDeFi
	default:
		return models.ArchetypeActiveTrader
	}
}

func activityLevel(count int) models.ActivityLevel {
	switch {
	case count > 500:
		return models.ActivityVeryHigh
	case count > 100:
		return models.ActivityHigh
	case count > 20:
		return models.ActivityMedium
	case count > 5:
		return models.ActivityLow
	default:
		return models.ActivityVeryLow
	}
}

func confidence(count int, value float64) string {
	switch {
	case count > confidentCount && value > highValueUSD:
		return "high"
	case count < newUserMaxCount:
		return "low"
	default:
		return "medium"
	}
}

func reasoning(value float64, a models.TransactionAnalysis, s models.FundFlowSummary, c models.Characteristics) []string {
	out := []string{}
	if value > whaleValue {
		out = append(out, fmt.Sprintf("Holds more than $1M in assets (estimated $%.0f)", value))
	}
	if a.TransactionCount == 0 {
		out = append(out, "No transaction history found for this address")
	}
	if c.IsActive {
		out = append(out, "Wallet shows high activity with frequent transactions")
	}
	if c.IsHighValue {
		out = append(out, "Wallet contains significant value (>$10,000 USD)")
	}
	if c.IsDeFiUser {
		out = append(out, "Multiple DeFi protocol interactions detected")
	}
	if c.IsExchangeUser {
		out = append(out, "Regular transfers to known cryptocurrency exchanges")
	}
	if c.HasManyCounterparties {
		out = append(out, "Interacts with many unique addresses, suggesting multiple wallet ownership")
	}
	if c.IsInstitutional {
		out = append(out, "Transaction patterns suggest institutional or professional use")
	}
	if a.TransactionsPerDay > institutionalPerDay {
		out = append(out, "High daily transaction volume indicates active trading or business use")
	}
	if s.ForexTransfers > 0 {
		out = append(out, "Transfers to forex providers detected, suggesting fiat trading activity")
	}
	if len(out) == 0 {
		out = append(out, "Low activity with no distinctive patterns")
	}
	return out
}
