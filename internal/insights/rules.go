package insights

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rawblock/wallet-investigator/pkg/models"
)

// Insight Rules
//
// Rule-based findings derived from a finished record, grouped the way a
// reviewer reads them:
//   1. risk            value, activity and counterparty exposure
//   2. opportunity     portfolio shape
//   3. pattern         behavioural archetype
//   4. anomaly         analyzer risk patterns and failure ratio
//   5. recommendation  what to do next
//
// Every rule reads only the record, so the same record always yields the
// same titles in the same order.

const (
	highValueUSD        = 100_000
	securityValueUSD    = 50_000
	highActivityCount   = 1_000
	taxActivityCount    = 500
	taxActivityPerDay   = 10
	dormantGap          = 180 * 24 * time.Hour
	recentWindow        = 30 * 24 * time.Hour
	longTermHolding     = 365 * 24 * time.Hour
	concentrationShare  = 0.8
	failedRatioAnomaly  = 0.2
	failedMinimumSample = 10
)

var stablecoins = map[string]bool{"USDC": true, "USDT": true, "DAI": true, "BUSD": true, "PYUSD": true}

type insightRule struct {
	kind  models.InsightType
	title string
	conf  float64
	match func(rec *models.InvestigationRecord) (string, bool)
}

var insightRules = []insightRule{
	// ─── Risk ───
	{models.InsightRisk, "High Value Wallet", 0.95, func(rec *models.InvestigationRecord) (string, bool) {
		v := rec.Opinion.EstimatedValue
		return fmt.Sprintf("This wallet holds about $%s in assets. Large balances attract attackers; monitor it for unusual outflows.", formatUSD(v)), v > highValueUSD
	}},
	{models.InsightRisk, "High Transaction Activity", 0.85, func(rec *models.InvestigationRecord) (string, bool) {
		n := rec.Analysis.TransactionCount
		return fmt.Sprintf("This wallet has %d transactions in the analysed window. Very active wallets can hide wash trading or automated market activity.", n), n > highActivityCount
	}},
	{models.InsightRisk, "Exchange Interactions Detected", 0.80, func(rec *models.InvestigationRecord) (string, bool) {
		names := exchangeNames(rec.FundFlows)
		if len(names) == 0 {
			return "", false
		}
		return fmt.Sprintf("Funds moved to or from known exchanges (%s). The owner is likely identifiable through exchange KYC records.", strings.Join(names, ", ")), true
	}},
	{models.InsightRisk, "Dormant Wallet Activity", 0.75, func(rec *models.InvestigationRecord) (string, bool) {
		gap, ok := reactivated(rec)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("The wallet was silent for %d days before its latest activity. Sudden reactivation can indicate compromised keys or a large holder moving funds.", int(gap.Hours()/24)), true
	}},

	// ─── Opportunity ───
	{models.InsightOpportunity, "Diversification Opportunity", 0.90, func(rec *models.InvestigationRecord) (string, bool) {
		symbol, share, ok := concentration(rec)
		if !ok || share < concentrationShare {
			return "", false
		}
		return fmt.Sprintf("%.0f%% of the wallet's value sits in %s. The holder is exposed to that single asset.", share*100, symbol), true
	}},
	{models.InsightOpportunity, "Yield Farming Potential", 0.85, func(rec *models.InvestigationRecord) (string, bool) {
		held := stableHoldings(rec.Tokens)
		if len(held) == 0 {
			return "", false
		}
		return fmt.Sprintf("The wallet holds idle stable assets (%s) that could be earning yield in lending protocols.", strings.Join(held, ", ")), true
	}},

	// ─── Pattern ───
	{models.InsightPattern, "Trading Pattern Identified", 0.0, func(rec *models.InvestigationRecord) (string, bool) {
		if rec.Analysis.TransactionCount == 0 {
			return "", false
		}
		return fmt.Sprintf("This wallet behaves like %s with %s activity (%.1f transactions per day).",
			archetypePhrase(rec.Opinion.Archetype), strings.ReplaceAll(string(rec.Opinion.ActivityLevel), "_", " "), rec.Analysis.TransactionsPerDay), true
	}},
	{models.InsightPattern, "Whale Wallet Behavior", 0.90, func(rec *models.InvestigationRecord) (string, bool) {
		return "Holdings and transfer sizes are large enough that movements from this wallet can move markets.", rec.Opinion.Archetype == models.ArchetypeWhale
	}},
	{models.InsightPattern, "Long-term Holder", 0.85, func(rec *models.InvestigationRecord) (string, bool) {
		a := rec.Analysis
		if rec.Opinion.Archetype != models.ArchetypeHodler || a.FirstSeen == nil {
			return "", false
		}
		held := rec.CompletedAt.Sub(*a.FirstSeen)
		return fmt.Sprintf("First seen %d days ago with little trading since. The holder shows strong conviction.", int(held.Hours()/24)), held >= longTermHolding
	}},

	// ─── Anomaly ───
	{models.InsightAnomaly, "Elevated Failure Rate", 0.70, func(rec *models.InvestigationRecord) (string, bool) {
		a := rec.Analysis
		if a.TransactionCount < failedMinimumSample {
			return "", false
		}
		ratio := float64(a.FailedCount) / float64(a.TransactionCount)
		return fmt.Sprintf("%.0f%% of transactions failed. Bots competing for the same opportunity often leave this trace.", ratio*100), ratio > failedRatioAnomaly
	}},

	// ─── Recommendation ───
	{models.InsightRecommendation, "Manual Review Recommended", 0.90, func(rec *models.InvestigationRecord) (string, bool) {
		r := rec.Risk
		if r.Level != models.RiskHigh && r.Level != models.RiskCritical {
			return "", false
		}
		return fmt.Sprintf("Risk scored %d/100 (%s). %s", r.Score, r.Level, strings.Join(r.Factors, "; ")), true
	}},
	{models.InsightRecommendation, "Enhanced Security Recommended", 0.95, func(rec *models.InvestigationRecord) (string, bool) {
		return "For wallets of this size, hardware signing and multi-signature custody reduce the impact of a key compromise.", rec.Opinion.EstimatedValue > securityValueUSD
	}},
	{models.InsightRecommendation, "Tax Planning Consideration", 0.85, func(rec *models.InvestigationRecord) (string, bool) {
		a := rec.Analysis
		return "High trading activity usually has tax consequences. Keep detailed transaction records.",
			a.TransactionCount > taxActivityCount || a.TransactionsPerDay > taxActivityPerDay
	}},
}

// Insights derives rule-based findings from rec
func Insights(rec *models.InvestigationRecord) []models.Insight {
	out := []models.Insight{}
	if rec == nil {
		return out
	}
	for _, rule := range insightRules {
		desc, ok := rule.match(rec)
		if !ok {
			continue
		}
		conf := rule.conf
		if conf == 0 {
			conf = opinionConfidence(rec.Opinion.Confidence)
		}
		out = append(out, models.Insight{
			ID:          uuid.NewString(),
			Title:       rule.title,
			Description: desc,
			Type:        rule.kind,
			Confidence:  conf,
			Timestamp:   rec.CompletedAt,
		})
	}

	// Anomalies straight from the analyzer
	for _, pattern := range rec.Analysis.RiskPatterns {
		out = append(out, models.Insight{
			ID:          uuid.NewString(),
			Title:       "Unusual Activity Pattern",
			Description: pattern,
			Type:        models.InsightAnomaly,
			Confidence:  0.65,
			Timestamp:   rec.CompletedAt,
		})
	}
	return out
}

func opinionConfidence(c string) float64 {
	switch c {
	case "high":
		return 0.9
	case "medium":
		return 0.75
	default:
		return 0.6
	}
}

func exchangeNames(flows []models.FundFlow) []string {
	seen := map[string]bool{}
	var names []string
	for _, f := range flows {
		if f.Category != models.CategoryExchange {
			continue
		}
		name := f.Label
		if name == "" {
			name = abbrev(f.Counterparty)
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// reactivated reports the longest quiet gap when the wallet woke up
// recently after one.
func reactivated(rec *models.InvestigationRecord) (time.Duration, bool) {
	var stamps []time.Time
	for _, tx := range rec.Transactions {
		if !tx.Timestamp.IsZero() {
			stamps = append(stamps, tx.Timestamp)
		}
	}
	if len(stamps) < 2 {
		return 0, false
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })

	latest := stamps[len(stamps)-1]
	if rec.CompletedAt.Sub(latest) > recentWindow {
		return 0, false
	}
	var longest time.Duration
	for i := 1; i < len(stamps); i++ {
		longest = max(longest, stamps[i].Sub(stamps[i-1]))
	}
	return longest, longest >= dormantGap
}

// concentration returns the largest single holding and its share of the
// estimated value.
func concentration(rec *models.InvestigationRecord) (string, float64, bool) {
	total := rec.Opinion.EstimatedValue
	if total <= 0 || len(rec.Tokens) == 0 {
		return "", 0, false
	}
	symbol, top := rec.ChainInfo.Symbol, rec.Balance.USDValue
	for _, t := range rec.Tokens {
		if t.USDValue > top {
			symbol, top = t.Symbol, t.USDValue
		}
	}
	return symbol, top / total, true
}

func stableHoldings(tokens []models.TokenBalance) []string {
	var held []string
	for _, t := range tokens {
		if stablecoins[strings.ToUpper(t.Symbol)] && t.USDValue > 0 {
			held = append(held, strings.ToUpper(t.Symbol))
		}
	}
	sort.Strings(held)
	return held
}
