package analysis

import (
	"fmt"
	"math"

	"github.com/rawblock/wallet-investigator/pkg/models"
)

// Risk Analyzer
//
// Additive point system, capped at 100. Every rule is a threshold on a
// single input so the score never decreases when one input grows.

type riskRule struct {
	points int
	factor string
	advice string
	hit    func(in riskInput) bool
}

type riskInput struct {
	analysis models.TransactionAnalysis
	tokens   int
	value    float64
	forex    int
}

var riskRules = []riskRule{
	{20, "High value transactions detected", "Review the largest transfers and their counterparties",
		func(in riskInput) bool { return in.analysis.LargestTransaction > 100_000 }},
	{15, "High average transaction size", "Confirm the source of funds for recurring large transfers",
		func(in riskInput) bool { return in.analysis.AverageTransaction > 10_000 }},
	{25, "Very high transaction frequency", "Check for automated or bot-driven activity",
		func(in riskInput) bool { return in.analysis.TransactionCount > 1_000 }},
	{15, "High transaction frequency", "Sample recent transactions for unusual patterns",
		func(in riskInput) bool { return in.analysis.TransactionCount > 100 }},
	{20, "Large net fund flow detected", "Trace where the net inflow or outflow originated",
		func(in riskInput) bool { return math.Abs(in.analysis.NetFlow) > 50_000 }},
	{10, "Complex token portfolio", "Screen held tokens against sanctioned or high-risk assets",
		func(in riskInput) bool { return in.tokens > 20 }},
	{15, "High total portfolio value", "Apply enhanced due diligence for high-value holders",
		func(in riskInput) bool { return in.value > 1_000_000 }},
	{15, "Forex trading activity", "Review forex trading compliance",
		func(in riskInput) bool { return in.forex > 5 }},
}

// LevelFor maps a 0-100 score onto a risk level.
func LevelFor(score int) models.RiskLevel {
	switch {
	case score > 80:
		return models.RiskCritical
	case score > 60:
		return models.RiskHigh
	case score >= 30:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// Assess scores the wallet. It is deterministic in its inputs.
func Assess(balance models.Balance, tokens []models.TokenBalance, a models.TransactionAnalysis, flows []models.FundFlow) models.RiskAssessment {
	in := riskInput{
		analysis: a,
		tokens:   len(tokens),
		value:    EstimatedValue(balance, tokens),
		forex:    Summarize(flows).ForexTransfers,
	}

	r := models.RiskAssessment{Factors: []string{}}
	var advice []string
	for _, rule := range riskRules {
		if rule.hit(in) {
			r.Score += rule.points
			r.Factors = append(r.Factors, rule.factor)
			advice = append(advice, rule.advice)
		}
	}
	r.Score = min(r.Score, 100)
	r.Level = LevelFor(r.Score)

	if len(r.Factors) == 0 {
		r.Recommendations = []string{"No significant risks detected"}
		return r
	}
	r.Recommendations = append([]string{severityLine(r.Level, r.Score)}, advice...)
	return r
}

func severityLine(level models.RiskLevel, score int) string {
	switch level {
	case models.RiskCritical:
		return fmt.Sprintf("Critical risk (%d/100): escalate for manual investigation before any interaction", score)
	case models.RiskHigh:
		return fmt.Sprintf("High risk (%d/100): apply enhanced due diligence", score)
	case models.RiskMedium:
		return fmt.Sprintf("Medium risk (%d/100): monitor ongoing activity", score)
	default:
		return fmt.Sprintf("Low risk (%d/100): standard monitoring is sufficient", score)
	}
}
