package analysis

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rawblock/wallet-investigator/pkg/models"
)

// Fund Flow Tracker
//
// Turns each transaction touching the investigated address into one
// directed FundFlow and labels the counterparty. Categories are checked
// in a fixed order and the first match wins:
//   1. Exchange names
//   2. Forex providers
//   3. Bank / fiat-rail keywords
//   4. DeFi protocols
//   5. Otherwise unclassified
//
// Classification is a best-effort heuristic over label strings. It is not
// address clustering and a miss says nothing about the counterparty.
//
// The haystack is the counterparty's label from the LabelBook plus the
// lower-cased address itself. Keywords shorter than four characters are
// matched against the label only, since short tokens such as "ig" or
// "xm" occur by chance inside base58 addresses.

type categoryRule struct {
	category models.FlowCategory
	keywords []string
}

var categoryRules = []categoryRule{
	{models.CategoryExchange, []string{
		"binance", "coinbase", "kraken", "kucoin", "huobi", "okx", "bybit",
		"bitfinex", "gemini", "ftx", "crypto.com", "robinhood", "webull",
	}},
	{models.CategoryForex, []string{
		"oanda", "fxcm", "ig", "saxo", "dukascopy", "pepperstone", "avatrade",
		"xm", "fxpro", "icmarkets", "fbs", "hotforex", "octafx",
	}},
	{models.CategoryBank, []string{
		"bank", "fiat", "usd", "eur", "gbp", "wire", "ach", "sepa",
	}},
	{models.CategoryDeFi, []string{
		"uniswap", "sushiswap", "pancakeswap", "curve", "aave", "compound",
		"maker", "yearn", "balancer", "synthetix", "dydx", "opensea", "jupiter",
	}},
}

const minAddressKeywordLen = 4

// Tracker classifies fund flows against a label book
type Tracker struct {
	labels *LabelBook
}

// NewTracker returns a Tracker using labels; nil means no labels.
func NewTracker(labels *LabelBook) *Tracker {
	return &Tracker{labels: labels}
}

// Track returns one FundFlow per transaction touching address, newest
// first. Transactions touching neither side are dropped.
func (t *Tracker) Track(txs []models.Transaction, address string) []models.FundFlow {
	flows := make([]models.FundFlow, 0, len(txs))
	for _, tx := range txs {
		dir, ok := direction(tx, address)
		if !ok {
			continue
		}

		source, destination := tx.From, address
		if dir == models.FlowOutgoing {
			source, destination = address, tx.To
		}
		counterparty := counterpartyOf(tx, address)
		label := t.labels.Lookup(counterparty)
		category, match := classify(counterparty, label)

		flows = append(flows, models.FundFlow{
			ID:           fmt.Sprintf("%s-%s", tx.Hash, dir),
			Direction:    dir,
			Source:       source,
			Destination:  destination,
			Counterparty: counterparty,
			Category:     category,
			Label:        labelFor(label, match),
			Description:  describe(dir, category, labelFor(label, match)),
			Amount:       amountOf(tx.Value),
			Currency:     tx.Currency,
			Timestamp:    tx.Timestamp,
			SourceTxHash: tx.Hash,
		})
	}

	sort.SliceStable(flows, func(i, j int) bool {
		return flows[i].Timestamp.After(flows[j].Timestamp)
	})
	return flows
}

// classify returns the first matching category and the keyword that hit.
func classify(counterparty, label string) (models.FlowCategory, string) {
	lowLabel := strings.ToLower(label)
	lowAddr := strings.ToLower(counterparty)
	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if lowLabel != "" && strings.Contains(lowLabel, kw) {
				return rule.category, kw
			}
			if len(kw) >= minAddressKeywordLen && strings.Contains(lowAddr, kw) {
				return rule.category, kw
			}
		}
	}
	return models.CategoryUnclassified, ""
}

func labelFor(label, keyword string) string {
	if label != "" {
		return label
	}
	return keyword
}

func describe(dir models.FlowDirection, category models.FlowCategory, label string) string {
	prep := "to"
	if dir == models.FlowIncoming {
		prep = "from"
	}
	switch category {
	case models.CategoryExchange:
		return fmt.Sprintf("Transfer %s %s exchange", prep, label)
	case models.CategoryForex:
		return fmt.Sprintf("Transfer %s %s forex provider", prep, label)
	case models.CategoryBank:
		return fmt.Sprintf("Bank transfer via %s", label)
	case models.CategoryDeFi:
		return fmt.Sprintf("DeFi interaction with %s", label)
	}
	if dir == models.FlowIncoming {
		return "Incoming transfer"
	}
	return "Outgoing transfer"
}

// Summarize aggregates flows by direction and category.
func Summarize(flows []models.FundFlow) models.FundFlowSummary {
	var s models.FundFlowSummary
	var total float64
	for _, f := range flows {
		if f.Direction == models.FlowIncoming {
			s.TotalIncoming += f.Amount
		} else {
			s.TotalOutgoing += f.Amount
		}
		switch f.Category {
		case models.CategoryExchange:
			s.ExchangeTransfers++
		case models.CategoryForex:
			s.ForexTransfers++
		case models.CategoryBank:
			s.BankTransfers++
		case models.CategoryDeFi:
			s.DeFiInteractions++
		}
		if f.Amount > s.Largest {
			s.Largest = f.Amount
		}
		total += f.Amount
	}
	if len(flows) > 0 {
		s.Average = total / float64(len(flows))
	}
	return s
}

// DailyFlows buckets flows into the last days UTC calendar days ending on
// now's date, oldest first. Days without flows are present with zeros.
func DailyFlows(flows []models.FundFlow, days int, now time.Time) []models.DailyFlow {
	if days <= 0 {
		return []models.DailyFlow{}
	}
	today := now.UTC().Truncate(24 * time.Hour)
	series := make([]models.DailyFlow, days)
	index := make(map[string]int, days)
	for i := 0; i < days; i++ {
		date := today.AddDate(0, 0, i-days+1).Format(time.DateOnly)
		series[i] = models.DailyFlow{Date: date}
		index[date] = i
	}

	for _, f := range flows {
		i, ok := index[f.Timestamp.UTC().Format(time.DateOnly)]
		if !ok {
			continue
		}
		if f.Direction == models.FlowIncoming {
			series[i].Incoming += f.Amount
		} else {
			series[i].Outgoing += f.Amount
		}
		series[i].Count++
	}
	for i := range series {
		series[i].Net = series[i].Incoming - series[i].Outgoing
	}
	return series
}
