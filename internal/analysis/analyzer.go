// Package analysis derives statistics, fund flows, a behavioural opinion
// and a risk score from one wallet's transaction history. Every function
// here is pure: identical inputs give identical outputs.
package analysis

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rawblock/wallet-investigator/pkg/models"
)

// Transaction Analyzer
//
// Classifies each transaction relative to the investigated address and
// accumulates:
//   1. Flow totals: incoming, outgoing, net, largest, mean absolute value
//   2. Value distribution over the included transactions
//   3. Counterparty cardinality and the most frequent counterparties
//   4. Temporal density (transactions per day) and the busiest UTC hour
//   5. A 0-100 risk-pattern sub-score from activity thresholds
//
// A transaction whose from and to both differ from the address is
// excluded from every aggregate and only counted in ExcludedCount.

const topCounterpartyLimit = 10

// Risk-pattern thresholds and weights
const (
	patternHighCountThreshold     = 100
	patternHighCountPoints        = 20
	patternLargeValue             = 100.0
	patternLargeTransferThreshold = 5
	patternLargeTransferPoints    = 15
	patternFailedThreshold        = 10
	patternFailedPoints           = 10
	patternContractThreshold      = 20
	patternContractPoints         = 5
	patternTokenThreshold         = 50
	patternTokenPoints            = 10
)

// valueBuckets are upper bounds (inclusive) of the distribution ranges
var valueBuckets = []struct {
	label string
	upper float64
}{
	{"0-0.001", 0.001},
	{"0.001-0.01", 0.01},
	{"0.01-0.1", 0.1},
	{"0.1-1", 1},
	{"1-10", 10},
	{"10-100", 100},
	{"100+", math.Inf(1)},
}

// direction reports how tx relates to address. A self-transfer is incoming.
func direction(tx models.Transaction, address string) (models.FlowDirection, bool) {
	switch {
	case strings.EqualFold(tx.To, address):
		return models.FlowIncoming, true
	case strings.EqualFold(tx.From, address):
		return models.FlowOutgoing, true
	default:
		return "", false
	}
}

// counterpartyOf is the side of tx that is not address, or "" for a
// self-transfer.
func counterpartyOf(tx models.Transaction, address string) string {
	switch {
	case strings.EqualFold(tx.To, address) && strings.EqualFold(tx.From, address):
		return ""
	case strings.EqualFold(tx.To, address):
		return tx.From
	default:
		return tx.To
	}
}

// amountOf parses a decimal value string. Unparseable values count as 0.
func amountOf(value string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Abs(v)
}

// Analyze computes the aggregate statistics of txs relative to address.
// It never fails; an empty history yields a zeroed analysis.
func Analyze(txs []models.Transaction, address string, chain models.ChainName) models.TransactionAnalysis {
	a := models.TransactionAnalysis{
		ValueDistribution: models.ValueDistribution{Ranges: map[string]int{}},
		TopCounterparties: []models.CounterpartyStat{},
		MostActiveHour:    -1,
		KindBreakdown:     map[models.TxKind]int{},
		RiskPatterns:      []string{},
	}

	type cpAgg struct {
		display string
		count   int
		volume  float64
	}
	counterparties := make(map[string]*cpAgg)

	var (
		values        []float64
		hours         [24]int
		first, last   time.Time
		largeCount    int
		contractCount int
		tokenCount    int
	)

	for _, tx := range txs {
		dir, ok := direction(tx, address)
		if !ok {
			a.ExcludedCount++
			continue
		}
		a.TransactionCount++
		v := amountOf(tx.Value)

		if dir == models.FlowIncoming {
			a.TotalIncoming += v
		} else {
			a.TotalOutgoing += v
		}
		if v > a.LargestTransaction {
			a.LargestTransaction = v
		}
		values = append(values, v)

		a.KindBreakdown[tx.Kind]++
		switch tx.Kind {
		case models.KindContract:
			contractCount++
		case models.KindToken:
			tokenCount++
		}
		if tx.Status == models.TxFailed {
			a.FailedCount++
		}
		if v > patternLargeValue {
			largeCount++
		}

		if cp := counterpartyOf(tx, address); cp != "" {
			key := strings.ToLower(cp)
			agg, ok := counterparties[key]
			if !ok {
				agg = &cpAgg{display: cp}
				counterparties[key] = agg
			}
			agg.count++
			agg.volume += v
		}

		if !tx.Timestamp.IsZero() {
			ts := tx.Timestamp.UTC()
			hours[ts.Hour()]++
			if first.IsZero() || ts.Before(first) {
				first = ts
			}
			if last.IsZero() || ts.After(last) {
				last = ts
			}
		}
	}

	if a.TransactionCount == 0 {
		return a
	}

	a.NetFlow = a.TotalIncoming - a.TotalOutgoing
	a.LifetimeVolume = a.TotalIncoming + a.TotalOutgoing
	a.AverageTransaction = a.LifetimeVolume / float64(a.TransactionCount)
	a.ValueDistribution = distribution(values)

	// Counterparties
	a.UniqueCounterparties = len(counterparties)
	stats := make([]models.CounterpartyStat, 0, len(counterparties))
	for _, agg := range counterparties {
		stats = append(stats, models.CounterpartyStat{Address: agg.display, Count: agg.count, Volume: agg.volume})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		if stats[i].Volume != stats[j].Volume {
			return stats[i].Volume > stats[j].Volume
		}
		return stats[i].Address < stats[j].Address
	})
	if len(stats) > topCounterpartyLimit {
		stats = stats[:topCounterpartyLimit]
	}
	a.TopCounterparties = stats

	// Temporal density
	if !first.IsZero() {
		f, l := first, last
		a.FirstSeen, a.LastSeen = &f, &l

		spanDays := last.Sub(first).Hours() / 24
		if spanDays < 1 {
			a.TransactionsPerDay = float64(a.TransactionCount)
		} else {
			a.TransactionsPerDay = float64(a.TransactionCount) / spanDays
		}

		busiest := 0
		for h := 1; h < 24; h++ {
			if hours[h] > hours[busiest] {
				busiest = h
			}
		}
		a.MostActiveHour = busiest
	} else {
		a.TransactionsPerDay = float64(a.TransactionCount)
	}

	// Risk-pattern sub-score
	score := 0
	if a.TransactionCount > patternHighCountThreshold {
		a.RiskPatterns = append(a.RiskPatterns, "High transaction frequency")
		score += patternHighCountPoints
	}
	if largeCount > patternLargeTransferThreshold {
		a.RiskPatterns = append(a.RiskPatterns, "Multiple large transfers")
		score += patternLargeTransferPoints
	}
	if a.FailedCount > patternFailedThreshold {
		a.RiskPatterns = append(a.RiskPatterns, "Multiple failed transactions")
		score += patternFailedPoints
	}
	if contractCount > patternContractThreshold {
		a.RiskPatterns = append(a.RiskPatterns, "High contract interaction")
		score += patternContractPoints
	}
	if tokenCount > patternTokenThreshold {
		a.RiskPatterns = append(a.RiskPatterns, "High token transfer activity")
		score += patternTokenPoints
	}
	a.RiskPatternScore = min(score, 100)

	return a
}

// distribution summarises values. Zero values are counted in the average
// but not in min, median or the range buckets.
func distribution(values []float64) models.ValueDistribution {
	d := models.ValueDistribution{Ranges: make(map[string]int, len(valueBuckets))}
	for _, b := range valueBuckets {
		d.Ranges[b.label] = 0
	}
	if len(values) == 0 {
		return d
	}

	for _, v := range values {
		d.Total += v
	}
	d.Average = d.Total / float64(len(values))

	positive := make([]float64, 0, len(values))
	for _, v := range values {
		if v > 0 {
			positive = append(positive, v)
		}
	}
	if len(positive) == 0 {
		return d
	}
	sort.Float64s(positive)

	d.Min = positive[0]
	d.Max = positive[len(positive)-1]
	mid := len(positive) / 2
	if len(positive)%2 == 0 {
		d.Median = (positive[mid-1] + positive[mid]) / 2
	} else {
		d.Median = positive[mid]
	}

	for _, v := range positive {
		for _, b := range valueBuckets {
			if v <= b.upper {
				d.Ranges[b.label]++
				break
			}
		}
	}
	return d
}
