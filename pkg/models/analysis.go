package models

import "time"

// ─── Transaction Analysis ──────────────────────────────────────────────────

// ValueDistribution summarises the absolute values of the included transactions
type ValueDistribution struct {
	Total   float64        `json:"total"`
	Min     float64        `json:"min"`
	Max     float64        `json:"max"`
	Average float64        `json:"average"`
	Median  float64        `json:"median"`
	Ranges  map[string]int `json:"ranges"` // Bucket label -> count
}

// CounterpartyStat is one row in the top-counterparty table
type CounterpartyStat struct {
	Address string  `json:"address"`
	Count   int     `json:"count"`
	Volume  float64 `json:"volume"`
	Label   string  `json:"label,omitempty"`
}

// TransactionAnalysis is the derived statistical summary of one wallet's history.
// All monetary fields are in the chain's native unit.
type TransactionAnalysis struct {
	TransactionCount     int                `json:"transactionCount"`
	TotalIncoming        float64            `json:"totalIncoming"`
	TotalOutgoing        float64            `json:"totalOutgoing"`
	NetFlow              float64            `json:"netFlow"`
	LargestTransaction   float64            `json:"largestTransaction"`
	AverageTransaction   float64            `json:"averageTransaction"` // Mean of absolute values
	LifetimeVolume       float64            `json:"lifetimeVolume"`
	ValueDistribution    ValueDistribution  `json:"valueDistribution"`
	UniqueCounterparties int                `json:"uniqueCounterparties"`
	TopCounterparties    []CounterpartyStat `json:"topCounterparties"`
	TransactionsPerDay   float64            `json:"transactionsPerDay"`
	FirstSeen            *time.Time         `json:"firstSeen,omitempty"`
	LastSeen             *time.Time         `json:"lastSeen,omitempty"`
	MostActiveHour       int                `json:"mostActiveHour"` // UTC hour 0-23, -1 when empty
	KindBreakdown        map[TxKind]int     `json:"kindBreakdown"`
	FailedCount          int                `json:"failedCount"`
	ExcludedCount        int                `json:"excludedCount"` // Touched neither side of the address
	RiskPatternScore     int                `json:"riskPatternScore"`
	RiskPatterns         []string           `json:"riskPatterns"`
}

// ─── Fund Flow ─────────────────────────────────────────────────────────────

type FlowDirection string

const (
	FlowIncoming FlowDirection = "incoming"
	FlowOutgoing FlowDirection = "outgoing"
)

// FlowCategory is the best-effort label assigned to a counterparty
type FlowCategory string

const (
	CategoryExchange     FlowCategory = "exchange"
	CategoryForex        FlowCategory = "forex"
	CategoryBank         FlowCategory = "bank"
	CategoryDeFi         FlowCategory = "defi"
	CategoryUnclassified FlowCategory = "unclassified"
)

// FundFlow is a single classified movement of value into or out of the wallet
type FundFlow struct {
	ID           string        `json:"id"`
	Direction    FlowDirection `json:"direction"`
	Source       string        `json:"source"`
	Destination  string        `json:"destination"`
	Counterparty string        `json:"counterparty"`
	Category     FlowCategory  `json:"category"`
	Label        string        `json:"label,omitempty"` // Matched entity name, if any
	Description  string        `json:"description"`
	Amount       float64       `json:"amount"`
	Currency     string        `json:"currency"`
	Timestamp    time.Time     `json:"timestamp"`
	SourceTxHash string        `json:"sourceTxHash"`
}

// FundFlowSummary aggregates a wallet's flows by direction and category
type FundFlowSummary struct {
	TotalIncoming     float64 `json:"totalIncoming"`
	TotalOutgoing     float64 `json:"totalOutgoing"`
	ExchangeTransfers int     `json:"exchangeTransfers"`
	ForexTransfers    int     `json:"forexTransfers"`
	BankTransfers     int     `json:"bankTransfers"`
	DeFiInteractions  int     `json:"defiInteractions"`
	Largest           float64 `json:"largest"`
	Average           float64 `json:"average"`
}

// DailyFlow is one bucket of the per-day flow series
type DailyFlow struct {
	Date     string  `json:"date"` // YYYY-MM-DD, UTC
	Incoming float64 `json:"incoming"`
	Outgoing float64 `json:"outgoing"`
	Net      float64 `json:"net"`
	Count    int     `json:"count"`
}

// ─── Opinion & Risk ────────────────────────────────────────────────────────

type Archetype string

const (
	ArchetypeWhale        Archetype = "whale"
	ArchetypeActiveTrader Archetype = "active_trader"
	ArchetypeHodler       Archetype = "hodler"
	ArchetypeNewUser      Archetype = "new_user"
	ArchetypeInactive     Archetype = "inactive"
	ArchetypeExchange     Archetype = "exchange"
	ArchetypeDeFi         Archetype = "defi"
	ArchetypeUnknown      Archetype = "unknown"
)

type ActivityLevel string

const (
	ActivityVeryHigh ActivityLevel = "very_high"
	ActivityHigh     ActivityLevel = "high"
	ActivityMedium   ActivityLevel = "medium"
	ActivityLow      ActivityLevel = "low"
	ActivityVeryLow  ActivityLevel = "very_low"
)

// Characteristics are the boolean traits the opinion is reasoned from
type Characteristics struct {
	IsActive              bool `json:"isActive"`
	IsHighValue           bool `json:"isHighValue"`
	IsDeFiUser            bool `json:"isDefiUser"`
	IsExchangeUser        bool `json:"isExchangeUser"`
	HasManyCounterparties bool `json:"hasManyCounterparties"`
	IsInstitutional       bool `json:"isInstitutional"`
}

// WalletOpinion is the behavioural classification of a wallet
type WalletOpinion struct {
	Archetype       Archetype       `json:"archetype"`
	ActivityLevel   ActivityLevel   `json:"activityLevel"`
	Confidence      string          `json:"confidence"` // high, medium, low
	EstimatedValue  float64         `json:"estimatedValue"`
	Characteristics Characteristics `json:"characteristics"`
	Reasoning       []string        `json:"reasoning"`
}

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskAssessment is the additive 0-100 risk score with its explanation
type RiskAssessment struct {
	Score           int       `json:"score"`
	Level           RiskLevel `json:"level"`
	Factors         []string  `json:"factors"`
	Recommendations []string  `json:"recommendations"`
}
