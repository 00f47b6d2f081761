package models

import "time"

// EngineVersion is stamped on every record the engine produces
const EngineVersion = "wallet-investigator/1.0"

// InvestigationRecord is the complete, immutable result of one investigation.
// It is created once on completion and never mutated afterwards.
type InvestigationRecord struct {
	ID              string              `json:"id"`
	Address         string              `json:"address"`
	Chain           ChainName           `json:"chain"`
	ChainInfo       ChainInfo           `json:"chainInfo"`
	Detection       Detection           `json:"detection"`
	Balance         Balance             `json:"balance"`
	Tokens          []TokenBalance      `json:"tokens"`
	Transactions    []Transaction       `json:"transactions"`
	Analysis        TransactionAnalysis `json:"analysis"`
	FundFlows       []FundFlow          `json:"fundFlows"`
	FundFlowSummary FundFlowSummary     `json:"fundFlowSummary"`
	DailyFlows      []DailyFlow         `json:"dailyFlows"` // Trailing window ending on CompletedAt's date
	Opinion         WalletOpinion       `json:"opinion"`
	Risk            RiskAssessment      `json:"risk"`
	Warnings        []string            `json:"warnings"` // Non-fatal partial-data notes
	StartedAt       time.Time           `json:"startedAt"`
	CompletedAt     time.Time           `json:"completedAt"`
	EngineVersion   string              `json:"engineVersion"`
}

// AgentMessage is the handoff record other agents consume after an investigation
type AgentMessage struct {
	ID        string         `json:"id"`
	Sender    string         `json:"sender"`
	Recipient string         `json:"recipient"`
	Type      string         `json:"type"`
	Priority  string         `json:"priority"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// Progress is one step notification emitted while an investigation runs
type Progress struct {
	InvestigationID string    `json:"investigationId"`
	Step            string    `json:"step"`
	Percent         int       `json:"percent"`
	Message         string    `json:"message"`
	Timestamp       time.Time `json:"timestamp"`
}

type InsightType string

const (
	InsightRisk           InsightType = "risk"
	InsightOpportunity    InsightType = "opportunity"
	InsightPattern        InsightType = "pattern"
	InsightAnomaly        InsightType = "anomaly"
	InsightRecommendation InsightType = "recommendation"
)

// Insight is a single human-readable finding derived from a record
type Insight struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Type        InsightType `json:"type"`
	Confidence  float64     `json:"confidence"`
	Timestamp   time.Time   `json:"timestamp"`
}
