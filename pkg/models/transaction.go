package models

import "time"

// TxStatus is the provider-reported outcome of a transaction
type TxStatus string

const (
	TxSuccess TxStatus = "success"
	TxFailed  TxStatus = "failed"
	TxPending TxStatus = "pending"
)

// TxKind is a coarse classification of what a transaction did
type TxKind string

const (
	KindTransfer TxKind = "transfer"
	KindContract TxKind = "contract"
	KindToken    TxKind = "token"
	KindOther    TxKind = "other"
)

// TxMetadata holds the optional per-chain extras a provider may report.
// Fields are empty when the provider did not supply them.
type TxMetadata struct {
	ContractAddress string `json:"contractAddress,omitempty"` // Token contract for ERC-20 style transfers
	TokenSymbol     string `json:"tokenSymbol,omitempty"`
	MethodName      string `json:"methodName,omitempty"` // Decoded function name when known
	Fee             string `json:"fee,omitempty"`        // Native-unit fee, decimal string
}

// Transaction is an immutable fact reported by a chain data provider.
// Value is a decimal string in native units (ETH, BTC, SOL), never wei/sats.
type Transaction struct {
	Hash        string     `json:"hash"`
	From        string     `json:"from"`
	To          string     `json:"to"`
	Value       string     `json:"value"`
	Currency    string     `json:"currency"`
	BlockNumber uint64     `json:"blockNumber"`
	Timestamp   time.Time  `json:"timestamp"`
	Status      TxStatus   `json:"status"`
	Kind        TxKind     `json:"kind"`
	Metadata    TxMetadata `json:"metadata"`
}

// Balance is a point-in-time snapshot of a native balance
type Balance struct {
	Amount     string    `json:"amount"`   // Decimal string in native units
	USDValue   float64   `json:"usdValue"` // Amount × price at ObservedAt
	ObservedAt time.Time `json:"observedAt"`
}

// TokenBalance is a snapshot of one fungible token holding
type TokenBalance struct {
	ContractAddress string    `json:"contractAddress"`
	Symbol          string    `json:"symbol"`
	Name            string    `json:"name,omitempty"`
	Decimals        int       `json:"decimals"`
	Amount          string    `json:"amount"`
	USDValue        float64   `json:"usdValue"`
	ObservedAt      time.Time `json:"observedAt"`
}
