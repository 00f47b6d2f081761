package models

// ChainName identifies a supported blockchain network
type ChainName = string

const (
	ChainEthereum  ChainName = "ethereum"
	ChainPolygon   ChainName = "polygon"
	ChainBinance   ChainName = "binance"
	ChainBase      ChainName = "base"
	ChainArbitrum  ChainName = "arbitrum"
	ChainOptimism  ChainName = "optimism"
	ChainAvalanche ChainName = "avalanche"
	ChainBitcoin   ChainName = "bitcoin"
	ChainSolana    ChainName = "solana"
)

// ChainFamily groups chains that share an address format and data model
type ChainFamily string

const (
	FamilyAccount ChainFamily = "account" // EVM-style, 0x + 40 hex
	FamilyUTXO    ChainFamily = "utxo"
	FamilySolana  ChainFamily = "solana"
)

// AccountChains lists every account-model chain that shares the 0x address shape
var AccountChains = []ChainName{
	ChainEthereum, ChainPolygon, ChainBinance, ChainBase,
	ChainArbitrum, ChainOptimism, ChainAvalanche,
}

// IsAccountChain reports whether name is one of the EVM-style chains
func IsAccountChain(name ChainName) bool {
	for _, c := range AccountChains {
		if c == name {
			return true
		}
	}
	return false
}

// ChainInfo is immutable per-chain metadata. Built once at registry
// construction and never modified afterwards.
type ChainInfo struct {
	Name        ChainName   `json:"name"`
	DisplayName string      `json:"displayName"`
	Symbol      string      `json:"symbol"`
	ChainID     int64       `json:"chainId"` // 0 for chains without one
	Family      ChainFamily `json:"family"`
	RPCURL      string      `json:"rpcUrl,omitempty"`
	ExplorerURL string      `json:"explorerUrl"`
	Decimals    int         `json:"decimals"`
}

// Detection is the outcome of classifying an address by shape
type Detection struct {
	Chain      ChainName   `json:"chain"`
	Confidence float64     `json:"confidence"`           // (0, 1]
	Ambiguous  bool        `json:"ambiguous"`            // Shape is shared by several chains
	Candidates []ChainName `json:"candidates,omitempty"` // Every chain the shape could belong to
	Method     string      `json:"method"`               // "pattern" or "probe"
}
