package analysis

import (
	"strings"
	"sync"
)

// LabelBook maps known addresses to entity names ("Binance 14",
// "Uniswap V2: Router"). Entries match either a full address
// (case-insensitive) or, for UTXO clusters, an address prefix.
//
// In production this would be backed by a tagged-address database; the
// default book is a small representative set.
type LabelBook struct {
	mu       sync.RWMutex
	exact    map[string]string
	prefixes []labelPrefix
}

type labelPrefix struct {
	prefix string
	label  string
}

func NewLabelBook() *LabelBook {
	return &LabelBook{exact: make(map[string]string)}
}

// Add labels one full address.
func (b *LabelBook) Add(address, label string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exact[strings.ToLower(strings.TrimSpace(address))] = label
}

// AddPrefix labels every address starting with prefix. Prefixes are
// case-sensitive because base58 is.
func (b *LabelBook) AddPrefix(prefix, label string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prefixes = append(b.prefixes, labelPrefix{prefix: prefix, label: label})
}

// Lookup returns the label for address, or "".
func (b *LabelBook) Lookup(address string) string {
	if b == nil || address == "" {
		return ""
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if label, ok := b.exact[strings.ToLower(address)]; ok {
		return label
	}
	for _, p := range b.prefixes {
		if strings.HasPrefix(address, p.prefix) {
			return p.label
		}
	}
	return ""
}

// Len is the number of exact and prefix entries.
func (b *LabelBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.exact) + len(b.prefixes)
}

// Known exchange hot-wallet clusters on Bitcoin, by address prefix
var knownBitcoinPrefixes = []labelPrefix{
	{"bc1qm34lsc65zpw79lxes69zkqm", "Binance Hot Wallet"},
	{"1NDyJtNTjmwk5xPNhjgAMu4HDH", "Binance Hot Wallet"},
	{"3JZq4atUahhuA9rLhXLMhhTo133", "Binance Cold Wallet"},
	{"3Cbq7aT1tY8kMxWLbitaG7yT6bP", "Coinbase Custody"},
	{"3CD1QW6fjgTwKq3Pj97nty28WZA", "Coinbase Custody"},
	{"bc1qxy2kgdygjrsqtzq2n0yrf24", "Coinbase Hot Wallet"},
	{"3FHNBLobJnbCTFTVakh5TXlt", "Bitfinex Cold Wallet"},
	{"bc1qgdjqv0av3q56jvd82tk", "Bitfinex Cold Wallet"},
	{"3AfBdeS2QYHSM3PQ9bfXuUbJPMi", "Kraken Hot Wallet"},
	{"bc1qxp3x5mqr6t5mhqkze3vj", "Kraken Hot Wallet"},
}

// Well-known account-model addresses; EVM addresses are shared across chains
var knownAccounts = map[string]string{
	"0x28c6c06298d514db089934071355e5743bf21d60": "Binance 14",
	"0x21a31ee1afc51d94c2efccaa2092ad1028285549": "Binance 15",
	"0xdfd5293d8e347dfe59e90efd55b2956a1343963d": "Binance 16",
	"0x71660c4005ba85c37ccec55d0c4493e66fe775d3": "Coinbase 1",
	"0x503828976d22510aad0201ac7ec88293211d23da": "Coinbase 2",
	"0x2910543af39aba0cd09dbb2d50200b3e800a63d2": "Kraken 1",
	"0x6cc5f688a315f3dc28a7781717a9a798a59fda7b": "OKX",
	"0xf89d7b9c864f589bbf53a82105107622b35eaa40": "Bybit",
	"0x7a250d5630b4cf539739df2c5dacb4c659f2488d": "Uniswap V2: Router",
	"0xe592427a0aece92de3edee1f18e0157c05861564": "Uniswap V3: Router",
	"0xd9e1ce17f2641f24ae83637ab66a2cca9c378b9f": "SushiSwap: Router",
	"0x10ed43c718714eb63d5aa57b78b54704e256024e": "PancakeSwap: Router v2",
	"0x7d2768de32b0b80b7a3454c06bdac94a69ddc7a9": "Aave: Lending Pool V2",
	"0x87870bca3f3fd6335c3f4ce8392d69350b4fa4e2": "Aave: Pool V3",
	"0x3d9819210a31b4961b30ef54be2aed79b9c9cd3b": "Compound: Comptroller",
	"0x00000000006c3852cbef3e08e8df289169ede581": "OpenSea: Seaport 1.1",
	"5tzfkiKXXHiRZcg1tMvjZEvp3rWhZDgHD3yL4YQqyTQm": "Binance Hot Wallet",
	"h8sMJSCQxfKiFTCfDR3DUMLPwcRbM61LGFJ8N4dK3WjS": "Coinbase Hot Wallet",
	"JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4": "Jupiter Aggregator v6",
}

// DefaultLabelBook returns a book seeded with well-known exchange and
// protocol addresses.
func DefaultLabelBook() *LabelBook {
	b := NewLabelBook()
	for addr, label := range knownAccounts {
		b.Add(addr, label)
	}
	for _, p := range knownBitcoinPrefixes {
		b.AddPrefix(p.prefix, p.label)
	}
	return b
}
