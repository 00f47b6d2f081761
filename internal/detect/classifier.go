// Package detect infers which blockchain an address belongs to from its
// textual shape alone. It never touches the network.
//
// Rules run in a fixed priority order and the first match wins:
//
//	1. Bitcoin  legacy (1/3…), P2SH-style (2…) or bech32 (bc1…)   → 0.95
//	2. Solana   base58, 32–44 characters                            → 0.95
//	3. Hex      0x + 40 hex digits, shared by every EVM chain       → 0.70
//
// Bitcoin legacy addresses are also valid base58 of Solana length, so the
// Bitcoin rule must stay ahead of the Solana rule. The hex shape cannot tell
// EVM chains apart; it resolves to the configured default chain and reports
// every account-model chain as a candidate.
package detect

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rawblock/wallet-investigator/pkg/models"
)

const (
	// ConfidenceUnambiguous is reported for shapes only one chain uses
	ConfidenceUnambiguous = 0.95
	// ConfidenceShared is reported for the hex shape shared by every EVM chain
	ConfidenceShared = 0.7
)

var (
	btcLegacyRe = regexp.MustCompile(`^[13][a-km-zA-HJ-NP-Z1-9]{25,34}$`)
	btcP2SHRe   = regexp.MustCompile(`^2[a-km-zA-HJ-NP-Z1-9]{25,34}$`)
	btcBech32Re = regexp.MustCompile(`^bc1[a-z0-9]{39,59}$`)
	solanaRe    = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
	hexRe       = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
)

type rule struct {
	name       string
	match      func(string) bool
	chain      func(c *Classifier) models.ChainName
	confidence float64
	ambiguous  bool
}

var rules = []rule{
	{
		name: "bitcoin",
		match: func(s string) bool {
			return btcLegacyRe.MatchString(s) || btcP2SHRe.MatchString(s) || btcBech32Re.MatchString(s)
		},
		chain:      func(*Classifier) models.ChainName { return models.ChainBitcoin },
		confidence: ConfidenceUnambiguous,
	},
	{
		name:       "solana",
		match:      solanaRe.MatchString,
		chain:      func(*Classifier) models.ChainName { return models.ChainSolana },
		confidence: ConfidenceUnambiguous,
	},
	{
		name:       "hex",
		match:      hexRe.MatchString,
		chain:      func(c *Classifier) models.ChainName { return c.defaultEVM },
		confidence: ConfidenceShared,
		ambiguous:  true,
	},
}

// Classifier maps an address string to its most likely chain
type Classifier struct {
	defaultEVM models.ChainName
}

// NewClassifier returns a classifier that resolves the hex shape to
// defaultEVM. An empty or non-EVM value falls back to ethereum.
func NewClassifier(defaultEVM models.ChainName) *Classifier {
	defaultEVM = strings.ToLower(strings.TrimSpace(defaultEVM))
	if !models.IsAccountChain(defaultEVM) {
		defaultEVM = models.ChainEthereum
	}
	return &Classifier{defaultEVM: defaultEVM}
}

// Classify returns the detection for address, or ErrUnrecognizedAddressFormat
// when no rule matches. Surrounding whitespace is ignored.
func (c *Classifier) Classify(address string) (models.Detection, error) {
	addr := strings.TrimSpace(address)
	if addr == "" {
		return models.Detection{}, fmt.Errorf("empty address: %w", models.ErrUnrecognizedAddressFormat)
	}

	for _, r := range rules {
		if !r.match(addr) {
			continue
		}
		det := models.Detection{
			Chain:      r.chain(c),
			Confidence: r.confidence,
			Ambiguous:  r.ambiguous,
			Method:     "pattern",
		}
		if r.ambiguous {
			det.Candidates = append([]models.ChainName(nil), models.AccountChains...)
		} else {
			det.Candidates = []models.ChainName{det.Chain}
		}
		return det, nil
	}

	return models.Detection{}, fmt.Errorf("%q: %w", addr, models.ErrUnrecognizedAddressFormat)
}
