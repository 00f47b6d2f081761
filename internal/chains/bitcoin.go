package chains

import (
	"context"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/rs/zerolog"

	"github.com/rawblock/wallet-investigator/pkg/models"
)

// esploraPageSize is fixed by the Esplora API for /txs/chain
const esploraPageSize = 25

// BitcoinNode is a full node used when the Esplora API is unavailable
type BitcoinNode interface {
	// AddressBalance returns the confirmed balance in satoshis.
	AddressBalance(ctx context.Context, address string) (int64, error)
	AddressTransactions(ctx context.Context, address string, limit int) ([]models.Transaction, error)
	Ping(ctx context.Context) error
}

type BitcoinConfig struct {
	Info       models.ChainInfo
	EsploraURL string
	Node       BitcoinNode // Optional
	Timeout    time.Duration
	Paginator  Paginator
	Prices     PriceSource
	Logger     zerolog.Logger
}

// BitcoinAdapter reads UTXO data from an Esplora REST API and falls back
// to a Bitcoin Core node.
type BitcoinAdapter struct {
	info    models.ChainInfo
	esplora string
	node    BitcoinNode
	http    *jsonClient
	pager   Paginator
	prices  PriceSource
	logger  zerolog.Logger
	mock    *mockSource
}

func NewBitcoinAdapter(cfg BitcoinConfig) *BitcoinAdapter {
	a := &BitcoinAdapter{
		info:    cfg.Info,
		esplora: strings.TrimRight(cfg.EsploraURL, "/"),
		node:    cfg.Node,
		http:    newJSONClient(cfg.Timeout),
		pager:   cfg.Paginator.WithPageSize(esploraPageSize),
		prices:  cfg.Prices,
		logger:  cfg.Logger.With().Str("chain", cfg.Info.Name).Logger(),
	}
	if a.esplora == "" && a.node == nil {
		a.mock = newMockSource(cfg.Info, a.logger)
	}
	return a
}

func (a *BitcoinAdapter) GetChainInfo() models.ChainInfo { return a.info }

func (a *BitcoinAdapter) IsMock() bool { return a.mock != nil }

// ValidateAddress accepts mainnet P2PKH, P2SH, and segwit/taproot addresses.
func (a *BitcoinAdapter) ValidateAddress(address string) bool {
	addr, err := btcutil.DecodeAddress(address, &chaincfg.MainNetParams)
	if err != nil {
		return false
	}
	return addr.IsForNet(&chaincfg.MainNetParams)
}

func (a *BitcoinAdapter) Ping(ctx context.Context) error {
	var providers []provider[struct{}]
	if a.esplora != "" {
		providers = append(providers, provider[struct{}]{"esplora", func(ctx context.Context) (struct{}, error) {
			var height int64
			return struct{}{}, a.http.getJSON(ctx, a.esplora+"/blocks/tip/height", &height)
		}})
	}
	if a.node != nil {
		providers = append(providers, provider[struct{}]{"node", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, a.node.Ping(ctx)
		}})
	}
	if len(providers) == 0 {
		return nil
	}
	_, err := tryProviders(ctx, a.logger, "ping", providers)
	return err
}

// ─── Esplora wire types ────────────────────────────────────────────────────

type esploraStats struct {
	FundedTxoSum int64 `json:"funded_txo_sum"`
	SpentTxoSum  int64 `json:"spent_txo_sum"`
	TxCount      int   `json:"tx_count"`
}

type esploraAddress struct {
	Address      string       `json:"address"`
	ChainStats   esploraStats `json:"chain_stats"`
	MempoolStats esploraStats `json:"mempool_stats"`
}

type esploraTx struct {
	TxID   string `json:"txid"`
	Fee    int64  `json:"fee"`
	Status struct {
		Confirmed   bool   `json:"confirmed"`
		BlockHeight uint64 `json:"block_height"`
		BlockTime   int64  `json:"block_time"`
	} `json:"status"`
	Vin []struct {
		Prevout *struct {
			Address string `json:"scriptpubkey_address"`
			Value   int64  `json:"value"`
		} `json:"prevout"`
	} `json:"vin"`
	Vout []struct {
		Address string `json:"scriptpubkey_address"`
		Value   int64  `json:"value"`
	} `json:"vout"`
}

// ─── Balance ───────────────────────────────────────────────────────────────

func (a *BitcoinAdapter) GetBalance(ctx context.Context, address string) (models.Balance, error) {
	if !a.ValidateAddress(address) {
		return models.Balance{}, fmt.Errorf("%s: %w", address, models.ErrInvalidAddressForChain)
	}
	if a.mock != nil {
		return a.mock.balance(ctx, address, a.prices), nil
	}

	var providers []provider[int64]
	if a.esplora != "" {
		providers = append(providers, provider[int64]{"esplora", func(ctx context.Context) (int64, error) {
			var info esploraAddress
			if err := a.http.getJSON(ctx, a.esplora+"/address/"+url.PathEscape(address), &info); err != nil {
				return 0, err
			}
			return info.ChainStats.FundedTxoSum - info.ChainStats.SpentTxoSum, nil
		}})
	}
	if a.node != nil {
		providers = append(providers, provider[int64]{"node", func(ctx context.Context) (int64, error) {
			return a.node.AddressBalance(ctx, address)
		}})
	}

	sats, err := tryProviders(ctx, a.logger, "balance", providers)
	if err != nil {
		return models.Balance{}, err
	}
	amount := formatUnits(big.NewInt(sats), a.info.Decimals)
	return models.Balance{
		Amount:     amount,
		USDValue:   parseAmount(amount) * a.prices.PriceOf(ctx, a.info.Symbol, a.info.Name),
		ObservedAt: time.Now(),
	}, nil
}

// ─── History ───────────────────────────────────────────────────────────────

func (a *BitcoinAdapter) GetTransactionHistory(ctx context.Context, address string, limit int) ([]models.Transaction, error) {
	if !a.ValidateAddress(address) {
		return nil, fmt.Errorf("%s: %w", address, models.ErrInvalidAddressForChain)
	}
	if a.mock != nil {
		return a.mock.history(address, limit), nil
	}

	var providers []provider[[]models.Transaction]
	if a.esplora != "" {
		providers = append(providers, provider[[]models.Transaction]{"esplora", func(ctx context.Context) ([]models.Transaction, error) {
			return a.pager.Collect(ctx, limit, func(ctx context.Context, cursor string) ([]models.Transaction, string, error) {
				return a.esploraPage(ctx, address, cursor)
			})
		}})
	}
	if a.node != nil {
		providers = append(providers, provider[[]models.Transaction]{"node", func(ctx context.Context) ([]models.Transaction, error) {
			return a.node.AddressTransactions(ctx, address, limit)
		}})
	}
	return tryProviders(ctx, a.logger, "history", providers)
}

// esploraPage fetches confirmed transactions newest first. The cursor is
// the last txid of the previous page.
func (a *BitcoinAdapter) esploraPage(ctx context.Context, address, cursor string) ([]models.Transaction, string, error) {
	u := a.esplora + "/address/" + url.PathEscape(address) + "/txs/chain"
	if cursor != "" {
		u += "/" + url.PathEscape(cursor)
	}
	var raw []esploraTx
	if err := a.http.getJSON(ctx, u, &raw); err != nil {
		return nil, "", err
	}
	if len(raw) == 0 {
		return nil, "", nil
	}

	out := make([]models.Transaction, 0, len(raw))
	for _, tx := range raw {
		out = append(out, a.convertEsploraTx(tx, address))
	}
	return out, raw[len(raw)-1].TxID, nil
}

// convertEsploraTx collapses a multi-input/multi-output transaction into a
// single transfer relative to address. If the address funded any input the
// transaction is outgoing and its value is what left for other outputs;
// otherwise it is incoming and its value is what address received.
func (a *BitcoinAdapter) convertEsploraTx(tx esploraTx, address string) models.Transaction {
	var spent, received, sentOut int64
	var firstSender, firstRecipient string
	for _, in := range tx.Vin {
		if in.Prevout == nil {
			continue
		}
		if in.Prevout.Address == address {
			spent += in.Prevout.Value
		} else if firstSender == "" {
			firstSender = in.Prevout.Address
		}
	}
	for _, out := range tx.Vout {
		if out.Address == address {
			received += out.Value
			continue
		}
		sentOut += out.Value
		if firstRecipient == "" {
			firstRecipient = out.Address
		}
	}

	t := models.Transaction{
		Hash:        tx.TxID,
		Currency:    a.info.Symbol,
		BlockNumber: tx.Status.BlockHeight,
		Status:      models.TxSuccess,
		Kind:        models.KindTransfer,
		Metadata:    models.TxMetadata{Fee: formatUnits(big.NewInt(tx.Fee), a.info.Decimals)},
	}
	if tx.Status.BlockTime > 0 {
		t.Timestamp = time.Unix(tx.Status.BlockTime, 0).UTC()
	}
	if !tx.Status.Confirmed {
		t.Status = models.TxPending
	}

	if spent > 0 {
		t.From, t.To = address, firstRecipient
		if t.To == "" {
			// Consolidation back to self
			t.To = address
		}
		t.Value = formatUnits(big.NewInt(sentOut), a.info.Decimals)
	} else {
		t.From, t.To = firstSender, address
		if t.From == "" {
			t.From = "coinbase"
		}
		t.Value = formatUnits(big.NewInt(received), a.info.Decimals)
	}
	return t
}
