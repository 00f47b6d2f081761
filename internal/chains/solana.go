package chains

import (
	"context"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/rs/zerolog"

	"github.com/rawblock/wallet-investigator/pkg/models"
)

const (
	solanaDecimals      = 9
	solanaSigPageSize   = 1000
	heliusPageSize      = 100
	solanaPublicKeySize = 32
)

type SolanaConfig struct {
	Info      models.ChainInfo
	RPCURL    string
	HeliusURL string
	HeliusKey string
	Timeout   time.Duration
	Paginator Paginator
	Prices    PriceSource
	Logger    zerolog.Logger
}

// SolanaAdapter reads balances over JSON-RPC and history from Helius
// (when a key is set) or from getSignaturesForAddress.
type SolanaAdapter struct {
	info      models.ChainInfo
	rpcURL    string
	heliusURL string
	heliusKey string
	http      *jsonClient
	pager     Paginator
	prices    PriceSource
	logger    zerolog.Logger
	mock      *mockSource
}

func NewSolanaAdapter(cfg SolanaConfig) *SolanaAdapter {
	a := &SolanaAdapter{
		info:   cfg.Info,
		rpcURL: cfg.RPCURL,
		http:   newJSONClient(cfg.Timeout),
		pager:  cfg.Paginator,
		prices: cfg.Prices,
		logger: cfg.Logger.With().Str("chain", cfg.Info.Name).Logger(),
	}
	if cfg.HeliusKey != "" && cfg.HeliusURL != "" {
		a.heliusURL = strings.TrimRight(cfg.HeliusURL, "/")
		a.heliusKey = cfg.HeliusKey
	}
	if a.rpcURL == "" && a.heliusKey == "" {
		a.mock = newMockSource(cfg.Info, a.logger)
	}
	return a
}

func (a *SolanaAdapter) GetChainInfo() models.ChainInfo { return a.info }

func (a *SolanaAdapter) IsMock() bool { return a.mock != nil }

// ValidateAddress accepts base58 strings that decode to a 32-byte key.
func (a *SolanaAdapter) ValidateAddress(address string) bool {
	if len(address) < 32 || len(address) > 44 {
		return false
	}
	return len(base58.Decode(address)) == solanaPublicKeySize
}

func (a *SolanaAdapter) Ping(ctx context.Context) error {
	if a.mock != nil || a.rpcURL == "" {
		return nil
	}
	var status string
	return a.http.callRPC(ctx, a.rpcURL, "getHealth", nil, &status)
}

// ─── Balance ───────────────────────────────────────────────────────────────

func (a *SolanaAdapter) GetBalance(ctx context.Context, address string) (models.Balance, error) {
	if !a.ValidateAddress(address) {
		return models.Balance{}, fmt.Errorf("%s: %w", address, models.ErrInvalidAddressForChain)
	}
	if a.mock != nil {
		return a.mock.balance(ctx, address, a.prices), nil
	}

	var providers []provider[uint64]
	if a.rpcURL != "" {
		providers = append(providers, provider[uint64]{"rpc", func(ctx context.Context) (uint64, error) {
			return a.rpcBalance(ctx, a.rpcURL, address)
		}})
	}
	if a.heliusKey != "" {
		providers = append(providers, provider[uint64]{"helius-rpc", func(ctx context.Context) (uint64, error) {
			return a.rpcBalance(ctx, a.heliusRPCURL(), address)
		}})
	}

	lamports, err := tryProviders(ctx, a.logger, "balance", providers)
	if err != nil {
		return models.Balance{}, err
	}
	amount := formatUnits(new(big.Int).SetUint64(lamports), solanaDecimals)
	return models.Balance{
		Amount:     amount,
		USDValue:   parseAmount(amount) * a.prices.PriceOf(ctx, a.info.Symbol, a.info.Name),
		ObservedAt: time.Now(),
	}, nil
}

func (a *SolanaAdapter) rpcBalance(ctx context.Context, endpoint, address string) (uint64, error) {
	var res struct {
		Value uint64 `json:"value"`
	}
	if err := a.http.callRPC(ctx, endpoint, "getBalance", []any{address}, &res); err != nil {
		return 0, err
	}
	return res.Value, nil
}

// heliusRPCURL is the Helius-hosted JSON-RPC endpoint for the same key.
func (a *SolanaAdapter) heliusRPCURL() string {
	host := strings.Replace(a.heliusURL, "://api.", "://mainnet.", 1)
	return host + "/?api-key=" + url.QueryEscape(a.heliusKey)
}

// ─── History ───────────────────────────────────────────────────────────────

func (a *SolanaAdapter) GetTransactionHistory(ctx context.Context, address string, limit int) ([]models.Transaction, error) {
	if !a.ValidateAddress(address) {
		return nil, fmt.Errorf("%s: %w", address, models.ErrInvalidAddressForChain)
	}
	if a.mock != nil {
		return a.mock.history(address, limit), nil
	}

	var providers []provider[[]models.Transaction]
	if a.heliusKey != "" {
		pager := a.pager.WithPageSize(heliusPageSize)
		providers = append(providers, provider[[]models.Transaction]{"helius", func(ctx context.Context) ([]models.Transaction, error) {
			return pager.Collect(ctx, limit, func(ctx context.Context, cursor string) ([]models.Transaction, string, error) {
				return a.heliusPage(ctx, address, cursor)
			})
		}})
	}
	if a.rpcURL != "" {
		pager := a.pager.WithPageSize(solanaSigPageSize)
		providers = append(providers, provider[[]models.Transaction]{"rpc-signatures", func(ctx context.Context) ([]models.Transaction, error) {
			return pager.Collect(ctx, limit, func(ctx context.Context, cursor string) ([]models.Transaction, string, error) {
				return a.signaturePage(ctx, address, cursor)
			})
		}})
	}
	return tryProviders(ctx, a.logger, "history", providers)
}

type heliusTx struct {
	Signature        string `json:"signature"`
	Timestamp        int64  `json:"timestamp"`
	Slot             uint64 `json:"slot"`
	Fee              uint64 `json:"fee"`
	FeePayer         string `json:"feePayer"`
	Type             string `json:"type"`
	TransactionError any    `json:"transactionError"`
	NativeTransfers  []struct {
		From   string `json:"fromUserAccount"`
		To     string `json:"toUserAccount"`
		Amount uint64 `json:"amount"`
	} `json:"nativeTransfers"`
	TokenTransfers []struct {
		From        string  `json:"fromUserAccount"`
		To          string  `json:"toUserAccount"`
		TokenAmount float64 `json:"tokenAmount"`
		Mint        string  `json:"mint"`
	} `json:"tokenTransfers"`
}

func (a *SolanaAdapter) heliusPage(ctx context.Context, address, cursor string) ([]models.Transaction, string, error) {
	q := url.Values{"api-key": {a.heliusKey}, "limit": {strconv.Itoa(heliusPageSize)}}
	if cursor != "" {
		q.Set("before", cursor)
	}
	u := fmt.Sprintf("%s/v0/addresses/%s/transactions?%s", a.heliusURL, url.PathEscape(address), q.Encode())

	var raw []heliusTx
	if err := a.http.getJSON(ctx, u, &raw); err != nil {
		return nil, "", err
	}
	if len(raw) == 0 {
		return nil, "", nil
	}
	out := make([]models.Transaction, 0, len(raw))
	for _, tx := range raw {
		out = append(out, a.convertHeliusTx(tx, address))
	}
	return out, raw[len(raw)-1].Signature, nil
}

// convertHeliusTx sums the native transfers that touch address. Outgoing
// transfers win when both directions appear in one transaction.
func (a *SolanaAdapter) convertHeliusTx(tx heliusTx, address string) models.Transaction {
	t := models.Transaction{
		Hash:        tx.Signature,
		Currency:    a.info.Symbol,
		BlockNumber: tx.Slot,
		Status:      models.TxSuccess,
		Kind:        models.KindOther,
		Metadata: models.TxMetadata{
			MethodName: strings.ToLower(tx.Type),
			Fee:        formatUnits(new(big.Int).SetUint64(tx.Fee), solanaDecimals),
		},
	}
	if tx.Timestamp > 0 {
		t.Timestamp = time.Unix(tx.Timestamp, 0).UTC()
	}
	if tx.TransactionError != nil {
		t.Status = models.TxFailed
	}

	var in, out uint64
	var sender, recipient string
	for _, nt := range tx.NativeTransfers {
		switch {
		case nt.From == address && nt.To != address:
			out += nt.Amount
			if recipient == "" {
				recipient = nt.To
			}
		case nt.To == address && nt.From != address:
			in += nt.Amount
			if sender == "" {
				sender = nt.From
			}
		}
	}

	leg := tokenLeg(tx, address)
	switch {
	case out > 0:
		t.From, t.To, t.Kind = address, recipient, models.KindTransfer
		t.Value = formatUnits(new(big.Int).SetUint64(out), solanaDecimals)
	case in > 0:
		t.From, t.To, t.Kind = sender, address, models.KindTransfer
		t.Value = formatUnits(new(big.Int).SetUint64(in), solanaDecimals)
	case leg >= 0:
		tt := tx.TokenTransfers[leg]
		t.From, t.To, t.Kind = tt.From, tt.To, models.KindToken
		t.Value = strconv.FormatFloat(tt.TokenAmount, 'f', -1, 64)
		t.Currency = "SPL"
		t.Metadata.ContractAddress = tt.Mint
	default:
		t.From, t.To = tx.FeePayer, address
		t.Value = "0"
	}
	return t
}

// tokenLeg returns the index of the first token transfer that touches
// address, or -1. Swaps list legs between pools first.
func tokenLeg(tx heliusTx, address string) int {
	for i, tt := range tx.TokenTransfers {
		if tt.From == address || tt.To == address {
			return i
		}
	}
	return -1
}

type signatureInfo struct {
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
	Err       any    `json:"err"`
	BlockTime *int64 `json:"blockTime"`
	Memo      string `json:"memo"`
}

// signaturePage lists signatures only. Transfer direction and value are not
// available from this method, so each entry is recorded against address
// itself with a zero value.
func (a *SolanaAdapter) signaturePage(ctx context.Context, address, cursor string) ([]models.Transaction, string, error) {
	opts := map[string]any{"limit": solanaSigPageSize}
	if cursor != "" {
		opts["before"] = cursor
	}
	var sigs []signatureInfo
	if err := a.http.callRPC(ctx, a.rpcURL, "getSignaturesForAddress", []any{address, opts}, &sigs); err != nil {
		return nil, "", err
	}
	if len(sigs) == 0 {
		return nil, "", nil
	}

	out := make([]models.Transaction, 0, len(sigs))
	for _, s := range sigs {
		t := models.Transaction{
			Hash:        s.Signature,
			From:        address,
			To:          address,
			Value:       "0",
			Currency:    a.info.Symbol,
			BlockNumber: s.Slot,
			Status:      models.TxSuccess,
			Kind:        models.KindOther,
		}
		if s.BlockTime != nil {
			t.Timestamp = time.Unix(*s.BlockTime, 0).UTC()
		}
		if s.Err != nil {
			t.Status = models.TxFailed
		}
		out = append(out, t)
	}
	return out, sigs[len(sigs)-1].Signature, nil
}
