package chains

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/rawblock/wallet-investigator/pkg/models"
)

// transferTopic is the ERC-20 Transfer(address,address,uint256) event id
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// ethRPC is the subset of *ethclient.Client the adapter uses
type ethRPC interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// EVMConfig wires one account-model chain. ExplorerURL is an Etherscan v2
// style multichain endpoint; the chain is selected with Info.ChainID.
type EVMConfig struct {
	Info        models.ChainInfo
	RPCURL      string
	ExplorerURL string
	ExplorerKey string
	Timeout     time.Duration
	LogWindow   uint64 // Blocks scanned by the log-based history fallback
	Paginator   Paginator
	Prices      PriceSource
	Logger      zerolog.Logger
}

// EVMAdapter serves every Ethereum-compatible chain.
//
// Providers, in order:
//
//	balance  JSON-RPC eth_getBalance, then explorer action=balance
//	history  explorer txlist, then ERC-20 Transfer logs over a recent window
//	tokens   explorer tokentx aggregated per contract
type EVMAdapter struct {
	info        models.ChainInfo
	rpc         ethRPC
	explorerURL string
	explorerKey string
	http        *jsonClient
	logWindow   uint64
	pager       Paginator
	prices      PriceSource
	logger      zerolog.Logger
	mock        *mockSource
}

// NewEVMAdapter dials the RPC endpoint when one is configured. With neither
// an RPC endpoint nor an explorer key the adapter runs in mock mode.
func NewEVMAdapter(ctx context.Context, cfg EVMConfig) (*EVMAdapter, error) {
	a := &EVMAdapter{
		info:      cfg.Info,
		http:      newJSONClient(cfg.Timeout),
		logWindow: cfg.LogWindow,
		pager:     cfg.Paginator,
		prices:    cfg.Prices,
		logger:    cfg.Logger.With().Str("chain", cfg.Info.Name).Logger(),
	}
	if a.logWindow == 0 {
		a.logWindow = 5000
	}
	if a.pager.PageSize == 0 {
		a.pager.PageSize = 100
	}
	if cfg.ExplorerURL != "" && cfg.ExplorerKey != "" {
		a.explorerURL = cfg.ExplorerURL
		a.explorerKey = cfg.ExplorerKey
	}
	if cfg.RPCURL != "" {
		client, err := ethclient.DialContext(ctx, cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("dial %s rpc: %w", cfg.Info.Name, err)
		}
		a.rpc = client
	}
	if a.rpc == nil && a.explorerURL == "" {
		a.mock = newMockSource(cfg.Info, a.logger)
	}
	return a, nil
}

func (a *EVMAdapter) GetChainInfo() models.ChainInfo { return a.info }

// IsMock reports whether the adapter serves generated data.
func (a *EVMAdapter) IsMock() bool { return a.mock != nil }

func (a *EVMAdapter) ValidateAddress(address string) bool {
	return strings.HasPrefix(address, "0x") && common.IsHexAddress(address)
}

func (a *EVMAdapter) Ping(ctx context.Context) error {
	switch {
	case a.mock != nil:
		return nil
	case a.rpc != nil:
		_, err := a.rpc.ChainID(ctx)
		return err
	default:
		var head string
		return a.explorerCall(ctx, url.Values{"module": {"proxy"}, "action": {"eth_blockNumber"}}, &head)
	}
}

// ─── Balance ───────────────────────────────────────────────────────────────

func (a *EVMAdapter) GetBalance(ctx context.Context, address string) (models.Balance, error) {
	if !a.ValidateAddress(address) {
		return models.Balance{}, fmt.Errorf("%s: %w", address, models.ErrInvalidAddressForChain)
	}
	if a.mock != nil {
		return a.mock.balance(ctx, address, a.prices), nil
	}

	var providers []provider[*big.Int]
	if a.rpc != nil {
		providers = append(providers, provider[*big.Int]{"rpc", func(ctx context.Context) (*big.Int, error) {
			return a.rpc.BalanceAt(ctx, common.HexToAddress(address), nil)
		}})
	}
	if a.explorerURL != "" {
		providers = append(providers, provider[*big.Int]{"explorer", func(ctx context.Context) (*big.Int, error) {
			return a.explorerBalance(ctx, address)
		}})
	}

	wei, err := tryProviders(ctx, a.logger, "balance", providers)
	if err != nil {
		return models.Balance{}, err
	}
	amount := formatUnits(wei, a.info.Decimals)
	return models.Balance{
		Amount:     amount,
		USDValue:   parseAmount(amount) * a.prices.PriceOf(ctx, a.info.Symbol, a.info.Name),
		ObservedAt: time.Now(),
	}, nil
}

func (a *EVMAdapter) explorerBalance(ctx context.Context, address string) (*big.Int, error) {
	var raw string
	err := a.explorerCall(ctx, url.Values{
		"module":  {"account"},
		"action":  {"balance"},
		"address": {address},
		"tag":     {"latest"},
	}, &raw)
	if err != nil {
		return nil, err
	}
	wei, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("explorer balance: unparseable %q", raw)
	}
	return wei, nil
}

// ─── History ───────────────────────────────────────────────────────────────

func (a *EVMAdapter) GetTransactionHistory(ctx context.Context, address string, limit int) ([]models.Transaction, error) {
	if !a.ValidateAddress(address) {
		return nil, fmt.Errorf("%s: %w", address, models.ErrInvalidAddressForChain)
	}
	if a.mock != nil {
		return a.mock.history(address, limit), nil
	}

	var providers []provider[[]models.Transaction]
	if a.explorerURL != "" {
		providers = append(providers, provider[[]models.Transaction]{"explorer", func(ctx context.Context) ([]models.Transaction, error) {
			return a.pager.Collect(ctx, limit, func(ctx context.Context, cursor string) ([]models.Transaction, string, error) {
				return a.explorerTxPage(ctx, address, "txlist", cursor, nil)
			})
		}})
	}
	if a.rpc != nil {
		providers = append(providers, provider[[]models.Transaction]{"rpc-logs", func(ctx context.Context) ([]models.Transaction, error) {
			return a.historyFromLogs(ctx, address, limit)
		}})
	}
	return tryProviders(ctx, a.logger, "history", providers)
}

// explorerTx is one row of an Etherscan txlist or tokentx response
type explorerTx struct {
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	Hash            string `json:"hash"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	GasPrice        string `json:"gasPrice"`
	GasUsed         string `json:"gasUsed"`
	IsError         string `json:"isError"`
	Input           string `json:"input"`
	ContractAddress string `json:"contractAddress"`
	FunctionName    string `json:"functionName"`
	TokenName       string `json:"tokenName"`
	TokenSymbol     string `json:"tokenSymbol"`
	TokenDecimal    string `json:"tokenDecimal"`
}

// explorerTxPage fetches one page of txlist or tokentx. Page cursors are
// 1-based page numbers. visit, when set, sees every raw row.
func (a *EVMAdapter) explorerTxPage(ctx context.Context, address, action, cursor string, visit func(explorerTx)) ([]models.Transaction, string, error) {
	page := 1
	if cursor != "" {
		page, _ = strconv.Atoi(cursor)
	}
	var rows []explorerTx
	err := a.explorerCall(ctx, url.Values{
		"module":     {"account"},
		"action":     {action},
		"address":    {address},
		"startblock": {"0"},
		"endblock":   {"99999999"},
		"page":       {strconv.Itoa(page)},
		"offset":     {strconv.Itoa(a.pager.PageSize)},
		"sort":       {"desc"},
	}, &rows)
	if err != nil {
		return nil, "", err
	}

	out := make([]models.Transaction, 0, len(rows))
	for _, r := range rows {
		if r.Hash == "" {
			continue
		}
		if visit != nil {
			visit(r)
		}
		out = append(out, a.convertExplorerTx(r, action == "tokentx"))
	}
	return out, strconv.Itoa(page + 1), nil
}

func (a *EVMAdapter) convertExplorerTx(r explorerTx, token bool) models.Transaction {
	tx := models.Transaction{
		Hash:        r.Hash,
		From:        r.From,
		To:          r.To,
		Currency:    a.info.Symbol,
		BlockNumber: parseUint(r.BlockNumber),
		Timestamp:   parseUnix(r.TimeStamp),
		Status:      models.TxSuccess,
	}
	if r.IsError == "1" {
		tx.Status = models.TxFailed
	}

	switch {
	case token:
		decimals := int(parseUint(r.TokenDecimal))
		tx.Kind = models.KindToken
		tx.Value = formatUnitsString(r.Value, decimals)
		tx.Currency = r.TokenSymbol
		tx.Metadata.ContractAddress = r.ContractAddress
		tx.Metadata.TokenSymbol = r.TokenSymbol
	case r.ContractAddress != "", r.Input != "" && r.Input != "0x":
		tx.Kind = models.KindContract
		tx.Value = formatUnitsString(r.Value, a.info.Decimals)
		tx.Metadata.ContractAddress = r.ContractAddress
	default:
		tx.Kind = models.KindTransfer
		tx.Value = formatUnitsString(r.Value, a.info.Decimals)
	}

	if name, _, ok := strings.Cut(r.FunctionName, "("); ok {
		tx.Metadata.MethodName = name
	}
	if gp, ok := new(big.Int).SetString(r.GasPrice, 10); ok {
		if gu, ok := new(big.Int).SetString(r.GasUsed, 10); ok {
			tx.Metadata.Fee = formatUnits(new(big.Int).Mul(gp, gu), a.info.Decimals)
		}
	}
	return tx
}

// historyFromLogs rebuilds token-transfer history from Transfer events in
// the most recent LogWindow blocks. Token decimals are unknown here, so
// values assume 18.
func (a *EVMAdapter) historyFromLogs(ctx context.Context, address string, limit int) ([]models.Transaction, error) {
	head, err := a.rpc.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	var from uint64
	if head > a.logWindow {
		from = head - a.logWindow
	}
	addrTopic := common.BytesToHash(common.HexToAddress(address).Bytes())
	queries := []ethereum.FilterQuery{
		{FromBlock: new(big.Int).SetUint64(from), ToBlock: new(big.Int).SetUint64(head), Topics: [][]common.Hash{{transferTopic}, {addrTopic}}},
		{FromBlock: new(big.Int).SetUint64(from), ToBlock: new(big.Int).SetUint64(head), Topics: [][]common.Hash{{transferTopic}, nil, {addrTopic}}},
	}

	seen := make(map[string]bool)
	var logs []types.Log
	for _, q := range queries {
		batch, err := a.rpc.FilterLogs(ctx, q)
		if err != nil {
			return nil, err
		}
		for _, l := range batch {
			key := fmt.Sprintf("%s:%d", l.TxHash.Hex(), l.Index)
			if len(l.Topics) < 3 || seen[key] {
				continue
			}
			seen[key] = true
			logs = append(logs, l)
		}
	}
	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber > logs[j].BlockNumber
		}
		return logs[i].Index > logs[j].Index
	})
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}

	blockTimes := make(map[uint64]time.Time)
	out := make([]models.Transaction, 0, len(logs))
	for _, l := range logs {
		ts, ok := blockTimes[l.BlockNumber]
		if !ok {
			if h, err := a.rpc.HeaderByNumber(ctx, new(big.Int).SetUint64(l.BlockNumber)); err == nil {
				ts = time.Unix(int64(h.Time), 0).UTC()
			}
			blockTimes[l.BlockNumber] = ts
		}
		out = append(out, models.Transaction{
			Hash:        l.TxHash.Hex(),
			From:        common.BytesToAddress(l.Topics[1].Bytes()).Hex(),
			To:          common.BytesToAddress(l.Topics[2].Bytes()).Hex(),
			Value:       formatUnits(new(big.Int).SetBytes(l.Data), 18),
			Currency:    "ERC20",
			BlockNumber: l.BlockNumber,
			Timestamp:   ts,
			Status:      models.TxSuccess,
			Kind:        models.KindToken,
			Metadata:    models.TxMetadata{ContractAddress: l.Address.Hex()},
		})
	}
	return out, nil
}

// ─── Tokens ────────────────────────────────────────────────────────────────

type tokenHolding struct {
	symbol   string
	name     string
	decimals int
	raw      *big.Int
}

// GetAllTokenBalances derives current ERC-20 holdings from the wallet's
// token transfer history.
func (a *EVMAdapter) GetAllTokenBalances(ctx context.Context, address string) ([]models.TokenBalance, error) {
	if !a.ValidateAddress(address) {
		return nil, fmt.Errorf("%s: %w", address, models.ErrInvalidAddressForChain)
	}
	if a.mock != nil {
		return []models.TokenBalance{}, nil
	}
	if a.explorerURL == "" {
		return nil, fmt.Errorf("tokens: explorer not configured: %w", models.ErrProviderUnavailable)
	}

	holdings := make(map[string]*tokenHolding)
	visit := func(r explorerTx) {
		contract := strings.ToLower(r.ContractAddress)
		h, ok := holdings[contract]
		if !ok {
			h = &tokenHolding{symbol: r.TokenSymbol, name: r.TokenName, decimals: int(parseUint(r.TokenDecimal)), raw: new(big.Int)}
			holdings[contract] = h
		}
		v, ok := new(big.Int).SetString(r.Value, 10)
		if !ok {
			return
		}
		if strings.EqualFold(r.To, address) {
			h.raw.Add(h.raw, v)
		}
		if strings.EqualFold(r.From, address) {
			h.raw.Sub(h.raw, v)
		}
	}
	_, err := a.pager.Collect(ctx, 0, func(ctx context.Context, cursor string) ([]models.Transaction, string, error) {
		return a.explorerTxPage(ctx, address, "tokentx", cursor, visit)
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	out := make([]models.TokenBalance, 0, len(holdings))
	for contract, h := range holdings {
		// Transfers outside the fetched window can leave a negative sum
		if h.raw.Sign() <= 0 {
			continue
		}
		amount := formatUnits(h.raw, h.decimals)
		out = append(out, models.TokenBalance{
			ContractAddress: contract,
			Symbol:          h.symbol,
			Name:            h.name,
			Decimals:        h.decimals,
			Amount:          amount,
			USDValue:        parseAmount(amount) * a.prices.PriceOf(ctx, h.symbol, a.info.Name),
			ObservedAt:      now,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].USDValue != out[j].USDValue {
			return out[i].USDValue > out[j].USDValue
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out, nil
}

// ─── Explorer transport ────────────────────────────────────────────────────

type explorerResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

var errExplorer = errors.New("explorer error")

// explorerCall performs one Etherscan-style request and decodes "result".
// An empty-result status is not an error; rate-limit messages map to
// models.ErrRateLimited.
func (a *EVMAdapter) explorerCall(ctx context.Context, params url.Values, out any) error {
	params.Set("chainid", strconv.FormatInt(a.info.ChainID, 10))
	params.Set("apikey", a.explorerKey)

	var resp explorerResponse
	if err := a.http.getJSON(ctx, a.explorerURL+"?"+params.Encode(), &resp); err != nil {
		return err
	}

	// The proxy module answers in JSON-RPC shape without status
	if resp.Status == "1" || (resp.Status == "" && len(resp.Result) > 0) {
		return json.Unmarshal(resp.Result, out)
	}

	var detail string
	_ = json.Unmarshal(resp.Result, &detail)
	msg := strings.ToLower(resp.Message + " " + detail)
	switch {
	case strings.Contains(msg, "no transactions found"), strings.Contains(msg, "no records found"):
		return nil
	case strings.Contains(msg, "rate limit"):
		return fmt.Errorf("%s: %s: %w", params.Get("action"), detail, models.ErrRateLimited)
	default:
		return fmt.Errorf("%s: %s %s: %w", params.Get("action"), resp.Message, detail, errExplorer)
	}
}

func parseUint(s string) uint64 {
	n, _ := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	return n
}

func parseUnix(s string) time.Time {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	return time.Unix(n, 0).UTC()
}
