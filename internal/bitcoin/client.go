// Package bitcoin talks to a Bitcoin Core node over JSON-RPC. It is the
// secondary UTXO provider when the Esplora API is unavailable: balances
// come from scantxoutset, history from a watch-only wallet.
package bitcoin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/rs/zerolog"

	"github.com/rawblock/wallet-investigator/pkg/models"
)

const defaultWallet = "investigator_watch"

type Client struct {
	RPC       *rpcclient.Client
	WalletRPC *rpcclient.Client
	Config    Config
	logger    zerolog.Logger
}

type Config struct {
	Host        string
	User        string
	Pass        string
	Wallet      string        // Watch-only wallet name; defaults to investigator_watch
	ScanTimeout time.Duration // scantxoutset can take minutes on mainnet
}

func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.Wallet == "" {
		cfg.Wallet = defaultWallet
	}
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = 5 * time.Minute
	}
	logger = logger.With().Str("component", "btc-node").Logger()

	connCfg := &rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true, // Bitcoin Core only supports HTTP POST mode
		DisableTLS:   true,
	}

	logger.Info().Str("host", cfg.Host).Msg("connecting to Bitcoin RPC")
	client, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, err
	}

	blockCount, err := client.GetBlockCount()
	if err != nil {
		client.Shutdown()
		return nil, err
	}
	logger.Info().Int64("height", blockCount).Msg("connected to Bitcoin node")

	c := &Client{RPC: client, Config: cfg, logger: logger}

	if err := c.InitializeWallet(); err != nil {
		logger.Warn().Err(err).Msg("failed to initialize watch-only wallet, history lookups will fail")
	}
	return c, nil
}

func (c *Client) Shutdown() {
	if c.WalletRPC != nil {
		c.WalletRPC.Shutdown()
	}
	c.RPC.Shutdown()
}

// ─── Provider surface ──────────────────────────────────────────────────────

// Ping checks the node answers getblockcount.
func (c *Client) Ping(ctx context.Context) error {
	return withContext(ctx, func() error {
		_, err := c.RPC.GetBlockCount()
		return err
	})
}

// AddressBalance scans the UTXO set for address and returns satoshis.
func (c *Client) AddressBalance(ctx context.Context, address string) (int64, error) {
	res, err := c.ScanTxOutset(ctx, "start", []string{"addr(" + address + ")"})
	if err != nil {
		return 0, err
	}
	if !res.Success {
		return 0, fmt.Errorf("scantxoutset: scan did not complete")
	}
	amt, err := btcutil.NewAmount(res.TotalAmount)
	if err != nil {
		return 0, fmt.Errorf("scantxoutset: %w", err)
	}
	return int64(amt), nil
}

// AddressTransactions lists the wallet transactions of a watched address,
// newest first. An address the wallet has never seen is imported without a
// rescan, so its history is not indexed yet; that case fails with
// ErrPartialDataUnavailable instead of reporting an empty history.
func (c *Client) AddressTransactions(ctx context.Context, address string, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}

	var watched bool
	err := withContext(ctx, func() error {
		var err error
		watched, err = c.IsWatched(address)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("getaddressinfo: %w", err)
	}
	if !watched {
		err = withContext(ctx, func() error {
			return c.ImportAddressDescriptor(address, address, false)
		})
		if err != nil {
			return nil, fmt.Errorf("import watch-only address: %w", err)
		}
		c.logger.Info().Str("address", address).Msg("imported watch-only address without rescan")
		return nil, fmt.Errorf("%s imported without rescan, history not indexed: %w", address, models.ErrPartialDataUnavailable)
	}

	var rows []btcjson.ListTransactionsResult
	err = withContext(ctx, func() error {
		var err error
		rows, err = c.ListTransactions(address, limit, 0, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ConvertWalletTransactions(rows, address), nil
}

// ConvertWalletTransactions maps listtransactions rows onto the shared
// transaction model. Sends carry a negative amount in Core; the model uses
// absolute values and expresses direction through From/To.
func ConvertWalletTransactions(rows []btcjson.ListTransactionsResult, address string) []models.Transaction {
	out := make([]models.Transaction, 0, len(rows))
	for _, r := range rows {
		t := models.Transaction{
			Hash:     r.TxID,
			Value:    formatBTC(math.Abs(r.Amount)),
			Currency: "BTC",
			Status:   models.TxSuccess,
			Kind:     models.KindTransfer,
		}
		switch {
		case r.BlockTime > 0:
			t.Timestamp = time.Unix(r.BlockTime, 0).UTC()
		case r.Time > 0:
			t.Timestamp = time.Unix(r.Time, 0).UTC()
		}
		if r.Confirmations <= 0 {
			t.Status = models.TxPending
		}
		if r.Fee != nil {
			t.Metadata.Fee = formatBTC(math.Abs(*r.Fee))
		}

		switch r.Category {
		case "send":
			t.From, t.To = address, r.Address
		case "generate", "immature":
			t.From, t.To = "coinbase", address
		default:
			// receive
			t.From, t.To = "", address
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

func formatBTC(v float64) string {
	amt, err := btcutil.NewAmount(v)
	if err != nil {
		return "0"
	}
	return fmt.Sprintf("%.8f", amt.ToBTC())
}

// withContext runs a blocking rpcclient call and abandons it when ctx ends.
// rpcclient has no context support; the call itself keeps running.
func withContext(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ─── UTXO scan ─────────────────────────────────────────────────────────────

type ScanTxOutResult struct {
	Success     bool        `json:"success"`
	TxOuts      int64       `json:"txouts"`
	Height      int64       `json:"height"`
	BestBlock   string      `json:"bestblock"`
	Unspents    []ScanTxOut `json:"unspents"`
	TotalAmount float64     `json:"total_amount"`
}

type ScanTxOut struct {
	TxID         string  `json:"txid"`
	Vout         uint32  `json:"vout"`
	ScriptPubKey string  `json:"scriptPubKey"`
	Amount       float64 `json:"amount"`
	Height       int64   `json:"height"`
	Desc         string  `json:"desc,omitempty"`
}

// ScanTxOutset calls scantxoutset over a direct HTTP POST.
// The default rpcclient timeout is 60s which is too short for scantxoutset;
// it causes a timeout + automatic retry that triggers "-8: Scan already in progress".
func (c *Client) ScanTxOutset(ctx context.Context, action string, descriptors []string) (*ScanTxOutResult, error) {
	param1, _ := json.Marshal(action)
	params := []json.RawMessage{param1}

	if len(descriptors) > 0 {
		descObjects := make([]map[string]string, len(descriptors))
		for i, d := range descriptors {
			descObjects[i] = map[string]string{"desc": d}
		}
		param2, _ := json.Marshal(descObjects)
		params = append(params, param2)
	}

	type jsonRPCRequest struct {
		JSONRPC string            `json:"jsonrpc"`
		ID      int               `json:"id"`
		Method  string            `json:"method"`
		Params  []json.RawMessage `json:"params"`
	}
	reqBody, _ := json.Marshal(jsonRPCRequest{
		JSONRPC: "1.0",
		ID:      1,
		Method:  "scantxoutset",
		Params:  params,
	})

	url := fmt.Sprintf("http://%s", c.Config.Host)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("scantxoutset: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.Config.User, c.Config.Pass)

	httpClient := &http.Client{Timeout: c.Config.ScanTimeout}
	httpResp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("scantxoutset: http request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("scantxoutset: %w", models.ErrRateLimited)
	}

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("scantxoutset: read body: %w", err)
	}

	type jsonRPCResponse struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, fmt.Errorf("scantxoutset: unmarshal rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("%d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	var res ScanTxOutResult
	if err := json.Unmarshal(rpcResp.Result, &res); err != nil {
		return nil, fmt.Errorf("scantxoutset: unmarshal result: %w", err)
	}
	return &res, nil
}

// ─── Wallet management ─────────────────────────────────────────────────────

// CreateWallet creates a watch-only wallet with private keys disabled.
func (c *Client) CreateWallet(name string) error {
	// createwallet "name" disable_private_keys blank passphrase avoid_reuse descriptors load_on_startup
	rawParams, err := marshalParams(name, true, false, "", false, true, true)
	if err != nil {
		return err
	}
	_, err = c.RPC.RawRequest("createwallet", rawParams)
	return err
}

func (c *Client) LoadWallet(name string) error {
	_, err := c.RPC.LoadWallet(name)
	return err
}

func (c *Client) ListWallets() ([]string, error) {
	rawResp, err := c.RPC.RawRequest("listwallets", nil)
	if err != nil {
		return nil, err
	}
	var wallets []string
	if err := json.Unmarshal(rawResp, &wallets); err != nil {
		return nil, err
	}
	return wallets, nil
}

// InitializeWallet ensures the watch-only wallet exists, is loaded, and has
// its own RPC endpoint.
func (c *Client) InitializeWallet() error {
	wallets, err := c.ListWallets()
	if err != nil {
		return err
	}

	loaded := false
	for _, w := range wallets {
		if w == c.Config.Wallet {
			loaded = true
			break
		}
	}
	if !loaded {
		if err := c.LoadWallet(c.Config.Wallet); err != nil {
			if err := c.CreateWallet(c.Config.Wallet); err != nil {
				return err
			}
		}
	}

	walletClient, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         c.Config.Host + "/wallet/" + c.Config.Wallet,
		User:         c.Config.User,
		Pass:         c.Config.Pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)
	if err != nil {
		return err
	}
	c.WalletRPC = walletClient
	return nil
}

type DescriptorRequest struct {
	Desc      string      `json:"desc"`
	Active    bool        `json:"active"`
	Timestamp interface{} `json:"timestamp"` // "now" or 0
	Label     string      `json:"label"`
}

// ImportAddressDescriptor adds addr(ADDRESS) to the watch-only wallet.
// addr() descriptors are not solvable, so they are imported inactive.
func (c *Client) ImportAddressDescriptor(address string, label string, rescan bool) error {
	client := c.RPC
	if c.WalletRPC != nil {
		client = c.WalletRPC
	}

	descParam, err := json.Marshal("addr(" + address + ")")
	if err != nil {
		return err
	}
	resp, err := client.RawRequest("getdescriptorinfo", []json.RawMessage{descParam})
	if err != nil {
		return err
	}
	var info struct {
		Descriptor string `json:"descriptor"` // canonical desc with checksum
	}
	if err := json.Unmarshal(resp, &info); err != nil {
		return err
	}

	req := DescriptorRequest{
		Desc:      info.Descriptor,
		Active:    false,
		Timestamp: "now",
		Label:     label,
	}
	if rescan {
		req.Timestamp = 0
	}
	reqBytes, err := json.Marshal([]DescriptorRequest{req})
	if err != nil {
		return err
	}
	_, err = client.RawRequest("importdescriptors", []json.RawMessage{reqBytes})
	return err
}

// IsWatched reports whether the wallet already tracks address
func (c *Client) IsWatched(address string) (bool, error) {
	client := c.RPC
	if c.WalletRPC != nil {
		client = c.WalletRPC
	}
	rawParams, err := marshalParams(address)
	if err != nil {
		return false, err
	}
	rawResp, err := client.RawRequest("getaddressinfo", rawParams)
	if err != nil {
		return false, err
	}
	var info struct {
		IsMine      bool `json:"ismine"`
		IsWatchOnly bool `json:"iswatchonly"`
	}
	if err := json.Unmarshal(rawResp, &info); err != nil {
		return false, err
	}
	return info.IsMine || info.IsWatchOnly, nil
}

// ListTransactions returns the most recent wallet transactions for label
func (c *Client) ListTransactions(label string, count int, skip int, watchOnly bool) ([]btcjson.ListTransactionsResult, error) {
	client := c.RPC
	if c.WalletRPC != nil {
		client = c.WalletRPC
	}

	rawParams, err := marshalParams(label, count, skip, watchOnly)
	if err != nil {
		return nil, err
	}
	rawResp, err := client.RawRequest("listtransactions", rawParams)
	if err != nil {
		return nil, err
	}

	var res []btcjson.ListTransactionsResult
	if err := json.Unmarshal(rawResp, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func marshalParams(params ...interface{}) ([]json.RawMessage, error) {
	raw := make([]json.RawMessage, len(params))
	for i, v := range params {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		raw[i] = b
	}
	return raw, nil
}
