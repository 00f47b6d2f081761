package chains

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawblock/wallet-investigator/pkg/models"
)

const testEVMAddress = "0x742d35Cc6634C0532925a3b844Bc454e4438f44e"

var testEthInfo = models.ChainInfo{Name: "ethereum", Symbol: "ETH", ChainID: 1, Family: models.FamilyAccount, Decimals: 18}

// explorerStub answers Etherscan-style requests keyed by action.
func explorerStub(t *testing.T, handlers map[string]func(q map[string]string) string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := map[string]string{}
		for k, v := range r.URL.Query() {
			q[k] = v[0]
		}
		assert.Equal(t, "1", q["chainid"])
		assert.Equal(t, "key", q["apikey"])

		h, ok := handlers[q["action"]]
		if !ok {
			http.Error(w, "unexpected action "+q["action"], http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(h(q)))
	}))
}

func newTestEVM(t *testing.T, explorerURL string) *EVMAdapter {
	t.Helper()
	p, _ := testPaginator(2, 5, 1)
	a, err := NewEVMAdapter(context.Background(), EVMConfig{
		Info:        testEthInfo,
		ExplorerURL: explorerURL,
		ExplorerKey: "key",
		Timeout:     5 * time.Second,
		Paginator:   p,
		Prices:      staticPrices{"ETH": 2000, "USDC": 1},
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)
	return a
}

func TestEVM_ValidateAddress(t *testing.T) {
	a := &EVMAdapter{}
	tests := []struct {
		addr string
		want bool
	}{
		{testEVMAddress, true},
		{"0x742d35cc6634c0532925a3b844bc454e4438f44e", true},
		{"742d35Cc6634C0532925a3b844Bc454e4438f44e", false},
		{"0x742d35Cc6634C0532925a3b844Bc454e4438f44", false},
		{"0xZZ2d35Cc6634C0532925a3b844Bc454e4438f44e", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := a.ValidateAddress(tt.addr); got != tt.want {
			t.Errorf("ValidateAddress(%q) Expected: %v Got: %v", tt.addr, tt.want, got)
		}
	}
}

func TestEVM_MockModeWithoutProviders(t *testing.T) {
	a, err := NewEVMAdapter(context.Background(), EVMConfig{
		Info:   testEthInfo,
		Prices: staticPrices{"ETH": 2000},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	assert.True(t, a.IsMock())

	txs, err := a.GetTransactionHistory(context.Background(), testEVMAddress, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, txs)

	tokens, err := a.GetAllTokenBalances(context.Background(), testEVMAddress)
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func TestEVM_BalanceFromExplorer(t *testing.T) {
	srv := explorerStub(t, map[string]func(map[string]string) string{
		"balance": func(q map[string]string) string {
			assert.Equal(t, testEVMAddress, q["address"])
			return `{"status":"1","message":"OK","result":"1500000000000000000"}`
		},
	})
	defer srv.Close()

	a := newTestEVM(t, srv.URL)
	bal, err := a.GetBalance(context.Background(), testEVMAddress)
	require.NoError(t, err)
	assert.Equal(t, "1.5", bal.Amount)
	assert.InDelta(t, 3000, bal.USDValue, 1e-9)
}

func TestEVM_BalanceRejectsInvalidAddress(t *testing.T) {
	a := newTestEVM(t, "http://127.0.0.1:1")
	_, err := a.GetBalance(context.Background(), "bc1qxyz")
	assert.ErrorIs(t, err, models.ErrInvalidAddressForChain)
}

func TestEVM_BalanceFromRPC(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "eth_getBalance", req.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":"0xde0b6b3a7640000"}`))
	}))
	defer srv.Close()

	a, err := NewEVMAdapter(context.Background(), EVMConfig{
		Info:   testEthInfo,
		RPCURL: srv.URL,
		Prices: staticPrices{"ETH": 2000},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	assert.False(t, a.IsMock())

	bal, err := a.GetBalance(context.Background(), testEVMAddress)
	require.NoError(t, err)
	assert.Equal(t, "1", bal.Amount)
	assert.InDelta(t, 2000, bal.USDValue, 1e-9)
}

func TestEVM_HistoryPagesThroughExplorer(t *testing.T) {
	pages := map[string]string{
		"1": `{"status":"1","message":"OK","result":[
			{"blockNumber":"100","timeStamp":"1700000000","hash":"0xa1","from":"0x742d35cc6634c0532925a3b844bc454e4438f44e","to":"0xbb","value":"1000000000000000000","gasPrice":"1000000000","gasUsed":"21000","isError":"0","input":"0x"},
			{"blockNumber":"99","timeStamp":"1699990000","hash":"0xa2","from":"0xcc","to":"0x742d35cc6634c0532925a3b844bc454e4438f44e","value":"0","gasPrice":"1","gasUsed":"1","isError":"1","input":"0xa9059cbb","functionName":"transfer(address to, uint256 amount)"}
		]}`,
		"2": `{"status":"1","message":"OK","result":[
			{"blockNumber":"50","timeStamp":"1690000000","hash":"0xa3","from":"0xdd","to":"0x742d35cc6634c0532925a3b844bc454e4438f44e","value":"250000000000000000","isError":"0","input":"0x"}
		]}`,
	}
	srv := explorerStub(t, map[string]func(map[string]string) string{
		"txlist": func(q map[string]string) string {
			assert.Equal(t, "2", q["offset"])
			assert.Equal(t, "desc", q["sort"])
			return pages[q["page"]]
		},
	})
	defer srv.Close()

	a := newTestEVM(t, srv.URL)
	txs, err := a.GetTransactionHistory(context.Background(), testEVMAddress, 0)
	require.NoError(t, err)
	require.Len(t, txs, 3)

	assert.Equal(t, "0xa1", txs[0].Hash)
	assert.Equal(t, "1", txs[0].Value)
	assert.Equal(t, models.KindTransfer, txs[0].Kind)
	assert.Equal(t, "0.000021", txs[0].Metadata.Fee)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), txs[0].Timestamp)

	assert.Equal(t, models.TxFailed, txs[1].Status)
	assert.Equal(t, models.KindContract, txs[1].Kind)
	assert.Equal(t, "transfer", txs[1].Metadata.MethodName)

	assert.Equal(t, "0.25", txs[2].Value)
}

func TestEVM_HistoryEmptyIsNotAnError(t *testing.T) {
	srv := explorerStub(t, map[string]func(map[string]string) string{
		"txlist": func(map[string]string) string {
			return `{"status":"0","message":"No transactions found","result":[]}`
		},
	})
	defer srv.Close()

	txs, err := newTestEVM(t, srv.URL).GetTransactionHistory(context.Background(), testEVMAddress, 0)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestEVM_ExplorerRateLimit(t *testing.T) {
	calls := 0
	srv := explorerStub(t, map[string]func(map[string]string) string{
		"txlist": func(map[string]string) string {
			calls++
			return `{"status":"0","message":"NOTOK","result":"Max rate limit reached"}`
		},
	})
	defer srv.Close()

	_, err := newTestEVM(t, srv.URL).GetTransactionHistory(context.Background(), testEVMAddress, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrRateLimited)
	assert.Equal(t, 2, calls, "one retry of the same page")
}

func TestEVM_TokenBalancesAggregateTransfers(t *testing.T) {
	me := "0x742d35cc6634c0532925a3b844bc454e4438f44e"
	srv := explorerStub(t, map[string]func(map[string]string) string{
		"tokentx": func(q map[string]string) string {
			if q["page"] != "1" {
				return `{"status":"0","message":"No transactions found","result":[]}`
			}
			return `{"status":"1","message":"OK","result":[
				{"hash":"0x1","from":"0xaa","to":"` + me + `","value":"5000000","contractAddress":"0xUSDC","tokenSymbol":"USDC","tokenName":"USD Coin","tokenDecimal":"6"},
				{"hash":"0x2","from":"` + me + `","to":"0xbb","value":"2000000","contractAddress":"0xusdc","tokenSymbol":"USDC","tokenName":"USD Coin","tokenDecimal":"6"}
			]}`
		},
	})
	defer srv.Close()

	tokens, err := newTestEVM(t, srv.URL).GetAllTokenBalances(context.Background(), testEVMAddress)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "0xusdc", tokens[0].ContractAddress)
	assert.Equal(t, "3", tokens[0].Amount)
	assert.Equal(t, 6, tokens[0].Decimals)
	assert.InDelta(t, 3, tokens[0].USDValue, 1e-9)
}

// fakeEthRPC serves Transfer logs for the log-based history fallback
type fakeEthRPC struct {
	head    uint64
	logs    []types.Log
	queries []ethereum.FilterQuery
}

func (f *fakeEthRPC) ChainID(ctx context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (f *fakeEthRPC) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return nil, errors.New("unavailable")
}

func (f *fakeEthRPC) BlockNumber(ctx context.Context) (uint64, error) { return f.head, nil }

func (f *fakeEthRPC) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.queries = append(f.queries, q)
	return f.logs, nil
}

func (f *fakeEthRPC) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Number: number, Time: 1700000000 + number.Uint64()}, nil
}

func TestEVM_HistoryFromLogsFallback(t *testing.T) {
	me := common.HexToAddress(testEVMAddress)
	other := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	amount := common.LeftPadBytes(big.NewInt(2_000_000_000_000_000_000).Bytes(), 32)

	rpc := &fakeEthRPC{
		head: 10_000,
		logs: []types.Log{
			{Address: other, BlockNumber: 9_000, Index: 1, TxHash: common.HexToHash("0x01"), Data: amount,
				Topics: []common.Hash{transferTopic, common.BytesToHash(me.Bytes()), common.BytesToHash(other.Bytes())}},
			{Address: other, BlockNumber: 9_500, Index: 0, TxHash: common.HexToHash("0x02"), Data: amount,
				Topics: []common.Hash{transferTopic, common.BytesToHash(other.Bytes()), common.BytesToHash(me.Bytes())}},
		},
	}
	a := &EVMAdapter{info: testEthInfo, rpc: rpc, logWindow: 5000, logger: zerolog.Nop(), prices: staticPrices{}}

	txs, err := a.GetTransactionHistory(context.Background(), testEVMAddress, 0)
	require.NoError(t, err)

	// Both queries return the same logs; duplicates are dropped
	require.Len(t, txs, 2)
	assert.Len(t, rpc.queries, 2)
	assert.Equal(t, uint64(5_000), rpc.queries[0].FromBlock.Uint64())

	assert.Equal(t, uint64(9_500), txs[0].BlockNumber, "newest first")
	assert.Equal(t, me.Hex(), txs[0].To)
	assert.Equal(t, "2", txs[0].Value)
	assert.Equal(t, models.KindToken, txs[0].Kind)
	assert.Equal(t, time.Unix(1700009500, 0).UTC(), txs[0].Timestamp)
}
