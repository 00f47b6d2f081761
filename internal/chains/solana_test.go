package chains

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawblock/wallet-investigator/pkg/models"
)

const solAddress = "So11111111111111111111111111111111111111112"

var testSolInfo = models.ChainInfo{Name: "solana", Symbol: "SOL", Family: models.FamilySolana, Decimals: 9}

// solanaRPCStub dispatches JSON-RPC calls by method name.
func solanaRPCStub(t *testing.T, handlers map[string]func(params []json.RawMessage) string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int64             `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		h, ok := handlers[req.Method]
		if !ok {
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + h(req.Params) + `}`))
	}))
}

func newTestSolana(rpcURL, heliusURL, heliusKey string) *SolanaAdapter {
	p, _ := testPaginator(0, 5, 1)
	return NewSolanaAdapter(SolanaConfig{
		Info:      testSolInfo,
		RPCURL:    rpcURL,
		HeliusURL: heliusURL,
		HeliusKey: heliusKey,
		Timeout:   5 * time.Second,
		Paginator: p,
		Prices:    staticPrices{"SOL": 100},
		Logger:    zerolog.Nop(),
	})
}

func TestSolana_ValidateAddress(t *testing.T) {
	a := &SolanaAdapter{}
	tests := []struct {
		addr string
		want bool
	}{
		{solAddress, true},
		{"11111111111111111111111111111111", true},
		{"So1111111111111111111111111111111111111111O", false}, // O is not base58
		{"abc", false},
		{"0x742d35Cc6634C0532925a3b844Bc454e4438f44e", false},
	}
	for _, tt := range tests {
		if got := a.ValidateAddress(tt.addr); got != tt.want {
			t.Errorf("ValidateAddress(%q) Expected: %v Got: %v", tt.addr, tt.want, got)
		}
	}
}

func TestSolana_BalanceFromRPC(t *testing.T) {
	srv := solanaRPCStub(t, map[string]func([]json.RawMessage) string{
		"getBalance": func(params []json.RawMessage) string {
			assert.JSONEq(t, `"`+solAddress+`"`, string(params[0]))
			return `{"context":{"slot":1},"value":2500000000}`
		},
	})
	defer srv.Close()

	bal, err := newTestSolana(srv.URL, "", "").GetBalance(context.Background(), solAddress)
	require.NoError(t, err)
	assert.Equal(t, "2.5", bal.Amount)
	assert.InDelta(t, 250, bal.USDValue, 1e-9)
}

func TestSolana_RPCRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":429,"message":"Too many requests"}}`))
	}))
	defer srv.Close()

	_, err := newTestSolana(srv.URL, "", "").GetBalance(context.Background(), solAddress)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrRateLimited)
}

func TestSolana_HistoryFromSignatures(t *testing.T) {
	var befores []string
	srv := solanaRPCStub(t, map[string]func([]json.RawMessage) string{
		"getSignaturesForAddress": func(params []json.RawMessage) string {
			var opts struct {
				Limit  int    `json:"limit"`
				Before string `json:"before"`
			}
			require.Len(t, params, 2)
			require.NoError(t, json.Unmarshal(params[1], &opts))
			assert.Equal(t, 1000, opts.Limit)
			befores = append(befores, opts.Before)
			return `[
				{"signature":"sig1","slot":200,"err":null,"blockTime":1700000000},
				{"signature":"sig2","slot":199,"err":{"InstructionError":[0,"Custom"]},"blockTime":null}
			]`
		},
	})
	defer srv.Close()

	txs, err := newTestSolana(srv.URL, "", "").GetTransactionHistory(context.Background(), solAddress, 0)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, []string{""}, befores, "a short page ends the walk")

	assert.Equal(t, "sig1", txs[0].Hash)
	assert.Equal(t, solAddress, txs[0].From)
	assert.Equal(t, solAddress, txs[0].To)
	assert.Equal(t, "0", txs[0].Value)
	assert.Equal(t, models.KindOther, txs[0].Kind)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), txs[0].Timestamp)

	assert.Equal(t, models.TxFailed, txs[1].Status)
	assert.True(t, txs[1].Timestamp.IsZero())
}

func TestSolana_HistoryPrefersHelius(t *testing.T) {
	other := "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	helius := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/addresses/"+solAddress+"/transactions", r.URL.Path)
		assert.Equal(t, "hk", r.URL.Query().Get("api-key"))
		_, _ = w.Write([]byte(`[
			{"signature":"h1","timestamp":1700000000,"slot":10,"fee":5000,"feePayer":"` + solAddress + `","type":"TRANSFER",
			 "nativeTransfers":[{"fromUserAccount":"` + solAddress + `","toUserAccount":"` + other + `","amount":1500000000}]},
			{"signature":"h2","timestamp":1699999000,"slot":9,"fee":5000,"feePayer":"` + other + `","type":"TRANSFER",
			 "nativeTransfers":[{"fromUserAccount":"` + other + `","toUserAccount":"` + solAddress + `","amount":250000000}]},
			{"signature":"h3","timestamp":1699998000,"slot":8,"fee":5000,"feePayer":"` + other + `","type":"TOKEN_TRANSFER",
			 "tokenTransfers":[{"fromUserAccount":"` + other + `","toUserAccount":"` + solAddress + `","tokenAmount":12.5,"mint":"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"}]},
			{"signature":"h4","timestamp":1699997000,"slot":7,"fee":5000,"feePayer":"` + solAddress + `","type":"UNKNOWN","transactionError":{"error":"x"}}
		]`))
	}))
	defer helius.Close()

	rpcCalled := false
	rpc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rpcCalled = true
	}))
	defer rpc.Close()

	txs, err := newTestSolana(rpc.URL, helius.URL, "hk").GetTransactionHistory(context.Background(), solAddress, 0)
	require.NoError(t, err)
	require.Len(t, txs, 4)
	assert.False(t, rpcCalled)

	assert.Equal(t, other, txs[0].To)
	assert.Equal(t, "1.5", txs[0].Value)
	assert.Equal(t, "0.000005", txs[0].Metadata.Fee)
	assert.Equal(t, "transfer", txs[0].Metadata.MethodName)

	assert.Equal(t, other, txs[1].From)
	assert.Equal(t, "0.25", txs[1].Value)

	assert.Equal(t, models.KindToken, txs[2].Kind)
	assert.Equal(t, "12.5", txs[2].Value)
	assert.Equal(t, "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", txs[2].Metadata.ContractAddress)

	assert.Equal(t, models.TxFailed, txs[3].Status)
	assert.Equal(t, "0", txs[3].Value)
}

func TestSolana_HeliusSwapPicksLegTouchingAddress(t *testing.T) {
	other := "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	pool := "HN7cABqLq46Es1jh92dQQisAq662SmxELLLsHHe4YWrH"
	a := newTestSolana("", "", "")

	var swap heliusTx
	require.NoError(t, json.Unmarshal([]byte(`{"signature":"s1","timestamp":1700000000,"type":"SWAP",
		"tokenTransfers":[
			{"fromUserAccount":"`+other+`","toUserAccount":"`+pool+`","tokenAmount":99,"mint":"m1"},
			{"fromUserAccount":"`+pool+`","toUserAccount":"`+solAddress+`","tokenAmount":40,"mint":"m2"}]}`), &swap))

	tx := a.convertHeliusTx(swap, solAddress)
	assert.Equal(t, pool, tx.From)
	assert.Equal(t, solAddress, tx.To)
	assert.Equal(t, "40", tx.Value)
	assert.Equal(t, "m2", tx.Metadata.ContractAddress)
	assert.Equal(t, models.KindToken, tx.Kind)

	// No leg touches the address: recorded against it with zero value
	swap.TokenTransfers = swap.TokenTransfers[:1]
	tx = a.convertHeliusTx(swap, solAddress)
	assert.Equal(t, solAddress, tx.To)
	assert.Equal(t, "0", tx.Value)
}

func TestSolana_HeliusRPCURL(t *testing.T) {
	a := newTestSolana("", "https://api.helius.xyz/", "k y")
	assert.Equal(t, "https://mainnet.helius.xyz/?api-key=k+y", a.heliusRPCURL())
	assert.False(t, a.IsMock())
}
