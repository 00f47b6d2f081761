package chains

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawblock/wallet-investigator/pkg/models"
)

// fakeAdapter is a configurable in-memory Adapter for registry tests
type fakeAdapter struct {
	info    models.ChainInfo
	valid   func(string) bool
	pingErr error
	hang    bool
	panics  bool
}

func (f *fakeAdapter) GetChainInfo() models.ChainInfo {
	if f.panics {
		panic("broken adapter")
	}
	return f.info
}

func (f *fakeAdapter) ValidateAddress(address string) bool {
	if f.valid == nil {
		return false
	}
	return f.valid(address)
}

func (f *fakeAdapter) GetBalance(ctx context.Context, address string) (models.Balance, error) {
	return models.Balance{Amount: "1"}, nil
}

func (f *fakeAdapter) GetTransactionHistory(ctx context.Context, address string, limit int) ([]models.Transaction, error) {
	return nil, nil
}

func (f *fakeAdapter) Ping(ctx context.Context) error {
	if f.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.pingErr
}

func fake(name string) *fakeAdapter {
	return &fakeAdapter{info: models.ChainInfo{Name: name}}
}

func TestRegistry_GetService(t *testing.T) {
	reg := NewRegistry(fake("ethereum"), fake("bitcoin"))

	a, err := reg.GetService("ethereum")
	require.NoError(t, err)
	assert.Equal(t, "ethereum", a.GetChainInfo().Name)

	_, err = reg.GetService("Ethereum")
	assert.NoError(t, err, "lookup is case-insensitive")

	_, err = reg.GetService("dogecoin")
	assert.ErrorIs(t, err, models.ErrUnsupportedChain)
	assert.False(t, reg.Has("dogecoin"))
}

func TestRegistry_KeepsRegistrationOrder(t *testing.T) {
	reg := NewRegistry(fake("solana"), fake("ethereum"), fake("bitcoin"))
	reg.Register(fake("ethereum"))

	assert.Equal(t, []string{"solana", "ethereum", "bitcoin"}, reg.Supported())
	infos := reg.ChainInfos()
	require.Len(t, infos, 3)
	assert.Equal(t, "solana", infos[0].Name)
}

func TestRegistry_ValidateAddress(t *testing.T) {
	eth := fake("ethereum")
	eth.valid = func(s string) bool { return s == "0xabc" }
	reg := NewRegistry(eth)

	assert.True(t, reg.ValidateAddress("  0xabc ", "ethereum"))
	assert.False(t, reg.ValidateAddress("0xdef", "ethereum"))
	assert.False(t, reg.ValidateAddress("0xabc", "polygon"))
}

func TestRegistry_HealthIsolatesFailures(t *testing.T) {
	healthy := fake("ethereum")
	failing := fake("polygon")
	failing.pingErr = errors.New("connection refused")
	slow := fake("solana")
	slow.hang = true

	reg := NewRegistry(healthy, failing, slow)
	reg.SetProbeTimeout(50 * time.Millisecond)

	start := time.Now()
	health := reg.GetServiceHealth(context.Background())

	assert.Equal(t, map[string]bool{"ethereum": true, "polygon": false, "solana": false}, health)
	assert.Less(t, time.Since(start), 2*time.Second, "a hanging probe must not block the rest")
}

func TestRegistry_HealthSurvivesPanic(t *testing.T) {
	ok := fake("ethereum")
	broken := fake("bitcoin")
	reg := NewRegistry(ok, broken)
	broken.panics = true

	health := reg.GetServiceHealth(context.Background())
	assert.True(t, health["ethereum"])
	assert.False(t, health["bitcoin"])
}

func TestMockSource_Deterministic(t *testing.T) {
	info := models.ChainInfo{Name: "ethereum", Symbol: "ETH", Family: models.FamilyAccount}
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	m1 := newMockSource(info, zerolog.Nop())
	m1.now = func() time.Time { return fixed }
	m2 := newMockSource(info, zerolog.Nop())
	m2.now = func() time.Time { return fixed }

	addr := "0x742d35Cc6634C0532925a3b844Bc454e4438f44e"
	h1 := m1.history(addr, 0)
	h2 := m2.history(addr, 0)
	require.Equal(t, h1, h2)
	assert.GreaterOrEqual(t, len(h1), 5)
	assert.LessOrEqual(t, len(h1), 24)

	for _, tx := range h1 {
		assert.True(t, tx.From == addr || tx.To == addr)
		assert.Len(t, tx.Hash, 66)
	}

	other := m1.history("0x0000000000000000000000000000000000000001", 0)
	assert.NotEqual(t, h1[0].Hash, other[0].Hash)

	limited := m1.history(addr, 3)
	assert.Len(t, limited, 3)

	prices := staticPrices{"ETH": 2000}
	b1 := m1.balance(context.Background(), addr, prices)
	b2 := m2.balance(context.Background(), addr, prices)
	assert.Equal(t, b1, b2)
	assert.InDelta(t, parseAmount(b1.Amount)*2000, b1.USDValue, 1e-6)
}

// staticPrices is a PriceSource backed by a fixed table
type staticPrices map[string]float64

func (s staticPrices) PriceOf(ctx context.Context, symbol string, chain models.ChainName) float64 {
	return s[symbol]
}
