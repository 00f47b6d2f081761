package chains

import (
	"context"
	"hash/fnv"
	"math/big"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/rawblock/wallet-investigator/pkg/models"
)

// mockSource serves deterministic, address-seeded data for a chain that
// has no provider configured. Every call is logged at warn level so mock
// output is never mistaken for chain data.
type mockSource struct {
	info   models.ChainInfo
	logger zerolog.Logger
	now    func() time.Time
}

func newMockSource(info models.ChainInfo, logger zerolog.Logger) *mockSource {
	logger.Warn().Str("chain", info.Name).Msg("no provider configured, serving MOCK data")
	return &mockSource{info: info, logger: logger, now: time.Now}
}

func (m *mockSource) rng(address, salt string) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(m.info.Name + ":" + salt + ":" + address))
	return rand.New(rand.NewSource(int64(h.Sum64())))
}

func (m *mockSource) balance(ctx context.Context, address string, prices PriceSource) models.Balance {
	m.logger.Warn().Str("chain", m.info.Name).Str("address", address).Msg("MOCK balance")
	r := m.rng(address, "balance")

	// 0 to 100 whole units with up to 6 decimals
	micros := r.Int63n(100_000_000)
	amount := formatUnits(big.NewInt(micros), 6)
	return models.Balance{
		Amount:     amount,
		USDValue:   parseAmount(amount) * prices.PriceOf(ctx, m.info.Symbol, m.info.Name),
		ObservedAt: m.now(),
	}
}

func (m *mockSource) history(address string, limit int) []models.Transaction {
	m.logger.Warn().Str("chain", m.info.Name).Str("address", address).Msg("MOCK transaction history")
	r := m.rng(address, "history")

	n := 5 + r.Intn(20)
	if limit > 0 && n > limit {
		n = limit
	}
	base := m.now().Truncate(time.Hour)
	out := make([]models.Transaction, 0, n)
	for i := 0; i < n; i++ {
		counterparty := m.mockAddress(r)
		from, to := counterparty, address
		if i%2 == 0 {
			from, to = address, counterparty
		}
		micros := r.Int63n(5_000_000)
		status := models.TxSuccess
		if r.Intn(20) == 0 {
			status = models.TxFailed
		}
		out = append(out, models.Transaction{
			Hash:        m.mockHash(r),
			From:        from,
			To:          to,
			Value:       formatUnits(big.NewInt(micros), 6),
			Currency:    m.info.Symbol,
			BlockNumber: uint64(1_000_000 + n - i),
			Timestamp:   base.Add(-time.Duration(i*(1+r.Intn(48))) * time.Hour),
			Status:      status,
			Kind:        models.KindTransfer,
		})
	}
	return out
}

func (m *mockSource) mockAddress(r *rand.Rand) string {
	switch m.info.Family {
	case models.FamilyUTXO:
		return "1" + randomString(r, base58Alphabet, 33)
	case models.FamilySolana:
		return randomString(r, base58Alphabet, 44)
	default:
		return "0x" + randomString(r, "0123456789abcdef", 40)
	}
}

func (m *mockSource) mockHash(r *rand.Rand) string {
	switch m.info.Family {
	case models.FamilyUTXO:
		return randomString(r, "0123456789abcdef", 64)
	case models.FamilySolana:
		return randomString(r, base58Alphabet, 88)
	default:
		return "0x" + randomString(r, "0123456789abcdef", 64)
	}
}

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

func randomString(r *rand.Rand, alphabet string, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[r.Intn(len(alphabet))]
	}
	return string(b)
}
