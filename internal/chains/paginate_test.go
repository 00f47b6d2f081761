package chains

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawblock/wallet-investigator/pkg/models"
)

func testPaginator(pageSize, maxPages, maxRetries int) (Paginator, *[]time.Duration) {
	var slept []time.Duration
	p := DefaultPaginator(pageSize, maxPages, maxRetries, 0, zerolog.Nop())
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return p, &slept
}

func makePage(start, n int) []models.Transaction {
	out := make([]models.Transaction, n)
	for i := range out {
		out[i] = models.Transaction{Hash: fmt.Sprintf("tx%d", start+i)}
	}
	return out
}

// pageFetcher serves pages of pageSize until total items are exhausted.
func pageFetcher(pageSize, total int, calls *int) FetchPage {
	return func(ctx context.Context, cursor string) ([]models.Transaction, string, error) {
		*calls++
		start := 0
		if cursor != "" {
			start, _ = strconv.Atoi(cursor)
		}
		n := pageSize
		if start+n > total {
			n = total - start
		}
		if n < 0 {
			n = 0
		}
		return makePage(start, n), strconv.Itoa(start + n), nil
	}
}

func TestCollect_StopsOnShortPage(t *testing.T) {
	p, _ := testPaginator(10, 50, 3)
	calls := 0

	txs, err := p.Collect(context.Background(), 0, pageFetcher(10, 25, &calls))
	require.NoError(t, err)
	assert.Len(t, txs, 25)
	assert.Equal(t, 3, calls, "third page is short and ends the walk")
}

func TestCollect_StopsAtPageCeiling(t *testing.T) {
	p, _ := testPaginator(10, 4, 3)
	calls := 0

	txs, err := p.Collect(context.Background(), 0, pageFetcher(10, 1000, &calls))
	require.NoError(t, err)
	assert.Len(t, txs, 40)
	assert.Equal(t, 4, calls)
}

func TestCollect_StopsAtLimit(t *testing.T) {
	p, _ := testPaginator(10, 50, 3)
	calls := 0

	txs, err := p.Collect(context.Background(), 15, pageFetcher(10, 1000, &calls))
	require.NoError(t, err)
	assert.Len(t, txs, 15)
	assert.Equal(t, 2, calls)
}

func TestCollect_EmptyFirstPage(t *testing.T) {
	p, _ := testPaginator(10, 50, 3)
	calls := 0

	txs, err := p.Collect(context.Background(), 0, pageFetcher(10, 0, &calls))
	require.NoError(t, err)
	assert.Empty(t, txs)
	assert.Equal(t, 1, calls)
}

func TestCollect_RateLimitRetriesSamePage(t *testing.T) {
	p, slept := testPaginator(10, 50, 3)

	var cursors []string
	fails := 2
	fetch := func(ctx context.Context, cursor string) ([]models.Transaction, string, error) {
		cursors = append(cursors, cursor)
		if cursor == "10" && fails > 0 {
			fails--
			return nil, "", fmt.Errorf("HTTP 429: %w", models.ErrRateLimited)
		}
		start, _ := strconv.Atoi(cursor)
		n := 10
		if start >= 20 {
			n = 3
		}
		return makePage(start, n), strconv.Itoa(start + n), nil
	}

	txs, err := p.Collect(context.Background(), 0, fetch)
	require.NoError(t, err)
	assert.Len(t, txs, 23)
	assert.Equal(t, []string{"", "10", "10", "10", "20"}, cursors)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *slept)

	// No item duplicated by the retries
	seen := map[string]bool{}
	for _, tx := range txs {
		assert.False(t, seen[tx.Hash], "duplicate %s", tx.Hash)
		seen[tx.Hash] = true
	}
}

func TestCollect_BackoffIsCapped(t *testing.T) {
	p, slept := testPaginator(10, 50, 5)
	fetch := func(ctx context.Context, cursor string) ([]models.Transaction, string, error) {
		return nil, "", models.ErrRateLimited
	}

	_, err := p.Collect(context.Background(), 0, fetch)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrRateLimited))
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}, *slept)
}

func TestCollect_TransientExhaustion(t *testing.T) {
	p, slept := testPaginator(10, 50, 2)
	calls := 0
	fetch := func(ctx context.Context, cursor string) ([]models.Transaction, string, error) {
		calls++
		if cursor == "" {
			return makePage(0, 10), "10", nil
		}
		return nil, "", errors.New("connection reset")
	}

	txs, err := p.Collect(context.Background(), 0, fetch)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrProviderUnavailable))
	assert.False(t, errors.Is(err, models.ErrRateLimited))
	assert.Len(t, txs, 10, "items collected before the failure are returned")
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, *slept)
}

func TestCollect_ContextCancelled(t *testing.T) {
	p, _ := testPaginator(10, 50, 3)
	ctx, cancel := context.WithCancel(context.Background())
	fetch := func(ctx context.Context, cursor string) ([]models.Transaction, string, error) {
		cancel()
		return nil, "", models.ErrRateLimited
	}

	_, err := p.Collect(ctx, 0, fetch)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{40, 5 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, backoff(500*time.Millisecond, 5*time.Second, tt.attempt), "attempt %d", tt.attempt)
	}
}
