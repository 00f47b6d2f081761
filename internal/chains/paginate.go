package chains

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rawblock/wallet-investigator/pkg/models"
)

// FetchPage fetches one page starting at cursor ("" for the first page) and
// returns the page items plus the cursor of the following page. An empty
// next cursor means there is nothing after this page.
type FetchPage func(ctx context.Context, cursor string) (items []models.Transaction, next string, err error)

// Paginator walks a cursor-paginated history endpoint with bounded retries.
//
// A rate-limited page (models.ErrRateLimited) is retried with the same cursor
// after an exponential backoff starting at RateLimitBase and capped at
// RateLimitMax. Any other error uses the shorter transient backoff. After
// MaxRetries failed attempts on one page the walk stops with ErrRateLimited
// or ErrProviderUnavailable.
type Paginator struct {
	PageSize      int
	MaxPages      int
	MaxRetries    int
	CallTimeout   time.Duration // Applied to each page fetch; 0 disables
	RateLimitBase time.Duration
	RateLimitMax  time.Duration
	TransientBase time.Duration
	TransientMax  time.Duration

	// Sleep waits for d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error

	Logger zerolog.Logger
}

// DefaultPaginator returns the standard retry profile for a given page size.
func DefaultPaginator(pageSize, maxPages, maxRetries int, callTimeout time.Duration, logger zerolog.Logger) Paginator {
	return Paginator{
		PageSize:      pageSize,
		MaxPages:      maxPages,
		MaxRetries:    maxRetries,
		CallTimeout:   callTimeout,
		RateLimitBase: 2 * time.Second,
		RateLimitMax:  10 * time.Second,
		TransientBase: 500 * time.Millisecond,
		TransientMax:  5 * time.Second,
		Sleep:         sleepCtx,
		Logger:        logger,
	}
}

// WithPageSize returns a copy using a different page size.
func (p Paginator) WithPageSize(n int) Paginator {
	p.PageSize = n
	return p
}

// Collect gathers up to limit items (limit <= 0 means no limit beyond
// MaxPages). On failure it returns the items collected so far together
// with the error.
func (p Paginator) Collect(ctx context.Context, limit int, fetch FetchPage) ([]models.Transaction, error) {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	maxPages := p.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}

	var out []models.Transaction
	cursor := ""
	for page := 0; page < maxPages; page++ {
		items, next, err := p.fetchWithRetry(ctx, page, cursor, fetch, sleep)
		if err != nil {
			return out, err
		}
		out = append(out, items...)

		if limit > 0 && len(out) >= limit {
			return out[:limit], nil
		}
		if len(items) == 0 || (p.PageSize > 0 && len(items) < p.PageSize) || next == "" {
			return out, nil
		}
		cursor = next
	}

	p.Logger.Debug().Int("pages", maxPages).Int("items", len(out)).Msg("page ceiling reached")
	return out, nil
}

func (p Paginator) fetchWithRetry(ctx context.Context, page int, cursor string, fetch FetchPage, sleep func(context.Context, time.Duration) error) ([]models.Transaction, string, error) {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, p.CallTimeout)
		}
		items, next, err := fetch(callCtx, cursor)
		cancel()
		if err == nil {
			return items, next, nil
		}
		lastErr = err

		// The caller gave up; do not mistake that for a provider fault.
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		if attempt == p.MaxRetries {
			break
		}

		var wait time.Duration
		if errors.Is(err, models.ErrRateLimited) {
			wait = backoff(p.RateLimitBase, p.RateLimitMax, attempt)
		} else {
			wait = backoff(p.TransientBase, p.TransientMax, attempt)
		}
		p.Logger.Warn().Err(err).Int("page", page+1).Int("attempt", attempt+1).Dur("wait", wait).Msg("page fetch failed, retrying same page")

		if err := sleep(ctx, wait); err != nil {
			return nil, "", err
		}
	}

	if errors.Is(lastErr, models.ErrRateLimited) {
		return nil, "", fmt.Errorf("page %d: retries exhausted: %w", page+1, lastErr)
	}
	return nil, "", fmt.Errorf("page %d: retries exhausted: %w", page+1, errors.Join(models.ErrProviderUnavailable, lastErr))
}

// backoff is base·2^attempt, capped at ceiling.
func backoff(base, ceiling time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	wait := base << attempt
	if wait > ceiling || wait <= 0 {
		wait = ceiling
	}
	return wait
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
