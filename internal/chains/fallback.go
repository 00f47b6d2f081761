package chains

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rawblock/wallet-investigator/pkg/models"
)

// provider is one named data source for a single operation
type provider[T any] struct {
	name string
	call func(ctx context.Context) (T, error)
}

// tryProviders calls each provider in order and returns the first success.
// When all fail the result wraps ErrRateLimited if the last failure was a
// rate limit, otherwise ErrProviderUnavailable, joined with every
// provider's error.
func tryProviders[T any](ctx context.Context, logger zerolog.Logger, op string, providers []provider[T]) (T, error) {
	var zero T
	if len(providers) == 0 {
		return zero, fmt.Errorf("%s: no providers configured: %w", op, models.ErrProviderUnavailable)
	}

	errs := make([]error, 0, len(providers))
	for i, p := range providers {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := p.call(ctx)
		if err == nil {
			if i > 0 {
				logger.Info().Str("op", op).Str("provider", p.name).Msg("served by fallback provider")
			}
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		logger.Warn().Err(err).Str("op", op).Str("provider", p.name).Msg("provider failed")
		errs = append(errs, fmt.Errorf("%s: %w", p.name, err))
	}

	sentinel := models.ErrProviderUnavailable
	if errors.Is(errs[len(errs)-1], models.ErrRateLimited) {
		sentinel = models.ErrRateLimited
	}
	return zero, fmt.Errorf("%s: %w", op, errors.Join(append([]error{sentinel}, errs...)...))
}
