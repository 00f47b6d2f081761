package models

import "errors"

// Failure taxonomy shared by every layer. Callers match with errors.Is;
// concrete errors wrap one of these with context.
var (
	ErrUnrecognizedAddressFormat = errors.New("unrecognized address format")
	ErrUnsupportedChain          = errors.New("unsupported chain")
	ErrInvalidAddressForChain    = errors.New("invalid address for chain")
	ErrProviderUnavailable       = errors.New("all providers unavailable")
	ErrRateLimited               = errors.New("rate limited")
	ErrPartialDataUnavailable    = errors.New("partial data unavailable")
	ErrInvestigationTimedOut     = errors.New("investigation timed out")
)
