package chains

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rawblock/wallet-investigator/internal/bitcoin"
	"github.com/rawblock/wallet-investigator/internal/config"
	"github.com/rawblock/wallet-investigator/pkg/models"
)

// KnownChains is the static metadata of every chain the engine can serve,
// in registration order. Account-model chains come first so fallback
// probing tries the cheapest validators before the base58 ones.
var KnownChains = []models.ChainInfo{
	{Name: models.ChainEthereum, DisplayName: "Ethereum", Symbol: "ETH", ChainID: 1, Family: models.FamilyAccount, ExplorerURL: "https://etherscan.io", Decimals: 18},
	{Name: models.ChainPolygon, DisplayName: "Polygon", Symbol: "MATIC", ChainID: 137, Family: models.FamilyAccount, ExplorerURL: "https://polygonscan.com", Decimals: 18},
	{Name: models.ChainBinance, DisplayName: "BNB Smart Chain", Symbol: "BNB", ChainID: 56, Family: models.FamilyAccount, ExplorerURL: "https://bscscan.com", Decimals: 18},
	{Name: models.ChainBase, DisplayName: "Base", Symbol: "ETH", ChainID: 8453, Family: models.FamilyAccount, ExplorerURL: "https://basescan.org", Decimals: 18},
	{Name: models.ChainArbitrum, DisplayName: "Arbitrum One", Symbol: "ETH", ChainID: 42161, Family: models.FamilyAccount, ExplorerURL: "https://arbiscan.io", Decimals: 18},
	{Name: models.ChainOptimism, DisplayName: "OP Mainnet", Symbol: "ETH", ChainID: 10, Family: models.FamilyAccount, ExplorerURL: "https://optimistic.etherscan.io", Decimals: 18},
	{Name: models.ChainAvalanche, DisplayName: "Avalanche C-Chain", Symbol: "AVAX", ChainID: 43114, Family: models.FamilyAccount, ExplorerURL: "https://snowtrace.io", Decimals: 18},
	{Name: models.ChainBitcoin, DisplayName: "Bitcoin", Symbol: "BTC", Family: models.FamilyUTXO, ExplorerURL: "https://mempool.space", Decimals: 8},
	{Name: models.ChainSolana, DisplayName: "Solana", Symbol: "SOL", Family: models.FamilySolana, ExplorerURL: "https://solscan.io", Decimals: 9},
}

// Build constructs one adapter per enabled chain. A chain with nothing
// configured is registered in mock mode, unless it was named explicitly in
// ENABLED_CHAINS, in which case Build fails.
func Build(ctx context.Context, cfg *config.Config, prices PriceSource, logger zerolog.Logger) (*Registry, error) {
	logger = logger.With().Str("component", "chains").Logger()
	limits := cfg.Investigation
	pager := DefaultPaginator(100, limits.PageMaxPages, limits.PageMaxRetries, limits.ProviderTimeout, logger)

	reg := NewRegistry()
	for _, info := range KnownChains {
		if !cfg.ChainEnabled(info.Name) {
			continue
		}
		var (
			a   Adapter
			err error
		)
		switch info.Family {
		case models.FamilyAccount:
			a, err = buildEVM(ctx, cfg, info, pager, prices, logger)
		case models.FamilyUTXO:
			a, err = buildBitcoin(cfg, info, pager, prices, logger)
		case models.FamilySolana:
			a = buildSolana(cfg, info, pager, prices, logger)
		}
		if err != nil {
			if cfg.ExplicitlyEnabled(info.Name) {
				return nil, err
			}
			logger.Warn().Err(err).Str("chain", info.Name).Msg("chain skipped")
			continue
		}

		if m, ok := a.(interface{ IsMock() bool }); ok && m.IsMock() && cfg.ExplicitlyEnabled(info.Name) {
			return nil, fmt.Errorf("chain %s is enabled but has no provider configured", info.Name)
		}
		reg.Register(a)
	}

	if len(reg.Supported()) == 0 {
		return nil, fmt.Errorf("no chains enabled")
	}
	logger.Info().Strs("chains", reg.Supported()).Msg("chain registry ready")
	return reg, nil
}

func buildEVM(ctx context.Context, cfg *config.Config, info models.ChainInfo, pager Paginator, prices PriceSource, logger zerolog.Logger) (Adapter, error) {
	// RPC URLs often embed provider keys, so they stay out of ChainInfo
	return NewEVMAdapter(ctx, EVMConfig{
		Info:        info,
		RPCURL:      cfg.Chains.EVMRPC[info.Name],
		ExplorerURL: cfg.Chains.EtherscanURL,
		ExplorerKey: cfg.Chains.EtherscanAPIKey,
		Timeout:     cfg.Investigation.ProviderTimeout,
		Paginator:   pager,
		Prices:      prices,
		Logger:      logger,
	})
}

func buildBitcoin(cfg *config.Config, info models.ChainInfo, pager Paginator, prices PriceSource, logger zerolog.Logger) (Adapter, error) {
	info.RPCURL = cfg.Chains.EsploraURL

	var node BitcoinNode
	if cfg.Chains.BTCRPCHost != "" {
		client, err := bitcoin.NewClient(bitcoin.Config{
			Host: cfg.Chains.BTCRPCHost,
			User: cfg.Chains.BTCRPCUser,
			Pass: cfg.Chains.BTCRPCPass,
		}, logger)
		switch {
		case err == nil:
			node = client
		case cfg.Chains.EsploraURL == "":
			return nil, fmt.Errorf("bitcoin node unreachable and no Esplora URL: %w", err)
		default:
			logger.Warn().Err(err).Msg("bitcoin node unreachable, continuing with Esplora only")
		}
	}

	return NewBitcoinAdapter(BitcoinConfig{
		Info:       info,
		EsploraURL: cfg.Chains.EsploraURL,
		Node:       node,
		Timeout:    cfg.Investigation.ProviderTimeout,
		Paginator:  pager,
		Prices:     prices,
		Logger:     logger,
	}), nil
}

func buildSolana(cfg *config.Config, info models.ChainInfo, pager Paginator, prices PriceSource, logger zerolog.Logger) Adapter {
	return NewSolanaAdapter(SolanaConfig{
		Info:      info,
		RPCURL:    cfg.Chains.SolanaRPCURL,
		HeliusURL: cfg.Chains.HeliusURL,
		HeliusKey: cfg.Chains.HeliusAPIKey,
		Timeout:   cfg.Investigation.ProviderTimeout,
		Paginator: pager,
		Prices:    prices,
		Logger:    logger,
	})
}
