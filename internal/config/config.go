package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rawblock/wallet-investigator/pkg/models"
)

// Config is the process configuration. Values are resolved in order:
//  1. DefaultConfig()
//  2. optional YAML overlay (CONFIG_FILE)
//  3. environment variables (a .env file is loaded first when present)
//
// and checked with Validate before use.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Chains        ChainsConfig        `yaml:"chains"`
	Storage       StorageConfig       `yaml:"storage"`
	AI            AIConfig            `yaml:"ai"`
	Investigation InvestigationConfig `yaml:"investigation"`
}

type ServerConfig struct {
	Port            int      `yaml:"port" validate:"min=1,max=65535"`
	GinMode         string   `yaml:"gin_mode" validate:"oneof=debug release test"`
	LogLevel        string   `yaml:"log_level" validate:"oneof=trace debug info warn error"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	AuthToken       string   `yaml:"auth_token"`
	RateLimitPerMin int      `yaml:"rate_limit_per_min" validate:"gte=0"`
	RateLimitBurst  int      `yaml:"rate_limit_burst" validate:"gte=0"`
}

// ChainsConfig holds provider endpoints and credentials. An empty endpoint
// means the provider is not configured; a chain with nothing configured
// at all runs in mock mode.
type ChainsConfig struct {
	DefaultEVMChain string            `yaml:"default_evm_chain" validate:"required"`
	Enabled         []string          `yaml:"enabled"` // Empty means every known chain
	EVMRPC          map[string]string `yaml:"evm_rpc"`
	EtherscanAPIKey string            `yaml:"etherscan_api_key"`
	EtherscanURL    string            `yaml:"etherscan_url" validate:"omitempty,url"`
	EsploraURL      string            `yaml:"esplora_url" validate:"omitempty,url"`
	BTCRPCHost      string            `yaml:"btc_rpc_host"`
	BTCRPCUser      string            `yaml:"btc_rpc_user"`
	BTCRPCPass      string            `yaml:"btc_rpc_pass"`
	SolanaRPCURL    string            `yaml:"solana_rpc_url" validate:"omitempty,url"`
	HeliusAPIKey    string            `yaml:"helius_api_key"`
	HeliusURL       string            `yaml:"helius_url" validate:"omitempty,url"`
	CoinGeckoURL    string            `yaml:"coingecko_url" validate:"omitempty,url"`
}

type StorageConfig struct {
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`
	NATSURL     string `yaml:"nats_url"`
}

// AIConfig selects the narration provider. The first configured key wins:
// Anthropic, then OpenAI, then Ollama.
type AIConfig struct {
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	OllamaURL       string `yaml:"ollama_url"`
	Model           string `yaml:"model"`
	MaxTokens       int    `yaml:"max_tokens" validate:"gte=0"`
}

type InvestigationConfig struct {
	Timeout            time.Duration `yaml:"timeout" validate:"gt=0"`
	ProviderTimeout    time.Duration `yaml:"provider_timeout" validate:"gt=0"`
	PriceTTL           time.Duration `yaml:"price_ttl" validate:"gt=0"`
	HistoryLimit       int           `yaml:"history_limit" validate:"gt=0"`
	MaxSessions        int           `yaml:"max_sessions" validate:"gt=0"`
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout" validate:"gt=0"`
	PageMaxPages       int           `yaml:"page_max_pages" validate:"gt=0"`
	PageMaxRetries     int           `yaml:"page_max_retries" validate:"gte=0"`
}

// DefaultConfig returns a config that runs locally with no credentials.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			GinMode:         "debug",
			LogLevel:        "info",
			AllowedOrigins:  []string{"http://localhost:3000"},
			RateLimitPerMin: 60,
			RateLimitBurst:  10,
		},
		Chains: ChainsConfig{
			DefaultEVMChain: models.ChainEthereum,
			EVMRPC:          map[string]string{},
			EtherscanURL:    "https://api.etherscan.io/v2/api",
			HeliusURL:       "https://api.helius.xyz",
			CoinGeckoURL:    "https://api.coingecko.com/api/v3",
		},
		AI: AIConfig{
			MaxTokens: 1024,
		},
		Investigation: InvestigationConfig{
			Timeout:            2 * time.Minute,
			ProviderTimeout:    15 * time.Second,
			PriceTTL:           5 * time.Minute,
			HistoryLimit:       100,
			MaxSessions:        100,
			SessionIdleTimeout: 30 * time.Minute,
			PageMaxPages:       10,
			PageMaxRetries:     3,
		},
	}
}

// Load resolves the configuration from defaults, the optional YAML file
// named by CONFIG_FILE, and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// evmRPCEnv maps each account-model chain to its RPC endpoint variable
var evmRPCEnv = map[string]string{
	models.ChainEthereum:  "ETH_RPC_URL",
	models.ChainPolygon:   "POLYGON_RPC_URL",
	models.ChainBinance:   "BSC_RPC_URL",
	models.ChainBase:      "BASE_RPC_URL",
	models.ChainArbitrum:  "ARBITRUM_RPC_URL",
	models.ChainOptimism:  "OPTIMISM_RPC_URL",
	models.ChainAvalanche: "AVALANCHE_RPC_URL",
}

func (c *Config) applyEnvOverrides() {
	// Server
	c.Server.Port = envInt("PORT", c.Server.Port)
	c.Server.GinMode = envOr("GIN_MODE", c.Server.GinMode)
	c.Server.LogLevel = strings.ToLower(envOr("LOG_LEVEL", c.Server.LogLevel))
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = splitTrim(v)
	}
	c.Server.AuthToken = envOr("API_AUTH_TOKEN", c.Server.AuthToken)
	c.Server.RateLimitPerMin = envInt("RATE_LIMIT_PER_MIN", c.Server.RateLimitPerMin)
	c.Server.RateLimitBurst = envInt("RATE_LIMIT_BURST", c.Server.RateLimitBurst)

	// Chains
	c.Chains.DefaultEVMChain = strings.ToLower(envOr("DEFAULT_EVM_CHAIN", c.Chains.DefaultEVMChain))
	if v := os.Getenv("ENABLED_CHAINS"); v != "" {
		c.Chains.Enabled = splitTrim(strings.ToLower(v))
	}
	if c.Chains.EVMRPC == nil {
		c.Chains.EVMRPC = map[string]string{}
	}
	for chain, key := range evmRPCEnv {
		if v := os.Getenv(key); v != "" {
			c.Chains.EVMRPC[chain] = v
		}
	}
	c.Chains.EtherscanAPIKey = envOr("ETHERSCAN_API_KEY", c.Chains.EtherscanAPIKey)
	c.Chains.EtherscanURL = envOr("ETHERSCAN_URL", c.Chains.EtherscanURL)
	c.Chains.EsploraURL = envOr("ESPLORA_URL", c.Chains.EsploraURL)
	c.Chains.BTCRPCHost = envOr("BTC_RPC_HOST", c.Chains.BTCRPCHost)
	c.Chains.BTCRPCUser = envOr("BTC_RPC_USER", c.Chains.BTCRPCUser)
	c.Chains.BTCRPCPass = envOr("BTC_RPC_PASS", c.Chains.BTCRPCPass)
	c.Chains.SolanaRPCURL = envOr("SOLANA_RPC_URL", c.Chains.SolanaRPCURL)
	c.Chains.HeliusAPIKey = envOr("HELIUS_API_KEY", c.Chains.HeliusAPIKey)
	c.Chains.HeliusURL = envOr("HELIUS_URL", c.Chains.HeliusURL)
	c.Chains.CoinGeckoURL = envOr("COINGECKO_URL", c.Chains.CoinGeckoURL)

	// Storage
	c.Storage.DatabaseURL = envOr("DATABASE_URL", c.Storage.DatabaseURL)
	c.Storage.RedisURL = envOr("REDIS_URL", c.Storage.RedisURL)
	c.Storage.NATSURL = envOr("NATS_URL", c.Storage.NATSURL)

	// AI
	c.AI.AnthropicAPIKey = envOr("ANTHROPIC_API_KEY", c.AI.AnthropicAPIKey)
	c.AI.OpenAIAPIKey = envOr("OPENAI_API_KEY", c.AI.OpenAIAPIKey)
	c.AI.OllamaURL = envOr("OLLAMA_URL", c.AI.OllamaURL)
	c.AI.Model = envOr("AI_MODEL", c.AI.Model)
	c.AI.MaxTokens = envInt("AI_MAX_TOKENS", c.AI.MaxTokens)

	// Investigation limits
	c.Investigation.Timeout = envDuration("INVESTIGATION_TIMEOUT", c.Investigation.Timeout)
	c.Investigation.ProviderTimeout = envDuration("PROVIDER_TIMEOUT", c.Investigation.ProviderTimeout)
	c.Investigation.PriceTTL = envDuration("PRICE_TTL", c.Investigation.PriceTTL)
	c.Investigation.HistoryLimit = envInt("HISTORY_LIMIT", c.Investigation.HistoryLimit)
	c.Investigation.MaxSessions = envInt("MAX_SESSIONS", c.Investigation.MaxSessions)
	c.Investigation.SessionIdleTimeout = envDuration("SESSION_IDLE_TIMEOUT", c.Investigation.SessionIdleTimeout)
	c.Investigation.PageMaxPages = envInt("PAGE_MAX_PAGES", c.Investigation.PageMaxPages)
	c.Investigation.PageMaxRetries = envInt("PAGE_MAX_RETRIES", c.Investigation.PageMaxRetries)
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if !models.IsAccountChain(c.Chains.DefaultEVMChain) {
		return fmt.Errorf("invalid config: DEFAULT_EVM_CHAIN %q is not an account-model chain", c.Chains.DefaultEVMChain)
	}

	known := map[string]bool{models.ChainBitcoin: true, models.ChainSolana: true}
	for _, ch := range models.AccountChains {
		known[ch] = true
	}
	var errs []error
	for _, ch := range c.Chains.Enabled {
		if !known[ch] {
			errs = append(errs, fmt.Errorf("ENABLED_CHAINS: unknown chain %q", ch))
		}
	}
	if (c.Chains.BTCRPCUser != "" || c.Chains.BTCRPCPass != "") && c.Chains.BTCRPCHost == "" {
		errs = append(errs, errors.New("BTC_RPC_USER/BTC_RPC_PASS set without BTC_RPC_HOST"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ChainEnabled reports whether chain should be registered. An empty
// enabled list enables every chain.
func (c *Config) ChainEnabled(chain string) bool {
	if len(c.Chains.Enabled) == 0 {
		return true
	}
	for _, ch := range c.Chains.Enabled {
		if ch == chain {
			return true
		}
	}
	return false
}

// ExplicitlyEnabled reports whether chain was named in ENABLED_CHAINS.
func (c *Config) ExplicitlyEnabled(chain string) bool {
	return len(c.Chains.Enabled) > 0 && c.ChainEnabled(chain)
}

// HasAIProvider reports whether any LLM narration backend is configured.
func (c *Config) HasAIProvider() bool {
	return c.AI.AnthropicAPIKey != "" || c.AI.OpenAIAPIKey != "" || c.AI.OllamaURL != ""
}

// ─── Helpers ───────────────────────────────────────────────────────────────

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// envDuration accepts Go duration strings ("90s") or bare seconds ("90").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func splitTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
