package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// DeploymentConfig models the optional deployments.json describing the
// on-chain addresses the service talks to, per chain.
type DeploymentConfig struct {
	Networks []NetworkDeployment `json:"networks"`
}

type NetworkDeployment struct {
	ChainID       int64  `json:"chainId"`
	Stablecoin    string `json:"stablecoin"`
	TopupContract string `json:"topupContract"`
}

// AppConfig ties together service, chain, and provider settings.
type AppConfig struct {
	Service  ServiceConfig
	Chain    ChainConfig
	Provider ProviderConfig
	Retry    RetryConfig
}

type ServiceConfig struct {
	HTTPPort          int
	PostgresDSN       string
	QueueStorePath    string
	ReplayStorePath   string
	IdempotencyWindow time.Duration
	CatalogCacheTTL   time.Duration
	WebhookSecret     string
	WebhookClockSkew  time.Duration
}

type ChainConfig struct {
	RPCURL        string
	PrivateKey    string
	TopupContract string
	// PaymentMode selects the value-moving call: "contract" invokes the
	// topup contract's pay entry point, "transfer" sends the token
	// straight to the contract address.
	PaymentMode string
	// Tokens maps a chain id to the stablecoin contract accepted there.
	Tokens              map[int64]string
	TokenSymbol         string
	TokenDecimals       int
	ConfirmationTimeout time.Duration
}

type ProviderConfig struct {
	BaseURL     string
	HTTPTimeout time.Duration
}

type RetryConfig struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier int
	WorkerInterval    time.Duration
}

const (
	PaymentModeContract = "contract"
	PaymentModeTransfer = "transfer"
)

// Known USDC deployments. Overridable via deployments.json.
const (
	chainIDBase        = 8453
	chainIDBaseSepolia = 84532

	usdcBase        = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	usdcBaseSepolia = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
)

// Load aggregates configuration from .env, environment, and the optional
// deployments file.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()

	tokens := map[int64]string{
		chainIDBase:        usdcBase,
		chainIDBaseSepolia: usdcBaseSepolia,
	}
	topupContract := envOr("TOPUP_CONTRACT_ADDRESS", "")

	if path := envOr("DEPLOYMENTS_PATH", ""); path != "" {
		deploy, err := loadDeployments(path)
		if err != nil {
			return nil, fmt.Errorf("load deployments: %w", err)
		}
		for _, n := range deploy.Networks {
			if n.Stablecoin != "" {
				tokens[n.ChainID] = n.Stablecoin
			}
			if n.TopupContract != "" && topupContract == "" {
				topupContract = n.TopupContract
			}
		}
	}

	mode := envOr("PAYMENT_MODE", PaymentModeContract)
	if mode != PaymentModeContract && mode != PaymentModeTransfer {
		return nil, fmt.Errorf("invalid PAYMENT_MODE %q", mode)
	}

	cfg := &AppConfig{
		Service: ServiceConfig{
			HTTPPort:          envOrInt("API_HTTP_PORT", 3000),
			PostgresDSN:       envOr("POSTGRES_DSN", ""),
			QueueStorePath:    envOr("QUEUE_STORE_PATH", filepath.Join(os.TempDir(), "airtopup-pending.json")),
			ReplayStorePath:   envOr("REPLAY_STORE_PATH", filepath.Join(os.TempDir(), "airtopup-replay.json")),
			IdempotencyWindow: envOrDuration("IDEMPOTENCY_WINDOW_SECONDS", 86400*time.Second),
			CatalogCacheTTL:   envOrDuration("CATALOG_CACHE_TTL_SECONDS", 300*time.Second),
			WebhookSecret:     envOr("DELIVERY_WEBHOOK_SECRET", ""),
			WebhookClockSkew:  envOrDuration("WEBHOOK_CLOCK_SKEW_SECONDS", 60*time.Second),
		},
		Chain: ChainConfig{
			RPCURL:              envOr("CHAIN_RPC_URL", "https://mainnet.base.org"),
			PrivateKey:          envOr("CHAIN_PRIVATE_KEY", ""),
			TopupContract:       topupContract,
			PaymentMode:         mode,
			Tokens:              tokens,
			TokenSymbol:         envOr("TOKEN_SYMBOL", "USDC"),
			TokenDecimals:       envOrInt("TOKEN_DECIMALS", 6),
			ConfirmationTimeout: envOrDuration("CONFIRMATION_TIMEOUT_SECONDS", 60*time.Second),
		},
		Provider: ProviderConfig{
			BaseURL:     envOr("PROVIDER_BASE_URL", "http://localhost:4000"),
			HTTPTimeout: envOrDuration("PROVIDER_TIMEOUT_SECONDS", 30*time.Second),
		},
		Retry: RetryConfig{
			MaxAttempts:       envOrInt("RETRY_MAX_ATTEMPTS", 5),
			InitialBackoff:    envOrDuration("RETRY_INITIAL_BACKOFF_SECONDS", 30*time.Second),
			MaxBackoff:        envOrDuration("RETRY_MAX_BACKOFF_SECONDS", 600*time.Second),
			BackoffMultiplier: envOrInt("RETRY_BACKOFF_MULTIPLIER", 2),
			WorkerInterval:    envOrDuration("RETRY_WORKER_INTERVAL_SECONDS", 15*time.Second),
		},
	}

	return cfg, nil
}

func loadDeployments(path string) (*DeploymentConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg DeploymentConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return time.Duration(parsed) * time.Second
		}
	}
	return fallback
}
