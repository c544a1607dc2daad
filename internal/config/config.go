// Package config loads application configuration from environment
// variables, with an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cast"

	"lenderscan/internal/discovery"
	"lenderscan/internal/liquidity"
	"lenderscan/internal/report"
	"lenderscan/internal/resolve"
)

// DefaultRunTimeout bounds a full reconstruction run.
const DefaultRunTimeout = 150 * time.Second

// Config holds all application configuration.
type Config struct {
	// Endpoints
	RPCEndpoint     string
	WSEndpoint      string
	ScanAPIEndpoint string
	ScanAPIKey      string
	ChainID         string

	// Target contract and asset
	ContractAddress string
	AssetAddress    string
	AssetDecimals   int

	// Run policy
	LookbackBlocks uint64
	RunTimeout     time.Duration
	Workers        int
	DisableIndex   bool

	// Discovery tuning
	PageSize    int
	WindowSize  uint64
	WindowTxCap int

	// Reporting policy
	TopN                 int
	DustFilterEnabled    bool
	SkipContractAsWallet bool

	// Fallback liquidity in whole units when the live call fails.
	FallbackLiquidity uint64

	// Server
	HTTPPort    string
	PostgresDSN string
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		RPCEndpoint:     getEnv("RPC_ENDPOINT", ""),
		WSEndpoint:      getEnv("WS_ENDPOINT", ""),
		ScanAPIEndpoint: getEnv("SCAN_API_ENDPOINT", "https://api.etherscan.io/v2/api"),
		ScanAPIKey:      getEnv("SCAN_API_KEY", ""),
		ChainID:         getEnv("CHAIN_ID", "8453"),

		ContractAddress: getEnv("LENDING_CONTRACT", ""),
		AssetAddress:    getEnv("ASSET_ADDRESS", ""),
		AssetDecimals:   getEnvAsInt("ASSET_DECIMALS", report.DefaultDecimals),

		LookbackBlocks: getEnvAsUint64("LOOKBACK_BLOCKS", 500_000),
		RunTimeout:     getEnvAsDuration("RUN_TIMEOUT", DefaultRunTimeout),
		Workers:        getEnvAsInt("RESOLVE_WORKERS", resolve.DefaultWorkers),
		DisableIndex:   getEnvAsBool("DISABLE_INDEX", false),

		PageSize:    getEnvAsInt("INDEX_PAGE_SIZE", discovery.DefaultPageSize),
		WindowSize:  getEnvAsUint64("SCAN_WINDOW_SIZE", discovery.DefaultWindowSize),
		WindowTxCap: getEnvAsInt("SCAN_WINDOW_TX_CAP", discovery.DefaultWindowTxCap),

		TopN:                 getEnvAsInt("REPORT_TOP_N", report.DefaultTopN),
		DustFilterEnabled:    getEnvAsBool("DUST_FILTER", true),
		SkipContractAsWallet: getEnvAsBool("SKIP_CONTRACT_WALLET", false),

		FallbackLiquidity: getEnvAsUint64("FALLBACK_LIQUIDITY", liquidity.FallbackWholeUnits),

		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		PostgresDSN: getEnv("POSTGRES_DSN", ""),
	}
}

// Validate checks that the fields every run needs are present and
// well-formed.
func (c *Config) Validate() error {
	if c.RPCEndpoint == "" {
		return fmt.Errorf("RPC_ENDPOINT is required")
	}
	if c.ContractAddress == "" {
		return fmt.Errorf("LENDING_CONTRACT is required")
	}
	if !common.IsHexAddress(c.ContractAddress) {
		return fmt.Errorf("LENDING_CONTRACT %q is not a valid address", c.ContractAddress)
	}
	if c.AssetAddress != "" && !common.IsHexAddress(c.AssetAddress) {
		return fmt.Errorf("ASSET_ADDRESS %q is not a valid address", c.AssetAddress)
	}
	if c.LookbackBlocks == 0 {
		return fmt.Errorf("LOOKBACK_BLOCKS must be positive")
	}
	if c.RunTimeout <= 0 {
		return fmt.Errorf("RUN_TIMEOUT must be positive")
	}
	return nil
}

// Helper functions for parsing environment variables. cast tolerates
// malformed values by falling back to the default.

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := cast.ToIntE(value); err == nil {
			return v
		}
	}
	return defaultVal
}

func getEnvAsUint64(key string, defaultVal uint64) uint64 {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := cast.ToUint64E(value); err == nil {
			return v
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := cast.ToBoolE(value); err == nil {
			return v
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := cast.ToDurationE(value); err == nil {
			return v
		}
	}
	return defaultVal
}
