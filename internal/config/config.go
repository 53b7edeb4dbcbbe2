package config

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// Config holds all configuration for the opportunity engine
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Chain      ChainConfig      `mapstructure:"chain"`
	Gas        GasConfig        `mapstructure:"gas"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Strategies StrategiesConfig `mapstructure:"strategies"`
	Processing ProcessingConfig `mapstructure:"processing"`
	Cache      CacheConfig      `mapstructure:"cache"`
}

// ServerConfig contains admin API server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	APIKey       string        `mapstructure:"api_key"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// ChainConfig identifies the target chain, its endpoints and venues.
// RPCURL/WSURL/RelayURL are optional; without them the engine serves the
// admin API only and intents must arrive through external submission.
type ChainConfig struct {
	ChainID     uint64   `mapstructure:"chain_id"`
	PrimaryDex  string   `mapstructure:"primary_dex"`
	CounterDexs []string `mapstructure:"counter_dexs"`
	WETHAddress string   `mapstructure:"weth_address"`

	RPCURL      string `mapstructure:"rpc_url"`
	WSURL       string `mapstructure:"ws_url"`
	RelayURL    string `mapstructure:"relay_url"`
	RelayAPIKey string `mapstructure:"relay_api_key"`

	Venues map[string]VenueConfig `mapstructure:"venues"`
}

// VenueConfig describes one constant-product DEX deployment
type VenueConfig struct {
	Factory string `mapstructure:"factory"`
	Router  string `mapstructure:"router"`
	FeeBps  uint32 `mapstructure:"fee_bps"`
}

// GasConfig contains gas pricing thresholds, all in wei strings
type GasConfig struct {
	BasePriorityFee string `mapstructure:"base_priority_fee"`
	MaxPriorityFee  string `mapstructure:"max_priority_fee"`
	MaxGasPrice     string `mapstructure:"max_gas_price"`
	BufferPct       int64  `mapstructure:"buffer_pct"`
}

// RiskConfig contains circuit breaker and exposure thresholds
type RiskConfig struct {
	MaxSingleExposure string        `mapstructure:"max_single_exposure"`
	MinProfitRatio    int64         `mapstructure:"min_profit_ratio"`
	FailureThreshold  uint32        `mapstructure:"failure_threshold"`
	Cooldown          time.Duration `mapstructure:"cooldown"`
	StatePath         string        `mapstructure:"state_path"`
}

// StrategiesConfig contains per-strategy enablement and thresholds
type StrategiesConfig struct {
	Arbitrage ArbitrageConfig `mapstructure:"arbitrage"`
	Sandwich  SandwichConfig  `mapstructure:"sandwich"`
	Frontrun  FrontrunConfig  `mapstructure:"frontrun"`
	JIT       JITConfig       `mapstructure:"jit"`
}

// ArbitrageConfig contains arbitrage strategy configuration
type ArbitrageConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MinPosition  string `mapstructure:"min_position"`
	MaxPosition  string `mapstructure:"max_position"`
	MinSpreadBps uint32 `mapstructure:"min_spread_bps"`
}

// SandwichConfig contains sandwich strategy configuration
type SandwichConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	MinVictimAmount   string `mapstructure:"min_victim_amount"`
	MinVictimGasPrice string `mapstructure:"min_victim_gas_price"`
	MaxPosition       string `mapstructure:"max_position"`
}

// FrontrunConfig contains frontrun strategy configuration
type FrontrunConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	MinVictimAmount string `mapstructure:"min_victim_amount"`
	MaxPosition     string `mapstructure:"max_position"`
}

// JITConfig contains just-in-time liquidity strategy configuration
type JITConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	MinVictimAmount string `mapstructure:"min_victim_amount"`
	MaxPosition     string `mapstructure:"max_position"`
	HoldBlocks      uint64 `mapstructure:"hold_blocks"`
}

// ProcessingConfig contains analysis pool configuration
type ProcessingConfig struct {
	PoolSize   int           `mapstructure:"pool_size"`
	QueueSize  int           `mapstructure:"queue_size"`
	JobTimeout time.Duration `mapstructure:"job_timeout"`
}

// CacheConfig contains snapshot cache configuration
type CacheConfig struct {
	TTL              time.Duration `mapstructure:"ttl"`
	EvictionInterval time.Duration `mapstructure:"eviction_interval"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks the configuration for values that would make the
// engine unsafe to run. Configuration errors are fatal at startup,
// never tolerated per cycle.
func (c *Config) Validate() error {
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("config: chain_id is required")
	}
	if c.Chain.PrimaryDex == "" {
		return fmt.Errorf("config: primary_dex is required")
	}
	if c.Chain.WETHAddress != "" && !common.IsHexAddress(c.Chain.WETHAddress) {
		return fmt.Errorf("config: weth_address %q is not a valid address", c.Chain.WETHAddress)
	}
	for id, venue := range c.Chain.Venues {
		if venue.Factory != "" && !common.IsHexAddress(venue.Factory) {
			return fmt.Errorf("config: venue %s factory %q is not a valid address", id, venue.Factory)
		}
		if venue.Router != "" && !common.IsHexAddress(venue.Router) {
			return fmt.Errorf("config: venue %s router %q is not a valid address", id, venue.Router)
		}
	}
	if c.Risk.MinProfitRatio < 1 {
		return fmt.Errorf("config: risk.min_profit_ratio must be at least 1, got %d", c.Risk.MinProfitRatio)
	}
	if c.Risk.FailureThreshold == 0 {
		return fmt.Errorf("config: risk.failure_threshold must be positive")
	}
	if c.Gas.BufferPct < 0 || c.Gas.BufferPct > 100 {
		return fmt.Errorf("config: gas.buffer_pct %d out of [0,100]", c.Gas.BufferPct)
	}
	if c.Processing.PoolSize <= 0 || c.Processing.QueueSize <= 0 {
		return fmt.Errorf("config: processing pool_size and queue_size must be positive")
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"gas.base_priority_fee", c.Gas.BasePriorityFee},
		{"gas.max_priority_fee", c.Gas.MaxPriorityFee},
		{"gas.max_gas_price", c.Gas.MaxGasPrice},
		{"risk.max_single_exposure", c.Risk.MaxSingleExposure},
		{"strategies.arbitrage.min_position", c.Strategies.Arbitrage.MinPosition},
		{"strategies.arbitrage.max_position", c.Strategies.Arbitrage.MaxPosition},
		{"strategies.sandwich.min_victim_amount", c.Strategies.Sandwich.MinVictimAmount},
		{"strategies.sandwich.max_position", c.Strategies.Sandwich.MaxPosition},
		{"strategies.frontrun.max_position", c.Strategies.Frontrun.MaxPosition},
		{"strategies.jit.max_position", c.Strategies.JIT.MaxPosition},
	} {
		if _, err := ParseWei(field.value); err != nil {
			return fmt.Errorf("config: %s: %w", field.name, err)
		}
	}

	base, _ := ParseWei(c.Gas.BasePriorityFee)
	max, _ := ParseWei(c.Gas.MaxPriorityFee)
	if base.Cmp(max) > 0 {
		return fmt.Errorf("config: gas.base_priority_fee exceeds gas.max_priority_fee")
	}
	return nil
}

// ParseWei parses a decimal wei string; empty means zero
func ParseWei(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid wei amount %q", s)
	}
	return v, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")

	// Chain defaults (Base mainnet)
	viper.SetDefault("chain.chain_id", 8453)
	viper.SetDefault("chain.primary_dex", "uniswap_v2")
	viper.SetDefault("chain.counter_dexs", []string{"sushiswap"})
	viper.SetDefault("chain.weth_address", "0x4200000000000000000000000000000000000006")

	// Gas defaults
	viper.SetDefault("gas.base_priority_fee", "2000000000")    // 2 gwei
	viper.SetDefault("gas.max_priority_fee", "50000000000")    // 50 gwei
	viper.SetDefault("gas.max_gas_price", "1000000000000")     // 1000 gwei
	viper.SetDefault("gas.buffer_pct", 20)

	// Risk defaults
	viper.SetDefault("risk.max_single_exposure", "50000000000000000000") // 50 ETH
	viper.SetDefault("risk.min_profit_ratio", 2)
	viper.SetDefault("risk.failure_threshold", 5)
	viper.SetDefault("risk.cooldown", "10m")
	viper.SetDefault("risk.state_path", "risk_state.db")

	// Strategy defaults
	viper.SetDefault("strategies.arbitrage.enabled", true)
	viper.SetDefault("strategies.arbitrage.min_position", "1000000000000000")     // 0.001 ETH
	viper.SetDefault("strategies.arbitrage.max_position", "100000000000000000000") // 100 ETH
	viper.SetDefault("strategies.arbitrage.min_spread_bps", 100)

	viper.SetDefault("strategies.sandwich.enabled", true)
	viper.SetDefault("strategies.sandwich.min_victim_amount", "1000000000000000000") // 1 ETH
	viper.SetDefault("strategies.sandwich.min_victim_gas_price", "1000000000")       // 1 gwei
	viper.SetDefault("strategies.sandwich.max_position", "100000000000000000000")

	viper.SetDefault("strategies.frontrun.enabled", true)
	viper.SetDefault("strategies.frontrun.min_victim_amount", "1000000000000000000")
	viper.SetDefault("strategies.frontrun.max_position", "100000000000000000000")

	viper.SetDefault("strategies.jit.enabled", true)
	viper.SetDefault("strategies.jit.min_victim_amount", "5000000000000000000") // 5 ETH
	viper.SetDefault("strategies.jit.max_position", "100000000000000000000")
	viper.SetDefault("strategies.jit.hold_blocks", 2)

	// Processing defaults
	viper.SetDefault("processing.pool_size", 8)
	viper.SetDefault("processing.queue_size", 1000)
	viper.SetDefault("processing.job_timeout", "2s")

	// Cache defaults
	viper.SetDefault("cache.ttl", "2s")
	viper.SetDefault("cache.eviction_interval", "10s")
}
