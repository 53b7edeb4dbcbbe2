package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, uint64(8453), cfg.Chain.ChainID)
	assert.Equal(t, "uniswap_v2", cfg.Chain.PrimaryDex)
	assert.Equal(t, int64(2), cfg.Risk.MinProfitRatio)
	assert.Equal(t, uint32(5), cfg.Risk.FailureThreshold)
	assert.Equal(t, uint32(100), cfg.Strategies.Arbitrage.MinSpreadBps)
	assert.Equal(t, uint64(2), cfg.Strategies.JIT.HoldBlocks)
	assert.True(t, cfg.Strategies.Sandwich.Enabled)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero chain id", func(c *Config) { c.Chain.ChainID = 0 }},
		{"missing primary dex", func(c *Config) { c.Chain.PrimaryDex = "" }},
		{"bad weth address", func(c *Config) { c.Chain.WETHAddress = "not-an-address" }},
		{"profit ratio below 1", func(c *Config) { c.Risk.MinProfitRatio = 0 }},
		{"zero failure threshold", func(c *Config) { c.Risk.FailureThreshold = 0 }},
		{"negative buffer", func(c *Config) { c.Gas.BufferPct = -1 }},
		{"garbage wei amount", func(c *Config) { c.Gas.MaxGasPrice = "1.5 ether" }},
		{"negative wei amount", func(c *Config) { c.Risk.MaxSingleExposure = "-1" }},
		{"base tip above max tip", func(c *Config) {
			c.Gas.BasePriorityFee = "60000000000"
			c.Gas.MaxPriorityFee = "50000000000"
		}},
		{"zero pool size", func(c *Config) { c.Processing.PoolSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseWei(t *testing.T) {
	v, err := ParseWei("2000000000")
	require.NoError(t, err)
	assert.Equal(t, "2000000000", v.String())

	v, err = ParseWei("")
	require.NoError(t, err)
	assert.Zero(t, v.Sign())

	_, err = ParseWei("abc")
	assert.Error(t, err)
}
