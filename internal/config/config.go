package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxGasLimit          = 2_500_000
	DefaultPollCountLimit       = 3
	DefaultQuotePollingInterval = 50_000
	DefaultFetchTokensThreshold = 24 * 60 * 60 * 1000
	DefaultGasEstimateTimeout   = 5_000
	DefaultSwapsContract        = "0x881d40237659c251811cec9c364ef91dc08d300c"
	DefaultERC20ApproveGas      = "0x1d4c0"
)

// SwapsCfg holds the controller options. Durations are in milliseconds.
type SwapsCfg struct {
	MaxGasLimit             uint64 `yaml:"max_gas_limit" toml:"max_gas_limit"`
	PollCountLimit          int    `yaml:"poll_count_limit" toml:"poll_count_limit"`
	QuotePollingIntervalMs  int    `yaml:"quote_polling_interval_ms" toml:"quote_polling_interval_ms"`
	FetchTokensThresholdMs  int64  `yaml:"fetch_tokens_threshold_ms" toml:"fetch_tokens_threshold_ms"`
	MetaSwapContractAddress string `yaml:"metaswap_contract_address" toml:"metaswap_contract_address"`
	GasEstimateTimeoutMs    int    `yaml:"gas_estimate_timeout_ms" toml:"gas_estimate_timeout_ms"`
	DefaultApproveGas       string `yaml:"default_approve_gas" toml:"default_approve_gas"`
}

type Config struct {
	Swaps SwapsCfg `yaml:"swaps" toml:"swaps"`

	API struct {
		MetaSwapURL    string   `yaml:"metaswap_url" toml:"metaswap_url"`
		BridgeURL      string   `yaml:"bridge_url" toml:"bridge_url"`
		CoinGeckoURL   string   `yaml:"coingecko_url" toml:"coingecko_url"`
		TradesTimeout  int      `yaml:"trades_timeout_ms" toml:"trades_timeout_ms"`
		RequestTimeout int      `yaml:"request_timeout_ms" toml:"request_timeout_ms"`
		Retries        *int     `yaml:"retries" toml:"retries"` // nil: default, 0: no retries
		RateLimit      float64  `yaml:"requests_per_second" toml:"requests_per_second"`
		RateBurst      int      `yaml:"burst" toml:"burst"`
		Sources        []string `yaml:"sources" toml:"sources"`
	} `yaml:"api" toml:"api"`

	Chain struct {
		Network   string `yaml:"network" toml:"network"`
		RPCHTTP   string `yaml:"rpc_http" toml:"rpc_http"`
		Multicall string `yaml:"multicall" toml:"multicall"`
	} `yaml:"chain" toml:"chain"`

	Metrics struct {
		Addr string `yaml:"addr" toml:"addr"`
	} `yaml:"metrics" toml:"metrics"`

	Redis struct {
		Addr     string `yaml:"addr" toml:"addr"`
		DB       int    `yaml:"db" toml:"db"`
		Username string `yaml:"username" toml:"username"`
		Password string `yaml:"password" toml:"password"`
		Stream   string `yaml:"stream" toml:"stream"`
		StateKey string `yaml:"state_key" toml:"state_key"`
		MaxLen   int64  `yaml:"max_len" toml:"max_len"`
	} `yaml:"redis" toml:"redis"`

	Dash struct {
		Addr string `yaml:"addr" toml:"addr"`
	} `yaml:"dash" toml:"dash"`

	Log LogCfg `yaml:"log" toml:"log"`
}

// LogCfg enables a rotated copy of the stdout log when File is set.
type LogCfg struct {
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

// Load reads a yaml (or .toml) file and fills defaults. An empty path
// yields defaults only.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if strings.EqualFold(filepath.Ext(path), ".toml") {
			err = toml.Unmarshal(b, &c)
		} else {
			err = yaml.Unmarshal(b, &c)
		}
		if err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	c.applyDefaults()
	return &c, nil
}

// Default returns a config with every default applied.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

func (c *Config) applyDefaults() {
	s := &c.Swaps
	if s.MaxGasLimit == 0 {
		s.MaxGasLimit = DefaultMaxGasLimit
	}
	if s.PollCountLimit == 0 {
		s.PollCountLimit = DefaultPollCountLimit
	}
	if s.QuotePollingIntervalMs == 0 {
		s.QuotePollingIntervalMs = DefaultQuotePollingInterval
	}
	if s.FetchTokensThresholdMs == 0 {
		s.FetchTokensThresholdMs = DefaultFetchTokensThreshold
	}
	if s.MetaSwapContractAddress == "" {
		s.MetaSwapContractAddress = DefaultSwapsContract
	}
	if s.GasEstimateTimeoutMs == 0 {
		s.GasEstimateTimeoutMs = DefaultGasEstimateTimeout
	}
	if s.DefaultApproveGas == "" {
		s.DefaultApproveGas = DefaultERC20ApproveGas
	}

	if c.API.MetaSwapURL == "" {
		c.API.MetaSwapURL = "https://api.metaswap.codefi.network"
	}
	if c.API.BridgeURL == "" {
		c.API.BridgeURL = "https://api.binance.org/bridge/api/v2"
	}
	if c.API.CoinGeckoURL == "" {
		c.API.CoinGeckoURL = "https://api.coingecko.com/api/v3"
	}
	if c.API.TradesTimeout == 0 {
		c.API.TradesTimeout = 15_000
	}
	if c.API.RequestTimeout == 0 {
		c.API.RequestTimeout = 10_000
	}
	if c.API.Retries == nil {
		n := 2
		c.API.Retries = &n
	}
	if len(c.API.Sources) == 0 {
		c.API.Sources = []string{"metaswap"}
	}

	if c.Chain.Network == "" {
		c.Chain.Network = "mainnet"
	}
	if c.Redis.Stream == "" {
		c.Redis.Stream = "swaps:state"
	}
	if c.Redis.StateKey == "" {
		c.Redis.StateKey = "swaps:latest"
	}
	if c.Redis.MaxLen == 0 {
		c.Redis.MaxLen = 1000
	}

	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 10
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 28
	}
}

func (s SwapsCfg) QuotePollingInterval() time.Duration {
	return time.Duration(s.QuotePollingIntervalMs) * time.Millisecond
}
func (s SwapsCfg) FetchTokensThreshold() time.Duration {
	return time.Duration(s.FetchTokensThresholdMs) * time.Millisecond
}
func (s SwapsCfg) GasEstimateTimeout() time.Duration {
	return time.Duration(s.GasEstimateTimeoutMs) * time.Millisecond
}

func (c *Config) TradesTimeout() time.Duration {
	return time.Duration(c.API.TradesTimeout) * time.Millisecond
}
// RetryCount is the number of extra GET attempts, never negative.
func (c *Config) RetryCount() int {
	if c.API.Retries == nil || *c.API.Retries < 0 {
		return 0
	}
	return *c.API.Retries
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.API.RequestTimeout) * time.Millisecond
}
