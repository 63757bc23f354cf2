package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/you/flash-arb/internal/dex/core"
	"gopkg.in/yaml.v3"
)

const (
	ModeSimulate = "simulate"
	ModeSubmit   = "submit"
	ModeServe    = "serve"
	ModeAdmin    = "admin"
)

type TokenCfg struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals int32  `yaml:"decimals"`
}

// PoolCfg seeds one concentrated-liquidity pool. Reserves are raw units.
type PoolCfg struct {
	TokenA        string `yaml:"token_a"`
	TokenB        string `yaml:"token_b"`
	Fee           uint32 `yaml:"fee"`
	Address       string `yaml:"address"`
	Concentration int64  `yaml:"concentration"`
	ReserveA      string `yaml:"reserve_a"`
	ReserveB      string `yaml:"reserve_b"`
}

// PairCfg seeds one constant-product pair on the named classic-AMM router.
type PairCfg struct {
	Router   string `yaml:"router"`
	TokenA   string `yaml:"token_a"`
	TokenB   string `yaml:"token_b"`
	Address  string `yaml:"address"`
	ReserveA string `yaml:"reserve_a"`
	ReserveB string `yaml:"reserve_b"`
}

type BalanceCfg struct {
	Token  string `yaml:"token"`
	Holder string `yaml:"holder"`
	Amount string `yaml:"amount"`
}

type V2RouterCfg struct {
	ID      core.VenueID `yaml:"id"`
	Address string       `yaml:"address"`
	FeeBps  uint32       `yaml:"fee_bps"`
}

type Config struct {
	Mode        string `yaml:"mode"`
	DryRun      bool   `yaml:"dry_run"`
	LogLevel    string `yaml:"log_level"`
	RequestFile string `yaml:"request_file"`

	Executor struct {
		Address string `yaml:"address"`
		Owner   string `yaml:"owner"`
	} `yaml:"executor"`

	Lending struct {
		Address    string `yaml:"address"`
		PremiumBps int64  `yaml:"premium_bps"`
	} `yaml:"lending"`

	DEX struct {
		V3Router        string         `yaml:"v3_router"`
		V2Routers       []V2RouterCfg  `yaml:"v2_routers"`
		Venues          []core.VenueID `yaml:"venues"`
		ApprovedRouters []string       `yaml:"approved_routers"`
	} `yaml:"dex"`

	Sim struct {
		Tokens   []TokenCfg   `yaml:"tokens"`
		Pools    []PoolCfg    `yaml:"pools"`
		Pairs    []PairCfg    `yaml:"pairs"`
		Balances []BalanceCfg `yaml:"balances"`
	} `yaml:"sim"`

	Risk struct {
		MaxLoan   map[string]string `yaml:"max_loan"`
		MinProfit map[string]string `yaml:"min_profit"`
	} `yaml:"risk"`

	Chain struct {
		RPCHTTP            string  `yaml:"rpc_http"`
		WalletPK           string  `yaml:"wallet_pk"`
		ChainID            int64   `yaml:"chain_id"`
		Contract           string  `yaml:"contract"`
		Multicall          string  `yaml:"multicall"`
		MaxPriorityFeeGwei float64 `yaml:"max_priority_fee_gwei"`
		GasLimit           uint64  `yaml:"gas_limit"`
	} `yaml:"chain"`

	Redis struct {
		Addr          string `yaml:"addr"`
		DB            int    `yaml:"db"`
		Username      string `yaml:"username"`
		Password      string `yaml:"password"`
		RequestStream string `yaml:"request_stream"`
		ResultStream  string `yaml:"result_stream"`
		ResultChannel string `yaml:"result_channel"`
		Group         string `yaml:"group"`
		Consumer      string `yaml:"consumer"`
	} `yaml:"redis"`

	Postgres struct {
		DSN string `yaml:"dsn"`
	} `yaml:"postgres"`

	Metrics struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"metrics"`

	Dash struct {
		ListenAddr string `yaml:"listen_addr"`
		PushMs     int    `yaml:"push_ms"`
	} `yaml:"dash"`
}

// Load reads a YAML config. A .env file next to the working directory is
// loaded first, and ${VAR} references in the file are expanded from the
// environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &c); err != nil {
		return nil, err
	}

	if c.Mode == "" {
		c.Mode = ModeSimulate
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if len(c.DEX.Venues) == 0 {
		c.DEX.Venues = []core.VenueID{core.VenueUniswapV3, core.VenueSushiV2, core.VenueCamelotV2}
	}
	for i := range c.DEX.V2Routers {
		if c.DEX.V2Routers[i].FeeBps == 0 {
			c.DEX.V2Routers[i].FeeBps = 30
		}
	}
	if c.Chain.GasLimit == 0 {
		c.Chain.GasLimit = 900_000
	}
	if c.Chain.ChainID == 0 {
		c.Chain.ChainID = 42161
	}
	if c.Redis.RequestStream == "" {
		c.Redis.RequestStream = "flasharb:requests"
	}
	if c.Redis.ResultStream == "" {
		c.Redis.ResultStream = "flasharb:results"
	}
	if c.Redis.ResultChannel == "" {
		c.Redis.ResultChannel = "flasharb:results"
	}
	if c.Redis.Group == "" {
		c.Redis.Group = "executor"
	}
	if c.Redis.Consumer == "" {
		c.Redis.Consumer = "executor-1"
	}
	if c.Dash.PushMs == 0 {
		c.Dash.PushMs = 1000
	}

	switch c.Mode {
	case ModeSimulate, ModeSubmit, ModeServe, ModeAdmin:
	default:
		return nil, fmt.Errorf("config: unknown mode %q", c.Mode)
	}
	return &c, nil
}

func (c *Config) DashPush() time.Duration {
	return time.Duration(c.Dash.PushMs) * time.Millisecond
}
