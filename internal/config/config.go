package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig
	Redis        RedisConfig
	Postgres     PostgresConfig
	Relayer      RelayerConfig
	Subscription SubscriptionConfig
	Voucher      VoucherConfig
	Chains       []ChainConfig `mapstructure:"chains"`

	// Chain is the single-chain shorthand populated from env vars. When its
	// ID is set it is merged into Chains by Load.
	Chain SingleChainConfig
}

type ServerConfig struct {
	Port        int      `mapstructure:"port"`
	GRPCPort    int      `mapstructure:"grpc_port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RelayerConfig holds the funded submission identity. An empty PrivateKey
// disables relay submission entirely.
type RelayerConfig struct {
	PrivateKey        string  `mapstructure:"private_key"`
	MinBalanceWei     string  `mapstructure:"min_balance_wei"`
	GasMultiplier     float64 `mapstructure:"gas_multiplier"`
	ConfirmTimeoutSec int64   `mapstructure:"confirm_timeout_sec"`
	QueueSize         int     `mapstructure:"queue_size"`
}

type SubscriptionConfig struct {
	CacheTTLSec          int64 `mapstructure:"cache_ttl_sec"`
	StaleTTLSec          int64 `mapstructure:"stale_ttl_sec"`
	FreeLimit            int64 `mapstructure:"free_limit"`
	LenientFreeBootstrap bool  `mapstructure:"lenient_free_bootstrap"`
	PlanPeriodDays       int64 `mapstructure:"plan_period_days"`
}

type VoucherConfig struct {
	TTLSec int64 `mapstructure:"ttl_sec"`
}

type ChainConfig struct {
	ID          int64              `mapstructure:"id"`
	Name        string             `mapstructure:"name"`
	RPCURL      string             `mapstructure:"rpc_url"`
	Generations []GenerationConfig `mapstructure:"generations"`
}

// GenerationConfig lists the contracts of one deployed interface generation
// (v2..v5, nextgen). Empty addresses mean "not deployed".
type GenerationConfig struct {
	Name                string `mapstructure:"name"`
	NFTFactory          string `mapstructure:"nft_factory"`
	SubscriptionManager string `mapstructure:"subscription_manager"`
	ClaimableFactory    string `mapstructure:"claimable_factory"`
	Stablecoin          string `mapstructure:"stablecoin"`
}

type SingleChainConfig struct {
	ID                  int64  `mapstructure:"id"`
	Name                string `mapstructure:"name"`
	RPCURL              string `mapstructure:"rpc_url"`
	Generation          string `mapstructure:"generation"`
	NFTFactory          string `mapstructure:"nft_factory"`
	SubscriptionManager string `mapstructure:"subscription_manager"`
	ClaimableFactory    string `mapstructure:"claimable_factory"`
	Stablecoin          string `mapstructure:"stablecoin"`
}

func (r RelayerConfig) ConfirmTimeout() time.Duration {
	return time.Duration(r.ConfirmTimeoutSec) * time.Second
}

func (s SubscriptionConfig) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLSec) * time.Second
}

func (s SubscriptionConfig) StaleTTL() time.Duration {
	return time.Duration(s.StaleTTLSec) * time.Second
}

func (s SubscriptionConfig) PlanPeriod() time.Duration {
	return time.Duration(s.PlanPeriodDays) * 24 * time.Hour
}

func (v VoucherConfig) TTL() time.Duration {
	return time.Duration(v.TTLSec) * time.Second
}

func Load() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("relayer.min_balance_wei", "10000000000000000") // 0.01 native
	v.SetDefault("relayer.gas_multiplier", 1.5)
	v.SetDefault("relayer.confirm_timeout_sec", 90)
	v.SetDefault("relayer.queue_size", 64)
	v.SetDefault("subscription.cache_ttl_sec", 30)
	v.SetDefault("subscription.stale_ttl_sec", 600)
	v.SetDefault("subscription.free_limit", 1)
	v.SetDefault("subscription.lenient_free_bootstrap", true)
	v.SetDefault("subscription.plan_period_days", 30)
	v.SetDefault("voucher.ttl_sec", 3600)
	v.SetDefault("chain.generation", "nextgen")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"server.port":                         "PORT",
		"server.grpc_port":                    "GRPC_PORT",
		"redis.addr":                          "REDIS_ADDR",
		"redis.password":                      "REDIS_PASSWORD",
		"postgres.dsn":                        "DATABASE_URL",
		"relayer.private_key":                 "RELAYER_PRIVATE_KEY",
		"relayer.min_balance_wei":             "RELAYER_MIN_BALANCE_WEI",
		"relayer.gas_multiplier":              "RELAYER_GAS_MULTIPLIER",
		"relayer.confirm_timeout_sec":         "CONFIRM_TIMEOUT_SEC",
		"subscription.cache_ttl_sec":          "SUBSCRIPTION_CACHE_TTL_SEC",
		"subscription.lenient_free_bootstrap": "LENIENT_FREE_BOOTSTRAP",
		"voucher.ttl_sec":                     "VOUCHER_TTL_SEC",
		"chain.id":                            "CHAIN_ID",
		"chain.name":                          "CHAIN_NAME",
		"chain.rpc_url":                       "RPC_URL",
		"chain.generation":                    "CONTRACT_GENERATION",
		"chain.nft_factory":                   "NFT_FACTORY_ADDRESS",
		"chain.subscription_manager":          "SUBSCRIPTION_MANAGER_ADDRESS",
		"chain.claimable_factory":             "CLAIMABLE_FACTORY_ADDRESS",
		"chain.stablecoin":                    "STABLECOIN_ADDRESS",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.mergeSingleChain()

	return cfg, cfg.validate()
}

// mergeSingleChain folds the env-provided chain into Chains, replacing a
// file entry with the same id.
func (c *Config) mergeSingleChain() {
	s := c.Chain
	if s.ID == 0 {
		return
	}
	entry := ChainConfig{
		ID:     s.ID,
		Name:   s.Name,
		RPCURL: s.RPCURL,
		Generations: []GenerationConfig{{
			Name:                s.Generation,
			NFTFactory:          s.NFTFactory,
			SubscriptionManager: s.SubscriptionManager,
			ClaimableFactory:    s.ClaimableFactory,
			Stablecoin:          s.Stablecoin,
		}},
	}
	for i := range c.Chains {
		if c.Chains[i].ID == s.ID {
			if entry.RPCURL == "" {
				entry.RPCURL = c.Chains[i].RPCURL
			}
			c.Chains[i] = entry
			return
		}
	}
	c.Chains = append(c.Chains, entry)
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	for _, r := range []req{
		{c.Redis.Addr, "REDIS_ADDR"},
		{c.Relayer.MinBalanceWei, "RELAYER_MIN_BALANCE_WEI"},
	} {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}
	if len(c.Chains) == 0 {
		return fmt.Errorf("required config missing: CHAIN_ID")
	}
	seen := make(map[int64]bool, len(c.Chains))
	for _, ch := range c.Chains {
		if ch.ID == 0 {
			return fmt.Errorf("chain %q: id is required", ch.Name)
		}
		if ch.RPCURL == "" {
			return fmt.Errorf("chain %d: rpc_url is required", ch.ID)
		}
		if seen[ch.ID] {
			return fmt.Errorf("chain %d: configured twice", ch.ID)
		}
		seen[ch.ID] = true
	}
	if c.Relayer.GasMultiplier < 1 {
		return fmt.Errorf("relayer.gas_multiplier must be >= 1, got %v", c.Relayer.GasMultiplier)
	}
	if c.Relayer.ConfirmTimeoutSec <= 0 {
		return fmt.Errorf("relayer.confirm_timeout_sec must be positive")
	}
	if c.Subscription.FreeLimit < 0 {
		return fmt.Errorf("subscription.free_limit must not be negative")
	}
	return nil
}

// RelayerEnabled reports whether a relayer credential was supplied.
func (c *Config) RelayerEnabled() bool {
	return c.Relayer.PrivateKey != ""
}
