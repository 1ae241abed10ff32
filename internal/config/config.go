package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/eidos-exchange/eidos/eidos-faucet/pkg/alert"
	"github.com/eidos-exchange/eidos/eidos-faucet/pkg/errors"
)

// Config 配置
type Config struct {
	Service  ServiceConfig  `yaml:"service" json:"service"`
	Postgres PostgresConfig `yaml:"postgres" json:"postgres"`
	Redis    RedisConfig    `yaml:"redis" json:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka" json:"kafka"`
	Faucet   FaucetConfig   `yaml:"faucet" json:"faucet"`
	Chains   []ChainConfig  `yaml:"chains" json:"chains"`
	Alert    alert.Config   `yaml:"alert" json:"alert"`
	Log      LogConfig      `yaml:"log" json:"log"`
}

// ServiceConfig 服务配置
type ServiceConfig struct {
	Name     string `yaml:"name" json:"name"`
	HTTPPort int    `yaml:"http_port" json:"http_port"`
	Env      string `yaml:"env" json:"env"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port"`
	Database        string `yaml:"database" json:"database"`
	User            string `yaml:"user" json:"user"`
	Password        string `yaml:"password" json:"-"`
	SSLMode         string `yaml:"ssl_mode" json:"ssl_mode"`
	MaxConnections  int    `yaml:"max_connections" json:"max_connections"`
	MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime"` // 秒
	AutoMigrate     bool   `yaml:"auto_migrate" json:"auto_migrate"`
}

// DSN 连接串
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addresses []string `yaml:"addresses" json:"addresses"`
	Password  string   `yaml:"password" json:"-"`
	DB        int      `yaml:"db" json:"db"`
	PoolSize  int      `yaml:"pool_size" json:"pool_size"`
}

// Enabled 是否配置了 Redis
func (c RedisConfig) Enabled() bool {
	return len(c.Addresses) > 0
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers" json:"brokers"`
	ClientID string   `yaml:"client_id" json:"client_id"`
}

// FaucetConfig 领取规则
type FaucetConfig struct {
	Cooldowns       CooldownConfig     `yaml:"cooldowns" json:"cooldowns"`
	OracleCacheTTL  time.Duration      `yaml:"oracle_cache_ttl" json:"oracle_cache_ttl"`
	OracleCacheSize int                `yaml:"oracle_cache_size" json:"oracle_cache_size"`
	OracleTimeout   time.Duration      `yaml:"oracle_timeout" json:"oracle_timeout"`
	SubmitTimeout   time.Duration      `yaml:"submit_timeout" json:"submit_timeout"`
	GasMultiplier   float64            `yaml:"gas_multiplier" json:"gas_multiplier"`
	CacheBackend    string             `yaml:"cache_backend" json:"cache_backend"` // memory, redis
	LockBackend     string             `yaml:"lock_backend" json:"lock_backend"`   // memory, redis
	LockWait        time.Duration      `yaml:"lock_wait" json:"lock_wait"`
	LockTTL         time.Duration      `yaml:"lock_ttl" json:"lock_ttl"`
	Breaker         BreakerConfig      `yaml:"breaker" json:"breaker"`
	Retention       RetentionConfig    `yaml:"retention" json:"retention"`
	Confirmation    ConfirmationConfig `yaml:"confirmation" json:"confirmation"`
}

// CooldownConfig 各资产类型冷却时间
// 显式配置为 0 表示不限冷却 (NFT 仅受数量上限约束)，未配置的项取默认值
type CooldownConfig struct {
	Native time.Duration `yaml:"native" json:"native"`
	ERC20  time.Duration `yaml:"erc20" json:"erc20"`
	NFT    time.Duration `yaml:"nft" json:"nft"`

	explicit map[string]bool
}

// UnmarshalYAML 记录 YAML 中出现过的键
func (c *CooldownConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain CooldownConfig
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*c = CooldownConfig(p)
	c.explicit = make(map[string]bool, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		c.explicit[node.Content[i].Value] = true
	}
	return nil
}

// fill 用 fallback 补齐未配置的项
func (c *CooldownConfig) fill(fallback CooldownConfig) {
	if c.Native == 0 && !c.explicit["native"] {
		c.Native = fallback.Native
	}
	if c.ERC20 == 0 && !c.explicit["erc20"] {
		c.ERC20 = fallback.ERC20
	}
	if c.NFT == 0 && !c.explicit["nft"] {
		c.NFT = fallback.NFT
	}
}

// Max 最长冷却时间
func (c CooldownConfig) Max() time.Duration {
	m := c.Native
	if c.ERC20 > m {
		m = c.ERC20
	}
	if c.NFT > m {
		m = c.NFT
	}
	return m
}

// BreakerConfig 链上查询熔断
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout" json:"open_timeout"`
}

// RetentionConfig 冷却记录清理
type RetentionConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Period   time.Duration `yaml:"period" json:"period"`
	Interval time.Duration `yaml:"interval" json:"interval"`
}

// ConfirmationConfig 交易确认跟踪
type ConfirmationConfig struct {
	Enabled   bool          `yaml:"enabled" json:"enabled"`
	Interval  time.Duration `yaml:"interval" json:"interval"`
	BatchSize int           `yaml:"batch_size" json:"batch_size"`
	// MaxPendingAge 超时仍无回执的领取标记为 failed
	MaxPendingAge time.Duration `yaml:"max_pending_age" json:"max_pending_age"`
}

// ChainConfig 单条链的水龙头配置
type ChainConfig struct {
	ChainID                 int64          `yaml:"chain_id" json:"chain_id"`
	Name                    string         `yaml:"name" json:"name"`
	RPCURLs                 []string       `yaml:"rpc_urls" json:"rpc_urls"`
	IsActive                *bool          `yaml:"is_active" json:"is_active"`
	PrivateKey              string         `yaml:"private_key" json:"-"`
	FaucetContract          string         `yaml:"faucet_contract" json:"faucet_contract"`
	ERC20Contract           string         `yaml:"erc20_contract" json:"erc20_contract"`
	NFTContract             string         `yaml:"nft_contract" json:"nft_contract"`
	NativeAmount            string         `yaml:"native_amount" json:"native_amount"`
	ERC20Amount             string         `yaml:"erc20_amount" json:"erc20_amount"`
	ERC20Decimals           int32          `yaml:"erc20_decimals" json:"erc20_decimals"`
	NFTMintLimit            int            `yaml:"nft_mint_limit" json:"nft_mint_limit"`
	EstimatedConfirmSeconds int            `yaml:"estimated_confirm_seconds" json:"estimated_confirm_seconds"`
	Cooldowns               CooldownConfig `yaml:"cooldowns" json:"cooldowns"`
}

// Active 未显式配置时视为启用
func (c ChainConfig) Active() bool {
	return c.IsActive == nil || *c.IsActive
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Load 加载配置
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse 解析配置内容
func Parse(data []byte) (*Config, error) {
	content := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, errors.Wrap(errors.ErrConfiguration, err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandEnvVars 展开环境变量 ${VAR:default}
func expandEnvVars(s string) string {
	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "${")
		if start == -1 {
			break
		}
		end := strings.Index(rest[start:], "}")
		if end == -1 {
			break
		}
		end += start

		name, def, _ := strings.Cut(rest[start+2:end], ":")
		value := os.Getenv(name)
		if value == "" {
			value = def
		}

		b.WriteString(rest[:start])
		b.WriteString(value)
		rest = rest[end+1:]
	}
	b.WriteString(rest)
	return b.String()
}

// setDefaults 设置默认值
func setDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "eidos-faucet"
	}
	if cfg.Service.HTTPPort == 0 {
		cfg.Service.HTTPPort = 8090
	}
	if cfg.Service.Env == "" {
		cfg.Service.Env = "dev"
	}

	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}
	if cfg.Postgres.MaxConnections == 0 {
		cfg.Postgres.MaxConnections = 20
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 5
	}
	if cfg.Postgres.ConnMaxLifetime == 0 {
		cfg.Postgres.ConnMaxLifetime = 3600
	}

	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 20
	}
	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = cfg.Service.Name
	}

	f := &cfg.Faucet
	f.Cooldowns.fill(CooldownConfig{Native: 24 * time.Hour, ERC20: 24 * time.Hour, NFT: 24 * time.Hour})
	if f.OracleCacheTTL == 0 {
		f.OracleCacheTTL = 60 * time.Second
	}
	if f.OracleCacheSize == 0 {
		f.OracleCacheSize = 10000
	}
	if f.OracleTimeout == 0 {
		f.OracleTimeout = 5 * time.Second
	}
	if f.SubmitTimeout == 0 {
		f.SubmitTimeout = 30 * time.Second
	}
	if f.GasMultiplier == 0 {
		f.GasMultiplier = 1.2
	}
	if f.CacheBackend == "" {
		f.CacheBackend = "memory"
	}
	if f.LockBackend == "" {
		f.LockBackend = "memory"
	}
	if f.LockWait == 0 {
		f.LockWait = 10 * time.Second
	}
	if f.LockTTL == 0 {
		// 需覆盖 校验 + 链上查询 + 提交 + 记录 的最长耗时
		f.LockTTL = f.OracleTimeout + f.SubmitTimeout + 30*time.Second
	}
	if f.Breaker.FailureThreshold == 0 {
		f.Breaker.FailureThreshold = 5
	}
	if f.Breaker.OpenTimeout == 0 {
		f.Breaker.OpenTimeout = 30 * time.Second
	}
	if f.Retention.Period == 0 {
		f.Retention.Period = 7 * 24 * time.Hour
	}
	if f.Retention.Interval == 0 {
		f.Retention.Interval = time.Hour
	}
	if f.Confirmation.Interval == 0 {
		f.Confirmation.Interval = 15 * time.Second
	}
	if f.Confirmation.BatchSize == 0 {
		f.Confirmation.BatchSize = 100
	}
	if f.Confirmation.MaxPendingAge == 0 {
		f.Confirmation.MaxPendingAge = time.Hour
	}

	for i := range cfg.Chains {
		c := &cfg.Chains[i]
		if c.Name == "" {
			c.Name = fmt.Sprintf("chain-%d", c.ChainID)
		}
		if c.ERC20Decimals == 0 {
			c.ERC20Decimals = 18
		}
		if c.EstimatedConfirmSeconds == 0 {
			c.EstimatedConfirmSeconds = 15
		}
		c.Cooldowns.fill(f.Cooldowns)
	}

	if cfg.Alert.ServiceName == "" {
		cfg.Alert.ServiceName = cfg.Service.Name
	}
	if cfg.Alert.Environment == "" {
		cfg.Alert.Environment = cfg.Service.Env
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return errors.Wrap(errors.ErrConfiguration, fmt.Errorf(format, args...))
	}

	switch c.Faucet.CacheBackend {
	case "memory", "redis":
	default:
		return invalid("unknown cache_backend %q", c.Faucet.CacheBackend)
	}
	switch c.Faucet.LockBackend {
	case "memory", "redis":
	default:
		return invalid("unknown lock_backend %q", c.Faucet.LockBackend)
	}
	if (c.Faucet.CacheBackend == "redis" || c.Faucet.LockBackend == "redis") && !c.Redis.Enabled() {
		return invalid("redis backend selected but redis.addresses is empty")
	}

	seen := make(map[int64]bool, len(c.Chains))
	for _, ch := range c.Chains {
		if ch.ChainID <= 0 {
			return invalid("chain %q: chain_id must be positive", ch.Name)
		}
		if seen[ch.ChainID] {
			return invalid("chain %d: duplicated", ch.ChainID)
		}
		seen[ch.ChainID] = true

		if ch.Active() && len(ch.RPCURLs) == 0 {
			return invalid("chain %d: rpc_urls required for active chain", ch.ChainID)
		}
		for field, addr := range map[string]string{
			"faucet_contract": ch.FaucetContract,
			"erc20_contract":  ch.ERC20Contract,
			"nft_contract":    ch.NFTContract,
		} {
			if addr != "" && !common.IsHexAddress(addr) {
				return invalid("chain %d: %s %q is not an address", ch.ChainID, field, addr)
			}
		}
		for field, amount := range map[string]string{
			"native_amount": ch.NativeAmount,
			"erc20_amount":  ch.ERC20Amount,
		} {
			if amount == "" {
				continue
			}
			d, err := decimal.NewFromString(amount)
			if err != nil || !d.IsPositive() {
				return invalid("chain %d: %s %q must be a positive decimal", ch.ChainID, field, amount)
			}
		}
		if ch.NFTMintLimit < 0 {
			return invalid("chain %d: nft_mint_limit must not be negative", ch.ChainID)
		}
		if ch.Cooldowns.Native < 0 || ch.Cooldowns.ERC20 < 0 || ch.Cooldowns.NFT < 0 {
			return invalid("chain %d: cooldowns must not be negative", ch.ChainID)
		}
	}
	return nil
}
