package config

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"
	"gopkg.in/yaml.v3"

	"github.com/xibot/xibot/pkg/secretstore"
)

// ChainConfig 链与合约配置
type ChainConfig struct {
	RPCURL          string `yaml:"rpc_url"`
	ChainID         int64  `yaml:"chain_id"`
	PolAddress      string `yaml:"pol_address"`      // 计价代币（POL）合约地址
	XinAddress      string `yaml:"xin_address"`      // 交易标的代币（XIN）合约地址
	RouterAddress   string `yaml:"router_address"`   // swap 路由合约
	QuoterAddress   string `yaml:"quoter_address"`   // 报价合约
	PoolAddress     string `yaml:"pool_address"`     // 流动性池合约
	PositionManager string `yaml:"position_manager"` // 头寸管理合约（NFT 头寸）
	PoolFee         int64  `yaml:"pool_fee"`         // 池手续费档位（如 3000 = 0.3%）
	TickLower       int64  `yaml:"tick_lower"`       // 流动性头寸的价格区间下界
	TickUpper       int64  `yaml:"tick_upper"`       // 流动性头寸的价格区间上界
	ConfirmTimeout  int    `yaml:"confirm_timeout"`  // 等待交易确认的超时（秒），0 = 无限等待
	GasLimitSwap    uint64 `yaml:"gas_limit_swap"`   // swap 的 gas 上限，0 = 使用估算值
	GasPriceBumpPct int64  `yaml:"gas_price_bump_pct"` // 在建议 gas 价上浮的百分比
}

// WalletConfig 钱包配置
// 私钥解析优先级：secretstore > private_key > mnemonic 派生
type WalletConfig struct {
	PrivateKey      string `yaml:"private_key"`
	Mnemonic        string `yaml:"mnemonic"`
	DerivationPath  string `yaml:"derivation_path"` // 默认 m/44'/60'/0'/0/0
	SecretStorePath string `yaml:"secret_store_path"`
	SecretStoreKey  string `yaml:"secret_store_key"` // 32 字节 hex/base64，badger 加密密钥
}

// TradingConfig 交易策略参数
type TradingConfig struct {
	TickInterval     int     `yaml:"tick_interval"`      // 主循环间隔（秒），默认 60
	SlippageBps      int64   `yaml:"slippage_bps"`       // 滑点容忍度（万分比），默认 200 = 2%
	DeadlineSeconds  int64   `yaml:"deadline_seconds"`   // swap 截止时间偏移（秒），默认 600
	MinSwapPol       string  `yaml:"min_swap_pol"`       // POL 侧最小成交金额（人类单位），默认 0.1
	MinSwapXin       string  `yaml:"min_swap_xin"`       // XIN 侧最小成交金额，默认 0.15
	PolFloor         string  `yaml:"pol_floor"`          // POL 安全垫，余额需严格大于才动用，默认 10
	XinFloor         string  `yaml:"xin_floor"`          // XIN 安全垫，默认 0
	MinAmountFloor   string  `yaml:"min_amount_floor"`   // 动态金额下限，默认 0.15
	MaxAmountCap     string  `yaml:"max_amount_cap"`     // 动态金额上限，默认 2
	RandBaseMin      float64 `yaml:"rand_base_min"`      // 随机基数下界，默认 0.5
	RandBaseMax      float64 `yaml:"rand_base_max"`      // 随机基数上界，默认 1.5
	PumpThresholdPct float64 `yaml:"pump_threshold_pct"` // 涨幅超过该值进入 pump 阶段，默认 5
	DumpThresholdPct float64 `yaml:"dump_threshold_pct"` // 跌幅超过该值进入 dump 阶段，默认 5
	StopLossPct      float64 `yaml:"stop_loss_pct"`      // 止损阈值（%），默认 20
	TakeProfitPct    float64 `yaml:"take_profit_pct"`    // 止盈阈值（%），默认 50
	RSIOversold      float64 `yaml:"rsi_oversold"`       // RSI 超卖线，默认 40
	RSIOverbought    float64 `yaml:"rsi_overbought"`     // RSI 超买线，默认 60
	ApproveThreshold string  `yaml:"approve_threshold"`  // 授权额度低于该值时重新授权 MaxUint256，默认 1000
}

// ScheduleConfig 调度配置
type ScheduleConfig struct {
	PumpIntervalHours      int `yaml:"pump_interval_hours"`      // 拉升周期（小时），默认 2
	DumpIntervalHours      int `yaml:"dump_interval_hours"`      // 抛售周期（小时），默认 4
	LiquidityCheckSeconds  int `yaml:"liquidity_check_seconds"`  // 流动性巡检间隔（秒），默认 30
	GlobalReportMinutes    int `yaml:"global_report_minutes"`    // 全局统计报告间隔（分钟），默认 5
	HarvestIntervalMinutes int `yaml:"harvest_interval_minutes"` // 手续费归集间隔（分钟），默认 360
	OpportunisticMinutes   int `yaml:"opportunistic_minutes"`    // 机会性交易最小间隔（分钟），默认 10
}

// LiquidityConfig 流动性管理配置。
// 水位针对机器人自有头寸的流动性，不是池子总余额。
type LiquidityConfig struct {
	MinPolInPool string `yaml:"min_pol_in_pool"` // 头寸流动性低于该值时补充，默认 20
	MaxPolInPool string `yaml:"max_pol_in_pool"` // 头寸流动性高于该值时撤出，默认 250
	MintPolStep  string `yaml:"mint_pol_step"`   // 单次补充的 POL 数量，默认 10
	MintXinStep  string `yaml:"mint_xin_step"`   // 单次补充的 XIN 数量，默认 10
	BurnPct      int64  `yaml:"burn_pct"`        // 单次撤出头寸的百分比，默认 10
}

// FirebaseConfig 共享协调库配置（RTDB REST）
type FirebaseConfig struct {
	BaseURL   string `yaml:"base_url"`
	AuthToken string `yaml:"auth_token"`
}

// TelegramConfig 通知配置
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// RiskConfig 熔断配置
type RiskConfig struct {
	MaxConsecutiveErrors int    `yaml:"max_consecutive_errors"` // 连续失败多少次后熔断，默认 5
	MaxDailyLossPol      string `yaml:"max_daily_loss_pol"`     // 单日最大亏损（POL），默认 50
	CooldownMinutes      int    `yaml:"cooldown_minutes"`       // 熔断冷却时间（分钟），默认 30
}

// Config 应用配置
type Config struct {
	BotID      string          `yaml:"bot_id"`     // bot1 / bot2
	Simulation bool            `yaml:"simulation"` // 仿真模式：只记录意图，不上链
	Chain      ChainConfig     `yaml:"chain"`
	Wallet     WalletConfig    `yaml:"wallet"`
	Trading    TradingConfig   `yaml:"trading"`
	Schedule   ScheduleConfig  `yaml:"schedule"`
	Liquidity  LiquidityConfig `yaml:"liquidity"`
	Firebase   FirebaseConfig  `yaml:"firebase"`
	Telegram   TelegramConfig  `yaml:"telegram"`
	Risk       RiskConfig      `yaml:"risk"`

	LogLevel   string `yaml:"log_level"`
	LogFile    string `yaml:"log_file"`
	StateDir   string `yaml:"state_dir"`   // 持久化快照目录
	HistoryDB  string `yaml:"history_db"`  // 交易历史 sqlite 路径
	HealthAddr string `yaml:"health_addr"` // 健康检查 HTTP 监听地址
	DebugAddr  string `yaml:"debug_addr"`  // expvar/pprof 监听地址，空 = 关闭

	WatchdogMinutes int `yaml:"watchdog_minutes"` // 多久没有活动视为卡死（分钟），默认 20
}

// Load 从 YAML 文件加载配置并应用环境变量覆盖
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.Defaults()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败 %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败 %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults 填充默认值
func (c *Config) Defaults() {
	c.BotID = "bot1"
	c.LogLevel = "info"
	c.LogFile = "logs/xibot.log"
	c.StateDir = "data/state"
	c.HistoryDB = "data/history.db"
	c.HealthAddr = ":8080"
	c.WatchdogMinutes = 20

	c.Chain.ChainID = 137
	c.Chain.PoolFee = 3000
	c.Chain.GasPriceBumpPct = 10

	c.Wallet.DerivationPath = "m/44'/60'/0'/0/0"

	c.Trading = TradingConfig{
		TickInterval:     60,
		SlippageBps:      200,
		DeadlineSeconds:  600,
		MinSwapPol:       "0.1",
		MinSwapXin:       "0.15",
		PolFloor:         "10",
		XinFloor:         "0",
		MinAmountFloor:   "0.15",
		MaxAmountCap:     "2",
		RandBaseMin:      0.5,
		RandBaseMax:      1.5,
		PumpThresholdPct: 5,
		DumpThresholdPct: 5,
		StopLossPct:      20,
		TakeProfitPct:    50,
		RSIOversold:      40,
		RSIOverbought:    60,
		ApproveThreshold: "1000",
	}

	c.Schedule = ScheduleConfig{
		PumpIntervalHours:      2,
		DumpIntervalHours:      4,
		LiquidityCheckSeconds:  30,
		GlobalReportMinutes:    5,
		HarvestIntervalMinutes: 360,
		OpportunisticMinutes:   10,
	}

	c.Liquidity = LiquidityConfig{
		MinPolInPool: "20",
		MaxPolInPool: "250",
		MintPolStep:  "10",
		MintXinStep:  "10",
		BurnPct:      10,
	}

	c.Risk = RiskConfig{
		MaxConsecutiveErrors: 5,
		MaxDailyLossPol:      "50",
		CooldownMinutes:      30,
	}
}

// applyEnv 环境变量覆盖（部署时不改配置文件即可切换身份/模式）
func (c *Config) applyEnv() {
	if v := os.Getenv("BOT_ID"); v != "" {
		c.BotID = v
	}
	if v := os.Getenv("SIMULATION"); v != "" {
		c.Simulation = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("RPC_URL"); v != "" {
		c.Chain.RPCURL = v
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Chain.ChainID = id
		}
	}
	if v := os.Getenv("PRIVATE_KEY"); v != "" {
		c.Wallet.PrivateKey = v
	}
	if v := os.Getenv("MNEMONIC"); v != "" {
		c.Wallet.Mnemonic = v
	}
	if v := os.Getenv("FIREBASE_URL"); v != "" {
		c.Firebase.BaseURL = v
	}
	if v := os.Getenv("FIREBASE_AUTH_TOKEN"); v != "" {
		c.Firebase.AuthToken = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.BotID != "bot1" && c.BotID != "bot2" {
		return fmt.Errorf("bot_id 必须是 bot1 或 bot2，当前: %s", c.BotID)
	}
	if !c.Simulation {
		if c.Chain.RPCURL == "" {
			return fmt.Errorf("rpc_url 不能为空（非仿真模式）")
		}
		for name, addr := range map[string]string{
			"pol_address":      c.Chain.PolAddress,
			"xin_address":      c.Chain.XinAddress,
			"router_address":   c.Chain.RouterAddress,
			"quoter_address":   c.Chain.QuoterAddress,
			"pool_address":     c.Chain.PoolAddress,
			"position_manager": c.Chain.PositionManager,
		} {
			if !common.IsHexAddress(addr) {
				return fmt.Errorf("%s 不是合法地址: %s", name, addr)
			}
		}
		if c.Wallet.PrivateKey == "" && c.Wallet.Mnemonic == "" && c.Wallet.SecretStorePath == "" {
			return fmt.Errorf("必须提供 private_key、mnemonic 或 secret_store_path 之一")
		}
	}
	if c.Trading.TickInterval <= 0 {
		return fmt.Errorf("tick_interval 必须 > 0")
	}
	if c.Trading.SlippageBps < 0 || c.Trading.SlippageBps > 10000 {
		return fmt.Errorf("slippage_bps 必须在 [0, 10000]")
	}
	if c.Trading.StopLossPct <= 0 || c.Trading.TakeProfitPct <= 0 {
		return fmt.Errorf("stop_loss_pct / take_profit_pct 必须 > 0")
	}
	if c.Schedule.PumpIntervalHours <= 0 || c.Schedule.DumpIntervalHours <= 0 {
		return fmt.Errorf("pump/dump 周期必须 > 0")
	}
	if c.Chain.TickLower >= c.Chain.TickUpper && !c.Simulation {
		return fmt.Errorf("tick_lower 必须小于 tick_upper")
	}
	return nil
}

// TickDuration 主循环间隔
func (c *Config) TickDuration() time.Duration {
	return time.Duration(c.Trading.TickInterval) * time.Second
}

// WatchdogTimeout 活动看门狗超时
func (c *Config) WatchdogTimeout() time.Duration {
	return time.Duration(c.WatchdogMinutes) * time.Minute
}

const secretKeyPrivateKey = "wallet/private_key"

// ResolvePrivateKey 解析钱包私钥。
// 优先级：secretstore > private_key 配置 > mnemonic 派生。
// 首次用 mnemonic/private_key 启动且配置了 secretstore 时，会把私钥写入加密存储。
func (c *Config) ResolvePrivateKey() (*ecdsa.PrivateKey, error) {
	var store *secretstore.Store
	if c.Wallet.SecretStorePath != "" {
		encKey, err := secretstore.ParseKey(c.Wallet.SecretStoreKey)
		if err != nil {
			return nil, fmt.Errorf("解析 secret_store_key 失败: %w", err)
		}
		store, err = secretstore.Open(secretstore.OpenOptions{
			Path:          c.Wallet.SecretStorePath,
			EncryptionKey: encKey,
		})
		if err != nil {
			return nil, fmt.Errorf("打开 secretstore 失败: %w", err)
		}
		defer store.Close()

		if hexKey, found, err := store.GetString(secretKeyPrivateKey); err != nil {
			return nil, err
		} else if found && hexKey != "" {
			return crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		}
	}

	var key *ecdsa.PrivateKey
	var err error
	switch {
	case c.Wallet.PrivateKey != "":
		key, err = crypto.HexToECDSA(strings.TrimPrefix(c.Wallet.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("解析 private_key 失败: %w", err)
		}
	case c.Wallet.Mnemonic != "":
		key, err = derivePrivateKey(c.Wallet.Mnemonic, c.Wallet.DerivationPath)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("没有可用的私钥来源")
	}

	if store != nil {
		raw := common.Bytes2Hex(crypto.FromECDSA(key))
		if err := store.SetString(secretKeyPrivateKey, raw); err != nil {
			return nil, fmt.Errorf("写入 secretstore 失败: %w", err)
		}
	}
	return key, nil
}

// derivePrivateKey 从助记词按 BIP-44 路径派生私钥
func derivePrivateKey(mnemonic, path string) (*ecdsa.PrivateKey, error) {
	wallet, err := hdwallet.NewFromMnemonic(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("解析助记词失败: %w", err)
	}
	if path == "" {
		path = "m/44'/60'/0'/0/0"
	}
	dp, err := hdwallet.ParseDerivationPath(path)
	if err != nil {
		return nil, fmt.Errorf("解析派生路径失败: %w", err)
	}
	account, err := wallet.Derive(dp, false)
	if err != nil {
		return nil, fmt.Errorf("派生账户失败: %w", err)
	}
	return wallet.PrivateKey(account)
}
