package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/xibot/xibot/internal/bot"
	"github.com/xibot/xibot/internal/coordination"
	"github.com/xibot/xibot/internal/health"
	"github.com/xibot/xibot/internal/history"
	"github.com/xibot/xibot/internal/ledger"
	"github.com/xibot/xibot/internal/metrics"
	"github.com/xibot/xibot/internal/notify"
	"github.com/xibot/xibot/internal/watchdog"
	"github.com/xibot/xibot/pkg/config"
	"github.com/xibot/xibot/pkg/fixedpoint"
	"github.com/xibot/xibot/pkg/logger"
	"github.com/xibot/xibot/pkg/persistence"
	"github.com/xibot/xibot/pkg/shutdown"
)

func main() {
	configPath := flag.String("config", "yml/config.yaml", "配置文件路径")
	flag.Parse()

	// .env 不存在不算错误
	_ = godotenv.Load()

	if err := logger.InitDefault(); err != nil {
		panic(err)
	}

	// 默认配置文件不存在时退回环境变量 + 默认值
	path := *configPath
	if _, err := os.Stat(path); err != nil {
		logrus.Warnf("配置文件 %s 不存在，使用环境变量和默认值", path)
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		logrus.Errorf("加载配置失败: %v", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    100,
		MaxBackups: 10,
		MaxAge:     30,
		Compress:   true,
	}); err != nil {
		logrus.Errorf("初始化日志失败: %v", err)
		os.Exit(1)
	}

	logger.Infof("🚀 启动 XiBot: bot=%s simulation=%v", cfg.BotID, cfg.Simulation)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	client, err := buildClient(cfg)
	if err != nil {
		logger.Errorf("初始化账本客户端失败: %v", err)
		os.Exit(1)
	}

	var repo *history.Repo
	if cfg.HistoryDB != "" {
		repo, err = history.Open(cfg.HistoryDB)
		if err != nil {
			logger.Errorf("打开交易历史库失败: %v", err)
			os.Exit(1)
		}
	}

	var store coordination.Store
	if cfg.Firebase.BaseURL != "" {
		store = coordination.NewFirebaseStore(cfg.Firebase.BaseURL, cfg.Firebase.AuthToken)
		logger.Infof("☁️ 协调库: %s", cfg.Firebase.BaseURL)
	} else {
		store = coordination.NewMemoryStore()
		logger.Warnf("未配置协调库地址，使用进程内存储（仅适合单机调试）")
	}
	board := coordination.NewBoard(store, cfg.BotID)

	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		notifier = notify.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		logger.Info("📨 Telegram 通知已启用")
	}

	dog := watchdog.New(cfg.WatchdogTimeout())

	strategy, err := bot.New(cfg, bot.Deps{
		Client:   client,
		Board:    board,
		Repo:     repo,
		Notifier: notifier,
		Persist:  persistence.NewJSONFileService(cfg.StateDir),
		Watchdog: dog,
	})
	if err != nil {
		logger.Errorf("装配策略失败: %v", err)
		os.Exit(1)
	}
	if err := strategy.Validate(); err != nil {
		logger.Errorf("策略校验失败: %v", err)
		os.Exit(1)
	}

	// 健康检查
	var healthSrv *health.Server
	if cfg.HealthAddr != "" {
		healthSrv = health.NewServer(cfg.HealthAddr, func() health.Snapshot {
			botID, lastUpdate, statsMap := strategy.HealthSnapshot()
			status := "ok"
			if dog.Expired() {
				status = "stale"
			}
			return health.Snapshot{
				Status:     status,
				BotID:      botID,
				LastUpdate: lastUpdate.UnixMilli(),
				Stats:      statsMap,
			}
		})
		healthSrv.Start()
	}

	// metrics/pprof（可选）
	if cfg.DebugAddr != "" {
		if _, err := metrics.StartAsync(rootCtx, cfg.DebugAddr); err != nil {
			logger.Errorf("metrics/pprof 启动失败: %v", err)
		} else {
			logger.Infof("📊 metrics/pprof 启用: listen=%s", cfg.DebugAddr)
		}
	}

	go dog.Run(rootCtx)
	go func() {
		if err := strategy.Run(rootCtx); err != nil && err != context.Canceled {
			logger.Errorf("策略退出: %v", err)
		}
	}()

	shutdownManager := shutdown.NewManager()
	shutdownManager.OnShutdown(strategy.Shutdown)

	logger.Info("✅ XiBot 已启动，按 Ctrl+C 停止")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("收到停止信号，正在关闭...")
	rootCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	shutdownManager.Shutdown(shutdownCtx)

	if healthSrv != nil {
		healthSrv.Shutdown(shutdownCtx)
	}
	if repo != nil {
		_ = repo.Close()
	}
	if eth, ok := client.(*ledger.EthereumClient); ok {
		eth.Close()
	}

	logger.Info("✅ XiBot 已停止")
}

// buildClient 按运行模式选择真实链上客户端或仿真客户端
func buildClient(cfg *config.Config) (ledger.Client, error) {
	if cfg.Simulation {
		pol := common.HexToAddress(cfg.Chain.PolAddress)
		xin := common.HexToAddress(cfg.Chain.XinAddress)
		if cfg.Chain.PolAddress == "" {
			pol = common.HexToAddress("0x0000000000000000000000000000000000000101")
		}
		if cfg.Chain.XinAddress == "" {
			xin = common.HexToAddress("0x0000000000000000000000000000000000000102")
		}
		return ledger.NewSimulationClient(pol, xin,
			fixedpoint.MustParse("100"), fixedpoint.MustParse("150"),
			fixedpoint.MustParse("100"), fixedpoint.MustParse("150"),
		), nil
	}

	key, err := cfg.ResolvePrivateKey()
	if err != nil {
		return nil, err
	}
	return ledger.NewEthereumClient(ledger.EthereumConfig{
		RPCURL:          cfg.Chain.RPCURL,
		ChainID:         cfg.Chain.ChainID,
		PrivateKey:      key,
		PolAddress:      common.HexToAddress(cfg.Chain.PolAddress),
		XinAddress:      common.HexToAddress(cfg.Chain.XinAddress),
		RouterAddress:   common.HexToAddress(cfg.Chain.RouterAddress),
		QuoterAddress:   common.HexToAddress(cfg.Chain.QuoterAddress),
		PoolAddress:     common.HexToAddress(cfg.Chain.PoolAddress),
		PositionManager: common.HexToAddress(cfg.Chain.PositionManager),
		PoolFee:         cfg.Chain.PoolFee,
		TickLower:       cfg.Chain.TickLower,
		TickUpper:       cfg.Chain.TickUpper,
		ConfirmTimeout:  time.Duration(cfg.Chain.ConfirmTimeout) * time.Second,
		GasLimitSwap:    cfg.Chain.GasLimitSwap,
		GasPriceBumpPct: cfg.Chain.GasPriceBumpPct,
	})
}
