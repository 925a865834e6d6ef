package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/betbot/localtrader/internal/controlapi"
	"github.com/betbot/localtrader/internal/localtrader"
	"github.com/betbot/localtrader/internal/metrics"
	"github.com/betbot/localtrader/internal/monitor"
	"github.com/betbot/localtrader/internal/store"
	"github.com/betbot/localtrader/pkg/config"
	"github.com/betbot/localtrader/pkg/logger"
	"github.com/betbot/localtrader/pkg/ltapi"
	"github.com/betbot/localtrader/pkg/prefs"
	"github.com/betbot/localtrader/pkg/secretstore"
	"github.com/betbot/localtrader/pkg/shutdown"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径（.yaml/.yml）")
	envPath := flag.String("env", ".env", ".env 文件路径（不存在则忽略）")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "加载 %s 失败: %v\n", *envPath, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}
	if err := logger.Init(cfg.Log); err != nil {
		fatal(fmt.Errorf("初始化日志失败: %w", err))
	}
	defer logger.Close()

	if err := run(cfg); err != nil {
		logrus.Errorf("❌ %v", err)
		_ = logger.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	sm := shutdown.NewManager()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	walletKey, err := secretstore.ParseKey(cfg.Storage.WalletKey)
	if err != nil {
		return fmt.Errorf("LT_WALLET_KEY 无效: %w", err)
	}
	if walletKey == nil {
		logrus.Warnf("⚠️ 未配置 LT_WALLET_KEY，钱包存储未加密")
	}
	wallet, err := secretstore.Open(secretstore.OpenOptions{Path: cfg.Storage.WalletPath, EncryptionKey: walletKey})
	if err != nil {
		return fmt.Errorf("打开钱包存储失败: %w", err)
	}
	sm.OnShutdown("wallet", func(context.Context) error { return wallet.Close() })

	db, err := store.Open(cfg.Storage.TradeDBPath)
	if err != nil {
		sm.Shutdown(context.Background())
		return fmt.Errorf("打开交易会话数据库失败: %w", err)
	}
	sm.OnShutdown("trade_db", func(context.Context) error { return db.Close() })

	settings, err := prefs.Open(cfg.Storage.PrefsPath)
	if err != nil {
		sm.Shutdown(context.Background())
		return err
	}
	pushPrefs, err := prefs.Open(cfg.Storage.PushPrefsPath)
	if err != nil {
		sm.Shutdown(context.Background())
		return err
	}

	client := ltapi.NewClient(ltapi.Options{
		Host:          cfg.API.Host,
		Timeout:       cfg.API.Timeout,
		RetryCount:    cfg.API.RetryCount,
		RatePerSecond: cfg.API.RatePerSecond,
		Burst:         cfg.API.Burst,
	})

	mgr, err := localtrader.New(localtrader.Options{
		API:                 client,
		Prefs:               settings,
		Store:               db,
		Wallet:              wallet,
		Push:                client,
		PushPrefs:           pushPrefs,
		Locale:              cfg.API.Locale,
		Denomination:        cfg.API.Denomination,
		AppVersion:          cfg.Manager.AppVersion,
		MaxSessionRetries:   cfg.Manager.MaxSessionRetries,
		SubscriberWarnLimit: cfg.Manager.SubscriberWarnLimit,
		TraderInfoTTL:       cfg.Manager.TraderInfoTTL,
		DefaultLocation:     cfg.Manager.DefaultLocation,
	})
	if err != nil {
		sm.Shutdown(context.Background())
		return err
	}
	mgr.SetMonitorFactory(monitor.NewFactory(monitor.Config{
		WSHost:        cfg.API.WSHost,
		ReconnectWait: cfg.Manager.MonitorReconnectWait,
	}, mgr))

	obs := newDaemonObserver(mgr, cfg.Manager.ObserverBuffer)
	mgr.Subscribe(obs)
	sm.OnShutdown("observer", func(ctx context.Context) error {
		mgr.Unsubscribe(obs)
		return obs.dispatcher.Stop(ctx)
	})

	mgr.Start(context.Background())
	sm.OnShutdown("manager", mgr.Stop)
	mgr.InitializePushRegistration(ctx)

	if cfg.MetricsAddr != "" {
		if _, err := metrics.StartAsync(ctx, cfg.MetricsAddr); err != nil {
			logrus.Warnf("⚠️ metrics 服务启动失败: %v", err)
		}
	}
	if cfg.ControlAddr != "" {
		srv := controlapi.New(mgr, cfg.ControlToken)
		if _, err := srv.Start(cfg.ControlAddr); err != nil {
			sm.Shutdown(context.Background())
			return fmt.Errorf("控制接口启动失败: %w", err)
		}
		sm.OnShutdown("control_api", srv.Shutdown)
	}

	warmUp(ctx, mgr)
	logrus.Infof("✅ localtrader 已启动 (api=%s ws=%s)", cfg.API.Host, cfg.API.WSHost)

	<-ctx.Done()
	logrus.Infof("收到退出信号，开始关闭...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Manager.StopTimeout)
	defer cancel()
	sm.Shutdown(shutdownCtx)
	return nil
}

// warmUp 预建会话；有本地交易员时同步交易会话并开始监听活动
func warmUp(ctx context.Context, mgr *localtrader.Manager) {
	if err := mgr.MakeRequest(localtrader.NewCreateSession()); err != nil {
		logrus.Warnf("⚠️ 预建会话失败: %v", err)
	}
	if mgr.IsLocalTraderDisabled() || !mgr.HasLocalTraderIdentity() {
		logrus.Infof("没有可用的本地交易员，仅保持会话")
		return
	}
	if err := mgr.MakeRequest(localtrader.NewGetTraderInfo()); err != nil {
		logrus.Warnf("⚠️ 排队获取交易员资料失败: %v", err)
	}
	if err := mgr.MakeRequest(localtrader.NewGetTradeSessions()); err != nil {
		logrus.Warnf("⚠️ 排队同步失败: %v", err)
	}
	if err := mgr.StartMonitoringTrader(ctx); err != nil {
		logrus.Warnf("⚠️ 交易员活动监听启动失败: %v", err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}
