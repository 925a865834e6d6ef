package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/betbot/localtrader/internal/localtrader"
	"github.com/betbot/localtrader/internal/store"
	"github.com/betbot/localtrader/pkg/config"
	"github.com/betbot/localtrader/pkg/logger"
	"github.com/betbot/localtrader/pkg/ltapi"
	"github.com/betbot/localtrader/pkg/prefs"
	"github.com/betbot/localtrader/pkg/secretstore"
)

// ltkey 管理本地交易员钱包：导入助记词、列出地址、删除密钥、在服务端注册交易员
func main() {
	var (
		configPath = flag.String("config", "", "配置文件路径（.yaml/.yml）")
		envPath    = flag.String("env", ".env", ".env 文件路径（不存在则忽略）")
		list       = flag.Bool("list", false, "列出钱包中的地址")
		del        = flag.String("delete", "", "删除指定地址的密钥")
		path       = flag.String("path", getenv("LT_DERIVATION_PATH", secretstore.DefaultDerivationPath), "HD 派生路径")
		mnemonic   = flag.String("mnemonic", "", "助记词（为空则从标准输入读取）")
		register   = flag.String("register", "", "导入后以该昵称在服务端注册交易员")
		timeout    = flag.Duration("timeout", 30*time.Second, "注册等待时间")
	)
	flag.Parse()

	_ = godotenv.Load(*envPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	if err := logger.Init(logger.Config{Level: cfg.Log.Level}); err != nil {
		fatal(err)
	}
	defer logger.Close()

	walletKey, err := secretstore.ParseKey(cfg.Storage.WalletKey)
	if err != nil {
		fatal(fmt.Errorf("LT_WALLET_KEY 无效: %w", err))
	}
	wallet, err := secretstore.Open(secretstore.OpenOptions{Path: cfg.Storage.WalletPath, EncryptionKey: walletKey})
	if err != nil {
		fatal(fmt.Errorf("打开钱包失败: %w", err))
	}
	defer wallet.Close()

	switch {
	case *list:
		addrs, err := wallet.Addresses()
		if err != nil {
			fatal(err)
		}
		for _, a := range addrs {
			fmt.Println(a.Hex())
		}
		return
	case *del != "":
		if !common.IsHexAddress(*del) {
			fatal(fmt.Errorf("地址格式错误: %s", *del))
		}
		if err := wallet.DeletePrivateKey(common.HexToAddress(*del)); err != nil {
			fatal(err)
		}
		fmt.Fprintf(os.Stderr, "已删除：%s\n", common.HexToAddress(*del).Hex())
		return
	}

	mn := strings.TrimSpace(*mnemonic)
	if mn == "" {
		fmt.Fprintln(os.Stderr, "请输入助记词（12/15/18/21/24 个单词），输入完成后回车：")
		mn = readLine()
	}
	if mn == "" {
		fatal(errors.New("mnemonic is empty"))
	}
	addr, err := wallet.ImportMnemonic(mn, *path)
	if err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stderr, "已导入：%s (path=%s)\n", addr.Hex(), *path)

	if nick := strings.TrimSpace(*register); nick != "" {
		if err := registerTrader(cfg, wallet, addr, nick, *timeout); err != nil {
			fatal(err)
		}
		fmt.Fprintf(os.Stderr, "已注册交易员：%s (%s)\n", nick, addr.Hex())
	}
}

// registerTrader 启动一个临时管理器，排队 CreateTrader 并等待结果
func registerTrader(cfg *config.Config, wallet *secretstore.WalletStore, addr common.Address, nickname string, timeout time.Duration) error {
	key, err := wallet.PrivateKey(addr)
	if err != nil {
		return err
	}
	if key == nil {
		return fmt.Errorf("钱包中没有 %s 的密钥", addr.Hex())
	}

	db, err := store.Open(cfg.Storage.TradeDBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	settings, err := prefs.Open(cfg.Storage.PrefsPath)
	if err != nil {
		return err
	}

	mgr, err := localtrader.New(localtrader.Options{
		API: ltapi.NewClient(ltapi.Options{
			Host:       cfg.API.Host,
			Timeout:    cfg.API.Timeout,
			RetryCount: cfg.API.RetryCount,
		}),
		Prefs:             settings,
		Store:             db,
		Wallet:            wallet,
		Locale:            cfg.API.Locale,
		Denomination:      cfg.API.Denomination,
		AppVersion:        cfg.Manager.AppVersion,
		MaxSessionRetries: cfg.Manager.MaxSessionRetries,
		DefaultLocation:   cfg.Manager.DefaultLocation,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	obs := newRegisterObserver()
	mgr.Subscribe(obs)
	mgr.Start(ctx)
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = mgr.Stop(stopCtx)
	}()

	if err := mgr.MakeRequest(localtrader.NewCreateTrader(key, nickname)); err != nil {
		return err
	}
	select {
	case err := <-obs.done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("注册超时: %w", ctx.Err())
	}
}

// registerObserver 只关心注册结果，其余事件转换为错误
type registerObserver struct {
	done chan error
}

func newRegisterObserver() *registerObserver {
	return &registerObserver{done: make(chan error, 1)}
}

func (o *registerObserver) finish(err error) {
	select {
	case o.done <- err:
	default:
	}
}

// 回调直接在执行器 goroutine 上运行
func (o *registerObserver) Dispatcher() localtrader.Dispatcher {
	return localtrader.DispatcherFunc(func(fn func()) { fn() })
}

func (o *registerObserver) OnNoConnection() bool {
	o.finish(errors.New("无法连接交易服务器"))
	return true
}

func (o *registerObserver) OnIncompatibleVersion() bool {
	o.finish(errors.New("客户端版本与服务器不兼容"))
	return true
}

func (o *registerObserver) OnNoTraderAccount() bool {
	o.finish(errors.New("服务器上不存在该交易员"))
	return true
}

func (o *registerObserver) OnError(code ltapi.ErrorCode) {
	o.finish(fmt.Errorf("注册失败: %s", code))
}

func (o *registerObserver) OnTraderActivity(int64) {}

func (o *registerObserver) OnTraderCreated(string) { o.finish(nil) }

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func readLine() string {
	br := bufio.NewReader(os.Stdin)
	s, _ := br.ReadString('\n')
	return strings.TrimSpace(s)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}
