// Package localtrader 本地交易会话管理：串行请求执行、会话/登录状态机、交易会话对账与观察者通知
package localtrader

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/betbot/localtrader/internal/domain"
	"github.com/betbot/localtrader/internal/metrics"
	"github.com/betbot/localtrader/internal/store"
	"github.com/betbot/localtrader/pkg/cache"
	"github.com/betbot/localtrader/pkg/ltapi"
	"github.com/betbot/localtrader/pkg/prefs"
)

var managerLog = logrus.WithField("component", "localtrader")

// WalletRecords 钱包记录查询
// PrivateKey 在记录不存在或不再持有私钥时返回 (nil, nil)；err 仅表示读取失败
type WalletRecords interface {
	PrivateKey(address common.Address) (*ecdsa.PrivateKey, error)
}

// Options 管理器配置
type Options struct {
	API       ltapi.API
	Prefs     prefs.Preferences
	Store     *store.TradeSessionDB
	Wallet    WalletRecords
	Push      PushRegistrar     // 可选
	PushPrefs prefs.Preferences // 推送注册使用的独立偏好空间，可选

	Locale              string
	Denomination        string
	AppVersion          int
	MaxSessionRetries   int // <=0 使用默认值 3
	SubscriberWarnLimit int // <=0 使用默认值 5
	TraderInfoTTL       time.Duration
	DefaultLocation     domain.GpsLocation

	Rand io.Reader        // 签名随机数来源，nil 使用 crypto/rand
	Now  func() time.Time // nil 使用 time.Now
}

// Manager 本地交易管理器
// 所有远端请求经由单个 worker 串行执行；会话与登录状态只由 worker 修改
type Manager struct {
	api       ltapi.API
	prefs     prefs.Preferences
	db        *store.TradeSessionDB
	wallet    WalletRecords
	push      PushRegistrar
	pushPrefs prefs.Preferences

	locale       string
	denomination string
	appVersion   int
	maxRetries   int
	infoTTL      time.Duration
	rand         io.Reader
	now          func() time.Time

	queue     *requestQueue
	observers *observerRegistry

	// 会话/登录状态
	stateMu  sync.Mutex
	session  *domain.Session
	loggedIn bool
	current  *queuedRequest

	// 交易会话表（对账与读取互斥）
	storeMu sync.Mutex

	settingsMu sync.Mutex
	settings   settings

	traderInfo *cache.InMemoryCache[string, *domain.TraderInfo]

	monitorMu           sync.Mutex
	monitorFactory      MonitorFactory
	traderMonitor       Monitor
	tradeSessionMonitor Monitor

	lifecycleMu sync.Mutex
	workerCtx   context.Context
	started     bool
	done        chan struct{}
	pushWG      sync.WaitGroup
}

var _ APIContext = (*Manager)(nil)

// New 创建管理器并从偏好存储加载本地状态
func New(opts Options) (*Manager, error) {
	if opts.API == nil {
		return nil, fmt.Errorf("localtrader: API 不能为空")
	}
	if opts.Prefs == nil {
		return nil, fmt.Errorf("localtrader: Prefs 不能为空")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("localtrader: Store 不能为空")
	}
	if opts.Wallet == nil {
		return nil, fmt.Errorf("localtrader: Wallet 不能为空")
	}
	if opts.MaxSessionRetries <= 0 {
		opts.MaxSessionRetries = 3
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PushPrefs == nil {
		opts.PushPrefs = prefs.NewMemory()
	}

	m := &Manager{
		api:          opts.API,
		prefs:        opts.Prefs,
		db:           opts.Store,
		wallet:       opts.Wallet,
		push:         opts.Push,
		pushPrefs:    opts.PushPrefs,
		locale:       opts.Locale,
		denomination: opts.Denomination,
		appVersion:   opts.AppVersion,
		maxRetries:   opts.MaxSessionRetries,
		infoTTL:      opts.TraderInfoTTL,
		rand:         opts.Rand,
		now:          opts.Now,
		queue:        newRequestQueue(),
		observers:    newObserverRegistry(opts.SubscriberWarnLimit),
		traderInfo:   cache.NewInMemoryCache[string, *domain.TraderInfo](opts.TraderInfoTTL),
		workerCtx:    context.Background(),
		done:         make(chan struct{}),
	}
	m.settings = loadSettings(opts.Prefs, opts.DefaultLocation)
	if addr, ok := m.settings.address(); ok {
		managerLog.Infof("📂 已加载本地交易员: address=%s nickname=%s", addr.Hex(), m.settings.nickname)
	}
	return m, nil
}

// Start 启动 worker；ctx 取消时队列关闭，但正在执行的请求不会被取消
func (m *Manager) Start(ctx context.Context) {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.workerCtx = context.WithoutCancel(ctx)
	if m.infoTTL > 0 {
		m.traderInfo.StartCleanup(m.infoTTL)
	}

	go m.run()
	go func() {
		select {
		case <-ctx.Done():
			if dropped := m.queue.close(); dropped > 0 {
				managerLog.Warnf("⚠️ 上下文取消，丢弃 %d 个未执行请求", dropped)
			}
		case <-m.done:
		}
	}()
	managerLog.Infof("✅ LocalTraderManager 已启动")
}

// Stop 关闭队列（丢弃未执行请求），等待正在执行的请求完成
func (m *Manager) Stop(ctx context.Context) error {
	if dropped := m.queue.close(); dropped > 0 {
		metrics.RequestsDropped.Add(int64(dropped))
		managerLog.Warnf("⚠️ 停止时丢弃 %d 个未执行请求", dropped)
	}
	m.StopMonitoringTrader()
	m.StopMonitoringTradeSession()
	m.traderInfo.Close()

	m.lifecycleMu.Lock()
	started := m.started
	m.lifecycleMu.Unlock()
	if !started {
		return nil
	}

	select {
	case <-m.done:
	case <-ctx.Done():
		return fmt.Errorf("停止 LocalTraderManager 超时: %w", ctx.Err())
	}

	pushDone := make(chan struct{})
	go func() {
		m.pushWG.Wait()
		close(pushDone)
	}()
	select {
	case <-pushDone:
		managerLog.Infof("✅ LocalTraderManager 已停止")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("等待推送注册结束超时: %w", ctx.Err())
	}
}

// MakeRequest 将请求加入队列
// 需要登录但本地没有交易员身份时立即返回 ErrInvalidOperation，不入队
func (m *Manager) MakeRequest(req Request) error {
	if req == nil {
		return fmt.Errorf("%w: 请求为空", ErrInvalidOperation)
	}
	if !isComparable(req) {
		return fmt.Errorf("%w: 请求类型不可比较（请使用指针）: %T", ErrInvalidOperation, req)
	}
	if req.RequiresLogin() && !m.HasLocalTraderIdentity() {
		return fmt.Errorf("%w: %T 需要本地交易员身份", ErrInvalidOperation, req)
	}
	if err := m.queue.push(queuedRequest{req: req}); err != nil {
		return err
	}
	metrics.RequestsQueued.Add(1)
	return nil
}

// QueueLen 当前排队请求数
func (m *Manager) QueueLen() int {
	return m.queue.len()
}

// Subscribe 注册观察者（重复注册忽略）
func (m *Manager) Subscribe(o Observer) {
	m.observers.subscribe(o)
}

// Unsubscribe 取消注册
func (m *Manager) Unsubscribe(o Observer) {
	m.observers.unsubscribe(o)
}

// SubscriberCount 当前观察者数量
func (m *Manager) SubscriberCount() int {
	return m.observers.count()
}

// Now 当前时间（可注入）
func (m *Manager) Now() time.Time {
	return m.now()
}

// SessionSnapshot 当前会话的拷贝及登录状态
func (m *Manager) SessionSnapshot() (*domain.Session, bool) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.session.Clone(), m.loggedIn
}

// IsCaptchaRequired 判断请求在当前会话下是否需要验证码
// 没有会话时，受验证码保护的请求总是需要
func (m *Manager) IsCaptchaRequired(req Request) bool {
	g, ok := req.(captchaGuarded)
	if !ok {
		return false
	}
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.session.RequiresCaptcha(g.CaptchaCommand())
}

func (m *Manager) clearSession() {
	m.stateMu.Lock()
	m.session = nil
	m.loggedIn = false
	m.stateMu.Unlock()
}

// CacheTraderInfo 缓存本地交易员资料
func (m *Manager) CacheTraderInfo(info *domain.TraderInfo) {
	if info == nil {
		return
	}
	m.traderInfo.Set(cacheKeySelf, info, 0)
}

// CachedTraderInfo 最近一次获取的本地交易员资料
func (m *Manager) CachedTraderInfo() (*domain.TraderInfo, bool) {
	return m.traderInfo.Get(cacheKeySelf)
}

// CachePublicTraderInfo 缓存其他交易员的公开资料
func (m *Manager) CachePublicTraderInfo(info *domain.TraderInfo) {
	if info == nil || info.Address == "" {
		return
	}
	m.traderInfo.Set(publicCacheKey(info.Address), info, 0)
}

// CachedPublicTraderInfo 按地址读取公开资料缓存
func (m *Manager) CachedPublicTraderInfo(address string) (*domain.TraderInfo, bool) {
	return m.traderInfo.Get(publicCacheKey(address))
}

const cacheKeySelf = "self"

func publicCacheKey(address string) string {
	if common.IsHexAddress(address) {
		return "public:" + common.HexToAddress(address).Hex()
	}
	return "public:" + address
}
