package localtrader

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/localtrader/internal/domain"
	"github.com/betbot/localtrader/internal/metrics"
	"github.com/betbot/localtrader/pkg/ltapi"
)

var observerLog = logrus.WithField("component", "lt_observers")

// Dispatcher 观察者自己的执行上下文；回调总是通过 Post 投递，不在 worker 上同步执行
type Dispatcher interface {
	Post(fn func())
}

// DispatcherFunc 将函数适配为 Dispatcher
type DispatcherFunc func(fn func())

func (f DispatcherFunc) Post(fn func()) { f(fn) }

// Observer 本地交易事件的订阅者
// 前三个回调返回 true 表示已处理；返回 false 时同一事件还会收到 OnError
// 实现应为指针类型：注册表按相等去重，不可比较的类型会被拒绝
type Observer interface {
	OnNoConnection() bool
	OnIncompatibleVersion() bool
	OnNoTraderAccount() bool
	OnError(code ltapi.ErrorCode)
	OnTraderActivity(timestamp int64)
	Dispatcher() Dispatcher
}

// 以下为可选的结果回调，观察者按需实现

type SellOrderListener interface {
	OnSellOrderCreated(sellOrderID uuid.UUID)
}

type InstantBuyOrderListener interface {
	OnInstantBuyOrderCreated(tradeSessionID uuid.UUID)
}

type TradeSessionsListener interface {
	OnTradeSessionsFetched(sessions []*domain.TradeSession)
	OnTradeSessionFetched(session *domain.TradeSession)
}

type TraderInfoListener interface {
	OnTraderInfoFetched(info *domain.TraderInfo)
	OnPublicTraderInfoFetched(info *domain.TraderInfo)
}

type TraderCreatedListener interface {
	OnTraderCreated(nickname string)
}

// Observers 请求执行时可用的通知能力
type Observers interface {
	NotifyNoConnection()
	NotifyIncompatibleVersion()
	NotifyNoTraderAccount()
	NotifyError(code ltapi.ErrorCode)
	NotifyTraderActivity(timestamp int64)
	// Broadcast 在每个订阅者自己的执行上下文上调用 fn
	Broadcast(fn func(o Observer))
}

// observerRegistry 去重的订阅者集合，锁与请求队列的锁相互独立
type observerRegistry struct {
	mu        sync.Mutex
	observers []Observer
	warnLimit int
}

var _ Observers = (*observerRegistry)(nil)

func newObserverRegistry(warnLimit int) *observerRegistry {
	if warnLimit <= 0 {
		warnLimit = 5
	}
	return &observerRegistry{warnLimit: warnLimit}
}

// isComparable 接口值比较对切片、map 等动态类型会 panic
func isComparable(v any) bool {
	t := reflect.TypeOf(v)
	return t != nil && t.Comparable()
}

func (r *observerRegistry) subscribe(o Observer) {
	if !isComparable(o) {
		observerLog.Errorf("❌ 观察者类型不可比较，拒绝订阅（请使用指针）: %T", o)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.observers {
		if existing == o {
			return
		}
	}
	r.observers = append(r.observers, o)
	if len(r.observers) > r.warnLimit {
		observerLog.Warnf("⚠️ 观察者数量过多，可能存在订阅泄漏: count=%d", len(r.observers))
	}
}

func (r *observerRegistry) unsubscribe(o Observer) {
	if !isComparable(o) {
		observerLog.Errorf("❌ 取消订阅不可比较的观察者: %T", o)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.observers {
		if existing == o {
			r.observers = append(r.observers[:i], r.observers[i+1:]...)
			return
		}
	}
	observerLog.Errorf("❌ 取消订阅未注册的观察者: %T", o)
}

func (r *observerRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.observers)
}

func (r *observerRegistry) snapshot() []Observer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Observer(nil), r.observers...)
}

func (r *observerRegistry) Broadcast(fn func(o Observer)) {
	for _, o := range r.snapshot() {
		d := o.Dispatcher()
		if d == nil {
			observerLog.Errorf("❌ 观察者没有 Dispatcher，跳过: %T", o)
			continue
		}
		d.Post(func() { fn(o) })
	}
}

func (r *observerRegistry) NotifyNoConnection() {
	r.Broadcast(func(o Observer) {
		if !o.OnNoConnection() {
			o.OnError(ltapi.ErrorCodeNoServerConnection)
		}
	})
}

func (r *observerRegistry) NotifyIncompatibleVersion() {
	r.Broadcast(func(o Observer) {
		if !o.OnIncompatibleVersion() {
			o.OnError(ltapi.ErrorCodeIncompatibleAPIVersion)
		}
	})
}

func (r *observerRegistry) NotifyNoTraderAccount() {
	r.Broadcast(func(o Observer) {
		if !o.OnNoTraderAccount() {
			o.OnError(ltapi.ErrorCodeTraderDoesNotExist)
		}
	})
}

func (r *observerRegistry) NotifyError(code ltapi.ErrorCode) {
	r.Broadcast(func(o Observer) { o.OnError(code) })
}

func (r *observerRegistry) NotifyTraderActivity(timestamp int64) {
	r.Broadcast(func(o Observer) { o.OnTraderActivity(timestamp) })
}

// SerialDispatcher 单 goroutine 按投递顺序执行回调
// Post 从不阻塞：缓冲满时丢弃并告警
type SerialDispatcher struct {
	mu     sync.RWMutex
	ch     chan func()
	closed bool
	wg     sync.WaitGroup
	once   sync.Once
}

var _ Dispatcher = (*SerialDispatcher)(nil)

func NewSerialDispatcher(buffer int) *SerialDispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	d := &SerialDispatcher{ch: make(chan func(), buffer)}
	d.wg.Add(1)
	go d.loop()
	return d
}

func (d *SerialDispatcher) loop() {
	defer d.wg.Done()
	for fn := range d.ch {
		func() {
			defer func() {
				if r := recover(); r != nil {
					observerLog.Errorf("观察者回调 panic: %v", r)
				}
			}()
			fn()
		}()
	}
}

func (d *SerialDispatcher) Post(fn func()) {
	if fn == nil {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		observerLog.Warnf("⚠️ Dispatcher 已停止，丢弃回调")
		return
	}
	select {
	case d.ch <- fn:
	default:
		metrics.ObserverDrops.Add(1)
		observerLog.Warnf("⚠️ Dispatcher 队列已满，丢弃回调 (buffer=%d)", cap(d.ch))
	}
}

// Stop 停止接收新回调，执行完已排队的回调后返回
func (d *SerialDispatcher) Stop(ctx context.Context) error {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.ch)
		d.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("停止 Dispatcher 超时: %w", ctx.Err())
	}
}
