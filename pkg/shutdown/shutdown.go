package shutdown

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

var shutdownLog = logrus.WithField("component", "shutdown")

// Handler 关闭处理函数
type Handler func(ctx context.Context) error

type namedHandler struct {
	name string
	fn   Handler
}

// Manager 优雅关闭管理器
// 回调按注册的逆序串行执行（后启动的先关闭），保证依赖关系：
// 例如先停 HTTP 接口，再停请求执行器，最后关闭数据库
type Manager struct {
	callbacks []namedHandler
	mu        sync.Mutex
	once      sync.Once
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, namedHandler{name: name, fn: handler})
}

// Shutdown 执行所有关闭回调（阻塞调用，只执行一次）
// ctx 应该是一个带超时的 context；超时后剩余回调仍会执行，但各自应尊重 ctx
func (m *Manager) Shutdown(ctx context.Context) {
	m.once.Do(func() {
		m.mu.Lock()
		callbacks := append([]namedHandler(nil), m.callbacks...)
		m.mu.Unlock()

		if len(callbacks) == 0 {
			shutdownLog.Info("没有注册的关闭回调")
			return
		}
		shutdownLog.Infof("🛑 开始优雅关闭，共 %d 个回调", len(callbacks))

		for i := len(callbacks) - 1; i >= 0; i-- {
			cb := callbacks[i]
			if err := cb.fn(ctx); err != nil {
				shutdownLog.Warnf("⚠️ 关闭回调失败: name=%s err=%v", cb.name, err)
				continue
			}
			shutdownLog.Debugf("关闭回调完成: name=%s", cb.name)
		}

		if err := ctx.Err(); err != nil {
			shutdownLog.Warnf("关闭超时: %v", err)
			return
		}
		shutdownLog.Info("✅ 所有关闭回调已完成")
	})
}
