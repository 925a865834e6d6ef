package localtrader

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/betbot/localtrader/internal/domain"
)

// ErrNoSession 需要会话的操作在没有会话时调用
var ErrNoSession = errors.New("no active session")

// Monitor 后台变更监听
type Monitor interface {
	Start(ctx context.Context) error
	Stop()
}

// TradeSessionChangeListener 单个交易会话的变更回调
type TradeSessionChangeListener interface {
	OnTradeSessionChanged(ts *domain.TradeSession)
}

// MonitorFactory 创建监听器
type MonitorFactory interface {
	NewTraderMonitor(address common.Address) Monitor
	NewTradeSessionMonitor(sessionID, tradeSessionID uuid.UUID, listener TradeSessionChangeListener) Monitor
}

func (m *Manager) SetMonitorFactory(f MonitorFactory) {
	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()
	m.monitorFactory = f
}

// StartMonitoringTrader 监听本地交易员的活动通知（替换已有的监听）
func (m *Manager) StartMonitoringTrader(ctx context.Context) error {
	address, ok := m.LocalTraderAddress()
	if !ok {
		return fmt.Errorf("%w: 没有本地交易员", ErrInvalidOperation)
	}

	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()
	if m.monitorFactory == nil {
		return fmt.Errorf("未配置 MonitorFactory")
	}
	if m.traderMonitor != nil {
		m.traderMonitor.Stop()
		m.traderMonitor = nil
	}
	mon := m.monitorFactory.NewTraderMonitor(address)
	if err := mon.Start(ctx); err != nil {
		return fmt.Errorf("启动交易员监听失败: %w", err)
	}
	m.traderMonitor = mon
	return nil
}

func (m *Manager) StopMonitoringTrader() {
	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()
	if m.traderMonitor != nil {
		m.traderMonitor.Stop()
		m.traderMonitor = nil
	}
}

// StartMonitoringTradeSession 监听单个交易会话；需要当前会话
func (m *Manager) StartMonitoringTradeSession(ctx context.Context, tradeSessionID uuid.UUID, listener TradeSessionChangeListener) error {
	session, _ := m.SessionSnapshot()
	if session == nil {
		managerLog.Errorf("❌ 没有会话，无法监听交易会话: id=%s", tradeSessionID)
		return ErrNoSession
	}

	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()
	if m.monitorFactory == nil {
		return fmt.Errorf("未配置 MonitorFactory")
	}
	if m.tradeSessionMonitor != nil {
		m.tradeSessionMonitor.Stop()
		m.tradeSessionMonitor = nil
	}
	mon := m.monitorFactory.NewTradeSessionMonitor(session.ID, tradeSessionID, listener)
	if err := mon.Start(ctx); err != nil {
		return fmt.Errorf("启动交易会话监听失败: %w", err)
	}
	m.tradeSessionMonitor = mon
	return nil
}

func (m *Manager) StopMonitoringTradeSession() {
	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()
	if m.tradeSessionMonitor != nil {
		m.tradeSessionMonitor.Stop()
		m.tradeSessionMonitor = nil
	}
}
