package monitor

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/betbot/localtrader/internal/localtrader"
)

// Sink 监听结果的接收方（通常是 localtrader.Manager）
type Sink interface {
	ActivitySink
	TradeSessionSink
}

// Factory 实现 localtrader.MonitorFactory
type Factory struct {
	cfg  Config
	sink Sink
}

var _ localtrader.MonitorFactory = (*Factory)(nil)

func NewFactory(cfg Config, sink Sink) *Factory {
	return &Factory{cfg: cfg, sink: sink}
}

func (f *Factory) NewTraderMonitor(address common.Address) localtrader.Monitor {
	m, err := NewTraderMonitor(f.cfg, address, f.sink)
	if err != nil {
		return failedMonitor{err: err}
	}
	return m
}

func (f *Factory) NewTradeSessionMonitor(sessionID, tradeSessionID uuid.UUID, listener localtrader.TradeSessionChangeListener) localtrader.Monitor {
	m, err := NewTradeSessionMonitor(f.cfg, sessionID, tradeSessionID, f.sink, listener)
	if err != nil {
		return failedMonitor{err: err}
	}
	return m
}

// failedMonitor 构造失败时把错误延迟到 Start 返回
type failedMonitor struct{ err error }

func (m failedMonitor) Start(context.Context) error { return m.err }

func (m failedMonitor) Stop() {}
