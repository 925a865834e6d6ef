package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/betbot/localtrader/internal/domain"
	"github.com/betbot/localtrader/internal/localtrader"
)

// SessionHeader 携带当前会话 id 的请求头
const SessionHeader = "X-LT-Session"

// TradeSessionSink 接收交易会话的最新快照
type TradeSessionSink interface {
	UpdateSingleTradeSession(ctx context.Context, ts *domain.TradeSession) error
}

// TradeSessionMonitor 监听单个交易会话；每帧是一份完整的 TradeSession
type TradeSessionMonitor struct {
	tradeSessionID uuid.UUID
	sink           TradeSessionSink
	listener       localtrader.TradeSessionChangeListener
	stream         *stream
}

// NewTradeSessionMonitor 创建交易会话监听，listener 可为 nil
func NewTradeSessionMonitor(cfg Config, sessionID, tradeSessionID uuid.UUID, sink TradeSessionSink, listener localtrader.TradeSessionChangeListener) (*TradeSessionMonitor, error) {
	u, err := url.JoinPath(cfg.WSHost, "v1", "ws", "trade-sessions", tradeSessionID.String())
	if err != nil {
		return nil, fmt.Errorf("无效的 WebSocket 地址: %w", err)
	}
	header := make(http.Header)
	header.Set(SessionHeader, sessionID.String())

	m := &TradeSessionMonitor{tradeSessionID: tradeSessionID, sink: sink, listener: listener}
	m.stream = newStream("trade_session", u, header, cfg, m.handleFrame)
	return m, nil
}

func (m *TradeSessionMonitor) Start(ctx context.Context) error { return m.stream.start(ctx) }

func (m *TradeSessionMonitor) Stop() { m.stream.stop() }

func (m *TradeSessionMonitor) handleFrame(ctx context.Context, data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	var ts domain.TradeSession
	if err := json.Unmarshal(data, &ts); err != nil {
		return fmt.Errorf("解析交易会话失败: %w", err)
	}
	if ts.ID != m.tradeSessionID {
		return fmt.Errorf("收到其他交易会话的消息: want=%s got=%s", m.tradeSessionID, ts.ID)
	}
	if err := m.sink.UpdateSingleTradeSession(ctx, &ts); err != nil {
		return fmt.Errorf("写入交易会话失败: %w", err)
	}
	if m.listener != nil {
		m.listener.OnTradeSessionChanged(&ts)
	}
	return nil
}
