package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/ethereum/go-ethereum/common"
)

// ActivitySink 接收交易员活动时间
type ActivitySink interface {
	SetLastTraderNotification(timestamp int64) bool
}

// activityFrame 服务端推送的交易员活动
type activityFrame struct {
	Timestamp int64 `json:"timestamp"`
}

// TraderMonitor 监听本地交易员的活动通知
type TraderMonitor struct {
	address common.Address
	sink    ActivitySink
	stream  *stream
}

// NewTraderMonitor 创建交易员活动监听
func NewTraderMonitor(cfg Config, address common.Address, sink ActivitySink) (*TraderMonitor, error) {
	u, err := url.JoinPath(cfg.WSHost, "v1", "ws", "traders", address.Hex())
	if err != nil {
		return nil, fmt.Errorf("无效的 WebSocket 地址: %w", err)
	}
	m := &TraderMonitor{address: address, sink: sink}
	m.stream = newStream("trader", u, nil, cfg, m.handleFrame)
	return m, nil
}

func (m *TraderMonitor) Start(ctx context.Context) error { return m.stream.start(ctx) }

func (m *TraderMonitor) Stop() { m.stream.stop() }

func (m *TraderMonitor) handleFrame(ctx context.Context, data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	var f activityFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("解析活动消息失败: %w", err)
	}
	if f.Timestamp <= 0 {
		return fmt.Errorf("活动消息缺少时间戳: %s", data)
	}
	if m.sink.SetLastTraderNotification(f.Timestamp) {
		monitorLog.Debugf("[trader] 活动时间更新: address=%s ts=%d", m.address.Hex(), f.Timestamp)
	}
	return nil
}
