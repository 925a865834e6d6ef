// Package monitor 通过 WebSocket 监听交易员活动和单个交易会话的变更
package monitor

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/betbot/localtrader/internal/metrics"
)

var monitorLog = logrus.WithField("component", "lt_monitor")

const (
	defaultReconnectWait    = 3 * time.Second
	defaultMaxReconnectWait = 30 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	stopTimeout             = 5 * time.Second
)

// Config 监听连接配置
type Config struct {
	WSHost           string        // 例如 wss://lt.example.com
	ReconnectWait    time.Duration // 首次重连等待，之后线性递增
	MaxReconnectWait time.Duration
	HandshakeTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = defaultReconnectWait
	}
	if c.MaxReconnectWait <= 0 {
		c.MaxReconnectWait = defaultMaxReconnectWait
	}
	if c.MaxReconnectWait < c.ReconnectWait {
		c.MaxReconnectWait = c.ReconnectWait
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	return c
}

// frameHandler 处理一帧文本消息；返回的错误只记录日志，不断开连接
type frameHandler func(ctx context.Context, data []byte) error

// stream 一条带自动重连的只读 WebSocket 连接
type stream struct {
	name   string
	url    string
	header http.Header
	cfg    Config
	handle frameHandler

	mu      sync.Mutex
	conn    *websocket.Conn
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func newStream(name, url string, header http.Header, cfg Config, handle frameHandler) *stream {
	return &stream{
		name:   name,
		url:    url,
		header: header,
		cfg:    cfg.withDefaults(),
		handle: handle,
	}
}

// start 同步建立首个连接，之后在后台读取并在断线时重连
func (s *stream) start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("%s 已在运行", s.name)
	}

	conn, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("%s 初始连接失败: %w", s.name, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.conn = conn
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.readLoop(runCtx, conn, s.done)

	monitorLog.Infof("🔌 [%s] 已连接 %s", s.name, s.url)
	return nil
}

// stop 关闭连接并等待读取循环退出
func (s *stream) stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	conn := s.conn
	s.conn = nil
	done := s.done
	s.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}

	select {
	case <-done:
		monitorLog.Infof("[%s] 已停止", s.name)
	case <-time.After(stopTimeout):
		monitorLog.Warnf("⚠️ [%s] 关闭超时", s.name)
	}
}

func (s *stream) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *stream) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: s.cfg.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// readLoop 持续读取；连接出错时关闭并按退避重连，直到 ctx 结束
func (s *stream) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	attempts := 0
	for {
		if conn == nil {
			attempts++
			delay := s.cfg.ReconnectWait * time.Duration(attempts)
			if delay > s.cfg.MaxReconnectWait {
				delay = s.cfg.MaxReconnectWait
			}
			monitorLog.Infof("[%s] %v 后重连 (尝试 %d)", s.name, delay, attempts)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			c, err := s.dial(ctx)
			if err != nil {
				monitorLog.Warnf("⚠️ [%s] 重连失败: %v", s.name, err)
				continue
			}
			s.mu.Lock()
			if ctx.Err() != nil {
				s.mu.Unlock()
				_ = c.Close()
				return
			}
			s.conn = c
			s.mu.Unlock()

			metrics.MonitorReconnects.Add(1)
			monitorLog.Infof("🔌 [%s] 已重新连接", s.name)
			conn = c
			attempts = 0
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
			}
			s.mu.Unlock()
			conn = nil

			if ctx.Err() != nil {
				return
			}
			monitorLog.Warnf("⚠️ [%s] 读取错误: %v, 重连中...", s.name, err)
			continue
		}

		metrics.MonitorFrames.Add(1)
		if err := s.handle(ctx, message); err != nil {
			monitorLog.Warnf("⚠️ [%s] 处理消息失败: %v", s.name, err)
		}
	}
}
