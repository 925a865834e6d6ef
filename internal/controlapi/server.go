// Package controlapi 本地控制接口：查看交易会话、触发同步、修改设置
package controlapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/localtrader/internal/domain"
	"github.com/betbot/localtrader/internal/localtrader"
)

var apiLog = logrus.WithField("component", "controlapi")

const requestTimeout = 5 * time.Second

// Manager 控制接口依赖的管理器能力
type Manager interface {
	LocalTrader() (domain.LocalTrader, bool)
	SessionSnapshot() (*domain.Session, bool)
	QueueLen() int
	SubscriberCount() int
	MakeRequest(req localtrader.Request) error

	NeedsSynchronization() bool
	LastTraderSynchronization() int64
	LastTraderNotification() int64

	Location() domain.GpsLocation
	SetLocation(loc domain.GpsLocation) error
	PlaySoundOnTradeNotification() bool
	SetPlaySoundOnTradeNotification(enabled bool) error
	UseMiles() bool
	SetUseMiles(enabled bool) error
	IsLocalTraderDisabled() bool
	SetLocalTraderDisabled(disabled bool) error

	LocalTradeSession(ctx context.Context, id uuid.UUID) (*domain.TradeSession, error)
	LocalTradeSessions(ctx context.Context) ([]*domain.TradeSession, error)
	LocalBuyTradeSessions(ctx context.Context) ([]*domain.TradeSession, error)
	LocalSellTradeSessions(ctx context.Context) ([]*domain.TradeSession, error)
	CountLocalBuyTradeSessions(ctx context.Context) (int, error)
	CountLocalSellTradeSessions(ctx context.Context) (int, error)
	IsViewed(ctx context.Context, ts *domain.TradeSession) (bool, error)
	MarkViewed(ctx context.Context, ts *domain.TradeSession) error
}

var _ Manager = (*localtrader.Manager)(nil)

// Server 本地控制 HTTP 服务
type Server struct {
	mgr   Manager
	token string
	srv   *http.Server
}

// New token 为空时不做认证（仅建议监听 localhost）
func New(mgr Manager, token string) *Server {
	return &Server{mgr: mgr, token: strings.TrimSpace(token)}
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	v1 := r.Group("/v1")
	if s.token != "" {
		v1.Use(s.requireToken)
	}
	v1.GET("/status", s.handleStatus)
	v1.POST("/sync", s.handleSync)
	v1.GET("/settings", s.handleSettingsGet)
	v1.PUT("/settings", s.handleSettingsUpdate)

	sessions := v1.Group("/trade-sessions")
	sessions.GET("", s.handleTradeSessionsList)
	sessions.GET("/:id", s.handleTradeSessionGet)
	sessions.POST("/:id/viewed", s.handleTradeSessionViewed)

	return r
}

// Start 非阻塞启动；返回实际监听地址
func (s *Server) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	s.srv = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			apiLog.Errorf("❌ 控制接口异常退出: %v", err)
		}
	}()
	apiLog.Infof("🌐 控制接口已启动: http://%s", ln.Addr())
	return ln.Addr().String(), nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) requireToken(c *gin.Context) {
	got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
		writeError(c, http.StatusUnauthorized, "unauthorized")
		c.Abort()
		return
	}
	c.Next()
}

func writeError(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}
