package localtrader

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/betbot/localtrader/internal/domain"
	"github.com/betbot/localtrader/pkg/ltapi"
)

// Request 一次远端 API 操作
// 实现应为指针类型：执行器通过指针相等识别正在重试的请求
type Request interface {
	RequiresSession() bool
	RequiresLogin() bool
	// Execute 在 worker 上执行；失败通过 apiCtx.HandleErrors 上报，不返回错误
	Execute(ctx context.Context, apiCtx APIContext, api ltapi.API, sessionID uuid.UUID, observers Observers)
}

// APIContext 请求执行时可回调的管理器能力
type APIContext interface {
	HandleErrors(req Request, code ltapi.ErrorCode)
	UpdateLocalTradeSessions(ctx context.Context, remote []*domain.TradeSession) error
	UpdateSingleTradeSession(ctx context.Context, ts *domain.TradeSession) error
	CacheTraderInfo(info *domain.TraderInfo)
	CachePublicTraderInfo(info *domain.TraderInfo)
	SetLastTraderSynchronization(timestamp int64) error
	SetLocalTraderData(address common.Address, nickname string) error
	Now() time.Time
}

// captchaGuarded 需要验证码保护的请求
type captchaGuarded interface {
	CaptchaCommand() domain.CaptchaCommand
}
