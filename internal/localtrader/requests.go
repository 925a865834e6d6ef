package localtrader

import (
	"context"
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/localtrader/internal/domain"
	"github.com/betbot/localtrader/pkg/ltapi"
)

var requestLog = logrus.WithField("component", "lt_request")

// CreateSession 预热：只确保存在会话
type CreateSession struct{}

func NewCreateSession() *CreateSession { return &CreateSession{} }

func (r *CreateSession) RequiresSession() bool { return true }
func (r *CreateSession) RequiresLogin() bool   { return false }

func (r *CreateSession) Execute(ctx context.Context, apiCtx APIContext, api ltapi.API, sessionID uuid.UUID, observers Observers) {
	requestLog.Debugf("会话已就绪: session=%s", sessionID)
}

// CreateTrader 用本地私钥在服务端注册交易员，成功后保存本地身份
type CreateTrader struct {
	key      *ecdsa.PrivateKey
	nickname string
}

func NewCreateTrader(key *ecdsa.PrivateKey, nickname string) *CreateTrader {
	return &CreateTrader{key: key, nickname: nickname}
}

func (r *CreateTrader) RequiresSession() bool { return true }
func (r *CreateTrader) RequiresLogin() bool   { return false }

func (r *CreateTrader) Execute(ctx context.Context, apiCtx APIContext, api ltapi.API, sessionID uuid.UUID, observers Observers) {
	if r.key == nil {
		requestLog.Errorf("❌ 注册交易员缺少私钥")
		apiCtx.HandleErrors(r, ltapi.ErrorCodeInvalidArgument)
		return
	}
	address := crypto.PubkeyToAddress(r.key.PublicKey)
	sig, err := ltapi.SignSessionID(r.key, sessionID, nil)
	if err != nil {
		requestLog.Errorf("❌ 注册交易员签名失败: %v", err)
		apiCtx.HandleErrors(r, ltapi.ErrorCodeInternal)
		return
	}
	err = api.CreateTrader(ctx, sessionID, ltapi.CreateTraderParameters{
		Address:   address.Hex(),
		Nickname:  r.nickname,
		PublicKey: ltapi.PublicKeyHex(r.key),
		Signature: sig,
	})
	if err != nil {
		apiCtx.HandleErrors(r, ltapi.CodeOf(err))
		return
	}
	if err := apiCtx.SetLocalTraderData(address, r.nickname); err != nil {
		requestLog.Errorf("❌ 保存本地交易员身份失败: %v", err)
		observers.NotifyError(ltapi.ErrorCodeInternal)
		return
	}
	requestLog.Infof("✅ 交易员已注册: address=%s nickname=%s", address.Hex(), r.nickname)
	nickname := r.nickname
	observers.Broadcast(func(o Observer) {
		if l, ok := o.(TraderCreatedListener); ok {
			l.OnTraderCreated(nickname)
		}
	})
}

// GetTraderInfo 获取本地交易员资料并缓存
type GetTraderInfo struct{}

func NewGetTraderInfo() *GetTraderInfo { return &GetTraderInfo{} }

func (r *GetTraderInfo) RequiresSession() bool { return true }
func (r *GetTraderInfo) RequiresLogin() bool   { return true }

func (r *GetTraderInfo) Execute(ctx context.Context, apiCtx APIContext, api ltapi.API, sessionID uuid.UUID, observers Observers) {
	info, err := api.GetTraderInfo(ctx, sessionID)
	if err != nil {
		apiCtx.HandleErrors(r, ltapi.CodeOf(err))
		return
	}
	apiCtx.CacheTraderInfo(info)
	observers.Broadcast(func(o Observer) {
		if l, ok := o.(TraderInfoListener); ok {
			l.OnTraderInfoFetched(info)
		}
	})
}

// GetPublicTraderInfo 无需会话的公开交易员资料查询
type GetPublicTraderInfo struct {
	address string
}

func NewGetPublicTraderInfo(address string) *GetPublicTraderInfo {
	return &GetPublicTraderInfo{address: address}
}

func (r *GetPublicTraderInfo) RequiresSession() bool { return false }
func (r *GetPublicTraderInfo) RequiresLogin() bool   { return false }

func (r *GetPublicTraderInfo) Execute(ctx context.Context, apiCtx APIContext, api ltapi.API, sessionID uuid.UUID, observers Observers) {
	info, err := api.GetPublicTraderInfo(ctx, r.address)
	if err != nil {
		apiCtx.HandleErrors(r, ltapi.CodeOf(err))
		return
	}
	apiCtx.CachePublicTraderInfo(info)
	observers.Broadcast(func(o Observer) {
		if l, ok := o.(TraderInfoListener); ok {
			l.OnPublicTraderInfoFetched(info)
		}
	})
}

// GetTradeSessions 拉取全部交易会话并与本地对账
type GetTradeSessions struct{}

func NewGetTradeSessions() *GetTradeSessions { return &GetTradeSessions{} }

func (r *GetTradeSessions) RequiresSession() bool { return true }
func (r *GetTradeSessions) RequiresLogin() bool   { return true }

func (r *GetTradeSessions) Execute(ctx context.Context, apiCtx APIContext, api ltapi.API, sessionID uuid.UUID, observers Observers) {
	remote, err := api.GetTradeSessions(ctx, sessionID)
	if err != nil {
		apiCtx.HandleErrors(r, ltapi.CodeOf(err))
		return
	}
	syncedAt := apiCtx.Now().UnixMilli()
	if err := apiCtx.UpdateLocalTradeSessions(ctx, remote); err != nil {
		requestLog.Errorf("❌ 交易会话对账失败: %v", err)
		observers.NotifyError(ltapi.ErrorCodeInternal)
		return
	}
	if err := apiCtx.SetLastTraderSynchronization(syncedAt); err != nil {
		requestLog.Warnf("⚠️ 保存同步时间失败: %v", err)
	}
	observers.Broadcast(func(o Observer) {
		if l, ok := o.(TradeSessionsListener); ok {
			l.OnTradeSessionsFetched(remote)
		}
	})
}

// GetTradeSession 拉取单个交易会话并写入本地
type GetTradeSession struct {
	tradeSessionID uuid.UUID
}

func NewGetTradeSession(tradeSessionID uuid.UUID) *GetTradeSession {
	return &GetTradeSession{tradeSessionID: tradeSessionID}
}

func (r *GetTradeSession) RequiresSession() bool { return true }
func (r *GetTradeSession) RequiresLogin() bool   { return true }

func (r *GetTradeSession) Execute(ctx context.Context, apiCtx APIContext, api ltapi.API, sessionID uuid.UUID, observers Observers) {
	ts, err := api.GetTradeSession(ctx, sessionID, r.tradeSessionID)
	if err != nil {
		apiCtx.HandleErrors(r, ltapi.CodeOf(err))
		return
	}
	if err := apiCtx.UpdateSingleTradeSession(ctx, ts); err != nil {
		requestLog.Errorf("❌ 写入交易会话失败: id=%s err=%v", ts.ID, err)
		observers.NotifyError(ltapi.ErrorCodeInternal)
		return
	}
	observers.Broadcast(func(o Observer) {
		if l, ok := o.(TradeSessionsListener); ok {
			l.OnTradeSessionFetched(ts)
		}
	})
}

// CreateSellOrder 挂卖单（可能需要验证码）
type CreateSellOrder struct {
	params ltapi.SellOrderParameters
}

func NewCreateSellOrder(params ltapi.SellOrderParameters) *CreateSellOrder {
	return &CreateSellOrder{params: params}
}

func (r *CreateSellOrder) RequiresSession() bool { return true }
func (r *CreateSellOrder) RequiresLogin() bool   { return true }

func (r *CreateSellOrder) CaptchaCommand() domain.CaptchaCommand {
	return domain.CaptchaCreateSellOrder
}

func (r *CreateSellOrder) Execute(ctx context.Context, apiCtx APIContext, api ltapi.API, sessionID uuid.UUID, observers Observers) {
	id, err := api.CreateSellOrder(ctx, sessionID, r.params)
	if err != nil {
		apiCtx.HandleErrors(r, ltapi.CodeOf(err))
		return
	}
	requestLog.Infof("✅ 卖单已创建: id=%s currency=%s", id, r.params.Currency)
	observers.Broadcast(func(o Observer) {
		if l, ok := o.(SellOrderListener); ok {
			l.OnSellOrderCreated(id)
		}
	})
}

// CreateInstantBuyOrder 对已有卖单发起即时购买（可能需要验证码）
type CreateInstantBuyOrder struct {
	params ltapi.InstantBuyOrderParameters
}

func NewCreateInstantBuyOrder(params ltapi.InstantBuyOrderParameters) *CreateInstantBuyOrder {
	return &CreateInstantBuyOrder{params: params}
}

func (r *CreateInstantBuyOrder) RequiresSession() bool { return true }
func (r *CreateInstantBuyOrder) RequiresLogin() bool   { return true }

func (r *CreateInstantBuyOrder) CaptchaCommand() domain.CaptchaCommand {
	return domain.CaptchaCreateInstantBuyOrder
}

func (r *CreateInstantBuyOrder) Execute(ctx context.Context, apiCtx APIContext, api ltapi.API, sessionID uuid.UUID, observers Observers) {
	id, err := api.CreateInstantBuyOrder(ctx, sessionID, r.params)
	if err != nil {
		apiCtx.HandleErrors(r, ltapi.CodeOf(err))
		return
	}
	requestLog.Infof("✅ 即时买单已创建: tradeSession=%s sellOrder=%s", id, r.params.SellOrderID)
	observers.Broadcast(func(o Observer) {
		if l, ok := o.(InstantBuyOrderListener); ok {
			l.OnInstantBuyOrderCreated(id)
		}
	})
}
