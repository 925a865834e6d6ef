// Package ltapi 是本地交易服务远端 API 的客户端
package ltapi

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/betbot/localtrader/internal/domain"
)

// Version 客户端协议版本，服务端不兼容时返回 INCOMPATIBLE_API_VERSION
const Version = 13

// API 远端 API 能力
// 所有方法失败时返回 *Error（或可被 CodeOf 识别的错误）
type API interface {
	CreateSession(ctx context.Context, version int, locale, denomination string) (*domain.Session, error)
	TraderLogin(ctx context.Context, sessionID uuid.UUID, params LoginParameters) error
	CreateTrader(ctx context.Context, sessionID uuid.UUID, params CreateTraderParameters) error
	GetTraderInfo(ctx context.Context, sessionID uuid.UUID) (*domain.TraderInfo, error)
	GetPublicTraderInfo(ctx context.Context, address string) (*domain.TraderInfo, error)
	GetTradeSessions(ctx context.Context, sessionID uuid.UUID) ([]*domain.TradeSession, error)
	GetTradeSession(ctx context.Context, sessionID, tradeSessionID uuid.UUID) (*domain.TradeSession, error)
	CreateSellOrder(ctx context.Context, sessionID uuid.UUID, params SellOrderParameters) (uuid.UUID, error)
	CreateInstantBuyOrder(ctx context.Context, sessionID uuid.UUID, params InstantBuyOrderParameters) (uuid.UUID, error)
}

// CreateSessionParameters 创建会话参数
type CreateSessionParameters struct {
	Version      int    `json:"version"`
	Locale       string `json:"locale"`
	Denomination string `json:"denomination"`
}

// LoginParameters 登录参数
// Signature 是对当前会话 ID 的签名，会话一旦更换旧签名即失效
type LoginParameters struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
	PushID    string `json:"pushId,omitempty"`
}

// CreateTraderParameters 注册交易员参数
type CreateTraderParameters struct {
	Address   string `json:"address"`
	Nickname  string `json:"nickname"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
}

// SellOrderParameters 挂卖单参数
type SellOrderParameters struct {
	Location        domain.GpsLocation `json:"location"`
	Currency        string             `json:"currency"`
	MinimumFiat     decimal.Decimal    `json:"minimumFiat"`
	MaximumFiat     decimal.Decimal    `json:"maximumFiat"`
	PriceFormulaID  string             `json:"priceFormulaId"`
	Premium         decimal.Decimal    `json:"premium"`
	Description     string             `json:"description,omitempty"`
	CaptchaSolution string             `json:"captchaSolution,omitempty"`
}

// InstantBuyOrderParameters 即时买单参数
type InstantBuyOrderParameters struct {
	SellOrderID     uuid.UUID       `json:"sellOrderId"`
	FiatOffered     decimal.Decimal `json:"fiatOffered"`
	Address         string          `json:"address"`
	CaptchaSolution string          `json:"captchaSolution,omitempty"`
}

type idResult struct {
	ID uuid.UUID `json:"id"`
}
