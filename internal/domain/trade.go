package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TradeSession 交易会话领域模型
// 一次买卖双方之间的交易过程（进行中或已结束），由服务端同步到本地
// 身份只看 ID：对账时同 ID 即视为同一条记录，不做全字段比较
type TradeSession struct {
	ID             uuid.UUID       `json:"id"`
	LastChange     int64           `json:"lastChange"`   // 最后变更时间（unix 毫秒），单调不减
	CreationTime   int64           `json:"creationTime"` // 创建时间（unix 毫秒）
	IsBuyer        bool            `json:"isBuyer"`      // 本地交易员是否为买方
	OwnerID        string          `json:"ownerId"`
	OwnerName      string          `json:"ownerName"`
	PeerID         string          `json:"peerId"`
	PeerName       string          `json:"peerName"`
	Currency       string          `json:"currency"`   // 法币代码，例如 EUR
	FiatTraded     decimal.Decimal `json:"fiatTraded"` // 成交法币金额
	PriceFormulaID string          `json:"priceFormulaId"`
	Premium        decimal.Decimal `json:"premium"`  // 溢价百分比
	Satoshis       int64           `json:"satoshis"` // 成交的比特币数量（聪）
	Status         string          `json:"status"`
	IsOpen         bool            `json:"isOpen"`
}

// Key 返回交易会话的唯一键（用于去重）
func (t *TradeSession) Key() uuid.UUID {
	return t.ID
}

// Kind 返回买/卖方向
func (t *TradeSession) Kind() TradeKind {
	if t.IsBuyer {
		return TradeKindBuy
	}
	return TradeKindSell
}

// LastChangeTime 以 time.Time 形式返回最后变更时间
func (t *TradeSession) LastChangeTime() time.Time {
	return time.UnixMilli(t.LastChange)
}

// NewerThan 判断 t 是否比 other 更新（严格大于）
func (t *TradeSession) NewerThan(other *TradeSession) bool {
	if other == nil {
		return true
	}
	return t.LastChange > other.LastChange
}

// TradeKind 交易方向（本地交易员视角）
type TradeKind string

const (
	TradeKindBuy  TradeKind = "buy"
	TradeKindSell TradeKind = "sell"
)

// ParseTradeKind 解析交易方向，未知值返回 false
func ParseTradeKind(s string) (TradeKind, bool) {
	switch TradeKind(s) {
	case TradeKindBuy:
		return TradeKindBuy, true
	case TradeKindSell:
		return TradeKindSell, true
	}
	return "", false
}
