package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// TraderInfo 服务端返回的交易员资料（本地缓存）
type TraderInfo struct {
	Address         string          `json:"address"`
	Nickname        string          `json:"nickname"`
	PublicKey       string          `json:"publicKey"`
	TradeCount      int             `json:"tradeCount"`
	SuccessfulSales int             `json:"successfulSales"`
	SuccessfulBuys  int             `json:"successfulBuys"`
	Rating          decimal.Decimal `json:"rating"`
	LastChange      int64           `json:"lastChange"`
}

// GpsLocation 用户位置
type GpsLocation struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
	Name      string  `json:"name" yaml:"name"`
}

// LocalTrader 本地交易员身份
// 只有当钱包记录仍持有私钥时该身份才有效
type LocalTrader struct {
	Address  common.Address
	Nickname string
}
