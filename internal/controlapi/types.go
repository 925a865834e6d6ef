package controlapi

import (
	"github.com/google/uuid"

	"github.com/betbot/localtrader/internal/domain"
)

// TraderStatus 本地交易员身份
type TraderStatus struct {
	Address  string `json:"address"`
	Nickname string `json:"nickname"`
}

// SessionStatus 当前会话快照
type SessionStatus struct {
	ID       uuid.UUID               `json:"id"`
	Captcha  []domain.CaptchaCommand `json:"captcha,omitempty"`
	LoggedIn bool                    `json:"logged_in"`
}

// StatusResponse GET /v1/status
type StatusResponse struct {
	Trader               *TraderStatus  `json:"trader,omitempty"`
	Session              *SessionStatus `json:"session,omitempty"`
	QueueLen             int            `json:"queue_len"`
	Subscribers          int            `json:"subscribers"`
	NeedsSynchronization bool           `json:"needs_synchronization"`
	LastSynchronization  int64          `json:"last_synchronization"`
	LastNotification     int64          `json:"last_notification"`
	Disabled             bool           `json:"disabled"`
	BuyCount             int            `json:"buy_count"`
	SellCount            int            `json:"sell_count"`
}

// TradeSessionView 交易会话及其查看状态
type TradeSessionView struct {
	*domain.TradeSession
	Viewed bool `json:"viewed"`
}

// Settings GET/PUT /v1/settings
type Settings struct {
	Location  domain.GpsLocation `json:"location"`
	PlaySound bool               `json:"play_sound"`
	UseMiles  bool               `json:"use_miles"`
	Disabled  bool               `json:"disabled"`
}

// SettingsUpdate PUT /v1/settings，只修改出现的字段
type SettingsUpdate struct {
	Location  *domain.GpsLocation `json:"location,omitempty"`
	PlaySound *bool               `json:"play_sound,omitempty"`
	UseMiles  *bool               `json:"use_miles,omitempty"`
	Disabled  *bool               `json:"disabled,omitempty"`
}
