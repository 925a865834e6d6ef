package main

import (
	"github.com/sirupsen/logrus"

	"github.com/betbot/localtrader/internal/domain"
	"github.com/betbot/localtrader/internal/localtrader"
	"github.com/betbot/localtrader/pkg/ltapi"
)

var eventLog = logrus.WithField("component", "lt_events")

// daemonObserver 把管理器事件写入日志，并在交易员活动时触发一次同步
type daemonObserver struct {
	mgr        *localtrader.Manager
	dispatcher *localtrader.SerialDispatcher
}

var (
	_ localtrader.Observer              = (*daemonObserver)(nil)
	_ localtrader.TradeSessionsListener = (*daemonObserver)(nil)
	_ localtrader.TraderInfoListener    = (*daemonObserver)(nil)
)

func newDaemonObserver(mgr *localtrader.Manager, buffer int) *daemonObserver {
	return &daemonObserver{mgr: mgr, dispatcher: localtrader.NewSerialDispatcher(buffer)}
}

func (o *daemonObserver) Dispatcher() localtrader.Dispatcher { return o.dispatcher }

func (o *daemonObserver) OnNoConnection() bool {
	eventLog.Warnf("⚠️ 无法连接交易服务器")
	return true
}

func (o *daemonObserver) OnIncompatibleVersion() bool {
	eventLog.Errorf("❌ 客户端版本与服务器不兼容，请升级")
	return true
}

func (o *daemonObserver) OnNoTraderAccount() bool {
	eventLog.Warnf("⚠️ 服务器上不存在本地交易员，本地身份已清除")
	return true
}

func (o *daemonObserver) OnError(code ltapi.ErrorCode) {
	eventLog.Errorf("❌ 请求失败: code=%s", code)
}

// OnTraderActivity 服务端报告新活动：排队同步，并按水位决定是否提示
func (o *daemonObserver) OnTraderActivity(timestamp int64) {
	if !o.mgr.AreNotificationsEnabled() {
		return
	}
	eventLog.Infof("🔔 交易员有新活动: ts=%d", timestamp)
	if o.mgr.PlaySoundOnTradeNotification() && timestamp > o.mgr.LastNotificationSoundTimestamp() {
		o.mgr.SetLastNotificationSoundTimestamp(timestamp)
		eventLog.Infof("🔊 新交易通知")
	}
	if err := o.mgr.MakeRequest(localtrader.NewGetTradeSessions()); err != nil {
		eventLog.Warnf("⚠️ 排队同步失败: %v", err)
	}
}

func (o *daemonObserver) OnTradeSessionsFetched(sessions []*domain.TradeSession) {
	eventLog.Infof("📥 交易会话已同步: count=%d", len(sessions))
}

func (o *daemonObserver) OnTradeSessionFetched(session *domain.TradeSession) {
	eventLog.Infof("📥 交易会话已更新: id=%s status=%s", session.ID, session.Status)
}

func (o *daemonObserver) OnTraderInfoFetched(info *domain.TraderInfo) {
	eventLog.Infof("👤 交易员资料: nickname=%s trades=%d", info.Nickname, info.TradeCount)
}

func (o *daemonObserver) OnPublicTraderInfoFetched(info *domain.TraderInfo) {
	eventLog.Debugf("公开资料: address=%s nickname=%s", info.Address, info.Nickname)
}
