package localtrader

import (
	"context"

	"github.com/sirupsen/logrus"
)

var pushLog = logrus.WithField("component", "lt_push")

const (
	keyPushRegistrationID = "registration_id"
	keyPushAppVersion     = "app_version"
)

// PushRegistrar 推送注册能力（尽力而为）
type PushRegistrar interface {
	RegisterPush(ctx context.Context) (string, error)
}

// InitializePushRegistration 当前版本还没有注册 ID 时在后台申请
func (m *Manager) InitializePushRegistration(ctx context.Context) {
	if m.push == nil {
		return
	}
	if m.pushRegistrationID() != "" {
		return
	}
	m.pushWG.Add(1)
	go func() {
		defer m.pushWG.Done()
		id, err := m.push.RegisterPush(ctx)
		if err != nil {
			pushLog.Warnf("⚠️ 获取推送注册 ID 失败: %v", err)
			return
		}
		m.storePushRegistrationID(id)
	}()
}

// pushRegistrationID 已保存的注册 ID；客户端版本变化后视为失效
func (m *Manager) pushRegistrationID() string {
	id := m.pushPrefs.GetString(keyPushRegistrationID, "")
	if id == "" {
		return ""
	}
	if v := m.pushPrefs.GetInt64(keyPushAppVersion, -1); v != int64(m.appVersion) {
		pushLog.Infof("客户端版本已变化，推送注册 ID 失效: stored=%d current=%d", v, m.appVersion)
		return ""
	}
	return id
}

func (m *Manager) storePushRegistrationID(id string) {
	err := m.pushPrefs.Edit().
		PutString(keyPushRegistrationID, id).
		PutInt64(keyPushAppVersion, int64(m.appVersion)).
		Commit()
	if err != nil {
		pushLog.Warnf("⚠️ 保存推送注册 ID 失败: %v", err)
		return
	}
	pushLog.Infof("✅ 推送注册 ID 已保存 (appVersion=%d)", m.appVersion)
}
