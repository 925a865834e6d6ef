package localtrader

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/betbot/localtrader/internal/domain"
	"github.com/betbot/localtrader/pkg/prefs"
)

var settingsLog = logrus.WithField("component", "lt_settings")

const (
	keyAddress          = "local_trader_address"
	keyNickname         = "local_trader_nickname"
	keyLatitude         = "local_trader_latitude"
	keyLongitude        = "local_trader_longitude"
	keyLocationName     = "local_trader_location_name"
	keyPlaySound        = "local_trader_play_sound_on_trade_notification"
	keyUseMiles         = "local_trader_use_miles"
	keyDisabled         = "local_trader_disabled"
	keyLastSync         = "local_trader_last_trader_synchronization"
	keyLastNotification = "local_trader_last_trader_notification"
)

// settings 偏好存储的内存镜像，由 Manager.settingsMu 保护
type settings struct {
	traderAddress    string
	nickname         string
	location         domain.GpsLocation
	playSound        bool
	useMiles         bool
	disabled         bool
	lastSync         int64
	lastNotification int64

	// 仅内存
	notificationsEnabled  bool
	lastNotificationSound int64
}

func loadSettings(p prefs.Preferences, defaultLocation domain.GpsLocation) settings {
	s := settings{
		traderAddress: p.GetString(keyAddress, ""),
		nickname:      p.GetString(keyNickname, ""),
		location: domain.GpsLocation{
			Latitude:  p.GetFloat64(keyLatitude, defaultLocation.Latitude),
			Longitude: p.GetFloat64(keyLongitude, defaultLocation.Longitude),
			Name:      p.GetString(keyLocationName, defaultLocation.Name),
		},
		playSound:            p.GetBool(keyPlaySound, true),
		useMiles:             p.GetBool(keyUseMiles, false),
		disabled:             p.GetBool(keyDisabled, false),
		lastSync:             p.GetInt64(keyLastSync, 0),
		lastNotification:     p.GetInt64(keyLastNotification, 0),
		notificationsEnabled: true,
	}
	if s.traderAddress != "" && !common.IsHexAddress(s.traderAddress) {
		settingsLog.Warnf("⚠️ 偏好中的交易员地址无效，忽略: %q", s.traderAddress)
		s.traderAddress = ""
		s.nickname = ""
	}
	return s
}

func (s *settings) address() (common.Address, bool) {
	if s.traderAddress == "" {
		return common.Address{}, false
	}
	return common.HexToAddress(s.traderAddress), true
}

func (s *settings) needsSynchronization() bool {
	return s.lastSync < s.lastNotification
}

// LocalTraderAddress 已保存的交易员地址（不校验私钥）
func (m *Manager) LocalTraderAddress() (common.Address, bool) {
	m.settingsMu.Lock()
	defer m.settingsMu.Unlock()
	return m.settings.address()
}

// LocalTraderNickname 已保存的交易员昵称
func (m *Manager) LocalTraderNickname() string {
	m.settingsMu.Lock()
	defer m.settingsMu.Unlock()
	return m.settings.nickname
}

// LocalTrader 返回本地交易员身份；仅在私钥仍可解析时有效
func (m *Manager) LocalTrader() (domain.LocalTrader, bool) {
	if !m.HasLocalTraderIdentity() {
		return domain.LocalTrader{}, false
	}
	m.settingsMu.Lock()
	defer m.settingsMu.Unlock()
	addr, ok := m.settings.address()
	if !ok {
		return domain.LocalTrader{}, false
	}
	return domain.LocalTrader{Address: addr, Nickname: m.settings.nickname}, true
}

// HasLocalTraderIdentity 已保存地址且钱包中仍持有对应私钥
// 私钥已不存在时清除本地身份（包括本地交易会话）
func (m *Manager) HasLocalTraderIdentity() bool {
	// 查询钱包期间身份可能被替换：只清除查询时的那个地址，替换后的新身份再检查一次
	for attempt := 0; attempt < 2; attempt++ {
		address, ok := m.LocalTraderAddress()
		if !ok {
			return false
		}
		key, err := m.wallet.PrivateKey(address)
		if err != nil {
			// 读取失败不代表私钥消失，不做清理
			settingsLog.Warnf("⚠️ 查询钱包记录失败: address=%s err=%v", address.Hex(), err)
			return false
		}
		if key != nil {
			return true
		}
		cleared, err := m.unsetLocalTraderAccountIf(address)
		if err != nil {
			settingsLog.Errorf("❌ 清除本地身份失败: %v", err)
			return false
		}
		if cleared {
			settingsLog.Warnf("⚠️ 钱包中已没有交易员私钥，已清除本地身份: address=%s", address.Hex())
			return false
		}
	}
	return false
}

// SetLocalTraderData 保存交易员地址与昵称（作为一个整体），并清除当前会话
func (m *Manager) SetLocalTraderData(address common.Address, nickname string) error {
	if strings.TrimSpace(nickname) == "" {
		return fmt.Errorf("%w: 昵称不能为空", ErrInvalidOperation)
	}
	m.settingsMu.Lock()
	err := m.prefs.Edit().
		PutString(keyAddress, address.Hex()).
		PutString(keyNickname, nickname).
		Commit()
	if err == nil {
		m.settings.traderAddress = address.Hex()
		m.settings.nickname = nickname
	}
	m.settingsMu.Unlock()
	if err != nil {
		return fmt.Errorf("保存本地交易员失败: %w", err)
	}

	m.clearSession()
	settingsLog.Infof("✅ 本地交易员已设置: address=%s nickname=%s", address.Hex(), nickname)
	return nil
}

// UnsetLocalTraderAccount 清除本地交易员：会话、身份、同步时间以及全部本地交易会话
func (m *Manager) UnsetLocalTraderAccount() error {
	_, err := m.unsetLocalTraderAccount(nil)
	return err
}

// unsetLocalTraderAccountIf 仅当保存的地址仍是 address 时清除；返回是否清除
func (m *Manager) unsetLocalTraderAccountIf(address common.Address) (bool, error) {
	return m.unsetLocalTraderAccount(&address)
}

func (m *Manager) unsetLocalTraderAccount(expected *common.Address) (bool, error) {
	m.settingsMu.Lock()
	if expected != nil {
		if cur, ok := m.settings.address(); !ok || cur != *expected {
			m.settingsMu.Unlock()
			return false, nil
		}
	}
	err := m.prefs.Edit().
		Remove(keyAddress).
		Remove(keyNickname).
		PutInt64(keyLastSync, 0).
		Commit()
	if err == nil {
		m.settings.traderAddress = ""
		m.settings.nickname = ""
		m.settings.lastSync = 0
	}
	m.settingsMu.Unlock()

	m.clearSession()
	if err != nil {
		return false, fmt.Errorf("清除本地交易员偏好失败: %w", err)
	}

	m.traderInfo.Delete(cacheKeySelf)

	m.storeMu.Lock()
	err = m.db.DeleteAll(context.Background())
	m.storeMu.Unlock()
	if err != nil {
		return true, fmt.Errorf("清空本地交易会话失败: %w", err)
	}
	settingsLog.Infof("🧹 本地交易员已清除")
	return true, nil
}

// Location 用户位置
func (m *Manager) Location() domain.GpsLocation {
	m.settingsMu.Lock()
	defer m.settingsMu.Unlock()
	return m.settings.location
}

func (m *Manager) SetLocation(loc domain.GpsLocation) error {
	m.settingsMu.Lock()
	defer m.settingsMu.Unlock()
	err := m.prefs.Edit().
		PutFloat64(keyLatitude, loc.Latitude).
		PutFloat64(keyLongitude, loc.Longitude).
		PutString(keyLocationName, loc.Name).
		Commit()
	if err != nil {
		return fmt.Errorf("保存位置失败: %w", err)
	}
	m.settings.location = loc
	return nil
}

func (m *Manager) PlaySoundOnTradeNotification() bool {
	m.settingsMu.Lock()
	defer m.settingsMu.Unlock()
	return m.settings.playSound
}

func (m *Manager) SetPlaySoundOnTradeNotification(enabled bool) error {
	return m.putBool(keyPlaySound, enabled, &m.settings.playSound)
}

func (m *Manager) UseMiles() bool {
	m.settingsMu.Lock()
	defer m.settingsMu.Unlock()
	return m.settings.useMiles
}

func (m *Manager) SetUseMiles(enabled bool) error {
	return m.putBool(keyUseMiles, enabled, &m.settings.useMiles)
}

func (m *Manager) IsLocalTraderDisabled() bool {
	m.settingsMu.Lock()
	defer m.settingsMu.Unlock()
	return m.settings.disabled
}

func (m *Manager) SetLocalTraderDisabled(disabled bool) error {
	return m.putBool(keyDisabled, disabled, &m.settings.disabled)
}

// putBool 先提交再更新内存；field 必须指向 m.settings 的字段
func (m *Manager) putBool(key string, value bool, field *bool) error {
	m.settingsMu.Lock()
	defer m.settingsMu.Unlock()
	if err := m.prefs.Edit().PutBool(key, value).Commit(); err != nil {
		return fmt.Errorf("保存偏好 %s 失败: %w", key, err)
	}
	*field = value
	return nil
}

func (m *Manager) LastTraderSynchronization() int64 {
	m.settingsMu.Lock()
	defer m.settingsMu.Unlock()
	return m.settings.lastSync
}

func (m *Manager) SetLastTraderSynchronization(timestamp int64) error {
	m.settingsMu.Lock()
	defer m.settingsMu.Unlock()
	if err := m.prefs.Edit().PutInt64(keyLastSync, timestamp).Commit(); err != nil {
		return fmt.Errorf("保存同步时间失败: %w", err)
	}
	m.settings.lastSync = timestamp
	return nil
}

func (m *Manager) LastTraderNotification() int64 {
	m.settingsMu.Lock()
	defer m.settingsMu.Unlock()
	return m.settings.lastNotification
}

// SetLastTraderNotification 单调水位：timestamp 不大于当前值时返回 false 且无副作用
// 更新使 NeedsSynchronization 由 false 变为 true 时通知一次交易员活动
func (m *Manager) SetLastTraderNotification(timestamp int64) bool {
	m.settingsMu.Lock()
	if timestamp <= m.settings.lastNotification {
		m.settingsMu.Unlock()
		return false
	}
	if err := m.prefs.Edit().PutInt64(keyLastNotification, timestamp).Commit(); err != nil {
		m.settingsMu.Unlock()
		settingsLog.Errorf("❌ 保存通知时间失败: %v", err)
		return false
	}
	wasNeeded := m.settings.needsSynchronization()
	m.settings.lastNotification = timestamp
	nowNeeded := m.settings.needsSynchronization()
	m.settingsMu.Unlock()

	settingsLog.Infof("🔔 交易员通知时间更新: %d", timestamp)
	if nowNeeded && !wasNeeded {
		m.observers.NotifyTraderActivity(timestamp)
	}
	return true
}

// NeedsSynchronization 服务端是否报告了比本地更新的交易员数据
func (m *Manager) NeedsSynchronization() bool {
	m.settingsMu.Lock()
	defer m.settingsMu.Unlock()
	return m.settings.needsSynchronization()
}

// SetLastNotificationSoundTimestamp 仅内存的单调水位，用于避免重复播放提示音
func (m *Manager) SetLastNotificationSoundTimestamp(timestamp int64) {
	m.settingsMu.Lock()
	defer m.settingsMu.Unlock()
	if timestamp > m.settings.lastNotificationSound {
		m.settings.lastNotificationSound = timestamp
	}
}

func (m *Manager) LastNotificationSoundTimestamp() int64 {
	m.settingsMu.Lock()
	defer m.settingsMu.Unlock()
	return m.settings.lastNotificationSound
}

func (m *Manager) EnableNotifications(enabled bool) {
	m.settingsMu.Lock()
	defer m.settingsMu.Unlock()
	m.settings.notificationsEnabled = enabled
}

func (m *Manager) AreNotificationsEnabled() bool {
	m.settingsMu.Lock()
	defer m.settingsMu.Unlock()
	return m.settings.notificationsEnabled
}
