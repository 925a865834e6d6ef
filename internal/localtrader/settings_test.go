package localtrader

import (
	"context"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/localtrader/internal/domain"
	"github.com/betbot/localtrader/pkg/prefs"
)

func TestSettings_DefaultsAndReload(t *testing.T) {
	def := domain.GpsLocation{Latitude: 47.37, Longitude: 8.54, Name: "Zurich"}
	env := newTestEnv(t, func(o *Options) { o.DefaultLocation = def })

	assert.Equal(t, def, env.m.Location())
	assert.True(t, env.m.PlaySoundOnTradeNotification())
	assert.False(t, env.m.UseMiles())
	assert.False(t, env.m.IsLocalTraderDisabled())
	assert.True(t, env.m.AreNotificationsEnabled())

	loc := domain.GpsLocation{Latitude: 52.52, Longitude: 13.405, Name: "Berlin"}
	require.NoError(t, env.m.SetLocation(loc))
	require.NoError(t, env.m.SetUseMiles(true))
	require.NoError(t, env.m.SetPlaySoundOnTradeNotification(false))
	require.NoError(t, env.m.SetLocalTraderDisabled(true))
	require.NoError(t, env.m.SetLastTraderSynchronization(99))

	reloaded := loadSettings(env.prefs, def)
	assert.Equal(t, loc, reloaded.location)
	assert.True(t, reloaded.useMiles)
	assert.False(t, reloaded.playSound)
	assert.True(t, reloaded.disabled)
	assert.EqualValues(t, 99, reloaded.lastSync)
}

func TestSettings_FailedCommitLeavesMemoryUnchanged(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.Prefs = failingPrefs{Preferences: prefs.NewMemory()} })

	assert.ErrorIs(t, env.m.SetUseMiles(true), errCommit)
	assert.False(t, env.m.UseMiles())

	assert.ErrorIs(t, env.m.SetLocation(domain.GpsLocation{Latitude: 1, Longitude: 2}), errCommit)
	assert.Zero(t, env.m.Location().Latitude)

	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	assert.ErrorIs(t, env.m.SetLocalTraderData(addr, "bob"), errCommit)
	_, ok := env.m.LocalTraderAddress()
	assert.False(t, ok)

	assert.False(t, env.m.SetLastTraderNotification(10))
	assert.Zero(t, env.m.LastTraderNotification())
}

func TestSetLastTraderNotification_Watermark(t *testing.T) {
	env := newTestEnv(t)
	obs := newRecordingObserver(t, true)
	env.m.Subscribe(obs)
	require.NoError(t, env.m.SetLastTraderSynchronization(100))

	// 未越过同步时间：更新但不通知
	assert.True(t, env.m.SetLastTraderNotification(50))
	assert.False(t, env.m.NeedsSynchronization())
	obs.expectNone(t)

	// 不大于当前水位：拒绝
	assert.False(t, env.m.SetLastTraderNotification(50))
	assert.False(t, env.m.SetLastTraderNotification(10))
	assert.EqualValues(t, 50, env.m.LastTraderNotification())

	// 越过同步时间：恰好一次通知
	assert.True(t, env.m.SetLastTraderNotification(150))
	assert.True(t, env.m.NeedsSynchronization())
	obs.expect(t, "activity:150")
	obs.expectNone(t)
	assert.EqualValues(t, 150, env.prefs.GetInt64(keyLastNotification, 0))

	// 仍未同步时继续推进不重复通知
	assert.True(t, env.m.SetLastTraderNotification(160))
	obs.expectNone(t)

	// 同步后再次越过才通知
	require.NoError(t, env.m.SetLastTraderSynchronization(200))
	assert.False(t, env.m.NeedsSynchronization())
	assert.True(t, env.m.SetLastTraderNotification(250))
	obs.expect(t, "activity:250")
}

func TestHasLocalTraderIdentity_LazyInvalidation(t *testing.T) {
	env := newTestEnv(t)
	assert.False(t, env.m.HasLocalTraderIdentity())

	_, addr := env.withTrader(t)
	assert.True(t, env.m.HasLocalTraderIdentity())
	lt, ok := env.m.LocalTrader()
	require.True(t, ok)
	assert.Equal(t, addr, lt.Address)
	assert.Equal(t, "alice", lt.Nickname)

	env.wallet.remove(addr)
	assert.False(t, env.m.HasLocalTraderIdentity())
	_, ok = env.m.LocalTraderAddress()
	assert.False(t, ok)
	assert.Empty(t, env.m.LocalTraderNickname())
	assert.False(t, env.prefs.Contains(keyAddress))
}

func TestHasLocalTraderIdentity_ReplacedDuringLookupIsKept(t *testing.T) {
	env := newTestEnv(t)
	_, stale := env.withTrader(t)
	env.wallet.remove(stale)

	_, fresh := env.wallet.add(t)
	id := uuid.New()
	var once sync.Once
	env.wallet.mu.Lock()
	env.wallet.onLookup = func(address common.Address) {
		if address != stale {
			return
		}
		once.Do(func() {
			require.NoError(t, env.m.SetLocalTraderData(fresh, "bob"))
			require.NoError(t, env.m.UpdateSingleTradeSession(context.Background(), trade(id, 100)))
		})
	}
	env.wallet.mu.Unlock()

	assert.True(t, env.m.HasLocalTraderIdentity())
	got, ok := env.m.LocalTraderAddress()
	require.True(t, ok)
	assert.Equal(t, fresh, got)
	assert.Equal(t, "bob", env.m.LocalTraderNickname())
	n, err := env.m.CountLocalTradeSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHasLocalTraderIdentity_LookupErrorKeepsIdentity(t *testing.T) {
	env := newTestEnv(t)
	env.withTrader(t)
	env.wallet.err = assert.AnError

	assert.False(t, env.m.HasLocalTraderIdentity())
	_, ok := env.m.LocalTraderAddress()
	assert.True(t, ok, "a failed lookup is not a missing key")
}

func TestSetLocalTraderData_ClearsSession(t *testing.T) {
	env := newTestEnv(t)
	env.m.stateMu.Lock()
	env.m.session = &domain.Session{}
	env.m.loggedIn = true
	env.m.stateMu.Unlock()

	_, addr := env.wallet.add(t)
	require.NoError(t, env.m.SetLocalTraderData(addr, "carol"))

	session, loggedIn := env.m.SessionSnapshot()
	assert.Nil(t, session)
	assert.False(t, loggedIn)
	assert.Equal(t, addr.Hex(), env.prefs.GetString(keyAddress, ""))
	assert.ErrorIs(t, env.m.SetLocalTraderData(addr, " "), ErrInvalidOperation)
}

func TestNotificationSoundWatermark(t *testing.T) {
	env := newTestEnv(t)
	env.m.SetLastNotificationSoundTimestamp(10)
	env.m.SetLastNotificationSoundTimestamp(5)
	assert.EqualValues(t, 10, env.m.LastNotificationSoundTimestamp())

	env.m.EnableNotifications(false)
	assert.False(t, env.m.AreNotificationsEnabled())
}
