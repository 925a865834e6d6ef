package localtrader

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/localtrader/internal/domain"
	"github.com/betbot/localtrader/pkg/ltapi"
)

func TestExecutor_FIFOAndSerial(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)

	var (
		mu       sync.Mutex
		order    []int
		inflight int32
		maxSeen  int32
	)
	const n = 40
	for i := 0; i < n; i++ {
		r := newFakeRequest(false, false)
		r.exec = func(ctx context.Context, apiCtx APIContext, sessionID uuid.UUID, observers Observers) {
			cur := atomic.AddInt32(&inflight, 1)
			for {
				prev := atomic.LoadInt32(&maxSeen)
				if cur <= prev || atomic.CompareAndSwapInt32(&maxSeen, prev, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			atomic.AddInt32(&inflight, -1)
		}
		require.NoError(t, env.m.MakeRequest(r))
	}
	barrier(t, env.m)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, n)
	for i := range order {
		assert.Equal(t, i, order[i])
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&maxSeen))
}

func TestMakeRequest_LoginWithoutIdentityIsRejected(t *testing.T) {
	env := newTestEnv(t)

	err := env.m.MakeRequest(newFakeRequest(true, true))
	require.ErrorIs(t, err, ErrInvalidOperation)
	assert.Zero(t, env.m.QueueLen())

	// 不需要登录的请求可以入队
	require.NoError(t, env.m.MakeRequest(newFakeRequest(true, false)))
	assert.Equal(t, 1, env.m.QueueLen())
}

func TestExecutor_RenewsSessionAndLogsIn(t *testing.T) {
	env := newTestEnv(t)
	_, addr := env.withTrader(t)
	env.start(t)

	r := newFakeRequest(true, true)
	require.NoError(t, env.m.MakeRequest(r))
	sid := r.waitExecuted(t)

	require.Equal(t, 1, env.api.sessionCount())
	require.Equal(t, 1, env.api.loginCount())
	assert.Equal(t, env.api.sessionIDs[0], sid)
	assert.Equal(t, sid, env.api.loginSession[0])
	assert.Equal(t, addr.Hex(), env.api.logins[0].Address)

	signer, err := ltapi.RecoverSessionIDSigner(sid, env.api.logins[0].Signature)
	require.NoError(t, err)
	assert.Equal(t, addr, signer)

	session, loggedIn := env.m.SessionSnapshot()
	require.NotNil(t, session)
	assert.Equal(t, sid, session.ID)
	assert.True(t, loggedIn)

	// 第二个请求复用会话，不再登录
	r2 := newFakeRequest(true, true)
	require.NoError(t, env.m.MakeRequest(r2))
	assert.Equal(t, sid, r2.waitExecuted(t))
	assert.Equal(t, 1, env.api.sessionCount())
	assert.Equal(t, 1, env.api.loginCount())
}

func TestExecutor_SessionOnlyRequestSkipsLogin(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)

	r := newFakeRequest(true, false)
	require.NoError(t, env.m.MakeRequest(r))
	sid := r.waitExecuted(t)
	assert.NotEqual(t, uuid.Nil, sid)
	assert.Zero(t, env.api.loginCount())

	// 不需要会话的请求不会触发续期
	r2 := newFakeRequest(false, false)
	require.NoError(t, env.m.MakeRequest(r2))
	r2.waitExecuted(t)
	assert.Equal(t, 1, env.api.sessionCount())
}

func TestExecutor_RenewFailureAbandonsRequest(t *testing.T) {
	env := newTestEnv(t)
	env.api.createSessionErrs = []error{ltapi.NewError(ltapi.ErrorCodeNoServerConnection, "down")}
	obs := newRecordingObserver(t, true)
	env.m.Subscribe(obs)
	env.start(t)

	r := newFakeRequest(true, false)
	require.NoError(t, env.m.MakeRequest(r))
	obs.expect(t, "no_connection")
	barrier(t, env.m)

	assert.Empty(t, r.executions())
}

func TestExecutor_InvalidSessionRetriesOnceWithNewSession(t *testing.T) {
	env := newTestEnv(t)
	env.withTrader(t)
	env.start(t)

	var calls int32
	r := newFakeRequest(true, true)
	r.exec = func(ctx context.Context, apiCtx APIContext, sessionID uuid.UUID, observers Observers) {
		if atomic.AddInt32(&calls, 1) == 1 {
			apiCtx.HandleErrors(r, ltapi.ErrorCodeInvalidSession)
		}
	}
	require.NoError(t, env.m.MakeRequest(r))
	first := r.waitExecuted(t)
	second := r.waitExecuted(t)
	barrier(t, env.m)

	assert.Len(t, r.executions(), 2)
	assert.NotEqual(t, first, second, "retry must run on the renewed session")
	assert.Equal(t, 2, env.api.sessionCount())
	assert.Equal(t, 2, env.api.loginCount())
	assert.Equal(t, second, env.api.loginSession[1])
}

func TestExecutor_InvalidSessionRetrySkipsLoginForSessionOnlyRequest(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	obs := newRecordingObserver(t, true)
	env.m.Subscribe(obs)

	var calls int32
	r := newFakeRequest(true, false)
	r.exec = func(ctx context.Context, apiCtx APIContext, sessionID uuid.UUID, observers Observers) {
		if atomic.AddInt32(&calls, 1) == 1 {
			apiCtx.HandleErrors(r, ltapi.ErrorCodeInvalidSession)
		}
	}
	require.NoError(t, env.m.MakeRequest(r))
	first := r.waitExecuted(t)
	second := r.waitExecuted(t)
	barrier(t, env.m)

	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, env.api.sessionCount())
	assert.Zero(t, env.api.loginCount(), "no identity, so no login attempt")
	obs.expectNone(t)
}

func TestExecutor_InvalidSessionRetriesAreBounded(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.MaxSessionRetries = 2 })
	env.withTrader(t)
	obs := newRecordingObserver(t, false)
	env.m.Subscribe(obs)
	env.start(t)

	r := newFakeRequest(true, true)
	r.exec = func(ctx context.Context, apiCtx APIContext, sessionID uuid.UUID, observers Observers) {
		apiCtx.HandleErrors(r, ltapi.ErrorCodeInvalidSession)
	}
	require.NoError(t, env.m.MakeRequest(r))
	obs.expect(t, "error:INVALID_SESSION")
	barrier(t, env.m)

	assert.Len(t, r.executions(), 3, "first run plus two retries")
	session, loggedIn := env.m.SessionSnapshot()
	assert.Nil(t, session)
	assert.False(t, loggedIn)
}

func TestLogin_InvalidSessionRenewsAndRetriesOnce(t *testing.T) {
	env := newTestEnv(t)
	env.withTrader(t)
	env.api.loginErrs = []error{ltapi.NewError(ltapi.ErrorCodeInvalidSession, "expired")}
	env.start(t)

	r := newFakeRequest(true, true)
	require.NoError(t, env.m.MakeRequest(r))
	sid := r.waitExecuted(t)

	assert.Equal(t, 2, env.api.sessionCount())
	assert.Equal(t, 2, env.api.loginCount())
	assert.Equal(t, env.api.sessionIDs[1], sid)
	assert.NotEqual(t, env.api.logins[0].Signature, env.api.logins[1].Signature)
}

func TestLogin_RepeatedInvalidSessionGivesUp(t *testing.T) {
	env := newTestEnv(t)
	env.withTrader(t)
	invalid := ltapi.NewError(ltapi.ErrorCodeInvalidSession, "expired")
	env.api.loginErrs = []error{invalid, invalid}
	obs := newRecordingObserver(t, false)
	env.m.Subscribe(obs)
	env.start(t)

	r := newFakeRequest(true, true)
	require.NoError(t, env.m.MakeRequest(r))
	obs.expect(t, "error:INVALID_SESSION")
	barrier(t, env.m)

	assert.Empty(t, r.executions())
	assert.Equal(t, 2, env.api.loginCount())
}

func TestLogin_WithoutSessionPanics(t *testing.T) {
	env := newTestEnv(t)
	env.withTrader(t)
	assert.Panics(t, func() { env.m.login(context.Background()) })
}

func TestLogin_MissingKeyReportsTraderDoesNotExist(t *testing.T) {
	env := newTestEnv(t)
	_, addr := env.withTrader(t)
	obs := newRecordingObserver(t, true)
	env.m.Subscribe(obs)

	r := newFakeRequest(true, true)
	require.NoError(t, env.m.MakeRequest(r))
	// 入队后、执行前私钥消失
	env.wallet.remove(addr)
	env.start(t)
	obs.expect(t, "no_trader")
	barrier(t, env.m)

	assert.Empty(t, r.executions())
	_, ok := env.m.LocalTraderAddress()
	assert.False(t, ok)
}

func TestHandleErrors_TraderDoesNotExistWipesLocalState(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.withTrader(t)
	obs := newRecordingObserver(t, false)
	env.m.Subscribe(obs)

	require.NoError(t, env.m.UpdateSingleTradeSession(ctx, trade(uuid.New(), 1)))
	require.NoError(t, env.m.UpdateSingleTradeSession(ctx, trade(uuid.New(), 2)))
	require.NoError(t, env.m.SetLastTraderSynchronization(1234))
	env.m.stateMu.Lock()
	env.m.session = &domain.Session{ID: uuid.New()}
	env.m.loggedIn = true
	env.m.stateMu.Unlock()

	env.m.HandleErrors(nil, ltapi.ErrorCodeTraderDoesNotExist)

	session, loggedIn := env.m.SessionSnapshot()
	assert.Nil(t, session)
	assert.False(t, loggedIn)
	_, ok := env.m.LocalTraderAddress()
	assert.False(t, ok)
	assert.False(t, env.prefs.Contains(keyAddress))
	assert.False(t, env.prefs.Contains(keyNickname))
	assert.Zero(t, env.m.LastTraderSynchronization())
	n, err := env.m.CountLocalTradeSessions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	obs.expect(t, "no_trader")
	obs.expect(t, "error:TRADER_DOES_NOT_EXIST")
}

func TestHandleErrors_OtherCodeResetsSession(t *testing.T) {
	env := newTestEnv(t)
	obs := newRecordingObserver(t, true)
	env.m.Subscribe(obs)
	env.m.stateMu.Lock()
	env.m.session = &domain.Session{ID: uuid.New()}
	env.m.loggedIn = true
	env.m.stateMu.Unlock()

	env.m.HandleErrors(nil, ltapi.ErrorCodeInvalidArgument)

	session, loggedIn := env.m.SessionSnapshot()
	assert.Nil(t, session)
	assert.False(t, loggedIn)
	obs.expect(t, "error:INVALID_ARGUMENT")
}

func TestHandleErrors_ConnectionAndVersionKeepSession(t *testing.T) {
	env := newTestEnv(t)
	handled := newRecordingObserver(t, true)
	unhandled := newRecordingObserver(t, false)
	env.m.Subscribe(handled)
	env.m.Subscribe(unhandled)
	sid := uuid.New()
	env.m.stateMu.Lock()
	env.m.session = &domain.Session{ID: sid}
	env.m.stateMu.Unlock()

	env.m.HandleErrors(nil, ltapi.ErrorCodeNoServerConnection)
	handled.expect(t, "no_connection")
	handled.expectNone(t)
	unhandled.expect(t, "no_connection")
	unhandled.expect(t, "error:NO_SERVER_CONNECTION")

	env.m.HandleErrors(nil, ltapi.ErrorCodeIncompatibleAPIVersion)
	handled.expect(t, "incompatible")
	handled.expectNone(t)
	unhandled.expect(t, "incompatible")
	unhandled.expect(t, "error:INCOMPATIBLE_API_VERSION")

	session, _ := env.m.SessionSnapshot()
	require.NotNil(t, session)
	assert.Equal(t, sid, session.ID)
}

func TestStop_DropsPendingAndRejectsNewRequests(t *testing.T) {
	env := newTestEnv(t)

	release := make(chan struct{})
	blocker := newFakeRequest(false, false)
	blocker.exec = func(ctx context.Context, apiCtx APIContext, sessionID uuid.UUID, observers Observers) {
		<-release
	}
	pending := newFakeRequest(false, false)
	require.NoError(t, env.m.MakeRequest(blocker))
	require.NoError(t, env.m.MakeRequest(pending))
	env.m.Start(context.Background())

	// 等 worker 取走 blocker
	require.Eventually(t, func() bool { return env.m.QueueLen() == 1 }, waitTimeout, 5*time.Millisecond)

	stopped := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		stopped <- env.m.Stop(ctx)
	}()

	require.Eventually(t, func() bool {
		return env.m.MakeRequest(newFakeRequest(false, false)) == ErrQueueClosed
	}, waitTimeout, 5*time.Millisecond)

	close(release)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Stop did not return")
	}
	assert.Len(t, blocker.executions(), 1, "in-flight request runs to completion")
	assert.Empty(t, pending.executions(), "pending request is dropped")
}

func TestStop_TimesOutWhileRequestInFlight(t *testing.T) {
	env := newTestEnv(t)
	release := make(chan struct{})
	defer close(release)

	blocker := newFakeRequest(false, false)
	started := make(chan struct{})
	blocker.exec = func(ctx context.Context, apiCtx APIContext, sessionID uuid.UUID, observers Observers) {
		close(started)
		<-release
	}
	require.NoError(t, env.m.MakeRequest(blocker))
	env.m.Start(context.Background())
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, env.m.Stop(ctx), context.DeadlineExceeded)
}

func TestIsCaptchaRequired(t *testing.T) {
	env := newTestEnv(t)
	sell := NewCreateSellOrder(ltapi.SellOrderParameters{})
	buy := NewCreateInstantBuyOrder(ltapi.InstantBuyOrderParameters{})

	// 没有会话时总是需要
	assert.True(t, env.m.IsCaptchaRequired(sell))
	assert.True(t, env.m.IsCaptchaRequired(buy))
	assert.False(t, env.m.IsCaptchaRequired(NewGetTraderInfo()))

	env.m.stateMu.Lock()
	env.m.session = &domain.Session{ID: uuid.New(), Captcha: []domain.CaptchaCommand{domain.CaptchaCreateSellOrder}}
	env.m.stateMu.Unlock()

	assert.True(t, env.m.IsCaptchaRequired(sell))
	assert.False(t, env.m.IsCaptchaRequired(buy))
}
