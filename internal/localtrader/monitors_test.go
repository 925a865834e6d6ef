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
)

type fakeMonitor struct {
	mu      sync.Mutex
	started bool
	stopped bool
}

func (m *fakeMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	return nil
}

func (m *fakeMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

func (m *fakeMonitor) state() (bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started, m.stopped
}

type fakeFactory struct {
	traders  []*fakeMonitor
	sessions []*fakeMonitor
	address  common.Address
	session  uuid.UUID
}

func (f *fakeFactory) NewTraderMonitor(address common.Address) Monitor {
	f.address = address
	mon := &fakeMonitor{}
	f.traders = append(f.traders, mon)
	return mon
}

func (f *fakeFactory) NewTradeSessionMonitor(sessionID, tradeSessionID uuid.UUID, listener TradeSessionChangeListener) Monitor {
	f.session = sessionID
	mon := &fakeMonitor{}
	f.sessions = append(f.sessions, mon)
	return mon
}

type noopListener struct{}

func (noopListener) OnTradeSessionChanged(*domain.TradeSession) {}

func TestMonitoring_TraderReplacesPrevious(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	f := &fakeFactory{}
	env.m.SetMonitorFactory(f)

	assert.ErrorIs(t, env.m.StartMonitoringTrader(ctx), ErrInvalidOperation)

	_, addr := env.withTrader(t)
	require.NoError(t, env.m.StartMonitoringTrader(ctx))
	require.NoError(t, env.m.StartMonitoringTrader(ctx))
	require.Len(t, f.traders, 2)
	assert.Equal(t, addr, f.address)

	started, stopped := f.traders[0].state()
	assert.True(t, started)
	assert.True(t, stopped)
	_, stopped = f.traders[1].state()
	assert.False(t, stopped)

	env.m.StopMonitoringTrader()
	_, stopped = f.traders[1].state()
	assert.True(t, stopped)
}

func TestMonitoring_TradeSessionNeedsSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	f := &fakeFactory{}
	env.m.SetMonitorFactory(f)

	err := env.m.StartMonitoringTradeSession(ctx, uuid.New(), noopListener{})
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Empty(t, f.sessions)

	sid := uuid.New()
	env.m.stateMu.Lock()
	env.m.session = &domain.Session{ID: sid}
	env.m.stateMu.Unlock()

	require.NoError(t, env.m.StartMonitoringTradeSession(ctx, uuid.New(), noopListener{}))
	require.Len(t, f.sessions, 1)
	assert.Equal(t, sid, f.session)

	// Stop 同时停止监听
	stopCtx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()
	require.NoError(t, env.m.Stop(stopCtx))
	_, stopped := f.sessions[0].state()
	assert.True(t, stopped)
}
