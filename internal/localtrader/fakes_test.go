package localtrader

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/betbot/localtrader/internal/domain"
	"github.com/betbot/localtrader/internal/store"
	"github.com/betbot/localtrader/pkg/ltapi"
	"github.com/betbot/localtrader/pkg/prefs"
)

const waitTimeout = 3 * time.Second

// fakeAPI 可编排的远端 API
type fakeAPI struct {
	mu sync.Mutex

	createSessionErrs []error // 依次返回，用完后成功
	loginErrs         []error
	captcha           []domain.CaptchaCommand

	sessionIDs   []uuid.UUID
	logins       []ltapi.LoginParameters
	loginSession []uuid.UUID

	tradeSessions []*domain.TradeSession
	traderInfo    *domain.TraderInfo
	createTrader  []ltapi.CreateTraderParameters
}

var _ ltapi.API = (*fakeAPI)(nil)

func popErr(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (f *fakeAPI) CreateSession(ctx context.Context, version int, locale, denomination string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := popErr(&f.createSessionErrs); err != nil {
		return nil, err
	}
	s := &domain.Session{ID: uuid.New(), Captcha: f.captcha}
	f.sessionIDs = append(f.sessionIDs, s.ID)
	return s, nil
}

func (f *fakeAPI) TraderLogin(ctx context.Context, sessionID uuid.UUID, params ltapi.LoginParameters) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins = append(f.logins, params)
	f.loginSession = append(f.loginSession, sessionID)
	return popErr(&f.loginErrs)
}

func (f *fakeAPI) CreateTrader(ctx context.Context, sessionID uuid.UUID, params ltapi.CreateTraderParameters) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createTrader = append(f.createTrader, params)
	return nil
}

func (f *fakeAPI) GetTraderInfo(ctx context.Context, sessionID uuid.UUID) (*domain.TraderInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.traderInfo == nil {
		return nil, ltapi.NewError(ltapi.ErrorCodeNotFound, "no info")
	}
	return f.traderInfo, nil
}

func (f *fakeAPI) GetPublicTraderInfo(ctx context.Context, address string) (*domain.TraderInfo, error) {
	return &domain.TraderInfo{Address: address, Nickname: "peer"}, nil
}

func (f *fakeAPI) GetTradeSessions(ctx context.Context, sessionID uuid.UUID) ([]*domain.TradeSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tradeSessions, nil
}

func (f *fakeAPI) GetTradeSession(ctx context.Context, sessionID, tradeSessionID uuid.UUID) (*domain.TradeSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ts := range f.tradeSessions {
		if ts.ID == tradeSessionID {
			return ts, nil
		}
	}
	return nil, ltapi.NewError(ltapi.ErrorCodeNotFound, "no trade session")
}

func (f *fakeAPI) CreateSellOrder(ctx context.Context, sessionID uuid.UUID, params ltapi.SellOrderParameters) (uuid.UUID, error) {
	return uuid.New(), nil
}

func (f *fakeAPI) CreateInstantBuyOrder(ctx context.Context, sessionID uuid.UUID, params ltapi.InstantBuyOrderParameters) (uuid.UUID, error) {
	return uuid.New(), nil
}

func (f *fakeAPI) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessionIDs)
}

func (f *fakeAPI) loginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.logins)
}

// fakeWallet 内存钱包记录
type fakeWallet struct {
	mu   sync.Mutex
	keys map[common.Address]*ecdsa.PrivateKey
	err  error

	// onLookup 在每次查询前调用（不持有锁）
	onLookup func(address common.Address)
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{keys: make(map[common.Address]*ecdsa.PrivateKey)}
}

func (w *fakeWallet) PrivateKey(address common.Address) (*ecdsa.PrivateKey, error) {
	w.mu.Lock()
	hook := w.onLookup
	w.mu.Unlock()
	if hook != nil {
		hook(address)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return nil, w.err
	}
	return w.keys[address], nil
}

func (w *fakeWallet) add(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)
	w.mu.Lock()
	w.keys[addr] = key
	w.mu.Unlock()
	return key, addr
}

func (w *fakeWallet) remove(addr common.Address) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.keys, addr)
}

// fakeRequest 记录每次执行时的会话 id
type fakeRequest struct {
	session, login bool
	exec           func(ctx context.Context, apiCtx APIContext, sessionID uuid.UUID, observers Observers)

	mu         sync.Mutex
	sessionIDs []uuid.UUID
	executed   chan uuid.UUID
}

func newFakeRequest(session, login bool) *fakeRequest {
	return &fakeRequest{session: session, login: login, executed: make(chan uuid.UUID, 64)}
}

func (r *fakeRequest) RequiresSession() bool { return r.session }
func (r *fakeRequest) RequiresLogin() bool   { return r.login }

func (r *fakeRequest) Execute(ctx context.Context, apiCtx APIContext, api ltapi.API, sessionID uuid.UUID, observers Observers) {
	r.mu.Lock()
	r.sessionIDs = append(r.sessionIDs, sessionID)
	r.mu.Unlock()
	if r.exec != nil {
		r.exec(ctx, apiCtx, sessionID, observers)
	}
	r.executed <- sessionID
}

func (r *fakeRequest) executions() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uuid.UUID(nil), r.sessionIDs...)
}

func (r *fakeRequest) waitExecuted(t *testing.T) uuid.UUID {
	t.Helper()
	select {
	case id := <-r.executed:
		return id
	case <-time.After(waitTimeout):
		t.Fatal("request was not executed in time")
		return uuid.Nil
	}
}

// barrier 在它之前入队的请求都处理完后返回
func barrier(t *testing.T, m *Manager) {
	t.Helper()
	b := newFakeRequest(false, false)
	require.NoError(t, m.MakeRequest(b))
	b.waitExecuted(t)
}

// recordingObserver 把回调记录成字符串事件
type recordingObserver struct {
	handled    bool
	dispatcher *SerialDispatcher
	events     chan string
}

func newRecordingObserver(t *testing.T, handled bool) *recordingObserver {
	o := &recordingObserver{
		handled:    handled,
		dispatcher: NewSerialDispatcher(64),
		events:     make(chan string, 64),
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = o.dispatcher.Stop(ctx)
	})
	return o
}

func (o *recordingObserver) OnNoConnection() bool {
	o.events <- "no_connection"
	return o.handled
}

func (o *recordingObserver) OnIncompatibleVersion() bool {
	o.events <- "incompatible"
	return o.handled
}

func (o *recordingObserver) OnNoTraderAccount() bool {
	o.events <- "no_trader"
	return o.handled
}

func (o *recordingObserver) OnError(code ltapi.ErrorCode) {
	o.events <- "error:" + code.String()
}

func (o *recordingObserver) OnTraderActivity(timestamp int64) {
	o.events <- fmt.Sprintf("activity:%d", timestamp)
}

func (o *recordingObserver) Dispatcher() Dispatcher { return o.dispatcher }

func (o *recordingObserver) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-o.events:
		require.Equal(t, want, got)
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %q", want)
	}
}

func (o *recordingObserver) expectNone(t *testing.T) {
	t.Helper()
	select {
	case got := <-o.events:
		t.Fatalf("unexpected event %q", got)
	case <-time.After(100 * time.Millisecond):
	}
}

type testEnv struct {
	m      *Manager
	api    *fakeAPI
	wallet *fakeWallet
	prefs  *prefs.Store
	db     *store.TradeSessionDB
}

func newTestEnv(t *testing.T, mutate ...func(*Options)) *testEnv {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "lt.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	env := &testEnv{api: &fakeAPI{}, wallet: newFakeWallet(), prefs: prefs.NewMemory(), db: db}
	opts := Options{
		API:          env.api,
		Prefs:        env.prefs,
		Store:        db,
		Wallet:       env.wallet,
		Locale:       "en_US",
		Denomination: "USD",
		AppVersion:   7,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	env.m, err = New(opts)
	require.NoError(t, err)
	return env
}

func (e *testEnv) start(t *testing.T) {
	t.Helper()
	e.m.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = e.m.Stop(ctx)
	})
}

// withTrader 写入本地身份并在钱包中放入私钥
func (e *testEnv) withTrader(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, addr := e.wallet.add(t)
	require.NoError(t, e.m.SetLocalTraderData(addr, "alice"))
	return key, addr
}

// failingPrefs 提交总是失败
type failingPrefs struct {
	prefs.Preferences
}

var errCommit = errors.New("disk full")

func (p failingPrefs) Edit() prefs.Editor { return failingEditor{} }

type failingEditor struct{}

func (e failingEditor) PutString(string, string) prefs.Editor   { return e }
func (e failingEditor) PutBool(string, bool) prefs.Editor       { return e }
func (e failingEditor) PutInt64(string, int64) prefs.Editor     { return e }
func (e failingEditor) PutFloat64(string, float64) prefs.Editor { return e }
func (e failingEditor) Remove(string) prefs.Editor              { return e }
func (e failingEditor) Commit() error                           { return errCommit }

func trade(id uuid.UUID, lastChange int64) *domain.TradeSession {
	return &domain.TradeSession{ID: id, LastChange: lastChange, CreationTime: lastChange, Status: "OPEN", IsOpen: true}
}
