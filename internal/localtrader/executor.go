package localtrader

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/localtrader/internal/metrics"
	"github.com/betbot/localtrader/pkg/ltapi"
)

var execLog = logrus.WithField("component", "lt_executor")

// run worker 主循环：串行处理队列直到队列关闭
func (m *Manager) run() {
	defer close(m.done)
	for {
		item, ok := m.queue.pop()
		if !ok {
			execLog.Infof("请求队列已关闭，worker 退出")
			return
		}
		m.process(m.workerCtx, item)
	}
}

// process 确保会话/登录前置条件后执行请求
// Execute 中的 panic 不做 recover：属于程序错误，必须暴露
func (m *Manager) process(ctx context.Context, item queuedRequest) {
	m.stateMu.Lock()
	m.current = &item
	m.stateMu.Unlock()
	defer func() {
		m.stateMu.Lock()
		m.current = nil
		m.stateMu.Unlock()
	}()

	req := item.req
	if req.RequiresSession() && !m.hasSession() {
		if !m.renewSession(ctx) {
			metrics.RequestsAbandoned.Add(1)
			execLog.Warnf("⚠️ 无法创建会话，放弃请求: %T", req)
			return
		}
	}
	if req.RequiresLogin() && !m.isLoggedIn() {
		if !m.login(ctx) {
			metrics.RequestsAbandoned.Add(1)
			execLog.Warnf("⚠️ 登录失败，放弃请求: %T", req)
			return
		}
	}

	execLog.Debugf("执行请求: %T retries=%d", req, item.retries)
	req.Execute(ctx, m, m.api, m.sessionID(), m.observers)
	metrics.RequestsExecuted.Add(1)
}

func (m *Manager) hasSession() bool {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.session != nil
}

func (m *Manager) isLoggedIn() bool {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.loggedIn
}

func (m *Manager) sessionID() uuid.UUID {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.session == nil {
		return uuid.Nil
	}
	return m.session.ID
}

// renewSession 创建新会话；新会话总是未登录状态
func (m *Manager) renewSession(ctx context.Context) bool {
	s, err := m.api.CreateSession(ctx, ltapi.Version, m.locale, m.denomination)
	if err != nil {
		code := ltapi.CodeOf(err)
		execLog.Warnf("⚠️ 创建会话失败: code=%s err=%v", code, err)
		m.HandleErrors(nil, code)
		return false
	}
	m.stateMu.Lock()
	m.session = s.Clone()
	m.loggedIn = false
	m.stateMu.Unlock()
	metrics.SessionsRenewed.Add(1)
	execLog.Infof("🔑 会话已创建: session=%s captcha=%v", s.ID, s.Captcha)
	return true
}

// login 用本地私钥对当前会话签名并登录
// INVALID_SESSION 时续期会话后用新签名重试一次
func (m *Manager) login(ctx context.Context) bool {
	return m.loginAttempt(ctx, true)
}

func (m *Manager) loginAttempt(ctx context.Context, retryOnInvalidSession bool) bool {
	m.stateMu.Lock()
	session := m.session.Clone()
	m.stateMu.Unlock()
	if session == nil {
		panic("localtrader: login called without a session")
	}

	address, ok := m.LocalTraderAddress()
	if !ok {
		m.HandleErrors(nil, ltapi.ErrorCodeTraderDoesNotExist)
		return false
	}
	key, err := m.wallet.PrivateKey(address)
	if err != nil {
		execLog.Errorf("❌ 读取交易员私钥失败: address=%s err=%v", address.Hex(), err)
		m.HandleErrors(nil, ltapi.ErrorCodeInternal)
		return false
	}
	if key == nil {
		m.HandleErrors(nil, ltapi.ErrorCodeTraderDoesNotExist)
		return false
	}

	sig, err := ltapi.SignSessionID(key, session.ID, m.rand)
	if err != nil {
		execLog.Errorf("❌ 会话签名失败: %v", err)
		m.HandleErrors(nil, ltapi.ErrorCodeInternal)
		return false
	}

	err = m.api.TraderLogin(ctx, session.ID, ltapi.LoginParameters{
		Address:   address.Hex(),
		Signature: sig,
		PushID:    m.pushRegistrationID(),
	})
	if err == nil {
		m.stateMu.Lock()
		if m.session != nil && m.session.ID == session.ID {
			m.loggedIn = true
		}
		loggedIn := m.loggedIn
		m.stateMu.Unlock()
		if loggedIn {
			metrics.Logins.Add(1)
			execLog.Infof("✅ 登录成功: address=%s session=%s", address.Hex(), session.ID)
		}
		return loggedIn
	}

	code := ltapi.CodeOf(err)
	if code == ltapi.ErrorCodeInvalidSession && retryOnInvalidSession {
		execLog.Warnf("⚠️ 登录时会话失效，续期后重试")
		if !m.renewSession(ctx) {
			return false
		}
		return m.loginAttempt(ctx, false)
	}
	execLog.Warnf("⚠️ 登录失败: code=%s err=%v", code, err)
	m.HandleErrors(nil, code)
	return false
}

// retriesOf 返回请求已重新入队的次数（仅对 worker 当前执行的请求有效）
func (m *Manager) retriesOf(req Request) int {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.current != nil && m.current.req == req {
		return m.current.retries
	}
	return 0
}

// HandleErrors 中央错误处理
// req 为 nil 表示错误来自会话续期或登录本身
func (m *Manager) HandleErrors(req Request, code ltapi.ErrorCode) {
	metrics.ErrorsByCode.Add(code.String(), 1)

	switch code {
	case ltapi.ErrorCodeInvalidSession:
		if req == nil {
			// 续期/登录自身报告会话失效：不再递归续期
			m.clearSession()
			m.observers.NotifyError(code)
			return
		}
		retries := m.retriesOf(req) + 1
		if retries > m.maxRetries {
			metrics.RequestsDropped.Add(1)
			execLog.Errorf("❌ 会话反复失效，放弃请求: %T retries=%d", req, retries-1)
			m.clearSession()
			m.observers.NotifyError(code)
			return
		}
		ctx := m.workerCtx
		if !m.renewSession(ctx) {
			return
		}
		if req.RequiresLogin() && !m.login(ctx) {
			return
		}
		if err := m.queue.push(queuedRequest{req: req, retries: retries}); err != nil {
			execLog.Warnf("⚠️ 重新入队失败: %T err=%v", req, err)
			return
		}
		metrics.RequestsRetried.Add(1)
		execLog.Infof("🔄 会话已续期，请求重新入队: %T retries=%d", req, retries)

	case ltapi.ErrorCodeNoServerConnection:
		m.observers.NotifyNoConnection()

	case ltapi.ErrorCodeIncompatibleAPIVersion:
		m.observers.NotifyIncompatibleVersion()

	case ltapi.ErrorCodeTraderDoesNotExist:
		m.clearSession()
		if err := m.UnsetLocalTraderAccount(); err != nil {
			execLog.Errorf("❌ 清除本地交易员失败: %v", err)
		}
		m.observers.NotifyNoTraderAccount()

	default:
		m.clearSession()
		m.observers.NotifyError(code)
	}
}
