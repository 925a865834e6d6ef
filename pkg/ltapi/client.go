package ltapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/betbot/localtrader/internal/domain"
)

var clientLog = logrus.WithField("component", "ltapi")

const (
	endpointSession          = "/lt/session"
	endpointTraderLogin      = "/lt/trader/login"
	endpointTraderCreate     = "/lt/trader/create"
	endpointTraderInfo       = "/lt/trader/info"
	endpointPublicTrader     = "/lt/trader/public"
	endpointTradeSessions    = "/lt/trade-sessions"
	endpointSellOrder        = "/lt/orders/sell"
	endpointInstantBuyOrder  = "/lt/orders/instant-buy"
	endpointPushRegistration = "/lt/push/register"

	// SessionHeader 携带会话 ID 的请求头
	SessionHeader = "X-LT-Session"
)

// Options 客户端选项
type Options struct {
	Host          string
	Timeout       time.Duration
	RetryCount    int     // 仅对 GET 的传输层错误重试
	RatePerSecond float64 // <=0 表示不限速
	Burst         int
	UserAgent     string
}

// Client 基于 resty 的远端 API 客户端
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
}

var _ API = (*Client)(nil)

// envelope 服务端统一响应结构
type envelope struct {
	ErrorCode ErrorCode       `json:"errorCode"`
	Message   string          `json:"message,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// NewClient 创建远端 API 客户端
func NewClient(opts Options) *Client {
	host := strings.TrimSuffix(opts.Host, "/")
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "localtrader-go"
	}

	// resty 会自动从环境变量读取代理配置（HTTP_PROXY, HTTPS_PROXY）
	hc := resty.New().
		SetBaseURL(host).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", opts.UserAgent).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			// 非幂等请求不重试，避免重复下单
			if err == nil || resp == nil || resp.Request == nil {
				return false
			}
			return resp.Request.Method == http.MethodGet
		})

	var limiter *rate.Limiter
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}

	return &Client{http: hc, limiter: limiter}
}

// call 执行一次 API 调用并解析统一响应
func (c *Client) call(ctx context.Context, method, endpoint string, sessionID *uuid.UUID, query url.Values, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return NewError(ErrorCodeNoServerConnection, err.Error())
		}
	}

	req := c.http.R().SetContext(ctx)
	if sessionID != nil {
		req.SetHeader(SessionHeader, sessionID.String())
	}
	if len(query) > 0 {
		req.SetQueryParamsFromValues(query)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	start := time.Now()
	resp, err := req.Execute(method, endpoint)
	if err != nil {
		clientLog.Debugf("请求失败: %s %s (耗时 %v): %v", method, endpoint, time.Since(start), err)
		return NewError(ErrorCodeNoServerConnection, err.Error())
	}
	clientLog.Debugf("请求完成: %s %s status=%d (耗时 %v)", method, endpoint, resp.StatusCode(), time.Since(start))

	if resp.StatusCode() == http.StatusUpgradeRequired {
		return NewError(ErrorCodeIncompatibleAPIVersion, string(resp.Body()))
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		if !resp.IsSuccess() {
			return NewError(statusToCode(resp.StatusCode()), resp.Status())
		}
		return NewError(ErrorCodeInternal, errors.Wrap(err, "解析响应失败").Error())
	}
	if env.ErrorCode != ErrorCodeSuccess {
		return NewError(env.ErrorCode, env.Message)
	}
	if !resp.IsSuccess() {
		return NewError(statusToCode(resp.StatusCode()), resp.Status())
	}

	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return NewError(ErrorCodeInternal, errors.Wrapf(err, "解析 result 失败: %s", endpoint).Error())
		}
	}
	return nil
}

func statusToCode(status int) ErrorCode {
	switch status {
	case http.StatusUnauthorized:
		return ErrorCodeInvalidSession
	case http.StatusNotFound:
		return ErrorCodeNotFound
	case http.StatusBadRequest:
		return ErrorCodeInvalidArgument
	}
	return ErrorCodeInternal
}

// CreateSession 创建新会话
func (c *Client) CreateSession(ctx context.Context, version int, locale, denomination string) (*domain.Session, error) {
	var s domain.Session
	params := CreateSessionParameters{Version: version, Locale: locale, Denomination: denomination}
	if err := c.call(ctx, http.MethodPost, endpointSession, nil, nil, params, &s); err != nil {
		return nil, err
	}
	if s.ID == uuid.Nil {
		return nil, NewError(ErrorCodeInternal, "服务端返回空会话 ID")
	}
	return &s, nil
}

// TraderLogin 使用会话签名登录
func (c *Client) TraderLogin(ctx context.Context, sessionID uuid.UUID, params LoginParameters) error {
	return c.call(ctx, http.MethodPost, endpointTraderLogin, &sessionID, nil, params, nil)
}

// CreateTrader 注册交易员
func (c *Client) CreateTrader(ctx context.Context, sessionID uuid.UUID, params CreateTraderParameters) error {
	return c.call(ctx, http.MethodPost, endpointTraderCreate, &sessionID, nil, params, nil)
}

// GetTraderInfo 获取已登录交易员资料
func (c *Client) GetTraderInfo(ctx context.Context, sessionID uuid.UUID) (*domain.TraderInfo, error) {
	var info domain.TraderInfo
	if err := c.call(ctx, http.MethodGet, endpointTraderInfo, &sessionID, nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetPublicTraderInfo 按地址查询公开资料（无需会话）
func (c *Client) GetPublicTraderInfo(ctx context.Context, address string) (*domain.TraderInfo, error) {
	var info domain.TraderInfo
	q := url.Values{"address": []string{address}}
	if err := c.call(ctx, http.MethodGet, endpointPublicTrader, nil, q, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetTradeSessions 拉取服务端全部交易会话快照
func (c *Client) GetTradeSessions(ctx context.Context, sessionID uuid.UUID) ([]*domain.TradeSession, error) {
	var list []*domain.TradeSession
	if err := c.call(ctx, http.MethodGet, endpointTradeSessions, &sessionID, nil, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetTradeSession 拉取单个交易会话
func (c *Client) GetTradeSession(ctx context.Context, sessionID, tradeSessionID uuid.UUID) (*domain.TradeSession, error) {
	var ts domain.TradeSession
	endpoint := endpointTradeSessions + "/" + tradeSessionID.String()
	if err := c.call(ctx, http.MethodGet, endpoint, &sessionID, nil, nil, &ts); err != nil {
		return nil, err
	}
	return &ts, nil
}

// CreateSellOrder 挂卖单，返回卖单 ID
func (c *Client) CreateSellOrder(ctx context.Context, sessionID uuid.UUID, params SellOrderParameters) (uuid.UUID, error) {
	var res idResult
	if err := c.call(ctx, http.MethodPost, endpointSellOrder, &sessionID, nil, params, &res); err != nil {
		return uuid.Nil, err
	}
	return res.ID, nil
}

// CreateInstantBuyOrder 即时买入，返回新交易会话 ID
func (c *Client) CreateInstantBuyOrder(ctx context.Context, sessionID uuid.UUID, params InstantBuyOrderParameters) (uuid.UUID, error) {
	var res idResult
	if err := c.call(ctx, http.MethodPost, endpointInstantBuyOrder, &sessionID, nil, params, &res); err != nil {
		return uuid.Nil, err
	}
	return res.ID, nil
}

// RegisterPush 向推送服务申请注册 ID（可选登录参数）
func (c *Client) RegisterPush(ctx context.Context) (string, error) {
	var res struct {
		RegistrationID string `json:"registrationId"`
	}
	if err := c.call(ctx, http.MethodPost, endpointPushRegistration, nil, nil, struct{}{}, &res); err != nil {
		return "", err
	}
	if res.RegistrationID == "" {
		return "", NewError(ErrorCodeInternal, "推送注册 ID 为空")
	}
	return res.RegistrationID, nil
}
