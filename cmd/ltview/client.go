package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/betbot/localtrader/internal/controlapi"
)

// controlClient 访问 localtrader 控制接口
type controlClient struct {
	http *resty.Client
}

func newControlClient(addr, token string) *controlClient {
	base := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	hc := resty.New().
		SetBaseURL(base).
		SetTimeout(5 * time.Second).
		SetHeader("Accept", "application/json")
	if token != "" {
		hc.SetAuthToken(token)
	}
	return &controlClient{http: hc}
}

type apiError struct {
	Error string `json:"error"`
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.IsError() {
		if e, ok := resp.Error().(*apiError); ok && e.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status(), e.Error)
		}
		return fmt.Errorf("%s", resp.Status())
	}
	return nil
}

func (c *controlClient) Status() (*controlapi.StatusResponse, error) {
	var out controlapi.StatusResponse
	resp, err := c.http.R().SetResult(&out).SetError(&apiError{}).Get("/v1/status")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// TradeSessions kind 为空表示全部
func (c *controlClient) TradeSessions(kind string) ([]controlapi.TradeSessionView, error) {
	var out []controlapi.TradeSessionView
	req := c.http.R().SetResult(&out).SetError(&apiError{})
	if kind != "" {
		req.SetQueryParam("kind", kind)
	}
	resp, err := req.Get("/v1/trade-sessions")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *controlClient) Sync() error {
	resp, err := c.http.R().SetError(&apiError{}).Post("/v1/sync")
	return checkResponse(resp, err)
}

func (c *controlClient) MarkViewed(id uuid.UUID) error {
	resp, err := c.http.R().SetError(&apiError{}).Post("/v1/trade-sessions/" + id.String() + "/viewed")
	return checkResponse(resp, err)
}
